package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ridecore/dispatch/pkg/redis"
)

// enqueueMarkerTTL bounds how long a deduplication marker for a queued
// job lives — long enough to cover the retry budget below plus the
// worker pool's processing time, short enough that a crashed worker
// doesn't permanently block re-enqueueing the same ride.
const enqueueMarkerTTL = 2 * time.Minute

// maxEnqueueAttempts and the backoff schedule implement spec §4.1's
// "bounded exponential retry (3 attempts, base 5s, factor 2)".
const maxEnqueueAttempts = 3

var enqueueBackoffBase = 5 * time.Second

// Queue runs Pipeline.Process jobs on a bounded worker pool, deduping
// concurrent enqueues of the same ride by a deterministic job id.
type Queue struct {
	pipeline    *Pipeline
	locks       redis.ClientInterface
	logger      *zap.Logger
	concurrency int
	jobs        chan uuid.UUID
	stop        chan struct{}
}

// NewQueue builds a Queue with concurrency parallel workers (spec §5:
// "dispatch worker pool (bounded concurrency = 5 per node by default)").
func NewQueue(pipeline *Pipeline, locks redis.ClientInterface, concurrency int, logger *zap.Logger) *Queue {
	if concurrency <= 0 {
		concurrency = 5
	}
	return &Queue{
		pipeline:    pipeline,
		locks:       locks,
		logger:      logger,
		concurrency: concurrency,
		jobs:        make(chan uuid.UUID, 1024),
		stop:        make(chan struct{}),
	}
}

func enqueueMarkerKey(rideID uuid.UUID) string {
	return fmt.Sprintf("ride:%s", rideID)
}

// Start launches the worker pool; call once at process startup.
func (q *Queue) Start(ctx context.Context) {
	for i := 0; i < q.concurrency; i++ {
		go q.worker(ctx)
	}
}

// Stop signals all workers to exit. A worker finishes the job it is
// running first; jobs still buffered in the queue are not processed.
func (q *Queue) Stop() {
	close(q.stop)
}

// Enqueue schedules a dispatch round for rideID, deduping by the
// deterministic job id ride:{rideId} (spec §4.1: "idempotent by
// deterministic job id ... If a job already exists, it is a no-op").
func (q *Queue) Enqueue(ctx context.Context, rideID uuid.UUID) error {
	acquired, err := q.locks.AcquireLock(ctx, enqueueMarkerKey(rideID), "queued", enqueueMarkerTTL)
	if err != nil {
		return fmt.Errorf("dispatch: enqueue marker: %w", err)
	}
	if !acquired {
		return nil
	}

	select {
	case q.jobs <- rideID:
	default:
		q.logger.Warn("dispatch: queue full, dropping job", zap.String("rideId", rideID.String()))
		_, _ = q.locks.ReleaseLock(ctx, enqueueMarkerKey(rideID), "queued")
	}
	return nil
}

func (q *Queue) worker(ctx context.Context) {
	for {
		select {
		case <-q.stop:
			return
		case <-ctx.Done():
			return
		case rideID := <-q.jobs:
			q.runWithRetry(ctx, rideID)
			_, _ = q.locks.ReleaseLock(ctx, enqueueMarkerKey(rideID), "queued")
		}
	}
}

// runWithRetry makes at most 3 attempts, waiting 5s and then 10s between
// them, before giving up and logging.
func (q *Queue) runWithRetry(ctx context.Context, rideID uuid.UUID) {
	backoff := enqueueBackoffBase
	var lastErr error
	for attempt := 1; attempt <= maxEnqueueAttempts; attempt++ {
		if err := q.pipeline.Process(ctx, rideID); err != nil {
			lastErr = err
			q.logger.Warn("dispatch: process attempt failed",
				zap.String("rideId", rideID.String()), zap.Int("attempt", attempt), zap.Error(err))
			if attempt < maxEnqueueAttempts {
				select {
				case <-time.After(backoff):
				case <-ctx.Done():
					return
				}
				backoff *= 2
			}
			continue
		}
		return
	}
	q.logger.Error("dispatch: exhausted retries processing ride",
		zap.String("rideId", rideID.String()), zap.Error(lastErr))
}
