// Package scheduler is the Auto-Cancel Sweeper (spec §4.5): a periodic
// scan for rides stuck in `requested` past their wait window, cancelled
// with a system reason. It runs as a single-owner periodic task per node
// (spec §5 "the sweeper as a single-owner periodic task") rather than a
// leader-elected singleton across the fleet — every tick's cancellation
// goes through internal/rides.Service.AutoCancelExpiredRide, an atomic
// update that only cancels a ride still in `requested`, so two nodes
// ticking at once is redundant, not unsafe (spec §4.5: "tolerant of multi-instance
// execution").
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ridecore/dispatch/pkg/models"
)

// maxBatchSize bounds how many expired rides one tick will attempt to
// cancel (spec §4.5: "Bounded batch size per tick (<=100)").
const maxBatchSize = 100

// RideGateway is the subset of internal/rides.Service the sweeper needs.
type RideGateway interface {
	GetExpiredRequestedRides(ctx context.Context, before time.Time, limit int) ([]*models.Ride, error)
	AutoCancelExpiredRide(ctx context.Context, rideID, riderID uuid.UUID, reason string) (bool, error)
}

// RiderNotifier delivers the SMS fallback when the sweeper auto-cancels a
// ride (spec §4.5 step 3) — the socket/room channels still carry the
// event regardless, this is purely the out-of-band second channel.
// Optional: a nil RiderNotifier simply skips the SMS attempt.
type RiderNotifier interface {
	NotifyAutoCancelled(ctx context.Context, phone *string, reason string)
}

// Config carries the sweeper's timing knobs (spec §6 Settings/env).
type Config struct {
	TimeoutMinutes       int
	CheckIntervalMinutes int
}

// Sweeper runs the periodic auto-cancel scan.
type Sweeper struct {
	rides         RideGateway
	riderNotifier RiderNotifier
	logger        *zap.Logger

	timeout  time.Duration
	interval time.Duration

	stop chan struct{}
}

// NewSweeper builds a Sweeper. Zero-valued Config fields fall back to the
// spec's defaults (5 minute timeout, 2 minute check interval).
func NewSweeper(rides RideGateway, cfg Config, logger *zap.Logger) *Sweeper {
	timeoutMinutes := cfg.TimeoutMinutes
	if timeoutMinutes <= 0 {
		timeoutMinutes = 5
	}
	intervalMinutes := cfg.CheckIntervalMinutes
	if intervalMinutes <= 0 {
		intervalMinutes = 2
	}
	return &Sweeper{
		rides:    rides,
		logger:   logger,
		timeout:  time.Duration(timeoutMinutes) * time.Minute,
		interval: time.Duration(intervalMinutes) * time.Minute,
		stop:     make(chan struct{}),
	}
}

// Run blocks, ticking every configured interval until Stop is called or
// ctx is cancelled. Intended to be launched in its own goroutine.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				s.logger.Warn("scheduler: sweep tick failed", zap.Error(err))
			}
		}
	}
}

// Stop halts Run.
func (s *Sweeper) Stop() {
	close(s.stop)
}

// SetRiderNotifier wires the best-effort SMS fallback channel. Optional:
// a Sweeper with none simply relies on the socket/room events the ride
// state machine already publishes on cancellation.
func (s *Sweeper) SetRiderNotifier(n RiderNotifier) {
	s.riderNotifier = n
}

// Tick runs one sweep: load the batch of expired requested rides and
// cancel each, tolerating a ride that another node (or a concurrent
// accept) has already moved on from (spec §4.5 steps 1-2).
func (s *Sweeper) Tick(ctx context.Context) error {
	cutoff := time.Now().Add(-s.timeout)
	expired, err := s.rides.GetExpiredRequestedRides(ctx, cutoff, maxBatchSize)
	if err != nil {
		return fmt.Errorf("scheduler: load expired rides: %w", err)
	}
	if len(expired) == 0 {
		return nil
	}

	waitMinutes := int(s.timeout.Minutes())
	reason := fmt.Sprintf("No driver accepted within %d minutes", waitMinutes)

	cancelled := 0
	for _, ride := range expired {
		ok, err := s.rides.AutoCancelExpiredRide(ctx, ride.ID, ride.RiderID, reason)
		if err != nil {
			s.logger.Warn("scheduler: failed to auto-cancel ride",
				zap.String("rideId", ride.ID.String()), zap.Error(err))
			continue
		}
		if ok {
			cancelled++
			if s.riderNotifier != nil {
				s.riderNotifier.NotifyAutoCancelled(ctx, ride.RiderPhone, reason)
			}
		}
	}
	s.logger.Info("scheduler: auto-cancel sweep completed",
		zap.Int("scanned", len(expired)), zap.Int("cancelled", cancelled))
	return nil
}
