// Package dispatch is the Dispatch Pipeline (spec §4.1): turns a validated
// ride request into either an assigned driver or a systemic cancellation,
// via progressive-radius candidate search and fan-out notification. It
// also hosts the Rejection Cascade & Retry logic (spec §4.4), since a
// cascade is just another dispatch round over an expanded radius
// schedule.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ridecore/dispatch/internal/geo"
	"github.com/ridecore/dispatch/pkg/eventbus"
	"github.com/ridecore/dispatch/pkg/models"
	"github.com/ridecore/dispatch/pkg/redis"
	"github.com/ridecore/dispatch/pkg/tracing"
)

// dispatchLockTTL bounds a single worker's hold on a ride's processing
// lock (spec §4.1 "dispatch_lock:{rideId} (NX, TTL 30s)").
const dispatchLockTTL = 30 * time.Second

// maxCandidatesDefault is the per-round cap absent explicit config (spec
// §4.1 step 3: "At most N (default 20) candidates per round").
const maxCandidatesDefault = 20

// RideGateway is the subset of internal/rides.Service the pipeline needs:
// reading current status (for the mandatory re-checks) and persisting the
// outcome of a dispatch round.
type RideGateway interface {
	GetRide(ctx context.Context, rideID uuid.UUID) (*models.Ride, error)
	RecordNotifiedDrivers(ctx context.Context, rideID uuid.UUID, notified []uuid.UUID) error
	CancelRide(ctx context.Context, rideID, callerID uuid.UUID, by models.CancelledBy, reason string) (*models.Ride, error)
}

// CandidateSource is the subset of internal/presence.Service the Matcher
// needs: eligible, radius-filtered drivers around a point.
type CandidateSource interface {
	EligibleCandidates(ctx context.Context, center models.GeoPoint, radiusKm float64) ([]geo.ProximityCandidate, error)
}

// Notifier delivers the newRideRequest event to one driver's current
// socket. Defined here rather than importing internal/realtime directly,
// so this package does not depend on internal/realtime.
type Notifier interface {
	NotifyDriver(driverID uuid.UUID, ride *models.Ride) error
}

// RiderNotifier delivers the out-of-band SMS fallback when a dispatch
// round gives up without a driver (spec §4.1 step 4, §4.4 step 4); the
// socket/room events from giveUp already cover a connected client, this
// is purely the second channel for a disconnected one. Optional: a nil
// RiderNotifier simply skips the SMS attempt.
type RiderNotifier interface {
	NotifyNoDriverFound(ctx context.Context, phone *string, reason string)
}

// Pipeline implements process(rideId) and the cascade continuation.
type Pipeline struct {
	rides         RideGateway
	candidates    CandidateSource
	notifier      Notifier
	riderNotifier RiderNotifier
	locks         redis.ClientInterface
	eventBus      *eventbus.Bus
	logger        *zap.Logger

	radiiKM       []float64
	retryRadiiKM  []float64
	maxCandidates int
}

// Config carries the tunables spec §6 exposes via Settings/env.
type Config struct {
	RadiiKM       []float64
	RetryRadiiKM  []float64
	MaxCandidates int
}

// NewPipeline builds a Pipeline. Radii default to the spec's canonical
// schedules when cfg supplies none.
func NewPipeline(rides RideGateway, candidates CandidateSource, notifier Notifier, locks redis.ClientInterface, eventBus *eventbus.Bus, cfg Config, logger *zap.Logger) *Pipeline {
	radii := cfg.RadiiKM
	if len(radii) == 0 {
		radii = []float64{3, 6, 9, 12, 15, 20}
	}
	retryRadii := cfg.RetryRadiiKM
	if len(retryRadii) == 0 {
		retryRadii = []float64{15, 20, 25}
	}
	maxCandidates := cfg.MaxCandidates
	if maxCandidates <= 0 {
		maxCandidates = maxCandidatesDefault
	}
	return &Pipeline{
		rides:         rides,
		candidates:    candidates,
		notifier:      notifier,
		locks:         locks,
		eventBus:      eventBus,
		logger:        logger,
		radiiKM:       radii,
		retryRadiiKM:  retryRadii,
		maxCandidates: maxCandidates,
	}
}

// SetRiderNotifier wires the best-effort SMS fallback channel. Optional:
// a Pipeline with none simply relies on the socket/room events giveUp
// already publishes.
func (p *Pipeline) SetRiderNotifier(n RiderNotifier) {
	p.riderNotifier = n
}

func dispatchLockKey(rideID uuid.UUID) string {
	return fmt.Sprintf("dispatch_lock:%s", rideID)
}

// Process runs one dispatch round for rideID (spec §4.1 process(rideId)):
// acquires the per-ride worker lock, aborting silently if another worker
// already holds it, then runs the progressive-radius search.
func (p *Pipeline) Process(ctx context.Context, rideID uuid.UUID) error {
	ctx, span := tracing.StartSpan(ctx, "dispatch", "process", rideID)
	defer span.End()

	lockValue := uuid.New().String()
	acquired, err := p.locks.AcquireLock(ctx, dispatchLockKey(rideID), lockValue, dispatchLockTTL)
	if err != nil {
		return fmt.Errorf("dispatch: acquire lock: %w", err)
	}
	if !acquired {
		p.logger.Debug("dispatch: lock already held, skipping", zap.String("rideId", rideID.String()))
		return nil
	}
	defer func() {
		_, _ = p.locks.ReleaseLock(ctx, dispatchLockKey(rideID), lockValue)
	}()

	ride, err := p.rides.GetRide(ctx, rideID)
	if err != nil {
		return fmt.Errorf("dispatch: load ride: %w", err)
	}
	if ride.Status != models.RideStatusRequested {
		return nil
	}

	return p.runRound(ctx, ride, p.radiiKM, "No drivers found within %.0f km", true)
}

// Cascade re-invokes the matcher over the expanded retry radius schedule,
// excluding already-rejected drivers, when every notified driver has
// rejected (spec §4.4).
func (p *Pipeline) Cascade(ctx context.Context, rideID uuid.UUID) error {
	ctx, span := tracing.StartSpan(ctx, "dispatch", "cascade", rideID)
	defer span.End()

	lockValue := uuid.New().String()
	acquired, err := p.locks.AcquireLock(ctx, dispatchLockKey(rideID), lockValue, dispatchLockTTL)
	if err != nil {
		return fmt.Errorf("dispatch: acquire lock for cascade: %w", err)
	}
	if !acquired {
		return nil
	}
	defer func() {
		_, _ = p.locks.ReleaseLock(ctx, dispatchLockKey(rideID), lockValue)
	}()

	ride, err := p.rides.GetRide(ctx, rideID)
	if err != nil {
		return fmt.Errorf("dispatch: load ride for cascade: %w", err)
	}
	if ride.Status != models.RideStatusRequested {
		return nil
	}
	if !ride.AllNotifiedRejected() {
		return nil
	}

	return p.runRound(ctx, ride, p.retryRadiiKM, "All drivers rejected or unavailable", false)
}

// runRound is the shared body of §4.1 steps 2-6: progressive radius
// search, fan-out notification with mandatory status re-checks, and the
// cancel-on-exhaustion fallback. noCandidatesReason is formatted with the
// radius actually searched only when formatWithRadius is true (the
// initial dispatch's message); the cascade's fixed message is always
// used verbatim, since it carries no format verb.
func (p *Pipeline) runRound(ctx context.Context, ride *models.Ride, radii []float64, noCandidatesReason string, formatWithRadius bool) error {
	candidates, radiusUsed, err := p.search(ctx, ride, radii)
	if err != nil {
		return fmt.Errorf("dispatch: matcher: %w", err)
	}

	if len(candidates) == 0 {
		reason := noCandidatesReason
		if formatWithRadius {
			reason = fmt.Sprintf(noCandidatesReason, radiusUsed)
		}
		return p.giveUp(ctx, ride, reason)
	}

	notified := append([]uuid.UUID{}, ride.NotifiedDrivers...)
	for _, c := range candidates {
		current, err := p.rides.GetRide(ctx, ride.ID)
		if err != nil {
			return fmt.Errorf("dispatch: re-read ride status: %w", err)
		}
		if current.Status != models.RideStatusRequested {
			break
		}

		if err := p.notifier.NotifyDriver(c.DriverID, current); err != nil {
			p.logger.Warn("dispatch: failed to notify candidate, skipping",
				zap.String("rideId", ride.ID.String()), zap.String("driverId", c.DriverID.String()), zap.Error(err))
			continue
		}
		notified = append(notified, c.DriverID)
	}

	if err := p.rides.RecordNotifiedDrivers(ctx, ride.ID, notified); err != nil {
		return fmt.Errorf("dispatch: persist notified drivers: %w", err)
	}
	return nil
}

// search runs the Matcher across an expanding radius schedule, returning
// the first non-empty candidate set and the radius it was found at (spec
// §4.1 step 2-3).
func (p *Pipeline) search(ctx context.Context, ride *models.Ride, radii []float64) ([]geo.ProximityCandidate, float64, error) {
	rejected := make(map[uuid.UUID]bool, len(ride.RejectedDrivers))
	for _, id := range ride.RejectedDrivers {
		rejected[id] = true
	}
	notified := make(map[uuid.UUID]bool, len(ride.NotifiedDrivers))
	for _, id := range ride.NotifiedDrivers {
		notified[id] = true
	}

	for _, radius := range radii {
		raw, err := p.candidates.EligibleCandidates(ctx, ride.Pickup, radius)
		if err != nil {
			return nil, 0, err
		}

		filtered := raw[:0:0]
		for _, c := range raw {
			if rejected[c.DriverID] || notified[c.DriverID] {
				continue
			}
			filtered = append(filtered, c)
		}
		if len(filtered) == 0 {
			continue
		}

		sorted := geo.SortByProximity(geo.GeoPoint{Lng: ride.Pickup.Lng, Lat: ride.Pickup.Lat}, filtered)
		limited := geo.Limit(sorted, p.maxCandidates)
		return limited, radius, nil
	}

	return nil, radii[len(radii)-1], nil
}

// giveUp cancels the ride with reason and emits the rider-facing
// no-driver events, used both when the initial search and the cascade
// exhaust their radius schedule without candidates (spec §4.1 step 4,
// §4.4 step 4).
func (p *Pipeline) giveUp(ctx context.Context, ride *models.Ride, reason string) error {
	cancelled, err := p.rides.CancelRide(ctx, ride.ID, ride.RiderID, models.CancelledBySystem, reason)
	if err != nil {
		return fmt.Errorf("dispatch: cancel exhausted ride: %w", err)
	}

	p.publish(eventbus.SubjectNoDriverFound, "noDriverFound", map[string]interface{}{
		"room":    fmt.Sprintf("user_%s", cancelled.RiderID),
		"rideId":  cancelled.ID,
		"riderId": cancelled.RiderID,
		"reason":  reason,
	})
	p.publish(eventbus.SubjectRideCancelled, "rideCancelled", map[string]interface{}{
		"room":        fmt.Sprintf("user_%s", cancelled.RiderID),
		"rideId":      cancelled.ID,
		"riderId":     cancelled.RiderID,
		"cancelledBy": models.CancelledBySystem,
		"reason":      reason,
	})
	if p.riderNotifier != nil {
		p.riderNotifier.NotifyNoDriverFound(ctx, cancelled.RiderPhone, reason)
	}
	return nil
}

func (p *Pipeline) publish(subject, eventType string, data interface{}) {
	if p.eventBus == nil {
		return
	}
	evt, err := eventbus.NewEvent(eventType, p.eventBus.InstanceID(), data)
	if err != nil {
		p.logger.Warn("dispatch: failed to build event", zap.String("type", eventType), zap.Error(err))
		return
	}
	if err := p.eventBus.Publish(subject, evt); err != nil {
		p.logger.Warn("dispatch: failed to publish event", zap.String("type", eventType), zap.Error(err))
	}
}
