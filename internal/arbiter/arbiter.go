// Package arbiter implements the Acceptance Arbiter (spec §4.3): the
// distributed-lock-guarded single-winner resolution for a ride's
// simultaneous accept attempts. It owns steps 1-2 (lock acquisition),
// calls back into internal/rides.Service.AcceptRide for step 3 (the
// guarded state transition) once the lock is held, and then itself
// notifies the losing drivers and joins the winner to the ride room.
package arbiter

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ridecore/dispatch/pkg/common"
	"github.com/ridecore/dispatch/pkg/eventbus"
	"github.com/ridecore/dispatch/pkg/models"
	"github.com/ridecore/dispatch/pkg/redis"
)

// rideLockTTL bounds how long a winner's `ride_lock:{rideId}` entry can
// block a stuck process from ever releasing it (spec §4.3: "NX and TTL
// 15s").
const rideLockTTL = 15 * time.Second

// RideAcceptor is the subset of internal/rides.Service the arbiter calls
// once it holds the lock.
type RideAcceptor interface {
	AcceptRide(ctx context.Context, rideID, driverID uuid.UUID, driverSocketID *string) (*models.Ride, error)
}

// Notifier delivers rideNoLongerAvailable to a losing notified driver's
// current socket.
type Notifier interface {
	NotifyRideNoLongerAvailable(driverID uuid.UUID, rideID uuid.UUID) error
	JoinRideRoom(rideID uuid.UUID, socketIDs ...string) error
}

// Arbiter resolves concurrent accept attempts to exactly one winner.
type Arbiter struct {
	rides    RideAcceptor
	locks    redis.ClientInterface
	notifier Notifier
	eventBus *eventbus.Bus
	logger   *zap.Logger
}

// NewArbiter builds an Arbiter.
func NewArbiter(rides RideAcceptor, locks redis.ClientInterface, notifier Notifier, eventBus *eventbus.Bus, logger *zap.Logger) *Arbiter {
	return &Arbiter{rides: rides, locks: locks, notifier: notifier, eventBus: eventBus, logger: logger}
}

func rideLockKey(rideID uuid.UUID) string {
	return fmt.Sprintf("ride_lock:%s", rideID)
}

// Accept resolves a rideAccepted(rideId, driverId) attempt (spec §4.3
// steps 1-5). driverID is also used as the lock value, so only the
// driver who actually won can release it (check-and-delete on whichever
// terminal path eventually frees the ride).
func (a *Arbiter) Accept(ctx context.Context, rideID, driverID uuid.UUID, driverSocketID *string) (*models.Ride, error) {
	acquired, err := a.locks.AcquireLock(ctx, rideLockKey(rideID), driverID.String(), rideLockTTL)
	if err != nil {
		return nil, common.NewInternalError("failed to acquire acceptance lock")
	}
	if !acquired {
		return nil, common.NewErrorWithCode(409, common.ErrCodeRideAlreadyAccepted,
			"another driver has already accepted this ride")
	}

	ride, err := a.rides.AcceptRide(ctx, rideID, driverID, driverSocketID)
	if err != nil {
		_, _ = a.locks.ReleaseLock(ctx, rideLockKey(rideID), driverID.String())
		return nil, err
	}

	a.notifyLosers(ride, driverID)

	if a.notifier != nil {
		socketIDs := make([]string, 0, 2)
		if ride.UserSocketID != nil {
			socketIDs = append(socketIDs, *ride.UserSocketID)
		}
		if ride.DriverSocketID != nil {
			socketIDs = append(socketIDs, *ride.DriverSocketID)
		}
		if err := a.notifier.JoinRideRoom(rideID, socketIDs...); err != nil {
			a.logger.Warn("arbiter: failed to force-join ride room", zap.String("rideId", rideID.String()), zap.Error(err))
		}
	}

	return ride, nil
}

// notifyLosers emits rideNoLongerAvailable to every notified driver other
// than the winner (spec §4.3 step 4).
func (a *Arbiter) notifyLosers(ride *models.Ride, winner uuid.UUID) {
	for _, driverID := range ride.NotifiedDrivers {
		if driverID == winner {
			continue
		}
		if a.notifier != nil {
			if err := a.notifier.NotifyRideNoLongerAvailable(driverID, ride.ID); err != nil {
				a.logger.Warn("arbiter: failed to notify losing driver",
					zap.String("rideId", ride.ID.String()), zap.String("driverId", driverID.String()), zap.Error(err))
			}
		}
	}

	if a.eventBus == nil {
		return
	}
	evt, err := eventbus.NewEvent("rideNoLongerAvailable", a.eventBus.InstanceID(), map[string]interface{}{
		"rideId":  ride.ID,
		"winner":  winner,
		"losers":  ride.NotifiedDrivers,
	})
	if err != nil {
		a.logger.Warn("arbiter: failed to build rideNoLongerAvailable event", zap.Error(err))
		return
	}
	if err := a.eventBus.Publish(eventbus.SubjectRideNoLongerAvailable, evt); err != nil {
		a.logger.Warn("arbiter: failed to publish rideNoLongerAvailable event", zap.Error(err))
	}
}
