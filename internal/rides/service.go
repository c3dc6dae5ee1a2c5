// Package rides owns the Ride State Machine (spec §4.2): the OTP-gated
// lifecycle transitions, their persistence, and the lifecycle events they
// publish. It does not itself decide who to dispatch to (internal/dispatch)
// or arbitrate simultaneous accepts (internal/arbiter) — both call back
// into this service's transition methods once they have decided what
// should happen.
package rides

import (
	"context"
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ridecore/dispatch/internal/geo"
	"github.com/ridecore/dispatch/pkg/common"
	"github.com/ridecore/dispatch/pkg/eventbus"
	"github.com/ridecore/dispatch/pkg/models"
	"github.com/ridecore/dispatch/pkg/redis"
)

// userActiveRideLockTTL is a safety-net TTL on the user_active_ride:{userId}
// lock (spec §5 I-U1). The lock is normally released explicitly on the
// ride's terminal transition; the TTL only protects against a crashed
// instance leaking the lock forever.
const userActiveRideLockTTL = 6 * time.Hour

// DriverPresence is the subset of the presence registry the ride state
// machine needs: setting a driver's busy flag on acceptance and freeing
// it on rejection/cancellation.
// Defined here (not imported from internal/presence) to avoid a cycle —
// internal/presence depends on rides' Ride type, not the other way round.
type DriverPresence interface {
	SetBusy(ctx context.Context, driverID uuid.UUID, busy bool) error
}

// Service implements the ride lifecycle's preconditions and guards.
type Service struct {
	repo     *Repository
	locks    redis.ClientInterface
	eventBus *eventbus.Bus
	presence DriverPresence
	logger   *zap.Logger
}

// NewService builds a Service. presence may be nil during early wiring;
// callers must set it with SetPresence before driver-freeing paths
// (RejectRide, CancelRide) are exercised.
func NewService(repo *Repository, locks redis.ClientInterface, eventBus *eventbus.Bus, logger *zap.Logger) *Service {
	if repo == nil {
		panic("rides: repository cannot be nil")
	}
	return &Service{repo: repo, locks: locks, eventBus: eventBus, logger: logger}
}

// SetPresence wires the driver presence registry.
func (s *Service) SetPresence(presence DriverPresence) {
	s.presence = presence
}

func (s *Service) publish(subject, eventType string, data interface{}) {
	if s.eventBus == nil {
		return
	}
	evt, err := eventbus.NewEvent(eventType, s.eventBus.InstanceID(), data)
	if err != nil {
		s.logger.Warn("failed to build event", zap.String("type", eventType), zap.Error(err))
		return
	}
	if err := s.eventBus.Publish(subject, evt); err != nil {
		s.logger.Warn("failed to publish event", zap.String("type", eventType), zap.Error(err))
	}
}

// RequestRide validates the at-most-one-active-ride invariant (I-U1),
// mints the OTP pair, persists the new ride, and returns it. The caller
// (the HTTP/socket handler) is responsible for handing the Dispatch
// Pipeline the new ride id to enqueue.
func (s *Service) RequestRide(ctx context.Context, riderID uuid.UUID, req *models.RideRequest, riderSocketID *string) (*models.Ride, error) {
	lockKey := fmt.Sprintf("user_active_ride:%s", riderID)
	acquired, err := s.locks.AcquireLock(ctx, lockKey, riderID.String(), userActiveRideLockTTL)
	if err != nil {
		return nil, common.NewInternalError("failed to check active ride")
	}
	if !acquired {
		return nil, common.NewErrorWithCode(409, common.ErrCodeDuplicateRideAttempt,
			"you already have an active ride")
	}

	startOtp, stopOtp, err := models.GenerateRidePinPair()
	if err != nil {
		_, _ = s.locks.ReleaseLock(ctx, lockKey, riderID.String())
		return nil, common.NewInternalError("failed to mint ride OTPs")
	}

	distanceKm := geo.HaversineDistanceKm(req.Pickup.Lat, req.Pickup.Lng, req.Dropoff.Lat, req.Dropoff.Lng)

	ride := &models.Ride{
		ID:              uuid.New(),
		RiderID:         riderID,
		Status:          models.RideStatusRequested,
		Pickup:          req.Pickup,
		Dropoff:         req.Dropoff,
		BookingType:     req.BookingType,
		PaymentMethod:   req.PaymentMethod,
		PaymentStatus:   models.RidePaymentPending,
		DistanceKm:      distanceKm,
		StartOtp:        startOtp,
		StopOtp:         stopOtp,
		NotifiedDrivers: []uuid.UUID{},
		RejectedDrivers: []uuid.UUID{},
		UserSocketID:    riderSocketID,
		RiderPhone:      req.RiderPhone,
	}

	if err := s.repo.CreateRide(ctx, ride); err != nil {
		_, _ = s.locks.ReleaseLock(ctx, lockKey, riderID.String())
		return nil, common.NewInternalError("failed to create ride request")
	}

	s.publish(eventbus.SubjectRideRequested, "rideRequested", map[string]interface{}{
		"rideId":  ride.ID,
		"riderId": riderID,
		"pickup":  ride.Pickup,
		"dropoff": ride.Dropoff,
	})

	return ride, nil
}

// GetRide retrieves a ride by id.
func (s *Service) GetRide(ctx context.Context, rideID uuid.UUID) (*models.Ride, error) {
	ride, err := s.repo.GetRideByID(ctx, rideID)
	if err != nil {
		return nil, common.NewNotFoundError("ride not found")
	}
	return ride, nil
}

// AcceptRide performs the guarded requested->accepted transition (spec
// §4.3 step 3) once the caller (internal/arbiter) has already won the
// ride_lock:{rideId} distributed lock. It does not itself take that lock.
func (s *Service) AcceptRide(ctx context.Context, rideID, driverID uuid.UUID, driverSocketID *string) (*models.Ride, error) {
	accepted, err := s.repo.AtomicAcceptRide(ctx, rideID, driverID, driverSocketID)
	if err != nil {
		return nil, common.NewInternalError("failed to accept ride")
	}
	if !accepted {
		return nil, common.NewErrorWithCode(409, common.ErrCodeRideNotAvailable,
			"ride is no longer available for acceptance")
	}

	ride, err := s.repo.GetRideByID(ctx, rideID)
	if err != nil {
		return nil, common.NewInternalError("failed to fetch accepted ride")
	}

	if s.presence != nil {
		if err := s.presence.SetBusy(ctx, driverID, true); err != nil {
			s.logger.Warn("failed to mark driver busy after acceptance", zap.String("driverId", driverID.String()), zap.Error(err))
		}
	}

	s.publish(eventbus.SubjectRideAccepted, "rideAccepted", map[string]interface{}{
		"rideId":   rideID,
		"riderId":  ride.RiderID,
		"driverId": driverID,
	})

	return ride, nil
}

// ArriveRide records the accepted->arrived transition (spec §4.2 arrive()).
func (s *Service) ArriveRide(ctx context.Context, rideID, driverID uuid.UUID) (*models.Ride, error) {
	ok, err := s.repo.AtomicArriveRide(ctx, rideID, driverID)
	if err != nil {
		return nil, common.NewInternalError("failed to record driver arrival")
	}
	if !ok {
		return nil, common.NewConflictError("ride is not in a state that allows arrival")
	}

	ride, err := s.repo.GetRideByID(ctx, rideID)
	if err != nil {
		return nil, common.NewInternalError("failed to fetch ride")
	}

	s.publish(eventbus.SubjectRideArrived, "rideArrived", map[string]interface{}{
		"rideId":   rideID,
		"riderId":  ride.RiderID,
		"driverId": driverID,
	})

	return ride, nil
}

// verifyOtp performs a constant-time compare so an OTP guess timing side
// channel never leaks which digit positions matched (spec §4.2: "Verification
// is constant-time compare").
func verifyOtp(expected, supplied string) bool {
	if len(expected) != len(supplied) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(supplied)) == 1
}

// StartRide verifies the start OTP and records arrived->in_progress
// (spec §4.2 startRide(otp)). On a failed verification no state changes;
// the caller surfaces otpVerificationFailed only to the requester.
func (s *Service) StartRide(ctx context.Context, rideID, driverID uuid.UUID, otp string) (*models.Ride, error) {
	ride, err := s.repo.GetRideByID(ctx, rideID)
	if err != nil {
		return nil, common.NewNotFoundError("ride not found")
	}
	if ride.Status != models.RideStatusArrived {
		return nil, common.NewConflictError("ride is not awaiting start")
	}
	if ride.DriverID == nil || *ride.DriverID != driverID {
		return nil, common.NewForbiddenError("unauthorized driver")
	}
	if !verifyOtp(ride.StartOtp, otp) {
		return nil, common.NewErrorWithCode(400, common.ErrCodeInvalidOTP, "start OTP verification failed")
	}

	ok, err := s.repo.AtomicStartRide(ctx, rideID, driverID)
	if err != nil {
		return nil, common.NewInternalError("failed to start ride")
	}
	if !ok {
		return nil, common.NewConflictError("ride is no longer awaiting start")
	}

	ride, err = s.repo.GetRideByID(ctx, rideID)
	if err != nil {
		return nil, common.NewInternalError("failed to fetch ride")
	}

	s.publish(eventbus.SubjectRideStarted, "rideStarted", map[string]interface{}{
		"rideId":   rideID,
		"riderId":  ride.RiderID,
		"driverId": driverID,
	})

	return ride, nil
}

// CompleteRide verifies the stop OTP, recomputes the final distance, and
// records in_progress->completed (spec §4.2 completeRide(otp,fare?)). The
// authoritative fare recomputation itself is the Earnings Finalizer's job
// (§4.7); CompleteRide persists the actual distance/fare the caller
// supplies as the pre-finalization value, which the Finalizer may then
// correct via fareDelta reconciliation.
func (s *Service) CompleteRide(ctx context.Context, rideID, driverID uuid.UUID, otp string, fare float64, actualDistanceKm *float64) (*models.Ride, error) {
	ride, err := s.repo.GetRideByID(ctx, rideID)
	if err != nil {
		return nil, common.NewNotFoundError("ride not found")
	}
	if ride.Status != models.RideStatusInProgress {
		return nil, common.NewConflictError("ride is not in progress")
	}
	if ride.DriverID == nil || *ride.DriverID != driverID {
		return nil, common.NewForbiddenError("unauthorized driver")
	}
	if !verifyOtp(ride.StopOtp, otp) {
		return nil, common.NewErrorWithCode(400, common.ErrCodeInvalidOTP, "stop OTP verification failed")
	}

	distanceKm := ride.DistanceKm
	if actualDistanceKm != nil && *actualDistanceKm > 0 {
		distanceKm = *actualDistanceKm
	}

	completed, err := s.repo.AtomicCompleteRide(ctx, rideID, driverID, fare, distanceKm)
	if err != nil {
		return nil, common.NewInternalError("failed to complete ride")
	}
	if !completed {
		return nil, common.NewErrorWithCode(409, common.ErrCodeRideAlreadyDone, "ride is no longer in progress")
	}

	if s.locks != nil {
		_, _ = s.locks.ReleaseLock(ctx, fmt.Sprintf("user_active_ride:%s", ride.RiderID), ride.RiderID.String())
	}
	if s.presence != nil {
		if err := s.presence.SetBusy(ctx, driverID, false); err != nil {
			s.logger.Warn("failed to free driver after completion", zap.String("driverId", driverID.String()), zap.Error(err))
		}
	}

	ride, err = s.repo.GetRideByID(ctx, rideID)
	if err != nil {
		return nil, common.NewInternalError("failed to fetch ride")
	}

	s.publish(eventbus.SubjectRideCompleted, "rideCompleted", map[string]interface{}{
		"rideId":     rideID,
		"riderId":    ride.RiderID,
		"driverId":   driverID,
		"fare":       ride.Fare,
		"distanceKm": ride.DistanceKm,
	})

	return ride, nil
}

// CancelRide cancels a ride from any non-terminal state (spec §4.2
// rows for requested/accepted/arrived/in_progress -> cancelled), freeing
// the assigned driver (if any) and the rider's active-ride lock.
func (s *Service) CancelRide(ctx context.Context, rideID, callerID uuid.UUID, by models.CancelledBy, reason string) (*models.Ride, error) {
	ride, err := s.repo.GetRideByID(ctx, rideID)
	if err != nil {
		return nil, common.NewNotFoundError("ride not found")
	}

	isRider := ride.RiderID == callerID
	isDriver := ride.DriverID != nil && *ride.DriverID == callerID
	if by != models.CancelledBySystem && !isRider && !isDriver {
		return nil, common.NewForbiddenError("unauthorized to cancel this ride")
	}
	if ride.Status.IsTerminal() {
		return nil, common.NewConflictError("cannot cancel a completed or already cancelled ride")
	}

	ok, err := s.repo.AtomicCancelRide(ctx, rideID, by, reason)
	if err != nil {
		return nil, common.NewInternalError("failed to cancel ride")
	}
	if !ok {
		return nil, common.NewConflictError("ride already reached a terminal state")
	}

	if s.locks != nil {
		_, _ = s.locks.ReleaseLock(ctx, fmt.Sprintf("user_active_ride:%s", ride.RiderID), ride.RiderID.String())
	}
	if ride.DriverID != nil && s.presence != nil {
		if err := s.presence.SetBusy(ctx, *ride.DriverID, false); err != nil {
			s.logger.Warn("failed to free driver on cancellation", zap.String("driverId", ride.DriverID.String()), zap.Error(err))
		}
	}

	ride, err = s.repo.GetRideByID(ctx, rideID)
	if err != nil {
		return nil, common.NewInternalError("failed to fetch ride")
	}

	s.publish(eventbus.SubjectRideCancelled, "rideCancelled", map[string]interface{}{
		"room":        fmt.Sprintf("user_%s", ride.RiderID),
		"rideId":      rideID,
		"riderId":     ride.RiderID,
		"cancelledBy": by,
		"reason":      reason,
	})

	return ride, nil
}

// AutoCancelExpiredRide is internal/scheduler's sweeper entry point: it
// cancels rideID only if still `requested` (spec §4.5 step 1's atomic
// re-check), returning (false, nil) rather than an error when another
// actor already moved the ride on — that is the expected, tolerated
// outcome of multi-instance sweeper execution, not a failure.
func (s *Service) AutoCancelExpiredRide(ctx context.Context, rideID, riderID uuid.UUID, reason string) (bool, error) {
	ok, err := s.repo.AtomicCancelRequestedRide(ctx, rideID, reason)
	if err != nil {
		return false, fmt.Errorf("failed to auto-cancel ride: %w", err)
	}
	if !ok {
		return false, nil
	}

	if s.locks != nil {
		_, _ = s.locks.ReleaseLock(ctx, fmt.Sprintf("user_active_ride:%s", riderID), riderID.String())
	}

	s.publish(eventbus.SubjectRideCancelled, "rideCancelled", map[string]interface{}{
		"room":        fmt.Sprintf("user_%s", riderID),
		"rideId":      rideID,
		"riderId":     riderID,
		"cancelledBy": models.CancelledBySystem,
		"reason":      reason,
	})
	return true, nil
}

// RejectRide appends driverID to rejectedDrivers (spec §4.4 trigger) and
// always frees the rejecting driver, returning the updated ride so the
// caller (internal/dispatch) can evaluate the cascade condition.
func (s *Service) RejectRide(ctx context.Context, rideID, driverID uuid.UUID) (*models.Ride, error) {
	if err := s.repo.AppendRejectedDriver(ctx, rideID, driverID); err != nil {
		return nil, common.NewInternalError("failed to record rejection")
	}
	if s.presence != nil {
		if err := s.presence.SetBusy(ctx, driverID, false); err != nil {
			s.logger.Warn("failed to free rejecting driver", zap.String("driverId", driverID.String()), zap.Error(err))
		}
	}
	ride, err := s.repo.GetRideByID(ctx, rideID)
	if err != nil {
		return nil, common.NewInternalError("failed to fetch ride")
	}
	return ride, nil
}

// RecordNotifiedDrivers persists the notified-drivers slice for a dispatch
// round (spec §4.1 step 6).
func (s *Service) RecordNotifiedDrivers(ctx context.Context, rideID uuid.UUID, notified []uuid.UUID) error {
	return s.repo.AppendNotifiedDrivers(ctx, rideID, notified)
}

// GetRiderRides lists a rider's ride history.
func (s *Service) GetRiderRides(ctx context.Context, riderID uuid.UUID, limit, offset int) ([]*models.Ride, error) {
	rides, err := s.repo.GetRidesByRider(ctx, riderID, limit, offset)
	if err != nil {
		return nil, common.NewInternalError("failed to get rides")
	}
	return rides, nil
}

// GetDriverRides lists a driver's ride history.
func (s *Service) GetDriverRides(ctx context.Context, driverID uuid.UUID, limit, offset int) ([]*models.Ride, error) {
	rides, err := s.repo.GetRidesByDriver(ctx, driverID, limit, offset)
	if err != nil {
		return nil, common.NewInternalError("failed to get rides")
	}
	return rides, nil
}

// GetExpiredRequestedRides satisfies internal/scheduler's RideGateway: the
// auto-cancel sweeper's candidate set (spec §4.5).
func (s *Service) GetExpiredRequestedRides(ctx context.Context, before time.Time, limit int) ([]*models.Ride, error) {
	return s.repo.GetExpiredRequestedRides(ctx, before, limit)
}

// GetActiveRidesForParticipant satisfies internal/realtime's
// ActiveRideLister: every non-terminal ride to auto-join on reconnect.
func (s *Service) GetActiveRidesForParticipant(ctx context.Context, participantID uuid.UUID) ([]*models.Ride, error) {
	return s.repo.GetActiveRidesForParticipant(ctx, participantID)
}

// GetActiveRideDriverIDs satisfies internal/presence's ActiveRideDriverLister,
// letting the presence registry's validate-and-repair pass ask the state
// machine which drivers are actually tied to a non-terminal ride.
func (s *Service) GetActiveRideDriverIDs(ctx context.Context) ([]uuid.UUID, error) {
	return s.repo.GetActiveRideDriverIDs(ctx)
}

// UpdateRideFare satisfies internal/earnings' RideGateway: persisting the
// Finalizer's recomputed authoritative fare (spec §4.7 step 1).
func (s *Service) UpdateRideFare(ctx context.Context, rideID uuid.UUID, fare float64) error {
	return s.repo.UpdateRideFare(ctx, rideID, fare)
}

// SettleRidePayment satisfies internal/earnings' RideGateway: persisting
// the fare-delta reconciliation outcome (spec §4.7 step 2).
func (s *Service) SettleRidePayment(ctx context.Context, rideID uuid.UUID, status models.RidePaymentStatus, walletAmountUsed, gatewayAmountPaid float64, gatewayPaymentID *string) error {
	return s.repo.UpdatePaymentSettlement(ctx, rideID, status, walletAmountUsed, gatewayAmountPaid, gatewayPaymentID)
}
