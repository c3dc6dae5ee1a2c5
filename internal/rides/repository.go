package rides

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ridecore/dispatch/pkg/models"
)

// Repository handles database operations for rides.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new rides repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const rideColumns = `
	id, rider_id, driver_id, status, pickup_lng, pickup_lat, dropoff_lng, dropoff_lat,
	booking_type, payment_method, payment_status, fare, distance_km, start_otp, stop_otp,
	driver_arrived_at, actual_start_time, actual_end_time, notified_drivers, rejected_drivers,
	cancelled_by, cancellation_reason, wallet_amount_used, gateway_amount_paid,
	gateway_payment_id, transaction_id, user_socket_id, driver_socket_id,
	base_fare, distance_fare, time_fare, discount, minimum_fare, surge_multiplier,
	rider_phone, created_at, updated_at
`

func scanRide(row pgx.Row) (*models.Ride, error) {
	ride := &models.Ride{}
	err := row.Scan(
		&ride.ID, &ride.RiderID, &ride.DriverID, &ride.Status,
		&ride.PickupLng, &ride.PickupLat, &ride.DropoffLng, &ride.DropoffLat,
		&ride.BookingType, &ride.PaymentMethod, &ride.PaymentStatus, &ride.Fare, &ride.DistanceKm,
		&ride.StartOtp, &ride.StopOtp,
		&ride.DriverArrivedAt, &ride.ActualStartTime, &ride.ActualEndTime,
		&ride.NotifiedDrivers, &ride.RejectedDrivers,
		&ride.CancelledBy, &ride.CancellationReason,
		&ride.WalletAmountUsed, &ride.GatewayAmountPaid, &ride.GatewayPaymentID, &ride.TransactionID,
		&ride.UserSocketID, &ride.DriverSocketID,
		&ride.BaseFare, &ride.DistanceFare, &ride.TimeFare, &ride.Discount, &ride.MinimumFare, &ride.SurgeMultiplier,
		&ride.RiderPhone, &ride.CreatedAt, &ride.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	ride.Pickup = models.GeoPoint{Lng: ride.PickupLng, Lat: ride.PickupLat}
	ride.Dropoff = models.GeoPoint{Lng: ride.DropoffLng, Lat: ride.DropoffLat}
	return ride, nil
}

// CreateRide inserts a new ride request row, minting both OTPs up front
// (spec §4.2: "OTPs ... drawn ... at Ride creation").
func (r *Repository) CreateRide(ctx context.Context, ride *models.Ride) error {
	query := `
		INSERT INTO rides (
			id, rider_id, status, pickup_lng, pickup_lat, dropoff_lng, dropoff_lat,
			booking_type, payment_method, payment_status, fare, distance_km, start_otp, stop_otp,
			notified_drivers, rejected_drivers, wallet_amount_used, gateway_amount_paid,
			user_socket_id, base_fare, distance_fare, time_fare, discount, minimum_fare, surge_multiplier,
			rider_phone
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26)
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		ride.ID, ride.RiderID, ride.Status,
		ride.Pickup.Lng, ride.Pickup.Lat, ride.Dropoff.Lng, ride.Dropoff.Lat,
		ride.BookingType, ride.PaymentMethod, ride.PaymentStatus, ride.Fare, ride.DistanceKm,
		ride.StartOtp, ride.StopOtp,
		ride.NotifiedDrivers, ride.RejectedDrivers, ride.WalletAmountUsed, ride.GatewayAmountPaid,
		ride.UserSocketID, ride.BaseFare, ride.DistanceFare, ride.TimeFare, ride.Discount, ride.MinimumFare, ride.SurgeMultiplier,
		ride.RiderPhone,
	).Scan(&ride.CreatedAt, &ride.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create ride: %w", err)
	}
	return nil
}

// GetRideByID retrieves a ride by id.
func (r *Repository) GetRideByID(ctx context.Context, id uuid.UUID) (*models.Ride, error) {
	query := `SELECT` + rideColumns + `FROM rides WHERE id = $1`
	ride, err := scanRide(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("failed to get ride: %w", err)
	}
	return ride, nil
}

// AtomicAcceptRide transitions a ride from requested to accepted in a
// single guarded UPDATE (spec §4.3 step 3), preventing a second winner
// from slipping through after the Arbiter's distributed lock was already
// granted to someone else.
func (r *Repository) AtomicAcceptRide(ctx context.Context, rideID, driverID uuid.UUID, driverSocketID *string) (bool, error) {
	query := `
		UPDATE rides
		SET status = $1, driver_id = $2, driver_socket_id = $3, updated_at = $4
		WHERE id = $5 AND status = $6
	`
	tag, err := r.db.Exec(ctx, query,
		models.RideStatusAccepted, driverID, driverSocketID, time.Now(), rideID, models.RideStatusRequested,
	)
	if err != nil {
		return false, fmt.Errorf("failed to accept ride: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// AtomicArriveRide transitions accepted -> arrived, recording
// driverArrivedAt, guarded on the caller being the assigned driver.
func (r *Repository) AtomicArriveRide(ctx context.Context, rideID, driverID uuid.UUID) (bool, error) {
	now := time.Now()
	query := `
		UPDATE rides
		SET status = $1, driver_arrived_at = $2, updated_at = $2
		WHERE id = $3 AND driver_id = $4 AND status = $5
	`
	tag, err := r.db.Exec(ctx, query,
		models.RideStatusArrived, now, rideID, driverID, models.RideStatusAccepted,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark ride arrived: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// AtomicStartRide transitions arrived -> in_progress, guarded on the OTP
// match happening in the service layer before this call and re-verified
// here by the status/driver guard (spec §4.2 startRide(otp)).
func (r *Repository) AtomicStartRide(ctx context.Context, rideID, driverID uuid.UUID) (bool, error) {
	now := time.Now()
	query := `
		UPDATE rides
		SET status = $1, actual_start_time = $2, updated_at = $2
		WHERE id = $3 AND driver_id = $4 AND status = $5
	`
	tag, err := r.db.Exec(ctx, query,
		models.RideStatusInProgress, now, rideID, driverID, models.RideStatusArrived,
	)
	if err != nil {
		return false, fmt.Errorf("failed to start ride: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// AtomicCompleteRide transitions in_progress -> completed, persisting the
// final recomputed fare and distance (spec §4.7 step 1 feeds fare here).
func (r *Repository) AtomicCompleteRide(ctx context.Context, rideID, driverID uuid.UUID, fare, distanceKm float64) (bool, error) {
	now := time.Now()
	query := `
		UPDATE rides
		SET status = $1, actual_end_time = $2, fare = $3, distance_km = $4, updated_at = $2
		WHERE id = $5 AND driver_id = $6 AND status = $7
	`
	tag, err := r.db.Exec(ctx, query,
		models.RideStatusCompleted, now, fare, distanceKm, rideID, driverID, models.RideStatusInProgress,
	)
	if err != nil {
		return false, fmt.Errorf("failed to complete ride: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// AtomicCancelRide transitions any non-terminal status to cancelled,
// guarded by re-reading the current status inside the WHERE clause so a
// racing terminal transition (the sweeper, a concurrent cancel) never
// double-fires side effects (spec §4.5 step 1, §5 "Cancellation semantics").
func (r *Repository) AtomicCancelRide(ctx context.Context, rideID uuid.UUID, by models.CancelledBy, reason string) (bool, error) {
	now := time.Now()
	query := `
		UPDATE rides
		SET status = $1, cancelled_by = $2, cancellation_reason = $3, updated_at = $4
		WHERE id = $5 AND status NOT IN ($6, $7)
	`
	tag, err := r.db.Exec(ctx, query,
		models.RideStatusCancelled, by, reason, now, rideID,
		models.RideStatusCompleted, models.RideStatusCancelled,
	)
	if err != nil {
		return false, fmt.Errorf("failed to cancel ride: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// AtomicCancelRequestedRide cancels a ride only if it is still `requested`
// — stricter than AtomicCancelRide's any-non-terminal guard, since the
// auto-cancel sweeper must never cancel a ride that was accepted in the
// window between its scan query and this call (spec §4.5 step 1: "skips
// if changed").
func (r *Repository) AtomicCancelRequestedRide(ctx context.Context, rideID uuid.UUID, reason string) (bool, error) {
	now := time.Now()
	query := `
		UPDATE rides
		SET status = $1, cancelled_by = $2, cancellation_reason = $3, updated_at = $4
		WHERE id = $5 AND status = $6
	`
	tag, err := r.db.Exec(ctx, query,
		models.RideStatusCancelled, models.CancelledBySystem, reason, now, rideID, models.RideStatusRequested,
	)
	if err != nil {
		return false, fmt.Errorf("failed to auto-cancel ride: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// AppendNotifiedDrivers persists the notified-drivers slice after a
// dispatch round (spec §4.1 step 6: "Persist notifiedDrivers atomically").
func (r *Repository) AppendNotifiedDrivers(ctx context.Context, rideID uuid.UUID, notified []uuid.UUID) error {
	query := `UPDATE rides SET notified_drivers = $1, updated_at = $2 WHERE id = $3`
	_, err := r.db.Exec(ctx, query, notified, time.Now(), rideID)
	if err != nil {
		return fmt.Errorf("failed to persist notified drivers: %w", err)
	}
	return nil
}

// AppendRejectedDriver appends driverID to rejectedDrivers (set semantics,
// spec §4.4 trigger) in a single round trip using array concatenation
// guarded by a NOT-contains check so a duplicate rejection is a no-op.
func (r *Repository) AppendRejectedDriver(ctx context.Context, rideID, driverID uuid.UUID) error {
	query := `
		UPDATE rides
		SET rejected_drivers = array_append(rejected_drivers, $1), updated_at = $2
		WHERE id = $3 AND NOT ($1 = ANY(rejected_drivers))
	`
	_, err := r.db.Exec(ctx, query, driverID, time.Now(), rideID)
	if err != nil {
		return fmt.Errorf("failed to append rejected driver: %w", err)
	}
	return nil
}

// UpdatePaymentSettlement records the reconciled payment fields the
// Earnings Finalizer computes (spec §4.7 step 2).
func (r *Repository) UpdatePaymentSettlement(ctx context.Context, rideID uuid.UUID, status models.RidePaymentStatus, walletAmountUsed, gatewayAmountPaid float64, gatewayPaymentID *string) error {
	query := `
		UPDATE rides
		SET payment_status = $1, wallet_amount_used = $2, gateway_amount_paid = $3,
			gateway_payment_id = $4, updated_at = $5
		WHERE id = $6
	`
	_, err := r.db.Exec(ctx, query, status, walletAmountUsed, gatewayAmountPaid, gatewayPaymentID, time.Now(), rideID)
	if err != nil {
		return fmt.Errorf("failed to update payment settlement: %w", err)
	}
	return nil
}

// UpdateRideFare persists the authoritative fare the Earnings Finalizer
// recomputed (spec §4.7 step 1), when it differs from the value already
// stored.
func (r *Repository) UpdateRideFare(ctx context.Context, rideID uuid.UUID, fare float64) error {
	query := `UPDATE rides SET fare = $1, updated_at = $2 WHERE id = $3`
	_, err := r.db.Exec(ctx, query, fare, time.Now(), rideID)
	if err != nil {
		return fmt.Errorf("failed to update ride fare: %w", err)
	}
	return nil
}

// GetRidesByRider retrieves rides for a rider, most recent first.
func (r *Repository) GetRidesByRider(ctx context.Context, riderID uuid.UUID, limit, offset int) ([]*models.Ride, error) {
	query := `SELECT` + rideColumns + `FROM rides WHERE rider_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	return r.queryRides(ctx, query, riderID, limit, offset)
}

// GetRidesByDriver retrieves rides for a driver, most recent first.
func (r *Repository) GetRidesByDriver(ctx context.Context, driverID uuid.UUID, limit, offset int) ([]*models.Ride, error) {
	query := `SELECT` + rideColumns + `FROM rides WHERE driver_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	return r.queryRides(ctx, query, driverID, limit, offset)
}

// GetActiveRidesForParticipant returns every non-terminal ride involving
// participantID as either rider or driver — the reconnection bookkeeping
// query for auto-joining `ride_{id}` rooms on `userConnect`/`driverConnect`
// (spec §4.8).
func (r *Repository) GetActiveRidesForParticipant(ctx context.Context, participantID uuid.UUID) ([]*models.Ride, error) {
	query := `
		SELECT` + rideColumns + `FROM rides
		WHERE (rider_id = $1 OR driver_id = $1)
		AND status IN ($2, $3, $4, $5)
		ORDER BY created_at DESC
	`
	return r.queryRides(ctx, query, participantID,
		models.RideStatusRequested, models.RideStatusAccepted, models.RideStatusArrived, models.RideStatusInProgress)
}

func (r *Repository) queryRides(ctx context.Context, query string, args ...interface{}) ([]*models.Ride, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get rides: %w", err)
	}
	defer rows.Close()

	rides := make([]*models.Ride, 0)
	for rows.Next() {
		ride, err := scanRide(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ride: %w", err)
		}
		rides = append(rides, ride)
	}
	return rides, rows.Err()
}

// GetActiveRideDriverIDs returns the distinct driver ids currently
// assigned to a non-terminal ride (accepted, arrived, or in_progress) —
// the presence registry's validate-and-repair check uses this to decide
// whether a driver's isBusy=true flag is actually backed by a ride
// (spec §4.6).
func (r *Repository) GetActiveRideDriverIDs(ctx context.Context) ([]uuid.UUID, error) {
	query := `
		SELECT DISTINCT driver_id FROM rides
		WHERE driver_id IS NOT NULL AND status IN ($1, $2, $3)
	`
	rows, err := r.db.Query(ctx, query,
		models.RideStatusAccepted, models.RideStatusArrived, models.RideStatusInProgress,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get active ride driver ids: %w", err)
	}
	defer rows.Close()

	ids := make([]uuid.UUID, 0)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan driver id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetExpiredRequestedRides returns up to limit rides still `requested`
// whose createdAt is older than before — the sweeper's candidate set
// (spec §4.5, bounded batch size).
func (r *Repository) GetExpiredRequestedRides(ctx context.Context, before time.Time, limit int) ([]*models.Ride, error) {
	query := `SELECT` + rideColumns + `FROM rides WHERE status = $1 AND created_at < $2 ORDER BY created_at ASC LIMIT $3`
	rows, err := r.db.Query(ctx, query, models.RideStatusRequested, before, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get expired rides: %w", err)
	}
	defer rows.Close()

	rides := make([]*models.Ride, 0)
	for rows.Next() {
		ride, err := scanRide(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ride: %w", err)
		}
		rides = append(rides, ride)
	}
	return rides, rows.Err()
}
