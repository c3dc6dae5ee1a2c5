package earnings

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ridecore/dispatch/pkg/models"
)

// Repository persists AdminEarnings rows and reads the pricing Settings
// singleton (spec §4.7 steps 3 and 5).
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new earnings repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// UpsertEarnings writes the AdminEarnings row keyed by rideId, updating an
// existing row in place on repeat invocation (invariant E2: "upsert
// dedupes"). Values already in `completed`/`refunded` PaymentStatus are
// left alone — a payout that already ran must not be reopened by a
// redundant finalize.
func (r *Repository) UpsertEarnings(ctx context.Context, e *models.AdminEarnings) error {
	query := `
		INSERT INTO admin_earnings (
			id, ride_id, driver_id, rider_id, gross_fare, platform_fee, driver_earning,
			ride_date, payment_status, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9, now(), now())
		ON CONFLICT (ride_id) DO UPDATE SET
			gross_fare = EXCLUDED.gross_fare,
			platform_fee = EXCLUDED.platform_fee,
			driver_earning = EXCLUDED.driver_earning,
			ride_date = EXCLUDED.ride_date,
			updated_at = now()
		WHERE admin_earnings.payment_status NOT IN ($10, $11)
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		e.ID, e.RideID, e.DriverID, e.RiderID, e.GrossFare, e.PlatformFee, e.DriverEarning,
		e.RideDate, e.PaymentStatus, models.EarningsStatusCompleted, models.EarningsStatusRefunded,
	).Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return r.loadExisting(ctx, e)
		}
		return fmt.Errorf("failed to upsert earnings: %w", err)
	}
	return nil
}

// loadExisting backfills e from the already-settled row the upsert's WHERE
// guard declined to touch, so callers still observe a consistent record.
func (r *Repository) loadExisting(ctx context.Context, e *models.AdminEarnings) error {
	query := `
		SELECT id, gross_fare, platform_fee, driver_earning, ride_date, payment_status, created_at, updated_at
		FROM admin_earnings WHERE ride_id = $1
	`
	err := r.db.QueryRow(ctx, query, e.RideID).Scan(
		&e.ID, &e.GrossFare, &e.PlatformFee, &e.DriverEarning, &e.RideDate, &e.PaymentStatus,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to load settled earnings: %w", err)
	}
	return nil
}

// GetByRideID fetches the earnings row for a ride, if one exists.
func (r *Repository) GetByRideID(ctx context.Context, rideID uuid.UUID) (*models.AdminEarnings, error) {
	e := &models.AdminEarnings{RideID: rideID}
	query := `
		SELECT id, driver_id, rider_id, gross_fare, platform_fee, driver_earning,
			ride_date, payment_status, payout_id, created_at, updated_at
		FROM admin_earnings WHERE ride_id = $1
	`
	err := r.db.QueryRow(ctx, query, rideID).Scan(
		&e.ID, &e.DriverID, &e.RiderID, &e.GrossFare, &e.PlatformFee, &e.DriverEarning,
		&e.RideDate, &e.PaymentStatus, &e.PayoutID, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get earnings: %w", err)
	}
	return e, nil
}

// GetSettings reads the process-wide pricing singleton (spec §3
// "Settings — process-wide pricing/config, singleton").
func (r *Repository) GetSettings(ctx context.Context) (*models.Settings, error) {
	s := &models.Settings{}
	query := `SELECT platform_fee_pct, driver_commission_pct, min_payout_threshold FROM settings WHERE id = 1`
	err := r.db.QueryRow(ctx, query).Scan(&s.PlatformFeePct, &s.DriverCommissionPct, &s.MinPayoutThreshold)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	return s, nil
}
