// Package presence is the Driver Presence & Heartbeat Registry (spec
// §4.6): the durable driver record plus a short-TTL hot cache, with the
// reconnect/disconnect and busy-flag validate-and-repair rules spec §4.6
// specifies.
package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ridecore/dispatch/pkg/models"
)

// Repository is the durable driver record store — authoritative on
// reconnection (spec §4.6).
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new presence repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const driverColumns = `
	id, lng, lat, is_online, is_active, is_busy, busy_until, socket_id, last_seen, rating, created_at, updated_at
`

func scanDriver(row interface {
	Scan(dest ...interface{}) error
}) (*models.Driver, error) {
	d := &models.Driver{}
	err := row.Scan(
		&d.ID, &d.Lng, &d.Lat, &d.IsOnline, &d.IsActive, &d.IsBusy, &d.BusyUntil,
		&d.SocketID, &d.LastSeen, &d.Rating, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	d.Location = models.GeoPoint{Lng: d.Lng, Lat: d.Lat}
	return d, nil
}

// GetByID retrieves the durable driver record.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Driver, error) {
	query := `SELECT` + driverColumns + `FROM drivers WHERE id = $1`
	d, err := scanDriver(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("presence: get driver: %w", err)
	}
	return d, nil
}

// UpdateLocation persists the driver's latest location and last-seen
// timestamp (spec §4.6: refreshed on each location update or heartbeat).
func (r *Repository) UpdateLocation(ctx context.Context, id uuid.UUID, loc models.GeoPoint, lastSeen time.Time) error {
	query := `UPDATE drivers SET lng = $1, lat = $2, last_seen = $3, updated_at = $3 WHERE id = $4`
	_, err := r.db.Exec(ctx, query, loc.Lng, loc.Lat, lastSeen, id)
	if err != nil {
		return fmt.Errorf("presence: update location: %w", err)
	}
	return nil
}

// SetSocketID updates the driver's current socket, or clears it (nil).
func (r *Repository) SetSocketID(ctx context.Context, id uuid.UUID, socketID *string) error {
	query := `UPDATE drivers SET socket_id = $1, updated_at = $2 WHERE id = $3`
	_, err := r.db.Exec(ctx, query, socketID, time.Now(), id)
	if err != nil {
		return fmt.Errorf("presence: set socket id: %w", err)
	}
	return nil
}

// SetOnline flips isOnline and, on disconnect, hard-resets the
// busy state (spec §4.6: "isOnline=false, isBusy=false, busyUntil=null").
func (r *Repository) SetOnline(ctx context.Context, id uuid.UUID, online bool) error {
	now := time.Now()
	var query string
	if online {
		query = `UPDATE drivers SET is_online = true, last_seen = $1, updated_at = $1 WHERE id = $2`
		_, err := r.db.Exec(ctx, query, now, id)
		if err != nil {
			return fmt.Errorf("presence: set online: %w", err)
		}
		return nil
	}
	query = `
		UPDATE drivers
		SET is_online = false, is_busy = false, busy_until = NULL, socket_id = NULL, updated_at = $1
		WHERE id = $2
	`
	_, err := r.db.Exec(ctx, query, now, id)
	if err != nil {
		return fmt.Errorf("presence: set offline: %w", err)
	}
	return nil
}

// SetBusy updates the driver's busy flag (spec §4.3 step 3 sets it true
// on acceptance; rejection/cancellation/completion clear it).
func (r *Repository) SetBusy(ctx context.Context, id uuid.UUID, busy bool) error {
	query := `UPDATE drivers SET is_busy = $1, updated_at = $2 WHERE id = $3`
	_, err := r.db.Exec(ctx, query, busy, time.Now(), id)
	if err != nil {
		return fmt.Errorf("presence: set busy: %w", err)
	}
	return nil
}

// SetActive flips the driver's isActive flag (spec §6 `driverToggleStatus`:
// a driver going off-duty without fully disconnecting their socket).
func (r *Repository) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	query := `UPDATE drivers SET is_active = $1, updated_at = $2 WHERE id = $3`
	_, err := r.db.Exec(ctx, query, active, time.Now(), id)
	if err != nil {
		return fmt.Errorf("presence: set active: %w", err)
	}
	return nil
}

// GetOnlineActiveDrivers returns every driver currently flagged online and
// active, the candidate universe the Matcher further narrows by radius
// and eligibility (spec §4.1 step 3).
func (r *Repository) GetOnlineActiveDrivers(ctx context.Context) ([]*models.Driver, error) {
	query := `SELECT` + driverColumns + `FROM drivers WHERE is_online = true AND is_active = true`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("presence: list online drivers: %w", err)
	}
	defer rows.Close()

	drivers := make([]*models.Driver, 0)
	for rows.Next() {
		d, err := scanDriver(rows)
		if err != nil {
			return nil, fmt.Errorf("presence: scan driver: %w", err)
		}
		drivers = append(drivers, d)
	}
	return drivers, rows.Err()
}

// GetBusyDriversNotIn returns drivers flagged busy whose id is not among
// activeRideDriverIDs — the validate-and-repair query (spec §4.6: "if the
// durable record shows isBusy=true but no Ride ... references this
// driver, the registry clears the busy flag").
func (r *Repository) GetBusyDriversNotIn(ctx context.Context, activeRideDriverIDs []uuid.UUID) ([]*models.Driver, error) {
	query := `SELECT` + driverColumns + `FROM drivers WHERE is_busy = true AND NOT (id = ANY($1))`
	rows, err := r.db.Query(ctx, query, activeRideDriverIDs)
	if err != nil {
		return nil, fmt.Errorf("presence: list stale-busy drivers: %w", err)
	}
	defer rows.Close()

	drivers := make([]*models.Driver, 0)
	for rows.Next() {
		d, err := scanDriver(rows)
		if err != nil {
			return nil, fmt.Errorf("presence: scan driver: %w", err)
		}
		drivers = append(drivers, d)
	}
	return drivers, rows.Err()
}
