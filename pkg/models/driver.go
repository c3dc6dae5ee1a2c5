package models

import (
	"time"

	"github.com/google/uuid"
)

// VehicleInfo describes the vehicle a driver operates.
type VehicleInfo struct {
	Make         string `json:"make,omitempty" db:"-"`
	Model        string `json:"model,omitempty" db:"-"`
	PlateNumber  string `json:"plateNumber,omitempty" db:"-"`
	Color        string `json:"color,omitempty" db:"-"`
}

// BankAccount is the payout destination for a driver's earnings.
type BankAccount struct {
	AccountHolder string `json:"accountHolder,omitempty"`
	AccountNumber string `json:"accountNumber,omitempty"`
	RoutingNumber string `json:"routingNumber,omitempty"`
}

// Driver is the presence + capability record (spec §3).
type Driver struct {
	ID uuid.UUID `json:"id" db:"id"`

	Location GeoPoint `json:"location" db:"-"`
	Lng      float64  `json:"-" db:"lng"`
	Lat      float64  `json:"-" db:"lat"`

	IsOnline  bool       `json:"isOnline" db:"is_online"`
	IsActive  bool       `json:"isActive" db:"is_active"`
	IsBusy    bool       `json:"isBusy" db:"is_busy"`
	BusyUntil *time.Time `json:"busyUntil,omitempty" db:"busy_until"`

	SocketID *string   `json:"-" db:"socket_id"`
	LastSeen time.Time `json:"lastSeen" db:"last_seen"`

	Rating float64 `json:"rating" db:"rating"`

	VehicleInfo VehicleInfo  `json:"vehicleInfo" db:"-"`
	BankAccount *BankAccount `json:"-" db:"-"`

	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// IsEligibleForDispatch implements the matcher candidate predicate's
// driver-side half (spec §4.1 step 3): online, active, not busy, and
// holding a live socket. A driver with an empty socketId is never
// eligible even while isOnline (invariant D2).
func (d *Driver) IsEligibleForDispatch() bool {
	return d.IsOnline && d.IsActive && !d.IsBusy && d.SocketID != nil && *d.SocketID != ""
}

// PresenceSnapshot is the hot-cache shape stored under driver:{id} with a
// 60s TTL (spec §4.6, §6 persistence keys).
type PresenceSnapshot struct {
	DriverID uuid.UUID `json:"driverId"`
	SocketID string    `json:"socketId"`
	IsOnline bool      `json:"isOnline"`
	IsActive bool      `json:"isActive"`
	LastSeen time.Time `json:"lastSeen"`
	Lng      float64   `json:"lng"`
	Lat      float64   `json:"lat"`
}

// DriverLocationUpdate is the inbound payload for driverLocationUpdate.
type DriverLocationUpdate struct {
	Location GeoPoint   `json:"location" binding:"required"`
	RideID   *uuid.UUID `json:"rideId,omitempty"`
}
