package models

import (
	"time"

	"github.com/google/uuid"
)

// EarningsPaymentStatus tracks an AdminEarnings row through the payout
// pipeline; distinct from RidePaymentStatus and WalletTransactionStatus.
type EarningsPaymentStatus string

const (
	EarningsStatusPending   EarningsPaymentStatus = "pending"
	EarningsStatusCompleted EarningsPaymentStatus = "completed"
	EarningsStatusFailed    EarningsPaymentStatus = "failed"
	EarningsStatusRefunded  EarningsPaymentStatus = "refunded"
)

// AdminEarnings is the one-row-per-completed-ride financial record the
// Finalizer writes (spec §3, invariants E1–E3).
type AdminEarnings struct {
	ID            uuid.UUID             `json:"id" db:"id"`
	RideID        uuid.UUID             `json:"rideId" db:"ride_id"`
	DriverID      uuid.UUID             `json:"driverId" db:"driver_id"`
	RiderID       uuid.UUID             `json:"riderId" db:"rider_id"`
	GrossFare     float64               `json:"grossFare" db:"gross_fare"`
	PlatformFee   float64               `json:"platformFee" db:"platform_fee"`
	DriverEarning float64               `json:"driverEarning" db:"driver_earning"`
	RideDate      time.Time             `json:"rideDate" db:"ride_date"`
	PaymentStatus EarningsPaymentStatus `json:"paymentStatus" db:"payment_status"`
	PayoutID      *uuid.UUID            `json:"payoutId,omitempty" db:"payout_id"`
	CreatedAt     time.Time             `json:"createdAt" db:"created_at"`
	UpdatedAt     time.Time             `json:"updatedAt" db:"updated_at"`
}

// SplitBalances reports whether gross equals platform fee plus driver
// earning within the two-decimal tolerance fixed by invariant E1.
func (e *AdminEarnings) SplitBalances() bool {
	diff := e.GrossFare - (e.PlatformFee + e.DriverEarning)
	if diff < 0 {
		diff = -diff
	}
	return diff <= 0.01
}

// FareInputs are the truth inputs the Finalizer recomputes the
// authoritative fare from (spec §4.7 step 1). Surge/pricing multiplier is
// carried as an optional field rather than a dedicated component, since
// fare-pricing-rule authoring is out of scope (spec §1 Non-goals) and the
// core only ever consumes a pre-approved multiplier.
type FareInputs struct {
	BaseFare        float64  `json:"baseFare"`
	DistanceFare    float64  `json:"distanceFare"`
	TimeFare        float64  `json:"timeFare"`
	Discount        float64  `json:"discount"`
	MinimumFare     float64  `json:"minimumFare"`
	SurgeMultiplier *float64 `json:"surgeMultiplier,omitempty"`
}

// Recompute applies the §4.7 step-1 formula: sum the components, apply an
// optional surge multiplier, subtract the discount, then floor at the
// minimum fare.
func (f FareInputs) Recompute() float64 {
	fare := f.BaseFare + f.DistanceFare + f.TimeFare
	if f.SurgeMultiplier != nil && *f.SurgeMultiplier > 0 {
		fare *= *f.SurgeMultiplier
	}
	fare -= f.Discount
	if fare < f.MinimumFare {
		fare = f.MinimumFare
	}
	return round2(fare)
}

// FareInputs extracts the Ride's stored fare components into the shape
// Recompute expects.
func (r *Ride) FareInputs() FareInputs {
	return FareInputs{
		BaseFare:        r.BaseFare,
		DistanceFare:    r.DistanceFare,
		TimeFare:        r.TimeFare,
		Discount:        r.Discount,
		MinimumFare:     r.MinimumFare,
		SurgeMultiplier: r.SurgeMultiplier,
	}
}

func round2(v float64) float64 {
	if v < 0 {
		return -round2(-v)
	}
	return float64(int64(v*100+0.5)) / 100
}
