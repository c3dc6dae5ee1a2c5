package models

import (
	"time"

	"github.com/google/uuid"
)

// PayoutStatus tracks a batched driver disbursement (spec §3).
type PayoutStatus string

const (
	PayoutStatusPending    PayoutStatus = "PENDING"
	PayoutStatusProcessing PayoutStatus = "PROCESSING"
	PayoutStatusCompleted  PayoutStatus = "COMPLETED"
	PayoutStatusFailed     PayoutStatus = "FAILED"
	PayoutStatusCancelled  PayoutStatus = "CANCELLED"
)

// Payout is a batched disbursement referencing a set of AdminEarnings
// rows. Invariant P1: no earning may be marked completed twice via
// overlapping payouts — enforced by the repository's guarded update on
// AdminEarnings.payout_id (claim-once semantics), not by this struct.
type Payout struct {
	ID             uuid.UUID    `json:"id" db:"id"`
	DriverID       uuid.UUID    `json:"driverId" db:"driver_id"`
	Amount         float64      `json:"amount" db:"amount"`
	Status         PayoutStatus `json:"status" db:"status"`
	RelatedEarnings []uuid.UUID `json:"relatedEarnings" db:"related_earnings"`
	CreatedAt      time.Time    `json:"createdAt" db:"created_at"`
	UpdatedAt      time.Time    `json:"updatedAt" db:"updated_at"`
}
