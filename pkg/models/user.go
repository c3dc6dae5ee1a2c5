package models

import (
	"time"

	"github.com/google/uuid"
)

// Role distinguishes rider and driver identities at the socket/REST
// authorization boundary.
type Role string

const (
	RoleRider  Role = "rider"
	RoleDriver Role = "driver"
	RoleAdmin  Role = "admin"
)

// User is the rider identity + wallet record (spec §3).
type User struct {
	ID            uuid.UUID `json:"id" db:"id"`
	SocketID      *string   `json:"-" db:"socket_id"`
	WalletBalance float64   `json:"walletBalance" db:"wallet_balance"`
	ReferralCode  *string   `json:"referralCode,omitempty" db:"referral_code"`
	ReferredBy    *string   `json:"referredBy,omitempty" db:"referred_by"`
	CreatedAt     time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt     time.Time `json:"updatedAt" db:"updated_at"`
}
