package models

import (
	"time"

	"github.com/google/uuid"
)

// WalletTransactionType enumerates the ways a rider's wallet balance
// moves (spec §3 WalletTransaction).
type WalletTransactionType string

const (
	WalletTxTopUp           WalletTransactionType = "TOP_UP"
	WalletTxRidePayment     WalletTransactionType = "RIDE_PAYMENT"
	WalletTxRefund          WalletTransactionType = "REFUND"
	WalletTxBonus           WalletTransactionType = "BONUS"
	WalletTxReferralReward  WalletTransactionType = "REFERRAL_REWARD"
	WalletTxWithdrawal      WalletTransactionType = "WITHDRAWAL"
	WalletTxAdminAdjustment WalletTransactionType = "ADMIN_ADJUSTMENT"
	WalletTxCancellationFee WalletTransactionType = "CANCELLATION_FEE"
)

// IsCredit reports whether a transaction type increases the wallet
// balance; the remaining types debit it (invariant W1).
func (t WalletTransactionType) IsCredit() bool {
	switch t {
	case WalletTxTopUp, WalletTxRefund, WalletTxBonus, WalletTxReferralReward:
		return true
	default:
		return false
	}
}

// WalletTransactionStatus tracks settlement of a ledger entry.
type WalletTransactionStatus string

const (
	WalletTxStatusPending   WalletTransactionStatus = "pending"
	WalletTxStatusCompleted WalletTransactionStatus = "completed"
	WalletTxStatusFailed    WalletTransactionStatus = "failed"
)

// Wallet is a rider's non-negative balance.
type Wallet struct {
	ID        uuid.UUID `json:"id" db:"id"`
	UserID    uuid.UUID `json:"user_id" db:"user_id"`
	Balance   float64   `json:"balance" db:"balance"`
	Currency  string    `json:"currency" db:"currency"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// WalletTransaction is the monotonic ledger entry backing the wallet
// balance (spec §3 invariants W1–W3).
type WalletTransaction struct {
	ID             uuid.UUID               `json:"id" db:"id"`
	UserID         uuid.UUID               `json:"user_id" db:"user_id"`
	Type           WalletTransactionType   `json:"type" db:"type"`
	Amount         float64                 `json:"amount" db:"amount"`
	BalanceBefore  float64                 `json:"balance_before" db:"balance_before"`
	BalanceAfter   float64                 `json:"balance_after" db:"balance_after"`
	Status         WalletTransactionStatus `json:"status" db:"status"`
	RideID         *uuid.UUID              `json:"ride_id,omitempty" db:"ride_id"`
	HybridPayment  bool                    `json:"hybrid_payment" db:"hybrid_payment"`
	Description    string                  `json:"description" db:"description"`
	CreatedAt      time.Time               `json:"created_at" db:"created_at"`
}

// ExpectedBalanceAfter computes the balance that should result from
// applying a transaction of this type and amount to balanceBefore,
// per the credit/debit sign dictated by Type (invariant W1).
func (t WalletTransactionType) ExpectedBalanceAfter(balanceBefore, amount float64) float64 {
	if t.IsCredit() {
		return balanceBefore + amount
	}
	return balanceBefore - amount
}

// GatewayPaymentStatus mirrors the status vocabulary returned by the
// opaque Gateway contract's fetchPayment() operation (spec §6).
type GatewayPaymentStatus string

const (
	GatewayPaymentCaptured   GatewayPaymentStatus = "captured"
	GatewayPaymentAuthorized GatewayPaymentStatus = "authorized"
	GatewayPaymentFailed     GatewayPaymentStatus = "failed"
)

// GatewayPayment is the Gateway's view of a captured/authorized payment,
// as returned by fetchPayment().
type GatewayPayment struct {
	ID               string               `json:"id"`
	Status           GatewayPaymentStatus `json:"status"`
	AmountMinorUnits  int64               `json:"amount_minor_units"`
	Notes            map[string]string    `json:"notes,omitempty"`
}
