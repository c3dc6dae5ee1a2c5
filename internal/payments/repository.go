package payments

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ridecore/dispatch/pkg/models"
)

// Repository persists wallets and their transaction ledger (spec §3
// invariants W1-W3).
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new payments repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// GetOrCreateWallet fetches userID's wallet, creating a zero-balance one
// on first use.
func (r *Repository) GetOrCreateWallet(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	wallet := &models.Wallet{}
	err := r.db.QueryRow(ctx,
		`SELECT id, user_id, balance, currency, created_at, updated_at FROM wallets WHERE user_id = $1`,
		userID,
	).Scan(&wallet.ID, &wallet.UserID, &wallet.Balance, &wallet.Currency, &wallet.CreatedAt, &wallet.UpdatedAt)
	if err == nil {
		return wallet, nil
	}
	if err != pgx.ErrNoRows {
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}

	wallet = &models.Wallet{ID: uuid.New(), UserID: userID, Balance: 0, Currency: "usd"}
	err = r.db.QueryRow(ctx,
		`INSERT INTO wallets (id, user_id, balance, currency) VALUES ($1,$2,$3,$4)
		 ON CONFLICT (user_id) DO UPDATE SET user_id = wallets.user_id
		 RETURNING id, balance, currency, created_at, updated_at`,
		wallet.ID, wallet.UserID, wallet.Balance, wallet.Currency,
	).Scan(&wallet.ID, &wallet.Balance, &wallet.Currency, &wallet.CreatedAt, &wallet.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create wallet: %w", err)
	}
	return wallet, nil
}

// HasHybridRidePayment reports whether a RIDE_PAYMENT transaction with
// metadata.hybridPayment=true already exists for rideID (invariant W3:
// "at most one RIDE_PAYMENT per rideId with hybridPayment=true").
func (r *Repository) HasHybridRidePayment(ctx context.Context, rideID uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS(
			SELECT 1 FROM wallet_transactions
			WHERE ride_id = $1 AND type = $2 AND hybrid_payment = true
		)`,
		rideID, models.WalletTxRidePayment,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check existing hybrid payment: %w", err)
	}
	return exists, nil
}

// ApplyTransaction atomically debits/credits the wallet backing tx.UserID
// by tx.Amount (sign per tx.Type, invariant W1) and appends the ledger
// row, locking the wallet row for the duration so two concurrent
// reconciliations for the same user can never race past each other's
// balance read (invariant W2: balanceAfter reflects the latest
// transaction for that user).
func (r *Repository) ApplyTransaction(ctx context.Context, tx *models.WalletTransaction) error {
	dbTx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin wallet transaction: %w", err)
	}
	defer dbTx.Rollback(ctx)

	var walletID uuid.UUID
	var balance float64
	err = dbTx.QueryRow(ctx,
		`SELECT id, balance FROM wallets WHERE user_id = $1 FOR UPDATE`,
		tx.UserID,
	).Scan(&walletID, &balance)
	if err != nil {
		return fmt.Errorf("failed to lock wallet: %w", err)
	}

	tx.BalanceBefore = balance
	tx.BalanceAfter = tx.Type.ExpectedBalanceAfter(balance, tx.Amount)
	if tx.BalanceAfter < 0 {
		return fmt.Errorf("payments: wallet transaction would drive balance negative (before=%.2f amount=%.2f type=%s)",
			tx.BalanceBefore, tx.Amount, tx.Type)
	}
	tx.Status = models.WalletTxStatusCompleted

	_, err = dbTx.Exec(ctx, `UPDATE wallets SET balance = $1, updated_at = now() WHERE id = $2`, tx.BalanceAfter, walletID)
	if err != nil {
		return fmt.Errorf("failed to update wallet balance: %w", err)
	}

	_, err = dbTx.Exec(ctx,
		`INSERT INTO wallet_transactions (
			id, user_id, type, amount, balance_before, balance_after, status,
			ride_id, hybrid_payment, description, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10, now())`,
		tx.ID, tx.UserID, tx.Type, tx.Amount, tx.BalanceBefore, tx.BalanceAfter, tx.Status,
		tx.RideID, tx.HybridPayment, tx.Description,
	)
	if err != nil {
		return fmt.Errorf("failed to record wallet transaction: %w", err)
	}

	if err := dbTx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit wallet transaction: %w", err)
	}
	return nil
}

// GetTransactions lists a user's wallet ledger, most recent first.
func (r *Repository) GetTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.WalletTransaction, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, user_id, type, amount, balance_before, balance_after, status,
			ride_id, hybrid_payment, description, created_at
		 FROM wallet_transactions WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list wallet transactions: %w", err)
	}
	defer rows.Close()

	var out []*models.WalletTransaction
	for rows.Next() {
		tx := &models.WalletTransaction{}
		if err := rows.Scan(&tx.ID, &tx.UserID, &tx.Type, &tx.Amount, &tx.BalanceBefore, &tx.BalanceAfter,
			&tx.Status, &tx.RideID, &tx.HybridPayment, &tx.Description, &tx.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan wallet transaction: %w", err)
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}
