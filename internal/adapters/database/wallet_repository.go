package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lootcouncil/raidpot/internal/domain/ledger"
)

// PostgresWalletRepository implements ledger.Repository using pgx.
// Every mutation is a single conditional UPDATE, so two simultaneous
// operations on the same user serialize at the row and never interleave.
type PostgresWalletRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresWalletRepository creates a new PostgreSQL wallet repository
func NewPostgresWalletRepository(pool *pgxpool.Pool) *PostgresWalletRepository {
	return &PostgresWalletRepository{pool: pool}
}

const walletColumns = "user_id, balance, locked_amount, created_at, updated_at"

// GetWallet retrieves a wallet, creating it with a zero balance if absent
func (r *PostgresWalletRepository) GetWallet(ctx context.Context, userID uuid.UUID) (*ledger.Wallet, error) {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO wallets (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure wallet: %w", err)
	}

	row := r.pool.QueryRow(ctx,
		`SELECT `+walletColumns+` FROM wallets WHERE user_id = $1`, userID)
	return scanWallet(row)
}

// Reserve locks amount against the user's available balance
func (r *PostgresWalletRepository) Reserve(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int64) (*ledger.Wallet, error) {
	if amount <= 0 {
		return nil, ledger.ErrInvalidAmount
	}

	// Wallets are created lazily; a missing row means a zero balance
	if _, err := tx.Exec(ctx,
		`INSERT INTO wallets (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, userID); err != nil {
		return nil, fmt.Errorf("failed to ensure wallet: %w", err)
	}

	row := tx.QueryRow(ctx, `
		UPDATE wallets
		SET locked_amount = locked_amount + $2, updated_at = NOW()
		WHERE user_id = $1 AND balance - locked_amount >= $2
		RETURNING `+walletColumns,
		userID, amount)

	wallet, err := scanWallet(row)
	if err == pgx.ErrNoRows {
		return nil, ledger.ErrInsufficientBalance
	}
	return wallet, err
}

// Release unlocks a previously reserved amount, floored at zero
func (r *PostgresWalletRepository) Release(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int64) (*ledger.Wallet, error) {
	if amount <= 0 {
		return nil, ledger.ErrInvalidAmount
	}

	row := tx.QueryRow(ctx, `
		UPDATE wallets
		SET locked_amount = GREATEST(locked_amount - $2, 0), updated_at = NOW()
		WHERE user_id = $1
		RETURNING `+walletColumns,
		userID, amount)

	wallet, err := scanWallet(row)
	if err == pgx.ErrNoRows {
		return nil, ledger.ErrWalletNotFound
	}
	return wallet, err
}

// Settle deducts a reserved amount from both balance and locked amount.
// Settling more than is locked is an invariant violation, not a rejection.
func (r *PostgresWalletRepository) Settle(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int64) (*ledger.Wallet, error) {
	if amount <= 0 {
		return nil, ledger.ErrInvalidAmount
	}

	row := tx.QueryRow(ctx, `
		UPDATE wallets
		SET balance = balance - $2, locked_amount = locked_amount - $2, updated_at = NOW()
		WHERE user_id = $1 AND locked_amount >= $2 AND balance >= $2
		RETURNING `+walletColumns,
		userID, amount)

	wallet, err := scanWallet(row)
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("settle %d for user %s: %w", amount, userID, ledger.ErrLedgerInconsistent)
	}
	return wallet, err
}

// Credit adds amount to the user's balance, creating the wallet if absent
func (r *PostgresWalletRepository) Credit(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int64) (*ledger.Wallet, error) {
	if amount <= 0 {
		return nil, ledger.ErrInvalidAmount
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO wallets (user_id, balance)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE
		SET balance = wallets.balance + EXCLUDED.balance, updated_at = NOW()
		RETURNING `+walletColumns,
		userID, amount)

	return scanWallet(row)
}

func scanWallet(row pgx.Row) (*ledger.Wallet, error) {
	var w ledger.Wallet
	err := row.Scan(&w.UserID, &w.Balance, &w.LockedAmount, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan wallet: %w", err)
	}
	return &w, nil
}
