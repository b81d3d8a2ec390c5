package ledger

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Repository defines the interface for wallet persistence.
//
// Each mutation is a single atomic statement: concurrent operations on the same
// user serialize at the row level and never interleave. Mutations take a
// transaction so callers can combine them with item/raid state changes into one
// atomic unit; each returns the wallet as it stands after the update.
type Repository interface {
	// GetWallet retrieves a wallet, creating it with a zero balance if absent
	GetWallet(ctx context.Context, userID uuid.UUID) (*Wallet, error)

	// Reserve locks amount against the user's available balance.
	// Fails with ErrInsufficientBalance if amount exceeds balance - locked.
	Reserve(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int64) (*Wallet, error)

	// Release unlocks a previously reserved amount (floored at zero)
	Release(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int64) (*Wallet, error)

	// Settle deducts amount from both balance and locked amount. The amount must
	// already be reserved; anything else is an internal consistency violation
	// reported as ErrLedgerInconsistent, which must abort the enclosing transaction.
	Settle(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int64) (*Wallet, error)

	// Credit adds amount to the user's balance, creating the wallet if absent
	Credit(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int64) (*Wallet, error)
}
