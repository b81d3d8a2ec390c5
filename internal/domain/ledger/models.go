package ledger

import (
	"time"

	"github.com/google/uuid"
)

// Wallet is a user's gold balance record. Balance and LockedAmount are in the
// smallest gold unit. LockedAmount never exceeds Balance.
type Wallet struct {
	UserID       uuid.UUID `db:"user_id"`
	Balance      int64     `db:"balance"`
	LockedAmount int64     `db:"locked_amount"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

// Available returns the spendable portion of the balance.
func (w *Wallet) Available() int64 {
	return w.Balance - w.LockedAmount
}
