package testhelpers

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Tx is an in-memory stand-in for a database transaction. It carries the row
// locks taken through it and releases them on commit or rollback, which is
// enough to reproduce FOR UPDATE serialization in unit tests.
type Tx struct {
	mu       sync.Mutex
	done     bool
	held     map[string]bool
	onFinish []func()
}

func newTx() *Tx {
	return &Tx{held: make(map[string]bool)}
}

// OnFinish registers a callback to run once when the transaction ends.
func (t *Tx) OnFinish(f func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onFinish = append(t.onFinish, f)
}

func (t *Tx) holds(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.held[key]
}

func (t *Tx) markHeld(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.held[key] = true
}

func (t *Tx) finish() {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return
	}
	t.done = true
	callbacks := t.onFinish
	t.onFinish = nil
	t.mu.Unlock()

	// Release in reverse acquisition order.
	for i := len(callbacks) - 1; i >= 0; i-- {
		callbacks[i]()
	}
}

func (t *Tx) Commit(ctx context.Context) error {
	t.finish()
	return nil
}

func (t *Tx) Rollback(ctx context.Context) error {
	t.finish()
	return nil
}

func (t *Tx) Begin(ctx context.Context) (pgx.Tx, error) {
	return t, nil
}

func (t *Tx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

func (t *Tx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	panic("testhelpers: raw Query not supported")
}

func (t *Tx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	panic("testhelpers: raw QueryRow not supported")
}

func (t *Tx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	panic("testhelpers: Prepare not supported")
}

func (t *Tx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	panic("testhelpers: SendBatch not supported")
}

func (t *Tx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	panic("testhelpers: CopyFrom not supported")
}

func (t *Tx) LargeObjects() pgx.LargeObjects {
	panic("testhelpers: LargeObjects not supported")
}

func (t *Tx) Conn() *pgx.Conn {
	return nil
}

// TxManager hands out in-memory transactions.
type TxManager struct{}

func NewTxManager() *TxManager {
	return &TxManager{}
}

func (m *TxManager) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return newTx(), nil
}

// Locks is a shared row-lock table keyed by entity. Acquire blocks until the
// key is free, exactly like a row lock held by another transaction.
type Locks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewLocks() *Locks {
	return &Locks{locks: make(map[string]*sync.Mutex)}
}

// Acquire takes the lock for key on behalf of tx and schedules its release
// when tx finishes. Re-acquiring a key already held by the same tx is a no-op.
// Transactions that are not *Tx (integration code paths) skip locking.
func (l *Locks) Acquire(tx pgx.Tx, key string) {
	ftx, ok := tx.(*Tx)
	if !ok {
		return
	}
	if ftx.holds(key) {
		return
	}

	l.mu.Lock()
	m, exists := l.locks[key]
	if !exists {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()

	m.Lock()
	ftx.markHeld(key)
	ftx.OnFinish(m.Unlock)
}
