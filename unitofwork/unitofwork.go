// Package unitofwork groups staged repository writes into one transaction.
package unitofwork

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goliatone/attendance-core/internal/retry"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

var (
	// ErrTransactionAlreadyOpen is returned by BeginTransaction when a
	// transaction is already open.
	ErrTransactionAlreadyOpen = errors.New("unitofwork: transaction already open")

	// ErrNoTransaction is returned by SaveChanges outside a transaction when
	// the unit of work requires one.
	ErrNoTransaction = errors.New("unitofwork: no open transaction")
)

// StoreError wraps a failure reported by the store.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("unitofwork: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Operation is a staged write. It returns the number of affected rows.
type Operation = func(ctx context.Context, db bun.IDB) (int64, error)

// Tx is an open transaction. *bun.Tx satisfies it.
type Tx interface {
	bun.IDB
	Commit() error
	Rollback() error
}

// TxBeginner opens transactions.
type TxBeginner interface {
	Begin(ctx context.Context) (Tx, error)
}

// UnitOfWork stages writes and applies them atomically. It holds at most one
// transaction and is meant to live for a single request.
type UnitOfWork struct {
	db        bun.IDB
	beginner  TxBeginner
	requireTx bool
	policy    retry.Policy
	logger    *zap.Logger

	mu     sync.Mutex
	tx     Tx
	staged []Operation
	hooks  []func(ctx context.Context)
}

// Option configures a UnitOfWork.
type Option func(*UnitOfWork)

// WithRequireTransaction makes SaveChanges fail with ErrNoTransaction unless
// BeginTransaction was called.
func WithRequireTransaction() Option {
	return func(u *UnitOfWork) {
		u.requireTx = true
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(u *UnitOfWork) {
		if logger != nil {
			u.logger = logger
		}
	}
}

// WithRetryPolicy sets the policy for opening transactions and for implicit
// saves.
func WithRetryPolicy(p retry.Policy) Option {
	return func(u *UnitOfWork) {
		u.policy = p
	}
}

// New returns a UnitOfWork that reads through db outside transactions and
// opens transactions with beginner.
func New(db bun.IDB, beginner TxBeginner, opts ...Option) *UnitOfWork {
	u := &UnitOfWork{
		db:       db,
		beginner: beginner,
		policy:   retry.DefaultPolicy(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// IDB returns the open transaction, or the database outside one.
func (u *UnitOfWork) IDB() bun.IDB {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.tx != nil {
		return u.tx
	}
	return u.db
}

// InTransaction reports whether a transaction is open.
func (u *UnitOfWork) InTransaction() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.tx != nil
}

// Stage queues op until the next SaveChanges or CommitTransaction.
func (u *UnitOfWork) Stage(op Operation) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.staged = append(u.staged, op)
}

// AfterCommit registers fn to run after the staged writes are committed.
// Hooks are dropped on rollback.
func (u *UnitOfWork) AfterCommit(fn func(ctx context.Context)) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.hooks = append(u.hooks, fn)
}

// Pending returns the number of staged operations.
func (u *UnitOfWork) Pending() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.staged)
}

// BeginTransaction opens a transaction. Transient failures are retried.
func (u *UnitOfWork) BeginTransaction(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.tx != nil {
		return ErrTransactionAlreadyOpen
	}

	var tx Tx
	err := retry.Do(ctx, u.policy, func(ctx context.Context) error {
		var err error
		tx, err = u.beginner.Begin(ctx)
		return err
	}, u.logRetry("begin"))
	if err != nil {
		return u.storeError("begin", err)
	}

	u.tx = tx
	u.logger.Debug("unit of work: transaction started")
	return nil
}

// SaveChanges writes the staged operations in order and returns the number of
// affected rows. Inside a transaction a failure rolls the transaction back.
// Outside one the operations run in an implicit transaction that is retried
// as a whole on transient failures.
func (u *UnitOfWork) SaveChanges(ctx context.Context) (int64, error) {
	u.mu.Lock()

	if err := ctx.Err(); err != nil {
		u.abortLocked()
		u.mu.Unlock()
		return 0, err
	}

	if u.tx != nil {
		n, err := u.flushLocked(ctx, u.tx)
		if err != nil {
			u.abortLocked()
			u.mu.Unlock()
			return 0, u.storeError("save", err)
		}
		u.mu.Unlock()
		return n, nil
	}

	if u.requireTx {
		u.mu.Unlock()
		return 0, ErrNoTransaction
	}

	ops, hooks := u.staged, u.hooks
	u.staged, u.hooks = nil, nil
	u.mu.Unlock()

	if len(ops) == 0 {
		u.runHooks(ctx, hooks)
		return 0, nil
	}

	var affected int64
	err := retry.Do(ctx, u.policy, func(ctx context.Context) error {
		tx, err := u.beginner.Begin(ctx)
		if err != nil {
			return err
		}
		n, err := apply(ctx, tx, ops)
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				u.logger.Error("unit of work: rollback failed", zap.Error(rbErr))
			}
			return err
		}
		if err := tx.Commit(); err != nil {
			// The outcome of a failed commit is unknown; replaying it could
			// apply the writes twice.
			return retry.Permanent(err)
		}
		affected = n
		return nil
	}, u.logRetry("save"))
	if err != nil {
		return 0, u.storeError("save", err)
	}

	u.runHooks(ctx, hooks)
	return affected, nil
}

// CommitTransaction writes any staged operations, commits and runs the after
// commit hooks. Without an open transaction it does nothing. A canceled ctx
// rolls the transaction back, including work already flushed by SaveChanges.
func (u *UnitOfWork) CommitTransaction(ctx context.Context) error {
	u.mu.Lock()

	if u.tx == nil {
		u.mu.Unlock()
		return nil
	}

	if err := ctx.Err(); err != nil {
		u.abortLocked()
		u.mu.Unlock()
		return err
	}

	if len(u.staged) > 0 {
		if _, err := u.flushLocked(ctx, u.tx); err != nil {
			u.abortLocked()
			u.mu.Unlock()
			return u.storeError("save", err)
		}
	}

	tx, hooks := u.tx, u.hooks
	u.tx, u.hooks = nil, nil
	u.mu.Unlock()

	if err := tx.Commit(); err != nil {
		return u.storeError("commit", err)
	}
	u.logger.Debug("unit of work: transaction committed")

	u.runHooks(ctx, hooks)
	return nil
}

// RollbackTransaction discards staged operations and rolls back the open
// transaction. Without an open transaction it only discards.
func (u *UnitOfWork) RollbackTransaction(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.staged, u.hooks = nil, nil
	if u.tx == nil {
		return nil
	}

	tx := u.tx
	u.tx = nil
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return u.storeError("rollback", err)
	}
	u.logger.Debug("unit of work: transaction rolled back")
	return nil
}

// Close rolls back a transaction left open and discards staged operations.
func (u *UnitOfWork) Close() error {
	return u.RollbackTransaction(context.Background())
}

// Do runs fn in a transaction and commits when it returns nil. The
// transaction is rolled back if fn fails or panics.
func (u *UnitOfWork) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := u.BeginTransaction(ctx); err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = u.RollbackTransaction(ctx)
			panic(p)
		}
	}()

	if err := fn(ctx); err != nil {
		if rbErr := u.RollbackTransaction(ctx); rbErr != nil {
			u.logger.Error("unit of work: rollback failed", zap.Error(rbErr))
		}
		return err
	}
	return u.CommitTransaction(ctx)
}

// flushLocked runs and clears the staged operations.
func (u *UnitOfWork) flushLocked(ctx context.Context, db bun.IDB) (int64, error) {
	ops := u.staged
	u.staged = nil
	return apply(ctx, db, ops)
}

// abortLocked rolls back the open transaction and drops all pending work.
func (u *UnitOfWork) abortLocked() {
	u.staged, u.hooks = nil, nil
	if u.tx == nil {
		return
	}
	if err := u.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		u.logger.Error("unit of work: rollback failed", zap.Error(err))
	}
	u.tx = nil
}

func (u *UnitOfWork) runHooks(ctx context.Context, hooks []func(ctx context.Context)) {
	if len(hooks) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, hook := range hooks {
		hook(ctx)
	}
}

func (u *UnitOfWork) storeError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	u.logger.Error("unit of work: store failure", zap.String("op", op), zap.Error(err))
	return &StoreError{Op: op, Err: err}
}

func (u *UnitOfWork) logRetry(op string) retry.Notify {
	return func(err error, attempt int, next time.Duration) {
		u.logger.Warn("unit of work: retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", next),
			zap.Error(err),
		)
	}
}

func apply(ctx context.Context, db bun.IDB, ops []Operation) (int64, error) {
	var total int64
	for _, op := range ops {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		n, err := op(ctx, db)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}
