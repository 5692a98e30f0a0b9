package testsupport

import (
	"context"
	"database/sql"
	"sync"

	"github.com/goliatone/attendance-core/unitofwork"
	"github.com/uptrace/bun"
)

// MemoryDB is a unitofwork.TxBeginner handing out MemoryTx values. It also
// stands in for the bun.IDB used outside transactions; only the identity of
// the handle matters to MemoryStore, so calling a query method panics.
type MemoryDB struct {
	bun.IDB

	mu         sync.Mutex
	beginErrs  []error
	commitErrs []error
	begins     int
	commits    int
	rollbacks  int
}

// NewMemoryDB returns a ready MemoryDB.
func NewMemoryDB() *MemoryDB {
	return &MemoryDB{}
}

// FailBegin queues errors returned by the next Begin calls, in order.
func (d *MemoryDB) FailBegin(errs ...error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.beginErrs = append(d.beginErrs, errs...)
}

// FailCommit queues errors returned by the next Commit calls, in order.
func (d *MemoryDB) FailCommit(errs ...error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.commitErrs = append(d.commitErrs, errs...)
}

// Begins returns the number of Begin calls, failed ones included.
func (d *MemoryDB) Begins() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.begins
}

// Commits returns the number of successful commits.
func (d *MemoryDB) Commits() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.commits
}

// Rollbacks returns the number of rollbacks.
func (d *MemoryDB) Rollbacks() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rollbacks
}

// Begin opens a MemoryTx.
func (d *MemoryDB) Begin(ctx context.Context) (unitofwork.Tx, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.begins++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(d.beginErrs) > 0 {
		err := d.beginErrs[0]
		d.beginErrs = d.beginErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &MemoryTx{db: d}, nil
}

func (d *MemoryDB) nextCommitErr() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.commitErrs) == 0 {
		d.commits++
		return nil
	}
	err := d.commitErrs[0]
	d.commitErrs = d.commitErrs[1:]
	if err == nil {
		d.commits++
	}
	return err
}

func (d *MemoryDB) countRollback() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rollbacks++
}

// MemoryTx is a transaction over MemoryStore writes. Writes are applied
// immediately and undone on rollback or failed commit.
type MemoryTx struct {
	bun.IDB

	db   *MemoryDB
	mu   sync.Mutex
	undo []func()
	done bool
}

func (tx *MemoryTx) journal(fn func()) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.undo = append(tx.undo, fn)
}

// Commit makes the writes permanent unless a commit failure was queued, in
// which case they are undone.
func (tx *MemoryTx) Commit() error {
	undo, err := tx.finish()
	if err != nil {
		return err
	}
	if err := tx.db.nextCommitErr(); err != nil {
		runUndo(undo)
		return err
	}
	return nil
}

// Rollback undoes every write made through the transaction.
func (tx *MemoryTx) Rollback() error {
	undo, err := tx.finish()
	if err != nil {
		return err
	}
	tx.db.countRollback()
	runUndo(undo)
	return nil
}

func (tx *MemoryTx) finish() ([]func(), error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return nil, sql.ErrTxDone
	}
	tx.done = true
	undo := tx.undo
	tx.undo = nil
	return undo, nil
}

func runUndo(undo []func()) {
	for i := len(undo) - 1; i >= 0; i-- {
		undo[i]()
	}
}
