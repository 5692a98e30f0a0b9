package unitofwork_test

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/attendance-core/internal/retry"
	"github.com/goliatone/attendance-core/pkg/testsupport"
	"github.com/goliatone/attendance-core/unitofwork"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

type row struct {
	ID uuid.UUID
}

func (r row) GetID() uuid.UUID { return r.ID }

func fastRetry() retry.Policy {
	p := retry.DefaultPolicy()
	p.InitialInterval = time.Millisecond
	p.MaxInterval = time.Millisecond
	return p
}

func setup(opts ...unitofwork.Option) (*unitofwork.UnitOfWork, *testsupport.MemoryDB, *testsupport.MemoryStore[row]) {
	db := testsupport.NewMemoryDB()
	opts = append([]unitofwork.Option{unitofwork.WithRetryPolicy(fastRetry())}, opts...)
	return unitofwork.New(db, db, opts...), db, testsupport.NewMemoryStore[row]()
}

func insert(store *testsupport.MemoryStore[row], r row) unitofwork.Operation {
	return func(ctx context.Context, db bun.IDB) (int64, error) {
		return store.Insert(ctx, db, r)
	}
}

func TestBeginTransaction_Twice(t *testing.T) {
	uow, db, _ := setup()
	ctx := context.Background()

	require.NoError(t, uow.BeginTransaction(ctx))
	assert.True(t, uow.InTransaction())
	assert.ErrorIs(t, uow.BeginTransaction(ctx), unitofwork.ErrTransactionAlreadyOpen)
	assert.Equal(t, 1, db.Begins())
}

func TestBeginTransaction_RetriesTransientFailures(t *testing.T) {
	uow, db, _ := setup()
	db.FailBegin(driver.ErrBadConn, driver.ErrBadConn)

	require.NoError(t, uow.BeginTransaction(context.Background()))
	assert.Equal(t, 3, db.Begins())
}

func TestBeginTransaction_PermanentFailure(t *testing.T) {
	uow, db, _ := setup()
	boom := errors.New("too many clients")
	db.FailBegin(boom)

	err := uow.BeginTransaction(context.Background())

	var storeErr *unitofwork.StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "begin", storeErr.Op)
	assert.ErrorIs(t, err, boom)
	assert.False(t, uow.InTransaction())
}

func TestCommit_IsAtomic(t *testing.T) {
	uow, db, store := setup()
	ctx := context.Background()

	require.NoError(t, uow.BeginTransaction(ctx))
	uow.Stage(insert(store, row{ID: uuid.New()}))
	uow.Stage(insert(store, row{ID: uuid.New()}))

	n, err := uow.SaveChanges(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	require.NoError(t, uow.CommitTransaction(ctx))
	assert.False(t, uow.InTransaction())
	assert.Equal(t, 2, store.Len())
	assert.Equal(t, 1, db.Commits())
}

func TestRollback_DiscardsEverything(t *testing.T) {
	uow, db, store := setup()
	ctx := context.Background()

	require.NoError(t, uow.BeginTransaction(ctx))
	uow.Stage(insert(store, row{ID: uuid.New()}))
	_, err := uow.SaveChanges(ctx)
	require.NoError(t, err)
	uow.Stage(insert(store, row{ID: uuid.New()}))

	hookRan := false
	uow.AfterCommit(func(context.Context) { hookRan = true })

	require.NoError(t, uow.RollbackTransaction(ctx))
	assert.Equal(t, 0, store.Len())
	assert.Equal(t, 0, uow.Pending())
	assert.Equal(t, 1, db.Rollbacks())

	require.NoError(t, uow.CommitTransaction(ctx))
	assert.False(t, hookRan, "hooks of a rolled back unit must not run")
}

func TestCommitAndRollback_AreIdempotent(t *testing.T) {
	uow, db, _ := setup()
	ctx := context.Background()

	require.NoError(t, uow.CommitTransaction(ctx))
	require.NoError(t, uow.RollbackTransaction(ctx))

	require.NoError(t, uow.BeginTransaction(ctx))
	require.NoError(t, uow.CommitTransaction(ctx))
	require.NoError(t, uow.CommitTransaction(ctx))
	require.NoError(t, uow.RollbackTransaction(ctx))
	assert.Equal(t, 1, db.Commits())
	assert.Equal(t, 0, db.Rollbacks())
}

func TestCommit_FlushesPendingOperations(t *testing.T) {
	uow, _, store := setup()
	ctx := context.Background()

	require.NoError(t, uow.BeginTransaction(ctx))
	uow.Stage(insert(store, row{ID: uuid.New()}))
	require.NoError(t, uow.CommitTransaction(ctx))

	assert.Equal(t, 1, store.Len())
}

func TestCommit_RunsHooksAfterCommit(t *testing.T) {
	uow, db, _ := setup()
	ctx, cancel := context.WithCancel(context.Background())

	var commitsSeen int
	var hookCtxErr error
	uow.AfterCommit(func(ctx context.Context) {
		commitsSeen = db.Commits()
		hookCtxErr = ctx.Err()
	})

	require.NoError(t, uow.BeginTransaction(ctx))
	require.NoError(t, uow.CommitTransaction(ctx))
	cancel()

	assert.Equal(t, 1, commitsSeen)
	assert.NoError(t, hookCtxErr)
}

func TestSaveChanges_StoreFailureRollsBack(t *testing.T) {
	uow, db, store := setup()
	ctx := context.Background()
	boom := errors.New("check constraint")

	require.NoError(t, uow.BeginTransaction(ctx))
	uow.Stage(insert(store, row{ID: uuid.New()}))
	store.FailNext("insert", nil)
	uow.Stage(insert(store, row{ID: uuid.New()}))
	store.FailNext("insert", boom)

	_, err := uow.SaveChanges(ctx)

	var storeErr *unitofwork.StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.ErrorIs(t, err, boom)
	assert.False(t, uow.InTransaction())
	assert.Equal(t, 0, store.Len(), "first insert must be undone")
	assert.Equal(t, 1, db.Rollbacks())
}

func TestSaveChanges_RequireTransaction(t *testing.T) {
	uow, _, store := setup(unitofwork.WithRequireTransaction())
	uow.Stage(insert(store, row{ID: uuid.New()}))

	_, err := uow.SaveChanges(context.Background())
	assert.ErrorIs(t, err, unitofwork.ErrNoTransaction)
	assert.Equal(t, 0, store.Len())
}

func TestSaveChanges_ImplicitTransaction(t *testing.T) {
	uow, db, store := setup()
	ctx := context.Background()

	hookRan := false
	uow.Stage(insert(store, row{ID: uuid.New()}))
	uow.AfterCommit(func(context.Context) { hookRan = true })

	n, err := uow.SaveChanges(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Equal(t, 1, db.Commits())
	assert.True(t, hookRan)
	assert.False(t, uow.InTransaction())
}

func TestSaveChanges_ImplicitTransactionRetried(t *testing.T) {
	uow, db, store := setup()
	ctx := context.Background()

	id := uuid.New()
	uow.Stage(insert(store, row{ID: id}))
	store.FailNext("insert", driver.ErrBadConn)

	n, err := uow.SaveChanges(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Equal(t, 2, db.Begins())
	assert.Equal(t, 1, store.Len())
}

func TestSaveChanges_CommitFailureIsNotRetried(t *testing.T) {
	uow, db, store := setup()
	uow.Stage(insert(store, row{ID: uuid.New()}))
	db.FailCommit(driver.ErrBadConn)

	_, err := uow.SaveChanges(context.Background())

	require.ErrorIs(t, err, driver.ErrBadConn)
	assert.Equal(t, 1, db.Begins())
	assert.Equal(t, 0, store.Len())
}

func TestSaveChanges_CanceledContext(t *testing.T) {
	uow, db, store := setup()
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, uow.BeginTransaction(ctx))
	uow.Stage(insert(store, row{ID: uuid.New()}))
	cancel()

	_, err := uow.SaveChanges(ctx)
	require.ErrorIs(t, err, context.Canceled)

	var storeErr *unitofwork.StoreError
	assert.False(t, errors.As(err, &storeErr), "cancellation must surface unwrapped")
	assert.Equal(t, 0, uow.Pending())
	assert.False(t, uow.InTransaction())
	assert.Equal(t, 1, db.Rollbacks())
}

func TestCommit_CanceledContextRollsBackFlushedWork(t *testing.T) {
	uow, db, store := setup()
	ctx := context.Background()

	require.NoError(t, uow.BeginTransaction(ctx))
	uow.Stage(insert(store, row{ID: uuid.New()}))
	_, err := uow.SaveChanges(ctx)
	require.NoError(t, err)

	hookRan := false
	uow.AfterCommit(func(context.Context) { hookRan = true })

	canceled, cancel := context.WithCancel(ctx)
	cancel()

	err = uow.CommitTransaction(canceled)
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, uow.InTransaction())
	assert.Equal(t, 0, db.Commits())
	assert.Equal(t, 1, db.Rollbacks())
	assert.Equal(t, 0, store.Len())
	assert.False(t, hookRan)
}

func TestClose_RollsBackOpenTransaction(t *testing.T) {
	uow, db, store := setup()
	ctx := context.Background()

	require.NoError(t, uow.BeginTransaction(ctx))
	uow.Stage(insert(store, row{ID: uuid.New()}))
	_, err := uow.SaveChanges(ctx)
	require.NoError(t, err)

	require.NoError(t, uow.Close())
	assert.Equal(t, 0, store.Len())
	assert.Equal(t, 1, db.Rollbacks())
	require.NoError(t, uow.Close())
}

func TestDo(t *testing.T) {
	t.Run("commits on success", func(t *testing.T) {
		uow, db, store := setup()
		err := uow.Do(context.Background(), func(ctx context.Context) error {
			uow.Stage(insert(store, row{ID: uuid.New()}))
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 1, store.Len())
		assert.Equal(t, 1, db.Commits())
	})

	t.Run("rolls back on error", func(t *testing.T) {
		uow, db, store := setup()
		boom := errors.New("validation failed")
		err := uow.Do(context.Background(), func(ctx context.Context) error {
			uow.Stage(insert(store, row{ID: uuid.New()}))
			_, err := uow.SaveChanges(ctx)
			require.NoError(t, err)
			return boom
		})
		assert.Same(t, boom, err)
		assert.Equal(t, 0, store.Len())
		assert.Equal(t, 1, db.Rollbacks())
	})

	t.Run("rolls back on panic", func(t *testing.T) {
		uow, db, _ := setup()
		assert.Panics(t, func() {
			_ = uow.Do(context.Background(), func(context.Context) error {
				panic("boom")
			})
		})
		assert.False(t, uow.InTransaction())
		assert.Equal(t, 1, db.Rollbacks())
	})
}

func TestIDB(t *testing.T) {
	uow, db, _ := setup()
	ctx := context.Background()

	assert.Same(t, db, uow.IDB())
	require.NoError(t, uow.BeginTransaction(ctx))
	_, isTx := uow.IDB().(*testsupport.MemoryTx)
	assert.True(t, isTx)
}
