package storeinfra

import (
	"context"
	"testing"

	"github.com/goliatone/attendance-core/repositorycache"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

// visitRepository implements the subset of repository.Repository used by
// RepositoryStore against a real bun connection. Calls to anything else
// panic on the nil embedded interface.
type visitRepository struct {
	repository.Repository[*visit]
	calls []string
}

func (r *visitRepository) ListTx(ctx context.Context, tx bun.IDB, criteria ...repository.SelectCriteria) ([]*visit, int, error) {
	r.calls = append(r.calls, "ListTx")
	var rows []*visit
	q := tx.NewSelect().Model(&rows)
	for _, c := range criteria {
		q = c(q)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, 0, err
	}
	return rows, len(rows), nil
}

func (r *visitRepository) CountTx(ctx context.Context, tx bun.IDB, criteria ...repository.SelectCriteria) (int, error) {
	r.calls = append(r.calls, "CountTx")
	q := tx.NewSelect().Model((*visit)(nil))
	for _, c := range criteria {
		q = c(q)
	}
	return q.Count(ctx)
}

func (r *visitRepository) CreateTx(ctx context.Context, tx bun.IDB, record *visit, _ ...repository.InsertCriteria) (*visit, error) {
	r.calls = append(r.calls, "CreateTx")
	_, err := tx.NewInsert().Model(record).Exec(ctx)
	return record, err
}

func (r *visitRepository) UpdateTx(ctx context.Context, tx bun.IDB, record *visit, criteria ...repository.UpdateCriteria) (*visit, error) {
	r.calls = append(r.calls, "UpdateTx")
	q := tx.NewUpdate().Model(record).WherePK()
	for _, c := range criteria {
		q = c(q)
	}
	_, err := q.Exec(ctx)
	return record, err
}

func (r *visitRepository) DeleteWhereTx(ctx context.Context, tx bun.IDB, criteria ...repository.DeleteCriteria) error {
	r.calls = append(r.calls, "DeleteWhereTx")
	q := tx.NewDelete().Model((*visit)(nil))
	for _, c := range criteria {
		q = c(q)
	}
	_, err := q.Exec(ctx)
	return err
}

func TestRepositoryStore_RoundTrip(t *testing.T) {
	db := openTestDB(t)
	repo := &visitRepository{}
	store := NewRepositoryStore[*visit](repo)
	ctx := context.Background()

	a1 := &visit{ID: uuid.New(), TenantID: tenantA, Note: "a1"}
	b1 := &visit{ID: uuid.New(), TenantID: tenantB, Note: "b1"}
	for _, v := range []*visit{a1, b1} {
		n, err := store.Insert(ctx, db, v)
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)
	}

	rows, err := store.Select(ctx, db, repositorycache.Query{TenantID: tenantA})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, a1.ID, rows[0].ID)

	rows, err = store.Select(ctx, db, repositorycache.Query{Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	rows, err = store.Select(ctx, db, repositorycache.Query{ID: a1.ID, TenantID: tenantB})
	require.NoError(t, err)
	assert.NotNil(t, rows)
	assert.Empty(t, rows)

	count, err := store.Count(ctx, db, repositorycache.Query{})
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	ok, err := store.Exists(ctx, db, repositorycache.Query{ID: b1.ID})
	require.NoError(t, err)
	assert.True(t, ok)

	a1.Note = "edited"
	_, err = store.Update(ctx, db, a1, repositorycache.Query{ID: a1.ID, TenantID: tenantA})
	require.NoError(t, err)

	rows, err = store.Select(ctx, db, repositorycache.Query{
		Criteria: []repositorycache.Criteria{func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.note = ?", "edited")
		}},
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, a1.ID, rows[0].ID)

	_, err = store.Delete(ctx, db, b1, repositorycache.Query{ID: b1.ID, TenantID: tenantA})
	require.NoError(t, err)
	ok, err = store.Exists(ctx, db, repositorycache.Query{ID: b1.ID})
	require.NoError(t, err)
	assert.True(t, ok, "tenant criteria must keep the foreign row")

	_, err = store.Delete(ctx, db, b1, repositorycache.Query{})
	require.NoError(t, err)
	ok, err = store.Exists(ctx, db, repositorycache.Query{ID: b1.ID})
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Contains(t, repo.calls, "ListTx")
	assert.Contains(t, repo.calls, "CountTx")
	assert.Contains(t, repo.calls, "CreateTx")
	assert.Contains(t, repo.calls, "UpdateTx")
	assert.Contains(t, repo.calls, "DeleteWhereTx")
}
