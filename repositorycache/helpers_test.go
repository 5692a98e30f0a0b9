package repositorycache_test

import (
	"testing"
	"time"

	"github.com/goliatone/attendance-core/cache"
	"github.com/goliatone/attendance-core/internal/retry"
	"github.com/goliatone/attendance-core/pkg/testsupport"
	"github.com/goliatone/attendance-core/repositorycache"
	"github.com/goliatone/attendance-core/unitofwork"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// Shift is the entity used across the repository tests.
type Shift struct {
	ID       uuid.UUID
	TenantID uuid.UUID
	Name     string
}

func (s Shift) GetID() uuid.UUID       { return s.ID }
func (s Shift) GetTenantID() uuid.UUID { return s.TenantID }

func (s Shift) WithTenant(id uuid.UUID) Shift {
	s.TenantID = id
	return s
}

type fixture struct {
	db     *testsupport.MemoryDB
	uow    *unitofwork.UnitOfWork
	store  *testsupport.MemoryStore[Shift]
	remote *testsupport.MemoryDistributed
	cache  cache.CacheService
	repo   *repositorycache.CachedRepository[Shift]
}

func fastRetry() retry.Policy {
	p := retry.DefaultPolicy()
	p.InitialInterval = time.Millisecond
	p.MaxInterval = time.Millisecond
	return p
}

func newFixture(t *testing.T, seed ...Shift) *fixture {
	t.Helper()

	db := testsupport.NewMemoryDB()
	remote := testsupport.NewMemoryDistributed(nil)
	cacheService, err := cache.NewCacheService(cache.DefaultConfig(), cache.WithDistributedCache(remote))
	require.NoError(t, err)

	uow := unitofwork.New(db, db, unitofwork.WithRetryPolicy(fastRetry()))
	store := testsupport.NewMemoryStore(seed...)
	repo := repositorycache.New[Shift](uow, store, cacheService, nil, repositorycache.WithRetryPolicy(fastRetry()))

	return &fixture{
		db:     db,
		uow:    uow,
		store:  store,
		remote: remote,
		cache:  cacheService,
		repo:   repo,
	}
}

func shift(name string, tenantID uuid.UUID) Shift {
	return Shift{ID: uuid.New(), TenantID: tenantID, Name: name}
}
