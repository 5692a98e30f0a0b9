package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapDistributed struct {
	mu      sync.Mutex
	entries map[string][]byte
	gets    int
}

func newMapDistributed() *mapDistributed {
	return &mapDistributed{entries: make(map[string][]byte)}
}

func (m *mapDistributed) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	data, ok := m.entries[key]
	return data, ok, nil
}

func (m *mapDistributed) Set(_ context.Context, key string, data []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = data
	return nil
}

func (m *mapDistributed) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *mapDistributed) DeleteByPrefix(_ context.Context, prefix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.entries {
		if strings.HasPrefix(key, prefix) {
			delete(m.entries, key)
		}
	}
	return nil
}

type employee struct {
	ID   string
	Name string
}

func newService(t *testing.T, opts ...Option) CacheService {
	t.Helper()
	svc, err := NewCacheService(DefaultConfig(), opts...)
	require.NoError(t, err)
	return svc
}

func TestNewCacheService_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NumShards = 0

	svc, err := NewCacheService(cfg)
	require.Error(t, err)
	assert.Nil(t, svc)
}

func TestGet_TypedRoundTrip(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	Set(ctx, svc, "employee::1", employee{ID: "1", Name: "Ada"}, time.Minute)

	got, ok := Get[employee](ctx, svc, "employee::1")
	require.True(t, ok, "expected hit")
	assert.Equal(t, "Ada", got.Name)

	_, ok = Get[employee](ctx, svc, "employee::2")
	assert.False(t, ok, "expected miss")
}

func TestGet_BackfillsFromDistributed(t *testing.T) {
	shared := newMapDistributed()
	first := newService(t, WithDistributedCache(shared))
	second := newService(t, WithDistributedCache(shared))
	ctx := context.Background()

	Set(ctx, first, "employee::1", employee{ID: "1"}, time.Minute)

	_, ok := Get[employee](ctx, second, "employee::1")
	require.True(t, ok, "expected distributed hit")
	_, ok = Get[employee](ctx, second, "employee::1")
	require.True(t, ok, "expected local hit")
	assert.Equal(t, 1, shared.gets, "second read should be served locally")
}

func TestGetOrSet(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	calls := 0
	fetch := func(context.Context) (employee, error) {
		calls++
		return employee{ID: "1", Name: "Grace"}, nil
	}

	for i := 0; i < 3; i++ {
		got, err := GetOrSet(ctx, svc, "employee::1", time.Minute, fetch)
		require.NoError(t, err)
		assert.Equal(t, "Grace", got.Name)
	}
	assert.Equal(t, 1, calls)
}

func TestGetOrSet_ErrorIsNotCached(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	boom := errors.New("boom")

	_, err := GetOrSet(ctx, svc, "k", time.Minute, func(context.Context) (int, error) {
		return 0, boom
	})
	require.ErrorIs(t, err, boom)

	_, ok := Get[int](ctx, svc, "k")
	assert.False(t, ok, "failed fetch must not populate the cache")
}

func TestGetOrSet_InvalidationDuringFetch(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	got, err := GetOrSet(ctx, svc, "employee::view::all", time.Minute, func(ctx context.Context) ([]string, error) {
		svc.RemoveByPattern(ctx, "employee::")
		return []string{"stale"}, nil
	})
	require.NoError(t, err)
	assert.Len(t, got, 1, "fetch result should still be returned")

	_, ok := Get[[]string](ctx, svc, "employee::view::all")
	assert.False(t, ok, "value loaded across an invalidation must not be cached")
}
