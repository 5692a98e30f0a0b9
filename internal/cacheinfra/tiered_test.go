package cacheinfra

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type snapshot struct {
	ID   string
	Name string
}

// recordingRemote is a map backed Distributed that records calls and can be
// told to fail.
type recordingRemote struct {
	mu      sync.Mutex
	entries map[string][]byte
	fail    error
	calls   []string

	// beforeSet and beforeDeletePrefix run before the call takes the lock.
	beforeSet          func(key string)
	beforeDeletePrefix func(prefix string)
}

func newRecordingRemote() *recordingRemote {
	return &recordingRemote{entries: make(map[string][]byte)}
}

func (r *recordingRemote) Get(_ context.Context, key string) ([]byte, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "get:"+key)
	if r.fail != nil {
		return nil, false, r.fail
	}
	data, ok := r.entries[key]
	return data, ok, nil
}

func (r *recordingRemote) Set(_ context.Context, key string, data []byte, _ time.Duration) error {
	if r.beforeSet != nil {
		r.beforeSet(key)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "set:"+key)
	if r.fail != nil {
		return r.fail
	}
	r.entries[key] = data
	return nil
}

func (r *recordingRemote) Delete(_ context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "del:"+key)
	if r.fail != nil {
		return r.fail
	}
	delete(r.entries, key)
	return nil
}

func (r *recordingRemote) DeleteByPrefix(_ context.Context, prefix string) error {
	if r.beforeDeletePrefix != nil {
		r.beforeDeletePrefix(prefix)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "delprefix:"+prefix)
	if r.fail != nil {
		return r.fail
	}
	for key := range r.entries {
		if strings.HasPrefix(key, prefix) {
			delete(r.entries, key)
		}
	}
	return nil
}

func (r *recordingRemote) has(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[key]
	return ok
}

func (r *recordingRemote) failWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail = err
}

func newTestService(t *testing.T, opts ...Option) *TieredService {
	t.Helper()
	cfg := DefaultConfig()
	cfg.LocalTTL = time.Minute
	svc, err := NewTieredService(cfg, opts...)
	require.NoError(t, err)
	return svc
}

func TestTieredService_SetThenGet(t *testing.T) {
	remote := newRecordingRemote()
	svc := newTestService(t, WithDistributed(remote))
	ctx := context.Background()

	svc.Set(ctx, "k1", snapshot{ID: "1", Name: "alice"}, time.Minute)

	var got snapshot
	require.True(t, svc.Get(ctx, "k1", &got))
	assert.Equal(t, "alice", got.Name)
	assert.True(t, remote.has("k1"), "expected value written to distributed tier")
}

func TestTieredService_MissHasNoSideEffect(t *testing.T) {
	remote := newRecordingRemote()
	svc := newTestService(t, WithDistributed(remote))

	var got snapshot
	assert.False(t, svc.Get(context.Background(), "absent", &got))
	assert.False(t, remote.has("absent"), "miss must not create an entry")
}

func TestTieredService_DistributedHitBackfillsLocal(t *testing.T) {
	remote := newRecordingRemote()
	writer := newTestService(t, WithDistributed(remote))
	reader := newTestService(t, WithDistributed(remote))
	ctx := context.Background()

	writer.Set(ctx, "shared", snapshot{ID: "7"}, time.Minute)

	var got snapshot
	require.True(t, reader.Get(ctx, "shared", &got), "expected distributed hit")

	// Local copy must now serve the value without the remote.
	remote.failWith(errors.New("down"))
	got = snapshot{}
	require.True(t, reader.Get(ctx, "shared", &got))
	assert.Equal(t, "7", got.ID)
}

func TestTieredService_DistributedFailuresAreMisses(t *testing.T) {
	remote := newRecordingRemote()
	remote.failWith(errors.New("connection refused"))
	svc := newTestService(t, WithDistributed(remote))
	ctx := context.Background()

	svc.Set(ctx, "k", snapshot{ID: "1"}, time.Minute)

	var got snapshot
	require.True(t, svc.Get(ctx, "k", &got), "local tier should still serve the value")

	svc.Remove(ctx, "k")
	assert.False(t, svc.Get(ctx, "k", &got), "expected miss after remove")
}

func TestTieredService_FailedPrefixDeleteHidesDistributedEntries(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	remote := newRecordingRemote()
	svc := newTestService(t, WithDistributed(remote), WithClock(clock))
	ctx := context.Background()

	svc.Set(ctx, "user::view::all", []string{"a"}, 0)
	svc.Set(ctx, "user::entity::1", snapshot{ID: "1"}, 0)

	remote.failWith(errors.New("redis down"))
	svc.RemoveByPattern(ctx, "user::view::")
	remote.failWith(nil)

	require.True(t, remote.has("user::view::all"), "distributed tier still holds the old view")

	var views []string
	assert.False(t, svc.Get(ctx, "user::view::all", &views), "old view must not be served")
	assert.False(t, svc.Get(ctx, "user::view::all", &views), "old view must not be backfilled")

	var entity snapshot
	assert.True(t, svc.Get(ctx, "user::entity::1", &entity), "keys outside the prefix are unaffected")

	// A fresh fill is served locally while the mark holds.
	svc.Set(ctx, "user::view::all", []string{"a", "b"}, 0)
	require.True(t, svc.Get(ctx, "user::view::all", &views))
	assert.Equal(t, []string{"a", "b"}, views)

	// The mark lapses once every old distributed value has expired.
	mu.Lock()
	now = now.Add(svc.cfg.TTL + time.Second)
	mu.Unlock()
	assert.False(t, svc.stale.covers("user::view::all", clock()))
	assert.Equal(t, 0, svc.stale.len())
}

func TestTieredService_RetriedPrefixDeleteClearsMark(t *testing.T) {
	remote := newRecordingRemote()
	svc := newTestService(t, WithDistributed(remote))
	ctx := context.Background()

	svc.Set(ctx, "user::view::all", []string{"a"}, time.Minute)

	remote.failWith(errors.New("redis down"))
	svc.RemoveByPattern(ctx, "user::view::")
	remote.failWith(nil)
	require.Equal(t, 1, svc.stale.len())

	svc.RemoveByPattern(ctx, "user::view::")
	assert.Equal(t, 0, svc.stale.len())
	assert.False(t, remote.has("user::view::all"))
}

func TestTieredService_FailedKeyDeleteHidesOnlyThatKey(t *testing.T) {
	remote := newRecordingRemote()
	writer := newTestService(t, WithDistributed(remote))
	svc := newTestService(t, WithDistributed(remote))
	ctx := context.Background()

	writer.Set(ctx, "user::entity::1", snapshot{ID: "1"}, time.Minute)
	writer.Set(ctx, "user::entity::10", snapshot{ID: "10"}, time.Minute)

	remote.failWith(errors.New("redis down"))
	svc.Remove(ctx, "user::entity::1")
	remote.failWith(nil)

	var got snapshot
	assert.False(t, svc.Get(ctx, "user::entity::1", &got))
	assert.True(t, svc.Get(ctx, "user::entity::10", &got))
	assert.Equal(t, "10", got.ID)
}

func TestTieredService_InvalidationDuringDistributedFill(t *testing.T) {
	remote := newRecordingRemote()
	svc := newTestService(t, WithDistributed(remote))
	ctx := context.Background()

	generation := svc.Generation()
	remote.beforeSet = func(string) {
		remote.beforeSet = nil
		svc.RemoveByPattern(ctx, "user::")
	}

	assert.True(t, svc.SetIfUnchanged(ctx, "user::view::all", []string{"old"}, time.Minute, generation))
	assert.False(t, remote.has("user::view::all"), "late distributed write must be deleted again")

	var views []string
	assert.False(t, svc.Get(ctx, "user::view::all", &views))
	assert.Equal(t, 0, svc.stale.len())
}

func TestTieredService_PrefixDeleteDoesNotBlockOtherKeys(t *testing.T) {
	remote := newRecordingRemote()
	svc := newTestService(t, WithDistributed(remote))
	ctx := context.Background()

	entered := make(chan struct{})
	release := make(chan struct{})
	remote.beforeDeletePrefix = func(string) {
		close(entered)
		<-release
	}

	removed := make(chan struct{})
	go func() {
		defer close(removed)
		svc.RemoveByPattern(ctx, "shift::")
	}()
	<-entered

	written := make(chan struct{})
	go func() {
		defer close(written)
		svc.Set(ctx, "badge::entity::1", snapshot{ID: "1"}, time.Minute)
		generation := svc.Generation()
		svc.SetIfUnchanged(ctx, "badge::entity::2", snapshot{ID: "2"}, time.Minute, generation)
	}()

	select {
	case <-written:
	case <-time.After(time.Second):
		t.Fatal("writes to other keys blocked behind a distributed prefix delete")
	}

	var got snapshot
	assert.True(t, svc.Get(ctx, "badge::entity::2", &got))

	close(release)
	<-removed
}

func TestTieredService_RemoveByPattern(t *testing.T) {
	remote := newRecordingRemote()
	svc := newTestService(t, WithDistributed(remote))
	ctx := context.Background()

	svc.Set(ctx, "user::view::all", []string{"a"}, time.Minute)
	svc.Set(ctx, "user::view::page::1::10", []string{"a"}, time.Minute)
	svc.Set(ctx, "user::entity::1", snapshot{ID: "1"}, time.Minute)

	svc.RemoveByPattern(ctx, "user::view::")

	var views []string
	assert.False(t, svc.Get(ctx, "user::view::all", &views))
	assert.False(t, svc.Get(ctx, "user::view::page::1::10", &views))

	var entity snapshot
	assert.True(t, svc.Get(ctx, "user::entity::1", &entity), "entity key must survive a view invalidation")

	// No match is a no-op.
	svc.RemoveByPattern(ctx, "nothing::")
	assert.Equal(t, 0, svc.stale.len())
}

func TestTieredService_SetIfUnchanged(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	gen := svc.Generation()
	svc.Remove(ctx, "k")

	assert.False(t, svc.SetIfUnchanged(ctx, "k", "stale", time.Minute, gen), "write after invalidation must be refused")
	var got string
	assert.False(t, svc.Get(ctx, "k", &got), "stale value must not be cached")

	require.True(t, svc.SetIfUnchanged(ctx, "k", "fresh", time.Minute, svc.Generation()))
	require.True(t, svc.Get(ctx, "k", &got))
	assert.Equal(t, "fresh", got)
}

func TestTieredService_LocalEntriesExpire(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	svc := newTestService(t, WithClock(clock))
	ctx := context.Background()
	svc.Set(ctx, "k", 1, 10*time.Second)

	mu.Lock()
	now = now.Add(11 * time.Second)
	mu.Unlock()

	var got int
	assert.False(t, svc.Get(ctx, "k", &got), "expected entry to expire")
}

func TestTieredService_TimesDecodeInUTC(t *testing.T) {
	local := time.Local
	time.Local = time.FixedZone("EST", -5*3600)
	t.Cleanup(func() { time.Local = local })

	type visit struct {
		ID       string
		CheckIn  time.Time
		CheckOut *time.Time
		Zero     time.Time
	}

	checkIn := time.Date(2024, 3, 1, 9, 30, 15, 250, time.UTC)
	checkOut := checkIn.Add(8 * time.Hour)
	want := visit{ID: "1", CheckIn: checkIn, CheckOut: &checkOut}

	remote := newRecordingRemote()
	writer := newTestService(t, WithDistributed(remote))
	reader := newTestService(t, WithDistributed(remote))
	ctx := context.Background()

	writer.Set(ctx, "visit::entity::1", want, time.Minute)

	for _, svc := range []*TieredService{writer, reader} {
		var got visit
		require.True(t, svc.Get(ctx, "visit::entity::1", &got))
		assert.Equal(t, want, got)
		assert.Equal(t, time.UTC, got.CheckIn.Location())
	}

	offset := checkIn.In(time.FixedZone("CET", 3600))
	data, err := MsgpackCodec().Marshal(offset)
	require.NoError(t, err)
	var decoded time.Time
	require.NoError(t, MsgpackCodec().Unmarshal(data, &decoded))
	assert.Equal(t, checkIn, decoded)
}

func TestTieredService_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	svc := newTestService(t, WithMetrics(metrics))
	ctx := context.Background()

	var got int
	svc.Get(ctx, "k", &got)
	svc.Set(ctx, "k", 1, time.Minute)
	svc.Get(ctx, "k", &got)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.requests.WithLabelValues(tierLocal, resultHit)))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.requests.WithLabelValues(tierLocal, resultMiss)))
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "zero capacity", mutate: func(c *Config) { c.Capacity = 0 }, wantErr: true},
		{name: "eviction over 100", mutate: func(c *Config) { c.EvictionPercentage = 101 }, wantErr: true},
		{name: "negative local ttl", mutate: func(c *Config) { c.LocalTTL = -time.Second }, wantErr: true},
		{name: "zero ttl", mutate: func(c *Config) { c.TTL = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}
