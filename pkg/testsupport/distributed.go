package testsupport

import (
	"context"
	"strings"
	"sync"
	"time"
)

type distributedEntry struct {
	data      []byte
	expiresAt time.Time
}

// MemoryDistributed is an in-memory cache.DistributedCache. Failures can be
// injected to exercise the degraded paths.
type MemoryDistributed struct {
	mu      sync.Mutex
	entries map[string]distributedEntry
	now     func() time.Time
	fail    error
	calls   map[string]int
}

// NewMemoryDistributed returns an empty store. A nil now uses time.Now.
func NewMemoryDistributed(now func() time.Time) *MemoryDistributed {
	if now == nil {
		now = time.Now
	}
	return &MemoryDistributed{
		entries: make(map[string]distributedEntry),
		now:     now,
		calls:   make(map[string]int),
	}
}

// FailWith makes every following call return err. Pass nil to recover.
func (m *MemoryDistributed) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = err
}

// Calls returns how often op ("get", "set", "delete", "delete_prefix") ran.
func (m *MemoryDistributed) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// Keys returns the live keys.
func (m *MemoryDistributed) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.entries))
	for key, entry := range m.entries {
		if m.now().Before(entry.expiresAt) {
			keys = append(keys, key)
		}
	}
	return keys
}

func (m *MemoryDistributed) Get(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["get"]++
	if err := m.check(ctx); err != nil {
		return nil, false, err
	}
	entry, ok := m.entries[key]
	if !ok || !m.now().Before(entry.expiresAt) {
		delete(m.entries, key)
		return nil, false, nil
	}
	return append([]byte(nil), entry.data...), true, nil
}

func (m *MemoryDistributed) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["set"]++
	if err := m.check(ctx); err != nil {
		return err
	}
	m.entries[key] = distributedEntry{
		data:      append([]byte(nil), data...),
		expiresAt: m.now().Add(ttl),
	}
	return nil
}

func (m *MemoryDistributed) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["delete"]++
	if err := m.check(ctx); err != nil {
		return err
	}
	delete(m.entries, key)
	return nil
}

func (m *MemoryDistributed) DeleteByPrefix(ctx context.Context, prefix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["delete_prefix"]++
	if err := m.check(ctx); err != nil {
		return err
	}
	for key := range m.entries {
		if strings.HasPrefix(key, prefix) {
			delete(m.entries, key)
		}
	}
	return nil
}

func (m *MemoryDistributed) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.fail
}
