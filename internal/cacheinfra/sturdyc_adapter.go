package cacheinfra

import (
	"strings"
	"time"

	"github.com/viccon/sturdyc"
)

// localEntry is what the local tier stores: the encoded snapshot plus its
// absolute expiry. sturdyc applies a single TTL per client, so per entry
// expiry is enforced on read.
type localEntry struct {
	data      []byte
	expiresAt time.Time
}

// localTier is the in-process tier backed by a sturdyc client.
type localTier struct {
	client *sturdyc.Client[localEntry]
	maxTTL time.Duration
	now    func() time.Time
}

func newLocalTier(cfg Config, now func() time.Time) *localTier {
	maxTTL := cfg.localTTL()
	client := sturdyc.New[localEntry](
		cfg.Capacity,
		cfg.NumShards,
		maxTTL,
		cfg.EvictionPercentage,
		cfg.sturdycOptions()...,
	)
	return &localTier{client: client, maxTTL: maxTTL, now: now}
}

func (l *localTier) Get(key string) ([]byte, bool) {
	entry, ok := l.client.Get(key)
	if !ok {
		return nil, false
	}
	if !l.now().Before(entry.expiresAt) {
		l.client.Delete(key)
		return nil, false
	}
	return entry.data, true
}

func (l *localTier) Set(key string, data []byte, ttl time.Duration) {
	if ttl <= 0 || ttl > l.maxTTL {
		ttl = l.maxTTL
	}
	l.client.Set(key, localEntry{data: data, expiresAt: l.now().Add(ttl)})
}

func (l *localTier) Delete(key string) {
	l.client.Delete(key)
}

// DeleteByPrefix removes every local key starting with prefix and reports how
// many were removed.
func (l *localTier) DeleteByPrefix(prefix string) int {
	removed := 0
	for _, key := range l.client.ScanKeys() {
		if strings.HasPrefix(key, prefix) {
			l.client.Delete(key)
			removed++
		}
	}
	return removed
}
