package cacheinfra

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Distributed is the shared tier. Get reports found=false with a nil error on
// a miss; any returned error means the tier could not be consulted.
type Distributed interface {
	Get(ctx context.Context, key string) (data []byte, found bool, err error)
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	DeleteByPrefix(ctx context.Context, prefix string) error
}

const scanBatch = 256

// redisDistributed stores snapshots in redis under an optional key prefix.
type redisDistributed struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisDistributed wraps a go-redis client. keyPrefix is prepended to every
// key so several deployments can share one redis.
func NewRedisDistributed(client redis.UniversalClient, keyPrefix string) Distributed {
	return &redisDistributed{client: client, prefix: keyPrefix}
}

func (r *redisDistributed) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (r *redisDistributed) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	return r.client.Set(ctx, r.prefix+key, data, ttl).Err()
}

func (r *redisDistributed) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.prefix+key).Err()
}

// DeleteByPrefix walks the keyspace with SCAN, then deletes the matches in
// batches. Keys are collected before any delete so the walk never runs over
// a keyspace it is shrinking. Against a cluster client only the node serving
// the SCAN is walked.
func (r *redisDistributed) DeleteByPrefix(ctx context.Context, prefix string) error {
	match := escapeGlob(r.prefix+prefix) + "*"
	iter := r.client.Scan(ctx, 0, match, scanBatch).Iterator()

	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}

	for start := 0; start < len(keys); start += scanBatch {
		end := min(start+scanBatch, len(keys))
		if err := r.client.Del(ctx, keys[start:end]...).Err(); err != nil {
			return err
		}
	}
	return nil
}

var globEscaper = strings.NewReplacer(
	`\`, `\\`,
	`*`, `\*`,
	`?`, `\?`,
	`[`, `\[`,
	`]`, `\]`,
)

func escapeGlob(s string) string {
	return globEscaper.Replace(s)
}
