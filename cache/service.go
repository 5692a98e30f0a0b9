package cache

import (
	"context"
	"time"
)

// KeySerializer builds a cache key from a namespace plus arbitrary segments.
// It is responsible for producing stable keys across calls and processes.
type KeySerializer interface {
	SerializeKey(namespace string, segments ...any) string
}

// FetchFn is the function signature GetOrSet expects when loading from the source of truth.
type FetchFn[T any] func(ctx context.Context) (T, error)

// CacheService is the two tier cache consulted by repositories.
//
// Get decodes into dest, which must be a pointer, and reports whether a value
// was found. Failures of the distributed tier are never returned; they are
// logged and behave like misses.
type CacheService interface {
	Get(ctx context.Context, key string, dest any) bool
	Set(ctx context.Context, key string, value any, ttl time.Duration)
	SetIfUnchanged(ctx context.Context, key string, value any, ttl time.Duration, generation uint64) bool
	Remove(ctx context.Context, key string)
	RemoveByPattern(ctx context.Context, prefix string)
	Generation() uint64
}

// Get is a type-safe wrapper around CacheService.Get.
func Get[T any](ctx context.Context, service CacheService, key string) (T, bool) {
	var value T
	if !service.Get(ctx, key, &value) {
		var zero T
		return zero, false
	}
	return value, true
}

// Set is a type-safe wrapper around CacheService.Set.
func Set[T any](ctx context.Context, service CacheService, key string, value T, ttl time.Duration) {
	service.Set(ctx, key, value, ttl)
}

// GetOrSet returns the cached value for key, or calls fetch and caches its
// result. The result is not cached if the key space was invalidated while
// fetch was running.
func GetOrSet[T any](ctx context.Context, service CacheService, key string, ttl time.Duration, fetch FetchFn[T]) (T, error) {
	if value, ok := Get[T](ctx, service, key); ok {
		return value, nil
	}

	generation := service.Generation()
	value, err := fetch(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	service.SetIfUnchanged(ctx, key, value, ttl, generation)
	return value, nil
}
