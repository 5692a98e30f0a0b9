// Package cache provides the two tier cache used by repositories and the key
// serializer that names its entries.
//
// # Overview
//
// CacheService layers an in-process tier (sturdyc) over an optional shared
// tier (redis). Reads check the local tier first and copy distributed hits
// back into it. Writes go to both tiers. Values are stored as msgpack
// snapshots, so a cached value never aliases the caller's copy.
//
//	svc, err := cache.NewCacheService(cache.DefaultConfig(),
//		cache.WithDistributedCache(cache.NewRedisCache(rdb, "attendance:")),
//		cache.WithLogger(logger),
//	)
//
//	record, err := cache.GetOrSet(ctx, svc, key, time.Minute, func(ctx context.Context) (Record, error) {
//		return store.Load(ctx, id)
//	})
//
// # Failure policy
//
// The distributed tier is best effort. Connection, timeout and decode errors
// are logged and behave like misses; they are never returned to callers.
//
// # Invalidation and generations
//
// Remove and RemoveByPattern bump a generation counter. A caller that loads
// from the source of truth samples Generation first and stores the result
// with SetIfUnchanged, which refuses the write if anything was invalidated in
// between. GetOrSet does this for you.
//
// Local entries live at most Config.LocalTTL. Replicas sharing a redis never
// see each other's local invalidations, so this bounds how long they can
// disagree.
//
// # Keys
//
// The default KeySerializer joins a namespace and its segments with
// KeySeparator. uuid.UUID and other fmt.Stringer values are written as text,
// containers are walked deterministically, and segments longer than 128
// bytes are replaced by an xxhash digest.
package cache
