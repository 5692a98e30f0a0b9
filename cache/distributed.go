package cache

import (
	"github.com/goliatone/attendance-core/internal/cacheinfra"
	"github.com/redis/go-redis/v9"
)

// DistributedCache is the shared tier behind the local cache. Implementations
// report a miss as found=false with a nil error.
type DistributedCache = cacheinfra.Distributed

// NewRedisCache returns a DistributedCache storing snapshots in redis. Every
// key is prefixed with keyPrefix.
func NewRedisCache(client redis.UniversalClient, keyPrefix string) DistributedCache {
	return cacheinfra.NewRedisDistributed(client, keyPrefix)
}
