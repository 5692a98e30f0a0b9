package cacheinfra

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/viccon/sturdyc"
)

// Config holds the configuration for the two tier cache.
type Config struct {
	// Capacity defines the maximum number of entries held by the local tier.
	Capacity int

	// NumShards determines the number of local tier shards.
	// Higher values improve concurrency but increase memory overhead.
	NumShards int

	// TTL is the default time-to-live applied when Set is called without one.
	TTL time.Duration

	// LocalTTL caps how long an entry lives in the local tier. Peers sharing
	// the distributed tier never see each other's local invalidations, so this
	// bounds how long a replica can serve a value another replica removed.
	LocalTTL time.Duration

	// EvictionPercentage specifies what percentage of local entries to evict
	// when the local tier reaches its capacity. Must be between 1-100.
	EvictionPercentage int

	// EvictionInterval sets how often the local tier checks for expired entries.
	// Zero value uses the sturdyc default.
	EvictionInterval time.Duration

	// OperationTimeout bounds every distributed tier call on top of the
	// caller's context. Zero disables the extra bound.
	OperationTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults for most use cases.
func DefaultConfig() Config {
	return Config{
		Capacity:           10000,
		NumShards:          256,
		TTL:                5 * time.Minute,
		LocalTTL:           30 * time.Second,
		EvictionPercentage: 10,
		EvictionInterval:   0,
		OperationTimeout:   250 * time.Millisecond,
	}
}

// Validate checks if the configuration values are valid.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Capacity, validation.Required, validation.Min(1)),
		validation.Field(&c.NumShards, validation.Required, validation.Min(1)),
		validation.Field(&c.TTL, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.LocalTTL, validation.Min(time.Duration(0))),
		validation.Field(&c.EvictionPercentage, validation.Required, validation.Min(1), validation.Max(100)),
		validation.Field(&c.EvictionInterval, validation.Min(time.Duration(0))),
		validation.Field(&c.OperationTimeout, validation.Min(time.Duration(0))),
	)
}

// localTTL is the effective upper bound for local tier entries.
func (c Config) localTTL() time.Duration {
	if c.LocalTTL <= 0 || c.LocalTTL > c.TTL {
		return c.TTL
	}
	return c.LocalTTL
}

func (c Config) sturdycOptions() []sturdyc.Option {
	var options []sturdyc.Option
	if c.EvictionInterval > 0 {
		options = append(options, sturdyc.WithEvictionInterval(c.EvictionInterval))
	}
	return options
}
