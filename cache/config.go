package cache

import (
	"time"

	"github.com/goliatone/attendance-core/internal/cacheinfra"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Config exposes cache configuration options for consumers of the cache package.
type Config struct {
	Capacity           int           `yaml:"capacity"`
	NumShards          int           `yaml:"num_shards"`
	TTL                time.Duration `yaml:"ttl"`
	LocalTTL           time.Duration `yaml:"local_ttl"`
	EvictionPercentage int           `yaml:"eviction_percentage"`
	EvictionInterval   time.Duration `yaml:"eviction_interval"`
	OperationTimeout   time.Duration `yaml:"operation_timeout"`
}

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() Config {
	return convertFromInternal(cacheinfra.DefaultConfig())
}

// Validate checks whether the configuration values are valid.
func (c Config) Validate() error {
	return c.toInternal().Validate()
}

// Option configures the service built by NewCacheService.
type Option func(*options)

type options struct {
	distributed DistributedCache
	logger      *zap.Logger
	registerer  prometheus.Registerer
	now         func() time.Time
}

// WithDistributedCache adds the shared tier, typically NewRedisCache.
func WithDistributedCache(d DistributedCache) Option {
	return func(o *options) {
		o.distributed = d
	}
}

// WithLogger sets the logger that receives distributed tier failures.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithRegisterer exports lookup counters to reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// WithClock overrides the clock used for local expiry.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// NewCacheService constructs the default two tier implementation using the provided configuration.
func NewCacheService(cfg Config, opts ...Option) (CacheService, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	infraOpts := []cacheinfra.Option{
		cacheinfra.WithLogger(o.logger),
		cacheinfra.WithClock(o.now),
	}
	if o.distributed != nil {
		infraOpts = append(infraOpts, cacheinfra.WithDistributed(o.distributed))
	}
	if o.registerer != nil {
		infraOpts = append(infraOpts, cacheinfra.WithMetrics(cacheinfra.NewMetrics(o.registerer)))
	}

	service, err := cacheinfra.NewTieredService(cfg.toInternal(), infraOpts...)
	if err != nil {
		return nil, err
	}
	return service, nil
}

func (c Config) toInternal() cacheinfra.Config {
	return cacheinfra.Config{
		Capacity:           c.Capacity,
		NumShards:          c.NumShards,
		TTL:                c.TTL,
		LocalTTL:           c.LocalTTL,
		EvictionPercentage: c.EvictionPercentage,
		EvictionInterval:   c.EvictionInterval,
		OperationTimeout:   c.OperationTimeout,
	}
}

func convertFromInternal(cfg cacheinfra.Config) Config {
	return Config{
		Capacity:           cfg.Capacity,
		NumShards:          cfg.NumShards,
		TTL:                cfg.TTL,
		LocalTTL:           cfg.LocalTTL,
		EvictionPercentage: cfg.EvictionPercentage,
		EvictionInterval:   cfg.EvictionInterval,
		OperationTimeout:   cfg.OperationTimeout,
	}
}
