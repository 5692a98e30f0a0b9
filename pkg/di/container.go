package di

import (
	"errors"
	"time"

	"github.com/goliatone/attendance-core/cache"
	"github.com/goliatone/attendance-core/config"
	"github.com/goliatone/attendance-core/internal/retry"
	"github.com/goliatone/attendance-core/internal/storeinfra"
	"github.com/goliatone/attendance-core/repositorycache"
	"github.com/goliatone/attendance-core/tenant"
	"github.com/goliatone/attendance-core/throttle"
	"github.com/goliatone/attendance-core/unitofwork"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// ErrNoDatabase is returned by NewUnitOfWork when the container was built
// without a database.
var ErrNoDatabase = errors.New("di: no database configured")

// Container holds the process wide singletons: the cache service, the key
// serializer, the throttle and the database handles. Units of work and
// repositories are request scoped and built from it on demand.
type Container struct {
	config        config.Config
	logger        *zap.Logger
	registerer    prometheus.Registerer
	cacheService  cache.CacheService
	keySerializer cache.KeySerializer
	throttle      *throttle.SlidingWindow
	db            bun.IDB
	beginner      unitofwork.TxBeginner
	retryPolicy   retry.Policy
	redis         redis.UniversalClient
	distributed   cache.DistributedCache
	now           func() time.Time
}

// Option configures a Container.
type Option func(*Container)

// WithLogger sets the logger shared by every component.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Container) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRegisterer registers cache and throttle metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *Container) {
		c.registerer = reg
	}
}

// WithDB sets the database used outside transactions and the beginner that
// opens transactions on it.
func WithDB(db bun.IDB, beginner unitofwork.TxBeginner) Option {
	return func(c *Container) {
		c.db = db
		c.beginner = beginner
	}
}

// WithBunDB is WithDB for a *bun.DB.
func WithBunDB(db *bun.DB) Option {
	return WithDB(db, storeinfra.NewBeginner(db))
}

// WithRedisClient uses client for the distributed cache tier instead of
// dialing the addresses in the configuration.
func WithRedisClient(client redis.UniversalClient) Option {
	return func(c *Container) {
		c.redis = client
	}
}

// WithDistributedCache sets the distributed tier directly. It takes
// precedence over any redis configuration.
func WithDistributedCache(d cache.DistributedCache) Option {
	return func(c *Container) {
		c.distributed = d
	}
}

// WithClock overrides the clock of the cache and the throttle.
func WithClock(now func() time.Time) Option {
	return func(c *Container) {
		c.now = now
	}
}

// WithRetryPolicy overrides the retry policy handed to units of work and
// repositories.
func WithRetryPolicy(p retry.Policy) Option {
	return func(c *Container) {
		c.retryPolicy = p
	}
}

// NewContainer validates cfg and builds the singletons. A distributed cache
// tier is attached when one was given, a redis client was given, or
// cfg.Redis lists addresses.
func NewContainer(cfg config.Config, opts ...Option) (*Container, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Container{
		config:        cfg,
		logger:        zap.NewNop(),
		keySerializer: cache.NewDefaultKeySerializer(),
		retryPolicy:   storeinfra.RetryPolicy(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.distributed == nil && c.redis == nil && cfg.Redis.Enabled() {
		c.redis = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    cfg.Redis.Addrs,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	cacheOpts := []cache.Option{
		cache.WithLogger(c.logger.Named("cache")),
		cache.WithRegisterer(c.registerer),
		cache.WithClock(c.now),
	}
	switch {
	case c.distributed != nil:
		cacheOpts = append(cacheOpts, cache.WithDistributedCache(c.distributed))
	case c.redis != nil:
		cacheOpts = append(cacheOpts, cache.WithDistributedCache(cache.NewRedisCache(c.redis, cfg.Redis.KeyPrefix)))
	}
	cacheService, err := cache.NewCacheService(cfg.Cache, cacheOpts...)
	if err != nil {
		_ = c.closeRedis()
		return nil, err
	}
	c.cacheService = cacheService

	throttleOpts := []throttle.Option{
		throttle.WithLogger(c.logger.Named("throttle")),
		throttle.WithClock(c.now),
	}
	if c.registerer != nil {
		throttleOpts = append(throttleOpts, throttle.WithMetrics(throttle.NewMetrics(c.registerer)))
	}
	limiter, err := throttle.New(cfg.Throttle, throttleOpts...)
	if err != nil {
		_ = c.closeRedis()
		return nil, err
	}
	c.throttle = limiter

	return c, nil
}

// NewContainerWithDefaults builds a container from config.Default.
func NewContainerWithDefaults(opts ...Option) (*Container, error) {
	return NewContainer(config.Default(), opts...)
}

// CacheService returns the shared cache service.
func (c *Container) CacheService() cache.CacheService {
	return c.cacheService
}

// KeySerializer returns the shared key serializer.
func (c *Container) KeySerializer() cache.KeySerializer {
	return c.keySerializer
}

// Throttle returns the shared request throttle.
func (c *Container) Throttle() *throttle.SlidingWindow {
	return c.throttle
}

// Logger returns the container logger.
func (c *Container) Logger() *zap.Logger {
	return c.logger
}

// Config returns the configuration the container was built from.
func (c *Container) Config() config.Config {
	return c.config
}

// NewUnitOfWork returns a fresh unit of work for one request.
func (c *Container) NewUnitOfWork(opts ...unitofwork.Option) (*unitofwork.UnitOfWork, error) {
	if c.db == nil || c.beginner == nil {
		return nil, ErrNoDatabase
	}
	base := []unitofwork.Option{
		unitofwork.WithLogger(c.logger.Named("uow")),
		unitofwork.WithRetryPolicy(c.retryPolicy),
	}
	return unitofwork.New(c.db, c.beginner, append(base, opts...)...), nil
}

// Close releases the redis client, if any.
func (c *Container) Close() error {
	return c.closeRedis()
}

func (c *Container) closeRedis() error {
	if c.redis == nil {
		return nil
	}
	err := c.redis.Close()
	c.redis = nil
	return err
}

// NewRepository builds a cached repository for T bound to session.
//
// Since Go methods cannot have type parameters, this is provided as a package-level function.
func NewRepository[T repositorycache.Entity](c *Container, session repositorycache.Session, store repositorycache.Store[T], opts ...repositorycache.Option) *repositorycache.CachedRepository[T] {
	base := []repositorycache.Option{
		repositorycache.WithTTL(c.config.Cache.TTL),
		repositorycache.WithRetryPolicy(c.retryPolicy),
		repositorycache.WithLogger(c.logger.Named("repository")),
	}
	return repositorycache.New[T](session, store, c.cacheService, c.keySerializer, append(base, opts...)...)
}

// NewTenantRepository builds a tenant scoped repository for T that resolves
// the tenant from the request context.
func NewTenantRepository[T repositorycache.TenantAware[T]](c *Container, session repositorycache.Session, store repositorycache.Store[T], opts ...repositorycache.Option) *repositorycache.TenantRepository[T] {
	return repositorycache.NewTenant(NewRepository[T](c, session, store, opts...), tenant.FromContext)
}

// NewBunStore returns the bun backed store for T using the "id" and
// "tenant_id" columns.
func NewBunStore[T repositorycache.Entity]() repositorycache.Store[T] {
	return storeinfra.NewBunStore[T]()
}

// NewRepositoryStore exposes an existing go-repository-bun repository as a
// store, so it can sit behind NewRepository.
func NewRepositoryStore[T repositorycache.Entity](repo repository.Repository[T]) repositorycache.Store[T] {
	return storeinfra.NewRepositoryStore[T](repo)
}
