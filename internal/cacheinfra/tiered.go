package cacheinfra

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// TieredService layers a sturdyc local tier over an optional distributed tier.
//
// Invalidations (Remove, RemoveByPattern) bump the generation. A reader that
// samples Generation before loading from the source of truth can then publish
// its result with SetIfUnchanged without resurrecting a value that was
// invalidated while it was loading. The lock only covers the generation check
// and the local tier; distributed I/O runs outside it.
//
// A distributed delete that fails leaves its key or prefix marked stale until
// every value the distributed tier could still hold for it has expired. Hits
// under a stale mark are treated as misses.
type TieredService struct {
	cfg     Config
	local   *localTier
	remote  Distributed
	codec   Codec
	logger  *zap.Logger
	metrics *Metrics
	now     func() time.Time

	mu         sync.RWMutex
	generation atomic.Uint64
	stale      *staleSet
	maxTTL     atomic.Int64
}

// Option configures a TieredService.
type Option func(*TieredService)

// WithDistributed attaches the shared tier. Without it the service is local only.
func WithDistributed(d Distributed) Option {
	return func(s *TieredService) {
		s.remote = d
	}
}

// WithLogger sets the logger used to report distributed tier failures.
func WithLogger(logger *zap.Logger) Option {
	return func(s *TieredService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics records lookups per tier.
func WithMetrics(m *Metrics) Option {
	return func(s *TieredService) {
		s.metrics = m
	}
}

// WithCodec replaces the msgpack snapshot codec.
func WithCodec(c Codec) Option {
	return func(s *TieredService) {
		if c != nil {
			s.codec = c
		}
	}
}

// WithClock overrides the clock used for local tier expiry.
func WithClock(now func() time.Time) Option {
	return func(s *TieredService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewTieredService validates cfg and builds the service.
func NewTieredService(cfg Config, opts ...Option) (*TieredService, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &TieredService{
		cfg:    cfg,
		codec:  MsgpackCodec(),
		logger: zap.NewNop(),
		now:    time.Now,
		stale:  newStaleSet(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.local = newLocalTier(cfg, s.now)
	s.maxTTL.Store(int64(cfg.TTL))
	return s, nil
}

// Generation returns the current invalidation generation.
func (s *TieredService) Generation() uint64 {
	return s.generation.Load()
}

// Get decodes the cached value for key into dest. The local tier is consulted
// first; a distributed hit is copied into the local tier.
func (s *TieredService) Get(ctx context.Context, key string, dest any) bool {
	if data, ok := s.local.Get(key); ok {
		if err := s.codec.Unmarshal(data, dest); err != nil {
			s.logger.Warn("cache: dropping undecodable local entry", zap.String("key", key), zap.Error(err))
			s.local.Delete(key)
		} else {
			s.metrics.observe(tierLocal, resultHit)
			return true
		}
	}
	s.metrics.observe(tierLocal, resultMiss)

	if s.remote == nil {
		return false
	}

	generation := s.generation.Load()

	opCtx, cancel := s.operationContext(ctx)
	data, found, err := s.remote.Get(opCtx, key)
	cancel()
	if err != nil {
		s.metrics.observe(tierRemote, resultError)
		s.logger.Warn("cache: distributed get failed", zap.String("key", key), zap.Error(err))
		return false
	}
	if !found {
		s.metrics.observe(tierRemote, resultMiss)
		return false
	}
	if s.stale.covers(key, s.now()) {
		s.metrics.observe(tierRemote, resultMiss)
		s.logger.Debug("cache: ignoring distributed entry pending invalidation", zap.String("key", key))
		return false
	}
	if err := s.codec.Unmarshal(data, dest); err != nil {
		s.metrics.observe(tierRemote, resultError)
		s.logger.Warn("cache: undecodable distributed entry", zap.String("key", key), zap.Error(err))
		return false
	}
	s.metrics.observe(tierRemote, resultHit)

	s.mu.RLock()
	if s.generation.Load() == generation {
		s.local.Set(key, data, 0)
	}
	s.mu.RUnlock()

	return true
}

// Set stores value in both tiers. A ttl <= 0 uses the configured default.
func (s *TieredService) Set(ctx context.Context, key string, value any, ttl time.Duration) {
	data, ok := s.encode(key, value)
	if !ok {
		return
	}
	ttl = s.ttl(ttl)

	s.mu.RLock()
	s.local.Set(key, data, ttl)
	s.mu.RUnlock()

	_ = s.storeRemote(ctx, key, data, ttl)
}

// SetIfUnchanged stores value only if no invalidation happened since
// generation was sampled. It reports whether the value was written.
//
// The key is marked stale while the distributed write is in flight. If an
// invalidation lands meanwhile, the distributed copy is deleted again once the
// write returns.
func (s *TieredService) SetIfUnchanged(ctx context.Context, key string, value any, ttl time.Duration, generation uint64) bool {
	data, ok := s.encode(key, value)
	if !ok {
		return false
	}
	ttl = s.ttl(ttl)

	s.mu.RLock()
	if s.generation.Load() != generation {
		s.mu.RUnlock()
		return false
	}
	s.local.Set(key, data, ttl)
	s.mu.RUnlock()

	if s.remote == nil {
		return true
	}
	s.markPending(key, true)
	err := s.storeRemote(ctx, key, data, ttl)
	if err == nil && s.generation.Load() != generation {
		err = s.removeRemote(ctx, key)
	}
	s.settle(key, true, err)
	return true
}

// Remove deletes key from both tiers.
func (s *TieredService) Remove(ctx context.Context, key string) {
	s.markPending(key, true)

	s.mu.Lock()
	s.generation.Add(1)
	s.local.Delete(key)
	s.mu.Unlock()

	s.settle(key, true, s.removeRemote(ctx, key))
}

// RemoveByPattern deletes every key starting with prefix from both tiers.
func (s *TieredService) RemoveByPattern(ctx context.Context, prefix string) {
	s.markPending(prefix, false)

	s.mu.Lock()
	s.generation.Add(1)
	removed := s.local.DeleteByPrefix(prefix)
	s.mu.Unlock()

	s.logger.Debug("cache: prefix invalidated", zap.String("prefix", prefix), zap.Int("local_removed", removed))

	if s.remote == nil {
		return
	}
	opCtx, cancel := s.operationContext(ctx)
	err := s.remote.DeleteByPrefix(opCtx, prefix)
	cancel()
	if err != nil {
		s.logger.Warn("cache: distributed prefix delete failed", zap.String("prefix", prefix), zap.Error(err))
	}
	s.settle(prefix, false, err)
}

// markPending must run before the generation bump so a reader that samples
// the new generation also sees the mark.
func (s *TieredService) markPending(value string, exact bool) {
	if s.remote != nil {
		s.stale.begin(value, exact)
	}
}

func (s *TieredService) settle(value string, exact bool, err error) {
	if s.remote != nil {
		s.stale.finish(value, exact, err != nil, s.staleUntil())
	}
}

func (s *TieredService) removeRemote(ctx context.Context, key string) error {
	if s.remote == nil {
		return nil
	}
	opCtx, cancel := s.operationContext(ctx)
	defer cancel()
	err := s.remote.Delete(opCtx, key)
	if err != nil {
		s.logger.Warn("cache: distributed delete failed", zap.String("key", key), zap.Error(err))
	}
	return err
}

func (s *TieredService) storeRemote(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if s.remote == nil {
		return nil
	}
	s.trackTTL(ttl)

	opCtx, cancel := s.operationContext(ctx)
	defer cancel()
	err := s.remote.Set(opCtx, key, data, ttl)
	if err != nil {
		s.logger.Warn("cache: distributed set failed", zap.String("key", key), zap.Error(err))
	}
	return err
}

// staleUntil is the latest expiry any distributed entry written so far can have.
func (s *TieredService) staleUntil() time.Time {
	return s.now().Add(time.Duration(s.maxTTL.Load()))
}

func (s *TieredService) trackTTL(ttl time.Duration) {
	for {
		current := s.maxTTL.Load()
		if int64(ttl) <= current || s.maxTTL.CompareAndSwap(current, int64(ttl)) {
			return
		}
	}
}

func (s *TieredService) encode(key string, value any) ([]byte, bool) {
	data, err := s.codec.Marshal(value)
	if err != nil {
		s.logger.Error("cache: cannot encode value", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return data, true
}

func (s *TieredService) ttl(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return s.cfg.TTL
	}
	return ttl
}

func (s *TieredService) operationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.OperationTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.cfg.OperationTimeout)
}
