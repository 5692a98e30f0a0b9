package throttle

import (
	"context"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
)

// Decision is the outcome of a single Allow call.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// SlidingWindow admits at most Limit requests per client inside any Window
// long interval. Windows are locked per client; there is no global lock on
// the request path.
type SlidingWindow struct {
	cfg     Config
	clients *xsync.MapOf[string, *clientWindow]
	now     func() time.Time
	logger  *zap.Logger
	metrics *Metrics
}

type clientWindow struct {
	mu       sync.Mutex
	hits     []time.Time
	lastSeen time.Time
	evicted  bool
}

// Option configures a SlidingWindow.
type Option func(*SlidingWindow)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *SlidingWindow) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *SlidingWindow) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics enables decision counters.
func WithMetrics(m *Metrics) Option {
	return func(s *SlidingWindow) {
		s.metrics = m
	}
}

// New returns a SlidingWindow for cfg.
func New(cfg Config, opts ...Option) (*SlidingWindow, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &SlidingWindow{
		cfg:     cfg,
		clients: xsync.NewMapOf[string, *clientWindow](),
		now:     time.Now,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Config returns the active configuration.
func (s *SlidingWindow) Config() Config {
	return s.cfg
}

// Allow records a request for key if the client is under its limit.
// Timestamps older than the window are pruned first; a rejected request is
// not recorded.
func (s *SlidingWindow) Allow(key string) Decision {
	for {
		w, _ := s.clients.LoadOrCompute(key, func() *clientWindow {
			return &clientWindow{}
		})

		w.mu.Lock()
		if w.evicted {
			// Lost a race with Sweep; retry against the fresh entry.
			w.mu.Unlock()
			continue
		}

		now := s.now()
		w.prune(now.Add(-s.cfg.Window))
		w.lastSeen = now

		d := Decision{Limit: s.cfg.Limit}
		if len(w.hits) >= s.cfg.Limit {
			d.RetryAfter = s.cfg.RetryAfter
		} else {
			w.hits = append(w.hits, now)
			d.Allowed = true
			d.Remaining = s.cfg.Limit - len(w.hits)
		}
		w.mu.Unlock()

		s.metrics.observe(d.Allowed)
		return d
	}
}

// Sweep drops client windows that hold no live timestamps and have been idle
// for longer than Retention. It returns the number of windows removed.
func (s *SlidingWindow) Sweep(now time.Time) int {
	cutoff := now.Add(-s.cfg.Window)
	idle := now.Add(-s.cfg.Retention)

	removed := 0
	s.clients.Range(func(key string, w *clientWindow) bool {
		w.mu.Lock()
		defer w.mu.Unlock()

		if w.evicted {
			return true
		}
		w.prune(cutoff)
		if len(w.hits) > 0 || w.lastSeen.After(idle) {
			return true
		}

		w.evicted = true
		s.clients.Compute(key, func(old *clientWindow, loaded bool) (*clientWindow, bool) {
			return old, loaded && old == w
		})
		removed++
		return true
	})

	s.metrics.tracked(s.clients.Size())
	if removed > 0 {
		s.logger.Debug("throttle: swept idle clients", zap.Int("removed", removed), zap.Int("remaining", s.clients.Size()))
	}
	return removed
}

// Run sweeps every SweepInterval until ctx is done.
func (s *SlidingWindow) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(s.now())
		}
	}
}

// Len returns the number of tracked clients.
func (s *SlidingWindow) Len() int {
	return s.clients.Size()
}

// prune drops timestamps before cutoff. Hits are appended in order, so the
// live ones form a suffix.
func (w *clientWindow) prune(cutoff time.Time) {
	i := 0
	for i < len(w.hits) && w.hits[i].Before(cutoff) {
		i++
	}
	if i == 0 {
		return
	}
	n := copy(w.hits, w.hits[i:])
	w.hits = w.hits[:n]
}
