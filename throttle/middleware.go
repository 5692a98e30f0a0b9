package throttle

import (
	"encoding/json"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

const (
	HeaderClientID      = "X-Client-Id"
	HeaderForwardedFor  = "X-Forwarded-For"
	HeaderRealIP        = "X-Real-IP"
	HeaderRetryAfter    = "Retry-After"
	HeaderLimit         = "X-RateLimit-Limit"
	HeaderRemaining     = "X-RateLimit-Remaining"
	rejectionBody       = "rate limit exceeded"
	defaultAnonymousKey = "anonymous"
)

// Limiter decides whether a client key may proceed.
type Limiter interface {
	Allow(key string) Decision
}

// KeyFunc derives the client identity of a request.
type KeyFunc func(r *http.Request) string

// MiddlewareOption configures Middleware.
type MiddlewareOption func(*middlewareConfig)

type middlewareConfig struct {
	keyFunc    KeyFunc
	methods    map[string]struct{}
	retryAfter string
	logger     *zap.Logger
}

// WithKeyFunc overrides ClientKey.
func WithKeyFunc(fn KeyFunc) MiddlewareOption {
	return func(c *middlewareConfig) {
		if fn != nil {
			c.keyFunc = fn
		}
	}
}

// WithMethods replaces the set of throttled methods.
func WithMethods(methods ...string) MiddlewareOption {
	return func(c *middlewareConfig) {
		c.methods = methodSet(methods)
	}
}

// WithMiddlewareLogger sets the logger used for rejections.
func WithMiddlewareLogger(logger *zap.Logger) MiddlewareOption {
	return func(c *middlewareConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Middleware throttles write requests through limiter. Requests with other
// methods pass untouched. Rejected requests get 429 with Retry-After and a
// JSON error body.
func Middleware(limiter Limiter, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	cfg := middlewareConfig{
		keyFunc:    ClientKey,
		methods:    methodSet(DefaultConfig().Methods),
		retryAfter: strconv.Itoa(int(DefaultConfig().RetryAfter.Seconds())),
		logger:     zap.NewNop(),
	}
	if sw, ok := limiter.(*SlidingWindow); ok {
		cfg.methods = methodSet(sw.cfg.Methods)
		cfg.retryAfter = strconv.Itoa(int(sw.cfg.RetryAfter.Seconds()))
		cfg.logger = sw.logger
		if len(sw.cfg.TrustedProxies) > 0 {
			// New validated the entries.
			proxies, _ := ParseProxies(sw.cfg.TrustedProxies)
			cfg.keyFunc = TrustedClientKey(proxies)
		}
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := cfg.methods[r.Method]; !ok {
				next.ServeHTTP(w, r)
				return
			}

			key := cfg.keyFunc(r)
			d := limiter.Allow(key)
			w.Header().Set(HeaderLimit, strconv.Itoa(d.Limit))
			w.Header().Set(HeaderRemaining, strconv.Itoa(d.Remaining))

			if !d.Allowed {
				cfg.logger.Warn("throttle: rate limit exceeded",
					zap.String("client", key),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
				)
				retryAfter := cfg.retryAfter
				if d.RetryAfter > 0 {
					retryAfter = strconv.Itoa(int(d.RetryAfter.Seconds()))
				}
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set(HeaderRetryAfter, retryAfter)
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": rejectionBody})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ClientKey identifies the caller: an explicit client id header first, then
// the first X-Forwarded-For hop, X-Real-IP, and finally the remote address.
// Every header is client controlled; use TrustedClientKey when the service
// is reachable other than through a known proxy.
func ClientKey(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(HeaderClientID)); id != "" {
		return "client:" + id
	}
	if fwd := r.Header.Get(HeaderForwardedFor); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return "ip:" + ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get(HeaderRealIP)); ip != "" {
		return "ip:" + ip
	}
	return remoteKey(r)
}

// TrustedClientKey applies ClientKey to requests whose peer is one of
// proxies. Any other peer is keyed by its own address and its forwarding
// headers are ignored.
func TrustedClientKey(proxies []netip.Prefix) KeyFunc {
	return func(r *http.Request) string {
		if peer, ok := peerAddr(r); ok {
			for _, p := range proxies {
				if p.Contains(peer) {
					return ClientKey(r)
				}
			}
		}
		return remoteKey(r)
	}
}

func remoteKey(r *http.Request) string {
	if r.RemoteAddr == "" {
		return defaultAnonymousKey
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "ip:" + r.RemoteAddr
	}
	return "ip:" + host
}

func peerAddr(r *http.Request) (netip.Addr, bool) {
	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}

func methodSet(methods []string) map[string]struct{} {
	set := make(map[string]struct{}, len(methods))
	for _, m := range methods {
		set[strings.ToUpper(m)] = struct{}{}
	}
	return set
}
