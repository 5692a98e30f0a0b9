// Package tenant carries the active tenant on a request context.
package tenant

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// HeaderName is the default request header carrying the tenant id.
const HeaderName = "X-Tenant-ID"

type tenantContextKey struct{}

// Context exposes the tenant of the current request. A false second result
// means no tenant is active (platform or admin access).
type Context interface {
	CurrentTenantID() (uuid.UUID, bool)
}

// Resolver reads the tenant for ctx.
type Resolver func(ctx context.Context) (uuid.UUID, bool)

// WithTenant returns a copy of ctx carrying id. uuid.Nil clears the tenant.
func WithTenant(ctx context.Context, id uuid.UUID) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, tenantContextKey{}, id)
}

// FromContext returns the tenant attached by WithTenant.
func FromContext(ctx context.Context) (uuid.UUID, bool) {
	if ctx == nil {
		return uuid.Nil, false
	}
	id, ok := ctx.Value(tenantContextKey{}).(uuid.UUID)
	if !ok || id == uuid.Nil {
		return uuid.Nil, false
	}
	return id, true
}

// ResolverFor adapts a Context implementation into a Resolver.
func ResolverFor(tc Context) Resolver {
	return func(context.Context) (uuid.UUID, bool) {
		id, ok := tc.CurrentTenantID()
		if !ok || id == uuid.Nil {
			return uuid.Nil, false
		}
		return id, true
	}
}

// Middleware reads the tenant id from header and stores it on the request
// context. Requests without the header pass through with no tenant; a
// malformed id is rejected with 400.
func Middleware(header string, logger *zap.Logger) func(http.Handler) http.Handler {
	if header == "" {
		header = HeaderName
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get(header)
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}

			id, err := uuid.Parse(raw)
			if err != nil || id == uuid.Nil {
				logger.Debug("tenant: rejecting malformed tenant header", zap.String("value", raw))
				writeError(w, "invalid tenant id")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithTenant(r.Context(), id)))
		})
	}
}

// Require rejects requests that reached it without a tenant with 400. Mount it
// after Middleware on routes that must never run with platform-wide access.
func Require(logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := FromContext(r.Context()); !ok {
				logger.Debug("tenant: rejecting unscoped request", zap.String("path", r.URL.Path))
				writeError(w, "missing tenant id")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeError(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
