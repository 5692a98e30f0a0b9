package attendance

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goliatone/attendance-core/pkg/di"
	"github.com/goliatone/attendance-core/tenant"
	"github.com/goliatone/attendance-core/throttle"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter mounts the attendance endpoints behind request logging, tenant
// resolution and the write throttle. When gatherer is not nil its metrics
// are served on /metrics.
//
// RemoteAddr is left as the connected peer so the throttle can tell a trusted
// proxy from a client. The router does not authenticate callers. With
// Server.RequireTenant off, a request without the tenant header reads across
// every tenant, so that mode belongs behind a proxy that strips or sets the
// header.
func NewRouter(container *di.Container, handler *Handler, gatherer prometheus.Gatherer) http.Handler {
	logger := container.Logger()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(tenant.Middleware(tenant.HeaderName, logger.Named("tenant")))
	r.Use(LogRequests(logger.Named("http")))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	guards := []func(http.Handler) http.Handler{throttle.Middleware(container.Throttle())}
	if container.Config().Server.RequireTenant {
		guards = append(guards, tenant.Require(logger.Named("tenant")))
	}
	r.With(guards...).Mount("/attendance", handler.Routes())
	return r
}
