package cacheinfra

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	tierLocal  = "local"
	tierRemote = "remote"

	resultHit   = "hit"
	resultMiss  = "miss"
	resultError = "error"
)

// Metrics counts cache lookups per tier and outcome.
type Metrics struct {
	requests *prometheus.CounterVec
}

// NewMetrics registers the cache collectors with reg. A nil registerer yields
// working but unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		requests: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "attendance",
			Subsystem: "cache",
			Name:      "requests_total",
			Help:      "Cache lookups partitioned by tier and result.",
		}, []string{"tier", "result"}),
	}
}

func (m *Metrics) observe(tier, result string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(tier, result).Inc()
}
