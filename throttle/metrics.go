package throttle

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	resultAllowed  = "allowed"
	resultRejected = "rejected"
)

// Metrics counts throttle decisions.
type Metrics struct {
	decisions *prometheus.CounterVec
	clients   prometheus.Gauge
}

// NewMetrics registers the throttle collectors with reg. A nil registerer
// yields working but unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "attendance",
			Subsystem: "throttle",
			Name:      "decisions_total",
			Help:      "Throttle decisions partitioned by result.",
		}, []string{"result"}),
		clients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "attendance",
			Subsystem: "throttle",
			Name:      "tracked_clients",
			Help:      "Client windows currently held in memory.",
		}),
	}
}

func (m *Metrics) observe(allowed bool) {
	if m == nil {
		return
	}
	if allowed {
		m.decisions.WithLabelValues(resultAllowed).Inc()
		return
	}
	m.decisions.WithLabelValues(resultRejected).Inc()
}

func (m *Metrics) tracked(n int) {
	if m == nil {
		return
	}
	m.clients.Set(float64(n))
}
