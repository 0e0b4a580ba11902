package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for the decision gate.
type Metrics struct {
	Routed        *prometheus.CounterVec
	Failures      *prometheus.CounterVec
	RouteDuration prometheus.Histogram
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Routed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fraudengine_gate_routed_total",
			Help: "Scored transactions routed by the gate, labeled by action and reason",
		}, []string{"action", "reason"}),
		Failures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fraudengine_gate_failures_total",
			Help: "Scored transactions the gate could not route, labeled by error code",
		}, []string{"code"}),
		RouteDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "fraudengine_gate_route_duration_seconds",
			Help:    "Time to route a scored transaction in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
	}
}

func (m *Metrics) IncrementRouted(action, reason string) {
	m.Routed.WithLabelValues(action, reason).Inc()
}

func (m *Metrics) IncrementFailure(code string) {
	m.Failures.WithLabelValues(code).Inc()
}

func (m *Metrics) ObserveRoute(start time.Time) {
	m.RouteDuration.Observe(time.Since(start).Seconds())
}
