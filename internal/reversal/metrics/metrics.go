package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for the reversal executor and the
// transaction ledger client.
type Metrics struct {
	Reversals        *prometheus.CounterVec
	ReversalDuration *prometheus.HistogramVec
	SLABreaches      *prometheus.CounterVec
	Rollbacks        prometheus.Counter
	LedgerCalls      *prometheus.CounterVec
	LedgerLatency    *prometheus.HistogramVec
	BreakerState     *prometheus.GaugeVec
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Reversals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fraudengine_reversals_total",
			Help: "Total number of reversal attempts, labeled by type and outcome",
		}, []string{"type", "outcome"}),
		ReversalDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fraudengine_reversal_duration_seconds",
			Help:    "Duration of reversal execution in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"type"}),
		SLABreaches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fraudengine_reversal_sla_breaches_total",
			Help: "Total number of reversals that finished outside their SLA budget",
		}, []string{"type"}),
		Rollbacks: f.NewCounter(prometheus.CounterOpts{
			Name: "fraudengine_reversal_rollbacks_total",
			Help: "Total number of reversals rolled back after the external ledger failed",
		}),
		LedgerCalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fraudengine_transaction_ledger_requests_total",
			Help: "Total number of transaction ledger calls, labeled by operation and outcome",
		}, []string{"operation", "outcome"}),
		LedgerLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fraudengine_transaction_ledger_request_duration_seconds",
			Help:    "Latency of transaction ledger calls in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		BreakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fraudengine_circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		}, []string{"name"}),
	}
}

func (m *Metrics) IncrementReversal(reversalType, outcome string) {
	m.Reversals.WithLabelValues(reversalType, outcome).Inc()
}

func (m *Metrics) ObserveReversal(reversalType string, start time.Time) {
	m.ReversalDuration.WithLabelValues(reversalType).Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncrementSLABreach(reversalType string) {
	m.SLABreaches.WithLabelValues(reversalType).Inc()
}

func (m *Metrics) IncrementRollback() {
	m.Rollbacks.Inc()
}

func (m *Metrics) ObserveLedgerCall(operation, outcome string, start time.Time) {
	m.LedgerCalls.WithLabelValues(operation, outcome).Inc()
	m.LedgerLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func (m *Metrics) SetBreakerState(name string, state int) {
	m.BreakerState.WithLabelValues(name).Set(float64(state))
}
