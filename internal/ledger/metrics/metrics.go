package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for token ledger operations.
type Metrics struct {
	TokensIssued        *prometheus.CounterVec
	Transitions         *prometheus.CounterVec
	RejectedTransitions *prometheus.CounterVec
	BulkBatchSize       prometheus.Histogram
	ChainVerifications  *prometheus.CounterVec
	OperationLatency    *prometheus.HistogramVec
}

// New registers ledger collectors on reg. Pass prometheus.DefaultRegisterer in production.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		TokensIssued: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fraudengine_tokens_issued_total",
			Help: "Total number of tokens issued, labeled by CBDC type and initial status",
		}, []string{"cbdc_type", "status"}),
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fraudengine_token_transitions_total",
			Help: "Total number of committed token transitions, labeled by audited operation",
		}, []string{"operation"}),
		RejectedTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fraudengine_token_transitions_rejected_total",
			Help: "Total number of token transitions rejected by the transition table, labeled by target status",
		}, []string{"target"}),
		BulkBatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "fraudengine_token_bulk_batch_size",
			Help:    "Distribution of bulk status update batch sizes",
			Buckets: []float64{1, 5, 10, 50, 100, 250, 500, 1000},
		}),
		ChainVerifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fraudengine_audit_chain_verifications_total",
			Help: "Total number of audit chain verifications, labeled by result",
		}, []string{"result"}),
		OperationLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fraudengine_token_operation_latency_seconds",
			Help:    "Latency of token ledger operations in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"operation"}),
	}
}

func (m *Metrics) IncrementIssued(cbdcType, status string, n int) {
	m.TokensIssued.WithLabelValues(cbdcType, status).Add(float64(n))
}

func (m *Metrics) IncrementTransition(operation string) {
	m.Transitions.WithLabelValues(operation).Inc()
}

func (m *Metrics) IncrementRejected(target string) {
	m.RejectedTransitions.WithLabelValues(target).Inc()
}

func (m *Metrics) ObserveBulkSize(n int) {
	m.BulkBatchSize.Observe(float64(n))
}

func (m *Metrics) IncrementChainVerification(valid bool) {
	result := "valid"
	if !valid {
		result = "broken"
	}
	m.ChainVerifications.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveOperation(operation string, start time.Time) {
	m.OperationLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
