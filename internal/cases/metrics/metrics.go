package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for fraud case handling.
type Metrics struct {
	CasesOpened       *prometheus.CounterVec
	StatusChanges     *prometheus.CounterVec
	RejectedChanges   *prometheus.CounterVec
	ResolutionFailed  prometheus.Counter
	HoldsPlaced       prometheus.Counter
	HoldsReleased     prometheus.Counter
	OperationDuration *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		CasesOpened: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fraudengine_cases_opened_total",
			Help: "Total number of fraud cases opened, labeled by source and priority",
		}, []string{"source", "priority"}),
		StatusChanges: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fraudengine_case_status_changes_total",
			Help: "Total number of committed case status changes, labeled by target status",
		}, []string{"status"}),
		RejectedChanges: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fraudengine_case_changes_rejected_total",
			Help: "Total number of case operations rejected by the state machine, labeled by operation",
		}, []string{"operation"}),
		ResolutionFailed: f.NewCounter(prometheus.CounterOpts{
			Name: "fraudengine_cases_resolution_failed_total",
			Help: "Total number of cases flagged resolution_failed",
		}),
		HoldsPlaced: f.NewCounter(prometheus.CounterOpts{
			Name: "fraudengine_case_token_holds_placed_total",
			Help: "Total number of tokens frozen when a case opened",
		}),
		HoldsReleased: f.NewCounter(prometheus.CounterOpts{
			Name: "fraudengine_case_token_holds_released_total",
			Help: "Total number of case holds released",
		}),
		OperationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fraudengine_case_operation_duration_seconds",
			Help:    "Duration of case operations in seconds",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"operation"}),
	}
}

func (m *Metrics) IncrementOpened(source, priority string) {
	m.CasesOpened.WithLabelValues(source, priority).Inc()
}

func (m *Metrics) IncrementStatusChange(status string) {
	m.StatusChanges.WithLabelValues(status).Inc()
}

func (m *Metrics) IncrementRejected(operation string) {
	m.RejectedChanges.WithLabelValues(operation).Inc()
}

func (m *Metrics) IncrementResolutionFailed() {
	m.ResolutionFailed.Inc()
}

func (m *Metrics) IncrementHoldPlaced() {
	m.HoldsPlaced.Inc()
}

func (m *Metrics) IncrementHoldReleased() {
	m.HoldsReleased.Inc()
}

func (m *Metrics) ObserveOperation(operation string, start time.Time) {
	m.OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
