package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for arbitration and the SLA sweep.
type Metrics struct {
	Assignments         prometheus.Counter
	Decisions           *prometheus.CounterVec
	Escalations         *prometheus.CounterVec
	NotificationRetries *prometheus.CounterVec
	SweepRuns           *prometheus.CounterVec
	SweepDuration       prometheus.Histogram
	OverdueInFlight     prometheus.Counter
	ReversalRetries     *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Assignments: f.NewCounter(prometheus.CounterOpts{
			Name: "fraudengine_arbitration_assignments_total",
			Help: "Total number of case assignments, including reassignments",
		}),
		Decisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fraudengine_arbitration_decisions_total",
			Help: "Total number of arbitration decisions, labeled by resolution",
		}, []string{"resolution"}),
		Escalations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fraudengine_arbitration_escalations_total",
			Help: "Total number of overdue cases escalated, labeled by the raised priority",
		}, []string{"priority"}),
		NotificationRetries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fraudengine_arbitration_escalation_notifications_total",
			Help: "Escalation notification attempts, labeled by outcome",
		}, []string{"outcome"}),
		SweepRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fraudengine_arbitration_sweep_runs_total",
			Help: "Total number of SLA sweep runs, labeled by outcome",
		}, []string{"outcome"}),
		SweepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "fraudengine_arbitration_sweep_duration_seconds",
			Help:    "Duration of SLA sweep runs in seconds",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 30},
		}),
		OverdueInFlight: f.NewCounter(prometheus.CounterOpts{
			Name: "fraudengine_arbitration_overdue_reversals_flagged_total",
			Help: "Automated reversals flagged by the sweep for exceeding the 1h SLA while in flight",
		}),
		ReversalRetries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fraudengine_arbitration_reversal_retries_total",
			Help: "Supervisor retries of confirmed-fraud reversals, labeled by outcome",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) IncrementAssignment() {
	m.Assignments.Inc()
}

func (m *Metrics) IncrementDecision(resolution string) {
	m.Decisions.WithLabelValues(resolution).Inc()
}

func (m *Metrics) IncrementEscalation(priority string) {
	m.Escalations.WithLabelValues(priority).Inc()
}

func (m *Metrics) IncrementNotification(delivered bool) {
	outcome := "delivered"
	if !delivered {
		outcome = "failed"
	}
	m.NotificationRetries.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveSweep(start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.SweepRuns.WithLabelValues(outcome).Inc()
	m.SweepDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) AddOverdueInFlight(n int) {
	m.OverdueInFlight.Add(float64(n))
}

func (m *Metrics) IncrementReversalRetry(err error) {
	outcome := "reversed"
	if err != nil {
		outcome = "failed"
	}
	m.ReversalRetries.WithLabelValues(outcome).Inc()
}
