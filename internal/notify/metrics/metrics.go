package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the notification outbox worker.
type Metrics struct {
	// Queue health
	PendingDepth prometheus.Gauge

	// Processing
	PublishedTotal  *prometheus.CounterVec
	PublishFailures prometheus.Counter
	PublishDuration prometheus.Histogram
	BatchSize       prometheus.Histogram
	PollDuration    prometheus.Histogram
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		PendingDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "fraudengine_outbox_pending_total",
			Help: "Current number of unpublished notification outbox entries",
		}),
		PublishedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fraudengine_outbox_published_total",
			Help: "Total number of notifications published to Kafka, labeled by event type",
		}, []string{"event_type"}),
		PublishFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "fraudengine_outbox_publish_failures_total",
			Help: "Total number of notification publish failures",
		}),
		PublishDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "fraudengine_outbox_publish_duration_seconds",
			Help:    "Time taken to publish one notification to Kafka",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		BatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "fraudengine_outbox_batch_size",
			Help:    "Number of entries processed per poll",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),
		PollDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "fraudengine_outbox_poll_duration_seconds",
			Help:    "Time taken for each poll cycle",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

func (m *Metrics) SetPendingDepth(n int64) {
	m.PendingDepth.Set(float64(n))
}

func (m *Metrics) IncPublished(eventType string) {
	m.PublishedTotal.WithLabelValues(eventType).Inc()
}

func (m *Metrics) IncPublishFailures() {
	m.PublishFailures.Inc()
}

func (m *Metrics) ObservePublishDuration(seconds float64) {
	m.PublishDuration.Observe(seconds)
}

func (m *Metrics) ObserveBatchSize(n int) {
	m.BatchSize.Observe(float64(n))
}

func (m *Metrics) ObservePollDuration(seconds float64) {
	m.PollDuration.Observe(seconds)
}
