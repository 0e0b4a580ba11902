package worker

import (
	"context"
	"log/slog"
	"time"

	"fraudengine/internal/notify/metrics"
	"fraudengine/internal/notify/outbox"
	"fraudengine/internal/platform/kafka/producer"
)

// Publisher sends one record to the broker and waits for the acknowledgement.
// *producer.Producer satisfies it.
type Publisher interface {
	Produce(ctx context.Context, msg *producer.Message) error
}

// Worker polls the outbox and publishes pending notifications to Kafka.
// Delivery is at least once: an entry published but not marked is sent again
// on the next poll, so consumers dedupe on event_id.
type Worker struct {
	store        outbox.Store
	publisher    Publisher
	topic        string
	batchSize    int
	pollInterval time.Duration
	retention    time.Duration
	metrics      *metrics.Metrics
	logger       *slog.Logger
	now          func() time.Time
}

// Option configures the Worker.
type Option func(*Worker)

func WithTopic(topic string) Option {
	return func(w *Worker) {
		w.topic = topic
	}
}

// WithBatchSize sets the maximum number of entries fetched per poll.
func WithBatchSize(size int) Option {
	return func(w *Worker) {
		if size > 0 {
			w.batchSize = size
		}
	}
}

func WithPollInterval(interval time.Duration) Option {
	return func(w *Worker) {
		if interval > 0 {
			w.pollInterval = interval
		}
	}
}

// WithRetention sets how long published entries are kept before cleanup.
// Zero disables cleanup.
func WithRetention(d time.Duration) Option {
	return func(w *Worker) {
		w.retention = d
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Worker) {
		w.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		w.logger = logger
	}
}

func New(store outbox.Store, publisher Publisher, opts ...Option) *Worker {
	w := &Worker{
		store:        store,
		publisher:    publisher,
		topic:        "fraud.case-events",
		batchSize:    100,
		pollInterval: 500 * time.Millisecond,
		retention:    24 * time.Hour,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run polls until ctx is cancelled, then drains what is left with a short
// deadline. It always returns nil so it can sit in an errgroup.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.drain()
			return nil
		case <-ticker.C:
			w.PollOnce(ctx)
		}
	}
}

// PollOnce publishes one batch and returns the number of entries published.
func (w *Worker) PollOnce(ctx context.Context) int {
	start := time.Now()
	entries, err := w.store.FetchUnprocessed(ctx, w.batchSize)
	if err != nil {
		w.logError(ctx, "failed to fetch outbox entries", "error", err)
		if w.metrics != nil {
			w.metrics.IncPublishFailures()
		}
		return 0
	}
	if len(entries) == 0 {
		w.updatePending(ctx)
		return 0
	}
	if w.metrics != nil {
		w.metrics.ObserveBatchSize(len(entries))
	}

	published := w.publishBatch(ctx, entries)

	if w.metrics != nil {
		w.metrics.ObservePollDuration(time.Since(start).Seconds())
	}
	w.updatePending(ctx)
	w.cleanup(ctx)
	return published
}

func (w *Worker) publishBatch(ctx context.Context, entries []*outbox.Entry) int {
	published := 0
	for _, entry := range entries {
		if err := w.publishEntry(ctx, entry); err != nil {
			w.logError(ctx, "failed to publish outbox entry",
				"id", entry.ID,
				"case_id", entry.CaseID,
				"event_type", entry.EventType,
				"error", err)
			if w.metrics != nil {
				w.metrics.IncPublishFailures()
			}
			// Retried on the next poll.
			continue
		}
		if err := w.store.MarkProcessed(ctx, entry.ID, w.now()); err != nil {
			w.logError(ctx, "failed to mark outbox entry processed",
				"id", entry.ID,
				"error", err)
			continue
		}
		published++
		if w.metrics != nil {
			w.metrics.IncPublished(entry.EventType)
		}
	}
	return published
}

// publishEntry keys records by case id so one case's events stay ordered
// within a partition.
func (w *Worker) publishEntry(ctx context.Context, entry *outbox.Entry) error {
	start := time.Now()
	msg := &producer.Message{
		Topic: w.topic,
		Key:   []byte(entry.CaseID.String()),
		Value: entry.Payload,
		Headers: map[string]string{
			"event_id":   entry.ID.String(),
			"event_type": entry.EventType,
			"case_id":    entry.CaseID.String(),
		},
	}
	if err := w.publisher.Produce(ctx, msg); err != nil {
		return err
	}
	if w.metrics != nil {
		w.metrics.ObservePublishDuration(time.Since(start).Seconds())
	}
	return nil
}

func (w *Worker) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	w.logInfo(ctx, "draining notification outbox")

	for ctx.Err() == nil {
		entries, err := w.store.FetchUnprocessed(ctx, w.batchSize)
		if err != nil {
			w.logError(ctx, "failed to fetch entries during drain", "error", err)
			return
		}
		if len(entries) == 0 {
			return
		}
		if w.publishBatch(ctx, entries) == 0 {
			// Broker unavailable; leave the rest for the next start.
			return
		}
	}
}

func (w *Worker) updatePending(ctx context.Context) {
	if w.metrics == nil {
		return
	}
	count, err := w.store.CountPending(ctx)
	if err != nil {
		return
	}
	w.metrics.SetPendingDepth(count)
}

func (w *Worker) cleanup(ctx context.Context) {
	if w.retention <= 0 {
		return
	}
	n, err := w.store.DeleteProcessedBefore(ctx, w.now().Add(-w.retention))
	if err != nil {
		w.logError(ctx, "failed to delete published outbox entries", "error", err)
		return
	}
	if n > 0 {
		w.logInfo(ctx, "deleted published outbox entries", "count", n)
	}
}

func (w *Worker) logInfo(ctx context.Context, msg string, args ...any) {
	if w.logger != nil {
		w.logger.InfoContext(ctx, msg, args...)
	}
}

func (w *Worker) logError(ctx context.Context, msg string, args ...any) {
	if w.logger != nil {
		w.logger.ErrorContext(ctx, msg, args...)
	}
}
