package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"fraudengine/internal/platform/kafka"
)

// Message is a received record.
type Message struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Timestamp time.Time
}

// Handler processes consumed messages. A non-nil error is retried up to
// Config.MaxAttempts times; a message that never succeeds is logged and
// committed so the partition keeps moving.
type Handler interface {
	Handle(ctx context.Context, msg *Message) error
}

type HandlerFunc func(ctx context.Context, msg *Message) error

func (f HandlerFunc) Handle(ctx context.Context, msg *Message) error { return f(ctx, msg) }

// Permanent marks a handler error as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err}
}

type permanentError struct{ error }

func (e permanentError) Unwrap() error { return e.error }

type Config struct {
	Brokers     string
	GroupID     string
	Topics      []string
	MaxAttempts int
	Backoff     time.Duration
}

// Consumer is a franz-go group consumer with manual, at-least-once commits.
type Consumer struct {
	client  *kgo.Client
	handler Handler
	logger  *slog.Logger
	cfg     Config
}

func New(cfg Config, handler Handler, logger *slog.Logger) (*Consumer, error) {
	brokers := kafka.SplitBrokers(cfg.Brokers)
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers not configured")
	}
	if cfg.GroupID == "" {
		return nil, errors.New("kafka consumer group ID not configured")
	}
	if len(cfg.Topics) == 0 {
		return nil, errors.New("kafka consumer topics not configured")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 200 * time.Millisecond
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(cfg.GroupID),
		kgo.ConsumeTopics(cfg.Topics...),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
		kgo.DisableAutoCommit(),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer: %w", err)
	}

	return &Consumer{client: client, handler: handler, logger: logger, cfg: cfg}, nil
}

// Run polls until ctx is cancelled, then closes the client.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.client.Close()

	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return nil
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			c.logError("kafka fetch error", "topic", topic, "partition", partition, "error", err)
		})

		var done []*kgo.Record
		fetches.EachRecord(func(r *kgo.Record) {
			if ctx.Err() != nil {
				return
			}
			c.process(ctx, r)
			done = append(done, r)
		})
		if len(done) == 0 {
			continue
		}
		if err := c.client.CommitRecords(ctx, done...); err != nil && ctx.Err() == nil {
			c.logError("failed to commit offsets", "records", len(done), "error", err)
		}
	}
}

func (c *Consumer) process(ctx context.Context, r *kgo.Record) {
	msg := fromRecord(r)
	var err error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if err = c.handler.Handle(ctx, msg); err == nil {
			return
		}
		var perm permanentError
		if errors.As(err, &perm) || attempt == c.cfg.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.cfg.Backoff * time.Duration(attempt)):
		}
	}
	c.logError("dropping message after failed handling",
		"topic", msg.Topic,
		"partition", msg.Partition,
		"offset", msg.Offset,
		"error", err,
	)
}

func (c *Consumer) logError(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Error(msg, args...)
	}
}

func fromRecord(r *kgo.Record) *Message {
	headers := make(map[string]string, len(r.Headers))
	for _, h := range r.Headers {
		headers[h.Key] = string(h.Value)
	}
	return &Message{
		Topic:     r.Topic,
		Partition: r.Partition,
		Offset:    r.Offset,
		Key:       r.Key,
		Value:     r.Value,
		Headers:   headers,
		Timestamp: r.Timestamp,
	}
}
