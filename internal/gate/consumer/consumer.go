// Package consumer feeds scored transactions from Kafka into the gate.
package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"fraudengine/internal/gate/models"
	kafkaconsumer "fraudengine/internal/platform/kafka/consumer"
	dErrors "fraudengine/pkg/domain-errors"
)

// Router routes one scored transaction.
type Router interface {
	RouteScoredTransaction(ctx context.Context, ev models.ScoredEvent) (*models.RouteResult, error)
}

// Handler adapts a Router to kafkaconsumer.Handler. Malformed events and
// non-retryable rejections are permanent; retryable failures are retried by
// the consumer and redelivered safely because routing is idempotent.
type Handler struct {
	router Router
	logger *slog.Logger
}

func NewHandler(router Router, logger *slog.Logger) *Handler {
	return &Handler{router: router, logger: logger}
}

func (h *Handler) Handle(ctx context.Context, msg *kafkaconsumer.Message) error {
	var req models.ScoredTransactionRequest
	if err := json.Unmarshal(msg.Value, &req); err != nil {
		return kafkaconsumer.Permanent(fmt.Errorf("decode scored transaction at offset %d: %w", msg.Offset, err))
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return kafkaconsumer.Permanent(err)
	}
	ev, err := req.ToEvent()
	if err != nil {
		return kafkaconsumer.Permanent(err)
	}

	res, err := h.router.RouteScoredTransaction(ctx, ev)
	if err != nil {
		if dErrors.IsRetryable(err) {
			return err
		}
		return kafkaconsumer.Permanent(err)
	}
	if h.logger != nil {
		h.logger.DebugContext(ctx, "scored transaction consumed",
			"transaction_id", ev.TransactionID,
			"action", res.Action,
			"partition", msg.Partition,
			"offset", msg.Offset)
	}
	return nil
}
