package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"fraudengine/internal/gate/models"
	"fraudengine/pkg/platform/httputil"
	"fraudengine/pkg/requestcontext"
)

// Service routes scored transactions.
type Service interface {
	RouteScoredTransaction(ctx context.Context, ev models.ScoredEvent) (*models.RouteResult, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/v1/transactions/scored", h.HandleScored)
}

// HandleScored accepts an event from the risk scorer. Reversed and
// case_opened answer 201; cleared answers 200.
func (h *Handler) HandleScored(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[models.ScoredTransactionRequest](w, r, h.logger)
	if !ok {
		return
	}
	ev, err := req.ToEvent()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	res, err := h.service.RouteScoredTransaction(ctx, ev)
	if err != nil {
		h.logger.WarnContext(ctx, "scored transaction not routed",
			"transaction_id", ev.TransactionID,
			"error", err,
			"request_id", requestcontext.RequestID(ctx))
		httputil.WriteError(w, err)
		return
	}

	status := http.StatusCreated
	if res.Action == models.ActionCleared || res.Reason == models.ReasonReplay {
		status = http.StatusOK
	}
	httputil.WriteJSON(w, status, res)
}
