package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"fraudengine/internal/reversal/models"
	id "fraudengine/pkg/domain"
	dErrors "fraudengine/pkg/domain-errors"
	"fraudengine/pkg/platform/httputil"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Service is the read side of the reversal executor.
type Service interface {
	Record(ctx context.Context, txID id.TransactionID) (*models.ReversalRecord, error)
	ListRecent(ctx context.Context, limit int) ([]*models.ReversalRecord, error)
	Statistics() models.Statistics
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/v1/reversals", h.HandleListRecent)
	r.Get("/v1/reversals/statistics", h.HandleStatistics)
	r.Get("/v1/reversals/{transactionID}", h.HandleGetRecord)
}

func (h *Handler) HandleStatistics(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.service.Statistics())
}

func (h *Handler) HandleGetRecord(w http.ResponseWriter, r *http.Request) {
	txID, err := id.ParseTransactionID(chi.URLParam(r, "transactionID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid transaction id"))
		return
	}
	record, err := h.service.Record(r.Context(), txID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, record)
}

// HandleListRecent returns the newest reversal records, ?limit=N (default 50).
func (h *Handler) HandleListRecent(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxListLimit {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "limit must be between 1 and 500"))
			return
		}
		limit = n
	}
	records, err := h.service.ListRecent(r.Context(), limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to list reversals", "error", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"reversals": records})
}
