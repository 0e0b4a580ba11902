package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"fraudengine/internal/cases/models"
	"fraudengine/internal/cases/service"
	id "fraudengine/pkg/domain"
	dErrors "fraudengine/pkg/domain-errors"
	"fraudengine/pkg/platform/httputil"
	"fraudengine/pkg/requestcontext"
)

// Service is the case lifecycle as seen by reporters.
type Service interface {
	SubmitFraudReport(ctx context.Context, cmd service.SubmitReportCommand) (*models.CaseView, error)
	GetCase(ctx context.Context, caseID id.CaseID) (*models.CaseView, error)
	AddEvidence(ctx context.Context, caseID id.CaseID, caller id.UserID, evidence map[string]any) (*models.CaseView, error)
	CloseCase(ctx context.Context, caseID id.CaseID, caller id.UserID, reason string) (*models.CaseView, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/v1/reports", h.HandleSubmitReport)
	r.Get("/v1/cases/{caseID}", h.HandleGetCase)
	r.Post("/v1/cases/{caseID}/evidence", h.HandleAddEvidence)
	r.Post("/v1/cases/{caseID}/close", h.HandleClose)
}

// HandleSubmitReport opens a fraud case on behalf of the authenticated caller.
func (h *Handler) HandleSubmitReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	caller, err := httputil.RequireCaller(ctx)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[models.SubmitReportRequest](w, r, h.logger)
	if !ok {
		return
	}
	txID, err := id.ParseTransactionID(req.TransactionID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	view, err := h.service.SubmitFraudReport(ctx, service.SubmitReportCommand{
		TransactionID: txID,
		ReporterID:    caller,
		CaseType:      models.CaseType(req.CaseType),
		Description:   req.Description,
		Evidence:      req.Evidence,
		UserAgent:     requestcontext.UserAgent(ctx),
		ClientIP:      requestcontext.ClientIP(ctx),
	})
	if err != nil {
		h.logger.WarnContext(ctx, "fraud report rejected",
			"transaction_id", txID,
			"error", err,
			"request_id", requestID)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, models.ReportReceipt{
		CaseID:              view.ID.String(),
		Status:              view.Status,
		Priority:            view.Priority,
		EstimatedResolution: view.EstimatedResolution,
		TokenHeld:           view.TokenHeld,
	})
}

func (h *Handler) HandleGetCase(w http.ResponseWriter, r *http.Request) {
	caseID, ok := h.caseID(w, r)
	if !ok {
		return
	}
	view, err := h.service.GetCase(r.Context(), caseID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, view)
}

func (h *Handler) HandleAddEvidence(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, err := httputil.RequireCaller(ctx)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	caseID, ok := h.caseID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[models.AddEvidenceRequest](w, r, h.logger)
	if !ok {
		return
	}

	view, err := h.service.AddEvidence(ctx, caseID, caller, req.Evidence)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, view)
}

func (h *Handler) HandleClose(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, err := httputil.RequireCaller(ctx)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	caseID, ok := h.caseID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[models.CloseRequest](w, r, h.logger)
	if !ok {
		return
	}

	view, err := h.service.CloseCase(ctx, caseID, caller, req.Reason)
	if err != nil {
		h.logger.WarnContext(ctx, "close case rejected",
			"case_id", caseID,
			"error", err,
			"request_id", requestcontext.RequestID(ctx))
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, view)
}

func (h *Handler) caseID(w http.ResponseWriter, r *http.Request) (id.CaseID, bool) {
	caseID, err := id.ParseCaseID(chi.URLParam(r, "caseID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid case id"))
		return id.CaseID{}, false
	}
	return caseID, true
}
