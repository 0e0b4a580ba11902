package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"fraudengine/internal/arbitration/service"
	casemodels "fraudengine/internal/cases/models"
	id "fraudengine/pkg/domain"
	dErrors "fraudengine/pkg/domain-errors"
	"fraudengine/pkg/platform/httputil"
	"fraudengine/pkg/requestcontext"
)

// Service is the arbitration workflow.
type Service interface {
	GetUnassignedCases(ctx context.Context) ([]*casemodels.CaseView, error)
	GetCasesForArbitrator(ctx context.Context, arbitrator id.UserID) ([]*casemodels.CaseView, error)
	AssignCase(ctx context.Context, cmd service.AssignCommand) (*casemodels.CaseView, error)
	Decide(ctx context.Context, cmd service.DecideCommand) (*casemodels.CaseView, error)
	RetryReversal(ctx context.Context, cmd service.RetryReversalCommand) (*service.ReversalRetry, error)
	GetArbitrationStatistics(ctx context.Context) (*service.Statistics, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/v1/cases/unassigned", h.HandleUnassigned)
	r.Post("/v1/cases/{caseID}/assign", h.HandleAssign)
	r.Post("/v1/cases/{caseID}/decision", h.HandleDecide)
	r.Post("/v1/cases/{caseID}/reversal", h.HandleRetryReversal)
	r.Get("/v1/arbitrators/{arbitratorID}/cases", h.HandleArbitratorCases)
	r.Get("/v1/arbitration/statistics", h.HandleStatistics)
}

func (h *Handler) HandleUnassigned(w http.ResponseWriter, r *http.Request) {
	views, err := h.service.GetUnassignedCases(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"cases": views})
}

func (h *Handler) HandleArbitratorCases(w http.ResponseWriter, r *http.Request) {
	arbitrator, err := id.ParseUserID(chi.URLParam(r, "arbitratorID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid arbitrator id"))
		return
	}
	views, err := h.service.GetCasesForArbitrator(r.Context(), arbitrator)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"cases": views})
}

func (h *Handler) HandleAssign(w http.ResponseWriter, r *http.Request) {
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
	req, ok := httputil.DecodeAndPrepare[AssignRequest](w, r, h.logger)
	if !ok {
		return
	}
	arbitrator, err := id.ParseUserID(req.ArbitratorID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	view, err := h.service.AssignCase(ctx, service.AssignCommand{
		CaseID:          caseID,
		ArbitratorID:    arbitrator,
		CallerID:        caller,
		Note:            req.Note,
		ExpectedVersion: req.ExpectedVersion,
	})
	if err != nil {
		h.logger.WarnContext(ctx, "case assignment rejected",
			"case_id", caseID,
			"arbitrator_id", arbitrator,
			"error", err,
			"request_id", requestcontext.RequestID(ctx))
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, view)
}

// HandleDecide records the decision. A failed reversal after a confirmed
// decision is reported as an error whose details carry the resolved case.
func (h *Handler) HandleDecide(w http.ResponseWriter, r *http.Request) {
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
	req, ok := httputil.DecodeAndPrepare[DecisionRequest](w, r, h.logger)
	if !ok {
		return
	}

	view, err := h.service.Decide(ctx, service.DecideCommand{
		CaseID:          caseID,
		CallerID:        caller,
		Resolution:      casemodels.Resolution(req.Resolution),
		Reasoning:       req.Reasoning,
		Evidence:        req.Evidence,
		ExpectedVersion: req.ExpectedVersion,
	})
	if err != nil {
		h.logger.WarnContext(ctx, "decision failed",
			"case_id", caseID,
			"resolution", req.Resolution,
			"error", err,
			"request_id", requestcontext.RequestID(ctx))
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, view)
}

// HandleRetryReversal re-runs the reversal of a confirmed case. Supervisors only.
func (h *Handler) HandleRetryReversal(w http.ResponseWriter, r *http.Request) {
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

	result, err := h.service.RetryReversal(ctx, service.RetryReversalCommand{
		CaseID:   caseID,
		CallerID: caller,
	})
	if err != nil {
		h.logger.WarnContext(ctx, "reversal retry failed",
			"case_id", caseID,
			"error", err,
			"request_id", requestcontext.RequestID(ctx))
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) HandleStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.GetArbitrationStatistics(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}

func (h *Handler) caseID(w http.ResponseWriter, r *http.Request) (id.CaseID, bool) {
	caseID, err := id.ParseCaseID(chi.URLParam(r, "caseID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid case id"))
		return id.CaseID{}, false
	}
	return caseID, true
}
