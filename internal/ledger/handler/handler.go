package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"fraudengine/internal/ledger/models"
	"fraudengine/internal/ledger/service"
	id "fraudengine/pkg/domain"
	dErrors "fraudengine/pkg/domain-errors"
	"fraudengine/pkg/platform/httputil"
	"fraudengine/pkg/platform/middleware/auth"
	"fraudengine/pkg/requestcontext"
)

// Service is the token ledger as seen by HTTP callers.
type Service interface {
	Issue(ctx context.Context, cmd service.IssueCommand) ([]*models.Token, error)
	Get(ctx context.Context, tokenID id.TokenID) (*models.Token, error)
	AuditTrail(ctx context.Context, tokenID id.TokenID) ([]*models.AuditEntry, error)
	VerifyChain(ctx context.Context, tokenID id.TokenID) (*models.ChainVerification, error)
	Freeze(ctx context.Context, tokenID id.TokenID, reason string) (*models.Token, error)
	Unfreeze(ctx context.Context, tokenID id.TokenID, reason string) (*models.Token, error)
	TransferOwnership(ctx context.Context, tokenID id.TokenID, newOwner id.UserID, reason string) (*models.Token, error)
	BulkUpdateStatus(ctx context.Context, tokenIDs []id.TokenID, target models.Status, reason string) (*models.BulkResult, error)
}

type Handler struct {
	service   Service
	operators auth.RoleCheck
	logger    *slog.Logger
}

// New builds the ledger handler. operators decides who may change token
// status or ownership directly.
func New(service Service, operators auth.RoleCheck, logger *slog.Logger) *Handler {
	return &Handler{service: service, operators: operators, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/v1/tokens", h.HandleIssue)
	r.Get("/v1/tokens/{tokenID}", h.HandleGet)
	r.Get("/v1/tokens/{tokenID}/audit", h.HandleAuditTrail)
	r.Get("/v1/tokens/{tokenID}/audit/verify", h.HandleVerifyChain)

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireRole(h.operators, h.logger))
		r.Post("/v1/tokens/bulk-status", h.HandleBulkStatus)
		r.Post("/v1/tokens/{tokenID}/freeze", h.HandleFreeze)
		r.Post("/v1/tokens/{tokenID}/unfreeze", h.HandleUnfreeze)
		r.Post("/v1/tokens/{tokenID}/transfer", h.HandleTransfer)
	})
}

// HandleIssue mints one or more tokens to an owner.
func (h *Handler) HandleIssue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[models.IssueRequest](w, r, h.logger)
	if !ok {
		return
	}
	ownerID, err := id.ParseUserID(req.OwnerID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	denomination, err := decimal.NewFromString(req.Denomination)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "denomination must be a decimal number"))
		return
	}

	tokens, err := h.service.Issue(ctx, service.IssueCommand{
		OwnerID:      ownerID,
		CBDCType:     models.CBDCType(req.CBDCType),
		Denomination: denomination,
		Quantity:     req.Quantity,
		Reason:       req.Reason,
	})
	if err != nil {
		h.logger.ErrorContext(ctx, "issue tokens failed", "error", err, "request_id", requestID)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, IssueResponse{Tokens: tokens, Count: len(tokens)})
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	tokenID, ok := h.tokenID(w, r)
	if !ok {
		return
	}
	token, err := h.service.Get(r.Context(), tokenID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, token)
}

func (h *Handler) HandleAuditTrail(w http.ResponseWriter, r *http.Request) {
	tokenID, ok := h.tokenID(w, r)
	if !ok {
		return
	}
	entries, err := h.service.AuditTrail(r.Context(), tokenID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, AuditTrailResponse{TokenID: tokenID, Entries: entries})
}

// HandleVerifyChain replays the token's audit chain. A broken chain is still a
// 200: the verification result is the payload.
func (h *Handler) HandleVerifyChain(w http.ResponseWriter, r *http.Request) {
	tokenID, ok := h.tokenID(w, r)
	if !ok {
		return
	}
	result, err := h.service.VerifyChain(r.Context(), tokenID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if !result.Valid {
		h.logger.WarnContext(r.Context(), "audit chain verification failed",
			"token_id", tokenID,
			"broken_at", result.BrokenAt,
			"reason", result.Reason,
			"request_id", requestcontext.RequestID(r.Context()))
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) HandleFreeze(w http.ResponseWriter, r *http.Request) {
	h.handleStatusChange(w, r, "freeze", h.service.Freeze)
}

func (h *Handler) HandleUnfreeze(w http.ResponseWriter, r *http.Request) {
	h.handleStatusChange(w, r, "unfreeze", h.service.Unfreeze)
}

func (h *Handler) handleStatusChange(w http.ResponseWriter, r *http.Request, op string, apply func(context.Context, id.TokenID, string) (*models.Token, error)) {
	ctx := r.Context()
	tokenID, ok := h.tokenID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[models.StatusChangeRequest](w, r, h.logger)
	if !ok {
		return
	}

	token, err := apply(ctx, tokenID, req.Reason)
	if err != nil {
		h.logger.WarnContext(ctx, op+" token rejected",
			"token_id", tokenID,
			"error", err,
			"request_id", requestcontext.RequestID(ctx))
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, token)
}

func (h *Handler) HandleTransfer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tokenID, ok := h.tokenID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[models.TransferRequest](w, r, h.logger)
	if !ok {
		return
	}
	newOwner, err := id.ParseUserID(req.NewOwnerID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	token, err := h.service.TransferOwnership(ctx, tokenID, newOwner, req.Reason)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, token)
}

// HandleBulkStatus moves every listed token to one status or none of them.
func (h *Handler) HandleBulkStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[models.BulkStatusRequest](w, r, h.logger)
	if !ok {
		return
	}
	ids := make([]id.TokenID, 0, len(req.TokenIDs))
	for _, raw := range req.TokenIDs {
		tokenID, err := id.ParseTokenID(raw)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		ids = append(ids, tokenID)
	}

	result, err := h.service.BulkUpdateStatus(ctx, ids, models.Status(req.TargetStatus), req.Reason)
	if err != nil {
		h.logger.WarnContext(ctx, "bulk status update rejected",
			"count", len(ids),
			"target_status", req.TargetStatus,
			"error", err,
			"request_id", requestID)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) tokenID(w http.ResponseWriter, r *http.Request) (id.TokenID, bool) {
	tokenID, err := id.ParseTokenID(chi.URLParam(r, "tokenID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid token id"))
		return id.TokenID{}, false
	}
	return tokenID, true
}
