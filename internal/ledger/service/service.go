package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks Store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	ledgermetrics "fraudengine/internal/ledger/metrics"
	"fraudengine/internal/ledger/models"
	"fraudengine/internal/sentinel"
	id "fraudengine/pkg/domain"
	dErrors "fraudengine/pkg/domain-errors"
)

// Store persists tokens and their audit trails. Execute and ExecuteBatch run
// mutate under the entity locks and commit tokens and entries together, or
// nothing when mutate fails.
type Store interface {
	Create(ctx context.Context, tokens []*models.Token, entries []*models.AuditEntry) error
	FindByID(ctx context.Context, tokenID id.TokenID) (*models.Token, error)
	AuditTrail(ctx context.Context, tokenID id.TokenID) ([]*models.AuditEntry, error)
	Execute(ctx context.Context, tokenID id.TokenID, mutate func(*models.Token) ([]*models.AuditEntry, error)) (*models.Token, error)
	ExecuteBatch(ctx context.Context, tokenIDs []id.TokenID, mutate func([]*models.Token) ([]*models.AuditEntry, error)) ([]*models.Token, error)
}

// Service owns every token state change. Nothing else writes token status.
type Service struct {
	store   Store
	logger  *slog.Logger
	metrics *ledgermetrics.Metrics
	now     func() time.Time
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *ledgermetrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithClock overrides the time source used for audit timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func New(store Store, opts ...Option) *Service {
	if store == nil {
		panic("ledger service: store is required")
	}
	s := &Service{store: store, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IssueCommand describes a token issuance.
type IssueCommand struct {
	OwnerID      id.UserID
	CBDCType     models.CBDCType
	Denomination decimal.Decimal
	Quantity     int
	Reason       string
	// Status is active for ordinary issuance and frozen for a pending replacement.
	Status      models.Status
	OperationID id.OperationID
}

// TransitionCommand moves one token along a table edge.
type TransitionCommand struct {
	TokenID     id.TokenID
	Target      models.Status
	OperationID id.OperationID
	Reason      string
}

// Issue mints cmd.Quantity tokens atomically; each gets its own create entry.
func (s *Service) Issue(ctx context.Context, cmd IssueCommand) ([]*models.Token, error) {
	start := time.Now()
	if cmd.Quantity == 0 {
		cmd.Quantity = 1
	}
	if cmd.Quantity < 1 || cmd.Quantity > models.MaxBulkTokens {
		return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("quantity must be between 1 and %d", models.MaxBulkTokens))
	}
	if cmd.Status == "" {
		cmd.Status = models.StatusActive
	}
	if cmd.OperationID.IsNil() {
		cmd.OperationID = id.NewOperationID()
	}

	now := s.now()
	tokens := make([]*models.Token, 0, cmd.Quantity)
	entries := make([]*models.AuditEntry, 0, cmd.Quantity)
	for range cmd.Quantity {
		t, entry, err := models.NewToken(cmd.OwnerID, cmd.CBDCType, cmd.Denomination, cmd.Status, cmd.OperationID, cmd.Reason, now)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
		entries = append(entries, entry)
	}
	if err := s.store.Create(ctx, tokens, entries); err != nil {
		return nil, wrapStoreErr(err, "failed to issue tokens")
	}

	if s.metrics != nil {
		s.metrics.IncrementIssued(string(cmd.CBDCType), string(cmd.Status), len(tokens))
		s.metrics.ObserveOperation("issue", start)
	}
	s.logInfo(ctx, "tokens issued",
		"owner_id", cmd.OwnerID,
		"count", len(tokens),
		"status", cmd.Status,
		"operation_id", cmd.OperationID)
	return tokens, nil
}

func (s *Service) Get(ctx context.Context, tokenID id.TokenID) (*models.Token, error) {
	if tokenID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "token ID required")
	}
	t, err := s.store.FindByID(ctx, tokenID)
	if err != nil {
		return nil, wrapStoreErr(err, "failed to load token")
	}
	return t, nil
}

func (s *Service) AuditTrail(ctx context.Context, tokenID id.TokenID) ([]*models.AuditEntry, error) {
	if tokenID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "token ID required")
	}
	entries, err := s.store.AuditTrail(ctx, tokenID)
	if err != nil {
		return nil, wrapStoreErr(err, "failed to load audit trail")
	}
	return entries, nil
}

// VerifyChain replays the stored trail against the token's chain head.
func (s *Service) VerifyChain(ctx context.Context, tokenID id.TokenID) (*models.ChainVerification, error) {
	t, err := s.Get(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	entries, err := s.AuditTrail(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	res := models.VerifyChain(tokenID, entries, t.ChainHead, s.now())
	if s.metrics != nil {
		s.metrics.IncrementChainVerification(res.Valid)
	}
	if !res.Valid {
		s.logWarn(ctx, "audit chain verification failed",
			"token_id", tokenID,
			"broken_at", res.BrokenAt,
			"reason", res.Reason)
	}
	return &res, nil
}

// Freeze moves an active token to frozen.
func (s *Service) Freeze(ctx context.Context, tokenID id.TokenID, reason string) (*models.Token, error) {
	return s.Transition(ctx, TransitionCommand{TokenID: tokenID, Target: models.StatusFrozen, Reason: reason})
}

// Unfreeze moves a frozen token back to active. Disputed tokens are released
// through Transition by the reversal flow, not here.
func (s *Service) Unfreeze(ctx context.Context, tokenID id.TokenID, reason string) (*models.Token, error) {
	return s.execute(ctx, "unfreeze", tokenID, func(t *models.Token) ([]*models.AuditEntry, error) {
		if t.Status != models.StatusFrozen {
			return nil, dErrors.WithDetails(
				dErrors.New(dErrors.CodeInvalidStateTransition,
					fmt.Sprintf("token %s is %s; only frozen tokens can be unfrozen", t.ID, t.Status)),
				t.Clone())
		}
		entry, err := t.Transition(models.StatusActive, id.NewOperationID(), reason, s.now())
		if err != nil {
			return nil, err
		}
		return []*models.AuditEntry{entry}, nil
	})
}

// Transition applies one table-checked edge. The audited operation is derived
// from the edge; a nil operation id gets a fresh one.
func (s *Service) Transition(ctx context.Context, cmd TransitionCommand) (*models.Token, error) {
	if !cmd.Target.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("unknown token status: %s", cmd.Target))
	}
	opID := cmd.OperationID
	if opID.IsNil() {
		opID = id.NewOperationID()
	}
	return s.execute(ctx, "transition", cmd.TokenID, func(t *models.Token) ([]*models.AuditEntry, error) {
		entry, err := t.Transition(cmd.Target, opID, cmd.Reason, s.now())
		if err != nil {
			return nil, err
		}
		return []*models.AuditEntry{entry}, nil
	})
}

// TransitionPath walks the token through several edges in one atomic unit,
// writing one entry per edge under a shared operation id. The first edge that
// does not exist rejects the whole path.
func (s *Service) TransitionPath(ctx context.Context, tokenID id.TokenID, path []models.Status, opID id.OperationID, reason string) (*models.Token, error) {
	if len(path) == 0 {
		return s.Get(ctx, tokenID)
	}
	if opID.IsNil() {
		opID = id.NewOperationID()
	}
	return s.execute(ctx, "transition", tokenID, func(t *models.Token) ([]*models.AuditEntry, error) {
		before := t.Clone()
		now := s.now()
		entries := make([]*models.AuditEntry, 0, len(path))
		for _, target := range path {
			entry, err := t.Transition(target, opID, reason, now)
			if err != nil {
				return nil, dErrors.WithDetails(err, before)
			}
			entries = append(entries, entry)
		}
		return entries, nil
	})
}

func (s *Service) TransferOwnership(ctx context.Context, tokenID id.TokenID, newOwner id.UserID, reason string) (*models.Token, error) {
	return s.execute(ctx, "ownership_transfer", tokenID, func(t *models.Token) ([]*models.AuditEntry, error) {
		entry, err := t.TransferOwnership(newOwner, id.NewOperationID(), reason, s.now())
		if err != nil {
			return nil, err
		}
		return []*models.AuditEntry{entry}, nil
	})
}

// BulkUpdateStatus validates every token before any is written. One offender
// or unknown id rejects the whole batch; on success every token moved and all
// entries share one operation id.
func (s *Service) BulkUpdateStatus(ctx context.Context, tokenIDs []id.TokenID, target models.Status, reason string) (*models.BulkResult, error) {
	start := time.Now()
	if err := validateBatch(tokenIDs, target); err != nil {
		return nil, err
	}
	opID := id.NewOperationID()
	var results []models.TokenResult

	tokens, err := s.store.ExecuteBatch(ctx, tokenIDs, func(batch []*models.Token) ([]*models.AuditEntry, error) {
		rejection := models.BulkRejection{TargetStatus: target}
		for i, t := range batch {
			switch {
			case t == nil:
				rejection.Missing = append(rejection.Missing, tokenIDs[i])
			case !t.Status.CanTransitionTo(target):
				rejection.Offenders = append(rejection.Offenders, models.Offender{TokenID: t.ID, CurrentStatus: t.Status})
			}
		}
		if len(rejection.Missing) > 0 {
			return nil, dErrors.WithDetails(
				dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("%d tokens not found", len(rejection.Missing))),
				rejection)
		}
		if len(rejection.Offenders) > 0 {
			return nil, dErrors.WithDetails(
				dErrors.New(dErrors.CodeInvalidStateTransition,
					fmt.Sprintf("%d tokens cannot move to %s", len(rejection.Offenders), target)),
				rejection)
		}

		now := s.now()
		entries := make([]*models.AuditEntry, 0, len(batch))
		results = make([]models.TokenResult, 0, len(batch))
		for _, t := range batch {
			old := t.Status
			entry, err := t.Transition(target, opID, reason, now)
			if err != nil {
				return nil, err
			}
			entries = append(entries, entry)
			results = append(results, models.TokenResult{TokenID: t.ID, OldStatus: old, NewStatus: target})
		}
		return entries, nil
	})
	if err != nil {
		if s.metrics != nil && dErrors.HasCode(err, dErrors.CodeInvalidStateTransition) {
			s.metrics.IncrementRejected(string(target))
		}
		return nil, wrapStoreErr(err, "failed to update token batch")
	}
	for i := range results {
		results[i].Token = tokens[i]
	}

	if s.metrics != nil {
		s.metrics.ObserveBulkSize(len(tokenIDs))
		s.metrics.ObserveOperation("bulk_update", start)
		for _, r := range results {
			s.metrics.IncrementTransition(string(models.OperationFor(r.OldStatus, r.NewStatus)))
		}
	}
	s.logInfo(ctx, "bulk token status update committed",
		"operation_id", opID,
		"count", len(tokenIDs),
		"target", target)
	return &models.BulkResult{OperationID: opID, Results: results}, nil
}

func validateBatch(tokenIDs []id.TokenID, target models.Status) error {
	if !target.IsValid() {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("unknown token status: %s", target))
	}
	if len(tokenIDs) == 0 || len(tokenIDs) > models.MaxBulkTokens {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("token_ids must contain between 1 and %d ids", models.MaxBulkTokens))
	}
	seen := make(map[id.TokenID]struct{}, len(tokenIDs))
	for _, tid := range tokenIDs {
		if tid.IsNil() {
			return dErrors.New(dErrors.CodeValidation, "token_ids must not contain nil ids")
		}
		if _, dup := seen[tid]; dup {
			return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("duplicate token id %s", tid))
		}
		seen[tid] = struct{}{}
	}
	return nil
}

func (s *Service) execute(ctx context.Context, op string, tokenID id.TokenID, mutate func(*models.Token) ([]*models.AuditEntry, error)) (*models.Token, error) {
	if tokenID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "token ID required")
	}
	start := time.Now()
	var committed []*models.AuditEntry
	t, err := s.store.Execute(ctx, tokenID, func(t *models.Token) ([]*models.AuditEntry, error) {
		entries, err := mutate(t)
		committed = entries
		return entries, err
	})
	if err != nil {
		if s.metrics != nil && dErrors.HasCode(err, dErrors.CodeInvalidStateTransition) {
			s.metrics.IncrementRejected(op)
		}
		return nil, wrapStoreErr(err, "failed to update token")
	}
	if s.metrics != nil {
		s.metrics.ObserveOperation(op, start)
		for _, e := range committed {
			s.metrics.IncrementTransition(string(e.Operation))
		}
	}
	for _, e := range committed {
		s.logInfo(ctx, "token state changed",
			"token_id", tokenID,
			"operation", e.Operation,
			"old_status", e.OldStatus,
			"new_status", e.NewStatus,
			"operation_id", e.OperationID)
	}
	return t, nil
}

func (s *Service) logInfo(ctx context.Context, msg string, args ...any) {
	if s.logger == nil {
		return
	}
	s.logger.InfoContext(ctx, msg, args...)
}

func (s *Service) logWarn(ctx context.Context, msg string, args ...any) {
	if s.logger == nil {
		return
	}
	s.logger.WarnContext(ctx, msg, args...)
}

// wrapStoreErr translates store sentinels into domain errors. Domain errors
// raised inside mutate callbacks pass through with their code and details.
func wrapStoreErr(err error, msg string) error {
	var de *dErrors.Error
	switch {
	case errors.As(err, &de):
		return err
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "token not found")
	case errors.Is(err, sentinel.ErrAlreadyExists):
		return dErrors.Wrap(err, dErrors.CodeConflict, "token already exists")
	case errors.Is(err, context.DeadlineExceeded):
		return dErrors.Wrap(err, dErrors.CodeTimeout, msg)
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, msg)
	}
}
