package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks Store TransactionLookup TokenHolds

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"fraudengine/internal/cases/device"
	casemetrics "fraudengine/internal/cases/metrics"
	"fraudengine/internal/cases/models"
	"fraudengine/internal/identity"
	ledgermodels "fraudengine/internal/ledger/models"
	"fraudengine/internal/notify"
	"fraudengine/internal/reversal/ports"
	"fraudengine/internal/sentinel"
	id "fraudengine/pkg/domain"
	dErrors "fraudengine/pkg/domain-errors"
	"fraudengine/pkg/validation"
)

// Store persists fraud cases. Execute runs mutate under the case lock and
// commits it with the version bumped, or nothing when mutate fails.
type Store interface {
	Create(ctx context.Context, c *models.FraudCase) error
	FindByID(ctx context.Context, caseID id.CaseID) (*models.FraudCase, error)
	FindOpenByTransaction(ctx context.Context, txID id.TransactionID) (*models.FraudCase, error)
	ListByStatus(ctx context.Context, statuses ...models.Status) ([]*models.FraudCase, error)
	ListByArbitrator(ctx context.Context, arbitrator id.UserID) ([]*models.FraudCase, error)
	ListUnassigned(ctx context.Context) ([]*models.FraudCase, error)
	ListOverdueCandidates(ctx context.Context, cutoff time.Time) ([]*models.FraudCase, error)
	ListEscalatedUnnotified(ctx context.Context) ([]*models.FraudCase, error)
	Execute(ctx context.Context, caseID id.CaseID, mutate func(*models.FraudCase) error) (*models.FraudCase, error)
}

// TransactionLookup resolves a transaction on the external ledger.
type TransactionLookup interface {
	Lookup(ctx context.Context, txID id.TransactionID) (*ports.Transaction, error)
}

// TokenHolds places and releases the freeze that protects a disputed token
// while its case is open.
type TokenHolds interface {
	Freeze(ctx context.Context, tokenID id.TokenID, reason string) (*ledgermodels.Token, error)
	Unfreeze(ctx context.Context, tokenID id.TokenID, reason string) (*ledgermodels.Token, error)
}

// Service owns fraud case creation and every case mutation.
type Service struct {
	store        Store
	transactions TransactionLookup
	holds        TokenHolds
	notifier     notify.Notifier
	roles        identity.RoleDirectory
	holdOnReport bool
	logger       *slog.Logger
	metrics      *casemetrics.Metrics
	now          func() time.Time
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *casemetrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func WithNotifier(n notify.Notifier) Option {
	return func(s *Service) {
		s.notifier = n
	}
}

// WithRoles lets supervisors add evidence to and close cases they do not own.
func WithRoles(roles identity.RoleDirectory) Option {
	return func(s *Service) {
		s.roles = roles
	}
}

// WithHoldOnReport freezes the disputed token when a report opens a case.
func WithHoldOnReport(hold bool) Option {
	return func(s *Service) {
		s.holdOnReport = hold
	}
}

func New(store Store, transactions TransactionLookup, holds TokenHolds, opts ...Option) *Service {
	if store == nil {
		panic("cases service: store is required")
	}
	if transactions == nil {
		panic("cases service: transaction lookup is required")
	}
	if holds == nil {
		panic("cases service: token holds are required")
	}
	s := &Service{
		store:        store,
		transactions: transactions,
		holds:        holds,
		holdOnReport: true,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SubmitReportCommand is a fraud report from a party to the transaction.
type SubmitReportCommand struct {
	TransactionID id.TransactionID
	ReporterID    id.UserID
	CaseType      models.CaseType
	Description   string
	Evidence      map[string]any
	UserAgent     string
	ClientIP      string
}

// SubmitFraudReport opens a case for a reported transaction. With holds
// enabled the paying token is frozen first; if the case cannot be stored the
// freeze is undone.
func (s *Service) SubmitFraudReport(ctx context.Context, cmd SubmitReportCommand) (*models.CaseView, error) {
	start := time.Now()
	cmd.Description = strings.TrimSpace(cmd.Description)
	if err := validateReport(cmd); err != nil {
		return nil, err
	}

	tx, err := s.lookupTransaction(ctx, cmd.TransactionID)
	if err != nil {
		return nil, err
	}
	if cmd.ReporterID != tx.PayerID && cmd.ReporterID != tx.PayeeID {
		return nil, dErrors.New(dErrors.CodeForbidden, "reporter is not a party to the transaction")
	}
	if err := s.ensureNoActiveCase(ctx, tx.ID); err != nil {
		return nil, err
	}

	evidence := make(map[string]any, len(cmd.Evidence)+1)
	for k, v := range cmd.Evidence {
		evidence[k] = v
	}
	if dev := device.Describe(cmd.UserAgent, cmd.ClientIP); dev != nil {
		evidence[models.EvidenceReporterDevice] = dev
	}

	held, err := s.placeHold(ctx, s.holdOnReport, tx.TokenID, "fraud report on transaction "+tx.ID.String())
	if err != nil {
		return nil, err
	}
	c, err := models.NewReportedCase(models.ReportParams{
		TransactionID: tx.ID,
		TokenID:       tx.TokenID,
		ReporterID:    cmd.ReporterID,
		CaseType:      cmd.CaseType,
		Priority:      models.ReportPriority(cmd.CaseType, tx.Amount),
		Description:   cmd.Description,
		Evidence:      evidence,
		TokenHeld:     held,
	}, s.now())
	if err == nil {
		err = s.store.Create(ctx, c)
	}
	if err != nil {
		s.undoHold(ctx, held, tx.TokenID)
		return nil, wrapCreateErr(err)
	}

	s.opened(ctx, c, start)
	return models.NewView(c, s.now()), nil
}

func validateReport(cmd SubmitReportCommand) error {
	if cmd.TransactionID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "transaction_id is required")
	}
	if cmd.ReporterID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "reporter_id is required")
	}
	if !cmd.CaseType.IsValid() {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("unknown case_type: %s", cmd.CaseType))
	}
	if cmd.Description == "" {
		return dErrors.New(dErrors.CodeValidation, "description is required")
	}
	if err := validation.CheckStringLength("description", cmd.Description, validation.MaxDescriptionLength); err != nil {
		return err
	}
	return validation.CheckEvidence(cmd.Evidence)
}

// ScoredCaseCommand opens or records a case for a transaction the decision
// gate scored.
type ScoredCaseCommand struct {
	TransactionID id.TransactionID
	TokenID       id.TokenID
	ReporterID    *id.UserID
	Score         float64
	Confidence    float64
	Amount        decimal.Decimal
	Snapshot      map[string]any
	Hold          bool
}

func (c ScoredCaseCommand) params(held bool) models.ScoredParams {
	return models.ScoredParams{
		TransactionID: c.TransactionID,
		TokenID:       c.TokenID,
		ReporterID:    c.ReporterID,
		Priority:      models.ScoredPriority(c.Score, c.Amount),
		Score:         c.Score,
		Confidence:    c.Confidence,
		Snapshot:      c.Snapshot,
		TokenHeld:     held,
	}
}

// OpenScoredCase opens an unassigned case for arbitration. It is idempotent
// per transaction: when a case that is not closed already exists it is
// returned with created false.
func (s *Service) OpenScoredCase(ctx context.Context, cmd ScoredCaseCommand) (*models.CaseView, bool, error) {
	start := time.Now()
	if existing, err := s.store.FindOpenByTransaction(ctx, cmd.TransactionID); err == nil {
		return models.NewView(existing, s.now()), false, nil
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, false, wrapStoreErr(err, "failed to look up transaction case")
	}

	held, err := s.placeHold(ctx, cmd.Hold, cmd.TokenID, "arbitration hold on transaction "+cmd.TransactionID.String())
	if err != nil {
		return nil, false, err
	}
	c, err := models.NewScoredCase(cmd.params(held), s.now())
	if err == nil {
		err = s.store.Create(ctx, c)
	}
	if err != nil {
		s.undoHold(ctx, held, cmd.TokenID)
		if errors.Is(err, sentinel.ErrAlreadyExists) {
			// Lost a race with a concurrent delivery of the same event.
			if existing, findErr := s.store.FindOpenByTransaction(ctx, cmd.TransactionID); findErr == nil {
				return models.NewView(existing, s.now()), false, nil
			}
		}
		return nil, false, wrapCreateErr(err)
	}

	s.opened(ctx, c, start)
	return models.NewView(c, s.now()), true, nil
}

// RecordAutoResolved stores the audit case of an automatic reversal.
func (s *Service) RecordAutoResolved(ctx context.Context, cmd ScoredCaseCommand, reasoning string) (*models.FraudCase, error) {
	start := time.Now()
	c, err := models.NewAutoResolvedCase(cmd.params(false), reasoning, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, c); err != nil {
		return nil, wrapCreateErr(err)
	}
	if s.metrics != nil {
		s.metrics.IncrementOpened(string(c.Source), string(c.Priority))
		s.metrics.ObserveOperation("record_auto_resolved", start)
	}
	s.logInfo(ctx, "automatic reversal case recorded",
		"case_id", c.ID,
		"transaction_id", c.TransactionID)
	return c, nil
}

func (s *Service) GetCase(ctx context.Context, caseID id.CaseID) (*models.CaseView, error) {
	c, err := s.Find(ctx, caseID)
	if err != nil {
		return nil, err
	}
	return models.NewView(c, s.now()), nil
}

// Find returns the stored case without computed fields.
func (s *Service) Find(ctx context.Context, caseID id.CaseID) (*models.FraudCase, error) {
	if caseID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "case ID required")
	}
	c, err := s.store.FindByID(ctx, caseID)
	if err != nil {
		return nil, wrapStoreErr(err, "failed to load case")
	}
	return c, nil
}

// FindOpenByTransaction returns the transaction's case that is not closed.
func (s *Service) FindOpenByTransaction(ctx context.Context, txID id.TransactionID) (*models.FraudCase, error) {
	c, err := s.store.FindOpenByTransaction(ctx, txID)
	if err != nil {
		return nil, wrapStoreErr(err, "failed to look up transaction case")
	}
	return c, nil
}

// AddEvidence merges evidence into an open or investigating case. Only the
// reporter, the assigned arbitrator or a supervisor may add evidence.
func (s *Service) AddEvidence(ctx context.Context, caseID id.CaseID, caller id.UserID, evidence map[string]any) (*models.CaseView, error) {
	if len(evidence) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "evidence is required")
	}
	if err := validation.CheckEvidence(evidence); err != nil {
		return nil, err
	}
	supervisor, err := s.isSupervisor(ctx, caller)
	if err != nil {
		return nil, err
	}
	c, err := s.Mutate(ctx, "add_evidence", caseID, func(c *models.FraudCase) error {
		if !supervisor && !isParticipant(c, caller) {
			return dErrors.New(dErrors.CodeForbidden, "only the reporter or the assigned arbitrator may add evidence")
		}
		return c.AddEvidence(evidence, s.now())
	})
	if err != nil {
		return nil, err
	}
	return models.NewView(c, s.now()), nil
}

// CloseCase withdraws or closes a case and releases any hold it placed.
func (s *Service) CloseCase(ctx context.Context, caseID id.CaseID, caller id.UserID, reason string) (*models.CaseView, error) {
	if err := validation.CheckStringLength("reason", reason, validation.MaxReasonLength); err != nil {
		return nil, err
	}
	supervisor, err := s.isSupervisor(ctx, caller)
	if err != nil {
		return nil, err
	}
	c, err := s.Mutate(ctx, "close", caseID, func(c *models.FraudCase) error {
		if !supervisor && !isParticipant(c, caller) {
			return dErrors.New(dErrors.CodeForbidden, "only the reporter or the assigned arbitrator may close the case")
		}
		return c.Close(reason, s.now())
	})
	if err != nil {
		return nil, err
	}
	if c.TokenHeld {
		if released, err := s.ReleaseHold(ctx, caseID); err == nil {
			c = released
		}
	}
	s.Notify(ctx, c, notify.EventCaseClosed, map[string]any{"reason": reason})
	return models.NewView(c, s.now()), nil
}

// ReleaseHold unfreezes the token held for the case, if any, and clears the
// flag. A token that has already moved on (disputed or invalid) is left alone.
func (s *Service) ReleaseHold(ctx context.Context, caseID id.CaseID) (*models.FraudCase, error) {
	c, err := s.Find(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if !c.TokenHeld {
		return c, nil
	}
	_, err = s.holds.Unfreeze(ctx, c.TokenID, "hold released for case "+c.ID.String())
	if err != nil && !dErrors.HasCode(err, dErrors.CodeInvalidStateTransition) {
		s.logError(ctx, "failed to release token hold",
			"case_id", c.ID,
			"token_id", c.TokenID,
			"error", err)
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to release token hold")
	}
	c, err = s.Mutate(ctx, "release_hold", caseID, func(c *models.FraudCase) error {
		c.ClearHold(s.now())
		return nil
	})
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.IncrementHoldReleased()
	}
	s.logInfo(ctx, "token hold released", "case_id", c.ID, "token_id", c.TokenID)
	return c, nil
}

// MarkResolutionFailed flags the case for manual follow-up.
func (s *Service) MarkResolutionFailed(ctx context.Context, caseID id.CaseID, reason string) (*models.FraudCase, error) {
	c, err := s.Mutate(ctx, "mark_resolution_failed", caseID, func(c *models.FraudCase) error {
		c.MarkResolutionFailed(reason, s.now())
		return nil
	})
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.IncrementResolutionFailed()
	}
	s.logWarn(ctx, "case flagged resolution_failed",
		"case_id", c.ID,
		"transaction_id", c.TransactionID,
		"reason", reason)
	return c, nil
}

// Mutate runs fn atomically against the stored case. Status changes are
// counted; rejections come back with the unchanged case attached.
func (s *Service) Mutate(ctx context.Context, op string, caseID id.CaseID, fn func(*models.FraudCase) error) (*models.FraudCase, error) {
	if caseID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "case ID required")
	}
	start := time.Now()
	var before models.Status
	c, err := s.store.Execute(ctx, caseID, func(c *models.FraudCase) error {
		before = c.Status
		snapshot := c.Clone()
		if err := fn(c); err != nil {
			var de *dErrors.Error
			if errors.As(err, &de) {
				return dErrors.WithDetails(err, models.NewView(snapshot, s.now()))
			}
			return err
		}
		return nil
	})
	if err != nil {
		if s.metrics != nil && dErrors.HasCode(err, dErrors.CodeInvalidStateTransition) {
			s.metrics.IncrementRejected(op)
		}
		return nil, wrapStoreErr(err, "failed to update case")
	}
	if s.metrics != nil {
		s.metrics.ObserveOperation(op, start)
		if c.Status != before {
			s.metrics.IncrementStatusChange(string(c.Status))
		}
	}
	if c.Status != before {
		s.logInfo(ctx, "case status changed",
			"case_id", c.ID,
			"operation", op,
			"old_status", before,
			"new_status", c.Status,
			"version", c.Version)
	}
	return c, nil
}

// ExpectVersion returns a check for optimistic callers. A nil expectation
// always passes.
func ExpectVersion(expected *int64) func(*models.FraudCase) error {
	return func(c *models.FraudCase) error {
		if expected == nil || *expected == c.Version {
			return nil
		}
		return dErrors.New(dErrors.CodeConflict,
			fmt.Sprintf("case %s is at version %d, expected %d", c.ID, c.Version, *expected))
	}
}

func (s *Service) ListUnassigned(ctx context.Context) ([]*models.FraudCase, error) {
	cases, err := s.store.ListUnassigned(ctx)
	if err != nil {
		return nil, wrapStoreErr(err, "failed to list unassigned cases")
	}
	return cases, nil
}

func (s *Service) ListByArbitrator(ctx context.Context, arbitrator id.UserID) ([]*models.FraudCase, error) {
	cases, err := s.store.ListByArbitrator(ctx, arbitrator)
	if err != nil {
		return nil, wrapStoreErr(err, "failed to list arbitrator cases")
	}
	return cases, nil
}

// ListActive returns every open or investigating case.
func (s *Service) ListActive(ctx context.Context) ([]*models.FraudCase, error) {
	cases, err := s.store.ListByStatus(ctx, models.StatusOpen, models.StatusInvestigating)
	if err != nil {
		return nil, wrapStoreErr(err, "failed to list active cases")
	}
	return cases, nil
}

func (s *Service) ListOverdueCandidates(ctx context.Context, cutoff time.Time) ([]*models.FraudCase, error) {
	cases, err := s.store.ListOverdueCandidates(ctx, cutoff)
	if err != nil {
		return nil, wrapStoreErr(err, "failed to list overdue cases")
	}
	return cases, nil
}

func (s *Service) ListEscalatedUnnotified(ctx context.Context) ([]*models.FraudCase, error) {
	cases, err := s.store.ListEscalatedUnnotified(ctx)
	if err != nil {
		return nil, wrapStoreErr(err, "failed to list unnotified escalations")
	}
	return cases, nil
}

// Notify hands an event to the notifier. Failures are logged and never fail
// the operation that produced the event.
func (s *Service) Notify(ctx context.Context, c *models.FraudCase, event notify.EventType, extra map[string]any) bool {
	if s.notifier == nil {
		return true
	}
	payload := map[string]any{
		"transaction_id": c.TransactionID.String(),
		"status":         string(c.Status),
		"priority":       string(c.Priority),
	}
	for k, v := range extra {
		payload[k] = v
	}
	if err := s.notifier.Notify(ctx, c.ID, event, payload); err != nil {
		s.logError(ctx, "failed to notify",
			"case_id", c.ID,
			"event_type", event,
			"error", err)
		return false
	}
	return true
}

func (s *Service) opened(ctx context.Context, c *models.FraudCase, start time.Time) {
	if s.metrics != nil {
		s.metrics.IncrementOpened(string(c.Source), string(c.Priority))
		s.metrics.ObserveOperation("open", start)
	}
	s.logInfo(ctx, "fraud case opened",
		"case_id", c.ID,
		"transaction_id", c.TransactionID,
		"source", c.Source,
		"priority", c.Priority,
		"token_held", c.TokenHeld)
	s.Notify(ctx, c, notify.EventCaseOpened, map[string]any{
		"case_type": string(c.CaseType),
		"source":    string(c.Source),
	})
}

func (s *Service) lookupTransaction(ctx context.Context, txID id.TransactionID) (*ports.Transaction, error) {
	tx, err := s.transactions.Lookup(ctx, txID)
	switch {
	case err == nil:
		return tx, nil
	case errors.Is(err, sentinel.ErrNotFound):
		return nil, dErrors.New(dErrors.CodeNotFound, "transaction not found")
	case errors.Is(err, sentinel.ErrUnavailable):
		return nil, dErrors.Wrap(err, dErrors.CodeExternalDependency, "transaction ledger unavailable")
	case errors.Is(err, context.DeadlineExceeded):
		return nil, dErrors.Wrap(err, dErrors.CodeTimeout, "transaction lookup timed out")
	default:
		return nil, dErrors.Wrap(err, dErrors.CodeExternalDependency, "transaction lookup failed")
	}
}

func (s *Service) ensureNoActiveCase(ctx context.Context, txID id.TransactionID) error {
	existing, err := s.store.FindOpenByTransaction(ctx, txID)
	switch {
	case err == nil:
		return dErrors.WithDetails(
			dErrors.New(dErrors.CodeConflict, "transaction already has an active fraud case"),
			models.NewView(existing, s.now()))
	case errors.Is(err, sentinel.ErrNotFound):
		return nil
	default:
		return wrapStoreErr(err, "failed to look up transaction case")
	}
}

// placeHold freezes the token when hold is set. A token that is not active
// cannot be held; the case then opens without a hold.
func (s *Service) placeHold(ctx context.Context, hold bool, tokenID id.TokenID, reason string) (bool, error) {
	if !hold {
		return false, nil
	}
	_, err := s.holds.Freeze(ctx, tokenID, reason)
	switch {
	case err == nil:
		if s.metrics != nil {
			s.metrics.IncrementHoldPlaced()
		}
		return true, nil
	case dErrors.HasCode(err, dErrors.CodeInvalidStateTransition):
		s.logInfo(ctx, "token not active; opening case without hold", "token_id", tokenID)
		return false, nil
	default:
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to hold token")
	}
}

func (s *Service) undoHold(ctx context.Context, held bool, tokenID id.TokenID) {
	if !held {
		return
	}
	if _, err := s.holds.Unfreeze(ctx, tokenID, "case creation failed"); err != nil {
		s.logError(ctx, "failed to undo token hold", "token_id", tokenID, "error", err)
	}
}

func (s *Service) isSupervisor(ctx context.Context, caller id.UserID) (bool, error) {
	if caller.IsNil() {
		return false, dErrors.New(dErrors.CodeUnauthorized, "missing caller identity")
	}
	if s.roles == nil {
		return false, nil
	}
	ok, err := s.roles.HasRole(ctx, caller, identity.RoleSupervisor)
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeExternalDependency, "role lookup failed")
	}
	return ok, nil
}

func isParticipant(c *models.FraudCase, caller id.UserID) bool {
	if c.ReporterID != nil && *c.ReporterID == caller {
		return true
	}
	return c.IsAssignedTo(caller)
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

func (s *Service) logError(ctx context.Context, msg string, args ...any) {
	if s.logger == nil {
		return
	}
	s.logger.ErrorContext(ctx, msg, args...)
}

func wrapCreateErr(err error) error {
	if errors.Is(err, sentinel.ErrAlreadyExists) {
		return dErrors.Wrap(err, dErrors.CodeConflict, "transaction already has an active fraud case")
	}
	return wrapStoreErr(err, "failed to create case")
}

// wrapStoreErr translates store sentinels into domain errors. Domain errors
// raised inside mutate callbacks pass through with their code and details.
func wrapStoreErr(err error, msg string) error {
	var de *dErrors.Error
	switch {
	case errors.As(err, &de):
		return err
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "case not found")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeConflict, "case was modified concurrently")
	case errors.Is(err, context.DeadlineExceeded):
		return dErrors.Wrap(err, dErrors.CodeTimeout, msg)
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, msg)
	}
}
