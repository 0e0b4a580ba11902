package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks Cases Reverser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	arbitrationmetrics "fraudengine/internal/arbitration/metrics"
	casemodels "fraudengine/internal/cases/models"
	caseservice "fraudengine/internal/cases/service"
	"fraudengine/internal/identity"
	"fraudengine/internal/notify"
	reversalmodels "fraudengine/internal/reversal/models"
	reversalservice "fraudengine/internal/reversal/service"
	id "fraudengine/pkg/domain"
	dErrors "fraudengine/pkg/domain-errors"
	"fraudengine/pkg/validation"
)

// Cases is the part of the case service arbitration drives.
type Cases interface {
	Find(ctx context.Context, caseID id.CaseID) (*casemodels.FraudCase, error)
	Mutate(ctx context.Context, op string, caseID id.CaseID, fn func(*casemodels.FraudCase) error) (*casemodels.FraudCase, error)
	ListUnassigned(ctx context.Context) ([]*casemodels.FraudCase, error)
	ListByArbitrator(ctx context.Context, arbitrator id.UserID) ([]*casemodels.FraudCase, error)
	ListActive(ctx context.Context) ([]*casemodels.FraudCase, error)
	ReleaseHold(ctx context.Context, caseID id.CaseID) (*casemodels.FraudCase, error)
	Notify(ctx context.Context, c *casemodels.FraudCase, event notify.EventType, extra map[string]any) bool
}

// Reverser runs the reversal of a confirmed case.
type Reverser interface {
	ExecuteReversal(ctx context.Context, cmd reversalservice.ExecuteCommand) (*reversalmodels.ReversalRecord, error)
}

// Service handles assignment and decisions for human arbitration.
type Service struct {
	cases    Cases
	reverser Reverser
	roles    identity.RoleDirectory
	logger   *slog.Logger
	metrics  *arbitrationmetrics.Metrics
	now      func() time.Time
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *arbitrationmetrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func New(cases Cases, reverser Reverser, roles identity.RoleDirectory, opts ...Option) *Service {
	if cases == nil {
		panic("arbitration service: cases are required")
	}
	if reverser == nil {
		panic("arbitration service: reverser is required")
	}
	if roles == nil {
		panic("arbitration service: role directory is required")
	}
	s := &Service{
		cases:    cases,
		reverser: reverser,
		roles:    roles,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetUnassignedCases lists active cases no arbitrator owns, oldest first.
func (s *Service) GetUnassignedCases(ctx context.Context) ([]*casemodels.CaseView, error) {
	cases, err := s.cases.ListUnassigned(ctx)
	if err != nil {
		return nil, err
	}
	return casemodels.NewViews(cases, s.now()), nil
}

// GetCasesForArbitrator lists the active cases assigned to arbitrator.
func (s *Service) GetCasesForArbitrator(ctx context.Context, arbitrator id.UserID) ([]*casemodels.CaseView, error) {
	if arbitrator.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "arbitrator_id is required")
	}
	cases, err := s.cases.ListByArbitrator(ctx, arbitrator)
	if err != nil {
		return nil, err
	}
	return casemodels.NewViews(cases, s.now()), nil
}

// AssignCommand hands a case to an arbitrator. ExpectedVersion, when set,
// rejects the assignment if the case changed since the caller read it.
type AssignCommand struct {
	CaseID          id.CaseID
	ArbitratorID    id.UserID
	CallerID        id.UserID
	Note            string
	ExpectedVersion *int64
}

// AssignCase assigns or reassigns an active case. Arbitrators may take a case
// themselves; assigning someone else requires the supervisor role.
func (s *Service) AssignCase(ctx context.Context, cmd AssignCommand) (*casemodels.CaseView, error) {
	if err := validateAssign(cmd); err != nil {
		return nil, err
	}
	isArbitrator, err := s.hasRole(ctx, cmd.ArbitratorID, identity.RoleArbitrator)
	if err != nil {
		return nil, err
	}
	if !isArbitrator {
		return nil, dErrors.New(dErrors.CodeValidation,
			fmt.Sprintf("user %s does not hold the arbitrator role", cmd.ArbitratorID))
	}
	if cmd.CallerID != cmd.ArbitratorID {
		supervisor, err := s.hasRole(ctx, cmd.CallerID, identity.RoleSupervisor)
		if err != nil {
			return nil, err
		}
		if !supervisor {
			return nil, dErrors.New(dErrors.CodeForbidden, "only an arbitration supervisor may assign a case to another arbitrator")
		}
	}

	var previous *id.UserID
	c, err := s.cases.Mutate(ctx, "assign", cmd.CaseID, func(c *casemodels.FraudCase) error {
		if err := caseservice.ExpectVersion(cmd.ExpectedVersion)(c); err != nil {
			return err
		}
		previous = c.AssignedArbitratorID
		return c.Assign(cmd.ArbitratorID, cmd.Note, s.now())
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.IncrementAssignment()
	}
	extra := map[string]any{"arbitrator_id": cmd.ArbitratorID.String()}
	if previous != nil && *previous != cmd.ArbitratorID {
		extra["previous_arbitrator_id"] = previous.String()
	}
	s.logInfo(ctx, "case assigned",
		"case_id", c.ID,
		"arbitrator_id", cmd.ArbitratorID,
		"assigned_by", cmd.CallerID,
		"version", c.Version)
	s.cases.Notify(ctx, c, notify.EventCaseAssigned, extra)
	return casemodels.NewView(c, s.now()), nil
}

func validateAssign(cmd AssignCommand) error {
	if cmd.CallerID.IsNil() {
		return dErrors.New(dErrors.CodeUnauthorized, "missing caller identity")
	}
	if cmd.CaseID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "case ID required")
	}
	if cmd.ArbitratorID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "arbitrator_id is required")
	}
	return validation.CheckStringLength("note", cmd.Note, validation.MaxNoteLength)
}

// DecideCommand records an arbitrator's decision on an investigating case.
type DecideCommand struct {
	CaseID          id.CaseID
	CallerID        id.UserID
	Resolution      casemodels.Resolution
	Reasoning       string
	Evidence        map[string]any
	ExpectedVersion *int64
}

// Decide resolves the case. A fraud_confirmed decision reverses the
// transaction before returning; any other outcome releases the token hold.
//
// When the reversal fails the case stays resolved and flagged
// resolution_failed; the flagged case is returned alongside the error and
// attached to it as details.
func (s *Service) Decide(ctx context.Context, cmd DecideCommand) (*casemodels.CaseView, error) {
	cmd.Reasoning = strings.TrimSpace(cmd.Reasoning)
	if err := validateDecide(cmd); err != nil {
		return nil, err
	}
	supervisor, err := s.hasRole(ctx, cmd.CallerID, identity.RoleSupervisor)
	if err != nil {
		return nil, err
	}

	c, err := s.cases.Mutate(ctx, "decide", cmd.CaseID, func(c *casemodels.FraudCase) error {
		if err := caseservice.ExpectVersion(cmd.ExpectedVersion)(c); err != nil {
			return err
		}
		if c.Status != casemodels.StatusInvestigating {
			return dErrors.New(dErrors.CodeInvalidStateTransition,
				fmt.Sprintf("case %s is %s; only investigating cases can be decided", c.ID, c.Status))
		}
		if !supervisor && !c.IsAssignedTo(cmd.CallerID) {
			return dErrors.New(dErrors.CodeForbidden, "only the assigned arbitrator or a supervisor may decide the case")
		}
		now := s.now()
		c.RecordDecisionEvidence(cmd.Evidence, now)
		return c.Resolve(cmd.Resolution, cmd.Reasoning, now)
	})
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.IncrementDecision(string(cmd.Resolution))
	}
	s.logInfo(ctx, "case decided",
		"case_id", c.ID,
		"resolution", cmd.Resolution,
		"decided_by", cmd.CallerID)

	extra := map[string]any{
		"resolution": string(cmd.Resolution),
		"reasoning":  cmd.Reasoning,
	}
	var reversalErr error
	if c.IsConfirmedFraud() {
		record, err := s.reverser.ExecuteReversal(ctx, reversalservice.ExecuteCommand{
			TransactionID:   c.TransactionID,
			OriginalTokenID: c.TokenID,
			CaseID:          &c.ID,
			Type:            reversalmodels.TypeManualArbitration,
			Reason:          cmd.Reasoning,
			DetectedAt:      c.CreatedAt,
		})
		if err != nil {
			reversalErr = err
			s.logError(ctx, "reversal after arbitration failed",
				"case_id", c.ID,
				"transaction_id", c.TransactionID,
				"error", err)
		} else {
			extra["reversal_id"] = record.ID.String()
		}
	} else if c.TokenHeld {
		if _, err := s.cases.ReleaseHold(ctx, c.ID); err != nil {
			s.logError(ctx, "failed to release token hold after decision", "case_id", c.ID, "error", err)
		}
	}

	// The reversal and hold release both touch the case; return its latest state.
	if latest, err := s.cases.Find(ctx, c.ID); err == nil {
		c = latest
	}
	s.cases.Notify(ctx, c, notify.EventCaseDecided, extra)

	view := casemodels.NewView(c, s.now())
	if reversalErr != nil {
		return view, dErrors.WithDetails(reversalErr, view)
	}
	return view, nil
}

func validateDecide(cmd DecideCommand) error {
	if cmd.CallerID.IsNil() {
		return dErrors.New(dErrors.CodeUnauthorized, "missing caller identity")
	}
	if cmd.CaseID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "case ID required")
	}
	if !cmd.Resolution.IsValid() {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("unknown resolution: %s", cmd.Resolution))
	}
	if cmd.Reasoning == "" {
		return dErrors.New(dErrors.CodeValidation, "reasoning is required")
	}
	if err := validation.CheckStringLength("reasoning", cmd.Reasoning, validation.MaxReasoningLength); err != nil {
		return err
	}
	return validation.CheckEvidence(cmd.Evidence)
}

// RetryReversalCommand asks for the reversal of a confirmed case to be run
// again after an earlier attempt failed.
type RetryReversalCommand struct {
	CaseID   id.CaseID
	CallerID id.UserID
}

// ReversalRetry is the case after a retry together with its reversal record.
type ReversalRetry struct {
	Case     *casemodels.CaseView           `json:"case"`
	Reversal *reversalmodels.ReversalRecord `json:"reversal"`
}

// RetryReversal re-runs the reversal of a case resolved as fraud_confirmed.
// Only supervisors may retry. The executor is idempotent per transaction, so a
// case whose reversal already completed gets its existing record back. On
// success the resolution_failed flag is cleared; on failure the case stays
// flagged and is returned alongside the error, as Decide does.
func (s *Service) RetryReversal(ctx context.Context, cmd RetryReversalCommand) (*ReversalRetry, error) {
	if cmd.CallerID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "missing caller identity")
	}
	if cmd.CaseID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "case ID required")
	}
	supervisor, err := s.hasRole(ctx, cmd.CallerID, identity.RoleSupervisor)
	if err != nil {
		return nil, err
	}
	if !supervisor {
		return nil, dErrors.New(dErrors.CodeForbidden, "only an arbitration supervisor may retry a reversal")
	}

	c, err := s.cases.Find(ctx, cmd.CaseID)
	if err != nil {
		return nil, err
	}
	if !c.IsConfirmedFraud() {
		return nil, dErrors.WithDetails(
			dErrors.New(dErrors.CodeInvalidStateTransition,
				fmt.Sprintf("case %s is %s without confirmed fraud; nothing to reverse", c.ID, c.Status)),
			casemodels.NewView(c, s.now()))
	}

	reason := "reversal retried by supervisor"
	if c.ResolutionReasoning != nil && *c.ResolutionReasoning != "" {
		reason = *c.ResolutionReasoning
	}
	record, reversalErr := s.reverser.ExecuteReversal(ctx, reversalservice.ExecuteCommand{
		TransactionID:   c.TransactionID,
		OriginalTokenID: c.TokenID,
		CaseID:          &c.ID,
		Type:            reversalmodels.TypeManualArbitration,
		Reason:          reason,
		DetectedAt:      c.CreatedAt,
	})
	if s.metrics != nil {
		s.metrics.IncrementReversalRetry(reversalErr)
	}

	if reversalErr == nil && c.ResolutionFailed {
		cleared, err := s.cases.Mutate(ctx, "clear_resolution_failed", c.ID, func(c *casemodels.FraudCase) error {
			c.ClearResolutionFailed(s.now())
			return nil
		})
		if err != nil {
			s.logError(ctx, "failed to clear resolution_failed after retry", "case_id", c.ID, "error", err)
		} else {
			c = cleared
		}
	} else if latest, err := s.cases.Find(ctx, c.ID); err == nil {
		c = latest
	}

	view := casemodels.NewView(c, s.now())
	if reversalErr != nil {
		s.logError(ctx, "reversal retry failed",
			"case_id", c.ID,
			"transaction_id", c.TransactionID,
			"retried_by", cmd.CallerID,
			"error", reversalErr)
		return &ReversalRetry{Case: view}, dErrors.WithDetails(reversalErr, view)
	}
	s.logInfo(ctx, "reversal retry completed",
		"case_id", c.ID,
		"transaction_id", c.TransactionID,
		"reversal_id", record.ID,
		"retried_by", cmd.CallerID)
	return &ReversalRetry{Case: view, Reversal: record}, nil
}

// Statistics summarizes the active arbitration workload.
type Statistics struct {
	TotalActive        int                         `json:"total_active_cases"`
	Assigned           int                         `json:"assigned_cases"`
	Unassigned         int                         `json:"unassigned_cases"`
	Overdue            int                         `json:"overdue_cases"`
	Escalated          int                         `json:"escalated_cases"`
	ByPriority         map[casemodels.Priority]int `json:"cases_by_priority"`
	ArbitratorWorkload map[string]int              `json:"arbitrator_workload"`
}

func (s *Service) GetArbitrationStatistics(ctx context.Context) (*Statistics, error) {
	active, err := s.cases.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()
	stats := &Statistics{
		TotalActive:        len(active),
		ByPriority:         make(map[casemodels.Priority]int),
		ArbitratorWorkload: make(map[string]int),
	}
	for _, c := range active {
		if c.AssignedArbitratorID != nil {
			stats.Assigned++
			stats.ArbitratorWorkload[c.AssignedArbitratorID.String()]++
		} else {
			stats.Unassigned++
		}
		if c.IsOverdue(now) {
			stats.Overdue++
		}
		if c.EscalatedAt != nil {
			stats.Escalated++
		}
		stats.ByPriority[c.Priority]++
	}
	return stats, nil
}

func (s *Service) hasRole(ctx context.Context, userID id.UserID, role identity.Role) (bool, error) {
	ok, err := s.roles.HasRole(ctx, userID, role)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return false, dErrors.Wrap(err, dErrors.CodeTimeout, "role lookup timed out")
		}
		return false, dErrors.Wrap(err, dErrors.CodeExternalDependency, "role lookup failed")
	}
	return ok, nil
}

func (s *Service) logInfo(ctx context.Context, msg string, args ...any) {
	if s.logger == nil {
		return
	}
	s.logger.InfoContext(ctx, msg, args...)
}

func (s *Service) logError(ctx context.Context, msg string, args ...any) {
	if s.logger == nil {
		return
	}
	s.logger.ErrorContext(ctx, msg, args...)
}
