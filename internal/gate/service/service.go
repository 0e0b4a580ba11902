// Package service routes risk-scored transactions to automatic reversal,
// arbitration, or nothing.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	casemodels "fraudengine/internal/cases/models"
	caseservice "fraudengine/internal/cases/service"
	gatemetrics "fraudengine/internal/gate/metrics"
	"fraudengine/internal/gate/models"
	"fraudengine/internal/gate/policy"
	"fraudengine/internal/platform/tracing"
	reversalmodels "fraudengine/internal/reversal/models"
	"fraudengine/internal/reversal/ports"
	reversalservice "fraudengine/internal/reversal/service"
	"fraudengine/internal/sentinel"
	id "fraudengine/pkg/domain"
	dErrors "fraudengine/pkg/domain-errors"
	"fraudengine/pkg/validation"
)

// Cases is the slice of the case service the gate drives.
type Cases interface {
	OpenScoredCase(ctx context.Context, cmd caseservice.ScoredCaseCommand) (*casemodels.CaseView, bool, error)
	RecordAutoResolved(ctx context.Context, cmd caseservice.ScoredCaseCommand, reasoning string) (*casemodels.FraudCase, error)
	Find(ctx context.Context, caseID id.CaseID) (*casemodels.FraudCase, error)
	FindOpenByTransaction(ctx context.Context, txID id.TransactionID) (*casemodels.FraudCase, error)
	MarkResolutionFailed(ctx context.Context, caseID id.CaseID, reason string) (*casemodels.FraudCase, error)
}

// Reversals executes reversals and answers whether one already happened.
type Reversals interface {
	ExecuteReversal(ctx context.Context, cmd reversalservice.ExecuteCommand) (*reversalmodels.ReversalRecord, error)
	Record(ctx context.Context, txID id.TransactionID) (*reversalmodels.ReversalRecord, error)
}

type Service struct {
	policy       policy.Policy
	holdOnCase   bool
	transactions ports.TransactionLedger
	cases        Cases
	reversals    Reversals
	logger       *slog.Logger
	metrics      *gatemetrics.Metrics
	tracer       tracing.Tracer
	now          func() time.Time
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *gatemetrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func WithTracer(t tracing.Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithHoldOnArbitration freezes the token when a case is opened for
// arbitration.
func WithHoldOnArbitration(hold bool) Option {
	return func(s *Service) {
		s.holdOnCase = hold
	}
}

func New(p policy.Policy, transactions ports.TransactionLedger, cases Cases, reversals Reversals, opts ...Option) *Service {
	if transactions == nil {
		panic("gate service: transaction ledger is required")
	}
	if cases == nil {
		panic("gate service: cases are required")
	}
	if reversals == nil {
		panic("gate service: reversals are required")
	}
	s := &Service{
		policy:       p,
		transactions: transactions,
		cases:        cases,
		reversals:    reversals,
		tracer:       tracing.NewNoop(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RouteScoredTransaction decides what happens to a scored transaction.
//
// Redelivery of an event is safe: a transaction with a reversal record
// reports reversed, one with a case that is not closed reports case_opened
// with that case. An automatic reversal that failed earlier is retried.
//
// On the reverse path the audit case is stored before the executor runs.
// When the executor fails, the case is flagged resolution_failed and the
// executor's error is returned together with the result.
func (s *Service) RouteScoredTransaction(ctx context.Context, ev models.ScoredEvent) (*models.RouteResult, error) {
	if err := validateEvent(ev); err != nil {
		return nil, err
	}
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, tracing.SpanGateRoute,
		tracing.String(tracing.AttrTransactionID, ev.TransactionID.String()),
		tracing.Float64("gate.score", ev.Score),
		tracing.Float64("gate.confidence", ev.Confidence))

	res, err := s.route(ctx, ev)
	if res != nil {
		span.SetAttributes(tracing.String(tracing.AttrGateAction, string(res.Action)))
	}
	span.End(err)

	if s.metrics != nil {
		s.metrics.ObserveRoute(start)
		if err != nil {
			s.metrics.IncrementFailure(string(dErrors.CodeOf(err)))
		} else {
			s.metrics.IncrementRouted(string(res.Action), string(res.Reason))
		}
	}
	if err != nil {
		s.logError(ctx, "failed to route scored transaction",
			"transaction_id", ev.TransactionID,
			"score", ev.Score,
			"error", err)
		return res, err
	}
	s.logInfo(ctx, "scored transaction routed",
		"transaction_id", ev.TransactionID,
		"score", ev.Score,
		"confidence", ev.Confidence,
		"action", res.Action,
		"reason", res.Reason)
	return res, nil
}

func validateEvent(ev models.ScoredEvent) error {
	if ev.TransactionID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "transaction_id is required")
	}
	if !isProbability(ev.Score) {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("score must be within [0,1], got %v", ev.Score))
	}
	if !isProbability(ev.Confidence) {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("confidence must be within [0,1], got %v", ev.Confidence))
	}
	if ev.ReporterID != nil && ev.ReporterID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "reporter_id must not be empty when set")
	}
	return validation.CheckEvidence(ev.EvidenceSnapshot)
}

func isProbability(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}

func (s *Service) route(ctx context.Context, ev models.ScoredEvent) (*models.RouteResult, error) {
	if res, err := s.replay(ctx, ev); res != nil || err != nil {
		return res, err
	}

	action, reason := s.policy.Evaluate(ev.Score, ev.Confidence)
	switch action {
	case models.ActionReversed:
		return s.reverse(ctx, ev, reason)
	case models.ActionCaseOpened:
		return s.openCase(ctx, ev, reason)
	default:
		return &models.RouteResult{Action: models.ActionCleared, Reason: reason}, nil
	}
}

// replay answers for a transaction the gate has already handled. It returns
// nil, nil when the transaction is new.
func (s *Service) replay(ctx context.Context, ev models.ScoredEvent) (*models.RouteResult, error) {
	record, err := s.reversals.Record(ctx, ev.TransactionID)
	switch {
	case err == nil:
		res := &models.RouteResult{
			Action:   models.ActionReversed,
			Reason:   models.ReasonReplay,
			CaseID:   record.CaseID,
			Reversal: record,
		}
		if record.CaseID != nil {
			if c, err := s.cases.Find(ctx, *record.CaseID); err == nil {
				res.Case = casemodels.NewView(c, s.now())
			}
		}
		return res, nil
	case !dErrors.HasCode(err, dErrors.CodeNotFound):
		return nil, err
	}

	existing, err := s.cases.FindOpenByTransaction(ctx, ev.TransactionID)
	switch {
	case err == nil:
	case dErrors.HasCode(err, dErrors.CodeNotFound):
		return nil, nil
	default:
		return nil, err
	}

	if isPendingAutoReversal(existing) {
		s.logWarn(ctx, "retrying automatic reversal",
			"case_id", existing.ID,
			"transaction_id", ev.TransactionID)
		detectedAt := ev.DetectedAt
		if detectedAt.IsZero() {
			detectedAt = existing.CreatedAt
		}
		return s.execute(ctx, existing, models.ReasonReplay, detectedAt)
	}
	return &models.RouteResult{
		Action: models.ActionCaseOpened,
		Reason: models.ReasonReplay,
		CaseID: &existing.ID,
		Case:   casemodels.NewView(existing, s.now()),
	}, nil
}

// isPendingAutoReversal reports whether c is the audit case of an automatic
// reversal that has no record yet.
func isPendingAutoReversal(c *casemodels.FraudCase) bool {
	return c.Source == casemodels.SourceGate &&
		c.AssignedArbitratorID == nil &&
		c.IsConfirmedFraud()
}

func (s *Service) openCase(ctx context.Context, ev models.ScoredEvent, reason models.Reason) (*models.RouteResult, error) {
	tx, err := s.lookup(ctx, ev.TransactionID)
	if err != nil {
		return nil, err
	}
	cmd := scoredCommand(ev, tx)
	cmd.Hold = s.holdOnCase
	view, _, err := s.cases.OpenScoredCase(ctx, cmd)
	if err != nil {
		return nil, err
	}
	return &models.RouteResult{
		Action: models.ActionCaseOpened,
		Reason: reason,
		CaseID: &view.ID,
		Case:   view,
	}, nil
}

func (s *Service) reverse(ctx context.Context, ev models.ScoredEvent, reason models.Reason) (*models.RouteResult, error) {
	tx, err := s.lookup(ctx, ev.TransactionID)
	if err != nil {
		return nil, err
	}
	detectedAt := ev.DetectedAt
	if detectedAt.IsZero() {
		detectedAt = s.now()
	}

	reasoning := fmt.Sprintf("automatic reversal: score %.4f, confidence %.4f", ev.Score, ev.Confidence)
	c, err := s.cases.RecordAutoResolved(ctx, scoredCommand(ev, tx), reasoning)
	if err != nil {
		if !dErrors.HasCode(err, dErrors.CodeConflict) {
			return nil, err
		}
		// A concurrent delivery of the same event won the case insert.
		existing, findErr := s.cases.FindOpenByTransaction(ctx, ev.TransactionID)
		if findErr != nil {
			return nil, err
		}
		if !isPendingAutoReversal(existing) {
			return &models.RouteResult{
				Action: models.ActionCaseOpened,
				Reason: models.ReasonReplay,
				CaseID: &existing.ID,
				Case:   casemodels.NewView(existing, s.now()),
			}, nil
		}
		c = existing
	}
	return s.execute(ctx, c, reason, detectedAt)
}

// execute runs the executor for the audit case c and reloads the case so the
// result reflects the hold release or failure flag the executor left on it.
func (s *Service) execute(ctx context.Context, c *casemodels.FraudCase, reason models.Reason, detectedAt time.Time) (*models.RouteResult, error) {
	record, execErr := s.reversals.ExecuteReversal(ctx, reversalservice.ExecuteCommand{
		TransactionID:   c.TransactionID,
		OriginalTokenID: c.TokenID,
		CaseID:          &c.ID,
		Type:            reversalmodels.TypeAutomatedFraud,
		Reason:          "automatic fraud reversal",
		DetectedAt:      detectedAt,
	})
	if execErr != nil {
		if _, err := s.cases.MarkResolutionFailed(context.WithoutCancel(ctx), c.ID,
			"automatic reversal failed: "+execErr.Error()); err != nil {
			s.logError(ctx, "failed to flag audit case", "case_id", c.ID, "error", err)
		}
	}
	if latest, err := s.cases.Find(ctx, c.ID); err == nil {
		c = latest
	}

	res := &models.RouteResult{
		Action: models.ActionReversed,
		Reason: reason,
		CaseID: &c.ID,
		Case:   casemodels.NewView(c, s.now()),
	}
	if execErr != nil {
		return res, execErr
	}
	res.Reversal = record
	return res, nil
}

func (s *Service) lookup(ctx context.Context, txID id.TransactionID) (*ports.Transaction, error) {
	tx, err := s.transactions.Lookup(ctx, txID)
	switch {
	case err == nil:
		return tx, nil
	case errors.Is(err, sentinel.ErrNotFound):
		return nil, dErrors.New(dErrors.CodeNotFound, "transaction not found")
	case errors.Is(err, context.DeadlineExceeded):
		return nil, dErrors.Wrap(err, dErrors.CodeTimeout, "transaction lookup timed out")
	default:
		return nil, dErrors.Wrap(err, dErrors.CodeExternalDependency, "transaction ledger unavailable")
	}
}

func scoredCommand(ev models.ScoredEvent, tx *ports.Transaction) caseservice.ScoredCaseCommand {
	return caseservice.ScoredCaseCommand{
		TransactionID: tx.ID,
		TokenID:       tx.TokenID,
		ReporterID:    ev.ReporterID,
		Score:         ev.Score,
		Confidence:    ev.Confidence,
		Amount:        tx.Amount,
		Snapshot:      ev.EvidenceSnapshot,
	}
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
