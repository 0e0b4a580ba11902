package service

//go:generate mockgen -source=executor.go -destination=mocks/mocks.go -package=mocks Store TokenLedger Cases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	casemodels "fraudengine/internal/cases/models"
	ledgermodels "fraudengine/internal/ledger/models"
	ledgerservice "fraudengine/internal/ledger/service"
	"fraudengine/internal/notify"
	"fraudengine/internal/platform/tracing"
	reversalmetrics "fraudengine/internal/reversal/metrics"
	"fraudengine/internal/reversal/models"
	"fraudengine/internal/reversal/ports"
	"fraudengine/internal/reversal/tracker"
	"fraudengine/internal/sentinel"
	id "fraudengine/pkg/domain"
	dErrors "fraudengine/pkg/domain-errors"
	syncx "fraudengine/pkg/platform/sync"
)

// Store persists reversal records, one per transaction.
type Store interface {
	Create(ctx context.Context, r *models.ReversalRecord) error
	FindByTransaction(ctx context.Context, txID id.TransactionID) (*models.ReversalRecord, error)
	ListRecent(ctx context.Context, limit int) ([]*models.ReversalRecord, error)
}

// TokenLedger is the subset of the token ledger the executor drives.
type TokenLedger interface {
	Get(ctx context.Context, tokenID id.TokenID) (*ledgermodels.Token, error)
	Issue(ctx context.Context, cmd ledgerservice.IssueCommand) ([]*ledgermodels.Token, error)
	TransitionPath(ctx context.Context, tokenID id.TokenID, path []ledgermodels.Status, opID id.OperationID, reason string) (*ledgermodels.Token, error)
}

// Cases is the subset of the case service the executor reads and flags.
type Cases interface {
	Find(ctx context.Context, caseID id.CaseID) (*casemodels.FraudCase, error)
	MarkResolutionFailed(ctx context.Context, caseID id.CaseID, reason string) (*casemodels.FraudCase, error)
	ReleaseHold(ctx context.Context, caseID id.CaseID) (*casemodels.FraudCase, error)
	Notify(ctx context.Context, c *casemodels.FraudCase, event notify.EventType, extra map[string]any) bool
}

const (
	outcomeReversed      = "reversed"
	outcomeReplayed      = "already_reversed"
	outcomeNotReversible = "not_reversible"
	outcomeRolledBack    = "rolled_back"
	outcomeFailed        = "failed"
)

// Executor performs reversals: the original token is disputed, a frozen
// replacement is issued, the external ledger reverses the balance, and only
// then is the original invalidated and the replacement released.
//
// Reversals of one transaction serialize on a per-transaction lock. Every step
// reads current state first, so a retry after a failure is safe.
type Executor struct {
	store   Store
	tokens  TokenLedger
	cases   Cases
	ledger  ports.TransactionLedger
	tracker *tracker.Tracker
	tracer  tracing.Tracer
	locks   *syncx.ShardedMutex
	logger  *slog.Logger
	metrics *reversalmetrics.Metrics
	now     func() time.Time
}

type Option func(*Executor)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		e.logger = logger
	}
}

func WithMetrics(m *reversalmetrics.Metrics) Option {
	return func(e *Executor) {
		e.metrics = m
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		e.now = now
	}
}

func WithTracer(t tracing.Tracer) Option {
	return func(e *Executor) {
		e.tracer = t
	}
}

// WithTracker shares an SLA tracker, e.g. with the statistics handler.
func WithTracker(t *tracker.Tracker) Option {
	return func(e *Executor) {
		e.tracker = t
	}
}

func New(store Store, tokens TokenLedger, cases Cases, ledger ports.TransactionLedger, opts ...Option) *Executor {
	if store == nil {
		panic("reversal executor: store is required")
	}
	if tokens == nil {
		panic("reversal executor: token ledger is required")
	}
	if cases == nil {
		panic("reversal executor: cases are required")
	}
	if ledger == nil {
		panic("reversal executor: transaction ledger is required")
	}
	e := &Executor{
		store:  store,
		tokens: tokens,
		cases:  cases,
		ledger: ledger,
		tracer: tracing.NewNoop(),
		locks:  syncx.NewShardedMutex(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.tracker == nil {
		e.tracker = tracker.New(tracker.DefaultCapacity)
	}
	return e
}

// ExecuteCommand identifies the transaction to reverse. DetectedAt anchors
// the SLA and defaults to now.
type ExecuteCommand struct {
	TransactionID   id.TransactionID
	OriginalTokenID id.TokenID
	CaseID          *id.CaseID
	Type            models.ReversalType
	Reason          string
	DetectedAt      time.Time
}

// ExecuteReversal reverses the transaction or returns the record of an
// earlier reversal. A transaction that is no longer reversible is a no-op
// reported as models.ErrNotReversible. A ledger failure rolls back the token
// changes and returns a retryable error.
func (e *Executor) ExecuteReversal(ctx context.Context, cmd ExecuteCommand) (*models.ReversalRecord, error) {
	if err := validateCommand(cmd); err != nil {
		return nil, err
	}
	if cmd.DetectedAt.IsZero() {
		cmd.DetectedAt = e.now()
	}

	key := cmd.TransactionID.String()
	e.locks.Lock(key)
	defer e.locks.Unlock(key)

	start := time.Now()
	ctx, span := e.tracer.Start(ctx, tracing.SpanReversalExecute,
		tracing.String(tracing.AttrTransactionID, key),
		tracing.String(tracing.AttrTokenID, cmd.OriginalTokenID.String()),
		tracing.String(tracing.AttrReversalType, string(cmd.Type)))
	record, outcome, err := e.execute(ctx, span, cmd)
	span.End(err)

	if e.metrics != nil {
		e.metrics.IncrementReversal(string(cmd.Type), outcome)
		e.metrics.ObserveReversal(string(cmd.Type), start)
	}
	return record, err
}

func validateCommand(cmd ExecuteCommand) error {
	if cmd.TransactionID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "transaction_id is required")
	}
	if cmd.OriginalTokenID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "original token id is required")
	}
	if !cmd.Type.IsValid() {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("unknown reversal type: %s", cmd.Type))
	}
	return nil
}

func (e *Executor) execute(ctx context.Context, span tracing.Span, cmd ExecuteCommand) (*models.ReversalRecord, string, error) {
	existing, err := e.store.FindByTransaction(ctx, cmd.TransactionID)
	switch {
	case err == nil:
		return existing, outcomeReplayed, nil
	case !errors.Is(err, sentinel.ErrNotFound):
		return nil, outcomeFailed, wrapStoreErr(err, "failed to look up reversal record")
	}

	c, err := e.reversibleCase(ctx, cmd)
	if err != nil {
		return nil, outcomeOf(err), err
	}
	original, err := e.tokens.Get(ctx, cmd.OriginalTokenID)
	if err != nil {
		return nil, outcomeFailed, err
	}
	path, ok := pathToDisputed(original.Status)
	if !ok {
		msg := fmt.Sprintf("token %s is %s", original.ID, original.Status)
		e.flagStranded(ctx, c, msg)
		return nil, outcomeNotReversible, notReversible(msg, original)
	}

	opID := id.NewOperationID()
	e.tracker.Start(tracker.InFlight{
		TransactionID: cmd.TransactionID,
		CaseID:        cmd.CaseID,
		Type:          cmd.Type,
		DetectedAt:    cmd.DetectedAt,
		StartedAt:     e.now(),
	})

	if _, err := e.tokens.TransitionPath(ctx, original.ID, path, opID, cmd.Reason); err != nil {
		if dErrors.HasCode(err, dErrors.CodeInvalidStateTransition) {
			// The token moved between the read and the walk.
			e.tracker.Abandon(cmd.TransactionID)
			e.flagStranded(ctx, c, err.Error())
			return nil, outcomeNotReversible, notReversible(err.Error(), dErrors.DetailsOf(err))
		}
		e.tracker.Fail(cmd.TransactionID, e.now())
		return nil, outcomeFailed, err
	}
	span.AddEvent(tracing.EventOriginalDisputed)

	issued, err := e.tokens.Issue(ctx, ledgerservice.IssueCommand{
		OwnerID:      original.OwnerID,
		CBDCType:     original.CBDCType,
		Denomination: original.Denomination,
		Quantity:     1,
		Reason:       "replacement for reversed transaction " + cmd.TransactionID.String(),
		Status:       ledgermodels.StatusFrozen,
		OperationID:  opID,
	})
	if err != nil {
		e.restoreOriginal(context.WithoutCancel(ctx), original.ID, original.Status, opID)
		e.tracker.Fail(cmd.TransactionID, e.now())
		return nil, outcomeFailed, dErrors.Wrap(err, dErrors.CodeInternal, "failed to issue replacement token")
	}
	replacement := issued[0]
	span.AddEvent(tracing.EventReplacementIssued, tracing.String("replacement.id", replacement.ID.String()))

	if err := e.ledger.ReverseBalance(ctx, cmd.TransactionID); err != nil {
		span.AddEvent(tracing.EventRollbackStarted)
		return nil, outcomeRolledBack, e.rollback(ctx, cmd, c, original, replacement.ID, opID, err)
	}

	// The ledger has moved the money; finishing must not be cut short.
	ctx = context.WithoutCancel(ctx)
	if err := e.finalize(ctx, cmd, original.ID, replacement.ID, opID); err != nil {
		e.flagCase(ctx, cmd.CaseID, "balance reversed but token finalization failed: "+err.Error())
		e.tracker.Fail(cmd.TransactionID, e.now())
		return nil, outcomeFailed, dErrors.Wrap(err, dErrors.CodeInternal, "failed to finalize reversal")
	}
	span.AddEvent(tracing.EventReversalFinalized)

	record := models.NewRecord(models.RecordParams{
		TransactionID:      cmd.TransactionID,
		CaseID:             cmd.CaseID,
		OriginalTokenID:    original.ID,
		ReplacementTokenID: replacement.ID,
		OperationID:        opID,
		Type:               cmd.Type,
		Reason:             cmd.Reason,
		DetectedAt:         cmd.DetectedAt,
	}, e.now())
	if err := e.store.Create(ctx, record); err != nil {
		if errors.Is(err, sentinel.ErrAlreadyExists) {
			if winner, findErr := e.store.FindByTransaction(ctx, cmd.TransactionID); findErr == nil {
				e.tracker.Abandon(cmd.TransactionID)
				return winner, outcomeReplayed, nil
			}
		}
		e.flagCase(ctx, cmd.CaseID, "reversal completed but its record could not be written")
		e.tracker.Fail(cmd.TransactionID, e.now())
		return nil, outcomeFailed, wrapStoreErr(err, "failed to write reversal record")
	}
	e.tracker.Complete(cmd.TransactionID, e.now())
	span.SetAttributes(tracing.Bool(tracing.AttrWithinSLA, record.WithinSLA))

	e.afterReversal(ctx, c, record)
	return record, outcomeReversed, nil
}

// reversibleCase re-reads the case right before acting. A case that was
// closed or decided without confirmed fraud cancels the reversal.
func (e *Executor) reversibleCase(ctx context.Context, cmd ExecuteCommand) (*casemodels.FraudCase, error) {
	if cmd.CaseID == nil {
		return nil, nil
	}
	c, err := e.cases.Find(ctx, *cmd.CaseID)
	if err != nil {
		return nil, err
	}
	if c.TransactionID != cmd.TransactionID {
		return nil, dErrors.New(dErrors.CodeValidation, "case does not belong to the transaction")
	}
	if !c.IsConfirmedFraud() {
		return nil, notReversible(
			fmt.Sprintf("case %s is %s without confirmed fraud", c.ID, c.Status),
			casemodels.NewView(c, e.now()))
	}
	return c, nil
}

func (e *Executor) finalize(ctx context.Context, cmd ExecuteCommand, original, replacement id.TokenID, opID id.OperationID) error {
	if _, err := e.tokens.TransitionPath(ctx, original, []ledgermodels.Status{ledgermodels.StatusInvalid}, opID, cmd.Reason); err != nil {
		return err
	}
	_, err := e.tokens.TransitionPath(ctx, replacement, []ledgermodels.Status{ledgermodels.StatusActive}, opID,
		"replacement released for transaction "+cmd.TransactionID.String())
	return err
}

// rollback undoes the token walk after the external ledger refused or could
// not be reached, flags the case and reports a retryable error.
func (e *Executor) rollback(ctx context.Context, cmd ExecuteCommand, c *casemodels.FraudCase, original *ledgermodels.Token, replacement id.TokenID, opID id.OperationID, cause error) error {
	ctx = context.WithoutCancel(ctx)
	if e.metrics != nil {
		e.metrics.IncrementRollback()
	}
	e.restoreOriginal(ctx, original.ID, original.Status, opID)
	if _, err := e.tokens.TransitionPath(ctx, replacement, voidPath, opID, "reversal rolled back"); err != nil {
		e.logError(ctx, "failed to void replacement token",
			"transaction_id", cmd.TransactionID,
			"token_id", replacement,
			"error", err)
	}

	reason := "transaction ledger reversal failed: " + cause.Error()
	e.flagCase(ctx, cmd.CaseID, reason)
	e.tracker.Fail(cmd.TransactionID, e.now())
	if c != nil {
		e.cases.Notify(ctx, c, notify.EventReversalFailed, map[string]any{"reason": reason})
	}
	e.logWarn(ctx, "reversal rolled back",
		"transaction_id", cmd.TransactionID,
		"token_id", original.ID,
		"error", cause)

	if errors.Is(cause, context.DeadlineExceeded) {
		return dErrors.Wrap(cause, dErrors.CodeTimeout, "transaction ledger timed out; reversal rolled back")
	}
	return dErrors.Wrap(cause, dErrors.CodeExternalDependency, "transaction ledger unavailable; reversal rolled back")
}

func (e *Executor) restoreOriginal(ctx context.Context, tokenID id.TokenID, was ledgermodels.Status, opID id.OperationID) {
	path := restorePath(was)
	if len(path) == 0 {
		return
	}
	if _, err := e.tokens.TransitionPath(ctx, tokenID, path, opID, "reversal rolled back"); err != nil {
		e.logError(ctx, "failed to restore original token", "token_id", tokenID, "restore_to", was, "error", err)
	}
}

func (e *Executor) afterReversal(ctx context.Context, c *casemodels.FraudCase, r *models.ReversalRecord) {
	if !r.WithinSLA {
		if e.metrics != nil {
			e.metrics.IncrementSLABreach(string(r.ReversalType))
		}
		if r.ReversalType == models.TypeAutomatedFraud {
			e.flagCase(ctx, r.CaseID, "automated reversal exceeded the 1h SLA")
		}
	}
	if c != nil && c.TokenHeld {
		if _, err := e.cases.ReleaseHold(ctx, c.ID); err != nil {
			e.logError(ctx, "failed to clear case hold", "case_id", c.ID, "error", err)
		}
	}
	if c != nil {
		e.cases.Notify(ctx, c, notify.EventReversalCompleted, map[string]any{
			"reversal_id":          r.ID.String(),
			"replacement_token_id": r.ReplacementTokenID.String(),
			"within_sla":           r.WithinSLA,
		})
	}
	e.logInfo(ctx, "reversal completed",
		"transaction_id", r.TransactionID,
		"original_token_id", r.OriginalTokenID,
		"replacement_token_id", r.ReplacementTokenID,
		"reversal_type", r.ReversalType,
		"within_sla", r.WithinSLA)
}

func (e *Executor) flagCase(ctx context.Context, caseID *id.CaseID, reason string) {
	if caseID == nil {
		return
	}
	if _, err := e.cases.MarkResolutionFailed(ctx, *caseID, reason); err != nil {
		e.logError(ctx, "failed to flag case resolution_failed", "case_id", *caseID, "error", err)
	}
}

// flagStranded flags a confirmed case whose token can no longer be reversed,
// so the sweep and statistics surface it for manual follow-up.
func (e *Executor) flagStranded(ctx context.Context, c *casemodels.FraudCase, reason string) {
	if c == nil {
		return
	}
	e.flagCase(ctx, &c.ID, "confirmed fraud but the token is not reversible: "+reason)
}

// FlagOverdueInFlight flags the cases of automated reversals that have been in
// flight past the 1h SLA. Cases already flagged are skipped; the count of
// newly flagged cases is returned.
func (e *Executor) FlagOverdueInFlight(ctx context.Context) (int, error) {
	flagged := 0
	for _, f := range e.tracker.InFlightSince(models.TypeAutomatedFraud, e.now().Add(-models.AutomatedSLA)) {
		if f.CaseID == nil {
			e.logWarn(ctx, "automated reversal past SLA has no case", "transaction_id", f.TransactionID)
			continue
		}
		c, err := e.cases.Find(ctx, *f.CaseID)
		if err != nil {
			return flagged, err
		}
		if c.ResolutionFailed {
			continue
		}
		if _, err := e.cases.MarkResolutionFailed(ctx, c.ID, "automated reversal in flight past the 1h SLA"); err != nil {
			return flagged, err
		}
		flagged++
	}
	return flagged, nil
}

// Record returns the reversal record of a transaction.
func (e *Executor) Record(ctx context.Context, txID id.TransactionID) (*models.ReversalRecord, error) {
	if txID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "transaction ID required")
	}
	r, err := e.store.FindByTransaction(ctx, txID)
	if err != nil {
		return nil, wrapStoreErr(err, "failed to load reversal record")
	}
	return r, nil
}

func (e *Executor) ListRecent(ctx context.Context, limit int) ([]*models.ReversalRecord, error) {
	records, err := e.store.ListRecent(ctx, limit)
	if err != nil {
		return nil, wrapStoreErr(err, "failed to list reversal records")
	}
	return records, nil
}

func (e *Executor) Statistics() models.Statistics {
	return e.tracker.Statistics()
}

// voidPath retires a pending replacement along table edges.
var voidPath = []ledgermodels.Status{ledgermodels.StatusDisputed, ledgermodels.StatusInvalid}

// pathToDisputed walks a reversible token to disputed. A hold placed when the
// case opened leaves the token frozen, which is one step closer.
func pathToDisputed(s ledgermodels.Status) ([]ledgermodels.Status, bool) {
	switch s {
	case ledgermodels.StatusActive:
		return []ledgermodels.Status{ledgermodels.StatusFrozen, ledgermodels.StatusDisputed}, true
	case ledgermodels.StatusFrozen:
		return []ledgermodels.Status{ledgermodels.StatusDisputed}, true
	case ledgermodels.StatusDisputed:
		return nil, true
	default:
		return nil, false
	}
}

// restorePath brings a disputed token back to the status it had before the
// reversal started.
func restorePath(was ledgermodels.Status) []ledgermodels.Status {
	switch was {
	case ledgermodels.StatusActive:
		return []ledgermodels.Status{ledgermodels.StatusActive}
	case ledgermodels.StatusFrozen:
		return []ledgermodels.Status{ledgermodels.StatusActive, ledgermodels.StatusFrozen}
	default:
		return nil
	}
}

func notReversible(msg string, details any) error {
	err := dErrors.Wrap(models.ErrNotReversible, dErrors.CodeInvalidStateTransition, msg)
	if details == nil {
		return err
	}
	return dErrors.WithDetails(err, details)
}

func outcomeOf(err error) string {
	if errors.Is(err, models.ErrNotReversible) {
		return outcomeNotReversible
	}
	return outcomeFailed
}

func (e *Executor) logInfo(ctx context.Context, msg string, args ...any) {
	if e.logger == nil {
		return
	}
	e.logger.InfoContext(ctx, msg, args...)
}

func (e *Executor) logWarn(ctx context.Context, msg string, args ...any) {
	if e.logger == nil {
		return
	}
	e.logger.WarnContext(ctx, msg, args...)
}

func (e *Executor) logError(ctx context.Context, msg string, args ...any) {
	if e.logger == nil {
		return
	}
	e.logger.ErrorContext(ctx, msg, args...)
}

func wrapStoreErr(err error, msg string) error {
	var de *dErrors.Error
	switch {
	case errors.As(err, &de):
		return err
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "reversal record not found")
	case errors.Is(err, context.DeadlineExceeded):
		return dErrors.Wrap(err, dErrors.CodeTimeout, msg)
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, msg)
	}
}
