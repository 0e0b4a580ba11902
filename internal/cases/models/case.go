package models

import (
	"fmt"
	"time"

	id "fraudengine/pkg/domain"
	dErrors "fraudengine/pkg/domain-errors"
)

// ArbitrationSLA is the budget a case has from creation to resolution before
// the sweep escalates it.
const ArbitrationSLA = 72 * time.Hour

// Status is the lifecycle state of a fraud case.
type Status string

const (
	StatusOpen          Status = "open"
	StatusInvestigating Status = "investigating"
	StatusResolved      Status = "resolved"
	StatusClosed        Status = "closed"
)

// transitions is the case transition table. closed is terminal.
var transitions = map[Status][]Status{
	StatusOpen:          {StatusInvestigating, StatusClosed},
	StatusInvestigating: {StatusResolved, StatusClosed},
	StatusResolved:      {StatusClosed},
	StatusClosed:        {},
}

func (s Status) IsValid() bool {
	_, ok := transitions[s]
	return ok
}

func (s Status) CanTransitionTo(target Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// IsActive reports whether the case still awaits a decision.
func (s Status) IsActive() bool {
	return s == StatusOpen || s == StatusInvestigating
}

// CaseType classifies the reported fraud.
type CaseType string

const (
	CaseTypeUnauthorizedTransaction CaseType = "unauthorized_transaction"
	CaseTypeAccountTakeover         CaseType = "account_takeover"
	CaseTypePhishing                CaseType = "phishing"
	CaseTypeSocialEngineering       CaseType = "social_engineering"
	CaseTypeTechnicalFraud          CaseType = "technical_fraud"
)

func (c CaseType) IsValid() bool {
	switch c {
	case CaseTypeUnauthorizedTransaction, CaseTypeAccountTakeover, CaseTypePhishing,
		CaseTypeSocialEngineering, CaseTypeTechnicalFraud:
		return true
	}
	return false
}

type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

var priorityOrder = []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical}

func (p Priority) IsValid() bool {
	return p.rank() >= 0
}

// Raise returns the next priority level, capped at critical.
func (p Priority) Raise() Priority {
	r := p.rank()
	if r < 0 || r == len(priorityOrder)-1 {
		return PriorityCritical
	}
	return priorityOrder[r+1]
}

// AtLeast returns the higher of p and floor.
func (p Priority) AtLeast(floor Priority) Priority {
	if p.rank() < floor.rank() {
		return floor
	}
	return p
}

func (p Priority) rank() int {
	for i, v := range priorityOrder {
		if v == p {
			return i
		}
	}
	return -1
}

// EstimatedResolution is the resolution time communicated to reporters.
func (p Priority) EstimatedResolution() string {
	switch p {
	case PriorityCritical:
		return "24 hours"
	case PriorityHigh:
		return "48 hours"
	case PriorityMedium:
		return "72 hours"
	default:
		return "5 business days"
	}
}

type Resolution string

const (
	ResolutionFraudConfirmed       Resolution = "fraud_confirmed"
	ResolutionFraudDenied          Resolution = "fraud_denied"
	ResolutionInsufficientEvidence Resolution = "insufficient_evidence"
)

func (r Resolution) IsValid() bool {
	switch r {
	case ResolutionFraudConfirmed, ResolutionFraudDenied, ResolutionInsufficientEvidence:
		return true
	}
	return false
}

// Source records which entry point opened the case.
type Source string

const (
	SourceReport Source = "report"
	SourceGate   Source = "gate"
)

// Evidence keys written by the engine itself.
const (
	EvidenceUserReport         = "userReport"
	EvidenceReportTimestamp    = "reportTimestamp"
	EvidenceReporterDevice     = "reporterDevice"
	EvidenceScore              = "riskScore"
	EvidenceConfidence         = "riskConfidence"
	EvidenceSnapshot           = "scorerEvidence"
	EvidenceAssignmentNotes    = "assignmentNotes"
	EvidenceArbitratorEvidence = "arbitratorEvidence"
	EvidenceDecisionTimestamp  = "decisionTimestamp"
)

// FraudCase tracks one disputed transaction from report to closure.
//
// ResolvedAt and Resolution are set together by Resolve and never cleared;
// a case closed without a decision keeps both empty.
type FraudCase struct {
	ID                   id.CaseID        `json:"case_id"`
	TransactionID        id.TransactionID `json:"transaction_id"`
	TokenID              id.TokenID       `json:"token_id"`
	ReporterID           *id.UserID       `json:"reporter_id,omitempty"`
	CaseType             CaseType         `json:"case_type"`
	Priority             Priority         `json:"priority"`
	Status               Status           `json:"status"`
	Source               Source           `json:"source"`
	Evidence             map[string]any   `json:"evidence"`
	AssignedArbitratorID *id.UserID       `json:"assigned_arbitrator_id,omitempty"`
	AssignedAt           *time.Time       `json:"assigned_at,omitempty"`
	Resolution           *Resolution      `json:"resolution,omitempty"`
	ResolutionReasoning  *string          `json:"resolution_reasoning,omitempty"`
	ResolvedAt           *time.Time       `json:"resolved_at,omitempty"`
	ClosedAt             *time.Time       `json:"closed_at,omitempty"`
	ClosureReason        string           `json:"closure_reason,omitempty"`
	EscalatedAt          *time.Time       `json:"escalated_at,omitempty"`
	EscalationNotified   bool             `json:"escalation_notified"`
	ResolutionFailed     bool             `json:"resolution_failed"`
	FailureReason        string           `json:"failure_reason,omitempty"`
	TokenHeld            bool             `json:"token_held"`
	CreatedAt            time.Time        `json:"created_at"`
	UpdatedAt            time.Time        `json:"updated_at"`
	Version              int64            `json:"version"`
}

// ReportParams describes a manually submitted fraud report.
type ReportParams struct {
	TransactionID id.TransactionID
	TokenID       id.TokenID
	ReporterID    id.UserID
	CaseType      CaseType
	Priority      Priority
	Description   string
	Evidence      map[string]any
	TokenHeld     bool
}

// NewReportedCase opens a case for a user report.
func NewReportedCase(p ReportParams, now time.Time) (*FraudCase, error) {
	if p.ReporterID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "reporter_id is required")
	}
	if !p.CaseType.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("unknown case_type: %s", p.CaseType))
	}
	c, err := newCase(p.TransactionID, p.TokenID, p.CaseType, p.Priority, SourceReport, now)
	if err != nil {
		return nil, err
	}
	reporter := p.ReporterID
	c.ReporterID = &reporter
	c.TokenHeld = p.TokenHeld
	for k, v := range p.Evidence {
		c.Evidence[k] = cloneValue(v)
	}
	c.Evidence[EvidenceUserReport] = p.Description
	c.Evidence[EvidenceReportTimestamp] = c.CreatedAt.Format(time.RFC3339Nano)
	return c, nil
}

// ScoredParams describes a case opened by the decision gate.
type ScoredParams struct {
	TransactionID id.TransactionID
	TokenID       id.TokenID
	ReporterID    *id.UserID
	Priority      Priority
	Score         float64
	Confidence    float64
	Snapshot      map[string]any
	TokenHeld     bool
}

// NewScoredCase opens an unassigned case for a transaction routed to arbitration.
func NewScoredCase(p ScoredParams, now time.Time) (*FraudCase, error) {
	c, err := newCase(p.TransactionID, p.TokenID, CaseTypeUnauthorizedTransaction, p.Priority, SourceGate, now)
	if err != nil {
		return nil, err
	}
	c.ReporterID = cloneUserID(p.ReporterID)
	c.TokenHeld = p.TokenHeld
	c.Evidence[EvidenceScore] = p.Score
	c.Evidence[EvidenceConfidence] = p.Confidence
	if len(p.Snapshot) > 0 {
		c.Evidence[EvidenceSnapshot] = cloneValue(p.Snapshot)
	}
	return c, nil
}

// NewAutoResolvedCase records an automatic reversal. It is created already
// resolved as fraud_confirmed and is the only case that never passes
// through investigating.
func NewAutoResolvedCase(p ScoredParams, reasoning string, now time.Time) (*FraudCase, error) {
	c, err := NewScoredCase(p, now)
	if err != nil {
		return nil, err
	}
	res := ResolutionFraudConfirmed
	c.Status = StatusResolved
	c.Resolution = &res
	c.ResolutionReasoning = &reasoning
	resolvedAt := c.CreatedAt
	c.ResolvedAt = &resolvedAt
	return c, nil
}

func newCase(txID id.TransactionID, tokenID id.TokenID, caseType CaseType, priority Priority, source Source, now time.Time) (*FraudCase, error) {
	if txID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "transaction_id is required")
	}
	if tokenID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "token_id is required")
	}
	if !priority.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("unknown priority: %s", priority))
	}
	ts := caseTime(now)
	return &FraudCase{
		ID:            id.NewCaseID(),
		TransactionID: txID,
		TokenID:       tokenID,
		CaseType:      caseType,
		Priority:      priority,
		Status:        StatusOpen,
		Source:        source,
		Evidence:      make(map[string]any),
		CreatedAt:     ts,
		UpdatedAt:     ts,
	}, nil
}

// TransitionTo moves the case along one table edge. Resolution is not a bare
// transition; use Resolve.
func (c *FraudCase) TransitionTo(target Status, now time.Time) error {
	if target == StatusResolved {
		return c.invalidTransition(fmt.Sprintf("case %s can only reach resolved through a decision", c.ID))
	}
	if !c.Status.CanTransitionTo(target) {
		return c.invalidTransition(fmt.Sprintf("case %s cannot move from %s to %s", c.ID, c.Status, target))
	}
	c.Status = target
	c.UpdatedAt = caseTime(now)
	return nil
}

// Resolve records the decision and moves investigating to resolved.
func (c *FraudCase) Resolve(resolution Resolution, reasoning string, now time.Time) error {
	if !resolution.IsValid() {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("unknown resolution: %s", resolution))
	}
	if c.Status != StatusInvestigating {
		return c.invalidTransition(fmt.Sprintf("case %s is %s; only investigating cases can be resolved", c.ID, c.Status))
	}
	ts := caseTime(now)
	c.Status = StatusResolved
	c.Resolution = &resolution
	c.ResolutionReasoning = &reasoning
	c.ResolvedAt = &ts
	c.UpdatedAt = ts
	return nil
}

// Close ends the case. Closing from open or investigating withdraws it
// without a resolution.
func (c *FraudCase) Close(reason string, now time.Time) error {
	if err := c.TransitionTo(StatusClosed, now); err != nil {
		return err
	}
	ts := c.UpdatedAt
	c.ClosedAt = &ts
	c.ClosureReason = reason
	return nil
}

// Assign hands the case to an arbitrator and starts the investigation.
// Reassignment of an investigating case is allowed.
func (c *FraudCase) Assign(arbitrator id.UserID, note string, now time.Time) error {
	if arbitrator.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "arbitrator_id is required")
	}
	if !c.Status.IsActive() {
		return c.invalidTransition(fmt.Sprintf("case %s is %s; only open or investigating cases can be assigned", c.ID, c.Status))
	}
	ts := caseTime(now)
	if c.Status == StatusOpen {
		if err := c.TransitionTo(StatusInvestigating, ts); err != nil {
			return err
		}
	}
	c.AssignedArbitratorID = &arbitrator
	c.AssignedAt = &ts
	c.UpdatedAt = ts
	if note != "" {
		notes, _ := c.Evidence[EvidenceAssignmentNotes].([]any)
		c.Evidence[EvidenceAssignmentNotes] = append(notes, map[string]any{
			"arbitratorId": arbitrator.String(),
			"note":         note,
			"at":           ts.Format(time.RFC3339Nano),
		})
	}
	return nil
}

// AddEvidence merges evidence into an open or investigating case. Keys the
// engine owns cannot be overwritten.
func (c *FraudCase) AddEvidence(evidence map[string]any, now time.Time) error {
	if !c.Status.IsActive() {
		return c.invalidTransition(fmt.Sprintf("case %s is %s; evidence can only be added to open or investigating cases", c.ID, c.Status))
	}
	for k := range evidence {
		if isReservedEvidenceKey(k) {
			return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("evidence key %q is reserved", k))
		}
	}
	for k, v := range evidence {
		c.Evidence[k] = cloneValue(v)
	}
	c.UpdatedAt = caseTime(now)
	return nil
}

// RecordDecisionEvidence stores the arbitrator's supporting evidence and the
// decision time alongside the resolution.
func (c *FraudCase) RecordDecisionEvidence(evidence map[string]any, now time.Time) {
	if len(evidence) > 0 {
		c.Evidence[EvidenceArbitratorEvidence] = cloneValue(evidence)
	}
	c.Evidence[EvidenceDecisionTimestamp] = caseTime(now).Format(time.RFC3339Nano)
}

// Escalate marks an overdue active case and raises its priority one level.
// It returns false when the case is not eligible; status never changes.
func (c *FraudCase) Escalate(now time.Time) bool {
	if !c.Status.IsActive() || c.EscalatedAt != nil || !c.IsOverdue(now) {
		return false
	}
	ts := caseTime(now)
	c.EscalatedAt = &ts
	c.EscalationNotified = false
	c.Priority = c.Priority.Raise()
	c.UpdatedAt = ts
	return true
}

// MarkResolutionFailed flags the case for manual follow-up. The first reason
// is kept.
func (c *FraudCase) MarkResolutionFailed(reason string, now time.Time) {
	if !c.ResolutionFailed {
		c.FailureReason = reason
	}
	c.ResolutionFailed = true
	c.UpdatedAt = caseTime(now)
}

// ClearResolutionFailed removes the follow-up flag once the failed step has
// been completed.
func (c *FraudCase) ClearResolutionFailed(now time.Time) {
	c.ResolutionFailed = false
	c.FailureReason = ""
	c.UpdatedAt = caseTime(now)
}

// ClearHold records that the token hold placed at open has been released.
func (c *FraudCase) ClearHold(now time.Time) {
	c.TokenHeld = false
	c.UpdatedAt = caseTime(now)
}

// MarkEscalationNotified records that the escalation reached the notifier.
func (c *FraudCase) MarkEscalationNotified(now time.Time) {
	c.EscalationNotified = true
	c.UpdatedAt = caseTime(now)
}

// IsAssignedTo reports whether arbitrator currently owns the case.
func (c *FraudCase) IsAssignedTo(arbitrator id.UserID) bool {
	return c.AssignedArbitratorID != nil && *c.AssignedArbitratorID == arbitrator
}

// IsConfirmedFraud reports whether the case was resolved as fraud.
func (c *FraudCase) IsConfirmedFraud() bool {
	return c.Resolution != nil && *c.Resolution == ResolutionFraudConfirmed
}

// TimeRemaining is max(0, ArbitrationSLA - elapsed since creation).
func (c *FraudCase) TimeRemaining(now time.Time) time.Duration {
	return max(0, ArbitrationSLA-now.Sub(c.CreatedAt))
}

// IsOverdue reports whether the arbitration SLA has been used up.
func (c *FraudCase) IsOverdue(now time.Time) bool {
	return now.Sub(c.CreatedAt) >= ArbitrationSLA
}

func (c *FraudCase) invalidTransition(msg string) error {
	return dErrors.WithDetails(dErrors.New(dErrors.CodeInvalidStateTransition, msg), c.Clone())
}

// Clone returns a deep copy safe to hand across store boundaries.
func (c *FraudCase) Clone() *FraudCase {
	if c == nil {
		return nil
	}
	cp := *c
	cp.ReporterID = cloneUserID(c.ReporterID)
	cp.AssignedArbitratorID = cloneUserID(c.AssignedArbitratorID)
	cp.AssignedAt = cloneTime(c.AssignedAt)
	cp.ResolvedAt = cloneTime(c.ResolvedAt)
	cp.ClosedAt = cloneTime(c.ClosedAt)
	cp.EscalatedAt = cloneTime(c.EscalatedAt)
	if c.Resolution != nil {
		r := *c.Resolution
		cp.Resolution = &r
	}
	if c.ResolutionReasoning != nil {
		r := *c.ResolutionReasoning
		cp.ResolutionReasoning = &r
	}
	cp.Evidence, _ = cloneValue(c.Evidence).(map[string]any)
	if cp.Evidence == nil {
		cp.Evidence = make(map[string]any)
	}
	return &cp
}

func isReservedEvidenceKey(k string) bool {
	switch k {
	case EvidenceUserReport, EvidenceReportTimestamp, EvidenceReporterDevice,
		EvidenceScore, EvidenceConfidence, EvidenceSnapshot,
		EvidenceAssignmentNotes, EvidenceArbitratorEvidence, EvidenceDecisionTimestamp:
		return true
	}
	return false
}

// cloneValue deep copies the JSON-shaped values evidence holds.
func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		if t == nil {
			return map[string]any(nil)
		}
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = cloneValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = cloneValue(val)
		}
		return out
	default:
		return v
	}
}

func cloneUserID(u *id.UserID) *id.UserID {
	if u == nil {
		return nil
	}
	v := *u
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// caseTime normalizes timestamps to the precision Postgres keeps.
func caseTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
