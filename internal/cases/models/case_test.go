package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "fraudengine/pkg/domain"
	dErrors "fraudengine/pkg/domain-errors"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newOpenCase(t *testing.T) *FraudCase {
	t.Helper()
	c, err := NewScoredCase(ScoredParams{
		TransactionID: id.NewTransactionID(),
		TokenID:       id.NewTokenID(),
		Priority:      PriorityMedium,
		Score:         0.6,
		Confidence:    0.7,
	}, t0)
	require.NoError(t, err)
	return c
}

// Invariant: status only moves along table edges; anything else is rejected
// with the case unchanged.
func TestTransitionTable(t *testing.T) {
	all := []Status{StatusOpen, StatusInvestigating, StatusResolved, StatusClosed}
	allowed := map[Status][]Status{
		StatusOpen:          {StatusInvestigating, StatusClosed},
		StatusInvestigating: {StatusResolved, StatusClosed},
		StatusResolved:      {StatusClosed},
	}
	for _, from := range all {
		for _, to := range all {
			want := false
			for _, a := range allowed[from] {
				if a == to {
					want = true
				}
			}
			assert.Equal(t, want, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
}

func TestTransitionTo_RejectsWithoutChange(t *testing.T) {
	c := newOpenCase(t)
	require.NoError(t, c.Close("withdrawn", t0.Add(time.Minute)))

	err := c.TransitionTo(StatusInvestigating, t0.Add(2*time.Minute))
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidStateTransition))
	assert.Equal(t, StatusClosed, c.Status)

	details, ok := dErrors.DetailsOf(err).(*FraudCase)
	require.True(t, ok)
	assert.Equal(t, StatusClosed, details.Status)
}

// Invariant: resolved is reachable only through Resolve from investigating.
func TestResolve(t *testing.T) {
	t.Run("not from open", func(t *testing.T) {
		c := newOpenCase(t)
		err := c.Resolve(ResolutionFraudDenied, "legit", t0)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidStateTransition))
		assert.Nil(t, c.Resolution)
		assert.Nil(t, c.ResolvedAt)
	})

	t.Run("not as a bare transition", func(t *testing.T) {
		c := newOpenCase(t)
		require.NoError(t, c.Assign(id.NewUserID(), "", t0))
		err := c.TransitionTo(StatusResolved, t0)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidStateTransition))
	})

	t.Run("sets resolution fields together", func(t *testing.T) {
		c := newOpenCase(t)
		require.NoError(t, c.Assign(id.NewUserID(), "", t0))
		require.NoError(t, c.Resolve(ResolutionFraudConfirmed, "matches pattern", t0.Add(time.Hour)))
		assert.Equal(t, StatusResolved, c.Status)
		require.NotNil(t, c.Resolution)
		assert.Equal(t, ResolutionFraudConfirmed, *c.Resolution)
		assert.Equal(t, "matches pattern", *c.ResolutionReasoning)
		require.NotNil(t, c.ResolvedAt)
		assert.Equal(t, t0.Add(time.Hour), *c.ResolvedAt)
		assert.True(t, c.IsConfirmedFraud())
	})

	t.Run("rejects unknown resolution", func(t *testing.T) {
		c := newOpenCase(t)
		require.NoError(t, c.Assign(id.NewUserID(), "", t0))
		err := c.Resolve("maybe", "", t0)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

// Invariant: a case closed without a decision has neither resolution nor resolvedAt.
func TestClose_WithoutResolution(t *testing.T) {
	c := newOpenCase(t)
	require.NoError(t, c.Close("reporter withdrew", t0.Add(time.Hour)))
	assert.Equal(t, StatusClosed, c.Status)
	assert.Nil(t, c.Resolution)
	assert.Nil(t, c.ResolvedAt)
	require.NotNil(t, c.ClosedAt)
	assert.Equal(t, "reporter withdrew", c.ClosureReason)

	err := c.Close("again", t0.Add(2*time.Hour))
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidStateTransition))
}

func TestAssign(t *testing.T) {
	arb1, arb2 := id.NewUserID(), id.NewUserID()
	c := newOpenCase(t)

	require.NoError(t, c.Assign(arb1, "review", t0.Add(time.Minute)))
	assert.Equal(t, StatusInvestigating, c.Status)
	assert.True(t, c.IsAssignedTo(arb1))

	require.NoError(t, c.Assign(arb2, "handover", t0.Add(2*time.Minute)))
	assert.True(t, c.IsAssignedTo(arb2))
	assert.Equal(t, t0.Add(2*time.Minute), *c.AssignedAt)

	notes, ok := c.Evidence[EvidenceAssignmentNotes].([]any)
	require.True(t, ok)
	assert.Len(t, notes, 2)

	require.NoError(t, c.Assign(arb2, "", t0.Add(3*time.Minute)))
	notes = c.Evidence[EvidenceAssignmentNotes].([]any)
	assert.Len(t, notes, 2, "empty notes are not recorded")

	require.NoError(t, c.Resolve(ResolutionFraudDenied, "ok", t0.Add(time.Hour)))
	err := c.Assign(arb1, "", t0.Add(2*time.Hour))
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidStateTransition))
}

func TestAddEvidence(t *testing.T) {
	c := newOpenCase(t)
	require.NoError(t, c.AddEvidence(map[string]any{"screenshots": []any{"a.png"}}, t0))
	assert.Equal(t, []any{"a.png"}, c.Evidence["screenshots"])

	err := c.AddEvidence(map[string]any{EvidenceUserReport: "rewrite"}, t0)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))

	require.NoError(t, c.Close("", t0))
	err = c.AddEvidence(map[string]any{"late": true}, t0)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidStateTransition))
}

// Invariant: escalation raises priority one level once, capped at critical,
// and never changes status.
func TestEscalate(t *testing.T) {
	c := newOpenCase(t)
	assert.False(t, c.Escalate(t0.Add(71*time.Hour)), "not overdue yet")

	at := t0.Add(73 * time.Hour)
	require.True(t, c.Escalate(at))
	assert.Equal(t, PriorityHigh, c.Priority)
	assert.Equal(t, StatusOpen, c.Status)
	assert.Equal(t, at, *c.EscalatedAt)
	assert.False(t, c.EscalationNotified)

	assert.False(t, c.Escalate(at.Add(time.Hour)), "already escalated")
	assert.Equal(t, PriorityHigh, c.Priority)
}

func TestPriority(t *testing.T) {
	assert.Equal(t, PriorityMedium, PriorityLow.Raise())
	assert.Equal(t, PriorityCritical, PriorityHigh.Raise())
	assert.Equal(t, PriorityCritical, PriorityCritical.Raise())
	assert.Equal(t, PriorityHigh, PriorityLow.AtLeast(PriorityHigh))
	assert.Equal(t, PriorityCritical, PriorityCritical.AtLeast(PriorityHigh))

	assert.Equal(t, "24 hours", PriorityCritical.EstimatedResolution())
	assert.Equal(t, "5 business days", PriorityLow.EstimatedResolution())
}

func TestReportPriority(t *testing.T) {
	tests := []struct {
		caseType CaseType
		amount   string
		want     Priority
	}{
		{CaseTypePhishing, "10000.01", PriorityCritical},
		{CaseTypePhishing, "10000", PriorityHigh},
		{CaseTypePhishing, "1000.50", PriorityHigh},
		{CaseTypeAccountTakeover, "5", PriorityHigh},
		{CaseTypeTechnicalFraud, "5", PriorityHigh},
		{CaseTypeSocialEngineering, "1000", PriorityMedium},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ReportPriority(tt.caseType, decimal.RequireFromString(tt.amount)), "%s %s", tt.caseType, tt.amount)
	}
}

func TestScoredPriority(t *testing.T) {
	tests := []struct {
		score  float64
		amount string
		want   Priority
	}{
		{0.55, "10", PriorityLow},
		{0.70, "10", PriorityMedium},
		{0.85, "10", PriorityHigh},
		{0.55, "1500", PriorityHigh},
		{0.55, "20000", PriorityCritical},
		{0.85, "1500", PriorityHigh},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ScoredPriority(tt.score, decimal.RequireFromString(tt.amount)), "%v %s", tt.score, tt.amount)
	}
}

func TestNewAutoResolvedCase(t *testing.T) {
	c, err := NewAutoResolvedCase(ScoredParams{
		TransactionID: id.NewTransactionID(),
		TokenID:       id.NewTokenID(),
		Priority:      PriorityHigh,
		Score:         0.95,
		Confidence:    0.9,
	}, "automatic reversal", t0)
	require.NoError(t, err)
	assert.Equal(t, StatusResolved, c.Status)
	assert.True(t, c.IsConfirmedFraud())
	assert.Equal(t, t0, *c.ResolvedAt)
	assert.Equal(t, SourceGate, c.Source)
}

func TestNewReportedCase(t *testing.T) {
	reporter := id.NewUserID()
	c, err := NewReportedCase(ReportParams{
		TransactionID: id.NewTransactionID(),
		TokenID:       id.NewTokenID(),
		ReporterID:    reporter,
		CaseType:      CaseTypePhishing,
		Priority:      PriorityMedium,
		Description:   "I did not send this",
		Evidence:      map[string]any{"additionalInfo": "bank call"},
	}, t0)
	require.NoError(t, err)
	assert.Equal(t, StatusOpen, c.Status)
	assert.Equal(t, reporter, *c.ReporterID)
	assert.Equal(t, "I did not send this", c.Evidence[EvidenceUserReport])
	assert.Equal(t, "bank call", c.Evidence["additionalInfo"])
	assert.NotEmpty(t, c.Evidence[EvidenceReportTimestamp])

	_, err = NewReportedCase(ReportParams{TransactionID: id.NewTransactionID(), TokenID: id.NewTokenID(), CaseType: "bogus", ReporterID: reporter, Priority: PriorityLow}, t0)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
}

func TestClone_IsDeep(t *testing.T) {
	c := newOpenCase(t)
	require.NoError(t, c.Assign(id.NewUserID(), "note", t0))
	cp := c.Clone()

	cp.Evidence["extra"] = 1
	notes := cp.Evidence[EvidenceAssignmentNotes].([]any)
	notes[0].(map[string]any)["note"] = "changed"
	*cp.AssignedAt = t0.Add(time.Hour)

	assert.NotContains(t, c.Evidence, "extra")
	assert.Equal(t, "note", c.Evidence[EvidenceAssignmentNotes].([]any)[0].(map[string]any)["note"])
	assert.Equal(t, t0, *c.AssignedAt)
}

// Invariant: time remaining is non-increasing, floors at zero, and reads
// OVERDUE exactly when elapsed >= 72h.
func TestView_TimeRemaining(t *testing.T) {
	c := newOpenCase(t)

	prev := ArbitrationSLA + time.Second
	for _, elapsed := range []time.Duration{0, time.Hour, 24 * time.Hour, 71*time.Hour + 59*time.Minute, 72 * time.Hour, 100 * time.Hour} {
		got := c.TimeRemaining(t0.Add(elapsed))
		assert.LessOrEqual(t, got, prev)
		assert.GreaterOrEqual(t, got, time.Duration(0))
		prev = got
	}

	v := NewView(c, t0.Add(71*time.Hour))
	assert.Equal(t, "1h0m0s", v.TimeRemaining)
	assert.False(t, v.Overdue)
	assert.EqualValues(t, 3600, v.TimeRemainingSeconds)
	assert.Equal(t, "72 hours", v.EstimatedResolution)

	v = NewView(c, t0.Add(72*time.Hour-time.Second))
	assert.NotEqual(t, OverdueMarker, v.TimeRemaining)

	v = NewView(c, t0.Add(72*time.Hour))
	assert.Equal(t, OverdueMarker, v.TimeRemaining)
	assert.True(t, v.Overdue)
	assert.Zero(t, v.TimeRemainingSeconds)
}
