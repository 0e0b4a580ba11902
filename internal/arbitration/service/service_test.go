package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	arbitrationmetrics "fraudengine/internal/arbitration/metrics"
	casemodels "fraudengine/internal/cases/models"
	caseservice "fraudengine/internal/cases/service"
	casestore "fraudengine/internal/cases/store"
	"fraudengine/internal/identity"
	ledgermodels "fraudengine/internal/ledger/models"
	ledgerservice "fraudengine/internal/ledger/service"
	ledgerstore "fraudengine/internal/ledger/store"
	"fraudengine/internal/notify"
	"fraudengine/internal/platform/config"
	"fraudengine/internal/reversal/adapters/ledgermemory"
	reversalmodels "fraudengine/internal/reversal/models"
	"fraudengine/internal/reversal/ports"
	reversalservice "fraudengine/internal/reversal/service"
	reversalstore "fraudengine/internal/reversal/store"
	"fraudengine/internal/sentinel"
	id "fraudengine/pkg/domain"
	dErrors "fraudengine/pkg/domain-errors"
	"fraudengine/pkg/testutil"
)

// ArbitrationSuite wires arbitration to the real case service, executor and
// token ledger so decisions can be observed on the tokens they touch.
type ArbitrationSuite struct {
	suite.Suite
	ctx      context.Context
	clock    *testutil.Clock
	ledger   *ledgerservice.Service
	external *ledgermemory.Ledger
	cases    *caseservice.Service
	exec     *reversalservice.Executor
	notes    *testutil.NotificationRecorder
	svc      *Service
}

func TestArbitrationSuite(t *testing.T) {
	suite.Run(t, new(ArbitrationSuite))
}

func (s *ArbitrationSuite) SetupTest() {
	s.ctx = context.Background()
	s.clock = testutil.NewClock(time.Date(2026, 4, 6, 14, 0, 0, 0, time.UTC))
	s.ledger = ledgerservice.New(ledgerstore.NewInMemory(), ledgerservice.WithClock(s.clock.Now))
	s.external = ledgermemory.New()
	s.notes = &testutil.NotificationRecorder{}

	roles, err := identity.NewStaticDirectory(config.RoleGrants{})
	s.Require().NoError(err)
	roles.Grant(testutil.TestIDs.Arbitrator1, identity.RoleArbitrator)
	roles.Grant(testutil.TestIDs.Arbitrator2, identity.RoleArbitrator)
	roles.Grant(testutil.TestIDs.Supervisor, identity.RoleSupervisor)

	s.cases = caseservice.New(casestore.NewInMemory(), s.external, s.ledger,
		caseservice.WithClock(s.clock.Now),
		caseservice.WithNotifier(s.notes),
		caseservice.WithRoles(roles))
	s.exec = reversalservice.New(reversalstore.NewInMemory(), s.ledger, s.cases, s.external,
		reversalservice.WithClock(s.clock.Now))
	s.svc = New(s.cases, s.exec, roles,
		WithClock(s.clock.Now),
		WithMetrics(arbitrationmetrics.New(prometheus.NewRegistry())))
}

func (s *ArbitrationSuite) transaction() ports.Transaction {
	tokens, err := s.ledger.Issue(s.ctx, ledgerservice.IssueCommand{
		OwnerID:      testutil.TestIDs.Payer,
		CBDCType:     ledgermodels.CBDCTypeUSD,
		Denomination: decimal.RequireFromString("100"),
	})
	s.Require().NoError(err)
	tx := testutil.NewTransactionBuilder(tokens[0].ID).Build()
	s.external.Add(tx)
	return tx
}

// scoredCase opens an unassigned case the way the gate does for mid scores.
func (s *ArbitrationSuite) scoredCase(tx ports.Transaction) *casemodels.CaseView {
	view, created, err := s.cases.OpenScoredCase(s.ctx, caseservice.ScoredCaseCommand{
		TransactionID: tx.ID,
		TokenID:       tx.TokenID,
		Score:         0.60,
		Confidence:    0.7,
		Amount:        tx.Amount,
	})
	s.Require().NoError(err)
	s.Require().True(created)
	return view
}

// reportedCase opens a case from a payer report, which freezes the token.
func (s *ArbitrationSuite) reportedCase(tx ports.Transaction) *casemodels.CaseView {
	view, err := s.cases.SubmitFraudReport(s.ctx, caseservice.SubmitReportCommand{
		TransactionID: tx.ID,
		ReporterID:    testutil.TestIDs.Payer,
		CaseType:      casemodels.CaseTypePhishing,
		Description:   "I was tricked into paying",
	})
	s.Require().NoError(err)
	s.Require().True(view.TokenHeld)
	return view
}

func (s *ArbitrationSuite) assign(caseID id.CaseID, arbitrator id.UserID) *casemodels.CaseView {
	view, err := s.svc.AssignCase(s.ctx, AssignCommand{
		CaseID:       caseID,
		ArbitratorID: arbitrator,
		CallerID:     arbitrator,
		Note:         "review",
	})
	s.Require().NoError(err)
	return view
}

func (s *ArbitrationSuite) tokenStatus(tokenID id.TokenID) ledgermodels.Status {
	tok, err := s.ledger.Get(s.ctx, tokenID)
	s.Require().NoError(err)
	return tok.Status
}

// Scenario B: a mid-score case is assigned and denied; the token is untouched.
func (s *ArbitrationSuite) TestDeniedDecisionLeavesTokenUntouched() {
	tx := s.transaction()
	opened := s.scoredCase(tx)
	s.Equal(casemodels.StatusOpen, opened.Status)
	s.Nil(opened.AssignedArbitratorID)

	assigned := s.assign(opened.ID, testutil.TestIDs.Arbitrator1)
	s.Equal(casemodels.StatusInvestigating, assigned.Status)
	s.Require().NotNil(assigned.AssignedAt)
	notes, ok := assigned.Evidence[casemodels.EvidenceAssignmentNotes].([]any)
	s.Require().True(ok)
	s.Len(notes, 1)

	decided, err := s.svc.Decide(s.ctx, DecideCommand{
		CaseID:     opened.ID,
		CallerID:   testutil.TestIDs.Arbitrator1,
		Resolution: casemodels.ResolutionFraudDenied,
		Reasoning:  "legitimate pattern",
	})
	s.Require().NoError(err)
	s.Equal(casemodels.StatusResolved, decided.Status)
	s.Equal(casemodels.ResolutionFraudDenied, *decided.Resolution)
	s.NotNil(decided.ResolvedAt)
	s.Contains(decided.Evidence, casemodels.EvidenceDecisionTimestamp)

	s.Equal(ledgermodels.StatusActive, s.tokenStatus(tx.TokenID))
	trail, err := s.ledger.AuditTrail(s.ctx, tx.TokenID)
	s.Require().NoError(err)
	s.Len(trail, 1, "only the issuance entry")
	s.Len(s.notes.EventsOf(notify.EventCaseDecided), 1)
}

func (s *ArbitrationSuite) TestConfirmedDecisionReversesTransaction() {
	tx := s.transaction()
	reported := s.reportedCase(tx)
	s.Equal(ledgermodels.StatusFrozen, s.tokenStatus(tx.TokenID))
	s.assign(reported.ID, testutil.TestIDs.Arbitrator1)

	s.clock.Advance(20 * time.Hour)
	decided, err := s.svc.Decide(s.ctx, DecideCommand{
		CaseID:     reported.ID,
		CallerID:   testutil.TestIDs.Arbitrator1,
		Resolution: casemodels.ResolutionFraudConfirmed,
		Reasoning:  "payer confirmed phishing call",
		Evidence:   map[string]any{"callRecording": "ref-8812"},
	})
	s.Require().NoError(err)
	s.Equal(casemodels.StatusResolved, decided.Status)
	s.True(decided.IsConfirmedFraud())
	s.False(decided.TokenHeld, "hold is cleared once the reversal completes")
	s.False(decided.ResolutionFailed)
	s.Equal(map[string]any{"callRecording": "ref-8812"}, decided.Evidence[casemodels.EvidenceArbitratorEvidence])

	s.Equal(ledgermodels.StatusInvalid, s.tokenStatus(tx.TokenID))
	record, err := s.exec.Record(s.ctx, tx.ID)
	s.Require().NoError(err)
	s.Equal(reversalmodels.TypeManualArbitration, record.ReversalType)
	s.True(record.WithinSLA)
	s.True(record.DetectedAt.Equal(reported.CreatedAt))
	s.Equal(ledgermodels.StatusActive, s.tokenStatus(record.ReplacementTokenID))

	decidedEvents := s.notes.EventsOf(notify.EventCaseDecided)
	s.Require().Len(decidedEvents, 1)
	s.Equal(record.ID.String(), decidedEvents[0].Payload["reversal_id"])
}

func (s *ArbitrationSuite) TestNonFraudDecisionReleasesHold() {
	tx := s.transaction()
	reported := s.reportedCase(tx)
	s.assign(reported.ID, testutil.TestIDs.Arbitrator1)

	decided, err := s.svc.Decide(s.ctx, DecideCommand{
		CaseID:     reported.ID,
		CallerID:   testutil.TestIDs.Arbitrator1,
		Resolution: casemodels.ResolutionInsufficientEvidence,
		Reasoning:  "no supporting evidence",
	})
	s.Require().NoError(err)
	s.False(decided.TokenHeld)
	s.Equal(ledgermodels.StatusActive, s.tokenStatus(tx.TokenID))
	_, err = s.exec.Record(s.ctx, tx.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

// Invariant: a failed reversal leaves the case resolved and flagged, and the
// caller gets both the case and a retryable error.
func (s *ArbitrationSuite) TestReversalFailureReturnsFlaggedCase() {
	tx := s.transaction()
	opened := s.scoredCase(tx)
	s.assign(opened.ID, testutil.TestIDs.Arbitrator1)
	s.external.FailReversals(sentinel.ErrUnavailable)

	view, err := s.svc.Decide(s.ctx, DecideCommand{
		CaseID:     opened.ID,
		CallerID:   testutil.TestIDs.Arbitrator1,
		Resolution: casemodels.ResolutionFraudConfirmed,
		Reasoning:  "confirmed by bank",
	})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeExternalDependency))
	s.True(dErrors.IsRetryable(err))

	s.Require().NotNil(view)
	s.Equal(casemodels.StatusResolved, view.Status)
	s.True(view.ResolutionFailed)
	details, ok := dErrors.DetailsOf(err).(*casemodels.CaseView)
	s.Require().True(ok)
	s.Equal(view.ID, details.ID)
	s.Equal(ledgermodels.StatusActive, s.tokenStatus(tx.TokenID))
}

// A confirmed decision that hit a ledger outage can be completed later by a
// supervisor once the ledger is back.
func (s *ArbitrationSuite) TestRetryReversalAfterLedgerOutage() {
	tx := s.transaction()
	reported := s.reportedCase(tx)
	s.assign(reported.ID, testutil.TestIDs.Arbitrator1)
	s.external.FailReversals(sentinel.ErrUnavailable)

	_, err := s.svc.Decide(s.ctx, DecideCommand{
		CaseID:     reported.ID,
		CallerID:   testutil.TestIDs.Arbitrator1,
		Resolution: casemodels.ResolutionFraudConfirmed,
		Reasoning:  "payer confirmed phishing call",
	})
	s.Require().True(dErrors.HasCode(err, dErrors.CodeExternalDependency))

	_, err = s.svc.Decide(s.ctx, DecideCommand{
		CaseID:     reported.ID,
		CallerID:   testutil.TestIDs.Arbitrator1,
		Resolution: casemodels.ResolutionFraudConfirmed,
		Reasoning:  "second attempt",
	})
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidStateTransition), "a resolved case cannot be decided again")

	s.Run("arbitrators cannot retry", func() {
		_, err := s.svc.RetryReversal(s.ctx, RetryReversalCommand{
			CaseID:   reported.ID,
			CallerID: testutil.TestIDs.Arbitrator1,
		})
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("still failing keeps the case flagged", func() {
		result, err := s.svc.RetryReversal(s.ctx, RetryReversalCommand{
			CaseID:   reported.ID,
			CallerID: testutil.TestIDs.Supervisor,
		})
		s.True(dErrors.HasCode(err, dErrors.CodeExternalDependency))
		s.True(dErrors.IsRetryable(err))
		s.Require().NotNil(result)
		s.True(result.Case.ResolutionFailed)
		s.Nil(result.Reversal)
		s.NotEqual(ledgermodels.StatusInvalid, s.tokenStatus(tx.TokenID))
	})

	s.external.FailReversals(nil)
	result, err := s.svc.RetryReversal(s.ctx, RetryReversalCommand{
		CaseID:   reported.ID,
		CallerID: testutil.TestIDs.Supervisor,
	})
	s.Require().NoError(err)
	s.Require().NotNil(result.Reversal)
	s.False(result.Case.ResolutionFailed)
	s.Empty(result.Case.FailureReason)
	s.Equal(casemodels.StatusResolved, result.Case.Status)

	s.Equal(reversalmodels.TypeManualArbitration, result.Reversal.ReversalType)
	s.Equal(tx.TokenID, result.Reversal.OriginalTokenID)
	s.Equal(ledgermodels.StatusInvalid, s.tokenStatus(tx.TokenID))
	s.Equal(ledgermodels.StatusActive, s.tokenStatus(result.Reversal.ReplacementTokenID))
	s.Equal(1, s.external.ReversalCalls(tx.ID))

	again, err := s.svc.RetryReversal(s.ctx, RetryReversalCommand{
		CaseID:   reported.ID,
		CallerID: testutil.TestIDs.Supervisor,
	})
	s.Require().NoError(err)
	s.Equal(result.Reversal.ID, again.Reversal.ID, "a completed reversal is returned, not repeated")
	s.Equal(1, s.external.ReversalCalls(tx.ID))
}

func (s *ArbitrationSuite) TestRetryReversalRequiresConfirmedFraud() {
	tx := s.transaction()
	opened := s.scoredCase(tx)
	s.assign(opened.ID, testutil.TestIDs.Arbitrator1)
	_, err := s.svc.Decide(s.ctx, DecideCommand{
		CaseID:     opened.ID,
		CallerID:   testutil.TestIDs.Arbitrator1,
		Resolution: casemodels.ResolutionFraudDenied,
		Reasoning:  "legitimate pattern",
	})
	s.Require().NoError(err)

	_, err = s.svc.RetryReversal(s.ctx, RetryReversalCommand{
		CaseID:   opened.ID,
		CallerID: testutil.TestIDs.Supervisor,
	})
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidStateTransition))
	view, ok := dErrors.DetailsOf(err).(*casemodels.CaseView)
	s.Require().True(ok)
	s.Equal(opened.ID, view.ID)
	s.Equal(ledgermodels.StatusActive, s.tokenStatus(tx.TokenID))
}

func (s *ArbitrationSuite) TestAssignAuthorization() {
	tx := s.transaction()
	opened := s.scoredCase(tx)

	_, err := s.svc.AssignCase(s.ctx, AssignCommand{
		CaseID:       opened.ID,
		ArbitratorID: testutil.TestIDs.Outsider,
		CallerID:     testutil.TestIDs.Outsider,
	})
	s.True(dErrors.HasCode(err, dErrors.CodeValidation), "target must hold the arbitrator role")

	_, err = s.svc.AssignCase(s.ctx, AssignCommand{
		CaseID:       opened.ID,
		ArbitratorID: testutil.TestIDs.Arbitrator1,
		CallerID:     testutil.TestIDs.Arbitrator2,
	})
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden), "arbitrators cannot assign each other")

	view, err := s.svc.AssignCase(s.ctx, AssignCommand{
		CaseID:       opened.ID,
		ArbitratorID: testutil.TestIDs.Arbitrator1,
		CallerID:     testutil.TestIDs.Supervisor,
	})
	s.Require().NoError(err)
	s.True(view.IsAssignedTo(testutil.TestIDs.Arbitrator1))

	view, err = s.svc.AssignCase(s.ctx, AssignCommand{
		CaseID:       opened.ID,
		ArbitratorID: testutil.TestIDs.Arbitrator2,
		CallerID:     testutil.TestIDs.Supervisor,
		Note:         "rebalancing workload",
	})
	s.Require().NoError(err)
	s.True(view.IsAssignedTo(testutil.TestIDs.Arbitrator2))
	s.Equal(casemodels.StatusInvestigating, view.Status)

	assigned := s.notes.EventsOf(notify.EventCaseAssigned)
	s.Require().Len(assigned, 2)
	s.Equal(testutil.TestIDs.Arbitrator1.String(), assigned[1].Payload["previous_arbitrator_id"])

	_, err = s.svc.AssignCase(s.ctx, AssignCommand{CaseID: opened.ID, ArbitratorID: testutil.TestIDs.Arbitrator1})
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func (s *ArbitrationSuite) TestAssignClosedCaseFails() {
	tx := s.transaction()
	opened := s.scoredCase(tx)
	_, err := s.cases.CloseCase(s.ctx, opened.ID, testutil.TestIDs.Supervisor, "duplicate")
	s.Require().NoError(err)

	_, err = s.svc.AssignCase(s.ctx, AssignCommand{
		CaseID:       opened.ID,
		ArbitratorID: testutil.TestIDs.Arbitrator1,
		CallerID:     testutil.TestIDs.Arbitrator1,
	})
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidStateTransition))
	current, ok := dErrors.DetailsOf(err).(*casemodels.CaseView)
	s.Require().True(ok)
	s.Equal(casemodels.StatusClosed, current.Status)
	s.Nil(current.AssignedArbitratorID)
}

func (s *ArbitrationSuite) TestAssignExpectedVersion() {
	tx := s.transaction()
	opened := s.scoredCase(tx)
	stale := opened.Version
	s.assign(opened.ID, testutil.TestIDs.Arbitrator1)

	_, err := s.svc.AssignCase(s.ctx, AssignCommand{
		CaseID:          opened.ID,
		ArbitratorID:    testutil.TestIDs.Arbitrator2,
		CallerID:        testutil.TestIDs.Arbitrator2,
		ExpectedVersion: &stale,
	})
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	s.True(dErrors.IsRetryable(err))
}

func (s *ArbitrationSuite) TestDecideAuthorization() {
	tx := s.transaction()
	opened := s.scoredCase(tx)
	decide := func(caller id.UserID, reasoning string) (*casemodels.CaseView, error) {
		return s.svc.Decide(s.ctx, DecideCommand{
			CaseID:     opened.ID,
			CallerID:   caller,
			Resolution: casemodels.ResolutionFraudDenied,
			Reasoning:  reasoning,
		})
	}

	_, err := decide(testutil.TestIDs.Supervisor, "too early")
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidStateTransition), "open cases cannot be decided")

	s.assign(opened.ID, testutil.TestIDs.Arbitrator1)
	_, err = decide(testutil.TestIDs.Arbitrator2, "not mine")
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))

	_, err = decide(testutil.TestIDs.Arbitrator1, "   ")
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	view, err := decide(testutil.TestIDs.Supervisor, "supervisor override")
	s.Require().NoError(err)
	s.Equal(casemodels.StatusResolved, view.Status)

	_, err = decide(testutil.TestIDs.Arbitrator1, "again")
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidStateTransition))
}

func (s *ArbitrationSuite) TestQueriesAndStatistics() {
	first := s.scoredCase(s.transaction())
	s.clock.Advance(time.Minute)
	second := s.scoredCase(s.transaction())
	s.clock.Advance(time.Minute)
	third := s.scoredCase(s.transaction())
	s.assign(second.ID, testutil.TestIDs.Arbitrator1)

	unassigned, err := s.svc.GetUnassignedCases(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(unassigned, 2)
	s.Equal(first.ID, unassigned[0].ID)
	s.Equal(third.ID, unassigned[1].ID)

	mine, err := s.svc.GetCasesForArbitrator(s.ctx, testutil.TestIDs.Arbitrator1)
	s.Require().NoError(err)
	s.Require().Len(mine, 1)
	s.Equal(second.ID, mine[0].ID)

	s.clock.Advance(casemodels.ArbitrationSLA)
	stats, err := s.svc.GetArbitrationStatistics(s.ctx)
	s.Require().NoError(err)
	s.Equal(3, stats.TotalActive)
	s.Equal(1, stats.Assigned)
	s.Equal(2, stats.Unassigned)
	s.Equal(3, stats.Overdue)
	s.Equal(3, stats.ByPriority[casemodels.PriorityLow])
	s.Equal(map[string]int{testutil.TestIDs.Arbitrator1.String(): 1}, stats.ArbitratorWorkload)
}

// Invariant: concurrent assignments of one case serialize; every one commits
// and the version counts them all.
func (s *ArbitrationSuite) TestConcurrentAssignmentsSerialize() {
	opened := s.scoredCase(s.transaction())
	arbitrators := []id.UserID{testutil.TestIDs.Arbitrator1, testutil.TestIDs.Arbitrator2}

	res := testutil.RunConcurrent(20, func(i int) error {
		_, err := s.svc.AssignCase(s.ctx, AssignCommand{
			CaseID:       opened.ID,
			ArbitratorID: arbitrators[i%2],
			CallerID:     testutil.TestIDs.Supervisor,
			Note:         fmt.Sprintf("assignment %d", i),
		})
		return err
	})
	s.EqualValues(20, res.Successes)

	c, err := s.cases.Find(s.ctx, opened.ID)
	s.Require().NoError(err)
	s.Equal(opened.Version+20, c.Version)
	s.Equal(casemodels.StatusInvestigating, c.Status)
	notes, _ := c.Evidence[casemodels.EvidenceAssignmentNotes].([]any)
	s.Len(notes, 20)
}
