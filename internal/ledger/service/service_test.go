package service

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	ledgermetrics "fraudengine/internal/ledger/metrics"
	"fraudengine/internal/ledger/models"
	"fraudengine/internal/ledger/store"
	id "fraudengine/pkg/domain"
	dErrors "fraudengine/pkg/domain-errors"
	"fraudengine/pkg/testutil"
)

// LedgerServiceSuite exercises the token ledger against the in-memory store.
//
// Invariant: a rejected operation leaves every token and trail untouched.
// Reason not a feature test: partial-batch visibility and chain linkage are
// only observable through the store.
type LedgerServiceSuite struct {
	suite.Suite
	ctx   context.Context
	store *store.InMemoryStore
	svc   *Service
	owner id.UserID
}

func TestLedgerServiceSuite(t *testing.T) {
	suite.Run(t, new(LedgerServiceSuite))
}

func (s *LedgerServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = store.NewInMemory()
	s.svc = New(s.store, WithMetrics(ledgermetrics.New(prometheus.NewRegistry())))
	s.owner = id.UserID(id.NewTokenID())
}

func (s *LedgerServiceSuite) issue(n int) []*models.Token {
	tokens, err := s.svc.Issue(s.ctx, IssueCommand{
		OwnerID:      s.owner,
		CBDCType:     models.CBDCTypeUSD,
		Denomination: decimal.NewFromInt(100),
		Quantity:     n,
	})
	s.Require().NoError(err)
	s.Require().Len(tokens, n)
	return tokens
}

func (s *LedgerServiceSuite) TestIssue() {
	s.Run("quantity above cap is rejected", func() {
		_, err := s.svc.Issue(s.ctx, IssueCommand{
			OwnerID: s.owner, CBDCType: models.CBDCTypeEUR, Denomination: decimal.NewFromInt(1), Quantity: 1001,
		})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("issued tokens are active with a create entry", func() {
		tok := s.issue(1)[0]
		s.Equal(models.StatusActive, tok.Status)

		trail, err := s.svc.AuditTrail(s.ctx, tok.ID)
		s.Require().NoError(err)
		s.Require().Len(trail, 1)
		s.Equal(models.OperationCreate, trail[0].Operation)
	})
}

func (s *LedgerServiceSuite) TestFreezeUnfreeze() {
	tok := s.issue(1)[0]

	frozen, err := s.svc.Freeze(s.ctx, tok.ID, "suspicious")
	s.Require().NoError(err)
	s.Equal(models.StatusFrozen, frozen.Status)

	s.Run("second freeze is an invalid transition carrying the token", func() {
		_, err := s.svc.Freeze(s.ctx, tok.ID, "again")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidStateTransition))
		details, ok := dErrors.DetailsOf(err).(*models.Token)
		s.Require().True(ok)
		s.Equal(models.StatusFrozen, details.Status)
	})

	active, err := s.svc.Unfreeze(s.ctx, tok.ID, "cleared")
	s.Require().NoError(err)
	s.Equal(models.StatusActive, active.Status)

	s.Run("unfreeze of active token is rejected", func() {
		_, err := s.svc.Unfreeze(s.ctx, tok.ID, "")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidStateTransition))
	})

	trail, err := s.svc.AuditTrail(s.ctx, tok.ID)
	s.Require().NoError(err)
	s.Len(trail, 3)

	s.Run("unknown token is not found", func() {
		_, err := s.svc.Freeze(s.ctx, id.NewTokenID(), "")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *LedgerServiceSuite) TestTransitionPath() {
	tok := s.issue(1)[0]
	opID := id.NewOperationID()

	disputed, err := s.svc.TransitionPath(s.ctx, tok.ID, []models.Status{models.StatusFrozen, models.StatusDisputed}, opID, "reversal")
	s.Require().NoError(err)
	s.Equal(models.StatusDisputed, disputed.Status)

	trail, err := s.svc.AuditTrail(s.ctx, tok.ID)
	s.Require().NoError(err)
	s.Require().Len(trail, 3)
	s.Equal(opID, trail[1].OperationID)
	s.Equal(opID, trail[2].OperationID)

	s.Run("broken path commits nothing", func() {
		_, err := s.svc.TransitionPath(s.ctx, tok.ID, []models.Status{models.StatusActive, models.StatusDisputed}, id.NewOperationID(), "")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidStateTransition))

		current, err := s.svc.Get(s.ctx, tok.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusDisputed, current.Status)
		after, err := s.svc.AuditTrail(s.ctx, tok.ID)
		s.Require().NoError(err)
		s.Len(after, 3)
	})
}

// TestBulkUpdate_RejectsWholeBatch is the bulk freeze rejection scenario: one
// invalid token in the batch blocks every token.
func (s *LedgerServiceSuite) TestBulkUpdate_RejectsWholeBatch() {
	tokens := s.issue(3)
	_, err := s.svc.TransitionPath(s.ctx, tokens[1].ID,
		[]models.Status{models.StatusFrozen, models.StatusDisputed, models.StatusInvalid}, id.NewOperationID(), "")
	s.Require().NoError(err)

	ids := []id.TokenID{tokens[0].ID, tokens[1].ID, tokens[2].ID}
	_, err = s.svc.BulkUpdateStatus(s.ctx, ids, models.StatusFrozen, "sweep")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidStateTransition))

	rejection, ok := dErrors.DetailsOf(err).(models.BulkRejection)
	s.Require().True(ok)
	s.Require().Len(rejection.Offenders, 1)
	s.Equal(tokens[1].ID, rejection.Offenders[0].TokenID)
	s.Equal(models.StatusInvalid, rejection.Offenders[0].CurrentStatus)

	for _, tid := range []id.TokenID{tokens[0].ID, tokens[2].ID} {
		current, err := s.svc.Get(s.ctx, tid)
		s.Require().NoError(err)
		s.Equal(models.StatusActive, current.Status)
		trail, err := s.svc.AuditTrail(s.ctx, tid)
		s.Require().NoError(err)
		s.Len(trail, 1, "no entry may be written for a rejected batch")
	}
}

func (s *LedgerServiceSuite) TestBulkUpdate_CommitsAllWithSharedOperation() {
	tokens := s.issue(4)
	ids := make([]id.TokenID, len(tokens))
	for i, t := range tokens {
		ids[i] = t.ID
	}

	res, err := s.svc.BulkUpdateStatus(s.ctx, ids, models.StatusFrozen, "incident")
	s.Require().NoError(err)
	s.Require().Len(res.Results, 4)
	for i, r := range res.Results {
		s.Equal(ids[i], r.TokenID)
		s.Equal(models.StatusActive, r.OldStatus)
		s.Equal(models.StatusFrozen, r.Token.Status)

		trail, err := s.svc.AuditTrail(s.ctx, r.TokenID)
		s.Require().NoError(err)
		s.Equal(res.OperationID, trail[len(trail)-1].OperationID)
	}
}

func (s *LedgerServiceSuite) TestBulkUpdate_InputValidation() {
	tok := s.issue(1)[0]

	s.Run("duplicate ids", func() {
		_, err := s.svc.BulkUpdateStatus(s.ctx, []id.TokenID{tok.ID, tok.ID}, models.StatusFrozen, "")
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("empty batch", func() {
		_, err := s.svc.BulkUpdateStatus(s.ctx, nil, models.StatusFrozen, "")
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("unknown id lists the missing token", func() {
		missing := id.NewTokenID()
		_, err := s.svc.BulkUpdateStatus(s.ctx, []id.TokenID{tok.ID, missing}, models.StatusFrozen, "")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
		rejection, ok := dErrors.DetailsOf(err).(models.BulkRejection)
		s.Require().True(ok)
		s.Equal([]id.TokenID{missing}, rejection.Missing)

		current, err := s.svc.Get(s.ctx, tok.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusActive, current.Status)
	})
}

func (s *LedgerServiceSuite) TestConcurrentFreeze_ExactlyOneWins() {
	tok := s.issue(1)[0]

	res := testutil.RunConcurrent(50, func(int) error {
		_, err := s.svc.Freeze(s.ctx, tok.ID, "race")
		return err
	})
	s.Equal(int32(1), res.Successes)
	s.Equal(int32(49), res.InvalidTransitions)

	trail, err := s.svc.AuditTrail(s.ctx, tok.ID)
	s.Require().NoError(err)
	s.Len(trail, 2)
}

func (s *LedgerServiceSuite) TestConcurrentOverlappingBatches() {
	tokens := s.issue(20)
	ids := make([]id.TokenID, len(tokens))
	for i, t := range tokens {
		ids[i] = t.ID
	}

	// forward and reversed overlapping batches must neither deadlock nor interleave
	res := testutil.RunConcurrent(10, func(idx int) error {
		batch := ids[5:]
		if idx%2 == 1 {
			batch = make([]id.TokenID, 15)
			for i := range batch {
				batch[i] = ids[14-i]
			}
		}
		_, err := s.svc.BulkUpdateStatus(s.ctx, batch, models.StatusFrozen, "")
		return err
	})
	s.Equal(int32(10), res.Total())
	s.GreaterOrEqual(res.Successes, int32(1))

	for _, tid := range ids {
		v, err := s.svc.VerifyChain(s.ctx, tid)
		s.Require().NoError(err)
		s.True(v.Valid)
	}
}

type tamperedStore struct {
	*store.InMemoryStore
}

func (t tamperedStore) AuditTrail(ctx context.Context, tokenID id.TokenID) ([]*models.AuditEntry, error) {
	entries, err := t.InMemoryStore.AuditTrail(ctx, tokenID)
	if err == nil && len(entries) > 0 {
		entries[0].Reason = "edited after the fact"
	}
	return entries, err
}

func (s *LedgerServiceSuite) TestVerifyChain_DetectsTampering() {
	tok := s.issue(1)[0]
	_, err := s.svc.Freeze(s.ctx, tok.ID, "")
	s.Require().NoError(err)

	ok, err := s.svc.VerifyChain(s.ctx, tok.ID)
	s.Require().NoError(err)
	s.True(ok.Valid)

	tampered := New(tamperedStore{s.store})
	broken, err := tampered.VerifyChain(s.ctx, tok.ID)
	s.Require().NoError(err)
	s.False(broken.Valid)
	s.Equal(0, broken.BrokenAt)
}
