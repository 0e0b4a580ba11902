//go:build integration

package store_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"fraudengine/internal/ledger/models"
	ledgerservice "fraudengine/internal/ledger/service"
	"fraudengine/internal/ledger/store"
	id "fraudengine/pkg/domain"
	dErrors "fraudengine/pkg/domain-errors"
	"fraudengine/pkg/testutil"
	"fraudengine/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	svc      *ledgerservice.Service
	ctx      context.Context
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.Shared().Postgres(s.T())
	s.svc = ledgerservice.New(store.NewPostgres(s.postgres.DB))
	s.ctx = context.Background()
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateAll(s.ctx))
}

func (s *PostgresStoreSuite) issue(quantity int) []*models.Token {
	tokens, err := s.svc.Issue(s.ctx, ledgerservice.IssueCommand{
		OwnerID:      testutil.TestIDs.Payer,
		CBDCType:     models.CBDCTypeEUR,
		Denomination: decimal.RequireFromString("25.50"),
		Quantity:     quantity,
	})
	s.Require().NoError(err)
	return tokens
}

func (s *PostgresStoreSuite) TestIssueRoundTrips() {
	tok := s.issue(1)[0]

	found, err := s.svc.Get(s.ctx, tok.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusActive, found.Status)
	s.True(found.Denomination.Equal(decimal.RequireFromString("25.50")))
	s.Equal(tok.ChainHead, found.ChainHead)
}

// Row locks serialize writers: of many concurrent freezes exactly one wins.
func (s *PostgresStoreSuite) TestConcurrentFreezeSingleWinner() {
	tok := s.issue(1)[0]

	result := testutil.RunConcurrent(20, func(int) error {
		_, err := s.svc.Freeze(s.ctx, tok.ID, "suspicious")
		return err
	})
	s.Equal(int32(1), result.Successes)
	s.Equal(int32(19), result.InvalidTransitions)

	trail, err := s.svc.AuditTrail(s.ctx, tok.ID)
	s.Require().NoError(err)
	s.Len(trail, 2)

	verification, err := s.svc.VerifyChain(s.ctx, tok.ID)
	s.Require().NoError(err)
	s.True(verification.Valid)
	s.True(verification.HeadMatch)
}

func (s *PostgresStoreSuite) TestBulkUpdateIsAllOrNothing() {
	tokens := s.issue(3)
	_, err := s.svc.Freeze(s.ctx, tokens[1].ID, "held")
	s.Require().NoError(err)

	ids := []id.TokenID{tokens[0].ID, tokens[1].ID, tokens[2].ID}
	_, err = s.svc.BulkUpdateStatus(s.ctx, ids, models.StatusFrozen, "sweep")
	s.Require().True(dErrors.HasCode(err, dErrors.CodeInvalidStateTransition))

	for _, tokID := range []id.TokenID{tokens[0].ID, tokens[2].ID} {
		tok, err := s.svc.Get(s.ctx, tokID)
		s.Require().NoError(err)
		s.Equal(models.StatusActive, tok.Status, "rejected batch must not move any token")
	}

	res, err := s.svc.BulkUpdateStatus(s.ctx, []id.TokenID{tokens[0].ID, tokens[2].ID}, models.StatusFrozen, "sweep")
	s.Require().NoError(err)
	s.Len(res.Results, 2)
}

func (s *PostgresStoreSuite) TestUnknownToken() {
	_, err := s.svc.Get(s.ctx, id.NewTokenID())
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}
