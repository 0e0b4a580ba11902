package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	id "fraudengine/pkg/domain"
	dErrors "fraudengine/pkg/domain-errors"
)

// TokenModelSuite tests the token transition table and audit chain.
type TokenModelSuite struct {
	suite.Suite
	now time.Time
}

func TestTokenModelSuite(t *testing.T) {
	suite.Run(t, new(TokenModelSuite))
}

func (s *TokenModelSuite) SetupTest() {
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func (s *TokenModelSuite) newToken(status Status) (*Token, *AuditEntry) {
	tok, entry, err := NewToken(id.UserID(id.NewTokenID()), CBDCTypeUSD, decimal.NewFromInt(50), StatusActive, id.NewOperationID(), "issue", s.now)
	s.Require().NoError(err)
	switch status {
	case StatusFrozen:
		_, err = tok.Transition(StatusFrozen, id.NewOperationID(), "", s.now)
	case StatusDisputed:
		_, err = tok.Transition(StatusFrozen, id.NewOperationID(), "", s.now)
		s.Require().NoError(err)
		_, err = tok.Transition(StatusDisputed, id.NewOperationID(), "", s.now)
	case StatusInvalid:
		_, err = tok.Transition(StatusFrozen, id.NewOperationID(), "", s.now)
		s.Require().NoError(err)
		_, err = tok.Transition(StatusDisputed, id.NewOperationID(), "", s.now)
		s.Require().NoError(err)
		_, err = tok.Transition(StatusInvalid, id.NewOperationID(), "", s.now)
	}
	s.Require().NoError(err)
	return tok, entry
}

func (s *TokenModelSuite) TestTransitionTable() {
	all := []Status{StatusActive, StatusFrozen, StatusDisputed, StatusInvalid}
	allowed := map[Status]map[Status]bool{
		StatusActive:   {StatusFrozen: true},
		StatusFrozen:   {StatusActive: true, StatusDisputed: true},
		StatusDisputed: {StatusActive: true, StatusInvalid: true},
		StatusInvalid:  {},
	}
	for _, from := range all {
		for _, to := range all {
			s.Equal(allowed[from][to], from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
	s.True(StatusInvalid.IsTerminal())
	s.False(StatusDisputed.IsTerminal())
}

func (s *TokenModelSuite) TestNewTokenValidation() {
	owner := id.UserID(id.NewTokenID())
	opID := id.NewOperationID()

	s.Run("rejects sub-cent denomination", func() {
		_, _, err := NewToken(owner, CBDCTypeEUR, decimal.RequireFromString("0.001"), StatusActive, opID, "", s.now)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("rejects unknown currency", func() {
		_, _, err := NewToken(owner, CBDCType("JPY-CBDC"), decimal.NewFromInt(1), StatusActive, opID, "", s.now)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("rejects disputed initial status", func() {
		_, _, err := NewToken(owner, CBDCTypeGBP, decimal.NewFromInt(1), StatusDisputed, opID, "", s.now)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("create entry opens the chain", func() {
		tok, entry, err := NewToken(owner, CBDCTypeGBP, decimal.NewFromInt(1), StatusFrozen, opID, "replacement", s.now)
		s.Require().NoError(err)
		s.Equal(StatusFrozen, tok.Status)
		s.Equal(OperationCreate, entry.Operation)
		s.Empty(entry.PrevTag)
		s.Equal(tok.ChainHead, entry.IntegrityTag)
	})
}

func (s *TokenModelSuite) TestTransition() {
	s.Run("freeze of frozen token is rejected and token unchanged", func() {
		tok, _ := s.newToken(StatusFrozen)
		before := *tok

		_, err := tok.Transition(StatusFrozen, id.NewOperationID(), "", s.now.Add(time.Minute))
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidStateTransition))
		s.Equal(before, *tok)

		details, ok := dErrors.DetailsOf(err).(*Token)
		s.Require().True(ok)
		s.Equal(StatusFrozen, details.Status)
	})

	s.Run("invalid is terminal", func() {
		tok, _ := s.newToken(StatusInvalid)
		for _, target := range []Status{StatusActive, StatusFrozen, StatusDisputed} {
			_, err := tok.Transition(target, id.NewOperationID(), "", s.now)
			s.True(dErrors.HasCode(err, dErrors.CodeInvalidStateTransition))
		}
	})

	s.Run("each edge links to the previous tag", func() {
		tok, create := s.newToken(StatusActive)
		opID := id.NewOperationID()

		freeze, err := tok.Transition(StatusFrozen, opID, "hold", s.now)
		s.Require().NoError(err)
		dispute, err := tok.Transition(StatusDisputed, opID, "hold", s.now)
		s.Require().NoError(err)

		s.Equal(OperationFreeze, freeze.Operation)
		s.Equal(OperationDispute, dispute.Operation)
		s.Equal(create.IntegrityTag, freeze.PrevTag)
		s.Equal(freeze.IntegrityTag, dispute.PrevTag)
		s.Equal(opID, dispute.OperationID)
	})
}

func (s *TokenModelSuite) TestTransferOwnership() {
	s.Run("active token changes owner", func() {
		tok, _ := s.newToken(StatusActive)
		oldOwner := tok.OwnerID
		newOwner := id.UserID(id.NewTokenID())

		entry, err := tok.TransferOwnership(newOwner, id.NewOperationID(), "sale", s.now)
		s.Require().NoError(err)
		s.Equal(newOwner, tok.OwnerID)
		s.Equal(OperationOwnershipTransfer, entry.Operation)
		s.Equal(oldOwner, entry.OldOwner)
		s.Equal(newOwner, entry.NewOwner)
	})

	s.Run("frozen token cannot change owner", func() {
		tok, _ := s.newToken(StatusFrozen)
		_, err := tok.TransferOwnership(id.UserID(id.NewTokenID()), id.NewOperationID(), "", s.now)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidStateTransition))
	})
}

func (s *TokenModelSuite) TestVerifyChain() {
	build := func() (*Token, []*AuditEntry) {
		tok, create, err := NewToken(id.UserID(id.NewTokenID()), CBDCTypeUSD, decimal.NewFromInt(5), StatusActive, id.NewOperationID(), "", s.now)
		s.Require().NoError(err)
		freeze, err := tok.Transition(StatusFrozen, id.NewOperationID(), "", s.now.Add(time.Second))
		s.Require().NoError(err)
		unfreeze, err := tok.Transition(StatusActive, id.NewOperationID(), "", s.now.Add(2*time.Second))
		s.Require().NoError(err)
		return tok, []*AuditEntry{create, freeze, unfreeze}
	}

	s.Run("untouched chain verifies", func() {
		tok, entries := build()
		res := VerifyChain(tok.ID, entries, tok.ChainHead, s.now)
		s.True(res.Valid)
		s.Equal(3, res.Entries)
	})

	s.Run("edited reason breaks the chain at that entry", func() {
		tok, entries := build()
		entries[1].Reason = "rewritten"
		res := VerifyChain(tok.ID, entries, tok.ChainHead, s.now)
		s.False(res.Valid)
		s.Equal(1, res.BrokenAt)
	})

	s.Run("dropped entry breaks the link", func() {
		tok, entries := build()
		res := VerifyChain(tok.ID, []*AuditEntry{entries[0], entries[2]}, tok.ChainHead, s.now)
		s.False(res.Valid)
		s.Equal(1, res.BrokenAt)
	})

	s.Run("truncated tail does not match head", func() {
		tok, entries := build()
		res := VerifyChain(tok.ID, entries[:2], tok.ChainHead, s.now)
		s.False(res.Valid)
		s.False(res.HeadMatch)
	})
}
