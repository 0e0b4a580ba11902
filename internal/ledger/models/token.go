package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	id "fraudengine/pkg/domain"
	dErrors "fraudengine/pkg/domain-errors"
)

// Status is the lifecycle state of a token.
type Status string

const (
	StatusActive   Status = "active"
	StatusFrozen   Status = "frozen"
	StatusDisputed Status = "disputed"
	StatusInvalid  Status = "invalid"
)

// transitions is the token transition table. invalid is terminal.
var transitions = map[Status][]Status{
	StatusActive:   {StatusFrozen},
	StatusFrozen:   {StatusActive, StatusDisputed},
	StatusDisputed: {StatusActive, StatusInvalid},
	StatusInvalid:  {},
}

func (s Status) IsValid() bool {
	_, ok := transitions[s]
	return ok
}

// CanTransitionTo reports whether target is an edge of the transition table.
func (s Status) CanTransitionTo(target Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves s.
func (s Status) IsTerminal() bool {
	return len(transitions[s]) == 0
}

// CBDCType is the currency a token is denominated in.
type CBDCType string

const (
	CBDCTypeUSD CBDCType = "USD-CBDC"
	CBDCTypeEUR CBDCType = "EUR-CBDC"
	CBDCTypeGBP CBDCType = "GBP-CBDC"
)

func (c CBDCType) IsValid() bool {
	switch c {
	case CBDCTypeUSD, CBDCTypeEUR, CBDCTypeGBP:
		return true
	}
	return false
}

// MinDenomination is the smallest value a token may carry.
var MinDenomination = decimal.RequireFromString("0.01")

// Token is a unit of digital currency with explicit ownership and lifecycle state.
// ChainHead is the integrity tag of the latest audit entry and anchors the
// next entry's hash.
type Token struct {
	ID           id.TokenID      `json:"id"`
	CBDCType     CBDCType        `json:"cbdc_type"`
	Denomination decimal.Decimal `json:"denomination"`
	OwnerID      id.UserID       `json:"owner_id"`
	Status       Status          `json:"status"`
	ChainHead    string          `json:"chain_head"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// NewToken creates a token in the given initial status and seals its create entry.
// Replacement tokens issued during a reversal start frozen; everything else starts active.
func NewToken(owner id.UserID, cbdcType CBDCType, denomination decimal.Decimal, initial Status, opID id.OperationID, reason string, now time.Time) (*Token, *AuditEntry, error) {
	if owner.IsNil() {
		return nil, nil, dErrors.New(dErrors.CodeValidation, "owner_id is required")
	}
	if !cbdcType.IsValid() {
		return nil, nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("unsupported cbdc_type: %s", cbdcType))
	}
	if denomination.LessThan(MinDenomination) {
		return nil, nil, dErrors.New(dErrors.CodeValidation, "denomination must be at least 0.01")
	}
	if initial != StatusActive && initial != StatusFrozen {
		return nil, nil, dErrors.New(dErrors.CodeValidation, "tokens are issued active or frozen")
	}
	ts := auditTime(now)
	t := &Token{
		ID:           id.NewTokenID(),
		CBDCType:     cbdcType,
		Denomination: denomination,
		OwnerID:      owner,
		Status:       initial,
		CreatedAt:    ts,
		UpdatedAt:    ts,
	}
	entry := t.record(opID, OperationCreate, "", initial, id.UserID{}, owner, reason, ts)
	return t, entry, nil
}

// Transition moves the token along one table edge and returns the sealed audit entry.
// The token is left unchanged when the edge does not exist.
func (t *Token) Transition(target Status, opID id.OperationID, reason string, now time.Time) (*AuditEntry, error) {
	if !t.Status.CanTransitionTo(target) {
		return nil, dErrors.WithDetails(
			dErrors.New(dErrors.CodeInvalidStateTransition,
				fmt.Sprintf("token %s cannot move from %s to %s", t.ID, t.Status, target)),
			t.Clone())
	}
	old := t.Status
	ts := auditTime(now)
	t.Status = target
	t.UpdatedAt = ts
	return t.record(opID, OperationFor(old, target), old, target, t.OwnerID, t.OwnerID, reason, ts), nil
}

// TransferOwnership reassigns an active token to a new owner.
func (t *Token) TransferOwnership(newOwner id.UserID, opID id.OperationID, reason string, now time.Time) (*AuditEntry, error) {
	if newOwner.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "new owner is required")
	}
	if t.Status != StatusActive {
		return nil, dErrors.WithDetails(
			dErrors.New(dErrors.CodeInvalidStateTransition,
				fmt.Sprintf("token %s is %s; only active tokens can change owner", t.ID, t.Status)),
			t.Clone())
	}
	if newOwner == t.OwnerID {
		return nil, dErrors.New(dErrors.CodeValidation, "token already belongs to this owner")
	}
	old := t.OwnerID
	ts := auditTime(now)
	t.OwnerID = newOwner
	t.UpdatedAt = ts
	return t.record(opID, OperationOwnershipTransfer, t.Status, t.Status, old, newOwner, reason, ts), nil
}

func (t *Token) record(opID id.OperationID, op Operation, from, to Status, oldOwner, newOwner id.UserID, reason string, ts time.Time) *AuditEntry {
	entry := &AuditEntry{
		ID:          newEntryID(),
		OperationID: opID,
		TokenID:     t.ID,
		Operation:   op,
		OldStatus:   from,
		NewStatus:   to,
		OldOwner:    oldOwner,
		NewOwner:    newOwner,
		Reason:      reason,
		Timestamp:   ts,
		PrevTag:     t.ChainHead,
	}
	entry.IntegrityTag = entry.ComputeTag()
	t.ChainHead = entry.IntegrityTag
	return entry
}

// Clone returns a copy safe to hand across store boundaries.
func (t *Token) Clone() *Token {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// auditTime normalizes timestamps to the precision Postgres keeps, so a tag
// computed in memory still verifies after a database round trip.
func auditTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
