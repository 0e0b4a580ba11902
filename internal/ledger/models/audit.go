package models

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	id "fraudengine/pkg/domain"
)

// Operation names the kind of change an audit entry records.
type Operation string

const (
	OperationCreate            Operation = "create"
	OperationFreeze            Operation = "freeze"
	OperationUnfreeze          Operation = "unfreeze"
	OperationDispute           Operation = "dispute"
	OperationOwnershipTransfer Operation = "ownership_transfer"
	OperationInvalidate        Operation = "invalidate"
)

// OperationFor names the audited operation for a table edge.
func OperationFor(from, to Status) Operation {
	switch {
	case to == StatusFrozen:
		return OperationFreeze
	case to == StatusActive:
		return OperationUnfreeze
	case to == StatusDisputed:
		return OperationDispute
	case to == StatusInvalid:
		return OperationInvalidate
	default:
		return Operation(fmt.Sprintf("%s_to_%s", from, to))
	}
}

// AuditEntry is one immutable, hash-chained record in a token's trail.
type AuditEntry struct {
	ID           uuid.UUID      `json:"id"`
	OperationID  id.OperationID `json:"operation_id"`
	TokenID      id.TokenID     `json:"token_id"`
	Operation    Operation      `json:"operation"`
	OldStatus    Status         `json:"old_status,omitempty"`
	NewStatus    Status         `json:"new_status"`
	OldOwner     id.UserID      `json:"old_owner"`
	NewOwner     id.UserID      `json:"new_owner"`
	Reason       string         `json:"reason,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
	PrevTag      string         `json:"prev_tag"`
	IntegrityTag string         `json:"integrity_tag"`
}

func newEntryID() uuid.UUID { return uuid.New() }

// ComputeTag digests the previous tag together with every field of the entry.
func (e *AuditEntry) ComputeTag() string {
	fields := []string{
		e.PrevTag,
		e.ID.String(),
		e.OperationID.String(),
		e.TokenID.String(),
		string(e.Operation),
		string(e.OldStatus),
		string(e.NewStatus),
		e.OldOwner.String(),
		e.NewOwner.String(),
		e.Reason,
		e.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	sum := blake2b.Sum256([]byte(strings.Join(fields, "\x1f")))
	return hex.EncodeToString(sum[:])
}

// ChainVerification is the outcome of replaying a token's trail.
type ChainVerification struct {
	TokenID    id.TokenID `json:"token_id"`
	Entries    int        `json:"entries"`
	Valid      bool       `json:"valid"`
	BrokenAt   int        `json:"broken_at,omitempty"`
	Reason     string     `json:"reason,omitempty"`
	HeadTag    string     `json:"head_tag"`
	HeadMatch  bool       `json:"head_match"`
	VerifiedAt time.Time  `json:"verified_at"`
}

// VerifyChain replays entries in order and reports the first break.
// head is the token's recorded chain head; an empty trail never verifies.
func VerifyChain(tokenID id.TokenID, entries []*AuditEntry, head string, now time.Time) ChainVerification {
	res := ChainVerification{TokenID: tokenID, Entries: len(entries), VerifiedAt: now}
	if len(entries) == 0 {
		res.Reason = "empty audit trail"
		return res
	}
	prev := ""
	for i, e := range entries {
		switch {
		case e.TokenID != tokenID:
			res.BrokenAt, res.Reason = i, "entry belongs to another token"
			return res
		case e.PrevTag != prev:
			res.BrokenAt, res.Reason = i, "previous tag does not link"
			return res
		case e.ComputeTag() != e.IntegrityTag:
			res.BrokenAt, res.Reason = i, "integrity tag mismatch"
			return res
		}
		prev = e.IntegrityTag
	}
	res.HeadTag = prev
	res.HeadMatch = prev == head
	res.Valid = res.HeadMatch
	if !res.HeadMatch {
		res.BrokenAt, res.Reason = len(entries)-1, "token chain head does not match trail"
	}
	return res
}
