// Package domain provides type-safe identifiers to prevent mixing up IDs at compile time.
package domain

import (
	"github.com/google/uuid"

	dErrors "fraudengine/pkg/domain-errors"
)

// Distinct ID types - compiler prevents passing a TokenID where a CaseID is expected.
type (
	TokenID       uuid.UUID
	CaseID        uuid.UUID
	TransactionID uuid.UUID
	UserID        uuid.UUID
	OperationID   uuid.UUID
	ReversalID    uuid.UUID
)

// New constructors - used by services when minting fresh identifiers.

func NewTokenID() TokenID             { return TokenID(uuid.New()) }
func NewCaseID() CaseID               { return CaseID(uuid.New()) }
func NewTransactionID() TransactionID { return TransactionID(uuid.New()) }
func NewUserID() UserID               { return UserID(uuid.New()) }
func NewOperationID() OperationID     { return OperationID(uuid.New()) }
func NewReversalID() ReversalID       { return ReversalID(uuid.New()) }

// Parse functions - use at trust boundaries (handlers, API inputs).

func ParseTokenID(s string) (TokenID, error) {
	id, err := parseUUID(s, "token ID")
	return TokenID(id), err
}

func ParseCaseID(s string) (CaseID, error) {
	id, err := parseUUID(s, "case ID")
	return CaseID(id), err
}

func ParseTransactionID(s string) (TransactionID, error) {
	id, err := parseUUID(s, "transaction ID")
	return TransactionID(id), err
}

func ParseUserID(s string) (UserID, error) {
	id, err := parseUUID(s, "user ID")
	return UserID(id), err
}

func ParseOperationID(s string) (OperationID, error) {
	id, err := parseUUID(s, "operation ID")
	return OperationID(id), err
}

// String methods - for logging and debugging.

func (id TokenID) String() string       { return uuid.UUID(id).String() }
func (id CaseID) String() string        { return uuid.UUID(id).String() }
func (id TransactionID) String() string { return uuid.UUID(id).String() }
func (id UserID) String() string        { return uuid.UUID(id).String() }
func (id OperationID) String() string   { return uuid.UUID(id).String() }
func (id ReversalID) String() string    { return uuid.UUID(id).String() }

// IsNil checks - used for service-layer validation.

func (id TokenID) IsNil() bool       { return uuid.UUID(id) == uuid.Nil }
func (id CaseID) IsNil() bool        { return uuid.UUID(id) == uuid.Nil }
func (id TransactionID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id UserID) IsNil() bool        { return uuid.UUID(id) == uuid.Nil }
func (id OperationID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id ReversalID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

// JSON encodes ids as their canonical string form.

func (id TokenID) MarshalText() ([]byte, error)       { return uuid.UUID(id).MarshalText() }
func (id CaseID) MarshalText() ([]byte, error)        { return uuid.UUID(id).MarshalText() }
func (id TransactionID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id UserID) MarshalText() ([]byte, error)        { return uuid.UUID(id).MarshalText() }
func (id OperationID) MarshalText() ([]byte, error)   { return uuid.UUID(id).MarshalText() }
func (id ReversalID) MarshalText() ([]byte, error)    { return uuid.UUID(id).MarshalText() }

func (id *TokenID) UnmarshalText(b []byte) error       { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *CaseID) UnmarshalText(b []byte) error        { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *TransactionID) UnmarshalText(b []byte) error { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *UserID) UnmarshalText(b []byte) error        { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *OperationID) UnmarshalText(b []byte) error   { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *ReversalID) UnmarshalText(b []byte) error    { return (*uuid.UUID)(id).UnmarshalText(b) }

// parseUUID is the shared validation logic. Nil UUIDs are rejected at the
// boundary since no entity in this system is ever keyed by uuid.Nil.
func parseUUID(s, label string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeValidation, label+" cannot be empty")
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeValidation, "invalid "+label+" format")
	}
	if id == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeValidation, label+" cannot be nil")
	}
	return id, nil
}
