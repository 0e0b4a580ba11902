package models

import (
	id "fraudengine/pkg/domain"
)

// MaxBulkTokens caps a single bulk status update.
const MaxBulkTokens = 1000

// Offender is a token that blocked a bulk update, with its actual status.
type Offender struct {
	TokenID       id.TokenID `json:"token_id"`
	CurrentStatus Status     `json:"current_status"`
}

// BulkRejection itemizes why a whole batch was refused.
type BulkRejection struct {
	TargetStatus Status       `json:"target_status"`
	Offenders    []Offender   `json:"offenders,omitempty"`
	Missing      []id.TokenID `json:"missing,omitempty"`
}

// TokenResult is the per-token outcome of a committed bulk update.
type TokenResult struct {
	TokenID   id.TokenID `json:"token_id"`
	OldStatus Status     `json:"old_status"`
	NewStatus Status     `json:"new_status"`
	Token     *Token     `json:"token"`
}

// BulkResult is returned when every token in the batch moved.
type BulkResult struct {
	OperationID id.OperationID `json:"operation_id"`
	Results     []TokenResult  `json:"results"`
}
