// Package models holds the reversal record and the SLA budgets it is measured against.
package models

import (
	"errors"
	"time"

	id "fraudengine/pkg/domain"
)

// AutomatedSLA is the budget for an automated reversal, measured from detection.
const AutomatedSLA = time.Hour

// ManualSLA is the budget for a reversal confirmed by arbitration, measured
// from the moment the case was opened.
const ManualSLA = 72 * time.Hour

// ErrNotReversible marks a reversal that found its transaction no longer in a
// reversible state. It is returned wrapped in an invalid_state_transition error.
var ErrNotReversible = errors.New("transaction is not reversible")

type ReversalType string

const (
	TypeAutomatedFraud    ReversalType = "automated_fraud"
	TypeManualArbitration ReversalType = "manual_arbitration"
)

func (t ReversalType) IsValid() bool {
	return t == TypeAutomatedFraud || t == TypeManualArbitration
}

// SLA returns the budget for the reversal type.
func (t ReversalType) SLA() time.Duration {
	if t == TypeAutomatedFraud {
		return AutomatedSLA
	}
	return ManualSLA
}

// ReversalRecord links a reversed transaction to its token-level effect.
// Records are written once, after the external ledger confirms, and never change.
type ReversalRecord struct {
	ID                 id.ReversalID    `json:"id"`
	TransactionID      id.TransactionID `json:"transaction_id"`
	CaseID             *id.CaseID       `json:"case_id,omitempty"`
	OriginalTokenID    id.TokenID       `json:"original_token_id"`
	ReplacementTokenID id.TokenID       `json:"replacement_token_id"`
	OperationID        id.OperationID   `json:"operation_id"`
	ReversalType       ReversalType     `json:"reversal_type"`
	Reason             string           `json:"reason"`
	DetectedAt         time.Time        `json:"detected_at"`
	ReversedAt         time.Time        `json:"reversed_at"`
	WithinSLA          bool             `json:"within_sla"`
}

// RecordParams carries what the executor knows once the reversal is final.
type RecordParams struct {
	TransactionID      id.TransactionID
	CaseID             *id.CaseID
	OriginalTokenID    id.TokenID
	ReplacementTokenID id.TokenID
	OperationID        id.OperationID
	Type               ReversalType
	Reason             string
	DetectedAt         time.Time
}

func NewRecord(p RecordParams, reversedAt time.Time) *ReversalRecord {
	detected := p.DetectedAt.UTC().Truncate(time.Microsecond)
	reversed := reversedAt.UTC().Truncate(time.Microsecond)
	var caseID *id.CaseID
	if p.CaseID != nil {
		c := *p.CaseID
		caseID = &c
	}
	return &ReversalRecord{
		ID:                 id.NewReversalID(),
		TransactionID:      p.TransactionID,
		CaseID:             caseID,
		OriginalTokenID:    p.OriginalTokenID,
		ReplacementTokenID: p.ReplacementTokenID,
		OperationID:        p.OperationID,
		ReversalType:       p.Type,
		Reason:             p.Reason,
		DetectedAt:         detected,
		ReversedAt:         reversed,
		WithinSLA:          reversed.Sub(detected) <= p.Type.SLA(),
	}
}

// Statistics summarizes reversal outcomes. Rates are fractions in [0,1].
type Statistics struct {
	TotalReversals         int     `json:"total_reversals"`
	Successful             int     `json:"successful"`
	Failed                 int     `json:"failed"`
	InFlight               int     `json:"in_flight"`
	WithinSLA              int     `json:"within_sla"`
	AverageDurationSeconds float64 `json:"average_duration_seconds"`
	SuccessRate            float64 `json:"success_rate"`
	SLACompliance          float64 `json:"sla_compliance"`
	AutomatedShare         float64 `json:"automated_share"`
}
