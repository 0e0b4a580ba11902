package models

import (
	"strings"
	"time"

	casemodels "fraudengine/internal/cases/models"
	reversalmodels "fraudengine/internal/reversal/models"
	id "fraudengine/pkg/domain"
	"fraudengine/pkg/validation"
)

// Action is the route the gate took for a scored transaction.
type Action string

const (
	ActionReversed   Action = "reversed"
	ActionCaseOpened Action = "case_opened"
	ActionCleared    Action = "cleared"
)

// Reason explains which rule produced the action.
type Reason string

const (
	ReasonAutoReverse     Reason = "auto_reverse"
	ReasonLowConfidence   Reason = "low_confidence"
	ReasonAmbiguous       Reason = "ambiguous_score"
	ReasonArbitrationBand Reason = "arbitration_band"
	ReasonBelowFloor      Reason = "below_floor"
	ReasonReplay          Reason = "replay"
)

// ScoredEvent is a risk-scored transaction pushed by the scorer.
type ScoredEvent struct {
	TransactionID    id.TransactionID
	ReporterID       *id.UserID
	Score            float64
	Confidence       float64
	EvidenceSnapshot map[string]any
	DetectedAt       time.Time
}

// RouteResult is what the gate did with an event. CaseID and Case are set for
// reversed and case_opened; Reversal only for reversed.
type RouteResult struct {
	Action   Action                         `json:"action"`
	Reason   Reason                         `json:"reason"`
	CaseID   *id.CaseID                     `json:"case_id,omitempty"`
	Case     *casemodels.CaseView           `json:"case,omitempty"`
	Reversal *reversalmodels.ReversalRecord `json:"reversal,omitempty"`
}

// ScoredTransactionRequest is the wire form of ScoredEvent, shared by the
// HTTP endpoint and the Kafka consumer.
type ScoredTransactionRequest struct {
	TransactionID    string         `json:"transaction_id" validate:"required,uuid"`
	ReporterID       string         `json:"reporter_id" validate:"omitempty,uuid"`
	Score            *float64       `json:"score" validate:"required,gte=0,lte=1"`
	Confidence       *float64       `json:"confidence" validate:"required,gte=0,lte=1"`
	EvidenceSnapshot map[string]any `json:"evidence_snapshot" validate:"max=100"`
	DetectedAt       *time.Time     `json:"detected_at"`
}

func (r *ScoredTransactionRequest) Normalize() {
	r.TransactionID = strings.ToLower(strings.TrimSpace(r.TransactionID))
	r.ReporterID = strings.ToLower(strings.TrimSpace(r.ReporterID))
}

func (r *ScoredTransactionRequest) Validate() error { return validation.Validate(r) }

// ToEvent converts a validated request.
func (r *ScoredTransactionRequest) ToEvent() (ScoredEvent, error) {
	txID, err := id.ParseTransactionID(r.TransactionID)
	if err != nil {
		return ScoredEvent{}, err
	}
	ev := ScoredEvent{
		TransactionID:    txID,
		Score:            *r.Score,
		Confidence:       *r.Confidence,
		EvidenceSnapshot: r.EvidenceSnapshot,
	}
	if r.ReporterID != "" {
		reporter, err := id.ParseUserID(r.ReporterID)
		if err != nil {
			return ScoredEvent{}, err
		}
		ev.ReporterID = &reporter
	}
	if r.DetectedAt != nil {
		ev.DetectedAt = *r.DetectedAt
	}
	return ev, nil
}
