package handler

import (
	"strings"

	"fraudengine/pkg/validation"
)

type AssignRequest struct {
	ArbitratorID    string `json:"arbitrator_id" validate:"required,uuid"`
	Note            string `json:"note" validate:"max=1000"`
	ExpectedVersion *int64 `json:"expected_version,omitempty" validate:"omitempty,gte=0"`
}

func (r *AssignRequest) Normalize() {
	r.ArbitratorID = strings.ToLower(strings.TrimSpace(r.ArbitratorID))
	r.Note = strings.TrimSpace(r.Note)
}

func (r *AssignRequest) Validate() error { return validation.Validate(r) }

type DecisionRequest struct {
	Resolution      string         `json:"resolution" validate:"required,oneof=fraud_confirmed fraud_denied insufficient_evidence"`
	Reasoning       string         `json:"reasoning" validate:"required,notblank,max=4000"`
	Evidence        map[string]any `json:"evidence" validate:"max=100"`
	ExpectedVersion *int64         `json:"expected_version,omitempty" validate:"omitempty,gte=0"`
}

func (r *DecisionRequest) Normalize() {
	r.Resolution = strings.ToLower(strings.TrimSpace(r.Resolution))
	r.Reasoning = strings.TrimSpace(r.Reasoning)
}

func (r *DecisionRequest) Validate() error { return validation.Validate(r) }
