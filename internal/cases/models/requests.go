package models

import (
	"strings"

	"fraudengine/pkg/validation"
)

// SubmitReportRequest is a user's fraud report. The reporter is the
// authenticated caller.
type SubmitReportRequest struct {
	TransactionID string         `json:"transaction_id" validate:"required,uuid"`
	CaseType      string         `json:"case_type" validate:"required,oneof=unauthorized_transaction account_takeover phishing social_engineering technical_fraud"`
	Description   string         `json:"description" validate:"required,notblank,max=2000"`
	Evidence      map[string]any `json:"evidence" validate:"max=100"`
}

func (r *SubmitReportRequest) Normalize() {
	r.TransactionID = strings.ToLower(strings.TrimSpace(r.TransactionID))
	r.CaseType = strings.ToLower(strings.TrimSpace(r.CaseType))
	r.Description = strings.TrimSpace(r.Description)
}

func (r *SubmitReportRequest) Validate() error { return validation.Validate(r) }

type AddEvidenceRequest struct {
	Evidence map[string]any `json:"evidence" validate:"required,min=1,max=100"`
}

func (r *AddEvidenceRequest) Validate() error { return validation.Validate(r) }

type CloseRequest struct {
	Reason string `json:"reason" validate:"max=1000"`
}

func (r *CloseRequest) Normalize() { r.Reason = strings.TrimSpace(r.Reason) }

func (r *CloseRequest) Validate() error { return validation.Validate(r) }

// ReportReceipt is returned to the reporter once the case is opened.
type ReportReceipt struct {
	CaseID              string   `json:"case_id"`
	Status              Status   `json:"status"`
	Priority            Priority `json:"priority"`
	EstimatedResolution string   `json:"estimated_resolution"`
	TokenHeld           bool     `json:"token_held"`
}
