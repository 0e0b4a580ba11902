package models

import (
	"strings"

	"fraudengine/pkg/validation"
)

// IssueRequest mints quantity tokens of one denomination to an owner.
type IssueRequest struct {
	OwnerID      string `json:"owner_id" validate:"required,uuid"`
	CBDCType     string `json:"cbdc_type" validate:"required,oneof=USD-CBDC EUR-CBDC GBP-CBDC"`
	Denomination string `json:"denomination" validate:"required,notblank"`
	Quantity     int    `json:"quantity" validate:"gte=1,lte=1000"`
	Reason       string `json:"reason" validate:"max=500"`
}

func (r *IssueRequest) Normalize() {
	r.CBDCType = strings.ToUpper(strings.TrimSpace(r.CBDCType))
	r.Denomination = strings.TrimSpace(r.Denomination)
	if r.Quantity == 0 {
		r.Quantity = 1
	}
}

func (r *IssueRequest) Validate() error { return validation.Validate(r) }

// StatusChangeRequest carries the optional reason for a freeze or unfreeze.
type StatusChangeRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

func (r *StatusChangeRequest) Normalize() { r.Reason = strings.TrimSpace(r.Reason) }

func (r *StatusChangeRequest) Validate() error { return validation.Validate(r) }

// TransferRequest moves an active token to a new owner.
type TransferRequest struct {
	NewOwnerID string `json:"new_owner_id" validate:"required,uuid"`
	Reason     string `json:"reason" validate:"max=500"`
}

func (r *TransferRequest) Validate() error { return validation.Validate(r) }

// BulkStatusRequest moves up to MaxBulkTokens tokens to one target status.
type BulkStatusRequest struct {
	TokenIDs     []string `json:"token_ids" validate:"required,min=1,max=1000,unique,dive,uuid"`
	TargetStatus string   `json:"target_status" validate:"required,oneof=active frozen disputed invalid"`
	Reason       string   `json:"reason" validate:"max=500"`
}

func (r *BulkStatusRequest) Normalize() {
	r.TargetStatus = strings.ToLower(strings.TrimSpace(r.TargetStatus))
	for i, raw := range r.TokenIDs {
		r.TokenIDs[i] = strings.ToLower(strings.TrimSpace(raw))
	}
}

func (r *BulkStatusRequest) Validate() error { return validation.Validate(r) }
