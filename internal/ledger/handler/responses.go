package handler

import (
	"fraudengine/internal/ledger/models"
	id "fraudengine/pkg/domain"
)

type IssueResponse struct {
	Count  int             `json:"count"`
	Tokens []*models.Token `json:"tokens"`
}

type AuditTrailResponse struct {
	TokenID id.TokenID           `json:"token_id"`
	Entries []*models.AuditEntry `json:"entries"`
}
