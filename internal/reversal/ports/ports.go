// Package ports declares the external collaborators the reversal flow calls.
package ports

//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	id "fraudengine/pkg/domain"
)

// Transaction is the ledger's view of a settled payment.
type Transaction struct {
	ID        id.TransactionID `json:"transaction_id"`
	TokenID   id.TokenID       `json:"token_id"`
	PayerID   id.UserID        `json:"payer_id"`
	PayeeID   id.UserID        `json:"payee_id"`
	Amount    decimal.Decimal  `json:"amount"`
	Currency  string           `json:"currency"`
	Timestamp time.Time        `json:"timestamp"`
}

// TransactionLedger is the external system of record for balances.
//
// Error Contract:
// - sentinel.ErrNotFound when the transaction is unknown
// - sentinel.ErrUnavailable (wrapped) when the ledger cannot be reached or the
//   circuit is open
// - ReverseBalance is idempotent per transaction on the ledger side
type TransactionLedger interface {
	Lookup(ctx context.Context, txID id.TransactionID) (*Transaction, error)
	ReverseBalance(ctx context.Context, txID id.TransactionID) error
}
