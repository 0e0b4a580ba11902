package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	casemodels "fraudengine/internal/cases/models"
	"fraudengine/internal/notify"
	"fraudengine/internal/reversal/ports"
	id "fraudengine/pkg/domain"
)

// TestIDs provides pre-generated IDs for deterministic test data.
var TestIDs = struct {
	Payer       id.UserID
	Payee       id.UserID
	Arbitrator1 id.UserID
	Arbitrator2 id.UserID
	Supervisor  id.UserID
	Outsider    id.UserID
}{
	Payer:       id.UserID(uuid.MustParse("11111111-1111-1111-1111-111111111111")),
	Payee:       id.UserID(uuid.MustParse("22222222-2222-2222-2222-222222222222")),
	Arbitrator1: id.UserID(uuid.MustParse("aaaa0000-0000-0000-0000-000000000001")),
	Arbitrator2: id.UserID(uuid.MustParse("aaaa0000-0000-0000-0000-000000000002")),
	Supervisor:  id.UserID(uuid.MustParse("55550000-0000-0000-0000-000000000001")),
	Outsider:    id.UserID(uuid.MustParse("eeee0000-0000-0000-0000-000000000001")),
}

// Clock is a settable time source for services that take WithClock.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// TransactionBuilder provides a fluent interface for ledger transactions.
type TransactionBuilder struct {
	tx ports.Transaction
}

// NewTransactionBuilder creates a payer to payee transaction of 100.
func NewTransactionBuilder(tokenID id.TokenID) *TransactionBuilder {
	return &TransactionBuilder{tx: ports.Transaction{
		ID:        id.NewTransactionID(),
		TokenID:   tokenID,
		PayerID:   TestIDs.Payer,
		PayeeID:   TestIDs.Payee,
		Amount:    decimal.NewFromInt(100),
		Currency:  "USD-CBDC",
		Timestamp: time.Now().UTC(),
	}}
}

func (b *TransactionBuilder) WithID(txID id.TransactionID) *TransactionBuilder {
	b.tx.ID = txID
	return b
}

func (b *TransactionBuilder) WithPayer(payer id.UserID) *TransactionBuilder {
	b.tx.PayerID = payer
	return b
}

func (b *TransactionBuilder) WithAmount(amount string) *TransactionBuilder {
	b.tx.Amount = decimal.RequireFromString(amount)
	return b
}

func (b *TransactionBuilder) Build() ports.Transaction {
	return b.tx
}

// CaseBuilder builds fraud cases directly, bypassing the service, for store
// and sweep tests.
type CaseBuilder struct {
	c *casemodels.FraudCase
}

// NewCaseBuilder creates an open, unassigned, medium priority case.
func NewCaseBuilder() *CaseBuilder {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &CaseBuilder{c: &casemodels.FraudCase{
		ID:            id.NewCaseID(),
		TransactionID: id.NewTransactionID(),
		TokenID:       id.NewTokenID(),
		CaseType:      casemodels.CaseTypeUnauthorizedTransaction,
		Priority:      casemodels.PriorityMedium,
		Status:        casemodels.StatusOpen,
		Source:        casemodels.SourceGate,
		Evidence:      map[string]any{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}}
}

func (b *CaseBuilder) WithTransaction(txID id.TransactionID, tokenID id.TokenID) *CaseBuilder {
	b.c.TransactionID = txID
	b.c.TokenID = tokenID
	return b
}

func (b *CaseBuilder) WithPriority(p casemodels.Priority) *CaseBuilder {
	b.c.Priority = p
	return b
}

func (b *CaseBuilder) WithStatus(s casemodels.Status) *CaseBuilder {
	b.c.Status = s
	return b
}

func (b *CaseBuilder) WithReporter(reporter id.UserID) *CaseBuilder {
	b.c.ReporterID = &reporter
	b.c.Source = casemodels.SourceReport
	return b
}

func (b *CaseBuilder) AssignedTo(arbitrator id.UserID, at time.Time) *CaseBuilder {
	at = at.UTC().Truncate(time.Microsecond)
	b.c.AssignedArbitratorID = &arbitrator
	b.c.AssignedAt = &at
	b.c.Status = casemodels.StatusInvestigating
	return b
}

func (b *CaseBuilder) CreatedAt(t time.Time) *CaseBuilder {
	t = t.UTC().Truncate(time.Microsecond)
	b.c.CreatedAt = t
	b.c.UpdatedAt = t
	return b
}

func (b *CaseBuilder) Escalated(at time.Time, notified bool) *CaseBuilder {
	at = at.UTC().Truncate(time.Microsecond)
	b.c.EscalatedAt = &at
	b.c.EscalationNotified = notified
	return b
}

func (b *CaseBuilder) Build() *casemodels.FraudCase {
	return b.c.Clone()
}

// Notification is one recorded Notify call.
type Notification struct {
	CaseID    id.CaseID
	EventType notify.EventType
	Payload   map[string]any
}

// NotificationRecorder is a notify.Notifier that keeps every event and can
// be told to fail.
type NotificationRecorder struct {
	mu     sync.Mutex
	events []Notification
	err    error
}

func (r *NotificationRecorder) Notify(_ context.Context, caseID id.CaseID, eventType notify.EventType, payload map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, Notification{CaseID: caseID, EventType: eventType, Payload: payload})
	return nil
}

// FailWith makes subsequent calls return err; nil restores delivery.
func (r *NotificationRecorder) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

func (r *NotificationRecorder) Events() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.events...)
}

// EventsOf returns the recorded events of one type.
func (r *NotificationRecorder) EventsOf(eventType notify.EventType) []Notification {
	var out []Notification
	for _, e := range r.Events() {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}
