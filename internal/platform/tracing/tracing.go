// Package tracing is a thin span abstraction over OpenTelemetry used around
// calls to external collaborators and the reversal walk.
//
// Implementations:
//   - NoopTracer: tests and deployments without a collector
//   - OTelTracer: OpenTelemetry adapter
package tracing

import (
	"context"
	"time"
)

// Span is an active trace span. End must be called exactly once.
type Span interface {
	// End completes the span. A non-nil err marks the span failed.
	End(err error)
	SetAttributes(attrs ...Attribute)
	AddEvent(name string, attrs ...Attribute)
}

// Tracer creates spans. Implementations must be safe for concurrent use.
type Tracer interface {
	Start(ctx context.Context, name string, attrs ...Attribute) (context.Context, Span)
}

type Attribute struct {
	Key   string
	Value any
}

func String(key, value string) Attribute         { return Attribute{Key: key, Value: value} }
func Bool(key string, value bool) Attribute       { return Attribute{Key: key, Value: value} }
func Int64(key string, value int64) Attribute     { return Attribute{Key: key, Value: value} }
func Float64(key string, value float64) Attribute { return Attribute{Key: key, Value: value} }

// Duration records value in milliseconds.
func Duration(key string, value time.Duration) Attribute {
	return Attribute{Key: key, Value: value.Milliseconds()}
}

// Span names.
const (
	SpanReversalExecute      = "reversal.execute"
	SpanLedgerLookup         = "transaction_ledger.lookup"
	SpanLedgerReverseBalance = "transaction_ledger.reverse_balance"
	SpanGateRoute            = "gate.route"
)

// Attribute keys.
const (
	AttrTransactionID = "transaction.id"
	AttrTokenID       = "token.id"
	AttrCaseID        = "case.id"
	AttrReversalType  = "reversal.type"
	AttrBreakerState  = "circuit.state"
	AttrWithinSLA     = "reversal.within_sla"
	AttrGateAction    = "gate.action"
)

// Event names.
const (
	EventOriginalDisputed  = "original.disputed"
	EventReplacementIssued = "replacement.issued"
	EventRollbackStarted   = "rollback.started"
	EventReversalFinalized = "reversal.finalized"
)
