package tracing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestNoopTracer_ReturnsContextUnchanged(t *testing.T) {
	ctx := context.Background()
	got, span := NewNoop().Start(ctx, SpanReversalExecute, String(AttrTransactionID, "tx"))

	assert.Equal(t, ctx, got)
	require.NotNil(t, span)
	span.AddEvent(EventRollbackStarted)
	span.End(errors.New("ledger down"))
}

func TestOTelTracer_WithInjectedTracer(t *testing.T) {
	tr := NewOTel(WithOTelTracer(noop.NewTracerProvider().Tracer("test")))

	ctx, span := tr.Start(context.Background(), SpanLedgerReverseBalance, Bool(AttrWithinSLA, true))
	require.NotNil(t, ctx)
	span.SetAttributes(Duration("elapsed", 1500*time.Millisecond))
	span.End(nil)
}

func TestToOTelAttributes(t *testing.T) {
	got := toOTelAttributes([]Attribute{
		String("s", "v"),
		Bool("b", true),
		Int64("i", 7),
		{Key: "n", Value: 3},
		Float64("f", 0.93),
		{Key: "skipped", Value: struct{}{}},
	})

	require.Len(t, got, 5)
	assert.Equal(t, attribute.String("s", "v"), got[0])
	assert.Equal(t, attribute.Int("n", 3), got[3])
	assert.Nil(t, toOTelAttributes(nil))
}
