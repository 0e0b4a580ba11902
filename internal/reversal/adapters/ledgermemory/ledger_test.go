package ledgermemory

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fraudengine/internal/reversal/ports"
	"fraudengine/internal/sentinel"
	id "fraudengine/pkg/domain"
)

func TestLedger(t *testing.T) {
	ctx := context.Background()
	l := New()
	txID := id.NewTransactionID()
	l.Add(ports.Transaction{ID: txID, TokenID: id.NewTokenID(), Amount: decimal.NewFromInt(50)})

	tx, err := l.Lookup(ctx, txID)
	require.NoError(t, err)
	assert.True(t, tx.Amount.Equal(decimal.NewFromInt(50)))

	_, err = l.Lookup(ctx, id.NewTransactionID())
	assert.ErrorIs(t, err, sentinel.ErrNotFound)

	l.FailReversals(sentinel.ErrUnavailable)
	assert.True(t, errors.Is(l.ReverseBalance(ctx, txID), sentinel.ErrUnavailable))
	assert.Zero(t, l.ReversalCalls(txID))

	l.FailReversals(nil)
	require.NoError(t, l.ReverseBalance(ctx, txID))
	assert.Equal(t, 1, l.ReversalCalls(txID))
}
