package ledgerhttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	reversalmetrics "fraudengine/internal/reversal/metrics"
	"fraudengine/internal/reversal/ports"
	"fraudengine/internal/sentinel"
	id "fraudengine/pkg/domain"
	"fraudengine/pkg/platform/circuit"
)

type fakeLedger struct {
	tx       ports.Transaction
	status   atomic.Int32
	reverses atomic.Int32
}

func (f *fakeLedger) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("X-API-Key") != "ledger-key" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if code := int(f.status.Load()); code != 0 {
		w.WriteHeader(code)
		return
	}
	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/v1/transactions/"+f.tx.ID.String():
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(f.tx)
	case r.Method == http.MethodPost && r.URL.Path == "/v1/transactions/"+f.tx.ID.String()+"/reverse":
		if f.reverses.Add(1) > 1 {
			w.WriteHeader(http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{tx: ports.Transaction{
		ID:        id.NewTransactionID(),
		TokenID:   id.NewTokenID(),
		PayerID:   id.NewUserID(),
		PayeeID:   id.NewUserID(),
		Amount:    decimal.RequireFromString("42.50"),
		Currency:  "EUR",
		Timestamp: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC),
	}}
}

func newTestClient(t *testing.T, h http.Handler, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Config{
		BaseURL:          srv.URL + "/",
		APIKey:           "ledger-key",
		Timeout:          time.Second,
		BreakerThreshold: 2,
		BreakerCooldown:  time.Minute,
	}, opts...)
}

func TestClient_Lookup(t *testing.T) {
	ledger := newFakeLedger()
	c := newTestClient(t, ledger)

	tx, err := c.Lookup(context.Background(), ledger.tx.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.tx.ID, tx.ID)
	assert.Equal(t, ledger.tx.TokenID, tx.TokenID)
	assert.True(t, tx.Amount.Equal(decimal.RequireFromString("42.50")))

	_, err = c.Lookup(context.Background(), id.NewTransactionID())
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
	assert.Equal(t, circuit.StateClosed, c.BreakerState(), "unknown transactions do not trip the breaker")
}

func TestClient_ReverseBalanceIsIdempotent(t *testing.T) {
	ledger := newFakeLedger()
	c := newTestClient(t, ledger)

	require.NoError(t, c.ReverseBalance(context.Background(), ledger.tx.ID))
	require.NoError(t, c.ReverseBalance(context.Background(), ledger.tx.ID))
	assert.EqualValues(t, 2, ledger.reverses.Load())
}

func TestClient_ServerErrorsOpenTheBreaker(t *testing.T) {
	ledger := newFakeLedger()
	ledger.status.Store(http.StatusServiceUnavailable)
	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	reg := prometheus.NewRegistry()
	metrics := reversalmetrics.New(reg)
	c := newTestClient(t, ledger,
		WithMetrics(metrics),
		WithBreakerClock(func() time.Time { return now }))

	for range 2 {
		err := c.ReverseBalance(context.Background(), ledger.tx.ID)
		assert.ErrorIs(t, err, sentinel.ErrUnavailable)
	}
	assert.Equal(t, circuit.StateOpen, c.BreakerState())

	// Open circuit short-circuits without reaching the server.
	ledger.status.Store(0)
	err := c.ReverseBalance(context.Background(), ledger.tx.ID)
	assert.ErrorIs(t, err, sentinel.ErrUnavailable)
	assert.ErrorIs(t, err, circuit.ErrOpen)
	assert.Zero(t, ledger.reverses.Load())
	assert.Equal(t, float64(circuit.StateOpen), testutil.ToFloat64(metrics.BreakerState.WithLabelValues(breakerName)))

	now = now.Add(2 * time.Minute)
	require.NoError(t, c.ReverseBalance(context.Background(), ledger.tx.ID))
	assert.EqualValues(t, 1, ledger.reverses.Load())
}

func TestClient_RejectedRequestsDoNotTripTheBreaker(t *testing.T) {
	ledger := newFakeLedger()
	ledger.status.Store(http.StatusUnprocessableEntity)
	c := newTestClient(t, ledger)

	for range 3 {
		err := c.ReverseBalance(context.Background(), ledger.tx.ID)
		require.Error(t, err)
		assert.False(t, errors.Is(err, sentinel.ErrUnavailable))
	}
	assert.Equal(t, circuit.StateClosed, c.BreakerState())
}

func TestClient_Timeout(t *testing.T) {
	block := make(chan struct{})
	t.Cleanup(func() { close(block) })
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := c.ReverseBalance(ctx, id.NewTransactionID())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorIs(t, err, sentinel.ErrUnavailable)
}
