// Package ledgerhttp is the HTTP client for the external transaction ledger.
package ledgerhttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"fraudengine/internal/platform/tracing"
	reversalmetrics "fraudengine/internal/reversal/metrics"
	"fraudengine/internal/reversal/ports"
	"fraudengine/internal/sentinel"
	id "fraudengine/pkg/domain"
	"fraudengine/pkg/platform/circuit"
)

const breakerName = "transaction_ledger"

// HTTPDoer is the minimal interface needed from an HTTP client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Config struct {
	BaseURL          string
	APIKey           string
	Timeout          time.Duration
	BreakerThreshold int
	BreakerCooldown  time.Duration
	HTTPClient       HTTPDoer
}

// Client calls the transaction ledger through a circuit breaker. Only
// unavailability (transport errors, timeouts, 5xx) counts against the
// breaker; an unknown transaction is a normal answer.
type Client struct {
	baseURL     string
	apiKey      string
	client      HTTPDoer
	breaker     *circuit.Breaker
	breakerOpts []circuit.Option
	tracer      tracing.Tracer
	metrics     *reversalmetrics.Metrics
	logger      *slog.Logger
}

type Option func(*Client)

func WithTracer(t tracing.Tracer) Option {
	return func(c *Client) {
		c.tracer = t
	}
}

func WithMetrics(m *reversalmetrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithBreakerClock drives the breaker cooldown from now instead of the wall clock.
func WithBreakerClock(now func() time.Time) Option {
	return func(c *Client) {
		c.breakerOpts = append(c.breakerOpts, circuit.WithClock(now))
	}
}

func New(cfg Config, opts ...Option) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  cfg.HTTPClient,
		tracer:  tracing.NewNoop(),
	}
	if c.client == nil {
		c.client = &http.Client{Timeout: cfg.Timeout}
	}
	c.breakerOpts = []circuit.Option{
		circuit.WithFailureThreshold(cfg.BreakerThreshold),
		circuit.WithCooldown(cfg.BreakerCooldown),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.breaker = c.newBreaker(c.breakerOpts...)
	return c
}

func (c *Client) newBreaker(opts ...circuit.Option) *circuit.Breaker {
	opts = append(opts, circuit.WithStateChangeHook(func(name string, from, to circuit.State) {
		if c.metrics != nil {
			c.metrics.SetBreakerState(name, int(to))
		}
		if c.logger != nil {
			c.logger.Warn("circuit breaker state changed",
				"circuit", name,
				"from", from.String(),
				"to", to.String())
		}
	}))
	return circuit.New(breakerName, opts...)
}

// BreakerState reports the breaker state for health checks.
func (c *Client) BreakerState() circuit.State {
	return c.breaker.State()
}

// Lookup fetches a settled transaction.
func (c *Client) Lookup(ctx context.Context, txID id.TransactionID) (*ports.Transaction, error) {
	var tx ports.Transaction
	err := c.call(ctx, tracing.SpanLedgerLookup, "lookup", txID, http.MethodGet,
		"/v1/transactions/"+txID.String(), func(body []byte) error {
			if err := json.Unmarshal(body, &tx); err != nil {
				return fmt.Errorf("%w: malformed transaction: %v", sentinel.ErrUnavailable, err)
			}
			return nil
		})
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

// ReverseBalance asks the ledger to reverse the transaction. The ledger
// answers 409 when it already has; that counts as success.
func (c *Client) ReverseBalance(ctx context.Context, txID id.TransactionID) error {
	return c.call(ctx, tracing.SpanLedgerReverseBalance, "reverse_balance", txID, http.MethodPost,
		"/v1/transactions/"+txID.String()+"/reverse", nil)
}

func (c *Client) call(ctx context.Context, spanName, op string, txID id.TransactionID, method, path string, decode func([]byte) error) error {
	start := time.Now()
	ctx, span := c.tracer.Start(ctx, spanName,
		tracing.String(tracing.AttrTransactionID, txID.String()),
		tracing.String(tracing.AttrBreakerState, c.breaker.State().String()))

	// Answers such as 404 are returned through answer so they do not trip
	// the breaker.
	var answer error
	err := c.breaker.Execute(func() error {
		body, err := c.do(ctx, method, path)
		switch {
		case err == nil && decode != nil:
			return decode(body)
		case errors.Is(err, sentinel.ErrNotFound), isRejected(err):
			answer = err
			return nil
		default:
			return err
		}
	})
	if errors.Is(err, circuit.ErrOpen) {
		err = fmt.Errorf("%w: %w", sentinel.ErrUnavailable, circuit.ErrOpen)
	}
	if err == nil {
		err = answer
	}
	span.End(err)

	if c.metrics != nil {
		c.metrics.ObserveLedgerCall(op, callOutcome(err), start)
	}
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) && c.logger != nil {
		c.logger.WarnContext(ctx, "transaction ledger call failed",
			"operation", op,
			"transaction_id", txID,
			"error", err)
	}
	return err
}

func (c *Client) do(ctx context.Context, method, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build ledger request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %w", sentinel.ErrUnavailable, context.DeadlineExceeded)
		}
		return nil, fmt.Errorf("%w: %v", sentinel.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read ledger response: %v", sentinel.ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK, resp.StatusCode == http.StatusNoContent:
		return body, nil
	case resp.StatusCode == http.StatusConflict && method == http.MethodPost:
		return body, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, sentinel.ErrNotFound
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, &rejectedError{status: resp.StatusCode}
	default:
		return nil, fmt.Errorf("%w: ledger returned status %d", sentinel.ErrUnavailable, resp.StatusCode)
	}
}

// rejectedError is a 4xx answer: the ledger is up but refused the request.
type rejectedError struct {
	status int
}

func (e *rejectedError) Error() string {
	return fmt.Sprintf("transaction ledger rejected request: status %d", e.status)
}

func isRejected(err error) bool {
	var r *rejectedError
	return errors.As(err, &r)
}

func callOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, sentinel.ErrNotFound):
		return "not_found"
	case errors.Is(err, circuit.ErrOpen):
		return "circuit_open"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case isRejected(err):
		return "rejected"
	default:
		return "unavailable"
	}
}

var _ ports.TransactionLedger = (*Client)(nil)
