// Package sweep escalates cases that ran past the arbitration SLA.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	arbitrationmetrics "fraudengine/internal/arbitration/metrics"
	casemodels "fraudengine/internal/cases/models"
	"fraudengine/internal/notify"
	id "fraudengine/pkg/domain"
)

// Cases exposes the case queries and mutations the sweep needs.
type Cases interface {
	ListOverdueCandidates(ctx context.Context, cutoff time.Time) ([]*casemodels.FraudCase, error)
	ListEscalatedUnnotified(ctx context.Context) ([]*casemodels.FraudCase, error)
	Mutate(ctx context.Context, op string, caseID id.CaseID, fn func(*casemodels.FraudCase) error) (*casemodels.FraudCase, error)
	Notify(ctx context.Context, c *casemodels.FraudCase, event notify.EventType, extra map[string]any) bool
}

// InFlightReversals flags automated reversals stuck past their SLA.
type InFlightReversals interface {
	FlagOverdueInFlight(ctx context.Context) (int, error)
}

// Result summarizes one sweep run.
type Result struct {
	Escalated            int
	Notified             int
	NotificationFailures int
	OverdueReversals     int
}

// Sweeper runs the periodic SLA sweep.
type Sweeper struct {
	cases     Cases
	reversals InFlightReversals
	interval  time.Duration
	logger    *slog.Logger
	metrics   *arbitrationmetrics.Metrics
	now       func() time.Time
}

type Option func(*Sweeper)

// WithInterval overrides the sweep interval when greater than zero.
func WithInterval(interval time.Duration) Option {
	return func(s *Sweeper) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Sweeper) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m *arbitrationmetrics.Metrics) Option {
	return func(s *Sweeper) {
		s.metrics = m
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) {
		s.now = now
	}
}

func New(cases Cases, reversals InFlightReversals, opts ...Option) (*Sweeper, error) {
	if cases == nil || reversals == nil {
		return nil, fmt.Errorf("cases and reversals are required")
	}
	s := &Sweeper{
		cases:     cases,
		reversals: reversals,
		interval:  time.Hour,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Start runs the sweep every interval until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if res, err := s.RunSweepOnce(ctx); err != nil {
				s.logger.ErrorContext(ctx, "arbitration sweep failed", "error", err)
			} else if res.Escalated > 0 || res.NotificationFailures > 0 || res.OverdueReversals > 0 {
				s.logger.InfoContext(ctx, "arbitration sweep completed",
					"escalated", res.Escalated,
					"notified", res.Notified,
					"notification_failures", res.NotificationFailures,
					"overdue_reversals", res.OverdueReversals)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// errNotEligible aborts the escalate mutation without writing.
var errNotEligible = errors.New("case not eligible for escalation")

// RunSweepOnce escalates every overdue active case that has not been
// escalated, then delivers pending escalation notifications. The escalation
// is persisted before the notification is attempted; an undelivered
// notification is retried on the next run. Running it twice escalates nothing
// new.
func (s *Sweeper) RunSweepOnce(ctx context.Context) (Result, error) {
	start := time.Now()
	now := s.now()
	var res Result
	var errs []error

	candidates, err := s.cases.ListOverdueCandidates(ctx, now.Add(-casemodels.ArbitrationSLA))
	if err != nil {
		errs = append(errs, fmt.Errorf("list overdue cases: %w", err))
	}
	for _, candidate := range candidates {
		c, err := s.cases.Mutate(ctx, "escalate", candidate.ID, func(c *casemodels.FraudCase) error {
			if !c.Escalate(now) {
				return errNotEligible
			}
			return nil
		})
		switch {
		case errors.Is(err, errNotEligible):
			continue
		case err != nil:
			errs = append(errs, fmt.Errorf("escalate case %s: %w", candidate.ID, err))
			continue
		}
		res.Escalated++
		if s.metrics != nil {
			s.metrics.IncrementEscalation(string(c.Priority))
		}
		s.logger.WarnContext(ctx, "case escalated past arbitration SLA",
			"case_id", c.ID,
			"priority", c.Priority,
			"status", c.Status)
	}

	pending, err := s.cases.ListEscalatedUnnotified(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("list unnotified escalations: %w", err))
	}
	for _, c := range pending {
		delivered := s.cases.Notify(ctx, c, notify.EventCaseEscalated, escalationPayload(c))
		if s.metrics != nil {
			s.metrics.IncrementNotification(delivered)
		}
		if !delivered {
			res.NotificationFailures++
			continue
		}
		if _, err := s.cases.Mutate(ctx, "escalation_notified", c.ID, func(c *casemodels.FraudCase) error {
			c.MarkEscalationNotified(now)
			return nil
		}); err != nil {
			errs = append(errs, fmt.Errorf("mark escalation notified %s: %w", c.ID, err))
			continue
		}
		res.Notified++
	}

	flagged, err := s.reversals.FlagOverdueInFlight(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("flag overdue reversals: %w", err))
	}
	res.OverdueReversals = flagged
	if s.metrics != nil && flagged > 0 {
		s.metrics.AddOverdueInFlight(flagged)
	}

	err = errors.Join(errs...)
	if s.metrics != nil {
		s.metrics.ObserveSweep(start, err)
	}
	return res, err
}

func escalationPayload(c *casemodels.FraudCase) map[string]any {
	payload := map[string]any{}
	if c.EscalatedAt != nil {
		payload["escalated_at"] = c.EscalatedAt.Format(time.RFC3339)
	}
	if c.AssignedArbitratorID != nil {
		payload["arbitrator_id"] = c.AssignedArbitratorID.String()
	}
	return payload
}
