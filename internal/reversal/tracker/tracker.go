// Package tracker measures reversals against their SLA budgets.
//
// Completed outcomes are kept in a fixed-size ring so statistics cover the
// most recent reversals without unbounded growth.
package tracker

import (
	"slices"
	"sync"
	"time"

	"fraudengine/internal/reversal/models"
	id "fraudengine/pkg/domain"
)

// DefaultCapacity bounds the number of completed outcomes kept for statistics.
const DefaultCapacity = 10000

// InFlight is a reversal that has started and not yet finished.
type InFlight struct {
	TransactionID id.TransactionID
	CaseID        *id.CaseID
	Type          models.ReversalType
	DetectedAt    time.Time
	StartedAt     time.Time
}

type outcome struct {
	reversalType models.ReversalType
	succeeded    bool
	duration     time.Duration
	withinSLA    bool
}

type Tracker struct {
	mu       sync.Mutex
	active   map[id.TransactionID]InFlight
	ring     []outcome
	next     int
	full     bool
	capacity int
}

// New creates a tracker keeping at most capacity outcomes; non-positive
// values use DefaultCapacity.
func New(capacity int) *Tracker {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Tracker{
		active:   make(map[id.TransactionID]InFlight),
		ring:     make([]outcome, capacity),
		capacity: capacity,
	}
}

// Start records a reversal as in flight. Starting an already tracked
// transaction keeps the original start.
func (t *Tracker) Start(f InFlight) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.active[f.TransactionID]; ok {
		return
	}
	t.active[f.TransactionID] = f
}

// Complete records a successful reversal finished at now. The SLA is measured
// from detection.
func (t *Tracker) Complete(txID id.TransactionID, now time.Time) {
	t.finish(txID, true, now)
}

// Fail records a reversal that ended without reversing.
func (t *Tracker) Fail(txID id.TransactionID, now time.Time) {
	t.finish(txID, false, now)
}

// Abandon forgets an in-flight reversal that turned out to be a no-op.
func (t *Tracker) Abandon(txID id.TransactionID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.active, txID)
}

func (t *Tracker) finish(txID id.TransactionID, succeeded bool, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, ok := t.active[txID]
	if !ok {
		return
	}
	delete(t.active, txID)
	elapsed := now.Sub(f.DetectedAt)
	t.ring[t.next] = outcome{
		reversalType: f.Type,
		succeeded:    succeeded,
		duration:     now.Sub(f.StartedAt),
		withinSLA:    succeeded && elapsed <= f.Type.SLA(),
	}
	t.next = (t.next + 1) % t.capacity
	if t.next == 0 {
		t.full = true
	}
}

// InFlightSince returns reversals of the given type detected at or before
// cutoff that have not finished, oldest first.
func (t *Tracker) InFlightSince(reversalType models.ReversalType, cutoff time.Time) []InFlight {
	t.mu.Lock()
	out := make([]InFlight, 0)
	for _, f := range t.active {
		if f.Type == reversalType && !f.DetectedAt.After(cutoff) {
			out = append(out, f)
		}
	}
	t.mu.Unlock()
	slices.SortFunc(out, func(a, b InFlight) int { return a.DetectedAt.Compare(b.DetectedAt) })
	return out
}

func (t *Tracker) Statistics() models.Statistics {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := t.next
	if t.full {
		n = t.capacity
	}
	stats := models.Statistics{TotalReversals: n, InFlight: len(t.active)}
	var total time.Duration
	automated := 0
	for _, o := range t.ring[:n] {
		if o.reversalType == models.TypeAutomatedFraud {
			automated++
		}
		if !o.succeeded {
			stats.Failed++
			continue
		}
		stats.Successful++
		total += o.duration
		if o.withinSLA {
			stats.WithinSLA++
		}
	}
	if stats.Successful > 0 {
		stats.AverageDurationSeconds = total.Seconds() / float64(stats.Successful)
		stats.SLACompliance = float64(stats.WithinSLA) / float64(stats.Successful)
	}
	if n > 0 {
		stats.SuccessRate = float64(stats.Successful) / float64(n)
		stats.AutomatedShare = float64(automated) / float64(n)
	}
	return stats
}
