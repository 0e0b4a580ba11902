package store

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"fraudengine/internal/cases/models"
	"fraudengine/internal/sentinel"
	id "fraudengine/pkg/domain"
	syncx "fraudengine/pkg/platform/sync"
)

// Error Contract:
// - Return sentinel.ErrNotFound when a requested case does not exist
// - Return sentinel.ErrAlreadyExists when the transaction already has a case that is not closed
// - Errors returned by mutate callbacks are passed through unchanged

// InMemoryStore keeps cases in memory.
//
// Execute holds the case's shard lock for the whole read-validate-mutate
// cycle; mu only guards the maps and is never held while a callback runs.
type InMemoryStore struct {
	locks *syncx.ShardedMutex

	mu     sync.RWMutex
	cases  map[id.CaseID]*models.FraudCase
	active map[id.TransactionID]id.CaseID
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		locks:  syncx.NewShardedMutex(),
		cases:  make(map[id.CaseID]*models.FraudCase),
		active: make(map[id.TransactionID]id.CaseID),
	}
}

func (s *InMemoryStore) Create(_ context.Context, c *models.FraudCase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cases[c.ID]; ok {
		return sentinel.ErrAlreadyExists
	}
	if c.Status != models.StatusClosed {
		if _, ok := s.active[c.TransactionID]; ok {
			return sentinel.ErrAlreadyExists
		}
		s.active[c.TransactionID] = c.ID
	}
	s.cases[c.ID] = c.Clone()
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, caseID id.CaseID) (*models.FraudCase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cases[caseID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return c.Clone(), nil
}

// FindOpenByTransaction returns the transaction's case that is not closed.
func (s *InMemoryStore) FindOpenByTransaction(_ context.Context, txID id.TransactionID) (*models.FraudCase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	caseID, ok := s.active[txID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return s.cases[caseID].Clone(), nil
}

func (s *InMemoryStore) ListByStatus(_ context.Context, statuses ...models.Status) ([]*models.FraudCase, error) {
	return s.list(func(c *models.FraudCase) bool {
		return slices.Contains(statuses, c.Status)
	}), nil
}

// ListByArbitrator returns the open and investigating cases assigned to arbitrator.
func (s *InMemoryStore) ListByArbitrator(_ context.Context, arbitrator id.UserID) ([]*models.FraudCase, error) {
	return s.list(func(c *models.FraudCase) bool {
		return c.Status.IsActive() && c.IsAssignedTo(arbitrator)
	}), nil
}

func (s *InMemoryStore) ListUnassigned(_ context.Context) ([]*models.FraudCase, error) {
	return s.list(func(c *models.FraudCase) bool {
		return c.Status.IsActive() && c.AssignedArbitratorID == nil
	}), nil
}

// ListOverdueCandidates returns active, unescalated cases created at or before cutoff.
func (s *InMemoryStore) ListOverdueCandidates(_ context.Context, cutoff time.Time) ([]*models.FraudCase, error) {
	return s.list(func(c *models.FraudCase) bool {
		return c.Status.IsActive() && c.EscalatedAt == nil && !c.CreatedAt.After(cutoff)
	}), nil
}

func (s *InMemoryStore) ListEscalatedUnnotified(_ context.Context) ([]*models.FraudCase, error) {
	return s.list(func(c *models.FraudCase) bool {
		return c.EscalatedAt != nil && !c.EscalationNotified
	}), nil
}

// Execute runs mutate against a copy of the case under its shard lock and
// commits it with the version bumped.
func (s *InMemoryStore) Execute(ctx context.Context, caseID id.CaseID, mutate func(*models.FraudCase) error) (*models.FraudCase, error) {
	key := caseID.String()
	s.locks.Lock(key)
	defer s.locks.Unlock(key)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	current, err := s.FindByID(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if err := mutate(current); err != nil {
		return nil, err
	}
	current.Version++

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cases[caseID] = current.Clone()
	if current.Status == models.StatusClosed && s.active[current.TransactionID] == caseID {
		delete(s.active, current.TransactionID)
	}
	return current, nil
}

// list returns matching cases oldest first.
func (s *InMemoryStore) list(match func(*models.FraudCase) bool) []*models.FraudCase {
	s.mu.RLock()
	out := make([]*models.FraudCase, 0)
	for _, c := range s.cases {
		if match(c) {
			out = append(out, c.Clone())
		}
	}
	s.mu.RUnlock()
	slices.SortFunc(out, compareCases)
	return out
}

func compareCases(a, b *models.FraudCase) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return strings.Compare(a.ID.String(), b.ID.String())
}
