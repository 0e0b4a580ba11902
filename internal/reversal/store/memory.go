package store

import (
	"context"
	"slices"
	"sync"

	"fraudengine/internal/reversal/models"
	"fraudengine/internal/sentinel"
	id "fraudengine/pkg/domain"
)

// Error Contract:
// - Return sentinel.ErrNotFound when no record exists for the transaction
// - Return sentinel.ErrAlreadyExists when the transaction was already reversed

// InMemoryStore keeps reversal records in memory, one per transaction.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[id.TransactionID]*models.ReversalRecord
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{records: make(map[id.TransactionID]*models.ReversalRecord)}
}

func (s *InMemoryStore) Create(_ context.Context, r *models.ReversalRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[r.TransactionID]; ok {
		return sentinel.ErrAlreadyExists
	}
	cp := *r
	s.records[r.TransactionID] = &cp
	return nil
}

func (s *InMemoryStore) FindByTransaction(_ context.Context, txID id.TransactionID) (*models.ReversalRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[txID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

// ListRecent returns up to limit records, newest first.
func (s *InMemoryStore) ListRecent(_ context.Context, limit int) ([]*models.ReversalRecord, error) {
	s.mu.RLock()
	out := make([]*models.ReversalRecord, 0, len(s.records))
	for _, r := range s.records {
		cp := *r
		out = append(out, &cp)
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b *models.ReversalRecord) int {
		return b.ReversedAt.Compare(a.ReversedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
