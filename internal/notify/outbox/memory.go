package outbox

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"fraudengine/internal/sentinel"
)

// InMemoryStore keeps outbox entries in insertion order.
type InMemoryStore struct {
	mu      sync.Mutex
	entries []*Entry
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Append(_ context.Context, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *entry
	s.entries = append(s.entries, &cp)
	return nil
}

func (s *InMemoryStore) FetchUnprocessed(_ context.Context, limit int) ([]*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Entry
	for _, e := range s.entries {
		if len(out) == limit {
			break
		}
		if e.IsPending() {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *InMemoryStore) MarkProcessed(_ context.Context, entryID uuid.UUID, processedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.ID == entryID && e.IsPending() {
			at := processedAt
			e.ProcessedAt = &at
			return nil
		}
	}
	return sentinel.ErrNotFound
}

func (s *InMemoryStore) CountPending(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, e := range s.entries {
		if e.IsPending() {
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) DeleteProcessedBefore(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := len(s.entries)
	s.entries = slices.DeleteFunc(s.entries, func(e *Entry) bool {
		return e.ProcessedAt != nil && e.ProcessedAt.Before(before)
	})
	return int64(kept - len(s.entries)), nil
}

// Entries returns a copy of every stored entry.
func (s *InMemoryStore) Entries() []*Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Entry, len(s.entries))
	for i, e := range s.entries {
		cp := *e
		out[i] = &cp
	}
	return out
}
