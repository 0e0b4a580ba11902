package store

import (
	"context"
	"sync"

	"fraudengine/internal/ledger/models"
	"fraudengine/internal/sentinel"
	id "fraudengine/pkg/domain"
	syncx "fraudengine/pkg/platform/sync"
)

// Error Contract:
// - Return sentinel.ErrNotFound when a requested token does not exist
// - Return sentinel.ErrAlreadyExists when issuing an id that is already stored
// - Errors returned by mutate callbacks are passed through unchanged

// InMemoryStore keeps tokens and their audit trails in memory.
//
// Writers take the per-token shard lock for the whole read-validate-mutate
// cycle; mu only guards map access and is never held while a callback runs.
type InMemoryStore struct {
	locks *syncx.ShardedMutex

	mu     sync.RWMutex
	tokens map[id.TokenID]*models.Token
	trails map[id.TokenID][]*models.AuditEntry
}

// NewInMemory constructs an empty in-memory token store.
func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		locks:  syncx.NewShardedMutexN(syncx.BulkShards),
		tokens: make(map[id.TokenID]*models.Token),
		trails: make(map[id.TokenID][]*models.AuditEntry),
	}
}

// Create stores freshly issued tokens with their create entries as one unit.
func (s *InMemoryStore) Create(_ context.Context, tokens []*models.Token, entries []*models.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range tokens {
		if _, ok := s.tokens[t.ID]; ok {
			return sentinel.ErrAlreadyExists
		}
	}
	for _, t := range tokens {
		s.tokens[t.ID] = t.Clone()
	}
	for _, e := range entries {
		cp := *e
		s.trails[e.TokenID] = append(s.trails[e.TokenID], &cp)
	}
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, tokenID id.TokenID) (*models.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tokens[tokenID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return t.Clone(), nil
}

// AuditTrail returns the token's entries oldest first.
func (s *InMemoryStore) AuditTrail(_ context.Context, tokenID id.TokenID) ([]*models.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.tokens[tokenID]; !ok {
		return nil, sentinel.ErrNotFound
	}
	trail := s.trails[tokenID]
	out := make([]*models.AuditEntry, len(trail))
	for i, e := range trail {
		cp := *e
		out[i] = &cp
	}
	return out, nil
}

// Execute runs mutate against a copy of the token under its shard lock and
// commits the token together with the returned entries.
func (s *InMemoryStore) Execute(ctx context.Context, tokenID id.TokenID, mutate func(*models.Token) ([]*models.AuditEntry, error)) (*models.Token, error) {
	key := tokenID.String()
	s.locks.Lock(key)
	defer s.locks.Unlock(key)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	current, err := s.FindByID(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	entries, err := mutate(current)
	if err != nil {
		return nil, err
	}
	s.commit([]*models.Token{current}, entries)
	return current.Clone(), nil
}

// ExecuteBatch locks every token of the batch, hands copies to mutate in
// request order (nil for unknown ids) and commits only when mutate succeeds.
func (s *InMemoryStore) ExecuteBatch(ctx context.Context, tokenIDs []id.TokenID, mutate func([]*models.Token) ([]*models.AuditEntry, error)) ([]*models.Token, error) {
	keys := make([]string, len(tokenIDs))
	for i, tid := range tokenIDs {
		keys[i] = tid.String()
	}
	unlock := s.locks.LockMany(keys)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	batch := make([]*models.Token, len(tokenIDs))
	s.mu.RLock()
	for i, tid := range tokenIDs {
		if t, ok := s.tokens[tid]; ok {
			batch[i] = t.Clone()
		}
	}
	s.mu.RUnlock()

	entries, err := mutate(batch)
	if err != nil {
		return nil, err
	}
	s.commit(batch, entries)

	out := make([]*models.Token, len(batch))
	for i, t := range batch {
		out[i] = t.Clone()
	}
	return out, nil
}

func (s *InMemoryStore) commit(tokens []*models.Token, entries []*models.AuditEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range tokens {
		s.tokens[t.ID] = t.Clone()
	}
	for _, e := range entries {
		cp := *e
		s.trails[e.TokenID] = append(s.trails[e.TokenID], &cp)
	}
}
