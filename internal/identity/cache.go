package identity

import (
	"context"
	"sync"
	"time"

	id "fraudengine/pkg/domain"
)

type cacheKey struct {
	user id.UserID
	role Role
}

type cacheEntry struct {
	granted   bool
	expiresAt time.Time
}

// CachedDirectory memoizes answers from another directory for a bounded time
// and a bounded number of entries. When full, expired entries go first and
// then the entry closest to expiry.
type CachedDirectory struct {
	next    RoleDirectory
	ttl     time.Duration
	maxSize int
	now     func() time.Time

	mu      sync.Mutex
	entries map[cacheKey]cacheEntry
}

func NewCachedDirectory(next RoleDirectory, ttl time.Duration, maxSize int) *CachedDirectory {
	if maxSize < 1 {
		maxSize = 1
	}
	return &CachedDirectory{
		next:    next,
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		entries: make(map[cacheKey]cacheEntry),
	}
}

func (c *CachedDirectory) HasRole(ctx context.Context, userID id.UserID, role Role) (bool, error) {
	key := cacheKey{user: userID, role: role}
	now := c.now()

	c.mu.Lock()
	if e, ok := c.entries[key]; ok && now.Before(e.expiresAt) {
		c.mu.Unlock()
		return e.granted, nil
	}
	c.mu.Unlock()

	granted, err := c.next.HasRole(ctx, userID, role)
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; !ok && len(c.entries) >= c.maxSize {
		c.evict(now)
	}
	c.entries[key] = cacheEntry{granted: granted, expiresAt: now.Add(c.ttl)}
	return granted, nil
}

// Len returns the number of cached answers, expired ones included.
func (c *CachedDirectory) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *CachedDirectory) evict(now time.Time) {
	var (
		oldest    cacheKey
		oldestExp time.Time
		found     bool
	)
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
			continue
		}
		if !found || e.expiresAt.Before(oldestExp) {
			oldest, oldestExp, found = k, e.expiresAt, true
		}
	}
	if len(c.entries) >= c.maxSize && found {
		delete(c.entries, oldest)
	}
}
