// Package approval keeps off-chain authorization signatures keyed by
// (holder, token, spender) so valid permits are not re-signed within their
// validity window.
package approval

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/quantex/arbiter/internal/domain"
)

// ttlCeiling bounds how long an approval is kept even when its deadline is
// further out.
const ttlCeiling = time.Hour

// Key identifies one cached approval.
type Key struct {
	Holder  common.Address
	Token   common.Address
	Spender common.Address
}

type entry struct {
	approval  domain.CachedApproval
	expiresAt time.Time
}

// Cache is a time-bounded in-memory approval store. Expired entries are
// evicted lazily on read.
type Cache struct {
	mu    sync.RWMutex
	items map[Key]entry
	now   func() time.Time
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{
		items: make(map[Key]entry),
		now:   time.Now,
	}
}

// Put stores an approval with TTL = min(1 hour, time to deadline). An
// already-expired approval is not stored.
func (c *Cache) Put(holder common.Address, a domain.CachedApproval) {
	now := c.now()
	if a.Expired(now) {
		return
	}
	ttl := ttlCeiling
	if a.Deadline != nil {
		untilDeadline := time.Unix(a.Deadline.Int64(), 0).Sub(now)
		if untilDeadline < ttl {
			ttl = untilDeadline
		}
	}
	key := Key{Holder: holder, Token: a.Token, Spender: a.Spender}
	c.mu.Lock()
	c.items[key] = entry{approval: a, expiresAt: now.Add(ttl)}
	c.mu.Unlock()
}

// Get returns the cached approval unless its deadline or TTL has passed, in
// which case the entry is deleted and ok is false. Idempotent on repeated
// calls for the same expired key.
func (c *Cache) Get(holder, token, spender common.Address) (domain.CachedApproval, bool) {
	key := Key{Holder: holder, Token: token, Spender: spender}
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.items[key]
	if !ok {
		return domain.CachedApproval{}, false
	}
	if !now.Before(e.expiresAt) || e.approval.Expired(now) {
		delete(c.items, key)
		return domain.CachedApproval{}, false
	}
	return e.approval, true
}

// Delete invalidates one entry, e.g. after the on-chain permit nonce it was
// signed with has been consumed. No-op when the key is absent.
func (c *Cache) Delete(holder, token, spender common.Address) {
	c.mu.Lock()
	delete(c.items, Key{Holder: holder, Token: token, Spender: spender})
	c.mu.Unlock()
}

// Clear removes every entry belonging to holder (e.g. on session end).
func (c *Cache) Clear(holder common.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.items {
		if key.Holder == holder {
			delete(c.items, key)
		}
	}
}

// Size returns the number of live entries, counting not-yet-evicted expired
// ones.
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
