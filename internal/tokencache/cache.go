// Package tokencache keeps the last known validity of bearer tokens so the
// admission path does not call the auth service on every request.
package tokencache

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	// DefaultPositiveTTL applies to tokens the auth service accepted.
	DefaultPositiveTTL = 30 * time.Minute
	// DefaultNegativeTTL applies to rejected tokens. It is short so a
	// recovering auth service is re-consulted quickly.
	DefaultNegativeTTL = time.Minute
	// DefaultCapacity bounds the number of distinct tokens held.
	DefaultCapacity = 100_000
)

type entry struct {
	valid     bool
	expiresAt time.Time
}

// Cache maps a token to its cached validity. It is safe for concurrent use.
// Entries are never returned past their expiry; when the capacity is reached
// the least recently used token is evicted.
type Cache struct {
	// mu orders writes against the removal of expired entries.
	mu          sync.Mutex
	entries     *lru.Cache[string, entry]
	positiveTTL time.Duration
	negativeTTL time.Duration
	now         func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTLs overrides the positive and negative TTLs. Non-positive values keep
// the defaults.
func WithTTLs(positive, negative time.Duration) Option {
	return func(c *Cache) {
		if positive > 0 {
			c.positiveTTL = positive
		}
		if negative > 0 {
			c.negativeTTL = negative
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// New creates a cache holding at most capacity tokens.
func New(capacity int, opts ...Option) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	entries, err := lru.New[string, entry](capacity)
	if err != nil {
		// lru.New only fails for non-positive sizes.
		panic(err)
	}

	c := &Cache{
		entries:     entries,
		positiveTTL: DefaultPositiveTTL,
		negativeTTL: DefaultNegativeTTL,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached validity of token. ok is false on a miss or when the
// entry has expired.
func (c *Cache) Get(token string) (valid bool, ok bool) {
	e, found := c.entries.Get(token)
	if !found {
		return false, false
	}
	if !c.now().Before(e.expiresAt) {
		c.removeIfUnchanged(token, e)
		return false, false
	}
	return e.valid, true
}

// removeIfUnchanged drops token only if it still holds stale, so an entry
// written after the expiry check survives.
func (c *Cache) removeIfUnchanged(token string, stale entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.entries.Peek(token); ok && cur == stale {
		c.entries.Remove(token)
	}
}

// Set stores valid for token using the positive TTL.
func (c *Cache) Set(token string, valid bool) {
	c.SetWithTTL(token, valid, c.positiveTTL)
}

// SetWithTTL stores valid for token, overwriting any previous entry.
// A non-positive ttl stores nothing.
func (c *Cache) SetWithTTL(token string, valid bool, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	e := entry{valid: valid, expiresAt: c.now().Add(ttl)}
	c.mu.Lock()
	c.entries.Add(token, e)
	c.mu.Unlock()
}

// PositiveTTL is the TTL used for accepted tokens.
func (c *Cache) PositiveTTL() time.Duration { return c.positiveTTL }

// NegativeTTL is the TTL used for rejected tokens.
func (c *Cache) NegativeTTL() time.Duration { return c.negativeTTL }

// Len returns the number of stored entries, expired ones included.
func (c *Cache) Len() int { return c.entries.Len() }
