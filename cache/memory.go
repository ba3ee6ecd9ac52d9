package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// EvictReason says why an entry left the cache.
type EvictReason string

const (
	EvictCapacity EvictReason = "capacity"
	EvictExpired  EvictReason = "expired"
)

// MemoryOption configures a MemoryCache.
type MemoryOption func(*memoryOptions)

type memoryOptions struct {
	maxEntries int
	now        func() time.Time
	onEvict    func(key string, reason EvictReason)
}

// WithMaxEntries bounds the number of entries. Default: DefaultMaxEntries.
func WithMaxEntries(n int) MemoryOption {
	return func(o *memoryOptions) {
		o.maxEntries = n
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) MemoryOption {
	return func(o *memoryOptions) {
		o.now = now
	}
}

// WithEvictionHook is called, under the cache lock, for every evicted entry.
func WithEvictionHook(fn func(key string, reason EvictReason)) MemoryOption {
	return func(o *memoryOptions) {
		o.onEvict = fn
	}
}

// MemoryCache is a bounded in-memory LRU cache with per-entry expiry.
//
// Hits only take the read lock: recency is an atomic stamp drawn from a
// monotonic counter, so concurrent readers never block each other. When a
// new key arrives at capacity exactly one entry is evicted: an expired one
// if any, otherwise the least recently used.
type MemoryCache[V any] struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry[V]
	policy  Policy
	opts    memoryOptions
	clock   atomic.Uint64
}

type cacheEntry[V any] struct {
	value     V
	cachedAt  time.Time
	expiresAt time.Time
	lastUse   atomic.Uint64
}

// NewMemoryCache creates a new in-memory cache with the given policy.
func NewMemoryCache[V any](policy Policy, opts ...MemoryOption) *MemoryCache[V] {
	o := memoryOptions{maxEntries: DefaultMaxEntries, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.maxEntries <= 0 {
		o.maxEntries = DefaultMaxEntries
	}
	if o.now == nil {
		o.now = time.Now
	}

	return &MemoryCache[V]{
		entries: make(map[string]*cacheEntry[V], o.maxEntries),
		policy:  policy,
		opts:    o,
	}
}

// Get retrieves an unexpired entry and marks it most recently used.
func (c *MemoryCache[V]) Get(_ context.Context, key string) (Entry[V], bool) {
	now := c.opts.now()

	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok || !now.Before(e.expiresAt) {
		return Entry[V]{}, false
	}
	e.lastUse.Store(c.clock.Add(1))
	return Entry[V]{Value: e.value, CachedAt: e.cachedAt, ExpiresAt: e.expiresAt}, true
}

// Set stores value for the policy's effective TTL.
func (c *MemoryCache[V]) Set(_ context.Context, key string, value V, ttl time.Duration) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	ttl = c.policy.EffectiveTTL(ttl)
	if ttl <= 0 {
		return nil
	}

	now := c.opts.now()
	e := &cacheEntry[V]{
		value:     value,
		cachedAt:  now,
		expiresAt: now.Add(ttl),
	}
	e.lastUse.Store(c.clock.Add(1))

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.opts.maxEntries {
		c.evictOneLocked(now)
	}
	c.entries[key] = e
	return nil
}

// Delete removes a value from the cache. Idempotent - no error on miss.
func (c *MemoryCache[V]) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	return nil
}

// Len returns the number of stored entries.
func (c *MemoryCache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Purge drops every expired entry and returns how many were removed.
func (c *MemoryCache[V]) Purge() int {
	now := c.opts.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, key)
			c.notifyLocked(key, EvictExpired)
			removed++
		}
	}
	return removed
}

// Clear removes every entry.
func (c *MemoryCache[V]) Clear() {
	c.mu.Lock()
	clear(c.entries)
	c.mu.Unlock()
}

// evictOneLocked removes one expired entry if there is one, otherwise the
// least recently used entry. Caller must hold the write lock.
func (c *MemoryCache[V]) evictOneLocked(now time.Time) {
	var (
		victim  string
		oldest  uint64
		found   bool
		expired bool
	)
	for key, e := range c.entries {
		if !now.Before(e.expiresAt) {
			victim, found, expired = key, true, true
			break
		}
		if use := e.lastUse.Load(); !found || use < oldest {
			victim, oldest, found = key, use, true
		}
	}
	if !found {
		return
	}

	delete(c.entries, victim)
	if expired {
		c.notifyLocked(victim, EvictExpired)
	} else {
		c.notifyLocked(victim, EvictCapacity)
	}
}

func (c *MemoryCache[V]) notifyLocked(key string, reason EvictReason) {
	if c.opts.onEvict != nil {
		c.opts.onEvict(key, reason)
	}
}

var _ Cache[[]byte] = (*MemoryCache[[]byte])(nil)
