// Package cache provides the process-wide in-memory key/value store used to
// avoid repeated tenant-directory lookups and repeated cross-tenant fan-outs.
//
// Entries carry sliding expiration: every hit (and every re-set) extends the
// entry's life by its TTL. Expiry is lazy — an expired entry is dropped on the
// read that observes it, so TryGet never blocks on a miss.
//
// The store is exclusively owned by this package; values handed back to
// callers are treated as immutable by convention (callers never mutate what
// they cached). Invalidation is either precise (InvalidateKey) or global
// (InvalidateAll); the aggregation service deliberately uses the global form
// after mutations because cross-tenant page keys cannot be enumerated cheaply.
package cache

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	cacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "policy_cache_hits_total",
		Help: "Total number of cache hits.",
	})
	cacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "policy_cache_misses_total",
		Help: "Total number of cache misses (including expired entries).",
	})
)

func init() {
	prometheus.MustRegister(cacheHits, cacheMisses)
}

// entry is one cached value with its deadline and the TTL used to slide it.
type entry struct {
	value     any
	ttl       time.Duration
	expiresAt time.Time
}

// MemoryCache is a concurrency-safe in-memory store with per-entry sliding
// expiration. Construct one per process with New and share it by reference;
// tests inject a fresh instance (and may override the clock).
type MemoryCache struct {
	mu         sync.RWMutex
	entries    map[string]entry
	defaultTTL time.Duration

	// now is the clock source; overridable in tests to simulate expiry.
	now func() time.Time
}

// DefaultTTL is used when Set is called with a non-positive TTL and no
// default was configured.
const DefaultTTL = 5 * time.Minute

// New returns an empty cache whose unspecified-TTL entries live for
// defaultTTL (falling back to DefaultTTL when non-positive).
func New(defaultTTL time.Duration) *MemoryCache {
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	return &MemoryCache{
		entries:    make(map[string]entry),
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
}

// SetClock replaces the cache's clock source. Intended for tests only.
func (c *MemoryCache) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if now != nil {
		c.now = now
	}
}

// TryGet returns the value stored under key, renewing its sliding expiration.
// It returns (nil, false) immediately on a miss or an expired entry; expired
// entries are dropped as a side effect.
func (c *MemoryCache) TryGet(key string) (any, bool) {
	c.mu.RLock()
	e, found := c.entries[key]
	ts := c.now()
	c.mu.RUnlock()

	if !found {
		cacheMisses.Inc()
		return nil, false
	}
	if ts.After(e.expiresAt) {
		c.mu.Lock()
		// Re-check under the write lock: a concurrent Set may have renewed it.
		if cur, ok := c.entries[key]; ok && c.now().After(cur.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		cacheMisses.Inc()
		return nil, false
	}

	// Sliding expiration: a hit extends the entry by its own TTL.
	c.mu.Lock()
	if cur, ok := c.entries[key]; ok {
		cur.expiresAt = c.now().Add(cur.ttl)
		c.entries[key] = cur
	}
	c.mu.Unlock()

	cacheHits.Inc()
	return e.value, true
}

// Set stores value under key. A non-positive ttl selects the cache default.
// Re-setting an existing key replaces its value and restarts its expiration.
func (c *MemoryCache) Set(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{
		value:     value,
		ttl:       ttl,
		expiresAt: c.now().Add(ttl),
	}
}

// InvalidateKey removes a single entry. Removing an absent key is a no-op.
func (c *MemoryCache) InvalidateKey(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// InvalidateAll removes every tracked entry. Used after any mutation whose
// blast radius across cached cross-tenant aggregates is unknown.
func (c *MemoryCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
}

// Len reports the number of tracked entries, including not-yet-swept expired
// ones. Diagnostic use only.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
