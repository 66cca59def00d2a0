package executor

import (
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// ResultCache memoizes recent command output. Entries expire by TTL and
// are evicted least-recently-used once the cache exceeds capacity; a read
// refreshes an entry's recency. The cache is never authoritative: every
// value is reproducible by re-issuing the underlying command.
type ResultCache struct {
	lru    *lru.LRU[string, string]
	hits   atomic.Int64
	misses atomic.Int64
}

// CacheStats is a point-in-time view of cache effectiveness, reported in
// the agent heartbeat.
type CacheStats struct {
	Hits   int
	Misses int
	Size   int
}

// NewResultCache creates a cache with the given capacity and TTL.
func NewResultCache(capacity int, ttl time.Duration) *ResultCache {
	return &ResultCache{
		lru: lru.NewLRU[string, string](capacity, nil, ttl),
	}
}

// Get returns the cached output for key, if present and unexpired.
func (c *ResultCache) Get(key string) (string, bool) {
	value, ok := c.lru.Get(key)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return value, ok
}

// Put stores output for key, refreshing value and recency for existing keys.
func (c *ResultCache) Put(key, value string) {
	c.lru.Add(key, value)
}

// Remove drops a single entry so the next read goes to the device.
func (c *ResultCache) Remove(key string) {
	c.lru.Remove(key)
}

// Purge drops every entry. Called when the channel reconnects so no cache
// entry is shared across device connections.
func (c *ResultCache) Purge() {
	c.lru.Purge()
}

// Stats returns hit/miss counters and the current entry count.
func (c *ResultCache) Stats() CacheStats {
	return CacheStats{
		Hits:   int(c.hits.Load()),
		Misses: int(c.misses.Load()),
		Size:   c.lru.Len(),
	}
}
