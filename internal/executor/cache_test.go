package executor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestResultCache_HitAndMiss(t *testing.T) {
	cache := NewResultCache(10, time.Minute)

	_, ok := cache.Get("dev|dumpsys power")
	assert.False(t, ok)

	cache.Put("dev|dumpsys power", "mWakefulness=Awake")

	out, ok := cache.Get("dev|dumpsys power")
	assert.True(t, ok)
	assert.Equal(t, "mWakefulness=Awake", out)

	stats := cache.Stats()
	assert.Equal(t, 1, stats.Hits)
	assert.Equal(t, 1, stats.Misses)
	assert.Equal(t, 1, stats.Size)
}

func TestResultCache_TTLExpiry(t *testing.T) {
	cache := NewResultCache(10, 50*time.Millisecond)

	cache.Put("key", "value")
	_, ok := cache.Get("key")
	assert.True(t, ok)

	time.Sleep(80 * time.Millisecond)

	_, ok = cache.Get("key")
	assert.False(t, ok)
}

// Reading an entry refreshes its recency, so eviction removes the
// least-recently-used entry, not the oldest-inserted one.
func TestResultCache_EvictsLeastRecentlyUsed(t *testing.T) {
	cache := NewResultCache(2, time.Minute)

	cache.Put("a", "1")
	cache.Put("b", "2")

	_, ok := cache.Get("a")
	assert.True(t, ok)

	cache.Put("c", "3")

	_, ok = cache.Get("a")
	assert.True(t, ok, "recently read entry should survive eviction")
	_, ok = cache.Get("b")
	assert.False(t, ok, "least recently used entry should be evicted")
	_, ok = cache.Get("c")
	assert.True(t, ok)
}

func TestResultCache_Remove(t *testing.T) {
	cache := NewResultCache(10, time.Minute)

	cache.Put("a", "1")
	cache.Put("b", "2")
	cache.Remove("a")

	_, ok := cache.Get("a")
	assert.False(t, ok)
	_, ok = cache.Get("b")
	assert.True(t, ok)
}

func TestResultCache_Purge(t *testing.T) {
	cache := NewResultCache(10, time.Minute)

	cache.Put("a", "1")
	cache.Put("b", "2")
	cache.Purge()

	_, ok := cache.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, cache.Stats().Size)
}
