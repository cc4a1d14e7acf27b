package quality

import (
	"sync"
	"time"

	"patlas/internal/clock"
	"patlas/internal/types"
)

// cacheEntry pairs a finished report with its insertion time.
type cacheEntry struct {
	report    types.QualityReport
	createdAt time.Time
}

// resultCache memoizes validation outcomes. Entries expire after ttl, and the
// cache never holds more than capacity entries; when full, the entry with the
// oldest insertion time is evicted.
type resultCache struct {
	mu       sync.Mutex
	entries  map[string]cacheEntry
	capacity int
	ttl      time.Duration
	clk      clock.Clock
}

func newResultCache(capacity int, ttl time.Duration, clk clock.Clock) *resultCache {
	return &resultCache{
		entries:  make(map[string]cacheEntry),
		capacity: capacity,
		ttl:      ttl,
		clk:      clk,
	}
}

// get returns the cached report for key. An entry inserted at time t is gone
// from t+ttl onward.
func (c *resultCache) get(key string) (types.QualityReport, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return types.QualityReport{}, false
	}
	if c.clk.Now().Sub(entry.createdAt) >= c.ttl {
		delete(c.entries, key)
		return types.QualityReport{}, false
	}
	return entry.report, true
}

func (c *resultCache) put(key string, report types.QualityReport) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.capacity {
		c.evictOldest()
	}
	c.entries[key] = cacheEntry{report: report, createdAt: c.clk.Now()}
}

func (c *resultCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// evictOldest removes the oldest entry by insertion time. Caller holds mu.
func (c *resultCache) evictOldest() {
	var oldestKey string
	var oldestAt time.Time
	for key, entry := range c.entries {
		if oldestKey == "" || entry.createdAt.Before(oldestAt) {
			oldestKey = key
			oldestAt = entry.createdAt
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}
