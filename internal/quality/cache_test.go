package quality

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"patlas/internal/types"
)

func TestCacheExpiresAtTTL(t *testing.T) {
	t.Parallel()

	clk := testClock()
	c := newResultCache(10, time.Hour, clk)
	c.put("k", types.QualityReport{ResultID: "k"})

	clk.Advance(59 * time.Minute)
	got, ok := c.get("k")
	assert.True(t, ok)
	assert.Equal(t, "k", got.ResultID)

	// The entry is gone from insertion time plus TTL onward, boundary
	// included.
	clk.Advance(time.Minute)
	_, ok = c.get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.size())
}

func TestCacheEvictsOldestAtCapacity(t *testing.T) {
	t.Parallel()

	clk := testClock()
	c := newResultCache(2, time.Hour, clk)

	c.put("a", types.QualityReport{ResultID: "a"})
	clk.Advance(time.Minute)
	c.put("b", types.QualityReport{ResultID: "b"})
	clk.Advance(time.Minute)
	c.put("c", types.QualityReport{ResultID: "c"})

	_, ok := c.get("a")
	assert.False(t, ok, "oldest entry should have been evicted")
	_, ok = c.get("b")
	assert.True(t, ok)
	_, ok = c.get("c")
	assert.True(t, ok)
	assert.Equal(t, 2, c.size())
}

func TestCacheOverwriteDoesNotEvict(t *testing.T) {
	t.Parallel()

	clk := testClock()
	c := newResultCache(1, time.Hour, clk)

	c.put("a", types.QualityReport{ResultID: "a", OverallQuality: 0.5})
	c.put("a", types.QualityReport{ResultID: "a", OverallQuality: 0.9})

	got, ok := c.get("a")
	assert.True(t, ok)
	assert.InDelta(t, 0.9, got.OverallQuality, 1e-9)
	assert.Equal(t, 1, c.size())
}
