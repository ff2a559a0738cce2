package cypher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanCacheMissThenHit(t *testing.T) {
	pc := newPlanCache(10)
	q := &Query{}

	_, ok := pc.get("RETURN 1", 1)
	assert.False(t, ok)

	pc.put("RETURN 1", 1, q, time.Millisecond)
	got, ok := pc.get("RETURN 1", 1)
	require.True(t, ok)
	assert.Same(t, q, got)

	hits, misses, size := pc.stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
	assert.Equal(t, 1, size)
}

func TestPlanCacheNormalizesWhitespace(t *testing.T) {
	pc := newPlanCache(10)
	q := &Query{}
	pc.put("MATCH   (n)\nRETURN n", 1, q, 0)

	got, ok := pc.get("MATCH (n) RETURN n", 1)
	require.True(t, ok)
	assert.Same(t, q, got)
}

func TestPlanCacheInvalidatesOnSchemaChange(t *testing.T) {
	pc := newPlanCache(10)
	pc.put("RETURN 1", 1, &Query{}, 0)

	_, ok := pc.get("RETURN 1", 2)
	assert.False(t, ok, "a schema version bump must invalidate every cached entry")
}

func TestPlanCacheEvictsLeastRecentlyUsed(t *testing.T) {
	pc := newPlanCache(2)
	pc.put("A", 1, &Query{}, 0)
	pc.put("B", 1, &Query{}, 0)
	pc.get("A", 1) // A is now more recently used than B
	pc.put("C", 1, &Query{}, 0)

	_, okA := pc.get("A", 1)
	_, okB := pc.get("B", 1)
	_, okC := pc.get("C", 1)
	assert.True(t, okA)
	assert.False(t, okB, "B should have been evicted as least recently used")
	assert.True(t, okC)
}

func TestPlanCacheClear(t *testing.T) {
	pc := newPlanCache(10)
	pc.put("RETURN 1", 1, &Query{}, 0)
	pc.clear()

	_, _, size := pc.stats()
	assert.Equal(t, 0, size)
	_, ok := pc.get("RETURN 1", 1)
	assert.False(t, ok)
}

func TestPlanCacheZeroMaxSizeDefaults(t *testing.T) {
	pc := newPlanCache(0)
	assert.Equal(t, 500, pc.maxSize)
}

func TestNormalizeQueryTextCollapsesWhitespace(t *testing.T) {
	assert.Equal(t, "MATCH (n) RETURN n", normalizeQueryText("MATCH   (n)\n\tRETURN n"))
}

func TestSchemaVersionOfDiffersOnAnyChange(t *testing.T) {
	base := schemaVersionOf(1, 1, 1)
	assert.NotEqual(t, base, schemaVersionOf(2, 1, 1))
	assert.NotEqual(t, base, schemaVersionOf(1, 2, 1))
	assert.NotEqual(t, base, schemaVersionOf(1, 1, 2))
}
