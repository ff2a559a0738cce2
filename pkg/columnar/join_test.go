package columnar

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSelectJoinAlgorithm_MergeWhenBothSorted(t *testing.T) {
	alg := SelectJoinAlgorithm(JoinStats{
		LeftCardinality: 10000, RightCardinality: 10000,
		LeftSorted: true, RightSorted: true,
	})
	assert.Equal(t, MergeJoin, alg)
}

func TestSelectJoinAlgorithm_HashWhenBothLargeAndFits(t *testing.T) {
	alg := SelectJoinAlgorithm(JoinStats{
		LeftCardinality: 5000, RightCardinality: 2000,
		AvailableMemory: 10 * 1024 * 1024,
	})
	assert.Equal(t, HashJoin, alg)
}

func TestSelectJoinAlgorithm_NestedLoopFallback(t *testing.T) {
	alg := SelectJoinAlgorithm(JoinStats{
		LeftCardinality: 10, RightCardinality: 20,
	})
	assert.Equal(t, NestedLoopJoin, alg)
}

func TestSelectJoinAlgorithm_HashRejectedWhenTooBigForMemory(t *testing.T) {
	alg := SelectJoinAlgorithm(JoinStats{
		LeftCardinality: 2_000_000, RightCardinality: 2_000_000,
		AvailableMemory: 1024,
	})
	assert.Equal(t, NestedLoopJoin, alg)
}

func TestJoinStats_UseBloomFilter(t *testing.T) {
	assert.True(t, JoinStats{Selectivity: 0.1}.UseBloomFilter())
	assert.False(t, JoinStats{Selectivity: 0.9}.UseBloomFilter())
}

func TestEstimateCost(t *testing.T) {
	stats := JoinStats{LeftCardinality: 100, RightCardinality: 200}
	assert.Equal(t, 20000.0, EstimateCost(NestedLoopJoin, stats, false))
	assert.Equal(t, 450.0, EstimateCost(HashJoin, stats, false))
	assert.Equal(t, 300.0, EstimateCost(MergeJoin, stats, false))
	assert.Equal(t, 3000.0, EstimateCost(MergeJoin, stats, true))
}
