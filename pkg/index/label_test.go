package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticedb/graphcore/pkg/catalog"
)

func TestLabelIndexStageAddVisibleAfterCommit(t *testing.T) {
	li := NewLabelIndex()
	pending := NewPendingSet()
	li.StageAdd(pending, 1, catalog.ID(1), 100)
	pending.Commit()
	li.EndTxn(1)

	assert.True(t, li.Contains(2, catalog.ID(1), 100))
}

func TestLabelIndexOverlayVisibleToOwnTxnBeforeCommit(t *testing.T) {
	li := NewLabelIndex()
	pending := NewPendingSet()
	li.StageAdd(pending, 1, catalog.ID(1), 100)

	assert.True(t, li.Contains(1, catalog.ID(1), 100))
	assert.False(t, li.Contains(2, catalog.ID(1), 100))
}

func TestLabelIndexDiscardNeverCommits(t *testing.T) {
	li := NewLabelIndex()
	pending := NewPendingSet()
	li.StageAdd(pending, 1, catalog.ID(1), 100)
	pending.Discard()
	li.EndTxn(1)

	assert.False(t, li.Contains(2, catalog.ID(1), 100))
}

func TestLabelIndexStageRemove(t *testing.T) {
	li := NewLabelIndex()
	pending := NewPendingSet()
	li.StageAdd(pending, 1, catalog.ID(1), 100)
	pending.Commit()
	li.EndTxn(1)
	require.True(t, li.Contains(2, catalog.ID(1), 100))

	pending2 := NewPendingSet()
	li.StageRemove(pending2, 2, catalog.ID(1), 100)
	assert.False(t, li.Contains(2, catalog.ID(1), 100), "own overlay should hide the removed member pre-commit")
	pending2.Commit()
	li.EndTxn(2)

	assert.False(t, li.Contains(3, catalog.ID(1), 100))
}

func TestLabelIndexAddDirectBypassesStaging(t *testing.T) {
	li := NewLabelIndex()
	li.AddDirect(catalog.ID(5), 42)
	assert.True(t, li.Contains(1, catalog.ID(5), 42))
}

func TestLabelIndexIntersection(t *testing.T) {
	li := NewLabelIndex()
	li.AddDirect(catalog.ID(1), 1)
	li.AddDirect(catalog.ID(1), 2)
	li.AddDirect(catalog.ID(2), 2)
	li.AddDirect(catalog.ID(2), 3)

	result := li.Intersection(1, []catalog.ID{1, 2})
	assert.ElementsMatch(t, []uint32{2}, result.ToArray())
}

func TestLabelIndexIntersectionEmptyLabelsReturnsEmpty(t *testing.T) {
	li := NewLabelIndex()
	result := li.Intersection(1, nil)
	assert.Equal(t, uint64(0), result.GetCardinality())
}

func TestLabelIndexMembersIsIndependentCopy(t *testing.T) {
	li := NewLabelIndex()
	li.AddDirect(catalog.ID(1), 1)

	members := li.Members(1, catalog.ID(1))
	members.Add(999)

	assert.False(t, li.Contains(2, catalog.ID(1), 999))
}
