package index

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/latticedb/graphcore/pkg/catalog"
	"github.com/latticedb/graphcore/pkg/record"
)

func TestPropertyIndexStageSetVisibleAfterCommit(t *testing.T) {
	pi := NewPropertyIndex(catalog.ID(1))
	pending := NewPendingSet()
	pi.StageSet(pending, 1, 100, record.Int(42))
	pending.Commit()
	pi.EndTxn(1)

	got := pi.Lookup(2, record.Int(42))
	assert.ElementsMatch(t, []uint64{100}, got)
}

func TestPropertyIndexOverlayVisibleToOwnTxnBeforeCommit(t *testing.T) {
	pi := NewPropertyIndex(catalog.ID(1))
	pending := NewPendingSet()
	pi.StageSet(pending, 1, 100, record.Int(42))

	assert.ElementsMatch(t, []uint64{100}, pi.Lookup(1, record.Int(42)))
	assert.Empty(t, pi.Lookup(2, record.Int(42)))
}

func TestPropertyIndexStageSetReplacesPriorValue(t *testing.T) {
	pi := NewPropertyIndex(catalog.ID(1))
	p1 := NewPendingSet()
	pi.StageSet(p1, 1, 100, record.Int(1))
	p1.Commit()
	pi.EndTxn(1)

	p2 := NewPendingSet()
	pi.StageSet(p2, 2, 100, record.Int(2))
	p2.Commit()
	pi.EndTxn(2)

	assert.Empty(t, pi.Lookup(3, record.Int(1)))
	assert.ElementsMatch(t, []uint64{100}, pi.Lookup(3, record.Int(2)))
}

func TestPropertyIndexStageRemove(t *testing.T) {
	pi := NewPropertyIndex(catalog.ID(1))
	p1 := NewPendingSet()
	pi.StageSet(p1, 1, 100, record.Int(1))
	p1.Commit()
	pi.EndTxn(1)

	p2 := NewPendingSet()
	pi.StageRemove(p2, 2, 100)
	p2.Commit()
	pi.EndTxn(2)

	assert.Empty(t, pi.Lookup(3, record.Int(1)))
}

func TestPropertyIndexRangeInclusiveBounds(t *testing.T) {
	pi := NewPropertyIndex(catalog.ID(1))
	p := NewPendingSet()
	pi.StageSet(p, 1, 1, record.Int(10))
	pi.StageSet(p, 1, 2, record.Int(20))
	pi.StageSet(p, 1, 3, record.Int(30))
	p.Commit()
	pi.EndTxn(1)

	lo, hi := record.Int(10), record.Int(20)
	got := pi.Range(2, &lo, &hi, true, true)
	assert.ElementsMatch(t, []uint64{1, 2}, got)
}

func TestPropertyIndexRangeExclusiveBounds(t *testing.T) {
	pi := NewPropertyIndex(catalog.ID(1))
	p := NewPendingSet()
	pi.StageSet(p, 1, 1, record.Int(10))
	pi.StageSet(p, 1, 2, record.Int(20))
	pi.StageSet(p, 1, 3, record.Int(30))
	p.Commit()
	pi.EndTxn(1)

	lo, hi := record.Int(10), record.Int(30)
	got := pi.Range(2, &lo, &hi, false, false)
	assert.ElementsMatch(t, []uint64{2}, got)
}

func TestPropertyIndexRangeUnboundedHigh(t *testing.T) {
	pi := NewPropertyIndex(catalog.ID(1))
	p := NewPendingSet()
	pi.StageSet(p, 1, 1, record.Int(10))
	pi.StageSet(p, 1, 2, record.Int(20))
	p.Commit()
	pi.EndTxn(1)

	lo := record.Int(15)
	got := pi.Range(2, &lo, nil, true, true)
	assert.ElementsMatch(t, []uint64{2}, got)
}

func TestPropertyIndexRangeWithOwnOverlay(t *testing.T) {
	pi := NewPropertyIndex(catalog.ID(1))
	p1 := NewPendingSet()
	pi.StageSet(p1, 1, 1, record.Int(10))
	p1.Commit()
	pi.EndTxn(1)

	p2 := NewPendingSet()
	pi.StageSet(p2, 2, 2, record.Int(15))

	lo, hi := record.Int(5), record.Int(20)
	got := pi.Range(2, &lo, &hi, true, true)
	assert.ElementsMatch(t, []uint64{1, 2}, got)
}

func TestPropertyIndexSelectivity(t *testing.T) {
	pi := NewPropertyIndex(catalog.ID(1))
	p := NewPendingSet()
	pi.StageSet(p, 1, 1, record.Int(1))
	pi.StageSet(p, 1, 2, record.Int(1))
	pi.StageSet(p, 1, 3, record.Int(2))
	p.Commit()
	pi.EndTxn(1)

	assert.InDelta(t, 2.0/3.0, pi.Selectivity(record.Int(1)), 0.001)
	assert.Equal(t, 1.0, NewPropertyIndex(catalog.ID(2)).Selectivity(record.Int(1)))
}

func TestPropertyIndexCount(t *testing.T) {
	pi := NewPropertyIndex(catalog.ID(1))
	p := NewPendingSet()
	pi.StageSet(p, 1, 1, record.Int(1))
	pi.StageSet(p, 1, 2, record.Int(2))
	p.Commit()
	pi.EndTxn(1)

	assert.Equal(t, 2, pi.Count())
}

func TestPropertyIndexKey(t *testing.T) {
	pi := NewPropertyIndex(catalog.ID(7))
	assert.Equal(t, catalog.ID(7), pi.Key())
}
