package index

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/latticedb/graphcore/pkg/record"
)

func TestSpatialIndexCartesianWithinDistance(t *testing.T) {
	si := NewSpatialIndex(1.0)
	p := NewPendingSet()
	si.StageSet(p, 1, 1, record.Point{System: record.CoordCartesian, X: 0, Y: 0})
	si.StageSet(p, 1, 2, record.Point{System: record.CoordCartesian, X: 3, Y: 4})
	si.StageSet(p, 1, 3, record.Point{System: record.CoordCartesian, X: 100, Y: 100})
	p.Commit()
	si.EndTxn(1)

	got := si.WithinDistance(2, record.Point{System: record.CoordCartesian, X: 0, Y: 0}, 5)
	assert.ElementsMatch(t, []uint64{1, 2}, got)
}

func TestSpatialIndexOverlayVisibleToOwnTxnBeforeCommit(t *testing.T) {
	si := NewSpatialIndex(1.0)
	p := NewPendingSet()
	si.StageSet(p, 1, 1, record.Point{System: record.CoordCartesian, X: 0, Y: 0})

	got := si.WithinDistance(1, record.Point{System: record.CoordCartesian, X: 0, Y: 0}, 1)
	assert.ElementsMatch(t, []uint64{1}, got)

	gotOther := si.WithinDistance(2, record.Point{System: record.CoordCartesian, X: 0, Y: 0}, 1)
	assert.Empty(t, gotOther)
}

func TestSpatialIndexStageRemove(t *testing.T) {
	si := NewSpatialIndex(1.0)
	p1 := NewPendingSet()
	si.StageSet(p1, 1, 1, record.Point{System: record.CoordCartesian, X: 0, Y: 0})
	p1.Commit()
	si.EndTxn(1)

	p2 := NewPendingSet()
	si.StageRemove(p2, 2, 1)
	p2.Commit()
	si.EndTxn(2)

	got := si.WithinDistance(3, record.Point{System: record.CoordCartesian, X: 0, Y: 0}, 1)
	assert.Empty(t, got)
}

func TestSpatialIndexNearestOrdersByDistance(t *testing.T) {
	si := NewSpatialIndex(1.0)
	p := NewPendingSet()
	si.StageSet(p, 1, 1, record.Point{System: record.CoordCartesian, X: 10, Y: 0})
	si.StageSet(p, 1, 2, record.Point{System: record.CoordCartesian, X: 1, Y: 0})
	si.StageSet(p, 1, 3, record.Point{System: record.CoordCartesian, X: 5, Y: 0})
	p.Commit()
	si.EndTxn(1)

	results := si.Nearest(2, record.Point{System: record.CoordCartesian, X: 0, Y: 0}, 2)
	assert.Len(t, results, 2)
	assert.Equal(t, uint64(2), results[0].Node)
	assert.Equal(t, uint64(3), results[1].Node)
}

func TestSpatialIndexWGS84Distance(t *testing.T) {
	si := NewSpatialIndex(1.0)
	p := NewPendingSet()
	// Roughly 111km per degree of latitude at the equator.
	si.StageSet(p, 1, 1, record.Point{System: record.CoordWGS84, X: 0, Y: 0})
	si.StageSet(p, 1, 2, record.Point{System: record.CoordWGS84, X: 0, Y: 1})
	p.Commit()
	si.EndTxn(1)

	got := si.WithinDistance(2, record.Point{System: record.CoordWGS84, X: 0, Y: 0}, 200000)
	assert.ElementsMatch(t, []uint64{1, 2}, got)

	gotClose := si.WithinDistance(2, record.Point{System: record.CoordWGS84, X: 0, Y: 0}, 1000)
	assert.ElementsMatch(t, []uint64{1}, gotClose)
}

func TestSpatialIndexMixedSystemsAreNeverMatched(t *testing.T) {
	si := NewSpatialIndex(1.0)
	p := NewPendingSet()
	si.StageSet(p, 1, 1, record.Point{System: record.CoordCartesian, X: 0, Y: 0})
	p.Commit()
	si.EndTxn(1)

	got := si.WithinDistance(2, record.Point{System: record.CoordWGS84, X: 0, Y: 0}, 1000000)
	assert.Empty(t, got)
}

func TestSpatialIndex3DEuclideanDistance(t *testing.T) {
	si := NewSpatialIndex(1.0)
	z1, z2 := 0.0, 3.0
	p := NewPendingSet()
	si.StageSet(p, 1, 1, record.Point{System: record.CoordCartesian, X: 0, Y: 0, Z: &z1})
	si.StageSet(p, 1, 2, record.Point{System: record.CoordCartesian, X: 0, Y: 4, Z: &z2})
	p.Commit()
	si.EndTxn(1)

	got := si.WithinDistance(2, record.Point{System: record.CoordCartesian, X: 0, Y: 0, Z: &z1}, 5)
	assert.ElementsMatch(t, []uint64{1, 2}, got)
}

func TestSpatialIndexBoundingBoxCartesian(t *testing.T) {
	si := NewSpatialIndex(1.0)
	p := NewPendingSet()
	si.StageSet(p, 1, 1, record.Point{System: record.CoordCartesian, X: 1, Y: 1})
	si.StageSet(p, 1, 2, record.Point{System: record.CoordCartesian, X: 5, Y: 5})
	si.StageSet(p, 1, 3, record.Point{System: record.CoordCartesian, X: 100, Y: 100})
	p.Commit()
	si.EndTxn(1)

	got := si.BoundingBox(2, record.Point{System: record.CoordCartesian, X: 0, Y: 0}, record.Point{System: record.CoordCartesian, X: 10, Y: 10})
	assert.ElementsMatch(t, []uint64{1, 2}, got)
}

func TestSpatialIndexBoundingBoxRespectsOverlay(t *testing.T) {
	si := NewSpatialIndex(1.0)
	p := NewPendingSet()
	si.StageSet(p, 1, 1, record.Point{System: record.CoordCartesian, X: 1, Y: 1})
	p.Commit()
	si.EndTxn(1)

	p2 := NewPendingSet()
	si.StageSet(p2, 2, 2, record.Point{System: record.CoordCartesian, X: 2, Y: 2})

	gotOwn := si.BoundingBox(2, record.Point{System: record.CoordCartesian, X: 0, Y: 0}, record.Point{System: record.CoordCartesian, X: 10, Y: 10})
	assert.ElementsMatch(t, []uint64{1, 2}, gotOwn)

	gotOther := si.BoundingBox(3, record.Point{System: record.CoordCartesian, X: 0, Y: 0}, record.Point{System: record.CoordCartesian, X: 10, Y: 10})
	assert.ElementsMatch(t, []uint64{1}, gotOther)
}

func TestSpatialIndexBoundingBoxFiltersDifferentCoordSystem(t *testing.T) {
	si := NewSpatialIndex(1.0)
	p := NewPendingSet()
	si.StageSet(p, 1, 1, record.Point{System: record.CoordCartesian, X: 1, Y: 1})
	p.Commit()
	si.EndTxn(1)

	got := si.BoundingBox(2, record.Point{System: record.CoordWGS84, X: 0, Y: 0}, record.Point{System: record.CoordWGS84, X: 10, Y: 10})
	assert.Empty(t, got)
}

func TestSpatialIndexBoundingBox3D(t *testing.T) {
	si := NewSpatialIndex(1.0)
	z1, z2, z3 := 1.0, 9.0, 2.0
	p := NewPendingSet()
	si.StageSet(p, 1, 1, record.Point{System: record.CoordCartesian, X: 1, Y: 1, Z: &z1})
	si.StageSet(p, 1, 2, record.Point{System: record.CoordCartesian, X: 1, Y: 1, Z: &z2})
	p.Commit()
	si.EndTxn(1)

	lo := record.Point{System: record.CoordCartesian, X: 0, Y: 0, Z: &z3}
	hi := record.Point{System: record.CoordCartesian, X: 2, Y: 2, Z: &z2}
	got := si.BoundingBox(2, lo, hi)
	assert.ElementsMatch(t, []uint64{2}, got)
}
