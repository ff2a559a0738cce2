package index

import (
	"math"
	"sort"
	"sync"

	"github.com/golang/geo/s2"

	"github.com/latticedb/graphcore/pkg/record"
)

// spatialCellLevel sets the s2 cell covering granularity used to bucket
// WGS84 points into a grid. Level 12 cells are roughly city-block sized,
// a reasonable default bucket width for a k-nearest/radius workload.
const spatialCellLevel = 12

// gridCell keys the Cartesian grid: points are bucketed into fixed-size
// squares on insert and remove. WithinDistance, BoundingBox and Nearest do
// not read the buckets; they scan every indexed point.
type gridCell struct{ x, y int64 }

// SpatialIndex indexes point-valued properties for proximity queries
// (spec §4.4): WGS84 points are bucketed by s2 cell ID and distances
// computed with the Haversine-equivalent s2 angle; Cartesian points are
// bucketed into a uniform grid and distances computed with plain
// Euclidean math. A single index only ever holds one coordinate system,
// decided by the first point staged into it.
type SpatialIndex struct {
	mu sync.RWMutex

	system      record.CoordSystem
	initialized bool
	cellSize    float64 // Cartesian grid cell width; unused for WGS84

	byCell map[uint64][]uint64   // s2 cell token (as uint64) -> node IDs, WGS84
	byGrid map[gridCell][]uint64 // grid cell -> node IDs, Cartesian
	points map[uint64]record.Point

	overlayMu sync.Mutex
	overlays  map[TxnID]*spatialOverlay
}

type spatialOverlay struct {
	set     map[uint64]record.Point
	removed map[uint64]struct{}
}

func newSpatialOverlay() *spatialOverlay {
	return &spatialOverlay{set: make(map[uint64]record.Point), removed: make(map[uint64]struct{})}
}

// NewSpatialIndex creates an empty spatial index. cartesianCellSize sets
// the grid bucket width used only if the first point staged is Cartesian.
func NewSpatialIndex(cartesianCellSize float64) *SpatialIndex {
	if cartesianCellSize <= 0 {
		cartesianCellSize = 1.0
	}
	return &SpatialIndex{
		cellSize: cartesianCellSize,
		byCell:   make(map[uint64][]uint64),
		byGrid:   make(map[gridCell][]uint64),
		points:   make(map[uint64]record.Point),
		overlays: make(map[TxnID]*spatialOverlay),
	}
}

func (si *SpatialIndex) overlayFor(txn TxnID) *spatialOverlay {
	si.overlayMu.Lock()
	defer si.overlayMu.Unlock()
	o, ok := si.overlays[txn]
	if !ok {
		o = newSpatialOverlay()
		si.overlays[txn] = o
	}
	return o
}

// StageSet stages node's point for indexing, replacing any prior point
// for the same node once committed.
func (si *SpatialIndex) StageSet(pending *PendingSet, txn TxnID, node uint64, p record.Point) {
	o := si.overlayFor(txn)
	o.set[node] = p
	delete(o.removed, node)

	pending.Stage(Update{Apply: func() {
		si.mu.Lock()
		defer si.mu.Unlock()
		si.removeLocked(node)
		si.insertLocked(node, p)
	}})
}

// StageRemove stages removal of node's point.
func (si *SpatialIndex) StageRemove(pending *PendingSet, txn TxnID, node uint64) {
	o := si.overlayFor(txn)
	delete(o.set, node)
	o.removed[node] = struct{}{}

	pending.Stage(Update{Apply: func() {
		si.mu.Lock()
		defer si.mu.Unlock()
		si.removeLocked(node)
	}})
}

func (si *SpatialIndex) EndTxn(txn TxnID) {
	si.overlayMu.Lock()
	delete(si.overlays, txn)
	si.overlayMu.Unlock()
}

func (si *SpatialIndex) insertLocked(node uint64, p record.Point) {
	if !si.initialized {
		si.system = p.System
		si.initialized = true
	}
	si.points[node] = p
	if p.System == record.CoordWGS84 {
		cell := s2.CellIDFromLatLng(s2.LatLngFromDegrees(p.Y, p.X)).Parent(spatialCellLevel)
		si.byCell[uint64(cell)] = append(si.byCell[uint64(cell)], node)
		return
	}
	gc := si.gridCellFor(p.X, p.Y)
	si.byGrid[gc] = append(si.byGrid[gc], node)
}

func (si *SpatialIndex) removeLocked(node uint64) {
	p, ok := si.points[node]
	if !ok {
		return
	}
	delete(si.points, node)
	if p.System == record.CoordWGS84 {
		cell := uint64(s2.CellIDFromLatLng(s2.LatLngFromDegrees(p.Y, p.X)).Parent(spatialCellLevel))
		si.byCell[cell] = removeID(si.byCell[cell], node)
		return
	}
	gc := si.gridCellFor(p.X, p.Y)
	si.byGrid[gc] = removeID(si.byGrid[gc], node)
}

func removeID(s []uint64, id uint64) []uint64 {
	out := s[:0]
	for _, v := range s {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func (si *SpatialIndex) gridCellFor(x, y float64) gridCell {
	return gridCell{x: int64(math.Floor(x / si.cellSize)), y: int64(math.Floor(y / si.cellSize))}
}

// distance returns the distance between two points of the same
// coordinate system: Haversine great-circle distance in meters for
// WGS84, plain Euclidean distance in the caller's units for Cartesian.
func distance(a, b record.Point) float64 {
	if a.System == record.CoordWGS84 {
		const earthRadiusMeters = 6371008.8
		angle := s2.LatLngFromDegrees(a.Y, a.X).Distance(s2.LatLngFromDegrees(b.Y, b.X))
		return float64(angle) * earthRadiusMeters
	}
	dx := a.X - b.X
	dy := a.Y - b.Y
	if a.Is3D() && b.Is3D() {
		dz := *a.Z - *b.Z
		return math.Sqrt(dx*dx + dy*dy + dz*dz)
	}
	return math.Sqrt(dx*dx + dy*dy)
}

// WithinDistance returns every indexed node within radius of center,
// respecting txn's staged overlay. radius is meters for WGS84 points,
// caller-defined units for Cartesian points.
func (si *SpatialIndex) WithinDistance(txn TxnID, center record.Point, radius float64) []uint64 {
	si.mu.RLock()
	candidates := make(map[uint64]record.Point, 64)
	for n, p := range si.points {
		candidates[n] = p
	}
	si.mu.RUnlock()

	si.overlayMu.Lock()
	o, ok := si.overlays[txn]
	si.overlayMu.Unlock()
	if ok {
		for n := range o.removed {
			delete(candidates, n)
		}
		for n, p := range o.set {
			candidates[n] = p
		}
	}

	out := make([]uint64, 0, len(candidates))
	for n, p := range candidates {
		if p.System != center.System {
			continue
		}
		if distance(center, p) <= radius {
			out = append(out, n)
		}
	}
	return out
}

// BoundingBox returns every indexed node whose point falls within the
// axis-aligned box [lo,hi] (spec §4.4's bounding-box query), respecting
// txn's staged overlay. lo and hi must share a coordinate system with the
// indexed points; for WGS84 points lo/hi are the box's southwest/northeast
// corners in degrees, for Cartesian points they are plain min/max
// coordinates. 3D boxes additionally bound Z when both corners carry one.
func (si *SpatialIndex) BoundingBox(txn TxnID, lo, hi record.Point) []uint64 {
	si.mu.RLock()
	candidates := make(map[uint64]record.Point, len(si.points))
	for n, p := range si.points {
		candidates[n] = p
	}
	si.mu.RUnlock()

	si.overlayMu.Lock()
	o, ok := si.overlays[txn]
	si.overlayMu.Unlock()
	if ok {
		for n := range o.removed {
			delete(candidates, n)
		}
		for n, p := range o.set {
			candidates[n] = p
		}
	}

	minX, maxX := math.Min(lo.X, hi.X), math.Max(lo.X, hi.X)
	minY, maxY := math.Min(lo.Y, hi.Y), math.Max(lo.Y, hi.Y)

	out := make([]uint64, 0, len(candidates))
	for n, p := range candidates {
		if p.System != lo.System {
			continue
		}
		if p.X < minX || p.X > maxX || p.Y < minY || p.Y > maxY {
			continue
		}
		if lo.Is3D() && hi.Is3D() && p.Is3D() {
			minZ, maxZ := math.Min(*lo.Z, *hi.Z), math.Max(*lo.Z, *hi.Z)
			if *p.Z < minZ || *p.Z > maxZ {
				continue
			}
		}
		out = append(out, n)
	}
	return out
}

// Nearest returns the k nodes closest to center, closest first.
func (si *SpatialIndex) Nearest(txn TxnID, center record.Point, k int) []Result {
	si.mu.RLock()
	candidates := make(map[uint64]record.Point, len(si.points))
	for n, p := range si.points {
		candidates[n] = p
	}
	si.mu.RUnlock()

	si.overlayMu.Lock()
	o, ok := si.overlays[txn]
	si.overlayMu.Unlock()
	if ok {
		for n := range o.removed {
			delete(candidates, n)
		}
		for n, p := range o.set {
			candidates[n] = p
		}
	}

	results := make([]Result, 0, len(candidates))
	for n, p := range candidates {
		if p.System != center.System {
			continue
		}
		results = append(results, Result{Node: n, Score: distance(center, p)})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score < results[j].Score })
	if len(results) > k {
		results = results[:k]
	}
	return results
}
