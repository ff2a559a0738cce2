package index

import (
	"sort"
	"sync"

	"github.com/latticedb/graphcore/pkg/catalog"
	"github.com/latticedb/graphcore/pkg/record"
)

// PropertyIndex indexes one property key's values across a set of nodes
// (spec §4.4): an equality lookup via hash map, and a sorted slice for
// range queries, both kept in lockstep. Selectivity is estimated as
// matches/total, letting the planner (pkg/cypher) prefer the cheaper of
// a property-index seek and a label-bitmap scan.
type PropertyIndex struct {
	mu sync.RWMutex

	key catalog.ID

	// equality: hashable value key -> node IDs holding that exact value.
	byValue map[string]map[uint64]struct{}

	// range: every (value, node) pair kept sorted by value for range scans.
	// Rebuilt lazily; see sortedLocked.
	entries    []propEntry
	sortedDirty bool

	overlayMu sync.Mutex
	overlays  map[TxnID]*propOverlay
}

type propEntry struct {
	value record.Value
	node  uint64
}

type propOverlay struct {
	added   []propEntry
	removed map[uint64]struct{} // nodes whose prior value should be excluded
}

func newPropOverlay() *propOverlay {
	return &propOverlay{removed: make(map[uint64]struct{})}
}

// NewPropertyIndex creates an empty index over key.
func NewPropertyIndex(key catalog.ID) *PropertyIndex {
	return &PropertyIndex{
		key:      key,
		byValue:  make(map[string]map[uint64]struct{}),
		overlays: make(map[TxnID]*propOverlay),
	}
}

// Key reports the property key this index covers.
func (pi *PropertyIndex) Key() catalog.ID { return pi.key }

func (pi *PropertyIndex) overlayFor(txn TxnID) *propOverlay {
	pi.overlayMu.Lock()
	defer pi.overlayMu.Unlock()
	o, ok := pi.overlays[txn]
	if !ok {
		o = newPropOverlay()
		pi.overlays[txn] = o
	}
	return o
}

// StageSet stages node's value for this property, replacing any prior
// indexed value for the same node once committed.
func (pi *PropertyIndex) StageSet(pending *PendingSet, txn TxnID, node uint64, value record.Value) {
	o := pi.overlayFor(txn)
	o.added = append(o.added, propEntry{value: value, node: node})

	pending.Stage(Update{Apply: func() {
		pi.mu.Lock()
		defer pi.mu.Unlock()
		pi.removeNodeLocked(node)
		pi.insertLocked(value, node)
	}})
}

// StageRemove stages removal of node's entry entirely (property deleted
// or node deleted).
func (pi *PropertyIndex) StageRemove(pending *PendingSet, txn TxnID, node uint64) {
	o := pi.overlayFor(txn)
	o.removed[node] = struct{}{}

	pending.Stage(Update{Apply: func() {
		pi.mu.Lock()
		defer pi.mu.Unlock()
		pi.removeNodeLocked(node)
	}})
}

func (pi *PropertyIndex) removeNodeLocked(node uint64) {
	for k, set := range pi.byValue {
		if _, ok := set[node]; ok {
			delete(set, node)
			if len(set) == 0 {
				delete(pi.byValue, k)
			}
		}
	}
	kept := pi.entries[:0]
	for _, e := range pi.entries {
		if e.node != node {
			kept = append(kept, e)
		}
	}
	pi.entries = kept
	pi.sortedDirty = true
}

func (pi *PropertyIndex) insertLocked(value record.Value, node uint64) {
	k := record.HashKey(value)
	set, ok := pi.byValue[k]
	if !ok {
		set = make(map[uint64]struct{})
		pi.byValue[k] = set
	}
	set[node] = struct{}{}
	pi.entries = append(pi.entries, propEntry{value: value, node: node})
	pi.sortedDirty = true
}

func (pi *PropertyIndex) EndTxn(txn TxnID) {
	pi.overlayMu.Lock()
	delete(pi.overlays, txn)
	pi.overlayMu.Unlock()
}

// Lookup returns every node whose value equals value, overlaid with txn's
// own staged changes.
func (pi *PropertyIndex) Lookup(txn TxnID, value record.Value) []uint64 {
	k := record.HashKey(value)

	pi.mu.RLock()
	set := pi.byValue[k]
	out := make(map[uint64]struct{}, len(set))
	for n := range set {
		out[n] = struct{}{}
	}
	pi.mu.RUnlock()

	pi.overlayMu.Lock()
	o, ok := pi.overlays[txn]
	pi.overlayMu.Unlock()
	if ok {
		for n := range o.removed {
			delete(out, n)
		}
		for _, e := range o.added {
			if record.Equal(e.value, value) {
				out[e.node] = struct{}{}
			} else {
				delete(out, e.node)
			}
		}
	}

	result := make([]uint64, 0, len(out))
	for n := range out {
		result = append(result, n)
	}
	return result
}

func valueLess(a, b record.Value) bool {
	if af, aok := a.AsFloat64(); aok {
		if bf, bok := b.AsFloat64(); bok {
			return af < bf
		}
	}
	if a.Kind == record.KindString && b.Kind == record.KindString {
		return a.Str < b.Str
	}
	return record.HashKey(a) < record.HashKey(b)
}

func (pi *PropertyIndex) sortedLocked() []propEntry {
	if pi.sortedDirty {
		sort.Slice(pi.entries, func(i, j int) bool { return valueLess(pi.entries[i].value, pi.entries[j].value) })
		pi.sortedDirty = false
	}
	return pi.entries
}

// Range returns nodes whose value falls within [lo, hi] (inclusive bounds
// applied per includeLo/includeHi), overlaid with txn's own staged
// changes. Intended for planner-driven range predicates (`WHERE n.age > 5`).
func (pi *PropertyIndex) Range(txn TxnID, lo, hi *record.Value, includeLo, includeHi bool) []uint64 {
	pi.mu.Lock()
	entries := append([]propEntry(nil), pi.sortedLocked()...)
	pi.mu.Unlock()

	out := make(map[uint64]struct{})
	for _, e := range entries {
		if lo != nil {
			if includeLo {
				if valueLess(e.value, *lo) {
					continue
				}
			} else if !valueLess(*lo, e.value) {
				continue
			}
		}
		if hi != nil {
			if includeHi {
				if valueLess(*hi, e.value) {
					continue
				}
			} else if !valueLess(e.value, *hi) {
				continue
			}
		}
		out[e.node] = struct{}{}
	}

	pi.overlayMu.Lock()
	o, ok := pi.overlays[txn]
	pi.overlayMu.Unlock()
	if ok {
		for n := range o.removed {
			delete(out, n)
		}
		for _, e := range o.added {
			inRange := true
			if lo != nil {
				if includeLo {
					inRange = inRange && !valueLess(e.value, *lo)
				} else {
					inRange = inRange && valueLess(*lo, e.value)
				}
			}
			if hi != nil {
				if includeHi {
					inRange = inRange && !valueLess(*hi, e.value)
				} else {
					inRange = inRange && valueLess(e.value, *hi)
				}
			}
			if inRange {
				out[e.node] = struct{}{}
			} else {
				delete(out, e.node)
			}
		}
	}

	result := make([]uint64, 0, len(out))
	for n := range out {
		result = append(result, n)
	}
	return result
}

// Selectivity estimates matches/total for value — used by the planner's
// cost model to choose between a property seek and a label scan.
func (pi *PropertyIndex) Selectivity(value record.Value) float64 {
	pi.mu.RLock()
	defer pi.mu.RUnlock()
	total := len(pi.entries)
	if total == 0 {
		return 1
	}
	matches := len(pi.byValue[record.HashKey(value)])
	return float64(matches) / float64(total)
}

// Count reports the total number of indexed (node, value) entries.
func (pi *PropertyIndex) Count() int {
	pi.mu.RLock()
	defer pi.mu.RUnlock()
	return len(pi.entries)
}
