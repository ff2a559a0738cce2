package cypher

import (
	"container/list"
	"strings"
	"sync"
	"time"
)

// planCache caches parsed query ASTs keyed by a normalized query string
// plus the catalog's schema version at parse time (spec §4.9: "a
// compiled plan is keyed by the exact query text plus the catalog schema
// version; on any schema change the cache is invalidated wholesale").
// It does not cache the lowered operator pipeline — the planner always
// resolves label/relationship-type/property-key names to catalog IDs
// fresh from the live catalog on every execution, so only the parse
// itself (lexing + AST construction) is ever reused. Gating on schema
// version is still enforced exactly as the spec describes, even though
// an AST-only cache could not go stale from a schema change on its own.
type planCache struct {
	mu            sync.RWMutex
	entries       map[string]*list.Element
	order         *list.List
	maxSize       int
	schemaVersion int
	hits          int64
	misses        int64
}

type cacheEntry struct {
	key         string
	query       *Query
	hitCount    int64
	compileTime time.Duration
}

// newPlanCache creates a plan cache holding up to maxSize parsed
// queries, evicting the least recently used entry once full.
func newPlanCache(maxSize int) *planCache {
	if maxSize <= 0 {
		maxSize = 500
	}
	return &planCache{
		entries: make(map[string]*list.Element),
		order:   list.New(),
		maxSize: maxSize,
	}
}

// get returns the cached parse of cypher for the given schema version,
// if present. A schema version that differs from the one the cache was
// last populated under invalidates every entry before the lookup.
func (pc *planCache) get(cypher string, schemaVersion int) (*Query, bool) {
	key := normalizeQueryText(cypher)

	pc.mu.Lock()
	defer pc.mu.Unlock()

	if schemaVersion != pc.schemaVersion {
		pc.invalidateLocked(schemaVersion)
	}

	elem, ok := pc.entries[key]
	if !ok {
		pc.misses++
		return nil, false
	}
	pc.order.MoveToFront(elem)
	entry := elem.Value.(*cacheEntry)
	entry.hitCount++
	pc.hits++
	return entry.query, true
}

// put stores q under cypher's normalized key and schemaVersion,
// recording how long it took to parse, and evicts the least recently
// used entry if the cache is at capacity.
func (pc *planCache) put(cypher string, schemaVersion int, q *Query, compileTime time.Duration) {
	key := normalizeQueryText(cypher)

	pc.mu.Lock()
	defer pc.mu.Unlock()

	if schemaVersion != pc.schemaVersion {
		pc.invalidateLocked(schemaVersion)
	}
	if _, exists := pc.entries[key]; exists {
		return
	}
	for pc.order.Len() >= pc.maxSize {
		oldest := pc.order.Back()
		if oldest == nil {
			break
		}
		delete(pc.entries, oldest.Value.(*cacheEntry).key)
		pc.order.Remove(oldest)
	}
	elem := pc.order.PushFront(&cacheEntry{key: key, query: q, compileTime: compileTime})
	pc.entries[key] = elem
}

// invalidateLocked drops every cached entry and adopts schemaVersion as
// current. Callers must hold pc.mu.
func (pc *planCache) invalidateLocked(schemaVersion int) {
	pc.entries = make(map[string]*list.Element)
	pc.order.Init()
	pc.schemaVersion = schemaVersion
}

// stats reports cache hit/miss counts and current entry count, surfaced
// through dbms.listConfig-adjacent diagnostics.
func (pc *planCache) stats() (hits, misses int64, size int) {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	return pc.hits, pc.misses, len(pc.entries)
}

// clear empties the cache — used by the dbms.clearQueryCaches procedure.
func (pc *planCache) clear() {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.entries = make(map[string]*list.Element)
	pc.order.Init()
}

// normalizeQueryText collapses whitespace so equivalent queries that
// differ only in formatting share a cache entry.
func normalizeQueryText(cypher string) string {
	return strings.Join(strings.Fields(cypher), " ")
}

// schemaVersionOf computes a cheap fingerprint of the catalog's current
// shape: every label/relationship-type/property-key interning bumps at
// least one of these counts, which is exactly the signal plan-cache
// invalidation needs (spec §4.9).
func schemaVersionOf(labelCount, relTypeCount, propKeyCount int) int {
	return labelCount*1_000_003 + relTypeCount*1009 + propKeyCount
}
