package index

import (
	"container/heap"
	"math"
	"math/rand"
	"sort"
	"sync"
)

// VectorIndexConfig tunes the HNSW graph built over node embeddings
// (spec §4.4 vector k-NN index).
type VectorIndexConfig struct {
	M               int     // max connections per node per layer
	EfConstruction  int     // candidate list size while inserting
	EfSearch        int     // candidate list size while searching
	LevelMultiplier float64 // 1/ln(M)
}

// DefaultVectorIndexConfig mirrors the defaults the teacher codebase
// shipped for its HNSW index.
func DefaultVectorIndexConfig() VectorIndexConfig {
	return VectorIndexConfig{
		M:               16,
		EfConstruction:  200,
		EfSearch:        100,
		LevelMultiplier: 1.0 / math.Log(16.0),
	}
}

type vecNode struct {
	id        uint64
	vector    []float32
	level     int
	neighbors [][]uint64
	mu        sync.RWMutex
}

// VectorIndex is an approximate k-NN index over node embeddings, built as
// a hierarchical navigable small world graph. Updates go through the same
// pending-update staging pattern as the other index kinds: Add/Remove
// calls made mid-transaction are only visible to other readers once the
// transaction's PendingSet is committed.
type VectorIndex struct {
	config     VectorIndexConfig
	dimensions int

	mu         sync.RWMutex
	nodes      map[uint64]*vecNode
	entryPoint uint64
	hasEntry   bool
	maxLevel   int
}

// NewVectorIndex creates an empty vector index for embeddings of the
// given dimensionality.
func NewVectorIndex(dimensions int, config VectorIndexConfig) *VectorIndex {
	if config.M == 0 {
		config = DefaultVectorIndexConfig()
	}
	return &VectorIndex{
		config:     config,
		dimensions: dimensions,
		nodes:      make(map[uint64]*vecNode),
	}
}

// ErrDimensionMismatch is returned when a vector's length does not match
// the index's configured dimensionality.
type ErrDimensionMismatch struct{}

func (ErrDimensionMismatch) Error() string { return "index: vector dimension mismatch" }

// StageAdd stages insertion of node's embedding into the graph. The
// insert itself runs at commit time, under the index's write lock —
// HNSW's neighbor-list mutation is not safe to interleave with concurrent
// searches mid-transaction.
func (v *VectorIndex) StageAdd(pending *PendingSet, node uint64, vec []float32) error {
	if len(vec) != v.dimensions {
		return ErrDimensionMismatch{}
	}
	cp := append([]float32(nil), vec...)
	pending.Stage(Update{Apply: func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		v.insertLocked(node, cp)
	}})
	return nil
}

// StageRemove stages removal of node's embedding from the graph.
func (v *VectorIndex) StageRemove(pending *PendingSet, node uint64) {
	pending.Stage(Update{Apply: func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		v.removeLocked(node)
	}})
}

func (v *VectorIndex) insertLocked(id uint64, vec []float32) {
	normalized := normalizeVector(vec)
	level := v.randomLevel()

	node := &vecNode{id: id, vector: normalized, level: level, neighbors: make([][]uint64, level+1)}
	for i := range node.neighbors {
		node.neighbors[i] = make([]uint64, 0, v.config.M)
	}
	v.nodes[id] = node

	if !v.hasEntry {
		v.entryPoint = id
		v.hasEntry = true
		v.maxLevel = level
		return
	}

	ep := v.entryPoint
	epLevel := v.nodes[ep].level

	for l := epLevel; l > level; l-- {
		ep = v.searchLayerSingle(normalized, ep, l)
	}

	top := level
	if epLevel < top {
		top = epLevel
	}
	for l := top; l >= 0; l-- {
		candidates := v.searchLayer(normalized, ep, v.config.EfConstruction, l)
		neighbors := v.selectNeighbors(normalized, candidates, v.config.M)
		node.neighbors[l] = neighbors

		for _, nid := range neighbors {
			neighbor := v.nodes[nid]
			neighbor.mu.Lock()
			if len(neighbor.neighbors) > l {
				if len(neighbor.neighbors[l]) < v.config.M {
					neighbor.neighbors[l] = append(neighbor.neighbors[l], id)
				} else {
					all := append(neighbor.neighbors[l], id)
					neighbor.neighbors[l] = v.selectNeighbors(neighbor.vector, all, v.config.M)
				}
			}
			neighbor.mu.Unlock()
		}
		if len(candidates) > 0 {
			ep = candidates[0]
		}
	}

	if level > v.maxLevel {
		v.entryPoint = id
		v.maxLevel = level
	}
}

func (v *VectorIndex) removeLocked(id uint64) {
	node, ok := v.nodes[id]
	if !ok {
		return
	}
	for l := 0; l <= node.level; l++ {
		for _, nid := range node.neighbors[l] {
			neighbor, ok := v.nodes[nid]
			if !ok {
				continue
			}
			neighbor.mu.Lock()
			if len(neighbor.neighbors) > l {
				kept := neighbor.neighbors[l][:0]
				for _, n := range neighbor.neighbors[l] {
					if n != id {
						kept = append(kept, n)
					}
				}
				neighbor.neighbors[l] = kept
			}
			neighbor.mu.Unlock()
		}
	}
	delete(v.nodes, id)

	if v.entryPoint == id {
		v.hasEntry = false
		v.maxLevel = 0
		for nid, n := range v.nodes {
			if !v.hasEntry || n.level > v.maxLevel {
				v.maxLevel = n.level
				v.entryPoint = nid
				v.hasEntry = true
			}
		}
	}
}

// Result is one k-NN match.
type Result struct {
	Node  uint64
	Score float64
}

// Search returns up to k nearest neighbors of query with similarity at
// least minSimilarity, best match first.
func (v *VectorIndex) Search(query []float32, k int, minSimilarity float64) ([]Result, error) {
	if len(query) != v.dimensions {
		return nil, ErrDimensionMismatch{}
	}
	v.mu.RLock()
	defer v.mu.RUnlock()

	if len(v.nodes) == 0 {
		return nil, nil
	}

	normalized := normalizeVector(query)
	ep := v.entryPoint
	for l := v.maxLevel; l > 0; l-- {
		ep = v.searchLayerSingle(normalized, ep, l)
	}
	candidates := v.searchLayer(normalized, ep, v.config.EfSearch, 0)

	results := make([]Result, 0, k)
	for _, cid := range candidates {
		node := v.nodes[cid]
		sim := dotProduct(normalized, node.vector)
		if sim >= minSimilarity {
			results = append(results, Result{Node: cid, Score: sim})
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Size reports the number of embeddings currently indexed.
func (v *VectorIndex) Size() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.nodes)
}

func (v *VectorIndex) searchLayerSingle(query []float32, entry uint64, level int) uint64 {
	current := entry
	currentDist := 1.0 - dotProduct(query, v.nodes[current].vector)
	for {
		changed := false
		node := v.nodes[current]
		node.mu.RLock()
		neighbors := node.neighbors[level]
		node.mu.RUnlock()
		for _, nid := range neighbors {
			dist := 1.0 - dotProduct(query, v.nodes[nid].vector)
			if dist < currentDist {
				current = nid
				currentDist = dist
				changed = true
			}
		}
		if !changed {
			break
		}
	}
	return current
}

type distItem struct {
	id    uint64
	dist  float64
	isMax bool
}

type distHeap []distItem

func (h distHeap) Len() int { return len(h) }
func (h distHeap) Less(i, j int) bool {
	if h[i].isMax {
		return h[i].dist > h[j].dist
	}
	return h[i].dist < h[j].dist
}
func (h distHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *distHeap) Push(x any)   { *h = append(*h, x.(distItem)) }
func (h *distHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

func (v *VectorIndex) searchLayer(query []float32, entry uint64, ef int, level int) []uint64 {
	visited := map[uint64]bool{entry: true}

	candidates := &distHeap{}
	results := &distHeap{}
	heap.Init(candidates)
	heap.Init(results)

	entryDist := 1.0 - dotProduct(query, v.nodes[entry].vector)
	heap.Push(candidates, distItem{id: entry, dist: entryDist})
	heap.Push(results, distItem{id: entry, dist: entryDist, isMax: true})

	for candidates.Len() > 0 {
		closest := heap.Pop(candidates).(distItem)
		if results.Len() >= ef && closest.dist > (*results)[0].dist {
			break
		}
		node := v.nodes[closest.id]
		node.mu.RLock()
		neighbors := node.neighbors[level]
		node.mu.RUnlock()

		for _, nid := range neighbors {
			if visited[nid] {
				continue
			}
			visited[nid] = true
			dist := 1.0 - dotProduct(query, v.nodes[nid].vector)
			if results.Len() < ef || dist < (*results)[0].dist {
				heap.Push(candidates, distItem{id: nid, dist: dist})
				heap.Push(results, distItem{id: nid, dist: dist, isMax: true})
				if results.Len() > ef {
					heap.Pop(results)
				}
			}
		}
	}

	out := make([]uint64, results.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(results).(distItem).id
	}
	return out
}

func (v *VectorIndex) selectNeighbors(query []float32, candidates []uint64, m int) []uint64 {
	if len(candidates) <= m {
		return candidates
	}
	type scored struct {
		id   uint64
		dist float64
	}
	ds := make([]scored, len(candidates))
	for i, cid := range candidates {
		ds[i] = scored{id: cid, dist: 1.0 - dotProduct(query, v.nodes[cid].vector)}
	}
	sort.Slice(ds, func(i, j int) bool { return ds[i].dist < ds[j].dist })
	out := make([]uint64, m)
	for i := 0; i < m; i++ {
		out[i] = ds[i].id
	}
	return out
}

func (v *VectorIndex) randomLevel() int {
	r := rand.Float64()
	return int(-math.Log(r) * v.config.LevelMultiplier)
}
