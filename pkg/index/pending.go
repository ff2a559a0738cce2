// Package index implements the four index kinds of spec §4.4 — label,
// property, vector (k-NN), and spatial — unified under a pending-update
// staging pattern: every index change produced inside a write transaction
// is appended to a per-transaction overlay rather than mutating the live
// structure, and is applied in a single pass under the index's write lock
// at commit (or discarded on abort).
package index

import "sync"

// TxnID identifies the transaction a pending update batch belongs to.
type TxnID uint64

// Update is one staged index mutation: Apply, supplied by the index
// implementation that produced it, replays it against the live index.
type Update struct {
	Apply func()
}

// PendingSet accumulates staged updates for one transaction across every
// index the transaction has touched. Its methods are guarded by an
// internal mutex; each write transaction owns exactly one.
type PendingSet struct {
	mu      sync.Mutex
	updates []Update
}

// NewPendingSet creates an empty staging area for a write transaction.
func NewPendingSet() *PendingSet { return &PendingSet{} }

// Stage appends an update to the pending set. Staging never touches the
// live index — callers see their own writes only through an overlay
// lookup (spec §4.4 guarantee (a)).
func (p *PendingSet) Stage(u Update) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates = append(p.updates, u)
}

// Commit applies every staged update, in insertion order, exactly once.
// Each update's Apply takes its own index's write lock; PendingSet holds
// no lock while applying.
func (p *PendingSet) Commit() {
	p.mu.Lock()
	updates := p.updates
	p.updates = nil
	p.mu.Unlock()
	for _, u := range updates {
		u.Apply()
	}
}

// Discard drops every staged update without applying it — the abort path.
func (p *PendingSet) Discard() {
	p.mu.Lock()
	p.updates = nil
	p.mu.Unlock()
}

// Len reports how many updates are currently staged (for tests/metrics).
func (p *PendingSet) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.updates)
}
