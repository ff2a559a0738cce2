// Package txn implements the transaction manager and session table (C6,
// spec §4.6): begin/commit/abort for read and write transactions, commit
// ordering, and session timeout reaping.
//
// # Isolation model
//
// Write transactions see read-committed snapshots plus their own
// uncommitted writes (the pkg/index pending-update overlay gives every
// index kind this for free). Commit applies a transaction's staged index
// updates and releases its row locks in one critical section; abort
// discards the staged updates and releases the same locks.
//
// # ELI12
//
// A transaction is a todo list you keep in your pocket. You can scribble
// on it all you want — nobody else sees your scribbles. COMMIT means you
// copy the list onto the whiteboard everyone reads. ROLLBACK means you
// crumple the list and throw it away; the whiteboard never changes.
package txn

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/latticedb/graphcore/pkg/errkind"
	"github.com/latticedb/graphcore/pkg/index"
	"github.com/latticedb/graphcore/pkg/lock"
)

// Mode distinguishes read-only from read-write transactions. Read-only
// transactions never stage index updates or take write locks.
type Mode uint8

const (
	ReadOnly Mode = iota
	ReadWrite
)

// Status is the lifecycle state of one transaction.
type Status uint8

const (
	StatusActive Status = iota
	StatusCommitted
	StatusAborted
)

// Txn is one in-flight transaction: its pending-index overlay, the
// resources it has locked, and its lifecycle status.
type Txn struct {
	ID      index.TxnID
	Mode    Mode
	Pending *index.PendingSet

	mu        sync.Mutex
	status    Status
	resources []lock.Resource
	startedAt time.Time
}

// Status reports the transaction's current lifecycle state.
func (t *Txn) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// TrackResource records a resource this transaction has locked, so
// Commit/Abort knows what to release.
func (t *Txn) TrackResource(r lock.Resource) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resources = append(t.resources, r)
}

// Manager begins, commits, and aborts transactions, serializing commit
// ordering through commitMu: spec §4.6 requires transactions become
// durable in the order they call Commit, even though their read/write
// phases may interleave freely.
type Manager struct {
	locks *lock.Manager

	nextID atomic.Uint64

	commitMu sync.Mutex

	mu     sync.Mutex
	active map[index.TxnID]*Txn

	// onCommit is called, under commitMu, before a transaction's pending
	// set is applied and its locks are released — the session layer hooks
	// durability (an engine Flush) here. Index EndTxn cleanup is not part
	// of this hook.
	onCommit func(*Txn) error
	onAbort  func(*Txn)
}

// NewManager creates a transaction manager backed by locks. onCommit runs
// once per transaction, inside the commit-ordering critical section,
// before pending index updates are applied; a non-nil error aborts the
// commit and surfaces to the caller instead of completing it.
func NewManager(locks *lock.Manager, onCommit func(*Txn) error, onAbort func(*Txn)) *Manager {
	return &Manager{
		locks:    locks,
		active:   make(map[index.TxnID]*Txn),
		onCommit: onCommit,
		onAbort:  onAbort,
	}
}

// Begin starts a new transaction in the given mode.
func (m *Manager) Begin(mode Mode) *Txn {
	id := index.TxnID(m.nextID.Add(1))
	t := &Txn{ID: id, Mode: mode, Pending: index.NewPendingSet(), startedAt: time.Now()}
	m.mu.Lock()
	m.active[id] = t
	m.mu.Unlock()
	return t
}

// Get returns the transaction for id, if it is still active.
func (m *Manager) Get(id index.TxnID) (*Txn, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.active[id]
	return t, ok
}

// Commit applies t's staged index updates and releases its locks,
// serialized against every other transaction's commit so durability
// order matches commit-call order (spec §4.6).
func (m *Manager) Commit(ctx context.Context, t *Txn) error {
	t.mu.Lock()
	if t.status != StatusActive {
		t.mu.Unlock()
		return errkind.New(errkind.TransactionAborted, "transaction is not active")
	}
	t.status = StatusCommitted
	resources := t.resources
	t.mu.Unlock()

	m.commitMu.Lock()
	defer m.commitMu.Unlock()

	if m.onCommit != nil {
		if err := m.onCommit(t); err != nil {
			t.Pending.Discard()
			m.locks.ReleaseAll(lock.TxnID(t.ID), resources)
			m.forget(t.ID)
			return err
		}
	}

	t.Pending.Commit()
	m.locks.ReleaseAll(lock.TxnID(t.ID), resources)
	m.forget(t.ID)
	return nil
}

// Abort discards t's staged index updates and releases its locks.
func (m *Manager) Abort(t *Txn) {
	t.mu.Lock()
	if t.status != StatusActive {
		t.mu.Unlock()
		return
	}
	t.status = StatusAborted
	resources := t.resources
	t.mu.Unlock()

	t.Pending.Discard()
	m.locks.ReleaseAll(lock.TxnID(t.ID), resources)
	if m.onAbort != nil {
		m.onAbort(t)
	}
	m.forget(t.ID)
}

func (m *Manager) forget(id index.TxnID) {
	m.mu.Lock()
	delete(m.active, id)
	m.mu.Unlock()
}

// ActiveCount reports the number of currently active transactions, for
// health/stats reporting (spec §4.12).
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}
