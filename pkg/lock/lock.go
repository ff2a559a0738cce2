// Package lock implements the row-level lock manager: resource-scoped
// read/write locks over nodes and relationships, with a timeout instead
// of deadlock detection (spec §4.5).
//
// Callers that time out are expected to retry — the manager never breaks
// a deadlock by force-aborting a holder. Bulk acquisition across several
// resources is all-or-nothing: on partial failure, every guard already
// taken is released before returning.
package lock

import (
	"context"
	"sync"
	"time"

	"github.com/latticedb/graphcore/pkg/errkind"
)

// ResourceKind distinguishes the two lockable record kinds.
type ResourceKind uint8

const (
	KindNode ResourceKind = iota
	KindRelationship
)

// Resource identifies one lockable node or relationship.
type Resource struct {
	Kind ResourceKind
	ID   uint64
}

// Mode is the access mode a holder requests.
type Mode uint8

const (
	Read Mode = iota
	Write
)

// TxnID identifies the transaction holding a lock, for release and for
// reporting which transaction owns contested resources.
type TxnID uint64

type holder struct {
	txn        TxnID
	mode       Mode
	acquiredAt time.Time
}

type resourceState struct {
	mu      sync.Mutex
	cond    *sync.Cond
	holders map[TxnID]holder // readers: 0..N; a single writer excludes all
}

func newResourceState() *resourceState {
	s := &resourceState{holders: make(map[TxnID]holder)}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// compatible reports whether mode can be granted given the current holder
// set (ignoring txn, which may already hold a compatible lock itself).
func (s *resourceState) compatibleLocked(txn TxnID, mode Mode) bool {
	if len(s.holders) == 0 {
		return true
	}
	if _, already := s.holders[txn]; already && len(s.holders) == 1 {
		return true // upgrading/re-acquiring our own sole hold is allowed by the caller's escalation path
	}
	if mode == Read {
		for id, h := range s.holders {
			if id != txn && h.mode == Write {
				return false
			}
		}
		return true
	}
	// Write mode: must be the only holder.
	for id := range s.holders {
		if id != txn {
			return false
		}
	}
	return len(s.holders) == 0
}

// Manager is the shared, process-wide row-lock table.
type Manager struct {
	mu        sync.Mutex
	resources map[Resource]*resourceState
	timeout   time.Duration
	escalationThreshold int

	// per-transaction lock counts, for the escalation hint (advisory
	// only — spec §4.5, §9 open question).
	txnCounts map[TxnID]map[ResourceKind]int
	escalated map[TxnID]map[ResourceKind]bool
}

// NewManager creates a lock manager with the given acquisition timeout
// and escalation-hint threshold.
func NewManager(timeout time.Duration, escalationThreshold int) *Manager {
	return &Manager{
		resources:          make(map[Resource]*resourceState),
		timeout:             timeout,
		escalationThreshold: escalationThreshold,
		txnCounts:           make(map[TxnID]map[ResourceKind]int),
		escalated:           make(map[TxnID]map[ResourceKind]bool),
	}
}

func (m *Manager) stateFor(r Resource) *resourceState {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.resources[r]
	if !ok {
		s = newResourceState()
		m.resources[r] = s
	}
	return s
}

// Acquire blocks until txn holds mode on resource, or returns
// errkind.LockTimeout once the manager's configured timeout elapses.
func (m *Manager) Acquire(ctx context.Context, txn TxnID, resource Resource, mode Mode) error {
	s := m.stateFor(resource)
	deadline := time.Now().Add(m.timeout)

	s.mu.Lock()
	defer s.mu.Unlock()

	for !s.compatibleLocked(txn, mode) {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return errkind.New(errkind.LockTimeout, "timed out acquiring row lock")
		}
		waitCh := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				s.mu.Lock()
				s.cond.Broadcast()
				s.mu.Unlock()
			case <-time.After(remaining):
				s.mu.Lock()
				s.cond.Broadcast()
				s.mu.Unlock()
			case <-waitCh:
			}
		}()
		s.cond.Wait()
		close(waitCh)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if time.Now().After(deadline) {
			return errkind.New(errkind.LockTimeout, "timed out acquiring row lock")
		}
	}

	if existing, ok := s.holders[txn]; !ok || existing.mode != Write {
		s.holders[txn] = holder{txn: txn, mode: mode, acquiredAt: time.Now()}
	}

	m.recordGrant(txn, resource.Kind)
	return nil
}

func (m *Manager) recordGrant(txn TxnID, kind ResourceKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts, ok := m.txnCounts[txn]
	if !ok {
		counts = make(map[ResourceKind]int)
		m.txnCounts[txn] = counts
	}
	counts[kind]++
	if counts[kind] > m.escalationThreshold {
		flags, ok := m.escalated[txn]
		if !ok {
			flags = make(map[ResourceKind]bool)
			m.escalated[txn] = flags
		}
		flags[kind] = true
	}
}

// EscalationHint reports whether txn has crossed the escalation threshold
// for kind. Advisory only: the manager continues to take row-level locks
// regardless (spec §4.5, design note §9).
func (m *Manager) EscalationHint(txn TxnID, kind ResourceKind) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.escalated[txn] != nil && m.escalated[txn][kind]
}

// AcquireAll acquires every (resource, mode) pair atomically: all-or-
// nothing. On any failure, every lock already taken in this call is
// released before returning the error.
func (m *Manager) AcquireAll(ctx context.Context, txn TxnID, reqs []struct {
	Resource Resource
	Mode     Mode
}) error {
	granted := make([]Resource, 0, len(reqs))
	for _, req := range reqs {
		if err := m.Acquire(ctx, txn, req.Resource, req.Mode); err != nil {
			for _, g := range granted {
				m.Release(txn, g)
			}
			return err
		}
		granted = append(granted, req.Resource)
	}
	return nil
}

// Release releases txn's lock on resource, waking any waiters.
func (m *Manager) Release(txn TxnID, resource Resource) {
	s := m.stateFor(resource)
	s.mu.Lock()
	delete(s.holders, txn)
	s.cond.Broadcast()
	s.mu.Unlock()
}

// ReleaseAll releases every lock txn holds across all resources it has
// touched. Called on commit and on abort.
func (m *Manager) ReleaseAll(txn TxnID, resources []Resource) {
	for _, r := range resources {
		m.Release(txn, r)
	}
	m.mu.Lock()
	delete(m.txnCounts, txn)
	delete(m.escalated, txn)
	m.mu.Unlock()
}

// Stats is the observability surface from spec §4.5.
type Stats struct {
	TotalResources int
	TotalHolders   int
	ReadLocks      int
	WriteLocks     int
}

// Stats reports the current lock-table occupancy.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	resources := make([]*resourceState, 0, len(m.resources))
	for _, s := range m.resources {
		resources = append(resources, s)
	}
	m.mu.Unlock()

	var stats Stats
	stats.TotalResources = len(resources)
	for _, s := range resources {
		s.mu.Lock()
		for _, h := range s.holders {
			stats.TotalHolders++
			if h.mode == Read {
				stats.ReadLocks++
			} else {
				stats.WriteLocks++
			}
		}
		s.mu.Unlock()
	}
	return stats
}
