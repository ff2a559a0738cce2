// Package session implements the boundary contract (C12, spec §4.12):
// execute(session_id, query_text) plus the session table spec §4.6
// describes. It is the one place pkg/txn, pkg/storage, and pkg/cypher
// are wired together; every external transport (Bolt, HTTP, gRPC, a
// future wire protocol) is expected to sit on top of Manager rather than
// touch those packages directly.
package session

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/latticedb/graphcore/pkg/cypher"
	"github.com/latticedb/graphcore/pkg/errkind"
	"github.com/latticedb/graphcore/pkg/lock"
	"github.com/latticedb/graphcore/pkg/record"
	"github.com/latticedb/graphcore/pkg/storage"
	"github.com/latticedb/graphcore/pkg/txn"
)

// Session is one client's state across statements: its active explicit
// transaction, if `BEGIN TRANSACTION` opened one, and the idle timer the
// reaper uses to evict it.
type Session struct {
	ID           string
	Principal    string
	activeTxn    *txn.Txn
	lastActivity time.Time
	queryCounter uint64
}

// Manager is the session table plus the execute() boundary contract. It
// owns the one txn.Manager for the process, wiring its onCommit/onAbort
// hooks to the storage engine itself so callers never need to.
type Manager struct {
	engine  *storage.Engine
	txns    *txn.Manager
	exec    *cypher.Executor
	timeout time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a session manager over engine and exec, with
// sessions reaped after timeout of inactivity (spec §4.6).
func NewManager(engine *storage.Engine, locks *lock.Manager, exec *cypher.Executor, timeout time.Duration) *Manager {
	m := &Manager{
		engine:   engine,
		exec:     exec,
		timeout:  timeout,
		sessions: make(map[string]*Session),
	}
	// onCommit only handles WAL durability: txn.Manager calls onCommit
	// before the transaction's pending index updates are applied, but
	// Engine.EndTxn must not run until after that point (see DESIGN.md's
	// "Engine.EndTxn call site" note), so EndTxn is called explicitly
	// after Manager.Commit returns, not from this hook.
	onCommit := func(t *txn.Txn) error { return engine.Flush() }
	onAbort := func(t *txn.Txn) { engine.EndTxn(t.ID) }
	m.txns = txn.NewManager(locks, onCommit, onAbort)
	return m
}

// getOrCreate returns sessionID's session, creating one on first use.
func (m *Manager) getOrCreate(sessionID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		s = &Session{ID: sessionID, lastActivity: time.Now()}
		m.sessions[sessionID] = s
	}
	return s
}

// Execute runs one statement for sessionID: BEGIN/COMMIT/ROLLBACK
// mutate the session's transaction state directly; everything else runs
// inside the session's active transaction if one is open, or an
// implicit single-statement transaction otherwise (spec §4.6).
func (m *Manager) Execute(sessionID, queryText string, params map[string]record.Value) (*cypher.ExecuteResult, error) {
	s := m.getOrCreate(sessionID)

	m.mu.Lock()
	s.lastActivity = time.Now()
	s.queryCounter++
	queryID := sessionID + "#" + strconv.FormatUint(s.queryCounter, 10)
	m.mu.Unlock()

	q, err := m.exec.ParseQuery(queryText)
	if err != nil {
		return nil, err
	}

	if tc, ok := cypher.SingleTxControl(q); ok {
		return nil, m.applyTxControl(s, tc)
	}

	if s.activeTxn != nil {
		result, err := m.exec.Execute(q, s.activeTxn.ID, s.activeTxn.Pending, params, queryID)
		if err != nil {
			m.abort(s)
		}
		return result, err
	}

	mode := txn.ReadOnly
	if statementWrites(q) {
		mode = txn.ReadWrite
	}
	t := m.txns.Begin(mode)
	result, err := m.exec.Execute(q, t.ID, t.Pending, params, queryID)
	if err != nil {
		m.txns.Abort(t)
		return nil, err
	}
	if commitErr := m.txns.Commit(context.Background(), t); commitErr != nil {
		return nil, commitErr
	}
	m.engine.EndTxn(t.ID)
	return result, nil
}

// applyTxControl handles BEGIN/COMMIT/ROLLBACK TRANSACTION against s,
// per spec §4.6: BEGIN on a session that already has one active fails;
// COMMIT/ROLLBACK with none active fails with NoActiveTransaction.
func (m *Manager) applyTxControl(s *Session, tc *cypher.TxControlClause) error {
	switch tc.Kind {
	case "BEGIN":
		if s.activeTxn != nil {
			return errkind.New(errkind.Semantic, "session already has an active transaction")
		}
		s.activeTxn = m.txns.Begin(txn.ReadWrite)
		return nil
	case "COMMIT":
		if s.activeTxn == nil {
			return errkind.New(errkind.NoActiveTransaction, "no active transaction on this session")
		}
		t := s.activeTxn
		s.activeTxn = nil
		if err := m.txns.Commit(context.Background(), t); err != nil {
			return err
		}
		m.engine.EndTxn(t.ID)
		return nil
	case "ROLLBACK":
		if s.activeTxn == nil {
			return errkind.New(errkind.NoActiveTransaction, "no active transaction on this session")
		}
		t := s.activeTxn
		s.activeTxn = nil
		m.txns.Abort(t)
		return nil
	default:
		return errkind.New(errkind.Semantic, fmt.Sprintf("session: unknown transaction control %q", tc.Kind))
	}
}

// abort rolls back s's active transaction after a statement inside it
// fails — Cypher drivers expect a failed statement to abort the whole
// transaction, not leave it half-applied.
func (m *Manager) abort(s *Session) {
	if s.activeTxn == nil {
		return
	}
	t := s.activeTxn
	s.activeTxn = nil
	m.txns.Abort(t)
}

// ReapExpired evicts sessions idle past m.timeout, aborting any active
// transaction they left open (spec §4.6: "session timeout aborts the
// active transaction and evicts the session").
func (m *Manager) ReapExpired() {
	m.mu.Lock()
	var expired []*Session
	now := time.Now()
	for id, s := range m.sessions {
		if now.Sub(s.lastActivity) > m.timeout {
			expired = append(expired, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range expired {
		if s.activeTxn != nil {
			m.txns.Abort(s.activeTxn)
		}
	}
}

// StartReaper runs ReapExpired every interval until stop is closed.
func (m *Manager) StartReaper(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.ReapExpired()
			case <-stop:
				return
			}
		}
	}()
}

// KillQuery cancels a running query by the ID Execute generated for it
// (`sessionID#N`).
func (m *Manager) KillQuery(queryID string) bool { return m.exec.KillQuery(queryID) }

// ActiveSessionCount reports how many sessions are currently tracked.
func (m *Manager) ActiveSessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// statementWrites reports whether q contains any clause that mutates
// the graph, deciding the implicit transaction's mode when a session
// has no explicit BEGIN in effect.
func statementWrites(q *cypher.Query) bool {
	for _, c := range q.Clauses {
		switch c.(type) {
		case *cypher.CreateClause, *cypher.DeleteClause, *cypher.SetClause, *cypher.RemoveClause:
			return true
		}
	}
	for _, branch := range q.Union {
		if statementWrites(branch) {
			return true
		}
	}
	return false
}
