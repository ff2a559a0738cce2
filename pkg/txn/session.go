package txn

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/latticedb/graphcore/pkg/errkind"
)

// SessionID identifies one client session across possibly many
// transactions (spec §4.12 boundary contract: execute(session_id, ...)).
type SessionID string

// Session pairs a client-visible session with at most one active
// transaction at a time.
type Session struct {
	ID           SessionID
	mu           sync.Mutex
	activeTxn    *Txn
	lastActivity time.Time
}

// Sessions tracks every open session and reaps ones that have been idle
// past the configured timeout (spec §4.12 session expiry).
type Sessions struct {
	mu       sync.Mutex
	sessions map[SessionID]*Session
	timeout  time.Duration
	txns     *Manager
}

// NewSessions creates a session table backed by txns, expiring sessions
// idle longer than timeout.
func NewSessions(txns *Manager, timeout time.Duration) *Sessions {
	return &Sessions{sessions: make(map[SessionID]*Session), timeout: timeout, txns: txns}
}

// Open creates a new session and returns its ID.
func (s *Sessions) Open() SessionID {
	id := SessionID(uuid.NewString())
	s.mu.Lock()
	s.sessions[id] = &Session{ID: id, lastActivity: time.Now()}
	s.mu.Unlock()
	return id
}

// Touch refreshes a session's last-activity timestamp, or returns
// errkind.UnknownSession / errkind.SessionExpired if it cannot be used.
func (s *Sessions) Touch(id SessionID) (*Session, error) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	s.mu.Unlock()
	if !ok {
		return nil, errkind.New(errkind.UnknownSession, "unknown session")
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if s.timeout > 0 && time.Since(sess.lastActivity) > s.timeout {
		return nil, errkind.New(errkind.SessionExpired, "session expired")
	}
	sess.lastActivity = time.Now()
	return sess, nil
}

// BeginOn starts mode on sess, failing if a transaction is already active
// for this session — spec §4.12 requires sequential use per session.
func (s *Sessions) BeginOn(sess *Session, mode Mode) (*Txn, error) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.activeTxn != nil {
		return nil, errkind.New(errkind.Runtime, "session already has an active transaction")
	}
	t := s.txns.Begin(mode)
	sess.activeTxn = t
	return t, nil
}

// EndOn clears sess's active transaction pointer once it has been
// committed or aborted.
func (s *Sessions) EndOn(sess *Session) {
	sess.mu.Lock()
	sess.activeTxn = nil
	sess.mu.Unlock()
}

// ActiveTxn returns sess's in-flight transaction, if any.
func (s *Sessions) ActiveTxn(sess *Session) (*Txn, bool) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.activeTxn, sess.activeTxn != nil
}

// Close removes a session, aborting its active transaction if one exists.
func (s *Sessions) Close(id SessionID) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		return
	}
	sess.mu.Lock()
	t := sess.activeTxn
	sess.activeTxn = nil
	sess.mu.Unlock()
	if t != nil {
		s.txns.Abort(t)
	}
}

// ReapExpired closes every session idle longer than the configured
// timeout, aborting any in-flight transaction it owns. Intended to run
// periodically from a background goroutine.
func (s *Sessions) ReapExpired() int {
	if s.timeout <= 0 {
		return 0
	}
	now := time.Now()
	var expired []SessionID

	s.mu.Lock()
	for id, sess := range s.sessions {
		sess.mu.Lock()
		idle := now.Sub(sess.lastActivity) > s.timeout
		sess.mu.Unlock()
		if idle {
			expired = append(expired, id)
		}
	}
	s.mu.Unlock()

	for _, id := range expired {
		s.Close(id)
	}
	return len(expired)
}

// Count reports the number of open sessions.
func (s *Sessions) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
