package session

import (
	"strings"
	"time"
)

// Stats is the snapshot returned by Manager.Stats: session-table and
// plan-cache counters a monitoring endpoint can poll.
type Stats struct {
	ActiveSessions     int   `json:"active_sessions"`
	SessionsWithOpenTx int   `json:"sessions_with_open_tx"`
	PlanCacheHits      int64 `json:"plan_cache_hits"`
	PlanCacheMisses    int64 `json:"plan_cache_misses"`
	PlanCacheSize      int   `json:"plan_cache_size"`
}

// Stats reports current session-table and plan-cache counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	active := len(m.sessions)
	withTx := 0
	for _, s := range m.sessions {
		if s.activeTxn != nil {
			withTx++
		}
	}
	m.mu.Unlock()

	hits, misses, size := m.exec.CacheStats()
	return Stats{
		ActiveSessions:     active,
		SessionsWithOpenTx: withTx,
		PlanCacheHits:      hits,
		PlanCacheMisses:    misses,
		PlanCacheSize:      size,
	}
}

// Health is the liveness/readiness payload a health-check endpoint
// returns: whether the engine can be reached and how long the check
// took, rather than a bare boolean.
type Health struct {
	Healthy   bool          `json:"healthy"`
	CheckedAt time.Time     `json:"checked_at"`
	Latency   time.Duration `json:"latency"`
	Error     string        `json:"error,omitempty"`
}

// Health probes the storage engine by looking up a node that cannot
// exist (ID 0 is never allocated) — a cheap round trip through the
// page store that surfaces a wedged or corrupt engine without touching
// live data.
func (m *Manager) Health() Health {
	start := time.Now()
	_, err := m.engine.GetNode(0)
	latency := time.Since(start)

	if err != nil && !isNotFound(err) {
		return Health{Healthy: false, CheckedAt: start, Latency: latency, Error: err.Error()}
	}
	return Health{Healthy: true, CheckedAt: start, Latency: latency}
}

// isNotFound reports whether err is GetNode's "node not found"/"node
// header tombstoned" case rather than a genuine storage failure. Both
// are surfaced as plain errkind.Runtime errors with no sentinel value,
// so the health probe matches on message text — acceptable here since
// it never crosses a package boundary as a real dispatch decision.
func isNotFound(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "node not found") || strings.Contains(msg, "tombstoned")
}
