package session

import "github.com/latticedb/graphcore/pkg/cypher"

// Manager implements cypher.ProcHost: it is the only place that knows
// about every live session, so DBMS procedures (dbms.listConnections,
// dbms.killQuery, ...) resolve against it rather than the executor.
var _ cypher.ProcHost = (*Manager)(nil)

// CurrentUser returns the fixed service principal "graphcore" for every
// session; there is no authentication and no per-session user.
func (m *Manager) CurrentUser() string { return "graphcore" }

// ConfigEntries surfaces a stable snapshot of the database's effective
// configuration for dbms.listConfig.
func (m *Manager) ConfigEntries() map[string]string {
	return map[string]string{
		"session_timeout": m.timeout.String(),
	}
}

// Connections lists every session currently tracked, standing in for
// dbms.listConnections' network-connection view since this layer is
// transport-agnostic.
func (m *Manager) Connections() []cypher.ConnectionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	conns := make([]cypher.ConnectionInfo, 0, len(m.sessions))
	for _, s := range m.sessions {
		conns = append(conns, cypher.ConnectionInfo{
			ConnectionID: s.ID,
			Username:     s.Principal,
		})
	}
	return conns
}

// ClearQueryCaches empties the executor's plan cache.
func (m *Manager) ClearQueryCaches() { m.exec.ClearQueryCaches() }
