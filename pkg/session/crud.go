package session

import (
	"context"
	"time"

	"github.com/latticedb/graphcore/pkg/catalog"
	"github.com/latticedb/graphcore/pkg/record"
	"github.com/latticedb/graphcore/pkg/txn"
)

// CreateNode creates a node with the given labels and properties inside
// sessionID's active transaction if one is open, or its own implicit
// write transaction otherwise. Label/property key names are interned
// against the shared catalog on first use.
func (m *Manager) CreateNode(sessionID string, labels []string, props map[string]record.Value) (record.NodeID, error) {
	s := m.touch(sessionID)

	labelIDs, err := m.internLabels(labels)
	if err != nil {
		return 0, err
	}
	propIDs, err := m.internProps(props)
	if err != nil {
		return 0, err
	}

	if s.activeTxn != nil {
		return m.engine.CreateNode(s.activeTxn.ID, s.activeTxn.Pending, labelIDs, propIDs)
	}
	return runImplicitWrite(m, func(t *txn.Txn) (record.NodeID, error) {
		return m.engine.CreateNode(t.ID, t.Pending, labelIDs, propIDs)
	})
}

// GetNode fetches a node by ID. Reads never need a transaction of their
// own beyond what GetNode's MVCC snapshot semantics already provide.
func (m *Manager) GetNode(sessionID string, id record.NodeID) (*record.Node, error) {
	m.touch(sessionID)
	return m.engine.GetNode(id)
}

// UpdateNode applies property changes to an existing node.
func (m *Manager) UpdateNode(sessionID string, id record.NodeID, changes map[string]record.Value) error {
	s := m.touch(sessionID)
	propIDs, err := m.internProps(changes)
	if err != nil {
		return err
	}
	if s.activeTxn != nil {
		return m.engine.UpdateNodeProperties(s.activeTxn.ID, s.activeTxn.Pending, id, propIDs)
	}
	_, err = runImplicitWrite(m, func(t *txn.Txn) (struct{}, error) {
		return struct{}{}, m.engine.UpdateNodeProperties(t.ID, t.Pending, id, propIDs)
	})
	return err
}

// DeleteNode removes a node, detaching its relationships first when
// detach is true; otherwise a node with remaining adjacency fails with
// errkind.DeleteNodeWithRelationships.
func (m *Manager) DeleteNode(sessionID string, id record.NodeID, labels []string, detach bool) error {
	s := m.touch(sessionID)
	labelIDs, err := m.internLabels(labels)
	if err != nil {
		return err
	}
	if s.activeTxn != nil {
		return m.engine.DeleteNode(s.activeTxn.ID, s.activeTxn.Pending, id, labelIDs, detach)
	}
	_, err = runImplicitWrite(m, func(t *txn.Txn) (struct{}, error) {
		return struct{}{}, m.engine.DeleteNode(t.ID, t.Pending, id, labelIDs, detach)
	})
	return err
}

// CreateRelationship creates a relationship of the given type between
// start and end.
func (m *Manager) CreateRelationship(sessionID string, relType string, start, end record.NodeID, props map[string]record.Value) (record.RelID, error) {
	s := m.touch(sessionID)
	typeID, err := m.engine.Catalog().InternRelType(relType)
	if err != nil {
		return 0, err
	}
	propIDs, err := m.internProps(props)
	if err != nil {
		return 0, err
	}
	if s.activeTxn != nil {
		return m.engine.CreateRelationship(s.activeTxn.ID, s.activeTxn.Pending, typeID, start, end, propIDs)
	}
	return runImplicitWrite(m, func(t *txn.Txn) (record.RelID, error) {
		return m.engine.CreateRelationship(t.ID, t.Pending, typeID, start, end, propIDs)
	})
}

// touch returns sessionID's session, bumping its idle timer. CRUD
// convenience methods are meant for programmatic callers that manage
// their own session IDs, so lookup never fails — it creates on demand.
func (m *Manager) touch(sessionID string) *Session {
	s := m.getOrCreate(sessionID)
	m.mu.Lock()
	s.lastActivity = time.Now()
	m.mu.Unlock()
	return s
}

func (m *Manager) internLabels(names []string) ([]catalog.ID, error) {
	ids := make([]catalog.ID, len(names))
	for i, name := range names {
		id, err := m.engine.Catalog().InternLabel(name)
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}
	return ids, nil
}

func (m *Manager) internProps(props map[string]record.Value) (map[catalog.ID]record.Value, error) {
	out := make(map[catalog.ID]record.Value, len(props))
	for k, v := range props {
		id, err := m.engine.Catalog().InternPropertyKey(k)
		if err != nil {
			return nil, err
		}
		out[id] = v
	}
	return out, nil
}

// runImplicitWrite runs fn inside a fresh read-write transaction,
// committing on success and aborting on failure — the non-Cypher
// analogue of Execute's implicit single-statement transaction path.
func runImplicitWrite[T any](m *Manager, fn func(t *txn.Txn) (T, error)) (T, error) {
	t := m.txns.Begin(txn.ReadWrite)
	v, err := fn(t)
	if err != nil {
		m.txns.Abort(t)
		var zero T
		return zero, err
	}
	if commitErr := m.txns.Commit(context.Background(), t); commitErr != nil {
		var zero T
		return zero, commitErr
	}
	m.engine.EndTxn(t.ID)
	return v, nil
}
