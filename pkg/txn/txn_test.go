package txn

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticedb/graphcore/pkg/errkind"
	"github.com/latticedb/graphcore/pkg/index"
	"github.com/latticedb/graphcore/pkg/lock"
)

func newTestManager(onCommit func(*Txn) error, onAbort func(*Txn)) *Manager {
	return NewManager(lock.NewManager(time.Second, 1000), onCommit, onAbort)
}

func TestBeginAssignsDistinctIDs(t *testing.T) {
	m := newTestManager(nil, nil)
	t1 := m.Begin(ReadWrite)
	t2 := m.Begin(ReadWrite)
	assert.NotEqual(t, t1.ID, t2.ID)
	assert.Equal(t, 2, m.ActiveCount())
}

func TestGetReturnsActiveTransaction(t *testing.T) {
	m := newTestManager(nil, nil)
	t1 := m.Begin(ReadOnly)
	found, ok := m.Get(t1.ID)
	assert.True(t, ok)
	assert.Same(t, t1, found)
}

func TestCommitAppliesPendingAndReleasesLocks(t *testing.T) {
	m := newTestManager(nil, nil)
	tx := m.Begin(ReadWrite)

	r := lock.Resource{Kind: lock.KindNode, ID: 1}
	require.NoError(t, m.locks.Acquire(context.Background(), lock.TxnID(tx.ID), r, lock.Write))
	tx.TrackResource(r)

	var applied bool
	tx.Pending.Stage(index.Update{Apply: func() { applied = true }})

	require.NoError(t, m.Commit(context.Background(), tx))
	assert.True(t, applied)
	assert.Equal(t, StatusCommitted, tx.Status())
	assert.Equal(t, 0, m.ActiveCount())

	// Lock was released; another transaction can now acquire it.
	require.NoError(t, m.locks.Acquire(context.Background(), 99, r, lock.Write))
}

func TestCommitFailsIfNotActive(t *testing.T) {
	m := newTestManager(nil, nil)
	tx := m.Begin(ReadWrite)
	require.NoError(t, m.Commit(context.Background(), tx))

	err := m.Commit(context.Background(), tx)
	assert.Error(t, err)
	kind, ok := errkind.Of(err)
	assert.True(t, ok)
	assert.Equal(t, errkind.TransactionAborted, kind)
}

func TestCommitRunsOnCommitHookBeforeApplyingPending(t *testing.T) {
	var hookRan, applied, appliedBeforeHook bool
	m := newTestManager(func(t *Txn) error {
		hookRan = true
		appliedBeforeHook = applied
		return nil
	}, nil)
	tx := m.Begin(ReadWrite)
	tx.Pending.Stage(index.Update{Apply: func() { applied = true }})
	require.NoError(t, m.Commit(context.Background(), tx))
	assert.True(t, hookRan)
	assert.False(t, appliedBeforeHook, "pending updates must not be applied before the commit hook runs")
	assert.True(t, applied)
}

func TestCommitAbortsWhenOnCommitFails(t *testing.T) {
	m := newTestManager(func(t *Txn) error {
		return errkind.New(errkind.Runtime, "boom")
	}, nil)
	tx := m.Begin(ReadWrite)

	var applied bool
	tx.Pending.Stage(index.Update{Apply: func() { applied = true }})

	err := m.Commit(context.Background(), tx)
	assert.Error(t, err)
	assert.False(t, applied, "pending updates must not apply when the commit hook fails")
}

func TestAbortDiscardsPendingAndReleasesLocks(t *testing.T) {
	m := newTestManager(nil, nil)
	tx := m.Begin(ReadWrite)

	r := lock.Resource{Kind: lock.KindNode, ID: 1}
	require.NoError(t, m.locks.Acquire(context.Background(), lock.TxnID(tx.ID), r, lock.Write))
	tx.TrackResource(r)

	var applied bool
	tx.Pending.Stage(index.Update{Apply: func() { applied = true }})

	m.Abort(tx)
	assert.False(t, applied)
	assert.Equal(t, StatusAborted, tx.Status())
	require.NoError(t, m.locks.Acquire(context.Background(), 99, r, lock.Write))
}

func TestAbortIsNoOpIfAlreadyCommitted(t *testing.T) {
	m := newTestManager(nil, nil)
	tx := m.Begin(ReadWrite)
	require.NoError(t, m.Commit(context.Background(), tx))
	m.Abort(tx) // must not panic or double-release
	assert.Equal(t, StatusCommitted, tx.Status())
}

func TestAbortRunsOnAbortHook(t *testing.T) {
	var hookRan bool
	m := newTestManager(nil, func(t *Txn) { hookRan = true })
	tx := m.Begin(ReadWrite)
	m.Abort(tx)
	assert.True(t, hookRan)
}
