package txn

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticedb/graphcore/pkg/errkind"
)

func TestOpenCreatesUniqueSessions(t *testing.T) {
	sessions := NewSessions(newTestManager(nil, nil), time.Hour)
	id1 := sessions.Open()
	id2 := sessions.Open()
	assert.NotEqual(t, id1, id2)
	assert.Equal(t, 2, sessions.Count())
}

func TestTouchUnknownSessionErrors(t *testing.T) {
	sessions := NewSessions(newTestManager(nil, nil), time.Hour)
	_, err := sessions.Touch(SessionID("ghost"))
	assert.Error(t, err)
	kind, ok := errkind.Of(err)
	assert.True(t, ok)
	assert.Equal(t, errkind.UnknownSession, kind)
}

func TestTouchExpiredSessionErrors(t *testing.T) {
	sessions := NewSessions(newTestManager(nil, nil), 10*time.Millisecond)
	id := sessions.Open()
	time.Sleep(20 * time.Millisecond)

	_, err := sessions.Touch(id)
	assert.Error(t, err)
	kind, ok := errkind.Of(err)
	assert.True(t, ok)
	assert.Equal(t, errkind.SessionExpired, kind)
}

func TestBeginOnRejectsSecondConcurrentTransaction(t *testing.T) {
	txns := newTestManager(nil, nil)
	sessions := NewSessions(txns, time.Hour)
	id := sessions.Open()
	sess, err := sessions.Touch(id)
	require.NoError(t, err)

	_, err = sessions.BeginOn(sess, ReadWrite)
	require.NoError(t, err)

	_, err = sessions.BeginOn(sess, ReadWrite)
	assert.Error(t, err)
}

func TestEndOnClearsActiveTransaction(t *testing.T) {
	txns := newTestManager(nil, nil)
	sessions := NewSessions(txns, time.Hour)
	id := sessions.Open()
	sess, err := sessions.Touch(id)
	require.NoError(t, err)

	tx, err := sessions.BeginOn(sess, ReadWrite)
	require.NoError(t, err)
	require.NoError(t, txns.Commit(context.Background(), tx))
	sessions.EndOn(sess)

	_, ok := sessions.ActiveTxn(sess)
	assert.False(t, ok)

	_, err = sessions.BeginOn(sess, ReadWrite)
	assert.NoError(t, err)
}

func TestCloseAbortsActiveTransaction(t *testing.T) {
	var aborted bool
	txns := newTestManager(nil, func(t *Txn) { aborted = true })
	sessions := NewSessions(txns, time.Hour)
	id := sessions.Open()
	sess, err := sessions.Touch(id)
	require.NoError(t, err)

	_, err = sessions.BeginOn(sess, ReadWrite)
	require.NoError(t, err)

	sessions.Close(id)
	assert.True(t, aborted)
	assert.Equal(t, 0, sessions.Count())
}

func TestCloseUnknownSessionIsNoOp(t *testing.T) {
	sessions := NewSessions(newTestManager(nil, nil), time.Hour)
	sessions.Close(SessionID("ghost")) // must not panic
}

func TestReapExpiredClosesOnlyIdleSessions(t *testing.T) {
	sessions := NewSessions(newTestManager(nil, nil), 10*time.Millisecond)
	stale := sessions.Open()
	time.Sleep(20 * time.Millisecond)
	fresh := sessions.Open()

	n := sessions.ReapExpired()
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, sessions.Count())

	_, err := sessions.Touch(fresh)
	assert.NoError(t, err)
	_, err = sessions.Touch(stale)
	assert.Error(t, err)
}

func TestReapExpiredNoOpWhenTimeoutDisabled(t *testing.T) {
	sessions := NewSessions(newTestManager(nil, nil), 0)
	sessions.Open()
	assert.Equal(t, 0, sessions.ReapExpired())
}

func TestActiveTxnReflectsNoneInitially(t *testing.T) {
	sessions := NewSessions(newTestManager(nil, nil), time.Hour)
	id := sessions.Open()
	sess, err := sessions.Touch(id)
	require.NoError(t, err)

	_, ok := sessions.ActiveTxn(sess)
	assert.False(t, ok)
}
