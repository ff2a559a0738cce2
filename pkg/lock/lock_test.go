package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticedb/graphcore/pkg/errkind"
)

func TestAcquireReadLocksAreShared(t *testing.T) {
	m := NewManager(time.Second, 1000)
	r := Resource{Kind: KindNode, ID: 1}

	require.NoError(t, m.Acquire(context.Background(), 1, r, Read))
	require.NoError(t, m.Acquire(context.Background(), 2, r, Read))

	stats := m.Stats()
	assert.Equal(t, 2, stats.ReadLocks)
}

func TestWriteLockExcludesReaders(t *testing.T) {
	m := NewManager(50*time.Millisecond, 1000)
	r := Resource{Kind: KindNode, ID: 1}

	require.NoError(t, m.Acquire(context.Background(), 1, r, Write))

	err := m.Acquire(context.Background(), 2, r, Read)
	assert.Error(t, err)
	kind, ok := errkind.Of(err)
	assert.True(t, ok)
	assert.Equal(t, errkind.LockTimeout, kind)
}

func TestReleaseWakesWaiter(t *testing.T) {
	m := NewManager(2*time.Second, 1000)
	r := Resource{Kind: KindNode, ID: 1}

	require.NoError(t, m.Acquire(context.Background(), 1, r, Write))

	done := make(chan error, 1)
	go func() {
		done <- m.Acquire(context.Background(), 2, r, Write)
	}()

	time.Sleep(20 * time.Millisecond)
	m.Release(1, r)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("waiter was never woken after release")
	}
}

func TestSameTxnCanReacquireItsOwnWriteLock(t *testing.T) {
	m := NewManager(50*time.Millisecond, 1000)
	r := Resource{Kind: KindNode, ID: 1}
	require.NoError(t, m.Acquire(context.Background(), 1, r, Write))
	require.NoError(t, m.Acquire(context.Background(), 1, r, Read))
	require.NoError(t, m.Acquire(context.Background(), 1, r, Write))
}

func TestAcquireAllIsAllOrNothing(t *testing.T) {
	m := NewManager(50*time.Millisecond, 1000)
	r1 := Resource{Kind: KindNode, ID: 1}
	r2 := Resource{Kind: KindNode, ID: 2}

	require.NoError(t, m.Acquire(context.Background(), 99, r2, Write))

	err := m.AcquireAll(context.Background(), 1, []struct {
		Resource Resource
		Mode     Mode
	}{{r1, Write}, {r2, Write}})
	assert.Error(t, err)

	// r1 should have been released again since the whole batch failed.
	require.NoError(t, m.Acquire(context.Background(), 2, r1, Write))
}

func TestReleaseAllClearsEscalationState(t *testing.T) {
	m := NewManager(time.Second, 2)
	r1 := Resource{Kind: KindNode, ID: 1}
	r2 := Resource{Kind: KindNode, ID: 2}
	r3 := Resource{Kind: KindNode, ID: 3}

	require.NoError(t, m.Acquire(context.Background(), 1, r1, Read))
	require.NoError(t, m.Acquire(context.Background(), 1, r2, Read))
	require.NoError(t, m.Acquire(context.Background(), 1, r3, Read))
	assert.True(t, m.EscalationHint(1, KindNode))

	m.ReleaseAll(1, []Resource{r1, r2, r3})
	assert.False(t, m.EscalationHint(1, KindNode))
}

func TestAcquireRespectsContextCancellation(t *testing.T) {
	m := NewManager(time.Second, 1000)
	r := Resource{Kind: KindNode, ID: 1}
	require.NoError(t, m.Acquire(context.Background(), 1, r, Write))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := m.Acquire(ctx, 2, r, Write)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStatsCountsAcrossResources(t *testing.T) {
	m := NewManager(time.Second, 1000)
	require.NoError(t, m.Acquire(context.Background(), 1, Resource{Kind: KindNode, ID: 1}, Read))
	require.NoError(t, m.Acquire(context.Background(), 2, Resource{Kind: KindRelationship, ID: 1}, Write))

	stats := m.Stats()
	assert.Equal(t, 2, stats.TotalResources)
	assert.Equal(t, 2, stats.TotalHolders)
	assert.Equal(t, 1, stats.ReadLocks)
	assert.Equal(t, 1, stats.WriteLocks)
}

func TestConcurrentReadersDoNotDeadlock(t *testing.T) {
	m := NewManager(time.Second, 1000)
	r := Resource{Kind: KindNode, ID: 1}

	var wg sync.WaitGroup
	for i := TxnID(1); i <= 10; i++ {
		wg.Add(1)
		go func(id TxnID) {
			defer wg.Done()
			assert.NoError(t, m.Acquire(context.Background(), id, r, Read))
		}(i)
	}
	wg.Wait()

	stats := m.Stats()
	assert.Equal(t, 10, stats.ReadLocks)
}
