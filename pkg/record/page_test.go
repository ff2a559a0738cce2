package record

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestPageFile(t *testing.T) *PageFile {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pages.db")
	pf, err := OpenPageFile(path, 1)
	require.NoError(t, err)
	t.Cleanup(func() { pf.Close() })
	return pf
}

func TestAllocateAndReadRoundTrip(t *testing.T) {
	pf := openTestPageFile(t)
	ref, err := pf.Allocate([]byte("hello"))
	require.NoError(t, err)

	got, ok := pf.Read(ref)
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), got)
}

func TestReadMissingSlotReturnsFalse(t *testing.T) {
	pf := openTestPageFile(t)
	_, ok := pf.Read(SlotRef{Page: 0, Slot: 5})
	assert.False(t, ok)

	_, ok = pf.Read(SlotRef{Page: 99, Slot: 0})
	assert.False(t, ok)
}

func TestDeleteTombstonesSlot(t *testing.T) {
	pf := openTestPageFile(t)
	ref, err := pf.Allocate([]byte("gone"))
	require.NoError(t, err)

	require.NoError(t, pf.Delete(ref))
	_, ok := pf.Read(ref)
	assert.False(t, ok)
}

func TestDeleteIsIdempotent(t *testing.T) {
	pf := openTestPageFile(t)
	ref, err := pf.Allocate([]byte("x"))
	require.NoError(t, err)
	require.NoError(t, pf.Delete(ref))
	require.NoError(t, pf.Delete(ref))

	// Deleting a slot that never existed is also a no-op, not an error.
	require.NoError(t, pf.Delete(SlotRef{Page: 0, Slot: 9999}))
}

func TestApplyMutatesInPlaceWithinCapacity(t *testing.T) {
	pf := openTestPageFile(t)
	ref, err := pf.Allocate([]byte("0123456789"))
	require.NoError(t, err)

	require.NoError(t, pf.Apply([]Mutation{{Ref: ref, Payload: []byte("abc")}}))
	got, ok := pf.Read(ref)
	require.True(t, ok)
	assert.Equal(t, []byte("abc"), got)
}

func TestApplyRejectsOversizedPayload(t *testing.T) {
	pf := openTestPageFile(t)
	ref, err := pf.Allocate([]byte("short"))
	require.NoError(t, err)

	err = pf.Apply([]Mutation{{Ref: ref, Payload: []byte("this payload is far too long for the slot")}})
	assert.Error(t, err)
}

func TestApplyNilPayloadDeletes(t *testing.T) {
	pf := openTestPageFile(t)
	ref, err := pf.Allocate([]byte("x"))
	require.NoError(t, err)

	require.NoError(t, pf.Apply([]Mutation{{Ref: ref, Payload: nil}}))
	_, ok := pf.Read(ref)
	assert.False(t, ok)
}

func TestApplyUnknownSlotErrors(t *testing.T) {
	pf := openTestPageFile(t)
	err := pf.Apply([]Mutation{{Ref: SlotRef{Page: 0, Slot: 42}, Payload: []byte("x")}})
	assert.Error(t, err)
}

func TestAllocateGrowsFileWhenFull(t *testing.T) {
	pf := openTestPageFile(t)
	payload := make([]byte, PageSize/4)
	var refs []SlotRef
	for i := 0; i < 8; i++ {
		ref, err := pf.Allocate(payload)
		require.NoError(t, err)
		refs = append(refs, ref)
	}

	for _, ref := range refs {
		got, ok := pf.Read(ref)
		require.True(t, ok)
		assert.Len(t, got, len(payload))
	}
}

func TestFlushAndReopenPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pages.db")
	pf, err := OpenPageFile(path, 1)
	require.NoError(t, err)

	ref, err := pf.Allocate([]byte("durable"))
	require.NoError(t, err)
	require.NoError(t, pf.Flush())
	require.NoError(t, pf.Close())

	reopened, err := OpenPageFile(path, 1)
	require.NoError(t, err)
	defer reopened.Close()

	got, ok := reopened.Read(ref)
	require.True(t, ok)
	assert.Equal(t, []byte("durable"), got)
}

func TestCloseIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pages.db")
	pf, err := OpenPageFile(path, 1)
	require.NoError(t, err)
	require.NoError(t, pf.Close())
	require.NoError(t, pf.Close())
}
