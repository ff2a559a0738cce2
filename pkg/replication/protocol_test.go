package replication

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticedb/graphcore/pkg/errkind"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, TypeWalEntry, WalEntryPayload{Offset: 42, Epoch: 3, Entry: []byte("row")}))

	frame, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, TypeWalEntry, frame.Type)

	var entry WalEntryPayload
	require.NoError(t, Decode(frame.Payload, &entry))
	assert.Equal(t, uint64(42), entry.Offset)
	assert.Equal(t, uint64(3), entry.Epoch)
	assert.Equal(t, []byte("row"), entry.Entry)
}

func TestReadFrameDetectsCRCMismatch(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, TypePing, PingPayload{TimestampUnixNano: 1}))

	corrupted := buf.Bytes()
	corrupted[len(corrupted)-1] ^= 0xFF

	_, err := ReadFrame(bytes.NewReader(corrupted))
	require.Error(t, err)
	kind, ok := errkind.Of(err)
	require.True(t, ok)
	assert.Equal(t, errkind.ReplicationProtocol, kind)
}

func TestReadFrameShortRead(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader([]byte{1, 0, 0}))
	require.Error(t, err)
}

func TestAllMessageTypesRoundTrip(t *testing.T) {
	cases := []struct {
		typ MessageType
		val any
	}{
		{TypeHello, HelloPayload{ReplicaID: "r1", LastWalOffset: 10, ProtocolVersion: ProtocolVersion}},
		{TypeWelcome, WelcomePayload{MasterID: "m1", CurrentOffset: 10, RequiresFullSync: true}},
		{TypePing, PingPayload{TimestampUnixNano: 1}},
		{TypePong, PongPayload{TimestampUnixNano: 2}},
		{TypeWalAck, WalAckPayload{Offset: 5, Success: true}},
		{TypeRequestSnapshot, RequestSnapshotPayload{ReplicaID: "r1"}},
		{TypeSnapshotMeta, SnapshotMetaPayload{SnapshotID: "s1", TotalSize: 100, ChunkCount: 2, Checksum: 7, WalOffset: 3}},
		{TypeSnapshotChunk, SnapshotChunkPayload{SnapshotID: "s1", ChunkIndex: 0, Data: []byte("x"), Checksum: 1}},
		{TypeSnapshotComplete, SnapshotCompletePayload{SnapshotID: "s1", Success: true}},
		{TypeError, ErrorPayload{Code: "bad", Message: "oops"}},
	}

	for _, c := range cases {
		var buf bytes.Buffer
		require.NoError(t, WriteMessage(&buf, c.typ, c.val))
		frame, err := ReadFrame(&buf)
		require.NoError(t, err)
		assert.Equal(t, c.typ, frame.Type)
	}
}
