// Package replication implements leader-follower replication (C10, spec
// §4.10): a framed TCP wire protocol, master and replica state
// machines, snapshot bootstrap, and sync-ack quorum commit.
package replication

import (
	"encoding/binary"
	"encoding/json"
	"hash/crc32"
	"io"

	"github.com/latticedb/graphcore/pkg/errkind"
)

// MessageType identifies a framed message's payload shape.
type MessageType byte

const (
	TypeHello MessageType = iota + 1
	TypeWelcome
	TypePing
	TypePong
	TypeWalEntry
	TypeWalAck
	TypeRequestSnapshot
	TypeSnapshotMeta
	TypeSnapshotChunk
	TypeSnapshotComplete
	TypeError
)

// ProtocolVersion is bumped whenever a payload shape changes
// incompatibly; Hello's version must match exactly.
const ProtocolVersion = 1

// Frame is one wire message: `[type:1][length:4][payload:N][crc32:4]`
// (spec §4.10), with CRC covering type, length, and payload.
type Frame struct {
	Type    MessageType
	Payload []byte
}

// WriteFrame encodes and writes one frame to w.
func WriteFrame(w io.Writer, f Frame) error {
	header := make([]byte, 5)
	header[0] = byte(f.Type)
	binary.BigEndian.PutUint32(header[1:], uint32(len(f.Payload)))

	sum := crc32.NewIEEE()
	sum.Write(header)
	sum.Write(f.Payload)

	buf := make([]byte, 0, len(header)+len(f.Payload)+4)
	buf = append(buf, header...)
	buf = append(buf, f.Payload...)
	var crcBytes [4]byte
	binary.BigEndian.PutUint32(crcBytes[:], sum.Sum32())
	buf = append(buf, crcBytes[:]...)

	_, err := w.Write(buf)
	return err
}

// ReadFrame reads and validates one frame from r, returning
// errkind.ReplicationProtocol if the CRC does not match.
func ReadFrame(r io.Reader) (Frame, error) {
	var header [5]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Frame{}, err
	}
	length := binary.BigEndian.Uint32(header[1:])

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Frame{}, err
	}

	var crcBytes [4]byte
	if _, err := io.ReadFull(r, crcBytes[:]); err != nil {
		return Frame{}, err
	}

	sum := crc32.NewIEEE()
	sum.Write(header[:])
	sum.Write(payload)
	if sum.Sum32() != binary.BigEndian.Uint32(crcBytes[:]) {
		return Frame{}, errkind.New(errkind.ReplicationProtocol, "replication: frame CRC mismatch")
	}

	return Frame{Type: MessageType(header[0]), Payload: payload}, nil
}

// Payload shapes. Canonical JSON encoding keeps the protocol versioned
// and debuggable; ProtocolVersion (not the payload encoding) is what
// Hello negotiates compatibility on.

type HelloPayload struct {
	ReplicaID       string `json:"replica_id"`
	LastWalOffset   uint64 `json:"last_wal_offset"`
	ProtocolVersion int    `json:"protocol_version"`
}

type WelcomePayload struct {
	MasterID        string `json:"master_id"`
	CurrentOffset   uint64 `json:"current_offset"`
	RequiresFullSync bool  `json:"requires_full_sync"`
}

type PingPayload struct {
	TimestampUnixNano int64 `json:"timestamp_unix_nano"`
}

type PongPayload struct {
	TimestampUnixNano int64 `json:"timestamp_unix_nano"`
}

type WalEntryPayload struct {
	Offset uint64 `json:"offset"`
	Epoch  uint64 `json:"epoch"`
	Entry  []byte `json:"entry"`
}

type WalAckPayload struct {
	Offset  uint64 `json:"offset"`
	Success bool   `json:"success"`
}

type RequestSnapshotPayload struct {
	ReplicaID string `json:"replica_id"`
}

type SnapshotMetaPayload struct {
	SnapshotID string `json:"snapshot_id"`
	TotalSize  int64  `json:"total_size"`
	ChunkCount int    `json:"chunk_count"`
	Checksum   uint32 `json:"checksum"`
	WalOffset  uint64 `json:"wal_offset"`
}

type SnapshotChunkPayload struct {
	SnapshotID string `json:"snapshot_id"`
	ChunkIndex int    `json:"chunk_index"`
	Data       []byte `json:"data"`
	Checksum   uint32 `json:"checksum"`
}

type SnapshotCompletePayload struct {
	SnapshotID string `json:"snapshot_id"`
	Success    bool   `json:"success"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Encode marshals v as a frame's payload.
func Encode(v any) ([]byte, error) { return json.Marshal(v) }

// Decode unmarshals a frame's payload into v.
func Decode(payload []byte, v any) error { return json.Unmarshal(payload, v) }

// WriteMessage encodes v and writes it as a frame of the given type.
func WriteMessage(w io.Writer, t MessageType, v any) error {
	payload, err := Encode(v)
	if err != nil {
		return err
	}
	return WriteFrame(w, Frame{Type: t, Payload: payload})
}
