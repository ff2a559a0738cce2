package replication

import (
	"bufio"
	"context"
	"net"
	"time"

	"github.com/latticedb/graphcore/pkg/errkind"
)

// ApplyFunc hands one streamed WAL entry to the replica's local storage
// engine. Returning an error aborts the current connection, triggering
// reconnect.
type ApplyFunc func(epoch uint64, offset uint64, entry []byte) error

// Replica connects to a master and runs the Connect/Hello/[Snapshot]/
// Streaming state machine spec §4.10 describes, reconnecting with
// exponential backoff on disconnect.
type Replica struct {
	ID            string
	MasterAddr    string
	DataDir       string
	Apply         ApplyFunc
	LastWalOffset func() uint64

	lastEpoch      uint64
	reconnectCount int
}

// NewReplica creates a replica identified by id, dialing masterAddr,
// applying streamed entries via apply, and persisting snapshots under
// dataDir. lastWalOffset reports the replica's own last-applied offset
// at connect time (for Hello).
func NewReplica(id, masterAddr, dataDir string, apply ApplyFunc, lastWalOffset func() uint64) *Replica {
	return &Replica{ID: id, MasterAddr: masterAddr, DataDir: dataDir, Apply: apply, LastWalOffset: lastWalOffset}
}

// Run connects and streams until ctx is cancelled, reconnecting with
// exponential backoff (capped at maxBackoff) whenever the connection
// drops. An epoch regression is fatal: Run returns
// errReplicaEpochRegression without reconnecting.
func (r *Replica) Run(ctx context.Context, maxBackoff time.Duration) error {
	backoff := 100 * time.Millisecond
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := r.runOnce(ctx)
		if err == errReplicaEpochRegression {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		r.reconnectCount++
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

var errReplicaEpochRegression = errkind.New(errkind.ReplicationEpochRegression, "replication: master epoch lower than last observed")

func (r *Replica) runOnce(ctx context.Context) error {
	conn, err := net.Dial("tcp", r.MasterAddr)
	if err != nil {
		return err
	}
	defer conn.Close()

	reader := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)

	if err := WriteMessage(w, TypeHello, HelloPayload{
		ReplicaID: r.ID, LastWalOffset: r.LastWalOffset(), ProtocolVersion: ProtocolVersion,
	}); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return err
	}

	frame, err := ReadFrame(reader)
	if err != nil {
		return err
	}
	if frame.Type == TypeError {
		var e ErrorPayload
		Decode(frame.Payload, &e)
		return errkind.New(errkind.ReplicationProtocol, "replication: master rejected hello: "+e.Message)
	}
	if frame.Type != TypeWelcome {
		return errkind.New(errkind.ReplicationProtocol, "replication: expected Welcome")
	}
	var welcome WelcomePayload
	if err := Decode(frame.Payload, &welcome); err != nil {
		return err
	}

	if welcome.RequiresFullSync {
		if err := r.receiveSnapshot(reader, w); err != nil {
			return err
		}
	}

	return r.stream(ctx, reader, w)
}

// receiveSnapshot reads SnapshotMeta, every chunk (verifying per-chunk
// CRC and accumulating the total checksum), then SnapshotComplete, and
// applies the result atomically (spec §4.10).
func (r *Replica) receiveSnapshot(reader *bufio.Reader, w *bufio.Writer) error {
	frame, err := ReadFrame(reader)
	if err != nil {
		return err
	}
	if frame.Type != TypeSnapshotMeta {
		return errkind.New(errkind.ReplicationProtocol, "replication: expected SnapshotMeta")
	}
	var meta SnapshotMetaPayload
	if err := Decode(frame.Payload, &meta); err != nil {
		return err
	}

	chunks := make([][]byte, meta.ChunkCount)
	for i := 0; i < meta.ChunkCount; i++ {
		frame, err := ReadFrame(reader)
		if err != nil {
			return err
		}
		if frame.Type != TypeSnapshotChunk {
			return errkind.New(errkind.ReplicationProtocol, "replication: expected SnapshotChunk")
		}
		var chunk SnapshotChunkPayload
		if err := Decode(frame.Payload, &chunk); err != nil {
			return err
		}
		if chunkChecksum(chunk.Data) != chunk.Checksum {
			return errkind.New(errkind.ReplicationProtocol, "replication: snapshot chunk CRC mismatch")
		}
		chunks[chunk.ChunkIndex] = chunk.Data
	}

	if snapshotChecksum(chunks) != meta.Checksum {
		return errkind.New(errkind.ReplicationProtocol, "replication: snapshot total checksum mismatch")
	}

	frame, err = ReadFrame(reader)
	if err != nil {
		return err
	}
	if frame.Type != TypeSnapshotComplete {
		return errkind.New(errkind.ReplicationProtocol, "replication: expected SnapshotComplete")
	}
	var complete SnapshotCompletePayload
	if err := Decode(frame.Payload, &complete); err != nil {
		return err
	}
	if !complete.Success {
		return errkind.New(errkind.ReplicationProtocol, "replication: master reported snapshot failure")
	}

	if err := ApplySnapshotAtomic(r.DataDir, chunks); err != nil {
		return err
	}
	r.lastEpoch = 0
	return nil
}

// stream runs the Streaming phase: receive WalEntry, validate offset
// and epoch, apply, ack; answer Ping with Pong. A gap in offsets
// requests a fresh snapshot; an epoch regression is fatal (spec §4.10).
func (r *Replica) stream(ctx context.Context, reader *bufio.Reader, w *bufio.Writer) error {
	lastApplied := r.LastWalOffset()
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		frame, err := ReadFrame(reader)
		if err != nil {
			return err
		}

		switch frame.Type {
		case TypePing:
			var ping PingPayload
			Decode(frame.Payload, &ping)
			if err := WriteMessage(w, TypePong, PongPayload{TimestampUnixNano: time.Now().UnixNano()}); err != nil {
				return err
			}
			if err := w.Flush(); err != nil {
				return err
			}

		case TypeWalEntry:
			var entry WalEntryPayload
			if err := Decode(frame.Payload, &entry); err != nil {
				return err
			}

			if entry.Epoch < r.lastEpoch {
				return errReplicaEpochRegression
			}
			r.lastEpoch = entry.Epoch

			if entry.Offset != lastApplied+1 {
				if err := WriteMessage(w, TypeRequestSnapshot, RequestSnapshotPayload{ReplicaID: r.ID}); err != nil {
					return err
				}
				if err := w.Flush(); err != nil {
					return err
				}
				if err := r.receiveSnapshot(reader, w); err != nil {
					return err
				}
				lastApplied = r.LastWalOffset()
				continue
			}

			success := true
			if err := r.Apply(entry.Epoch, entry.Offset, entry.Entry); err != nil {
				success = false
			} else {
				lastApplied = entry.Offset
			}

			if err := WriteMessage(w, TypeWalAck, WalAckPayload{Offset: entry.Offset, Success: success}); err != nil {
				return err
			}
			if err := w.Flush(); err != nil {
				return err
			}

		case TypeError:
			var e ErrorPayload
			Decode(frame.Payload, &e)
			return errkind.New(errkind.ReplicationProtocol, "replication: master error: "+e.Message)
		}
	}
}

// ReconnectCount reports how many times this replica has reconnected
// since Run started, for observability.
func (r *Replica) ReconnectCount() int { return r.reconnectCount }

// Promote turns this replica into a master at epoch+1, per spec
// §4.10's closing paragraph: a promoted replica increments the epoch
// and starts its own master state machine. Split-brain prevention
// (ensuring the old master is actually gone before promoting) is an
// operator responsibility, not something this package fences.
func (r *Replica) Promote(heartbeatInterval time.Duration, snapshots SnapshotSource) *Master {
	return NewMaster(r.ID, r.lastEpoch+1, heartbeatInterval, snapshots)
}
