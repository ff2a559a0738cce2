package replication

import (
	"bufio"
	"context"
	"net"
	"sync"
	"time"

	"github.com/latticedb/graphcore/pkg/errkind"
)

// ReplicaPhase is where one connected replica sits in the master's per-
// replica state machine (spec §4.10: "Greeting -> Streaming ... or
// SnapshottingFrom(offset) -> Streaming").
type ReplicaPhase int

const (
	PhaseGreeting ReplicaPhase = iota
	PhaseSnapshotting
	PhaseStreaming
	PhaseDisconnected
)

// SnapshotSource produces the bytes a full sync sends to a replica
// requesting one. The master never owns the storage engine directly —
// it asks this interface for a snapshot and streams whatever it
// returns.
type SnapshotSource interface {
	// Snapshot returns a snapshot id, the WAL offset it was taken at,
	// and chunks of its serialized contents. The master computes each
	// chunk's CRC and an overall checksum itself.
	Snapshot(ctx context.Context) (id string, walOffset uint64, chunks [][]byte, err error)
}

// replicaConn tracks one connected replica's state and last-seen
// liveness/ack offsets.
type replicaConn struct {
	id      string
	conn    net.Conn
	w       *bufio.Writer
	mu      sync.Mutex
	phase   ReplicaPhase
	lastAck uint64
	lastPong time.Time
}

func (r *replicaConn) send(t MessageType, v any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := WriteMessage(r.w, t, v); err != nil {
		return err
	}
	return r.w.Flush()
}

// Master is the replication leader: it accepts replica connections,
// runs each one's Greeting/Snapshotting/Streaming state machine, and
// broadcasts committed WAL entries to every replica in Streaming.
type Master struct {
	ID                string
	Epoch             uint64
	HeartbeatInterval time.Duration
	Snapshots         SnapshotSource

	mu       sync.Mutex
	replicas map[string]*replicaConn
	offset   uint64
}

// NewMaster creates a master identified by id, currently at epoch,
// sending heartbeats every heartbeatInterval.
func NewMaster(id string, epoch uint64, heartbeatInterval time.Duration, snapshots SnapshotSource) *Master {
	return &Master{
		ID:                id,
		Epoch:             epoch,
		HeartbeatInterval: heartbeatInterval,
		Snapshots:         snapshots,
		replicas:          make(map[string]*replicaConn),
	}
}

// Serve accepts replica connections on l until ctx is cancelled,
// spawning one goroutine per connection.
func (m *Master) Serve(ctx context.Context, l net.Listener) error {
	go func() {
		<-ctx.Done()
		l.Close()
	}()
	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go m.handleReplica(ctx, conn)
	}
}

func (m *Master) handleReplica(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)
	rc := &replicaConn{conn: conn, w: bufio.NewWriter(conn), phase: PhaseGreeting, lastPong: time.Now()}

	frame, err := ReadFrame(reader)
	if err != nil || frame.Type != TypeHello {
		return
	}
	var hello HelloPayload
	if err := Decode(frame.Payload, &hello); err != nil {
		return
	}
	if hello.ProtocolVersion != ProtocolVersion {
		WriteMessage(rc.w, TypeError, ErrorPayload{Code: "protocol_version", Message: "protocol version mismatch"})
		rc.w.Flush()
		return
	}
	rc.id = hello.ReplicaID

	m.mu.Lock()
	currentOffset := m.offset
	m.mu.Unlock()

	requiresFullSync := hello.LastWalOffset < currentOffset
	if err := rc.send(TypeWelcome, WelcomePayload{
		MasterID: m.ID, CurrentOffset: currentOffset, RequiresFullSync: requiresFullSync,
	}); err != nil {
		return
	}

	if requiresFullSync {
		rc.phase = PhaseSnapshotting
		if err := m.streamSnapshot(ctx, rc); err != nil {
			return
		}
	}
	rc.phase = PhaseStreaming

	m.mu.Lock()
	m.replicas[rc.id] = rc
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.replicas, rc.id)
		m.mu.Unlock()
	}()

	go m.heartbeatLoop(ctx, rc)
	m.readLoop(ctx, reader, rc)
}

// streamSnapshot sends SnapshotMeta then every chunk then
// SnapshotComplete, per spec §4.10's replica bootstrap sequence.
func (m *Master) streamSnapshot(ctx context.Context, rc *replicaConn) error {
	id, walOffset, chunks, err := m.Snapshots.Snapshot(ctx)
	if err != nil {
		return err
	}

	total := int64(0)
	for _, c := range chunks {
		total += int64(len(c))
	}
	overall := snapshotChecksum(chunks)

	if err := rc.send(TypeSnapshotMeta, SnapshotMetaPayload{
		SnapshotID: id, TotalSize: total, ChunkCount: len(chunks), Checksum: overall, WalOffset: walOffset,
	}); err != nil {
		return err
	}

	for i, chunk := range chunks {
		if err := rc.send(TypeSnapshotChunk, SnapshotChunkPayload{
			SnapshotID: id, ChunkIndex: i, Data: chunk, Checksum: chunkChecksum(chunk),
		}); err != nil {
			return err
		}
	}

	return rc.send(TypeSnapshotComplete, SnapshotCompletePayload{SnapshotID: id, Success: true})
}

// heartbeatLoop sends Ping every HeartbeatInterval and drops the
// replica if no Pong arrives within 3x that interval (spec §4.10).
func (m *Master) heartbeatLoop(ctx context.Context, rc *replicaConn) {
	ticker := time.NewTicker(m.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rc.mu.Lock()
			stale := time.Since(rc.lastPong) > 3*m.HeartbeatInterval
			rc.mu.Unlock()
			if stale {
				rc.conn.Close()
				return
			}
			if err := rc.send(TypePing, PingPayload{TimestampUnixNano: time.Now().UnixNano()}); err != nil {
				return
			}
		}
	}
}

func (m *Master) readLoop(ctx context.Context, reader *bufio.Reader, rc *replicaConn) {
	for {
		frame, err := ReadFrame(reader)
		if err != nil {
			return
		}
		switch frame.Type {
		case TypePong:
			rc.mu.Lock()
			rc.lastPong = time.Now()
			rc.mu.Unlock()
		case TypeWalAck:
			var ack WalAckPayload
			if Decode(frame.Payload, &ack) == nil && ack.Success {
				rc.mu.Lock()
				if ack.Offset > rc.lastAck {
					rc.lastAck = ack.Offset
				}
				rc.mu.Unlock()
			}
		case TypeRequestSnapshot:
			rc.mu.Lock()
			rc.phase = PhaseSnapshotting
			rc.mu.Unlock()
			m.streamSnapshot(ctx, rc)
			rc.mu.Lock()
			rc.phase = PhaseStreaming
			rc.mu.Unlock()
		}
	}
}

// Broadcast sends a WalEntry at the given offset to every replica
// currently in Streaming. Replicas not yet caught up simply ignore it
// until their own gap-detection asks for a snapshot.
func (m *Master) Broadcast(offset uint64, entry []byte) {
	m.mu.Lock()
	m.offset = offset
	targets := make([]*replicaConn, 0, len(m.replicas))
	for _, rc := range m.replicas {
		rc.mu.Lock()
		streaming := rc.phase == PhaseStreaming
		rc.mu.Unlock()
		if streaming {
			targets = append(targets, rc)
		}
	}
	m.mu.Unlock()

	for _, rc := range targets {
		rc.send(TypeWalEntry, WalEntryPayload{Offset: offset, Epoch: m.Epoch, Entry: entry})
	}
}

// HealthyReplicaCount reports how many replicas are currently in
// Streaming, the count a dropped heartbeat decrements (spec §4.10).
func (m *Master) HealthyReplicaCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, rc := range m.replicas {
		rc.mu.Lock()
		if rc.phase == PhaseStreaming {
			n++
		}
		rc.mu.Unlock()
	}
	return n
}

// AwaitQuorum blocks until at least quorum replicas have acknowledged
// offset or deadline elapses. Per spec §4.10, a timeout is not a commit
// failure: AwaitQuorum returns errkind.SyncQuorumTimeout so the caller
// can report it, but the commit itself still proceeds.
func (m *Master) AwaitQuorum(ctx context.Context, offset uint64, quorum int, deadline time.Duration) error {
	if quorum <= 0 {
		return nil
	}
	timer := time.NewTimer(deadline)
	defer timer.Stop()
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		if m.ackedCount(offset) >= quorum {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return errkind.New(errkind.SyncQuorumTimeout, "replication: sync-ack quorum not reached before deadline")
		case <-ticker.C:
		}
	}
}

func (m *Master) ackedCount(offset uint64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, rc := range m.replicas {
		rc.mu.Lock()
		if rc.lastAck >= offset {
			n++
		}
		rc.mu.Unlock()
	}
	return n
}
