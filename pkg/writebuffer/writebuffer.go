// Package writebuffer implements the optional high-throughput ingestion
// staging layer in front of the storage engine (C11, spec §4.11): a
// queue of pending graph mutations that flushes as one write
// transaction once it grows large enough, or old enough, rather than
// committing each mutation individually.
package writebuffer

import (
	"context"
	"sync"
	"time"

	"github.com/latticedb/graphcore/pkg/catalog"
	"github.com/latticedb/graphcore/pkg/record"
	"github.com/latticedb/graphcore/pkg/storage"
	"github.com/latticedb/graphcore/pkg/txn"
)

// OpKind identifies which of the six operations spec §4.11 names a
// queued Op performs.
type OpKind int

const (
	OpCreateNode OpKind = iota
	OpCreateRelationship
	OpUpdateNode
	OpUpdateRelationship
	OpDeleteNode
	OpDeleteRelationship
)

// Op is one queued mutation. Only the fields relevant to Kind are set;
// the rest are zero.
type Op struct {
	Kind OpKind

	// create_node / update_node / delete_node
	NodeID     record.NodeID
	Labels     []string
	Properties map[string]record.Value
	Detach     bool // delete_node only

	// create_relationship / update_relationship / delete_relationship
	RelID   record.RelID
	RelType string
	Start   record.NodeID
	End     record.NodeID

	enqueuedAt time.Time
	result     chan opResult
}

type opResult struct {
	nodeID record.NodeID
	relID  record.RelID
	err    error
}

// Stats reports the write buffer's queue and flush counters (spec
// §4.11: total buffered, total flushed, total batches, average batch
// size, current pending).
type Stats struct {
	TotalBuffered   int64 `json:"total_buffered"`
	TotalFlushed    int64 `json:"total_flushed"`
	TotalBatches    int64 `json:"total_batches"`
	AverageBatchSize float64 `json:"average_batch_size"`
	CurrentPending  int   `json:"current_pending"`
}

// Buffer queues graph mutations and flushes them as a single write
// transaction once the batch is full or the oldest queued operation has
// aged past MaxBatchAge.
type Buffer struct {
	engine *storage.Engine
	txns   *txn.Manager

	maxBatchSize int
	maxBatchAge  time.Duration

	mu    sync.Mutex
	queue []*Op

	totalBuffered int64
	totalFlushed  int64
	totalBatches  int64

	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates a write buffer over engine, flushing a batch once it
// reaches maxBatchSize operations or once its oldest operation is older
// than maxBatchAge. txns supplies the write transaction each flush
// commits through.
func New(engine *storage.Engine, txns *txn.Manager, maxBatchSize int, maxBatchAge time.Duration) *Buffer {
	if maxBatchSize <= 0 {
		maxBatchSize = 1000
	}
	if maxBatchAge <= 0 {
		maxBatchAge = time.Second
	}
	return &Buffer{
		engine:       engine,
		txns:         txns,
		maxBatchSize: maxBatchSize,
		maxBatchAge:  maxBatchAge,
	}
}

// Start runs a background goroutine that flushes the buffer whenever
// its oldest operation ages past maxBatchAge, even if the batch never
// fills. Call Stop to shut it down.
func (b *Buffer) Start() {
	b.mu.Lock()
	if b.stopCh != nil {
		b.mu.Unlock()
		return
	}
	b.stopCh = make(chan struct{})
	b.doneCh = make(chan struct{})
	b.mu.Unlock()

	go b.ageLoop()
}

func (b *Buffer) ageLoop() {
	defer close(b.doneCh)
	ticker := time.NewTicker(b.maxBatchAge / 4)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			b.flushIfAged()
		case <-b.stopCh:
			b.Flush()
			return
		}
	}
}

// Stop halts the age-based flush loop after flushing any remaining
// queued operations.
func (b *Buffer) Stop() {
	b.mu.Lock()
	stopCh := b.stopCh
	doneCh := b.doneCh
	b.mu.Unlock()
	if stopCh == nil {
		return
	}
	close(stopCh)
	<-doneCh
}

// enqueue appends op to the queue, flushing immediately if the batch is
// now full, and returns a channel the caller blocks on for op's result.
func (b *Buffer) enqueue(op *Op) chan opResult {
	op.enqueuedAt = time.Now()
	op.result = make(chan opResult, 1)

	b.mu.Lock()
	b.queue = append(b.queue, op)
	b.totalBuffered++
	full := len(b.queue) >= b.maxBatchSize
	b.mu.Unlock()

	if full {
		go b.Flush()
	}
	return op.result
}

// flushIfAged flushes the queue if its oldest operation has aged past
// maxBatchAge (spec §4.11's second flush trigger).
func (b *Buffer) flushIfAged() {
	b.mu.Lock()
	stale := len(b.queue) > 0 && time.Since(b.queue[0].enqueuedAt) >= b.maxBatchAge
	b.mu.Unlock()
	if stale {
		b.Flush()
	}
}

// CreateNode queues a node creation, blocking until the batch
// containing it has flushed, and returns the created node's ID.
func (b *Buffer) CreateNode(ctx context.Context, labels []string, props map[string]record.Value) (record.NodeID, error) {
	op := &Op{Kind: OpCreateNode, Labels: labels, Properties: props}
	res := <-b.enqueue(op)
	return res.nodeID, res.err
}

// CreateRelationship queues a relationship creation.
func (b *Buffer) CreateRelationship(ctx context.Context, relType string, start, end record.NodeID, props map[string]record.Value) (record.RelID, error) {
	op := &Op{Kind: OpCreateRelationship, RelType: relType, Start: start, End: end, Properties: props}
	res := <-b.enqueue(op)
	return res.relID, res.err
}

// UpdateNode queues a node property update.
func (b *Buffer) UpdateNode(ctx context.Context, id record.NodeID, changes map[string]record.Value) error {
	op := &Op{Kind: OpUpdateNode, NodeID: id, Properties: changes}
	res := <-b.enqueue(op)
	return res.err
}

// UpdateRelationship queues a relationship property update.
func (b *Buffer) UpdateRelationship(ctx context.Context, id record.RelID, changes map[string]record.Value) error {
	op := &Op{Kind: OpUpdateRelationship, RelID: id, Properties: changes}
	res := <-b.enqueue(op)
	return res.err
}

// DeleteNode queues a node deletion.
func (b *Buffer) DeleteNode(ctx context.Context, id record.NodeID, labels []string, detach bool) error {
	op := &Op{Kind: OpDeleteNode, NodeID: id, Labels: labels, Detach: detach}
	res := <-b.enqueue(op)
	return res.err
}

// DeleteRelationship queues a relationship deletion.
func (b *Buffer) DeleteRelationship(ctx context.Context, id record.RelID, relType string, start, end record.NodeID) error {
	op := &Op{Kind: OpDeleteRelationship, RelID: id, RelType: relType, Start: start, End: end}
	res := <-b.enqueue(op)
	return res.err
}

// Flush drains the current queue and applies it as a single write
// transaction against the storage engine (spec §4.11: "flushing
// converts the queue into a single write transaction applied via
// [the storage engine]"). Safe to call concurrently: each call takes the
// queue as it stands and commits it as its own transaction, so two calls
// can run side by side; a call that finds the queue empty returns at once
// without waiting for a flush already running.
func (b *Buffer) Flush() {
	b.mu.Lock()
	batch := b.queue
	b.queue = nil
	b.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	t := b.txns.Begin(txn.ReadWrite)
	cat := b.engine.Catalog()
	results := make([]opResult, len(batch))
	for i, op := range batch {
		results[i] = b.apply(t, cat, op)
	}

	if err := b.txns.Commit(context.Background(), t); err != nil {
		// The failed commit discarded the transaction's staged index
		// updates; records apply() already wrote to the store stay in
		// place. Every queued operation reports the commit error rather
		// than whatever apply() returned.
		for _, op := range batch {
			op.result <- opResult{err: err}
		}
		b.mu.Lock()
		b.totalBatches++
		b.mu.Unlock()
		return
	}
	b.engine.EndTxn(t.ID)

	for i, op := range batch {
		op.result <- results[i]
	}

	b.mu.Lock()
	b.totalFlushed += int64(len(batch))
	b.totalBatches++
	b.mu.Unlock()
}

// apply runs one queued op inside t, returning its result without
// committing — Flush commits the whole batch as one transaction.
func (b *Buffer) apply(t *txn.Txn, cat *catalog.Catalog, op *Op) opResult {
	switch op.Kind {
	case OpCreateNode:
		labelIDs, err := internLabels(cat, op.Labels)
		if err != nil {
			return opResult{err: err}
		}
		propIDs, err := internProps(cat, op.Properties)
		if err != nil {
			return opResult{err: err}
		}
		id, err := b.engine.CreateNode(t.ID, t.Pending, labelIDs, propIDs)
		return opResult{nodeID: id, err: err}

	case OpCreateRelationship:
		typeID, err := cat.InternRelType(op.RelType)
		if err != nil {
			return opResult{err: err}
		}
		propIDs, err := internProps(cat, op.Properties)
		if err != nil {
			return opResult{err: err}
		}
		id, err := b.engine.CreateRelationship(t.ID, t.Pending, typeID, op.Start, op.End, propIDs)
		return opResult{relID: id, err: err}

	case OpUpdateNode:
		propIDs, err := internProps(cat, op.Properties)
		if err != nil {
			return opResult{err: err}
		}
		err = b.engine.UpdateNodeProperties(t.ID, t.Pending, op.NodeID, propIDs)
		return opResult{err: err}

	case OpUpdateRelationship:
		propIDs, err := internProps(cat, op.Properties)
		if err != nil {
			return opResult{err: err}
		}
		err = b.engine.UpdateRelationshipProperties(t.ID, t.Pending, op.RelID, propIDs)
		return opResult{err: err}

	case OpDeleteNode:
		labelIDs, err := internLabels(cat, op.Labels)
		if err != nil {
			return opResult{err: err}
		}
		err = b.engine.DeleteNode(t.ID, t.Pending, op.NodeID, labelIDs, op.Detach)
		return opResult{err: err}

	case OpDeleteRelationship:
		typeID, err := cat.InternRelType(op.RelType)
		if err != nil {
			return opResult{err: err}
		}
		err = b.engine.DeleteRelationship(t.ID, t.Pending, op.RelID, typeID, op.Start, op.End)
		return opResult{err: err}

	default:
		return opResult{}
	}
}

func internLabels(cat *catalog.Catalog, names []string) ([]catalog.ID, error) {
	ids := make([]catalog.ID, len(names))
	for i, name := range names {
		id, err := cat.InternLabel(name)
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}
	return ids, nil
}

func internProps(cat *catalog.Catalog, props map[string]record.Value) (map[catalog.ID]record.Value, error) {
	out := make(map[catalog.ID]record.Value, len(props))
	for k, v := range props {
		id, err := cat.InternPropertyKey(k)
		if err != nil {
			return nil, err
		}
		out[id] = v
	}
	return out, nil
}

// Stats returns a snapshot of the buffer's queue and flush counters.
func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	avg := 0.0
	if b.totalBatches > 0 {
		avg = float64(b.totalFlushed) / float64(b.totalBatches)
	}
	return Stats{
		TotalBuffered:    b.totalBuffered,
		TotalFlushed:     b.totalFlushed,
		TotalBatches:     b.totalBatches,
		AverageBatchSize: avg,
		CurrentPending:   len(b.queue),
	}
}
