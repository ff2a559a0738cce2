// Package wal implements the write-ahead log: an append-only, segmented,
// CRC-framed record of every mutation, stamped with a monotonically
// increasing offset and the current replication epoch (spec §4.2, §6).
//
// Each entry is framed as [kind:1][length:4][payload:N][crc32:4]; the
// payload is the canonical binary encoding of one Entry variant. Recovery
// scans segments in order and drops the tail at the first CRC mismatch or
// truncated frame, recording the truncation point.
package wal

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/latticedb/graphcore/pkg/errkind"
	"github.com/latticedb/graphcore/pkg/record"
)

// Kind tags one of the WAL entry variants (spec §3 "WAL entry").
type Kind uint8

const (
	KindCreateNode Kind = iota
	KindCreateRelationship
	KindSetProperty
	KindDeleteNode
	KindDeleteRelationship
	KindLabelAdd
	KindLabelRemove
	KindIndexCreate
	KindIndexDrop
	KindCheckpoint
)

// OwnerKind distinguishes which record a SetProperty entry targets.
type OwnerKind uint8

const (
	OwnerNode OwnerKind = iota
	OwnerRelationship
)

// Entry is one WAL record: a variant payload stamped with its assigned
// offset and the epoch active when it was written.
type Entry struct {
	Offset uint64
	Epoch  uint64
	Kind   Kind

	// Variant fields — only the ones relevant to Kind are populated.
	NodeID      uint64
	RelID       uint64
	Src, Dst    uint64
	TypeID      uint32
	LabelMask   []uint32 // label IDs, for CreateNode/LabelAdd/LabelRemove
	Owner       OwnerKind
	PropKey     uint32
	PropValue   []byte // canonical encoding of a record.Value
	CheckpointOffset uint64
	IndexName   string
}

// segmentName formats the filename for the segment whose first offset is
// startOffset, matching spec §6: "wal-%016x.log".
func segmentName(startOffset uint64) string {
	return fmt.Sprintf("wal-%016x.log", startOffset)
}

// Manifest records the active segment, the highest durable offset, and
// the current epoch. Persisted as "wal-manifest", fsync'd after each
// segment rotation (spec §6).
type Manifest struct {
	ActiveSegment  string
	DurableOffset  uint64
	Epoch          uint64
}

func manifestPath(dir string) string { return filepath.Join(dir, "wal-manifest") }

func loadManifest(dir string) (Manifest, error) {
	path := manifestPath(dir)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Manifest{}, nil
	}
	if err != nil {
		return Manifest{}, errkind.Wrap(errkind.WalCorruption, "read wal manifest", err)
	}
	parts := strings.Split(strings.TrimSpace(string(data)), "\t")
	if len(parts) != 3 {
		return Manifest{}, errkind.New(errkind.WalCorruption, "malformed wal manifest")
	}
	offset, err1 := strconv.ParseUint(parts[1], 10, 64)
	epoch, err2 := strconv.ParseUint(parts[2], 10, 64)
	if err1 != nil || err2 != nil {
		return Manifest{}, errkind.New(errkind.WalCorruption, "malformed wal manifest numbers")
	}
	return Manifest{ActiveSegment: parts[0], DurableOffset: offset, Epoch: epoch}, nil
}

func saveManifest(dir string, m Manifest) error {
	tmp := manifestPath(dir) + ".tmp"
	line := fmt.Sprintf("%s\t%d\t%d\n", m.ActiveSegment, m.DurableOffset, m.Epoch)
	if err := os.WriteFile(tmp, []byte(line), 0644); err != nil {
		return errkind.Wrap(errkind.WalCorruption, "write wal manifest", err)
	}
	f, err := os.OpenFile(tmp, os.O_WRONLY, 0644)
	if err == nil {
		_ = f.Sync()
		f.Close()
	}
	return os.Rename(tmp, manifestPath(dir))
}

// WAL is the append-only, segmented, CRC-framed log.
type WAL struct {
	mu        sync.Mutex
	dir       string
	file      *os.File
	writer    *bufio.Writer
	offset    atomic.Uint64
	epoch     atomic.Uint64
	maxSegBytes int64
	segBytes   int64
	syncMode  string // "sync" | "async"
}

// Options configures a WAL instance.
type Options struct {
	SyncMode       string // "sync" or "async"
	MaxSegmentSize int64  // rotate when a segment exceeds this size
}

// Open opens (or initializes) a WAL rooted at dir, recovering the
// manifest and positioning the offset/epoch counters at their last
// durable values.
func Open(dir string, opts Options) (*WAL, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errkind.Wrap(errkind.WalCorruption, "create wal directory", err)
	}
	if opts.MaxSegmentSize <= 0 {
		opts.MaxSegmentSize = 64 * 1024 * 1024
	}
	if opts.SyncMode == "" {
		opts.SyncMode = "sync"
	}

	m, err := loadManifest(dir)
	if err != nil {
		return nil, err
	}

	w := &WAL{dir: dir, maxSegBytes: opts.MaxSegmentSize, syncMode: opts.SyncMode}
	w.offset.Store(m.DurableOffset)
	w.epoch.Store(m.Epoch)

	segName := m.ActiveSegment
	if segName == "" {
		segName = segmentName(m.DurableOffset + 1)
	}
	f, err := os.OpenFile(filepath.Join(dir, segName), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, errkind.Wrap(errkind.WalCorruption, "open wal segment", err)
	}
	st, _ := f.Stat()
	if st != nil {
		w.segBytes = st.Size()
	}
	w.file = f
	w.writer = bufio.NewWriterSize(f, 64*1024)

	if m.ActiveSegment == "" {
		if err := saveManifest(dir, Manifest{ActiveSegment: segName, DurableOffset: m.DurableOffset, Epoch: m.Epoch}); err != nil {
			return nil, err
		}
	}

	return w, nil
}

// Epoch returns the WAL's current epoch.
func (w *WAL) Epoch() uint64 { return w.epoch.Load() }

// SetEpoch bumps the epoch on replica promotion (spec §4.10). It is fatal
// for any subsequent Append to carry a lower epoch than the highest one
// already durable — SetEpoch only ever moves the epoch forward.
func (w *WAL) SetEpoch(epoch uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if epoch < w.epoch.Load() {
		return errkind.New(errkind.ReplicationEpochRegression, "epoch must never move backward")
	}
	w.epoch.Store(epoch)
	return saveManifest(w.dir, Manifest{ActiveSegment: w.activeSegmentName(), DurableOffset: w.offset.Load(), Epoch: epoch})
}

func (w *WAL) activeSegmentName() string {
	return filepath.Base(w.file.Name())
}

// Append assigns the next offset to entry, frames and writes it, and —
// if durable is requested — fsyncs before returning. Returns the assigned
// offset. Append is synchronized: offset assignment is a single critical
// section (spec §5).
func (w *WAL) Append(e Entry, durable bool) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	entryEpoch := w.epoch.Load()
	e.Epoch = entryEpoch
	e.Offset = w.offset.Add(1)

	payload := encodeEntry(e)
	frame := frameEntry(byte(e.Kind), payload)

	if w.segBytes+int64(len(frame)) > w.maxSegBytes {
		if err := w.rotateLocked(); err != nil {
			return 0, err
		}
	}

	n, err := w.writer.Write(frame)
	w.segBytes += int64(n)
	if err != nil {
		return 0, errkind.Wrap(errkind.WalCorruption, "write wal frame", err)
	}

	wantSync := durable || w.syncMode == "sync"
	if wantSync {
		if err := w.flushLocked(); err != nil {
			return 0, err
		}
		if err := saveManifest(w.dir, Manifest{ActiveSegment: w.activeSegmentName(), DurableOffset: e.Offset, Epoch: entryEpoch}); err != nil {
			return 0, err
		}
	}

	return e.Offset, nil
}

func (w *WAL) flushLocked() error {
	if err := w.writer.Flush(); err != nil {
		return errkind.Wrap(errkind.WalCorruption, "flush wal buffer", err)
	}
	if err := w.file.Sync(); err != nil {
		return errkind.Wrap(errkind.WalCorruption, "fsync wal segment", err)
	}
	return nil
}

// Sync fsyncs any buffered, not-yet-durable entries and updates the
// manifest's durable offset. Used for async-mode batching.
func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.flushLocked(); err != nil {
		return err
	}
	return saveManifest(w.dir, Manifest{ActiveSegment: w.activeSegmentName(), DurableOffset: w.offset.Load(), Epoch: w.epoch.Load()})
}

func (w *WAL) rotateLocked() error {
	if err := w.flushLocked(); err != nil {
		return err
	}
	if err := w.file.Close(); err != nil {
		return err
	}
	name := segmentName(w.offset.Load()) // Append has already assigned the offset of the entry that goes first here
	f, err := os.OpenFile(filepath.Join(w.dir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return errkind.Wrap(errkind.WalCorruption, "rotate wal segment", err)
	}
	w.file = f
	w.writer = bufio.NewWriterSize(f, 64*1024)
	w.segBytes = 0
	return saveManifest(w.dir, Manifest{ActiveSegment: name, DurableOffset: w.offset.Load(), Epoch: w.epoch.Load()})
}

// Checkpoint appends a Checkpoint entry marking a snapshot boundary.
func (w *WAL) Checkpoint(snapshotOffset uint64) (uint64, error) {
	return w.Append(Entry{Kind: KindCheckpoint, CheckpointOffset: snapshotOffset}, true)
}

// Close flushes and closes the active segment.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.flushLocked(); err != nil {
		return err
	}
	return w.file.Close()
}

// CurrentOffset returns the highest offset assigned so far (durable or not).
func (w *WAL) CurrentOffset() uint64 { return w.offset.Load() }

func frameEntry(kind byte, payload []byte) []byte {
	frame := make([]byte, 1+4+len(payload)+4)
	frame[0] = kind
	binary.LittleEndian.PutUint32(frame[1:5], uint32(len(payload)))
	copy(frame[5:5+len(payload)], payload)
	crc := crc32.ChecksumIEEE(frame[:5+len(payload)])
	binary.LittleEndian.PutUint32(frame[5+len(payload):], crc)
	return frame
}

// segmentFiles returns every wal-*.log file under dir in ascending offset
// order.
func segmentFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "wal-") && strings.HasSuffix(e.Name(), ".log") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Recover scans every WAL segment in dir in order, applying each surviving
// entry to apply (idempotently, per spec §4.2 — callers must themselves
// make create-of-existing a no-op and delete-of-nonexistent a no-op). It
// stops at the first CRC mismatch or truncated frame, returning the
// truncation offset it found (0 if the WAL was read in full).
func Recover(dir string, apply func(Entry) error) (truncatedAt uint64, err error) {
	names, err := segmentFiles(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, errkind.Wrap(errkind.WalCorruption, "list wal segments", err)
	}

	var lastGoodOffset uint64
	for _, name := range names {
		f, err := os.Open(filepath.Join(dir, name))
		if err != nil {
			return lastGoodOffset, errkind.Wrap(errkind.WalCorruption, "open wal segment", err)
		}
		r := bufio.NewReader(f)

		for {
			header := make([]byte, 5)
			if _, err := readFull(r, header); err != nil {
				break // EOF or truncated header: stop at this segment
			}
			kind := header[0]
			length := binary.LittleEndian.Uint32(header[1:5])
			payload := make([]byte, length)
			if _, err := readFull(r, payload); err != nil {
				f.Close()
				return lastGoodOffset, nil // truncated frame: drop tail
			}
			crcBuf := make([]byte, 4)
			if _, err := readFull(r, crcBuf); err != nil {
				f.Close()
				return lastGoodOffset, nil
			}
			wantCRC := binary.LittleEndian.Uint32(crcBuf)
			gotCRC := crc32.ChecksumIEEE(append(header, payload...))
			if wantCRC != gotCRC {
				f.Close()
				return lastGoodOffset, nil // CRC mismatch: drop tail
			}

			e, derr := decodeEntry(Kind(kind), payload)
			if derr != nil {
				f.Close()
				return lastGoodOffset, errkind.Wrap(errkind.WalCorruption, "decode wal entry", derr)
			}
			if apply != nil {
				if err := apply(e); err != nil {
					f.Close()
					return lastGoodOffset, fmt.Errorf("wal: apply entry at offset %d: %w", e.Offset, err)
				}
			}
			lastGoodOffset = e.Offset
		}
		f.Close()
	}
	return 0, nil
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

func encodeEntry(e Entry) []byte {
	buf := make([]byte, 0, 64)
	putU64 := func(v uint64) { buf = binary.LittleEndian.AppendUint64(buf, v) }
	putU32 := func(v uint32) { buf = binary.LittleEndian.AppendUint32(buf, v) }
	putBytes := func(b []byte) { putU32(uint32(len(b))); buf = append(buf, b...) }
	putStr := func(s string) { putBytes([]byte(s)) }

	switch e.Kind {
	case KindCreateNode:
		putU64(e.NodeID)
		putU32(uint32(len(e.LabelMask)))
		for _, l := range e.LabelMask {
			putU32(l)
		}
	case KindCreateRelationship:
		putU64(e.RelID)
		putU64(e.Src)
		putU64(e.Dst)
		putU32(e.TypeID)
	case KindSetProperty:
		buf = append(buf, byte(e.Owner))
		putU64(e.NodeID)
		putU32(e.PropKey)
		putBytes(e.PropValue)
	case KindDeleteNode:
		putU64(e.NodeID)
	case KindDeleteRelationship:
		putU64(e.RelID)
	case KindLabelAdd, KindLabelRemove:
		putU64(e.NodeID)
		putU32(uint32(len(e.LabelMask)))
		for _, l := range e.LabelMask {
			putU32(l)
		}
	case KindIndexCreate, KindIndexDrop:
		putStr(e.IndexName)
	case KindCheckpoint:
		putU64(e.CheckpointOffset)
	}
	return buf
}

func decodeEntry(kind Kind, buf []byte) (Entry, error) {
	e := Entry{Kind: kind}
	pos := 0
	getU64 := func() (uint64, error) {
		if pos+8 > len(buf) {
			return 0, fmt.Errorf("short buffer")
		}
		v := binary.LittleEndian.Uint64(buf[pos : pos+8])
		pos += 8
		return v, nil
	}
	getU32 := func() (uint32, error) {
		if pos+4 > len(buf) {
			return 0, fmt.Errorf("short buffer")
		}
		v := binary.LittleEndian.Uint32(buf[pos : pos+4])
		pos += 4
		return v, nil
	}
	getBytes := func() ([]byte, error) {
		n, err := getU32()
		if err != nil {
			return nil, err
		}
		if pos+int(n) > len(buf) {
			return nil, fmt.Errorf("short buffer")
		}
		out := buf[pos : pos+int(n)]
		pos += int(n)
		return out, nil
	}

	var err error
	switch kind {
	case KindCreateNode:
		if e.NodeID, err = getU64(); err != nil {
			return e, err
		}
		n, err := getU32()
		if err != nil {
			return e, err
		}
		e.LabelMask = make([]uint32, n)
		for i := range e.LabelMask {
			if e.LabelMask[i], err = getU32(); err != nil {
				return e, err
			}
		}
	case KindCreateRelationship:
		if e.RelID, err = getU64(); err != nil {
			return e, err
		}
		if e.Src, err = getU64(); err != nil {
			return e, err
		}
		if e.Dst, err = getU64(); err != nil {
			return e, err
		}
		if e.TypeID, err = getU32(); err != nil {
			return e, err
		}
	case KindSetProperty:
		if pos >= len(buf) {
			return e, fmt.Errorf("short buffer")
		}
		e.Owner = OwnerKind(buf[pos])
		pos++
		if e.NodeID, err = getU64(); err != nil {
			return e, err
		}
		if e.PropKey, err = getU32(); err != nil {
			return e, err
		}
		if e.PropValue, err = getBytes(); err != nil {
			return e, err
		}
	case KindDeleteNode:
		if e.NodeID, err = getU64(); err != nil {
			return e, err
		}
	case KindDeleteRelationship:
		if e.RelID, err = getU64(); err != nil {
			return e, err
		}
	case KindLabelAdd, KindLabelRemove:
		if e.NodeID, err = getU64(); err != nil {
			return e, err
		}
		n, err := getU32()
		if err != nil {
			return e, err
		}
		e.LabelMask = make([]uint32, n)
		for i := range e.LabelMask {
			if e.LabelMask[i], err = getU32(); err != nil {
				return e, err
			}
		}
	case KindIndexCreate, KindIndexDrop:
		b, err := getBytes()
		if err != nil {
			return e, err
		}
		e.IndexName = string(b)
	case KindCheckpoint:
		if e.CheckpointOffset, err = getU64(); err != nil {
			return e, err
		}
	}
	return e, nil
}

// EncodeValue and DecodeValue give callers (pkg/storage) a canonical
// binary encoding for record.Value to embed in SetProperty payloads.
func EncodeValue(v record.Value) []byte {
	var buf []byte
	buf = append(buf, byte(v.Kind))
	switch v.Kind {
	case record.KindBool:
		if v.Bool {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	case record.KindInt:
		buf = binary.LittleEndian.AppendUint64(buf, uint64(v.Int))
	case record.KindFloat:
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v.Float))
	case record.KindString:
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(v.Str)))
		buf = append(buf, v.Str...)
	default:
		// Lists/maps/points are rare in the hot WAL path; fall back to a
		// length-prefixed %v rendering, which DecodeValue does not parse.
		enc := fmt.Sprintf("%v", v.ToGo())
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(enc)))
		buf = append(buf, enc...)
	}
	return buf
}

// DecodeValue reverses EncodeValue for the scalar kinds it can round-trip
// exactly (null/bool/int/float/string). Lists, maps, and points decode
// as null, so their values come from the
// overlay store's authoritative copy rather than the WAL alone — the WAL
// is the durability mechanism for replay idempotence, not the property
// store of record.
func DecodeValue(buf []byte) (record.Value, error) {
	if len(buf) == 0 {
		return record.Null(), nil
	}
	kind := record.ValueKind(buf[0])
	rest := buf[1:]
	switch kind {
	case record.KindBool:
		if len(rest) < 1 {
			return record.Value{}, fmt.Errorf("wal: short bool value")
		}
		return record.Bool(rest[0] != 0), nil
	case record.KindInt:
		if len(rest) < 8 {
			return record.Value{}, fmt.Errorf("wal: short int value")
		}
		return record.Int(int64(binary.LittleEndian.Uint64(rest))), nil
	case record.KindFloat:
		if len(rest) < 8 {
			return record.Value{}, fmt.Errorf("wal: short float value")
		}
		return record.Float(math.Float64frombits(binary.LittleEndian.Uint64(rest))), nil
	case record.KindString:
		if len(rest) < 4 {
			return record.Value{}, fmt.Errorf("wal: short string value")
		}
		n := binary.LittleEndian.Uint32(rest[:4])
		if len(rest) < int(4+n) {
			return record.Value{}, fmt.Errorf("wal: short string payload")
		}
		return record.Str(string(rest[4 : 4+n])), nil
	default:
		return record.Null(), nil
	}
}
