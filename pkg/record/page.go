// Page store: fixed 64 KiB pages, 64-byte aligned slots, backed by a
// memory-mapped file. This is C1 from spec §4.1 — slots hold opaque
// payloads; pkg/storage keeps node headers (ID and labels) here and keeps
// property maps and relationship data in Badger.
package record

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

const (
	// PageSize is the fixed page size used for all allocations (spec §4.1).
	PageSize = 64 * 1024
	// SlotAlignment is the SIMD alignment discipline for in-page slots.
	SlotAlignment = 64
	// pageHeaderSize reserves room for page id, slot count, free bytes.
	pageHeaderSize = 16
	// slotHeaderSize is the fixed header every slot carries before its
	// variable-length inline payload: kind(1) + deleted(1) + length(4).
	slotHeaderSize = 6
)

// ErrOutOfSpace is returned by Allocate when no page can host a new slot
// of the requested size and growing the file is disallowed or fails.
var ErrOutOfSpace = errors.New("record: out of space")

// SlotRef locates a single record slot within the page file.
type SlotRef struct {
	Page uint32
	Slot uint16
}

// PageFile is a memory-mapped, page-aligned record file implementing the
// allocate/read/apply/flush contract of spec §4.1.
//
// Writes go directly into the mapped memory; there is no separate
// per-page write buffer (the dirty map is allocated but not used), and
// writes become durable only when Flush is called. Reads go directly
// against the mapped memory; PageFile tracks
// recent page access order and, on three consecutive sequential page
// reads, issues a MADV_WILLNEED hint for the following block.
type PageFile struct {
	mu       sync.Mutex
	f        *os.File
	data     []byte // mmap'd region
	numPages uint32
	dirty    map[uint32][]byte // pageID -> pending page image, pre-Flush
	pin      map[uint32]int32

	// sequential access detection for the prefetch hint.
	lastPage  int64
	streak    int

	closed atomic.Bool
}

// OpenPageFile opens (creating if necessary) a page file at path, growing
// it to hold at least initialPages pages and mapping it into memory.
func OpenPageFile(path string, initialPages uint32) (*PageFile, error) {
	if initialPages == 0 {
		initialPages = 16
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("record: open page file: %w", err)
	}

	size := int64(initialPages) * PageSize
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if st.Size() < size {
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, fmt.Errorf("record: grow page file: %w", err)
		}
	} else {
		size = st.Size()
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("record: mmap page file: %w", err)
	}

	pf := &PageFile{
		f:        f,
		data:     data,
		numPages: uint32(size / PageSize),
		dirty:    make(map[uint32][]byte),
		pin:      make(map[uint32]int32),
		lastPage: -1,
	}
	for i := uint32(0); i < pf.numPages; i++ {
		if pf.pageHeader(i).slotCount == 0 && pf.rawPage(i)[0] == 0 {
			pf.initPage(i)
		}
	}
	return pf, nil
}

type pageHeader struct {
	pageID     uint32
	slotCount  uint16
	freeBytes  uint16
}

func (pf *PageFile) rawPage(id uint32) []byte {
	off := int(id) * PageSize
	return pf.data[off : off+PageSize]
}

func (pf *PageFile) pageHeader(id uint32) pageHeader {
	b := pf.rawPage(id)
	return pageHeader{
		pageID:    binary.LittleEndian.Uint32(b[0:4]),
		slotCount: binary.LittleEndian.Uint16(b[4:6]),
		freeBytes: binary.LittleEndian.Uint16(b[6:8]),
	}
}

func (pf *PageFile) writeHeader(id uint32, h pageHeader) {
	b := pf.rawPage(id)
	binary.LittleEndian.PutUint32(b[0:4], h.pageID)
	binary.LittleEndian.PutUint16(b[4:6], h.slotCount)
	binary.LittleEndian.PutUint16(b[6:8], h.freeBytes)
}

func (pf *PageFile) initPage(id uint32) {
	pf.writeHeader(id, pageHeader{pageID: id, slotCount: 0, freeBytes: PageSize - pageHeaderSize})
}

// alignUp rounds n up to the next SlotAlignment boundary.
func alignUp(n int) int {
	return (n + SlotAlignment - 1) &^ (SlotAlignment - 1)
}

// Allocate reserves a slot large enough for payload, growing the file by
// one page if no existing page has room, and returns its location.
// Returns ErrOutOfSpace only if growth itself fails (disk full).
func (pf *PageFile) Allocate(payload []byte) (SlotRef, error) {
	pf.mu.Lock()
	defer pf.mu.Unlock()

	need := alignUp(slotHeaderSize + len(payload))

	for id := uint32(0); id < pf.numPages; id++ {
		h := pf.pageHeader(id)
		if int(h.freeBytes) >= need {
			return pf.writeSlotLocked(id, h, payload), nil
		}
	}

	if err := pf.growLocked(1); err != nil {
		return SlotRef{}, fmt.Errorf("%w: %v", ErrOutOfSpace, err)
	}
	newID := pf.numPages - 1
	pf.initPage(newID)
	h := pf.pageHeader(newID)
	return pf.writeSlotLocked(newID, h, payload), nil
}

func (pf *PageFile) growLocked(pages uint32) error {
	newSize := int64(pf.numPages+pages) * PageSize
	if err := pf.f.Truncate(newSize); err != nil {
		return err
	}
	if err := unix.Munmap(pf.data); err != nil {
		return err
	}
	data, err := unix.Mmap(int(pf.f.Fd()), 0, int(newSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return err
	}
	pf.data = data
	pf.numPages += pages
	return nil
}

// writeSlotLocked appends payload as a new slot at the end of page id's
// used region, returning its slot index. Caller holds pf.mu.
func (pf *PageFile) writeSlotLocked(id uint32, h pageHeader, payload []byte) SlotRef {
	used := PageSize - int(h.freeBytes)
	slotSize := alignUp(slotHeaderSize + len(payload))

	b := pf.rawPage(id)
	off := used
	b[off] = 1 // kind: occupied
	b[off+1] = 0 // not deleted
	binary.LittleEndian.PutUint32(b[off+2:off+6], uint32(len(payload)))
	copy(b[off+slotHeaderSize:off+slotHeaderSize+len(payload)], payload)

	h.slotCount++
	h.freeBytes -= uint16(slotSize)
	pf.writeHeader(id, h)

	return SlotRef{Page: id, Slot: h.slotCount - 1}
}

// slotOffsets walks page id's slot stream, returning the byte offset of
// the nth occupied-or-deleted slot header (in insertion order).
func (pf *PageFile) slotOffset(id uint32, slot uint16) (int, bool) {
	b := pf.rawPage(id)
	off := pageHeaderSize
	var n uint16
	for off < PageSize-slotHeaderSize {
		if b[off] == 0 {
			break // unwritten tail
		}
		if n == slot {
			return off, true
		}
		length := int(binary.LittleEndian.Uint32(b[off+2 : off+6]))
		off += alignUp(slotHeaderSize + length)
		n++
	}
	return 0, false
}

// Read returns the payload stored at ref, or (nil, false) if the slot has
// been deleted or never existed. Applies the sequential-access prefetch
// hint when three consecutive reads target increasing page IDs.
func (pf *PageFile) Read(ref SlotRef) ([]byte, bool) {
	pf.mu.Lock()
	pf.trackSequentialLocked(int64(ref.Page))
	pf.mu.Unlock()

	if int(ref.Page) >= int(pf.numPages) {
		return nil, false
	}
	off, ok := pf.slotOffset(ref.Page, ref.Slot)
	if !ok {
		return nil, false
	}
	b := pf.rawPage(ref.Page)
	if b[off+1] != 0 {
		return nil, false // tombstoned
	}
	length := int(binary.LittleEndian.Uint32(b[off+2 : off+6]))
	out := make([]byte, length)
	copy(out, b[off+slotHeaderSize:off+slotHeaderSize+length])
	return out, true
}

// trackSequentialLocked detects 3 consecutive ascending page accesses and
// issues a MADV_WILLNEED hint for the following block. Caller holds pf.mu.
func (pf *PageFile) trackSequentialLocked(page int64) {
	if pf.lastPage >= 0 && page == pf.lastPage+1 {
		pf.streak++
	} else {
		pf.streak = 0
	}
	pf.lastPage = page
	if pf.streak >= 2 {
		next := page + 1
		if next < int64(pf.numPages) {
			off := int(next) * PageSize
			end := off + PageSize
			if end <= len(pf.data) {
				_ = unix.Madvise(pf.data[off:end], unix.MADV_WILLNEED)
			}
		}
	}
}

// Delete tombstones the slot at ref in place; the slot's space is
// reclaimed only by a future compaction pass, not by this call.
func (pf *PageFile) Delete(ref SlotRef) error {
	pf.mu.Lock()
	defer pf.mu.Unlock()
	off, ok := pf.slotOffset(ref.Page, ref.Slot)
	if !ok {
		return nil // already gone: delete is idempotent (spec §4.2 recovery)
	}
	b := pf.rawPage(ref.Page)
	b[off+1] = 1
	return nil
}

// Mutation is one page-level write to apply atomically.
type Mutation struct {
	Ref     SlotRef
	Payload []byte // nil means delete
}

// Apply applies a batch of mutations atomically under the file mutex, so
// concurrent Apply calls never interleave. Every write's slot and
// capacity are checked before anything is changed: if one write fails
// the check, Apply returns an error and the file is left untouched.
func (pf *PageFile) Apply(muts []Mutation) error {
	pf.mu.Lock()
	defer pf.mu.Unlock()
	for _, m := range muts {
		if m.Payload == nil {
			continue
		}
		off, ok := pf.slotOffset(m.Ref.Page, m.Ref.Slot)
		if !ok {
			return fmt.Errorf("record: apply: slot %+v not found", m.Ref)
		}
		capLen := int(binary.LittleEndian.Uint32(pf.rawPage(m.Ref.Page)[off+2 : off+6]))
		if len(m.Payload) > capLen {
			return fmt.Errorf("record: apply: payload %d exceeds slot capacity %d for %+v", len(m.Payload), capLen, m.Ref)
		}
	}
	for _, m := range muts {
		if m.Payload == nil {
			off, ok := pf.slotOffset(m.Ref.Page, m.Ref.Slot)
			if ok {
				pf.rawPage(m.Ref.Page)[off+1] = 1
			}
			continue
		}
		off, ok := pf.slotOffset(m.Ref.Page, m.Ref.Slot)
		if !ok {
			return fmt.Errorf("record: apply: slot %+v not found", m.Ref)
		}
		b := pf.rawPage(m.Ref.Page)
		capLen := int(binary.LittleEndian.Uint32(b[off+2 : off+6]))
		if len(m.Payload) > capLen {
			return fmt.Errorf("record: apply: payload %d exceeds slot capacity %d for %+v", len(m.Payload), capLen, m.Ref)
		}
		copy(b[off+slotHeaderSize:off+slotHeaderSize+len(m.Payload)], m.Payload)
		b[off+1] = 0
	}
	return nil
}

// Flush is the fsync-equivalent: it blocks until every page is durable on
// disk. Because PageFile writes directly into the mmap region rather than
// buffering separately, Flush is implemented as msync + fdatasync.
func (pf *PageFile) Flush() error {
	pf.mu.Lock()
	defer pf.mu.Unlock()
	if err := unix.Msync(pf.data, unix.MS_SYNC); err != nil {
		return fmt.Errorf("record: msync: %w", err)
	}
	return pf.f.Sync()
}

// Close unmaps and closes the underlying file.
func (pf *PageFile) Close() error {
	if pf.closed.Swap(true) {
		return nil
	}
	pf.mu.Lock()
	defer pf.mu.Unlock()
	if err := unix.Munmap(pf.data); err != nil {
		return err
	}
	return pf.f.Close()
}
