package record

import "fmt"

// CompressionType selects how an adjacency list (a node's outgoing or
// incoming relationship IDs) is encoded before being handed back to a
// caller that only needs to iterate it, not hold every ID at full width.
// Mirrors the scheme a page-oriented adjacency store picks between when a
// node's relationship count grows past the point where raw 8-byte IDs
// waste space (spec §1 C1: "adjacency with optional compression").
type CompressionType uint8

const (
	CompressionNone CompressionType = iota
	CompressionVarInt
	CompressionDelta
	// CompressionDictionary is accepted by Compress/Decompress but, like
	// the original's dictionary path, falls back to CompressionNone —
	// building a useful ID dictionary needs corpus-wide frequency
	// statistics this package doesn't have.
	CompressionDictionary
)

// RelationshipCompressor compresses and decompresses a node's adjacency
// list (its relationship IDs) for compact storage or transfer.
type RelationshipCompressor struct{}

// ChooseCompressionType picks a compression scheme from the list's size
// and sort order: short lists aren't worth compressing, long sorted lists
// delta-encode best since consecutive IDs cluster tightly, and anything
// else falls back to plain varint.
func (RelationshipCompressor) ChooseCompressionType(ids []RelID) CompressionType {
	if len(ids) == 0 || len(ids) < 10 {
		return CompressionNone
	}
	if isSortedRelIDs(ids) && len(ids) > 1000 {
		return CompressionDelta
	}
	if len(ids) > 100 {
		return CompressionVarInt
	}
	return CompressionNone
}

func isSortedRelIDs(ids []RelID) bool {
	for i := 1; i < len(ids); i++ {
		if ids[i-1] > ids[i] {
			return false
		}
	}
	return true
}

// Compress encodes ids using ctype.
func (c RelationshipCompressor) Compress(ids []RelID, ctype CompressionType) []byte {
	switch ctype {
	case CompressionVarInt:
		return c.compressVarInt(ids)
	case CompressionDelta:
		return c.compressDelta(ids)
	default:
		return c.compressNone(ids)
	}
}

// Decompress reverses Compress, given the original entry count.
func (c RelationshipCompressor) Decompress(data []byte, ctype CompressionType, count int) ([]RelID, error) {
	switch ctype {
	case CompressionVarInt:
		return c.decompressVarInt(data, count)
	case CompressionDelta:
		return c.decompressDelta(data, count)
	default:
		return c.decompressNone(data, count)
	}
}

func (RelationshipCompressor) compressNone(ids []RelID) []byte {
	out := make([]byte, 8*len(ids))
	for i, id := range ids {
		putUint64BE(out[i*8:], uint64(id))
	}
	return out
}

func (RelationshipCompressor) decompressNone(data []byte, count int) ([]RelID, error) {
	if len(data) != count*8 {
		return nil, fmt.Errorf("record: uncompressed adjacency size %d does not match %d entries", len(data), count)
	}
	out := make([]RelID, count)
	for i := range out {
		out[i] = RelID(getUint64BE(data[i*8:]))
	}
	return out, nil
}

func (c RelationshipCompressor) compressVarInt(ids []RelID) []byte {
	var out []byte
	for _, id := range ids {
		out = appendVarint(out, uint64(id))
	}
	return out
}

func (c RelationshipCompressor) decompressVarInt(data []byte, count int) ([]RelID, error) {
	out := make([]RelID, 0, count)
	pos := 0
	for i := 0; i < count; i++ {
		v, n, err := readVarint(data, pos)
		if err != nil {
			return nil, err
		}
		out = append(out, RelID(v))
		pos = n
	}
	return out, nil
}

// compressDelta stores the first ID raw, then the signed-magnitude-free
// delta (via saturating subtraction, as relationship IDs only increase)
// to the previous entry — a win when ids is sorted and clustered.
func (c RelationshipCompressor) compressDelta(ids []RelID) []byte {
	if len(ids) == 0 {
		return nil
	}
	var out []byte
	out = appendVarint(out, uint64(ids[0]))
	for i := 1; i < len(ids); i++ {
		out = appendVarint(out, satSub(uint64(ids[i]), uint64(ids[i-1])))
	}
	return out
}

func (c RelationshipCompressor) decompressDelta(data []byte, count int) ([]RelID, error) {
	if count == 0 {
		return nil, nil
	}
	out := make([]RelID, 0, count)
	first, pos, err := readVarint(data, 0)
	if err != nil {
		return nil, err
	}
	current := first
	out = append(out, RelID(current))
	for i := 1; i < count; i++ {
		delta, n, err := readVarint(data, pos)
		if err != nil {
			return nil, err
		}
		current = satAdd(current, delta)
		out = append(out, RelID(current))
		pos = n
	}
	return out, nil
}

func satSub(a, b uint64) uint64 {
	if a < b {
		return 0
	}
	return a - b
}

func satAdd(a, b uint64) uint64 {
	sum := a + b
	if sum < a {
		return ^uint64(0)
	}
	return sum
}

func putUint64BE(b []byte, v uint64) {
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
}

func getUint64BE(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(b[i])
	}
	return v
}

// appendVarint encodes v as a base-128 varint (7 payload bits per byte,
// high bit set on every byte but the last), the same encoding protobuf
// uses.
func appendVarint(out []byte, v uint64) []byte {
	for {
		b := byte(v & 0x7F)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if v == 0 {
			return out
		}
	}
}

func readVarint(data []byte, pos int) (uint64, int, error) {
	var result uint64
	var shift uint
	for {
		if pos >= len(data) {
			return 0, 0, fmt.Errorf("record: truncated varint")
		}
		b := data[pos]
		pos++
		result |= uint64(b&0x7F) << shift
		if b&0x80 == 0 {
			return result, pos, nil
		}
		shift += 7
		if shift >= 64 {
			return 0, 0, fmt.Errorf("record: varint exceeds 64 bits")
		}
	}
}
