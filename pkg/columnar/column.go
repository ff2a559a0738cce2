package columnar

import (
	"github.com/latticedb/graphcore/pkg/record"
)

// Kind identifies a column's element type.
type Kind int

const (
	KindInt64 Kind = iota
	KindFloat64
	KindBool
	KindString
	KindValue
)

// Column is a typed, page-aligned array exposing push/get/len/iter
// (spec §4.8). The Int64, Float64, Bool and String columns grow their
// backing slice by about a page's worth at a time and take one arena page
// per growth (see arenaPool); ValueColumn grows by plain append.
type Column interface {
	Kind() Kind
	Len() int
	Get(i int) any
	Iter(fn func(i int, v any) bool)
}

// Int64Column stores int64s in a slice that grows pageSize/8 elements
// at a time.
type Int64Column struct {
	pages [][]byte
	data  []int64
}

func NewInt64Column() *Int64Column { return &Int64Column{} }

func (c *Int64Column) Kind() Kind { return KindInt64 }
func (c *Int64Column) Len() int   { return len(c.data) }

func (c *Int64Column) Push(v int64) {
	c.growIfNeeded(8)
	c.data = append(c.data, v)
}

func (c *Int64Column) Get(i int) any { return c.data[i] }

func (c *Int64Column) At(i int) int64 { return c.data[i] }

func (c *Int64Column) Iter(fn func(i int, v any) bool) {
	for i, v := range c.data {
		if !fn(i, v) {
			return
		}
	}
}

// growIfNeeded pulls a fresh page from the arena pool whenever the
// column's logical data slice would need to grow past its current
// backing capacity, keeping allocation page-granular rather than
// per-push.
func (c *Int64Column) growIfNeeded(elemSize int) {
	if len(c.data) < cap(c.data) {
		return
	}
	page := defaultArenaPool.get()
	c.pages = append(c.pages, page)
	extra := pageSize / elemSize
	grown := make([]int64, len(c.data), len(c.data)+extra)
	copy(grown, c.data)
	c.data = grown
}

// Float64Column stores fixed-width float64s.
type Float64Column struct {
	pages [][]byte
	data  []float64
}

func NewFloat64Column() *Float64Column { return &Float64Column{} }

func (c *Float64Column) Kind() Kind { return KindFloat64 }
func (c *Float64Column) Len() int   { return len(c.data) }

func (c *Float64Column) Push(v float64) {
	if len(c.data) >= cap(c.data) {
		c.pages = append(c.pages, defaultArenaPool.get())
		extra := pageSize / 8
		grown := make([]float64, len(c.data), len(c.data)+extra)
		copy(grown, c.data)
		c.data = grown
	}
	c.data = append(c.data, v)
}

func (c *Float64Column) Get(i int) any    { return c.data[i] }
func (c *Float64Column) At(i int) float64 { return c.data[i] }

func (c *Float64Column) Iter(fn func(i int, v any) bool) {
	for i, v := range c.data {
		if !fn(i, v) {
			return
		}
	}
}

// BoolColumn packs booleans one bit per element into page-sized chunks.
type BoolColumn struct {
	pages [][]byte
	bits  []byte
	n     int
}

func NewBoolColumn() *BoolColumn { return &BoolColumn{} }

func (c *BoolColumn) Kind() Kind { return KindBool }
func (c *BoolColumn) Len() int   { return c.n }

func (c *BoolColumn) Push(v bool) {
	byteIdx := c.n / 8
	if byteIdx >= len(c.bits) {
		page := defaultArenaPool.get()
		c.pages = append(c.pages, page)
		c.bits = append(c.bits, make([]byte, pageSize)...)
	}
	if v {
		c.bits[byteIdx] |= 1 << uint(c.n%8)
	}
	c.n++
}

func (c *BoolColumn) Get(i int) any { return c.At(i) }

func (c *BoolColumn) At(i int) bool {
	return c.bits[i/8]&(1<<uint(i%8)) != 0
}

func (c *BoolColumn) Iter(fn func(i int, v any) bool) {
	for i := 0; i < c.n; i++ {
		if !fn(i, c.At(i)) {
			return
		}
	}
}

// StringColumn stores variable-length strings as a byte arena plus an
// offset table, avoiding one small allocation per string.
type StringColumn struct {
	pages   [][]byte
	bytes   []byte
	offsets []int // offsets[i], offsets[i+1] bound string i
}

func NewStringColumn() *StringColumn {
	return &StringColumn{offsets: []int{0}}
}

func (c *StringColumn) Kind() Kind { return KindString }
func (c *StringColumn) Len() int   { return len(c.offsets) - 1 }

func (c *StringColumn) Push(s string) {
	if len(c.bytes)+len(s) > cap(c.bytes) {
		page := defaultArenaPool.get()
		c.pages = append(c.pages, page)
		grown := make([]byte, len(c.bytes), len(c.bytes)+len(s)+pageSize)
		copy(grown, c.bytes)
		c.bytes = grown
	}
	c.bytes = append(c.bytes, s...)
	c.offsets = append(c.offsets, len(c.bytes))
}

func (c *StringColumn) Get(i int) any { return c.At(i) }

func (c *StringColumn) At(i int) string {
	return string(c.bytes[c.offsets[i]:c.offsets[i+1]])
}

func (c *StringColumn) Iter(fn func(i int, v any) bool) {
	for i := 0; i < c.Len(); i++ {
		if !fn(i, c.At(i)) {
			return
		}
	}
}

// ValueColumn stores arbitrary record.Value elements, used for
// projected expressions the other typed columns cannot represent
// (lists, maps, nulls mixed with scalars).
type ValueColumn struct {
	data []record.Value
}

func NewValueColumn() *ValueColumn { return &ValueColumn{} }

func (c *ValueColumn) Kind() Kind { return KindValue }
func (c *ValueColumn) Len() int   { return len(c.data) }

func (c *ValueColumn) Push(v record.Value) { c.data = append(c.data, v) }
func (c *ValueColumn) Get(i int) any       { return c.data[i] }
func (c *ValueColumn) At(i int) record.Value { return c.data[i] }

func (c *ValueColumn) Iter(fn func(i int, v any) bool) {
	for i, v := range c.data {
		if !fn(i, v) {
			return
		}
	}
}
