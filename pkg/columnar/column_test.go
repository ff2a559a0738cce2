package columnar

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInt64Column_PushGet(t *testing.T) {
	c := NewInt64Column()
	for i := int64(0); i < 5000; i++ {
		c.Push(i)
	}
	assert.Equal(t, 5000, c.Len())
	assert.Equal(t, int64(0), c.At(0))
	assert.Equal(t, int64(4999), c.At(4999))

	sum := int64(0)
	c.Iter(func(i int, v any) bool {
		sum += v.(int64)
		return true
	})
	assert.Equal(t, int64(4999*5000/2), sum)
}

func TestInt64Column_IterStopsEarly(t *testing.T) {
	c := NewInt64Column()
	for i := int64(0); i < 10; i++ {
		c.Push(i)
	}
	var seen []int64
	c.Iter(func(i int, v any) bool {
		seen = append(seen, v.(int64))
		return len(seen) < 3
	})
	assert.Equal(t, []int64{0, 1, 2}, seen)
}

func TestFloat64Column_PushGet(t *testing.T) {
	c := NewFloat64Column()
	for i := 0; i < 3000; i++ {
		c.Push(float64(i) * 0.5)
	}
	assert.Equal(t, 3000, c.Len())
	assert.Equal(t, 0.0, c.At(0))
	assert.Equal(t, 1499.5, c.At(2999))
}

func TestBoolColumn_PushGet(t *testing.T) {
	c := NewBoolColumn()
	for i := 0; i < 2000; i++ {
		c.Push(i%2 == 0)
	}
	assert.Equal(t, 2000, c.Len())
	assert.True(t, c.At(0))
	assert.False(t, c.At(1))
	assert.True(t, c.At(1998))
}

func TestStringColumn_PushGet(t *testing.T) {
	c := NewStringColumn()
	words := []string{"alpha", "beta", "gamma", "delta"}
	for _, w := range words {
		c.Push(w)
	}
	assert.Equal(t, len(words), c.Len())
	for i, w := range words {
		assert.Equal(t, w, c.At(i))
	}
}

func TestStringColumn_GrowsAcrossPages(t *testing.T) {
	c := NewStringColumn()
	big := make([]byte, pageSize)
	for i := range big {
		big[i] = 'x'
	}
	c.Push(string(big))
	c.Push("tail")
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, "tail", c.At(1))
	assert.Len(t, c.At(0), pageSize)
}

func TestTable_ColumnByName(t *testing.T) {
	tbl := NewTable([]string{"n.id", "n.name"}, []Kind{KindInt64, KindString})
	idCol, ok := tbl.ColumnByName("n.id")
	assert.True(t, ok)
	assert.Equal(t, KindInt64, idCol.Kind())

	_, ok = tbl.ColumnByName("missing")
	assert.False(t, ok)
}
