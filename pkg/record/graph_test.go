package record

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/latticedb/graphcore/pkg/catalog"
)

func TestNodeHasLabel(t *testing.T) {
	n := &Node{Labels: []catalog.ID{1, 3, 5}}
	assert.True(t, n.HasLabel(3))
	assert.False(t, n.HasLabel(4))
}

func TestNodeCloneIsIndependent(t *testing.T) {
	z := 2.0
	n := &Node{
		ID:         1,
		Labels:     []catalog.ID{1, 2},
		Properties: map[catalog.ID]Value{1: Int(5)},
		Embedding:  []float32{1, 2, 3},
		Point:      &Point{X: 1, Y: 2, Z: &z},
	}
	clone := n.Clone()

	clone.Labels[0] = 99
	clone.Properties[1] = Int(99)
	clone.Embedding[0] = 99
	clone.Point.X = 99

	assert.Equal(t, catalog.ID(1), n.Labels[0])
	assert.Equal(t, Int(5), n.Properties[1])
	assert.Equal(t, float32(1), n.Embedding[0])
	assert.Equal(t, 1.0, n.Point.X)
}

func TestNodeCloneNilReceiver(t *testing.T) {
	var n *Node
	assert.Nil(t, n.Clone())
}

func TestRelationshipCloneIsIndependent(t *testing.T) {
	r := &Relationship{ID: 1, Start: 2, End: 3, Type: 4, Properties: map[catalog.ID]Value{1: Int(1)}}
	clone := r.Clone()
	clone.Properties[1] = Int(99)
	assert.Equal(t, Int(1), r.Properties[1])
	assert.Equal(t, r.Start, clone.Start)
}

func TestRelationshipCloneNilReceiver(t *testing.T) {
	var r *Relationship
	assert.Nil(t, r.Clone())
}
