package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticedb/graphcore/pkg/catalog"
	"github.com/latticedb/graphcore/pkg/errkind"
	"github.com/latticedb/graphcore/pkg/index"
	"github.com/latticedb/graphcore/pkg/lock"
	"github.com/latticedb/graphcore/pkg/record"
	"github.com/latticedb/graphcore/pkg/wal"
)

func openTestEngine(t *testing.T) (*Engine, *catalog.Catalog) {
	t.Helper()
	dir := t.TempDir()

	cat, err := catalog.Open(dir + "/catalog")
	require.NoError(t, err)
	t.Cleanup(func() { cat.Close() })

	w, err := wal.Open(dir+"/wal", wal.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })

	locks := lock.NewManager(time.Second, 1000)

	e, err := Open(Options{DataDir: dir}, cat, w, locks)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })

	return e, cat
}

func TestCreateAndGetNode(t *testing.T) {
	e, cat := openTestEngine(t)
	label, err := cat.InternLabel("Person")
	require.NoError(t, err)
	nameKey, err := cat.InternPropertyKey("name")
	require.NoError(t, err)

	pending := index.NewPendingSet()
	id, err := e.CreateNode(1, pending, []catalog.ID{label}, map[catalog.ID]record.Value{nameKey: record.Str("Ada")})
	require.NoError(t, err)
	pending.Commit()
	e.EndTxn(1)

	n, err := e.GetNode(id)
	require.NoError(t, err)
	assert.True(t, n.HasLabel(label))
	assert.Equal(t, record.Str("Ada"), n.Properties[nameKey])
}

func TestGetNodeMissingErrors(t *testing.T) {
	e, _ := openTestEngine(t)
	_, err := e.GetNode(record.NodeID(9999))
	assert.Error(t, err)
}

func TestDeleteNodeWithoutDetachRejectsWhenAdjacent(t *testing.T) {
	e, cat := openTestEngine(t)
	label, err := cat.InternLabel("Person")
	require.NoError(t, err)
	relType, err := cat.InternRelType("KNOWS")
	require.NoError(t, err)

	pending := index.NewPendingSet()
	a, err := e.CreateNode(1, pending, []catalog.ID{label}, nil)
	require.NoError(t, err)
	b, err := e.CreateNode(1, pending, []catalog.ID{label}, nil)
	require.NoError(t, err)
	_, err = e.CreateRelationship(1, pending, relType, a, b, nil)
	require.NoError(t, err)
	pending.Commit()
	e.EndTxn(1)

	pending2 := index.NewPendingSet()
	err = e.DeleteNode(2, pending2, a, []catalog.ID{label}, false)
	assert.Error(t, err)
	kind, ok := errkind.Of(err)
	assert.True(t, ok)
	assert.Equal(t, errkind.DeleteNodeWithRelationships, kind)
}

func TestDeleteNodeDetachSucceedsWithAdjacency(t *testing.T) {
	e, cat := openTestEngine(t)
	label, err := cat.InternLabel("Person")
	require.NoError(t, err)
	relType, err := cat.InternRelType("KNOWS")
	require.NoError(t, err)

	pending := index.NewPendingSet()
	a, err := e.CreateNode(1, pending, []catalog.ID{label}, nil)
	require.NoError(t, err)
	b, err := e.CreateNode(1, pending, []catalog.ID{label}, nil)
	require.NoError(t, err)
	_, err = e.CreateRelationship(1, pending, relType, a, b, nil)
	require.NoError(t, err)
	pending.Commit()
	e.EndTxn(1)

	pending2 := index.NewPendingSet()
	err = e.DeleteNode(2, pending2, a, []catalog.ID{label}, true)
	require.NoError(t, err)
	pending2.Commit()
	e.EndTxn(2)

	_, err = e.GetNode(a)
	assert.Error(t, err)
}

func TestDeleteNodeRemovesFromLabelIndex(t *testing.T) {
	e, cat := openTestEngine(t)
	label, err := cat.InternLabel("Person")
	require.NoError(t, err)

	pending := index.NewPendingSet()
	id, err := e.CreateNode(1, pending, []catalog.ID{label}, nil)
	require.NoError(t, err)
	pending.Commit()
	e.EndTxn(1)

	require.ElementsMatch(t, []record.NodeID{id}, e.NodesWithLabels(2, []catalog.ID{label}))

	pending2 := index.NewPendingSet()
	require.NoError(t, e.DeleteNode(2, pending2, id, []catalog.ID{label}, false))
	pending2.Commit()
	e.EndTxn(2)

	assert.Empty(t, e.NodesWithLabels(3, []catalog.ID{label}))
}

func TestCreateRelationshipAndAdjacency(t *testing.T) {
	e, cat := openTestEngine(t)
	label, err := cat.InternLabel("Person")
	require.NoError(t, err)
	relType, err := cat.InternRelType("KNOWS")
	require.NoError(t, err)

	pending := index.NewPendingSet()
	a, err := e.CreateNode(1, pending, []catalog.ID{label}, nil)
	require.NoError(t, err)
	b, err := e.CreateNode(1, pending, []catalog.ID{label}, nil)
	require.NoError(t, err)
	relID, err := e.CreateRelationship(1, pending, relType, a, b, map[catalog.ID]record.Value{})
	require.NoError(t, err)
	pending.Commit()
	e.EndTxn(1)

	rel, err := e.GetRelationship(relID)
	require.NoError(t, err)
	assert.Equal(t, a, rel.Start)
	assert.Equal(t, b, rel.End)
	assert.Equal(t, relType, rel.Type)

	out, err := e.Outgoing(a)
	require.NoError(t, err)
	assert.ElementsMatch(t, []record.RelID{relID}, out)

	in, err := e.Incoming(b)
	require.NoError(t, err)
	assert.ElementsMatch(t, []record.RelID{relID}, in)
}

func TestOutgoingRoundTripsLargeAdjacencyThroughCompression(t *testing.T) {
	e, cat := openTestEngine(t)
	label, err := cat.InternLabel("Person")
	require.NoError(t, err)
	relType, err := cat.InternRelType("KNOWS")
	require.NoError(t, err)

	pending := index.NewPendingSet()
	hub, err := e.CreateNode(1, pending, []catalog.ID{label}, nil)
	require.NoError(t, err)

	const fanOut = 1200 // past ChooseCompressionType's delta threshold
	want := make([]record.RelID, 0, fanOut)
	for i := 0; i < fanOut; i++ {
		leaf, err := e.CreateNode(1, pending, []catalog.ID{label}, nil)
		require.NoError(t, err)
		relID, err := e.CreateRelationship(1, pending, relType, hub, leaf, nil)
		require.NoError(t, err)
		want = append(want, relID)
	}
	pending.Commit()
	e.EndTxn(1)

	out, err := e.Outgoing(hub)
	require.NoError(t, err)
	assert.ElementsMatch(t, want, out)
}

func TestDeleteRelationshipRemovesAdjacencyAndIndex(t *testing.T) {
	e, cat := openTestEngine(t)
	relType, err := cat.InternRelType("KNOWS")
	require.NoError(t, err)

	pending := index.NewPendingSet()
	a, err := e.CreateNode(1, pending, nil, nil)
	require.NoError(t, err)
	b, err := e.CreateNode(1, pending, nil, nil)
	require.NoError(t, err)
	relID, err := e.CreateRelationship(1, pending, relType, a, b, nil)
	require.NoError(t, err)
	pending.Commit()
	e.EndTxn(1)

	require.ElementsMatch(t, []record.RelID{relID}, e.RelationshipsOfType(2, relType))

	pending2 := index.NewPendingSet()
	require.NoError(t, e.DeleteRelationship(2, pending2, relID, relType, a, b))
	pending2.Commit()
	e.EndTxn(2)

	out, err := e.Outgoing(a)
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Empty(t, e.RelationshipsOfType(3, relType))
}

func TestCreateNodeStagesEmbeddingIntoVectorIndex(t *testing.T) {
	e, cat := openTestEngine(t)
	embKey, err := cat.InternPropertyKey("embedding")
	require.NoError(t, err)

	pending := index.NewPendingSet()
	a, err := e.CreateNode(1, pending, nil, map[catalog.ID]record.Value{
		embKey: record.List([]record.Value{record.Float(1), record.Float(0), record.Float(0)}),
	})
	require.NoError(t, err)
	b, err := e.CreateNode(1, pending, nil, map[catalog.ID]record.Value{
		embKey: record.List([]record.Value{record.Float(0), record.Float(1), record.Float(0)}),
	})
	require.NoError(t, err)
	pending.Commit()
	e.EndTxn(1)

	results, err := e.NearestByEmbedding(embKey, []float32{1, 0, 0}, 1, -1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, uint64(a), results[0].Node)
	_ = b
}

func TestCreateNodeRejectsMismatchedEmbeddingDimensions(t *testing.T) {
	e, cat := openTestEngine(t)
	embKey, err := cat.InternPropertyKey("embedding")
	require.NoError(t, err)

	pending := index.NewPendingSet()
	_, err = e.CreateNode(1, pending, nil, map[catalog.ID]record.Value{
		embKey: record.List([]record.Value{record.Float(1), record.Float(0)}),
	})
	require.NoError(t, err)
	pending.Commit()
	e.EndTxn(1)

	pending2 := index.NewPendingSet()
	_, err = e.CreateNode(2, pending2, nil, map[catalog.ID]record.Value{
		embKey: record.List([]record.Value{record.Float(1), record.Float(0), record.Float(0)}),
	})
	assert.Error(t, err)
}

func TestDeleteNodeUnstagesEmbeddingFromVectorIndex(t *testing.T) {
	e, cat := openTestEngine(t)
	embKey, err := cat.InternPropertyKey("embedding")
	require.NoError(t, err)

	pending := index.NewPendingSet()
	id, err := e.CreateNode(1, pending, nil, map[catalog.ID]record.Value{
		embKey: record.List([]record.Value{record.Float(1), record.Float(0)}),
	})
	require.NoError(t, err)
	pending.Commit()
	e.EndTxn(1)

	pending2 := index.NewPendingSet()
	require.NoError(t, e.DeleteNode(2, pending2, id, nil, false))
	pending2.Commit()
	e.EndTxn(2)

	results, err := e.NearestByEmbedding(embKey, []float32{1, 0}, 5, -1)
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, uint64(id), r.Node)
	}
}

func TestNearestByEmbeddingOnUnknownKeyReturnsNil(t *testing.T) {
	e, cat := openTestEngine(t)
	embKey, err := cat.InternPropertyKey("embedding")
	require.NoError(t, err)

	results, err := e.NearestByEmbedding(embKey, []float32{1, 0}, 5, -1)
	require.NoError(t, err)
	assert.Nil(t, results)
}

func TestSpatialQueriesWireThroughStorageEngine(t *testing.T) {
	e, cat := openTestEngine(t)
	locKey, err := cat.InternPropertyKey("location")
	require.NoError(t, err)

	pending := index.NewPendingSet()
	near, err := e.CreateNode(1, pending, nil, map[catalog.ID]record.Value{
		locKey: record.PointVal(record.Point{System: record.CoordCartesian, X: 1, Y: 1}),
	})
	require.NoError(t, err)
	far, err := e.CreateNode(1, pending, nil, map[catalog.ID]record.Value{
		locKey: record.PointVal(record.Point{System: record.CoordCartesian, X: 500, Y: 500}),
	})
	require.NoError(t, err)
	pending.Commit()
	e.EndTxn(1)

	center := record.Point{System: record.CoordCartesian, X: 0, Y: 0}

	within := e.PointsWithinDistance(2, center, 5)
	assert.ElementsMatch(t, []record.NodeID{near}, within)

	nearest := e.NearestPoints(2, center, 1)
	require.Len(t, nearest, 1)
	assert.Equal(t, uint64(near), nearest[0].Node)

	boxed := e.PointsInBoundingBox(2, record.Point{System: record.CoordCartesian, X: 0, Y: 0}, record.Point{System: record.CoordCartesian, X: 10, Y: 10})
	assert.ElementsMatch(t, []record.NodeID{near}, boxed)

	_ = far
}

func TestUpdateNodePropertiesSetsAndRemoves(t *testing.T) {
	e, cat := openTestEngine(t)
	ageKey, err := cat.InternPropertyKey("age")
	require.NoError(t, err)

	pending := index.NewPendingSet()
	id, err := e.CreateNode(1, pending, nil, map[catalog.ID]record.Value{ageKey: record.Int(10)})
	require.NoError(t, err)
	pending.Commit()
	e.EndTxn(1)

	pending2 := index.NewPendingSet()
	require.NoError(t, e.UpdateNodeProperties(2, pending2, id, map[catalog.ID]record.Value{ageKey: record.Int(20)}))
	pending2.Commit()
	e.EndTxn(2)

	n, err := e.GetNode(id)
	require.NoError(t, err)
	assert.Equal(t, record.Int(20), n.Properties[ageKey])

	pending3 := index.NewPendingSet()
	require.NoError(t, e.UpdateNodeProperties(3, pending3, id, map[catalog.ID]record.Value{ageKey: record.Null()}))
	pending3.Commit()
	e.EndTxn(3)

	n, err = e.GetNode(id)
	require.NoError(t, err)
	_, has := n.Properties[ageKey]
	assert.False(t, has)
}

func TestUpdateRelationshipProperties(t *testing.T) {
	e, cat := openTestEngine(t)
	relType, err := cat.InternRelType("KNOWS")
	require.NoError(t, err)
	sinceKey, err := cat.InternPropertyKey("since")
	require.NoError(t, err)

	pending := index.NewPendingSet()
	a, err := e.CreateNode(1, pending, nil, nil)
	require.NoError(t, err)
	b, err := e.CreateNode(1, pending, nil, nil)
	require.NoError(t, err)
	relID, err := e.CreateRelationship(1, pending, relType, a, b, nil)
	require.NoError(t, err)
	pending.Commit()
	e.EndTxn(1)

	pending2 := index.NewPendingSet()
	require.NoError(t, e.UpdateRelationshipProperties(2, pending2, relID, map[catalog.ID]record.Value{sinceKey: record.Int(2020)}))
	pending2.Commit()
	e.EndTxn(2)

	rel, err := e.GetRelationship(relID)
	require.NoError(t, err)
	assert.Equal(t, record.Int(2020), rel.Properties[sinceKey])
}

func TestAddAndRemoveNodeLabel(t *testing.T) {
	e, cat := openTestEngine(t)
	person, err := cat.InternLabel("Person")
	require.NoError(t, err)
	admin, err := cat.InternLabel("Admin")
	require.NoError(t, err)

	pending := index.NewPendingSet()
	id, err := e.CreateNode(1, pending, []catalog.ID{person}, nil)
	require.NoError(t, err)
	pending.Commit()
	e.EndTxn(1)

	pending2 := index.NewPendingSet()
	require.NoError(t, e.AddNodeLabel(2, pending2, id, admin))
	pending2.Commit()
	e.EndTxn(2)

	n, err := e.GetNode(id)
	require.NoError(t, err)
	assert.True(t, n.HasLabel(admin))
	assert.ElementsMatch(t, []record.NodeID{id}, e.NodesWithLabels(3, []catalog.ID{admin}))

	pending3 := index.NewPendingSet()
	require.NoError(t, e.RemoveNodeLabel(3, pending3, id, admin))
	pending3.Commit()
	e.EndTxn(3)

	n, err = e.GetNode(id)
	require.NoError(t, err)
	assert.False(t, n.HasLabel(admin))
}

func TestAddNodeLabelIsIdempotent(t *testing.T) {
	e, cat := openTestEngine(t)
	person, err := cat.InternLabel("Person")
	require.NoError(t, err)

	pending := index.NewPendingSet()
	id, err := e.CreateNode(1, pending, []catalog.ID{person}, nil)
	require.NoError(t, err)
	pending.Commit()
	e.EndTxn(1)

	pending2 := index.NewPendingSet()
	require.NoError(t, e.AddNodeLabel(2, pending2, id, person))
	pending2.Commit()
	e.EndTxn(2)

	n, err := e.GetNode(id)
	require.NoError(t, err)
	assert.Len(t, n.Labels, 1)
}

func TestNodesWithLabelsEmptyReturnsNil(t *testing.T) {
	e, _ := openTestEngine(t)
	assert.Nil(t, e.NodesWithLabels(1, nil))
}

func TestScanNodesVisitsAll(t *testing.T) {
	e, _ := openTestEngine(t)
	pending := index.NewPendingSet()
	_, err := e.CreateNode(1, pending, nil, nil)
	require.NoError(t, err)
	_, err = e.CreateNode(1, pending, nil, nil)
	require.NoError(t, err)
	pending.Commit()
	e.EndTxn(1)

	var count int
	require.NoError(t, e.ScanNodes(func(n *record.Node) error {
		count++
		return nil
	}))
	assert.Equal(t, 2, count)
}

func TestScanNodesStopsOnErrStopScan(t *testing.T) {
	e, _ := openTestEngine(t)
	pending := index.NewPendingSet()
	_, err := e.CreateNode(1, pending, nil, nil)
	require.NoError(t, err)
	_, err = e.CreateNode(1, pending, nil, nil)
	require.NoError(t, err)
	pending.Commit()
	e.EndTxn(1)

	var count int
	err = e.ScanNodes(func(n *record.Node) error {
		count++
		return ErrStopScan
	})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestFlushSucceeds(t *testing.T) {
	e, _ := openTestEngine(t)
	pending := index.NewPendingSet()
	_, err := e.CreateNode(1, pending, nil, nil)
	require.NoError(t, err)
	pending.Commit()
	e.EndTxn(1)

	assert.NoError(t, e.Flush())
}

func TestCatalogAccessor(t *testing.T) {
	e, cat := openTestEngine(t)
	assert.Same(t, cat, e.Catalog())
}
