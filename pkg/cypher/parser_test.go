package cypher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, src string) *Query {
	t.Helper()
	q, err := NewParser(src).ParseQuery()
	require.NoError(t, err)
	return q
}

func TestParseSimpleMatchReturn(t *testing.T) {
	q := parse(t, "MATCH (n:Person) RETURN n")
	require.Len(t, q.Clauses, 2)

	mc, ok := q.Clauses[0].(*MatchClause)
	require.True(t, ok)
	require.Len(t, mc.Parts, 1)
	require.Len(t, mc.Parts[0].Nodes, 1)
	assert.Equal(t, "n", mc.Parts[0].Nodes[0].Variable)
	assert.Equal(t, []string{"Person"}, mc.Parts[0].Nodes[0].Labels)

	rc, ok := q.Clauses[1].(*ReturnClause)
	require.True(t, ok)
	require.Len(t, rc.Items, 1)
}

func TestParseMatchWithWhere(t *testing.T) {
	q := parse(t, "MATCH (n:Person) WHERE n.age > 18 RETURN n")
	mc := q.Clauses[0].(*MatchClause)
	require.NotNil(t, mc.Where)
	be, ok := mc.Where.(*BinaryExpr)
	require.True(t, ok)
	assert.Equal(t, ">", be.Op)
}

func TestParseCreateWithProperties(t *testing.T) {
	q := parse(t, `CREATE (n:Person {name: "Ada", age: 30})`)
	cc, ok := q.Clauses[0].(*CreateClause)
	require.True(t, ok)
	require.Len(t, cc.Parts, 1)
	np := cc.Parts[0].Nodes[0]
	assert.Equal(t, []string{"Person"}, np.Labels)
	require.Contains(t, np.Properties, "name")
	require.Contains(t, np.Properties, "age")
}

func TestParseRelationshipPattern(t *testing.T) {
	q := parse(t, "MATCH (a)-[r:KNOWS]->(b) RETURN r")
	mc := q.Clauses[0].(*MatchClause)
	part := mc.Parts[0]
	require.Len(t, part.Edges, 1)
	assert.Equal(t, "r", part.Edges[0].Variable)
	assert.Equal(t, []string{"KNOWS"}, part.Edges[0].Types)
	assert.Equal(t, DirRight, part.Edges[0].Direction)
}

func TestParseLeftAndEitherDirection(t *testing.T) {
	q := parse(t, "MATCH (a)<-[:KNOWS]-(b) RETURN a")
	mc := q.Clauses[0].(*MatchClause)
	assert.Equal(t, DirLeft, mc.Parts[0].Edges[0].Direction)

	q2 := parse(t, "MATCH (a)-[:KNOWS]-(b) RETURN a")
	mc2 := q2.Clauses[0].(*MatchClause)
	assert.Equal(t, DirEither, mc2.Parts[0].Edges[0].Direction)
}

func TestParseDeleteAndDetachDelete(t *testing.T) {
	q := parse(t, "MATCH (n) DETACH DELETE n")
	dc, ok := q.Clauses[1].(*DeleteClause)
	require.True(t, ok)
	assert.True(t, dc.Detach)
	assert.Equal(t, []string{"n"}, dc.Variables)
}

func TestParseSetPropertyAndLabel(t *testing.T) {
	q := parse(t, "MATCH (n) SET n.age = 21, n:Admin RETURN n")
	sc, ok := q.Clauses[1].(*SetClause)
	require.True(t, ok)
	require.Len(t, sc.Items, 2)
	assert.Equal(t, "age", sc.Items[0].Property)
	assert.Equal(t, "Admin", sc.Items[1].Label)
}

func TestParseRemovePropertyAndLabel(t *testing.T) {
	q := parse(t, "MATCH (n) REMOVE n.age RETURN n")
	rc, ok := q.Clauses[1].(*RemoveClause)
	require.True(t, ok)
	assert.Equal(t, "age", rc.Property)
}

func TestParseUnwind(t *testing.T) {
	q := parse(t, "UNWIND [1, 2, 3] AS x RETURN x")
	uc, ok := q.Clauses[0].(*UnwindClause)
	require.True(t, ok)
	assert.Equal(t, "x", uc.Variable)
	_, isList := uc.Expr.(*ListExpr)
	assert.True(t, isList)
}

func TestParseTxControl(t *testing.T) {
	for _, kw := range []string{"BEGIN", "COMMIT", "ROLLBACK"} {
		q := parse(t, kw)
		tc, ok := q.Clauses[0].(*TxControlClause)
		require.True(t, ok)
		assert.Equal(t, kw, tc.Kind)
	}
}

func TestParseUnionAll(t *testing.T) {
	q := parse(t, "MATCH (n) RETURN n UNION ALL MATCH (m) RETURN m")
	require.Len(t, q.Union, 1)
	assert.True(t, q.UnionAll)
}

func TestParseOrderByLimitSkip(t *testing.T) {
	q := parse(t, "MATCH (n) RETURN n ORDER BY n.age DESC SKIP 1 LIMIT 5")
	rc := q.Clauses[1].(*ReturnClause)
	require.Len(t, rc.OrderBy, 1)
	assert.True(t, rc.OrderBy[0].Descending)
	assert.NotNil(t, rc.Limit)
	assert.NotNil(t, rc.Skip)
}

func TestParseReturnDistinct(t *testing.T) {
	q := parse(t, "MATCH (n) RETURN DISTINCT n")
	rc := q.Clauses[1].(*ReturnClause)
	assert.True(t, rc.Distinct)
}

func TestParseParamLiteral(t *testing.T) {
	q := parse(t, "RETURN $name")
	rc := q.Clauses[0].(*ReturnClause)
	_, ok := rc.Items[0].Expr.(*ParamExpr)
	assert.True(t, ok)
}

func TestParseFunctionCall(t *testing.T) {
	q := parse(t, "RETURN count(n)")
	rc := q.Clauses[0].(*ReturnClause)
	fc, ok := rc.Items[0].Expr.(*FunctionCallExpr)
	require.True(t, ok)
	assert.Equal(t, "count", fc.Name)
}

func TestParseMultiLabelNode(t *testing.T) {
	q := parse(t, "MATCH (n:Person:Admin) RETURN n")
	mc := q.Clauses[0].(*MatchClause)
	assert.Equal(t, []string{"Person", "Admin"}, mc.Parts[0].Nodes[0].Labels)
}

func TestParseSyntaxErrorOnTrailingInput(t *testing.T) {
	_, err := NewParser("RETURN 1 GARBAGE").ParseQuery()
	assert.Error(t, err)
}

func TestParseSyntaxErrorOnMissingVariableInDelete(t *testing.T) {
	_, err := NewParser("DELETE 5").ParseQuery()
	assert.Error(t, err)
}

func TestParseCallProcedureWithYield(t *testing.T) {
	q := parse(t, "CALL dbms.listConnections() YIELD connectionId RETURN connectionId")
	cc, ok := q.Clauses[0].(*CallClause)
	require.True(t, ok)
	assert.Equal(t, "dbms.listConnections", cc.Procedure)
	assert.Equal(t, []string{"connectionId"}, cc.Yield)
}
