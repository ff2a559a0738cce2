package cypher

import (
	"github.com/latticedb/graphcore/pkg/errkind"
	"github.com/latticedb/graphcore/pkg/record"
)

// argFloat coerces a procedure argument's evaluated value to float64,
// accepting both Cypher integer and float literals.
func argFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// argInt coerces a procedure argument's evaluated value to int, accepting
// both Cypher integer and float literals.
func argInt(v any) (int, bool) {
	f, ok := argFloat(v)
	return int(f), ok
}

// argVector coerces a procedure argument's evaluated value (a Cypher list
// literal) to a []float32 embedding.
func argVector(v any) ([]float32, bool) {
	items, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]float32, len(items))
	for i, item := range items {
		f, ok := argFloat(item)
		if !ok {
			return nil, false
		}
		out[i] = float32(f)
	}
	return out, true
}

// evalProcArg evaluates a CALL procedure argument expression. Procedure
// arguments are always literals (no bound row/params context is available
// at CALL-resolution time), matching the existing dbms.* procedures.
func evalProcArg(arg Expr) (any, error) {
	return evalExpr(&evalCtx{}, Row{}, arg)
}

// ProcHost is the runtime surface DBMS procedures (spec §4.9's CALL
// clause) call into. The session layer's Manager implements it and is
// wired in through Executor.SetProcHost, since it knows about running
// sessions, configuration, and the plan cache — the planner and operator
// pipeline otherwise never see that state.
type ProcHost interface {
	CurrentUser() string
	ConfigEntries() map[string]string
	Connections() []ConnectionInfo
	KillQuery(queryID string) bool
	ClearQueryCaches()
}

// ConnectionInfo is one row of dbms.listConnections.
type ConnectionInfo struct {
	ConnectionID  string
	Username      string
	ClientAddress string
}

// callProcedure resolves one CALL clause against pl.procHost. An
// unresolvable procedure name is a semantic error, the same treatment
// eval.go gives an unknown function name.
func callProcedure(pl *planner, c *CallClause) ([]Row, []string, error) {
	switch c.Procedure {
	case "db.index.vector.search":
		return callVectorSearch(pl, c)

	case "db.index.spatial.withinDistance":
		return callSpatialWithinDistance(pl, c)

	case "db.index.spatial.nearest":
		return callSpatialNearest(pl, c)

	case "db.index.spatial.boundingBox":
		return callSpatialBoundingBox(pl, c)
	}

	if pl.procHost == nil {
		return nil, nil, errkind.New(errkind.Runtime, "cypher: no procedure host configured for this session")
	}
	switch c.Procedure {
	case "dbms.showCurrentUser":
		row := newRow()
		row.Vals["username"] = record.Str(pl.procHost.CurrentUser())
		return []Row{row}, []string{"username"}, nil

	case "dbms.listConfig":
		var rows []Row
		for k, v := range pl.procHost.ConfigEntries() {
			row := newRow()
			row.Vals["name"] = record.Str(k)
			row.Vals["value"] = record.Str(v)
			rows = append(rows, row)
		}
		return rows, []string{"name", "value"}, nil

	case "dbms.listConnections":
		var rows []Row
		for _, conn := range pl.procHost.Connections() {
			row := newRow()
			row.Vals["connectionId"] = record.Str(conn.ConnectionID)
			row.Vals["username"] = record.Str(conn.Username)
			row.Vals["clientAddress"] = record.Str(conn.ClientAddress)
			rows = append(rows, row)
		}
		return rows, []string{"connectionId", "username", "clientAddress"}, nil

	case "dbms.killQuery":
		if len(c.Args) == 0 {
			return nil, nil, errkind.New(errkind.Semantic, "dbms.killQuery requires a query id argument")
		}
		v, err := evalExpr(&evalCtx{}, Row{}, c.Args[0])
		if err != nil {
			return nil, nil, err
		}
		id, _ := v.(string)
		row := newRow()
		row.Vals["success"] = record.Bool(pl.procHost.KillQuery(id))
		return []Row{row}, []string{"success"}, nil

	case "dbms.clearQueryCaches":
		pl.procHost.ClearQueryCaches()
		return nil, nil, nil

	default:
		return nil, nil, errkind.New(errkind.Semantic, "cypher: unknown procedure "+c.Procedure)
	}
}

// callVectorSearch implements CALL db.index.vector.search(propertyKey,
// queryVector, k [, minSimilarity]) YIELD nodeId, score — a k-NN lookup
// against the HNSW vector index staged for propertyKey (spec §4.4).
func callVectorSearch(pl *planner, c *CallClause) ([]Row, []string, error) {
	if len(c.Args) < 3 {
		return nil, nil, errkind.New(errkind.Semantic, "db.index.vector.search requires (propertyKey, vector, k) arguments")
	}
	keyVal, err := evalProcArg(c.Args[0])
	if err != nil {
		return nil, nil, err
	}
	propName, ok := keyVal.(string)
	if !ok {
		return nil, nil, errkind.New(errkind.Semantic, "db.index.vector.search's propertyKey argument must be a string")
	}
	propID, err := pl.cat.InternPropertyKey(propName)
	if err != nil {
		return nil, nil, err
	}

	vecVal, err := evalProcArg(c.Args[1])
	if err != nil {
		return nil, nil, err
	}
	vec, ok := argVector(vecVal)
	if !ok {
		return nil, nil, errkind.New(errkind.Semantic, "db.index.vector.search's vector argument must be a list of numbers")
	}

	kVal, err := evalProcArg(c.Args[2])
	if err != nil {
		return nil, nil, err
	}
	k, ok := argInt(kVal)
	if !ok {
		return nil, nil, errkind.New(errkind.Semantic, "db.index.vector.search's k argument must be a number")
	}

	minSimilarity := 0.0
	if len(c.Args) > 3 {
		msVal, err := evalProcArg(c.Args[3])
		if err != nil {
			return nil, nil, err
		}
		if f, ok := argFloat(msVal); ok {
			minSimilarity = f
		}
	}

	results, err := pl.engine.NearestByEmbedding(propID, vec, k, minSimilarity)
	if err != nil {
		return nil, nil, errkind.Wrap(errkind.Semantic, "db.index.vector.search", err)
	}
	rows := make([]Row, len(results))
	for i, r := range results {
		row := newRow()
		row.Vals["nodeId"] = record.Int(int64(r.Node))
		row.Vals["score"] = record.Float(r.Score)
		rows[i] = row
	}
	return rows, []string{"nodeId", "score"}, nil
}

// cartesianPointArgs evaluates a (x, y) or (x, y, z) argument prefix
// starting at c.Args[from] into a Cartesian record.Point.
func cartesianPointArgs(c *CallClause, from int) (record.Point, error) {
	xVal, err := evalProcArg(c.Args[from])
	if err != nil {
		return record.Point{}, err
	}
	yVal, err := evalProcArg(c.Args[from+1])
	if err != nil {
		return record.Point{}, err
	}
	x, ok := argFloat(xVal)
	if !ok {
		return record.Point{}, errkind.New(errkind.Semantic, "spatial procedure argument must be a number")
	}
	y, ok := argFloat(yVal)
	if !ok {
		return record.Point{}, errkind.New(errkind.Semantic, "spatial procedure argument must be a number")
	}
	return record.Point{System: record.CoordCartesian, X: x, Y: y}, nil
}

// callSpatialWithinDistance implements CALL db.index.spatial.withinDistance(x,
// y, radius) YIELD nodeId — every node within radius of (x,y) (spec §4.4).
func callSpatialWithinDistance(pl *planner, c *CallClause) ([]Row, []string, error) {
	if len(c.Args) < 3 {
		return nil, nil, errkind.New(errkind.Semantic, "db.index.spatial.withinDistance requires (x, y, radius) arguments")
	}
	center, err := cartesianPointArgs(c, 0)
	if err != nil {
		return nil, nil, err
	}
	radiusVal, err := evalProcArg(c.Args[2])
	if err != nil {
		return nil, nil, err
	}
	radius, ok := argFloat(radiusVal)
	if !ok {
		return nil, nil, errkind.New(errkind.Semantic, "db.index.spatial.withinDistance's radius argument must be a number")
	}
	ids := pl.engine.PointsWithinDistance(pl.txn, center, radius)
	rows := make([]Row, len(ids))
	for i, id := range ids {
		row := newRow()
		row.Vals["nodeId"] = record.Int(int64(id))
		rows[i] = row
	}
	return rows, []string{"nodeId"}, nil
}

// callSpatialNearest implements CALL db.index.spatial.nearest(x, y, k)
// YIELD nodeId, score — the k closest indexed points to (x,y).
func callSpatialNearest(pl *planner, c *CallClause) ([]Row, []string, error) {
	if len(c.Args) < 3 {
		return nil, nil, errkind.New(errkind.Semantic, "db.index.spatial.nearest requires (x, y, k) arguments")
	}
	center, err := cartesianPointArgs(c, 0)
	if err != nil {
		return nil, nil, err
	}
	kVal, err := evalProcArg(c.Args[2])
	if err != nil {
		return nil, nil, err
	}
	k, ok := argInt(kVal)
	if !ok {
		return nil, nil, errkind.New(errkind.Semantic, "db.index.spatial.nearest's k argument must be a number")
	}
	results := pl.engine.NearestPoints(pl.txn, center, k)
	rows := make([]Row, len(results))
	for i, r := range results {
		row := newRow()
		row.Vals["nodeId"] = record.Int(int64(r.Node))
		row.Vals["score"] = record.Float(r.Score)
		rows[i] = row
	}
	return rows, []string{"nodeId", "score"}, nil
}

// callSpatialBoundingBox implements CALL db.index.spatial.boundingBox(minX,
// minY, maxX, maxY) YIELD nodeId — every indexed point inside the box
// (spec §4.4's bounding-box query).
func callSpatialBoundingBox(pl *planner, c *CallClause) ([]Row, []string, error) {
	if len(c.Args) < 4 {
		return nil, nil, errkind.New(errkind.Semantic, "db.index.spatial.boundingBox requires (minX, minY, maxX, maxY) arguments")
	}
	lo, err := cartesianPointArgs(c, 0)
	if err != nil {
		return nil, nil, err
	}
	hi, err := cartesianPointArgs(c, 2)
	if err != nil {
		return nil, nil, err
	}
	ids := pl.engine.PointsInBoundingBox(pl.txn, lo, hi)
	rows := make([]Row, len(ids))
	for i, id := range ids {
		row := newRow()
		row.Vals["nodeId"] = record.Int(int64(id))
		rows[i] = row
	}
	return rows, []string{"nodeId"}, nil
}
