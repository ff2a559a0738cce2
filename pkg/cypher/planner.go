package cypher

import (
	"github.com/latticedb/graphcore/pkg/catalog"
	"github.com/latticedb/graphcore/pkg/columnar"
	"github.com/latticedb/graphcore/pkg/index"
	"github.com/latticedb/graphcore/pkg/record"
	"github.com/latticedb/graphcore/pkg/storage"
)

// planner lowers a parsed Query into the Operator pipeline operators.go
// defines. It carries no state across Query values; one planner instance
// plans exactly one statement (or one UNION branch of one).
type planner struct {
	engine   *storage.Engine
	cat      *catalog.Catalog
	txn      index.TxnID
	procHost ProcHost
}

// plan builds the operator tree for q and returns the terminal operator
// plus, if the statement ends in RETURN, its column list in order.
func (pl *planner) plan(q *Query) (Operator, []string, error) {
	if len(q.Union) > 0 {
		return pl.planUnion(q)
	}

	var op Operator = &singleRowOp{}
	var columns []string
	boundVars := map[string]bool{}

	for _, clause := range q.Clauses {
		var err error
		switch c := clause.(type) {
		case *MatchClause:
			op, err = pl.planMatch(op, c, boundVars)
		case *CreateClause:
			op = &createOp{src: op, parts: c.Parts, engine: pl.engine, cat: pl.cat}
			trackPatternVars(c.Parts, boundVars)
		case *DeleteClause:
			op = &deleteOp{src: op, vars: c.Variables, detach: c.Detach, engine: pl.engine}
		case *SetClause:
			op = &setOp{src: op, items: c.Items, engine: pl.engine, cat: pl.cat}
		case *RemoveClause:
			op = &removeOp{src: op, item: *c, engine: pl.engine, cat: pl.cat}
		case *UnwindClause:
			op = &unwindOp{src: op, expr: c.Expr, variable: c.Variable}
			boundVars[c.Variable] = true
		case *ReturnClause:
			op, columns, err = pl.planReturn(op, c)
		case *TxControlClause:
			// Transaction-control clauses are applied by the session
			// layer, which recognizes a bare BEGIN/COMMIT/ROLLBACK via
			// SingleTxControl and never passes it to the executor; there
			// is nothing to plan for one.
		case *CallClause:
			op, columns, err = pl.planCall(op, c)
		}
		if err != nil {
			return nil, nil, err
		}
	}
	return op, columns, nil
}

func (pl *planner) planUnion(q *Query) (Operator, []string, error) {
	head := &Query{Clauses: q.Clauses}
	leftOp, columns, err := pl.plan(head)
	if err != nil {
		return nil, nil, err
	}
	for _, branch := range q.Union {
		rightOp, _, err := pl.plan(branch)
		if err != nil {
			return nil, nil, err
		}
		leftOp = &unionOp{left: leftOp, right: rightOp, all: q.UnionAll}
	}
	return leftOp, columns, nil
}

// planMatch lowers one MATCH/OPTIONAL MATCH clause. Every pattern part
// after the first is joined onto the same row stream as an additional
// expand/scan chain sharing whatever variables are already bound, which
// is how `MATCH (a),(b) WHERE ...` and multi-part patterns compose.
func (pl *planner) planMatch(src Operator, c *MatchClause, boundVars map[string]bool) (Operator, error) {
	build := func(outer Row) Operator {
		op := Operator(&singleOuterRowOp{row: outer})
		for _, part := range c.Parts {
			op = pl.planPatternPart(op, part, boundVars)
		}
		if c.Where != nil {
			op = &filterOp{src: op, cond: c.Where}
		}
		return op
	}

	if c.Optional {
		return &optionalOp{src: src, build: build}, nil
	}

	// Non-optional MATCH: fold the pattern directly onto src rather than
	// wrapping it in the per-row inner-pipeline machinery optionalOp
	// needs, since there is no outer-row fallback to preserve.
	op := src
	for _, part := range c.Parts {
		op = pl.planPatternPart(op, part, boundVars)
	}
	if c.Where != nil {
		op = &filterOp{src: op, cond: c.Where}
	}
	return op, nil
}

// singleOuterRowOp seeds an OPTIONAL MATCH's inner pipeline with exactly
// the one outer row it was built for.
type singleOuterRowOp struct {
	row  Row
	done bool
}

func (o *singleOuterRowOp) step(ctx *execContext) (Row, bool, error) {
	if o.done {
		return Row{}, false, nil
	}
	o.done = true
	return o.row, true, nil
}

// planPatternPart lowers one alternating node/edge chain onto src,
// scanning the first unbound node and expanding one hop per edge.
func (pl *planner) planPatternPart(src Operator, part PatternPart, boundVars map[string]bool) Operator {
	op := src
	firstVar := part.Nodes[0].Variable

	if firstVar == "" || !boundVars[firstVar] {
		op = pl.planNodeScan(op, part.Nodes[0], boundVars)
	}

	for i, edge := range part.Edges {
		fromVar := part.Nodes[i].Variable
		toNode := part.Nodes[i+1]
		toVar := toNode.Variable

		types := make([]catalog.ID, 0, len(edge.Types))
		for _, t := range edge.Types {
			if id, ok := pl.cat.RelTypeID(t); ok {
				types = append(types, id)
			} else {
				types = append(types, catalog.ID(^uint32(0))) // unknown type name matches nothing
			}
		}
		toLabels := labelIDs(pl.cat, toNode.Labels)

		if edge.MinHops != nil || edge.MaxHops != nil || edge.ShortestOne || edge.ShortestAll {
			minHops, maxHops := 1, 1
			if edge.MinHops != nil {
				minHops = *edge.MinHops
			}
			if edge.MaxHops != nil {
				maxHops = *edge.MaxHops
			} else if edge.MinHops != nil {
				maxHops = 1 << 30 // unbounded upper end of `*`, `+` and `*n..`
			}
			op = &varLenExpandOp{
				src: op, fromVar: fromVar, relVar: edge.Variable, toVar: toVar,
				types: types, toLabels: toLabels, dir: edge.Direction,
				minHops: minHops, maxHops: maxHops,
				shortestOne: edge.ShortestOne, shortestAll: edge.ShortestAll,
				engine: pl.engine,
			}
		} else {
			op = &expandOp{
				src: op, fromVar: fromVar, relVar: edge.Variable, toVar: toVar,
				types: types, toLabels: toLabels, dir: edge.Direction,
				engine: pl.engine,
			}
		}
		if edge.Variable != "" {
			boundVars[edge.Variable] = true
		}
		if toVar != "" {
			boundVars[toVar] = true
		}
	}
	if firstVar != "" {
		boundVars[firstVar] = true
	}
	return op
}

// planNodeScan binds a standalone node pattern (the start of a pattern
// part, or a bare `(n:Label)` part with no edges) to a fresh scan over
// the label index intersection, falling back to a full scan when the
// pattern carries no label.
func (pl *planner) planNodeScan(src Operator, np NodePattern, boundVars map[string]bool) Operator {
	labels := labelIDs(pl.cat, np.Labels)
	var ids []record.NodeID
	if len(labels) > 0 {
		ids = pl.engine.NodesWithLabels(pl.txn, labels)
	} else {
		pl.engine.ScanNodes(func(n *record.Node) error {
			ids = append(ids, n.ID)
			return nil
		})
	}
	scan := &scanOp{variable: np.Variable, ids: ids, engine: pl.engine}

	joined := joinRows(src, scan)
	if len(np.Properties) > 0 {
		joined = &filterOp{src: joined, cond: propertyEqualityCond(np.Variable, np.Properties)}
	}
	return joined
}

// propertyEqualityCond builds the conjunction of `var.key = expr` terms
// an inline pattern property map stands for (`(n {name: "x"})`).
func propertyEqualityCond(variable string, props map[string]Expr) Expr {
	var cond Expr
	for key, val := range props {
		eq := &BinaryExpr{Op: "=", Left: &PropertyExpr{Variable: variable, Property: key}, Right: val}
		if cond == nil {
			cond = eq
		} else {
			cond = &BinaryExpr{Op: "AND", Left: cond, Right: eq}
		}
	}
	return cond
}

func labelIDs(cat *catalog.Catalog, names []string) []catalog.ID {
	out := make([]catalog.ID, 0, len(names))
	for _, n := range names {
		if id, ok := cat.LabelID(n); ok {
			out = append(out, id)
		} else {
			out = append(out, catalog.ID(^uint32(0))) // unknown label matches nothing
		}
	}
	return out
}

// joinRows seeds a new pattern part's scan onto an existing row stream —
// the cross join `MATCH (a),(b)` and multi-part patterns compile down
// to (spec §4.9). right's scan IDs are computed once and shared across
// every outer row, not recomputed per row. Per spec §4.8, the planner
// consults columnar.SelectJoinAlgorithm/EstimateCost before building the
// join, and right's ID list is staged into a columnar.Table rather than
// kept as a bare slice, so the join actually executes through the
// columnar runtime's push/get/len column API instead of around it.
func joinRows(left Operator, right *scanOp) Operator {
	if _, isSingle := left.(*singleRowOp); isSingle {
		return right
	}

	table := columnar.NewTable([]string{"id"}, []columnar.Kind{columnar.KindInt64})
	idCol := table.Columns[0].(*columnar.Int64Column)
	for _, id := range right.ids {
		idCol.Push(int64(id))
	}
	table.Rows = idCol.Len()

	stats := columnar.JoinStats{
		LeftCardinality:  estimateCardinality(left),
		RightCardinality: int64(idCol.Len()),
		LeftSorted:       false,
		// NodesWithLabels/ScanNodes both walk the catalog's ID-ordered
		// index, so a fresh scan's IDs always arrive already ascending.
		RightSorted: true,
		// A bare pattern-part join carries no join predicate of its own;
		// any equality between the two sides is applied afterward by a
		// separate filterOp (propertyEqualityCond, a WHERE clause), so
		// every right-side row is a candidate until then.
		Selectivity: 1.0,
	}
	alg := columnar.SelectJoinAlgorithm(stats)
	cost := columnar.EstimateCost(alg, stats, !stats.RightSorted)

	return &crossJoinOp{
		left: left, variable: right.variable, engine: right.engine,
		idCol: idCol, alg: alg, cost: cost,
	}
}

// estimateCardinality gives the join planner a row-count estimate for an
// already-built operator chain. Only the shapes joinRows actually
// produces are known exactly (a bare seed row, a prior scan, or a prior
// join); anything else falls back to a moderate estimate rather than
// assuming the chain is trivially small.
func estimateCardinality(op Operator) int64 {
	switch o := op.(type) {
	case *singleRowOp:
		return 1
	case *scanOp:
		return int64(len(o.ids))
	case *crossJoinOp:
		return estimateCardinality(o.left) * int64(o.idCol.Len())
	default:
		return 1000
	}
}

// crossJoinOp is the nested-loop cross join joinRows compiles a
// multi-part pattern into: for every row from left, every node ID in
// idCol. idCol is a columnar.Int64Column rather than a []record.NodeID
// so the probe loop below reads through the columnar runtime's Push/At
// API (spec §4.8) instead of a raw slice.
type crossJoinOp struct {
	left      Operator
	variable  string
	engine    *storage.Engine
	idCol     *columnar.Int64Column
	outer     Row
	haveOuter bool
	rightPos  int
	alg       columnar.JoinAlgorithm
	cost      float64
	recorded  bool
}

func (o *crossJoinOp) step(ctx *execContext) (Row, bool, error) {
	if !o.recorded {
		ctx.stats.JoinAlgorithm = o.alg.String()
		ctx.stats.JoinCost = o.cost
		o.recorded = true
	}
	for {
		if !o.haveOuter {
			row, ok, err := o.left.step(ctx)
			if err != nil || !ok {
				return Row{}, ok, err
			}
			o.outer = row
			o.haveOuter = true
			o.rightPos = 0
		}
		if o.rightPos >= o.idCol.Len() {
			o.haveOuter = false
			continue
		}
		id := record.NodeID(o.idCol.At(o.rightPos))
		o.rightPos++
		n, err := o.engine.GetNode(id)
		if err != nil {
			continue // deleted between plan time and scan time; skip it
		}
		merged := o.outer.clone()
		merged.Nodes[o.variable] = n
		return merged, true, nil
	}
}

// trackPatternVars records every variable a CREATE pattern binds so a
// later clause in the same statement sees it as already bound.
func trackPatternVars(parts []PatternPart, boundVars map[string]bool) {
	for _, part := range parts {
		for _, n := range part.Nodes {
			if n.Variable != "" {
				boundVars[n.Variable] = true
			}
		}
		for _, e := range part.Edges {
			if e.Variable != "" {
				boundVars[e.Variable] = true
			}
		}
	}
}

// planReturn lowers RETURN/WITH: WHERE filter (WITH only), implicit
// aggregation when any item is an aggregate call, ORDER BY, SKIP/LIMIT,
// and DISTINCT, in the order Cypher defines them to apply.
func (pl *planner) planReturn(src Operator, c *ReturnClause) (Operator, []string, error) {
	op := src
	if c.Where != nil {
		op = &filterOp{src: op, cond: c.Where}
	}

	hasAgg := false
	for _, it := range c.Items {
		if isAggregateCall(it.Expr) {
			hasAgg = true
			break
		}
	}
	// Without aggregation ORDER BY sorts the rows before projection, so it
	// can name variables the projection drops; a term naming an alias sorts
	// by that item's expression.
	sortFirst := len(c.OrderBy) > 0 && !hasAgg
	if sortFirst {
		orderBy := append([]OrderItem(nil), c.OrderBy...)
		for i, oi := range orderBy {
			for _, it := range c.Items {
				if v, ok := oi.Expr.(*VarExpr); ok && it.Alias != "" && it.Alias == v.Name {
					orderBy[i].Expr = it.Expr
				}
			}
		}
		op = &sortOp{src: op, orderBy: orderBy}
	}
	if hasAgg {
		op = &aggregateOp{src: op, items: c.Items}
	} else {
		op = &projectOp{src: op, items: c.Items, distinct: c.Distinct}
	}

	if len(c.OrderBy) > 0 && !sortFirst {
		op = &sortOp{src: op, orderBy: c.OrderBy}
	}
	if c.Skip != nil || c.Limit != nil {
		op = &limitOp{src: op, skipExpr: c.Skip, limitExpr: c.Limit, limit: -1}
	}

	columns := make([]string, len(c.Items))
	for i, it := range c.Items {
		columns[i] = projectionName(it)
	}
	return op, columns, nil
}

// planCall lowers a DBMS procedure call (spec §4.9) to a fixed-row
// operator: procedures don't read the graph through the pattern
// pipeline, they read runtime/session state, so they are resolved once
// up front rather than compiled into a step loop.
func (pl *planner) planCall(src Operator, c *CallClause) (Operator, []string, error) {
	rows, columns, err := callProcedure(pl, c)
	if err != nil {
		return nil, nil, err
	}
	if len(c.Yield) > 0 {
		columns = c.Yield
	}
	return &staticRowsOp{rows: rows}, columns, nil
}

// staticRowsOp serves a precomputed row list, for procedure results.
type staticRowsOp struct {
	rows []Row
	pos  int
}

func (o *staticRowsOp) step(ctx *execContext) (Row, bool, error) {
	if o.pos >= len(o.rows) {
		return Row{}, false, nil
	}
	row := o.rows[o.pos]
	o.pos++
	return row, true, nil
}
