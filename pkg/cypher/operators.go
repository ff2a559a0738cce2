package cypher

import (
	"sort"
	"strconv"
	"strings"

	"github.com/latticedb/graphcore/pkg/catalog"
	"github.com/latticedb/graphcore/pkg/index"
	"github.com/latticedb/graphcore/pkg/record"
	"github.com/latticedb/graphcore/pkg/storage"
)

// execContext is what every operator's step needs beyond its own state:
// the storage engine and the active transaction's staging area, the
// expression evaluator's context, the in-flight statistics counters, and
// a cancellation check so a long scan/traversal can honor killQuery.
type execContext struct {
	engine    *storage.Engine
	txn       index.TxnID
	pending   *index.PendingSet
	eval      *evalCtx
	stats     *QueryStats
	cancelled func() bool
}

// Operator is the closed sum type the planner compiles a query into: a
// tree of pull-based steps. Every concrete operator implements step
// directly rather than being dispatched through a kind tag, so there is
// exactly one call site per operator, never a switch over operator kind.
type Operator interface {
	step(ctx *execContext) (Row, bool, error)
}

// singleRowOp emits exactly one empty row, then is exhausted. It seeds
// write-only statements (a bare CREATE with no preceding MATCH) with
// something to pull from.
type singleRowOp struct{ done bool }

func (o *singleRowOp) step(ctx *execContext) (Row, bool, error) {
	if o.done {
		return Row{}, false, nil
	}
	o.done = true
	return newRow(), true, nil
}

// scanOp iterates a precomputed set of node IDs (from a label-index
// intersection or a full scan) and binds each to variable in turn.
type scanOp struct {
	variable string
	ids      []record.NodeID
	pos      int
	engine   *storage.Engine
}

func (o *scanOp) step(ctx *execContext) (Row, bool, error) {
	for o.pos < len(o.ids) {
		id := o.ids[o.pos]
		o.pos++
		n, err := o.engine.GetNode(id)
		if err != nil {
			continue // deleted between plan time and scan time; skip it
		}
		row := newRow()
		row.Nodes[o.variable] = n
		return row, true, nil
	}
	return Row{}, false, nil
}

// filterOp drops rows that fail cond (WHERE).
type filterOp struct {
	src  Operator
	cond Expr
}

func (o *filterOp) step(ctx *execContext) (Row, bool, error) {
	for {
		row, ok, err := o.src.step(ctx)
		if err != nil || !ok {
			return Row{}, ok, err
		}
		match, err := evalBool(ctx.eval, row, o.cond)
		if err != nil {
			return Row{}, false, err
		}
		if match {
			return row, true, nil
		}
	}
}

// expandOp is one fixed-length relationship hop from fromVar, filtered by
// relationship type and the destination's labels, bound to relVar/toVar.
type expandOp struct {
	src      Operator
	fromVar  string
	relVar   string
	toVar    string
	types    []catalog.ID // empty matches any relationship type
	toLabels []catalog.ID
	dir      Direction
	engine   *storage.Engine

	buf    []Row
	bufPos int
}

func (o *expandOp) step(ctx *execContext) (Row, bool, error) {
	for {
		if o.bufPos < len(o.buf) {
			row := o.buf[o.bufPos]
			o.bufPos++
			return row, true, nil
		}
		outer, ok, err := o.src.step(ctx)
		if err != nil || !ok {
			return Row{}, ok, err
		}
		from, has := outer.Nodes[o.fromVar]
		if !has {
			continue
		}
		candidates, err := adjacencyFor(o.engine, from.ID, o.dir)
		if err != nil {
			return Row{}, false, err
		}
		o.buf = o.buf[:0]
		o.bufPos = 0
		for _, relID := range candidates {
			rel, err := o.engine.GetRelationship(relID)
			if err != nil || !typeMatches(rel.Type, o.types) {
				continue
			}
			other, matched := otherEnd(from.ID, rel, o.dir)
			if !matched {
				continue
			}
			otherNode, err := o.engine.GetNode(other)
			if err != nil || !hasAllLabels(otherNode, o.toLabels) {
				continue
			}
			row := outer.clone()
			if o.relVar != "" {
				row.Rels[o.relVar] = rel
			}
			if o.toVar != "" {
				row.Nodes[o.toVar] = otherNode
			}
			o.buf = append(o.buf, row)
		}
	}
}

func adjacencyFor(engine *storage.Engine, node record.NodeID, dir Direction) ([]record.RelID, error) {
	switch dir {
	case DirRight:
		return engine.Outgoing(node)
	case DirLeft:
		return engine.Incoming(node)
	default: // DirEither: (a)-[]-(b) matches relationships in both directions
		out, err := engine.Outgoing(node)
		if err != nil {
			return nil, err
		}
		in, err := engine.Incoming(node)
		if err != nil {
			return nil, err
		}
		return append(out, in...), nil
	}
}

func typeMatches(t catalog.ID, want []catalog.ID) bool {
	if len(want) == 0 {
		return true
	}
	for _, w := range want {
		if w == t {
			return true
		}
	}
	return false
}

func otherEnd(from record.NodeID, rel *record.Relationship, dir Direction) (record.NodeID, bool) {
	switch dir {
	case DirRight:
		if rel.Start == from {
			return rel.End, true
		}
		return 0, false
	case DirLeft:
		if rel.End == from {
			return rel.Start, true
		}
		return 0, false
	default:
		if rel.Start == from {
			return rel.End, true
		}
		if rel.End == from {
			return rel.Start, true
		}
		return 0, false
	}
}

func hasAllLabels(n *record.Node, want []catalog.ID) bool {
	for _, w := range want {
		found := false
		for _, l := range n.Labels {
			if l == w {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// pathStep is one hop of a traversed variable-length path.
type pathStep struct {
	node record.NodeID
	rel  record.RelID
}

// varLenExpandOp implements *, +, *n, *n..m relationship patterns, and
// shortestPath/allShortestPaths, via bounded breadth-first search with no
// node revisited within a path (spec §4.9). shortestPath/allShortestPaths
// stop at the first hop count where any destination is reached, keeping
// ties in BFS discovery order.
type varLenExpandOp struct {
	src         Operator
	fromVar     string
	relVar      string
	toVar       string
	types       []catalog.ID
	toLabels    []catalog.ID
	dir         Direction
	minHops     int
	maxHops     int
	shortestOne bool
	shortestAll bool
	engine      *storage.Engine

	buf    []Row
	bufPos int
}

func (o *varLenExpandOp) step(ctx *execContext) (Row, bool, error) {
	for {
		if o.bufPos < len(o.buf) {
			row := o.buf[o.bufPos]
			o.bufPos++
			return row, true, nil
		}
		outer, ok, err := o.src.step(ctx)
		if err != nil || !ok {
			return Row{}, ok, err
		}
		from, has := outer.Nodes[o.fromVar]
		if !has {
			continue
		}
		paths, err := o.bfs(from.ID)
		if err != nil {
			return Row{}, false, err
		}
		o.buf = o.buf[:0]
		o.bufPos = 0
		for _, p := range paths {
			endID := from.ID
			if len(p) > 0 {
				endID = p[len(p)-1].node
			}
			endNode, err := o.engine.GetNode(endID)
			if err != nil || !hasAllLabels(endNode, o.toLabels) {
				continue
			}
			row := outer.clone()
			if o.toVar != "" {
				row.Nodes[o.toVar] = endNode
			}
			if o.relVar != "" {
				rels := make([]record.Value, len(p))
				for i, s := range p {
					rels[i] = record.Int(int64(s.rel))
				}
				row.Vals[o.relVar] = record.List(rels)
			}
			o.buf = append(o.buf, row)
		}
	}
}

func (o *varLenExpandOp) bfs(start record.NodeID) ([][]pathStep, error) {
	type frontierEntry struct {
		node record.NodeID
		path []pathStep
		seen map[record.NodeID]bool
	}
	var results [][]pathStep
	frontier := []frontierEntry{{node: start, seen: map[record.NodeID]bool{start: true}}}

	if o.minHops == 0 {
		results = append(results, nil)
		if o.shortestOne {
			return results, nil
		}
	}

	for hop := 1; hop <= o.maxHops; hop++ {
		var next []frontierEntry
		for _, f := range frontier {
			relIDs, err := adjacencyFor(o.engine, f.node, o.dir)
			if err != nil {
				return nil, err
			}
			for _, relID := range relIDs {
				rel, err := o.engine.GetRelationship(relID)
				if err != nil || !typeMatches(rel.Type, o.types) {
					continue
				}
				other, ok := otherEnd(f.node, rel, o.dir)
				if !ok || f.seen[other] {
					continue
				}
				seen := make(map[record.NodeID]bool, len(f.seen)+1)
				for k := range f.seen {
					seen[k] = true
				}
				seen[other] = true
				path := append(append([]pathStep(nil), f.path...), pathStep{node: other, rel: relID})
				next = append(next, frontierEntry{node: other, path: path, seen: seen})
			}
		}
		frontier = next

		if hop >= o.minHops {
			for _, f := range frontier {
				results = append(results, f.path)
			}
			if (o.shortestOne || o.shortestAll) && len(results) > 0 {
				if o.shortestOne {
					return results[:1], nil
				}
				return results, nil
			}
		}
		if len(frontier) == 0 {
			break
		}
	}
	return results, nil
}

// projectOp evaluates RETURN/WITH items into a fresh row, optionally
// deduplicating by full-row equality (RETURN DISTINCT).
type projectOp struct {
	src      Operator
	items    []ReturnItem
	distinct bool
	seen     map[string]bool
}

func (o *projectOp) step(ctx *execContext) (Row, bool, error) {
	for {
		row, ok, err := o.src.step(ctx)
		if err != nil || !ok {
			return Row{}, ok, err
		}
		out := newRow()
		for _, item := range o.items {
			v, err := evalExpr(ctx.eval, row, item.Expr)
			if err != nil {
				return Row{}, false, err
			}
			name := projectionName(item)
			switch t := v.(type) {
			case *record.Node:
				out.Nodes[name] = t
			case *record.Relationship:
				out.Rels[name] = t
			default:
				out.Vals[name] = record.FromGo(t)
			}
		}
		if o.distinct {
			if o.seen == nil {
				o.seen = make(map[string]bool)
			}
			key := rowHashKey(out)
			if o.seen[key] {
				continue
			}
			o.seen[key] = true
		}
		return out, true, nil
	}
}

func projectionName(item ReturnItem) string {
	if item.Alias != "" {
		return item.Alias
	}
	switch e := item.Expr.(type) {
	case *VarExpr:
		return e.Name
	case *PropertyExpr:
		return e.Variable + "." + e.Property
	case *FunctionCallExpr:
		return e.Name
	default:
		return "expr"
	}
}

// rowHashKey is the full-row-equality key UNION and RETURN DISTINCT
// dedup against (spec §4.9).
func rowHashKey(r Row) string {
	keys := make([]string, 0, len(r.Nodes)+len(r.Rels)+len(r.Vals))
	for k, n := range r.Nodes {
		keys = append(keys, "N:"+k+"="+strconv.FormatUint(uint64(n.ID), 10))
	}
	for k, rel := range r.Rels {
		keys = append(keys, "R:"+k+"="+strconv.FormatUint(uint64(rel.ID), 10))
	}
	for k, v := range r.Vals {
		keys = append(keys, "V:"+k+"="+record.HashKey(v))
	}
	sort.Strings(keys)
	return strings.Join(keys, "|")
}

// unionOp concatenates left then right, deduplicating by full-row
// equality unless all is set (UNION ALL).
type unionOp struct {
	left, right Operator
	all         bool
	usedLeft    bool
	seen        map[string]bool
}

func (o *unionOp) step(ctx *execContext) (Row, bool, error) {
	if o.seen == nil && !o.all {
		o.seen = make(map[string]bool)
	}
	for {
		var row Row
		var ok bool
		var err error
		if !o.usedLeft {
			row, ok, err = o.left.step(ctx)
			if err != nil {
				return Row{}, false, err
			}
			if !ok {
				o.usedLeft = true
				continue
			}
		} else {
			row, ok, err = o.right.step(ctx)
			if err != nil || !ok {
				return Row{}, ok, err
			}
		}
		if o.all {
			return row, true, nil
		}
		key := rowHashKey(row)
		if o.seen[key] {
			continue
		}
		o.seen[key] = true
		return row, true, nil
	}
}

// sortOp materializes its input once, then serves it back in ORDER BY
// order — sorting is necessarily a barrier operator.
type sortOp struct {
	src     Operator
	orderBy []OrderItem
	buf     []Row
	bufPos  int
	loaded  bool
}

func (o *sortOp) step(ctx *execContext) (Row, bool, error) {
	if !o.loaded {
		for {
			row, ok, err := o.src.step(ctx)
			if err != nil {
				return Row{}, false, err
			}
			if !ok {
				break
			}
			o.buf = append(o.buf, row)
		}
		var sortErr error
		sort.SliceStable(o.buf, func(i, j int) bool {
			for _, term := range o.orderBy {
				vi, err := evalExpr(ctx.eval, o.buf[i], term.Expr)
				if err != nil {
					sortErr = err
					return false
				}
				vj, err := evalExpr(ctx.eval, o.buf[j], term.Expr)
				if err != nil {
					sortErr = err
					return false
				}
				if valuesEqual(vi, vj) {
					continue
				}
				less := compareOrdered(vi, vj, "<")
				if term.Descending {
					return !less
				}
				return less
			}
			return false
		})
		if sortErr != nil {
			return Row{}, false, sortErr
		}
		o.loaded = true
	}
	if o.bufPos >= len(o.buf) {
		return Row{}, false, nil
	}
	row := o.buf[o.bufPos]
	o.bufPos++
	return row, true, nil
}

// limitOp applies SKIP then LIMIT. Both bounds are expressions (usually
// a literal or a parameter) evaluated once against an empty row the
// first time step is called, so a parameterized `LIMIT $n` sees the
// query's actual parameter values rather than being fixed at plan time.
type limitOp struct {
	src       Operator
	skipExpr  Expr
	limitExpr Expr
	skip      int
	limit     int // -1 means unlimited
	skipped   int
	emitted   int
	resolved  bool
}

func (o *limitOp) resolve(ctx *execContext) error {
	o.skip, o.limit = 0, -1
	if o.skipExpr != nil {
		v, err := evalExpr(ctx.eval, Row{}, o.skipExpr)
		if err != nil {
			return err
		}
		if n, ok := v.(int64); ok {
			o.skip = int(n)
		}
	}
	if o.limitExpr != nil {
		v, err := evalExpr(ctx.eval, Row{}, o.limitExpr)
		if err != nil {
			return err
		}
		if n, ok := v.(int64); ok {
			o.limit = int(n)
		}
	}
	o.resolved = true
	return nil
}

func (o *limitOp) step(ctx *execContext) (Row, bool, error) {
	if !o.resolved {
		if err := o.resolve(ctx); err != nil {
			return Row{}, false, err
		}
	}
	if o.limit >= 0 && o.emitted >= o.limit {
		return Row{}, false, nil
	}
	for o.skipped < o.skip {
		_, ok, err := o.src.step(ctx)
		if err != nil || !ok {
			return Row{}, ok, err
		}
		o.skipped++
	}
	row, ok, err := o.src.step(ctx)
	if err != nil || !ok {
		return Row{}, ok, err
	}
	o.emitted++
	return row, true, nil
}

// unwindOp flattens a list-valued expression into one row per element.
// UNWIND of null or an empty list produces zero rows (spec §4.9).
type unwindOp struct {
	src      Operator
	expr     Expr
	variable string

	cur    []any
	curPos int
	curRow Row
	have   bool
}

func (o *unwindOp) step(ctx *execContext) (Row, bool, error) {
	for {
		if o.have && o.curPos < len(o.cur) {
			v := o.cur[o.curPos]
			o.curPos++
			out := o.curRow.clone()
			out.Vals[o.variable] = record.FromGo(v)
			return out, true, nil
		}
		o.have = false
		row, ok, err := o.src.step(ctx)
		if err != nil || !ok {
			return Row{}, ok, err
		}
		v, err := evalExpr(ctx.eval, row, o.expr)
		if err != nil {
			return Row{}, false, err
		}
		list, isList := v.([]any)
		if !isList {
			if v == nil {
				continue
			}
			list = []any{v}
		}
		o.cur = list
		o.curPos = 0
		o.curRow = row
		o.have = true
	}
}

// optionalOp implements OPTIONAL MATCH's left-outer join: build
// constructs a fresh inner pipeline seeded from the outer row's bindings;
// if it produces no rows, the outer row is passed through unchanged —
// its optional variables simply stay unbound, which Row.get already
// reads back as null.
type optionalOp struct {
	src    Operator
	build  func(outer Row) Operator
	buf    []Row
	bufPos int
}

func (o *optionalOp) step(ctx *execContext) (Row, bool, error) {
	for {
		if o.bufPos < len(o.buf) {
			row := o.buf[o.bufPos]
			o.bufPos++
			return row, true, nil
		}
		outer, ok, err := o.src.step(ctx)
		if err != nil || !ok {
			return Row{}, ok, err
		}
		inner := o.build(outer)
		var matched []Row
		for {
			row, ok, err := inner.step(ctx)
			if err != nil {
				return Row{}, false, err
			}
			if !ok {
				break
			}
			matched = append(matched, row)
		}
		if len(matched) == 0 {
			matched = []Row{outer}
		}
		o.buf = matched
		o.bufPos = 0
	}
}

// aggregateOp groups its input by every non-aggregate RETURN/WITH item
// and computes count/sum/avg/min/max/collect over the rest, implicit
// GROUP BY per Cypher's rule that any plain expression alongside an
// aggregate becomes a grouping key.
type aggregateOp struct {
	src   Operator
	items []ReturnItem

	out    []Row
	outPos int
	ready  bool
}

func isAggregateCall(e Expr) bool {
	call, ok := e.(*FunctionCallExpr)
	if !ok {
		return false
	}
	switch call.Name {
	case "count", "sum", "avg", "min", "max", "collect":
		return true
	default:
		return false
	}
}

type aggGroup struct {
	keyRow Row
	accums map[string]*aggAccum
}

func (o *aggregateOp) step(ctx *execContext) (Row, bool, error) {
	if !o.ready {
		if err := o.compute(ctx); err != nil {
			return Row{}, false, err
		}
		o.ready = true
	}
	if o.outPos >= len(o.out) {
		return Row{}, false, nil
	}
	row := o.out[o.outPos]
	o.outPos++
	return row, true, nil
}

func (o *aggregateOp) compute(ctx *execContext) error {
	var groupItems, aggItems []ReturnItem
	for _, it := range o.items {
		if isAggregateCall(it.Expr) {
			aggItems = append(aggItems, it)
		} else {
			groupItems = append(groupItems, it)
		}
	}

	groups := make(map[string]*aggGroup)
	var order []string
	sawRow := false

	for {
		row, ok, err := o.src.step(ctx)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		sawRow = true

		keyParts := make([]string, len(groupItems))
		keyRow := newRow()
		for i, it := range groupItems {
			v, err := evalExpr(ctx.eval, row, it.Expr)
			if err != nil {
				return err
			}
			keyParts[i] = record.HashKey(record.FromGo(v))
			keyRow.Vals[projectionName(it)] = record.FromGo(v)
		}
		gk := strings.Join(keyParts, "\x1f")
		g, exists := groups[gk]
		if !exists {
			g = &aggGroup{keyRow: keyRow, accums: make(map[string]*aggAccum)}
			groups[gk] = g
			order = append(order, gk)
		}
		for _, it := range aggItems {
			call := it.Expr.(*FunctionCallExpr)
			alias := projectionName(it)
			acc, ok := g.accums[alias]
			if !ok {
				acc = newAggAccum(call.Name)
				g.accums[alias] = acc
			}
			isStar := call.Name == "count" && len(call.Args) == 0
			var argVal any
			if !isStar && len(call.Args) > 0 {
				v, err := evalExpr(ctx.eval, row, call.Args[0])
				if err != nil {
					return err
				}
				argVal = v
			}
			acc.add(argVal, isStar, call.Distinct)
		}
	}

	if !sawRow && len(groupItems) == 0 {
		order = append(order, "")
		groups[""] = &aggGroup{keyRow: newRow(), accums: make(map[string]*aggAccum)}
	}

	for _, gk := range order {
		g := groups[gk]
		row := g.keyRow.clone()
		for _, it := range aggItems {
			alias := projectionName(it)
			acc := g.accums[alias]
			if acc == nil {
				acc = newAggAccum(it.Expr.(*FunctionCallExpr).Name)
			}
			row.Vals[alias] = acc.result()
		}
		o.out = append(o.out, row)
	}
	return nil
}

// aggAccum accumulates one aggregate function's running state across a
// group's rows. Nulls are excluded from every aggregate except count(*).
type aggAccum struct {
	kind         string
	count        int64
	sum          float64
	sumIsInt     bool
	min, max     any
	hasMinMax    bool
	collected    []any
	distinctSeen map[string]bool
}

func newAggAccum(kind string) *aggAccum {
	return &aggAccum{kind: kind, sumIsInt: true, distinctSeen: make(map[string]bool)}
}

func (a *aggAccum) add(v any, isStar, distinct bool) {
	if a.kind == "count" && isStar {
		a.count++
		return
	}
	if v == nil {
		return
	}
	if distinct {
		key := record.HashKey(record.FromGo(v))
		if a.distinctSeen[key] {
			return
		}
		a.distinctSeen[key] = true
	}
	switch a.kind {
	case "count":
		a.count++
	case "sum", "avg":
		f, _ := record.FromGo(v).AsFloat64()
		a.sum += f
		a.count++
		if _, isFloat := v.(float64); isFloat {
			a.sumIsInt = false
		}
	case "min":
		if !a.hasMinMax || compareOrdered(v, a.min, "<") {
			a.min, a.hasMinMax = v, true
		}
	case "max":
		if !a.hasMinMax || compareOrdered(v, a.max, ">") {
			a.max, a.hasMinMax = v, true
		}
	case "collect":
		a.collected = append(a.collected, v)
	}
}

func (a *aggAccum) result() record.Value {
	switch a.kind {
	case "count":
		return record.Int(a.count)
	case "sum":
		if a.sumIsInt {
			return record.Int(int64(a.sum))
		}
		return record.Float(a.sum)
	case "avg":
		if a.count == 0 {
			return record.Null()
		}
		return record.Float(a.sum / float64(a.count))
	case "min":
		if !a.hasMinMax {
			return record.Null()
		}
		return record.FromGo(a.min)
	case "max":
		if !a.hasMinMax {
			return record.Null()
		}
		return record.FromGo(a.max)
	case "collect":
		vals := make([]record.Value, len(a.collected))
		for i, v := range a.collected {
			vals[i] = record.FromGo(v)
		}
		return record.List(vals)
	default:
		return record.Null()
	}
}

// createOp evaluates CREATE's pattern parts against each input row,
// reusing already-bound variables as edge endpoints and creating fresh
// nodes/relationships for the rest.
type createOp struct {
	src    Operator
	parts  []PatternPart
	engine *storage.Engine
	cat    *catalog.Catalog
}

func (o *createOp) step(ctx *execContext) (Row, bool, error) {
	row, ok, err := o.src.step(ctx)
	if err != nil || !ok {
		return Row{}, ok, err
	}
	for _, part := range o.parts {
		nodeIDs := make([]record.NodeID, len(part.Nodes))
		for i, np := range part.Nodes {
			if np.Variable != "" {
				if existing, has := row.Nodes[np.Variable]; has {
					nodeIDs[i] = existing.ID
					continue
				}
			}
			id, n, err := o.createNode(ctx, row, np)
			if err != nil {
				return Row{}, false, err
			}
			nodeIDs[i] = id
			if np.Variable != "" {
				row.Nodes[np.Variable] = n
			}
			ctx.stats.NodesCreated++
		}
		for i, ep := range part.Edges {
			relTypeName := ""
			if len(ep.Types) > 0 {
				relTypeName = ep.Types[0]
			}
			relType, err := o.cat.InternRelType(relTypeName)
			if err != nil {
				return Row{}, false, err
			}
			props, err := o.evalProps(ctx, row, ep.Properties)
			if err != nil {
				return Row{}, false, err
			}
			start, end := nodeIDs[i], nodeIDs[i+1]
			if ep.Direction == DirLeft {
				start, end = end, start
			}
			relID, err := o.engine.CreateRelationship(ctx.txn, ctx.pending, relType, start, end, props)
			if err != nil {
				return Row{}, false, err
			}
			if ep.Variable != "" {
				if rel, err := o.engine.GetRelationship(relID); err == nil {
					row.Rels[ep.Variable] = rel
				}
			}
			ctx.stats.RelationshipsCreated++
		}
	}
	return row, true, nil
}

func (o *createOp) createNode(ctx *execContext, row Row, np NodePattern) (record.NodeID, *record.Node, error) {
	labels := make([]catalog.ID, len(np.Labels))
	for i, l := range np.Labels {
		id, err := o.cat.InternLabel(l)
		if err != nil {
			return 0, nil, err
		}
		labels[i] = id
	}
	props, err := o.evalProps(ctx, row, np.Properties)
	if err != nil {
		return 0, nil, err
	}
	id, err := o.engine.CreateNode(ctx.txn, ctx.pending, labels, props)
	if err != nil {
		return 0, nil, err
	}
	n, err := o.engine.GetNode(id)
	return id, n, err
}

func (o *createOp) evalProps(ctx *execContext, row Row, props map[string]Expr) (map[catalog.ID]record.Value, error) {
	out := make(map[catalog.ID]record.Value, len(props))
	for name, expr := range props {
		keyID, err := o.cat.InternPropertyKey(name)
		if err != nil {
			return nil, err
		}
		v, err := evalExpr(ctx.eval, row, expr)
		if err != nil {
			return nil, err
		}
		out[keyID] = record.FromGo(v)
	}
	return out, nil
}

// deleteOp removes bound nodes/relationships. DETACH DELETE first
// removes a node's adjacent relationships atomically within the same
// transaction, so a plain DELETE of the same node never observes a
// dangling edge (spec §4.9).
type deleteOp struct {
	src    Operator
	vars   []string
	detach bool
	engine *storage.Engine
}

func (o *deleteOp) step(ctx *execContext) (Row, bool, error) {
	row, ok, err := o.src.step(ctx)
	if err != nil || !ok {
		return Row{}, ok, err
	}
	for _, v := range o.vars {
		if rel, isRel := row.Rels[v]; isRel {
			if err := o.engine.DeleteRelationship(ctx.txn, ctx.pending, rel.ID, rel.Type, rel.Start, rel.End); err != nil {
				return Row{}, false, err
			}
			ctx.stats.RelationshipsDeleted++
			continue
		}
		n, isNode := row.Nodes[v]
		if !isNode {
			continue
		}
		if o.detach {
			if err := o.detachRelationships(ctx, n.ID); err != nil {
				return Row{}, false, err
			}
		}
		if err := o.engine.DeleteNode(ctx.txn, ctx.pending, n.ID, n.Labels, o.detach); err != nil {
			return Row{}, false, err
		}
		ctx.stats.NodesDeleted++
	}
	return row, true, nil
}

func (o *deleteOp) detachRelationships(ctx *execContext, id record.NodeID) error {
	out, err := o.engine.Outgoing(id)
	if err != nil {
		return err
	}
	in, err := o.engine.Incoming(id)
	if err != nil {
		return err
	}
	for _, relID := range append(out, in...) {
		rel, err := o.engine.GetRelationship(relID)
		if err != nil {
			continue // already removed earlier in this statement
		}
		if err := o.engine.DeleteRelationship(ctx.txn, ctx.pending, rel.ID, rel.Type, rel.Start, rel.End); err != nil {
			return err
		}
		ctx.stats.RelationshipsDeleted++
	}
	return nil
}

// setOp applies SET's property and label assignments.
type setOp struct {
	src    Operator
	items  []SetItem
	engine *storage.Engine
	cat    *catalog.Catalog
}

func (o *setOp) step(ctx *execContext) (Row, bool, error) {
	row, ok, err := o.src.step(ctx)
	if err != nil || !ok {
		return Row{}, ok, err
	}
	for _, item := range o.items {
		if item.Label != "" {
			labelID, err := o.cat.InternLabel(item.Label)
			if err != nil {
				return Row{}, false, err
			}
			n, has := row.Nodes[item.Variable]
			if !has {
				continue
			}
			if err := o.engine.AddNodeLabel(ctx.txn, ctx.pending, n.ID, labelID); err != nil {
				return Row{}, false, err
			}
			ctx.stats.LabelsAdded++
			continue
		}

		keyID, err := o.cat.InternPropertyKey(item.Property)
		if err != nil {
			return Row{}, false, err
		}
		v, err := evalExpr(ctx.eval, row, item.Value)
		if err != nil {
			return Row{}, false, err
		}
		changes := map[catalog.ID]record.Value{keyID: record.FromGo(v)}
		if n, has := row.Nodes[item.Variable]; has {
			if err := o.engine.UpdateNodeProperties(ctx.txn, ctx.pending, n.ID, changes); err != nil {
				return Row{}, false, err
			}
			ctx.stats.PropertiesSet++
		} else if r, has := row.Rels[item.Variable]; has {
			if err := o.engine.UpdateRelationshipProperties(ctx.txn, ctx.pending, r.ID, changes); err != nil {
				return Row{}, false, err
			}
			ctx.stats.PropertiesSet++
		}
	}
	return row, true, nil
}

// removeOp applies REMOVE's property or label removal.
type removeOp struct {
	src    Operator
	item   RemoveClause
	engine *storage.Engine
	cat    *catalog.Catalog
}

func (o *removeOp) step(ctx *execContext) (Row, bool, error) {
	row, ok, err := o.src.step(ctx)
	if err != nil || !ok {
		return Row{}, ok, err
	}
	if o.item.Label != "" {
		if labelID, known := o.cat.LabelID(o.item.Label); known {
			if n, has := row.Nodes[o.item.Variable]; has {
				if err := o.engine.RemoveNodeLabel(ctx.txn, ctx.pending, n.ID, labelID); err != nil {
					return Row{}, false, err
				}
			}
		}
		return row, true, nil
	}

	keyID, known := o.cat.PropertyKeyID(o.item.Property)
	if !known {
		return row, true, nil
	}
	changes := map[catalog.ID]record.Value{keyID: record.Null()}
	if n, has := row.Nodes[o.item.Variable]; has {
		if err := o.engine.UpdateNodeProperties(ctx.txn, ctx.pending, n.ID, changes); err != nil {
			return Row{}, false, err
		}
	} else if r, has := row.Rels[o.item.Variable]; has {
		if err := o.engine.UpdateRelationshipProperties(ctx.txn, ctx.pending, r.ID, changes); err != nil {
			return Row{}, false, err
		}
	}
	return row, true, nil
}
