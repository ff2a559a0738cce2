package cypher

import (
	"sync"
	"time"

	"github.com/latticedb/graphcore/pkg/catalog"
	"github.com/latticedb/graphcore/pkg/columnar"
	"github.com/latticedb/graphcore/pkg/errkind"
	"github.com/latticedb/graphcore/pkg/index"
	"github.com/latticedb/graphcore/pkg/record"
	"github.com/latticedb/graphcore/pkg/storage"
)

// Executor compiles and runs Cypher statements against a storage engine
// within a caller-supplied transaction. It owns the plan cache and the
// cooperative-cancellation registry; everything about session and
// transaction lifecycle (BEGIN/COMMIT/ROLLBACK, session timeouts) is the
// caller's responsibility — Executor only ever sees one already-resolved
// transaction per call, per spec §4.9/§4.12's split between the query
// executor and the session boundary contract.
type Executor struct {
	engine *storage.Engine
	cat    *catalog.Catalog
	cache  *planCache

	mu        sync.Mutex
	killed    map[string]bool
	procHost  ProcHost
}

// NewExecutor creates an Executor over engine, with a plan cache holding
// up to maxCachedPlans parsed statements.
func NewExecutor(engine *storage.Engine, maxCachedPlans int) *Executor {
	return &Executor{
		engine: engine,
		cat:    engine.Catalog(),
		cache:  newPlanCache(maxCachedPlans),
		killed: make(map[string]bool),
	}
}

// SetProcHost wires the DBMS-procedure runtime surface (current user,
// config, connections, kill/clear-caches) that CALL clauses resolve
// against. Must be set before Execute is called with a query containing
// a CALL clause.
func (e *Executor) SetProcHost(host ProcHost) { e.procHost = host }

// ParseQuery parses cypher, consulting and populating the plan cache.
// Exported so the session layer can inspect a statement's clause shape
// (to recognize BEGIN/COMMIT/ROLLBACK) before deciding whether to call
// Execute at all.
func (e *Executor) ParseQuery(cypher string) (*Query, error) {
	schemaVersion := e.schemaVersion()
	if q, ok := e.cache.get(cypher, schemaVersion); ok {
		return q, nil
	}
	start := time.Now()
	q, err := NewParser(cypher).ParseQuery()
	if err != nil {
		return nil, err
	}
	e.cache.put(cypher, schemaVersion, q, time.Since(start))
	return q, nil
}

func (e *Executor) schemaVersion() int {
	return schemaVersionOf(len(e.cat.AllLabels()), len(e.cat.AllRelTypes()), len(e.cat.AllPropertyKeys()))
}

// SingleTxControl reports whether q is exactly one BEGIN/COMMIT/ROLLBACK
// clause — the one shape Executor never runs itself, since transaction
// lifecycle belongs to the session layer.
func SingleTxControl(q *Query) (*TxControlClause, bool) {
	if len(q.Clauses) != 1 {
		return nil, false
	}
	tc, ok := q.Clauses[0].(*TxControlClause)
	return tc, ok
}

// Execute runs a parsed statement within txn, using pending as the
// transaction's index staging area and params as its bound query
// parameters. queryID identifies this execution for killQuery.
func (e *Executor) Execute(q *Query, txn index.TxnID, pending *index.PendingSet, params map[string]record.Value, queryID string) (*ExecuteResult, error) {
	defer e.forgetQuery(queryID)
	start := time.Now()
	stats := &QueryStats{}

	pl := &planner{engine: e.engine, cat: e.cat, txn: txn, procHost: e.procHost}
	op, columns, err := pl.plan(q)
	if err != nil {
		return nil, err
	}

	ectx := &execContext{
		engine:  e.engine,
		txn:     txn,
		pending: pending,
		eval: &evalCtx{
			cat:    e.cat,
			params: params,
			runExists: func(row Row, part PatternPart, where Expr) (bool, error) {
				return e.runExistsSubquery(txn, pending, row, part, where)
			},
		},
		stats:     stats,
		cancelled: func() bool { return e.isKilled(queryID) },
	}

	var rows [][]interface{}
	for {
		if ectx.cancelled() {
			return nil, errkind.New(errkind.Runtime, "cypher: query killed")
		}
		row, ok, err := op.step(ectx)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		rows = append(rows, e.projectRow(row, columns))
	}

	stats.ExecutionTimeMs = time.Since(start).Milliseconds()
	if rows == nil {
		rows = [][]interface{}{}
	}
	return &ExecuteResult{Columns: columns, Rows: rows, Columnar: toColumnarTable(columns, rows), Stats: stats}, nil
}

// toColumnarTable transposes a row-major result set into the page-backed
// columnar.Table spec §4.8 names ("a result set is a set of named
// columns plus a row count"), choosing each column's Kind from its
// first non-nil value and falling back to columnar.KindValue (wrapped
// as a record.Value) for a column that is all-nil or carries mixed
// types across rows — every Cypher value is representable that way, so
// transposition never fails.
func toColumnarTable(columns []string, rows [][]interface{}) *columnar.Table {
	kinds := make([]columnar.Kind, len(columns))
	for i := range columns {
		kinds[i] = columnar.KindValue
		seen := false
		for _, row := range rows {
			if row[i] == nil {
				continue
			}
			k := columnar.KindValue
			switch row[i].(type) {
			case int64:
				k = columnar.KindInt64
			case float64:
				k = columnar.KindFloat64
			case bool:
				k = columnar.KindBool
			case string:
				k = columnar.KindString
			}
			if !seen {
				kinds[i], seen = k, true
			} else if kinds[i] != k {
				kinds[i] = columnar.KindValue
				break
			}
		}
	}

	table := columnar.NewTable(columns, kinds)
	for _, row := range rows {
		for i, col := range table.Columns {
			pushColumnarValue(col, row[i])
		}
	}
	table.Rows = len(rows)
	return table
}

// pushColumnarValue appends v onto col, coercing a mismatched or nil
// value to that column Kind's zero value rather than pushing nothing —
// every column must stay exactly Rows long, since Table has a single
// shared row count rather than a per-column length.
func pushColumnarValue(col columnar.Column, v interface{}) {
	switch c := col.(type) {
	case *columnar.Int64Column:
		n, _ := v.(int64)
		c.Push(n)
	case *columnar.Float64Column:
		f, _ := v.(float64)
		c.Push(f)
	case *columnar.BoolColumn:
		b, _ := v.(bool)
		c.Push(b)
	case *columnar.StringColumn:
		s, _ := v.(string)
		c.Push(s)
	case *columnar.ValueColumn:
		c.Push(record.FromGo(v))
	}
}

// runExistsSubquery evaluates `EXISTS { pattern [WHERE ...] }` against
// the current row's bindings: it plans the pattern as its own
// mini-pipeline seeded from row, then stops at the first match — the
// early-termination behavior spec §4.9 requires of EXISTS over a
// COUNT(*) > 0 equivalent.
func (e *Executor) runExistsSubquery(txn index.TxnID, pending *index.PendingSet, row Row, part PatternPart, where Expr) (bool, error) {
	pl := &planner{engine: e.engine, cat: e.cat, txn: txn}
	boundVars := map[string]bool{}
	for v := range row.Nodes {
		boundVars[v] = true
	}
	for v := range row.Rels {
		boundVars[v] = true
	}
	op := Operator(&singleOuterRowOp{row: row})
	op = pl.planPatternPart(op, part, boundVars)
	if where != nil {
		op = &filterOp{src: op, cond: where}
	}

	ectx := &execContext{
		engine:    e.engine,
		txn:       txn,
		pending:   pending,
		eval:      &evalCtx{cat: e.cat},
		stats:     &QueryStats{},
		cancelled: func() bool { return false },
	}
	_, matched, err := op.step(ectx)
	return matched, err
}

// projectRow reads columns out of row in order, converting bound graph
// elements to their Neo4j-compatible map representation and everything
// else through record.Value.ToGo.
func (e *Executor) projectRow(row Row, columns []string) []interface{} {
	out := make([]interface{}, len(columns))
	for i, col := range columns {
		if n, ok := row.Nodes[col]; ok {
			out[i] = nodeToMap(e.cat, n)
			continue
		}
		if r, ok := row.Rels[col]; ok {
			out[i] = relToMap(e.cat, r)
			continue
		}
		if v, ok := row.Vals[col]; ok {
			out[i] = v.ToGo()
			continue
		}
		out[i] = nil
	}
	return out
}

// KillQuery marks queryID cancelled; the running Execute call observes
// this at its next operator step and aborts with a Runtime error.
func (e *Executor) KillQuery(queryID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.killed == nil {
		e.killed = make(map[string]bool)
	}
	already := e.killed[queryID]
	e.killed[queryID] = true
	return !already
}

// forgetQuery drops queryID's kill-flag once its Execute call returns,
// so the registry doesn't grow unbounded across a session's lifetime.
func (e *Executor) forgetQuery(queryID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.killed, queryID)
}

func (e *Executor) isKilled(queryID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.killed[queryID]
}

// ClearQueryCaches empties the plan cache — the dbms.clearQueryCaches
// procedure's effect.
func (e *Executor) ClearQueryCaches() { e.cache.clear() }

// CacheStats reports the plan cache's hit/miss counters and size.
func (e *Executor) CacheStats() (hits, misses int64, size int) { return e.cache.stats() }

func nodeToMap(cat *catalog.Catalog, n *record.Node) map[string]interface{} {
	labels := make([]string, 0, len(n.Labels))
	for _, l := range n.Labels {
		if name, ok := cat.LookupLabel(l); ok {
			labels = append(labels, name)
		}
	}
	props := make(map[string]interface{}, len(n.Properties))
	for k, v := range n.Properties {
		if name, ok := cat.LookupPropertyKey(k); ok {
			props[name] = v.ToGo()
		}
	}
	return map[string]interface{}{
		"id":         uint64(n.ID),
		"labels":     labels,
		"properties": props,
	}
}

func relToMap(cat *catalog.Catalog, r *record.Relationship) map[string]interface{} {
	typeName, _ := cat.LookupRelType(r.Type)
	props := make(map[string]interface{}, len(r.Properties))
	for k, v := range r.Properties {
		if name, ok := cat.LookupPropertyKey(k); ok {
			props[name] = v.ToGo()
		}
	}
	return map[string]interface{}{
		"id":         uint64(r.ID),
		"type":       typeName,
		"startNode":  uint64(r.Start),
		"endNode":    uint64(r.End),
		"properties": props,
	}
}
