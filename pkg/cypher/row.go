package cypher

import "github.com/latticedb/graphcore/pkg/record"

// Row is one intermediate result flowing through the operator pipeline:
// bound node and relationship variables, plus bound scalar values
// produced by WITH/UNWIND/aggregation. Node and relationship bindings are
// kept separate from scalar bindings so property access and builtins
// like id()/labels()/type() can reach the underlying record without a
// type assertion on every lookup.
type Row struct {
	Nodes map[string]*record.Node
	Rels  map[string]*record.Relationship
	Vals  map[string]record.Value
}

func newRow() Row {
	return Row{
		Nodes: make(map[string]*record.Node),
		Rels:  make(map[string]*record.Relationship),
		Vals:  make(map[string]record.Value),
	}
}

// clone returns a shallow copy of r: safe to extend with new bindings
// without mutating the row it was derived from (every operator that
// produces more than one output row per input row needs this).
func (r Row) clone() Row {
	out := newRow()
	for k, v := range r.Nodes {
		out.Nodes[k] = v
	}
	for k, v := range r.Rels {
		out.Rels[k] = v
	}
	for k, v := range r.Vals {
		out.Vals[k] = v
	}
	return out
}

// get resolves a bound variable to whatever it carries: a *record.Node, a
// *record.Relationship, or a plain Go value (via record.Value.ToGo). Unbound
// variables resolve to nil, matching Cypher's treatment of missing bindings
// as null rather than an error.
func (r Row) get(name string) any {
	if n, ok := r.Nodes[name]; ok {
		return n
	}
	if rel, ok := r.Rels[name]; ok {
		return rel
	}
	if v, ok := r.Vals[name]; ok {
		return v.ToGo()
	}
	return nil
}
