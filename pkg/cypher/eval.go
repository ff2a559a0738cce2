package cypher

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/latticedb/graphcore/pkg/catalog"
	"github.com/latticedb/graphcore/pkg/errkind"
	"github.com/latticedb/graphcore/pkg/record"
)

// evalCtx is what expression evaluation needs beyond the row it is
// evaluating against: query parameters, the catalog for name<->ID
// resolution, and a hook back into the planner for EXISTS{...} subqueries
// (the only expression form that needs to run a pattern against the live
// graph rather than just inspect the current row).
type evalCtx struct {
	cat         *catalog.Catalog
	params      map[string]record.Value
	runExists   func(row Row, part PatternPart, where Expr) (bool, error)
}

// evalExpr evaluates expr against row, returning a plain Go value: nil,
// bool, int64, float64, string, []any, or a *record.Node/*record.Relationship
// for expressions that resolve to a bound graph element.
func evalExpr(ctx *evalCtx, row Row, expr Expr) (any, error) {
	switch e := expr.(type) {
	case *LiteralExpr:
		return e.Value, nil
	case *ParamExpr:
		if v, ok := ctx.params[e.Name]; ok {
			return v.ToGo(), nil
		}
		return nil, nil
	case *VarExpr:
		return row.get(e.Name), nil
	case *PropertyExpr:
		return evalProperty(ctx, row, e)
	case *ListExpr:
		out := make([]any, len(e.Items))
		for i, item := range e.Items {
			v, err := evalExpr(ctx, row, item)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case *FunctionCallExpr:
		return evalFunction(ctx, row, e)
	case *UnaryExpr:
		return evalUnary(ctx, row, e)
	case *BinaryExpr:
		return evalBinary(ctx, row, e)
	case *ExistsSubqueryExpr:
		if ctx.runExists == nil {
			return nil, errkind.New(errkind.Runtime, "cypher: EXISTS subquery not supported in this context")
		}
		ok, err := ctx.runExists(row, e.Part, e.Where)
		if err != nil {
			return nil, err
		}
		return ok, nil
	default:
		return nil, errkind.New(errkind.Runtime, fmt.Sprintf("cypher: unhandled expression %T", expr))
	}
}

// evalBool evaluates expr and coerces the result to a boolean, treating
// null (and any non-boolean result) as false — the WHERE/filter contract.
func evalBool(ctx *evalCtx, row Row, expr Expr) (bool, error) {
	v, err := evalExpr(ctx, row, expr)
	if err != nil {
		return false, err
	}
	b, _ := v.(bool)
	return b, nil
}

func evalProperty(ctx *evalCtx, row Row, e *PropertyExpr) (any, error) {
	keyID, known := ctx.cat.PropertyKeyID(e.Property)
	if n, isNode := row.Nodes[e.Variable]; isNode {
		if !known {
			return nil, nil
		}
		if v, has := n.Properties[keyID]; has {
			return v.ToGo(), nil
		}
		return nil, nil
	}
	if r, isRel := row.Rels[e.Variable]; isRel {
		if !known {
			return nil, nil
		}
		if v, has := r.Properties[keyID]; has {
			return v.ToGo(), nil
		}
		return nil, nil
	}
	return nil, nil
}

func resolveGraphElem(row Row, expr Expr) (*record.Node, *record.Relationship, bool) {
	v, ok := expr.(*VarExpr)
	if !ok {
		return nil, nil, false
	}
	if n, has := row.Nodes[v.Name]; has {
		return n, nil, true
	}
	if r, has := row.Rels[v.Name]; has {
		return nil, r, true
	}
	return nil, nil, false
}

// evalFunction evaluates the non-aggregate scalar functions spec §4.9
// names directly (id, labels, keys, type, plus common string/coalesce
// helpers). COUNT/SUM/AVG/MIN/MAX/COLLECT are aggregate forms handled by
// the aggregate operator, not here — reaching this switch with one of
// them means it appeared outside RETURN/WITH aggregation, which is a
// semantic error.
func evalFunction(ctx *evalCtx, row Row, e *FunctionCallExpr) (any, error) {
	switch e.Name {
	case "id":
		n, r, ok := resolveGraphElem(row, e.Args[0])
		if !ok {
			return nil, errkind.New(errkind.Semantic, "id() expects a node or relationship variable")
		}
		if n != nil {
			return int64(n.ID), nil
		}
		return int64(r.ID), nil

	case "labels":
		n, _, ok := resolveGraphElem(row, e.Args[0])
		if !ok || n == nil {
			return nil, errkind.New(errkind.Semantic, "labels() expects a node variable")
		}
		names := make([]string, 0, len(n.Labels))
		for _, l := range n.Labels {
			if nm, ok := ctx.cat.LookupLabel(l); ok {
				names = append(names, nm)
			}
		}
		sort.Strings(names)
		return toAnySlice(names), nil

	case "type":
		_, r, ok := resolveGraphElem(row, e.Args[0])
		if !ok || r == nil {
			return nil, errkind.New(errkind.Semantic, "type() expects a relationship variable")
		}
		name, _ := ctx.cat.LookupRelType(r.Type)
		return name, nil

	case "keys":
		n, r, ok := resolveGraphElem(row, e.Args[0])
		if !ok {
			return nil, errkind.New(errkind.Semantic, "keys() expects a node or relationship variable")
		}
		var props map[catalog.ID]record.Value
		if r != nil {
			props = r.Properties
		} else if n != nil {
			props = n.Properties
		}
		names := make([]string, 0, len(props))
		for k := range props {
			if nm, ok := ctx.cat.LookupPropertyKey(k); ok && !strings.HasPrefix(nm, "_") {
				names = append(names, nm)
			}
		}
		sort.Strings(names)
		return toAnySlice(names), nil

	case "size":
		v, err := evalExpr(ctx, row, e.Args[0])
		if err != nil {
			return nil, err
		}
		switch t := v.(type) {
		case []any:
			return int64(len(t)), nil
		case string:
			return int64(len(t)), nil
		default:
			return int64(0), nil
		}

	case "toupper":
		v, err := evalExpr(ctx, row, e.Args[0])
		if err != nil {
			return nil, err
		}
		s, _ := v.(string)
		return strings.ToUpper(s), nil

	case "tolower":
		v, err := evalExpr(ctx, row, e.Args[0])
		if err != nil {
			return nil, err
		}
		s, _ := v.(string)
		return strings.ToLower(s), nil

	case "tostring":
		v, err := evalExpr(ctx, row, e.Args[0])
		if err != nil {
			return nil, err
		}
		if v == nil {
			return nil, nil
		}
		return fmt.Sprintf("%v", v), nil

	case "coalesce":
		for _, a := range e.Args {
			v, err := evalExpr(ctx, row, a)
			if err != nil {
				return nil, err
			}
			if v != nil {
				return v, nil
			}
		}
		return nil, nil

	case "abs":
		v, err := evalExpr(ctx, row, e.Args[0])
		if err != nil {
			return nil, err
		}
		switch n := v.(type) {
		case int64:
			if n < 0 {
				return -n, nil
			}
			return n, nil
		case float64:
			return math.Abs(n), nil
		}
		return nil, errkind.New(errkind.Runtime, "abs() expects a numeric argument")

	case "count", "sum", "avg", "min", "max", "collect":
		return nil, errkind.New(errkind.Semantic, fmt.Sprintf("%s() is an aggregate function and may only appear in RETURN/WITH", e.Name))

	default:
		return nil, errkind.New(errkind.Semantic, "cypher: unknown function "+e.Name)
	}
}

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func evalUnary(ctx *evalCtx, row Row, e *UnaryExpr) (any, error) {
	v, err := evalExpr(ctx, row, e.Expr)
	if err != nil {
		return nil, err
	}
	switch e.Op {
	case "NOT":
		b, _ := v.(bool)
		return !b, nil
	case "-":
		switch n := v.(type) {
		case int64:
			return -n, nil
		case float64:
			return -n, nil
		}
		return nil, errkind.New(errkind.Runtime, "unary - on non-numeric value")
	case "IS NULL":
		return v == nil, nil
	case "IS NOT NULL":
		return v != nil, nil
	}
	return nil, errkind.New(errkind.Runtime, "cypher: unknown unary operator "+e.Op)
}

func evalBinary(ctx *evalCtx, row Row, e *BinaryExpr) (any, error) {
	if e.Op == "AND" || e.Op == "OR" || e.Op == "XOR" {
		return evalLogical(ctx, row, e)
	}

	l, err := evalExpr(ctx, row, e.Left)
	if err != nil {
		return nil, err
	}
	r, err := evalExpr(ctx, row, e.Right)
	if err != nil {
		return nil, err
	}

	switch e.Op {
	case "=":
		return valuesEqual(l, r), nil
	case "<>":
		return !valuesEqual(l, r), nil
	case "<", "<=", ">", ">=":
		return compareOrdered(l, r, e.Op), nil
	case "+", "-", "*", "/", "%":
		return arith(l, r, e.Op)
	case "STARTS WITH":
		return strings.HasPrefix(asString(l), asString(r)), nil
	case "ENDS WITH":
		return strings.HasSuffix(asString(l), asString(r)), nil
	case "CONTAINS":
		return strings.Contains(asString(l), asString(r)), nil
	case "=~":
		re, err := regexp.Compile(asString(r))
		if err != nil {
			// An invalid regex never throws at match time (spec §4.9):
			// it simply fails to match.
			return false, nil
		}
		return re.MatchString(asString(l)), nil
	case "IN":
		list, ok := r.([]any)
		if !ok {
			return false, nil
		}
		for _, item := range list {
			if valuesEqual(l, item) {
				return true, nil
			}
		}
		return false, nil
	}
	return nil, errkind.New(errkind.Runtime, "cypher: unknown binary operator "+e.Op)
}

func evalLogical(ctx *evalCtx, row Row, e *BinaryExpr) (any, error) {
	l, err := evalExpr(ctx, row, e.Left)
	if err != nil {
		return nil, err
	}
	lb, _ := l.(bool)
	if e.Op == "AND" && !lb {
		return false, nil
	}
	if e.Op == "OR" && lb {
		return true, nil
	}
	r, err := evalExpr(ctx, row, e.Right)
	if err != nil {
		return nil, err
	}
	rb, _ := r.(bool)
	switch e.Op {
	case "AND":
		return lb && rb, nil
	case "OR":
		return lb || rb, nil
	default: // XOR
		return lb != rb, nil
	}
}

func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return record.Equal(record.FromGo(a), record.FromGo(b))
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func compareOrdered(a, b any, op string) bool {
	if af, aok := record.FromGo(a).AsFloat64(); aok {
		if bf, bok := record.FromGo(b).AsFloat64(); bok {
			switch op {
			case "<":
				return af < bf
			case "<=":
				return af <= bf
			case ">":
				return af > bf
			default:
				return af >= bf
			}
		}
	}
	as, aIsStr := a.(string)
	bs, bIsStr := b.(string)
	if aIsStr && bIsStr {
		switch op {
		case "<":
			return as < bs
		case "<=":
			return as <= bs
		case ">":
			return as > bs
		default:
			return as >= bs
		}
	}
	return false
}

func arith(a, b any, op string) (any, error) {
	if op == "+" {
		if as, ok := a.(string); ok {
			return as + fmt.Sprintf("%v", b), nil
		}
	}
	af, aok := record.FromGo(a).AsFloat64()
	bf, bok := record.FromGo(b).AsFloat64()
	if !aok || !bok {
		return nil, errkind.New(errkind.Runtime, "arithmetic on a non-numeric value")
	}
	_, aInt := a.(int64)
	_, bInt := b.(int64)
	bothInt := aInt && bInt

	switch op {
	case "+":
		return numResult(af+bf, bothInt), nil
	case "-":
		return numResult(af-bf, bothInt), nil
	case "*":
		return numResult(af*bf, bothInt), nil
	case "/":
		if bf == 0 {
			return nil, errkind.New(errkind.Runtime, "division by zero")
		}
		return numResult(af/bf, false), nil
	default: // %
		if bf == 0 {
			return nil, errkind.New(errkind.Runtime, "division by zero")
		}
		return numResult(math.Mod(af, bf), bothInt), nil
	}
}

func numResult(f float64, asInt bool) any {
	if asInt {
		return int64(f)
	}
	return f
}
