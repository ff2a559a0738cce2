// Package record defines the graph data model — nodes, relationships, and
// the tagged property value variant — together with the fixed-page,
// mmap-backed record store that durably holds them (spec §3, §4.1).
package record

import (
	"fmt"
	"sort"
)

// ValueKind tags the dynamic type carried by a Value. Properties are
// dynamic (spec §1 non-goal: schema-enforced types), but every value on
// the wire and on disk still carries an explicit, closed tag — runtime
// type coercion is modeled as a tagged sum type with explicit conversion
// functions rather than an untyped interface{} soup (spec §9).
type ValueKind uint8

const (
	KindNull ValueKind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindList
	KindMap
	KindPoint
)

// CoordSystem distinguishes the two point coordinate systems spec §3
// requires: planar Cartesian and geographic WGS84.
type CoordSystem uint8

const (
	CoordCartesian CoordSystem = iota
	CoordWGS84
)

// Point is a 2D or 3D point value, tagged with its coordinate system.
// Cartesian points use Euclidean distance; WGS84 points use Haversine
// distance over longitude/latitude (spec §4.4 spatial index).
type Point struct {
	System CoordSystem
	X, Y   float64
	Z      *float64 // nil for 2D points
}

func (p Point) Is3D() bool { return p.Z != nil }

// Value is a tagged variant holding one property value: null, boolean,
// 64-bit signed integer, 64-bit float, UTF-8 string, list, map, or point
// (spec §3).
type Value struct {
	Kind   ValueKind
	Bool   bool
	Int    int64
	Float  float64
	Str    string
	List   []Value
	Map    map[string]Value
	Point  Point
}

func Null() Value            { return Value{Kind: KindNull} }
func Bool(b bool) Value      { return Value{Kind: KindBool, Bool: b} }
func Int(i int64) Value      { return Value{Kind: KindInt, Int: i} }
func Float(f float64) Value  { return Value{Kind: KindFloat, Float: f} }
func Str(s string) Value     { return Value{Kind: KindString, Str: s} }
func List(vs []Value) Value  { return Value{Kind: KindList, List: vs} }
func Map(m map[string]Value) Value { return Value{Kind: KindMap, Map: m} }
func PointVal(p Point) Value { return Value{Kind: KindPoint, Point: p} }

func (v Value) IsNull() bool { return v.Kind == KindNull }

// AsFloat64 converts numeric kinds to float64 for comparisons and distance
// calculations. Returns (0, false) for non-numeric kinds.
func (v Value) AsFloat64() (float64, bool) {
	switch v.Kind {
	case KindInt:
		return float64(v.Int), true
	case KindFloat:
		return v.Float, true
	default:
		return 0, false
	}
}

// ToInt converts a numeric value to an int64. A whole-valued float
// converts either way; a float with a fractional part returns an error
// unless truncate is requested, in which case it is truncated toward zero
// (spec §9 design note).
func (v Value) ToInt(truncate bool) (Value, error) {
	switch v.Kind {
	case KindInt:
		return v, nil
	case KindFloat:
		if !truncate && v.Float != float64(int64(v.Float)) {
			return Value{}, fmt.Errorf("record: narrowing float->int conversion of %v requires explicit truncation", v.Float)
		}
		return Int(int64(v.Float)), nil
	default:
		return Value{}, fmt.Errorf("record: cannot convert %v to int", v.Kind)
	}
}

// Equal reports full structural equality between two values — used for
// UNION's full-row-equality deduplication (spec §4.9) and for COUNT
// DISTINCT's hash-based dedup key.
func Equal(a, b Value) bool {
	if a.Kind != b.Kind {
		// Numeric cross-kind equality (1 == 1.0) mirrors Cypher semantics.
		af, aok := a.AsFloat64()
		bf, bok := b.AsFloat64()
		return aok && bok && af == bf
	}
	switch a.Kind {
	case KindNull:
		return true
	case KindBool:
		return a.Bool == b.Bool
	case KindInt:
		return a.Int == b.Int
	case KindFloat:
		return a.Float == b.Float
	case KindString:
		return a.Str == b.Str
	case KindPoint:
		pa, pb := a.Point, b.Point
		if pa.System != pb.System || pa.X != pb.X || pa.Y != pb.Y || pa.Is3D() != pb.Is3D() {
			return false
		}
		return !pa.Is3D() || *pa.Z == *pb.Z
	case KindList:
		if len(a.List) != len(b.List) {
			return false
		}
		for i := range a.List {
			if !Equal(a.List[i], b.List[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(a.Map) != len(b.Map) {
			return false
		}
		for k, av := range a.Map {
			bv, ok := b.Map[k]
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// HashKey produces a deterministic string key for use in hash-based
// dedup (COUNT DISTINCT, UNION, hash joins). Not meant for persistence.
func HashKey(v Value) string {
	switch v.Kind {
	case KindNull:
		return "n:"
	case KindBool:
		if v.Bool {
			return "b:1"
		}
		return "b:0"
	case KindInt:
		return fmt.Sprintf("i:%d", v.Int)
	case KindFloat:
		return fmt.Sprintf("f:%v", v.Float)
	case KindString:
		return "s:" + v.Str
	case KindPoint:
		z := "-"
		if v.Point.Z != nil {
			z = fmt.Sprintf("%v", *v.Point.Z)
		}
		return fmt.Sprintf("p:%d:%v:%v:%s", v.Point.System, v.Point.X, v.Point.Y, z)
	case KindList:
		s := "l:["
		for _, e := range v.List {
			s += HashKey(e) + ","
		}
		return s + "]"
	case KindMap:
		keys := make([]string, 0, len(v.Map))
		for k := range v.Map {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		s := "m:{"
		for _, k := range keys {
			s += k + "=" + HashKey(v.Map[k]) + ";"
		}
		return s + "}"
	default:
		return "?"
	}
}

// FromGo converts a native Go value (as produced by Cypher literal
// parsing or a client parameter map) into a Value. Used at the API
// boundary only — internal code constructs Values directly.
func FromGo(v any) Value {
	switch x := v.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(x)
	case int:
		return Int(int64(x))
	case int64:
		return Int(x)
	case float64:
		return Float(x)
	case string:
		return Str(x)
	case []any:
		out := make([]Value, len(x))
		for i, e := range x {
			out[i] = FromGo(e)
		}
		return List(out)
	case map[string]any:
		out := make(map[string]Value, len(x))
		for k, e := range x {
			out[k] = FromGo(e)
		}
		return Map(out)
	case Value:
		return x
	default:
		return Str(fmt.Sprintf("%v", x))
	}
}

// ToGo converts a Value back to a native Go value for client-facing
// result rows (pkg/session) and JSON encoding.
func (v Value) ToGo() any {
	switch v.Kind {
	case KindNull:
		return nil
	case KindBool:
		return v.Bool
	case KindInt:
		return v.Int
	case KindFloat:
		return v.Float
	case KindString:
		return v.Str
	case KindList:
		out := make([]any, len(v.List))
		for i, e := range v.List {
			out[i] = e.ToGo()
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.Map))
		for k, e := range v.Map {
			out[k] = e.ToGo()
		}
		return out
	case KindPoint:
		m := map[string]any{"x": v.Point.X, "y": v.Point.Y, "srid": v.Point.System}
		if v.Point.Z != nil {
			m["z"] = *v.Point.Z
		}
		return m
	default:
		return nil
	}
}
