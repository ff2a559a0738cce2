package columnar

// Table is a result set: a set of named, typed columns sharing one row
// count (spec §4.8). Columns are addressed by name in projection order;
// Table itself does not care which column came from which MATCH
// variable — that mapping lives in the query executor's row layer.
type Table struct {
	Names   []string
	Columns []Column
	Rows    int
}

// NewTable creates an empty table over the given column names and
// kinds, in order.
func NewTable(names []string, kinds []Kind) *Table {
	t := &Table{Names: append([]string(nil), names...)}
	t.Columns = make([]Column, len(kinds))
	for i, k := range kinds {
		t.Columns[i] = newColumn(k)
	}
	return t
}

func newColumn(k Kind) Column {
	switch k {
	case KindInt64:
		return NewInt64Column()
	case KindFloat64:
		return NewFloat64Column()
	case KindBool:
		return NewBoolColumn()
	case KindString:
		return NewStringColumn()
	default:
		return NewValueColumn()
	}
}

// ColumnByName returns t's column named name, or (nil, false).
func (t *Table) ColumnByName(name string) (Column, bool) {
	for i, n := range t.Names {
		if n == name {
			return t.Columns[i], true
		}
	}
	return nil, false
}
