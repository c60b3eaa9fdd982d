package model

// Table is the in-memory tabular shape shared by the SQL tool and the
// analytics pipeline. Rows are positional; cell values may be nil, numbers,
// strings or time.Time.
type Table struct {
	Columns []string
	Rows    [][]any
}

// ColumnIndex returns the position of the named column, or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// NumRows returns the row count; safe on a nil table.
func (t *Table) NumRows() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Head returns a table sharing the first n rows.
func (t *Table) Head(n int) *Table {
	if t == nil {
		return nil
	}
	if n > len(t.Rows) {
		n = len(t.Rows)
	}
	return &Table{Columns: t.Columns, Rows: t.Rows[:n]}
}

// Records renders rows as column-keyed maps, the shape previews are
// serialized in.
func (t *Table) Records() []map[string]any {
	if t == nil {
		return nil
	}
	out := make([]map[string]any, 0, len(t.Rows))
	for _, row := range t.Rows {
		rec := make(map[string]any, len(t.Columns))
		for i, c := range t.Columns {
			if i < len(row) {
				rec[c] = row[i]
			}
		}
		out = append(out, rec)
	}
	return out
}

// Series is a named one-dimensional sequence of values.
type Series struct {
	Name   string
	Values []any
}
