// Package dataframe holds tabular query results in memory. Missing
// values are a first-class state: every cell carries a validity flag, so
// "no measurement" stays distinguishable from an empty string or a zero.
package dataframe

import (
	"fmt"
	"strconv"
)

// Cell is one table entry. Valid is false when the measurement is
// missing; Value is meaningless in that case.
type Cell struct {
	Value string
	Valid bool
}

// NewCell returns a present cell holding v.
func NewCell(v string) Cell { return Cell{Value: v, Valid: true} }

// MissingCell is the absent-measurement marker.
var MissingCell = Cell{}

// Table is an immutable row-major table with named columns. Methods
// that transform a Table return a new one; the receiver is never
// modified.
type Table struct {
	cols []string
	rows [][]Cell
}

// NewTable builds a table from column names and rows. Every row must
// have exactly one cell per column.
func NewTable(cols []string, rows [][]Cell) (*Table, error) {
	if len(cols) == 0 {
		return nil, fmt.Errorf("dataframe: at least one column is required")
	}
	seen := make(map[string]struct{}, len(cols))
	for _, c := range cols {
		if _, dup := seen[c]; dup {
			return nil, fmt.Errorf("dataframe: duplicate column %q", c)
		}
		seen[c] = struct{}{}
	}
	for i, row := range rows {
		if len(row) != len(cols) {
			return nil, fmt.Errorf("dataframe: row %d has %d cells, want %d", i, len(row), len(cols))
		}
	}
	return &Table{cols: append([]string(nil), cols...), rows: rows}, nil
}

// Columns returns the column names in order.
func (t *Table) Columns() []string {
	return append([]string(nil), t.cols...)
}

// NumRows returns the number of rows.
func (t *Table) NumRows() int { return len(t.rows) }

// At returns the cell at the given row index and column name.
func (t *Table) At(row int, col string) (Cell, error) {
	if row < 0 || row >= len(t.rows) {
		return Cell{}, fmt.Errorf("dataframe: row %d out of range [0,%d)", row, len(t.rows))
	}
	idx, err := t.columnIndex(col)
	if err != nil {
		return Cell{}, err
	}
	return t.rows[row][idx], nil
}

func (t *Table) columnIndex(col string) (int, error) {
	for i, c := range t.cols {
		if c == col {
			return i, nil
		}
	}
	return 0, fmt.Errorf("dataframe: no column %q", col)
}

// DropMissing returns a table without the rows that have a missing cell
// in any of the named columns. With no columns named, every column is
// checked. The operation is idempotent.
func (t *Table) DropMissing(cols ...string) (*Table, error) {
	indices, err := t.resolveColumns(cols)
	if err != nil {
		return nil, err
	}

	kept := make([][]Cell, 0, len(t.rows))
	for _, row := range t.rows {
		missing := false
		for _, idx := range indices {
			if !row[idx].Valid {
				missing = true
				break
			}
		}
		if !missing {
			kept = append(kept, row)
		}
	}
	return &Table{cols: t.cols, rows: kept}, nil
}

// resolveColumns maps names to indices, defaulting to all columns.
func (t *Table) resolveColumns(cols []string) ([]int, error) {
	if len(cols) == 0 {
		indices := make([]int, len(t.cols))
		for i := range t.cols {
			indices[i] = i
		}
		return indices, nil
	}
	indices := make([]int, 0, len(cols))
	for _, c := range cols {
		idx, err := t.columnIndex(c)
		if err != nil {
			return nil, err
		}
		indices = append(indices, idx)
	}
	return indices, nil
}

// NullFloat is a 64-bit float cell that can be missing. Missing is
// never encoded as a sentinel value: a NullFloat with Valid=false is
// distinct from a valid zero or a valid NaN.
type NullFloat struct {
	Float64 float64
	Valid   bool
}

// FloatTable is a Table whose cells have been cast to float64.
type FloatTable struct {
	cols []string
	rows [][]NullFloat
}

// CastFloat64 parses the named columns (all columns when none named) as
// 64-bit floats. Values exactly representable in float64 round-trip
// losslessly. Missing cells stay missing. A present cell that does not
// parse as a number is an error naming the offending cell.
func (t *Table) CastFloat64(cols ...string) (*FloatTable, error) {
	indices, err := t.resolveColumns(cols)
	if err != nil {
		return nil, err
	}

	names := make([]string, len(indices))
	for i, idx := range indices {
		names[i] = t.cols[idx]
	}

	rows := make([][]NullFloat, len(t.rows))
	for r, row := range t.rows {
		out := make([]NullFloat, len(indices))
		for i, idx := range indices {
			cell := row[idx]
			if !cell.Valid {
				continue
			}
			v, err := strconv.ParseFloat(cell.Value, 64)
			if err != nil {
				return nil, fmt.Errorf("dataframe: row %d column %q: %q is not numeric", r, t.cols[idx], cell.Value)
			}
			out[i] = NullFloat{Float64: v, Valid: true}
		}
		rows[r] = out
	}
	return &FloatTable{cols: names, rows: rows}, nil
}

// Columns returns the column names in order.
func (f *FloatTable) Columns() []string {
	return append([]string(nil), f.cols...)
}

// NumRows returns the number of rows.
func (f *FloatTable) NumRows() int { return len(f.rows) }

// At returns the cell at the given row index and column name.
func (f *FloatTable) At(row int, col string) (NullFloat, error) {
	if row < 0 || row >= len(f.rows) {
		return NullFloat{}, fmt.Errorf("dataframe: row %d out of range [0,%d)", row, len(f.rows))
	}
	for i, c := range f.cols {
		if c == col {
			return f.rows[row][i], nil
		}
	}
	return NullFloat{}, fmt.Errorf("dataframe: no column %q", col)
}

// Column returns the named column's values. Missing cells are an error;
// drop or impute them before extracting dense data.
func (f *FloatTable) Column(col string) ([]float64, error) {
	idx := -1
	for i, c := range f.cols {
		if c == col {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("dataframe: no column %q", col)
	}
	out := make([]float64, len(f.rows))
	for r, row := range f.rows {
		if !row[idx].Valid {
			return nil, fmt.Errorf("dataframe: column %q has a missing value at row %d", col, r)
		}
		out[r] = row[idx].Float64
	}
	return out, nil
}
