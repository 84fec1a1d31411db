// Package dataset parses uploaded CSV files into column-oriented tables and applies
// the per-kind preprocessing (LiDAR unit stripping and numeric coercion).
package dataset

import (
	"math"
	"strings"
)

// Column holds one CSV column. Text always carries the raw cells; Values is
// populated only when Numeric is true, with NaN for missing or unparsable cells.
type Column struct {
	Name    string
	Text    []string
	Values  []float64
	Numeric bool
}

// Table is a parsed CSV with ordered columns of equal length.
type Table struct {
	Columns []Column
	Rows    int
}

// Names returns the column names in file order.
func (t *Table) Names() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Name
	}
	return out
}

// Column returns the named column, or nil.
func (t *Table) Column(name string) *Column {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i]
		}
	}
	return nil
}

// Numeric returns the values of a numeric column. ok is false when the column
// is missing or not numeric.
func (t *Table) Numeric(name string) ([]float64, bool) {
	c := t.Column(name)
	if c == nil || !c.Numeric {
		return nil, false
	}
	return c.Values, true
}

// Text returns the raw cells of a column.
func (t *Table) Text(name string) ([]string, bool) {
	c := t.Column(name)
	if c == nil {
		return nil, false
	}
	return c.Text, true
}

// NumericColumns returns the names of numeric columns in file order.
func (t *Table) NumericColumns() []string {
	var out []string
	for _, c := range t.Columns {
		if c.Numeric {
			out = append(out, c.Name)
		}
	}
	return out
}

// ColumnsContaining returns column names containing substr, case-insensitively.
func (t *Table) ColumnsContaining(substr string) []string {
	needle := strings.ToLower(substr)
	var out []string
	for _, c := range t.Columns {
		if strings.Contains(strings.ToLower(c.Name), needle) {
			out = append(out, c.Name)
		}
	}
	return out
}

// Head returns the first n rows as raw strings.
func (t *Table) Head(n int) [][]string {
	if n <= 0 || n > t.Rows {
		n = t.Rows
	}
	out := make([][]string, n)
	for r := 0; r < n; r++ {
		row := make([]string, len(t.Columns))
		for i, c := range t.Columns {
			row[i] = c.Text[r]
		}
		out[r] = row
	}
	return out
}

// Finite returns the values of a numeric column that are neither NaN nor infinite.
func Finite(values []float64) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			out = append(out, v)
		}
	}
	return out
}

// dropRows keeps only rows where keep returns true.
func (t *Table) dropRows(keep func(row int) bool) {
	var idx []int
	for r := 0; r < t.Rows; r++ {
		if keep(r) {
			idx = append(idx, r)
		}
	}
	if len(idx) == t.Rows {
		return
	}
	for i := range t.Columns {
		c := &t.Columns[i]
		text := make([]string, len(idx))
		for j, r := range idx {
			text[j] = c.Text[r]
		}
		c.Text = text
		if c.Numeric {
			vals := make([]float64, len(idx))
			for j, r := range idx {
				vals[j] = c.Values[r]
			}
			c.Values = vals
		}
	}
	t.Rows = len(idx)
}
