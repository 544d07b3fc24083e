package design

import (
	"fmt"
	"math"

	"mixpower/domain/core"
)

// ColumnKind distinguishes coded categorical columns from numeric ones.
type ColumnKind int

const (
	Categorical ColumnKind = iota
	Numeric
)

// Column is one named column of a Table. Categorical columns store level codes
// into Levels; numeric columns store Values.
type Column struct {
	Name       string
	Kind       ColumnKind
	Population Population
	Levels     []string
	Codes      []int
	Values     []float64
	Response   bool
}

// Label returns the printable value of row i.
func (c *Column) Label(i int) string {
	if c.Kind == Categorical {
		return c.Levels[c.Codes[i]]
	}
	return fmt.Sprintf("%g", c.Values[i])
}

// Table is a fully crossed design: one row per subject × item × within-combination.
// Column layout is fixed: subject-between, item-between, within, subject-continuous,
// item-continuous, then any response columns.
type Table struct {
	SubjectID []int
	ItemID    []int
	Subjects  int
	Items     int

	columns []Column
	index   map[string]int
}

// NewTable wraps identifier slices and columns; every column must match the row count.
func NewTable(subjectIDs, itemIDs []int, subjects, items int, columns []Column) (*Table, error) {
	if len(subjectIDs) != len(itemIDs) {
		return nil, fmt.Errorf("%w: %d subject ids vs %d item ids", core.ErrInvalidSpec, len(subjectIDs), len(itemIDs))
	}
	t := &Table{
		SubjectID: subjectIDs,
		ItemID:    itemIDs,
		Subjects:  subjects,
		Items:     items,
		index:     make(map[string]int, len(columns)),
	}
	for _, col := range columns {
		if err := t.appendColumn(col); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (t *Table) appendColumn(col Column) error {
	if col.Name == SubjectIDColumn || col.Name == ItemIDColumn {
		return fmt.Errorf("%w: column %q", core.ErrNameCollision, col.Name)
	}
	if _, dup := t.index[col.Name]; dup {
		return fmt.Errorf("%w: column %q", core.ErrNameCollision, col.Name)
	}
	n := len(col.Values)
	if col.Kind == Categorical {
		n = len(col.Codes)
	}
	if n != t.Rows() {
		return fmt.Errorf("%w: column %q has %d rows, table has %d", core.ErrInvalidSpec, col.Name, n, t.Rows())
	}
	t.index[col.Name] = len(t.columns)
	t.columns = append(t.columns, col)
	return nil
}

// Rows returns the number of rows.
func (t *Table) Rows() int {
	return len(t.SubjectID)
}

// Columns returns the factor and response columns in layout order.
func (t *Table) Columns() []Column {
	return t.columns
}

// ColumnNames lists subject_id, item_id and every other column in layout order.
func (t *Table) ColumnNames() []string {
	names := []string{SubjectIDColumn, ItemIDColumn}
	for _, c := range t.columns {
		names = append(names, c.Name)
	}
	return names
}

// Column looks up a column by name.
func (t *Table) Column(name string) (*Column, bool) {
	i, ok := t.index[name]
	if !ok {
		return nil, false
	}
	return &t.columns[i], true
}

// Grouping returns zero-based level codes for a grouping column. The unit
// identifier columns and any categorical column qualify.
func (t *Table) Grouping(name string) (codes []int, levels int, ok bool) {
	switch name {
	case SubjectIDColumn:
		return zeroBased(t.SubjectID), t.Subjects, true
	case ItemIDColumn:
		return zeroBased(t.ItemID), t.Items, true
	}
	col, found := t.Column(name)
	if !found || col.Kind != Categorical {
		return nil, 0, false
	}
	return col.Codes, len(col.Levels), true
}

func zeroBased(ids []int) []int {
	out := make([]int, len(ids))
	for i, id := range ids {
		out[i] = id - 1
	}
	return out
}

// WithResponse returns a shallow copy of t with a numeric response column added.
// A response column of the same name is replaced.
func (t *Table) WithResponse(name string, values []float64) (*Table, error) {
	if len(values) != t.Rows() {
		return nil, core.NewLengthMismatchError("response "+name, len(values), t.Rows())
	}
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, core.NewArgumentError("response "+name, fmt.Sprintf("row %d is not finite", i))
		}
	}

	cols := make([]Column, 0, len(t.columns)+1)
	for _, c := range t.columns {
		if c.Name == name && c.Response {
			continue
		}
		cols = append(cols, c)
	}
	cols = append(cols, Column{
		Name:     name,
		Kind:     Numeric,
		Values:   append([]float64(nil), values...),
		Response: true,
	})
	return NewTable(t.SubjectID, t.ItemID, t.Subjects, t.Items, cols)
}

// Record returns row i rendered as strings in ColumnNames order.
func (t *Table) Record(i int) []string {
	rec := make([]string, 0, len(t.columns)+2)
	rec = append(rec, fmt.Sprintf("%d", t.SubjectID[i]), fmt.Sprintf("%d", t.ItemID[i]))
	for j := range t.columns {
		rec = append(rec, t.columns[j].Label(i))
	}
	return rec
}
