package dataset

import (
	"github.com/bruin-data/dealsync/pkg/deal"
	"github.com/samber/lo"
)

// Column is a single output column. Source keeps the CRM field identifier the
// column was built from, so it can still be found after renames.
type Column struct {
	Name   string
	Source string
}

// Dataset is the tabular form of a set of deals: one row per record, one cell
// per column, in column order.
type Dataset struct {
	Columns []Column
	Rows    [][]deal.Value
}

// FromRecords builds a table whose columns are the union of the keys of all
// records in first-seen order. Cells for keys a record does not carry are absent.
func FromRecords(records []*deal.Record) *Dataset {
	keys := lo.Uniq(lo.FlatMap(records, func(r *deal.Record, _ int) []string {
		return r.Keys()
	}))

	ds := &Dataset{
		Columns: lo.Map(keys, func(k string, _ int) Column {
			return Column{Name: k, Source: k}
		}),
		Rows: make([][]deal.Value, 0, len(records)),
	}

	for _, r := range records {
		row := make([]deal.Value, len(keys))
		for i, k := range keys {
			row[i] = r.Get(k)
		}
		ds.Rows = append(ds.Rows, row)
	}

	return ds
}

func (d *Dataset) Len() int {
	return len(d.Rows)
}

func (d *Dataset) ColumnNames() []string {
	return lo.Map(d.Columns, func(c Column, _ int) string {
		return c.Name
	})
}

// ColumnBySource returns the index of the first column built from the given
// field identifier, or -1.
func (d *Dataset) ColumnBySource(source string) int {
	_, idx, ok := lo.FindIndexOf(d.Columns, func(c Column) bool {
		return c.Source == source
	})
	if !ok {
		return -1
	}
	return idx
}

// IsNumeric reports whether every present cell of the column holds a number.
// Columns with no present cells count as numeric.
func (d *Dataset) IsNumeric(col int) bool {
	for _, row := range d.Rows {
		k := row[col].Kind()
		if k != deal.KindAbsent && k != deal.KindNumber {
			return false
		}
	}
	return true
}

// Cell returns the value at the given position.
func (d *Dataset) Cell(row, col int) deal.Value {
	return d.Rows[row][col]
}

// Apply replaces every cell of the column with fn's result.
func (d *Dataset) Apply(col int, fn func(deal.Value) deal.Value) {
	for _, row := range d.Rows {
		row[col] = fn(row[col])
	}
}

// ApplyAll replaces every cell of the table with fn's result.
func (d *Dataset) ApplyAll(fn func(deal.Value) deal.Value) {
	for col := range d.Columns {
		d.Apply(col, fn)
	}
}

// Reindex drops any nil rows so the remaining rows are addressed 0..n-1.
func (d *Dataset) Reindex() {
	d.Rows = lo.Filter(d.Rows, func(row []deal.Value, _ int) bool {
		return row != nil
	})
}
