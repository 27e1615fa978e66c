// Package transform turns raw deal records into the cleaned table loaded into
// the warehouse. Every step works in place on a *dataset.Dataset and can be
// used on its own.
package transform

import (
	"fmt"
	"regexp"

	"github.com/bruin-data/dealsync/pkg/dataset"
	"github.com/bruin-data/dealsync/pkg/deal"
	"github.com/pkg/errors"
)

const DefaultStageField = "STAGE_ID"

var (
	invalidColumnChars = regexp.MustCompile(`[^0-9A-Za-z_]`)
	lineBreaks         = regexp.MustCompile(`[\r\n]+`)
)

type Options struct {
	// StageField is the CRM identifier of the pipeline stage column.
	StageField string
}

// Transform builds the table for records and runs every cleanup step in order.
// A nil stages mapping means stage labels are unavailable and the stage column
// is left untouched.
func Transform(records []*deal.Record, fields, stages map[string]string, opts Options) (ds *dataset.Dataset, err error) {
	defer func() {
		if r := recover(); r != nil {
			ds = nil
			err = errors.Errorf("failed to transform deals: %v", r)
		}
	}()

	if opts.StageField == "" {
		opts.StageField = DefaultStageField
	}

	ds = dataset.FromRecords(records)
	Rename(ds, fields)
	if stages != nil {
		MapStages(ds, opts.StageField, stages)
	}
	DedupeColumns(ds)
	FlattenLists(ds)
	SanitizeColumns(ds)
	// sanitizing can make distinct names equal again, e.g. "a b" and "a_b"
	DedupeColumns(ds)
	StringifyColumns(ds)
	StripNewlines(ds)
	ds.Reindex()

	return ds, nil
}

// Rename replaces column names found in mapping with their label.
func Rename(ds *dataset.Dataset, mapping map[string]string) {
	for i, c := range ds.Columns {
		if label, ok := mapping[c.Name]; ok {
			ds.Columns[i].Name = label
		}
	}
}

// MapStages replaces the raw stage identifiers of the stage column with their
// display name. Identifiers missing from stages become absent.
func MapStages(ds *dataset.Dataset, stageField string, stages map[string]string) {
	col := ds.ColumnBySource(stageField)
	if col < 0 {
		return
	}

	ds.Apply(col, func(v deal.Value) deal.Value {
		if v.IsAbsent() {
			return v
		}
		name, ok := stages[v.String()]
		if !ok {
			return deal.Absent()
		}
		return deal.StringValue(name)
	})
}

// DedupeColumns keeps the first column of every name as is and suffixes later
// ones with _1, _2, ... in order of appearance. A suffix that is already used
// by another column is skipped.
func DedupeColumns(ds *dataset.Dataset) {
	taken := make(map[string]bool, len(ds.Columns))
	for _, c := range ds.Columns {
		taken[c.Name] = true
	}

	seen := make(map[string]bool, len(ds.Columns))
	suffix := make(map[string]int)
	for i, c := range ds.Columns {
		if !seen[c.Name] {
			seen[c.Name] = true
			continue
		}

		n := suffix[c.Name]
		name := c.Name
		for taken[name] {
			n++
			name = fmt.Sprintf("%s_%d", c.Name, n)
		}
		suffix[c.Name] = n
		taken[name] = true
		ds.Columns[i].Name = name
	}
}

// FlattenLists joins list cells into a single string.
func FlattenLists(ds *dataset.Dataset) {
	ds.ApplyAll(func(v deal.Value) deal.Value {
		if v.Kind() != deal.KindList {
			return v
		}
		return deal.StringValue(v.String())
	})
}

// SanitizeColumns replaces every character outside [0-9A-Za-z_] with an underscore.
func SanitizeColumns(ds *dataset.Dataset) {
	for i, c := range ds.Columns {
		ds.Columns[i].Name = SanitizeName(c.Name)
	}
}

func SanitizeName(name string) string {
	return invalidColumnChars.ReplaceAllString(name, "_")
}

// StringifyColumns turns every present cell of a non-numeric column into a
// string. Absent cells stay absent.
func StringifyColumns(ds *dataset.Dataset) {
	for col := range ds.Columns {
		if ds.IsNumeric(col) {
			continue
		}
		ds.Apply(col, func(v deal.Value) deal.Value {
			if v.IsAbsent() || v.Kind() == deal.KindString {
				return v
			}
			return deal.StringValue(v.String())
		})
	}
}

// StripNewlines collapses every run of CR/LF characters in string cells into
// a single space.
func StripNewlines(ds *dataset.Dataset) {
	ds.ApplyAll(func(v deal.Value) deal.Value {
		if v.Kind() != deal.KindString {
			return v
		}
		return deal.StringValue(CollapseLineBreaks(v.String()))
	})
}

func CollapseLineBreaks(s string) string {
	return lineBreaks.ReplaceAllString(s, " ")
}
