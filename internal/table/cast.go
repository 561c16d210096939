package table

import (
	"fmt"
	"strconv"
	"time"
)

// Fallback layouts tried, most specific first, when a dateTime value does
// not match its declared layout. Mirrors the archive's published
// timestamp variants.
var dateTimeLayouts = []string{
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02T15",
	"2006-01-02",
}

// CastOutcome reports what happened to one column during Cast. A column
// either received its declared type or fell back to string for the
// stated reason; fallbacks are warnings for the caller to aggregate, not
// errors.
type CastOutcome struct {
	Column   string
	Type     ColumnType
	Fallback bool
	Reason   string
}

// Cast assigns each column the type declared by specs. Columns with no
// matching spec stay strings and are reported as fallbacks; specs with no
// matching column are ignored. A value that fails its declared cast
// reverts the entire column to string, so the function never partially
// types a column. Empty values are missing, not cast failures. Cast is
// deterministic: the same table and specs always produce the same types.
func Cast(t *Table, specs []FieldSpec) []CastOutcome {
	byField := make(map[string]FieldSpec, len(specs))
	for _, s := range specs {
		byField[s.Field] = s
	}

	outcomes := make([]CastOutcome, 0, len(t.Columns))
	for i := range t.Columns {
		col := &t.Columns[i]
		spec, ok := byField[col.Name]
		if !ok {
			col.Type = String
			outcomes = append(outcomes, CastOutcome{
				Column:   col.Name,
				Type:     String,
				Fallback: true,
				Reason:   "no matching entry in variables file",
			})
			continue
		}
		outcomes = append(outcomes, castColumn(col, spec))
	}
	return outcomes
}

func castColumn(col *Column, spec FieldSpec) CastOutcome {
	if spec.Type == String {
		col.Type = String
		return CastOutcome{Column: col.Name, Type: String}
	}

	n := len(col.Raw)
	valid := make([]bool, n)
	var floats []float64
	var ints []int64
	var times []time.Time

	switch spec.Type {
	case Real:
		floats = make([]float64, n)
	case Integer:
		ints = make([]int64, n)
	case DateTime:
		times = make([]time.Time, n)
	}

	for i, v := range col.Raw {
		if v == "" || v == "NA" {
			continue
		}
		switch spec.Type {
		case Real:
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fallback(col, spec, i, v)
			}
			floats[i] = f
		case Integer:
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return fallback(col, spec, i, v)
			}
			ints[i] = n
		case DateTime:
			ts, err := parseDateTime(v, spec.TimeLayout)
			if err != nil {
				return fallback(col, spec, i, v)
			}
			times[i] = ts
		}
		valid[i] = true
	}

	col.Type = spec.Type
	col.TimeLayout = spec.TimeLayout
	col.Floats = floats
	col.Ints = ints
	col.Times = times
	col.Valid = valid
	return CastOutcome{Column: col.Name, Type: spec.Type}
}

func fallback(col *Column, spec FieldSpec, row int, value string) CastOutcome {
	col.Type = String
	col.Floats, col.Ints, col.Times, col.Valid = nil, nil, nil, nil
	return CastOutcome{
		Column:   col.Name,
		Type:     String,
		Fallback: true,
		Reason:   fmt.Sprintf("value %q at row %d cannot be cast to %s", value, row, spec.Type),
	}
}

// parseDateTime normalizes a timestamp string to absolute UTC time. The
// declared layout is tried first, then the known published variants.
func parseDateTime(v, layout string) (time.Time, error) {
	if layout != "" {
		if ts, err := time.ParseInLocation(layout, v, time.UTC); err == nil {
			return ts.UTC(), nil
		}
	}
	for _, l := range dateTimeLayouts {
		if l == layout {
			continue
		}
		if ts, err := time.ParseInLocation(l, v, time.UTC); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized dateTime %q", v)
}
