// Package schema builds the column-type lookup from a product's
// variables file. Types are always assigned from this lookup, never
// inferred from data.
package schema

import (
	"github.com/lox/neondata/internal/table"
)

// Published dateTime format strings and the Go layouts they map to.
// Year-only formats publish as plain integers.
var pubFormatLayouts = map[string]string{
	"yyyy-MM-dd'T'HH:mm:ss'Z'":        "2006-01-02T15:04:05Z",
	"yyyy-MM-dd'T'HH:mm:ss'Z'(floor)": "2006-01-02T15:04:05Z",
	"yyyy-MM-dd'T'HH:mm:ss'Z'(round)": "2006-01-02T15:04:05Z",
	"yyyy-MM-dd":                      "2006-01-02",
	"yyyy-MM-dd(floor)":               "2006-01-02",
}

var yearOnlyFormats = map[string]bool{
	"yyyy(floor)": true,
	"yyyy(round)": true,
}

type key struct {
	table string
	field string
}

type entry struct {
	spec        table.FieldSpec
	downloadPkg string
}

// Map is an immutable lookup from (table, fieldName) to a field's
// declared type. Build it once per run with Parse and pass it by value;
// repeated runs over the same variables file produce the same Map.
type Map struct {
	entries map[key]entry
	order   []key
}

// Parse builds a Map from a variables table with the documented columnar
// layout (table, fieldName, dataType, pubFormat, downloadPkg). Rows
// missing a table or fieldName value, and rows duplicating an earlier
// (table, fieldName) pair, are skipped; the count of skipped rows is
// returned alongside the map. Parse never fails: a variables table with
// no usable rows yields an empty Map.
func Parse(v *table.Table) (Map, int) {
	m := Map{entries: make(map[key]entry)}

	tcol := v.Column("table")
	fcol := v.Column("fieldName")
	dcol := v.Column("dataType")
	pcol := v.Column("pubFormat")
	kcol := v.Column("downloadPkg")
	if tcol == nil || fcol == nil {
		return m, v.NumRows()
	}

	skipped := 0
	for i := 0; i < v.NumRows(); i++ {
		tname, fname := tcol.Raw[i], fcol.Raw[i]
		if tname == "" || fname == "" {
			skipped++
			continue
		}
		k := key{table: tname, field: fname}
		if _, dup := m.entries[k]; dup {
			skipped++
			continue
		}

		var dataType, pubFormat, downloadPkg string
		if dcol != nil {
			dataType = dcol.Raw[i]
		}
		if pcol != nil {
			pubFormat = pcol.Raw[i]
		}
		if kcol != nil {
			downloadPkg = kcol.Raw[i]
		}

		m.entries[k] = entry{
			spec:        fieldSpec(fname, dataType, pubFormat),
			downloadPkg: downloadPkg,
		}
		m.order = append(m.order, k)
	}
	return m, skipped
}

// fieldSpec translates a declared dataType (and, for dateTime, its
// pubFormat) into a field spec. Unknown types are strings.
func fieldSpec(field, dataType, pubFormat string) table.FieldSpec {
	switch dataType {
	case "real":
		return table.FieldSpec{Field: field, Type: table.Real}
	case "integer", "unsigned integer", "signed integer":
		return table.FieldSpec{Field: field, Type: table.Integer}
	case "dateTime":
		if layout, ok := pubFormatLayouts[pubFormat]; ok {
			return table.FieldSpec{Field: field, Type: table.DateTime, TimeLayout: layout}
		}
		if yearOnlyFormats[pubFormat] {
			return table.FieldSpec{Field: field, Type: table.Integer}
		}
		return table.FieldSpec{Field: field, Type: table.String}
	default:
		// string, uri, and anything undeclared
		return table.FieldSpec{Field: field, Type: table.String}
	}
}

// Lookup returns the spec for one (table, fieldName) pair.
func (m Map) Lookup(tableName, field string) (table.FieldSpec, bool) {
	e, ok := m.entries[key{table: tableName, field: field}]
	if !ok {
		return table.FieldSpec{}, false
	}
	return e.spec, true
}

// TableSpecs returns the specs for one logical table, in variables-file
// order. Republished tables are recorded under a _pub suffix in some
// variables files, so that spelling is consulted when the plain name has
// no entries. For the basic package tier, expanded-only fields are
// excluded.
func (m Map) TableSpecs(tableName, tier string) []table.FieldSpec {
	specs := m.tableSpecs(tableName, tier)
	if len(specs) == 0 {
		specs = m.tableSpecs(tableName+"_pub", tier)
	}
	return specs
}

func (m Map) tableSpecs(tableName, tier string) []table.FieldSpec {
	var specs []table.FieldSpec
	for _, k := range m.order {
		if k.table != tableName {
			continue
		}
		e := m.entries[k]
		if tier == "basic" && e.downloadPkg != "" && e.downloadPkg != "basic" {
			continue
		}
		specs = append(specs, e.spec)
	}
	return specs
}

// Tables returns the distinct table names in the map, in first-seen order.
func (m Map) Tables() []string {
	seen := make(map[string]bool)
	var names []string
	for _, k := range m.order {
		if !seen[k.table] {
			seen[k.table] = true
			names = append(names, k.table)
		}
	}
	return names
}
