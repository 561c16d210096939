package table

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"time"
)

// ColumnType is the scalar type assigned to a column by the variables
// schema. Columns default to String until cast.
type ColumnType int

const (
	String ColumnType = iota
	Real
	Integer
	DateTime
)

func (t ColumnType) String() string {
	switch t {
	case Real:
		return "real"
	case Integer:
		return "integer"
	case DateTime:
		return "dateTime"
	default:
		return "string"
	}
}

// FieldSpec declares the type for one named column. TimeLayout is the Go
// time layout for DateTime fields, empty otherwise.
type FieldSpec struct {
	Field      string
	Type       ColumnType
	TimeLayout string
}

// Column holds one table column. Raw always carries the exact printed
// values ("" = missing) so written output reproduces the source bytes;
// the typed slices are populated by Cast for non-String columns, with
// Valid marking non-missing rows.
type Column struct {
	Name       string
	Type       ColumnType
	TimeLayout string
	Raw        []string
	Floats     []float64
	Ints       []int64
	Times      []time.Time
	Valid      []bool
}

// Table is an in-memory tabular dataset with named, typed columns.
// All columns have the same length.
type Table struct {
	Columns []Column
}

// NumRows returns the row count.
func (t *Table) NumRows() int {
	if len(t.Columns) == 0 {
		return 0
	}
	return len(t.Columns[0].Raw)
}

// ColumnNames returns the column names in order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// Column returns a pointer to the named column, or nil.
func (t *Table) Column(name string) *Column {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i]
		}
	}
	return nil
}

// AddColumn appends a string column filled with the given values. The
// value slice length must match the table's row count (or the table must
// be empty).
func (t *Table) AddColumn(name string, values []string) error {
	if len(t.Columns) > 0 && len(values) != t.NumRows() {
		return fmt.Errorf("column %s has %d values, table has %d rows", name, len(values), t.NumRows())
	}
	t.Columns = append(t.Columns, Column{Name: name, Type: String, Raw: values})
	return nil
}

// InsertColumn inserts a string column at position pos.
func (t *Table) InsertColumn(pos int, name string, values []string) error {
	if len(t.Columns) > 0 && len(values) != t.NumRows() {
		return fmt.Errorf("column %s has %d values, table has %d rows", name, len(values), t.NumRows())
	}
	if pos < 0 || pos > len(t.Columns) {
		return fmt.Errorf("insert position %d out of range", pos)
	}
	col := Column{Name: name, Type: String, Raw: values}
	t.Columns = append(t.Columns, Column{})
	copy(t.Columns[pos+1:], t.Columns[pos:])
	t.Columns[pos] = col
	return nil
}

// Append concatenates other's rows onto t. The resulting column set is
// the union of both tables' columns; rows absent a column are filled as
// missing. Column order is t's columns followed by columns new in other.
// Typed slices are invalidated by appending, so all columns revert to
// String; re-cast after the final append.
func (t *Table) Append(other *Table) {
	oldRows := t.NumRows()
	newRows := other.NumRows()

	for i := range t.Columns {
		c := &t.Columns[i]
		c.Type = String
		c.Floats, c.Ints, c.Times, c.Valid = nil, nil, nil, nil
		if oc := other.Column(c.Name); oc != nil {
			c.Raw = append(c.Raw, oc.Raw...)
		} else {
			c.Raw = append(c.Raw, make([]string, newRows)...)
		}
	}

	for _, oc := range other.Columns {
		if t.Column(oc.Name) != nil {
			continue
		}
		raw := make([]string, oldRows, oldRows+newRows)
		raw = append(raw, oc.Raw...)
		t.Columns = append(t.Columns, Column{Name: oc.Name, Type: String, Raw: raw})
	}
}

// ReadCSV reads a CSV stream into an all-string table. The first record
// is the header. Ragged rows are an error, matching the strictness of
// the archive's fixed publication format.
func ReadCSV(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	tbl := &Table{Columns: make([]Column, len(header))}
	for i, name := range header {
		tbl.Columns[i] = Column{Name: name, Type: String}
	}

	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		for i := range tbl.Columns {
			tbl.Columns[i].Raw = append(tbl.Columns[i].Raw, rec[i])
		}
	}
	return tbl, nil
}

// ReadCSVFile reads one CSV file into an all-string table. The file
// handle is released on every path.
func ReadCSVFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	tbl, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return tbl, nil
}

// WriteCSV writes the table using each column's raw printed values, so
// output is byte-stable across repeated runs over the same inputs.
func (t *Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.ColumnNames()); err != nil {
		return err
	}
	rec := make([]string, len(t.Columns))
	for r := 0; r < t.NumRows(); r++ {
		for c := range t.Columns {
			rec[c] = t.Columns[c].Raw[r]
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteCSVFile writes the table to path.
func (t *Table) WriteCSVFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := t.WriteCSV(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
