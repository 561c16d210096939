package stack

import "fmt"

// Warning is one recoverable condition encountered during a stacking
// run: a column that fell back to string, a skipped unreadable file, an
// unclassifiable input. Warnings are aggregated and reported once per
// run, never per row.
type Warning struct {
	Table   string
	File    string
	Message string
}

func (w Warning) String() string {
	switch {
	case w.Table != "" && w.File != "":
		return fmt.Sprintf("table %s (%s): %s", w.Table, w.File, w.Message)
	case w.Table != "":
		return fmt.Sprintf("table %s: %s", w.Table, w.Message)
	case w.File != "":
		return fmt.Sprintf("%s: %s", w.File, w.Message)
	default:
		return w.Message
	}
}

// Report collects everything non-fatal that happened during a run.
// FailedTables lists logical tables for which no readable file remained;
// their absence from the output is deliberate, not silent.
type Report struct {
	Warnings          []Warning
	SkippedSchemaRows int
	FailedTables      []string
}

func (r *Report) warnf(tbl, file, format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, Warning{
		Table:   tbl,
		File:    file,
		Message: fmt.Sprintf(format, args...),
	})
}
