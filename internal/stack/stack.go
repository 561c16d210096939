// Package stack merges downloaded site- and month-partitioned files
// into one consolidated, typed table per logical table, and collapses
// duplicated metadata artifacts into single canonical copies.
package stack

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/lox/neondata/internal/classify"
	"github.com/lox/neondata/internal/metrics"
	"github.com/lox/neondata/internal/models"
	"github.com/lox/neondata/internal/schema"
	"github.com/lox/neondata/internal/table"
)

// ErrTableEmpty is wrapped into the failure recorded when every file of
// a logical table is unreadable.
var ErrTableEmpty = errors.New("no readable files remain for table")

// MetadataSource supplies the per-product metadata that lives behind the
// archive API rather than in the downloaded files. A nil source simply
// omits issue log and citations from the output.
type MetadataSource interface {
	IssueLog(dpid string) (*table.Table, error)
	Citation(dpid, release string) (string, error)
}

// Options configures a Stacker.
type Options struct {
	// Tier overrides the package tier inferred from file names.
	Tier string
	// KeepUnzipped retains the intermediate per-month folders that
	// Stack extracts, instead of deleting them after stacking.
	KeepUnzipped bool
	// Source, when set, contributes the issue log and citations.
	Source MetadataSource
}

// Stacker runs the stacking engine. Each table's merge is independent;
// the engine holds no mutable state across tables.
type Stacker struct {
	opts Options
}

func New(opts Options) *Stacker {
	return &Stacker{opts: opts}
}

// Result is one stacking run's output: typed tables keyed by their
// deterministic output names, release-specific citation texts, the
// formatted readme, and the aggregated warning report.
type Result struct {
	ProductID     string
	ProductNumber string
	Tier          string
	Releases      []string
	Tables        map[string]*table.Table
	Citations     map[string]string
	Readme        []string
	Report        Report
}

var (
	domainIDRe = regexp.MustCompile(`D[0-2][0-9]`)
	siteIDRe   = regexp.MustCompile(`D[0-9]{2}\.([A-Z]{4})\.`)
	locIndexRe = regexp.MustCompile(`\.([0-9]{3})\.([0-9]{3})\.([0-9]{3})\.([0-9]{3})\.`)
)

// Stack unzips path as needed and stacks everything found beneath it.
// path may be a single downloaded zip or a directory that contains
// per-month zips or already-extracted folders. Intermediate extracted
// folders are removed after stacking unless retention was requested.
func (s *Stacker) Stack(path string) (*Result, error) {
	dir := path
	var created []string

	if strings.EqualFold(filepath.Ext(path), ".zip") {
		dir = strings.TrimSuffix(path, filepath.Ext(path))
		if _, err := unzipArchive(path, dir); err != nil {
			return nil, err
		}
		created = append(created, dir)
	}

	nested, err := expandNested(dir)
	created = append(created, nested...)
	if err != nil {
		return nil, err
	}

	files, err := listFiles(dir)
	if err != nil {
		return nil, err
	}

	res, err := s.StackFiles(files)
	if err != nil {
		return nil, err
	}

	if !s.opts.KeepUnzipped {
		for _, d := range created {
			os.RemoveAll(d)
		}
	}
	return res, nil
}

// StackFiles classifies and stacks an already-extracted file set. It
// fails only when classification does: no archive files at all, or a
// mix of data products. Everything else is recovered per-file or
// per-table and surfaced in the report.
func (s *Stacker) StackFiles(files []string) (*Result, error) {
	g, err := classify.Classify(files)
	if err != nil {
		return nil, err
	}

	res := &Result{
		ProductID:     g.ProductID,
		ProductNumber: g.ProductNumber,
		Tier:          g.Tier,
		Releases:      g.Releases,
		Tables:        make(map[string]*table.Table),
		Citations:     make(map[string]string),
	}
	rep := &res.Report
	if s.opts.Tier != "" {
		res.Tier = s.opts.Tier
	}

	for _, p := range g.Ambiguous {
		rep.warnf("", p, "file matches no known table or metadata pattern; excluded from stacking")
	}
	if len(res.Releases) > 1 {
		rep.warnf("", "", "multiple data releases stacked together (%s); check your input data",
			strings.Join(res.Releases, ", "))
	}

	// variables file first: it types everything else
	var m schema.Map
	vt := s.resolveSingletonTable(classify.Variables, g.Singletons[classify.Variables], rep)
	if vt != nil {
		var skipped int
		m, skipped = schema.Parse(vt)
		rep.SkippedSchemaRows = skipped
		if skipped > 0 {
			rep.warnf("", "", "%d malformed rows skipped in variables file", skipped)
		}
	} else {
		m, _ = schema.Parse(&table.Table{})
		if len(g.Tables) > 0 {
			rep.warnf("", "", "no variables file found; all columns will be read as strings")
		}
	}

	for _, name := range g.TableNames {
		tg := g.Tables[name]
		stacked, addedVars, ok := s.stackTable(tg, m, res.Tier, rep)
		if !ok {
			rep.FailedTables = append(rep.FailedTables, name)
			rep.warnf(name, "", "%v", ErrTableEmpty)
			continue
		}
		res.Tables[outputName(name, g.ProductNumber)] = stacked
		metrics.FilesStacked.WithLabelValues(g.ProductID).Add(float64(len(tg.Files)))
		metrics.RowsStacked.WithLabelValues(g.ProductID, name).Add(float64(stacked.NumRows()))
		if vt != nil {
			appendVariableRows(vt, name, addedVars)
		}
	}

	if vt != nil {
		res.Tables["variables_"+g.ProductNumber] = vt
	}
	if val := s.resolveSingletonTable(classify.Validation, g.Singletons[classify.Validation], rep); val != nil {
		res.Tables["validation_"+g.ProductNumber] = val
	}
	if cc := s.resolveSingletonTable(classify.CategoricalCodes, g.Singletons[classify.CategoricalCodes], rep); cc != nil {
		res.Tables["categoricalCodes_"+g.ProductNumber] = cc
	}
	if rd := s.resolveReadme(g.Singletons[classify.Readme], g.TableNames, rep); rd != nil {
		res.Readme = rd
	}

	s.fetchMetadata(g, res, rep)
	return res, nil
}

// stackTable merges one logical table's files in discovery order, adds
// the publication provenance columns, and applies the schema. ok is
// false when no file could be read. addedVars lists the columns this
// function synthesized, so the variables output can describe them.
func (s *Stacker) stackTable(tg *classify.TableGroup, m schema.Map, tier string, rep *Report) (out *table.Table, addedVars []string, ok bool) {
	specs := m.TableSpecs(tg.Name, tier)
	if len(specs) == 0 {
		rep.warnf(tg.Name, "", "variables file has no entries for this table; column types remain string")
	}

	var srcs []string
	for _, path := range tg.Files {
		tbl, err := table.ReadCSVFile(path)
		if err != nil {
			rep.warnf(tg.Name, path, "unreadable file skipped: %v", err)
			continue
		}

		fn, _ := models.ParseFileName(path)
		n := tbl.NumRows()
		tbl.AddColumn("publicationDate", fill(n, fn.Publication))
		tbl.AddColumn("release", fill(n, releaseFor(path)))
		for i := 0; i < n; i++ {
			srcs = append(srcs, filepath.Base(path))
		}

		if out == nil {
			out = tbl
		} else {
			out.Append(tbl)
		}
	}
	if out == nil {
		return nil, nil, false
	}

	addedVars = []string{"publicationDate", "release"}
	addedVars = append(addedVars, addLocationColumns(out, tg, srcs)...)

	for _, name := range addedVars {
		specs = append(specs, table.FieldSpec{Field: name, Type: table.String})
	}
	for _, o := range table.Cast(out, specs) {
		if o.Fallback {
			rep.warnf(tg.Name, "", "column %s kept as string: %s", o.Column, o.Reason)
		}
	}
	return out, addedVars, true
}

// addLocationColumns supplies domainID and siteID (and sensor
// horizontal/vertical position indices when present in the file names)
// for instrumented-system tables whose rows carry no site column of
// their own. Returns the names of the inserted columns.
func addLocationColumns(out *table.Table, tg *classify.TableGroup, srcs []string) []string {
	if tg.Category == models.Lab || out.Column("siteID") != nil {
		return nil
	}

	n := out.NumRows()
	domains := make([]string, n)
	sites := make([]string, n)
	for i, src := range srcs {
		domains[i] = domainIDRe.FindString(src)
		if m := siteIDRe.FindStringSubmatch(src); m != nil {
			sites[i] = m[1]
		}
	}
	out.InsertColumn(0, "domainID", domains)
	out.InsertColumn(1, "siteID", sites)
	added := []string{"domainID", "siteID"}

	if tg.Name == "sensor_positions" {
		return added
	}
	hors := make([]string, n)
	vers := make([]string, n)
	all := true
	for i, src := range srcs {
		m := locIndexRe.FindStringSubmatch(src)
		if m == nil {
			all = false
			break
		}
		hors[i] = m[2]
		vers[i] = m[3]
	}
	if all && n > 0 {
		out.InsertColumn(2, "horizontalPosition", hors)
		out.InsertColumn(3, "verticalPosition", vers)
		added = append(added, "horizontalPosition", "verticalPosition")
	}
	return added
}

// resolveSingletonTable collapses however many copies of a metadata
// singleton the partitions carried into one table: the most recently
// dated copy wins, and differing copies are a warning, never an error.
func (s *Stacker) resolveSingletonTable(kind classify.Singleton, candidates []string, rep *Report) *table.Table {
	path, ok := s.pickSingleton(kind, candidates, rep)
	if !ok {
		return nil
	}
	tbl, err := table.ReadCSVFile(path)
	if err != nil {
		rep.warnf("", path, "unreadable %s file skipped: %v", kind, err)
		return nil
	}
	return tbl
}

func (s *Stacker) pickSingleton(kind classify.Singleton, candidates []string, rep *Report) (string, bool) {
	if len(candidates) == 0 {
		return "", false
	}
	stamps := make(map[string]bool)
	for _, c := range candidates {
		stamps[models.FindPublicationStamp(filepath.Base(c))] = true
	}
	if len(stamps) > 1 {
		rep.warnf("", "", "%d differing copies of the %s file found across partitions; using the most recently dated copy",
			len(candidates), kind)
	}
	recent := classify.MostRecent(candidates)
	return recent[0], true
}

// resolveReadme picks the most recent readme and replaces its
// query-specific front matter with a generic disclaimer naming the
// stacked tables.
func (s *Stacker) resolveReadme(candidates []string, tables []string, rep *Report) []string {
	path, ok := s.pickSingleton(classify.Readme, candidates, rep)
	if !ok {
		return nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		rep.warnf("", path, "unreadable readme skipped: %v", err)
		return nil
	}
	return formatReadme(strings.Split(strings.TrimRight(string(raw), "\n"), "\n"), tables)
}

func formatReadme(lines []string, tables []string) []string {
	out := []string{
		"###################################",
		"########### Disclaimer ############",
		"This is the most recent readme publication based on all site-date combinations used during stacking.",
		"Information specific to the download query has been removed; the remaining content reflects general metadata for the data product.",
		"##################################",
	}
	if len(tables) > 0 {
		out = append(out, "", fmt.Sprintf("This data product contains up to %d data tables:", len(tables)))
		out = append(out, tables...)
		out = append(out, "If data are unavailable for the particular sites and dates queried, some tables may be absent.")
	}
	out = append(out, "")
	return append(out, lines...)
}

// appendVariableRows describes the synthesized provenance columns in
// the merged variables output, one row per (table, field).
func appendVariableRows(vt *table.Table, tableName string, fields []string) {
	for _, f := range fields {
		for i := range vt.Columns {
			col := &vt.Columns[i]
			var v string
			switch col.Name {
			case "table":
				v = tableName
			case "fieldName":
				v = f
			case "dataType":
				v = "string"
			case "description":
				v = "Field added during stacking"
			case "downloadPkg":
				v = "appended by stacking"
			}
			col.Raw = append(col.Raw, v)
		}
	}
}

// fetchMetadata pulls the issue log and citations from the metadata
// source. Failures here degrade the output, never abort it.
func (s *Stacker) fetchMetadata(g *classify.Grouping, res *Result, rep *Report) {
	if s.opts.Source == nil || g.ProductID == "" {
		return
	}

	if il, err := s.opts.Source.IssueLog(g.ProductID); err != nil {
		rep.warnf("", "", "issue log could not be retrieved: %v", err)
	} else if il != nil {
		res.Tables["issueLog_"+g.ProductNumber] = il
	}

	var tags []string
	provisional := false
	for _, r := range res.Releases {
		if r == models.ReleaseProvisional {
			provisional = true
		} else if models.FindReleaseTag(r) != "" {
			tags = append(tags, r)
		}
	}
	if provisional {
		s.fetchCitation(g, models.ReleaseProvisional, res, rep)
	}
	if len(tags) == 1 {
		s.fetchCitation(g, tags[0], res, rep)
	}
}

func (s *Stacker) fetchCitation(g *classify.Grouping, release string, res *Result, rep *Report) {
	cit, err := s.opts.Source.Citation(g.ProductID, release)
	if err != nil {
		rep.warnf("", "", "citation for %s could not be retrieved: %v", release, err)
		return
	}
	res.Citations["citation_"+g.ProductNumber+"_"+release] = cit
}

// outputName keeps a logical table's own name, except for the two
// metadata-adjacent tables that are suffixed with the product code like
// the singletons they travel with.
func outputName(tableName, productNumber string) string {
	switch tableName {
	case "sensor_positions", "science_review_flags":
		return tableName + "_" + productNumber
	default:
		return tableName
	}
}

// releaseFor derives the release tag from a file's enclosing path.
func releaseFor(path string) string {
	if tag := models.FindReleaseTag(path); tag != "" {
		return tag
	}
	if strings.Contains(path, models.ReleaseProvisional) {
		return models.ReleaseProvisional
	}
	return ""
}

func fill(n int, v string) []string {
	vals := make([]string, n)
	for i := range vals {
		vals[i] = v
	}
	return vals
}
