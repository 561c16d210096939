package stack

import (
	"archive/zip"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lox/neondata/internal/table"
)

const testVarsCSV = `table,fieldName,description,dataType,units,downloadPkg,pubFormat
brd_countdata,siteID,site,string,,basic,asIs
brd_countdata,plotID,plot,string,,basic,asIs
brd_countdata,clusterSize,count,integer,,basic,integer
brd_countdata,startDate,date,dateTime,,basic,yyyy-MM-dd'T'HH:mm:ss'Z'(floor)
brd_perpoint,siteID,site,string,,basic,asIs
brd_perpoint,plotID,plot,string,,basic,asIs
`

func writeTestFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func countDataFixture(t *testing.T, dir string) []string {
	t.Helper()
	return []string{
		writeTestFile(t, dir, "NEON.D01.HARV.DP1.10003.001.variables.20190705T150213Z.csv", testVarsCSV),
		writeTestFile(t, dir, "NEON.D01.HARV.DP1.10003.001.brd_countdata.2019-06.basic.20190605T150213Z.csv",
			"siteID,plotID,clusterSize,startDate\nHARV,HARV_001,3,2019-06-14T09:00:00Z\nHARV,HARV_002,1,2019-06-14T10:00:00Z\n"),
		writeTestFile(t, dir, "NEON.D01.HARV.DP1.10003.001.brd_countdata.2019-07.basic.20190705T150213Z.csv",
			"siteID,plotID,clusterSize,startDate\nHARV,HARV_001,2,2019-07-12T09:00:00Z\nHARV,HARV_003,4,2019-07-12T11:00:00Z\nHARV,HARV_004,1,2019-07-12T12:00:00Z\n"),
	}
}

func TestStackFiles_TwoMonthsOneTable(t *testing.T) {
	files := countDataFixture(t, t.TempDir())

	res, err := New(Options{}).StackFiles(files)
	if err != nil {
		t.Fatalf("StackFiles: %v", err)
	}

	tbl, ok := res.Tables["brd_countdata"]
	if !ok {
		t.Fatalf("brd_countdata missing, have %v", keysOf(res.Tables))
	}
	if got := tbl.NumRows(); got != 5 {
		t.Errorf("NumRows = %d, want 2+3", got)
	}
	if col := tbl.Column("clusterSize"); col == nil || col.Type != table.Integer {
		t.Errorf("clusterSize not typed integer")
	}
	if col := tbl.Column("startDate"); col == nil || col.Type != table.DateTime {
		t.Errorf("startDate not typed dateTime")
	}
	// row order is discovery order then within-file order
	if got := tbl.Column("plotID").Raw[2]; got != "HARV_001" {
		t.Errorf("row 2 plotID = %q, want first row of the July file", got)
	}
	// provenance columns appended from the file names
	if got := tbl.Column("publicationDate").Raw[0]; got != "20190605T150213Z" {
		t.Errorf("publicationDate[0] = %q", got)
	}
	if got := tbl.Column("publicationDate").Raw[4]; got != "20190705T150213Z" {
		t.Errorf("publicationDate[4] = %q", got)
	}
	if _, ok := res.Tables["variables_10003"]; !ok {
		t.Error("variables_10003 missing from output")
	}
}

func TestStackFiles_Idempotent(t *testing.T) {
	files := countDataFixture(t, t.TempDir())

	read := func() []byte {
		t.Helper()
		res, err := New(Options{}).StackFiles(files)
		if err != nil {
			t.Fatalf("StackFiles: %v", err)
		}
		dest := t.TempDir()
		if err := WriteResult(res, dest); err != nil {
			t.Fatalf("WriteResult: %v", err)
		}
		b, err := os.ReadFile(filepath.Join(dest, StackedDirName, "brd_countdata.csv"))
		if err != nil {
			t.Fatalf("read output: %v", err)
		}
		return b
	}

	first := read()
	second := read()
	if string(first) != string(second) {
		t.Error("stacking the same file set twice produced different bytes")
	}
}

func TestStackFiles_SiteAllStackedOnce(t *testing.T) {
	dir := t.TempDir()
	perpoint := "siteID,plotID\nHARV,HARV_001\nHARV,HARV_002\n"
	files := []string{
		writeTestFile(t, dir, "NEON.D01.HARV.DP1.10003.001.variables.20190705T150213Z.csv", testVarsCSV),
		// identical site-all copies redistributed in two monthly folders
		writeTestFile(t, dir, "m1/NEON.D01.HARV.DP1.10003.001.brd_perpoint.basic.20190605T150213Z.csv", perpoint),
		writeTestFile(t, dir, "m2/NEON.D01.HARV.DP1.10003.001.brd_perpoint.basic.20190705T150213Z.csv", perpoint),
		// a second site contributes its own rows
		writeTestFile(t, dir, "m1/NEON.D01.BART.DP1.10003.001.brd_perpoint.basic.20190605T150213Z.csv",
			"siteID,plotID\nBART,BART_001\n"),
	}

	res, err := New(Options{}).StackFiles(files)
	if err != nil {
		t.Fatalf("StackFiles: %v", err)
	}
	tbl := res.Tables["brd_perpoint"]
	if tbl == nil {
		t.Fatal("brd_perpoint missing")
	}
	if got := tbl.NumRows(); got != 3 {
		t.Errorf("NumRows = %d, want one copy per site (2+1), not N monthly copies", got)
	}
}

func TestStackFiles_MissingSchemaEntryWarnsOnce(t *testing.T) {
	dir := t.TempDir()
	varsNoPlot := `table,fieldName,description,dataType,units,downloadPkg,pubFormat
brd_countdata,siteID,site,string,,basic,asIs
brd_countdata,clusterSize,count,integer,,basic,integer
brd_countdata,startDate,date,dateTime,,basic,yyyy-MM-dd'T'HH:mm:ss'Z'(floor)
`
	files := []string{
		writeTestFile(t, dir, "NEON.D01.HARV.DP1.10003.001.variables.20190705T150213Z.csv", varsNoPlot),
		writeTestFile(t, dir, "NEON.D01.HARV.DP1.10003.001.brd_countdata.2019-06.basic.20190605T150213Z.csv",
			"siteID,plotID,clusterSize,startDate\nHARV,HARV_001,3,2019-06-14T09:00:00Z\nHARV,HARV_002,1,2019-06-14T10:00:00Z\n"),
	}

	res, err := New(Options{}).StackFiles(files)
	if err != nil {
		t.Fatalf("StackFiles: %v", err)
	}
	tbl := res.Tables["brd_countdata"]
	if got := tbl.NumRows(); got != 2 {
		t.Errorf("NumRows = %d, want 2 (no row loss)", got)
	}
	if col := tbl.Column("plotID"); col == nil || col.Type != table.String {
		t.Error("plotID not retained as a string column")
	}
	if got := len(res.Report.Warnings); got != 1 {
		t.Errorf("warnings = %d, want exactly 1: %v", got, res.Report.Warnings)
	}
	if !strings.Contains(res.Report.Warnings[0].Message, "plotID") {
		t.Errorf("warning does not identify plotID: %v", res.Report.Warnings[0])
	}
}

func TestStackFiles_CastFailureFallsBackColumn(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		writeTestFile(t, dir, "NEON.D01.HARV.DP1.10003.001.variables.20190705T150213Z.csv", testVarsCSV),
		writeTestFile(t, dir, "NEON.D01.HARV.DP1.10003.001.brd_countdata.2019-06.basic.20190605T150213Z.csv",
			"siteID,plotID,clusterSize,startDate\nHARV,HARV_001,not-a-number,2019-06-14T09:00:00Z\n"),
	}

	res, err := New(Options{}).StackFiles(files)
	if err != nil {
		t.Fatalf("StackFiles: %v", err)
	}
	col := res.Tables["brd_countdata"].Column("clusterSize")
	if col.Type != table.String {
		t.Errorf("clusterSize type = %v, want fallback to String", col.Type)
	}
	if col.Raw[0] != "not-a-number" {
		t.Errorf("raw value lost: %q", col.Raw[0])
	}
	found := false
	for _, w := range res.Report.Warnings {
		if strings.Contains(w.Message, "clusterSize") {
			found = true
		}
	}
	if !found {
		t.Errorf("no warning names clusterSize: %v", res.Report.Warnings)
	}
}

func TestStackFiles_UnreadableFileSkipped(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		writeTestFile(t, dir, "NEON.D01.HARV.DP1.10003.001.variables.20190705T150213Z.csv", testVarsCSV),
		writeTestFile(t, dir, "NEON.D01.HARV.DP1.10003.001.brd_countdata.2019-06.basic.20190605T150213Z.csv",
			"siteID,plotID,clusterSize,startDate\nHARV,HARV_001,3\n"), // ragged
		writeTestFile(t, dir, "NEON.D01.HARV.DP1.10003.001.brd_countdata.2019-07.basic.20190705T150213Z.csv",
			"siteID,plotID,clusterSize,startDate\nHARV,HARV_003,4,2019-07-12T11:00:00Z\n"),
	}

	res, err := New(Options{}).StackFiles(files)
	if err != nil {
		t.Fatalf("StackFiles: %v", err)
	}
	if got := res.Tables["brd_countdata"].NumRows(); got != 1 {
		t.Errorf("NumRows = %d, want 1 from the readable file", got)
	}
	if len(res.Report.FailedTables) != 0 {
		t.Errorf("FailedTables = %v, want none", res.Report.FailedTables)
	}
}

func TestStackFiles_AllFilesUnreadableFailsTable(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		writeTestFile(t, dir, "NEON.D01.HARV.DP1.10003.001.variables.20190705T150213Z.csv", testVarsCSV),
		writeTestFile(t, dir, "NEON.D01.HARV.DP1.10003.001.brd_countdata.2019-06.basic.20190605T150213Z.csv",
			"siteID,plotID\nbroken\n"),
		writeTestFile(t, dir, "NEON.D01.HARV.DP1.10003.001.brd_perpoint.basic.20190605T150213Z.csv",
			"siteID,plotID\nHARV,HARV_001\n"),
	}

	res, err := New(Options{}).StackFiles(files)
	if err != nil {
		t.Fatalf("StackFiles: %v", err)
	}
	if _, ok := res.Tables["brd_countdata"]; ok {
		t.Error("empty table present in output")
	}
	if len(res.Report.FailedTables) != 1 || res.Report.FailedTables[0] != "brd_countdata" {
		t.Errorf("FailedTables = %v, want [brd_countdata]", res.Report.FailedTables)
	}
	// the other table still stacked
	if _, ok := res.Tables["brd_perpoint"]; !ok {
		t.Error("unrelated table lost to the failure")
	}
}

func TestStackFiles_SingletonMismatchWarns(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		writeTestFile(t, dir, "m1/NEON.D01.HARV.DP1.10003.001.variables.20190605T150213Z.csv", testVarsCSV),
		writeTestFile(t, dir, "m2/NEON.D01.HARV.DP1.10003.001.variables.20190705T150213Z.csv", testVarsCSV),
		writeTestFile(t, dir, "m1/NEON.D01.HARV.DP1.10003.001.brd_countdata.2019-06.basic.20190605T150213Z.csv",
			"siteID,plotID,clusterSize,startDate\nHARV,HARV_001,3,2019-06-14T09:00:00Z\n"),
	}

	res, err := New(Options{}).StackFiles(files)
	if err != nil {
		t.Fatalf("StackFiles: %v", err)
	}
	if got := len(res.Tables); got != 2 {
		t.Errorf("tables = %v, want one data table and one variables table", keysOf(res.Tables))
	}
	found := false
	for _, w := range res.Report.Warnings {
		if strings.Contains(w.Message, "variables") && strings.Contains(w.Message, "most recently dated") {
			found = true
		}
	}
	if !found {
		t.Errorf("no mismatch warning for duplicated variables copies: %v", res.Report.Warnings)
	}
}

type fakeSource struct {
	issueLog  *table.Table
	citations map[string]string
}

func (f *fakeSource) IssueLog(dpid string) (*table.Table, error) {
	return f.issueLog, nil
}

func (f *fakeSource) Citation(dpid, release string) (string, error) {
	cit, ok := f.citations[release]
	if !ok {
		return "", fmt.Errorf("no citation for %s", release)
	}
	return cit, nil
}

func TestStackFiles_MetadataFromSource(t *testing.T) {
	dir := t.TempDir()
	rel := "NEON.D01.HARV.DP1.10003.001.2019-06.basic.20190605T150213Z.RELEASE-2023"
	files := []string{
		writeTestFile(t, dir, rel+"/NEON.D01.HARV.DP1.10003.001.variables.20190605T150213Z.csv", testVarsCSV),
		writeTestFile(t, dir, rel+"/NEON.D01.HARV.DP1.10003.001.brd_countdata.2019-06.basic.20190605T150213Z.csv",
			"siteID,plotID,clusterSize,startDate\nHARV,HARV_001,3,2019-06-14T09:00:00Z\n"),
	}

	il := &table.Table{}
	il.AddColumn("id", []string{"1"})
	il.AddColumn("issue", []string{"sensor drift"})
	src := &fakeSource{
		issueLog:  il,
		citations: map[string]string{"RELEASE-2023": "@misc{neon2023}"},
	}

	res, err := New(Options{Source: src}).StackFiles(files)
	if err != nil {
		t.Fatalf("StackFiles: %v", err)
	}
	if _, ok := res.Tables["issueLog_10003"]; !ok {
		t.Error("issueLog_10003 missing")
	}
	if got := res.Citations["citation_10003_RELEASE-2023"]; got != "@misc{neon2023}" {
		t.Errorf("citation = %q", got)
	}
}

func TestStack_ZipInput(t *testing.T) {
	dir := t.TempDir()
	zipPath := filepath.Join(dir, "NEON.D01.HARV.DP1.10003.001.2019-06.basic.20190605T150213Z.zip")
	makeZip(t, zipPath, map[string]string{
		"NEON.D01.HARV.DP1.10003.001.variables.20190605T150213Z.csv": testVarsCSV,
		"NEON.D01.HARV.DP1.10003.001.brd_countdata.2019-06.basic.20190605T150213Z.csv": "siteID,plotID,clusterSize,startDate\nHARV,HARV_001,3,2019-06-14T09:00:00Z\n",
	})

	res, err := New(Options{}).Stack(dir)
	if err != nil {
		t.Fatalf("Stack: %v", err)
	}
	if got := res.Tables["brd_countdata"].NumRows(); got != 1 {
		t.Errorf("NumRows = %d, want 1", got)
	}
	// the extracted intermediate folder is removed when retention is off
	extracted := strings.TrimSuffix(zipPath, ".zip")
	if _, err := os.Stat(extracted); !os.IsNotExist(err) {
		t.Errorf("intermediate folder %s not cleaned up", extracted)
	}
}

func makeZip(t *testing.T, path string, files map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create zip: %v", err)
	}
	defer f.Close()
	zw := zip.NewWriter(f)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip create %s: %v", name, err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("zip write %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
}

func keysOf(m map[string]*table.Table) []string {
	var out []string
	for k := range m {
		out = append(out, k)
	}
	return out
}
