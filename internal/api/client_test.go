package api

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
)

const productJSON = `{
  "data": {
    "productCode": "DP1.10003.001",
    "productName": "Breeding landbird point counts",
    "productScienceTeam": "Terrestrial Observation System (TOS)",
    "releases": [
      {"release": "RELEASE-2023", "generationDate": "2023-01-27T00:00:00Z",
       "productDoi": {"url": "DOI_URL"}}
    ],
    "changeLogs": [
      {"id": 1, "parentIssueID": null, "issueDate": "2020-01-01T00:00:00Z",
       "resolvedDate": "2020-02-01T00:00:00Z", "dateRangeStart": "2019-06-01T00:00:00Z",
       "dateRangeEnd": "2019-07-01T00:00:00Z", "locationAffected": "HARV",
       "issue": "Observer error", "resolution": "Data flagged"},
      {"id": 2, "parentIssueID": 1, "issueDate": "2020-03-01T00:00:00Z",
       "resolvedDate": "", "dateRangeStart": "", "dateRangeEnd": "",
       "locationAffected": "All", "issue": "Processing delay", "resolution": ""}
    ],
    "siteCodes": [
      {"siteCode": "HARV", "availableMonths": ["2019-06", "2019-07"]}
    ]
  }
}`

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewWithClient(srv.URL, srv.Client()), srv
}

func productHandler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/products/DP1.10003.001", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, productJSON)
	})
	return mux
}

func TestGetProduct(t *testing.T) {
	c, _ := newTestClient(t, productHandler(t))

	p, err := c.GetProduct("DP1.10003.001")
	if err != nil {
		t.Fatalf("GetProduct: %v", err)
	}
	if p.ProductName != "Breeding landbird point counts" {
		t.Errorf("ProductName = %q", p.ProductName)
	}
	if len(p.Releases) != 1 || p.Releases[0].Release != "RELEASE-2023" {
		t.Errorf("Releases = %+v", p.Releases)
	}
	if len(p.SiteCodes) != 1 || len(p.SiteCodes[0].AvailableMonths) != 2 {
		t.Errorf("SiteCodes = %+v", p.SiteCodes)
	}
}

func TestGetProductRejectsMalformedID(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))

	if _, err := c.GetProduct("DP5.10003.001"); err == nil {
		t.Error("GetProduct accepted a malformed product ID")
	}
	if calls.Load() != 0 {
		t.Errorf("server called %d times for a malformed ID", calls.Load())
	}
}

func TestIssueLog(t *testing.T) {
	c, _ := newTestClient(t, productHandler(t))

	tbl, err := c.IssueLog("DP1.10003.001")
	if err != nil {
		t.Fatalf("IssueLog: %v", err)
	}
	want := []string{"id", "parentIssueID", "issueDate", "resolvedDate",
		"dateRangeStart", "dateRangeEnd", "locationAffected", "issue", "resolution"}
	got := tbl.ColumnNames()
	if len(got) != len(want) {
		t.Fatalf("columns = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("column %d = %q, want %q", i, got[i], want[i])
		}
	}
	if tbl.NumRows() != 2 {
		t.Fatalf("NumRows = %d, want 2", tbl.NumRows())
	}
	if v := tbl.Column("parentIssueID").Raw[0]; v != "" {
		t.Errorf("null parentIssueID rendered as %q", v)
	}
	if v := tbl.Column("parentIssueID").Raw[1]; v != "1" {
		t.Errorf("parentIssueID[1] = %q, want 1", v)
	}
	if v := tbl.Column("issue").Raw[0]; v != "Observer error" {
		t.Errorf("issue[0] = %q", v)
	}
}

func TestCitationProvisional(t *testing.T) {
	c, _ := newTestClient(t, productHandler(t))

	cit, err := c.Citation("DP1.10003.001", "PROVISIONAL")
	if err != nil {
		t.Fatalf("Citation: %v", err)
	}
	if !strings.HasPrefix(cit, "@misc{DP1.10003.001/provisional,") {
		t.Errorf("citation does not open with the provisional key:\n%s", cit)
	}
	if !strings.Contains(cit, "Breeding landbird point counts (DP1.10003.001)") {
		t.Errorf("citation missing title:\n%s", cit)
	}
}

func TestCitationRelease(t *testing.T) {
	const bibtex = "@misc{https://doi.org/10.48443/example}"
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/products/DP1.10003.001", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, strings.ReplaceAll(productJSON, "DOI_URL", srv.URL+"/doi"))
	})
	mux.HandleFunc("/doi", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Accept"); got != "application/x-bibtex" {
			t.Errorf("Accept = %q, want application/x-bibtex", got)
		}
		fmt.Fprint(w, bibtex+"\n")
	})
	c, s := newTestClient(t, mux)
	srv = s

	cit, err := c.Citation("DP1.10003.001", "RELEASE-2023")
	if err != nil {
		t.Fatalf("Citation: %v", err)
	}
	if cit != bibtex {
		t.Errorf("citation = %q, want %q", cit, bibtex)
	}

	if _, err := c.Citation("DP1.10003.001", "RELEASE-1999"); err == nil {
		t.Error("Citation succeeded for a release the product does not have")
	}
}

func TestListFiles(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/data/DP1.10003.001/HARV/2019-06", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("package"); got != "basic" {
			t.Errorf("package = %q, want basic", got)
		}
		fmt.Fprint(w, `{"data": {"release": "RELEASE-2023", "files": [
			{"name": "a.csv", "size": 100, "url": "https://example.com/a.csv"},
			{"name": "b.csv", "size": 200, "url": "https://example.com/b.csv"}
		]}}`)
	})
	c, _ := newTestClient(t, mux)

	files, err := c.ListFiles("DP1.10003.001", "HARV", "2019-06", "basic")
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("len(files) = %d, want 2", len(files))
	}
	if files[0].Name != "a.csv" || files[0].Size != 100 {
		t.Errorf("files[0] = %+v", files[0])
	}
	if files[1].Release != "RELEASE-2023" {
		t.Errorf("Release = %q, want the manifest release on every entry", files[1].Release)
	}
}

func TestGetDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "no such product", http.StatusNotFound)
	}))

	if _, err := c.GetProduct("DP1.99999.001"); err == nil {
		t.Fatal("GetProduct succeeded on 404")
	}
	if calls.Load() != 1 {
		t.Errorf("server called %d times, want 1 (4xx is permanent)", calls.Load())
	}
}

func TestGetRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/products/DP1.10003.001", func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "try later", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, productJSON)
	})
	c, _ := newTestClient(t, mux)

	if _, err := c.GetProduct("DP1.10003.001"); err != nil {
		t.Fatalf("GetProduct after retry: %v", err)
	}
	if calls.Load() < 2 {
		t.Errorf("server called %d times, want a retry after 503", calls.Load())
	}
}

func TestDownloadFile(t *testing.T) {
	content := strings.Repeat("siteID,plotID\nHARV,HARV_001\n", 100)
	c, srv := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, content)
	}))

	dest := filepath.Join(t.TempDir(), "sub", "data.csv")
	n, err := c.DownloadFile(srv.URL+"/data.csv", dest)
	if err != nil {
		t.Fatalf("DownloadFile: %v", err)
	}
	if n != int64(len(content)) {
		t.Errorf("wrote %d bytes, want %d", n, len(content))
	}
	b, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read dest: %v", err)
	}
	if string(b) != content {
		t.Error("downloaded content differs from served content")
	}
	if _, err := os.Stat(dest + ".part"); !os.IsNotExist(err) {
		t.Error("temp file left behind after successful download")
	}
}
