// Package api is the client for the NEON data portal API: product
// metadata, release citations, per-site-per-month file manifests, and
// the file transfers themselves.
package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/lox/neondata/internal/httputil"
	"github.com/lox/neondata/internal/metrics"
	"github.com/lox/neondata/internal/models"
	"github.com/lox/neondata/internal/table"
)

const DefaultBaseURL = "https://data.neonscience.org/api/v0"

type Client struct {
	baseURL string
	client  *http.Client
}

// New returns a client for the public portal. token may be empty; when
// set it rides along on every request and lifts the rate limit.
func New(token string) *Client {
	return &Client{
		baseURL: DefaultBaseURL,
		client:  httputil.NewClient(token),
	}
}

// NewWithClient overrides the endpoint and transport, for tests.
func NewWithClient(baseURL string, hc *http.Client) *Client {
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), client: hc}
}

type productResponse struct {
	Data Product `json:"data"`
}

type Product struct {
	ProductCode        string      `json:"productCode"`
	ProductName        string      `json:"productName"`
	ProductDescription string      `json:"productDescription"`
	ProductScienceTeam string      `json:"productScienceTeam"`
	Releases           []Release   `json:"releases"`
	ChangeLogs         []ChangeLog `json:"changeLogs"`
	SiteCodes          []SiteCode  `json:"siteCodes"`
}

type Release struct {
	Release        string `json:"release"`
	GenerationDate string `json:"generationDate"`
	ProductDoi     struct {
		URL string `json:"url"`
	} `json:"productDoi"`
}

type ChangeLog struct {
	ID               int    `json:"id"`
	ParentIssueID    *int   `json:"parentIssueID"`
	IssueDate        string `json:"issueDate"`
	ResolvedDate     string `json:"resolvedDate"`
	DateRangeStart   string `json:"dateRangeStart"`
	DateRangeEnd     string `json:"dateRangeEnd"`
	LocationAffected string `json:"locationAffected"`
	Issue            string `json:"issue"`
	Resolution       string `json:"resolution"`
}

type SiteCode struct {
	SiteCode        string   `json:"siteCode"`
	AvailableMonths []string `json:"availableMonths"`
}

// GetProduct fetches product metadata, including release DOIs, the
// change log, and site/month availability.
func (c *Client) GetProduct(dpid string) (*Product, error) {
	if err := models.ValidateProductID(dpid); err != nil {
		return nil, err
	}

	body, err := c.get("products", c.baseURL+"/products/"+dpid)
	if err != nil {
		return nil, err
	}

	var resp productResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal product %s: %w", dpid, err)
	}
	return &resp.Data, nil
}

// IssueLog returns the product change log as a table, one row per
// logged issue, in the order the portal reports them.
func (c *Client) IssueLog(dpid string) (*table.Table, error) {
	p, err := c.GetProduct(dpid)
	if err != nil {
		return nil, err
	}

	cols := []struct {
		name string
		get  func(ChangeLog) string
	}{
		{"id", func(l ChangeLog) string { return fmt.Sprintf("%d", l.ID) }},
		{"parentIssueID", func(l ChangeLog) string {
			if l.ParentIssueID == nil {
				return ""
			}
			return fmt.Sprintf("%d", *l.ParentIssueID)
		}},
		{"issueDate", func(l ChangeLog) string { return l.IssueDate }},
		{"resolvedDate", func(l ChangeLog) string { return l.ResolvedDate }},
		{"dateRangeStart", func(l ChangeLog) string { return l.DateRangeStart }},
		{"dateRangeEnd", func(l ChangeLog) string { return l.DateRangeEnd }},
		{"locationAffected", func(l ChangeLog) string { return l.LocationAffected }},
		{"issue", func(l ChangeLog) string { return l.Issue }},
		{"resolution", func(l ChangeLog) string { return l.Resolution }},
	}

	out := &table.Table{}
	for _, col := range cols {
		vals := make([]string, len(p.ChangeLogs))
		for i, l := range p.ChangeLogs {
			vals[i] = col.get(l)
		}
		out.AddColumn(col.name, vals)
	}
	return out, nil
}

func provisionalCitation(dpid, name string, year int) string {
	return fmt.Sprintf(`@misc{%[1]s/provisional,
  doi = {},
  url = {https://data.neonscience.org/data-products/%[1]s},
  author = {{National Ecological Observatory Network (NEON)}},
  language = {en},
  title = {%[2]s (%[1]s)},
  publisher = {National Ecological Observatory Network (NEON)},
  year = {%[3]d}
}`, dpid, name, year)
}

// Citation returns a BibTeX citation for one release of a product.
// Provisional data has no DOI, so its citation is templated locally;
// released data resolves the release DOI with a BibTeX accept header.
func (c *Client) Citation(dpid, release string) (string, error) {
	p, err := c.GetProduct(dpid)
	if err != nil {
		return "", err
	}

	if release == models.ReleaseProvisional {
		return provisionalCitation(dpid, p.ProductName, time.Now().Year()), nil
	}

	for _, r := range p.Releases {
		if r.Release != release {
			continue
		}
		if r.ProductDoi.URL == "" {
			return "", fmt.Errorf("release %s of %s has no DOI", release, dpid)
		}
		body, err := c.getWithAccept("citation", r.ProductDoi.URL, "application/x-bibtex")
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(body)), nil
	}
	return "", fmt.Errorf("product %s has no release %s", dpid, release)
}

type filesResponse struct {
	Data struct {
		Release string      `json:"release"`
		Files   []FileEntry `json:"files"`
	} `json:"data"`
}

type FileEntry struct {
	Name    string `json:"name"`
	Size    int64  `json:"size"`
	URL     string `json:"url"`
	Release string `json:"-"`
}

// ListFiles returns the file manifest for one site and month of a
// product, restricted to the given package tier.
func (c *Client) ListFiles(dpid, site, month, tier string) ([]FileEntry, error) {
	if err := models.ValidateProductID(dpid); err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/data/%s/%s/%s?package=%s", c.baseURL, dpid, site, month, tier)
	body, err := c.get("data", url)
	if err != nil {
		return nil, err
	}

	var resp filesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal manifest %s %s %s: %w", dpid, site, month, err)
	}

	files := resp.Data.Files
	for i := range files {
		files[i].Release = resp.Data.Release
	}
	return files, nil
}

func (c *Client) get(endpoint, url string) ([]byte, error) {
	return c.getWithAccept(endpoint, url, "")
}

func (c *Client) getWithAccept(endpoint, url, accept string) ([]byte, error) {
	var body []byte
	operation := func() error {
		start := time.Now()
		req, err := http.NewRequest(http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build request: %w", err))
		}
		if accept != "" {
			req.Header.Set("Accept", accept)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			metrics.APICallsTotal.WithLabelValues(endpoint, "error").Inc()
			return backoff.Permanent(fmt.Errorf("get %s: %w", url, err))
		}
		defer resp.Body.Close()
		metrics.APICallsTotal.WithLabelValues(endpoint, resp.Status).Inc()
		metrics.APILatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("transient: status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(resp.Body)
			return backoff.Permanent(fmt.Errorf("get %s: status %d: %s", url, resp.StatusCode, string(b)))
		}

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("read body: %w", err))
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 2 * time.Minute
	if err := backoff.Retry(operation, bo); err != nil {
		return nil, err
	}
	return body, nil
}
