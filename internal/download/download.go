// Package download drives the bulk transfer of a product's files from
// the portal into a local filesToStack folder, keeping a ledger of
// completed transfers so interrupted runs resume instead of refetching.
package download

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/lox/neondata/internal/api"
	"github.com/lox/neondata/internal/metrics"
	"github.com/lox/neondata/internal/models"
	"github.com/lox/neondata/internal/store"
)

type Options struct {
	Product string
	// Sites restricts the download; empty means every site with data.
	Sites []string
	// StartMonth and EndMonth bound the range inclusively, in YYYY-MM
	// form. Empty means unbounded on that side.
	StartMonth string
	EndMonth   string
	Tier       string
	// IncludeProvisional keeps files that are not part of a tagged
	// release. By default only released data is downloaded.
	IncludeProvisional bool
	DestDir            string
}

type Downloader struct {
	client *api.Client
	store  *store.Store
}

func New(client *api.Client, st *store.Store) *Downloader {
	return &Downloader{client: client, store: st}
}

// Run downloads every matching file and returns the folder the stacker
// should be pointed at.
func (d *Downloader) Run(opts Options) (string, error) {
	if err := models.ValidateProductID(opts.Product); err != nil {
		return "", err
	}
	if opts.Tier == "" {
		opts.Tier = "basic"
	}

	p, err := d.client.GetProduct(opts.Product)
	if err != nil {
		return "", err
	}
	log.Printf("download: %s (%s)", p.ProductName, opts.Product)

	wanted := make(map[string]bool)
	for _, s := range opts.Sites {
		wanted[s] = true
	}

	var files []api.FileEntry
	seen := make(map[string]bool)
	for _, sc := range p.SiteCodes {
		if len(wanted) > 0 && !wanted[sc.SiteCode] {
			continue
		}
		for _, month := range sc.AvailableMonths {
			if !monthInRange(month, opts.StartMonth, opts.EndMonth) {
				continue
			}
			entries, err := d.client.ListFiles(opts.Product, sc.SiteCode, month, opts.Tier)
			if err != nil {
				return "", fmt.Errorf("list files %s %s: %w", sc.SiteCode, month, err)
			}
			for _, e := range entries {
				if !opts.IncludeProvisional && e.Release == models.ReleaseProvisional {
					continue
				}
				if seen[e.URL] {
					continue
				}
				seen[e.URL] = true
				files = append(files, e)
			}
		}
	}

	if len(files) == 0 {
		return "", fmt.Errorf("no files available for %s with the given sites and dates", opts.Product)
	}

	var total int64
	for _, f := range files {
		total += f.Size
	}
	log.Printf("download: %d files, %.1f MB", len(files), float64(total)/1e6)

	dest := filepath.Join(opts.DestDir, "filesToStack"+models.ProductNumber(opts.Product))
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", dest, err)
	}

	var fetched, skipped int
	for _, f := range files {
		path := filepath.Join(dest, f.Name)
		if d.alreadyFetched(f, path) {
			skipped++
			continue
		}

		if _, err := d.client.DownloadFile(f.URL, path); err != nil {
			return dest, fmt.Errorf("download %s: %w", f.Name, err)
		}
		fetched++
		metrics.FilesDownloaded.WithLabelValues(opts.Product).Inc()

		if d.store != nil {
			rec := store.Download{
				URL:          f.URL,
				Name:         f.Name,
				Path:         path,
				Size:         f.Size,
				Release:      f.Release,
				DownloadedAt: time.Now().UTC(),
			}
			if err := d.store.RecordDownload(rec); err != nil {
				log.Printf("download: ledger write for %s failed: %v", f.Name, err)
			}
		}
	}

	log.Printf("download: %d fetched, %d already present", fetched, skipped)
	return dest, nil
}

// alreadyFetched reports whether the ledger and the filesystem agree
// that this exact file is present. Either disagreeing forces a refetch.
func (d *Downloader) alreadyFetched(f api.FileEntry, path string) bool {
	if d.store == nil {
		return false
	}
	ok, err := d.store.HasDownload(f.URL, f.Size)
	if err != nil || !ok {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Size() == f.Size
}

// monthInRange compares YYYY-MM strings, which order lexically.
func monthInRange(month, start, end string) bool {
	if start != "" && month < start {
		return false
	}
	if end != "" && month > end {
		return false
	}
	return true
}
