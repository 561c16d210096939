package api

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/lox/neondata/internal/metrics"
)

// DownloadFile streams url into dest, creating parent directories as
// needed. The transfer is written through a temp file and renamed so a
// failed copy never leaves a truncated file at dest. Returns the number
// of bytes written.
func (c *Client) DownloadFile(url, dest string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, fmt.Errorf("create dir for %s: %w", dest, err)
	}

	// large transfers can outlive the API client's request timeout
	dl := &http.Client{Transport: c.client.Transport}

	var written int64
	operation := func() error {
		resp, err := dl.Get(url)
		if err != nil {
			metrics.APICallsTotal.WithLabelValues("download", "error").Inc()
			return backoff.Permanent(fmt.Errorf("download %s: %w", url, err))
		}
		defer resp.Body.Close()
		metrics.APICallsTotal.WithLabelValues("download", resp.Status).Inc()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("transient: status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("download %s: status %d", url, resp.StatusCode))
		}

		tmp := dest + ".part"
		f, err := os.Create(tmp)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("create %s: %w", tmp, err))
		}

		written, err = io.Copy(f, resp.Body)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(tmp)
			return fmt.Errorf("copy %s: %w", url, err)
		}
		if err := os.Rename(tmp, dest); err != nil {
			os.Remove(tmp)
			return backoff.Permanent(fmt.Errorf("rename %s: %w", tmp, err))
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 5 * time.Minute
	if err := backoff.Retry(operation, bo); err != nil {
		return 0, err
	}

	metrics.BytesDownloaded.Add(float64(written))
	return written, nil
}
