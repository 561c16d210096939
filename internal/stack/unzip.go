package stack

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// unzipArchive extracts a zip file into dest, creating it if needed.
// Returns the extracted file paths.
func unzipArchive(zippath, dest string) ([]string, error) {
	zr, err := zip.OpenReader(zippath)
	if err != nil {
		return nil, fmt.Errorf("open zip %s: %w", zippath, err)
	}
	defer zr.Close()

	var extracted []string
	for _, f := range zr.File {
		target := filepath.Join(dest, filepath.Clean(f.Name))
		if !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) {
			return nil, fmt.Errorf("zip %s: entry %s escapes destination", zippath, f.Name)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return nil, err
			}
			continue
		}
		if err := extractOne(f, target); err != nil {
			return nil, fmt.Errorf("zip %s: %w", zippath, err)
		}
		extracted = append(extracted, target)
	}
	return extracted, nil
}

func extractOne(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("open entry %s: %w", f.Name, err)
	}
	defer rc.Close()

	out, err := os.Create(target)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return fmt.Errorf("extract %s: %w", f.Name, err)
	}
	return out.Close()
}

// expandNested extracts every per-month zip directly under dir into a
// sibling folder of the same name and removes the zip, mirroring how
// the archive delivers one zip per site-month. Returns the directories
// it created so intermediates can be cleaned up after stacking.
func expandNested(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", dir, err)
	}

	var created []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".zip") {
			continue
		}
		zippath := filepath.Join(dir, e.Name())
		dest := strings.TrimSuffix(zippath, filepath.Ext(zippath))
		if _, err := unzipArchive(zippath, dest); err != nil {
			return created, err
		}
		if err := os.Remove(zippath); err != nil {
			return created, err
		}
		created = append(created, dest)
	}
	return created, nil
}

// listFiles walks dir and returns every regular file, in lexical order
// so discovery order is deterministic.
func listFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}
	return files, nil
}
