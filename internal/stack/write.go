package stack

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// StackedDirName is the folder WriteResult creates under the
// destination directory.
const StackedDirName = "stackedFiles"

// WriteResult writes a stacking result to destDir/stackedFiles with
// deterministic names: <table>.csv for tables (metadata singletons
// already carry their product-code suffix), <name>.txt for citations,
// and readme_<code>.txt for the readme. Output order is sorted by name
// so repeated runs write files identically.
func WriteResult(res *Result, destDir string) error {
	dir := filepath.Join(destDir, StackedDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	names := make([]string, 0, len(res.Tables))
	for name := range res.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := res.Tables[name].WriteCSVFile(filepath.Join(dir, name+".csv")); err != nil {
			return err
		}
	}

	cits := make([]string, 0, len(res.Citations))
	for name := range res.Citations {
		cits = append(cits, name)
	}
	sort.Strings(cits)
	for _, name := range cits {
		path := filepath.Join(dir, name+".txt")
		if err := os.WriteFile(path, []byte(res.Citations[name]), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}

	if len(res.Readme) > 0 {
		path := filepath.Join(dir, "readme_"+res.ProductNumber+".txt")
		body := strings.Join(res.Readme, "\n") + "\n"
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	return nil
}
