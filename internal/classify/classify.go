// Package classify inspects downloaded file names and sorts them into
// logical tables and metadata singletons ahead of stacking.
package classify

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/lox/neondata/internal/models"
)

// ErrNoDataFiles is returned when the input contains no files following
// the archive naming convention.
var ErrNoDataFiles = errors.New("no data files present in the specified file set")

// Singleton identifies a per-product metadata artifact that must appear
// exactly once in stacked output regardless of how many partitions
// carried a copy.
type Singleton string

const (
	Variables        Singleton = "variables"
	Validation       Singleton = "validation"
	CategoricalCodes Singleton = "categoricalCodes"
	Readme           Singleton = "readme"
)

var singletonMarkers = []struct {
	marker string
	kind   Singleton
}{
	{".variables.20", Variables},
	{".validation.20", Validation},
	{".categoricalCodes.20", CategoricalCodes},
	{".readme.20", Readme},
}

// TableGroup is the set of physical files contributing to one logical
// table, already de-duplicated according to the table's category.
type TableGroup struct {
	Name     string
	Category models.TableCategory
	Files    []string
}

// Grouping is the classifier's output: per-table file groups, candidate
// copies of each metadata singleton, and the files that matched nothing.
type Grouping struct {
	ProductID     string
	ProductNumber string
	Tier          string
	Releases      []string
	Tables        map[string]*TableGroup
	TableNames    []string
	Singletons    map[Singleton][]string
	Ambiguous     []string
}

// Classify sorts file paths into logical tables and metadata singletons.
// The category of each table is derived from its file names; site-all and
// lab tables are reduced to the most recent copy per site or lab so that
// redundant monthly copies are never stacked twice. Files matching no
// known pattern are collected as ambiguous rather than failing the run.
//
// Classification fails only when no archive files are present at all, or
// when the file set mixes more than one data product.
func Classify(paths []string) (*Grouping, error) {
	g := &Grouping{
		Tables:     make(map[string]*TableGroup),
		Singletons: make(map[Singleton][]string),
	}

	products := make(map[string]bool)
	releases := make(map[string]bool)
	seen := make(map[string]bool)

	for _, path := range paths {
		if seen[path] {
			continue
		}
		seen[path] = true

		fn, ok := models.ParseFileName(path)
		if !ok {
			if !isJunk(path) {
				g.Ambiguous = append(g.Ambiguous, path)
			}
			continue
		}
		if fn.ProductID != "" {
			products[fn.ProductID] = true
		}
		if rel := models.FindReleaseTag(path); rel != "" {
			releases[rel] = true
		} else if strings.Contains(path, models.ReleaseProvisional) {
			releases[models.ReleaseProvisional] = true
		}
		if fn.Tier == "expanded" {
			g.Tier = "expanded"
		}

		if kind, ok := singletonKind(fn.Base); ok {
			g.Singletons[kind] = append(g.Singletons[kind], path)
			continue
		}

		if fn.Table == "" || !strings.HasSuffix(fn.Base, ".csv") {
			g.Ambiguous = append(g.Ambiguous, path)
			continue
		}

		cat := categoryFor(fn)
		tg, ok := g.Tables[fn.Table]
		if !ok {
			tg = &TableGroup{Name: fn.Table, Category: cat}
			g.Tables[fn.Table] = tg
			g.TableNames = append(g.TableNames, fn.Table)
		} else if tg.Category != cat {
			return nil, fmt.Errorf(
				"table %s appears under conflicting publication schedules (%s and %s); stack released and provisional data separately",
				fn.Table, tg.Category, cat)
		}
		tg.Files = append(tg.Files, path)
	}

	if len(g.Tables) == 0 && len(g.Singletons) == 0 {
		return nil, ErrNoDataFiles
	}
	if len(products) > 1 {
		return nil, fmt.Errorf("file set contains %d data products, expected exactly one", len(products))
	}
	for p := range products {
		g.ProductID = p
		g.ProductNumber = models.ProductNumber(p)
	}
	if g.Tier == "" {
		g.Tier = "basic"
	}
	for r := range releases {
		g.Releases = append(g.Releases, r)
	}
	sort.Strings(g.Releases)

	for _, tg := range g.Tables {
		dedupeGroup(tg)
	}
	return g, nil
}

// categoryFor applies the per-table category overrides: sensor position
// files publish one copy per site in every monthly folder, and science
// review flags follow the monthly schedule despite carrying no month in
// their names.
func categoryFor(fn models.FileName) models.TableCategory {
	switch fn.Table {
	case "sensor_positions":
		return models.SiteAll
	case "science_review_flags":
		return models.SiteDate
	default:
		return fn.Category
	}
}

// dedupeGroup reduces a site-all group to the most recent copy per site
// and a lab group to the most recent copy per lab. A naive pass-through
// here would stack identical rows once per monthly folder.
func dedupeGroup(tg *TableGroup) {
	var keyFn func(string) string
	switch tg.Category {
	case models.SiteAll:
		keyFn = func(path string) string {
			fn, _ := models.ParseFileName(path)
			return fn.Site
		}
	case models.Lab:
		keyFn = func(path string) string {
			fn, _ := models.ParseFileName(path)
			return fn.Lab
		}
	default:
		return
	}

	byKey := make(map[string][]string)
	var order []string
	for _, p := range tg.Files {
		k := keyFn(p)
		if _, ok := byKey[k]; !ok {
			order = append(order, k)
		}
		byKey[k] = append(byKey[k], p)
	}

	var kept []string
	for _, k := range order {
		recent := MostRecent(byKey[k])
		if len(recent) > 0 {
			kept = append(kept, recent[0])
		}
	}
	tg.Files = kept
}

// MostRecent returns the paths whose embedded publication date is the
// newest in the set, preserving input order. Paths without a publication
// date are ignored; if none carry one, the input is returned unchanged.
func MostRecent(paths []string) []string {
	maxDate := ""
	for _, p := range paths {
		if d := models.FindPublicationDate(base(p)); d > maxDate {
			maxDate = d
		}
	}
	if maxDate == "" {
		return paths
	}
	var recent []string
	for _, p := range paths {
		if strings.Contains(base(p), maxDate) {
			recent = append(recent, p)
		}
	}
	return recent
}

func base(path string) string {
	if i := strings.LastIndexAny(path, "/\\"); i >= 0 {
		return path[i+1:]
	}
	return path
}

func singletonKind(base string) (Singleton, bool) {
	for _, s := range singletonMarkers {
		if strings.Contains(base, s.marker) {
			return s.kind, true
		}
	}
	return "", false
}

// isJunk filters directory entries that are never data: folders, OS
// droppings, and the zip archives themselves.
func isJunk(path string) bool {
	base := strings.ToLower(path)
	return strings.HasSuffix(base, "/") ||
		strings.HasSuffix(base, ".zip") ||
		strings.HasSuffix(base, ".ds_store")
}
