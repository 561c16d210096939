// Package tiles maps point coordinates onto the 1km UTM grid the
// archive's raster products are partitioned by.
package tiles

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
)

// ErrInvalidQuery marks a tile request that cannot be answered honestly:
// malformed coordinates or a product that is not tile-organized.
// Unlike stacking warnings, these are fatal.
var ErrInvalidQuery = errors.New("invalid tile query")

var tileProductRe = regexp.MustCompile(`^DP3\.300[0-9]{2}\.00[1-2]$`)

// BLAN straddles UTM zones 17N and 18N; its flight data are published
// entirely in 17N. Coordinates at or below this easting are in 18N and
// must be reprojected before tiling.
const (
	dualZoneSite       = "BLAN"
	blanZone18Boundary = 250000.0
	blanCanonicalZone  = 17
	blanSecondaryZone  = 18
)

const tileSize = 1000

// Key is the (easting, northing) southwest corner of one 1km grid tile.
type Key struct {
	Easting  int
	Northing int
}

func (k Key) String() string {
	return fmt.Sprintf("%d_%d", k.Easting, k.Northing)
}

// Extent is the bounding range across a set of tiles, from the
// southwest corner of the lowest tile to that of the highest.
type Extent struct {
	MinEasting  int
	MaxEasting  int
	MinNorthing int
	MaxNorthing int
}

// Query describes one tile-selection request: paired point coordinates,
// an optional buffer in meters, and the site the points belong to.
type Query struct {
	Site      string
	Eastings  []float64
	Northings []float64
	Buffer    float64
}

// TileSet is the resolved answer: deduplicated sorted tile keys and
// their overall bounds. Eastings and Northings carry the query points
// after any zone normalization, so callers can relate ground coordinates
// to the returned tiles.
type TileSet struct {
	Keys      []Key
	Extent    Extent
	Eastings  []float64
	Northings []float64
}

// CheckTileProduct returns ErrInvalidQuery unless dpid names a
// tile-organized (level 3 raster) product.
func CheckTileProduct(dpid string) error {
	if !tileProductRe.MatchString(dpid) {
		return fmt.Errorf("%w: %s is not a tile-organized data product", ErrInvalidQuery, dpid)
	}
	return nil
}

// Resolve computes the set of 1km tiles intersected by the buffered
// query points. Every tile whose footprint overlaps a point's buffer box
// is included, so buffers wider than a tile select the interior tiles,
// not just the corners. A point exactly on a tile boundary belongs to
// the tile whose southwest corner it is (floor semantics).
func Resolve(q Query) (TileSet, error) {
	if len(q.Eastings) == 0 {
		return TileSet{}, fmt.Errorf("%w: no coordinates supplied", ErrInvalidQuery)
	}
	if len(q.Eastings) != len(q.Northings) {
		return TileSet{}, fmt.Errorf("%w: %d eastings but %d northings, cannot identify paired coordinates",
			ErrInvalidQuery, len(q.Eastings), len(q.Northings))
	}
	if q.Buffer < 0 || math.IsNaN(q.Buffer) || math.IsInf(q.Buffer, 0) {
		return TileSet{}, fmt.Errorf("%w: buffer %v is not a non-negative distance", ErrInvalidQuery, q.Buffer)
	}
	for i := range q.Eastings {
		if !finite(q.Eastings[i]) || !finite(q.Northings[i]) {
			return TileSet{}, fmt.Errorf("%w: coordinate pair %d is not numeric", ErrInvalidQuery, i)
		}
	}

	eastings, northings := normalizeZones(q.Site, q.Eastings, q.Northings)

	set := make(map[Key]bool)
	for i := range eastings {
		loE := floorTile(eastings[i] - q.Buffer)
		hiE := floorTile(eastings[i] + q.Buffer)
		loN := floorTile(northings[i] - q.Buffer)
		hiN := floorTile(northings[i] + q.Buffer)
		for e := loE; e <= hiE; e += tileSize {
			for n := loN; n <= hiN; n += tileSize {
				set[Key{Easting: e, Northing: n}] = true
			}
		}
	}

	keys := make([]Key, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Easting != keys[j].Easting {
			return keys[i].Easting < keys[j].Easting
		}
		return keys[i].Northing < keys[j].Northing
	})

	ts := TileSet{Keys: keys, Eastings: eastings, Northings: northings}
	ts.Extent = Extent{
		MinEasting:  keys[0].Easting,
		MaxEasting:  keys[len(keys)-1].Easting,
		MinNorthing: keys[0].Northing,
		MaxNorthing: keys[0].Northing,
	}
	for _, k := range keys {
		if k.Northing < ts.Extent.MinNorthing {
			ts.Extent.MinNorthing = k.Northing
		}
		if k.Northing > ts.Extent.MaxNorthing {
			ts.Extent.MaxNorthing = k.Northing
		}
	}
	return ts, nil
}

// normalizeZones applies the per-site zone strategy: for the dual-zone
// site, coordinates supplied in the secondary zone are reprojected into
// the canonical zone. All other sites pass through untouched, keeping
// site-specific branching out of the tile math.
func normalizeZones(site string, eastings, northings []float64) ([]float64, []float64) {
	if site != dualZoneSite {
		return eastings, northings
	}
	outE := make([]float64, len(eastings))
	outN := make([]float64, len(northings))
	for i := range eastings {
		if eastings[i] <= blanZone18Boundary {
			outE[i], outN[i] = convertZone(eastings[i], northings[i], blanSecondaryZone, blanCanonicalZone)
		} else {
			outE[i], outN[i] = eastings[i], northings[i]
		}
	}
	return outE, outN
}

func floorTile(v float64) int {
	return int(math.Floor(v/tileSize)) * tileSize
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
