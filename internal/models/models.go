package models

import (
	"fmt"
	"regexp"
	"strings"
)

// TableCategory describes how a logical table's physical files are
// partitioned across the archive.
type TableCategory string

const (
	// SiteDate tables publish one file per site per month.
	SiteDate TableCategory = "site-date"
	// SiteAll tables publish one file per site spanning all dates.
	SiteAll TableCategory = "site-all"
	// Lab tables publish one file per analytical lab, independent of
	// site and date.
	Lab TableCategory = "lab"
)

// Release tags. Named releases look like RELEASE-2023; the mutable tips
// are PROVISIONAL and current.
const (
	ReleaseProvisional = "PROVISIONAL"
	ReleaseCurrent     = "current"
)

var (
	productIDRe   = regexp.MustCompile(`^DP[1-4]\.[0-9]{5}\.00[1-2]$`)
	productFindRe = regexp.MustCompile(`DP[1-4]\.[0-9]{5}\.00[1-2]`)
	releaseTagRe  = regexp.MustCompile(`RELEASE-20[0-9]{2}`)
	domainRe      = regexp.MustCompile(`^D[0-9]{2}$`)
	siteRe        = regexp.MustCompile(`^[A-Z]{4}$`)
	monthRe       = regexp.MustCompile(`^[0-9]{4}-[0-9]{2}$`)
	pubStampRe    = regexp.MustCompile(`20[0-9]{6}T[0-9]{6}Z`)
	pubDateRe     = regexp.MustCompile(`20[0-9]{2}[0-9]{2}[0-9]{2}`)
)

// ValidateProductID checks the DP#.#####.00# format.
func ValidateProductID(dpid string) error {
	if !productIDRe.MatchString(dpid) {
		return fmt.Errorf("%s is not a properly formatted data product ID, expected DP#.#####.00#", dpid)
	}
	return nil
}

// ProductNumber returns the five-digit numeric code from a product ID,
// e.g. "10003" from "DP1.10003.001". Empty if the ID is malformed.
func ProductNumber(dpid string) string {
	if ValidateProductID(dpid) != nil {
		return ""
	}
	return dpid[4:9]
}

// FindProductID extracts a product ID embedded in a file name or path.
func FindProductID(s string) string {
	return productFindRe.FindString(s)
}

// FindReleaseTag extracts a RELEASE-20## tag from a string, e.g. a file
// path that includes the release directory.
func FindReleaseTag(s string) string {
	return releaseTagRe.FindString(s)
}

// FindPublicationStamp extracts the 20DDDDDDTDDDDDDZ publication
// timestamp from a file name.
func FindPublicationStamp(s string) string {
	return pubStampRe.FindString(s)
}

// FindPublicationDate extracts the eight-digit publication date from a
// file name. Lab files carry a date without the time portion.
func FindPublicationDate(s string) string {
	return pubDateRe.FindString(s)
}

// FileName is a NEON archive file name parsed into its dot-separated
// components. Data files look like
// NEON.D01.HARV.DP1.10003.001.brd_countdata.2019-06.basic.20191205T150213Z.csv;
// lab files carry the lab name in place of the domain/site block and have
// six or fewer components.
type FileName struct {
	Base        string
	Domain      string
	Site        string
	ProductID   string
	Table       string
	Month       string
	Tier        string
	Publication string
	Lab         string
	Category    TableCategory
}

// ParseFileName splits a file name into its components and derives the
// table token and partition category. ok is false when the name does not
// follow the NEON convention at all.
func ParseFileName(name string) (fn FileName, ok bool) {
	base := baseName(name)
	parts := strings.Split(base, ".")
	if len(parts) < 3 || parts[0] != "NEON" {
		return FileName{}, false
	}

	fn.Base = base
	fn.ProductID = FindProductID(base)
	fn.Publication = FindPublicationStamp(base)

	if len(parts) <= 6 {
		fn.Category = Lab
		fn.Lab = parts[1]
	} else {
		fn.Category = SiteAll
		for _, p := range parts {
			if monthRe.MatchString(p) {
				fn.Category = SiteDate
				fn.Month = p
				break
			}
		}
	}

	for i, p := range parts {
		switch {
		case domainRe.MatchString(p) && fn.Domain == "":
			fn.Domain = p
		case siteRe.MatchString(p) && i > 0 && fn.Site == "" && fn.Category != Lab:
			fn.Site = p
		case p == "basic" || p == "expanded":
			fn.Tier = p
		}
	}

	fn.Table = tableToken(parts)
	return fn, true
}

// tableToken finds the table-name component: the first component past the
// product ID block that contains an underscore. The _pub suffix used for
// republished tables is stripped. sensor_positions and
// science_review_flags are special metadata-adjacent tables named without
// a product token, so they are matched directly.
func tableToken(parts []string) string {
	for _, p := range parts[2:] {
		if p == "sensor_positions" || p == "science_review_flags" {
			return p
		}
		if strings.Contains(p, "_") {
			return strings.TrimSuffix(p, "_pub")
		}
	}
	return ""
}

func baseName(name string) string {
	if i := strings.LastIndexAny(name, "/\\"); i >= 0 {
		return name[i+1:]
	}
	return name
}
