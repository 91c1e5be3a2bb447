// Package match implements the threat-to-asset association classifier.
//
// A threat declares affected products (vendor/product plus an exact version or
// an NVD-style version range); an asset carries its installed product identity
// and OS. Classify compares the two and returns one of nine ranked match
// tiers, each with a fixed confidence. Product identity can match exactly
// (normalized equality) or fuzzily (token overlap); version evidence is
// graded exact > range > none; an OS agreement upgrades a tier but never
// creates a match by itself.
package match

import (
	"strings"

	"github.com/sentra-ti/sentra/internal/asset"
	"github.com/sentra-ti/sentra/internal/threat"
)

// Type is one of the nine ranked association match tiers.
type Type string

const (
	ExactProductVersionOS Type = "exact_product_version_os"
	ExactProductVersion   Type = "exact_product_version"
	ExactProductRangeOS   Type = "exact_product_range_os"
	ExactProductRange     Type = "exact_product_range"
	ExactProductOS        Type = "exact_product_os"
	ExactProduct          Type = "exact_product"
	FuzzyProductVersion   Type = "fuzzy_product_version"
	FuzzyProductOS        Type = "fuzzy_product_os"
	FuzzyProduct          Type = "fuzzy_product"
)

// confidences maps each tier to its fixed confidence score.
var confidences = map[Type]float64{
	ExactProductVersionOS: 1.00,
	ExactProductVersion:   0.95,
	ExactProductRangeOS:   0.90,
	ExactProductRange:     0.85,
	ExactProductOS:        0.75,
	ExactProduct:          0.70,
	FuzzyProductVersion:   0.60,
	FuzzyProductOS:        0.50,
	FuzzyProduct:          0.40,
}

// ranks orders tiers from strongest (lowest rank) to weakest.
var ranks = map[Type]int{
	ExactProductVersionOS: 1,
	ExactProductVersion:   2,
	ExactProductRangeOS:   3,
	ExactProductRange:     4,
	ExactProductOS:        5,
	ExactProduct:          6,
	FuzzyProductVersion:   7,
	FuzzyProductOS:        8,
	FuzzyProduct:          9,
}

// Confidence returns the fixed confidence for a tier.
func Confidence(t Type) float64 {
	return confidences[t]
}

// Rank returns the tier's rank, 1 (strongest) through 9 (weakest).
func Rank(t Type) int {
	return ranks[t]
}

// Result describes one classified threat/asset pairing.
type Result struct {
	Type       Type    `json:"match_type"`
	Confidence float64 `json:"confidence"`
	// MatchedProduct is the affected-product declaration that produced the
	// match, rendered as "vendor/product".
	MatchedProduct string `json:"matched_product"`
	// VersionDetail records the version evidence, e.g. "2.4.49" or
	// ">=2.4.0 <2.4.51".
	VersionDetail string `json:"version_detail,omitempty"`
}

// Classify evaluates every affected-product declaration of the threat against
// the asset and returns the strongest resulting tier. ok is false when
// nothing matches.
func Classify(t *threat.Threat, a *asset.Asset) (Result, bool) {
	var best Result
	found := false

	for _, ap := range t.Affected {
		r, ok := classifyOne(ap, a)
		if !ok {
			continue
		}
		if !found || Rank(r.Type) < Rank(best.Type) {
			best = r
			found = true
		}
	}
	return best, found
}

func classifyOne(ap threat.AffectedProduct, a *asset.Asset) (Result, bool) {
	exact, fuzzy := productMatch(ap, a)
	if !exact && !fuzzy {
		return Result{}, false
	}

	osAgrees := osMatch(ap.OS, a.OSFamily)
	verdict, detail := versionMatch(ap, a.Version)

	// A version constraint that provably excludes the asset's version kills
	// the pairing rather than degrading it. Unevaluable constraints carry no
	// signal and fall through to the version-less tiers.
	if verdict == verdictExcluded {
		return Result{}, false
	}
	versionExact := verdict == verdictExact
	versionRange := verdict == verdictRange

	var typ Type
	switch {
	case exact && versionExact && osAgrees:
		typ = ExactProductVersionOS
	case exact && versionExact:
		typ = ExactProductVersion
	case exact && versionRange && osAgrees:
		typ = ExactProductRangeOS
	case exact && versionRange:
		typ = ExactProductRange
	case exact && osAgrees:
		typ = ExactProductOS
	case exact:
		typ = ExactProduct
	case versionExact || versionRange:
		typ = FuzzyProductVersion
	case osAgrees:
		typ = FuzzyProductOS
	default:
		typ = FuzzyProduct
	}

	return Result{
		Type:           typ,
		Confidence:     Confidence(typ),
		MatchedProduct: renderProduct(ap),
		VersionDetail:  detail,
	}, true
}

// productMatch reports whether the declaration and asset agree on product
// identity: exact (normalized equality, vendor included when both declare
// one) or fuzzy (token overlap ≥ 0.5 or containment).
func productMatch(ap threat.AffectedProduct, a *asset.Asset) (exact, fuzzy bool) {
	declProduct := Normalize(ap.Product)
	assetProduct := Normalize(a.Product)
	if declProduct == "" || assetProduct == "" {
		return false, false
	}

	if declProduct == assetProduct {
		declVendor := Normalize(ap.Vendor)
		assetVendor := Normalize(a.Vendor)
		if declVendor == "" || assetVendor == "" || declVendor == assetVendor {
			return true, false
		}
		// Same product name, conflicting vendors: fuzzy at best.
		return false, true
	}

	if strings.Contains(declProduct, assetProduct) || strings.Contains(assetProduct, declProduct) {
		return false, true
	}
	if tokenOverlap(declProduct, assetProduct) >= 0.5 {
		return false, true
	}
	return false, false
}

// osMatch compares normalized OS families. Empty on either side is no signal.
func osMatch(declOS, assetOS string) bool {
	d := Normalize(declOS)
	a := Normalize(assetOS)
	return d != "" && a != "" && d == a
}

// Normalize lowercases s and collapses separator runs to single spaces, so
// "Apache_HTTP-Server" and "apache http server" compare equal.
func Normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	repl := strings.NewReplacer("_", " ", "-", " ", ".", " ", "/", " ")
	s = repl.Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

// tokenOverlap returns |intersection| / |smaller token set|.
func tokenOverlap(a, b string) float64 {
	at := strings.Fields(a)
	bt := strings.Fields(b)
	if len(at) == 0 || len(bt) == 0 {
		return 0
	}
	set := make(map[string]bool, len(at))
	for _, tok := range at {
		set[tok] = true
	}
	common := 0
	for _, tok := range bt {
		if set[tok] {
			common++
		}
	}
	smaller := len(at)
	if len(bt) < smaller {
		smaller = len(bt)
	}
	return float64(common) / float64(smaller)
}

func renderProduct(ap threat.AffectedProduct) string {
	if ap.Vendor == "" {
		return ap.Product
	}
	return ap.Vendor + "/" + ap.Product
}
