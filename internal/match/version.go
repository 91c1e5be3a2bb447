package match

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/sentra-ti/sentra/internal/threat"
)

// versionVerdict is the outcome of grading version evidence.
type versionVerdict int

const (
	// verdictNoSignal: no constraint, no asset version, or the inputs could
	// not be parsed. Contributes nothing either way.
	verdictNoSignal versionVerdict = iota
	// verdictExcluded: the constraint was evaluated and rules the asset
	// version out.
	verdictExcluded
	// verdictRange: the asset version falls inside the declared range.
	verdictRange
	// verdictExact: the versions are equal.
	verdictExact
)

// versionMatch grades the version evidence between a declaration and an
// asset version. detail describes the evidence for the association record.
// Unparseable bounds are skipped rather than treated as a failed constraint,
// so garbage range data degrades to "no signal" instead of excluding.
func versionMatch(ap threat.AffectedProduct, assetVersion string) (versionVerdict, string) {
	assetVersion = strings.TrimSpace(assetVersion)
	if assetVersion == "" {
		return verdictNoSignal, ""
	}

	if ap.Version != "" {
		if versionsEqual(ap.Version, assetVersion) {
			return verdictExact, ap.Version
		}
		return verdictExcluded, ""
	}

	if ap.VersionStartIncluding == "" && ap.VersionEndIncluding == "" && ap.VersionEndExcluding == "" {
		return verdictNoSignal, ""
	}

	av, err := coerce(assetVersion)
	if err != nil {
		return verdictNoSignal, ""
	}

	evaluated := false
	var parts []string
	if ap.VersionStartIncluding != "" {
		if lo, err := coerce(ap.VersionStartIncluding); err == nil {
			if av.LessThan(lo) {
				return verdictExcluded, ""
			}
			evaluated = true
			parts = append(parts, ">="+ap.VersionStartIncluding)
		}
	}
	if ap.VersionEndIncluding != "" {
		if hi, err := coerce(ap.VersionEndIncluding); err == nil {
			if av.GreaterThan(hi) {
				return verdictExcluded, ""
			}
			evaluated = true
			parts = append(parts, "<="+ap.VersionEndIncluding)
		}
	}
	if ap.VersionEndExcluding != "" {
		if hi, err := coerce(ap.VersionEndExcluding); err == nil {
			if !av.LessThan(hi) {
				return verdictExcluded, ""
			}
			evaluated = true
			parts = append(parts, "<"+ap.VersionEndExcluding)
		}
	}
	if !evaluated {
		return verdictNoSignal, ""
	}
	return verdictRange, strings.Join(parts, " ")
}

// versionsEqual compares two versions semantically when both parse, falling
// back to normalized string equality.
func versionsEqual(a, b string) bool {
	va, errA := coerce(a)
	vb, errB := coerce(b)
	if errA == nil && errB == nil {
		return va.Equal(vb)
	}
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(a)), "v") ==
		strings.TrimPrefix(strings.ToLower(strings.TrimSpace(b)), "v")
}

// coerce parses a version leniently: a leading "v" is stripped and versions
// with more than three numeric segments (common in vendor versioning, e.g.
// "1.2.3.4") are truncated to the first three before semver parsing.
func coerce(s string) (*semver.Version, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "v")
	if s == "" {
		return nil, fmt.Errorf("empty version")
	}
	if v, err := semver.NewVersion(s); err == nil {
		return v, nil
	}
	segs := strings.Split(s, ".")
	if len(segs) > 3 {
		if v, err := semver.NewVersion(strings.Join(segs[:3], ".")); err == nil {
			return v, nil
		}
	}
	return nil, fmt.Errorf("unparseable version %q", s)
}
