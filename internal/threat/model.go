// Package threat implements CVE/threat record management: the vulnerability
// records ingested from feeds or entered by analysts, including CVSS scoring
// data, CISA KEV membership, and the affected-product declarations the
// association classifier matches against the asset inventory.
package threat

import (
	"time"

	"github.com/google/uuid"
)

// Status is the triage lifecycle state of a threat record.
type Status string

const (
	StatusNew       Status = "new"
	StatusTriaged   Status = "triaged"
	StatusMitigated Status = "mitigated"
	StatusDismissed Status = "dismissed"
)

// Severity buckets follow the CVSS v3 qualitative rating scale.
type Severity string

const (
	SeverityNone     Severity = "none"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// AffectedProduct declares one product/version constraint a threat applies to.
// Version is an exact version; the range fields mirror NVD CPE match semantics
// and are used when Version is empty.
type AffectedProduct struct {
	Vendor                string `json:"vendor,omitempty"`
	Product               string `json:"product"`
	Version               string `json:"version,omitempty"`
	VersionStartIncluding string `json:"version_start_including,omitempty"`
	VersionEndIncluding   string `json:"version_end_including,omitempty"`
	VersionEndExcluding   string `json:"version_end_excluding,omitempty"`
	OS                    string `json:"os,omitempty"`
}

// Threat is a CVE/threat record.
type Threat struct {
	ID          uuid.UUID `json:"id"           db:"id"`
	CVEID       string    `json:"cve_id"       db:"cve_id"`
	Title       string    `json:"title"        db:"title"`
	Description string    `json:"description"  db:"description"`
	CVSSScore   float64   `json:"cvss_score"   db:"cvss_score"`
	CVSSVector  string    `json:"cvss_vector"  db:"cvss_vector"`
	Severity    Severity  `json:"severity"     db:"severity"`
	Source      string    `json:"source"       db:"source"`
	Published   time.Time `json:"published"    db:"published"`
	Modified    time.Time `json:"modified"     db:"modified"`

	// KEV fields mirror the CISA Known Exploited Vulnerabilities catalog.
	KEV           bool       `json:"kev"                       db:"kev"`
	KEVDateAdded  *time.Time `json:"kev_date_added,omitempty"  db:"kev_date_added"`
	KEVRansomware bool       `json:"kev_ransomware"            db:"kev_ransomware"`

	Status     Status            `json:"status"     db:"status"`
	References []string          `json:"references" db:"refs"`
	Affected   []AffectedProduct `json:"affected"   db:"affected"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// CreateRequest is the payload for recording a new threat.
type CreateRequest struct {
	CVEID       string            `json:"cve_id"      binding:"required"`
	Title       string            `json:"title"       binding:"required"`
	Description string            `json:"description"`
	CVSSScore   float64           `json:"cvss_score"`
	CVSSVector  string            `json:"cvss_vector"`
	Source      string            `json:"source"`
	Published   *time.Time        `json:"published"`
	References  []string          `json:"references"`
	Affected    []AffectedProduct `json:"affected"`
}

// UpdateRequest is the payload for a partial threat update.
type UpdateRequest struct {
	Title       *string            `json:"title,omitempty"`
	Description *string            `json:"description,omitempty"`
	CVSSScore   *float64           `json:"cvss_score,omitempty"`
	CVSSVector  *string            `json:"cvss_vector,omitempty"`
	References  *[]string          `json:"references,omitempty"`
	Affected    *[]AffectedProduct `json:"affected,omitempty"`
}

// ListFilter narrows List results. Zero values mean "no filter".
type ListFilter struct {
	Severity Severity
	Status   Status
	KEVOnly  bool
	Source   string
	// Query is matched case-insensitively against cve_id, title, and description.
	Query string
	// Sort is "published" (default), "cvss" (raw base score), or "risk"
	// (computed assessment score).
	Sort   string
	Limit  int
	Offset int
}

// SeverityCounts is the per-severity breakdown used by the dashboard.
type SeverityCounts struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
	None     int `json:"none"`
}

// SeverityForScore maps a CVSS base score onto the qualitative scale.
func SeverityForScore(score float64) Severity {
	switch {
	case score >= 9.0:
		return SeverityCritical
	case score >= 7.0:
		return SeverityHigh
	case score >= 4.0:
		return SeverityMedium
	case score > 0:
		return SeverityLow
	default:
		return SeverityNone
	}
}

// ValidStatus reports whether s is a recognised triage status.
func ValidStatus(s Status) bool {
	switch s {
	case StatusNew, StatusTriaged, StatusMitigated, StatusDismissed:
		return true
	}
	return false
}
