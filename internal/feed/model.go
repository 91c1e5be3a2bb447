// Package feed ingests threat intelligence from external sources. It ships
// fetchers for the NVD CVE API, the CISA Known Exploited Vulnerabilities
// catalog, and custom JSON endpoints, tracks per-feed run history, and runs
// scheduled syncs.
package feed

import (
	"time"

	"github.com/google/uuid"
)

// Kind identifies the fetcher a feed uses.
type Kind string

// Supported feed kinds. Custom feeds point at an operator-supplied JSON
// endpoint serving CVE records in the threat create-request shape.
const (
	KindNVD    Kind = "nvd"
	KindKEV    Kind = "kev"
	KindCustom Kind = "custom"
)

// Run statuses.
const (
	RunStatusRunning   = "running"
	RunStatusSucceeded = "succeeded"
	RunStatusFailed    = "failed"
)

// Feed is a configured intelligence source.
type Feed struct {
	ID              uuid.UUID `json:"id"               db:"id"`
	Name            string    `json:"name"             db:"name"`
	Kind            Kind      `json:"kind"             db:"kind"`
	URL             string    `json:"url"              db:"url"`
	Enabled         bool      `json:"enabled"          db:"enabled"`
	IntervalMinutes int       `json:"interval_minutes" db:"interval_minutes"`

	// Cursor is the modification watermark of the last successful sync.
	// NVD syncs request only records modified after it.
	Cursor    *time.Time `json:"cursor,omitempty"      db:"cursor"`
	LastRunAt *time.Time `json:"last_run_at,omitempty" db:"last_run_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Run records one sync attempt of a feed.
type Run struct {
	ID           uuid.UUID  `json:"id"            db:"id"`
	FeedID       uuid.UUID  `json:"feed_id"       db:"feed_id"`
	Status       string     `json:"status"        db:"status"`
	StartedAt    time.Time  `json:"started_at"    db:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty" db:"finished_at"`
	ItemsFetched int        `json:"items_fetched" db:"items_fetched"`
	ItemsCreated int        `json:"items_created" db:"items_created"`
	ItemsUpdated int        `json:"items_updated" db:"items_updated"`
	Error        string     `json:"error,omitempty" db:"error"`
}

// CreateRequest is the payload for registering a feed.
type CreateRequest struct {
	Name            string `json:"name" binding:"required"`
	Kind            Kind   `json:"kind" binding:"required"`
	URL             string `json:"url"`
	Enabled         *bool  `json:"enabled"`
	IntervalMinutes int    `json:"interval_minutes"`
}

// UpdateRequest is the payload for a partial feed update.
type UpdateRequest struct {
	Name            *string `json:"name,omitempty"`
	URL             *string `json:"url,omitempty"`
	Enabled         *bool   `json:"enabled,omitempty"`
	IntervalMinutes *int    `json:"interval_minutes,omitempty"`
}

// ValidKind reports whether k is a supported feed kind.
func ValidKind(k Kind) bool {
	return k == KindNVD || k == KindKEV || k == KindCustom
}

// DefaultURL returns the canonical endpoint for a feed kind.
func DefaultURL(k Kind) string {
	switch k {
	case KindNVD:
		return "https://services.nvd.nist.gov/rest/json/cves/2.0"
	case KindKEV:
		return "https://www.cisa.gov/sites/default/files/feeds/known_exploited_vulnerabilities.json"
	default:
		return ""
	}
}
