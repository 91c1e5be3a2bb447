// Package pir implements Priority Intelligence Requirements: analyst-defined
// rules that mark which threats are organisationally significant. A threat
// matches a rule when every populated criterion holds (AND across criteria,
// OR within a list); the highest-priority match feeds the risk formula.
package pir

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sentra-ti/sentra/internal/threat"
)

// Rule is a single priority intelligence requirement.
type Rule struct {
	ID          uuid.UUID `json:"id"          db:"id"`
	Name        string    `json:"name"        db:"name"`
	Description string    `json:"description" db:"description"`
	// Priority ranks the requirement 1 (background interest) to 5 (board-level).
	Priority int  `json:"priority" db:"priority"`
	Active   bool `json:"active"   db:"active"`

	// Criteria. An empty list or zero value means "criterion not set".
	Keywords []string `json:"keywords" db:"keywords"`
	Vendors  []string `json:"vendors"  db:"vendors"`
	Products []string `json:"products" db:"products"`
	MinCVSS  float64  `json:"min_cvss" db:"min_cvss"`
	KEVOnly  bool     `json:"kev_only" db:"kev_only"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// CreateRequest is the payload for defining a new rule.
type CreateRequest struct {
	Name        string   `json:"name"     binding:"required"`
	Description string   `json:"description"`
	Priority    int      `json:"priority" binding:"required"`
	Keywords    []string `json:"keywords"`
	Vendors     []string `json:"vendors"`
	Products    []string `json:"products"`
	MinCVSS     float64  `json:"min_cvss"`
	KEVOnly     bool     `json:"kev_only"`
}

// UpdateRequest is the payload for a partial rule update.
type UpdateRequest struct {
	Name        *string   `json:"name,omitempty"`
	Description *string   `json:"description,omitempty"`
	Priority    *int      `json:"priority,omitempty"`
	Active      *bool     `json:"active,omitempty"`
	Keywords    *[]string `json:"keywords,omitempty"`
	Vendors     *[]string `json:"vendors,omitempty"`
	Products    *[]string `json:"products,omitempty"`
	MinCVSS     *float64  `json:"min_cvss,omitempty"`
	KEVOnly     *bool     `json:"kev_only,omitempty"`
}

// Matches reports whether the threat satisfies every populated criterion of
// the rule. Inactive rules never match.
func (r *Rule) Matches(t *threat.Threat) bool {
	if !r.Active {
		return false
	}
	if r.MinCVSS > 0 && t.CVSSScore < r.MinCVSS {
		return false
	}
	if r.KEVOnly && !t.KEV {
		return false
	}
	if len(r.Keywords) > 0 && !anyKeyword(r.Keywords, t.Title+" "+t.Description) {
		return false
	}
	if len(r.Vendors) > 0 && !anyAffected(r.Vendors, t, func(ap threat.AffectedProduct) string { return ap.Vendor }) {
		return false
	}
	if len(r.Products) > 0 && !anyAffected(r.Products, t, func(ap threat.AffectedProduct) string { return ap.Product }) {
		return false
	}
	return true
}

func anyKeyword(keywords []string, text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" && strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func anyAffected(wanted []string, t *threat.Threat, field func(threat.AffectedProduct) string) bool {
	for _, w := range wanted {
		w = strings.ToLower(strings.TrimSpace(w))
		if w == "" {
			continue
		}
		for _, ap := range t.Affected {
			if strings.ToLower(field(ap)) == w {
				return true
			}
		}
	}
	return false
}
