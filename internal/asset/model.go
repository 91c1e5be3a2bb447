// Package asset implements the asset inventory: the hosts and software
// installations that threats are matched against. Each asset carries the
// product identity (vendor/product/version) and OS fields the association
// classifier consumes, plus a 1–5 criticality used by the risk engine.
package asset

import (
	"time"

	"github.com/google/uuid"
)

// Environment classifies where an asset runs.
type Environment string

const (
	EnvProduction  Environment = "production"
	EnvStaging     Environment = "staging"
	EnvDevelopment Environment = "development"
)

// Asset is the core inventory record.
type Asset struct {
	ID          uuid.UUID   `json:"id"           db:"id"`
	Hostname    string      `json:"hostname"     db:"hostname"`
	IPAddress   string      `json:"ip_address"   db:"ip_address"`
	Vendor      string      `json:"vendor"       db:"vendor"`
	Product     string      `json:"product"      db:"product"`
	Version     string      `json:"version"      db:"version"`
	OSFamily    string      `json:"os_family"    db:"os_family"`
	OSVersion   string      `json:"os_version"   db:"os_version"`
	Owner       string      `json:"owner"        db:"owner"`
	Environment Environment `json:"environment"  db:"environment"`
	// Criticality is the business importance of the asset, 1 (lab box)
	// to 5 (crown jewel). It feeds directly into risk scoring.
	Criticality int       `json:"criticality"  db:"criticality"`
	Tags        []string  `json:"tags"         db:"tags"`
	CreatedAt   time.Time `json:"created_at"   db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"   db:"updated_at"`
}

// CreateRequest is the payload for registering a new asset.
type CreateRequest struct {
	Hostname    string   `json:"hostname"    binding:"required"`
	IPAddress   string   `json:"ip_address"`
	Vendor      string   `json:"vendor"`
	Product     string   `json:"product"     binding:"required"`
	Version     string   `json:"version"`
	OSFamily    string   `json:"os_family"`
	OSVersion   string   `json:"os_version"`
	Owner       string   `json:"owner"`
	Environment string   `json:"environment"`
	Criticality int      `json:"criticality"`
	Tags        []string `json:"tags"`
}

// UpdateRequest is the payload for a partial asset update. Nil fields are
// left unchanged.
type UpdateRequest struct {
	Hostname    *string   `json:"hostname,omitempty"`
	IPAddress   *string   `json:"ip_address,omitempty"`
	Vendor      *string   `json:"vendor,omitempty"`
	Product     *string   `json:"product,omitempty"`
	Version     *string   `json:"version,omitempty"`
	OSFamily    *string   `json:"os_family,omitempty"`
	OSVersion   *string   `json:"os_version,omitempty"`
	Owner       *string   `json:"owner,omitempty"`
	Environment *string   `json:"environment,omitempty"`
	Criticality *int      `json:"criticality,omitempty"`
	Tags        *[]string `json:"tags,omitempty"`
}

// ListFilter narrows List results. Zero values mean "no filter".
type ListFilter struct {
	Environment string
	Criticality int
	OSFamily    string
	// Query is matched case-insensitively against hostname, product, and vendor.
	Query  string
	Limit  int
	Offset int
}

// ValidEnvironment reports whether s is a recognised environment label.
func ValidEnvironment(s string) bool {
	switch Environment(s) {
	case EnvProduction, EnvStaging, EnvDevelopment:
		return true
	}
	return false
}
