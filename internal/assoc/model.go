// Package assoc manages threat-to-asset associations and their risk
// assessments. It runs the match classifier over the inventory, persists the
// resulting associations, and keeps per-association and per-threat risk
// scores current.
package assoc

import (
	"time"

	"github.com/google/uuid"
	"github.com/sentra-ti/sentra/internal/match"
	"github.com/sentra-ti/sentra/internal/risk"
)

// Association links a threat to an asset with the classifier's verdict and
// the per-association risk assessment.
type Association struct {
	ID             uuid.UUID  `json:"id"              db:"id"`
	ThreatID       uuid.UUID  `json:"threat_id"       db:"threat_id"`
	AssetID        uuid.UUID  `json:"asset_id"        db:"asset_id"`
	MatchType      match.Type `json:"match_type"      db:"match_type"`
	Confidence     float64    `json:"confidence"      db:"confidence"`
	MatchedProduct string     `json:"matched_product" db:"matched_product"`
	VersionDetail  string     `json:"version_detail"  db:"version_detail"`

	RiskScore  float64         `json:"risk_score" db:"risk_score"`
	RiskLevel  risk.Level      `json:"risk_level" db:"risk_level"`
	Components risk.Components `json:"risk_components" db:"risk_components"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`

	// Joined display fields, populated by list queries only.
	AssetHostname string `json:"asset_hostname,omitempty" db:"-"`
	ThreatCVE     string `json:"threat_cve,omitempty"     db:"-"`
}

// ThreatAssessment is the per-threat aggregate risk assessment.
type ThreatAssessment struct {
	ThreatID       uuid.UUID       `json:"threat_id"       db:"threat_id"`
	Score          float64         `json:"score"           db:"score"`
	Level          risk.Level      `json:"level"           db:"level"`
	Components     risk.Components `json:"components"      db:"components"`
	AffectedAssets int             `json:"affected_assets" db:"affected_assets"`
	MaxCriticality int             `json:"max_criticality" db:"max_criticality"`
	PIRPriority    int             `json:"pir_priority"    db:"pir_priority"`
	MatchedPIRs    []uuid.UUID     `json:"matched_pirs"    db:"matched_pirs"`
	UpdatedAt      time.Time       `json:"updated_at"      db:"updated_at"`

	// Joined display field, populated by TopByScore only.
	ThreatCVE string `json:"threat_cve,omitempty" db:"-"`
}
