package assoc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sentra-ti/sentra/internal/risk"
)

// ErrNotFound is returned when an association or assessment lookup finds
// no matching record.
var ErrNotFound = errors.New("association not found")

// Repository persists associations and threat assessments in PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new association Repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// ReplaceForThreat atomically swaps the association set of a threat: stale
// rows are removed and the freshly classified set inserted in one
// transaction, so readers never observe a half-updated matching run.
func (r *Repository) ReplaceForThreat(ctx context.Context, threatID uuid.UUID, assocs []*Association) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `DELETE FROM associations WHERE threat_id = $1`, threatID); err != nil {
		return fmt.Errorf("clear associations: %w", err)
	}

	now := time.Now().UTC()
	q := `
		INSERT INTO associations (
			id, threat_id, asset_id, match_type, confidence, matched_product,
			version_detail, risk_score, risk_level, risk_components,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	for _, a := range assocs {
		components, err := json.Marshal(a.Components)
		if err != nil {
			return fmt.Errorf("marshal components: %w", err)
		}
		a.ID = uuid.New()
		a.CreatedAt = now
		a.UpdatedAt = now
		if _, err := tx.Exec(ctx, q,
			a.ID, a.ThreatID, a.AssetID, a.MatchType, a.Confidence,
			a.MatchedProduct, a.VersionDetail, a.RiskScore, a.RiskLevel,
			components, a.CreatedAt, a.UpdatedAt,
		); err != nil {
			return fmt.Errorf("insert association: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// ListByThreat returns the associations of a threat with asset hostnames.
func (r *Repository) ListByThreat(ctx context.Context, threatID uuid.UUID) ([]*Association, error) {
	q := `
		SELECT a.id, a.threat_id, a.asset_id, a.match_type, a.confidence,
		       a.matched_product, a.version_detail, a.risk_score, a.risk_level,
		       a.risk_components, a.created_at, a.updated_at,
		       s.hostname, t.cve_id
		FROM associations a
		JOIN assets s ON s.id = a.asset_id
		JOIN threats t ON t.id = a.threat_id
		WHERE a.threat_id = $1
		ORDER BY a.risk_score DESC, a.confidence DESC`
	return r.list(ctx, q, threatID)
}

// ListByAsset returns the associations of an asset with threat CVE IDs.
func (r *Repository) ListByAsset(ctx context.Context, assetID uuid.UUID) ([]*Association, error) {
	q := `
		SELECT a.id, a.threat_id, a.asset_id, a.match_type, a.confidence,
		       a.matched_product, a.version_detail, a.risk_score, a.risk_level,
		       a.risk_components, a.created_at, a.updated_at,
		       s.hostname, t.cve_id
		FROM associations a
		JOIN assets s ON s.id = a.asset_id
		JOIN threats t ON t.id = a.threat_id
		WHERE a.asset_id = $1
		ORDER BY a.risk_score DESC, a.confidence DESC`
	return r.list(ctx, q, assetID)
}

func (r *Repository) list(ctx context.Context, q string, args ...any) ([]*Association, error) {
	rows, err := r.db.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assocs []*Association
	for rows.Next() {
		a, err := scanAssociation(rows)
		if err != nil {
			return nil, err
		}
		assocs = append(assocs, a)
	}
	return assocs, rows.Err()
}

// Count returns the total number of associations.
func (r *Repository) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `SELECT count(*) FROM associations`).Scan(&n)
	return n, err
}

// UpsertAssessment stores or refreshes a threat's aggregate assessment.
func (r *Repository) UpsertAssessment(ctx context.Context, a *ThreatAssessment) error {
	components, err := json.Marshal(a.Components)
	if err != nil {
		return fmt.Errorf("marshal components: %w", err)
	}
	a.UpdatedAt = time.Now().UTC()
	if a.MatchedPIRs == nil {
		a.MatchedPIRs = []uuid.UUID{}
	}

	q := `
		INSERT INTO threat_assessments (
			threat_id, score, level, components, affected_assets,
			max_criticality, pir_priority, matched_pirs, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (threat_id) DO UPDATE SET
			score = EXCLUDED.score,
			level = EXCLUDED.level,
			components = EXCLUDED.components,
			affected_assets = EXCLUDED.affected_assets,
			max_criticality = EXCLUDED.max_criticality,
			pir_priority = EXCLUDED.pir_priority,
			matched_pirs = EXCLUDED.matched_pirs,
			updated_at = EXCLUDED.updated_at`
	_, err = r.db.Exec(ctx, q,
		a.ThreatID, a.Score, a.Level, components, a.AffectedAssets,
		a.MaxCriticality, a.PIRPriority, a.MatchedPIRs, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert assessment: %w", err)
	}
	return nil
}

// GetAssessment retrieves the aggregate assessment for a threat.
func (r *Repository) GetAssessment(ctx context.Context, threatID uuid.UUID) (*ThreatAssessment, error) {
	q := `
		SELECT threat_id, score, level, components, affected_assets,
		       max_criticality, pir_priority, matched_pirs, updated_at
		FROM threat_assessments WHERE threat_id = $1`
	rows, err := r.db.Query(ctx, q, threatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	return scanAssessment(rows, false)
}

// TopByScore returns the n highest-risk threat assessments with CVE IDs.
func (r *Repository) TopByScore(ctx context.Context, n int) ([]*ThreatAssessment, error) {
	if n <= 0 {
		n = 10
	}
	q := `
		SELECT a.threat_id, a.score, a.level, a.components, a.affected_assets,
		       a.max_criticality, a.pir_priority, a.matched_pirs, a.updated_at,
		       t.cve_id
		FROM threat_assessments a
		JOIN threats t ON t.id = a.threat_id
		ORDER BY a.score DESC, a.updated_at DESC
		LIMIT $1`
	rows, err := r.db.Query(ctx, q, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ThreatAssessment
	for rows.Next() {
		a, err := scanAssessment(rows, true)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAssociation(row pgx.Row) (*Association, error) {
	var a Association
	var components []byte
	if err := row.Scan(
		&a.ID, &a.ThreatID, &a.AssetID, &a.MatchType, &a.Confidence,
		&a.MatchedProduct, &a.VersionDetail, &a.RiskScore, &a.RiskLevel,
		&components, &a.CreatedAt, &a.UpdatedAt,
		&a.AssetHostname, &a.ThreatCVE,
	); err != nil {
		return nil, fmt.Errorf("scan association: %w", err)
	}
	if err := json.Unmarshal(components, &a.Components); err != nil {
		return nil, fmt.Errorf("unmarshal components: %w", err)
	}
	return &a, nil
}

func scanAssessment(row pgx.Row, withCVE bool) (*ThreatAssessment, error) {
	var a ThreatAssessment
	var components []byte
	dest := []any{
		&a.ThreatID, &a.Score, &a.Level, &components, &a.AffectedAssets,
		&a.MaxCriticality, &a.PIRPriority, &a.MatchedPIRs, &a.UpdatedAt,
	}
	if withCVE {
		dest = append(dest, &a.ThreatCVE)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, fmt.Errorf("scan assessment: %w", err)
	}
	var c risk.Components
	if err := json.Unmarshal(components, &c); err != nil {
		return nil, fmt.Errorf("unmarshal components: %w", err)
	}
	a.Components = c
	return &a, nil
}
