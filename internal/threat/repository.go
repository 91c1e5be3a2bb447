package threat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a threat lookup finds no matching record.
var ErrNotFound = errors.New("threat not found")

// ErrDuplicateCVE is returned when an insert collides with an existing CVE ID.
var ErrDuplicateCVE = errors.New("cve already recorded")

const threatColumns = `id, cve_id, title, description, cvss_score, cvss_vector,
	severity, source, published, modified, kev, kev_date_added, kev_ransomware,
	status, refs, affected, created_at, updated_at`

// Repository provides CRUD operations for threats against PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new threat Repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Create inserts a new threat. Sets ID, CreatedAt, UpdatedAt on the record.
func (r *Repository) Create(ctx context.Context, t *Threat) error {
	affected, err := json.Marshal(orEmpty(t.Affected))
	if err != nil {
		return fmt.Errorf("marshal affected: %w", err)
	}

	t.ID = uuid.New()
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	if t.References == nil {
		t.References = []string{}
	}

	q := `
		INSERT INTO threats (` + threatColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`
	_, err = r.db.Exec(ctx, q,
		t.ID, t.CVEID, t.Title, t.Description, t.CVSSScore, t.CVSSVector,
		t.Severity, t.Source, t.Published, t.Modified, t.KEV, t.KEVDateAdded,
		t.KEVRansomware, t.Status, t.References, affected, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateCVE
		}
		return fmt.Errorf("create threat: %w", err)
	}
	return nil
}

// GetByID retrieves a threat by its UUID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*Threat, error) {
	q := `SELECT ` + threatColumns + ` FROM threats WHERE id = $1`
	return r.scanOne(ctx, q, id)
}

// GetByCVE retrieves a threat by CVE identifier.
func (r *Repository) GetByCVE(ctx context.Context, cveID string) (*Threat, error) {
	q := `SELECT ` + threatColumns + ` FROM threats WHERE cve_id = $1`
	return r.scanOne(ctx, q, cveID)
}

// List returns threats matching the filter plus the unpaginated total count.
func (r *Repository) List(ctx context.Context, f ListFilter) ([]*Threat, int, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	where := `
		WHERE ($1 = '' OR severity = $1)
		  AND ($2 = '' OR status = $2)
		  AND (NOT $3::boolean OR kev)
		  AND ($4 = '' OR source = $4)
		  AND ($5 = '' OR cve_id ILIKE '%' || $5 || '%'
		       OR title ILIKE '%' || $5 || '%'
		       OR description ILIKE '%' || $5 || '%')`

	var total int
	if err := r.db.QueryRow(ctx,
		`SELECT count(*) FROM threats`+where,
		string(f.Severity), string(f.Status), f.KEVOnly, f.Source, f.Query,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count threats: %w", err)
	}

	order := `published DESC`
	switch f.Sort {
	case "cvss":
		order = `cvss_score DESC, published DESC`
	case "risk":
		// Assessments are keyed one per threat; threats never scored sort
		// last.
		order = `COALESCE((SELECT score FROM threat_assessments ta
			WHERE ta.threat_id = threats.id), -1) DESC, published DESC`
	}
	q := `SELECT ` + threatColumns + ` FROM threats` + where + `
		ORDER BY ` + order + `
		LIMIT $6 OFFSET $7`
	rows, err := r.db.Query(ctx, q,
		string(f.Severity), string(f.Status), f.KEVOnly, f.Source, f.Query,
		f.Limit, f.Offset,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var threats []*Threat
	for rows.Next() {
		t, err := scan(rows)
		if err != nil {
			return nil, 0, err
		}
		threats = append(threats, t)
	}
	return threats, total, rows.Err()
}

// ListAll returns every threat. Used by full matching sweeps after feed
// ingests and rule changes.
func (r *Repository) ListAll(ctx context.Context) ([]*Threat, error) {
	q := `SELECT ` + threatColumns + ` FROM threats ORDER BY published DESC`
	rows, err := r.db.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var threats []*Threat
	for rows.Next() {
		t, err := scan(rows)
		if err != nil {
			return nil, err
		}
		threats = append(threats, t)
	}
	return threats, rows.Err()
}

// Update persists all mutable fields of the threat.
func (r *Repository) Update(ctx context.Context, t *Threat) error {
	affected, err := json.Marshal(orEmpty(t.Affected))
	if err != nil {
		return fmt.Errorf("marshal affected: %w", err)
	}

	t.UpdatedAt = time.Now().UTC()
	q := `
		UPDATE threats SET
			title = $2, description = $3, cvss_score = $4, cvss_vector = $5,
			severity = $6, modified = $7, kev = $8, kev_date_added = $9,
			kev_ransomware = $10, status = $11, refs = $12, affected = $13,
			updated_at = $14
		WHERE id = $1`
	tag, err := r.db.Exec(ctx, q,
		t.ID, t.Title, t.Description, t.CVSSScore, t.CVSSVector,
		t.Severity, t.Modified, t.KEV, t.KEVDateAdded, t.KEVRansomware,
		t.Status, t.References, affected, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update threat: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a threat. Associations and assessments referencing it are
// removed by ON DELETE CASCADE.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM threats WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete threat: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CountBySeverity returns the per-severity threat breakdown.
func (r *Repository) CountBySeverity(ctx context.Context) (*SeverityCounts, error) {
	rows, err := r.db.Query(ctx, `SELECT severity, count(*) FROM threats GROUP BY severity`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var c SeverityCounts
	for rows.Next() {
		var sev string
		var n int
		if err := rows.Scan(&sev, &n); err != nil {
			return nil, err
		}
		switch Severity(sev) {
		case SeverityCritical:
			c.Critical = n
		case SeverityHigh:
			c.High = n
		case SeverityMedium:
			c.Medium = n
		case SeverityLow:
			c.Low = n
		default:
			c.None = n
		}
	}
	return &c, rows.Err()
}

// CountByStatus returns threat counts keyed by triage status.
func (r *Repository) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.Query(ctx, `SELECT status, count(*) FROM threats GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var st string
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		counts[st] = n
	}
	return counts, rows.Err()
}

// CountKEV returns the number of threats present in the CISA KEV catalog.
func (r *Repository) CountKEV(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `SELECT count(*) FROM threats WHERE kev`).Scan(&n)
	return n, err
}

func (r *Repository) scanOne(ctx context.Context, q string, args ...any) (*Threat, error) {
	rows, err := r.db.Query(ctx, q, args...)
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
	return scan(rows)
}

func scan(row pgx.Row) (*Threat, error) {
	var t Threat
	var affected []byte
	if err := row.Scan(
		&t.ID, &t.CVEID, &t.Title, &t.Description, &t.CVSSScore, &t.CVSSVector,
		&t.Severity, &t.Source, &t.Published, &t.Modified, &t.KEV, &t.KEVDateAdded,
		&t.KEVRansomware, &t.Status, &t.References, &affected, &t.CreatedAt, &t.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("scan threat: %w", err)
	}
	if len(affected) > 0 {
		if err := json.Unmarshal(affected, &t.Affected); err != nil {
			return nil, fmt.Errorf("unmarshal affected: %w", err)
		}
	}
	return &t, nil
}

func orEmpty(a []AffectedProduct) []AffectedProduct {
	if a == nil {
		return []AffectedProduct{}
	}
	return a
}
