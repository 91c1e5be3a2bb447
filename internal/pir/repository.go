package pir

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a rule lookup finds no matching record.
var ErrNotFound = errors.New("pir rule not found")

const ruleColumns = `id, name, description, priority, active, keywords,
	vendors, products, min_cvss, kev_only, created_at, updated_at`

// Repository provides CRUD operations for PIR rules against PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PIR Repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Create inserts a new rule. Sets ID, CreatedAt, UpdatedAt on the record.
func (r *Repository) Create(ctx context.Context, rule *Rule) error {
	rule.ID = uuid.New()
	now := time.Now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	normalizeLists(rule)

	q := `
		INSERT INTO pir_rules (` + ruleColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err := r.db.Exec(ctx, q,
		rule.ID, rule.Name, rule.Description, rule.Priority, rule.Active,
		rule.Keywords, rule.Vendors, rule.Products, rule.MinCVSS, rule.KEVOnly,
		rule.CreatedAt, rule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create pir rule: %w", err)
	}
	return nil
}

// GetByID retrieves a rule by its UUID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*Rule, error) {
	q := `SELECT ` + ruleColumns + ` FROM pir_rules WHERE id = $1`
	rows, err := r.db.Query(ctx, q, id)
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

// List returns all rules ordered by priority then name.
func (r *Repository) List(ctx context.Context) ([]*Rule, error) {
	return r.list(ctx, `SELECT `+ruleColumns+` FROM pir_rules ORDER BY priority DESC, name`)
}

// ListActive returns the active rules only, for evaluation.
func (r *Repository) ListActive(ctx context.Context) ([]*Rule, error) {
	return r.list(ctx, `SELECT `+ruleColumns+` FROM pir_rules WHERE active ORDER BY priority DESC, name`)
}

func (r *Repository) list(ctx context.Context, q string) ([]*Rule, error) {
	rows, err := r.db.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*Rule
	for rows.Next() {
		rule, err := scan(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// Update persists all mutable fields of the rule.
func (r *Repository) Update(ctx context.Context, rule *Rule) error {
	rule.UpdatedAt = time.Now().UTC()
	normalizeLists(rule)

	q := `
		UPDATE pir_rules SET
			name = $2, description = $3, priority = $4, active = $5,
			keywords = $6, vendors = $7, products = $8, min_cvss = $9,
			kev_only = $10, updated_at = $11
		WHERE id = $1`
	tag, err := r.db.Exec(ctx, q,
		rule.ID, rule.Name, rule.Description, rule.Priority, rule.Active,
		rule.Keywords, rule.Vendors, rule.Products, rule.MinCVSS, rule.KEVOnly,
		rule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update pir rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a rule.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM pir_rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete pir rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scan(row pgx.Row) (*Rule, error) {
	var rule Rule
	if err := row.Scan(
		&rule.ID, &rule.Name, &rule.Description, &rule.Priority, &rule.Active,
		&rule.Keywords, &rule.Vendors, &rule.Products, &rule.MinCVSS,
		&rule.KEVOnly, &rule.CreatedAt, &rule.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("scan pir rule: %w", err)
	}
	return &rule, nil
}

func normalizeLists(rule *Rule) {
	if rule.Keywords == nil {
		rule.Keywords = []string{}
	}
	if rule.Vendors == nil {
		rule.Vendors = []string{}
	}
	if rule.Products == nil {
		rule.Products = []string{}
	}
}
