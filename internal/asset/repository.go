package asset

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when an asset lookup finds no matching record.
var ErrNotFound = errors.New("asset not found")

// ErrDuplicateHostname is returned when an insert collides with an existing hostname.
var ErrDuplicateHostname = errors.New("hostname already registered")

const assetColumns = `id, hostname, ip_address, vendor, product, version,
	os_family, os_version, owner, environment, criticality, tags, created_at, updated_at`

// Repository provides CRUD operations for assets against PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new asset Repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Create inserts a new asset. Sets ID, CreatedAt, UpdatedAt on the record.
func (r *Repository) Create(ctx context.Context, a *Asset) error {
	a.ID = uuid.New()
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now
	if a.Tags == nil {
		a.Tags = []string{}
	}

	q := `
		INSERT INTO assets (` + assetColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`
	_, err := r.db.Exec(ctx, q,
		a.ID, a.Hostname, a.IPAddress, a.Vendor, a.Product, a.Version,
		a.OSFamily, a.OSVersion, a.Owner, a.Environment, a.Criticality,
		a.Tags, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateHostname
		}
		return fmt.Errorf("create asset: %w", err)
	}
	return nil
}

// CreateBatch inserts all assets in a single transaction. Used by CSV import
// commit so a bad row cannot leave a partial import behind.
func (r *Repository) CreateBatch(ctx context.Context, assets []*Asset) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	q := `
		INSERT INTO assets (` + assetColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`
	now := time.Now().UTC()
	for _, a := range assets {
		a.ID = uuid.New()
		a.CreatedAt = now
		a.UpdatedAt = now
		if a.Tags == nil {
			a.Tags = []string{}
		}
		if _, err := tx.Exec(ctx, q,
			a.ID, a.Hostname, a.IPAddress, a.Vendor, a.Product, a.Version,
			a.OSFamily, a.OSVersion, a.Owner, a.Environment, a.Criticality,
			a.Tags, a.CreatedAt, a.UpdatedAt,
		); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return fmt.Errorf("%w: %s", ErrDuplicateHostname, a.Hostname)
			}
			return fmt.Errorf("insert asset %s: %w", a.Hostname, err)
		}
	}
	return tx.Commit(ctx)
}

// GetByID retrieves an asset by its UUID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*Asset, error) {
	q := `SELECT ` + assetColumns + ` FROM assets WHERE id = $1`
	return r.scanOne(ctx, q, id)
}

// GetByHostname retrieves an asset by hostname.
func (r *Repository) GetByHostname(ctx context.Context, hostname string) (*Asset, error) {
	q := `SELECT ` + assetColumns + ` FROM assets WHERE hostname = $1`
	return r.scanOne(ctx, q, hostname)
}

// List returns assets matching the filter plus the unpaginated total count.
func (r *Repository) List(ctx context.Context, f ListFilter) ([]*Asset, int, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	where := `
		WHERE ($1 = '' OR environment = $1)
		  AND ($2 = 0 OR criticality = $2)
		  AND ($3 = '' OR lower(os_family) = lower($3))
		  AND ($4 = '' OR hostname ILIKE '%' || $4 || '%'
		       OR product ILIKE '%' || $4 || '%'
		       OR vendor ILIKE '%' || $4 || '%')`

	var total int
	if err := r.db.QueryRow(ctx,
		`SELECT count(*) FROM assets`+where,
		f.Environment, f.Criticality, f.OSFamily, f.Query,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count assets: %w", err)
	}

	q := `SELECT ` + assetColumns + ` FROM assets` + where + `
		ORDER BY created_at DESC
		LIMIT $5 OFFSET $6`
	rows, err := r.db.Query(ctx, q,
		f.Environment, f.Criticality, f.OSFamily, f.Query, f.Limit, f.Offset,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var assets []*Asset
	for rows.Next() {
		a, err := scan(rows)
		if err != nil {
			return nil, 0, err
		}
		assets = append(assets, a)
	}
	return assets, total, rows.Err()
}

// ListAll returns every asset. Used by the association matcher, which needs
// the full inventory for each threat.
func (r *Repository) ListAll(ctx context.Context) ([]*Asset, error) {
	q := `SELECT ` + assetColumns + ` FROM assets ORDER BY hostname`
	rows, err := r.db.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assets []*Asset
	for rows.Next() {
		a, err := scan(rows)
		if err != nil {
			return nil, err
		}
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

// Update persists all mutable fields of the asset.
func (r *Repository) Update(ctx context.Context, a *Asset) error {
	a.UpdatedAt = time.Now().UTC()
	q := `
		UPDATE assets SET
			hostname = $2, ip_address = $3, vendor = $4, product = $5, version = $6,
			os_family = $7, os_version = $8, owner = $9, environment = $10,
			criticality = $11, tags = $12, updated_at = $13
		WHERE id = $1`
	tag, err := r.db.Exec(ctx, q,
		a.ID, a.Hostname, a.IPAddress, a.Vendor, a.Product, a.Version,
		a.OSFamily, a.OSVersion, a.Owner, a.Environment, a.Criticality,
		a.Tags, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update asset: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes an asset. Associations referencing it are removed by the
// ON DELETE CASCADE on the associations table.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM assets WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete asset: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CountByCriticality returns asset counts keyed by criticality level.
func (r *Repository) CountByCriticality(ctx context.Context) (map[int]int, error) {
	rows, err := r.db.Query(ctx, `SELECT criticality, count(*) FROM assets GROUP BY criticality`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[int]int)
	for rows.Next() {
		var crit, n int
		if err := rows.Scan(&crit, &n); err != nil {
			return nil, err
		}
		counts[crit] = n
	}
	return counts, rows.Err()
}

func (r *Repository) scanOne(ctx context.Context, q string, args ...any) (*Asset, error) {
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

func scan(row pgx.Row) (*Asset, error) {
	var a Asset
	if err := row.Scan(
		&a.ID, &a.Hostname, &a.IPAddress, &a.Vendor, &a.Product, &a.Version,
		&a.OSFamily, &a.OSVersion, &a.Owner, &a.Environment, &a.Criticality,
		&a.Tags, &a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("scan asset: %w", err)
	}
	return &a, nil
}
