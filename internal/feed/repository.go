package feed

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

// ErrNotFound is returned when a feed lookup finds no matching record.
var ErrNotFound = errors.New("feed not found")

// ErrDuplicateName is returned when an insert collides with an existing feed name.
var ErrDuplicateName = errors.New("feed name already registered")

const feedColumns = `id, name, kind, url, enabled, interval_minutes,
	cursor, last_run_at, created_at, updated_at`

const runColumns = `id, feed_id, status, started_at, finished_at,
	items_fetched, items_created, items_updated, error`

// Repository provides CRUD operations for feeds and their run history
// against PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new feed Repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Create inserts a new feed. Sets ID, CreatedAt, UpdatedAt on the record.
func (r *Repository) Create(ctx context.Context, f *Feed) error {
	f.ID = uuid.New()
	now := time.Now().UTC()
	f.CreatedAt = now
	f.UpdatedAt = now

	q := `
		INSERT INTO feeds (` + feedColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := r.db.Exec(ctx, q,
		f.ID, f.Name, f.Kind, f.URL, f.Enabled, f.IntervalMinutes,
		f.Cursor, f.LastRunAt, f.CreatedAt, f.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateName
		}
		return fmt.Errorf("create feed: %w", err)
	}
	return nil
}

// GetByID retrieves a feed by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*Feed, error) {
	q := `SELECT ` + feedColumns + ` FROM feeds WHERE id = $1`
	return r.scanOne(r.db.QueryRow(ctx, q, id))
}

// List returns all feeds ordered by name.
func (r *Repository) List(ctx context.Context) ([]*Feed, error) {
	q := `SELECT ` + feedColumns + ` FROM feeds ORDER BY name`
	rows, err := r.db.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list feeds: %w", err)
	}
	defer rows.Close()
	return r.scan(rows)
}

// ListEnabled returns all enabled feeds ordered by name.
func (r *Repository) ListEnabled(ctx context.Context) ([]*Feed, error) {
	q := `SELECT ` + feedColumns + ` FROM feeds WHERE enabled ORDER BY name`
	rows, err := r.db.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list enabled feeds: %w", err)
	}
	defer rows.Close()
	return r.scan(rows)
}

// Update persists all mutable fields of a feed.
func (r *Repository) Update(ctx context.Context, f *Feed) error {
	f.UpdatedAt = time.Now().UTC()
	q := `
		UPDATE feeds
		SET name = $2, url = $3, enabled = $4, interval_minutes = $5,
		    cursor = $6, last_run_at = $7, updated_at = $8
		WHERE id = $1`
	tag, err := r.db.Exec(ctx, q,
		f.ID, f.Name, f.URL, f.Enabled, f.IntervalMinutes,
		f.Cursor, f.LastRunAt, f.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update feed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a feed and its run history.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM feeds WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete feed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateRun inserts a new run record. Sets ID and StartedAt on the record.
func (r *Repository) CreateRun(ctx context.Context, run *Run) error {
	run.ID = uuid.New()
	run.StartedAt = time.Now().UTC()
	if run.Status == "" {
		run.Status = RunStatusRunning
	}

	q := `
		INSERT INTO feed_runs (` + runColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.db.Exec(ctx, q,
		run.ID, run.FeedID, run.Status, run.StartedAt, run.FinishedAt,
		run.ItemsFetched, run.ItemsCreated, run.ItemsUpdated, run.Error,
	)
	if err != nil {
		return fmt.Errorf("create feed run: %w", err)
	}
	return nil
}

// UpdateRun persists the outcome fields of a run.
func (r *Repository) UpdateRun(ctx context.Context, run *Run) error {
	q := `
		UPDATE feed_runs
		SET status = $2, finished_at = $3, items_fetched = $4,
		    items_created = $5, items_updated = $6, error = $7
		WHERE id = $1`
	tag, err := r.db.Exec(ctx, q,
		run.ID, run.Status, run.FinishedAt,
		run.ItemsFetched, run.ItemsCreated, run.ItemsUpdated, run.Error,
	)
	if err != nil {
		return fmt.Errorf("update feed run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update feed run: %w", ErrNotFound)
	}
	return nil
}

// ListRuns returns a feed's most recent runs, newest first.
func (r *Repository) ListRuns(ctx context.Context, feedID uuid.UUID, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 20
	}
	q := `
		SELECT ` + runColumns + `
		FROM feed_runs
		WHERE feed_id = $1
		ORDER BY started_at DESC
		LIMIT $2`
	rows, err := r.db.Query(ctx, q, feedID, limit)
	if err != nil {
		return nil, fmt.Errorf("list feed runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run := &Run{}
		if err := rows.Scan(
			&run.ID, &run.FeedID, &run.Status, &run.StartedAt, &run.FinishedAt,
			&run.ItemsFetched, &run.ItemsCreated, &run.ItemsUpdated, &run.Error,
		); err != nil {
			return nil, fmt.Errorf("scan feed run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (r *Repository) scanOne(row pgx.Row) (*Feed, error) {
	f := &Feed{}
	err := row.Scan(
		&f.ID, &f.Name, &f.Kind, &f.URL, &f.Enabled, &f.IntervalMinutes,
		&f.Cursor, &f.LastRunAt, &f.CreatedAt, &f.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan feed: %w", err)
	}
	return f, nil
}

func (r *Repository) scan(rows pgx.Rows) ([]*Feed, error) {
	var feeds []*Feed
	for rows.Next() {
		f := &Feed{}
		if err := rows.Scan(
			&f.ID, &f.Name, &f.Kind, &f.URL, &f.Enabled, &f.IntervalMinutes,
			&f.Cursor, &f.LastRunAt, &f.CreatedAt, &f.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan feed: %w", err)
		}
		feeds = append(feeds, f)
	}
	return feeds, rows.Err()
}
