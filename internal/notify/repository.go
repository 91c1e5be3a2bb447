package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a notification rule is not found.
var ErrNotFound = errors.New("notification rule not found")

const ruleColumns = `id, name, channel, target, events, min_level, secret, active, created_at, updated_at`

// Repository provides persistence for notification rules and deliveries.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new notification Repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Create inserts a new notification rule.
func (r *Repository) Create(ctx context.Context, rule *Rule) error {
	rule.ID = uuid.New()
	now := time.Now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	q := `
		INSERT INTO notification_rules (` + ruleColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := r.db.Exec(ctx, q,
		rule.ID, rule.Name, rule.Channel, rule.Target, rule.Events,
		rule.MinLevel, rule.Secret, rule.Active, rule.CreatedAt, rule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create notification rule: %w", err)
	}
	return nil
}

// GetByID retrieves a rule by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*Rule, error) {
	q := `SELECT ` + ruleColumns + ` FROM notification_rules WHERE id = $1`
	return r.scanOne(r.db.QueryRow(ctx, q, id))
}

// List returns all rules ordered by name.
func (r *Repository) List(ctx context.Context) ([]*Rule, error) {
	q := `SELECT ` + ruleColumns + ` FROM notification_rules ORDER BY name`
	rows, err := r.db.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list notification rules: %w", err)
	}
	defer rows.Close()
	return r.scan(rows)
}

// ListByEvent returns all active rules listening for a given event type.
func (r *Repository) ListByEvent(ctx context.Context, eventType string) ([]*Rule, error) {
	q := `
		SELECT ` + ruleColumns + `
		FROM notification_rules
		WHERE active AND $1 = ANY(events)
		ORDER BY created_at`
	rows, err := r.db.Query(ctx, q, eventType)
	if err != nil {
		return nil, fmt.Errorf("list rules by event: %w", err)
	}
	defer rows.Close()
	return r.scan(rows)
}

// Update persists all mutable fields of a rule.
func (r *Repository) Update(ctx context.Context, rule *Rule) error {
	rule.UpdatedAt = time.Now().UTC()
	q := `
		UPDATE notification_rules
		SET name = $2, target = $3, events = $4, min_level = $5,
		    active = $6, updated_at = $7
		WHERE id = $1`
	tag, err := r.db.Exec(ctx, q,
		rule.ID, rule.Name, rule.Target, rule.Events, rule.MinLevel,
		rule.Active, rule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update notification rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a rule and its delivery history.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM notification_rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete notification rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordDelivery records a delivery attempt.
func (r *Repository) RecordDelivery(ctx context.Context, d *Delivery) error {
	d.ID = uuid.New()
	d.DeliveredAt = time.Now().UTC()

	q := `
		INSERT INTO notification_deliveries
			(id, rule_id, event_type, channel, status_code, attempt, success, error_message, delivered_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.db.Exec(ctx, q,
		d.ID, d.RuleID, d.EventType, d.Channel,
		d.StatusCode, d.Attempt, d.Success, d.ErrorMessage, d.DeliveredAt,
	)
	if err != nil {
		return fmt.Errorf("record delivery: %w", err)
	}
	return nil
}

// ListDeliveries returns a rule's most recent delivery attempts, newest first.
func (r *Repository) ListDeliveries(ctx context.Context, ruleID uuid.UUID, limit int) ([]*Delivery, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `
		SELECT id, rule_id, event_type, channel, status_code, attempt, success, error_message, delivered_at
		FROM notification_deliveries
		WHERE rule_id = $1
		ORDER BY delivered_at DESC
		LIMIT $2`
	rows, err := r.db.Query(ctx, q, ruleID, limit)
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	defer rows.Close()

	var deliveries []*Delivery
	for rows.Next() {
		d := &Delivery{}
		if err := rows.Scan(
			&d.ID, &d.RuleID, &d.EventType, &d.Channel, &d.StatusCode,
			&d.Attempt, &d.Success, &d.ErrorMessage, &d.DeliveredAt,
		); err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		deliveries = append(deliveries, d)
	}
	return deliveries, rows.Err()
}

func (r *Repository) scanOne(row pgx.Row) (*Rule, error) {
	rule := &Rule{}
	err := row.Scan(
		&rule.ID, &rule.Name, &rule.Channel, &rule.Target, &rule.Events,
		&rule.MinLevel, &rule.Secret, &rule.Active, &rule.CreatedAt, &rule.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan notification rule: %w", err)
	}
	return rule, nil
}

func (r *Repository) scan(rows pgx.Rows) ([]*Rule, error) {
	var rules []*Rule
	for rows.Next() {
		rule := &Rule{}
		if err := rows.Scan(
			&rule.ID, &rule.Name, &rule.Channel, &rule.Target, &rule.Events,
			&rule.MinLevel, &rule.Secret, &rule.Active, &rule.CreatedAt, &rule.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan notification rule: %w", err)
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}
