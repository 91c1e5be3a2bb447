package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// advisoryLockKey serialises concurrent appends to the audit chain.
const advisoryLockKey = 7_421_803

// PostgresLedger is a Ledger backed by PostgreSQL. Appends are serialised
// with an advisory transaction lock so the hash chain never forks under
// concurrent writers.
type PostgresLedger struct {
	pool *pgxpool.Pool
}

// NewPostgresLedger creates a PostgresLedger and seeds the genesis entry
// if the audit_log table is empty.
func NewPostgresLedger(ctx context.Context, pool *pgxpool.Pool) (*PostgresLedger, error) {
	l := &PostgresLedger{pool: pool}
	if err := l.ensureGenesis(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *PostgresLedger) ensureGenesis(ctx context.Context) error {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, advisoryLockKey); err != nil {
		return fmt.Errorf("acquire advisory lock: %w", err)
	}

	var count int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM audit_log`).Scan(&count); err != nil {
		return fmt.Errorf("count entries: %w", err)
	}
	if count > 0 {
		return tx.Commit(ctx)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO audit_log (idx, ts, actor, action, entity_type, entity_id, data_hash, prev_hash, hash)
		VALUES (0, $1, $2, 'genesis', '', '', $3, $3, $3)`,
		time.Now().UTC(), SystemActor, GenesisHash)
	if err != nil {
		return fmt.Errorf("insert genesis entry: %w", err)
	}
	return tx.Commit(ctx)
}

// Append implements Ledger.
func (l *PostgresLedger) Append(ctx context.Context, actor, action, entityType, entityID string, payload any) (*Entry, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, advisoryLockKey); err != nil {
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}

	var tailIdx int
	var tailHash string
	err = tx.QueryRow(ctx, `SELECT idx, hash FROM audit_log ORDER BY idx DESC LIMIT 1`).Scan(&tailIdx, &tailHash)
	if err != nil {
		return nil, fmt.Errorf("read chain tail: %w", err)
	}

	entry := &Entry{
		Index:      tailIdx + 1,
		Timestamp:  time.Now().UTC(),
		Actor:      actor,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		DataHash:   sha256Sum(payloadJSON),
		PrevHash:   tailHash,
	}
	entry.Hash = hashEntry(entry)

	_, err = tx.Exec(ctx, `
		INSERT INTO audit_log (idx, ts, actor, action, entity_type, entity_id, data_hash, prev_hash, hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.Index, entry.Timestamp, entry.Actor, entry.Action, entry.EntityType,
		entry.EntityID, entry.DataHash, entry.PrevHash, entry.Hash)
	if err != nil {
		return nil, fmt.Errorf("insert entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return entry, nil
}

// List implements Ledger.
func (l *PostgresLedger) List(ctx context.Context, f Filter) ([]*Entry, int, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}

	where := `
		WHERE ($1 = '' OR actor = $1)
		  AND ($2 = '' OR action = $2)
		  AND ($3 = '' OR entity_type = $3)
		  AND ($4::timestamptz IS NULL OR ts >= $4)
		  AND ($5::timestamptz IS NULL OR ts <= $5)`

	from := nullableTime(f.From)
	to := nullableTime(f.To)

	var total int
	err := l.pool.QueryRow(ctx, `SELECT COUNT(*) FROM audit_log`+where,
		f.Actor, f.Action, f.EntityType, from, to).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count entries: %w", err)
	}

	rows, err := l.pool.Query(ctx, `
		SELECT idx, ts, actor, action, entity_type, entity_id, data_hash, prev_hash, hash
		FROM audit_log`+where+`
		ORDER BY idx DESC
		LIMIT $6 OFFSET $7`,
		f.Actor, f.Action, f.EntityType, from, to, f.Limit, f.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e := &Entry{}
		if err := rows.Scan(&e.Index, &e.Timestamp, &e.Actor, &e.Action, &e.EntityType,
			&e.EntityID, &e.DataHash, &e.PrevHash, &e.Hash); err != nil {
			return nil, 0, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, total, rows.Err()
}

// Len implements Ledger.
func (l *PostgresLedger) Len(ctx context.Context) (int, error) {
	var count int
	if err := l.pool.QueryRow(ctx, `SELECT COUNT(*) FROM audit_log`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return count, nil
}

// Verify implements Ledger. The chain is streamed in index order so
// verification stays bounded in memory for large ledgers.
func (l *PostgresLedger) Verify(ctx context.Context) error {
	rows, err := l.pool.Query(ctx, `
		SELECT idx, ts, actor, action, entity_type, entity_id, data_hash, prev_hash, hash
		FROM audit_log ORDER BY idx ASC`)
	if err != nil {
		return fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var prevHash string
	var prevIdx int
	first := true
	for rows.Next() {
		e := &Entry{}
		if err := rows.Scan(&e.Index, &e.Timestamp, &e.Actor, &e.Action, &e.EntityType,
			&e.EntityID, &e.DataHash, &e.PrevHash, &e.Hash); err != nil {
			return fmt.Errorf("scan entry: %w", err)
		}
		if first {
			if e.Index != 0 || e.Hash != GenesisHash {
				return fmt.Errorf("genesis entry mismatch")
			}
			first = false
		} else {
			if e.Index != prevIdx+1 {
				return fmt.Errorf("entry %d: index gap after %d", e.Index, prevIdx)
			}
			if e.PrevHash != prevHash {
				return fmt.Errorf("entry %d: prev_hash does not match entry %d hash", e.Index, prevIdx)
			}
			if e.Hash != hashEntry(e) {
				return fmt.Errorf("entry %d: stored hash does not match computed hash", e.Index)
			}
		}
		prevIdx = e.Index
		prevHash = e.Hash
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if first {
		return fmt.Errorf("ledger is empty: missing genesis entry")
	}
	return nil
}

// Root implements Ledger.
func (l *PostgresLedger) Root(ctx context.Context) (string, error) {
	var hash string
	err := l.pool.QueryRow(ctx, `SELECT hash FROM audit_log ORDER BY idx DESC LIMIT 1`).Scan(&hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("ledger is empty")
	}
	if err != nil {
		return "", fmt.Errorf("read chain tail: %w", err)
	}
	return hash, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
