// Package audit implements a hash-chained append-only audit log for every
// mutation the platform performs.
//
// The chain begins with a well-known genesis entry whose Hash equals
// GenesisHash (64 hex zeros). Every subsequent entry records the SHA-256 of
// its predecessor, making any tampering detectable via Verify.
//
// Two implementations of the Ledger interface are provided:
//   - MemoryLedger: in-process, for testing and development.
//   - PostgresLedger: durable, for production use.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// GenesisHash is the canonical well-known hash of the genesis entry.
// It serves as the trust anchor of the chain; all subsequent entry hashes
// chain from this constant rather than from a computed value.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// SystemActor is recorded for mutations performed by the platform itself
// (feed ingests, scheduled recomputes) rather than a signed-in user.
const SystemActor = "sentra-system"

// Entry is a single audit record.
type Entry struct {
	Index      int       `json:"index"`
	Timestamp  time.Time `json:"timestamp"`
	Actor      string    `json:"actor"`       // user email or SystemActor
	Action     string    `json:"action"`      // e.g. "threat.created", "asset.deleted", "genesis"
	EntityType string    `json:"entity_type"` // e.g. "threat", "asset", "pir"
	EntityID   string    `json:"entity_id"`
	DataHash   string    `json:"data_hash"` // SHA-256 of the mutation payload
	PrevHash   string    `json:"prev_hash"`
	Hash       string    `json:"hash"`
}

// Filter narrows List results. Zero values mean "no filter".
type Filter struct {
	Actor      string
	Action     string
	EntityType string
	From       time.Time
	To         time.Time
	Limit      int
	Offset     int
}

// Ledger is the interface for the append-only audit log.
type Ledger interface {
	// Append adds a new entry chained to the previous one.
	// payload is JSON-marshalled and its SHA-256 is stored as DataHash.
	Append(ctx context.Context, actor, action, entityType, entityID string, payload any) (*Entry, error)

	// List returns entries matching the filter, newest first, plus the
	// unpaginated total count.
	List(ctx context.Context, f Filter) ([]*Entry, int, error)

	// Len returns the total number of entries (including the genesis entry).
	Len(ctx context.Context) (int, error)

	// Verify walks the entire chain and checks hash consistency.
	// Returns nil if the chain is intact.
	Verify(ctx context.Context) error

	// Root returns the hash of the most recent entry (the chain tip).
	Root(ctx context.Context) (string, error)
}

// hashEntry computes a deterministic SHA-256 hash over an entry's fields.
// This function must never be called on the genesis entry (index 0).
func hashEntry(e *Entry) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%s|%s|%s|%s|%s|%s|%s",
		e.Index, e.Timestamp.Format(time.RFC3339Nano),
		e.Actor, e.Action, e.EntityType, e.EntityID, e.DataHash, e.PrevHash,
	)
	return hex.EncodeToString(h.Sum(nil))
}

// sha256Sum returns the hex-encoded SHA-256 digest of data.
func sha256Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// EntityTypeForAction derives the entity type from a dotted action name,
// so callers only pass "threat.created" and the like.
func EntityTypeForAction(action string) string {
	for i := 0; i < len(action); i++ {
		if action[i] == '.' {
			return action[:i]
		}
	}
	return action
}
