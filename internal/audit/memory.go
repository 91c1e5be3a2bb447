package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// MemoryLedger is an in-memory, thread-safe Ledger implementation.
// It is primarily useful for testing and for single-process deployments
// that do not require durable persistence across restarts.
type MemoryLedger struct {
	mu      sync.RWMutex
	entries []*Entry
}

// NewMemoryLedger creates a MemoryLedger initialised with the canonical
// genesis entry. The genesis entry is at index 0 and its hash is GenesisHash.
func NewMemoryLedger() *MemoryLedger {
	l := &MemoryLedger{}
	genesis := &Entry{
		Index:     0,
		Timestamp: time.Now().UTC(),
		Action:    "genesis",
		Actor:     SystemActor,
		DataHash:  GenesisHash,
		PrevHash:  GenesisHash,
		Hash:      GenesisHash, // genesis hash is the well-known constant, not computed
	}
	l.entries = append(l.entries, genesis)
	return l
}

// Append implements Ledger.
func (l *MemoryLedger) Append(_ context.Context, actor, action, entityType, entityID string, payload any) (*Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	dataHash := sha256Sum(payloadJSON)
	prev := l.entries[len(l.entries)-1]

	entry := &Entry{
		Index:      len(l.entries),
		Timestamp:  time.Now().UTC(),
		Actor:      actor,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		DataHash:   dataHash,
		PrevHash:   prev.Hash,
	}
	entry.Hash = hashEntry(entry)
	l.entries = append(l.entries, entry)
	return entry, nil
}

// List implements Ledger.
func (l *MemoryLedger) List(_ context.Context, f Filter) ([]*Entry, int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if f.Limit <= 0 {
		f.Limit = 50
	}

	var matched []*Entry
	for i := len(l.entries) - 1; i >= 0; i-- {
		e := l.entries[i]
		if !entryMatches(e, f) {
			continue
		}
		matched = append(matched, e)
	}

	total := len(matched)
	if f.Offset >= total {
		return nil, total, nil
	}
	matched = matched[f.Offset:]
	if len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	return matched, total, nil
}

// Len implements Ledger.
func (l *MemoryLedger) Len(_ context.Context) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries), nil
}

// Verify implements Ledger. It walks the chain and checks that all hashes
// are consistent, starting from the genesis entry.
func (l *MemoryLedger) Verify(_ context.Context) error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if len(l.entries) == 0 {
		return fmt.Errorf("ledger is empty: missing genesis entry")
	}
	if l.entries[0].Hash != GenesisHash {
		return fmt.Errorf("genesis entry hash mismatch")
	}

	for i := 1; i < len(l.entries); i++ {
		e := l.entries[i]
		if e.PrevHash != l.entries[i-1].Hash {
			return fmt.Errorf("entry %d: prev_hash does not match entry %d hash", i, i-1)
		}
		if e.Hash != hashEntry(e) {
			return fmt.Errorf("entry %d: stored hash does not match computed hash", i)
		}
	}
	return nil
}

// Root implements Ledger.
func (l *MemoryLedger) Root(_ context.Context) (string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.entries[len(l.entries)-1].Hash, nil
}

func entryMatches(e *Entry, f Filter) bool {
	if f.Actor != "" && e.Actor != f.Actor {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.EntityType != "" && e.EntityType != f.EntityType {
		return false
	}
	if !f.From.IsZero() && e.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.Timestamp.After(f.To) {
		return false
	}
	return true
}
