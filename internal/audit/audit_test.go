package audit

import (
	"context"
	"testing"
	"time"
)

func TestMemoryLedgerGenesis(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()

	n, err := l.Len(ctx)
	if err != nil {
		t.Fatalf("Len: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 entry after init, got %d", n)
	}

	root, err := l.Root(ctx)
	if err != nil {
		t.Fatalf("Root: %v", err)
	}
	if root != GenesisHash {
		t.Fatalf("expected genesis root %s, got %s", GenesisHash, root)
	}

	if err := l.Verify(ctx); err != nil {
		t.Fatalf("Verify on fresh ledger: %v", err)
	}
}

func TestMemoryLedgerAppendChains(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()

	e1, err := l.Append(ctx, "alice", "asset.created", "asset", "a-1", map[string]string{"hostname": "web-01"})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if e1.Index != 1 {
		t.Errorf("expected index 1, got %d", e1.Index)
	}
	if e1.PrevHash != GenesisHash {
		t.Errorf("first entry should chain to genesis, got prev %s", e1.PrevHash)
	}

	e2, err := l.Append(ctx, "bob", "threat.status_changed", "threat", "t-1", map[string]string{"from": "new", "to": "triaged"})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if e2.PrevHash != e1.Hash {
		t.Errorf("second entry should chain to first, got prev %s want %s", e2.PrevHash, e1.Hash)
	}

	if err := l.Verify(ctx); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	root, err := l.Root(ctx)
	if err != nil {
		t.Fatalf("Root: %v", err)
	}
	if root != e2.Hash {
		t.Errorf("root should be the last entry hash")
	}
}

func TestMemoryLedgerVerifyDetectsTampering(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := l.Append(ctx, "alice", "asset.updated", "asset", "a-1", map[string]int{"rev": i}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := l.Verify(ctx); err != nil {
		t.Fatalf("Verify before tampering: %v", err)
	}

	l.entries[3].Actor = "mallory"
	if err := l.Verify(ctx); err == nil {
		t.Fatal("Verify should fail after mutating an entry")
	}
}

func TestMemoryLedgerVerifyDetectsBrokenChain(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := l.Append(ctx, "alice", "pir.created", "pir", "p-1", nil); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	l.entries[2].PrevHash = GenesisHash
	if err := l.Verify(ctx); err == nil {
		t.Fatal("Verify should fail when prev_hash is rewritten")
	}
}

func TestMemoryLedgerListFilters(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()

	if _, err := l.Append(ctx, "alice", "asset.created", "asset", "a-1", nil); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := l.Append(ctx, "bob", "threat.created", "threat", "t-1", nil); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := l.Append(ctx, "alice", "asset.deleted", "asset", "a-1", nil); err != nil {
		t.Fatalf("Append: %v", err)
	}

	entries, total, err := l.List(ctx, Filter{Actor: "alice"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 2 || len(entries) != 2 {
		t.Fatalf("expected 2 alice entries, got total=%d len=%d", total, len(entries))
	}
	// newest first
	if entries[0].Action != "asset.deleted" {
		t.Errorf("expected newest entry first, got %s", entries[0].Action)
	}

	entries, total, err = l.List(ctx, Filter{EntityType: "threat"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 1 || entries[0].EntityID != "t-1" {
		t.Fatalf("expected single threat entry, got total=%d", total)
	}

	_, total, err = l.List(ctx, Filter{To: time.Now().Add(-time.Hour)})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 0 {
		t.Fatalf("expected no entries before one hour ago, got %d", total)
	}
}

func TestMemoryLedgerListPagination(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if _, err := l.Append(ctx, "alice", "asset.updated", "asset", "a-1", nil); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	entries, total, err := l.List(ctx, Filter{Action: "asset.updated", Limit: 3, Offset: 8})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 10 {
		t.Errorf("expected total 10, got %d", total)
	}
	if len(entries) != 2 {
		t.Errorf("expected 2 entries on last page, got %d", len(entries))
	}
}

func TestEntityTypeForAction(t *testing.T) {
	cases := []struct {
		action string
		want   string
	}{
		{"asset.created", "asset"},
		{"threat.status_changed", "threat"},
		{"genesis", "genesis"},
	}
	for _, c := range cases {
		if got := EntityTypeForAction(c.action); got != c.want {
			t.Errorf("EntityTypeForAction(%q) = %q, want %q", c.action, got, c.want)
		}
	}
}
