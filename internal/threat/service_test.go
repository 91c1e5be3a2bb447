package threat

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sentra-ti/sentra/internal/risk"
	"go.uber.org/zap"
)

type stubStore struct {
	byID map[uuid.UUID]*Threat
}

func newStubStore() *stubStore {
	return &stubStore{byID: make(map[uuid.UUID]*Threat)}
}

func (s *stubStore) Create(_ context.Context, t *Threat) error {
	t.ID = uuid.New()
	s.byID[t.ID] = t
	return nil
}

func (s *stubStore) GetByID(_ context.Context, id uuid.UUID) (*Threat, error) {
	t, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return t, nil
}

func (s *stubStore) GetByCVE(_ context.Context, cveID string) (*Threat, error) {
	for _, t := range s.byID {
		if t.CVEID == cveID {
			return t, nil
		}
	}
	return nil, ErrNotFound
}

func (s *stubStore) List(_ context.Context, _ ListFilter) ([]*Threat, int, error) {
	var out []*Threat
	for _, t := range s.byID {
		out = append(out, t)
	}
	return out, len(out), nil
}

func (s *stubStore) Update(_ context.Context, t *Threat) error {
	if _, ok := s.byID[t.ID]; !ok {
		return ErrNotFound
	}
	s.byID[t.ID] = t
	return nil
}

func (s *stubStore) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := s.byID[id]; !ok {
		return ErrNotFound
	}
	delete(s.byID, id)
	return nil
}

type capturedEvent struct {
	eventType string
	level     risk.Level
	payload   map[string]string
}

func captureEvents(svc *Service) *[]capturedEvent {
	var events []capturedEvent
	svc.SetEventFunc(func(_ context.Context, eventType string, level risk.Level, payload map[string]string) {
		events = append(events, capturedEvent{eventType, level, payload})
	})
	return &events
}

func TestCreateEmitsEvent(t *testing.T) {
	svc := NewService(newStubStore(), zap.NewNop())
	events := captureEvents(svc)

	th, err := svc.Create(context.Background(), "analyst", &CreateRequest{
		CVEID:     "CVE-2024-1234",
		Title:     "test vuln",
		CVSSScore: 9.8,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if len(*events) != 1 {
		t.Fatalf("events = %d, want 1", len(*events))
	}
	e := (*events)[0]
	if e.eventType != EventCreated {
		t.Errorf("eventType = %q, want %q", e.eventType, EventCreated)
	}
	if e.level != risk.LevelCritical {
		t.Errorf("level = %s, want critical for CVSS 9.8", e.level)
	}
	if e.payload["cve_id"] != th.CVEID {
		t.Errorf("payload cve_id = %q, want %q", e.payload["cve_id"], th.CVEID)
	}
}

func TestCreateEventLevelTracksSeverity(t *testing.T) {
	tests := []struct {
		score float64
		want  risk.Level
	}{
		{9.8, risk.LevelCritical},
		{7.5, risk.LevelHigh},
		{5.0, risk.LevelMedium},
		{2.0, risk.LevelLow},
	}

	for i, tt := range tests {
		svc := NewService(newStubStore(), zap.NewNop())
		events := captureEvents(svc)

		_, err := svc.Create(context.Background(), "analyst", &CreateRequest{
			CVEID:     "CVE-2024-100" + string(rune('0'+i)),
			Title:     "test vuln",
			CVSSScore: tt.score,
		})
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if got := (*events)[0].level; got != tt.want {
			t.Errorf("CVSS %.1f: level = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestMarkKEVEmitsEventOnce(t *testing.T) {
	svc := NewService(newStubStore(), zap.NewNop())
	th, err := svc.Create(context.Background(), "analyst", &CreateRequest{
		CVEID:     "CVE-2021-44228",
		Title:     "Log4Shell",
		CVSSScore: 10,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	events := captureEvents(svc)
	added := time.Date(2021, 12, 10, 0, 0, 0, 0, time.UTC)

	flagged, err := svc.MarkKEV(context.Background(), "feed-ingest", th.ID, added, true)
	if err != nil {
		t.Fatalf("MarkKEV: %v", err)
	}
	if !flagged {
		t.Fatal("expected first MarkKEV to flag")
	}

	if len(*events) != 1 {
		t.Fatalf("events = %d, want 1", len(*events))
	}
	e := (*events)[0]
	if e.eventType != EventKEVAdded {
		t.Errorf("eventType = %q, want %q", e.eventType, EventKEVAdded)
	}
	if e.level != risk.LevelCritical {
		t.Errorf("level = %s, want critical for ransomware KEV", e.level)
	}
	if e.payload["ransomware"] != "true" {
		t.Errorf("payload ransomware = %q, want true", e.payload["ransomware"])
	}

	// Re-flagging an already flagged threat stays silent.
	if _, err := svc.MarkKEV(context.Background(), "feed-ingest", th.ID, added, true); err != nil {
		t.Fatalf("MarkKEV again: %v", err)
	}
	if len(*events) != 1 {
		t.Errorf("events after re-flag = %d, want 1", len(*events))
	}
}

func TestMarkKEVNonRansomwareIsHigh(t *testing.T) {
	svc := NewService(newStubStore(), zap.NewNop())
	th, err := svc.Create(context.Background(), "analyst", &CreateRequest{
		CVEID:     "CVE-2021-41773",
		Title:     "Apache Path Traversal",
		CVSSScore: 7.5,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	events := captureEvents(svc)
	if _, err := svc.MarkKEV(context.Background(), "feed-ingest", th.ID, time.Now(), false); err != nil {
		t.Fatalf("MarkKEV: %v", err)
	}
	if got := (*events)[0].level; got != risk.LevelHigh {
		t.Errorf("level = %s, want high", got)
	}
}
