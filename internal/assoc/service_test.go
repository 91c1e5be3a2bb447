package assoc

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/sentra-ti/sentra/internal/asset"
	"github.com/sentra-ti/sentra/internal/match"
	"github.com/sentra-ti/sentra/internal/pir"
	"github.com/sentra-ti/sentra/internal/risk"
	"github.com/sentra-ti/sentra/internal/threat"
	"go.uber.org/zap"
)

type stubStore struct {
	assocs      map[uuid.UUID][]*Association
	assessments map[uuid.UUID]*ThreatAssessment
}

func newStubStore() *stubStore {
	return &stubStore{
		assocs:      make(map[uuid.UUID][]*Association),
		assessments: make(map[uuid.UUID]*ThreatAssessment),
	}
}

func (s *stubStore) ReplaceForThreat(_ context.Context, threatID uuid.UUID, assocs []*Association) error {
	s.assocs[threatID] = assocs
	return nil
}

func (s *stubStore) ListByThreat(_ context.Context, threatID uuid.UUID) ([]*Association, error) {
	return s.assocs[threatID], nil
}

func (s *stubStore) ListByAsset(_ context.Context, assetID uuid.UUID) ([]*Association, error) {
	var out []*Association
	for _, as := range s.assocs {
		for _, a := range as {
			if a.AssetID == assetID {
				out = append(out, a)
			}
		}
	}
	return out, nil
}

func (s *stubStore) Count(_ context.Context) (int, error) {
	n := 0
	for _, as := range s.assocs {
		n += len(as)
	}
	return n, nil
}

func (s *stubStore) UpsertAssessment(_ context.Context, a *ThreatAssessment) error {
	s.assessments[a.ThreatID] = a
	return nil
}

func (s *stubStore) GetAssessment(_ context.Context, threatID uuid.UUID) (*ThreatAssessment, error) {
	a, ok := s.assessments[threatID]
	if !ok {
		return nil, ErrNotFound
	}
	return a, nil
}

func (s *stubStore) TopByScore(_ context.Context, n int) ([]*ThreatAssessment, error) {
	var out []*ThreatAssessment
	for _, a := range s.assessments {
		out = append(out, a)
	}
	if len(out) > n {
		out = out[:n]
	}
	return out, nil
}

type stubAssets struct {
	items []*asset.Asset
}

func (s *stubAssets) ListAll(_ context.Context) ([]*asset.Asset, error) { return s.items, nil }

func (s *stubAssets) GetByID(_ context.Context, id uuid.UUID) (*asset.Asset, error) {
	for _, a := range s.items {
		if a.ID == id {
			return a, nil
		}
	}
	return nil, asset.ErrNotFound
}

type stubThreats struct {
	items []*threat.Threat
}

func (s *stubThreats) ListAll(_ context.Context) ([]*threat.Threat, error) { return s.items, nil }

func (s *stubThreats) GetByID(_ context.Context, id uuid.UUID) (*threat.Threat, error) {
	for _, t := range s.items {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, threat.ErrNotFound
}

type stubPIRs struct {
	eval *pir.Evaluation
}

func (s *stubPIRs) Evaluate(_ context.Context, _ *threat.Threat) (*pir.Evaluation, error) {
	if s.eval != nil {
		return s.eval, nil
	}
	return &pir.Evaluation{}, nil
}

type capturedEvent struct {
	eventType string
	level     risk.Level
	payload   map[string]string
}

func testThreat() *threat.Threat {
	return &threat.Threat{
		ID:        uuid.New(),
		CVEID:     "CVE-2024-1111",
		CVSSScore: 9.8,
		KEV:       false,
		Affected: []threat.AffectedProduct{
			{Vendor: "apache", Product: "http_server", VersionStartIncluding: "2.4.0", VersionEndExcluding: "2.4.60"},
		},
	}
}

func testAsset(host, product, version string, crit int) *asset.Asset {
	return &asset.Asset{
		ID:          uuid.New(),
		Hostname:    host,
		Vendor:      "apache",
		Product:     product,
		Version:     version,
		Criticality: crit,
	}
}

func newTestService(store Store, assets AssetSource, threats ThreatSource, pirs PIREvaluator) *Service {
	return NewService(store, assets, threats, pirs, risk.NewEngine(), zap.NewNop())
}

func TestRecomputeThreatCreatesAssociations(t *testing.T) {
	store := newStubStore()
	th := testThreat()
	assets := &stubAssets{items: []*asset.Asset{
		testAsset("web-01", "http server", "2.4.50", 4),
		testAsset("db-01", "postgresql", "15.2", 5),
	}}
	svc := newTestService(store, assets, &stubThreats{items: []*threat.Threat{th}}, &stubPIRs{})

	assessment, err := svc.RecomputeThreat(context.Background(), th)
	if err != nil {
		t.Fatalf("RecomputeThreat: %v", err)
	}

	assocs := store.assocs[th.ID]
	if len(assocs) != 1 {
		t.Fatalf("expected 1 association, got %d", len(assocs))
	}
	if assocs[0].MatchType != match.ExactProductRange {
		t.Errorf("expected %s match, got %s", match.ExactProductRange, assocs[0].MatchType)
	}
	if assessment.AffectedAssets != 1 {
		t.Errorf("expected 1 affected asset, got %d", assessment.AffectedAssets)
	}
	if assessment.MaxCriticality != 4 {
		t.Errorf("expected max criticality 4, got %d", assessment.MaxCriticality)
	}
	if assessment.Score <= 0 {
		t.Errorf("expected positive score, got %.1f", assessment.Score)
	}
}

func TestRecomputeThreatReplacesStaleAssociations(t *testing.T) {
	store := newStubStore()
	th := testThreat()
	a := testAsset("web-01", "http server", "2.4.50", 3)
	assets := &stubAssets{items: []*asset.Asset{a}}
	svc := newTestService(store, assets, &stubThreats{items: []*threat.Threat{th}}, &stubPIRs{})

	if _, err := svc.RecomputeThreat(context.Background(), th); err != nil {
		t.Fatalf("RecomputeThreat: %v", err)
	}
	if len(store.assocs[th.ID]) != 1 {
		t.Fatalf("expected 1 association, got %d", len(store.assocs[th.ID]))
	}

	// Patch the asset out of the vulnerable range and rerun.
	a.Version = "2.4.60"
	if _, err := svc.RecomputeThreat(context.Background(), th); err != nil {
		t.Fatalf("RecomputeThreat after patch: %v", err)
	}
	if len(store.assocs[th.ID]) != 0 {
		t.Fatalf("expected associations cleared after patch, got %d", len(store.assocs[th.ID]))
	}

	assessment := store.assessments[th.ID]
	if assessment.AffectedAssets != 0 {
		t.Errorf("expected 0 affected assets after patch, got %d", assessment.AffectedAssets)
	}
}

func TestRecomputeThreatEmitsHighAssessmentEvent(t *testing.T) {
	store := newStubStore()
	th := testThreat()
	assets := &stubAssets{items: []*asset.Asset{testAsset("web-01", "http server", "2.4.50", 5)}}
	svc := newTestService(store, assets, &stubThreats{items: []*threat.Threat{th}}, &stubPIRs{})

	var events []capturedEvent
	svc.SetEventFunc(func(_ context.Context, eventType string, level risk.Level, payload map[string]string) {
		events = append(events, capturedEvent{eventType: eventType, level: level, payload: payload})
	})

	if _, err := svc.RecomputeThreat(context.Background(), th); err != nil {
		t.Fatalf("RecomputeThreat: %v", err)
	}

	var found bool
	for _, e := range events {
		if e.eventType == EventAssessmentHigh {
			found = true
			if e.payload["cve_id"] != th.CVEID {
				t.Errorf("event payload cve_id = %q, want %q", e.payload["cve_id"], th.CVEID)
			}
		}
	}
	if !found {
		t.Fatal("expected assessment.high event for high-scoring threat")
	}

	// A second run with no changes must not re-emit.
	events = nil
	if _, err := svc.RecomputeThreat(context.Background(), th); err != nil {
		t.Fatalf("RecomputeThreat: %v", err)
	}
	for _, e := range events {
		if e.eventType == EventAssessmentHigh {
			t.Fatal("assessment.high should only fire when the threat is first scored")
		}
	}
}

func TestRecomputeThreatEmitsLevelChange(t *testing.T) {
	store := newStubStore()
	th := testThreat()
	a := testAsset("web-01", "http server", "2.4.50", 5)
	assets := &stubAssets{items: []*asset.Asset{a}}
	svc := newTestService(store, assets, &stubThreats{items: []*threat.Threat{th}}, &stubPIRs{})

	var events []capturedEvent
	svc.SetEventFunc(func(_ context.Context, eventType string, level risk.Level, payload map[string]string) {
		events = append(events, capturedEvent{eventType: eventType, level: level, payload: payload})
	})

	if _, err := svc.RecomputeThreat(context.Background(), th); err != nil {
		t.Fatalf("RecomputeThreat: %v", err)
	}

	// Drop the asset out of the inventory so the level falls.
	assets.items = nil
	events = nil
	if _, err := svc.RecomputeThreat(context.Background(), th); err != nil {
		t.Fatalf("RecomputeThreat: %v", err)
	}

	var change *capturedEvent
	for i := range events {
		if events[i].eventType == EventRiskLevelChanged {
			change = &events[i]
		}
	}
	if change == nil {
		t.Fatal("expected risk.level_changed event")
	}
	if change.payload["previous_level"] == "" {
		t.Error("level change event should carry the previous level")
	}
}

func TestRecomputeThreatRecordsPIRMatches(t *testing.T) {
	store := newStubStore()
	th := testThreat()
	rule := &pir.Rule{ID: uuid.New(), Name: "Apache exposure", Priority: 4}
	pirs := &stubPIRs{eval: &pir.Evaluation{Matched: []*pir.Rule{rule}, TopPriority: 4}}
	assets := &stubAssets{items: []*asset.Asset{testAsset("web-01", "http server", "2.4.50", 3)}}
	svc := newTestService(store, assets, &stubThreats{items: []*threat.Threat{th}}, pirs)

	var events []capturedEvent
	svc.SetEventFunc(func(_ context.Context, eventType string, level risk.Level, payload map[string]string) {
		events = append(events, capturedEvent{eventType: eventType, level: level, payload: payload})
	})

	assessment, err := svc.RecomputeThreat(context.Background(), th)
	if err != nil {
		t.Fatalf("RecomputeThreat: %v", err)
	}
	if assessment.PIRPriority != 4 {
		t.Errorf("expected PIR priority 4, got %d", assessment.PIRPriority)
	}
	if len(assessment.MatchedPIRs) != 1 || assessment.MatchedPIRs[0] != rule.ID {
		t.Errorf("expected matched PIR %s recorded", rule.ID)
	}

	var found bool
	for _, e := range events {
		if e.eventType == EventPIRMatched && e.payload["pir_name"] == rule.Name {
			found = true
		}
	}
	if !found {
		t.Fatal("expected pir.matched event")
	}
}

func TestRecomputeAllContinuesPastFailures(t *testing.T) {
	store := newStubStore()
	t1 := testThreat()
	t2 := testThreat()
	t2.CVEID = "CVE-2024-2222"
	assets := &stubAssets{items: []*asset.Asset{testAsset("web-01", "http server", "2.4.50", 3)}}
	svc := newTestService(store, assets, &stubThreats{items: []*threat.Threat{t1, t2}}, &stubPIRs{})

	done, err := svc.RecomputeAll(context.Background())
	if err != nil {
		t.Fatalf("RecomputeAll: %v", err)
	}
	if done != 2 {
		t.Fatalf("expected 2 threats recomputed, got %d", done)
	}
	if len(store.assessments) != 2 {
		t.Fatalf("expected 2 assessments, got %d", len(store.assessments))
	}
}

func TestRecomputeAllStopsOnCancel(t *testing.T) {
	store := newStubStore()
	svc := newTestService(store, &stubAssets{}, &stubThreats{items: []*threat.Threat{testThreat()}}, &stubPIRs{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := svc.RecomputeAll(ctx); err == nil {
		t.Fatal("expected context error")
	}
}
