package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sentra-ti/sentra/internal/api"
	"github.com/sentra-ti/sentra/internal/asset"
	"github.com/sentra-ti/sentra/internal/assoc"
	"github.com/sentra-ti/sentra/internal/audit"
	"github.com/sentra-ti/sentra/internal/pir"
	"github.com/sentra-ti/sentra/internal/risk"
	"github.com/sentra-ti/sentra/internal/threat"
	"github.com/sentra-ti/sentra/internal/users"
	"go.uber.org/zap"
)

type dashEnv struct {
	router  *gin.Engine
	assets  *memAssetStore
	threats *memThreatStore
	assocs  *memAssocStore
	viewer  string
}

func setupDashEnv(t *testing.T) *dashEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	issuer := testIssuer()
	assets := newMemAssetStore()
	threats := newMemThreatStore()
	assocStore := newMemAssocStore()
	feeds := newMemFeedStore()
	ledger := audit.NewMemoryLedger()

	pirSvc := pir.NewService(newMemPIRStore(), zap.NewNop())
	assocSvc := assoc.NewService(assocStore, assets, threats, pirSvc, risk.NewEngine(), zap.NewNop())

	h := api.NewDashboardHandler(assets, threats, assocStore, feeds, ledger, assocSvc, zap.NewNop())

	r := gin.New()
	v1 := r.Group("/api/v1", api.RequireAuth(issuer))
	h.Register(v1)

	return &dashEnv{
		router:  r,
		assets:  assets,
		threats: threats,
		assocs:  assocStore,
		viewer:  issueToken(t, issuer, users.RoleViewer),
	}
}

func TestDashboardSummary_aggregates(t *testing.T) {
	env := setupDashEnv(t)
	ctx := context.Background()

	env.assets.Create(ctx, &asset.Asset{Hostname: "web-01.prod", Product: "http server", Environment: asset.EnvProduction, Criticality: 5})
	env.assets.Create(ctx, &asset.Asset{Hostname: "web-02.prod", Product: "http server", Environment: asset.EnvProduction, Criticality: 5})
	env.assets.Create(ctx, &asset.Asset{Hostname: "ci-01.stage", Product: "teamcity", Environment: asset.EnvStaging, Criticality: 2})

	env.threats.Create(ctx, &threat.Threat{CVEID: "CVE-2024-0001", Severity: threat.SeverityCritical, Status: threat.StatusNew, KEV: true})
	env.threats.Create(ctx, &threat.Threat{CVEID: "CVE-2024-0002", Severity: threat.SeverityMedium, Status: threat.StatusTriaged})

	w := doReq(env.router, http.MethodGet, "/api/v1/dashboard/summary", "", env.viewer)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var s api.Summary
	json.Unmarshal(w.Body.Bytes(), &s)
	if s.AssetsTotal != 3 {
		t.Errorf("expected 3 assets, got %d", s.AssetsTotal)
	}
	if s.AssetsByCriticality[5] != 2 {
		t.Errorf("expected 2 criticality-5 assets, got %d", s.AssetsByCriticality[5])
	}
	if s.ThreatsBySeverity.Critical != 1 || s.ThreatsBySeverity.Medium != 1 {
		t.Errorf("unexpected severity counts: %+v", s.ThreatsBySeverity)
	}
	if s.ThreatsByStatus["new"] != 1 || s.ThreatsByStatus["triaged"] != 1 {
		t.Errorf("unexpected status counts: %v", s.ThreatsByStatus)
	}
	if s.KEVCount != 1 {
		t.Errorf("expected 1 KEV threat, got %d", s.KEVCount)
	}
	if s.Feeds == nil {
		t.Error("feeds should be an array even when none are configured")
	}
	if len(s.RecentAudit) == 0 {
		t.Error("recent audit should include at least the genesis entry")
	}
	if s.GeneratedAt.IsZero() {
		t.Error("generated_at should be set")
	}
}

func TestDashboardSummary_cached(t *testing.T) {
	env := setupDashEnv(t)
	ctx := context.Background()

	w := doReq(env.router, http.MethodGet, "/api/v1/dashboard/summary", "", env.viewer)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	// Writes after the first request do not show until the cache expires.
	env.assets.Create(ctx, &asset.Asset{Hostname: "db-01.prod", Product: "postgresql", Environment: asset.EnvProduction, Criticality: 4})

	w = doReq(env.router, http.MethodGet, "/api/v1/dashboard/summary", "", env.viewer)
	var s api.Summary
	json.Unmarshal(w.Body.Bytes(), &s)
	if s.AssetsTotal != 0 {
		t.Errorf("expected cached summary with 0 assets, got %d", s.AssetsTotal)
	}
}

func TestTopRisks_ordering(t *testing.T) {
	env := setupDashEnv(t)
	ctx := context.Background()

	for i, score := range []float64{42.5, 91.0, 67.3} {
		env.assocs.UpsertAssessment(ctx, &assoc.ThreatAssessment{
			ThreatID:       uuid.New(),
			Score:          score,
			AffectedAssets: i + 1,
		})
	}

	w := doReq(env.router, http.MethodGet, "/api/v1/dashboard/top-risks?n=2", "", env.viewer)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Items []assoc.ThreatAssessment `json:"items"`
		Count int                      `json:"count"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Count != 2 {
		t.Fatalf("expected 2 items, got %d", resp.Count)
	}
	if resp.Items[0].Score != 91.0 || resp.Items[1].Score != 67.3 {
		t.Errorf("items not ordered by score: %v, %v", resp.Items[0].Score, resp.Items[1].Score)
	}
}

func TestTopRisks_emptyList(t *testing.T) {
	env := setupDashEnv(t)

	w := doReq(env.router, http.MethodGet, "/api/v1/dashboard/top-risks", "", env.viewer)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp struct {
		Items []assoc.ThreatAssessment `json:"items"`
		Count int                      `json:"count"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Count != 0 || resp.Items == nil {
		t.Errorf("expected empty items array, got count=%d items=%v", resp.Count, resp.Items)
	}
}
