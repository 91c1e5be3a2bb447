package api_test

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sentra-ti/sentra/internal/api"
	"github.com/sentra-ti/sentra/internal/asset"
	"github.com/sentra-ti/sentra/internal/assoc"
	"github.com/sentra-ti/sentra/internal/pir"
	"github.com/sentra-ti/sentra/internal/risk"
	"github.com/sentra-ti/sentra/internal/users"
	"go.uber.org/zap"
)

type assetEnv struct {
	router  *gin.Engine
	store   *memAssetStore
	analyst string
	viewer  string
}

func setupAssetEnv(t *testing.T) *assetEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	issuer := testIssuer()
	store := newMemAssetStore()
	threats := newMemThreatStore()
	assocStore := newMemAssocStore()

	assetSvc := asset.NewService(store, zap.NewNop())
	pirSvc := pir.NewService(newMemPIRStore(), zap.NewNop())
	assocSvc := assoc.NewService(assocStore, store, threats, pirSvc, risk.NewEngine(), zap.NewNop())

	h := api.NewAssetHandler(assetSvc, assocSvc, zap.NewNop())

	r := gin.New()
	v1 := r.Group("/api/v1", api.RequireAuth(issuer))
	h.Register(v1)

	return &assetEnv{
		router:  r,
		store:   store,
		analyst: issueToken(t, issuer, users.RoleAnalyst),
		viewer:  issueToken(t, issuer, users.RoleViewer),
	}
}

func createAsset(t *testing.T, env *assetEnv, hostname string) map[string]any {
	t.Helper()
	body := `{"hostname":"` + hostname + `","vendor":"apache","product":"http server","version":"2.4.57","environment":"production","criticality":4}`
	w := doReq(env.router, http.MethodPost, "/api/v1/assets", body, env.analyst)
	if w.Code != http.StatusCreated {
		t.Fatalf("create asset: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var out map[string]any
	json.Unmarshal(w.Body.Bytes(), &out)
	return out
}

func TestCreateAsset_201(t *testing.T) {
	env := setupAssetEnv(t)

	created := createAsset(t, env, "web-01.prod")
	if created["hostname"] != "web-01.prod" {
		t.Errorf("unexpected hostname %v", created["hostname"])
	}
	if created["criticality"] != float64(4) {
		t.Errorf("unexpected criticality %v", created["criticality"])
	}
}

func TestCreateAsset_401_noToken(t *testing.T) {
	env := setupAssetEnv(t)

	w := doReq(env.router, http.MethodPost, "/api/v1/assets", `{"hostname":"x","product":"y"}`, "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestCreateAsset_403_viewer(t *testing.T) {
	env := setupAssetEnv(t)

	body := `{"hostname":"web-01","product":"nginx"}`
	w := doReq(env.router, http.MethodPost, "/api/v1/assets", body, env.viewer)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", w.Code, w.Body.String())
	}
}

func TestCreateAsset_409_duplicateHostname(t *testing.T) {
	env := setupAssetEnv(t)
	createAsset(t, env, "web-01.prod")

	body := `{"hostname":"web-01.prod","product":"nginx","criticality":2}`
	w := doReq(env.router, http.MethodPost, "/api/v1/assets", body, env.analyst)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
}

func TestCreateAsset_400_badCriticality(t *testing.T) {
	env := setupAssetEnv(t)

	body := `{"hostname":"web-01","product":"nginx","criticality":9}`
	w := doReq(env.router, http.MethodPost, "/api/v1/assets", body, env.analyst)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestListAssets_filterByEnvironment(t *testing.T) {
	env := setupAssetEnv(t)
	createAsset(t, env, "web-01.prod")

	body := `{"hostname":"build-01","product":"teamcity","environment":"staging","criticality":2}`
	w := doReq(env.router, http.MethodPost, "/api/v1/assets", body, env.analyst)
	if w.Code != http.StatusCreated {
		t.Fatalf("create staging asset: %d: %s", w.Code, w.Body.String())
	}

	w = doReq(env.router, http.MethodGet, "/api/v1/assets?environment=staging", "", env.viewer)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp struct {
		Items []map[string]any `json:"items"`
		Total int              `json:"total"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Total != 1 || len(resp.Items) != 1 {
		t.Fatalf("expected 1 staging asset, got total=%d items=%d", resp.Total, len(resp.Items))
	}
	if resp.Items[0]["hostname"] != "build-01" {
		t.Errorf("unexpected hostname %v", resp.Items[0]["hostname"])
	}
}

func TestGetAsset_404(t *testing.T) {
	env := setupAssetEnv(t)

	w := doReq(env.router, http.MethodGet, "/api/v1/assets/"+uuid.New().String(), "", env.viewer)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestGetAsset_400_badUUID(t *testing.T) {
	env := setupAssetEnv(t)

	w := doReq(env.router, http.MethodGet, "/api/v1/assets/not-a-uuid", "", env.viewer)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestUpdateAsset_200(t *testing.T) {
	env := setupAssetEnv(t)
	created := createAsset(t, env, "web-01.prod")
	id := created["id"].(string)

	w := doReq(env.router, http.MethodPatch, "/api/v1/assets/"+id, `{"criticality":5}`, env.analyst)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var updated map[string]any
	json.Unmarshal(w.Body.Bytes(), &updated)
	if updated["criticality"] != float64(5) {
		t.Errorf("criticality not updated: %v", updated["criticality"])
	}
}

func TestDeleteAsset_204(t *testing.T) {
	env := setupAssetEnv(t)
	created := createAsset(t, env, "web-01.prod")
	id := created["id"].(string)

	w := doReq(env.router, http.MethodDelete, "/api/v1/assets/"+id, "", env.analyst)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", w.Code, w.Body.String())
	}

	w = doReq(env.router, http.MethodGet, "/api/v1/assets/"+id, "", env.viewer)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", w.Code)
	}
}

const csvFixture = `hostname,ip_address,vendor,product,version,os_family,os_version,owner,environment,criticality,tags
web-10.prod,10.0.0.10,apache,http server,2.4.57,linux,ubuntu-22.04,platform,production,5,edge;web
db-10.prod,10.0.0.20,postgresql,postgresql,15.4,linux,debian-12,data,production,5,db
`

const csvFixtureBadRow = csvFixture + `bad-host,,,,,,,,production,11,
`

func TestImportAssets_dryRun(t *testing.T) {
	env := setupAssetEnv(t)

	w := doReq(env.router, http.MethodPost, "/api/v1/assets/import?dry_run=true", csvFixture, env.analyst)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var preview struct {
		Valid []map[string]any `json:"valid"`
		Total int              `json:"total"`
	}
	json.Unmarshal(w.Body.Bytes(), &preview)
	if preview.Total != 2 || len(preview.Valid) != 2 {
		t.Fatalf("expected 2 valid rows, got total=%d valid=%d", preview.Total, len(preview.Valid))
	}

	// Dry run must not write anything.
	lw := doReq(env.router, http.MethodGet, "/api/v1/assets", "", env.viewer)
	var resp struct {
		Total int `json:"total"`
	}
	json.Unmarshal(lw.Body.Bytes(), &resp)
	if resp.Total != 0 {
		t.Errorf("dry run wrote %d asset(s)", resp.Total)
	}
}

func TestImportAssets_commit(t *testing.T) {
	env := setupAssetEnv(t)

	w := doReq(env.router, http.MethodPost, "/api/v1/assets/import", csvFixture, env.analyst)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	lw := doReq(env.router, http.MethodGet, "/api/v1/assets", "", env.viewer)
	var resp struct {
		Total int `json:"total"`
	}
	json.Unmarshal(lw.Body.Bytes(), &resp)
	if resp.Total != 2 {
		t.Errorf("expected 2 imported assets, got %d", resp.Total)
	}
}

func TestImportAssets_422_rejectsBadRows(t *testing.T) {
	env := setupAssetEnv(t)

	w := doReq(env.router, http.MethodPost, "/api/v1/assets/import", csvFixtureBadRow, env.analyst)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Preview struct {
			Errors []map[string]any `json:"errors"`
		} `json:"preview"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Preview.Errors) != 1 {
		t.Errorf("expected 1 row error in preview, got %d", len(resp.Preview.Errors))
	}
}

func TestImportAssets_partialCommitsValidRows(t *testing.T) {
	env := setupAssetEnv(t)

	w := doReq(env.router, http.MethodPost, "/api/v1/assets/import?partial=true", csvFixtureBadRow, env.analyst)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	lw := doReq(env.router, http.MethodGet, "/api/v1/assets", "", env.viewer)
	var resp struct {
		Total int `json:"total"`
	}
	json.Unmarshal(lw.Body.Bytes(), &resp)
	if resp.Total != 2 {
		t.Errorf("expected 2 committed assets, got %d", resp.Total)
	}
}
