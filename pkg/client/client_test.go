package client_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sentra-ti/sentra/pkg/client"
)

// ── Stub server ─────────────────────────────────────────────────────────

func stubServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"bad json"}`, http.StatusBadRequest)
			return
		}
		if req.Password != "sentra_dev" {
			http.Error(w, `{"error":"invalid credentials"}`, http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"token": "test-token"})
	})

	mux.HandleFunc("/api/v1/threats", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-token" {
			http.Error(w, `{"error":"missing bearer token"}`, http.StatusUnauthorized)
			return
		}
		if r.URL.Query().Get("severity") == "critical" {
			json.NewEncoder(w).Encode(map[string]any{
				"items": []map[string]any{
					{"cve_id": "CVE-2023-42793", "severity": "critical", "cvss_score": 9.8},
				},
				"total": 1, "limit": 50, "offset": 0,
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"items": []any{}, "total": 0, "limit": 50, "offset": 0})
	})

	mux.HandleFunc("/api/v1/threats/", func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/api/v1/threats/")
		switch {
		case rest == "CVE-2021-41773":
			json.NewEncoder(w).Encode(map[string]any{
				"cve_id": "CVE-2021-41773", "severity": "high", "kev": true,
			})
		case strings.HasSuffix(rest, "/assessment"):
			json.NewEncoder(w).Encode(map[string]any{
				"threat_id":       strings.TrimSuffix(rest, "/assessment"),
				"score":           7.1,
				"level":           "high",
				"affected_assets": 2,
			})
		default:
			http.Error(w, `{"error":"threat not found"}`, http.StatusNotFound)
		}
	})

	mux.HandleFunc("/api/v1/audit/verify", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"valid": true, "root": strings.Repeat("ab", 32), "entries": 12,
		})
	})

	return httptest.NewServer(mux)
}

// ── Tests ───────────────────────────────────────────────────────────────

func TestLoginStoresToken(t *testing.T) {
	srv := stubServer(t)
	defer srv.Close()

	c := client.MustNew(srv.URL)
	if err := c.Login(context.Background(), "analyst@sentra.local", "sentra_dev"); err != nil {
		t.Fatalf("Login: %v", err)
	}

	page, err := c.ListThreats(context.Background(), client.ThreatFilter{Severity: "critical"})
	if err != nil {
		t.Fatalf("ListThreats: %v", err)
	}
	if page.Total != 1 || len(page.Items) != 1 {
		t.Fatalf("expected 1 threat, got total=%d items=%d", page.Total, len(page.Items))
	}
	if page.Items[0].CVEID != "CVE-2023-42793" {
		t.Errorf("unexpected CVE %q", page.Items[0].CVEID)
	}
}

func TestLoginRejected(t *testing.T) {
	srv := stubServer(t)
	defer srv.Close()

	c := client.MustNew(srv.URL)
	err := c.Login(context.Background(), "analyst@sentra.local", "wrong")
	if err == nil {
		t.Fatal("expected login error")
	}
	if !strings.Contains(err.Error(), "unauthorized") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestListThreatsRequiresToken(t *testing.T) {
	srv := stubServer(t)
	defer srv.Close()

	c := client.MustNew(srv.URL)
	if _, err := c.ListThreats(context.Background(), client.ThreatFilter{}); err == nil {
		t.Fatal("expected unauthorized error without a token")
	}
}

func TestGetThreatByCVE(t *testing.T) {
	srv := stubServer(t)
	defer srv.Close()

	c := client.MustNew(srv.URL, client.WithToken("test-token"))
	th, err := c.GetThreat(context.Background(), "CVE-2021-41773")
	if err != nil {
		t.Fatalf("GetThreat: %v", err)
	}
	if !th.KEV || th.Severity != "high" {
		t.Errorf("unexpected threat: %+v", th)
	}

	if _, err := c.GetThreat(context.Background(), "CVE-0000-0000"); err == nil {
		t.Fatal("expected not found error")
	}
}

func TestGetAssessment(t *testing.T) {
	srv := stubServer(t)
	defer srv.Close()

	c := client.MustNew(srv.URL, client.WithToken("test-token"))
	a, err := c.GetAssessment(context.Background(), "11111111-1111-1111-1111-111111111111")
	if err != nil {
		t.Fatalf("GetAssessment: %v", err)
	}
	if a.Level != "high" || a.AffectedAssets != 2 {
		t.Errorf("unexpected assessment: %+v", a)
	}
}

func TestVerifyAudit(t *testing.T) {
	srv := stubServer(t)
	defer srv.Close()

	c := client.MustNew(srv.URL, client.WithToken("test-token"))
	v, err := c.VerifyAudit(context.Background())
	if err != nil {
		t.Fatalf("VerifyAudit: %v", err)
	}
	if !v.Valid || v.Entries != 12 {
		t.Errorf("unexpected verification: %+v", v)
	}
}

func TestVerifyAuditBrokenChain(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]any{
			"valid": false, "error": "hash mismatch at index 4",
		})
	}))
	defer srv.Close()

	c := client.MustNew(srv.URL, client.WithToken("test-token"))
	v, err := c.VerifyAudit(context.Background())
	if err != nil {
		t.Fatalf("VerifyAudit: %v", err)
	}
	if v.Valid {
		t.Fatal("expected invalid chain")
	}
	if !strings.Contains(v.Error, "hash mismatch") {
		t.Errorf("unexpected verification error %q", v.Error)
	}
}
