package api_test

import (
	"context"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sentra-ti/sentra/internal/asset"
	"github.com/sentra-ti/sentra/internal/assoc"
	"github.com/sentra-ti/sentra/internal/auth"
	"github.com/sentra-ti/sentra/internal/pir"
	"github.com/sentra-ti/sentra/internal/threat"
	"github.com/sentra-ti/sentra/internal/users"
)

// ── Auth helpers ─────────────────────────────────────────────────────────

func testIssuer() *auth.TokenIssuer {
	return auth.NewTokenIssuer([]byte("test-secret-0123456789abcdef"), "sentra-test", time.Hour)
}

func issueToken(t *testing.T, issuer *auth.TokenIssuer, role users.Role) string {
	t.Helper()
	tok, err := issuer.Issue(&users.User{
		ID:     uuid.New(),
		Email:  string(role) + "@sentra.test",
		Role:   role,
		Active: true,
	})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return tok
}

func doReq(router *gin.Engine, method, path, body, token string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// ── Stub asset store ─────────────────────────────────────────────────────

type memAssetStore struct {
	mu   sync.RWMutex
	rows map[uuid.UUID]*asset.Asset
}

func newMemAssetStore() *memAssetStore {
	return &memAssetStore{rows: make(map[uuid.UUID]*asset.Asset)}
}

func (s *memAssetStore) Create(_ context.Context, a *asset.Asset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.rows {
		if row.Hostname == a.Hostname {
			return asset.ErrDuplicateHostname
		}
	}
	a.ID = uuid.New()
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now
	cp := *a
	s.rows[a.ID] = &cp
	return nil
}

func (s *memAssetStore) CreateBatch(ctx context.Context, assets []*asset.Asset) error {
	for _, a := range assets {
		if err := s.Create(ctx, a); err != nil {
			return err
		}
	}
	return nil
}

func (s *memAssetStore) GetByID(_ context.Context, id uuid.UUID) (*asset.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.rows[id]
	if !ok {
		return nil, asset.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *memAssetStore) GetByHostname(_ context.Context, hostname string) (*asset.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.rows {
		if a.Hostname == hostname {
			cp := *a
			return &cp, nil
		}
	}
	return nil, asset.ErrNotFound
}

func (s *memAssetStore) List(_ context.Context, f asset.ListFilter) ([]*asset.Asset, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []*asset.Asset
	for _, a := range s.rows {
		if f.Environment != "" && string(a.Environment) != f.Environment {
			continue
		}
		if f.Criticality > 0 && a.Criticality != f.Criticality {
			continue
		}
		if f.Query != "" && !strings.Contains(strings.ToLower(a.Hostname+a.Vendor+a.Product), strings.ToLower(f.Query)) {
			continue
		}
		cp := *a
		matched = append(matched, &cp)
	}
	total := len(matched)
	if f.Offset > len(matched) {
		return nil, total, nil
	}
	matched = matched[f.Offset:]
	if f.Limit > 0 && f.Limit < len(matched) {
		matched = matched[:f.Limit]
	}
	return matched, total, nil
}

func (s *memAssetStore) ListAll(_ context.Context) ([]*asset.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*asset.Asset, 0, len(s.rows))
	for _, a := range s.rows {
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

func (s *memAssetStore) Update(_ context.Context, a *asset.Asset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[a.ID]; !ok {
		return asset.ErrNotFound
	}
	cp := *a
	s.rows[a.ID] = &cp
	return nil
}

func (s *memAssetStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[id]; !ok {
		return asset.ErrNotFound
	}
	delete(s.rows, id)
	return nil
}

func (s *memAssetStore) CountByCriticality(_ context.Context) (map[int]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int]int)
	for _, a := range s.rows {
		out[a.Criticality]++
	}
	return out, nil
}

// ── Stub threat store ────────────────────────────────────────────────────

type memThreatStore struct {
	mu   sync.RWMutex
	rows map[uuid.UUID]*threat.Threat
	// lastList records the filter of the most recent List call, so handler
	// tests can assert query params reach the store.
	lastList threat.ListFilter
}

func newMemThreatStore() *memThreatStore {
	return &memThreatStore{rows: make(map[uuid.UUID]*threat.Threat)}
}

func (s *memThreatStore) Create(_ context.Context, t *threat.Threat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.rows {
		if row.CVEID == t.CVEID {
			return threat.ErrDuplicateCVE
		}
	}
	t.ID = uuid.New()
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	cp := *t
	s.rows[t.ID] = &cp
	return nil
}

func (s *memThreatStore) GetByID(_ context.Context, id uuid.UUID) (*threat.Threat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.rows[id]
	if !ok {
		return nil, threat.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *memThreatStore) GetByCVE(_ context.Context, cveID string) (*threat.Threat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.rows {
		if t.CVEID == cveID {
			cp := *t
			return &cp, nil
		}
	}
	return nil, threat.ErrNotFound
}

func (s *memThreatStore) List(_ context.Context, f threat.ListFilter) ([]*threat.Threat, int, error) {
	s.mu.Lock()
	s.lastList = f
	s.mu.Unlock()
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []*threat.Threat
	for _, t := range s.rows {
		if f.Severity != "" && t.Severity != f.Severity {
			continue
		}
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		if f.KEVOnly && !t.KEV {
			continue
		}
		if f.Query != "" && !strings.Contains(strings.ToLower(t.CVEID+t.Title), strings.ToLower(f.Query)) {
			continue
		}
		cp := *t
		matched = append(matched, &cp)
	}
	total := len(matched)
	if f.Offset > len(matched) {
		return nil, total, nil
	}
	matched = matched[f.Offset:]
	if f.Limit > 0 && f.Limit < len(matched) {
		matched = matched[:f.Limit]
	}
	return matched, total, nil
}

func (s *memThreatStore) ListAll(_ context.Context) ([]*threat.Threat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*threat.Threat, 0, len(s.rows))
	for _, t := range s.rows {
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

func (s *memThreatStore) Update(_ context.Context, t *threat.Threat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[t.ID]; !ok {
		return threat.ErrNotFound
	}
	cp := *t
	s.rows[t.ID] = &cp
	return nil
}

func (s *memThreatStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[id]; !ok {
		return threat.ErrNotFound
	}
	delete(s.rows, id)
	return nil
}

func (s *memThreatStore) CountBySeverity(_ context.Context) (*threat.SeverityCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := &threat.SeverityCounts{}
	for _, t := range s.rows {
		switch t.Severity {
		case threat.SeverityCritical:
			counts.Critical++
		case threat.SeverityHigh:
			counts.High++
		case threat.SeverityMedium:
			counts.Medium++
		case threat.SeverityLow:
			counts.Low++
		default:
			counts.None++
		}
	}
	return counts, nil
}

func (s *memThreatStore) CountByStatus(_ context.Context) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int)
	for _, t := range s.rows {
		out[string(t.Status)]++
	}
	return out, nil
}

func (s *memThreatStore) CountKEV(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, t := range s.rows {
		if t.KEV {
			n++
		}
	}
	return n, nil
}

// ── Stub PIR store ───────────────────────────────────────────────────────

type memPIRStore struct {
	mu   sync.RWMutex
	rows map[uuid.UUID]*pir.Rule
}

func newMemPIRStore() *memPIRStore {
	return &memPIRStore{rows: make(map[uuid.UUID]*pir.Rule)}
}

func (s *memPIRStore) Create(_ context.Context, rule *pir.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rule.ID = uuid.New()
	now := time.Now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	cp := *rule
	s.rows[rule.ID] = &cp
	return nil
}

func (s *memPIRStore) GetByID(_ context.Context, id uuid.UUID) (*pir.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rows[id]
	if !ok {
		return nil, pir.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *memPIRStore) List(_ context.Context) ([]*pir.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*pir.Rule, 0, len(s.rows))
	for _, r := range s.rows {
		cp := *r
		out = append(out, &cp)
	}
	return out, nil
}

func (s *memPIRStore) ListActive(_ context.Context) ([]*pir.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*pir.Rule
	for _, r := range s.rows {
		if r.Active {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memPIRStore) Update(_ context.Context, rule *pir.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[rule.ID]; !ok {
		return pir.ErrNotFound
	}
	cp := *rule
	s.rows[rule.ID] = &cp
	return nil
}

func (s *memPIRStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[id]; !ok {
		return pir.ErrNotFound
	}
	delete(s.rows, id)
	return nil
}

// ── Stub association store ───────────────────────────────────────────────

type memAssocStore struct {
	mu          sync.RWMutex
	assocs      map[uuid.UUID][]*assoc.Association
	assessments map[uuid.UUID]*assoc.ThreatAssessment
}

func newMemAssocStore() *memAssocStore {
	return &memAssocStore{
		assocs:      make(map[uuid.UUID][]*assoc.Association),
		assessments: make(map[uuid.UUID]*assoc.ThreatAssessment),
	}
}

func (s *memAssocStore) ReplaceForThreat(_ context.Context, threatID uuid.UUID, assocs []*assoc.Association) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assocs[threatID] = assocs
	return nil
}

func (s *memAssocStore) ListByThreat(_ context.Context, threatID uuid.UUID) ([]*assoc.Association, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.assocs[threatID], nil
}

func (s *memAssocStore) ListByAsset(_ context.Context, assetID uuid.UUID) ([]*assoc.Association, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*assoc.Association
	for _, as := range s.assocs {
		for _, a := range as {
			if a.AssetID == assetID {
				out = append(out, a)
			}
		}
	}
	return out, nil
}

func (s *memAssocStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, as := range s.assocs {
		n += len(as)
	}
	return n, nil
}

func (s *memAssocStore) UpsertAssessment(_ context.Context, a *assoc.ThreatAssessment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assessments[a.ThreatID] = a
	return nil
}

func (s *memAssocStore) GetAssessment(_ context.Context, threatID uuid.UUID) (*assoc.ThreatAssessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.assessments[threatID]
	if !ok {
		return nil, assoc.ErrNotFound
	}
	return a, nil
}

func (s *memAssocStore) TopByScore(_ context.Context, n int) ([]*assoc.ThreatAssessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*assoc.ThreatAssessment, 0, len(s.assessments))
	for _, a := range s.assessments {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > n {
		out = out[:n]
	}
	return out, nil
}
