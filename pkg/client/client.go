// Package client provides a typed Go SDK for the Sentra REST API: asset
// inventory, threat records, risk assessments, PIR rules, feeds, and the
// audit ledger.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Asset mirrors the inventory record returned by the API.
type Asset struct {
	ID          string    `json:"id"`
	Hostname    string    `json:"hostname"`
	IPAddress   string    `json:"ip_address"`
	Vendor      string    `json:"vendor"`
	Product     string    `json:"product"`
	Version     string    `json:"version"`
	OSFamily    string    `json:"os_family"`
	OSVersion   string    `json:"os_version"`
	Owner       string    `json:"owner"`
	Environment string    `json:"environment"`
	Criticality int       `json:"criticality"`
	Tags        []string  `json:"tags"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Threat mirrors the CVE record returned by the API.
type Threat struct {
	ID          string     `json:"id"`
	CVEID       string     `json:"cve_id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	CVSSScore   float64    `json:"cvss_score"`
	CVSSVector  string     `json:"cvss_vector"`
	Severity    string     `json:"severity"`
	Source      string     `json:"source"`
	Published   *time.Time `json:"published"`
	KEV         bool       `json:"kev"`
	Status      string     `json:"status"`
}

// Assessment mirrors the aggregate risk assessment of a threat.
type Assessment struct {
	ThreatID       string             `json:"threat_id"`
	CVEID          string             `json:"cve_id,omitempty"`
	Score          float64            `json:"score"`
	Level          string             `json:"level"`
	Components     map[string]float64 `json:"components"`
	AffectedAssets int                `json:"affected_assets"`
	MaxCriticality int                `json:"max_criticality"`
	PIRPriority    int                `json:"pir_priority"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// Association mirrors one threat-to-asset match.
type Association struct {
	ID             string  `json:"id"`
	ThreatID       string  `json:"threat_id"`
	AssetID        string  `json:"asset_id"`
	MatchType      string  `json:"match_type"`
	Confidence     float64 `json:"confidence"`
	MatchedProduct string  `json:"matched_product"`
	VersionDetail  string  `json:"version_detail"`
	RiskScore      float64 `json:"risk_score"`
	RiskLevel      string  `json:"risk_level"`
	AssetHostname  string  `json:"asset_hostname,omitempty"`
	CVEID          string  `json:"cve_id,omitempty"`
}

// FeedRun mirrors one feed sync run.
type FeedRun struct {
	ID           string     `json:"id"`
	FeedID       string     `json:"feed_id"`
	Status       string     `json:"status"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at"`
	ItemsFetched int        `json:"items_fetched"`
	ItemsCreated int        `json:"items_created"`
	ItemsUpdated int        `json:"items_updated"`
	Error        string     `json:"error"`
}

// AuditEntry mirrors one hash-chained ledger entry.
type AuditEntry struct {
	Index      int64     `json:"index"`
	Timestamp  time.Time `json:"timestamp"`
	Actor      string    `json:"actor"`
	Action     string    `json:"action"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	DataHash   string    `json:"data_hash"`
	PrevHash   string    `json:"prev_hash"`
	Hash       string    `json:"hash"`
}

// AuditVerification is the outcome of a chain verification.
type AuditVerification struct {
	Valid   bool   `json:"valid"`
	Root    string `json:"root"`
	Entries int    `json:"entries"`
	Error   string `json:"error"`
}

// RowError describes one rejected line of a CSV import.
type RowError struct {
	Line    int    `json:"line"`
	Message string `json:"message"`
}

// ImportPreview is the outcome of a CSV import or dry run.
type ImportPreview struct {
	Valid  []Asset    `json:"valid"`
	Errors []RowError `json:"errors"`
	Total  int        `json:"total"`
}

// Page wraps a paginated list response.
type Page[T any] struct {
	Items  []T `json:"items"`
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// ThreatFilter narrows ListThreats.
type ThreatFilter struct {
	Severity string
	Status   string
	KEVOnly  bool
	Query    string
	Sort     string
	Limit    int
	Offset   int
}

// AssetFilter narrows ListAssets.
type AssetFilter struct {
	Environment string
	Criticality int
	Query       string
	Limit       int
	Offset      int
}

// Client is the Sentra SDK entry point.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	bearerToken string
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithToken attaches a pre-obtained session token to every request.
func WithToken(token string) Option {
	return func(c *Client) error {
		c.bearerToken = token
		return nil
	}
}

// New creates a new Client connected to baseURL.
//
//	c, err := client.New("https://sentra.example.com",
//	    client.WithToken(token),
//	)
func New(baseURL string, opts ...Option) (*Client, error) {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error. Useful in tests and program init.
func MustNew(baseURL string, opts ...Option) *Client {
	c, err := New(baseURL, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// Login authenticates with email and password and stores the returned
// session token for subsequent calls.
func (c *Client) Login(ctx context.Context, email, password string) error {
	var resp struct {
		Token string `json:"token"`
	}
	err := c.post(ctx, "/api/v1/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, &resp)
	if err != nil {
		return err
	}
	c.bearerToken = resp.Token
	return nil
}

// Token returns the bearer token currently attached to requests, if any.
func (c *Client) Token() string {
	return c.bearerToken
}

// ── Assets ───────────────────────────────────────────────────────────────────

// ListAssets returns one page of the inventory.
func (c *Client) ListAssets(ctx context.Context, f AssetFilter) (*Page[Asset], error) {
	q := url.Values{}
	if f.Environment != "" {
		q.Set("environment", f.Environment)
	}
	if f.Criticality > 0 {
		q.Set("criticality", strconv.Itoa(f.Criticality))
	}
	if f.Query != "" {
		q.Set("q", f.Query)
	}
	setPage(q, f.Limit, f.Offset)

	var page Page[Asset]
	if err := c.get(ctx, "/api/v1/assets?"+q.Encode(), &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// GetAsset retrieves one asset by ID.
func (c *Client) GetAsset(ctx context.Context, id string) (*Asset, error) {
	var a Asset
	if err := c.get(ctx, "/api/v1/assets/"+url.PathEscape(id), &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// CreateAsset registers a new asset. req uses the API's JSON field names.
func (c *Client) CreateAsset(ctx context.Context, req map[string]any) (*Asset, error) {
	var a Asset
	if err := c.post(ctx, "/api/v1/assets", req, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// ImportAssets uploads a CSV inventory file. With dryRun the server validates
// without writing; with partial it commits valid rows even when some fail.
func (c *Client) ImportAssets(ctx context.Context, csvData io.Reader, dryRun, partial bool) (*ImportPreview, error) {
	q := url.Values{}
	if dryRun {
		q.Set("dry_run", "true")
	}
	if partial {
		q.Set("partial", "true")
	}
	path := "/api/v1/assets/import"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, csvData)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "text/csv")
	req.Header.Set("Accept", "application/json")

	status, body, err := c.doStatusBody(req)
	if err != nil {
		return nil, err
	}
	// 422 carries a preview alongside the validation error.
	if status == http.StatusUnprocessableEntity {
		var resp struct {
			Error   string         `json:"error"`
			Preview *ImportPreview `json:"preview"`
		}
		if derr := json.Unmarshal(body, &resp); derr == nil && resp.Preview != nil {
			return resp.Preview, fmt.Errorf("import rejected: %s", resp.Error)
		}
		return nil, fmt.Errorf("import rejected: %s", string(body))
	}
	if status >= 300 {
		return nil, fmt.Errorf("server error %d: %s", status, string(body))
	}

	var preview ImportPreview
	if err := json.Unmarshal(body, &preview); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &preview, nil
}

// AssetAssociations returns the threats matched against an asset.
func (c *Client) AssetAssociations(ctx context.Context, id string) ([]Association, error) {
	var resp struct {
		Items []Association `json:"items"`
	}
	if err := c.get(ctx, "/api/v1/assets/"+url.PathEscape(id)+"/associations", &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// ── Threats ──────────────────────────────────────────────────────────────────

// ListThreats returns one page of threat records.
func (c *Client) ListThreats(ctx context.Context, f ThreatFilter) (*Page[Threat], error) {
	q := url.Values{}
	if f.Severity != "" {
		q.Set("severity", f.Severity)
	}
	if f.Status != "" {
		q.Set("status", f.Status)
	}
	if f.KEVOnly {
		q.Set("kev", "true")
	}
	if f.Query != "" {
		q.Set("q", f.Query)
	}
	if f.Sort != "" {
		q.Set("sort", f.Sort)
	}
	setPage(q, f.Limit, f.Offset)

	var page Page[Threat]
	if err := c.get(ctx, "/api/v1/threats?"+q.Encode(), &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// GetThreat retrieves one threat by UUID or CVE identifier.
func (c *Client) GetThreat(ctx context.Context, id string) (*Threat, error) {
	var t Threat
	if err := c.get(ctx, "/api/v1/threats/"+url.PathEscape(id), &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// GetAssessment retrieves the current risk assessment of a threat.
func (c *Client) GetAssessment(ctx context.Context, threatID string) (*Assessment, error) {
	var a Assessment
	if err := c.get(ctx, "/api/v1/threats/"+url.PathEscape(threatID)+"/assessment", &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// ThreatAssociations returns the assets matched against a threat.
func (c *Client) ThreatAssociations(ctx context.Context, id string) ([]Association, error) {
	var resp struct {
		Items []Association `json:"items"`
	}
	if err := c.get(ctx, "/api/v1/threats/"+url.PathEscape(id)+"/associations", &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// SetThreatStatus moves a threat through the triage lifecycle.
func (c *Client) SetThreatStatus(ctx context.Context, id, status string) (*Threat, error) {
	var t Threat
	err := c.post(ctx, "/api/v1/threats/"+url.PathEscape(id)+"/status", map[string]string{
		"status": status,
	}, &t)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ── Dashboard ────────────────────────────────────────────────────────────────

// TopRisks returns the n highest-scoring current assessments.
func (c *Client) TopRisks(ctx context.Context, n int) ([]Assessment, error) {
	var resp struct {
		Items []Assessment `json:"items"`
	}
	path := "/api/v1/dashboard/top-risks"
	if n > 0 {
		path += "?n=" + strconv.Itoa(n)
	}
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// ── Feeds ────────────────────────────────────────────────────────────────────

// SyncFeed triggers an immediate sync run and returns it.
func (c *Client) SyncFeed(ctx context.Context, feedID string) (*FeedRun, error) {
	var run FeedRun
	if err := c.post(ctx, "/api/v1/feeds/"+url.PathEscape(feedID)+"/sync", nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// FeedRuns returns a feed's recent sync history, newest first.
func (c *Client) FeedRuns(ctx context.Context, feedID string, limit int) ([]FeedRun, error) {
	var resp struct {
		Items []FeedRun `json:"items"`
	}
	path := "/api/v1/feeds/" + url.PathEscape(feedID) + "/runs"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// ── Audit ────────────────────────────────────────────────────────────────────

// ListAudit browses the ledger newest-first. filters maps query params
// (actor, action, entity_type, from, to) to values.
func (c *Client) ListAudit(ctx context.Context, filters map[string]string, limit, offset int) (*Page[AuditEntry], error) {
	q := url.Values{}
	for k, v := range filters {
		if v != "" {
			q.Set(k, v)
		}
	}
	setPage(q, limit, offset)

	var page Page[AuditEntry]
	if err := c.get(ctx, "/api/v1/audit?"+q.Encode(), &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// VerifyAudit walks the full hash chain server-side and reports the result.
func (c *Client) VerifyAudit(ctx context.Context) (*AuditVerification, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/audit/verify", nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	status, body, err := c.doStatusBody(req)
	if err != nil {
		return nil, err
	}
	// 409 means the chain failed verification; the body still decodes.
	if status >= 300 && status != http.StatusConflict {
		return nil, fmt.Errorf("server error %d: %s", status, string(body))
	}

	var v AuditVerification
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &v, nil
}

// ── HTTP plumbing ────────────────────────────────────────────────────────────

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	body, err := c.do(req)
	if err != nil {
		return err
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	var bodyReader io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	body, err := c.do(req)
	if err != nil {
		return err
	}
	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	if c.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("not found: %s", req.URL.Path)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("unauthorized: %s", string(body))
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("server error %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

// doStatusBody is a lower-level HTTP call that returns (statusCode, body, error)
// without failing on 4xx responses. The caller interprets the status code.
func (c *Client) doStatusBody(req *http.Request) (int, []byte, error) {
	if c.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

func setPage(q url.Values, limit, offset int) {
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
}
