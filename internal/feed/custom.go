package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sentra-ti/sentra/internal/threat"
)

// CustomClient fetches an operator-supplied JSON endpoint serving a flat
// array of CVE records. Records use the same field names as the threat
// create payload (cve_id, title, cvss_score, affected, ...), so internal
// pipelines and partner exports can be replayed as a feed without a
// dedicated fetcher.
type CustomClient struct {
	url        string
	httpClient *http.Client
}

// NewCustomClient creates a CustomClient for the given endpoint URL.
func NewCustomClient(url string) *CustomClient {
	return &CustomClient{
		url:        url,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Fetch downloads and parses the record array. Records failing threat
// validation are rejected later by the ingest loop, not here.
func (c *CustomClient) Fetch(ctx context.Context) ([]*threat.CreateRequest, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build custom feed request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch custom feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("custom feed returned status %d", resp.StatusCode)
	}

	var records []*threat.CreateRequest
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, fmt.Errorf("decode custom feed: %w", err)
	}
	return records, nil
}
