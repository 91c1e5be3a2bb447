package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// KEVEntry is one record of the CISA Known Exploited Vulnerabilities catalog.
type KEVEntry struct {
	CVEID                   string `json:"cveID"`
	VendorProject           string `json:"vendorProject"`
	Product                 string `json:"product"`
	VulnerabilityName       string `json:"vulnerabilityName"`
	DateAdded               string `json:"dateAdded"`
	ShortDescription        string `json:"shortDescription"`
	RequiredAction          string `json:"requiredAction"`
	DueDate                 string `json:"dueDate"`
	KnownRansomwareCampaign string `json:"knownRansomwareCampaignUse"`
}

// KEVCatalog is the full CISA KEV catalog document.
type KEVCatalog struct {
	Title           string     `json:"title"`
	CatalogVersion  string     `json:"catalogVersion"`
	DateReleased    string     `json:"dateReleased"`
	Count           int        `json:"count"`
	Vulnerabilities []KEVEntry `json:"vulnerabilities"`
}

// KEVClient fetches the CISA KEV catalog. The catalog is a single public
// JSON document, no authentication or pagination.
type KEVClient struct {
	url        string
	httpClient *http.Client
}

// NewKEVClient creates a KEVClient for the given catalog URL.
func NewKEVClient(url string) *KEVClient {
	return &KEVClient{
		url:        url,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Fetch downloads and parses the catalog.
func (c *KEVClient) Fetch(ctx context.Context) (*KEVCatalog, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build kev request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch kev catalog: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("kev catalog returned status %d", resp.StatusCode)
	}

	var catalog KEVCatalog
	if err := json.NewDecoder(resp.Body).Decode(&catalog); err != nil {
		return nil, fmt.Errorf("decode kev catalog: %w", err)
	}
	return &catalog, nil
}

// DateAddedTime parses the entry's dateAdded field.
func (e *KEVEntry) DateAddedTime() time.Time {
	t, _ := time.Parse("2006-01-02", e.DateAdded)
	return t
}

// Ransomware reports whether the entry is tied to a known ransomware campaign.
func (e *KEVEntry) Ransomware() bool {
	return e.KnownRansomwareCampaign == "Known"
}
