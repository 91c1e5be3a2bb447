package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"github.com/sentra-ti/sentra/internal/threat"
)

const nvdPageSize = 2000

// NVDClient fetches CVE records from the NVD CVE API 2.0. Requests are
// rate limited to the published guidance: 5 requests per 30 seconds
// without an API key, 50 with one.
type NVDClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewNVDClient creates an NVDClient. apiKey may be empty.
func NewNVDClient(baseURL, apiKey string) *NVDClient {
	interval := 6 * time.Second
	if apiKey != "" {
		interval = 600 * time.Millisecond
	}
	return &NVDClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		limiter:    rate.NewLimiter(rate.Every(interval), 1),
	}
}

type nvdResponse struct {
	ResultsPerPage  int `json:"resultsPerPage"`
	StartIndex      int `json:"startIndex"`
	TotalResults    int `json:"totalResults"`
	Vulnerabilities []struct {
		CVE nvdCVE `json:"cve"`
	} `json:"vulnerabilities"`
}

type nvdCVE struct {
	ID           string `json:"id"`
	Published    string `json:"published"`
	LastModified string `json:"lastModified"`
	Descriptions []struct {
		Lang  string `json:"lang"`
		Value string `json:"value"`
	} `json:"descriptions"`
	Metrics struct {
		CVSSMetricV31 []nvdCVSSMetric `json:"cvssMetricV31"`
		CVSSMetricV30 []nvdCVSSMetric `json:"cvssMetricV30"`
	} `json:"metrics"`
	References []struct {
		URL string `json:"url"`
	} `json:"references"`
	Configurations []struct {
		Nodes []struct {
			CPEMatch []nvdCPEMatch `json:"cpeMatch"`
		} `json:"nodes"`
	} `json:"configurations"`
}

type nvdCVSSMetric struct {
	Type     string `json:"type"`
	CVSSData struct {
		VectorString string  `json:"vectorString"`
		BaseScore    float64 `json:"baseScore"`
	} `json:"cvssData"`
}

type nvdCPEMatch struct {
	Vulnerable            bool   `json:"vulnerable"`
	Criteria              string `json:"criteria"`
	VersionStartIncluding string `json:"versionStartIncluding"`
	VersionEndIncluding   string `json:"versionEndIncluding"`
	VersionEndExcluding   string `json:"versionEndExcluding"`
}

// FetchModifiedSince walks every result page for CVEs modified in
// [since, until] and returns them as threat create requests.
func (c *NVDClient) FetchModifiedSince(ctx context.Context, since, until time.Time) ([]*threat.CreateRequest, error) {
	var out []*threat.CreateRequest
	start := 0
	for {
		page, err := c.fetchPage(ctx, since, until, start)
		if err != nil {
			return nil, err
		}
		for _, v := range page.Vulnerabilities {
			req := convertNVDRecord(&v.CVE)
			if req != nil {
				out = append(out, req)
			}
		}
		start += page.ResultsPerPage
		if start >= page.TotalResults || page.ResultsPerPage == 0 {
			break
		}
	}
	return out, nil
}

func (c *NVDClient) fetchPage(ctx context.Context, since, until time.Time, startIndex int) (*nvdResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("lastModStartDate", since.UTC().Format("2006-01-02T15:04:05.000Z"))
	q.Set("lastModEndDate", until.UTC().Format("2006-01-02T15:04:05.000Z"))
	q.Set("resultsPerPage", strconv.Itoa(nvdPageSize))
	q.Set("startIndex", strconv.Itoa(startIndex))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build nvd request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("apiKey", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch nvd page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("nvd returned status %d", resp.StatusCode)
	}

	var page nvdResponse
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decode nvd response: %w", err)
	}
	return &page, nil
}

// convertNVDRecord maps an NVD CVE record to a threat create request.
// Records without an english description are skipped.
func convertNVDRecord(cve *nvdCVE) *threat.CreateRequest {
	var description string
	for _, d := range cve.Descriptions {
		if d.Lang == "en" {
			description = d.Value
			break
		}
	}
	if description == "" {
		return nil
	}

	var score float64
	var vector string
	metrics := cve.Metrics.CVSSMetricV31
	if len(metrics) == 0 {
		metrics = cve.Metrics.CVSSMetricV30
	}
	for _, m := range metrics {
		// NVD's own analysis wins over CNA-supplied metrics.
		if m.Type == "Primary" || vector == "" {
			score = m.CVSSData.BaseScore
			vector = m.CVSSData.VectorString
		}
	}

	var refs []string
	for _, r := range cve.References {
		refs = append(refs, r.URL)
	}

	published, _ := time.Parse("2006-01-02T15:04:05.000", cve.Published)

	req := &threat.CreateRequest{
		CVEID:       cve.ID,
		Title:       cve.ID + ": " + truncate(description, 120),
		Description: description,
		CVSSScore:   score,
		CVSSVector:  vector,
		Source:      "nvd",
		References:  refs,
		Affected:    convertConfigurations(cve),
	}
	if !published.IsZero() {
		req.Published = &published
	}
	return req
}

// convertConfigurations flattens NVD CPE applicability nodes into affected
// product entries. Within a node, an operating-system CPE applies to the
// application CPEs of that node.
func convertConfigurations(cve *nvdCVE) []threat.AffectedProduct {
	var out []threat.AffectedProduct
	seen := make(map[string]bool)

	for _, cfg := range cve.Configurations {
		for _, node := range cfg.Nodes {
			nodeOS := ""
			for _, m := range node.CPEMatch {
				if part, _, product, _ := parseCPE(m.Criteria); part == "o" && nodeOS == "" {
					nodeOS = product
				}
			}
			for _, m := range node.CPEMatch {
				if !m.Vulnerable {
					continue
				}
				part, vendor, product, version := parseCPE(m.Criteria)
				if part != "a" || product == "" {
					continue
				}
				entry := threat.AffectedProduct{
					Vendor:                vendor,
					Product:               product,
					Version:               version,
					VersionStartIncluding: m.VersionStartIncluding,
					VersionEndIncluding:   m.VersionEndIncluding,
					VersionEndExcluding:   m.VersionEndExcluding,
					OS:                    nodeOS,
				}
				key := fmt.Sprintf("%s|%s|%s|%s|%s|%s|%s",
					entry.Vendor, entry.Product, entry.Version,
					entry.VersionStartIncluding, entry.VersionEndIncluding, entry.VersionEndExcluding, entry.OS)
				if seen[key] {
					continue
				}
				seen[key] = true
				out = append(out, entry)
			}
		}
	}
	return out
}

// parseCPE extracts part, vendor, product, and version from a CPE 2.3 URI.
// Wildcard and NA components come back empty.
func parseCPE(criteria string) (part, vendor, product, version string) {
	fields := strings.Split(criteria, ":")
	if len(fields) < 6 || fields[0] != "cpe" {
		return "", "", "", ""
	}
	clean := func(s string) string {
		if s == "*" || s == "-" {
			return ""
		}
		return strings.ReplaceAll(s, "_", " ")
	}
	part = fields[2]
	vendor = clean(fields[3])
	product = clean(fields[4])
	version = clean(fields[5])
	return part, vendor, product, version
}

// truncate shortens s to at most n bytes, backing up to a rune boundary so
// multi-byte descriptions never get split mid-rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
