package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

const kevSampleCatalog = `{
  "title": "CISA Catalog of Known Exploited Vulnerabilities",
  "catalogVersion": "2024.01.08",
  "dateReleased": "2024-01-08T14:00:00.000Z",
  "count": 2,
  "vulnerabilities": [
    {
      "cveID": "CVE-2021-44228",
      "vendorProject": "Apache",
      "product": "Log4j2",
      "vulnerabilityName": "Apache Log4j2 Remote Code Execution Vulnerability",
      "dateAdded": "2021-12-10",
      "shortDescription": "Apache Log4j2 contains a vulnerability where JNDI features do not protect against attacker controlled endpoints.",
      "requiredAction": "Apply updates per vendor instructions.",
      "dueDate": "2021-12-24",
      "knownRansomwareCampaignUse": "Known"
    },
    {
      "cveID": "CVE-2021-41773",
      "vendorProject": "Apache",
      "product": "HTTP Server",
      "vulnerabilityName": "Apache HTTP Server Path Traversal Vulnerability",
      "dateAdded": "2021-11-03",
      "shortDescription": "Apache HTTP Server contains a path traversal vulnerability.",
      "requiredAction": "Apply updates per vendor instructions.",
      "dueDate": "2021-11-17",
      "knownRansomwareCampaignUse": "Unknown"
    }
  ]
}`

func TestKEVClientFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(kevSampleCatalog))
	}))
	defer srv.Close()

	catalog, err := NewKEVClient(srv.URL).Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if catalog.Count != 2 || len(catalog.Vulnerabilities) != 2 {
		t.Fatalf("expected 2 entries, got count=%d len=%d", catalog.Count, len(catalog.Vulnerabilities))
	}

	log4j := catalog.Vulnerabilities[0]
	if log4j.CVEID != "CVE-2021-44228" {
		t.Errorf("cveID = %q", log4j.CVEID)
	}
	if !log4j.Ransomware() {
		t.Error("expected ransomware flag for Known campaign")
	}
	if added := log4j.DateAddedTime(); added.Year() != 2021 || added.Month() != 12 {
		t.Errorf("dateAdded = %v", added)
	}

	httpd := catalog.Vulnerabilities[1]
	if httpd.Ransomware() {
		t.Error("Unknown campaign should not set the ransomware flag")
	}
}

func TestKEVClientErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	if _, err := NewKEVClient(srv.URL).Fetch(context.Background()); err == nil {
		t.Fatal("expected error on 404")
	}
}
