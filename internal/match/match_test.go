package match_test

import (
	"testing"

	"github.com/sentra-ti/sentra/internal/asset"
	"github.com/sentra-ti/sentra/internal/match"
	"github.com/sentra-ti/sentra/internal/threat"
)

func mkThreat(aps ...threat.AffectedProduct) *threat.Threat {
	return &threat.Threat{CVEID: "CVE-2024-0001", Affected: aps}
}

func mkAsset(vendor, product, version, osFamily string) *asset.Asset {
	return &asset.Asset{Vendor: vendor, Product: product, Version: version, OSFamily: osFamily}
}

func TestClassify_tiers(t *testing.T) {
	tests := []struct {
		name     string
		ap       threat.AffectedProduct
		asset    *asset.Asset
		want     match.Type
		wantConf float64
	}{
		{
			name:     "exact product version os",
			ap:       threat.AffectedProduct{Vendor: "apache", Product: "http_server", Version: "2.4.49", OS: "linux"},
			asset:    mkAsset("Apache", "HTTP Server", "2.4.49", "Linux"),
			want:     match.ExactProductVersionOS,
			wantConf: 1.0,
		},
		{
			name:     "exact product version without os",
			ap:       threat.AffectedProduct{Vendor: "apache", Product: "http_server", Version: "2.4.49"},
			asset:    mkAsset("Apache", "HTTP Server", "2.4.49", "Linux"),
			want:     match.ExactProductVersion,
			wantConf: 0.95,
		},
		{
			name: "exact product range os",
			ap: threat.AffectedProduct{
				Vendor: "openssl", Product: "openssl",
				VersionStartIncluding: "3.0.0", VersionEndExcluding: "3.0.7", OS: "linux",
			},
			asset:    mkAsset("OpenSSL", "OpenSSL", "3.0.4", "linux"),
			want:     match.ExactProductRangeOS,
			wantConf: 0.90,
		},
		{
			name: "exact product range",
			ap: threat.AffectedProduct{
				Product:             "nginx",
				VersionEndIncluding: "1.25.3",
			},
			asset:    mkAsset("F5", "nginx", "1.24.0", ""),
			want:     match.ExactProductRange,
			wantConf: 0.85,
		},
		{
			name:     "exact product os only",
			ap:       threat.AffectedProduct{Product: "sudo", OS: "linux"},
			asset:    mkAsset("", "sudo", "", "Linux"),
			want:     match.ExactProductOS,
			wantConf: 0.75,
		},
		{
			name:     "exact product only",
			ap:       threat.AffectedProduct{Product: "curl"},
			asset:    mkAsset("haxx", "curl", "", ""),
			want:     match.ExactProduct,
			wantConf: 0.70,
		},
		{
			name:     "fuzzy product with version",
			ap:       threat.AffectedProduct{Product: "tomcat", Version: "9.0.50"},
			asset:    mkAsset("Apache", "Apache Tomcat Server", "9.0.50", ""),
			want:     match.FuzzyProductVersion,
			wantConf: 0.60,
		},
		{
			name:     "fuzzy product with os",
			ap:       threat.AffectedProduct{Product: "postgresql server", OS: "linux"},
			asset:    mkAsset("", "postgresql", "", "linux"),
			want:     match.FuzzyProductOS,
			wantConf: 0.50,
		},
		{
			name:     "fuzzy product only",
			ap:       threat.AffectedProduct{Product: "elasticsearch"},
			asset:    mkAsset("elastic", "elasticsearch cluster node", "", ""),
			want:     match.FuzzyProduct,
			wantConf: 0.40,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := match.Classify(mkThreat(tt.ap), tt.asset)
			if !ok {
				t.Fatal("Classify returned no match")
			}
			if got.Type != tt.want {
				t.Errorf("Type = %s, want %s", got.Type, tt.want)
			}
			if got.Confidence != tt.wantConf {
				t.Errorf("Confidence = %.2f, want %.2f", got.Confidence, tt.wantConf)
			}
		})
	}
}

func TestClassify_noMatch(t *testing.T) {
	tests := []struct {
		name  string
		ap    threat.AffectedProduct
		asset *asset.Asset
	}{
		{
			name:  "unrelated products",
			ap:    threat.AffectedProduct{Product: "exchange_server"},
			asset: mkAsset("nginx", "nginx", "1.25.0", "linux"),
		},
		{
			name:  "version excluded by range",
			ap:    threat.AffectedProduct{Product: "openssl", VersionEndExcluding: "3.0.7"},
			asset: mkAsset("", "openssl", "3.0.7", ""),
		},
		{
			name:  "exact version mismatch",
			ap:    threat.AffectedProduct{Product: "openssl", Version: "1.1.1k"},
			asset: mkAsset("", "openssl", "3.0.0", ""),
		},
		{
			name:  "os alone is not a match",
			ap:    threat.AffectedProduct{Product: "iis", OS: "windows"},
			asset: mkAsset("", "apache", "", "windows"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got, ok := match.Classify(mkThreat(tt.ap), tt.asset); ok {
				t.Errorf("expected no match, got %s", got.Type)
			}
		})
	}
}

func TestClassify_picksStrongestTier(t *testing.T) {
	th := mkThreat(
		threat.AffectedProduct{Product: "openssl"},                                     // exact_product
		threat.AffectedProduct{Product: "openssl", Version: "3.0.4", OS: "linux"},      // exact_product_version_os
		threat.AffectedProduct{Product: "openssl", VersionStartIncluding: "3.0.0"},     // exact_product_range
	)
	a := mkAsset("", "openssl", "3.0.4", "linux")

	got, ok := match.Classify(th, a)
	if !ok {
		t.Fatal("Classify returned no match")
	}
	if got.Type != match.ExactProductVersionOS {
		t.Errorf("Type = %s, want %s", got.Type, match.ExactProductVersionOS)
	}
}

func TestClassify_vendorConflictDowngradesToFuzzy(t *testing.T) {
	th := mkThreat(threat.AffectedProduct{Vendor: "oracle", Product: "server", Version: "1.0.0"})
	a := mkAsset("microsoft", "server", "1.0.0", "")

	got, ok := match.Classify(th, a)
	if !ok {
		t.Fatal("Classify returned no match")
	}
	if got.Type != match.FuzzyProductVersion {
		t.Errorf("Type = %s, want %s", got.Type, match.FuzzyProductVersion)
	}
}

func TestClassify_unparseableRangeDegradesToProductTier(t *testing.T) {
	tests := []struct {
		name  string
		ap    threat.AffectedProduct
		asset *asset.Asset
	}{
		{
			name:  "garbage declared bound",
			ap:    threat.AffectedProduct{Product: "openssl", VersionEndExcluding: "affected releases"},
			asset: mkAsset("", "openssl", "3.0.4", ""),
		},
		{
			name:  "unparseable asset version",
			ap:    threat.AffectedProduct{Product: "openssl", VersionEndExcluding: "3.0.7"},
			asset: mkAsset("", "openssl", "build-2024-q1", ""),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := match.Classify(mkThreat(tt.ap), tt.asset)
			if !ok {
				t.Fatal("Classify returned no match")
			}
			if got.Type != match.ExactProduct {
				t.Errorf("Type = %s, want %s", got.Type, match.ExactProduct)
			}
			if got.VersionDetail != "" {
				t.Errorf("VersionDetail = %q, want empty", got.VersionDetail)
			}
		})
	}
}

func TestClassify_mixedBoundsStillExclude(t *testing.T) {
	// One bound is garbage but the other evaluates and rules the version out.
	th := mkThreat(threat.AffectedProduct{
		Product:               "openssl",
		VersionStartIncluding: "unknown",
		VersionEndExcluding:   "3.0.0",
	})
	a := mkAsset("", "openssl", "3.0.4", "")

	if got, ok := match.Classify(th, a); ok {
		t.Errorf("expected no match, got %s", got.Type)
	}
}

func TestClassify_fourSegmentVersionCoercion(t *testing.T) {
	th := mkThreat(threat.AffectedProduct{
		Product:               "esxi",
		VersionStartIncluding: "7.0.0",
		VersionEndExcluding:   "7.0.4",
	})
	a := mkAsset("vmware", "esxi", "7.0.2.1234", "")

	got, ok := match.Classify(th, a)
	if !ok {
		t.Fatal("Classify returned no match")
	}
	if got.Type != match.ExactProductRange {
		t.Errorf("Type = %s, want %s", got.Type, match.ExactProductRange)
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Apache_HTTP-Server", "apache http server"},
		{"  nginx  ", "nginx"},
		{"Red.Hat/Enterprise", "red hat enterprise"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := match.Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRankOrdering(t *testing.T) {
	order := []match.Type{
		match.ExactProductVersionOS, match.ExactProductVersion,
		match.ExactProductRangeOS, match.ExactProductRange,
		match.ExactProductOS, match.ExactProduct,
		match.FuzzyProductVersion, match.FuzzyProductOS, match.FuzzyProduct,
	}
	for i, typ := range order {
		if match.Rank(typ) != i+1 {
			t.Errorf("Rank(%s) = %d, want %d", typ, match.Rank(typ), i+1)
		}
		if i > 0 && match.Confidence(typ) >= match.Confidence(order[i-1]) {
			t.Errorf("Confidence(%s) should be below Confidence(%s)", typ, order[i-1])
		}
	}
}
