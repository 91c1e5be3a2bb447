package threat

import (
	"fmt"
	"strings"

	"github.com/goark/go-cvss/v3/metric"
)

// ParseCVSSVector validates a CVSS v3.x vector string and returns its base
// score. Vectors without the "CVSS:3.x/" prefix are rejected; CVSS v2 vectors
// from older NVD records are not supported and callers should fall back to
// the feed-supplied numeric score.
func ParseCVSSVector(vector string) (float64, error) {
	if !strings.HasPrefix(vector, "CVSS:3.0/") && !strings.HasPrefix(vector, "CVSS:3.1/") {
		return 0, fmt.Errorf("unsupported CVSS vector %q", vector)
	}
	base, err := metric.NewBase().Decode(vector)
	if err != nil {
		return 0, fmt.Errorf("decode CVSS vector: %w", err)
	}
	return base.Score(), nil
}
