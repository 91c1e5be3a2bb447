package asset

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// csvHeader is the required column order for asset import files.
var csvHeader = []string{
	"hostname", "ip_address", "vendor", "product", "version",
	"os_family", "os_version", "owner", "environment", "criticality", "tags",
}

// RowError describes a single rejected CSV row.
type RowError struct {
	Line    int    `json:"line"`
	Message string `json:"message"`
}

// ImportPreview is the result of parsing an import file without committing it.
type ImportPreview struct {
	Valid  []*Asset   `json:"valid"`
	Errors []RowError `json:"errors"`
	Total  int        `json:"total"`
}

// ParseCSV reads an asset import file and validates every row. It never
// writes to the store; the caller decides whether to commit the valid rows.
func ParseCSV(r io.Reader) (*ImportPreview, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	if err := checkHeader(header); err != nil {
		return nil, err
	}

	preview := &ImportPreview{}
	seen := make(map[string]int) // hostname → first line
	line := 1
	for {
		line++
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			preview.Total++
			preview.Errors = append(preview.Errors, RowError{Line: line, Message: err.Error()})
			continue
		}
		preview.Total++

		a, rowErr := parseRow(rec)
		if rowErr != "" {
			preview.Errors = append(preview.Errors, RowError{Line: line, Message: rowErr})
			continue
		}
		if first, dup := seen[a.Hostname]; dup {
			preview.Errors = append(preview.Errors, RowError{
				Line:    line,
				Message: fmt.Sprintf("duplicate hostname %q (first seen on line %d)", a.Hostname, first),
			})
			continue
		}
		seen[a.Hostname] = line
		preview.Valid = append(preview.Valid, a)
	}
	return preview, nil
}

// ImportCSV parses the file and, when every row is usable or allowPartial is
// set, inserts the valid rows in one transaction.
func (s *Service) ImportCSV(ctx context.Context, actor string, r io.Reader, allowPartial bool) (*ImportPreview, error) {
	preview, err := ParseCSV(r)
	if err != nil {
		return nil, err
	}
	if len(preview.Errors) > 0 && !allowPartial {
		return preview, fmt.Errorf("%w: %d row(s) failed validation", ErrInvalid, len(preview.Errors))
	}
	if len(preview.Valid) == 0 {
		return preview, fmt.Errorf("%w: no importable rows", ErrInvalid)
	}

	if err := s.store.CreateBatch(ctx, preview.Valid); err != nil {
		return preview, err
	}
	s.record(ctx, actor, "asset.imported", "", map[string]int{
		"imported": len(preview.Valid),
		"rejected": len(preview.Errors),
	})
	s.changed(ctx)
	return preview, nil
}

func checkHeader(header []string) error {
	if len(header) != len(csvHeader) {
		return fmt.Errorf("%w: expected %d columns, got %d", ErrInvalid, len(csvHeader), len(header))
	}
	for i, want := range csvHeader {
		if strings.TrimSpace(strings.ToLower(header[i])) != want {
			return fmt.Errorf("%w: column %d must be %q, got %q", ErrInvalid, i+1, want, header[i])
		}
	}
	return nil
}

func parseRow(rec []string) (*Asset, string) {
	if len(rec) != len(csvHeader) {
		return nil, fmt.Sprintf("expected %d fields, got %d", len(csvHeader), len(rec))
	}
	for i := range rec {
		rec[i] = strings.TrimSpace(rec[i])
	}

	crit := 3
	if rec[9] != "" {
		n, err := strconv.Atoi(rec[9])
		if err != nil {
			return nil, fmt.Sprintf("criticality %q is not a number", rec[9])
		}
		crit = n
	}

	env := rec[8]
	if env == "" {
		env = string(EnvProduction)
	}

	var tags []string
	if rec[10] != "" {
		for _, t := range strings.Split(rec[10], ";") {
			if t = strings.TrimSpace(t); t != "" {
				tags = append(tags, t)
			}
		}
	}

	a := &Asset{
		Hostname:    rec[0],
		IPAddress:   rec[1],
		Vendor:      rec[2],
		Product:     rec[3],
		Version:     rec[4],
		OSFamily:    rec[5],
		OSVersion:   rec[6],
		Owner:       rec[7],
		Environment: Environment(env),
		Criticality: crit,
		Tags:        tags,
	}
	if err := validate(a); err != nil {
		return nil, strings.TrimPrefix(err.Error(), ErrInvalid.Error()+": ")
	}
	return a, ""
}
