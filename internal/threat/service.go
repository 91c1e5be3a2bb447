package threat

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sentra-ti/sentra/internal/risk"
	"go.uber.org/zap"
)

// ErrInvalid is wrapped by service methods when the caller supplies bad input.
var ErrInvalid = errors.New("invalid threat")

var cveIDPattern = regexp.MustCompile(`^CVE-\d{4}-\d{4,}$`)

// Store is the repository interface the service depends on.
type Store interface {
	Create(ctx context.Context, t *Threat) error
	GetByID(ctx context.Context, id uuid.UUID) (*Threat, error)
	GetByCVE(ctx context.Context, cveID string) (*Threat, error)
	List(ctx context.Context, f ListFilter) ([]*Threat, int, error)
	Update(ctx context.Context, t *Threat) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// AuditRecorder appends an audit entry for a mutation.
type AuditRecorder func(ctx context.Context, actor, action, entityID string, payload any)

// ChangeListener is notified after a threat is created or materially changed,
// so association matching and risk scoring can be re-run. Wired to the
// association service in production.
type ChangeListener func(ctx context.Context, t *Threat)

// EventFunc is notified of threat lifecycle events worth alerting on. Wired
// to the notification dispatcher in production.
type EventFunc func(ctx context.Context, eventType string, riskLevel risk.Level, payload map[string]string)

// Event types emitted by the service.
const (
	EventCreated  = "threat.created"
	EventKEVAdded = "threat.kev_added"
)

// Service implements threat record business logic on top of a Store.
type Service struct {
	store    Store
	audit    AuditRecorder
	onChange ChangeListener
	onEvent  EventFunc
	logger   *zap.Logger
}

// NewService creates a new threat Service.
func NewService(store Store, logger *zap.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// SetAuditRecorder configures the audit callback.
func (s *Service) SetAuditRecorder(fn AuditRecorder) {
	s.audit = fn
}

// SetChangeListener configures the post-mutation callback.
func (s *Service) SetChangeListener(fn ChangeListener) {
	s.onChange = fn
}

// SetEventFunc configures the notification callback.
func (s *Service) SetEventFunc(fn EventFunc) {
	s.onEvent = fn
}

// Create validates and records a new threat. When a CVSS vector is supplied
// without a score, the score and severity derive from the vector.
func (s *Service) Create(ctx context.Context, actor string, req *CreateRequest) (*Threat, error) {
	cveID := strings.ToUpper(strings.TrimSpace(req.CVEID))
	if !cveIDPattern.MatchString(cveID) {
		return nil, fmt.Errorf("%w: cve_id must look like CVE-2024-12345", ErrInvalid)
	}
	if strings.TrimSpace(req.Title) == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalid)
	}

	score := req.CVSSScore
	vector := strings.TrimSpace(req.CVSSVector)
	if vector != "" {
		parsed, err := ParseCVSSVector(vector)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		if score == 0 {
			score = parsed
		}
	}
	if score < 0 || score > 10 {
		return nil, fmt.Errorf("%w: cvss_score must be between 0 and 10", ErrInvalid)
	}

	published := time.Now().UTC()
	if req.Published != nil {
		published = req.Published.UTC()
	}
	source := req.Source
	if source == "" {
		source = "manual"
	}

	t := &Threat{
		CVEID:       cveID,
		Title:       strings.TrimSpace(req.Title),
		Description: strings.TrimSpace(req.Description),
		CVSSScore:   score,
		CVSSVector:  vector,
		Severity:    SeverityForScore(score),
		Source:      source,
		Published:   published,
		Modified:    published,
		Status:      StatusNew,
		References:  req.References,
		Affected:    req.Affected,
	}
	if err := s.store.Create(ctx, t); err != nil {
		return nil, err
	}

	s.record(ctx, actor, EventCreated, t.ID.String(), t)
	s.emit(ctx, EventCreated, levelForSeverity(t.Severity), map[string]string{
		"cve_id":     t.CVEID,
		"title":      t.Title,
		"severity":   string(t.Severity),
		"cvss_score": fmt.Sprintf("%.1f", t.CVSSScore),
	})
	s.notify(ctx, t)
	return t, nil
}

// Get retrieves a single threat.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Threat, error) {
	return s.store.GetByID(ctx, id)
}

// GetByCVE retrieves a threat by CVE identifier.
func (s *Service) GetByCVE(ctx context.Context, cveID string) (*Threat, error) {
	return s.store.GetByCVE(ctx, strings.ToUpper(strings.TrimSpace(cveID)))
}

// List returns a filtered page of threats and the total match count.
func (s *Service) List(ctx context.Context, f ListFilter) ([]*Threat, int, error) {
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return s.store.List(ctx, f)
}

// Update applies a partial update and returns the updated threat.
func (s *Service) Update(ctx context.Context, actor string, id uuid.UUID, req *UpdateRequest) (*Threat, error) {
	t, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Title != nil {
		t.Title = strings.TrimSpace(*req.Title)
		if t.Title == "" {
			return nil, fmt.Errorf("%w: title cannot be empty", ErrInvalid)
		}
	}
	if req.Description != nil {
		t.Description = strings.TrimSpace(*req.Description)
	}
	if req.CVSSVector != nil {
		vector := strings.TrimSpace(*req.CVSSVector)
		if vector != "" {
			parsed, err := ParseCVSSVector(vector)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
			}
			if req.CVSSScore == nil {
				t.CVSSScore = parsed
			}
		}
		t.CVSSVector = vector
	}
	if req.CVSSScore != nil {
		if *req.CVSSScore < 0 || *req.CVSSScore > 10 {
			return nil, fmt.Errorf("%w: cvss_score must be between 0 and 10", ErrInvalid)
		}
		t.CVSSScore = *req.CVSSScore
	}
	if req.References != nil {
		t.References = *req.References
	}
	if req.Affected != nil {
		t.Affected = *req.Affected
	}
	t.Severity = SeverityForScore(t.CVSSScore)
	t.Modified = time.Now().UTC()

	if err := s.store.Update(ctx, t); err != nil {
		return nil, err
	}
	s.record(ctx, actor, "threat.updated", t.ID.String(), req)
	s.notify(ctx, t)
	return t, nil
}

// SetStatus transitions the triage status of a threat.
func (s *Service) SetStatus(ctx context.Context, actor string, id uuid.UUID, status Status) (*Threat, error) {
	if !ValidStatus(status) {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalid, status)
	}
	t, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status == status {
		return t, nil
	}

	prev := t.Status
	t.Status = status
	if err := s.store.Update(ctx, t); err != nil {
		return nil, err
	}
	s.record(ctx, actor, "threat.status_changed", t.ID.String(), map[string]string{
		"from": string(prev),
		"to":   string(status),
	})
	return t, nil
}

// MarkKEV flags a threat as a CISA Known Exploited Vulnerability. Idempotent;
// returns true when the flag was newly set.
func (s *Service) MarkKEV(ctx context.Context, actor string, id uuid.UUID, dateAdded time.Time, ransomware bool) (bool, error) {
	t, err := s.store.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	if t.KEV {
		return false, nil
	}

	t.KEV = true
	da := dateAdded.UTC()
	t.KEVDateAdded = &da
	t.KEVRansomware = ransomware
	if err := s.store.Update(ctx, t); err != nil {
		return false, err
	}
	s.record(ctx, actor, EventKEVAdded, t.ID.String(), map[string]string{
		"cve_id":     t.CVEID,
		"date_added": da.Format("2006-01-02"),
	})
	// Known exploitation is always at least high; a ransomware association
	// pushes it to critical.
	level := risk.LevelHigh
	if ransomware {
		level = risk.LevelCritical
	}
	s.emit(ctx, EventKEVAdded, level, map[string]string{
		"cve_id":     t.CVEID,
		"date_added": da.Format("2006-01-02"),
		"ransomware": fmt.Sprintf("%t", ransomware),
	})
	s.notify(ctx, t)
	return true, nil
}

// Delete removes a threat and everything hanging off it.
func (s *Service) Delete(ctx context.Context, actor string, id uuid.UUID) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.record(ctx, actor, "threat.deleted", id.String(), nil)
	return nil
}

func (s *Service) record(ctx context.Context, actor, action, entityID string, payload any) {
	if s.audit == nil {
		return
	}
	s.audit(ctx, actor, action, entityID, payload)
}

func (s *Service) notify(ctx context.Context, t *Threat) {
	if s.onChange == nil {
		return
	}
	s.onChange(ctx, t)
}

func (s *Service) emit(ctx context.Context, eventType string, level risk.Level, payload map[string]string) {
	if s.onEvent == nil {
		return
	}
	s.onEvent(ctx, eventType, level, payload)
}

// levelForSeverity maps a CVSS severity band onto the risk scale for event
// dispatch, before any asset context exists to score against.
func levelForSeverity(sev Severity) risk.Level {
	switch sev {
	case SeverityCritical:
		return risk.LevelCritical
	case SeverityHigh:
		return risk.LevelHigh
	case SeverityMedium:
		return risk.LevelMedium
	default:
		return risk.LevelLow
	}
}
