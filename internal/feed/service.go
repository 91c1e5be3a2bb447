package feed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sentra-ti/sentra/internal/risk"
	"github.com/sentra-ti/sentra/internal/threat"
	"go.uber.org/zap"
)

// ErrInvalid is returned when a request fails validation.
var ErrInvalid = errors.New("invalid feed")

// initialBackfill bounds the first NVD sync of a feed with no cursor.
const initialBackfill = 30 * 24 * time.Hour

// Store is the repository interface the service depends on.
type Store interface {
	Create(ctx context.Context, f *Feed) error
	GetByID(ctx context.Context, id uuid.UUID) (*Feed, error)
	List(ctx context.Context) ([]*Feed, error)
	ListEnabled(ctx context.Context) ([]*Feed, error)
	Update(ctx context.Context, f *Feed) error
	Delete(ctx context.Context, id uuid.UUID) error
	CreateRun(ctx context.Context, run *Run) error
	UpdateRun(ctx context.Context, run *Run) error
	ListRuns(ctx context.Context, feedID uuid.UUID, limit int) ([]*Run, error)
}

// ThreatWriter is the slice of the threat service the ingest pipeline needs.
type ThreatWriter interface {
	Create(ctx context.Context, actor string, req *threat.CreateRequest) (*threat.Threat, error)
	GetByCVE(ctx context.Context, cveID string) (*threat.Threat, error)
	Update(ctx context.Context, actor string, id uuid.UUID, req *threat.UpdateRequest) (*threat.Threat, error)
	MarkKEV(ctx context.Context, actor string, id uuid.UUID, dateAdded time.Time, ransomware bool) (bool, error)
}

// AuditRecorder appends an audit entry for a mutation.
type AuditRecorder func(ctx context.Context, actor, action, entityID string, payload any)

// MetricsRecorder is called once per sync run with the outcome.
type MetricsRecorder func(success bool)

// EventFunc is notified when a sync run fails. Wired to the notification
// dispatcher in production.
type EventFunc func(ctx context.Context, eventType string, riskLevel risk.Level, payload map[string]string)

// EventSyncFailed is emitted once per failed sync run.
const EventSyncFailed = "feed.failed"

type nvdFetcher interface {
	FetchModifiedSince(ctx context.Context, since, until time.Time) ([]*threat.CreateRequest, error)
}

type kevFetcher interface {
	Fetch(ctx context.Context) (*KEVCatalog, error)
}

type customFetcher interface {
	Fetch(ctx context.Context) ([]*threat.CreateRequest, error)
}

// ingestActor attributes feed-driven threat mutations in the audit log.
const ingestActor = "feed-ingest"

// Service manages feed configuration and runs ingest syncs.
type Service struct {
	store     Store
	threats   ThreatWriter
	audit     AuditRecorder
	onMetrics MetricsRecorder
	onEvent   EventFunc
	logger    *zap.Logger

	newNVD    func(url string) nvdFetcher
	newKEV    func(url string) kevFetcher
	newCustom func(url string) customFetcher
}

// NewService creates a new feed Service. nvdAPIKey may be empty; without it
// NVD syncs run at the unauthenticated rate limit.
func NewService(store Store, threats ThreatWriter, nvdAPIKey string, logger *zap.Logger) *Service {
	return &Service{
		store:   store,
		threats: threats,
		logger:  logger,
		newNVD: func(url string) nvdFetcher {
			return NewNVDClient(url, nvdAPIKey)
		},
		newKEV: func(url string) kevFetcher {
			return NewKEVClient(url)
		},
		newCustom: func(url string) customFetcher {
			return NewCustomClient(url)
		},
	}
}

// SetAuditRecorder configures the audit callback.
func (s *Service) SetAuditRecorder(fn AuditRecorder) {
	s.audit = fn
}

// SetMetricsRecorder configures the sync outcome callback.
func (s *Service) SetMetricsRecorder(fn MetricsRecorder) {
	s.onMetrics = fn
}

// SetEventFunc configures the notification callback.
func (s *Service) SetEventFunc(fn EventFunc) {
	s.onEvent = fn
}

// Create validates and registers a new feed.
func (s *Service) Create(ctx context.Context, actor string, req *CreateRequest) (*Feed, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalid)
	}
	if !ValidKind(req.Kind) {
		return nil, fmt.Errorf("%w: kind must be one of nvd, kev, custom", ErrInvalid)
	}
	if req.IntervalMinutes < 0 {
		return nil, fmt.Errorf("%w: interval_minutes must not be negative", ErrInvalid)
	}

	f := &Feed{
		Name:            strings.TrimSpace(req.Name),
		Kind:            req.Kind,
		URL:             strings.TrimSpace(req.URL),
		Enabled:         true,
		IntervalMinutes: req.IntervalMinutes,
	}
	if f.URL == "" {
		// Custom feeds have no canonical endpoint to fall back to.
		if req.Kind == KindCustom {
			return nil, fmt.Errorf("%w: custom feeds require a url", ErrInvalid)
		}
		f.URL = DefaultURL(req.Kind)
	}
	if f.IntervalMinutes == 0 {
		f.IntervalMinutes = 1440
	}
	if req.Enabled != nil {
		f.Enabled = *req.Enabled
	}

	if err := s.store.Create(ctx, f); err != nil {
		return nil, err
	}
	s.record(ctx, actor, "feed.created", f.ID.String(), f)
	return f, nil
}

// Get retrieves a single feed.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Feed, error) {
	return s.store.GetByID(ctx, id)
}

// List returns all configured feeds.
func (s *Service) List(ctx context.Context) ([]*Feed, error) {
	return s.store.List(ctx)
}

// Update applies a partial update to a feed.
func (s *Service) Update(ctx context.Context, actor string, id uuid.UUID, req *UpdateRequest) (*Feed, error) {
	f, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		if strings.TrimSpace(*req.Name) == "" {
			return nil, fmt.Errorf("%w: name is required", ErrInvalid)
		}
		f.Name = strings.TrimSpace(*req.Name)
	}
	if req.URL != nil {
		f.URL = strings.TrimSpace(*req.URL)
	}
	if req.Enabled != nil {
		f.Enabled = *req.Enabled
	}
	if req.IntervalMinutes != nil {
		if *req.IntervalMinutes <= 0 {
			return nil, fmt.Errorf("%w: interval_minutes must be positive", ErrInvalid)
		}
		f.IntervalMinutes = *req.IntervalMinutes
	}

	if err := s.store.Update(ctx, f); err != nil {
		return nil, err
	}
	s.record(ctx, actor, "feed.updated", f.ID.String(), f)
	return f, nil
}

// Delete removes a feed.
func (s *Service) Delete(ctx context.Context, actor string, id uuid.UUID) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.record(ctx, actor, "feed.deleted", id.String(), nil)
	return nil
}

// ListRuns returns a feed's recent run history.
func (s *Service) ListRuns(ctx context.Context, feedID uuid.UUID, limit int) ([]*Run, error) {
	return s.store.ListRuns(ctx, feedID, limit)
}

// Sync runs one ingest pass for a feed and records the run.
func (s *Service) Sync(ctx context.Context, f *Feed) (*Run, error) {
	run := &Run{FeedID: f.ID, Status: RunStatusRunning}
	if err := s.store.CreateRun(ctx, run); err != nil {
		return nil, err
	}

	started := time.Now().UTC()
	var err error
	switch f.Kind {
	case KindNVD:
		err = s.syncNVD(ctx, f, run, started)
	case KindKEV:
		err = s.syncKEV(ctx, f, run)
	case KindCustom:
		err = s.syncCustom(ctx, f, run)
	default:
		err = fmt.Errorf("%w: unknown kind %q", ErrInvalid, f.Kind)
	}

	finished := time.Now().UTC()
	run.FinishedAt = &finished
	if err != nil {
		run.Status = RunStatusFailed
		run.Error = err.Error()
	} else {
		run.Status = RunStatusSucceeded
		f.LastRunAt = &finished
		if f.Kind == KindNVD {
			f.Cursor = &started
		}
		if uerr := s.store.Update(ctx, f); uerr != nil {
			s.logger.Error("persist feed watermark",
				zap.String("feed", f.Name),
				zap.Error(uerr),
			)
		}
	}

	if uerr := s.store.UpdateRun(ctx, run); uerr != nil {
		s.logger.Error("persist feed run", zap.String("feed", f.Name), zap.Error(uerr))
	}
	if s.onMetrics != nil {
		s.onMetrics(err == nil)
	}
	if err != nil {
		if s.onEvent != nil {
			s.onEvent(ctx, EventSyncFailed, risk.LevelMedium, map[string]string{
				"feed":  f.Name,
				"kind":  string(f.Kind),
				"error": err.Error(),
			})
		}
		return run, err
	}

	s.logger.Info("feed sync finished",
		zap.String("feed", f.Name),
		zap.String("kind", string(f.Kind)),
		zap.Int("fetched", run.ItemsFetched),
		zap.Int("created", run.ItemsCreated),
		zap.Int("updated", run.ItemsUpdated),
	)
	return run, nil
}

// SyncByID loads a feed and runs one ingest pass.
func (s *Service) SyncByID(ctx context.Context, id uuid.UUID) (*Run, error) {
	f, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.Sync(ctx, f)
}

// SyncAll syncs every enabled feed that is due per its interval. Failures
// are logged and the sweep continues.
func (s *Service) SyncAll(ctx context.Context) {
	feeds, err := s.store.ListEnabled(ctx)
	if err != nil {
		s.logger.Error("list enabled feeds", zap.Error(err))
		return
	}

	now := time.Now().UTC()
	for _, f := range feeds {
		if ctx.Err() != nil {
			return
		}
		if f.LastRunAt != nil && now.Sub(*f.LastRunAt) < time.Duration(f.IntervalMinutes)*time.Minute {
			continue
		}
		if _, err := s.Sync(ctx, f); err != nil {
			s.logger.Warn("feed sync failed", zap.String("feed", f.Name), zap.Error(err))
		}
	}
}

func (s *Service) syncNVD(ctx context.Context, f *Feed, run *Run, until time.Time) error {
	since := until.Add(-initialBackfill)
	if f.Cursor != nil {
		since = *f.Cursor
	}

	records, err := s.newNVD(f.URL).FetchModifiedSince(ctx, since, until)
	if err != nil {
		return err
	}
	return s.upsertRecords(ctx, run, records)
}

// syncCustom treats the feed URL as a full snapshot: every sync fetches the
// whole document and upserts it, no modification cursor.
func (s *Service) syncCustom(ctx context.Context, f *Feed, run *Run) error {
	records, err := s.newCustom(f.URL).Fetch(ctx)
	if err != nil {
		return err
	}
	return s.upsertRecords(ctx, run, records)
}

func (s *Service) upsertRecords(ctx context.Context, run *Run, records []*threat.CreateRequest) error {
	run.ItemsFetched = len(records)

	for _, req := range records {
		existing, err := s.threats.GetByCVE(ctx, req.CVEID)
		if errors.Is(err, threat.ErrNotFound) {
			if _, cerr := s.threats.Create(ctx, ingestActor, req); cerr != nil {
				s.logger.Warn("ingest create threat", zap.String("cve_id", req.CVEID), zap.Error(cerr))
				continue
			}
			run.ItemsCreated++
			continue
		}
		if err != nil {
			return fmt.Errorf("lookup %s: %w", req.CVEID, err)
		}

		upd := &threat.UpdateRequest{
			Description: &req.Description,
			CVSSScore:   &req.CVSSScore,
			CVSSVector:  &req.CVSSVector,
			References:  &req.References,
			Affected:    &req.Affected,
		}
		if _, uerr := s.threats.Update(ctx, ingestActor, existing.ID, upd); uerr != nil {
			s.logger.Warn("ingest update threat", zap.String("cve_id", req.CVEID), zap.Error(uerr))
			continue
		}
		run.ItemsUpdated++
	}
	return nil
}

func (s *Service) syncKEV(ctx context.Context, f *Feed, run *Run) error {
	catalog, err := s.newKEV(f.URL).Fetch(ctx)
	if err != nil {
		return err
	}
	run.ItemsFetched = len(catalog.Vulnerabilities)

	for _, entry := range catalog.Vulnerabilities {
		t, err := s.threats.GetByCVE(ctx, entry.CVEID)
		if errors.Is(err, threat.ErrNotFound) {
			req := &threat.CreateRequest{
				CVEID:       entry.CVEID,
				Title:       entry.VulnerabilityName,
				Description: entry.ShortDescription,
				Source:      "kev",
				Affected: []threat.AffectedProduct{
					{Vendor: entry.VendorProject, Product: entry.Product},
				},
			}
			t, err = s.threats.Create(ctx, ingestActor, req)
			if err != nil {
				s.logger.Warn("ingest create kev threat", zap.String("cve_id", entry.CVEID), zap.Error(err))
				continue
			}
			run.ItemsCreated++
		} else if err != nil {
			return fmt.Errorf("lookup %s: %w", entry.CVEID, err)
		}

		flagged, err := s.threats.MarkKEV(ctx, ingestActor, t.ID, entry.DateAddedTime(), entry.Ransomware())
		if err != nil {
			s.logger.Warn("ingest mark kev", zap.String("cve_id", entry.CVEID), zap.Error(err))
			continue
		}
		if flagged {
			run.ItemsUpdated++
		}
	}
	return nil
}

func (s *Service) record(ctx context.Context, actor, action, entityID string, payload any) {
	if s.audit != nil {
		s.audit(ctx, actor, action, entityID, payload)
	}
}
