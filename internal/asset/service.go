package asset

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrInvalid is wrapped by service methods when the caller supplies bad input.
var ErrInvalid = errors.New("invalid asset")

// Store is the repository interface the service depends on. *Repository
// satisfies it; tests use an in-memory stub.
type Store interface {
	Create(ctx context.Context, a *Asset) error
	CreateBatch(ctx context.Context, assets []*Asset) error
	GetByID(ctx context.Context, id uuid.UUID) (*Asset, error)
	GetByHostname(ctx context.Context, hostname string) (*Asset, error)
	List(ctx context.Context, f ListFilter) ([]*Asset, int, error)
	ListAll(ctx context.Context) ([]*Asset, error)
	Update(ctx context.Context, a *Asset) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// AuditRecorder appends an audit entry for a mutation. Wired to the audit
// ledger in production; nil disables recording.
type AuditRecorder func(ctx context.Context, actor, action, entityID string, payload any)

// ChangeListener is notified after any inventory mutation. Inventory changes
// invalidate existing threat assessments, so the association service hooks
// in here to recompute them.
type ChangeListener func(ctx context.Context)

// Service implements asset inventory business logic on top of a Store.
type Service struct {
	store    Store
	audit    AuditRecorder
	onChange ChangeListener
	logger   *zap.Logger
}

// NewService creates a new asset Service.
func NewService(store Store, logger *zap.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// SetAuditRecorder configures the audit callback.
func (s *Service) SetAuditRecorder(fn AuditRecorder) {
	s.audit = fn
}

// SetChangeListener configures the inventory change callback.
func (s *Service) SetChangeListener(fn ChangeListener) {
	s.onChange = fn
}

func (s *Service) changed(ctx context.Context) {
	if s.onChange == nil {
		return
	}
	s.onChange(ctx)
}

// Create validates and registers a new asset.
func (s *Service) Create(ctx context.Context, actor string, req *CreateRequest) (*Asset, error) {
	a := &Asset{
		Hostname:    strings.TrimSpace(req.Hostname),
		IPAddress:   strings.TrimSpace(req.IPAddress),
		Vendor:      strings.TrimSpace(req.Vendor),
		Product:     strings.TrimSpace(req.Product),
		Version:     strings.TrimSpace(req.Version),
		OSFamily:    strings.TrimSpace(req.OSFamily),
		OSVersion:   strings.TrimSpace(req.OSVersion),
		Owner:       strings.TrimSpace(req.Owner),
		Environment: Environment(req.Environment),
		Criticality: req.Criticality,
		Tags:        req.Tags,
	}
	if a.Environment == "" {
		a.Environment = EnvProduction
	}
	if a.Criticality == 0 {
		a.Criticality = 3
	}
	if err := validate(a); err != nil {
		return nil, err
	}

	if err := s.store.Create(ctx, a); err != nil {
		return nil, err
	}
	s.record(ctx, actor, "asset.created", a.ID.String(), a)
	s.changed(ctx)
	return a, nil
}

// Get retrieves a single asset.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Asset, error) {
	return s.store.GetByID(ctx, id)
}

// List returns a filtered page of assets and the total match count.
func (s *Service) List(ctx context.Context, f ListFilter) ([]*Asset, int, error) {
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return s.store.List(ctx, f)
}

// Update applies a partial update and returns the updated asset.
func (s *Service) Update(ctx context.Context, actor string, id uuid.UUID, req *UpdateRequest) (*Asset, error) {
	a, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Hostname != nil {
		a.Hostname = strings.TrimSpace(*req.Hostname)
	}
	if req.IPAddress != nil {
		a.IPAddress = strings.TrimSpace(*req.IPAddress)
	}
	if req.Vendor != nil {
		a.Vendor = strings.TrimSpace(*req.Vendor)
	}
	if req.Product != nil {
		a.Product = strings.TrimSpace(*req.Product)
	}
	if req.Version != nil {
		a.Version = strings.TrimSpace(*req.Version)
	}
	if req.OSFamily != nil {
		a.OSFamily = strings.TrimSpace(*req.OSFamily)
	}
	if req.OSVersion != nil {
		a.OSVersion = strings.TrimSpace(*req.OSVersion)
	}
	if req.Owner != nil {
		a.Owner = strings.TrimSpace(*req.Owner)
	}
	if req.Environment != nil {
		a.Environment = Environment(*req.Environment)
	}
	if req.Criticality != nil {
		a.Criticality = *req.Criticality
	}
	if req.Tags != nil {
		a.Tags = *req.Tags
	}
	if err := validate(a); err != nil {
		return nil, err
	}

	if err := s.store.Update(ctx, a); err != nil {
		return nil, err
	}
	s.record(ctx, actor, "asset.updated", a.ID.String(), req)
	s.changed(ctx)
	return a, nil
}

// Delete removes an asset and its associations.
func (s *Service) Delete(ctx context.Context, actor string, id uuid.UUID) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.record(ctx, actor, "asset.deleted", id.String(), nil)
	s.changed(ctx)
	return nil
}

func (s *Service) record(ctx context.Context, actor, action, entityID string, payload any) {
	if s.audit == nil {
		return
	}
	s.audit(ctx, actor, action, entityID, payload)
}

// validate enforces asset field invariants shared by create, update, and
// CSV import.
func validate(a *Asset) error {
	if a.Hostname == "" {
		return fmt.Errorf("%w: hostname is required", ErrInvalid)
	}
	if a.Product == "" {
		return fmt.Errorf("%w: product is required", ErrInvalid)
	}
	if a.Criticality < 1 || a.Criticality > 5 {
		return fmt.Errorf("%w: criticality must be between 1 and 5", ErrInvalid)
	}
	if !ValidEnvironment(string(a.Environment)) {
		return fmt.Errorf("%w: environment must be production, staging, or development", ErrInvalid)
	}
	if a.IPAddress != "" && net.ParseIP(a.IPAddress) == nil {
		return fmt.Errorf("%w: ip_address is not a valid IP", ErrInvalid)
	}
	return nil
}
