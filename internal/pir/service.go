package pir

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sentra-ti/sentra/internal/threat"
	"go.uber.org/zap"
)

// ErrInvalid is wrapped by service methods when the caller supplies bad input.
var ErrInvalid = errors.New("invalid pir rule")

// Store is the repository interface the service depends on.
type Store interface {
	Create(ctx context.Context, rule *Rule) error
	GetByID(ctx context.Context, id uuid.UUID) (*Rule, error)
	List(ctx context.Context) ([]*Rule, error)
	ListActive(ctx context.Context) ([]*Rule, error)
	Update(ctx context.Context, rule *Rule) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// AuditRecorder appends an audit entry for a mutation.
type AuditRecorder func(ctx context.Context, actor, action, entityID string, payload any)

// ChangeListener is notified after any rule mutation. Rule changes alter
// PIR bonuses across all assessments, so the association service hooks in
// here to recompute them.
type ChangeListener func(ctx context.Context)

// Evaluation is the outcome of matching a threat against the active rule set.
type Evaluation struct {
	// Matched lists the matching rules, strongest priority first.
	Matched []*Rule `json:"matched"`
	// TopPriority is the highest priority among matches, 0 when none match.
	TopPriority int `json:"top_priority"`
}

// Service implements PIR rule management and evaluation.
type Service struct {
	store    Store
	audit    AuditRecorder
	onChange ChangeListener
	logger   *zap.Logger
}

// NewService creates a new PIR Service.
func NewService(store Store, logger *zap.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// SetAuditRecorder configures the audit callback.
func (s *Service) SetAuditRecorder(fn AuditRecorder) {
	s.audit = fn
}

// SetChangeListener configures the rule change callback.
func (s *Service) SetChangeListener(fn ChangeListener) {
	s.onChange = fn
}

func (s *Service) changed(ctx context.Context) {
	if s.onChange == nil {
		return
	}
	s.onChange(ctx)
}

// Create validates and stores a new rule. Rules are created active.
func (s *Service) Create(ctx context.Context, actor string, req *CreateRequest) (*Rule, error) {
	rule := &Rule{
		Name:        strings.TrimSpace(req.Name),
		Description: strings.TrimSpace(req.Description),
		Priority:    req.Priority,
		Active:      true,
		Keywords:    req.Keywords,
		Vendors:     req.Vendors,
		Products:    req.Products,
		MinCVSS:     req.MinCVSS,
		KEVOnly:     req.KEVOnly,
	}
	if err := validate(rule); err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, rule); err != nil {
		return nil, err
	}
	s.record(ctx, actor, "pir.created", rule.ID.String(), rule)
	s.changed(ctx)
	return rule, nil
}

// Get retrieves a single rule.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Rule, error) {
	return s.store.GetByID(ctx, id)
}

// List returns every rule.
func (s *Service) List(ctx context.Context) ([]*Rule, error) {
	return s.store.List(ctx)
}

// Update applies a partial update and returns the updated rule.
func (s *Service) Update(ctx context.Context, actor string, id uuid.UUID, req *UpdateRequest) (*Rule, error) {
	rule, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		rule.Name = strings.TrimSpace(*req.Name)
	}
	if req.Description != nil {
		rule.Description = strings.TrimSpace(*req.Description)
	}
	if req.Priority != nil {
		rule.Priority = *req.Priority
	}
	if req.Active != nil {
		rule.Active = *req.Active
	}
	if req.Keywords != nil {
		rule.Keywords = *req.Keywords
	}
	if req.Vendors != nil {
		rule.Vendors = *req.Vendors
	}
	if req.Products != nil {
		rule.Products = *req.Products
	}
	if req.MinCVSS != nil {
		rule.MinCVSS = *req.MinCVSS
	}
	if req.KEVOnly != nil {
		rule.KEVOnly = *req.KEVOnly
	}
	if err := validate(rule); err != nil {
		return nil, err
	}

	if err := s.store.Update(ctx, rule); err != nil {
		return nil, err
	}
	s.record(ctx, actor, "pir.updated", rule.ID.String(), req)
	s.changed(ctx)
	return rule, nil
}

// Delete removes a rule.
func (s *Service) Delete(ctx context.Context, actor string, id uuid.UUID) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.record(ctx, actor, "pir.deleted", id.String(), nil)
	s.changed(ctx)
	return nil
}

// Evaluate matches a threat against the active rule set.
func (s *Service) Evaluate(ctx context.Context, t *threat.Threat) (*Evaluation, error) {
	rules, err := s.store.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active pir rules: %w", err)
	}

	eval := &Evaluation{Matched: []*Rule{}}
	for _, rule := range rules {
		if rule.Matches(t) {
			eval.Matched = append(eval.Matched, rule)
			if rule.Priority > eval.TopPriority {
				eval.TopPriority = rule.Priority
			}
		}
	}
	return eval, nil
}

func (s *Service) record(ctx context.Context, actor, action, entityID string, payload any) {
	if s.audit == nil {
		return
	}
	s.audit(ctx, actor, action, entityID, payload)
}

func validate(rule *Rule) error {
	if rule.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalid)
	}
	if rule.Priority < 1 || rule.Priority > 5 {
		return fmt.Errorf("%w: priority must be between 1 and 5", ErrInvalid)
	}
	if rule.MinCVSS < 0 || rule.MinCVSS > 10 {
		return fmt.Errorf("%w: min_cvss must be between 0 and 10", ErrInvalid)
	}
	if len(rule.Keywords) == 0 && len(rule.Vendors) == 0 && len(rule.Products) == 0 &&
		rule.MinCVSS == 0 && !rule.KEVOnly {
		return fmt.Errorf("%w: at least one criterion is required", ErrInvalid)
	}
	return nil
}
