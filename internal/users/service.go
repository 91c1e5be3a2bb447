package users

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalid is returned when a request fails validation.
var ErrInvalid = errors.New("invalid user")

// ErrInvalidCredentials is returned on login failure. It deliberately does
// not distinguish unknown accounts from wrong passwords.
var ErrInvalidCredentials = errors.New("invalid credentials")

// ErrLastAdmin is returned when a change would leave no active admin.
var ErrLastAdmin = errors.New("cannot remove the last active admin")

// Store is the storage interface consumed by the service.
type Store interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByOAuth(ctx context.Context, provider, providerID string) (*User, error)
	LinkOAuth(ctx context.Context, userID uuid.UUID, provider, providerID string) error
	List(ctx context.Context) ([]*User, error)
	SetPasswordHash(ctx context.Context, userID uuid.UUID, hash string) error
	SetRole(ctx context.Context, userID uuid.UUID, role Role) error
	SetActive(ctx context.Context, userID uuid.UUID, active bool) error
	CountAdmins(ctx context.Context) (int, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// AuditRecorder appends an audit entry for a mutation.
type AuditRecorder func(ctx context.Context, actor, action, entityID string, payload any)

// Service implements account management business logic.
type Service struct {
	store  Store
	audit  AuditRecorder
	logger *zap.Logger
}

// NewService creates a new user Service.
func NewService(store Store, logger *zap.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// SetAuditRecorder configures the audit callback.
func (s *Service) SetAuditRecorder(fn AuditRecorder) {
	s.audit = fn
}

// Create registers a new account. Password accounts require at least eight
// characters; OAuth-only accounts pass an empty password.
func (s *Service) Create(ctx context.Context, actor, email, password, displayName string, role Role) (*User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: a valid email is required", ErrInvalid)
	}
	if role == "" {
		role = RoleViewer
	}
	if !ValidRole(role) {
		return nil, fmt.Errorf("%w: role must be one of admin, analyst, viewer", ErrInvalid)
	}

	var hash string
	if password != "" {
		if len(password) < 8 {
			return nil, fmt.Errorf("%w: password must be at least 8 characters", ErrInvalid)
		}
		h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		hash = string(h)
	}

	if displayName == "" {
		displayName = email[:strings.Index(email, "@")]
	}

	u := &User{
		Email:        email,
		PasswordHash: hash,
		DisplayName:  displayName,
		Role:         role,
		Active:       true,
	}
	if err := s.store.Create(ctx, u); err != nil {
		return nil, err
	}

	s.record(ctx, actor, "user.created", u.ID.String(), map[string]string{
		"email": u.Email,
		"role":  string(u.Role),
	})
	return u, nil
}

// Login verifies email/password credentials and returns the user on success.
// Disabled accounts cannot log in.
func (s *Service) Login(ctx context.Context, email, password string) (*User, error) {
	u, err := s.store.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	if !u.Active {
		return nil, ErrInvalidCredentials
	}
	if u.PasswordHash == "" {
		return nil, fmt.Errorf("account uses OAuth login; password not set")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

// GetByID retrieves a user by ID.
func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.store.GetByID(ctx, id)
}

// List returns all accounts.
func (s *Service) List(ctx context.Context) ([]*User, error) {
	return s.store.List(ctx)
}

// ChangePassword verifies the current password and sets a new one.
func (s *Service) ChangePassword(ctx context.Context, userID uuid.UUID, current, next string) error {
	u, err := s.store.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if u.PasswordHash != "" {
		if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(current)); err != nil {
			return ErrInvalidCredentials
		}
	}
	if len(next) < 8 {
		return fmt.Errorf("%w: password must be at least 8 characters", ErrInvalid)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(next), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.store.SetPasswordHash(ctx, userID, string(hash)); err != nil {
		return err
	}
	s.record(ctx, u.Email, "user.password_changed", userID.String(), nil)
	return nil
}

// SetRole changes an account's role. Demoting the last active admin is refused.
func (s *Service) SetRole(ctx context.Context, actor string, userID uuid.UUID, role Role) error {
	if !ValidRole(role) {
		return fmt.Errorf("%w: role must be one of admin, analyst, viewer", ErrInvalid)
	}

	u, err := s.store.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if u.Role == RoleAdmin && role != RoleAdmin {
		if err := s.ensureNotLastAdmin(ctx); err != nil {
			return err
		}
	}

	if err := s.store.SetRole(ctx, userID, role); err != nil {
		return err
	}
	s.record(ctx, actor, "user.role_changed", userID.String(), map[string]string{
		"from": string(u.Role),
		"to":   string(role),
	})
	return nil
}

// SetActive enables or disables an account. Disabling the last active admin
// is refused.
func (s *Service) SetActive(ctx context.Context, actor string, userID uuid.UUID, active bool) error {
	u, err := s.store.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if !active && u.Role == RoleAdmin && u.Active {
		if err := s.ensureNotLastAdmin(ctx); err != nil {
			return err
		}
	}

	if err := s.store.SetActive(ctx, userID, active); err != nil {
		return err
	}
	action := "user.disabled"
	if active {
		action = "user.enabled"
	}
	s.record(ctx, actor, action, userID.String(), nil)
	return nil
}

// Delete removes an account. Deleting the last active admin is refused.
func (s *Service) Delete(ctx context.Context, actor string, userID uuid.UUID) error {
	u, err := s.store.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if u.Role == RoleAdmin && u.Active {
		if err := s.ensureNotLastAdmin(ctx); err != nil {
			return err
		}
	}

	if err := s.store.Delete(ctx, userID); err != nil {
		return err
	}
	s.record(ctx, actor, "user.deleted", userID.String(), map[string]string{"email": u.Email})
	return nil
}

// GetOrCreateFromOAuth retrieves the user linked to the OAuth identity, or
// creates one. New OAuth accounts start as viewers. Returns the user and
// true when newly created.
func (s *Service) GetOrCreateFromOAuth(ctx context.Context, provider, providerID, email, displayName string) (*User, bool, error) {
	u, err := s.store.GetByOAuth(ctx, provider, providerID)
	if err == nil {
		if !u.Active {
			return nil, false, ErrInvalidCredentials
		}
		return u, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, fmt.Errorf("lookup oauth user: %w", err)
	}

	// Link to an existing password account with the same email.
	existing, err := s.store.GetByEmail(ctx, strings.ToLower(email))
	if err == nil {
		if !existing.Active {
			return nil, false, ErrInvalidCredentials
		}
		if err := s.store.LinkOAuth(ctx, existing.ID, provider, providerID); err != nil {
			return nil, false, fmt.Errorf("link oauth: %w", err)
		}
		return existing, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, fmt.Errorf("lookup user by email: %w", err)
	}

	created, err := s.Create(ctx, provider, email, "", displayName, RoleViewer)
	if err != nil {
		return nil, false, err
	}
	if err := s.store.LinkOAuth(ctx, created.ID, provider, providerID); err != nil {
		return nil, false, fmt.Errorf("link oauth: %w", err)
	}

	s.logger.Info("oauth account created",
		zap.String("provider", provider),
		zap.String("email", email),
	)
	return created, true, nil
}

func (s *Service) ensureNotLastAdmin(ctx context.Context) error {
	n, err := s.store.CountAdmins(ctx)
	if err != nil {
		return err
	}
	if n <= 1 {
		return ErrLastAdmin
	}
	return nil
}

func (s *Service) record(ctx context.Context, actor, action, entityID string, payload any) {
	if s.audit != nil {
		s.audit(ctx, actor, action, entityID, payload)
	}
}
