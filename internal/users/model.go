// Package users manages operator accounts: password and OAuth credentials
// plus the role that gates API access.
package users

import (
	"time"

	"github.com/google/uuid"
)

// Role represents an account's access level.
type Role string

// Roles, from most to least privileged. Admins manage accounts and feeds,
// analysts mutate inventory and threat data, viewers read.
const (
	RoleAdmin   Role = "admin"
	RoleAnalyst Role = "analyst"
	RoleViewer  Role = "viewer"
)

// ValidRole reports whether r is a known role.
func ValidRole(r Role) bool {
	return r == RoleAdmin || r == RoleAnalyst || r == RoleViewer
}

// Rank orders roles for privilege comparisons. Higher is more privileged.
func (r Role) Rank() int {
	switch r {
	case RoleAdmin:
		return 3
	case RoleAnalyst:
		return 2
	case RoleViewer:
		return 1
	default:
		return 0
	}
}

// User represents an operator account.
type User struct {
	ID           uuid.UUID `json:"id"           db:"id"`
	Email        string    `json:"email"        db:"email"`
	PasswordHash string    `json:"-"            db:"password_hash"`
	DisplayName  string    `json:"display_name" db:"display_name"`
	Role         Role      `json:"role"         db:"role"`
	Active       bool      `json:"active"       db:"active"`
	CreatedAt    time.Time `json:"created_at"   db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"   db:"updated_at"`
}

// OAuthAccount links a user to an OAuth provider identity.
type OAuthAccount struct {
	ID         uuid.UUID `json:"id"          db:"id"`
	UserID     uuid.UUID `json:"user_id"     db:"user_id"`
	Provider   string    `json:"provider"    db:"provider"`
	ProviderID string    `json:"provider_id" db:"provider_id"`
	CreatedAt  time.Time `json:"created_at"  db:"created_at"`
}
