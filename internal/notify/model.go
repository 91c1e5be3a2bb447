// Package notify dispatches alerting events to configured notification
// rules. A rule names a channel (webhook or email), the event types it
// listens for, and a minimum risk level gate.
package notify

import (
	"time"

	"github.com/google/uuid"
	"github.com/sentra-ti/sentra/internal/risk"
)

// Channel identifies how a rule delivers its notifications.
type Channel string

// Supported channels.
const (
	ChannelWebhook Channel = "webhook"
	ChannelEmail   Channel = "email"
)

// Rule is a notification subscription.
type Rule struct {
	ID      uuid.UUID `json:"id"      db:"id"`
	Name    string    `json:"name"    db:"name"`
	Channel Channel   `json:"channel" db:"channel"`

	// Target is a URL for webhook rules and an address for email rules.
	Target string   `json:"target" db:"target"`
	Events []string `json:"events" db:"events"`

	// MinLevel gates delivery: events below it are dropped.
	MinLevel risk.Level `json:"min_level" db:"min_level"`

	Secret    string    `json:"-"          db:"secret"` // never returned in API responses
	Active    bool      `json:"active"     db:"active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Event is dispatched to matching rules.
type Event struct {
	Type      string            `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	RiskLevel risk.Level        `json:"risk_level"`
	Payload   map[string]string `json:"payload"`
}

// Delivery records the outcome of a single delivery attempt.
type Delivery struct {
	ID           uuid.UUID `json:"id"            db:"id"`
	RuleID       uuid.UUID `json:"rule_id"       db:"rule_id"`
	EventType    string    `json:"event_type"    db:"event_type"`
	Channel      Channel   `json:"channel"       db:"channel"`
	StatusCode   int       `json:"status_code"   db:"status_code"`
	Attempt      int       `json:"attempt"       db:"attempt"`
	Success      bool      `json:"success"       db:"success"`
	ErrorMessage string    `json:"error_message" db:"error_message"`
	DeliveredAt  time.Time `json:"delivered_at"  db:"delivered_at"`
}

// CreateRequest is the payload for creating a notification rule.
type CreateRequest struct {
	Name     string     `json:"name"    binding:"required"`
	Channel  Channel    `json:"channel" binding:"required"`
	Target   string     `json:"target"  binding:"required"`
	Events   []string   `json:"events"  binding:"required"`
	MinLevel risk.Level `json:"min_level"`
}

// UpdateRequest is the payload for a partial rule update.
type UpdateRequest struct {
	Name     *string     `json:"name,omitempty"`
	Target   *string     `json:"target,omitempty"`
	Events   *[]string   `json:"events,omitempty"`
	MinLevel *risk.Level `json:"min_level,omitempty"`
	Active   *bool       `json:"active,omitempty"`
}

// ValidChannel reports whether c is a supported channel.
func ValidChannel(c Channel) bool {
	return c == ChannelWebhook || c == ChannelEmail
}
