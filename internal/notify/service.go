package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sentra-ti/sentra/internal/email"
	"github.com/sentra-ti/sentra/internal/risk"
	"go.uber.org/zap"
)

// ErrInvalid is returned when a request fails validation.
var ErrInvalid = errors.New("invalid notification rule")

// Store is the repository interface the service depends on.
type Store interface {
	Create(ctx context.Context, rule *Rule) error
	GetByID(ctx context.Context, id uuid.UUID) (*Rule, error)
	List(ctx context.Context) ([]*Rule, error)
	ListByEvent(ctx context.Context, eventType string) ([]*Rule, error)
	Update(ctx context.Context, rule *Rule) error
	Delete(ctx context.Context, id uuid.UUID) error
	RecordDelivery(ctx context.Context, d *Delivery) error
	ListDeliveries(ctx context.Context, ruleID uuid.UUID, limit int) ([]*Delivery, error)
}

// AuditRecorder appends an audit entry for a mutation.
type AuditRecorder func(ctx context.Context, actor, action, entityID string, payload any)

// MetricsRecorder is an optional callback for recording delivery outcomes.
type MetricsRecorder func(success bool)

// Service manages notification rules and dispatches events to them.
type Service struct {
	store      Store
	emails     email.Sender
	httpClient *http.Client
	audit      AuditRecorder
	onMetrics  MetricsRecorder
	logger     *zap.Logger

	// Retry backoff before attempts 2 and 3.
	retryDelays []time.Duration
}

// NewService creates a new notification Service.
func NewService(store Store, emails email.Sender, logger *zap.Logger) *Service {
	return &Service{
		store:       store,
		emails:      emails,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		logger:      logger,
		retryDelays: []time.Duration{1 * time.Second, 5 * time.Second},
	}
}

// SetAuditRecorder configures the audit callback.
func (s *Service) SetAuditRecorder(fn AuditRecorder) {
	s.audit = fn
}

// SetMetricsRecorder configures the metrics callback.
func (s *Service) SetMetricsRecorder(fn MetricsRecorder) {
	s.onMetrics = fn
}

// Create validates and registers a new rule. Webhook rules get a generated
// HMAC secret, returned once on the created rule.
func (s *Service) Create(ctx context.Context, actor string, req *CreateRequest) (*Rule, error) {
	if err := validate(req.Name, req.Channel, req.Target, req.Events); err != nil {
		return nil, err
	}

	rule := &Rule{
		Name:     strings.TrimSpace(req.Name),
		Channel:  req.Channel,
		Target:   strings.TrimSpace(req.Target),
		Events:   req.Events,
		MinLevel: req.MinLevel,
		Active:   true,
	}
	if rule.MinLevel == "" {
		rule.MinLevel = risk.LevelLow
	}
	if rule.Channel == ChannelWebhook {
		secret, err := generateSecret()
		if err != nil {
			return nil, fmt.Errorf("generate secret: %w", err)
		}
		rule.Secret = secret
	}

	if err := s.store.Create(ctx, rule); err != nil {
		return nil, err
	}
	s.record(ctx, actor, "notification.rule_created", rule.ID.String(), rule)
	return rule, nil
}

// Get retrieves a single rule.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Rule, error) {
	return s.store.GetByID(ctx, id)
}

// List returns all rules.
func (s *Service) List(ctx context.Context) ([]*Rule, error) {
	return s.store.List(ctx)
}

// Update applies a partial update to a rule.
func (s *Service) Update(ctx context.Context, actor string, id uuid.UUID, req *UpdateRequest) (*Rule, error) {
	rule, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		rule.Name = strings.TrimSpace(*req.Name)
	}
	if req.Target != nil {
		rule.Target = strings.TrimSpace(*req.Target)
	}
	if req.Events != nil {
		rule.Events = *req.Events
	}
	if req.MinLevel != nil {
		rule.MinLevel = *req.MinLevel
	}
	if req.Active != nil {
		rule.Active = *req.Active
	}
	if err := validate(rule.Name, rule.Channel, rule.Target, rule.Events); err != nil {
		return nil, err
	}

	if err := s.store.Update(ctx, rule); err != nil {
		return nil, err
	}
	s.record(ctx, actor, "notification.rule_updated", rule.ID.String(), rule)
	return rule, nil
}

// Delete removes a rule.
func (s *Service) Delete(ctx context.Context, actor string, id uuid.UUID) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.record(ctx, actor, "notification.rule_deleted", id.String(), nil)
	return nil
}

// ListDeliveries returns a rule's recent delivery history.
func (s *Service) ListDeliveries(ctx context.Context, ruleID uuid.UUID, limit int) ([]*Delivery, error) {
	return s.store.ListDeliveries(ctx, ruleID, limit)
}

// Dispatch fans out an event to all matching active rules. Rules whose
// minimum level exceeds the event's risk level are skipped. Implements the
// event callback the association service expects.
func (s *Service) Dispatch(ctx context.Context, eventType string, riskLevel risk.Level, payload map[string]string) {
	rules, err := s.store.ListByEvent(ctx, eventType)
	if err != nil {
		s.logger.Error("notify: list rules", zap.Error(err))
		return
	}

	event := Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		RiskLevel: riskLevel,
		Payload:   payload,
	}

	for _, rule := range rules {
		if riskLevel.Rank() < rule.MinLevel.Rank() {
			continue
		}
		go s.deliver(context.WithoutCancel(ctx), rule, event)
	}
}

// deliver sends the event to a single rule with up to three attempts.
func (s *Service) deliver(ctx context.Context, rule *Rule, event Event) {
	for attempt := 1; attempt <= 3; attempt++ {
		if attempt > 1 {
			time.Sleep(s.retryDelays[attempt-2])
		}

		var success bool
		var statusCode int
		var errMsg string
		switch rule.Channel {
		case ChannelEmail:
			success, errMsg = s.deliverEmail(ctx, rule, event)
		default:
			success, statusCode, errMsg = s.deliverWebhook(ctx, rule, event)
		}

		delivery := &Delivery{
			RuleID:       rule.ID,
			EventType:    event.Type,
			Channel:      rule.Channel,
			StatusCode:   statusCode,
			Attempt:      attempt,
			Success:      success,
			ErrorMessage: errMsg,
		}
		if recordErr := s.store.RecordDelivery(ctx, delivery); recordErr != nil {
			s.logger.Warn("notify: record delivery", zap.Error(recordErr))
		}

		if s.onMetrics != nil {
			s.onMetrics(success)
		}

		if success {
			return
		}

		s.logger.Warn("notify: delivery failed",
			zap.String("rule", rule.Name),
			zap.String("channel", string(rule.Channel)),
			zap.Int("attempt", attempt),
			zap.String("error", errMsg),
		)
	}
}

func (s *Service) deliverWebhook(ctx context.Context, rule *Rule, event Event) (bool, int, string) {
	body, err := json.Marshal(event)
	if err != nil {
		return false, 0, err.Error()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rule.Target, bytes.NewReader(body))
	if err != nil {
		return false, 0, err.Error()
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Hub-Signature-256", signPayload(body, rule.Secret))

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return false, 0, err.Error()
	}
	defer resp.Body.Close()
	io.ReadAll(io.LimitReader(resp.Body, 1024)) //nolint:errcheck

	success := resp.StatusCode >= 200 && resp.StatusCode < 300
	errMsg := ""
	if !success {
		errMsg = fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	return success, resp.StatusCode, errMsg
}

func (s *Service) deliverEmail(ctx context.Context, rule *Rule, event Event) (bool, string) {
	subject := fmt.Sprintf("[%s] %s", strings.ToUpper(string(event.RiskLevel)), event.Type)
	var b strings.Builder
	fmt.Fprintf(&b, "Event:      %s\n", event.Type)
	fmt.Fprintf(&b, "Risk level: %s\n", event.RiskLevel)
	fmt.Fprintf(&b, "Time:       %s\n\n", event.Timestamp.Format(time.RFC3339))
	for k, v := range event.Payload {
		fmt.Fprintf(&b, "%s: %s\n", k, v)
	}

	if err := s.emails.Send(ctx, rule.Target, subject, b.String()); err != nil {
		return false, err.Error()
	}
	return true, ""
}

func (s *Service) record(ctx context.Context, actor, action, entityID string, payload any) {
	if s.audit != nil {
		s.audit(ctx, actor, action, entityID, payload)
	}
}

func validate(name string, channel Channel, target string, events []string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalid)
	}
	if !ValidChannel(channel) {
		return fmt.Errorf("%w: channel must be webhook or email", ErrInvalid)
	}
	if strings.TrimSpace(target) == "" {
		return fmt.Errorf("%w: target is required", ErrInvalid)
	}
	if channel == ChannelWebhook {
		u, err := url.Parse(target)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("%w: webhook target must be an http(s) URL", ErrInvalid)
		}
	}
	if channel == ChannelEmail && !strings.Contains(target, "@") {
		return fmt.Errorf("%w: email target must be an address", ErrInvalid)
	}
	if len(events) == 0 {
		return fmt.Errorf("%w: at least one event type is required", ErrInvalid)
	}
	return nil
}

// signPayload computes an HMAC-SHA256 signature.
func signPayload(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// generateSecret creates a random 32-byte hex-encoded secret.
func generateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
