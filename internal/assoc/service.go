package assoc

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/sentra-ti/sentra/internal/asset"
	"github.com/sentra-ti/sentra/internal/match"
	"github.com/sentra-ti/sentra/internal/pir"
	"github.com/sentra-ti/sentra/internal/risk"
	"github.com/sentra-ti/sentra/internal/threat"
	"go.uber.org/zap"
)

// Store is the repository interface the service depends on.
type Store interface {
	ReplaceForThreat(ctx context.Context, threatID uuid.UUID, assocs []*Association) error
	ListByThreat(ctx context.Context, threatID uuid.UUID) ([]*Association, error)
	ListByAsset(ctx context.Context, assetID uuid.UUID) ([]*Association, error)
	Count(ctx context.Context) (int, error)
	UpsertAssessment(ctx context.Context, a *ThreatAssessment) error
	GetAssessment(ctx context.Context, threatID uuid.UUID) (*ThreatAssessment, error)
	TopByScore(ctx context.Context, n int) ([]*ThreatAssessment, error)
}

// AssetSource supplies the inventory for matching runs.
type AssetSource interface {
	ListAll(ctx context.Context) ([]*asset.Asset, error)
	GetByID(ctx context.Context, id uuid.UUID) (*asset.Asset, error)
}

// ThreatSource supplies threat records for matching sweeps.
type ThreatSource interface {
	ListAll(ctx context.Context) ([]*threat.Threat, error)
	GetByID(ctx context.Context, id uuid.UUID) (*threat.Threat, error)
}

// PIREvaluator matches a threat against the active PIR rule set.
type PIREvaluator interface {
	Evaluate(ctx context.Context, t *threat.Threat) (*pir.Evaluation, error)
}

// EventFunc is notified of scoring outcomes worth alerting on. Wired to the
// notification dispatcher in production.
type EventFunc func(ctx context.Context, eventType string, riskLevel risk.Level, payload map[string]string)

// Event types emitted by the service.
const (
	EventRiskLevelChanged = "risk.level_changed"
	EventAssessmentHigh   = "assessment.high"
	EventPIRMatched       = "pir.matched"
)

// Service runs the matching pipeline: classify threat against inventory,
// persist associations, score every pairing, and keep the per-threat
// aggregate assessment current.
type Service struct {
	store   Store
	assets  AssetSource
	threats ThreatSource
	pirs    PIREvaluator
	engine  *risk.Engine
	onEvent EventFunc
	logger  *zap.Logger
}

// NewService creates a new association Service.
func NewService(store Store, assets AssetSource, threats ThreatSource, pirs PIREvaluator, engine *risk.Engine, logger *zap.Logger) *Service {
	return &Service{
		store:   store,
		assets:  assets,
		threats: threats,
		pirs:    pirs,
		engine:  engine,
		logger:  logger,
	}
}

// SetEventFunc configures the notification callback.
func (s *Service) SetEventFunc(fn EventFunc) {
	s.onEvent = fn
}

// RecomputeThreat reruns matching and scoring for one threat. The association
// set is replaced wholesale and the aggregate assessment upserted.
func (s *Service) RecomputeThreat(ctx context.Context, t *threat.Threat) (*ThreatAssessment, error) {
	inventory, err := s.assets.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}

	eval, err := s.pirs.Evaluate(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("evaluate pir rules: %w", err)
	}

	type hit struct {
		a *asset.Asset
		r match.Result
	}
	var hits []hit
	maxCrit := 0
	for _, a := range inventory {
		r, ok := match.Classify(t, a)
		if !ok {
			continue
		}
		hits = append(hits, hit{a: a, r: r})
		if a.Criticality > maxCrit {
			maxCrit = a.Criticality
		}
	}

	assocs := make([]*Association, 0, len(hits))
	for _, h := range hits {
		assessment := s.engine.Score(risk.Input{
			CVSSScore:      t.CVSSScore,
			Criticality:    h.a.Criticality,
			AffectedAssets: len(hits),
			PIRPriority:    eval.TopPriority,
			KEV:            t.KEV,
		})
		assocs = append(assocs, &Association{
			ThreatID:       t.ID,
			AssetID:        h.a.ID,
			MatchType:      h.r.Type,
			Confidence:     h.r.Confidence,
			MatchedProduct: h.r.MatchedProduct,
			VersionDetail:  h.r.VersionDetail,
			RiskScore:      assessment.Score,
			RiskLevel:      assessment.Level,
			Components:     assessment.Components,
		})
	}

	if err := s.store.ReplaceForThreat(ctx, t.ID, assocs); err != nil {
		return nil, fmt.Errorf("replace associations: %w", err)
	}

	aggregate := s.engine.Score(risk.Input{
		CVSSScore:      t.CVSSScore,
		Criticality:    maxCrit,
		AffectedAssets: len(hits),
		PIRPriority:    eval.TopPriority,
		KEV:            t.KEV,
	})

	prev, err := s.store.GetAssessment(ctx, t.ID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("load previous assessment: %w", err)
	}

	matchedPIRs := make([]uuid.UUID, 0, len(eval.Matched))
	for _, rule := range eval.Matched {
		matchedPIRs = append(matchedPIRs, rule.ID)
	}

	result := &ThreatAssessment{
		ThreatID:       t.ID,
		Score:          aggregate.Score,
		Level:          aggregate.Level,
		Components:     aggregate.Components,
		AffectedAssets: len(hits),
		MaxCriticality: maxCrit,
		PIRPriority:    eval.TopPriority,
		MatchedPIRs:    matchedPIRs,
	}
	if err := s.store.UpsertAssessment(ctx, result); err != nil {
		return nil, err
	}

	s.emitEvents(ctx, t, prev, result, eval)
	return result, nil
}

// RecomputeAll reruns matching and scoring for every threat. Used after
// inventory imports and PIR rule changes; individual failures are logged
// and the sweep continues.
func (s *Service) RecomputeAll(ctx context.Context) (int, error) {
	threats, err := s.threats.ListAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("list threats: %w", err)
	}

	done := 0
	for _, t := range threats {
		if ctx.Err() != nil {
			return done, ctx.Err()
		}
		if _, err := s.RecomputeThreat(ctx, t); err != nil {
			s.logger.Warn("recompute threat failed",
				zap.String("cve_id", t.CVEID),
				zap.Error(err),
			)
			continue
		}
		done++
	}
	return done, nil
}

// ListByThreat returns the associations of a threat.
func (s *Service) ListByThreat(ctx context.Context, threatID uuid.UUID) ([]*Association, error) {
	return s.store.ListByThreat(ctx, threatID)
}

// ListByAsset returns the associations of an asset.
func (s *Service) ListByAsset(ctx context.Context, assetID uuid.UUID) ([]*Association, error) {
	return s.store.ListByAsset(ctx, assetID)
}

// GetAssessment returns the aggregate assessment for a threat.
func (s *Service) GetAssessment(ctx context.Context, threatID uuid.UUID) (*ThreatAssessment, error) {
	return s.store.GetAssessment(ctx, threatID)
}

// TopByScore returns the n highest-risk assessments.
func (s *Service) TopByScore(ctx context.Context, n int) ([]*ThreatAssessment, error) {
	return s.store.TopByScore(ctx, n)
}

func (s *Service) emitEvents(ctx context.Context, t *threat.Threat, prev, cur *ThreatAssessment, eval *pir.Evaluation) {
	if s.onEvent == nil {
		return
	}

	base := map[string]string{
		"cve_id":     t.CVEID,
		"threat_id":  t.ID.String(),
		"risk_score": strconv.FormatFloat(cur.Score, 'f', 1, 64),
		"risk_level": string(cur.Level),
	}

	if prev != nil && prev.Level != cur.Level {
		payload := clone(base)
		payload["previous_level"] = string(prev.Level)
		s.onEvent(ctx, EventRiskLevelChanged, cur.Level, payload)
	}

	newlyScored := prev == nil
	if newlyScored && (cur.Level == risk.LevelHigh || cur.Level == risk.LevelCritical) {
		s.onEvent(ctx, EventAssessmentHigh, cur.Level, clone(base))
	}

	if len(eval.Matched) > 0 && (prev == nil || prev.PIRPriority != cur.PIRPriority) {
		payload := clone(base)
		payload["pir_priority"] = strconv.Itoa(cur.PIRPriority)
		payload["pir_name"] = eval.Matched[0].Name
		s.onEvent(ctx, EventPIRMatched, cur.Level, payload)
	}
}

func clone(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
