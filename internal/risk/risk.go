// Package risk implements the risk-score engine. It combines CVSS base score,
// asset criticality, affected-asset spread, PIR priority, and CISA KEV
// membership into a single bounded score with a discrete level, plus a
// component breakdown so the API can explain every number it serves.
package risk

import "math"

// Level is the discrete risk classification derived from a score.
type Level string

const (
	LevelCritical Level = "critical"
	LevelHigh     Level = "high"
	LevelMedium   Level = "medium"
	LevelLow      Level = "low"
)

// Input carries everything the formula consumes for one threat/asset pairing
// (or, for aggregate scoring, for one threat across its affected assets).
type Input struct {
	// CVSSScore is the CVSS v3 base score, 0–10.
	CVSSScore float64
	// Criticality is the asset importance, 1–5. For aggregate scoring this is
	// the maximum criticality across affected assets; 0 when no asset matches.
	Criticality int
	// AffectedAssets is the number of assets associated with the threat.
	AffectedAssets int
	// PIRPriority is the priority (1–5) of the highest-priority matching PIR
	// rule, or 0 when no rule matches.
	PIRPriority int
	// KEV is true when the CVE appears in the CISA KEV catalog.
	KEV bool
}

// Components itemises each additive term of the formula.
type Components struct {
	Base        float64 `json:"base"`
	Criticality float64 `json:"criticality"`
	Spread      float64 `json:"spread"`
	PIR         float64 `json:"pir"`
	KEV         float64 `json:"kev"`
}

// Assessment is the engine's output.
type Assessment struct {
	Score      float64    `json:"score"`
	Level      Level      `json:"level"`
	Components Components `json:"components"`
}

// Weights parameterises the formula. The zero value is not usable; start
// from DefaultWeights.
type Weights struct {
	// CVSSFactor scales the CVSS base score.
	CVSSFactor float64
	// CriticalityStep is added per criticality point, capped at CriticalityMax.
	CriticalityStep float64
	CriticalityMax  float64
	// SpreadFactor scales ln(1+n) of the affected-asset count, capped at SpreadMax.
	SpreadFactor float64
	SpreadMax    float64
	// PIRStep is added per PIR priority point, capped at PIRMax.
	PIRStep float64
	PIRMax  float64
	// KEVBonus is added when the CVE is a Known Exploited Vulnerability.
	KEVBonus float64
}

// DefaultWeights is the production formula.
func DefaultWeights() Weights {
	return Weights{
		CVSSFactor:      0.5,
		CriticalityStep: 0.4,
		CriticalityMax:  2.0,
		SpreadFactor:    0.25,
		SpreadMax:       1.0,
		PIRStep:         0.2,
		PIRMax:          1.0,
		KEVBonus:        1.5,
	}
}

// Engine computes risk assessments. Safe for concurrent use; it holds no
// mutable state.
type Engine struct {
	w Weights
}

// NewEngine returns an Engine using the default weights.
func NewEngine() *Engine {
	return &Engine{w: DefaultWeights()}
}

// NewEngineWithWeights returns an Engine with overridden weights.
func NewEngineWithWeights(w Weights) *Engine {
	return &Engine{w: w}
}

// Score runs the weighted additive formula. The result is deterministic,
// capped at 10.0, and rounded to one decimal place.
func (e *Engine) Score(in Input) Assessment {
	c := Components{}

	c.Base = clamp(in.CVSSScore, 0, 10) * e.w.CVSSFactor

	if in.Criticality > 0 {
		c.Criticality = math.Min(float64(in.Criticality)*e.w.CriticalityStep, e.w.CriticalityMax)
	}

	if in.AffectedAssets > 0 {
		c.Spread = math.Min(e.w.SpreadFactor*math.Log(1+float64(in.AffectedAssets)), e.w.SpreadMax)
	}

	if in.PIRPriority > 0 {
		c.PIR = math.Min(float64(in.PIRPriority)*e.w.PIRStep, e.w.PIRMax)
	}

	if in.KEV {
		c.KEV = e.w.KEVBonus
	}

	score := c.Base + c.Criticality + c.Spread + c.PIR + c.KEV
	score = round1(clamp(score, 0, 10))

	return Assessment{
		Score:      score,
		Level:      LevelForScore(score),
		Components: c,
	}
}

// LevelForScore maps a 0–10 score onto the discrete risk scale.
func LevelForScore(score float64) Level {
	switch {
	case score >= 9.0:
		return LevelCritical
	case score >= 7.0:
		return LevelHigh
	case score >= 4.0:
		return LevelMedium
	default:
		return LevelLow
	}
}

// Rank orders levels for threshold comparisons. Higher is more severe.
func (l Level) Rank() int {
	switch l {
	case LevelCritical:
		return 4
	case LevelHigh:
		return 3
	case LevelMedium:
		return 2
	case LevelLow:
		return 1
	default:
		return 0
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
