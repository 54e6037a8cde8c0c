// Package risk turns the normalized signal vector into a single 0-100
// business risk score with a coarse level classification.
package risk

import (
	"math"

	"insight-engine/internal/config"
	"insight-engine/internal/signal"
)

// Risk levels.
const (
	LevelLow      = "low"
	LevelModerate = "moderate"
	LevelHigh     = "high"
	LevelCritical = "critical"
)

// Result is the scored output. Breakdown holds each component's weighted
// contribution on the 0-1 scale before the final scaling to 0-100.
type Result struct {
	Score     int                `json:"risk_score"`
	Level     string             `json:"risk_level"`
	Breakdown map[string]float64 `json:"breakdown"`
}

// Model computes weighted risk scores. Weights and normalization caps are
// injected so a deployment can rebalance without a rebuild.
type Model struct {
	w config.RiskWeights
}

func NewModel(w config.RiskWeights) *Model {
	return &Model{w: w}
}

// Compute scores the signal vector.
//
// Bidirectional signals (revenue growth, churn movement) are mapped
// through (v+1)/2 so that a flat business sits at 0.5, growth pulls the
// component toward 0 and decline toward 1. The mapping is deliberately
// not clamped: a delta beyond +/-100% keeps pushing the component, and
// the final clamp on the total score absorbs the excess.
//
// One-directional signals (declining forecast, deviation, churn
// acceleration) are scaled against their cap and clamped to [0, 1], so
// only the risky direction contributes.
func (m *Model) Compute(s signal.FlatSignals) Result {
	revenue := normalizePercentage(-s.RevenueGrowthDelta)
	churn := normalizePercentage(s.ChurnDelta)
	slope := normalizePositive(-s.Slope, m.w.MaxSlope)
	deviation := normalizePositive(s.DeviationPct, m.w.MaxDeviation)
	acceleration := normalizePositive(s.ChurnAcceleration, m.w.MaxAcceleration)

	weighted := m.w.Revenue*revenue +
		m.w.Churn*churn +
		m.w.Forecast*slope +
		m.w.Deviation*deviation +
		m.w.Acceleration*acceleration

	score := int(math.Round(clamp(weighted*100, 0, 100)))

	return Result{
		Score: score,
		Level: m.classify(score),
		Breakdown: map[string]float64{
			"revenue_growth":     round6(m.w.Revenue * revenue),
			"churn_movement":     round6(m.w.Churn * churn),
			"forecast_slope":     round6(m.w.Forecast * slope),
			"deviation":          round6(m.w.Deviation * deviation),
			"churn_acceleration": round6(m.w.Acceleration * acceleration),
		},
	}
}

func (m *Model) classify(score int) string {
	switch {
	case float64(score) <= m.w.LowMax:
		return LevelLow
	case float64(score) <= m.w.ModerateMax:
		return LevelModerate
	case float64(score) <= m.w.HighMax:
		return LevelHigh
	default:
		return LevelCritical
	}
}

// normalizePercentage maps a signed relative delta onto a risk component
// centered at 0.5. Unclamped on purpose, see Compute.
func normalizePercentage(v float64) float64 {
	return (v + 1) / 2
}

// normalizePositive scales v against cap and clamps to [0, 1]. Values in
// the non-risky direction come out as 0.
func normalizePositive(v, cap float64) float64 {
	if cap <= 0 {
		return 0
	}
	return clamp(v/cap, 0, 1)
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

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
