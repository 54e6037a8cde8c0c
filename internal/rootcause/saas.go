package rootcause

import (
	"fmt"

	"insight-engine/internal/config"
	"insight-engine/internal/signal"
)

// saasEngine applies subscription-business rules. All of its input
// signals are hard requirements: a missing key is a caller error and is
// reported by name rather than silently zeroed.
type saasEngine struct {
	sev   config.SeverityBands
	rules config.RuleThresholds
}

func (e *saasEngine) Analyze(kpiData, forecastData, riskData map[string]float64) (Result, error) {
	revenueGrowth, err := require(kpiData, signal.RevenueGrowthDelta)
	if err != nil {
		return Result{}, fmt.Errorf("saas engine: %w", err)
	}
	churnDelta, err := require(kpiData, signal.ChurnDelta)
	if err != nil {
		return Result{}, fmt.Errorf("saas engine: %w", err)
	}
	cacDelta, err := require(kpiData, "cac_delta")
	if err != nil {
		return Result{}, fmt.Errorf("saas engine: %w", err)
	}
	ltvDelta, err := require(kpiData, "ltv_delta")
	if err != nil {
		return Result{}, fmt.Errorf("saas engine: %w", err)
	}
	slope, err := require(forecastData, signal.Slope)
	if err != nil {
		return Result{}, fmt.Errorf("saas engine: %w", err)
	}
	deviation, err := require(forecastData, signal.DeviationPct)
	if err != nil {
		return Result{}, fmt.Errorf("saas engine: %w", err)
	}
	riskScore, err := require(riskData, "risk_score")
	if err != nil {
		return Result{}, fmt.Errorf("saas engine: %w", err)
	}

	var triggered []string

	// 1. Retention issue: churn rising while revenue falling.
	if churnDelta > 0 && revenueGrowth < 0 {
		triggered = append(triggered, IssueRetention)
	}
	// 2. Acquisition inefficiency: CAC rising with flat or negative revenue.
	if cacDelta > 0 && revenueGrowth <= 0 {
		triggered = append(triggered, IssueAcquisitionInefficiency)
	}
	// 3. Customer value decline: churn rising with LTV falling.
	if churnDelta > 0 && ltvDelta < 0 {
		triggered = append(triggered, IssueCustomerValueDecline)
	}
	// 4. Negative growth trend: slope and deviation both negative.
	if slope < 0 && deviation < 0 {
		triggered = append(triggered, IssueNegativeGrowthTrend)
	}
	// 5. High business risk, additive only.
	if riskScore > e.rules.HighBusinessRisk {
		triggered = append(triggered, IssueHighBusinessRisk)
	}

	return compose(triggered, riskScore, e.sev), nil
}
