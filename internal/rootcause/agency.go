package rootcause

import (
	"fmt"

	"insight-engine/internal/config"
	"insight-engine/internal/signal"
)

// agencyEngine applies service-business rules. Like the SaaS engine it
// hard-requires its inputs and names the missing signal on failure.
type agencyEngine struct {
	sev   config.SeverityBands
	rules config.RuleThresholds
}

func (e *agencyEngine) Analyze(kpiData, forecastData, riskData map[string]float64) (Result, error) {
	revenueGrowth, err := require(kpiData, signal.RevenueGrowthDelta)
	if err != nil {
		return Result{}, fmt.Errorf("agency engine: %w", err)
	}
	churnDelta, err := require(kpiData, signal.ChurnDelta)
	if err != nil {
		return Result{}, fmt.Errorf("agency engine: %w", err)
	}
	utilizationDelta, err := require(kpiData, "utilization_delta")
	if err != nil {
		return Result{}, fmt.Errorf("agency engine: %w", err)
	}
	revenuePerEmployeeDelta, err := require(kpiData, "revenue_per_employee_delta")
	if err != nil {
		return Result{}, fmt.Errorf("agency engine: %w", err)
	}
	slope, err := require(forecastData, signal.Slope)
	if err != nil {
		return Result{}, fmt.Errorf("agency engine: %w", err)
	}
	riskScore, err := require(riskData, "risk_score")
	if err != nil {
		return Result{}, fmt.Errorf("agency engine: %w", err)
	}

	var triggered []string

	// 1. Client retention issue: client churn rising.
	if churnDelta > 0 {
		triggered = append(triggered, IssueClientRetention)
	}
	// 2. Underutilization problem: team utilization falling.
	if utilizationDelta < 0 {
		triggered = append(triggered, IssueUnderutilization)
	}
	// 3. Productivity decline: revenue per employee falling.
	if revenuePerEmployeeDelta < 0 {
		triggered = append(triggered, IssueProductivityDecline)
	}
	// 4. Capacity misalignment: revenue and utilization both declining.
	if revenueGrowth < 0 && utilizationDelta < 0 {
		triggered = append(triggered, IssueCapacityMisalign)
	}
	// 5. Future revenue risk: projection points down.
	if slope < 0 {
		triggered = append(triggered, IssueFutureRevenueRisk)
	}
	// 6. High business risk, additive only.
	if riskScore > e.rules.HighBusinessRisk {
		triggered = append(triggered, IssueHighBusinessRisk)
	}

	return compose(triggered, riskScore, e.sev), nil
}
