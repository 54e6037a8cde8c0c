// Package rootcause diagnoses the primary issue behind an entity's
// performance signals using business-type-specific rule sets.
//
// Each engine evaluates a fixed, ordered list of boolean rules. Every
// matching rule fires: the first match becomes the primary issue and the
// rest are appended, in declaration order, as contributing factors.
// Severity is derived from the risk score alone, so a low-risk entity
// with a triggered rule still reports low severity.
package rootcause

import (
	"fmt"

	"insight-engine/internal/config"
	"insight-engine/internal/kpi"
)

// Issue codes emitted by the engines.
const (
	IssueNone = "no_issue_detected"

	// SaaS
	IssueRetention               = "retention_issue"
	IssueAcquisitionInefficiency = "acquisition_inefficiency"
	IssueCustomerValueDecline    = "customer_value_decline"
	IssueNegativeGrowthTrend     = "negative_growth_trend"

	// E-commerce
	IssueConversionProblem    = "conversion_problem"
	IssuePricingOrProductMix  = "pricing_or_product_mix_issue"
	IssueInefficientMarketing = "inefficient_marketing_spend"
	IssueRetentionProblem     = "retention_problem"
	IssueDownwardSalesTrend   = "downward_sales_trend"

	// Agency
	IssueClientRetention     = "client_retention_issue"
	IssueUnderutilization    = "underutilization_problem"
	IssueProductivityDecline = "productivity_decline"
	IssueCapacityMisalign    = "capacity_misalignment"
	IssueFutureRevenueRisk   = "future_revenue_risk"

	// Shared, additive only: never meaningful as a sole diagnosis.
	IssueHighBusinessRisk = "high_business_risk"
)

// Result is a structured diagnosis for one entity and period.
type Result struct {
	PrimaryIssue        string   `json:"primary_issue"`
	ContributingFactors []string `json:"contributing_factors"`
	Severity            string   `json:"severity"`
}

// Engine is implemented once per business type.
type Engine interface {
	Analyze(kpiData, forecastData, riskData map[string]float64) (Result, error)
}

// ForType selects the rule engine for a business type.
func ForType(bt kpi.BusinessType, sev config.SeverityBands, rules config.RuleThresholds) (Engine, error) {
	switch bt {
	case kpi.SaaS:
		return &saasEngine{sev: sev, rules: rules}, nil
	case kpi.Ecommerce:
		return &ecommerceEngine{sev: sev, rules: rules}, nil
	case kpi.Agency:
		return &agencyEngine{sev: sev, rules: rules}, nil
	default:
		return nil, fmt.Errorf("%w: %q", kpi.ErrUnknownBusinessType, bt)
	}
}

// severity maps a risk score to a severity band, highest band first.
func severity(riskScore float64, sev config.SeverityBands) string {
	switch {
	case riskScore > sev.Critical:
		return "critical"
	case riskScore > sev.High:
		return "high"
	case riskScore > sev.Moderate:
		return "moderate"
	default:
		return "low"
	}
}

// require fails with the signal name when key is absent. Used by the SaaS
// and agency engines, which treat a missing input as caller error.
func require(m map[string]float64, key string) (float64, error) {
	v, ok := m[key]
	if !ok {
		return 0, fmt.Errorf("missing required signal: %s", key)
	}
	return v, nil
}

// compose splits the fired rules into primary issue and contributing
// factors, preserving declaration order.
func compose(triggered []string, riskScore float64, sev config.SeverityBands) Result {
	r := Result{
		PrimaryIssue:        IssueNone,
		ContributingFactors: []string{},
		Severity:            severity(riskScore, sev),
	}
	if len(triggered) > 0 {
		r.PrimaryIssue = triggered[0]
		r.ContributingFactors = triggered[1:]
	}
	return r
}
