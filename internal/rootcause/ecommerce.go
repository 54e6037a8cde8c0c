package rootcause

import (
	"insight-engine/internal/config"
	"insight-engine/internal/signal"
)

// ecommerceEngine applies online-retail rules. Unlike the other two
// engines, every input is optional and defaults to 0.0: store data feeds
// are patchier than subscription ledgers, so a missing signal reads as
// "no movement" rather than as caller error.
type ecommerceEngine struct {
	sev   config.SeverityBands
	rules config.RuleThresholds
}

func (e *ecommerceEngine) Analyze(kpiData, forecastData, riskData map[string]float64) (Result, error) {
	revenueGrowth := kpiData[signal.RevenueGrowthDelta]
	conversionDelta := kpiData[signal.ConversionDelta]
	aovDelta := kpiData["aov_delta"]
	cacDelta := kpiData["cac_delta"]
	repeatPurchaseDelta := kpiData["repeat_purchase_delta"]
	trafficDelta := kpiData["traffic_delta"]

	slope := forecastData[signal.Slope]
	riskScore := riskData["risk_score"]

	var triggered []string

	// 1. Conversion problem: conversion falling while traffic holds.
	if conversionDelta < 0 && e.trafficStable(trafficDelta) {
		triggered = append(triggered, IssueConversionProblem)
	}
	// 2. Pricing or product-mix issue: AOV and revenue both declining.
	if aovDelta < 0 && revenueGrowth < 0 {
		triggered = append(triggered, IssuePricingOrProductMix)
	}
	// 3. Inefficient marketing spend: CAC rising with conversion falling.
	if cacDelta > 0 && conversionDelta < 0 {
		triggered = append(triggered, IssueInefficientMarketing)
	}
	// 4. Retention problem: repeat-purchase rate falling.
	if repeatPurchaseDelta < 0 {
		triggered = append(triggered, IssueRetentionProblem)
	}
	// 5. Downward sales trend.
	if slope < 0 {
		triggered = append(triggered, IssueDownwardSalesTrend)
	}
	// 6. High business risk, additive only.
	if riskScore > e.rules.HighBusinessRisk {
		triggered = append(triggered, IssueHighBusinessRisk)
	}

	return compose(triggered, riskScore, e.sev), nil
}

// trafficStable reports whether the traffic delta sits inside the
// configured stability band. Zero (absent signal) is perfectly stable.
func (e *ecommerceEngine) trafficStable(trafficDelta float64) bool {
	return -e.rules.TrafficStable <= trafficDelta && trafficDelta <= e.rules.TrafficStable
}
