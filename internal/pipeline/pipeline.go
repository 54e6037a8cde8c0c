// Package pipeline sequences the analytics stages for one entity run:
// intent, business routing, KPI fetch, forecasting, risk scoring, root
// cause analysis, segmentation, prioritization and synthesis. Stages are
// strictly linear with one conditional branch at the router; each stage
// appends its result to the run context and never mutates earlier fields.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"insight-engine/internal/config"
	"insight-engine/internal/forecast"
	"insight-engine/internal/kpi"
	"insight-engine/internal/prioritize"
	"insight-engine/internal/risk"
	"insight-engine/internal/rootcause"
	"insight-engine/internal/segment"
	"insight-engine/internal/signal"
	"insight-engine/internal/synthesis"
)

// KPISource reads persisted KPI snapshots for an entity and window.
type KPISource interface {
	GetKPIs(ctx context.Context, entity string, periodStart, periodEnd time.Time) (kpi.Payload, error)
}

// ForecastSource reads the latest persisted forecast rows for an entity.
type ForecastSource interface {
	GetLatestForecasts(ctx context.Context, entity string) (forecast.Payload, error)
}

const defaultClusters = 3

// Metric sets fetched and forecast per business type. Forecast order is
// part of the downstream contract: signal extraction takes the first
// matching row.
var kpiMetricsByType = map[kpi.BusinessType][]string{
	kpi.SaaS:      {"mrr", "churn_rate", "ltv", "growth_rate", "arpu"},
	kpi.Ecommerce: {"revenue", "aov", "conversion_rate", "cac", "purchase_frequency", "ltv", "growth_rate"},
	kpi.Agency:    {"total_revenue", "client_churn", "utilization_rate", "revenue_per_employee", "client_ltv"},
}

// Directly persisted signal values survive the per-type metric filter, so
// the normalizer's first-choice strategies keep working on any type.
var signalPassthrough = []string{"revenue_growth_delta", "churn_delta", "conversion_delta", "conversion_rate"}

var forecastMetricsByType = map[kpi.BusinessType][]string{
	kpi.SaaS:      {"mrr", "churn_rate", "ltv", "growth_rate"},
	kpi.Ecommerce: {"revenue", "aov", "conversion_rate", "cac", "purchase_frequency", "ltv", "growth_rate"},
	kpi.Agency:    {"total_revenue", "client_churn", "utilization_rate", "revenue_per_employee", "client_ltv"},
}

// Options carries the pipeline collaborators. KPIs, Risk and Generator are
// required; the rest degrade gracefully when absent.
type Options struct {
	Thresholds config.Thresholds

	Computer   *kpi.Orchestrator
	KPIs       KPISource
	Forecaster *forecast.Orchestrator
	Forecasts  ForecastSource
	Risk       *risk.Orchestrator
	Segmenter  *segment.Orchestrator
	Generator  synthesis.Generator

	Metrics             *Metrics
	MaxSynthesisRetries int
}

// Pipeline is the run state machine. It is stateless across runs and safe
// for concurrent use; every run owns its own Context.
type Pipeline struct {
	opts Options
}

func New(opts Options) (*Pipeline, error) {
	if opts.KPIs == nil {
		return nil, errors.New("pipeline: KPI source is required")
	}
	if opts.Risk == nil {
		return nil, errors.New("pipeline: risk orchestrator is required")
	}
	if opts.Generator == nil {
		return nil, errors.New("pipeline: synthesis generator is required")
	}
	return &Pipeline{opts: opts}, nil
}

// Request describes one pipeline run.
type Request struct {
	Query        string
	EntityName   string
	BusinessType string
	PeriodStart  time.Time
	PeriodEnd    time.Time
	Clusters     int
}

// Run executes the full stage sequence and returns the final context. On
// failure the returned error names the failing stage; the context holds
// every stage result produced before the failure.
func (p *Pipeline) Run(ctx context.Context, req Request) (Context, error) {
	rc := Context{
		RunID:             uuid.New(),
		Query:             req.Query,
		EntityName:        req.EntityName,
		PeriodStart:       req.PeriodStart,
		PeriodEnd:         req.PeriodEnd,
		requestedClusters: req.Clusters,
	}

	// intent
	rawType := req.BusinessType
	start := time.Now()
	if query := strings.TrimSpace(req.Query); query != "" {
		if rawType == "" {
			rawType = detectBusinessType(query)
		}
		if rc.EntityName == "" {
			rc = rc.WithEntity(extractEntityName(query))
		}
	}
	p.opts.Metrics.ObserveStage("intent", time.Since(start))

	// business_router
	bt, err := kpi.ParseBusinessType(rawType)
	if err != nil {
		p.opts.Metrics.RunFailed("business_router")
		return rc, fmt.Errorf("business_router: %w", err)
	}
	rc = rc.WithBusinessType(bt)
	p.opts.Metrics.RunStarted(string(bt))

	log.Info().
		Str("run_id", rc.RunID.String()).
		Str("entity", rc.EntityName).
		Str("business_type", string(bt)).
		Msg("pipeline run started")

	type stage struct {
		name string
		fn   func(context.Context, Context) (Context, error)
	}
	stages := []stage{
		{string(bt) + "_kpi_fetch", p.stageKPIFetch},
		{"forecast_fetch", p.stageForecastFetch},
		{"risk", p.stageRisk},
		{"validate_core_signals", p.stageValidate},
		{"root_cause", p.stageRootCause},
		{"segmentation", p.stageSegmentation},
		{"prioritization", p.stagePrioritization},
		{"validate_core_signals", p.stageValidate},
		{"synthesis", p.stageSynthesis},
	}

	for _, s := range stages {
		start := time.Now()
		rc, err = s.fn(ctx, rc)
		p.opts.Metrics.ObserveStage(s.name, time.Since(start))
		if err != nil {
			p.opts.Metrics.RunFailed(s.name)
			log.Error().
				Str("run_id", rc.RunID.String()).
				Str("stage", s.name).
				Err(err).
				Msg("pipeline run aborted")
			return rc, fmt.Errorf("%s: %w", s.name, err)
		}
	}

	p.opts.Metrics.RunCompleted(string(bt))
	log.Info().
		Str("run_id", rc.RunID.String()).
		Str("entity", rc.EntityName).
		Msg("pipeline run completed")
	return rc, nil
}

// stageKPIFetch optionally computes the current period's KPI snapshot,
// then loads the entity's KPI history restricted to the business type's
// metric set. A compute failure is not fatal as long as history exists.
func (p *Pipeline) stageKPIFetch(ctx context.Context, rc Context) (Context, error) {
	if p.opts.Computer != nil {
		if _, err := p.opts.Computer.Run(ctx, rc.EntityName, rc.BusinessType, rc.PeriodStart, rc.PeriodEnd); err != nil {
			log.Warn().Err(err).Str("entity", rc.EntityName).Msg("KPI computation failed, fetching history only")
		}
	}

	payload, err := p.opts.KPIs.GetKPIs(ctx, rc.EntityName, rc.PeriodStart, rc.PeriodEnd)
	if err != nil {
		return rc, err
	}

	keep := append(signalPassthrough, kpiMetricsByType[rc.BusinessType]...)
	for i, rec := range payload.Records {
		filtered := make(map[string]kpi.Metric, len(keep))
		for _, name := range keep {
			if m, ok := rec.ComputedKPIs[name]; ok {
				filtered[name] = m
			}
		}
		payload.Records[i].ComputedKPIs = filtered
	}
	return rc.WithKPI(payload), nil
}

// stageForecastFetch fits a fresh forecast from the KPI history. When no
// metric has enough observations it falls back to the latest persisted
// forecasts, so a sparse window can still ride on earlier runs.
func (p *Pipeline) stageForecastFetch(ctx context.Context, rc Context) (Context, error) {
	var payload forecast.Payload

	series := seriesFromKPIs(*rc.KPI, forecastMetricsByType[rc.BusinessType])
	if p.opts.Forecaster != nil && len(series) > 0 {
		var err error
		payload, err = p.opts.Forecaster.Generate(ctx, rc.EntityName, rc.PeriodEnd, series)
		if err != nil {
			return rc, err
		}
	}

	if payload.Usable() == 0 && p.opts.Forecasts != nil {
		stored, err := p.opts.Forecasts.GetLatestForecasts(ctx, rc.EntityName)
		if err != nil {
			return rc, err
		}
		if stored.Usable() > 0 {
			payload = stored
		}
	}

	payload.EntityName = rc.EntityName
	return rc.WithForecast(payload), nil
}

func (p *Pipeline) stageRisk(ctx context.Context, rc Context) (Context, error) {
	signals, err := signal.Normalize(*rc.KPI, *rc.Forecast)
	if err != nil {
		return rc, err
	}
	result, err := p.opts.Risk.Generate(ctx, rc.EntityName, rc.PeriodEnd, signals)
	if err != nil {
		return rc, err
	}
	return rc.WithSignals(signals).WithRisk(result), nil
}

func (p *Pipeline) stageValidate(_ context.Context, rc Context) (Context, error) {
	err := validateCoreSignals(rc, p.opts.Thresholds.Gates, "validate_core_signals")
	var gateErr *GateError
	if errors.As(err, &gateErr) {
		for _, code := range gateErr.Codes {
			p.opts.Metrics.GateFailure(code)
		}
	}
	return rc, err
}

func (p *Pipeline) stageRootCause(_ context.Context, rc Context) (Context, error) {
	engine, err := rootcause.ForType(rc.BusinessType, p.opts.Thresholds.Severity, p.opts.Thresholds.Rules)
	if err != nil {
		return rc, err
	}
	kpiData, forecastData, riskData := engineInputs(rc)
	result, err := engine.Analyze(kpiData, forecastData, riskData)
	if err != nil {
		return rc, err
	}
	return rc.WithRootCause(result), nil
}

// stageSegmentation clusters the KPI history. Failure here is policy
// driven: when missing_segmentation is optional the run continues without
// a segmentation result.
func (p *Pipeline) stageSegmentation(ctx context.Context, rc Context) (Context, error) {
	degrade := func(err error) (Context, error) {
		if p.opts.Thresholds.Gates.IsCritical(CodeMissingSegmentation) {
			return rc, err
		}
		p.opts.Metrics.GateFailure(CodeMissingSegmentation)
		log.Warn().Err(err).Str("entity", rc.EntityName).Msg("segmentation unavailable, continuing degraded")
		return rc, nil
	}

	if p.opts.Segmenter == nil {
		return degrade(errors.New("no segmenter configured"))
	}
	records := segmentRecords(rc)
	if len(records) == 0 {
		return degrade(errors.New("no records to segment"))
	}

	k := defaultClusters
	if rc.requestedClusters > 0 {
		k = rc.requestedClusters
	} else if k > len(records) {
		k = len(records)
	}

	result, err := p.opts.Segmenter.Run(ctx, rc.EntityName, records, k)
	if err != nil {
		return degrade(err)
	}
	return rc.WithSegmentation(result), nil
}

func (p *Pipeline) stagePrioritization(_ context.Context, rc Context) (Context, error) {
	return rc.WithPrioritization(prioritize.Prioritize(*rc.Risk, *rc.RootCause)), nil
}

func (p *Pipeline) stageSynthesis(ctx context.Context, rc Context) (Context, error) {
	prompt, err := synthesis.BuildPrompt([]synthesis.Section{
		{Title: "Kpi Data", Data: rc.KPI},
		{Title: "Forecast Data", Data: rc.Forecast},
		{Title: "Risk Data", Data: rc.Risk},
		{Title: "Root Cause", Data: rc.RootCause},
		{Title: "Segmentation", Data: rc.Segmentation},
		{Title: "Prioritization", Data: rc.Prioritization},
	})
	if err != nil {
		return rc, err
	}

	insight, err := synthesis.GenerateWithRetry(ctx, p.opts.Generator, prompt, p.opts.MaxSynthesisRetries)
	if err != nil {
		return rc, err
	}
	return rc.WithInsight(insight), nil
}

// seriesFromKPIs extracts one chronological value series per metric from
// the KPI records, skipping failed metric values.
func seriesFromKPIs(payload kpi.Payload, metrics []string) []forecast.Series {
	var out []forecast.Series
	for _, name := range metrics {
		var values []float64
		for _, rec := range payload.Records {
			m, ok := rec.ComputedKPIs[name]
			if !ok || m.Value == nil || m.Error != "" {
				continue
			}
			values = append(values, *m.Value)
		}
		if len(values) > 0 {
			out = append(out, forecast.Series{Metric: name, Values: values})
		}
	}
	return out
}

// Metric series whose last-minus-previous difference feeds the rule
// engines under a delta key.
var engineDeltaMetrics = map[string]string{
	"cac":                  "cac_delta",
	"ltv":                  "ltv_delta",
	"aov":                  "aov_delta",
	"purchase_frequency":   "repeat_purchase_delta",
	"utilization_rate":     "utilization_delta",
	"revenue_per_employee": "revenue_per_employee_delta",
}

// engineInputs assembles the three loosely-typed maps the rule engines
// read. Every documented key is present; deltas with no usable series
// stay at zero.
func engineInputs(rc Context) (kpiData, forecastData, riskData map[string]float64) {
	kpiData = map[string]float64{
		signal.RevenueGrowthDelta:    rc.Signals.RevenueGrowthDelta,
		signal.ChurnDelta:            rc.Signals.ChurnDelta,
		signal.ConversionDelta:       rc.Signals.ConversionDelta,
		"cac_delta":                  0,
		"ltv_delta":                  0,
		"aov_delta":                  0,
		"repeat_purchase_delta":      0,
		"traffic_delta":              0,
		"utilization_delta":          0,
		"revenue_per_employee_delta": 0,
	}
	for metric, key := range engineDeltaMetrics {
		if d, ok := seriesDelta(*rc.KPI, metric); ok {
			kpiData[key] = d
		}
	}

	forecastData = map[string]float64{
		signal.Slope:        rc.Signals.Slope,
		signal.DeviationPct: rc.Signals.DeviationPct,
	}
	riskData = map[string]float64{
		"risk_score": float64(rc.Risk.Score),
	}
	return kpiData, forecastData, riskData
}

// seriesDelta returns last minus previous for a metric with at least two
// usable observations.
func seriesDelta(payload kpi.Payload, metric string) (float64, bool) {
	var values []float64
	for _, rec := range payload.Records {
		m, ok := rec.ComputedKPIs[metric]
		if !ok || m.Value == nil || m.Error != "" {
			continue
		}
		values = append(values, *m.Value)
	}
	if len(values) < 2 {
		return 0, false
	}
	return values[len(values)-1] - values[len(values)-2], true
}

// segmentRecords turns each KPI record into a flat feature record,
// annotated with the run's risk score and forecast shape.
func segmentRecords(rc Context) []segment.Record {
	out := make([]segment.Record, 0, len(rc.KPI.Records))
	for _, rec := range rc.KPI.Records {
		r := segment.Record{}
		for name, m := range rec.ComputedKPIs {
			if m.Value != nil && m.Error == "" {
				r[name] = *m.Value
			}
		}
		if rc.Risk != nil {
			r["risk_score"] = float64(rc.Risk.Score)
		}
		if rc.Signals != nil {
			r["slope"] = rc.Signals.Slope
			r["deviation_percentage"] = rc.Signals.DeviationPct
		}
		out = append(out, r)
	}
	return out
}
