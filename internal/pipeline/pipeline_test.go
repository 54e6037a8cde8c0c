package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"insight-engine/internal/config"
	"insight-engine/internal/forecast"
	"insight-engine/internal/kpi"
	"insight-engine/internal/risk"
	"insight-engine/internal/segment"
	"insight-engine/internal/signal"
	"insight-engine/internal/synthesis"
)

type fakeKPIs struct {
	payload kpi.Payload
	err     error
}

func (f *fakeKPIs) GetKPIs(_ context.Context, _ string, _, _ time.Time) (kpi.Payload, error) {
	return f.payload, f.err
}

type failingGenerator struct {
	calls int
}

func (g *failingGenerator) Generate(context.Context, string) (string, error) {
	g.calls++
	return "not json at all", nil
}

func metric(v float64) kpi.Metric {
	return kpi.Metric{Value: &v, Unit: "currency"}
}

func saasRecord(entity string, monthsAgo int, values map[string]float64) kpi.Record {
	end := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC).AddDate(0, -monthsAgo, 0)
	computed := make(map[string]kpi.Metric, len(values))
	for name, v := range values {
		computed[name] = metric(v)
	}
	return kpi.Record{
		EntityName:   entity,
		PeriodStart:  end.AddDate(0, -1, 0),
		PeriodEnd:    end,
		CreatedAt:    end,
		ComputedKPIs: computed,
	}
}

func saasHistory(entity string) kpi.Payload {
	return kpi.Payload{
		EntityName: entity,
		Records: []kpi.Record{
			saasRecord(entity, 2, map[string]float64{
				"mrr": 1000, "churn_rate": 0.05, "growth_rate": 0.10,
				"ltv": 5000, "arpu": 50, "conversion_delta": 0.01,
			}),
			saasRecord(entity, 1, map[string]float64{
				"mrr": 1100, "churn_rate": 0.06, "growth_rate": 0.10,
				"ltv": 5100, "arpu": 52, "conversion_delta": 0.01,
			}),
			saasRecord(entity, 0, map[string]float64{
				"mrr": 1210, "churn_rate": 0.07, "growth_rate": 0.10,
				"ltv": 5200, "arpu": 54, "conversion_delta": 0.01,
			}),
		},
	}
}

func newTestPipeline(t *testing.T, kpis KPISource, gen synthesis.Generator) *Pipeline {
	t.Helper()
	th := config.DefaultThresholds()
	p, err := New(Options{
		Thresholds: th,
		KPIs:       kpis,
		Forecaster: forecast.NewOrchestrator(forecast.NewTrendClassifier(th.Trend), nil),
		Risk:       risk.NewOrchestrator(risk.NewModel(th.Risk), nil),
		Segmenter:  segment.NewOrchestrator(segment.NewKMeans(th.Cluster), segment.NewLabeler(th.Labeling), nil),
		Generator:  gen,
	})
	require.NoError(t, err)
	return p
}

func TestRunSaaSEndToEnd(t *testing.T) {
	p := newTestPipeline(t, &fakeKPIs{payload: saasHistory("Acme")}, synthesis.MockGenerator{})

	rc, err := p.Run(context.Background(), Request{
		EntityName:   "Acme",
		BusinessType: "saas",
		PeriodStart:  time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:    time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	require.Equal(t, kpi.SaaS, rc.BusinessType)
	require.NotNil(t, rc.KPI)
	require.Len(t, rc.KPI.Records, 3)

	require.NotNil(t, rc.Forecast)
	require.Greater(t, rc.Forecast.Usable(), 0)

	require.NotNil(t, rc.Signals)
	require.InDelta(t, 0.10, rc.Signals.RevenueGrowthDelta, 1e-9)
	require.InDelta(t, 0.01, rc.Signals.ChurnDelta, 1e-9)

	require.NotNil(t, rc.Risk)
	require.GreaterOrEqual(t, rc.Risk.Score, 0)
	require.NotNil(t, rc.RootCause)
	require.NotNil(t, rc.Segmentation)
	require.NotNil(t, rc.Prioritization)

	require.NotNil(t, rc.Insight)
	require.InDelta(t, 0.95, rc.Insight.ConfidenceScore, 1e-9)
}

func TestRunUnknownBusinessTypeFails(t *testing.T) {
	p := newTestPipeline(t, &fakeKPIs{}, synthesis.MockGenerator{})

	_, err := p.Run(context.Background(), Request{EntityName: "Acme", BusinessType: "fintech"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "business_router")
}

func TestRunIntentFillsBlankFields(t *testing.T) {
	p := newTestPipeline(t, &fakeKPIs{payload: saasHistory("Acme Corp")}, synthesis.MockGenerator{})

	rc, err := p.Run(context.Background(), Request{
		Query:       "Analyze churn for Acme Corp, a saas subscription platform",
		PeriodStart: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:   time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Equal(t, "Acme Corp", rc.EntityName)
	require.Equal(t, kpi.SaaS, rc.BusinessType)
}

func TestRunSegmentationDegrades(t *testing.T) {
	// More clusters than records fails the clusterer; the optional
	// classification keeps the run alive without a segmentation result.
	p := newTestPipeline(t, &fakeKPIs{payload: saasHistory("Acme")}, synthesis.MockGenerator{})

	rc, err := p.Run(context.Background(), Request{
		EntityName:   "Acme",
		BusinessType: "saas",
		PeriodStart:  time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:    time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
		Clusters:     10,
	})
	require.NoError(t, err)
	require.Nil(t, rc.Segmentation)
	require.NotNil(t, rc.Insight)
}

func TestRunSynthesisContractViolationFatal(t *testing.T) {
	gen := &failingGenerator{}
	p := newTestPipeline(t, &fakeKPIs{payload: saasHistory("Acme")}, gen)

	_, err := p.Run(context.Background(), Request{
		EntityName:   "Acme",
		BusinessType: "saas",
		PeriodStart:  time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:    time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "synthesis")
	require.Equal(t, 1, gen.calls)
}

func TestValidateCoreSignals(t *testing.T) {
	gates := config.DefaultThresholds().Gates
	full := Context{}.
		WithKPI(saasHistory("Acme")).
		WithForecast(forecast.Payload{Forecasts: []forecast.Result{{MetricName: "mrr", Slope: ptrFloat(1)}}}).
		WithRisk(risk.Result{Score: 40, Level: risk.LevelModerate})

	t.Run("complete context passes", func(t *testing.T) {
		require.NoError(t, validateCoreSignals(full, gates, "validate_core_signals"))
	})

	t.Run("empty context reports every critical code", func(t *testing.T) {
		err := validateCoreSignals(Context{}, gates, "validate_core_signals")
		var gateErr *GateError
		require.ErrorAs(t, err, &gateErr)
		require.ElementsMatch(t, []string{CodeEmptyKPI, CodeEmptyForecast, CodeEmptyRisk}, gateErr.Codes)
	})

	t.Run("optional code only logs", func(t *testing.T) {
		lenient := config.GateClassification{Optional: []string{CodeEmptyKPI}}
		c := full
		c.KPI = nil
		require.NoError(t, validateCoreSignals(c, lenient, "validate_core_signals"))
	})

	t.Run("unknown code defaults to critical", func(t *testing.T) {
		require.True(t, gates.IsCritical("some_new_code"))
	})
}

func TestDetectBusinessType(t *testing.T) {
	tests := []struct {
		query string
		want  string
	}{
		{"How is our saas subscription platform doing", "saas"},
		{"Review the retail store conversion numbers", "ecommerce"},
		{"Assess the marketing agency utilization", "agency"},
		{"What happened last quarter", ""},
	}
	for _, tt := range tests {
		if got := detectBusinessType(tt.query); got != tt.want {
			t.Errorf("detectBusinessType(%q) = %q, want %q", tt.query, got, tt.want)
		}
	}
}

func TestExtractEntityName(t *testing.T) {
	tests := []struct {
		query string
		want  string
	}{
		{"Analyze churn for Acme Corp, focusing on Q2", "Acme Corp"},
		{"Review metrics of Bright Ideas with fresh data", "Bright Ideas"},
		{"Northwind Traders looks shaky this month", "Northwind Traders"},
		{"nothing capitalized here", ""},
	}
	for _, tt := range tests {
		if got := extractEntityName(tt.query); got != tt.want {
			t.Errorf("extractEntityName(%q) = %q, want %q", tt.query, got, tt.want)
		}
	}
}

func TestEngineInputs(t *testing.T) {
	history := saasHistory("Acme")
	rc := Context{}.WithKPI(history)
	rc = rc.WithSignals(signal.FlatSignals{
		RevenueGrowthDelta: 0.10,
		ChurnDelta:         0.01,
		ConversionDelta:    0.01,
		Slope:              105,
		DeviationPct:       0.02,
	})
	rc = rc.WithRisk(risk.Result{Score: 42})

	kpiData, forecastData, riskData := engineInputs(rc)

	require.InDelta(t, 0.10, kpiData["revenue_growth_delta"], 1e-9)
	require.InDelta(t, 100.0, kpiData["ltv_delta"], 1e-9) // 5200 - 5100
	require.Zero(t, kpiData["cac_delta"])                 // no cac series
	require.Zero(t, kpiData["traffic_delta"])
	require.InDelta(t, 105.0, forecastData["slope"], 1e-9)
	require.InDelta(t, 42.0, riskData["risk_score"], 1e-9)
}

func TestSeriesFromKPIsSkipsFailedValues(t *testing.T) {
	payload := saasHistory("Acme")
	payload.Records[1].ComputedKPIs["mrr"] = kpi.Metric{Error: "division by zero: denominator"}

	series := seriesFromKPIs(payload, []string{"mrr", "missing_metric"})
	require.Len(t, series, 1)
	require.Equal(t, "mrr", series[0].Metric)
	require.Equal(t, []float64{1000, 1210}, series[0].Values)
}

func TestRunKPISourceErrorFatal(t *testing.T) {
	p := newTestPipeline(t, &fakeKPIs{err: errors.New("db locked")}, synthesis.MockGenerator{})

	_, err := p.Run(context.Background(), Request{EntityName: "Acme", BusinessType: "saas"})
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "kpi_fetch"))
}

func ptrFloat(v float64) *float64 { return &v }
