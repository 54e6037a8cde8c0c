package signal

import (
	"errors"
	"strings"
	"testing"
	"time"

	"insight-engine/internal/forecast"
	"insight-engine/internal/kpi"
)

func fptr(v float64) *float64 { return &v }

func record(t time.Time, metrics map[string]float64) kpi.Record {
	computed := make(map[string]kpi.Metric, len(metrics))
	for name, v := range metrics {
		computed[name] = kpi.Metric{Value: fptr(v), Unit: kpi.UnitFor(name)}
	}
	return kpi.Record{CreatedAt: t, ComputedKPIs: computed}
}

func usableForecast(metric string, slope, dev float64) forecast.Result {
	return forecast.Result{
		MetricName:          metric,
		Slope:               fptr(slope),
		Intercept:           fptr(0),
		Forecast:            &forecast.Points{Month1: 1, Month2: 2, Month3: 3},
		DeviationPercentage: fptr(dev),
	}
}

func TestNormalize_FullResolution(t *testing.T) {
	base := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	kp := kpi.Payload{Records: []kpi.Record{
		record(base, map[string]float64{"mrr": 1000, "churn_rate": 0.05, "conversion_rate": 0.02}),
		record(base.AddDate(0, 1, 0), map[string]float64{"mrr": 1100, "churn_rate": 0.07, "conversion_rate": 0.03}),
	}}
	fc := forecast.Payload{Forecasts: []forecast.Result{
		usableForecast("mrr", 50, 0.04),
		usableForecast("churn_rate", 0.01, 0.1),
	}}

	got, err := Normalize(kp, fc)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}

	if want := (1100.0 - 1000.0) / 1000.0; !approxEqual(got.RevenueGrowthDelta, want) {
		t.Errorf("revenue_growth_delta = %v, want %v", got.RevenueGrowthDelta, want)
	}
	if want := 0.07 - 0.05; !approxEqual(got.ChurnDelta, want) {
		t.Errorf("churn_delta = %v, want %v", got.ChurnDelta, want)
	}
	if want := 0.03 - 0.02; !approxEqual(got.ConversionDelta, want) {
		t.Errorf("conversion_delta = %v, want %v", got.ConversionDelta, want)
	}
	if got.Slope != 50 {
		t.Errorf("slope = %v, want 50 (first usable row)", got.Slope)
	}
	if got.DeviationPct != 0.04 {
		t.Errorf("deviation_percentage = %v, want 0.04", got.DeviationPct)
	}
	// Curvature of the churn projection: 3 - 2*2 + 1 = 0.
	if got.ChurnAcceleration != 0 {
		t.Errorf("churn_acceleration = %v, want 0", got.ChurnAcceleration)
	}
}

func TestNormalize_DirectSignalWinsOverDerivation(t *testing.T) {
	base := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	kp := kpi.Payload{Records: []kpi.Record{
		record(base, map[string]float64{"churn_delta": 0.42, "churn_rate": 0.05}),
		record(base.AddDate(0, 1, 0), map[string]float64{"churn_delta": 0.09, "churn_rate": 0.30}),
	}}
	fc := forecast.Payload{Forecasts: []forecast.Result{usableForecast("churn_rate", 0.2, 0.1)}}

	got, err := Normalize(kp, fc)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if got.ChurnDelta != 0.09 {
		t.Errorf("churn_delta = %v, want latest direct value 0.09", got.ChurnDelta)
	}
}

func TestNormalize_SingleChurnPointFallsBackToLatest(t *testing.T) {
	kp := kpi.Payload{Records: []kpi.Record{
		record(time.Now(), map[string]float64{"mrr": 1000, "growth_rate": 0.1, "churn_rate": 0.08, "conversion_rate": 0.02}),
	}}
	fc := forecast.Payload{Forecasts: []forecast.Result{usableForecast("churn_rate", 0.01, 0.0)}}

	got, err := Normalize(kp, fc)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if got.ChurnDelta != 0.08 {
		t.Errorf("churn_delta = %v, want latest churn_rate 0.08 when no delta is possible", got.ChurnDelta)
	}
}

func TestNormalize_ZeroBaseStopsChain(t *testing.T) {
	base := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	// revenue goes 0 -> 500: the percent change is undefined. The chain
	// must stop with a named failure instead of falling through to the
	// perfectly derivable mrr series.
	kp := kpi.Payload{Records: []kpi.Record{
		record(base, map[string]float64{"revenue": 0, "mrr": 100, "churn_rate": 0.05, "conversion_rate": 0.02}),
		record(base.AddDate(0, 1, 0), map[string]float64{"revenue": 500, "mrr": 110, "churn_rate": 0.06, "conversion_rate": 0.02}),
	}}
	fc := forecast.Payload{Forecasts: []forecast.Result{usableForecast("churn_rate", 0.01, 0.0)}}

	_, err := Normalize(kp, fc)
	if err == nil {
		t.Fatal("expected a validation error for the zero-base percent change")
	}
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error type = %T, want *ValidationError", err)
	}
	reason, ok := verr.Failures[RevenueGrowthDelta]
	if !ok {
		t.Fatalf("missing failure entry for %s: %v", RevenueGrowthDelta, verr.Failures)
	}
	if !strings.Contains(reason, "revenue") || !strings.Contains(reason, "previous value is 0") {
		t.Errorf("failure reason %q should name the metric and the zero base", reason)
	}
}

func TestNormalize_ZeroBaseNotReachedWhenEarlierStrategyWins(t *testing.T) {
	base := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	// growth_rate resolves revenue_growth_delta before the chain ever
	// reaches the zero-base revenue series.
	kp := kpi.Payload{Records: []kpi.Record{
		record(base, map[string]float64{"revenue": 0, "growth_rate": 0.2, "churn_rate": 0.05, "conversion_rate": 0.02}),
		record(base.AddDate(0, 1, 0), map[string]float64{"revenue": 500, "growth_rate": 0.3, "churn_rate": 0.06, "conversion_rate": 0.02}),
	}}
	fc := forecast.Payload{Forecasts: []forecast.Result{usableForecast("churn_rate", 0.01, 0.0)}}

	got, err := Normalize(kp, fc)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if got.RevenueGrowthDelta != 0.3 {
		t.Errorf("revenue_growth_delta = %v, want latest growth_rate 0.3", got.RevenueGrowthDelta)
	}
}

func TestNormalize_DirectForecastChurnAcceleration(t *testing.T) {
	// No churn-named forecast row anywhere, but a row carries an attached
	// churn_acceleration value: it must resolve from there.
	base := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	kp := kpi.Payload{Records: []kpi.Record{
		record(base, map[string]float64{"revenue": 1000, "churn_delta": 0.01, "conversion_rate": 0.02}),
		record(base.AddDate(0, 1, 0), map[string]float64{"revenue": 1100, "churn_delta": 0.02, "conversion_rate": 0.03}),
	}}
	row := usableForecast("revenue", 100, 0.05)
	row.ChurnAcceleration = fptr(0)
	fc := forecast.Payload{Forecasts: []forecast.Result{row}}

	got, err := Normalize(kp, fc)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if got.ChurnAcceleration != 0 {
		t.Errorf("churn_acceleration = %v, want direct row value 0", got.ChurnAcceleration)
	}
}

func TestNormalize_RecordsOrderedByPeriodEndThenCreation(t *testing.T) {
	base := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	// A backfilled February record created after the March one must not
	// become the series' latest value.
	march := record(base, map[string]float64{"growth_rate": 0.30, "churn_rate": 0.07, "conversion_rate": 0.03})
	march.PeriodEnd = time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC)
	february := record(base.AddDate(0, 0, 7), map[string]float64{"growth_rate": -0.10, "churn_rate": 0.05, "conversion_rate": 0.02})
	february.PeriodEnd = time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC)

	kp := kpi.Payload{Records: []kpi.Record{march, february}}
	fc := forecast.Payload{Forecasts: []forecast.Result{usableForecast("churn_rate", 0.01, 0.0)}}

	got, err := Normalize(kp, fc)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if got.RevenueGrowthDelta != 0.30 {
		t.Errorf("revenue_growth_delta = %v, want 0.30 from the later period", got.RevenueGrowthDelta)
	}
	if want := 0.07 - 0.05; !approxEqual(got.ChurnDelta, want) {
		t.Errorf("churn_delta = %v, want %v from period-ordered series", got.ChurnDelta, want)
	}
}

func TestNormalize_CollectsAllFailures(t *testing.T) {
	// No churn source anywhere and no forecast rows at all: churn_delta,
	// forecast_slope, deviation_percentage and churn_acceleration must all
	// be reported in one error.
	base := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	kp := kpi.Payload{Records: []kpi.Record{
		record(base, map[string]float64{"mrr": 1000, "conversion_rate": 0.02}),
		record(base.AddDate(0, 1, 0), map[string]float64{"mrr": 1100, "conversion_rate": 0.03}),
	}}

	_, err := Normalize(kp, forecast.Payload{})
	if err == nil {
		t.Fatal("expected a validation error")
	}
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error type = %T, want *ValidationError", err)
	}
	for _, name := range []string{ChurnDelta, Slope, DeviationPct, ChurnAcceleration} {
		if _, ok := verr.Failures[name]; !ok {
			t.Errorf("missing failure entry for %s", name)
		}
	}
	if _, ok := verr.Failures[RevenueGrowthDelta]; ok {
		t.Error("revenue_growth_delta resolved from mrr, it must not be reported")
	}
	if !strings.Contains(err.Error(), ChurnDelta) {
		t.Errorf("error message should name the failed signal: %s", err)
	}
}

func approxEqual(a, b float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d < 1e-9
}
