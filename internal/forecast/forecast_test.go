package forecast

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"insight-engine/internal/config"
)

func TestLinearRegression_PerfectLine(t *testing.T) {
	// y = 10 + 5x
	var m LinearRegression
	r := m.Forecast([]float64{10, 15, 20, 25})

	if r.Error != "" {
		t.Fatalf("unexpected error: %s", r.Error)
	}
	if got := *r.Slope; math.Abs(got-5) > 1e-9 {
		t.Errorf("slope = %v, want 5", got)
	}
	if got := *r.Intercept; math.Abs(got-10) > 1e-9 {
		t.Errorf("intercept = %v, want 10", got)
	}
	want := Points{Month1: 30, Month2: 35, Month3: 40}
	if *r.Forecast != want {
		t.Errorf("forecast = %+v, want %+v", *r.Forecast, want)
	}
	if got := *r.DeviationPercentage; got != 0 {
		t.Errorf("deviation = %v, want 0 for a perfect fit", got)
	}
}

func TestLinearRegression_AnchorsToLastValue(t *testing.T) {
	// Noisy series: the fitted line at the last position differs from the
	// observed value, yet the projection must start from the observation.
	var m LinearRegression
	values := []float64{100, 130, 110, 160}
	r := m.Forecast(values)

	last := values[len(values)-1]
	if got := r.Forecast.Month1; math.Abs(got-(last+*r.Slope)) > 1e-6 {
		t.Errorf("month_1 = %v, want last+slope = %v", got, last+*r.Slope)
	}
	if got := r.Forecast.Month3 - r.Forecast.Month1; math.Abs(got-2**r.Slope) > 1e-6 {
		t.Errorf("month_3-month_1 = %v, want 2*slope = %v", got, 2**r.Slope)
	}
	if *r.DeviationPercentage == 0 {
		t.Error("deviation should be nonzero for a noisy series")
	}
}

func TestLinearRegression_InsufficientData(t *testing.T) {
	var m LinearRegression
	for _, values := range [][]float64{nil, {42}} {
		r := m.Forecast(values)
		if r.Slope != nil || r.Forecast != nil {
			t.Errorf("Forecast(%v): expected nil numeric fields", values)
		}
		if r.Error == "" {
			t.Errorf("Forecast(%v): expected populated Error field", values)
		}
	}
}

func TestTrendClassifier(t *testing.T) {
	c := NewTrendClassifier(config.DefaultThresholds().Trend)

	tests := []struct {
		name  string
		slope float64
		mean  float64
		want  string
	}{
		{"strong growth", 10, 100, TrendStrongUptrend},
		{"weak growth", 2, 100, TrendUptrend},
		{"flat", 0.5, 100, TrendStable},
		{"weak decline", -2, 100, TrendDowntrend},
		{"strong decline", -10, 100, TrendStrongDowntrend},
		{"negative mean uses magnitude", 10, -100, TrendStrongUptrend},
		{"zero mean falls back to raw slope", 0.06, 0, TrendStrongUptrend},
		{"boundary is not strong", 5, 100, TrendUptrend},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.Classify(tt.slope, tt.mean); got != tt.want {
				t.Errorf("Classify(%v, %v) = %s, want %s", tt.slope, tt.mean, got, tt.want)
			}
		})
	}
}

type captureSink struct {
	mu        sync.Mutex
	saved     []Result
	positions map[string]int
	err       error
}

func (s *captureSink) UpsertForecast(_ context.Context, _ string, _ time.Time, position int, r Result) error {
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, r)
	if s.positions == nil {
		s.positions = make(map[string]int)
	}
	s.positions[r.MetricName] = position
	return nil
}

func TestOrchestratorGenerate_OrderAndSkips(t *testing.T) {
	sink := &captureSink{}
	o := NewOrchestrator(NewTrendClassifier(config.DefaultThresholds().Trend), sink)

	series := []Series{
		{Metric: "mrr", Values: []float64{100, 110, 120}},
		{Metric: "churn_rate", Values: []float64{0.05}},
		{Metric: "ltv", Values: []float64{900, 870, 840}},
	}
	payload, err := o.Generate(context.Background(), "acme", time.Now(), series)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if len(payload.Forecasts) != 3 {
		t.Fatalf("got %d rows, want 3", len(payload.Forecasts))
	}
	for i, s := range series {
		if payload.Forecasts[i].MetricName != s.Metric {
			t.Errorf("row %d metric = %s, want %s (input order must survive)", i, payload.Forecasts[i].MetricName, s.Metric)
		}
	}
	if payload.Forecasts[1].Slope != nil || payload.Forecasts[1].Error == "" {
		t.Error("short series should carry an error, not a fit")
	}
	if payload.Usable() != 2 {
		t.Errorf("usable = %d, want 2", payload.Usable())
	}
	if payload.Forecasts[0].Trend != TrendStrongUptrend {
		t.Errorf("mrr trend = %s, want %s", payload.Forecasts[0].Trend, TrendStrongUptrend)
	}
	if payload.Forecasts[2].Trend != TrendStrongDowntrend {
		t.Errorf("ltv trend = %s, want %s", payload.Forecasts[2].Trend, TrendStrongDowntrend)
	}
	if len(sink.saved) != 2 {
		t.Errorf("sink received %d rows, want 2 (unfittable rows are not persisted)", len(sink.saved))
	}
	if sink.positions["mrr"] != 0 || sink.positions["ltv"] != 2 {
		t.Errorf("persisted positions = %v, want the rows' payload indexes", sink.positions)
	}
}
