// Package signal flattens heterogeneous KPI histories and forecast rows
// into the fixed set of signals the risk and root-cause stages consume.
//
// Each signal is resolved through an ordered list of fallback strategies.
// Strategies are tried in order and the first one that produces a value
// wins; a strategy that cannot produce a value (metric absent, too few
// points) simply passes to the next. A percent change over a zero base is
// different: the change is undefined, so the strategy stops the chain with
// a named extraction failure instead of falling through.
// Resolution is not fail-fast: every unresolvable signal is collected and
// reported in a single error.
package signal

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"insight-engine/internal/forecast"
	"insight-engine/internal/kpi"
)

// Signal names as they appear in risk scoring and rule-engine inputs.
const (
	RevenueGrowthDelta = "revenue_growth_delta"
	ChurnDelta         = "churn_delta"
	ConversionDelta    = "conversion_delta"
	Slope              = "slope"
	DeviationPct       = "deviation_percentage"
	ChurnAcceleration  = "churn_acceleration"
)

// FlatSignals is the normalized signal vector. Every field is always
// populated when Normalize returns without error.
type FlatSignals struct {
	RevenueGrowthDelta float64 `json:"revenue_growth_delta"`
	ChurnDelta         float64 `json:"churn_delta"`
	ConversionDelta    float64 `json:"conversion_delta"`
	Slope              float64 `json:"slope"`
	DeviationPct       float64 `json:"deviation_percentage"`
	ChurnAcceleration  float64 `json:"churn_acceleration"`
}

// Map exposes the signals under their canonical names, the shape the
// root-cause engines expect.
func (s FlatSignals) Map() map[string]float64 {
	return map[string]float64{
		RevenueGrowthDelta: s.RevenueGrowthDelta,
		ChurnDelta:         s.ChurnDelta,
		ConversionDelta:    s.ConversionDelta,
		Slope:              s.Slope,
		DeviationPct:       s.DeviationPct,
		ChurnAcceleration:  s.ChurnAcceleration,
	}
}

// ValidationError reports every signal that could not be resolved, each
// with the reason its fallback chain exhausted.
type ValidationError struct {
	Failures map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Failures))
	for name := range e.Failures {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s (%s)", name, e.Failures[name]))
	}
	return "signal normalization failed: " + strings.Join(parts, "; ")
}

// Normalize resolves the full signal vector from KPI history and forecast
// rows. Records do not need to arrive sorted; they are ordered by
// (period end, creation time) before any series is extracted.
func Normalize(kp kpi.Payload, fc forecast.Payload) (FlatSignals, error) {
	h := newHistory(kp.Records)
	failures := make(map[string]string)
	var out FlatSignals

	resolve := func(name string, chain []strategy) float64 {
		for _, s := range chain {
			v, ok, err := s.fn()
			if err != nil {
				failures[name] = err.Error()
				return 0
			}
			if ok {
				log.Debug().Str("signal", name).Str("source", s.name).Float64("value", v).Msg("signal resolved")
				return v
			}
		}
		sources := make([]string, len(chain))
		for i, s := range chain {
			sources[i] = s.name
		}
		failures[name] = "no usable source among " + strings.Join(sources, ", ")
		return 0
	}

	out.RevenueGrowthDelta = resolve(RevenueGrowthDelta, []strategy{
		{"direct " + RevenueGrowthDelta, h.latest(RevenueGrowthDelta)},
		{"latest growth_rate", h.latest("growth_rate")},
		{"pct change of revenue", h.pctChange("revenue")},
		{"pct change of mrr", h.pctChange("mrr")},
		{"pct change of total_revenue", h.pctChange("total_revenue")},
		{"pct change of retainer_revenue", h.pctChange("retainer_revenue")},
	})

	out.ChurnDelta = resolve(ChurnDelta, []strategy{
		{"direct " + ChurnDelta, h.latest(ChurnDelta)},
		{"delta of churn_rate", h.delta("churn_rate")},
		{"delta of client_churn", h.delta("client_churn")},
		{"latest churn_rate", h.latest("churn_rate")},
		{"latest client_churn", h.latest("client_churn")},
	})

	out.ConversionDelta = resolve(ConversionDelta, []strategy{
		{"direct " + ConversionDelta, h.latest(ConversionDelta)},
		{"delta of conversion_rate", h.delta("conversion_rate")},
		{"latest conversion_rate", h.latest("conversion_rate")},
	})

	out.Slope = resolve(Slope, []strategy{
		{"first usable forecast slope", firstSlope(fc)},
	})

	out.DeviationPct = resolve(DeviationPct, []strategy{
		{"first usable forecast deviation", firstDeviation(fc)},
	})

	out.ChurnAcceleration = resolve(ChurnAcceleration, []strategy{
		{"direct forecast " + ChurnAcceleration, directChurnAcceleration(fc)},
		{"churn forecast curvature", churnCurvature(fc)},
		{"churn forecast slope", churnSlope(fc)},
	})

	if len(failures) > 0 {
		return FlatSignals{}, &ValidationError{Failures: failures}
	}
	return out, nil
}

// A strategy either produces a value (ok true), passes (ok false), or
// stops its signal's chain with a hard extraction error.
type strategy struct {
	name string
	fn   func() (float64, bool, error)
}

// history holds per-metric value series extracted from KPI records
// ordered by (period end, creation time).
type history struct {
	series map[string][]float64
}

func newHistory(records []kpi.Record) *history {
	sorted := make([]kpi.Record, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].PeriodEnd.Equal(sorted[j].PeriodEnd) {
			return sorted[i].PeriodEnd.Before(sorted[j].PeriodEnd)
		}
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})

	h := &history{series: make(map[string][]float64)}
	for _, rec := range sorted {
		for name, m := range rec.ComputedKPIs {
			if m.Value == nil {
				continue
			}
			h.series[name] = append(h.series[name], *m.Value)
		}
	}
	return h
}

// latest yields the most recent value of metric.
func (h *history) latest(metric string) func() (float64, bool, error) {
	return func() (float64, bool, error) {
		s := h.series[metric]
		if len(s) == 0 {
			return 0, false, nil
		}
		return s[len(s)-1], true, nil
	}
}

// delta yields the absolute change across the last two values of metric.
func (h *history) delta(metric string) func() (float64, bool, error) {
	return func() (float64, bool, error) {
		s := h.series[metric]
		if len(s) < 2 {
			return 0, false, nil
		}
		return s[len(s)-1] - s[len(s)-2], true, nil
	}
}

// pctChange yields the relative change across the last two values. A zero
// base makes the change undefined; that is a hard extraction failure, not
// a pass to the next strategy.
func (h *history) pctChange(metric string) func() (float64, bool, error) {
	return func() (float64, bool, error) {
		s := h.series[metric]
		if len(s) < 2 {
			return 0, false, nil
		}
		prev, curr := s[len(s)-2], s[len(s)-1]
		if prev == 0 {
			return 0, false, fmt.Errorf("cannot derive from %s: previous value is 0", metric)
		}
		base := prev
		if base < 0 {
			base = -base
		}
		return (curr - prev) / base, true, nil
	}
}

func firstSlope(fc forecast.Payload) func() (float64, bool, error) {
	return func() (float64, bool, error) {
		for _, r := range fc.Forecasts {
			if r.Slope != nil {
				return *r.Slope, true, nil
			}
		}
		return 0, false, nil
	}
}

func firstDeviation(fc forecast.Payload) func() (float64, bool, error) {
	return func() (float64, bool, error) {
		for _, r := range fc.Forecasts {
			if r.DeviationPercentage != nil {
				return *r.DeviationPercentage, true, nil
			}
		}
		return 0, false, nil
	}
}

// directChurnAcceleration scans the forecast rows for an attached
// churn_acceleration value, regardless of the row's metric name.
func directChurnAcceleration(fc forecast.Payload) func() (float64, bool, error) {
	return func() (float64, bool, error) {
		for _, r := range fc.Forecasts {
			if r.ChurnAcceleration != nil {
				return *r.ChurnAcceleration, true, nil
			}
		}
		return 0, false, nil
	}
}

func churnRow(fc forecast.Payload) *forecast.Result {
	for i, r := range fc.Forecasts {
		if strings.Contains(r.MetricName, "churn") {
			return &fc.Forecasts[i]
		}
	}
	return nil
}

// churnCurvature is the second difference of the churn projection.
func churnCurvature(fc forecast.Payload) func() (float64, bool, error) {
	return func() (float64, bool, error) {
		r := churnRow(fc)
		if r == nil || r.Forecast == nil {
			return 0, false, nil
		}
		p := r.Forecast
		return p.Month3 - 2*p.Month2 + p.Month1, true, nil
	}
}

func churnSlope(fc forecast.Payload) func() (float64, bool, error) {
	return func() (float64, bool, error) {
		r := churnRow(fc)
		if r == nil || r.Slope == nil {
			return 0, false, nil
		}
		return *r.Slope, true, nil
	}
}
