package forecast

import (
	"fmt"
	"math"
)

// MinPoints is the minimum series length for a meaningful fit.
const MinPoints = 2

// Points is a three-month forward projection.
type Points struct {
	Month1 float64 `json:"month_1"`
	Month2 float64 `json:"month_2"`
	Month3 float64 `json:"month_3"`
}

// Result is the forecast output for one metric. All numeric fields are nil
// and Error is populated when the history has fewer than MinPoints values.
type Result struct {
	MetricName          string   `json:"metric_name"`
	Slope               *float64 `json:"slope"`
	Intercept           *float64 `json:"intercept"`
	Forecast            *Points  `json:"forecast"`
	DeviationPercentage *float64 `json:"deviation_percentage"`
	ChurnAcceleration   *float64 `json:"churn_acceleration,omitempty"`
	Trend               string   `json:"trend,omitempty"`
	Error               string   `json:"error,omitempty"`
}

// Payload carries one forecast row per metric, in the business type's
// metric-list order. Downstream signal extraction scans rows in this order
// and the first match wins, so the order is part of the contract.
type Payload struct {
	EntityName string   `json:"entity_name"`
	Forecasts  []Result `json:"forecasts"`
}

// Usable reports how many rows carry a fitted forecast.
func (p Payload) Usable() int {
	n := 0
	for _, r := range p.Forecasts {
		if r.Slope != nil {
			n++
		}
	}
	return n
}

// LinearRegression fits an OLS line to historical values and projects three
// periods ahead.
//
// The regression is computed analytically:
//
//	m = cov(x, y) / var(x)
//	b = mean(y) - m * mean(x)
//
// with x = [0, 1, ..., n-1] and population (not sample) covariance/variance.
// Forecast points are extrapolated from the last observed value, not from
// the fitted line's endpoint, so the projection anchors to reality rather
// than to the regression's smoothed value:
//
//	month_k = last_value + k * m   (k = 1, 2, 3)
//
// Deviation is the relative difference between the last observed value and
// the fitted value at that position.
type LinearRegression struct{}

// Forecast fits values (oldest first) and returns a Result. Series shorter
// than MinPoints yield a Result with a populated Error; no error is raised.
func (LinearRegression) Forecast(values []float64) Result {
	n := len(values)
	if n < MinPoints {
		return Result{
			Error: fmt.Sprintf("insufficient data: need at least %d points, got %d", MinPoints, n),
		}
	}

	meanX := float64(n-1) / 2.0
	meanY := 0.0
	for _, v := range values {
		meanY += v
	}
	meanY /= float64(n)

	covXY := 0.0
	varX := 0.0
	for i, v := range values {
		dx := float64(i) - meanX
		covXY += dx * (v - meanY)
		varX += dx * dx
	}

	// n >= 2 makes varX > 0, but guard the degenerate case anyway.
	if varX == 0 {
		mean := round6(meanY)
		return Result{
			Slope:               ptr(0),
			Intercept:           ptr(mean),
			Forecast:            &Points{Month1: mean, Month2: mean, Month3: mean},
			DeviationPercentage: ptr(0),
		}
	}

	slope := covXY / varX
	intercept := meanY - slope*meanX

	last := values[n-1]
	points := &Points{
		Month1: round6(last + 1*slope),
		Month2: round6(last + 2*slope),
		Month3: round6(last + 3*slope),
	}

	fittedLast := slope*float64(n-1) + intercept
	deviation := 0.0
	if fittedLast != 0 {
		deviation = (last - fittedLast) / fittedLast
	}

	return Result{
		Slope:               ptr(round6(slope)),
		Intercept:           ptr(round6(intercept)),
		Forecast:            points,
		DeviationPercentage: ptr(round6(deviation)),
	}
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

func ptr(v float64) *float64 { return &v }
