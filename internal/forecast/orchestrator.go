package forecast

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Sink persists forecast rows. Implemented by the sqlite store. The
// position is the row's index in the generated payload so a later read
// can restore the original order.
type Sink interface {
	UpsertForecast(ctx context.Context, entityName string, periodEnd time.Time, position int, result Result) error
}

// Series is one metric's history, oldest first.
type Series struct {
	Metric string
	Values []float64
}

// Orchestrator fits every metric series, attaches the trend label and the
// forecast-curvature term, and persists the usable rows.
type Orchestrator struct {
	model      LinearRegression
	classifier *TrendClassifier
	sink       Sink
}

func NewOrchestrator(classifier *TrendClassifier, sink Sink) *Orchestrator {
	return &Orchestrator{classifier: classifier, sink: sink}
}

// Generate runs every series through the model. Metrics are fitted
// concurrently but the payload preserves the input order. A series that is
// too short produces a row with Error set; only storage failures abort the
// whole run. A nil sink skips persistence.
func (o *Orchestrator) Generate(ctx context.Context, entityName string, periodEnd time.Time, series []Series) (Payload, error) {
	results := make([]Result, len(series))

	g, gctx := errgroup.WithContext(ctx)
	for i, s := range series {
		g.Go(func() error {
			r := o.forecastOne(s)
			if r.Slope != nil && o.sink != nil {
				if err := o.sink.UpsertForecast(gctx, entityName, periodEnd, i, r); err != nil {
					return fmt.Errorf("persist forecast for %s: %w", s.Metric, err)
				}
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Payload{}, err
	}

	payload := Payload{EntityName: entityName, Forecasts: results}
	log.Info().
		Str("entity", entityName).
		Int("metrics", len(series)).
		Int("usable", payload.Usable()).
		Msg("forecast generation complete")
	return payload, nil
}

func (o *Orchestrator) forecastOne(s Series) Result {
	r := o.model.Forecast(s.Values)
	r.MetricName = s.Metric
	if r.Slope == nil {
		log.Debug().Str("metric", s.Metric).Str("reason", r.Error).Msg("metric skipped")
		return r
	}

	mean := 0.0
	for _, v := range s.Values {
		mean += v
	}
	mean /= float64(len(s.Values))
	r.Trend = o.classifier.Classify(*r.Slope, mean)

	// Second difference of the projection. Positive values mean the
	// metric's trajectory is curving upward, which for churn-like metrics
	// reads as acceleration.
	accel := round6(r.Forecast.Month3 - 2*r.Forecast.Month2 + r.Forecast.Month1)
	r.ChurnAcceleration = &accel
	return r
}
