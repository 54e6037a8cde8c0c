package risk

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"insight-engine/internal/signal"
)

// Sink persists scored results together with the signal inputs that
// produced them, so a score can always be explained after the fact.
type Sink interface {
	UpsertRiskScore(ctx context.Context, entityName string, periodEnd time.Time, result Result, inputs signal.FlatSignals) error
}

// Orchestrator coordinates scoring and persistence. It performs no
// scoring math itself.
type Orchestrator struct {
	model *Model
	sink  Sink
}

func NewOrchestrator(model *Model, sink Sink) *Orchestrator {
	return &Orchestrator{model: model, sink: sink}
}

// Generate scores the signal vector, persists the result, and returns it.
// A nil sink skips persistence.
func (o *Orchestrator) Generate(ctx context.Context, entityName string, periodEnd time.Time, signals signal.FlatSignals) (Result, error) {
	result := o.model.Compute(signals)

	if o.sink != nil {
		if err := o.sink.UpsertRiskScore(ctx, entityName, periodEnd, result, signals); err != nil {
			return Result{}, fmt.Errorf("persist risk score for %s: %w", entityName, err)
		}
	}

	log.Info().
		Str("entity", entityName).
		Int("risk_score", result.Score).
		Str("risk_level", result.Level).
		Msg("risk score generated")
	return result, nil
}
