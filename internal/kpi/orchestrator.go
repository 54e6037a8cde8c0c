package kpi

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Taxonomy errors of the KPI pipeline. Division by zero is deliberately not
// here: it is data (a nil metric value), never a Go error.
var (
	ErrUnknownBusinessType = errors.New("unknown business type")
	ErrAggregation         = errors.New("kpi aggregation failed")
	ErrPersistence         = errors.New("kpi persistence failed")
)

// Aggregator fetches raw formula inputs for one entity and period window.
type Aggregator interface {
	Aggregate(ctx context.Context, entity string, bt BusinessType, periodStart, periodEnd time.Time) (Inputs, error)
}

// Sink receives the computed KPI payload. Upserts are idempotent, keyed by
// (entity, period window).
type Sink interface {
	UpsertKPI(ctx context.Context, entity string, periodStart, periodEnd time.Time, metrics map[string]Metric) (uuid.UUID, error)
}

// RunResult is the structured output of one orchestrator run.
type RunResult struct {
	RecordID     uuid.UUID
	EntityName   string
	BusinessType BusinessType
	PeriodStart  time.Time
	PeriodEnd    time.Time
	Metrics      map[string]Metric
	ComputedAt   time.Time
	HasErrors    bool
}

// Orchestrator wires Aggregator -> Formula -> Sink into a single run.
// No formula math lives here; every layer keeps its own responsibility.
type Orchestrator struct {
	agg  Aggregator
	sink Sink
}

// NewOrchestrator builds an orchestrator over the given collaborators.
func NewOrchestrator(agg Aggregator, sink Sink) *Orchestrator {
	return &Orchestrator{agg: agg, sink: sink}
}

// Run executes the full KPI pipeline for one entity over one period.
//
// Aggregation failures abort the run. Calculation failures never do: a
// metric that divides by zero is stored with a nil value and an error
// string, and every sibling metric is still computed and persisted.
func (o *Orchestrator) Run(ctx context.Context, entity string, bt BusinessType, periodStart, periodEnd time.Time) (RunResult, error) {
	formula, err := ForType(bt)
	if err != nil {
		return RunResult{}, fmt.Errorf("%w: %q", ErrUnknownBusinessType, bt)
	}
	if !periodStart.Before(periodEnd) {
		return RunResult{}, fmt.Errorf("period_start must be before period_end; got %s >= %s",
			periodStart.Format(time.RFC3339), periodEnd.Format(time.RFC3339))
	}

	// The previous window has the same duration and ends where this one starts.
	prevStart, prevEnd := PreviousPeriod(periodStart, periodEnd)

	log.Info().
		Str("entity", entity).
		Str("business_type", string(bt)).
		Time("period_start", periodStart).
		Time("period_end", periodEnd).
		Msg("KPI run started")

	inputs, err := o.agg.Aggregate(ctx, entity, bt, periodStart, periodEnd)
	if err != nil {
		return RunResult{}, fmt.Errorf("%w: current period: %v", ErrAggregation, err)
	}
	prev, err := o.agg.Aggregate(ctx, entity, bt, prevStart, prevEnd)
	if err != nil {
		return RunResult{}, fmt.Errorf("%w: previous period: %v", ErrAggregation, err)
	}
	inputs.PreviousMRR = sum(prev.ActiveSubscriptions)
	inputs.PreviousRevenue = sum(prev.Orders)

	values := formula.Calculate(inputs)

	metrics := make(map[string]Metric, len(values))
	hasErrors := false
	for name, value := range values {
		m := Metric{Value: value, Unit: UnitFor(name)}
		if value == nil {
			m.Error = fmt.Sprintf("cannot compute %s: denominator is zero or upstream metric unavailable", name)
			hasErrors = true
		}
		metrics[name] = m
	}

	recordID, err := o.sink.UpsertKPI(ctx, entity, periodStart, periodEnd, metrics)
	if err != nil {
		return RunResult{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	result := RunResult{
		RecordID:     recordID,
		EntityName:   entity,
		BusinessType: bt,
		PeriodStart:  periodStart,
		PeriodEnd:    periodEnd,
		Metrics:      metrics,
		ComputedAt:   time.Now().UTC(),
		HasErrors:    hasErrors,
	}

	log.Info().
		Str("entity", entity).
		Bool("has_errors", hasErrors).
		Int("metrics", len(metrics)).
		Msg("KPI run completed")

	return result, nil
}

// PreviousPeriod derives the immediately preceding window of equal duration.
func PreviousPeriod(periodStart, periodEnd time.Time) (time.Time, time.Time) {
	duration := periodEnd.Sub(periodStart)
	return periodStart.Add(-duration), periodStart
}
