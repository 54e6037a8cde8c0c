package pipeline

import (
	"time"

	"github.com/google/uuid"

	"insight-engine/internal/forecast"
	"insight-engine/internal/kpi"
	"insight-engine/internal/prioritize"
	"insight-engine/internal/risk"
	"insight-engine/internal/rootcause"
	"insight-engine/internal/segment"
	"insight-engine/internal/signal"
	"insight-engine/internal/synthesis"
)

// Context is the run state threaded through the pipeline stages. It is
// append-only: every With* method returns a copy with one more field set,
// so a stage can never mutate what an earlier stage produced. Unset stages
// are nil pointers.
type Context struct {
	RunID        uuid.UUID        `json:"run_id"`
	Query        string           `json:"query,omitempty"`
	EntityName   string           `json:"entity_name"`
	BusinessType kpi.BusinessType `json:"business_type"`
	PeriodStart  time.Time        `json:"period_start"`
	PeriodEnd    time.Time        `json:"period_end"`

	// requestedClusters is 0 unless the caller fixed the cluster count.
	requestedClusters int

	KPI            *kpi.Payload        `json:"kpi_data,omitempty"`
	Forecast       *forecast.Payload   `json:"forecast_data,omitempty"`
	Signals        *signal.FlatSignals `json:"signals,omitempty"`
	Risk           *risk.Result        `json:"risk_data,omitempty"`
	RootCause      *rootcause.Result   `json:"root_cause,omitempty"`
	Segmentation   *segment.Result     `json:"segmentation,omitempty"`
	Prioritization *prioritize.Result  `json:"prioritization,omitempty"`
	Insight        *synthesis.Insight  `json:"final_insight,omitempty"`
}

func (c Context) WithEntity(name string) Context {
	c.EntityName = name
	return c
}

func (c Context) WithBusinessType(bt kpi.BusinessType) Context {
	c.BusinessType = bt
	return c
}

func (c Context) WithKPI(p kpi.Payload) Context {
	c.KPI = &p
	return c
}

func (c Context) WithForecast(p forecast.Payload) Context {
	c.Forecast = &p
	return c
}

func (c Context) WithSignals(s signal.FlatSignals) Context {
	c.Signals = &s
	return c
}

func (c Context) WithRisk(r risk.Result) Context {
	c.Risk = &r
	return c
}

func (c Context) WithRootCause(r rootcause.Result) Context {
	c.RootCause = &r
	return c
}

func (c Context) WithSegmentation(s segment.Result) Context {
	c.Segmentation = &s
	return c
}

func (c Context) WithPrioritization(p prioritize.Result) Context {
	c.Prioritization = &p
	return c
}

func (c Context) WithInsight(i synthesis.Insight) Context {
	c.Insight = &i
	return c
}
