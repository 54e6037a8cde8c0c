package kpi

import (
	"fmt"
	"strings"
	"time"
)

// BusinessType selects which formula family, root-cause engine, and metric
// list apply to an entity.
type BusinessType string

const (
	SaaS      BusinessType = "saas"
	Ecommerce BusinessType = "ecommerce"
	Agency    BusinessType = "agency"
)

// aliases map intent-level business types to a supported formula family.
var aliases = map[string]BusinessType{
	"saas":       SaaS,
	"software":   SaaS,
	"ecommerce":  Ecommerce,
	"retail":     Ecommerce,
	"e-commerce": Ecommerce,
	"agency":     Agency,
	"marketing":  Agency,
	"consulting": Agency,
}

// ParseBusinessType resolves a raw business type string, accepting the
// semantic aliases the intent stage may produce. There is no default: an
// unrecognized type is an error.
func ParseBusinessType(raw string) (BusinessType, error) {
	bt, ok := aliases[strings.ToLower(strings.TrimSpace(raw))]
	if !ok {
		return "", fmt.Errorf("%w: %q (supported: saas, ecommerce, agency)", ErrUnknownBusinessType, raw)
	}
	return bt, nil
}

// Metric is one computed KPI value. Value is nil when the formula hit a
// division by zero; Error then explains which denominator was zero.
type Metric struct {
	Value *float64 `json:"value"`
	Unit  string   `json:"unit"`
	Error string   `json:"error,omitempty"`
}

// Record is the computed KPI snapshot for one (entity, period) pair.
type Record struct {
	EntityName   string            `json:"entity_name"`
	PeriodStart  time.Time         `json:"period_start"`
	PeriodEnd    time.Time         `json:"period_end"`
	CreatedAt    time.Time         `json:"created_at"`
	ComputedKPIs map[string]Metric `json:"computed_kpis"`
}

// Payload is the KPI input handed to downstream stages: all records for one
// entity, oldest period first.
type Payload struct {
	EntityName string   `json:"entity_name"`
	Records    []Record `json:"records"`
}

// Inputs is the superset of raw aggregates the three formula families
// consume. Fields irrelevant to a family are ignored by its formulas;
// zero values trip the division-by-zero guards rather than panicking.
type Inputs struct {
	// SaaS
	ActiveSubscriptions []float64
	StartingCustomers   int
	LostCustomers       int
	GrossMargin         float64
	PreviousMRR         float64

	// Ecommerce
	Orders          []float64
	TotalVisitors   int
	MarketingSpend  float64
	NewCustomers    int
	UniqueCustomers int
	PreviousRevenue float64

	// Agency
	RetainerFees            []float64
	ProjectValues           []float64
	StartingClients         int
	LostClients             int
	BillableHours           float64
	AvailableHours          float64
	TotalEmployees          int
	AvgClientLifespanMonths float64
}

// rateMetrics lists metrics whose natural unit is a dimensionless ratio
// rather than currency.
var rateMetrics = map[string]bool{
	"churn_rate":         true,
	"client_churn":       true,
	"conversion_rate":    true,
	"utilization_rate":   true,
	"growth_rate":        true,
	"purchase_frequency": true,
}

// UnitFor returns the payload unit tag for a metric name.
func UnitFor(metric string) string {
	if rateMetrics[metric] {
		return "ratio"
	}
	return "currency"
}
