package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Thresholds carries every tunable constant of the analytics pipeline.
// It is constructed once at startup and injected into each component;
// nothing mutates it afterwards.
type Thresholds struct {
	Trend    TrendThresholds    `koanf:"trend"`
	Risk     RiskWeights        `koanf:"risk"`
	Severity SeverityBands      `koanf:"severity"`
	Rules    RuleThresholds     `koanf:"rules"`
	Labeling LabelThresholds    `koanf:"labeling"`
	Cluster  ClusterSettings    `koanf:"cluster"`
	Gates    GateClassification `koanf:"gates"`
}

// TrendThresholds bound the slope/average ratio buckets of the trend classifier.
type TrendThresholds struct {
	StrongUp   float64 `koanf:"strong_up"`
	WeakUp     float64 `koanf:"weak_up"`
	WeakDown   float64 `koanf:"weak_down"`
	StrongDown float64 `koanf:"strong_down"`
}

// RiskWeights holds the scoring weights and normalization caps of the risk
// model, plus the inclusive upper bounds of the risk level bands.
// The five weights must sum to 1.0.
type RiskWeights struct {
	Revenue      float64 `koanf:"revenue"`
	Churn        float64 `koanf:"churn"`
	Forecast     float64 `koanf:"forecast"`
	Deviation    float64 `koanf:"deviation"`
	Acceleration float64 `koanf:"acceleration"`

	MaxSlope        float64 `koanf:"max_slope"`
	MaxDeviation    float64 `koanf:"max_deviation"`
	MaxAcceleration float64 `koanf:"max_acceleration"`

	LowMax      float64 `koanf:"low_max"`
	ModerateMax float64 `koanf:"moderate_max"`
	HighMax     float64 `koanf:"high_max"`
}

// SeverityBands map a risk score to a root-cause severity label with
// exclusive lower bounds (score > Critical => "critical", and so on).
type SeverityBands struct {
	Critical float64 `koanf:"critical"`
	High     float64 `koanf:"high"`
	Moderate float64 `koanf:"moderate"`
}

// RuleThresholds hold the rule-engine cut points shared across business types.
type RuleThresholds struct {
	HighBusinessRisk float64 `koanf:"high_business_risk"`
	TrafficStable    float64 `koanf:"traffic_stable"`
}

// LabelThresholds drive the priority-ordered segment labeling rules.
type LabelThresholds struct {
	GrowthHigh float64 `koanf:"growth_high"`
	ChurnLow   float64 `koanf:"churn_low"`
	ChurnHigh  float64 `koanf:"churn_high"`
	RiskLow    float64 `koanf:"risk_low"`
	RiskHigh   float64 `koanf:"risk_high"`
}

// ClusterSettings pin the KMeans run so repeated calls over the same matrix
// produce identical assignments.
type ClusterSettings struct {
	Seed  int64 `koanf:"seed"`
	NInit int   `koanf:"n_init"`
}

// GateClassification lists validation failure codes by severity. A code in
// Critical aborts the run; a code in Optional logs a warning and continues.
type GateClassification struct {
	Critical []string `koanf:"critical"`
	Optional []string `koanf:"optional"`
}

// IsCritical reports whether a failure code aborts the run. Unknown codes
// are treated as critical so a misconfigured table fails loudly.
func (g GateClassification) IsCritical(code string) bool {
	for _, c := range g.Optional {
		if c == code {
			return false
		}
	}
	return true
}

// DefaultThresholds returns the built-in constants of the pipeline.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Trend: TrendThresholds{
			StrongUp:   0.05,
			WeakUp:     0.01,
			WeakDown:   -0.01,
			StrongDown: -0.05,
		},
		Risk: RiskWeights{
			Revenue:         0.25,
			Churn:           0.25,
			Forecast:        0.20,
			Deviation:       0.15,
			Acceleration:    0.15,
			MaxSlope:        1.0,
			MaxDeviation:    1.0,
			MaxAcceleration: 1.0,
			LowMax:          30,
			ModerateMax:     60,
			HighMax:         80,
		},
		Severity: SeverityBands{
			Critical: 80,
			High:     60,
			Moderate: 30,
		},
		Rules: RuleThresholds{
			HighBusinessRisk: 70,
			TrafficStable:    5.0,
		},
		Labeling: LabelThresholds{
			GrowthHigh: 0.10,
			ChurnLow:   0.05,
			ChurnHigh:  0.10,
			RiskLow:    30,
			RiskHigh:   60,
		},
		Cluster: ClusterSettings{
			Seed:  42,
			NInit: 10,
		},
		Gates: GateClassification{
			Critical: []string{"empty_kpi", "empty_forecast", "empty_risk"},
			Optional: []string{"missing_segmentation"},
		},
	}
}

// LoadThresholds layers an optional YAML file and INSIGHT_-prefixed
// environment variables over the defaults.
// Order of precedence (low -> high):
//  1. DefaultThresholds()
//  2. file (YAML) when path is non-empty
//  3. env (prefix INSIGHT_, e.g. INSIGHT_RISK.CHURN=0.3)
func LoadThresholds(path string) (Thresholds, error) {
	t := DefaultThresholds()

	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return t, fmt.Errorf("loading thresholds file %q: %w", path, err)
		}
	}

	envProvider := env.Provider("INSIGHT_", ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, "INSIGHT_"))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return t, fmt.Errorf("loading thresholds from env: %w", err)
	}

	if err := k.UnmarshalWithConf("", &t, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return t, fmt.Errorf("unmarshalling thresholds: %w", err)
	}

	if err := t.Validate(); err != nil {
		return t, err
	}
	return t, nil
}

// Validate rejects threshold tables that would break scoring invariants.
func (t Thresholds) Validate() error {
	sum := t.Risk.Revenue + t.Risk.Churn + t.Risk.Forecast + t.Risk.Deviation + t.Risk.Acceleration
	if sum < 0.999 || sum > 1.001 {
		return fmt.Errorf("risk weights must sum to 1.0, got %.4f", sum)
	}
	if t.Cluster.NInit < 1 {
		return fmt.Errorf("cluster.n_init must be >= 1, got %d", t.Cluster.NInit)
	}
	if !(t.Risk.LowMax < t.Risk.ModerateMax && t.Risk.ModerateMax < t.Risk.HighMax) {
		return fmt.Errorf("risk level bands must be strictly increasing")
	}
	return nil
}
