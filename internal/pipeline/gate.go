package pipeline

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"insight-engine/internal/config"
)

// Failure codes emitted by the validation gates. Severity is not encoded
// here; config.GateClassification decides which codes abort the run.
const (
	CodeEmptyKPI            = "empty_kpi"
	CodeEmptyForecast       = "empty_forecast"
	CodeEmptyRisk           = "empty_risk"
	CodeMissingSegmentation = "missing_segmentation"
)

// GateError is a critical validation gate failure.
type GateError struct {
	Stage string
	Codes []string
}

func (e *GateError) Error() string {
	return fmt.Sprintf("validation gate failed at %s: %v", e.Stage, e.Codes)
}

// validateCoreSignals checks minimum data completeness before a downstream
// stage runs: at least one KPI record, at least one usable forecast row,
// and a computed risk score. Critical codes abort the run; optional codes
// only log. The same check runs before root-cause and before synthesis.
func validateCoreSignals(c Context, gates config.GateClassification, stage string) error {
	var codes []string
	if c.KPI == nil || len(c.KPI.Records) == 0 {
		codes = append(codes, CodeEmptyKPI)
	}
	if c.Forecast == nil || c.Forecast.Usable() == 0 {
		codes = append(codes, CodeEmptyForecast)
	}
	if c.Risk == nil {
		codes = append(codes, CodeEmptyRisk)
	}

	var critical []string
	for _, code := range codes {
		if gates.IsCritical(code) {
			critical = append(critical, code)
			continue
		}
		log.Warn().
			Str("stage", stage).
			Str("code", code).
			Msg("optional validation failure, continuing degraded")
	}
	if len(critical) > 0 {
		return &GateError{Stage: stage, Codes: critical}
	}
	return nil
}
