package synthesis

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
)

// Generator is the external language-model collaborator. Implementations
// send the prompt and return the raw response text.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// RetryExhaustedError reports that every attempt produced output that
// failed contract validation.
type RetryExhaustedError struct {
	Attempts int
	Last     *ValidationError
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("synthesis output invalid after %d attempt(s): %v", e.Attempts, e.Last)
}

// GenerateWithRetry calls the generator and validates its output,
// retrying only on contract violations (bad JSON, schema mismatch).
// Transport errors from the generator are never retried here. Each retry
// appends the previous validation failure to the prompt so the model can
// correct itself. Total attempts = 1 + maxRetries.
func GenerateWithRetry(ctx context.Context, gen Generator, prompt string, maxRetries int) (Insight, error) {
	attempts := 1 + maxRetries
	current := prompt

	var last *ValidationError
	for attempt := 1; attempt <= attempts; attempt++ {
		raw, err := gen.Generate(ctx, current)
		if err != nil {
			return Insight{}, fmt.Errorf("synthesis generation: %w", err)
		}

		insight, err := Validate(raw)
		if err == nil {
			if attempt > 1 {
				log.Info().Int("attempt", attempt).Int("max", attempts).Msg("synthesis output validated after retry")
			}
			return insight, nil
		}

		var verr *ValidationError
		if !errors.As(err, &verr) {
			return Insight{}, err
		}
		last = verr
		log.Warn().
			Int("attempt", attempt).
			Int("max", attempts).
			Str("stage", verr.Stage).
			Msg("synthesis output rejected")
		current = fmt.Sprintf("%s\n\n# CORRECTION\n\nYour previous response was rejected: %s\nReturn only a corrected JSON object.", prompt, verr)
	}

	return Insight{}, &RetryExhaustedError{Attempts: attempts, Last: last}
}

// MockGenerator returns a fixed valid response. Used by tests and dry
// runs where no model endpoint is available.
type MockGenerator struct{}

func (MockGenerator) Generate(context.Context, string) (string, error) {
	return `{
  "insight": "Mock insight for testing purposes.",
  "evidence": "Finding A identified in test data; Finding B identified in test data.",
  "impact": "No real risk, this is a test fixture.",
  "recommended_action": "Verify integration with upstream stages.",
  "priority": "low",
  "confidence_score": 0.95
}`, nil
}
