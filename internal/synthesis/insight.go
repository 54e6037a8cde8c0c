// Package synthesis owns the final stage of a pipeline run: building the
// prompt for the language-model collaborator and validating its reply
// against the fixed insight contract.
package synthesis

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
)

// Insight is the only accepted output contract of the synthesis stage.
type Insight struct {
	Insight           string  `json:"insight"`
	Evidence          string  `json:"evidence"`
	Impact            string  `json:"impact"`
	RecommendedAction string  `json:"recommended_action"`
	Priority          string  `json:"priority"`
	ConfidenceScore   float64 `json:"confidence_score"`
}

// Validation stages reported by ValidationError.
const (
	StageJSONParse = "json_parse"
	StageSchema    = "schema"
)

// ValidationError describes why a raw model response was rejected.
type ValidationError struct {
	Stage  string
	Errors []string
	Raw    string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("synthesis output validation failed at stage %q: %s", e.Stage, strings.Join(e.Errors, "; "))
}

var requiredKeys = []string{"insight", "evidence", "impact", "recommended_action", "priority", "confidence_score"}

var (
	schemaOnce     sync.Once
	resolvedSchema *jsonschema.Resolved
	schemaErr      error
)

func insightSchema() *jsonschema.Schema {
	// Each property needs its own schema node: Resolve rejects graphs where
	// the same *Schema appears more than once.
	str := func() *jsonschema.Schema { return &jsonschema.Schema{Type: "string"} }
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"insight":            str(),
			"evidence":           str(),
			"impact":             str(),
			"recommended_action": str(),
			"priority":           str(),
			"confidence_score": {
				Type:    "number",
				Minimum: float64Ptr(0),
				Maximum: float64Ptr(1),
			},
		},
		Required: requiredKeys,
	}
}

func schema() (*jsonschema.Resolved, error) {
	schemaOnce.Do(func() {
		resolvedSchema, schemaErr = insightSchema().Resolve(nil)
	})
	return resolvedSchema, schemaErr
}

func float64Ptr(v float64) *float64 { return &v }

var fenceRe = regexp.MustCompile("(?s)^```(?:json)?\\s*\n?(.*?)\n?\\s*```$")

// stripFences removes a markdown code fence wrapping the JSON. Models do
// this despite instructions.
func stripFences(text string) string {
	trimmed := strings.TrimSpace(text)
	if m := fenceRe.FindStringSubmatch(trimmed); m != nil {
		return strings.TrimSpace(m[1])
	}
	return trimmed
}

// Validate parses a raw model response and checks it against the insight
// contract. Unknown keys are dropped before validation; the model is
// allowed to say more, not less.
func Validate(raw string) (Insight, error) {
	cleaned := stripFences(raw)

	var data map[string]any
	if err := json.Unmarshal([]byte(cleaned), &data); err != nil {
		return Insight{}, &ValidationError{Stage: StageJSONParse, Errors: []string{err.Error()}, Raw: raw}
	}

	projected := make(map[string]any, len(requiredKeys))
	for _, key := range requiredKeys {
		if v, ok := data[key]; ok {
			projected[key] = v
		}
	}

	rs, err := schema()
	if err != nil {
		return Insight{}, fmt.Errorf("resolving insight schema: %w", err)
	}
	if err := rs.Validate(projected); err != nil {
		return Insight{}, &ValidationError{Stage: StageSchema, Errors: []string{err.Error()}, Raw: raw}
	}

	buf, err := json.Marshal(projected)
	if err != nil {
		return Insight{}, fmt.Errorf("re-encoding validated insight: %w", err)
	}
	var out Insight
	if err := json.Unmarshal(buf, &out); err != nil {
		return Insight{}, &ValidationError{Stage: StageSchema, Errors: []string{err.Error()}, Raw: raw}
	}
	return out, nil
}
