package synthesis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

const validResponse = `{
  "insight": "Churn is accelerating.",
  "evidence": "churn_delta rose 0.04 over the period.",
  "impact": "Recurring revenue at risk next quarter.",
  "recommended_action": "Prioritize retention outreach.",
  "priority": "high",
  "confidence_score": 0.8
}`

func TestValidate_AcceptsPlainAndFencedJSON(t *testing.T) {
	for _, raw := range []string{
		validResponse,
		"```json\n" + validResponse + "\n```",
		"```\n" + validResponse + "\n```",
		"  \n" + validResponse + "\n  ",
	} {
		got, err := Validate(raw)
		if err != nil {
			t.Errorf("Validate(%.20q...): %v", raw, err)
			continue
		}
		if got.Priority != "high" || got.ConfidenceScore != 0.8 {
			t.Errorf("unexpected insight: %+v", got)
		}
	}
}

func TestValidate_ExtraKeysAreDropped(t *testing.T) {
	raw := strings.Replace(validResponse, "{", `{"reasoning": "chain of thought", `, 1)
	got, err := Validate(raw)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got.Insight != "Churn is accelerating." {
		t.Errorf("insight = %q", got.Insight)
	}
}

func TestValidate_RejectsBadJSON(t *testing.T) {
	_, err := Validate("the business is doing fine")
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Stage != StageJSONParse {
		t.Fatalf("err = %v, want %s-stage validation error", err, StageJSONParse)
	}
}

func TestValidate_RejectsSchemaViolations(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"missing field", `{"insight": "x", "evidence": "y", "impact": "z", "priority": "low", "confidence_score": 0.5}`},
		{"confidence out of range", strings.Replace(validResponse, "0.8", "1.8", 1)},
		{"wrong type", strings.Replace(validResponse, `"high"`, "3", 1)},
		{"not an object", `[1, 2, 3]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Validate(tt.raw)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("err = %v, want *ValidationError", err)
			}
		})
	}
}

func TestBuildPrompt_LabeledSectionsInOrder(t *testing.T) {
	prompt, err := BuildPrompt([]Section{
		{Title: "Kpi Data", Data: map[string]any{"mrr": 1000}},
		{Title: "Risk Data", Data: map[string]any{"risk_score": 42}},
	})
	if err != nil {
		t.Fatalf("BuildPrompt: %v", err)
	}
	kpiAt := strings.Index(prompt, "## Kpi Data")
	riskAt := strings.Index(prompt, "## Risk Data")
	if kpiAt < 0 || riskAt < 0 || kpiAt > riskAt {
		t.Errorf("section order broken: kpi@%d risk@%d", kpiAt, riskAt)
	}
	for _, want := range []string{"# PROVIDED DATA", "# OUTPUT SCHEMA", "# EXAMPLE OUTPUT", "# TASK", `"mrr": 1000`} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}

	again, err := BuildPrompt([]Section{
		{Title: "Kpi Data", Data: map[string]any{"mrr": 1000}},
		{Title: "Risk Data", Data: map[string]any{"risk_score": 42}},
	})
	if err != nil {
		t.Fatalf("BuildPrompt: %v", err)
	}
	if prompt != again {
		t.Error("identical inputs must produce byte-identical prompts")
	}
}

// scriptedGenerator replays canned responses in order.
type scriptedGenerator struct {
	responses []string
	prompts   []string
}

func (g *scriptedGenerator) Generate(_ context.Context, prompt string) (string, error) {
	g.prompts = append(g.prompts, prompt)
	i := len(g.prompts) - 1
	if i >= len(g.responses) {
		return "", fmt.Errorf("no scripted response for call %d", i+1)
	}
	return g.responses[i], nil
}

func TestGenerateWithRetry_RecoversFromBadFirstAttempt(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{"not json at all", validResponse}}

	got, err := GenerateWithRetry(context.Background(), gen, "PROMPT", 2)
	if err != nil {
		t.Fatalf("GenerateWithRetry: %v", err)
	}
	if got.Priority != "high" {
		t.Errorf("priority = %q, want high", got.Priority)
	}
	if len(gen.prompts) != 2 {
		t.Fatalf("made %d calls, want 2", len(gen.prompts))
	}
	if !strings.Contains(gen.prompts[1], "# CORRECTION") {
		t.Error("retry prompt should carry the correction note")
	}
}

func TestGenerateWithRetry_Exhaustion(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{"bad", "bad", "bad"}}

	_, err := GenerateWithRetry(context.Background(), gen, "PROMPT", 2)
	var rerr *RetryExhaustedError
	if !errors.As(err, &rerr) {
		t.Fatalf("err = %v, want *RetryExhaustedError", err)
	}
	if rerr.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", rerr.Attempts)
	}
}

func TestGenerateWithRetry_TransportErrorNotRetried(t *testing.T) {
	gen := &scriptedGenerator{responses: nil}

	_, err := GenerateWithRetry(context.Background(), gen, "PROMPT", 5)
	if err == nil {
		t.Fatal("expected transport error")
	}
	if len(gen.prompts) != 1 {
		t.Errorf("made %d calls, want 1 (no retry on transport failure)", len(gen.prompts))
	}
}

func TestMockGenerator_ProducesValidContract(t *testing.T) {
	raw, err := MockGenerator{}.Generate(context.Background(), "ignored")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	got, err := Validate(raw)
	if err != nil {
		t.Fatalf("mock output failed validation: %v", err)
	}
	if got.ConfidenceScore != 0.95 {
		t.Errorf("confidence = %v, want 0.95", got.ConfidenceScore)
	}
}
