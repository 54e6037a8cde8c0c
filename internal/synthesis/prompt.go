package synthesis

import (
	"encoding/json"
	"fmt"
	"strings"
)

const systemInstructions = `You are a strategic business analyst.

STRICT RULES:
- Do NOT compute, calculate, or derive any new numbers.
- Use ONLY the data provided below. Do not infer beyond what is given.
- Return strictly valid JSON matching the schema defined below.
- Do NOT include any text outside the JSON object.
- Do NOT wrap the JSON in markdown code fences.
`

const exampleOutput = `{
  "insight": "Revenue declined 12% QoQ driven by churn in the mid-market segment.",
  "evidence": "Mid-market churn rose from 4% to 9%; CAC increased 18% with no corresponding LTV gain.",
  "impact": "Accelerating mid-market churn threatens the recurring revenue base.",
  "recommended_action": "Launch a targeted retention campaign for mid-market accounts.",
  "priority": "critical",
  "confidence_score": 0.85
}`

// Section is one labeled block of upstream pipeline output.
type Section struct {
	Title string
	Data  any
}

// BuildPrompt assembles the synthesis prompt: instructions, each upstream
// result as a labeled JSON section, the output schema, an example, and
// the task line. Section order is preserved so prompts are byte-stable
// for identical inputs.
func BuildPrompt(sections []Section) (string, error) {
	var b strings.Builder
	b.WriteString(systemInstructions)
	b.WriteString("\n# PROVIDED DATA\n\n")

	for _, s := range sections {
		body, err := json.MarshalIndent(s.Data, "", "  ")
		if err != nil {
			return "", fmt.Errorf("encoding prompt section %q: %w", s.Title, err)
		}
		fmt.Fprintf(&b, "## %s\n```json\n%s\n```\n\n", s.Title, body)
	}

	schemaJSON, err := json.MarshalIndent(insightSchema(), "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding insight schema: %w", err)
	}

	b.WriteString("# OUTPUT SCHEMA\n\n")
	b.WriteString("Your response MUST conform to this JSON schema:\n\n")
	fmt.Fprintf(&b, "```json\n%s\n```\n\n", schemaJSON)
	b.WriteString("# EXAMPLE OUTPUT\n\n")
	fmt.Fprintf(&b, "```json\n%s\n```\n\n", exampleOutput)
	b.WriteString("# TASK\n\n")
	b.WriteString("Synthesize the provided data into a single JSON object matching the schema above. Do not compute. Use only provided data.")
	return b.String(), nil
}
