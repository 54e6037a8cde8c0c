// Package prioritize collapses the risk assessment and root-cause
// diagnosis into a single priority level and focus recommendation.
package prioritize

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"insight-engine/internal/risk"
	"insight-engine/internal/rootcause"
)

// Result is the prioritization output.
type Result struct {
	PriorityLevel    string `json:"priority_level"`
	RecommendedFocus string `json:"recommended_focus"`
}

var severityRank = map[string]int{
	"critical": 4,
	"high":     3,
	"moderate": 2,
	"low":      1,
}

// Prioritize picks the maximum severity across three sources (root-cause
// severity, risk level, and a band derived from the raw score) and turns
// the diagnosed issues into one focus line. It never fails: malformed
// severities degrade to "low" and an empty diagnosis falls back to a
// monitoring recommendation.
func Prioritize(riskResult risk.Result, rootCause rootcause.Result) Result {
	score := clampScore(float64(riskResult.Score))

	severities := []string{
		normalizeSeverity(rootCause.Severity),
		normalizeSeverity(riskResult.Level),
		severityFromScore(score),
	}
	top := severities[0]
	for _, s := range severities[1:] {
		if severityRank[s] > severityRank[top] {
			top = s
		}
	}

	issues := issueCandidates(rootCause)
	// All issues share the run's severity and score, so the ordering tie
	// break is the issue name itself.
	sort.Strings(issues)

	focus := fmt.Sprintf("monitor overall business risk (%d)", int(math.Round(score)))
	if len(issues) > 0 {
		focus = strings.ReplaceAll(issues[0], "_", " ")
	}

	return Result{PriorityLevel: top, RecommendedFocus: focus}
}

// severityFromScore bands the raw score with inclusive lower bounds,
// deliberately harsher than the risk level's inclusive upper bounds: a
// score of exactly 80 is already critical here.
func severityFromScore(score float64) string {
	switch {
	case score >= 80:
		return "critical"
	case score >= 60:
		return "high"
	case score >= 30:
		return "moderate"
	default:
		return "low"
	}
}

func normalizeSeverity(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	if _, ok := severityRank[s]; ok {
		return s
	}
	if s == "medium" {
		return "moderate"
	}
	return "low"
}

// issueCandidates collects the primary issue and contributing factors,
// deduplicated, skipping the clean-bill-of-health marker.
func issueCandidates(rootCause rootcause.Result) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(issue string) {
		issue = strings.TrimSpace(issue)
		if issue == "" || issue == rootcause.IssueNone || seen[issue] {
			return
		}
		seen[issue] = true
		out = append(out, issue)
	}
	add(rootCause.PrimaryIssue)
	for _, f := range rootCause.ContributingFactors {
		add(f)
	}
	return out
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
