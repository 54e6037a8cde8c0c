package prioritize

import (
	"testing"

	"insight-engine/internal/risk"
	"insight-engine/internal/rootcause"
)

func TestPrioritize_MaxSeverityAcrossSources(t *testing.T) {
	// Risk level critical with a low-severity diagnosis must still come
	// out critical.
	got := Prioritize(
		risk.Result{Score: 20, Level: risk.LevelCritical},
		rootcause.Result{PrimaryIssue: rootcause.IssueNone, Severity: "low"},
	)
	if got.PriorityLevel != "critical" {
		t.Errorf("priority = %s, want critical", got.PriorityLevel)
	}
}

func TestPrioritize_ScoreBandIsHarsherThanLevel(t *testing.T) {
	// A score of exactly 80 classifies as "high" on the level scale but
	// the score band already reads it as critical.
	got := Prioritize(
		risk.Result{Score: 80, Level: risk.LevelHigh},
		rootcause.Result{Severity: "low"},
	)
	if got.PriorityLevel != "critical" {
		t.Errorf("priority = %s, want critical for score 80", got.PriorityLevel)
	}
}

func TestPrioritize_FocusIsAlphabeticallyFirstIssue(t *testing.T) {
	got := Prioritize(
		risk.Result{Score: 50, Level: risk.LevelModerate},
		rootcause.Result{
			PrimaryIssue:        rootcause.IssueRetention,
			ContributingFactors: []string{rootcause.IssueAcquisitionInefficiency, rootcause.IssueHighBusinessRisk},
			Severity:            "moderate",
		},
	)
	if got.RecommendedFocus != "acquisition inefficiency" {
		t.Errorf("focus = %q, want %q", got.RecommendedFocus, "acquisition inefficiency")
	}
}

func TestPrioritize_FallbackWhenNothingDiagnosed(t *testing.T) {
	got := Prioritize(
		risk.Result{Score: 25, Level: risk.LevelLow},
		rootcause.Result{PrimaryIssue: rootcause.IssueNone, Severity: "low"},
	)
	if got.RecommendedFocus != "monitor overall business risk (25)" {
		t.Errorf("focus = %q", got.RecommendedFocus)
	}
	if got.PriorityLevel != "low" {
		t.Errorf("priority = %s, want low", got.PriorityLevel)
	}
}

func TestPrioritize_MalformedSeveritiesDegrade(t *testing.T) {
	got := Prioritize(
		risk.Result{Score: 10, Level: "bogus"},
		rootcause.Result{Severity: "MEDIUM"},
	)
	// "medium" normalizes to moderate, "bogus" to low, score 10 to low.
	if got.PriorityLevel != "moderate" {
		t.Errorf("priority = %s, want moderate", got.PriorityLevel)
	}
}
