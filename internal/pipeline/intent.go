package pipeline

import (
	"regexp"
	"strings"
)

// Keyword groups scored against the lowercased query. Group keys are raw
// detector labels; ParseBusinessType maps them onto the supported engine
// types at the router.
var businessTypeKeywords = map[string][]string{
	"saas":      {"saas", "software", "platform", "app", "subscription", "cloud service"},
	"ecommerce": {"retail", "store", "shop", "ecommerce", "e-commerce", "merchandise"},
	"agency":    {"agency", "marketing", "consulting", "studio", "creative"},
}

// Patterns that typically precede an entity name in a query. The first
// capture group is the candidate.
var entityPatterns = []*regexp.Regexp{
	regexp.MustCompile(`for\s+([A-Z][A-Za-z0-9&'\- ]{1,40}?)(?:\s+(?:in|at|on|is|are|has|have|with)|,|$)`),
	regexp.MustCompile(`of\s+([A-Z][A-Za-z0-9&'\- ]{1,40}?)(?:\s+(?:in|at|on|is|are|has|have|with)|,|$)`),
	regexp.MustCompile(`about\s+([A-Z][A-Za-z0-9&'\- ]{1,40}?)(?:\s+(?:in|at|on|is|are|has|have|with)|,|$)`),
	regexp.MustCompile(`(?:analyze|analyse|evaluate|assess|review)\s+([A-Z][A-Za-z0-9&'\- ]{1,40}?)(?:\s+(?:in|at|on|is|are|has|have|with)|,|$|\.)`),
}

// detectBusinessType returns the keyword group with the most hits in the
// query, or "" when nothing matches. Ties break alphabetically so the
// result is deterministic.
func detectBusinessType(query string) string {
	lowered := strings.ToLower(query)

	best, bestHits := "", 0
	for _, btype := range []string{"agency", "ecommerce", "saas"} {
		hits := 0
		for _, kw := range businessTypeKeywords[btype] {
			if strings.Contains(lowered, kw) {
				hits++
			}
		}
		if hits > bestHits {
			best, bestHits = btype, hits
		}
	}
	return best
}

// extractEntityName pulls a proper-noun entity name from the query, or ""
// when nothing plausible is found.
func extractEntityName(query string) string {
	for _, re := range entityPatterns {
		if m := re.FindStringSubmatch(query); m != nil {
			if candidate := strings.Trim(m[1], " ,."); candidate != "" {
				return candidate
			}
		}
	}

	// Fallback: the first run of two or more Title-Cased words.
	var run []string
	for _, token := range strings.Fields(query) {
		clean := strings.Trim(token, ",.!?()")
		if clean != "" && isTitleCased(clean) {
			run = append(run, clean)
			continue
		}
		if len(run) >= 2 {
			break
		}
		run = nil
	}
	if len(run) >= 2 {
		return strings.Join(run, " ")
	}
	return ""
}

func isTitleCased(word string) bool {
	first := rune(word[0])
	if first < 'A' || first > 'Z' {
		return false
	}
	return word != strings.ToUpper(word)
}
