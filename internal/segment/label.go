package segment

import "insight-engine/internal/config"

// Business labels assigned to cluster profiles.
const (
	LabelHighValue    = "High Value / Growth Segment"
	LabelAtRisk       = "At Risk Segment"
	LabelDeclining    = "Declining Segment"
	LabelStable       = "Stable Segment"
	LabelUnclassified = "Unclassified Segment"
)

// Labeler applies priority-ordered threshold rules to cluster profiles.
// First matching rule wins.
type Labeler struct {
	t config.LabelThresholds
}

func NewLabeler(t config.LabelThresholds) *Labeler {
	return &Labeler{t: t}
}

// Label returns the business label for one cluster profile.
func (l *Labeler) Label(p Profile) string {
	switch {
	case p.AvgGrowth > l.t.GrowthHigh && p.AvgChurn <= l.t.ChurnLow && p.AvgRisk <= l.t.RiskLow:
		return LabelHighValue
	case p.AvgGrowth <= 0 && p.AvgChurn > l.t.ChurnHigh:
		return LabelAtRisk
	case p.AvgGrowth < 0 && p.AvgRisk > l.t.RiskHigh:
		return LabelDeclining
	case p.AvgGrowth >= 0 && p.AvgGrowth <= l.t.GrowthHigh && p.AvgRisk <= l.t.RiskHigh:
		return LabelStable
	default:
		return LabelUnclassified
	}
}

// Apply annotates every profile in place with its business label.
func (l *Labeler) Apply(profiles map[int]Profile) map[int]Profile {
	out := make(map[int]Profile, len(profiles))
	for cluster, p := range profiles {
		p.BusinessLabel = l.Label(p)
		out[cluster] = p
	}
	return out
}
