package segment

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// Profile summarizes one cluster over the raw (pre-scaling) records.
type Profile struct {
	Size          int     `json:"size"`
	AvgGrowth     float64 `json:"avg_growth"`
	AvgChurn      float64 `json:"avg_churn"`
	AvgRisk       float64 `json:"avg_risk"`
	AvgLTV        float64 `json:"avg_ltv"`
	BusinessLabel string  `json:"business_label,omitempty"`
}

// ProfileClusters groups records by their cluster label and computes
// unweighted means per cluster. Missing or NaN values count as 0, the
// same policy feature extraction uses.
func ProfileClusters(records []Record, labels []int) (map[int]Profile, error) {
	if len(records) != len(labels) {
		return nil, fmt.Errorf("records and labels must have the same length; got %d records and %d labels", len(records), len(labels))
	}

	groups := make(map[int]map[string][]float64)
	for i, rec := range records {
		cluster := labels[i]
		g, ok := groups[cluster]
		if !ok {
			g = make(map[string][]float64)
			groups[cluster] = g
		}
		for _, key := range []string{"growth_rate", "churn_rate", "risk_score", "ltv"} {
			v := rec[key]
			if math.IsNaN(v) {
				v = 0
			}
			g[key] = append(g[key], v)
		}
	}

	profiles := make(map[int]Profile, len(groups))
	for cluster, g := range groups {
		profiles[cluster] = Profile{
			Size:      len(g["growth_rate"]),
			AvgGrowth: mean(g["growth_rate"]),
			AvgChurn:  mean(g["churn_rate"]),
			AvgRisk:   mean(g["risk_score"]),
			AvgLTV:    mean(g["ltv"]),
		}
	}
	return profiles, nil
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return stat.Mean(values, nil)
}
