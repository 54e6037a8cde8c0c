// Package segment groups an entity's historical observations into labeled
// clusters: feature engineering, KMeans clustering, per-cluster profiling,
// and threshold-based business labeling.
package segment

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Record is one raw observation. Missing keys and NaN values are treated
// as 0 during feature extraction.
type Record map[string]float64

// featureKeys is the fixed feature column order. Changing it changes
// cluster geometry, so it is part of the determinism contract.
var featureKeys = []string{
	"mrr",
	"growth_rate",
	"churn_rate",
	"ltv",
	"risk_score",
	"slope",
	"deviation_percentage",
}

// BuildFeatureMatrix extracts the fixed feature set from records and
// standard-scales each column to zero mean and unit variance. Constant
// columns scale to all zeros rather than NaN.
func BuildFeatureMatrix(records []Record) ([][]float64, []string) {
	n := len(records)
	matrix := make([][]float64, n)
	for i, rec := range records {
		row := make([]float64, len(featureKeys))
		for j, key := range featureKeys {
			v := rec[key]
			if math.IsNaN(v) {
				v = 0
			}
			row[j] = v
		}
		matrix[i] = row
	}
	if n == 0 {
		return matrix, append([]string(nil), featureKeys...)
	}

	col := make([]float64, n)
	for j := range featureKeys {
		for i := range matrix {
			col[i] = matrix[i][j]
		}
		mean := stat.Mean(col, nil)
		sd := populationStdDev(col, mean)
		for i := range matrix {
			if sd == 0 {
				matrix[i][j] = 0
			} else {
				matrix[i][j] = (matrix[i][j] - mean) / sd
			}
		}
	}
	return matrix, append([]string(nil), featureKeys...)
}

// populationStdDev divides by n, not n-1. gonum's stat.Variance is the
// sample estimator, which would inflate the scale for short histories.
func populationStdDev(col []float64, mean float64) float64 {
	if len(col) < 2 {
		return 0
	}
	n := float64(len(col))
	return math.Sqrt(stat.Variance(col, nil) * (n - 1) / n)
}
