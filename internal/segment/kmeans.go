package segment

import (
	"fmt"
	"math"
	"math/rand"

	"insight-engine/internal/config"
)

// KMeans is a Lloyd's-iteration clusterer with kmeans++ seeding. The
// random source is seeded from configuration on every Cluster call, so
// the same feature matrix and k always produce the same assignment.
type KMeans struct {
	settings config.ClusterSettings
}

func NewKMeans(settings config.ClusterSettings) *KMeans {
	return &KMeans{settings: settings}
}

// Cluster assigns each feature row to one of k clusters and returns the
// labels together with the final centroids. k must satisfy 1 <= k <= n.
func (km *KMeans) Cluster(features [][]float64, k int) ([]int, [][]float64, error) {
	n := len(features)
	if n == 0 {
		return nil, nil, fmt.Errorf("feature matrix is empty")
	}
	if k < 1 {
		return nil, nil, fmt.Errorf("n_clusters must be >= 1, got %d", k)
	}
	if k > n {
		return nil, nil, fmt.Errorf("n_clusters (%d) cannot exceed sample count (%d)", k, n)
	}

	rng := rand.New(rand.NewSource(km.settings.Seed))

	bestLabels := make([]int, n)
	var bestCentroids [][]float64
	bestInertia := math.Inf(1)

	for run := 0; run < km.settings.NInit; run++ {
		labels, centroids, inertia := km.lloyd(features, k, rng)
		if inertia < bestInertia {
			bestInertia = inertia
			copy(bestLabels, labels)
			bestCentroids = centroids
		}
	}
	return bestLabels, bestCentroids, nil
}

func (km *KMeans) lloyd(features [][]float64, k int, rng *rand.Rand) ([]int, [][]float64, float64) {
	centroids := seedPlusPlus(features, k, rng)
	labels := make([]int, len(features))

	const maxIterations = 300
	for iter := 0; iter < maxIterations; iter++ {
		moved := false
		for i, row := range features {
			c := nearest(row, centroids)
			if c != labels[i] {
				labels[i] = c
				moved = true
			}
		}
		if iter > 0 && !moved {
			break
		}
		recomputeCentroids(features, labels, centroids, rng)
	}

	inertia := 0.0
	for i, row := range features {
		inertia += sqDist(row, centroids[labels[i]])
	}
	return labels, centroids, inertia
}

// seedPlusPlus picks initial centroids with probability proportional to
// squared distance from the nearest centroid already chosen.
func seedPlusPlus(features [][]float64, k int, rng *rand.Rand) [][]float64 {
	centroids := make([][]float64, 0, k)
	first := features[rng.Intn(len(features))]
	centroids = append(centroids, cloneRow(first))

	dists := make([]float64, len(features))
	for len(centroids) < k {
		total := 0.0
		for i, row := range features {
			dists[i] = sqDist(row, centroids[nearest(row, centroids)])
			total += dists[i]
		}
		if total == 0 {
			// All remaining points coincide with a centroid.
			centroids = append(centroids, cloneRow(features[rng.Intn(len(features))]))
			continue
		}
		target := rng.Float64() * total
		acc := 0.0
		chosen := len(features) - 1
		for i, d := range dists {
			acc += d
			if acc >= target {
				chosen = i
				break
			}
		}
		centroids = append(centroids, cloneRow(features[chosen]))
	}
	return centroids
}

func recomputeCentroids(features [][]float64, labels []int, centroids [][]float64, rng *rand.Rand) {
	dim := len(features[0])
	counts := make([]int, len(centroids))
	sums := make([][]float64, len(centroids))
	for c := range sums {
		sums[c] = make([]float64, dim)
	}
	for i, row := range features {
		c := labels[i]
		counts[c]++
		for j, v := range row {
			sums[c][j] += v
		}
	}
	for c := range centroids {
		if counts[c] == 0 {
			// Re-seed an emptied cluster to keep k stable.
			centroids[c] = cloneRow(features[rng.Intn(len(features))])
			continue
		}
		for j := range centroids[c] {
			centroids[c][j] = sums[c][j] / float64(counts[c])
		}
	}
}

func nearest(row []float64, centroids [][]float64) int {
	best := 0
	bestDist := math.Inf(1)
	for c, centroid := range centroids {
		if d := sqDist(row, centroid); d < bestDist {
			bestDist = d
			best = c
		}
	}
	return best
}

func sqDist(a, b []float64) float64 {
	total := 0.0
	for i := range a {
		d := a[i] - b[i]
		total += d * d
	}
	return total
}

func cloneRow(row []float64) []float64 {
	out := make([]float64, len(row))
	copy(out, row)
	return out
}
