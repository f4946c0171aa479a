package cluster

import (
	"fmt"
	"math"
)

// Silhouette computes the mean silhouette coefficient for the given
// clustering, per spec §4.6's auto-tune scoring step. Returns an error
// for the degenerate cases the spec's "k >= n" failure mode names —
// callers (the auto-tune sweep) skip that candidate k without aborting.
func Silhouette(data [][]float64, labels []int) (float64, error) {
	n := len(data)
	k := distinctCount(labels)
	if k < 2 {
		return 0, fmt.Errorf("cluster: silhouette requires at least 2 clusters, got %d", k)
	}
	if k >= n {
		return 0, fmt.Errorf("cluster: silhouette requires k < n_samples (k=%d, n=%d)", k, n)
	}

	total := 0.0
	for i := range data {
		a := meanIntraClusterDistance(data, labels, i)
		b := minMeanInterClusterDistance(data, labels, i)
		denom := math.Max(a, b)
		if denom == 0 {
			continue
		}
		total += (b - a) / denom
	}
	return total / float64(n), nil
}

func distinctCount(labels []int) int {
	seen := map[int]bool{}
	for _, l := range labels {
		seen[l] = true
	}
	return len(seen)
}

func meanIntraClusterDistance(data [][]float64, labels []int, i int) float64 {
	sum, count := 0.0, 0
	for j := range data {
		if j == i || labels[j] != labels[i] {
			continue
		}
		sum += euclidean(data[i], data[j])
		count++
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

func minMeanInterClusterDistance(data [][]float64, labels []int, i int) float64 {
	sums := map[int]float64{}
	counts := map[int]int{}
	for j := range data {
		if labels[j] == labels[i] {
			continue
		}
		sums[labels[j]] += euclidean(data[i], data[j])
		counts[labels[j]]++
	}
	best := math.Inf(1)
	for cluster, sum := range sums {
		mean := sum / float64(counts[cluster])
		if mean < best {
			best = mean
		}
	}
	if math.IsInf(best, 1) {
		return 0
	}
	return best
}
