package labelling

import (
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/opinionlab/hierreport/pkg/domain"
)

// computeDensity scores a cluster's geometric compactness in embedding
// space: 1/(1+mean), where mean is the mean distance from each member
// to the cluster centroid, so a tighter cluster scores higher. Clusters with
// fewer than two vectors (nothing to spread out) score maximally dense.
func computeDensity(vectors [][]float64) float64 {
	if len(vectors) < 2 {
		return 1
	}
	dim := len(vectors[0])
	centroid := make([]float64, dim)
	for _, v := range vectors {
		floats.Add(centroid, v)
	}
	floats.Scale(1/float64(len(vectors)), centroid)

	total := 0.0
	for _, v := range vectors {
		total += floats.Distance(v, centroid, 2)
	}
	mean := total / float64(len(vectors))
	return 1 / (1 + mean)
}

// rankDensities assigns DensityRank (1 = most dense) and
// DensityRankPercentile (1.0 = most dense, 0.0 = least dense) across
// every label in labels, per spec §4.7's "derives density_rank and
// density_rank_percentile across all clusters of the same level".
// labels must all belong to the same level; callers rank each level
// separately.
func rankDensities(labels []domain.ClusterLabel) {
	n := len(labels)
	if n == 0 {
		return
	}
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return labels[order[i]].Density > labels[order[j]].Density
	})
	for rank, idx := range order {
		labels[idx].DensityRank = rank + 1
		if n == 1 {
			labels[idx].DensityRankPercentile = 1
			continue
		}
		labels[idx].DensityRankPercentile = float64(n-1-rank) / float64(n-1)
	}
}
