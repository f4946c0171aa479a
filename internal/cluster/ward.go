package cluster

import "math"

// wardCluster tracks one active cluster during agglomerative merging:
// its running centroid and member count (of original leaf centroids),
// plus the set of leaf indices it currently owns.
type wardCluster struct {
	centroid []float64
	count    int
	leaves   []int
}

// WardMerge performs agglomerative hierarchical clustering with Ward
// linkage over leafCentroids, merging down to exactly target clusters,
// per spec §4.6's "hierarchical merge ... cut at each smaller
// cluster_num to produce coarser labels". Returns, for every leaf
// centroid index, the id of the merged cluster it ended up in
// (0..target-1, numbered in order of each cluster's lowest leaf index).
func WardMerge(leafCentroids [][]float64, target int) []int {
	n := len(leafCentroids)
	assignment := make([]int, n)
	if target >= n {
		for i := range assignment {
			assignment[i] = i
		}
		return assignment
	}
	if target <= 0 {
		target = 1
	}

	clusters := make([]*wardCluster, n)
	for i, c := range leafCentroids {
		clusters[i] = &wardCluster{centroid: cloneVec(c), count: 1, leaves: []int{i}}
	}

	for len(clusters) > target {
		bestI, bestJ := 0, 1
		bestCost := math.Inf(1)
		for i := 0; i < len(clusters); i++ {
			for j := i + 1; j < len(clusters); j++ {
				cost := wardCost(clusters[i], clusters[j])
				if cost < bestCost {
					bestCost, bestI, bestJ = cost, i, j
				}
			}
		}
		merged := mergeWardClusters(clusters[bestI], clusters[bestJ])
		// Remove j before i since bestJ > bestI.
		clusters = append(clusters[:bestJ], clusters[bestJ+1:]...)
		clusters[bestI] = merged
	}

	for id, c := range clusters {
		for _, leaf := range c.leaves {
			assignment[leaf] = id
		}
	}
	return assignment
}

// wardCost is the Ward linkage distance: the increase in within-cluster
// variance from merging a and b.
func wardCost(a, b *wardCluster) float64 {
	na, nb := float64(a.count), float64(b.count)
	factor := (na * nb) / (na + nb)
	return factor * squaredDistance(a.centroid, b.centroid)
}

func mergeWardClusters(a, b *wardCluster) *wardCluster {
	na, nb := float64(a.count), float64(b.count)
	total := na + nb
	centroid := make([]float64, len(a.centroid))
	for i := range centroid {
		centroid[i] = (a.centroid[i]*na + b.centroid[i]*nb) / total
	}
	leaves := append(append([]int{}, a.leaves...), b.leaves...)
	return &wardCluster{centroid: centroid, count: int(total), leaves: leaves}
}
