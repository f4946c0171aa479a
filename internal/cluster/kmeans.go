package cluster

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/floats"
)

const kmeansMaxIterations = 100

// KMeans fits k clusters over data using Lloyd's algorithm with
// k-means++ seeding, both driven by a fixed-seed RNG so results are
// reproducible across runs of the same job, per spec §4.6's "fixed
// seed" requirement. Returns one label per input row and the final
// centroids.
func KMeans(data [][]float64, k int, seed int64) (labels []int, centroids [][]float64, err error) {
	n := len(data)
	if k <= 0 {
		return nil, nil, fmt.Errorf("cluster: k must be positive, got %d", k)
	}
	if k > n {
		return nil, nil, fmt.Errorf("cluster: k=%d exceeds sample count %d", k, n)
	}

	rng := rand.New(rand.NewSource(seed))
	centroids = kmeansPlusPlusInit(data, k, rng)
	labels = make([]int, n)

	for iter := 0; iter < kmeansMaxIterations; iter++ {
		changed := false
		for i, point := range data {
			best, bestDist := 0, squaredDistance(point, centroids[0])
			for c := 1; c < k; c++ {
				d := squaredDistance(point, centroids[c])
				if d < bestDist {
					best, bestDist = c, d
				}
			}
			if labels[i] != best {
				labels[i] = best
				changed = true
			}
		}

		newCentroids := recomputeCentroids(data, labels, k, len(data[0]))
		// Re-seed any empty cluster from a randomly chosen data point, so
		// a bad initial split never leaves a centroid with zero members.
		reseedEmptyClusters(data, labels, newCentroids, rng)
		centroids = newCentroids

		if !changed && iter > 0 {
			break
		}
	}
	return labels, centroids, nil
}

func kmeansPlusPlusInit(data [][]float64, k int, rng *rand.Rand) [][]float64 {
	n := len(data)
	centroids := make([][]float64, 0, k)
	centroids = append(centroids, cloneVec(data[rng.Intn(n)]))

	distSq := make([]float64, n)
	for len(centroids) < k {
		total := 0.0
		for i, point := range data {
			d := squaredDistance(point, centroids[len(centroids)-1])
			if len(centroids) == 1 || d < distSq[i] {
				distSq[i] = d
			}
			total += distSq[i]
		}
		if total == 0 {
			// All remaining points coincide with chosen centroids; pad
			// with randomly chosen points, which may repeat a centroid.
			centroids = append(centroids, cloneVec(data[rng.Intn(n)]))
			continue
		}
		target := rng.Float64() * total
		cum := 0.0
		for i, d := range distSq {
			cum += d
			if cum >= target {
				centroids = append(centroids, cloneVec(data[i]))
				break
			}
		}
	}
	return centroids
}

func recomputeCentroids(data [][]float64, labels []int, k, dim int) [][]float64 {
	sums := make([][]float64, k)
	counts := make([]int, k)
	for c := range sums {
		sums[c] = make([]float64, dim)
	}
	for i, point := range data {
		c := labels[i]
		floats.Add(sums[c], point)
		counts[c]++
	}
	centroids := make([][]float64, k)
	for c := range centroids {
		if counts[c] == 0 {
			centroids[c] = make([]float64, dim)
			continue
		}
		mean := make([]float64, dim)
		copy(mean, sums[c])
		floats.Scale(1/float64(counts[c]), mean)
		centroids[c] = mean
	}
	return centroids
}

func reseedEmptyClusters(data [][]float64, labels []int, centroids [][]float64, rng *rand.Rand) {
	counts := make([]int, len(centroids))
	for _, l := range labels {
		counts[l]++
	}
	for c, count := range counts {
		if count > 0 {
			continue
		}
		centroids[c] = cloneVec(data[rng.Intn(len(data))])
	}
}

func squaredDistance(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

func cloneVec(v []float64) []float64 {
	out := make([]float64, len(v))
	copy(out, v)
	return out
}
