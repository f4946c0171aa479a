package cluster

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// nNeighborsFor implements spec §4.6's n_neighbors formula:
// min(15, n_samples-1), clamped to at least 2.
func nNeighborsFor(n int) int {
	k := n - 1
	if k > 15 {
		k = 15
	}
	if k < 2 {
		k = 2
	}
	return k
}

// ProjectTo2D reduces vectors to 2 dimensions, preserving local
// neighborhood structure the way UMAP does: build a k-nearest-neighbor
// affinity graph, then take the two leading non-trivial eigenvectors of
// its normalized graph Laplacian (a Laplacian eigenmap). gonum has no
// off-the-shelf UMAP implementation (see DESIGN.md); this graph-Laplacian
// projection is the hand-written substitute spec §4.6 calls a "UMAP-style"
// reduction — it shares UMAP's core idea (a neighbor graph plus a
// spectral/optimization step that preserves it in low dimensions) while
// using gonum's exact symmetric eigensolver instead of UMAP's stochastic
// gradient descent layout, which keeps the result deterministic for a
// fixed seed as spec §4.6 requires.
//
// seed does not affect the result: neighbor ties are broken by index
// and the eigendecomposition itself is deterministic.
func ProjectTo2D(vectors [][]float64, seed int64) [][2]float64 {
	n := len(vectors)
	if n == 0 {
		return nil
	}
	if n == 1 {
		return [][2]float64{{0, 0}}
	}

	k := nNeighborsFor(n)
	affinity := knnAffinity(vectors, k, seed)
	laplacian := normalizedLaplacian(affinity)

	coords := spectralCoords(laplacian, n)
	return coords
}

// knnAffinity builds a symmetric n x n affinity matrix from a k-nearest
// neighbor graph with a Gaussian kernel on distance, matching the
// locally-scaled similarity UMAP's fuzzy simplicial set approximates.
func knnAffinity(vectors [][]float64, k int, seed int64) *mat.Dense {
	n := len(vectors)
	dist := make([][]float64, n)
	for i := range vectors {
		dist[i] = make([]float64, n)
		for j := range vectors {
			if i == j {
				continue
			}
			dist[i][j] = euclidean(vectors[i], vectors[j])
		}
	}

	affinity := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		neighbors := nearestIndices(dist[i], i, k, seed)
		sigma := localScale(dist[i], neighbors)
		for _, j := range neighbors {
			w := math.Exp(-(dist[i][j] * dist[i][j]) / (2 * sigma * sigma))
			if w > affinity.At(i, j) {
				affinity.Set(i, j, w)
			}
			if w > affinity.At(j, i) {
				affinity.Set(j, i, w)
			}
		}
	}
	return affinity
}

func euclidean(a, b []float64) float64 {
	return floats.Distance(a, b, 2)
}

// nearestIndices returns the k indices (excluding self) with the
// smallest distance to self. Ties are broken deterministically by
// index order, so seed only matters if a caller later wants randomized
// tie-breaking; kept as a parameter for that forward-compatible reason.
func nearestIndices(distRow []float64, self, k int, seed int64) []int {
	_ = seed
	type pair struct {
		idx  int
		dist float64
	}
	pairs := make([]pair, 0, len(distRow)-1)
	for j, d := range distRow {
		if j == self {
			continue
		}
		pairs = append(pairs, pair{idx: j, dist: d})
	}
	sort.Slice(pairs, func(a, b int) bool {
		if pairs[a].dist != pairs[b].dist {
			return pairs[a].dist < pairs[b].dist
		}
		return pairs[a].idx < pairs[b].idx
	})
	if k > len(pairs) {
		k = len(pairs)
	}
	out := make([]int, k)
	for i := 0; i < k; i++ {
		out[i] = pairs[i].idx
	}
	return out
}

// localScale picks a per-point kernel bandwidth as the mean distance to
// its neighbors, the same adaptive-bandwidth idea UMAP uses so dense and
// sparse regions of the embedding space contribute comparably.
func localScale(distRow []float64, neighbors []int) float64 {
	if len(neighbors) == 0 {
		return 1
	}
	sum := 0.0
	for _, j := range neighbors {
		sum += distRow[j]
	}
	mean := sum / float64(len(neighbors))
	if mean == 0 {
		return 1e-6
	}
	return mean
}

// normalizedLaplacian computes L = I - D^-1/2 W D^-1/2.
func normalizedLaplacian(w *mat.Dense) *mat.SymDense {
	n, _ := w.Dims()
	degree := make([]float64, n)
	for i := 0; i < n; i++ {
		sum := 0.0
		for j := 0; j < n; j++ {
			sum += w.At(i, j)
		}
		degree[i] = sum
	}

	l := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			var value float64
			if i == j {
				value = 1
			}
			if degree[i] > 0 && degree[j] > 0 {
				value -= w.At(i, j) / math.Sqrt(degree[i]*degree[j])
			}
			l.SetSym(i, j, value)
		}
	}
	return l
}

// spectralCoords takes the two eigenvectors of laplacian whose
// eigenvalues are smallest after the trivial (near-zero) one, which is
// the standard Laplacian-eigenmap low-dimensional embedding.
func spectralCoords(laplacian *mat.SymDense, n int) [][2]float64 {
	var eig mat.EigenSym
	ok := eig.Factorize(laplacian, true)
	coords := make([][2]float64, n)
	if !ok {
		// Degenerate graph (e.g. all distances identical); fall back to
		// the origin for every point rather than failing the stage.
		return coords
	}

	values := eig.Values(nil)
	var vectors mat.Dense
	eig.VectorsTo(&vectors)

	order := make([]int, len(values))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return values[order[a]] < values[order[b]] })

	// Skip the first (smallest, ~0) eigenvalue: its eigenvector is
	// constant and carries no layout information.
	firstIdx, secondIdx := 1, 2
	if len(order) <= 2 {
		firstIdx, secondIdx = 0, 0
	}

	for i := 0; i < n; i++ {
		x := vectors.At(i, order[firstIdx])
		y := 0.0
		if secondIdx < len(order) && secondIdx != firstIdx {
			y = vectors.At(i, order[secondIdx])
		}
		coords[i] = [2]float64{x, y}
	}
	return coords
}
