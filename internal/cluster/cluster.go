// Package cluster implements C6, the Clustering Engine: a UMAP-style 2D
// projection of argument embeddings, K-Means leaf clustering over that
// projection, a Ward-linkage agglomerative merge of leaf centroids into
// a coarser top level, and (in auto mode) a silhouette-scored sweep that
// picks both level's cluster counts. Purely CPU-bound — no Gateway
// calls. Grounded on spec §4.6; gonum.org/v1/gonum supplies the linear
// algebra (see DESIGN.md for why no pack repo offers a ready-made
// clustering library).
package cluster

import (
	"fmt"
	"sort"
	"time"

	"github.com/opinionlab/hierreport/pkg/domain"
)

// seed is fixed per spec §4.6's "fixed seed" requirement for the UMAP
// projection and K-Means initialization, so a job's clustering output
// is reproducible across reruns of the same input.
const seed int64 = 42

// CandidateScore is one (k, silhouette) point recorded during an
// auto-tune sweep, including skipped candidates for auditability.
type CandidateScore struct {
	K          int     `json:"k"`
	Silhouette float64 `json:"silhouette"`
	Skipped    bool    `json:"skipped"`
}

// AutoTuneReport records the auto-tune sweep's findings for the status
// file, per spec §4.6's "record per-k scores, chosen ks, and elapsed
// time" requirement.
type AutoTuneReport struct {
	TopCandidates    []CandidateScore `json:"top_candidates"`
	BottomCandidates []CandidateScore `json:"bottom_candidates"`
	ChosenTop        int              `json:"chosen_top"`
	ChosenBottom     int              `json:"chosen_bottom"`
	Elapsed          time.Duration    `json:"elapsed_ns"`
}

// Output is the Clustering Engine's result: one 2D coordinate and one
// two-level cluster assignment per input embedding, in the same order.
type Output struct {
	Coords      [][2]float64
	Assignments []domain.ClusterAssignment
	AutoTune    *AutoTuneReport
}

// Run executes the full clustering pipeline for one job's embeddings.
func Run(cfg domain.ClusteringConfig, embeddings []domain.Embedding) (Output, error) {
	n := len(embeddings)
	if n < 2 {
		return Output{}, domain.ErrInsufficientData("cluster: need at least 2 arguments to cluster")
	}

	vectors := make([][]float64, n)
	for i, e := range embeddings {
		vectors[i] = e.Vector
	}
	coords := ProjectTo2D(vectors, seed)
	coordsAsData := to2DData(coords)

	var topK, bottomK int
	var autoReport *AutoTuneReport

	switch cfg.Mode {
	case domain.ClusterModeFixed:
		topK = clampK(cfg.Fixed.Top, n)
		bottomK = clampK(cfg.Fixed.Bottom, n)
	case domain.ClusterModeAuto:
		start := time.Now()
		topCandidates := sweep(coordsAsData, cfg.Auto.TopMin, cfg.Auto.TopMax, n)
		bottomCandidates := sweep(coordsAsData, cfg.Auto.TopMax+1, cfg.Auto.BottomMax, n)
		topK = bestK(topCandidates, clampK(cfg.Auto.TopMin, n))
		bottomK = bestK(bottomCandidates, clampK(cfg.Auto.TopMax+1, n))
		autoReport = &AutoTuneReport{
			TopCandidates:    topCandidates,
			BottomCandidates: bottomCandidates,
			ChosenTop:        topK,
			ChosenBottom:     bottomK,
			Elapsed:          time.Since(start),
		}
	default:
		return Output{}, domain.ErrConfigInvalid(fmt.Sprintf("cluster: unknown clustering mode %q", cfg.Mode))
	}

	leafLabels, leafCentroids, err := KMeans(coordsAsData, bottomK, seed)
	if err != nil {
		return Output{}, fmt.Errorf("cluster: leaf k-means: %w", err)
	}
	mergeAssignment := WardMerge(leafCentroids, topK)

	assignments := make([]domain.ClusterAssignment, n)
	for i, e := range embeddings {
		leafID := leafLabels[i]
		topID := mergeAssignment[leafID]
		assignments[i] = domain.ClusterAssignment{
			ArgID:    e.ArgID,
			Level1ID: fmt.Sprintf("1_%d", topID),
			Level2ID: fmt.Sprintf("2_%d", leafID),
		}
	}

	return Output{Coords: coords, Assignments: assignments, AutoTune: autoReport}, nil
}

// clampK implements spec §4.6's "clamp all ranges to max(2,
// n_samples-1)".
func clampK(k, n int) int {
	limit := n - 1
	if limit < 2 {
		limit = 2
	}
	if k > limit {
		return limit
	}
	if k < 2 {
		return 2
	}
	return k
}

// sweep fits K-Means and scores silhouette for every k in [kMin,kMax],
// clamped to the sample count. A candidate that fails (k >= n, or fewer
// than 2 distinct clusters) is recorded as skipped rather than aborting
// the sweep, per spec §4.6's named failure mode.
func sweep(data [][]float64, kMin, kMax, n int) []CandidateScore {
	limit := clampK(kMax, n)
	kMin = clampK(kMin, n)
	if kMin > limit {
		kMin = limit
	}

	var candidates []CandidateScore
	for k := kMin; k <= limit; k++ {
		labels, _, err := KMeans(data, k, seed)
		if err != nil {
			candidates = append(candidates, CandidateScore{K: k, Skipped: true})
			continue
		}
		score, err := Silhouette(data, labels)
		if err != nil {
			candidates = append(candidates, CandidateScore{K: k, Skipped: true})
			continue
		}
		candidates = append(candidates, CandidateScore{K: k, Silhouette: score})
	}
	return candidates
}

// bestK picks the candidate with the largest silhouette, tie-breaking
// toward the smaller k per spec §4.6. fallback is returned if every
// candidate was skipped.
func bestK(candidates []CandidateScore, fallback int) int {
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].K < candidates[j].K })
	best := -1
	bestScore := -1.0
	for _, c := range candidates {
		if c.Skipped {
			continue
		}
		if best == -1 || c.Silhouette > bestScore {
			best, bestScore = c.K, c.Silhouette
		}
	}
	if best == -1 {
		return fallback
	}
	return best
}

func to2DData(coords [][2]float64) [][]float64 {
	out := make([][]float64, len(coords))
	for i, c := range coords {
		out[i] = []float64{c[0], c[1]}
	}
	return out
}
