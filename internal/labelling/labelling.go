// Package labelling implements C7, the Labelling Stages: an initial
// per-leaf-cluster label pass and a merge pass that rolls leaf labels
// up into coarser top-level labels, both via the LLM Gateway and the
// shared worker pool. Grounded on spec §4.7; the per-item LLM call
// shape mirrors internal/extraction's single-ChatRequest-per-task
// pattern.
package labelling

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"

	"github.com/opinionlab/hierreport/internal/llmgateway"
	"github.com/opinionlab/hierreport/pkg/domain"
)

var labelResponseSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"label": {"type": "string"},
		"description": {"type": "string"}
	},
	"required": ["label", "description"]
}`)

type labelResponse struct {
	Label       string `json:"label"`
	Description string `json:"description"`
}

// rootID is the synthetic root every level-1 label's Parent points to,
// per spec §9's "clusters[*].parent forms a tree with a single
// synthetic root '0'".
const rootID = "0"

// Output is the Labelling Stages' result: one ClusterLabel row per
// (level, cluster_id) produced by C6, per spec §4.7's invariant.
type Output struct {
	Labels []domain.ClusterLabel
	Tokens domain.TokenUsage
}

// Run executes the initial per-leaf labelling pass followed by the
// merge pass, and returns every resulting label row across both
// levels.
func Run(ctx context.Context, gw *llmgateway.Gateway, cfg domain.Config, arguments []domain.Argument, assignments []domain.ClusterAssignment, embeddings []domain.Embedding, log *slog.Logger) (Output, error) {
	if log == nil {
		log = slog.Default()
	}

	argByID := make(map[string]domain.Argument, len(arguments))
	for _, a := range arguments {
		argByID[a.ArgID] = a
	}
	vectorByID := make(map[string][]float64, len(embeddings))
	for _, e := range embeddings {
		vectorByID[e.ArgID] = e.Vector
	}

	groups := groupAssignments(assignments)

	var out Output

	leafLabels, leafTokens, err := initialLabel(ctx, gw, cfg, argByID, vectorByID, groups, log)
	if err != nil {
		return Output{}, err
	}
	out.Tokens.Add(leafTokens)

	topLabels, topTokens, err := mergeLabel(ctx, gw, cfg, vectorByID, groups, leafLabels, log)
	if err != nil {
		return Output{}, err
	}
	out.Tokens.Add(topTokens)

	out.Labels = append(out.Labels, topLabels...)
	out.Labels = append(out.Labels, leafLabels...)
	return out, nil
}

// clusterGroups indexes assignments by level so both labelling passes
// can look up cluster membership without re-scanning the full
// assignment slice.
type clusterGroups struct {
	// leafArgs maps a level-2 id to the arg_ids assigned to it.
	leafArgs map[string][]string
	// leafParent maps a level-2 id to its single level-1 parent, per
	// C6's "every level-2 id has exactly one parent level-1 id"
	// invariant.
	leafParent map[string]string
	// topLeaves maps a level-1 id to the level-2 ids that merge into it.
	topLeaves map[string][]string
}

func groupAssignments(assignments []domain.ClusterAssignment) clusterGroups {
	g := clusterGroups{
		leafArgs:   map[string][]string{},
		leafParent: map[string]string{},
		topLeaves:  map[string][]string{},
	}
	seenLeafUnderTop := map[string]bool{}
	for _, a := range assignments {
		g.leafArgs[a.Level2ID] = append(g.leafArgs[a.Level2ID], a.ArgID)
		g.leafParent[a.Level2ID] = a.Level1ID
		key := a.Level1ID + "/" + a.Level2ID
		if !seenLeafUnderTop[key] {
			seenLeafUnderTop[key] = true
			g.topLeaves[a.Level1ID] = append(g.topLeaves[a.Level1ID], a.Level2ID)
		}
	}
	return g
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
