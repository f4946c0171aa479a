package labelling

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/opinionlab/hierreport/internal/llmgateway"
	"github.com/opinionlab/hierreport/internal/workerpool"
	"github.com/opinionlab/hierreport/pkg/domain"
)

// mergeLabel runs spec §4.7's merge labelling pass: one LLM call per
// top-level cluster, collating its children's initial labels and leaf
// descriptions into a coarser {label, description}. Parent is always
// the synthetic root, per spec §9.
func mergeLabel(ctx context.Context, gw *llmgateway.Gateway, cfg domain.Config, vectorByID map[string][]float64, groups clusterGroups, leafLabels []domain.ClusterLabel, log *slog.Logger) ([]domain.ClusterLabel, domain.TokenUsage, error) {
	leafByID := make(map[string]domain.ClusterLabel, len(leafLabels))
	for _, l := range leafLabels {
		leafByID[l.ID] = l
	}

	topIDs := sortedKeys(groups.topLeaves)

	type topOutcome struct {
		label  domain.ClusterLabel
		tokens domain.TokenUsage
	}

	outcomes := workerpool.MapWithLimit(ctx, topIDs, cfg.Workers, 0,
		func(taskCtx context.Context, topID string) (topOutcome, error) {
			childIDs := groups.topLeaves[topID]

			var summary strings.Builder
			var memberArgIDs []string
			value := 0
			for _, childID := range childIDs {
				child := leafByID[childID]
				fmt.Fprintf(&summary, "- %s: %s\n", child.Label, child.Description)
				value += child.Value
				memberArgIDs = append(memberArgIDs, groups.leafArgs[childID]...)
			}

			resp, err := gw.Chat(taskCtx, llmgateway.ChatRequest{
				Provider: cfg.Provider,
				Model:    cfg.Model,
				Messages: []llmgateway.Message{
					{Role: "system", Content: cfg.Prompts.MergeLabel},
					{Role: "user", Content: summary.String()},
				},
				Schema:       labelResponseSchema,
				LocalAddress: cfg.LocalAddress,
			})
			if err != nil {
				return topOutcome{tokens: resp.Tokens}, fmt.Errorf("labelling: merge label for cluster %s: %w", topID, err)
			}
			var parsed labelResponse
			if jsonErr := json.Unmarshal(resp.Object, &parsed); jsonErr != nil {
				return topOutcome{tokens: resp.Tokens}, fmt.Errorf("labelling: parse merge label for cluster %s: %w", topID, jsonErr)
			}

			label := domain.ClusterLabel{
				Level:       1,
				ID:          topID,
				Label:       parsed.Label,
				Description: parsed.Description,
				Value:       value,
				Parent:      rootID,
				Density:     computeDensity(vectorsFor(memberArgIDs, vectorByID)),
			}
			return topOutcome{label: label, tokens: resp.Tokens}, nil
		}, nil)

	var tokens domain.TokenUsage
	labels := make([]domain.ClusterLabel, 0, len(topIDs))
	for _, o := range outcomes {
		tokens.Add(o.Value.tokens)
		if o.Err != nil {
			return nil, tokens, o.Err
		}
		labels = append(labels, o.Value.label)
	}
	rankDensities(labels)
	return labels, tokens, nil
}
