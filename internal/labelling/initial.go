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

// initialLabel runs spec §4.7's initial labelling pass: one LLM call
// per leaf cluster, sampling up to cfg.SamplingNum member arguments,
// parallelised via C2. Sampling takes the first cfg.SamplingNum
// members in assignment order rather than a random subset, so a
// cluster's label is reproducible across reruns of the same clustering
// output.
func initialLabel(ctx context.Context, gw *llmgateway.Gateway, cfg domain.Config, argByID map[string]domain.Argument, vectorByID map[string][]float64, groups clusterGroups, log *slog.Logger) ([]domain.ClusterLabel, domain.TokenUsage, error) {
	leafIDs := sortedKeys(groups.leafArgs)

	type leafOutcome struct {
		label  domain.ClusterLabel
		tokens domain.TokenUsage
	}

	outcomes := workerpool.MapWithLimit(ctx, leafIDs, cfg.Workers, 0,
		func(taskCtx context.Context, leafID string) (leafOutcome, error) {
			argIDs := groups.leafArgs[leafID]
			sampleIDs := argIDs
			if cfg.SamplingNum > 0 && len(sampleIDs) > cfg.SamplingNum {
				sampleIDs = sampleIDs[:cfg.SamplingNum]
			}

			var texts []string
			for _, id := range sampleIDs {
				if arg, ok := argByID[id]; ok {
					texts = append(texts, arg.Text)
				}
			}

			resp, err := gw.Chat(taskCtx, llmgateway.ChatRequest{
				Provider: cfg.Provider,
				Model:    cfg.Model,
				Messages: []llmgateway.Message{
					{Role: "system", Content: cfg.Prompts.InitialLabel},
					{Role: "user", Content: strings.Join(texts, "\n")},
				},
				Schema:       labelResponseSchema,
				LocalAddress: cfg.LocalAddress,
			})
			if err != nil {
				return leafOutcome{tokens: resp.Tokens}, fmt.Errorf("labelling: initial label for cluster %s: %w", leafID, err)
			}
			var parsed labelResponse
			if jsonErr := json.Unmarshal(resp.Object, &parsed); jsonErr != nil {
				return leafOutcome{tokens: resp.Tokens}, fmt.Errorf("labelling: parse initial label for cluster %s: %w", leafID, jsonErr)
			}

			vectors := vectorsFor(argIDs, vectorByID)
			label := domain.ClusterLabel{
				Level:       2,
				ID:          leafID,
				Label:       parsed.Label,
				Description: parsed.Description,
				Value:       len(argIDs),
				Parent:      groups.leafParent[leafID],
				Density:     computeDensity(vectors),
			}
			return leafOutcome{label: label, tokens: resp.Tokens}, nil
		}, nil)

	var tokens domain.TokenUsage
	labels := make([]domain.ClusterLabel, 0, len(leafIDs))
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

func vectorsFor(argIDs []string, vectorByID map[string][]float64) [][]float64 {
	vectors := make([][]float64, 0, len(argIDs))
	for _, id := range argIDs {
		if v, ok := vectorByID[id]; ok {
			vectors = append(vectors, v)
		}
	}
	return vectors
}
