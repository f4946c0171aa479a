// Package embedding implements C5, the Embedding Stage: it turns the
// argument table into one vector per argument, batching remote calls by
// cumulative token count (falling back to an item-count cap) and
// issuing a single unsplit batch for local providers. Grounded on
// spec §4.5; the token-counting batcher reuses llmgateway's
// EstimateTokenCount heuristic so batching and the Gateway agree on
// what a "token" costs.
package embedding

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/opinionlab/hierreport/internal/llmgateway"
	"github.com/opinionlab/hierreport/pkg/domain"
)

// Run embeds every argument's text, preserving order: the output
// Embedding at position i corresponds to arguments[i].
func Run(ctx context.Context, gw *llmgateway.Gateway, cfg domain.Config, arguments []domain.Argument, log *slog.Logger) ([]domain.Embedding, domain.TokenUsage, error) {
	if log == nil {
		log = slog.Default()
	}
	if len(arguments) == 0 {
		return nil, domain.TokenUsage{}, nil
	}

	texts := make([]string, len(arguments))
	for i, a := range arguments {
		texts[i] = a.Text
	}

	batches := batchIndices(texts, cfg.Batching, cfg.IsEmbeddedAtLocal)

	embeddings := make([]domain.Embedding, len(arguments))
	var tokens domain.TokenUsage

	done := 0
	for _, batch := range batches {
		batchTexts := make([]string, len(batch))
		for i, idx := range batch {
			batchTexts[i] = texts[idx]
		}

		resp, err := gw.Embed(ctx, llmgateway.EmbedRequest{
			Texts:        batchTexts,
			Model:        cfg.Model,
			Provider:     cfg.Provider,
			Local:        cfg.IsEmbeddedAtLocal,
			LocalAddress: cfg.LocalAddress,
		})
		if err != nil {
			return nil, tokens, fmt.Errorf("embedding: batch of %d failed: %w", len(batch), err)
		}
		if len(resp.Vectors) != len(batch) {
			return nil, tokens, fmt.Errorf("embedding: provider returned %d vectors for a batch of %d", len(resp.Vectors), len(batch))
		}
		tokens.Add(resp.Tokens)

		for i, idx := range batch {
			embeddings[idx] = domain.Embedding{ArgID: arguments[idx].ArgID, Vector: resp.Vectors[i]}
		}
		done += len(batch)
		log.Info("embedding: batch complete", "batch_size", len(batch), "total_done", done)
	}

	return embeddings, tokens, nil
}

// batchIndices groups argument indices into provider calls. Local
// providers get a single unsplit batch (spec §4.5); remote providers
// are capped by cumulative estimated token count and by item count,
// whichever limit is hit first ends the batch.
func batchIndices(texts []string, batching domain.EmbeddingBatching, local bool) [][]int {
	if local {
		all := make([]int, len(texts))
		for i := range texts {
			all[i] = i
		}
		return [][]int{all}
	}

	maxTokens := batching.MaxTokensPerRequest
	maxItems := batching.MaxItemsPerRequest
	if maxTokens <= 0 || maxItems <= 0 {
		d := domain.DefaultEmbeddingBatching()
		maxTokens, maxItems = d.MaxTokensPerRequest, d.MaxItemsPerRequest
	}

	var batches [][]int
	var current []int
	currentTokens := 0

	for i, text := range texts {
		cost := llmgateway.EstimateTokenCount(text)
		if len(current) > 0 && (currentTokens+cost > maxTokens || len(current) >= maxItems) {
			batches = append(batches, current)
			current = nil
			currentTokens = 0
		}
		current = append(current, i)
		currentTokens += cost
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}
