// Package overview implements C8, the Overview Stage: a single LLM
// call summarising the labelled top-level clusters into a paragraph.
// Grounded on spec §4.8.
package overview

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/opinionlab/hierreport/internal/llmgateway"
	"github.com/opinionlab/hierreport/pkg/domain"
)

// skippedPlaceholder is written in place of a real overview when the
// stage is configured to skip, per spec §4.8.
const skippedPlaceholder = "Overview generation was skipped for this report."

// Run summarises the top-level (label, description) pairs in labels
// into a paragraph. Reasoning wrappers some models prepend are
// stripped before the result is returned, per spec §4.1's coercion
// rule applied here to free text rather than structured JSON.
func Run(ctx context.Context, gw *llmgateway.Gateway, cfg domain.Config, labels []domain.ClusterLabel, log *slog.Logger) (string, domain.TokenUsage, error) {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Skip.Overview {
		return skippedPlaceholder, domain.TokenUsage{}, nil
	}

	var sb strings.Builder
	for _, l := range labels {
		if l.Level != 1 {
			continue
		}
		fmt.Fprintf(&sb, "- %s: %s\n", l.Label, l.Description)
	}

	resp, err := gw.Chat(ctx, llmgateway.ChatRequest{
		Provider: cfg.Provider,
		Model:    cfg.Model,
		Messages: []llmgateway.Message{
			{Role: "system", Content: cfg.Prompts.Overview},
			{Role: "user", Content: sb.String()},
		},
		LocalAddress: cfg.LocalAddress,
	})
	if err != nil {
		return "", resp.Tokens, fmt.Errorf("overview: %w", err)
	}

	return strings.TrimSpace(llmgateway.StripThinking(resp.Text)), resp.Tokens, nil
}
