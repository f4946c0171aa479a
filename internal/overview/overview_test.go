package overview

import (
	"context"
	"testing"

	"github.com/opinionlab/hierreport/internal/llmgateway"
	"github.com/opinionlab/hierreport/pkg/domain"
)

type scriptedProvider struct {
	text string
}

func (s *scriptedProvider) Name() string { return "mock" }

func (s *scriptedProvider) Chat(ctx context.Context, req llmgateway.ChatRequest) (llmgateway.ChatResponse, error) {
	return llmgateway.ChatResponse{Text: s.text, Tokens: domain.TokenUsage{Input: 20, Output: 40, Total: 60}}, nil
}

func (s *scriptedProvider) Embed(ctx context.Context, req llmgateway.EmbedRequest) (llmgateway.EmbedResponse, error) {
	return llmgateway.EmbedResponse{}, nil
}

func testConfig() domain.Config {
	return domain.Config{
		Slug:     "job-1",
		Provider: domain.ProviderOpenAI,
		Model:    "gpt-4o-mini",
		Prompts:  domain.StagePrompts{Overview: "summarise the clusters"},
	}
}

func labels() []domain.ClusterLabel {
	return []domain.ClusterLabel{
		{Level: 1, ID: "1_0", Label: "housing", Description: "housing concerns"},
		{Level: 1, ID: "1_1", Label: "transit", Description: "transit concerns"},
		{Level: 2, ID: "2_0", Label: "zoning", Description: "should not appear in overview prompt"},
	}
}

func TestRunReturnsStrippedText(t *testing.T) {
	provider := &scriptedProvider{text: "<think>internal reasoning</think>  The city should invest in housing and transit.  "}
	gw := llmgateway.New(map[domain.Provider]llmgateway.Provider{domain.ProviderOpenAI: provider})

	text, tokens, err := Run(context.Background(), gw, testConfig(), labels(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if text != "The city should invest in housing and transit." {
		t.Errorf("text = %q, want reasoning wrapper stripped and trimmed", text)
	}
	if tokens.Total != 60 {
		t.Errorf("tokens.Total = %d, want 60", tokens.Total)
	}
}

func TestRunSkippedWritesPlaceholder(t *testing.T) {
	cfg := testConfig()
	cfg.Skip.Overview = true
	provider := &scriptedProvider{text: "should never be called"}
	gw := llmgateway.New(map[domain.Provider]llmgateway.Provider{domain.ProviderOpenAI: provider})

	text, tokens, err := Run(context.Background(), gw, cfg, labels(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if text != skippedPlaceholder {
		t.Errorf("text = %q, want placeholder", text)
	}
	if tokens.Total != 0 {
		t.Errorf("tokens.Total = %d, want 0 when skipped", tokens.Total)
	}
}
