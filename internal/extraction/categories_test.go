package extraction

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/opinionlab/hierreport/internal/llmgateway"
	"github.com/opinionlab/hierreport/pkg/domain"
)

func categoryResponse(t *testing.T, labels map[string]string) llmgateway.ChatResponse {
	t.Helper()
	data, err := json.Marshal(labels)
	if err != nil {
		t.Fatalf("marshal fixture: %v", err)
	}
	return llmgateway.ChatResponse{Object: json.RawMessage(data), Tokens: domain.TokenUsage{Input: 2, Output: 1, Total: 3}}
}

func TestClassifyCategoriesNoOpWhenUnconfigured(t *testing.T) {
	gw := llmgateway.New(map[domain.Provider]llmgateway.Provider{})
	args := []domain.Argument{{ArgID: "A1", Text: "an argument"}}
	tokens, err := ClassifyCategories(context.Background(), gw, testConfig(), args, nil)
	if err != nil {
		t.Fatalf("ClassifyCategories: %v", err)
	}
	if tokens != (domain.TokenUsage{}) {
		t.Errorf("tokens = %+v, want zero value", tokens)
	}
	if args[0].Categories != nil {
		t.Errorf("Categories = %+v, want nil", args[0].Categories)
	}
}

func TestClassifyCategoriesAnnotatesArguments(t *testing.T) {
	provider := &scriptedProvider{byBody: map[string]llmgateway.ChatResponse{
		"an argument": categoryResponse(t, map[string]string{"sentiment": "positive"}),
	}}
	gw := llmgateway.New(map[domain.Provider]llmgateway.Provider{domain.ProviderOpenAI: provider})

	cfg := testConfig()
	cfg.Categories = []domain.CategorySpec{{Name: "sentiment", Values: []string{"positive", "negative"}}}

	args := []domain.Argument{{ArgID: "A1", Text: "an argument"}}
	tokens, err := ClassifyCategories(context.Background(), gw, cfg, args, nil)
	if err != nil {
		t.Fatalf("ClassifyCategories: %v", err)
	}
	if tokens.Total != 3 {
		t.Errorf("tokens.Total = %d, want 3", tokens.Total)
	}
	if args[0].Categories["sentiment"] != "positive" {
		t.Errorf("Categories = %+v, want sentiment=positive", args[0].Categories)
	}
}
