package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/opinionlab/hierreport/internal/llmgateway"
	"github.com/opinionlab/hierreport/pkg/domain"
)

func fastPolicy() llmgateway.RetryPolicy {
	return llmgateway.RetryPolicy{InitialMs: 1, MaxMs: 2, Factor: 1, Jitter: 0}
}

// scriptedProvider returns one canned response per comment body, keyed
// by the user message content, so each test can script exactly what
// each comment should extract to.
type scriptedProvider struct {
	byBody map[string]llmgateway.ChatResponse
	errs   map[string]error
}

func (s *scriptedProvider) Name() string { return "mock" }

func (s *scriptedProvider) Chat(ctx context.Context, req llmgateway.ChatRequest) (llmgateway.ChatResponse, error) {
	body := req.Messages[len(req.Messages)-1].Content
	if err, ok := s.errs[body]; ok {
		return llmgateway.ChatResponse{}, err
	}
	return s.byBody[body], nil
}

func (s *scriptedProvider) Embed(ctx context.Context, req llmgateway.EmbedRequest) (llmgateway.EmbedResponse, error) {
	return llmgateway.EmbedResponse{}, nil
}

func objResponse(t *testing.T, opinions []string) llmgateway.ChatResponse {
	t.Helper()
	data, err := json.Marshal(map[string][]string{"extractedOpinionList": opinions})
	if err != nil {
		t.Fatalf("marshal fixture: %v", err)
	}
	return llmgateway.ChatResponse{Object: json.RawMessage(data), Tokens: domain.TokenUsage{Input: 10, Output: 5, Total: 15}}
}

func testConfig() domain.Config {
	return domain.Config{
		Slug:     "job-1",
		Question: "Q",
		Provider: domain.ProviderOpenAI,
		Model:    "gpt-4o-mini",
		Workers:  4,
		Prompts:  domain.StagePrompts{Extraction: "extract opinions"},
	}
}

func TestRunExtractsAndDeduplicates(t *testing.T) {
	provider := &scriptedProvider{byBody: map[string]llmgateway.ChatResponse{
		"comment one": objResponse(t, []string{"shared opinion", "unique to one"}),
		"comment two": objResponse(t, []string{"shared opinion"}),
	}}
	gw := llmgateway.New(map[domain.Provider]llmgateway.Provider{domain.ProviderOpenAI: provider})

	comments := []domain.Comment{
		{CommentID: "c1", Body: "comment one"},
		{CommentID: "c2", Body: "comment two"},
	}

	result, err := Run(context.Background(), gw, testConfig(), comments, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Arguments) != 2 {
		t.Fatalf("Arguments = %+v, want 2 distinct arguments", result.Arguments)
	}
	if len(result.Relations) != 3 {
		t.Fatalf("Relations = %+v, want 3 rows (shared opinion appears twice)", result.Relations)
	}

	var sharedArgID string
	for _, a := range result.Arguments {
		if a.Text == "shared opinion" {
			sharedArgID = a.ArgID
		}
	}
	if sharedArgID == "" {
		t.Fatal("shared opinion argument missing")
	}
	count := 0
	for _, r := range result.Relations {
		if r.ArgID == sharedArgID {
			count++
		}
	}
	if count != 2 {
		t.Errorf("shared opinion relation count = %d, want 2", count)
	}
}

// TestRunPartialFailureDoesNotAbort mirrors spec §8's S2 scenario: a
// per-comment parse failure downgrades only that comment.
func TestRunPartialFailureDoesNotAbort(t *testing.T) {
	provider := &scriptedProvider{
		byBody: map[string]llmgateway.ChatResponse{
			"good comment": objResponse(t, []string{"an opinion"}),
		},
		errs: map[string]error{
			"bad comment": errors.New("simulated parse error"),
		},
	}
	gw := llmgateway.New(map[domain.Provider]llmgateway.Provider{domain.ProviderOpenAI: provider}, llmgateway.WithPolicy(fastPolicy()))

	comments := []domain.Comment{
		{CommentID: "c1", Body: "good comment"},
		{CommentID: "c2", Body: "bad comment"},
	}

	result, err := Run(context.Background(), gw, testConfig(), comments, nil)
	if err != nil {
		t.Fatalf("Run should not fail on partial per-comment error: %v", err)
	}
	if len(result.Arguments) != 1 {
		t.Fatalf("Arguments = %+v, want 1 (bad comment yields none)", result.Arguments)
	}
}

func TestRunEmptyArgumentTableIsInsufficientData(t *testing.T) {
	provider := &scriptedProvider{byBody: map[string]llmgateway.ChatResponse{
		"silent comment": objResponse(t, nil),
	}}
	gw := llmgateway.New(map[domain.Provider]llmgateway.Provider{domain.ProviderOpenAI: provider})

	comments := []domain.Comment{{CommentID: "c1", Body: "silent comment"}}
	_, err := Run(context.Background(), gw, testConfig(), comments, nil)
	if !errors.Is(err, domain.ErrInsufficientDataSentinel) {
		t.Fatalf("err = %v, want ErrInsufficientDataSentinel", err)
	}
}

func TestRunFiltersEmptyStrings(t *testing.T) {
	provider := &scriptedProvider{byBody: map[string]llmgateway.ChatResponse{
		"comment": objResponse(t, []string{"", "   ", "real opinion"}),
	}}
	gw := llmgateway.New(map[domain.Provider]llmgateway.Provider{domain.ProviderOpenAI: provider})

	comments := []domain.Comment{{CommentID: "c1", Body: "comment"}}
	result, err := Run(context.Background(), gw, testConfig(), comments, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Arguments) != 1 || result.Arguments[0].Text != "real opinion" {
		t.Fatalf("Arguments = %+v, want only \"real opinion\"", result.Arguments)
	}
}
