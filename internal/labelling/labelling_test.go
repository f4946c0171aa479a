package labelling

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/opinionlab/hierreport/internal/llmgateway"
	"github.com/opinionlab/hierreport/pkg/domain"
)

type scriptedProvider struct {
	byBody map[string]llmgateway.ChatResponse
}

func (s *scriptedProvider) Name() string { return "mock" }

func (s *scriptedProvider) Chat(ctx context.Context, req llmgateway.ChatRequest) (llmgateway.ChatResponse, error) {
	body := req.Messages[len(req.Messages)-1].Content
	return s.byBody[body], nil
}

func (s *scriptedProvider) Embed(ctx context.Context, req llmgateway.EmbedRequest) (llmgateway.EmbedResponse, error) {
	return llmgateway.EmbedResponse{}, nil
}

func labelResp(t *testing.T, label, description string) llmgateway.ChatResponse {
	t.Helper()
	data, err := json.Marshal(labelResponse{Label: label, Description: description})
	if err != nil {
		t.Fatalf("marshal fixture: %v", err)
	}
	return llmgateway.ChatResponse{Object: json.RawMessage(data), Tokens: domain.TokenUsage{Input: 5, Output: 5, Total: 10}}
}

func testConfig() domain.Config {
	return domain.Config{
		Slug:     "job-1",
		Provider: domain.ProviderOpenAI,
		Model:    "gpt-4o-mini",
		Workers:  4,
		Prompts: domain.StagePrompts{
			InitialLabel: "label this cluster",
			MergeLabel:   "merge these labels",
		},
	}
}

func fixture() ([]domain.Argument, []domain.ClusterAssignment, []domain.Embedding) {
	arguments := []domain.Argument{
		{ArgID: "A1", Text: "tighter zoning"},
		{ArgID: "A2", Text: "more parks"},
		{ArgID: "A3", Text: "lower taxes"},
		{ArgID: "A4", Text: "less spending"},
	}
	assignments := []domain.ClusterAssignment{
		{ArgID: "A1", Level1ID: "1_0", Level2ID: "2_0"},
		{ArgID: "A2", Level1ID: "1_0", Level2ID: "2_0"},
		{ArgID: "A3", Level1ID: "1_0", Level2ID: "2_1"},
		{ArgID: "A4", Level1ID: "1_0", Level2ID: "2_1"},
	}
	embeddings := []domain.Embedding{
		{ArgID: "A1", Vector: []float64{0, 0}},
		{ArgID: "A2", Vector: []float64{0.1, 0}},
		{ArgID: "A3", Vector: []float64{10, 10}},
		{ArgID: "A4", Vector: []float64{10.1, 10}},
	}
	return arguments, assignments, embeddings
}

func TestRunProducesOneLabelPerClusterID(t *testing.T) {
	arguments, assignments, embeddings := fixture()
	provider := &scriptedProvider{byBody: map[string]llmgateway.ChatResponse{
		"tighter zoning\nmore parks": labelResp(t, "land use", "zoning and parks"),
		"lower taxes\nless spending": labelResp(t, "fiscal policy", "taxes and spending"),
		"- land use: zoning and parks\n- fiscal policy: taxes and spending\n": labelResp(t, "civic priorities", "overall takeaways"),
	}}
	gw := llmgateway.New(map[domain.Provider]llmgateway.Provider{domain.ProviderOpenAI: provider})

	out, err := Run(context.Background(), gw, testConfig(), arguments, assignments, embeddings, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(out.Labels) != 3 {
		t.Fatalf("len(Labels) = %d, want 3 (one per level-2 id plus one level-1 id)", len(out.Labels))
	}

	byID := map[string]domain.ClusterLabel{}
	for _, l := range out.Labels {
		byID[l.ID] = l
	}
	for _, id := range []string{"2_0", "2_1", "1_0"} {
		if _, ok := byID[id]; !ok {
			t.Errorf("missing label row for cluster id %q", id)
		}
	}
	if byID["1_0"].Parent != rootID {
		t.Errorf("top-level Parent = %q, want %q", byID["1_0"].Parent, rootID)
	}
	if byID["2_0"].Parent != "1_0" {
		t.Errorf("leaf Parent = %q, want 1_0", byID["2_0"].Parent)
	}
	if byID["1_0"].Value != 4 {
		t.Errorf("top-level Value = %d, want 4 (sum of children)", byID["1_0"].Value)
	}
}

func TestRunSamplingNumLimitsPromptMembers(t *testing.T) {
	arguments, assignments, embeddings := fixture()
	cfg := testConfig()
	cfg.SamplingNum = 1

	provider := &scriptedProvider{byBody: map[string]llmgateway.ChatResponse{
		"tighter zoning":                 labelResp(t, "land use", "zoning only, sampled"),
		"lower taxes":                    labelResp(t, "fiscal policy", "taxes only, sampled"),
		"- land use: zoning only, sampled\n- fiscal policy: taxes only, sampled\n": labelResp(t, "civic priorities", "overall"),
	}}
	gw := llmgateway.New(map[domain.Provider]llmgateway.Provider{domain.ProviderOpenAI: provider})

	out, err := Run(context.Background(), gw, cfg, arguments, assignments, embeddings, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(out.Labels) != 3 {
		t.Fatalf("len(Labels) = %d, want 3", len(out.Labels))
	}
}

func TestComputeDensitySingleMemberIsMaximal(t *testing.T) {
	if d := computeDensity([][]float64{{1, 2, 3}}); d != 1 {
		t.Errorf("computeDensity(single) = %v, want 1", d)
	}
}

func TestComputeDensityTighterClusterScoresHigher(t *testing.T) {
	tight := computeDensity([][]float64{{0, 0}, {0.01, 0}, {0, 0.01}})
	spread := computeDensity([][]float64{{0, 0}, {10, 0}, {0, 10}})
	if tight <= spread {
		t.Errorf("tight density %v should exceed spread density %v", tight, spread)
	}
}

func TestRankDensitiesOrdersDescending(t *testing.T) {
	labels := []domain.ClusterLabel{
		{ID: "a", Density: 0.2},
		{ID: "b", Density: 0.9},
		{ID: "c", Density: 0.5},
	}
	rankDensities(labels)
	byID := map[string]domain.ClusterLabel{}
	for _, l := range labels {
		byID[l.ID] = l
	}
	if byID["b"].DensityRank != 1 {
		t.Errorf("most dense cluster rank = %d, want 1", byID["b"].DensityRank)
	}
	if byID["a"].DensityRank != 3 {
		t.Errorf("least dense cluster rank = %d, want 3", byID["a"].DensityRank)
	}
	if byID["b"].DensityRankPercentile != 1 {
		t.Errorf("most dense percentile = %v, want 1", byID["b"].DensityRankPercentile)
	}
	if byID["a"].DensityRankPercentile != 0 {
		t.Errorf("least dense percentile = %v, want 0", byID["a"].DensityRankPercentile)
	}
}
