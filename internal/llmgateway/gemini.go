package llmgateway

import (
	"context"
	"fmt"
	"log/slog"

	"google.golang.org/genai"

	"github.com/opinionlab/hierreport/pkg/domain"
)

// geminiAdapter is the native Gemini provider, grounded on the teacher's
// internal/agent/providers/google.go. Unlike the OpenAI-compatible
// adapters it owns its own schema rewriting (RewriteSchemaForGemini)
// and retry-delay extraction, per spec §9's adapter-pattern design note.
type geminiAdapter struct {
	client       *genai.Client
	defaultModel string
	log          *slog.Logger
}

// NewGeminiAdapter builds the gemini provider adapter from an API key.
func NewGeminiAdapter(ctx context.Context, apiKey string, log *slog.Logger) (Provider, error) {
	if apiKey == "" {
		return nil, domain.ErrConfigInvalid("llmgateway: gemini requires an API key")
	}
	if log == nil {
		log = slog.Default()
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("llmgateway: gemini client: %w", err)
	}
	return &geminiAdapter{client: client, defaultModel: "gemini-2.0-flash", log: log}, nil
}

func (a *geminiAdapter) Name() string { return "gemini" }

func (a *geminiAdapter) model(requested string) string {
	if requested != "" {
		return requested
	}
	return a.defaultModel
}

func (a *geminiAdapter) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	model := a.model(req.Model)

	var parts []*genai.Part
	for _, m := range req.Messages {
		parts = append(parts, genai.NewPartFromText(m.Content))
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	var genConfig *genai.GenerateContentConfig
	if req.Schema != nil {
		nativeSchema, err := GeminiSchema(req.Schema)
		if err != nil {
			return ChatResponse{}, err
		}
		genConfig = &genai.GenerateContentConfig{
			ResponseMIMEType: "application/json",
			ResponseSchema:   nativeSchema,
		}
	} else if req.WantJSON {
		genConfig = &genai.GenerateContentConfig{ResponseMIMEType: "application/json"}
	}

	resp, err := a.client.Models.GenerateContent(ctx, model, contents, genConfig)
	if err != nil {
		return ChatResponse{}, a.wrapError(model, err)
	}

	text := resp.Text()
	out := ChatResponse{Text: text}
	if resp.UsageMetadata != nil {
		out.Tokens = domain.TokenUsage{
			Input:  int64(resp.UsageMetadata.PromptTokenCount),
			Output: int64(resp.UsageMetadata.CandidatesTokenCount),
			Total:  int64(resp.UsageMetadata.TotalTokenCount),
		}
	}
	if req.Schema != nil {
		obj, err := CoerceJSON(text, req.Schema)
		if err != nil {
			return ChatResponse{}, err
		}
		out.Object = obj
		out.Text = ""
	}
	return out, nil
}

func (a *geminiAdapter) Embed(ctx context.Context, req EmbedRequest) (EmbedResponse, error) {
	model := a.model(req.Model)
	if model == "" {
		model = "text-embedding-004"
	}

	limit := EmbeddingTruncateLimit(req.Local)
	var contents []*genai.Content
	for i, t := range req.Texts {
		trimmed, truncated := TruncateToTokens(t, limit)
		if truncated {
			a.log.Warn("llmgateway: truncated embedding input", "provider", "gemini", "index", i, "max_tokens", limit)
		}
		contents = append(contents, genai.NewContentFromText(trimmed, genai.RoleUser))
	}

	resp, err := a.client.Models.EmbedContent(ctx, model, contents, nil)
	if err != nil {
		return EmbedResponse{}, a.wrapError(model, err)
	}

	vectors := make([][]float64, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		vec := make([]float64, len(e.Values))
		for j, v := range e.Values {
			vec[j] = float64(v)
		}
		vectors[i] = vec
	}
	return EmbedResponse{Vectors: vectors}, nil
}

// wrapError classifies a genai error and extracts Gemini's retry_delay
// hint when present, honoured as a hard lower bound on the next wait.
func (a *geminiAdapter) wrapError(model string, err error) error {
	pe := NewProviderError("gemini", model, err)
	var apiErr genai.APIError
	if errAs(err, &apiErr) {
		pe = pe.WithStatus(apiErr.Code)
		pe.Message = apiErr.Message
		for _, d := range apiErr.Details {
			if delay, ok := d["retryDelay"].(string); ok {
				if secs, ok := ParseRetryDelaySeconds(delay); ok {
					pe = pe.WithRetryDelay(secs)
				}
			}
		}
	}
	return pe
}

func errAs(err error, target *genai.APIError) bool {
	apiErr, ok := err.(genai.APIError)
	if !ok {
		return false
	}
	*target = apiErr
	return true
}
