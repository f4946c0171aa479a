package llmgateway

import (
	"context"
	"fmt"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"

	"github.com/opinionlab/hierreport/pkg/domain"
)

// openAICompatAdapter is the shared adapter for every OpenAI-compatible
// backend: openai itself, azure (via a differently-configured client),
// openrouter (an OpenAI-compatible proxy where Model is "<vendor>/<name>"),
// and local (an OpenAI-compatible HTTP endpoint at host:port). Grounded
// on the teacher's internal/agent/providers/openai.go, simplified from
// streaming+tool-calling to a single blocking completion per spec §4.1's
// contract.
type openAICompatAdapter struct {
	name         string
	client       *openai.Client
	defaultModel string
	log          *slog.Logger
}

func newOpenAICompatAdapter(name string, client *openai.Client, defaultModel string, log *slog.Logger) *openAICompatAdapter {
	if log == nil {
		log = slog.Default()
	}
	return &openAICompatAdapter{name: name, client: client, defaultModel: defaultModel, log: log}
}

// NewOpenAIAdapter builds the openai provider adapter from an API key.
func NewOpenAIAdapter(apiKey string, log *slog.Logger) Provider {
	return newOpenAICompatAdapter("openai", openai.NewClient(apiKey), "gpt-4o-mini", log)
}

// NewOpenRouterAdapter builds the openrouter provider adapter, pointed
// at OpenRouter's OpenAI-compatible endpoint.
func NewOpenRouterAdapter(apiKey string, log *slog.Logger) Provider {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = "https://openrouter.ai/api/v1"
	return newOpenAICompatAdapter("openrouter", openai.NewClientWithConfig(cfg), "", log)
}

// NewLocalAdapter builds the local provider adapter against an
// OpenAI-compatible HTTP endpoint at hostPort.
func NewLocalAdapter(hostPort string, log *slog.Logger) Provider {
	cfg := openai.DefaultConfig("local")
	cfg.BaseURL = fmt.Sprintf("http://%s/v1", hostPort)
	return newOpenAICompatAdapter("local", openai.NewClientWithConfig(cfg), "", log)
}

// NewAzureAdapter builds the azure provider adapter, grounded on
// internal/agent/providers/azure.go's endpoint+deployment+version
// configuration.
func NewAzureAdapter(endpoint, apiKey, apiVersion, deployment string, log *slog.Logger) Provider {
	if apiVersion == "" {
		apiVersion = "2024-02-15-preview"
	}
	cfg := openai.DefaultAzureConfig(apiKey, endpoint)
	cfg.APIVersion = apiVersion
	return newOpenAICompatAdapter("azure", openai.NewClientWithConfig(cfg), deployment, log)
}

func (a *openAICompatAdapter) Name() string { return a.name }

func (a *openAICompatAdapter) model(requested string) string {
	if requested != "" {
		return requested
	}
	return a.defaultModel
}

func (a *openAICompatAdapter) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	model := a.model(req.Model)
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	ccReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: msgs,
	}
	if req.Schema != nil {
		// Native json_schema mode (go-openai v1.41.2) constrains the model's
		// output to req.Schema's shape at generation time, the "most native
		// supported form" spec §4.1 asks for; json_object mode only asks
		// for valid JSON, not valid-against-this-schema JSON.
		ccReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   "response",
				Schema: req.Schema,
				Strict: false,
			},
		}
	} else if req.WantJSON {
		ccReq.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}

	resp, err := a.client.CreateChatCompletion(ctx, ccReq)
	if err != nil {
		return ChatResponse{}, classifyOpenAIErr(a.name, model, err)
	}
	if len(resp.Choices) == 0 {
		return ChatResponse{}, NewProviderError(a.name, model, fmt.Errorf("empty choices in response"))
	}

	text := resp.Choices[0].Message.Content
	out := ChatResponse{
		Text: text,
		Tokens: domain.TokenUsage{
			Input:  int64(resp.Usage.PromptTokens),
			Output: int64(resp.Usage.CompletionTokens),
			Total:  int64(resp.Usage.TotalTokens),
		},
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

func (a *openAICompatAdapter) Embed(ctx context.Context, req EmbedRequest) (EmbedResponse, error) {
	model := a.model(req.Model)
	limit := EmbeddingTruncateLimit(req.Local)
	inputs := make([]string, len(req.Texts))
	for i, t := range req.Texts {
		trimmed, truncated := TruncateToTokens(t, limit)
		if truncated {
			a.log.Warn("llmgateway: truncated embedding input", "provider", a.name, "index", i, "max_tokens", limit)
		}
		inputs[i] = trimmed
	}

	resp, err := a.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: inputs,
		Model: openai.EmbeddingModel(model),
	})
	if err != nil {
		return EmbedResponse{}, classifyOpenAIErr(a.name, model, err)
	}

	vectors := make([][]float64, len(resp.Data))
	for _, d := range resp.Data {
		vec := make([]float64, len(d.Embedding))
		for i, f := range d.Embedding {
			vec[i] = float64(f)
		}
		vectors[d.Index] = vec
	}
	return EmbedResponse{
		Vectors: vectors,
		Tokens: domain.TokenUsage{
			Input: int64(resp.Usage.PromptTokens),
			Total: int64(resp.Usage.TotalTokens),
		},
	}, nil
}

func classifyOpenAIErr(provider, model string, err error) error {
	var apiErr *openai.APIError
	pe := NewProviderError(provider, model, err)
	if ok := asOpenAIAPIError(err, &apiErr); ok {
		pe = pe.WithStatus(apiErr.HTTPStatusCode)
		pe.Message = apiErr.Message
	}
	return pe
}

func asOpenAIAPIError(err error, target **openai.APIError) bool {
	apiErr, ok := err.(*openai.APIError)
	if !ok {
		return false
	}
	*target = apiErr
	return true
}
