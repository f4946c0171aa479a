// Package llmgateway is the provider-agnostic LLM dispatch layer (C1):
// chat and embed operations with rate-limit-aware retry, structured-JSON
// coercion, and token accounting. One adapter per provider implements the
// Provider interface; the Gateway picks the adapter by Config.Provider
// and applies the shared retry policy around it.
package llmgateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/opinionlab/hierreport/internal/observability"
	"github.com/opinionlab/hierreport/pkg/domain"
)

// Message is one turn of a chat request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the gateway's chat contract.
type ChatRequest struct {
	Messages     []Message
	Model        string
	Provider     domain.Provider
	WantJSON     bool
	Schema       json.RawMessage // non-nil wins over WantJSON
	LocalAddress string
	APIKey       string
}

// ChatResponse carries either free text or a schema-conforming object,
// plus token accounting. Exactly one of Text/Object is populated.
type ChatResponse struct {
	Text   string
	Object json.RawMessage
	Tokens domain.TokenUsage
}

// EmbedRequest is the gateway's embed contract.
type EmbedRequest struct {
	Texts        []string
	Model        string
	Provider     domain.Provider
	Local        bool
	LocalAddress string
	APIKey       string
}

// EmbedResponse holds one vector per input text, same order, plus
// optional token accounting (not every provider reports embedding
// tokens).
type EmbedResponse struct {
	Vectors [][]float64
	Tokens  domain.TokenUsage
}

// Provider is the adapter-pattern seam: one implementation per backend
// (openai, azure, gemini, openrouter, local). Gemini owns its own
// schema-rewriting and retry-delay extraction; the OpenAI-compatible
// backends (openai, azure, openrouter, local) share a common adapter
// parametrised by base URL.
type Provider interface {
	Name() string
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
	Embed(ctx context.Context, req EmbedRequest) (EmbedResponse, error)
}

// Gateway dispatches to the configured Provider adapter, applying the
// shared retry policy around every call. The gateway itself is stateless
// for tokens: callers sum (input,output,total) across calls and hand
// them to the Status Manager.
type Gateway struct {
	log         *slog.Logger
	providers   map[domain.Provider]Provider
	policy      RetryPolicy
	maxAttempts int
	tracer      *observability.Tracer
}

// Option configures a Gateway at construction time.
type Option func(*Gateway)

// WithLogger overrides the default slog.Default() logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.log = l }
}

// WithPolicy overrides the default rate-limit retry policy.
func WithPolicy(p RetryPolicy) Option {
	return func(g *Gateway) { g.policy = p }
}

// WithTracer attaches a distributed-tracing hook; Chat and Embed each
// open a span per call when set.
func WithTracer(t *observability.Tracer) Option {
	return func(g *Gateway) { g.tracer = t }
}

// New builds a Gateway wired with one Provider adapter per entry in
// providers, keyed by the domain.Provider they serve.
func New(providers map[domain.Provider]Provider, opts ...Option) *Gateway {
	g := &Gateway{
		log:         slog.Default(),
		providers:   providers,
		policy:      gatewayRateLimitPolicy(),
		maxAttempts: 3,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gateway) providerFor(p domain.Provider) (Provider, error) {
	adapter, ok := g.providers[p]
	if !ok {
		return nil, domain.ErrConfigInvalid(fmt.Sprintf("llmgateway: no adapter registered for provider %q", p))
	}
	return adapter, nil
}

// Chat sends messages to the configured provider/model, retrying
// rate-limited and transient-server failures per the gateway's backoff
// policy (3 attempts, 3s-20s, factor 3, per spec §4.1). Auth and
// bad-request failures are not retried.
func (g *Gateway) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	adapter, err := g.providerFor(req.Provider)
	if err != nil {
		return ChatResponse{}, err
	}
	if g.tracer != nil {
		var span trace.Span
		ctx, span = g.tracer.StartLLMCall(ctx, string(req.Provider), req.Model, "chat")
		defer func() {
			g.tracer.RecordError(span, err)
			span.End()
		}()
	}
	var resp ChatResponse
	resp, err = retryChat(ctx, g.log, g.policy, g.maxAttempts, func() (ChatResponse, error) {
		return adapter.Chat(ctx, req)
	})
	return resp, err
}

// Embed sends texts to the configured provider/model for embedding,
// retrying under the same policy as Chat.
func (g *Gateway) Embed(ctx context.Context, req EmbedRequest) (EmbedResponse, error) {
	adapter, err := g.providerFor(req.Provider)
	if err != nil {
		return EmbedResponse{}, err
	}
	if g.tracer != nil {
		var span trace.Span
		ctx, span = g.tracer.StartLLMCall(ctx, string(req.Provider), req.Model, "embed")
		defer func() {
			g.tracer.RecordError(span, err)
			span.End()
		}()
	}
	var resp EmbedResponse
	resp, err = retryEmbed(ctx, g.log, g.policy, g.maxAttempts, func() (EmbedResponse, error) {
		return adapter.Embed(ctx, req)
	})
	return resp, err
}
