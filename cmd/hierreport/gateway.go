package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/opinionlab/hierreport/internal/llmgateway"
	"github.com/opinionlab/hierreport/internal/observability"
	"github.com/opinionlab/hierreport/pkg/domain"
)

// buildGateway wires a single-provider llmgateway.Gateway for cfg's
// configured provider, reading credentials from the environment the
// Launcher populates (spec §4.11 step 3: USER_API_KEY plus a
// provider-specific override).
func buildGateway(ctx context.Context, cfg domain.Config, log *slog.Logger, tracer *observability.Tracer) (*llmgateway.Gateway, error) {
	apiKey := credential(cfg.Provider)

	var adapter llmgateway.Provider
	switch cfg.Provider {
	case domain.ProviderOpenAI:
		adapter = llmgateway.NewOpenAIAdapter(apiKey, log)
	case domain.ProviderOpenRouter:
		adapter = llmgateway.NewOpenRouterAdapter(apiKey, log)
	case domain.ProviderLocal:
		adapter = llmgateway.NewLocalAdapter(cfg.LocalAddress, log)
	case domain.ProviderAzure:
		endpoint := os.Getenv("AZURE_OPENAI_ENDPOINT")
		apiVersion := os.Getenv("AZURE_OPENAI_API_VERSION")
		deployment := os.Getenv("AZURE_OPENAI_DEPLOYMENT")
		if endpoint == "" || apiVersion == "" || deployment == "" {
			return nil, fmt.Errorf("llmgateway: azure provider requires AZURE_OPENAI_ENDPOINT, AZURE_OPENAI_API_VERSION, AZURE_OPENAI_DEPLOYMENT")
		}
		adapter = llmgateway.NewAzureAdapter(endpoint, apiKey, apiVersion, deployment, log)
	case domain.ProviderGemini:
		geminiAdapter, err := llmgateway.NewGeminiAdapter(ctx, apiKey, log)
		if err != nil {
			return nil, fmt.Errorf("llmgateway: build gemini adapter: %w", err)
		}
		adapter = geminiAdapter
	default:
		return nil, domain.ErrConfigInvalid(fmt.Sprintf("llmgateway: unknown provider %q", cfg.Provider))
	}

	opts := []llmgateway.Option{llmgateway.WithLogger(log)}
	if tracer != nil {
		opts = append(opts, llmgateway.WithTracer(tracer))
	}
	return llmgateway.New(map[domain.Provider]llmgateway.Provider{cfg.Provider: adapter}, opts...), nil
}

// credential resolves the API key for provider: a provider-specific
// environment variable wins over USER_API_KEY when both are set, since
// a caller driving this binary directly (outside the Launcher) may only
// have set the provider-specific one.
func credential(provider domain.Provider) string {
	if name := providerEnvVar(provider); name != "" {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return os.Getenv("USER_API_KEY")
}

func providerEnvVar(provider domain.Provider) string {
	switch provider {
	case domain.ProviderOpenAI:
		return "OPENAI_API_KEY"
	case domain.ProviderAzure:
		return "AZURE_OPENAI_API_KEY"
	case domain.ProviderGemini:
		return "GEMINI_API_KEY"
	case domain.ProviderOpenRouter:
		return "OPENROUTER_API_KEY"
	default:
		return ""
	}
}
