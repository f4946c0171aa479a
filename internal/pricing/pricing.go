// Package pricing implements C12, the Pricing Oracle: a pure function
// from (provider, model, input_tokens, output_tokens) to a USD estimate.
// Grounded directly on the teacher's internal/status/cost.go
// (DefaultModelCosts / ResolveModelCostConfig / EstimateUsageCost /
// FormatUSD), adapted to the spec's provider enum and Gemini
// model-name normalisation rule.
package pricing

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/opinionlab/hierreport/pkg/domain"
)

// Rate holds per-million-token pricing for one (provider, model) pair.
type Rate struct {
	InputPer1M  float64
	OutputPer1M float64
}

// DefaultRates mirrors the teacher's DefaultModelCosts table, trimmed to
// the providers in spec's enum ({openai, azure, gemini, openrouter,
// local}); azure and openrouter proxy OpenAI/third-party models so they
// share the openai table via normalizeProvider.
var DefaultRates = map[domain.Provider]map[string]Rate{
	domain.ProviderOpenAI: {
		"gpt-4o":            {InputPer1M: 2.50, OutputPer1M: 10.0},
		"gpt-4o-mini":        {InputPer1M: 0.15, OutputPer1M: 0.60},
		"gpt-4-turbo":        {InputPer1M: 10.0, OutputPer1M: 30.0},
		"gpt-4":              {InputPer1M: 30.0, OutputPer1M: 60.0},
		"gpt-3.5-turbo":      {InputPer1M: 0.50, OutputPer1M: 1.50},
		"o1":                 {InputPer1M: 15.0, OutputPer1M: 60.0},
		"o1-mini":            {InputPer1M: 3.0, OutputPer1M: 12.0},
		"text-embedding-3-small": {InputPer1M: 0.02, OutputPer1M: 0},
		"text-embedding-3-large": {InputPer1M: 0.13, OutputPer1M: 0},
	},
	domain.ProviderGemini: {
		"gemini-1.5-pro":   {InputPer1M: 1.25, OutputPer1M: 5.0},
		"gemini-1.5-flash": {InputPer1M: 0.075, OutputPer1M: 0.30},
		"gemini-2.0-flash": {InputPer1M: 0.10, OutputPer1M: 0.40},
		"text-embedding-004": {InputPer1M: 0, OutputPer1M: 0},
	},
}

var geminiVersionSuffix = regexp.MustCompile(`-\d{3,8}$`)

// NormalizeGeminiModel strips version/date suffixes and the "models/"
// prefix, and collapses the documented synonyms, per spec §4.12.
func NormalizeGeminiModel(model string) string {
	m := strings.TrimPrefix(model, "models/")
	m = geminiVersionSuffix.ReplaceAllString(m, "")
	switch {
	case m == "gemini-pro":
		return "gemini-1.5-pro"
	case m == "gemini-flash":
		return "gemini-1.5-flash"
	default:
		return m
	}
}

// normalizeProvider maps azure/openrouter onto the rate table of the
// backend they proxy: azure serves OpenAI models, openrouter serves a
// vendor/name pair we key on the trailing model name against the openai
// table as a best-effort default (unknown combinations fall through to
// zero rate, per spec: "unknown (provider, model) -> zero rate").
func normalizeProvider(p domain.Provider) domain.Provider {
	switch p {
	case domain.ProviderAzure, domain.ProviderOpenRouter, domain.ProviderLocal:
		return domain.ProviderOpenAI
	default:
		return p
	}
}

func normalizeModel(provider domain.Provider, model string) string {
	if provider == domain.ProviderGemini {
		return NormalizeGeminiModel(model)
	}
	if idx := strings.LastIndex(model, "/"); idx >= 0 {
		// openrouter model strings are "<vendor>/<name>"; fall back to
		// the trailing name for table lookups.
		return model[idx+1:]
	}
	return model
}

// Resolve looks up a Rate for (provider, model). Returns (Rate{}, false)
// for unknown combinations, which Cost treats as a zero rate.
func Resolve(provider domain.Provider, model string) (Rate, bool) {
	table, ok := DefaultRates[normalizeProvider(provider)]
	if !ok {
		return Rate{}, false
	}
	normalized := normalizeModel(provider, model)
	if rate, ok := table[normalized]; ok {
		return rate, true
	}
	// Prefix match for versioned variants not in the table verbatim.
	for id, rate := range table {
		if strings.HasPrefix(normalized, id) || strings.HasPrefix(id, normalized) {
			return rate, true
		}
	}
	return Rate{}, false
}

// Cost computes cost(provider, model, input_tokens, output_tokens) in
// USD. Unknown (provider, model) yields 0, never an error: spec §4.12
// treats pricing as a best-effort estimate, not a hard failure mode.
func Cost(provider domain.Provider, model string, inputTokens, outputTokens int64) float64 {
	rate, ok := Resolve(provider, model)
	if !ok {
		return 0
	}
	total := (float64(inputTokens)*rate.InputPer1M + float64(outputTokens)*rate.OutputPer1M) / 1_000_000
	if math.IsNaN(total) || math.IsInf(total, 0) {
		return 0
	}
	return total
}

// FormatUSD formats amount the way the teacher's cost/usage packages do:
// empty for non-positive/invalid, two decimals above a cent, four
// decimals below.
func FormatUSD(amount float64) string {
	if amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return ""
	}
	if amount >= 0.01 {
		return fmt.Sprintf("$%.2f", amount)
	}
	return fmt.Sprintf("$%.4f", amount)
}
