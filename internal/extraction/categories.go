package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/opinionlab/hierreport/internal/llmgateway"
	"github.com/opinionlab/hierreport/internal/workerpool"
	"github.com/opinionlab/hierreport/pkg/domain"
)

// ClassifyCategories implements the forward-compatible category
// classification extension slot named in spec §4.4: when cfg.Categories
// is populated, every argument gets one more LLM call per stage,
// annotating Argument.Categories with a value per CategorySpec.Name.
// It is a no-op when cfg.Categories is empty, matching the spec's
// direction to leave this as an extension slot rather than a
// mandatory feature.
func ClassifyCategories(ctx context.Context, gw *llmgateway.Gateway, cfg domain.Config, arguments []domain.Argument, log *slog.Logger) (domain.TokenUsage, error) {
	var tokens domain.TokenUsage
	if len(cfg.Categories) == 0 {
		return tokens, nil
	}
	if log == nil {
		log = slog.Default()
	}

	rawSchema := categorySchema(cfg.Categories)

	outcomes := workerpool.MapWithLimit(ctx, arguments, cfg.Workers, perTaskTimeout,
		func(taskCtx context.Context, arg domain.Argument) (map[string]string, error) {
			resp, err := gw.Chat(taskCtx, llmgateway.ChatRequest{
				Provider: cfg.Provider,
				Model:    cfg.Model,
				Messages: []llmgateway.Message{
					{Role: "system", Content: categoryClassificationPrompt(cfg.Categories)},
					{Role: "user", Content: arg.Text},
				},
				Schema:       rawSchema,
				LocalAddress: cfg.LocalAddress,
			})
			tokens.Add(resp.Tokens)
			if err != nil {
				// gw.Chat already validates resp.Object against rawSchema
				// (llmgateway.CoerceJSON); a non-nil error here covers both
				// transport failures and schema-conformance failures.
				log.Warn("extraction: category classification failed for argument", "arg_id", arg.ArgID, "error", err)
				return nil, nil
			}
			var labels map[string]string
			if jsonErr := json.Unmarshal(resp.Object, &labels); jsonErr != nil {
				log.Warn("extraction: category classification parse failure", "arg_id", arg.ArgID, "error", jsonErr)
				return nil, nil
			}
			return labels, nil
		}, nil)

	for i, outcome := range outcomes {
		if outcome.Value == nil {
			continue
		}
		arguments[i].Categories = outcome.Value
	}
	return tokens, nil
}

func categorySchema(specs []domain.CategorySpec) json.RawMessage {
	properties := make(map[string]any, len(specs))
	required := make([]string, 0, len(specs))
	for _, spec := range specs {
		properties[spec.Name] = map[string]any{"type": "string", "enum": spec.Values}
		required = append(required, spec.Name)
	}
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
	data, err := json.Marshal(schema)
	if err != nil {
		// properties/required are built from plain strings above; this
		// cannot fail in practice.
		panic(fmt.Sprintf("extraction: marshal category schema: %v", err))
	}
	return data
}

func categoryClassificationPrompt(specs []domain.CategorySpec) string {
	prompt := "Classify the following argument into these categories:\n"
	for _, spec := range specs {
		prompt += fmt.Sprintf("- %s: one of %v\n", spec.Name, spec.Values)
	}
	return prompt
}
