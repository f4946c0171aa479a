// Package extraction implements C4, the Extraction Stage: for every
// input comment it calls the LLM Gateway once with the extraction
// prompt, parses the {"extractedOpinionList":[...]} response, dedups
// repeated argument text across comments, and builds the argument and
// relation tables the rest of the pipeline operates on. Grounded on
// spec §4.4; the per-comment call shape and category-classification
// extension slot follow the teacher's internal/agent/providers request
// construction (single ChatRequest per item, Schema set).
package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/opinionlab/hierreport/internal/llmgateway"
	"github.com/opinionlab/hierreport/internal/workerpool"
	"github.com/opinionlab/hierreport/pkg/domain"
)

// perTaskTimeout is fixed by spec §4.4.
const perTaskTimeout = 30 * time.Second

var extractedOpinionListSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"extractedOpinionList": {"type": "array", "items": {"type": "string"}}
	},
	"required": ["extractedOpinionList"]
}`)

type extractedOpinionList struct {
	ExtractedOpinionList []string `json:"extractedOpinionList"`
}

// Result is what a successful extraction run produces.
type Result struct {
	Arguments []domain.Argument
	Relations []domain.Relation
	Tokens    domain.TokenUsage
}

// Run extracts arguments from every comment in comments. A per-comment
// parse failure downgrades that comment to "no arguments extracted"
// and is logged; the stage only fails if the resulting argument table
// ends up empty across all comments (spec §4.4's failure rule).
func Run(ctx context.Context, gw *llmgateway.Gateway, cfg domain.Config, comments []domain.Comment, log *slog.Logger) (Result, error) {
	if log == nil {
		log = slog.Default()
	}

	type perComment struct {
		commentID string
		opinions  []string
		tokens    domain.TokenUsage
	}

	outcomes := workerpool.MapWithLimit(ctx, comments, cfg.Workers, perTaskTimeout,
		func(taskCtx context.Context, comment domain.Comment) (perComment, error) {
			resp, err := gw.Chat(taskCtx, llmgateway.ChatRequest{
				Provider: cfg.Provider,
				Model:    cfg.Model,
				Messages: []llmgateway.Message{
					{Role: "system", Content: cfg.Prompts.Extraction},
					{Role: "user", Content: comment.Body},
				},
				Schema:       extractedOpinionListSchema,
				LocalAddress: cfg.LocalAddress,
			})
			if err != nil {
				log.Warn("extraction: comment downgraded to no arguments", "comment_id", comment.CommentID, "error", err)
				return perComment{commentID: comment.CommentID, tokens: resp.Tokens}, nil
			}

			var parsed extractedOpinionList
			if jsonErr := json.Unmarshal(resp.Object, &parsed); jsonErr != nil {
				log.Warn("extraction: comment downgraded to no arguments (parse failure)", "comment_id", comment.CommentID, "error", jsonErr)
				return perComment{commentID: comment.CommentID, tokens: resp.Tokens}, nil
			}

			opinions := make([]string, 0, len(parsed.ExtractedOpinionList))
			for _, o := range parsed.ExtractedOpinionList {
				if strings.TrimSpace(o) == "" {
					continue
				}
				opinions = append(opinions, o)
			}
			return perComment{commentID: comment.CommentID, opinions: opinions, tokens: resp.Tokens}, nil
		}, nil)

	var (
		result    Result
		seen      = map[string]string{} // argument text -> arg_id
	)
	for i, outcome := range outcomes {
		comment := comments[i]
		pc := outcome.Value
		result.Tokens.Add(pc.tokens)

		for pos, text := range pc.opinions {
			argID, exists := seen[text]
			if !exists {
				argID = fmt.Sprintf("A%s_%d", comment.CommentID, pos)
				seen[text] = argID
				result.Arguments = append(result.Arguments, domain.Argument{
					ArgID: argID,
					Text:  text,
					URL:   comment.URL,
				})
			}
			result.Relations = append(result.Relations, domain.Relation{ArgID: argID, CommentID: comment.CommentID})
		}
	}

	if len(result.Arguments) == 0 {
		return result, domain.ErrInsufficientData("extraction: no arguments extracted from any comment")
	}
	return result, nil
}
