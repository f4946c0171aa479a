package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/opinionlab/hierreport/internal/aggregation"
	"github.com/opinionlab/hierreport/pkg/domain"
)

// pipelineResult mirrors internal/launcher's unexported type of the
// same shape; it is the contract the Launcher reads back from
// status.json on clean exit (spec §4.11 step 4).
type pipelineResult struct {
	TokenUsageInput  int64           `json:"token_usage_input"`
	TokenUsageOutput int64           `json:"token_usage_output"`
	TokenUsageTotal  int64           `json:"token_usage_total"`
	Provider         domain.Provider `json:"provider"`
	Model            string          `json:"model"`
}

// writeOutputs emits the final report artifact plus every sidecar spec
// §6 names: args.csv, relations.csv, hierarchical_clusters.csv,
// hierarchical_merge_labels.csv, hierarchical_overview.txt, and (when
// cfg.IsPubcom) final_result_with_comments.csv. embeddings.pkl becomes
// embeddings.json: see DESIGN.md for why no pack library offers
// Python's pickle format and a JSON array is the idiomatic Go
// substitute for the same "opaque to callers" vector dump.
func writeOutputs(jobDir string, report aggregation.Report, comments []domain.Comment, arguments []domain.Argument, relations []domain.Relation, embeddings []domain.Embedding, assignments []domain.ClusterAssignment, labels []domain.ClusterLabel, cfg domain.Config) error {
	reportPath := filepath.Join(jobDir, "hierarchical_result.json")
	if err := writeJSON(reportPath, report); err != nil {
		return err
	}

	if err := writeJSON(filepath.Join(jobDir, "embeddings.json"), embeddings); err != nil {
		return err
	}
	if err := writeArgsCSV(filepath.Join(jobDir, "args.csv"), arguments); err != nil {
		return err
	}
	if err := writeRelationsCSV(filepath.Join(jobDir, "relations.csv"), relations); err != nil {
		return err
	}
	if err := writeClustersCSV(filepath.Join(jobDir, "hierarchical_clusters.csv"), assignments); err != nil {
		return err
	}
	if err := writeMergeLabelsCSV(filepath.Join(jobDir, "hierarchical_merge_labels.csv"), labels); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(jobDir, "hierarchical_overview.txt"), []byte(report.Overview), 0o644); err != nil {
		return fmt.Errorf("write overview: %w", err)
	}

	if cfg.IsPubcom {
		data, err := aggregation.WriteCSV(comments, arguments, relations, assignments, labels, cfg)
		if err != nil {
			return fmt.Errorf("write final_result_with_comments.csv: %w", err)
		}
		if err := os.WriteFile(filepath.Join(jobDir, "final_result_with_comments.csv"), data, 0o644); err != nil {
			return fmt.Errorf("write final_result_with_comments.csv: %w", err)
		}
	}
	return nil
}

// writeFinalStatus writes status.json in the shape the Launcher's
// monitor goroutine reads back (internal/launcher's pipelineResult).
func writeFinalStatus(jobDir string, status domain.Status) error {
	result := pipelineResult{
		TokenUsageInput:  status.TokenUsageInput,
		TokenUsageOutput: status.TokenUsageOutput,
		TokenUsageTotal:  status.TokenUsageTotal,
		Provider:         status.Provider,
		Model:            status.Model,
	}
	return writeJSON(filepath.Join(jobDir, "status.json"), result)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

func writeArgsCSV(path string, arguments []domain.Argument) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("write args.csv: %w", err)
	}
	defer f.Close()
	w := csv.NewWriter(f)
	if err := w.Write([]string{"arg_id", "argument", "x", "y", "url"}); err != nil {
		return err
	}
	for _, a := range arguments {
		row := []string{a.ArgID, a.Text, strconv.FormatFloat(a.X, 'f', -1, 64), strconv.FormatFloat(a.Y, 'f', -1, 64), a.URL}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func writeRelationsCSV(path string, relations []domain.Relation) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("write relations.csv: %w", err)
	}
	defer f.Close()
	w := csv.NewWriter(f)
	if err := w.Write([]string{"arg_id", "comment_id"}); err != nil {
		return err
	}
	for _, r := range relations {
		if err := w.Write([]string{r.ArgID, r.CommentID}); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func writeClustersCSV(path string, assignments []domain.ClusterAssignment) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("write hierarchical_clusters.csv: %w", err)
	}
	defer f.Close()
	w := csv.NewWriter(f)
	if err := w.Write([]string{"arg_id", "level1_id", "level2_id"}); err != nil {
		return err
	}
	for _, a := range assignments {
		if err := w.Write([]string{a.ArgID, a.Level1ID, a.Level2ID}); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func writeMergeLabelsCSV(path string, labels []domain.ClusterLabel) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("write hierarchical_merge_labels.csv: %w", err)
	}
	defer f.Close()
	w := csv.NewWriter(f)
	if err := w.Write([]string{"level", "id", "label", "description", "value", "parent", "density_rank_percentile"}); err != nil {
		return err
	}
	for _, l := range labels {
		row := []string{
			strconv.Itoa(l.Level), l.ID, l.Label, l.Description,
			strconv.Itoa(l.Value), l.Parent,
			strconv.FormatFloat(l.DensityRankPercentile, 'f', -1, 64),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
