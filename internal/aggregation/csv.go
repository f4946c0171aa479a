package aggregation

import (
	"bytes"
	"encoding/csv"
	"fmt"

	"github.com/opinionlab/hierreport/pkg/domain"
)

// WriteCSV emits the flattened per-comment CSV spec §4.9 describes:
// one row per (comment, argument) relation, joining the comment body,
// its extracted argument, that argument's leaf cluster label, and the
// preserved attribute columns. Only called when cfg.IsPubcom is set;
// callers are responsible for that check.
func WriteCSV(comments []domain.Comment, arguments []domain.Argument, relations []domain.Relation, assignments []domain.ClusterAssignment, labels []domain.ClusterLabel, cfg domain.Config) ([]byte, error) {
	commentByID := make(map[string]domain.Comment, len(comments))
	for _, c := range comments {
		commentByID[c.CommentID] = c
	}
	argByID := make(map[string]domain.Argument, len(arguments))
	for _, a := range arguments {
		argByID[a.ArgID] = a
	}
	assignmentByArg := make(map[string]domain.ClusterAssignment, len(assignments))
	for _, a := range assignments {
		assignmentByArg[a.ArgID] = a
	}
	leafLabelByID := make(map[string]string, len(labels))
	for _, l := range labels {
		if l.Level == 2 {
			leafLabelByID[l.ID] = l.Label
		}
	}

	header := []string{"comment_id", "body", "arg_id", "argument", "cluster_label"}
	header = append(header, cfg.Properties...)

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("aggregation: write csv header: %w", err)
	}

	for _, rel := range relations {
		comment, ok := commentByID[rel.CommentID]
		if !ok {
			continue
		}
		arg, ok := argByID[rel.ArgID]
		if !ok {
			continue
		}
		clusterLabel := ""
		if assignment, ok := assignmentByArg[rel.ArgID]; ok {
			clusterLabel = leafLabelByID[assignment.Level2ID]
		}

		row := []string{comment.CommentID, comment.Body, arg.ArgID, arg.Text, clusterLabel}
		filtered := filteredAttributes(arg.Attributes, cfg)
		for _, property := range cfg.Properties {
			row = append(row, filtered[property])
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("aggregation: write csv row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("aggregation: flush csv: %w", err)
	}
	return buf.Bytes(), nil
}
