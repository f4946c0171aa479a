package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/opinionlab/hierreport/pkg/domain"
)

// knownColumns are the input corpus columns spec §6 gives a fixed
// meaning to; every other header cell becomes a per-comment attribute,
// keyed by its header text unchanged (including any "attribute_"
// prefix, which spec says is "exposed unchanged to the aggregated
// output").
var knownColumns = map[string]bool{
	"comment_id": true, "comment-id": true,
	"body": true, "comment-body": true,
	"url": true, "source": true,
}

// readComments loads the input corpus CSV at path, per spec §6's
// "required columns comment-id, comment-body; optional source, url;
// arbitrary extra columns become per-comment attributes". Also accepts
// the underscored header names the Launcher's own materialize step
// writes (comment_id/body), so the same reader serves both a
// Launcher-spawned job and a standalone invocation against a raw
// upload.
func readComments(path string) ([]domain.Comment, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read comments: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read comments: header: %w", err)
	}

	idCol, bodyCol, urlCol, sourceCol := -1, -1, -1, -1
	var attrCols []int
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "comment_id", "comment-id":
			idCol = i
		case "body", "comment-body":
			bodyCol = i
		case "url":
			urlCol = i
		case "source":
			sourceCol = i
		default:
			attrCols = append(attrCols, i)
		}
	}
	if idCol == -1 || bodyCol == -1 {
		return nil, fmt.Errorf("read comments: header missing required comment-id/comment-body columns")
	}

	var comments []domain.Comment
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read comments: %w", err)
		}
		c := domain.Comment{CommentID: field(row, idCol), Body: field(row, bodyCol)}
		if urlCol != -1 {
			c.URL = field(row, urlCol)
		}
		if sourceCol != -1 {
			c.Source = field(row, sourceCol)
		}
		for _, col := range attrCols {
			if v := field(row, col); v != "" {
				if c.Attributes == nil {
					c.Attributes = make(map[string]string)
				}
				c.Attributes[header[col]] = v
			}
		}
		comments = append(comments, c)
	}
	return comments, nil
}

func field(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}
