package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestReadCommentsParsesKnownAndAttributeColumns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "input.csv")
	csv := "comment-id,comment-body,source,attribute_region\n" +
		"c1,\"We need more parks\",survey,west\n" +
		"c2,\"Cut spending\",survey,east\n"
	if err := os.WriteFile(path, []byte(csv), 0o644); err != nil {
		t.Fatalf("write input.csv: %v", err)
	}

	comments, err := readComments(path)
	if err != nil {
		t.Fatalf("readComments: %v", err)
	}
	if len(comments) != 2 {
		t.Fatalf("len(comments) = %d, want 2", len(comments))
	}
	if comments[0].CommentID != "c1" || comments[0].Body != "We need more parks" {
		t.Errorf("comments[0] = %+v", comments[0])
	}
	if comments[0].Attributes["attribute_region"] != "west" {
		t.Errorf("attribute_region = %q, want west", comments[0].Attributes["attribute_region"])
	}
}

func TestReadCommentsAcceptsLauncherHeaderNames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "input.csv")
	csv := "comment_id,body,url,source\nc1,hello,,api\n"
	if err := os.WriteFile(path, []byte(csv), 0o644); err != nil {
		t.Fatalf("write input.csv: %v", err)
	}

	comments, err := readComments(path)
	if err != nil {
		t.Fatalf("readComments: %v", err)
	}
	if len(comments) != 1 || comments[0].Body != "hello" || comments[0].Source != "api" {
		t.Fatalf("comments = %+v", comments)
	}
}

func TestReadCommentsRejectsMissingRequiredColumns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "input.csv")
	if err := os.WriteFile(path, []byte("source,url\na,b\n"), 0o644); err != nil {
		t.Fatalf("write input.csv: %v", err)
	}
	if _, err := readComments(path); err == nil {
		t.Fatal("expected error for missing comment-id/comment-body columns")
	}
}
