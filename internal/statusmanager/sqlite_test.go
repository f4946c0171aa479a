package statusmanager

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/opinionlab/hierreport/pkg/domain"
)

func newTestSQLiteRegistry(t *testing.T) *SQLiteRegistry {
	t.Helper()
	path := filepath.Join(t.TempDir(), "registry.db")
	r, err := NewSQLiteRegistry(path, nil, nil)
	if err != nil {
		t.Fatalf("NewSQLiteRegistry: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestSQLiteAddNewInitialState(t *testing.T) {
	r := newTestSQLiteRegistry(t)
	if err := r.AddNew("slug-a", "Question?", "intro", false); err != nil {
		t.Fatalf("AddNew: %v", err)
	}
	rec, err := r.Get("slug-a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.State != domain.StateProcessing {
		t.Errorf("State = %v, want processing", rec.State)
	}
	if rec.Visibility != domain.VisibilityUnlisted {
		t.Errorf("Visibility = %v, want unlisted", rec.Visibility)
	}
}

func TestSQLiteSetStateRejectsInvalidTransition(t *testing.T) {
	r := newTestSQLiteRegistry(t)
	if err := r.AddNew("slug-a", "Q", "I", false); err != nil {
		t.Fatalf("AddNew: %v", err)
	}
	if err := r.SetState("slug-a", domain.StateReady); err != nil {
		t.Fatalf("SetState ready: %v", err)
	}
	if err := r.SetState("slug-a", domain.StateProcessing); err == nil {
		t.Error("expected error reverting ready -> processing")
	}
}

func TestSQLiteUpdateTokensComputesCost(t *testing.T) {
	r := newTestSQLiteRegistry(t)
	if err := r.AddNew("slug-a", "Q", "I", false); err != nil {
		t.Fatalf("AddNew: %v", err)
	}
	input, output := int64(1000), int64(500)
	if err := r.UpdateTokens("slug-a", 1500, &input, &output, domain.ProviderOpenAI, "gpt-4o-mini"); err != nil {
		t.Fatalf("UpdateTokens: %v", err)
	}
	rec, err := r.Get("slug-a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.TokenUsageTotal != 1500 {
		t.Errorf("TokenUsageTotal = %d, want 1500", rec.TokenUsageTotal)
	}
	if rec.EstimatedCost <= 0 {
		t.Error("expected EstimatedCost to be computed")
	}
}

func TestSQLiteListReportsExcludesDeletedByDefault(t *testing.T) {
	r := newTestSQLiteRegistry(t)
	if err := r.AddNew("kept", "Q", "I", false); err != nil {
		t.Fatalf("AddNew: %v", err)
	}
	if err := r.AddNew("gone", "Q", "I", false); err != nil {
		t.Fatalf("AddNew: %v", err)
	}
	if err := r.SetState("gone", domain.StateDeleted); err != nil {
		t.Fatalf("SetState: %v", err)
	}

	visible := r.ListReports(false)
	if len(visible) != 1 || visible[0].Slug != "kept" {
		t.Errorf("ListReports(false) = %+v, want only %q", visible, "kept")
	}
	all := r.ListReports(true)
	if len(all) != 2 {
		t.Errorf("ListReports(true) len = %d, want 2", len(all))
	}
}

func TestSQLiteStageStateDefaultsToPending(t *testing.T) {
	r := newTestSQLiteRegistry(t)
	if err := r.AddNew("slug-a", "Q", "I", false); err != nil {
		t.Fatalf("AddNew: %v", err)
	}
	if got := r.StageState("slug-a", "extraction"); got != domain.StagePending {
		t.Errorf("StageState = %v, want pending", got)
	}
	if err := r.SetStageState("slug-a", "extraction", domain.StageDone); err != nil {
		t.Fatalf("SetStageState: %v", err)
	}
	if got := r.StageState("slug-a", "extraction"); got != domain.StageDone {
		t.Errorf("StageState = %v, want done", got)
	}
}

func TestSQLiteEnrichWithAnalysisReadsReportArtifacts(t *testing.T) {
	r := newTestSQLiteRegistry(t)
	if err := r.AddNew("slug-a", "Q", "I", false); err != nil {
		t.Fatalf("AddNew: %v", err)
	}

	artifactsRoot := t.TempDir()
	r.SetArtifactsRoot(artifactsRoot)
	jobDir := filepath.Join(artifactsRoot, "slug-a")
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	report := `{"arguments":[{"arg_id":"a1"},{"arg_id":"a2"}],"clusters":[{"level":1,"id":"1"},{"level":2,"id":"1-1"}]}`
	if err := os.WriteFile(filepath.Join(jobDir, "hierarchical_result.json"), []byte(report), 0o644); err != nil {
		t.Fatalf("WriteFile report: %v", err)
	}
	relations := "arg_id,comment_id\na1,c1\na2,c2\n"
	if err := os.WriteFile(filepath.Join(jobDir, "relations.csv"), []byte(relations), 0o644); err != nil {
		t.Fatalf("WriteFile relations: %v", err)
	}

	if err := r.EnrichWithAnalysis("slug-a"); err != nil {
		t.Fatalf("EnrichWithAnalysis: %v", err)
	}

	rec, err := r.Get("slug-a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Analysis == nil {
		t.Fatal("Analysis not set")
	}
	if rec.Analysis.ArgumentCount != 2 || rec.Analysis.ClusterCountLevel2 != 1 || rec.Analysis.CommentCount != 2 {
		t.Errorf("Analysis = %+v, want {2, _, 1} shape with CommentCount 2", rec.Analysis)
	}
}
