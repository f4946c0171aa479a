package statusmanager

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/opinionlab/hierreport/pkg/domain"
)

func newTestRegistry(t *testing.T) (*Registry, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "status.json")
	r, err := New(path, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r, path
}

func TestAddNewInitialState(t *testing.T) {
	r, _ := newTestRegistry(t)
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
	if rec.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}
}

func TestPersistLoadRoundTrip(t *testing.T) {
	r, path := newTestRegistry(t)
	if err := r.AddNew("slug-a", "Q", "I", false); err != nil {
		t.Fatalf("AddNew: %v", err)
	}
	if err := r.SetState("slug-a", domain.StateReady); err != nil {
		t.Fatalf("SetState: %v", err)
	}

	r2, err := New(path, nil, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	rec, err := r2.Get("slug-a")
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if rec.State != domain.StateReady {
		t.Errorf("State after reload = %v, want ready", rec.State)
	}

	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temp file left behind: %v", err)
	}
}

func TestSetStateValidatesTransition(t *testing.T) {
	r, _ := newTestRegistry(t)
	if err := r.AddNew("slug-a", "Q", "I", false); err != nil {
		t.Fatalf("AddNew: %v", err)
	}
	if err := r.SetState("slug-a", domain.StateDeleted); err != nil {
		t.Fatalf("processing->deleted should be valid: %v", err)
	}
	if err := r.SetState("slug-a", domain.StateReady); err == nil {
		t.Error("deleted->ready should be rejected")
	}
}

func TestSetStateUnknownSlug(t *testing.T) {
	r, _ := newTestRegistry(t)
	if err := r.SetState("missing", domain.StateReady); err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

// TestNormalizeVisibilityIdempotent exercises spec §8's property: applying
// the legacy is_public conversion twice equals applying it once, and
// records with no is_public key are left unchanged.
func TestNormalizeVisibilityIdempotent(t *testing.T) {
	truthy := true
	rec := &domain.Status{Slug: "a", Visibility: domain.VisibilityPrivate, IsPublicLegacy: &truthy}
	normalizeVisibility(rec)
	if rec.Visibility != domain.VisibilityPublic {
		t.Fatalf("Visibility = %v, want public", rec.Visibility)
	}
	if rec.IsPublicLegacy != nil {
		t.Fatalf("IsPublicLegacy not cleared")
	}

	once := rec.Visibility
	normalizeVisibility(rec)
	if rec.Visibility != once {
		t.Fatalf("second normalize changed Visibility: %v -> %v", once, rec.Visibility)
	}

	noLegacy := &domain.Status{Slug: "b", Visibility: domain.VisibilityUnlisted}
	normalizeVisibility(noLegacy)
	if noLegacy.Visibility != domain.VisibilityUnlisted {
		t.Fatalf("record without is_public was mutated: %v", noLegacy.Visibility)
	}
}

func TestLoadConvertsLegacyIsPublicOnDisk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "status.json")
	raw := map[string]json.RawMessage{
		"slug-a": json.RawMessage(`{"slug":"slug-a","state":"ready","visibility":"private","is_public":true}`),
	}
	data, err := json.Marshal(raw)
	if err != nil {
		t.Fatalf("marshal fixture: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	r, err := New(path, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rec, err := r.Get("slug-a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Visibility != domain.VisibilityPublic {
		t.Errorf("Visibility = %v, want public", rec.Visibility)
	}
	if rec.IsPublicLegacy != nil {
		t.Errorf("IsPublicLegacy should be cleared in memory")
	}
}

type fakeInvalidator struct {
	calls []string
	err   error
}

func (f *fakeInvalidator) Invalidate(ctx context.Context, slug string) error {
	f.calls = append(f.calls, slug)
	return f.err
}

func TestSetVisibilityFiresInvalidator(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "status.json")
	inv := &fakeInvalidator{}
	r, err := New(path, inv, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := r.AddNew("slug-a", "Q", "I", false); err != nil {
		t.Fatalf("AddNew: %v", err)
	}
	if err := r.SetVisibility(context.Background(), "slug-a", domain.VisibilityPublic); err != nil {
		t.Fatalf("SetVisibility: %v", err)
	}
	if len(inv.calls) != 1 || inv.calls[0] != "slug-a" {
		t.Errorf("calls = %v, want exactly one call for slug-a", inv.calls)
	}
	rec, _ := r.Get("slug-a")
	if rec.Visibility != domain.VisibilityPublic {
		t.Errorf("Visibility = %v, want public", rec.Visibility)
	}
}

func TestSetVisibilityInvalidationFailureDoesNotPropagate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "status.json")
	inv := &fakeInvalidator{err: context.DeadlineExceeded}
	r, err := New(path, inv, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := r.AddNew("slug-a", "Q", "I", false); err != nil {
		t.Fatalf("AddNew: %v", err)
	}
	if err := r.SetVisibility(context.Background(), "slug-a", domain.VisibilityPublic); err != nil {
		t.Fatalf("SetVisibility should not propagate invalidation failure: %v", err)
	}
}

func TestUpdateTokensRecomputesCostWhenComplete(t *testing.T) {
	r, _ := newTestRegistry(t)
	if err := r.AddNew("slug-a", "Q", "I", false); err != nil {
		t.Fatalf("AddNew: %v", err)
	}
	input, output := int64(1000), int64(500)
	if err := r.UpdateTokens("slug-a", 1500, &input, &output, domain.ProviderOpenAI, "gpt-4o-mini"); err != nil {
		t.Fatalf("UpdateTokens: %v", err)
	}
	rec, _ := r.Get("slug-a")
	if rec.TokenUsageTotal != 1500 {
		t.Errorf("TokenUsageTotal = %d, want 1500", rec.TokenUsageTotal)
	}
	if rec.EstimatedCost <= 0 {
		t.Errorf("EstimatedCost = %v, want > 0", rec.EstimatedCost)
	}
}

func TestUpdateTokensPartialLeavesCostUntouched(t *testing.T) {
	r, _ := newTestRegistry(t)
	if err := r.AddNew("slug-a", "Q", "I", false); err != nil {
		t.Fatalf("AddNew: %v", err)
	}
	if err := r.UpdateTokens("slug-a", 42, nil, nil, "", ""); err != nil {
		t.Fatalf("UpdateTokens: %v", err)
	}
	rec, _ := r.Get("slug-a")
	if rec.TokenUsageTotal != 42 {
		t.Errorf("TokenUsageTotal = %d, want 42", rec.TokenUsageTotal)
	}
	if rec.EstimatedCost != 0 {
		t.Errorf("EstimatedCost = %v, want 0 (no provider/model given)", rec.EstimatedCost)
	}
}

func TestSetErrorSetsStateAndReason(t *testing.T) {
	r, _ := newTestRegistry(t)
	if err := r.AddNew("slug-a", "Q", "I", false); err != nil {
		t.Fatalf("AddNew: %v", err)
	}
	if err := r.SetError("slug-a", "boom"); err != nil {
		t.Fatalf("SetError: %v", err)
	}
	rec, _ := r.Get("slug-a")
	if rec.State != domain.StateError || rec.Error != "boom" {
		t.Errorf("rec = %+v, want state=error error=boom", rec)
	}
}

func TestListReportsExcludesDeletedByDefault(t *testing.T) {
	r, _ := newTestRegistry(t)
	if err := r.AddNew("a", "Q", "I", false); err != nil {
		t.Fatalf("AddNew: %v", err)
	}
	if err := r.AddNew("b", "Q", "I", false); err != nil {
		t.Fatalf("AddNew: %v", err)
	}
	if err := r.SetState("b", domain.StateDeleted); err != nil {
		t.Fatalf("SetState: %v", err)
	}

	visible := r.ListReports(false)
	if len(visible) != 1 || visible[0].Slug != "a" {
		t.Errorf("ListReports(false) = %+v, want only slug a", visible)
	}

	all := r.ListReports(true)
	if len(all) != 2 {
		t.Errorf("ListReports(true) = %+v, want both records", all)
	}
}

func TestEnrichWithAnalysisReadsReportArtifacts(t *testing.T) {
	artifactsRoot := t.TempDir()
	path := filepath.Join(t.TempDir(), "status.json")
	r, err := New(path, nil, nil, WithArtifactsRoot(artifactsRoot))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := r.AddNew("slug-a", "Q", "I", false); err != nil {
		t.Fatalf("AddNew: %v", err)
	}

	jobDir := filepath.Join(artifactsRoot, "slug-a")
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	report := `{"arguments":[{"arg_id":"a1"},{"arg_id":"a2"},{"arg_id":"a3"}],"clusters":[{"level":1,"id":"1"},{"level":2,"id":"1-1"},{"level":2,"id":"1-2"}]}`
	if err := os.WriteFile(filepath.Join(jobDir, "hierarchical_result.json"), []byte(report), 0o644); err != nil {
		t.Fatalf("WriteFile report: %v", err)
	}
	relations := "arg_id,comment_id\na1,c1\na2,c1\na3,c2\n"
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
	if rec.Analysis.ArgumentCount != 3 {
		t.Errorf("ArgumentCount = %d, want 3", rec.Analysis.ArgumentCount)
	}
	if rec.Analysis.ClusterCountLevel2 != 2 {
		t.Errorf("ClusterCountLevel2 = %d, want 2", rec.Analysis.ClusterCountLevel2)
	}
	if rec.Analysis.CommentCount != 2 {
		t.Errorf("CommentCount = %d, want 2", rec.Analysis.CommentCount)
	}
}

func TestEnrichWithAnalysisWithoutArtifactsRootFails(t *testing.T) {
	r, _ := newTestRegistry(t)
	if err := r.AddNew("slug-a", "Q", "I", false); err != nil {
		t.Fatalf("AddNew: %v", err)
	}
	if err := r.EnrichWithAnalysis("slug-a"); err == nil {
		t.Error("EnrichWithAnalysis: expected error when no artifacts root is configured")
	}
}
