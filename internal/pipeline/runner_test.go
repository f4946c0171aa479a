package pipeline

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/opinionlab/hierreport/internal/statusmanager"
	"github.com/opinionlab/hierreport/pkg/domain"
)

func newTestRunner(t *testing.T, only string, force bool) (*Runner, *statusmanager.Registry) {
	t.Helper()
	dir := t.TempDir()
	reg, err := statusmanager.New(filepath.Join(dir, "status.json"), nil, nil)
	if err != nil {
		t.Fatalf("New registry: %v", err)
	}
	if err := reg.AddNew("job-1", "Q", "I", false); err != nil {
		t.Fatalf("AddNew: %v", err)
	}
	return NewRunner(reg, "job-1", only, force, domain.ProviderOpenAI, "gpt-4o-mini", nil), reg
}

func TestRunStepRunsAndMarksDone(t *testing.T) {
	r, reg := newTestRunner(t, "", false)
	ran := false
	err := r.RunStep("extraction", false, func() (domain.TokenUsage, error) {
		ran = true
		return domain.TokenUsage{Input: 10, Output: 5, Total: 15}, nil
	})
	if err != nil {
		t.Fatalf("RunStep: %v", err)
	}
	if !ran {
		t.Fatal("stage function never called")
	}
	if got := reg.StageState("job-1", "extraction"); got != domain.StageDone {
		t.Errorf("StageState = %v, want done", got)
	}
	status, _ := reg.Get("job-1")
	if status.TokenUsageTotal != 15 {
		t.Errorf("TokenUsageTotal = %d, want 15", status.TokenUsageTotal)
	}
}

func TestRunStepSkipsWhenAlreadyDoneWithoutForce(t *testing.T) {
	r, reg := newTestRunner(t, "", false)
	calls := 0
	run := func() (domain.TokenUsage, error) {
		calls++
		return domain.TokenUsage{}, nil
	}
	if err := r.RunStep("embedding", false, run); err != nil {
		t.Fatalf("first RunStep: %v", err)
	}
	if err := r.RunStep("embedding", false, run); err != nil {
		t.Fatalf("second RunStep: %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (second run should be skipped)", calls)
	}
	_ = reg
}

func TestRunStepForceReruns(t *testing.T) {
	r, reg := newTestRunner(t, "", true)
	calls := 0
	run := func() (domain.TokenUsage, error) {
		calls++
		return domain.TokenUsage{}, nil
	}
	if err := r.RunStep("embedding", false, run); err != nil {
		t.Fatalf("first RunStep: %v", err)
	}
	if err := r.RunStep("embedding", false, run); err != nil {
		t.Fatalf("second RunStep: %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2 (force should re-run)", calls)
	}
	_ = reg
}

func TestRunStepOnlyRestrictsToOneStage(t *testing.T) {
	r, reg := newTestRunner(t, "clustering", false)
	extractionCalled := false
	if err := r.RunStep("extraction", false, func() (domain.TokenUsage, error) {
		extractionCalled = true
		return domain.TokenUsage{}, nil
	}); err != nil {
		t.Fatalf("RunStep extraction: %v", err)
	}
	if extractionCalled {
		t.Error("extraction should have been skipped due to --only clustering")
	}
	if got := reg.StageState("job-1", "extraction"); got != domain.StageSkipped {
		t.Errorf("StageState = %v, want skipped", got)
	}

	clusteringCalled := false
	if err := r.RunStep("clustering", false, func() (domain.TokenUsage, error) {
		clusteringCalled = true
		return domain.TokenUsage{}, nil
	}); err != nil {
		t.Fatalf("RunStep clustering: %v", err)
	}
	if !clusteringCalled {
		t.Error("clustering should have run")
	}
}

func TestRunStepConfigSkipWritesSkippedMarker(t *testing.T) {
	r, reg := newTestRunner(t, "", false)
	called := false
	if err := r.RunStep("overview", true, func() (domain.TokenUsage, error) {
		called = true
		return domain.TokenUsage{}, nil
	}); err != nil {
		t.Fatalf("RunStep: %v", err)
	}
	if called {
		t.Error("stage function should not run when skip=true")
	}
	if got := reg.StageState("job-1", "overview"); got != domain.StageSkipped {
		t.Errorf("StageState = %v, want skipped", got)
	}
}

func TestRunStepFailureSetsErrorAndAborts(t *testing.T) {
	r, reg := newTestRunner(t, "", false)
	boom := errors.New("boom")
	err := r.RunStep("extraction", false, func() (domain.TokenUsage, error) {
		return domain.TokenUsage{}, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if got := reg.StageState("job-1", "extraction"); got != domain.StageError {
		t.Errorf("StageState = %v, want error", got)
	}
	status, _ := reg.Get("job-1")
	if status.State != domain.StateError {
		t.Errorf("job State = %v, want error", status.State)
	}
	if status.Error == "" {
		t.Error("status.Error should be populated")
	}
}

func TestCompleteSetsReadyAndCurrentStep(t *testing.T) {
	r, reg := newTestRunner(t, "", false)
	if err := r.Complete(); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	status, _ := reg.Get("job-1")
	if status.State != domain.StateReady {
		t.Errorf("State = %v, want ready", status.State)
	}
	if status.CurrentStep != "completed" {
		t.Errorf("CurrentStep = %q, want completed", status.CurrentStep)
	}
}
