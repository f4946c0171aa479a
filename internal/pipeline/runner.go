// Package pipeline implements C3, the Stage Runtime: it runs a job's
// stages in strict sequential order, enforcing resume/force/only
// semantics, recording per-stage status, and converting any stage
// failure into a job-level error that aborts the run. Grounded on the
// teacher's sequential command-dispatch shape in cmd/nexus's root
// command (one step at a time, status written after each), generalized
// here to the stage list spec §2/§4.3 name.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/opinionlab/hierreport/internal/observability"
	"github.com/opinionlab/hierreport/internal/statusmanager"
	"github.com/opinionlab/hierreport/pkg/domain"
)

// Runner drives a single job's stages through the Status Manager.
type Runner struct {
	registry *statusmanager.Registry
	slug     string
	only     string // empty means run every stage
	force    bool
	provider domain.Provider
	model    string
	tracer   *observability.Tracer
	ctx      context.Context
	log      *slog.Logger
}

// SetTracer attaches a distributed-tracing hook and the context its
// spans should nest under; RunStep wraps each stage in a span when set.
// Nil tracer (the default) disables tracing.
func (r *Runner) SetTracer(ctx context.Context, t *observability.Tracer) {
	r.ctx = ctx
	r.tracer = t
}

// NewRunner builds a Runner for slug. only, when non-empty, restricts
// execution to the single named stage (spec's `--only <name>`); force
// re-runs a stage already marked done. provider/model are the job's
// configured LLM backend, known at load time, recorded onto every
// token-usage update so the Pricing Oracle (C12) has what it needs to
// compute Status.estimated_cost.
func NewRunner(registry *statusmanager.Registry, slug, only string, force bool, provider domain.Provider, model string, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{registry: registry, slug: slug, only: only, force: force, provider: provider, model: model, log: log}
}

// StageFunc does the stage's actual work. A returned error aborts the
// pipeline; TokenUsage is added to the job's running total regardless
// of whether the stage returned an error, since partial work may still
// have billed tokens.
type StageFunc func() (domain.TokenUsage, error)

// RunStep implements spec §4.3's run_step(name, fn, config) contract.
func (r *Runner) RunStep(name string, skip bool, fn StageFunc) error {
	if r.only != "" && name != r.only {
		return r.markSkipped(name)
	}
	if skip {
		return r.markSkipped(name)
	}
	if !r.force && r.registry.StageState(r.slug, name) == domain.StageDone {
		r.log.Info("pipeline: stage already done, skipping", "slug", r.slug, "stage", name)
		return nil
	}

	if err := r.registry.SetStageState(r.slug, name, domain.StageRunning); err != nil {
		return fmt.Errorf("pipeline: record running state for %s: %w", name, err)
	}
	if err := r.registry.SetCurrentStep(r.slug, name); err != nil {
		return fmt.Errorf("pipeline: record current step %s: %w", name, err)
	}

	var span trace.Span
	if r.tracer != nil {
		_, span = r.tracer.StartStage(r.ctx, r.slug, name)
	}

	start := time.Now()
	usage, err := fn()
	elapsed := time.Since(start)

	if span != nil {
		r.tracer.RecordError(span, err)
		span.End()
	}

	if usage != (domain.TokenUsage{}) {
		if tokErr := r.addTokenUsage(usage); tokErr != nil {
			r.log.Error("pipeline: failed to record token usage", "slug", r.slug, "stage", name, "error", tokErr)
		}
	}

	if err != nil {
		r.log.Error("pipeline: stage failed", "slug", r.slug, "stage", name, "elapsed", elapsed, "error", err)
		if setErr := r.registry.SetStageState(r.slug, name, domain.StageError); setErr != nil {
			r.log.Error("pipeline: failed to record stage error state", "slug", r.slug, "stage", name, "error", setErr)
		}
		if setErr := r.registry.SetError(r.slug, shortReason(err)); setErr != nil {
			r.log.Error("pipeline: failed to record job error", "slug", r.slug, "error", setErr)
		}
		return err
	}

	r.log.Info("pipeline: stage done", "slug", r.slug, "stage", name, "elapsed", elapsed)
	return r.registry.SetStageState(r.slug, name, domain.StageDone)
}

// Complete marks the job's current_step as "completed", per spec
// §4.3's end-of-pipeline marker, and flips the job to ready.
func (r *Runner) Complete() error {
	if err := r.registry.SetCurrentStep(r.slug, "completed"); err != nil {
		return err
	}
	return r.registry.SetState(r.slug, domain.StateReady)
}

func (r *Runner) markSkipped(name string) error {
	r.log.Info("pipeline: stage skipped", "slug", r.slug, "stage", name)
	return r.registry.SetStageState(r.slug, name, domain.StageSkipped)
}

func (r *Runner) addTokenUsage(usage domain.TokenUsage) error {
	status, err := r.registry.Get(r.slug)
	if err != nil {
		return err
	}
	total := domain.TokenUsage{Input: status.TokenUsageInput, Output: status.TokenUsageOutput, Total: status.TokenUsageTotal}
	total.Add(usage)
	input, output := total.Input, total.Output
	return r.registry.UpdateTokens(r.slug, total.Total, &input, &output, r.provider, r.model)
}

// shortReason truncates an error's message to a status-file-friendly
// length; the full error is already in the log line above.
func shortReason(err error) string {
	msg := err.Error()
	const max = 280
	if len(msg) > max {
		return msg[:max] + "..."
	}
	return msg
}
