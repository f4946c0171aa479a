// Package statusmanager implements C10, the Status Manager: a
// process-wide, file-backed registry of job Status records. File I/O is
// atomic (write to a sibling temp file then rename), serialised under a
// single registry-wide lock, with a legacy is_public -> visibility
// converter and a cache-invalidation hook. Grounded on the teacher's
// internal/pairing/store.go writeStore pattern (temp file + rename) and
// internal/status/cost.go for the cost recomputation this registry
// triggers on update_tokens.
package statusmanager

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/opinionlab/hierreport/internal/pricing"
	"github.com/opinionlab/hierreport/pkg/domain"
)

// ErrNotFound is returned when an operation references an unknown slug.
var ErrNotFound = errors.New("statusmanager: job not found")

// Invalidator fires the cache-invalidation hook described in spec §6:
// an HTTP POST with a 3s timeout whose failure is logged, never
// propagated. Implementations must not block past their own timeout.
type Invalidator interface {
	Invalidate(ctx context.Context, slug string) error
}

// NoopInvalidator is used when no REVALIDATE_URL is configured.
type NoopInvalidator struct{}

func (NoopInvalidator) Invalidate(context.Context, string) error { return nil }

// Registry is the JSON file-backed implementation of the Status Manager.
// A single sync.Mutex over the whole registry keeps every operation's
// file I/O bounded and serialised, matching spec §5's "Status Manager
// operations acquire a reentrant lock for the entire registry; they must
// be short" resource policy. Go's sync.Mutex is not itself reentrant, so
// internal helpers that need the lock already held take an unlocked
// variant and public methods take the lock exactly once per call.
type Registry struct {
	mu            sync.Mutex
	path          string
	artifactsRoot string
	records       map[string]*domain.Status
	invalidator   Invalidator
	log           *slog.Logger
	metrics       *Metrics
}

// RegistryOption configures a Registry at construction time.
type RegistryOption func(*Registry)

// WithArtifactsRoot tells the registry where job output directories
// live (<root>/<slug>/...), so EnrichWithAnalysis can locate a job's
// aggregated report without the caller threading a path through.
func WithArtifactsRoot(root string) RegistryOption {
	return func(r *Registry) { r.artifactsRoot = root }
}

// SetMetrics attaches Prometheus observability hooks. Safe to call once
// after New; nil is a valid value and disables metrics again.
func (r *Registry) SetMetrics(m *Metrics) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics = m
}

// New opens (or initializes) the registry file at path.
func New(path string, invalidator Invalidator, log *slog.Logger, opts ...RegistryOption) (*Registry, error) {
	if invalidator == nil {
		invalidator = NoopInvalidator{}
	}
	if log == nil {
		log = slog.Default()
	}
	r := &Registry{path: path, invalidator: invalidator, log: log, records: map[string]*domain.Status{}}
	for _, opt := range opts {
		opt(r)
	}
	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

// load reads the registry file, normalizing any legacy is_public records
// into Visibility in memory. Idempotent: applying it to an
// already-normalized record is a no-op. A missing file is treated as an
// empty registry.
func (r *Registry) load() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loadLocked()
}

func (r *Registry) loadLocked() error {
	data, err := os.ReadFile(r.path)
	if errors.Is(err, os.ErrNotExist) {
		r.records = map[string]*domain.Status{}
		return nil
	}
	if err != nil {
		return fmt.Errorf("statusmanager: read registry: %w", err)
	}

	var raw map[string]*domain.Status
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("statusmanager: parse registry: %w", err)
	}
	for _, rec := range raw {
		normalizeVisibility(rec)
	}
	r.records = raw
	return nil
}

// normalizeVisibility converts a legacy is_public bool into Visibility.
// true -> public, false -> private; the old field is cleared so it is
// never written back out. Safe to call on an already-converted record.
func normalizeVisibility(rec *domain.Status) {
	if rec.IsPublicLegacy == nil {
		return
	}
	if *rec.IsPublicLegacy {
		rec.Visibility = domain.VisibilityPublic
	} else {
		rec.Visibility = domain.VisibilityPrivate
	}
	rec.IsPublicLegacy = nil
}

// persistLocked writes the registry atomically: marshal, write to path+".tmp",
// then rename over path. Caller must hold r.mu.
func (r *Registry) persistLocked() error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("statusmanager: mkdir: %w", err)
	}
	data, err := json.MarshalIndent(r.records, "", "  ")
	if err != nil {
		return fmt.Errorf("statusmanager: marshal registry: %w", err)
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("statusmanager: write temp file: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("statusmanager: rename temp file: %w", err)
	}
	return nil
}

// ListReports returns all non-deleted records unless includeDeleted.
func (r *Registry) ListReports(includeDeleted bool) []domain.Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.Status, 0, len(r.records))
	for _, rec := range r.records {
		if !includeDeleted && rec.State == domain.StateDeleted {
			continue
		}
		out = append(out, *rec)
	}
	return out
}

// Get returns a copy of the record for slug.
func (r *Registry) Get(slug string) (domain.Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[slug]
	if !ok {
		return domain.Status{}, ErrNotFound
	}
	return *rec, nil
}

// AddNew initializes a job's status record as {state=processing,
// visibility=unlisted, created_at=now(UTC), tokens=0, cost=0}, per spec
// §4.10's add_new(slug, title, description, is_pubcom).
func (r *Registry) AddNew(slug, title, description string, isPubcom bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.records[slug] = &domain.Status{
		Slug:        slug,
		State:       domain.StateProcessing,
		Visibility:  domain.VisibilityUnlisted,
		Title:       title,
		Description: description,
		IsPubcom:    isPubcom,
		CreatedAt:   time.Now().UTC(),
	}
	if err := r.persistLocked(); err != nil {
		return err
	}
	r.metrics.observeNew()
	return nil
}

// SetState applies a validated state transition.
func (r *Registry) SetState(slug string, state domain.State) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[slug]
	if !ok {
		return ErrNotFound
	}
	if !rec.State.CanTransitionTo(state) {
		return fmt.Errorf("statusmanager: invalid transition %s -> %s for %s", rec.State, state, slug)
	}
	rec.State = state
	if err := r.persistLocked(); err != nil {
		return err
	}
	if state == domain.StateReady || state == domain.StateError {
		r.metrics.observeTerminal(state)
	}
	return nil
}

// SetVisibility writes visibility then fires the cache-invalidation
// hook. A failed invalidation is logged, never propagated (spec §4.10).
func (r *Registry) SetVisibility(ctx context.Context, slug string, v domain.Visibility) error {
	r.mu.Lock()
	rec, ok := r.records[slug]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	rec.Visibility = v
	err := r.persistLocked()
	r.mu.Unlock()
	if err != nil {
		return err
	}

	invalidateCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := r.invalidator.Invalidate(invalidateCtx, slug); err != nil {
		r.log.Warn("statusmanager: cache invalidation failed", "slug", slug, "error", err)
	}
	return nil
}

// UpdateTokens partially updates token counters; when input, output,
// provider, and model are all present it recomputes estimated cost via
// the Pricing Oracle.
func (r *Registry) UpdateTokens(slug string, total int64, input, output *int64, provider domain.Provider, model string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[slug]
	if !ok {
		return ErrNotFound
	}
	rec.TokenUsageTotal = total
	if input != nil {
		rec.TokenUsageInput = *input
	}
	if output != nil {
		rec.TokenUsageOutput = *output
	}
	if input != nil && output != nil && provider != "" && model != "" {
		rec.Provider = provider
		rec.Model = model
		rec.EstimatedCost = pricing.Cost(provider, model, *input, *output)
		r.metrics.observeTokens(provider, *input, *output)
	}
	return r.persistLocked()
}

// UpdateConfig mutates title/description and invalidates the cache.
func (r *Registry) UpdateConfig(ctx context.Context, slug string, question, intro *string) error {
	r.mu.Lock()
	rec, ok := r.records[slug]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	if question != nil {
		rec.Title = *question
	}
	if intro != nil {
		rec.Description = *intro
	}
	err := r.persistLocked()
	r.mu.Unlock()
	if err != nil {
		return err
	}

	invalidateCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := r.invalidator.Invalidate(invalidateCtx, slug); err != nil {
		r.log.Warn("statusmanager: cache invalidation failed", "slug", slug, "error", err)
	}
	return nil
}

// EnrichWithAnalysis implements spec §4.10's enrich_with_analysis(report):
// it reads the job's aggregated report artifact (hierarchical_result.json)
// and comment/argument sidecar, and attaches an AnalysisSummary to the
// record so a client can render headline counts without downloading the
// full report. Requires the registry to have been built with
// WithArtifactsRoot; returns an error otherwise.
func (r *Registry) EnrichWithAnalysis(slug string) error {
	if r.artifactsRoot == "" {
		return fmt.Errorf("statusmanager: enrich_with_analysis: registry has no artifacts root configured")
	}
	summary, err := loadAnalysisSummary(filepath.Join(r.artifactsRoot, slug))
	if err != nil {
		return fmt.Errorf("statusmanager: enrich_with_analysis: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[slug]
	if !ok {
		return ErrNotFound
	}
	rec.Analysis = &summary
	return r.persistLocked()
}

// loadAnalysisSummary reads the counts enrich_with_analysis needs out of
// a job's output directory: argument and top-level-2 cluster counts from
// the aggregated report, and the distinct comment count from the
// extraction-stage relations sidecar (comments are only embedded in the
// report itself for pubcom jobs, so the report alone can't be relied on
// for comment_num).
func loadAnalysisSummary(jobDir string) (domain.AnalysisSummary, error) {
	var summary domain.AnalysisSummary

	reportData, err := os.ReadFile(filepath.Join(jobDir, "hierarchical_result.json"))
	if err != nil {
		return summary, fmt.Errorf("read report: %w", err)
	}
	var report struct {
		Arguments []json.RawMessage `json:"arguments"`
		Clusters  []struct {
			Level int `json:"level"`
		} `json:"clusters"`
	}
	if err := json.Unmarshal(reportData, &report); err != nil {
		return summary, fmt.Errorf("parse report: %w", err)
	}
	summary.ArgumentCount = len(report.Arguments)
	for _, c := range report.Clusters {
		if c.Level == 2 {
			summary.ClusterCountLevel2++
		}
	}

	commentCount, err := countDistinctComments(filepath.Join(jobDir, "relations.csv"))
	if err != nil {
		return summary, fmt.Errorf("read relations: %w", err)
	}
	summary.CommentCount = commentCount
	return summary, nil
}

func countDistinctComments(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return 0, err
	}
	seen := make(map[string]struct{}, len(rows))
	for _, row := range rows[1:] { // skip header
		if len(row) > 1 {
			seen[row[1]] = struct{}{}
		}
	}
	return len(seen), nil
}

// SetCurrentStep records the stage currently running, or "completed"
// at pipeline end, mirroring the Stage Runtime's status writes.
func (r *Registry) SetCurrentStep(slug, step string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[slug]
	if !ok {
		return ErrNotFound
	}
	rec.CurrentStep = step
	return r.persistLocked()
}

// SetError records the short reason for a stage failure and flips state
// to error.
func (r *Registry) SetError(slug, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[slug]
	if !ok {
		return ErrNotFound
	}
	rec.Error = reason
	rec.State = domain.StateError
	return r.persistLocked()
}

// StageState returns stage's recorded state, defaulting to pending when
// the job or stage has no record yet.
func (r *Registry) StageState(slug, stage string) domain.StageState {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[slug]
	if !ok || rec.Stages == nil {
		return domain.StagePending
	}
	st, ok := rec.Stages[stage]
	if !ok {
		return domain.StagePending
	}
	return st
}

// SetStageState records stage's state for slug, persisting the change.
func (r *Registry) SetStageState(slug, stage string, state domain.StageState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[slug]
	if !ok {
		return ErrNotFound
	}
	if rec.Stages == nil {
		rec.Stages = map[string]domain.StageState{}
	}
	rec.Stages[stage] = state
	return r.persistLocked()
}
