// Package launcher implements C11: given a job request, it records the
// job with the Status Manager, materialises its Config and input corpus
// to a working directory, spawns the pipeline binary as a child
// process, and watches its exit in a background goroutine to flip the
// job's final state. Grounded on spec §4.11 and the teacher's
// internal/tools/exec/manager.go background-process pattern (a process
// struct with a done channel closed from the cmd.Wait goroutine).
package launcher

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/opinionlab/hierreport/internal/statusmanager"
	"github.com/opinionlab/hierreport/pkg/domain"
)

// pipelineResult is the shape of the pipeline's own final status file,
// read back by the Launcher on clean exit to push totals into the
// Status Manager, per spec §4.11 step 4.
type pipelineResult struct {
	TokenUsageInput  int64           `json:"token_usage_input"`
	TokenUsageOutput int64           `json:"token_usage_output"`
	TokenUsageTotal  int64           `json:"token_usage_total"`
	Provider         domain.Provider `json:"provider"`
	Model            string          `json:"model"`
}

// OutputSync pushes a completed job's output directory to external
// storage, the step spec §4.11 step 4 names explicitly. internal/artifacts
// provides an S3-compatible implementation; a no-op default is used when
// no destination is configured.
type OutputSync interface {
	Sync(ctx context.Context, slug, dir string) error
}

// NoopOutputSync performs no synchronization.
type NoopOutputSync struct{}

func (NoopOutputSync) Sync(context.Context, string, string) error { return nil }

// Tracing carries the operator's OTLP exporter settings down to the
// spawned pipeline process as environment variables, since the
// pipeline binary runs in its own process and can't share the
// control plane's in-memory observability.Tracer. Endpoint empty
// means the pipeline falls back to its own OTEL_EXPORTER_OTLP_ENDPOINT
// lookup (or stays a no-op tracer if that's unset too).
type Tracing struct {
	Endpoint       string
	ServiceName    string
	SamplingRate   float64
	EnableInsecure bool
}

// Launcher owns the working directory layout, the pipeline binary
// path, and the PID-file convention the Status Manager's Reconciler
// reads (internal/statusmanager.PIDFile).
type Launcher struct {
	registry       statusmanager.Store
	workDir        string
	pipelineBinary string
	sync           OutputSync
	tracing        Tracing
	log            *slog.Logger
}

// Option configures a Launcher at construction time.
type Option func(*Launcher)

// WithOutputSync overrides the default no-op output sync.
func WithOutputSync(s OutputSync) Option {
	return func(l *Launcher) { l.sync = s }
}

// WithTracing propagates the operator's OTLP exporter settings to
// every pipeline process this Launcher spawns.
func WithTracing(t Tracing) Option {
	return func(l *Launcher) { l.tracing = t }
}

// WithLogger overrides the default slog.Default() logger.
func WithLogger(log *slog.Logger) Option {
	return func(l *Launcher) { l.log = log }
}

// New builds a Launcher that spawns pipelineBinary under workDir/<slug>
// per job, updating registry as jobs progress.
func New(registry statusmanager.Store, workDir, pipelineBinary string, opts ...Option) *Launcher {
	l := &Launcher{
		registry:       registry,
		workDir:        workDir,
		pipelineBinary: pipelineBinary,
		sync:           NoopOutputSync{},
		log:            slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Request is a caller-supplied job request, materialised into a
// working directory and handed to the pipeline subprocess.
type Request struct {
	Slug     string
	Config   domain.Config
	Comments []domain.Comment
	// APIKey is the caller-scoped credential for Config.Provider,
	// passed to the child process via environment, never logged or
	// persisted to the status registry.
	APIKey string
}

// JobHandle lets a caller wait for, poll, or cancel a launched job.
type JobHandle struct {
	slug     string
	cmd      *exec.Cmd
	done     chan struct{}
	exitErr  error
	registry statusmanager.Store
}

// Wait blocks until the pipeline process exits and the Launcher has
// finished updating the Status Manager.
func (h *JobHandle) Wait() error {
	<-h.done
	return h.exitErr
}

// Cancel terminates the pipeline process. The background monitor still
// runs and will record the resulting non-zero exit as an error state.
func (h *JobHandle) Cancel() error {
	if h.cmd.Process == nil {
		return nil
	}
	return h.cmd.Process.Kill()
}

// StatusStream polls the Status Manager for slug until the job reaches
// a terminal state (ready, error, or deleted), sending each observed
// Status on the returned channel. The channel is closed once a
// terminal state is observed or ctx is done. This is the interface the
// out-of-scope HTTP layer would consume for progress streaming (spec
// §1's "streaming per-stage progress").
func (h *JobHandle) StatusStream(ctx context.Context, pollInterval time.Duration) <-chan domain.Status {
	out := make(chan domain.Status)
	go func() {
		defer close(out)
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				status, err := h.registry.Get(h.slug)
				if err != nil {
					return
				}
				select {
				case out <- status:
				case <-ctx.Done():
					return
				}
				if status.State != domain.StateProcessing {
					return
				}
			}
		}
	}()
	return out
}

// PIDPath returns the PID-file path a Reconciler should watch for slug,
// matching the convention Launch writes to.
func (l *Launcher) PIDPath(slug string) string {
	return filepath.Join(l.jobDir(slug), "pipeline.pid")
}

func (l *Launcher) jobDir(slug string) string {
	return filepath.Join(l.workDir, slug)
}

// Launch materialises req and spawns the pipeline subprocess, per spec
// §4.11 steps 1-4.
func (l *Launcher) Launch(ctx context.Context, req Request) (*JobHandle, error) {
	if err := l.registry.AddNew(req.Slug, req.Config.Question, req.Config.Intro, req.Config.IsPubcom); err != nil {
		return nil, fmt.Errorf("launcher: add_new: %w", err)
	}

	jobDir := l.jobDir(req.Slug)
	configPath, err := l.materialize(jobDir, req.Config, req.Comments)
	if err != nil {
		_ = l.registry.SetError(req.Slug, err.Error())
		return nil, err
	}

	cmd := exec.CommandContext(ctx, l.pipelineBinary, configPath, "--skip-interaction", "--without-html")
	cmd.Dir = jobDir
	cmd.Env = append(os.Environ(), credentialEnv(req.Config.Provider, req.APIKey)...)
	cmd.Env = append(cmd.Env, tracingEnv(l.tracing)...)

	if err := cmd.Start(); err != nil {
		_ = l.registry.SetError(req.Slug, fmt.Sprintf("spawn pipeline: %v", err))
		return nil, fmt.Errorf("launcher: start pipeline: %w", err)
	}
	if err := l.writePID(req.Slug, cmd.Process.Pid); err != nil {
		l.log.Warn("launcher: failed to write pid file", "slug", req.Slug, "error", err)
	}

	handle := &JobHandle{slug: req.Slug, cmd: cmd, done: make(chan struct{}), registry: l.registry}
	go l.monitor(req.Slug, jobDir, handle)
	return handle, nil
}

// ExecuteAggregation re-runs only the aggregation stage (`-o
// hierarchical_aggregation`) for an existing job, per spec §4.11's
// restricted variant used after metadata edits.
func (l *Launcher) ExecuteAggregation(ctx context.Context, slug string) (*JobHandle, error) {
	jobDir := l.jobDir(slug)
	configPath := filepath.Join(jobDir, "config.json")
	if _, err := os.Stat(configPath); err != nil {
		return nil, fmt.Errorf("launcher: execute_aggregation: no existing job config for %s: %w", slug, err)
	}

	cmd := exec.CommandContext(ctx, l.pipelineBinary, configPath, "-o", "hierarchical_aggregation", "--skip-interaction", "--without-html")
	cmd.Dir = jobDir
	cmd.Env = append(os.Environ(), tracingEnv(l.tracing)...)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("launcher: start aggregation re-run: %w", err)
	}
	if err := l.writePID(slug, cmd.Process.Pid); err != nil {
		l.log.Warn("launcher: failed to write pid file", "slug", slug, "error", err)
	}

	handle := &JobHandle{slug: slug, cmd: cmd, done: make(chan struct{}), registry: l.registry}
	go l.monitor(slug, jobDir, handle)
	return handle, nil
}

func (l *Launcher) monitor(slug, jobDir string, handle *JobHandle) {
	defer close(handle.done)
	err := handle.cmd.Wait()
	handle.exitErr = err

	if err != nil {
		l.log.Warn("launcher: pipeline exited with error", "slug", slug, "error", err)
		if setErr := l.registry.SetError(slug, err.Error()); setErr != nil {
			l.log.Error("launcher: failed to record error state", "slug", slug, "error", setErr)
		}
		return
	}

	result, readErr := readPipelineResult(jobDir)
	if readErr != nil {
		l.log.Error("launcher: failed to read pipeline result", "slug", slug, "error", readErr)
		_ = l.registry.SetError(slug, "pipeline exited 0 but produced no readable status")
		return
	}
	if updateErr := l.registry.UpdateTokens(slug, result.TokenUsageTotal, &result.TokenUsageInput, &result.TokenUsageOutput, result.Provider, result.Model); updateErr != nil {
		l.log.Error("launcher: failed to update tokens", "slug", slug, "error", updateErr)
	}
	if setErr := l.registry.SetState(slug, domain.StateReady); setErr != nil {
		l.log.Error("launcher: failed to set ready state", "slug", slug, "error", setErr)
		return
	}
	if enrichErr := l.registry.EnrichWithAnalysis(slug); enrichErr != nil {
		l.log.Warn("launcher: enrich_with_analysis failed", "slug", slug, "error", enrichErr)
	}
	if syncErr := l.sync.Sync(context.Background(), slug, jobDir); syncErr != nil {
		l.log.Warn("launcher: output sync failed", "slug", slug, "error", syncErr)
	}
}

func readPipelineResult(jobDir string) (pipelineResult, error) {
	data, err := os.ReadFile(filepath.Join(jobDir, "status.json"))
	if err != nil {
		return pipelineResult{}, err
	}
	var result pipelineResult
	if err := json.Unmarshal(data, &result); err != nil {
		return pipelineResult{}, err
	}
	return result, nil
}

func (l *Launcher) writePID(slug string, pid int) error {
	return os.WriteFile(l.PIDPath(slug), []byte(fmt.Sprintf("%d", pid)), 0o644)
}

// materialize writes req's Config and input comments to jobDir, per
// spec §4.11 step 2, and returns the config file's path.
func (l *Launcher) materialize(jobDir string, cfg domain.Config, comments []domain.Comment) (string, error) {
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return "", fmt.Errorf("launcher: mkdir job dir: %w", err)
	}

	configPath := filepath.Join(jobDir, "config.json")
	configData, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("launcher: marshal config: %w", err)
	}
	if err := os.WriteFile(configPath, configData, 0o644); err != nil {
		return "", fmt.Errorf("launcher: write config: %w", err)
	}

	if err := writeCommentsCSV(filepath.Join(jobDir, "input.csv"), comments); err != nil {
		return "", fmt.Errorf("launcher: write input csv: %w", err)
	}
	return configPath, nil
}

func writeCommentsCSV(path string, comments []domain.Comment) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"comment_id", "body", "url", "source"}); err != nil {
		return err
	}
	for _, c := range comments {
		if err := w.Write([]string{c.CommentID, c.Body, c.URL, c.Source}); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// credentialEnv builds the USER_API_KEY and provider-specific
// environment variables the spawned pipeline reads its credentials
// from, per spec §4.11 step 3.
func credentialEnv(provider domain.Provider, apiKey string) []string {
	env := []string{"USER_API_KEY=" + apiKey}
	if name := providerEnvVar(provider); name != "" {
		env = append(env, name+"="+apiKey)
	}
	return env
}

// tracingEnv translates t into the OTEL_EXPORTER_OTLP_ENDPOINT
// convention the pipeline binary's own observability.NewTracer reads,
// plus the service-name/sampling overrides it also honors. Returns nil
// when t.Endpoint is empty, leaving the pipeline's own env lookup (or
// no-op fallback) untouched.
func tracingEnv(t Tracing) []string {
	if t.Endpoint == "" {
		return nil
	}
	env := []string{"OTEL_EXPORTER_OTLP_ENDPOINT=" + t.Endpoint}
	if t.ServiceName != "" {
		env = append(env, "OTEL_SERVICE_NAME="+t.ServiceName)
	}
	env = append(env, fmt.Sprintf("OTEL_TRACES_SAMPLER_ARG=%g", t.SamplingRate))
	if t.EnableInsecure {
		env = append(env, "OTEL_EXPORTER_OTLP_INSECURE=true")
	}
	return env
}

func providerEnvVar(provider domain.Provider) string {
	switch provider {
	case domain.ProviderOpenAI:
		return "OPENAI_API_KEY"
	case domain.ProviderAzure:
		return "AZURE_OPENAI_API_KEY"
	case domain.ProviderGemini:
		return "GEMINI_API_KEY"
	case domain.ProviderOpenRouter:
		return "OPENROUTER_API_KEY"
	default:
		return ""
	}
}
