package statusmanager

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/opinionlab/hierreport/internal/pricing"
	"github.com/opinionlab/hierreport/pkg/domain"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS reports (
	slug TEXT PRIMARY KEY,
	state TEXT NOT NULL,
	created_at TEXT NOT NULL,
	document TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reports_state ON reports(state);
`

// SQLiteRegistry is the queryable alternate Status Manager backend
// (Supplemented Feature #6): every record is still a full
// domain.Status document (stored as JSON in the `document` column, the
// same shape Registry keeps in memory), with `slug`/`state`/`created_at`
// promoted to indexed columns so an operator can run ad-hoc SQL over
// job history instead of scanning the whole file-backed registry.
// Registry remains the default spec §4.10 describes; this is opt-in.
type SQLiteRegistry struct {
	db            *sql.DB
	artifactsRoot string
	invalidator   Invalidator
	log           *slog.Logger
	metrics       *Metrics
}

// SetMetrics attaches Prometheus observability hooks, mirroring Registry.SetMetrics.
func (s *SQLiteRegistry) SetMetrics(m *Metrics) { s.metrics = m }

// SetArtifactsRoot configures where EnrichWithAnalysis looks for a job's
// output directory, mirroring Registry's WithArtifactsRoot option.
func (s *SQLiteRegistry) SetArtifactsRoot(root string) { s.artifactsRoot = root }

// NewSQLiteRegistry opens (and migrates) a SQLite-backed registry at
// path, grounded on the teacher's internal/jobs/cockroach.go
// sql.Open+PingContext+schema-migration shape, swapped from Postgres to
// SQLite per SPEC_FULL.md's DOMAIN STACK table.
func NewSQLiteRegistry(path string, invalidator Invalidator, log *slog.Logger) (*SQLiteRegistry, error) {
	if invalidator == nil {
		invalidator = NoopInvalidator{}
	}
	if log == nil {
		log = slog.Default()
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("statusmanager: open sqlite registry: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite3 driver serializes writers; avoid SQLITE_BUSY under concurrent access

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("statusmanager: ping sqlite registry: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("statusmanager: migrate sqlite registry: %w", err)
	}
	return &SQLiteRegistry{db: db, invalidator: invalidator, log: log}, nil
}

// Close releases the underlying database connection.
func (s *SQLiteRegistry) Close() error { return s.db.Close() }

func (s *SQLiteRegistry) readLocked(ctx context.Context, tx *sql.Tx, slug string) (domain.Status, error) {
	var raw string
	err := tx.QueryRowContext(ctx, "SELECT document FROM reports WHERE slug = ?", slug).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Status{}, ErrNotFound
	}
	if err != nil {
		return domain.Status{}, fmt.Errorf("statusmanager: read sqlite record: %w", err)
	}
	var status domain.Status
	if err := json.Unmarshal([]byte(raw), &status); err != nil {
		return domain.Status{}, fmt.Errorf("statusmanager: decode sqlite record: %w", err)
	}
	return status, nil
}

func (s *SQLiteRegistry) writeLocked(ctx context.Context, tx *sql.Tx, status domain.Status) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("statusmanager: encode sqlite record: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO reports (slug, state, created_at, document) VALUES (?, ?, ?, ?)
		ON CONFLICT(slug) DO UPDATE SET state = excluded.state, document = excluded.document
	`, status.Slug, string(status.State), status.CreatedAt.UTC().Format(time.RFC3339Nano), string(data))
	if err != nil {
		return fmt.Errorf("statusmanager: write sqlite record: %w", err)
	}
	return nil
}

// mutate runs fn against the current record for slug inside a single
// transaction, persisting fn's return value. Mirrors Registry's
// lock-read-modify-write-unlock shape with a SQL transaction standing
// in for the mutex.
func (s *SQLiteRegistry) mutate(ctx context.Context, slug string, fn func(domain.Status) (domain.Status, error)) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("statusmanager: begin sqlite tx: %w", err)
	}
	defer tx.Rollback()

	current, err := s.readLocked(ctx, tx, slug)
	if err != nil {
		return err
	}
	updated, err := fn(current)
	if err != nil {
		return err
	}
	if err := s.writeLocked(ctx, tx, updated); err != nil {
		return err
	}
	return tx.Commit()
}

// Get returns the record for slug.
func (s *SQLiteRegistry) Get(slug string) (domain.Status, error) {
	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return domain.Status{}, fmt.Errorf("statusmanager: begin sqlite tx: %w", err)
	}
	defer tx.Rollback()
	return s.readLocked(ctx, tx, slug)
}

// ListReports returns all non-deleted records unless includeDeleted.
func (s *SQLiteRegistry) ListReports(includeDeleted bool) []domain.Status {
	ctx := context.Background()
	query := "SELECT document FROM reports"
	if !includeDeleted {
		query += " WHERE state != ?"
	}
	var rows *sql.Rows
	var err error
	if includeDeleted {
		rows, err = s.db.QueryContext(ctx, query)
	} else {
		rows, err = s.db.QueryContext(ctx, query, string(domain.StateDeleted))
	}
	if err != nil {
		s.log.Error("statusmanager: sqlite list failed", "error", err)
		return nil
	}
	defer rows.Close()

	var out []domain.Status
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			s.log.Error("statusmanager: sqlite scan failed", "error", err)
			continue
		}
		var status domain.Status
		if err := json.Unmarshal([]byte(raw), &status); err != nil {
			s.log.Error("statusmanager: sqlite decode failed", "error", err)
			continue
		}
		out = append(out, status)
	}
	return out
}

// AddNew initializes a job's status record, matching Registry.AddNew.
func (s *SQLiteRegistry) AddNew(slug, title, description string, isPubcom bool) error {
	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("statusmanager: begin sqlite tx: %w", err)
	}
	defer tx.Rollback()

	status := domain.Status{
		Slug:        slug,
		State:       domain.StateProcessing,
		Visibility:  domain.VisibilityUnlisted,
		Title:       title,
		Description: description,
		IsPubcom:    isPubcom,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.writeLocked(ctx, tx, status); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.metrics.observeNew()
	return nil
}

// SetState applies a validated state transition.
func (s *SQLiteRegistry) SetState(slug string, state domain.State) error {
	err := s.mutate(context.Background(), slug, func(rec domain.Status) (domain.Status, error) {
		if !rec.State.CanTransitionTo(state) {
			return rec, fmt.Errorf("statusmanager: invalid transition %s -> %s for %s", rec.State, state, slug)
		}
		rec.State = state
		return rec, nil
	})
	if err == nil && (state == domain.StateReady || state == domain.StateError) {
		s.metrics.observeTerminal(state)
	}
	return err
}

// SetVisibility writes visibility then fires the cache-invalidation hook.
func (s *SQLiteRegistry) SetVisibility(ctx context.Context, slug string, v domain.Visibility) error {
	if err := s.mutate(ctx, slug, func(rec domain.Status) (domain.Status, error) {
		rec.Visibility = v
		return rec, nil
	}); err != nil {
		return err
	}
	invalidateCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := s.invalidator.Invalidate(invalidateCtx, slug); err != nil {
		s.log.Warn("statusmanager: cache invalidation failed", "slug", slug, "error", err)
	}
	return nil
}

// UpdateTokens partially updates token counters and recomputes cost.
func (s *SQLiteRegistry) UpdateTokens(slug string, total int64, input, output *int64, provider domain.Provider, model string) error {
	return s.mutate(context.Background(), slug, func(rec domain.Status) (domain.Status, error) {
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
			s.metrics.observeTokens(provider, *input, *output)
		}
		return rec, nil
	})
}

// UpdateConfig mutates title/description and invalidates the cache.
func (s *SQLiteRegistry) UpdateConfig(ctx context.Context, slug string, question, intro *string) error {
	if err := s.mutate(ctx, slug, func(rec domain.Status) (domain.Status, error) {
		if question != nil {
			rec.Title = *question
		}
		if intro != nil {
			rec.Description = *intro
		}
		return rec, nil
	}); err != nil {
		return err
	}
	invalidateCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := s.invalidator.Invalidate(invalidateCtx, slug); err != nil {
		s.log.Warn("statusmanager: cache invalidation failed", "slug", slug, "error", err)
	}
	return nil
}

// SetCurrentStep records the stage currently running.
func (s *SQLiteRegistry) SetCurrentStep(slug, step string) error {
	return s.mutate(context.Background(), slug, func(rec domain.Status) (domain.Status, error) {
		rec.CurrentStep = step
		return rec, nil
	})
}

// SetError records the short reason for a stage failure and flips state to error.
func (s *SQLiteRegistry) SetError(slug, reason string) error {
	return s.mutate(context.Background(), slug, func(rec domain.Status) (domain.Status, error) {
		rec.Error = reason
		rec.State = domain.StateError
		return rec, nil
	})
}

// StageState returns stage's recorded state, defaulting to pending.
func (s *SQLiteRegistry) StageState(slug, stage string) domain.StageState {
	rec, err := s.Get(slug)
	if err != nil || rec.Stages == nil {
		return domain.StagePending
	}
	st, ok := rec.Stages[stage]
	if !ok {
		return domain.StagePending
	}
	return st
}

// SetStageState records stage's state for slug.
func (s *SQLiteRegistry) SetStageState(slug, stage string, state domain.StageState) error {
	return s.mutate(context.Background(), slug, func(rec domain.Status) (domain.Status, error) {
		if rec.Stages == nil {
			rec.Stages = map[string]domain.StageState{}
		}
		rec.Stages[stage] = state
		return rec, nil
	})
}

// EnrichWithAnalysis implements spec §4.10's enrich_with_analysis(report)
// for the SQLite backend, matching Registry.EnrichWithAnalysis.
func (s *SQLiteRegistry) EnrichWithAnalysis(slug string) error {
	if s.artifactsRoot == "" {
		return fmt.Errorf("statusmanager: enrich_with_analysis: registry has no artifacts root configured")
	}
	summary, err := loadAnalysisSummary(filepath.Join(s.artifactsRoot, slug))
	if err != nil {
		return fmt.Errorf("statusmanager: enrich_with_analysis: %w", err)
	}
	return s.mutate(context.Background(), slug, func(rec domain.Status) (domain.Status, error) {
		rec.Analysis = &summary
		return rec, nil
	})
}
