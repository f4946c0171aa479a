package domain

import "time"

// TokenUsage tracks (input, output, total) token counts. Add/Total mirror
// the teacher's usage.Usage accounting idiom: non-negative counters summed
// across stages and handed to the Status Manager, never re-derived.
type TokenUsage struct {
	Input  int64 `json:"input"`
	Output int64 `json:"output"`
	Total  int64 `json:"total"`
}

// Add accumulates other into u in place. If the caller never supplied a
// provider-reported Total, the sum of Input+Output is used as a
// lower-bound fallback when adding.
func (u *TokenUsage) Add(other TokenUsage) {
	u.Input += other.Input
	u.Output += other.Output
	total := other.Total
	if total < other.Input+other.Output {
		total = other.Input + other.Output
	}
	u.Total += total
}

// State is a job's lifecycle state.
type State string

const (
	StateProcessing State = "processing"
	StateReady      State = "ready"
	StateError      State = "error"
	StateDeleted    State = "deleted"
)

// CanTransitionTo enforces the monotonic state machine from spec §3:
// processing -> {ready, error, deleted}; ready <-> visibility changes only
// (state itself stays ready); deleted is terminal.
func (s State) CanTransitionTo(next State) bool {
	if s == StateDeleted {
		return false
	}
	switch s {
	case StateProcessing:
		switch next {
		case StateReady, StateError, StateDeleted:
			return true
		}
	case StateReady, StateError:
		switch next {
		case StateDeleted:
			return true
		case s:
			// set_state is idempotent for the terminal-ish states; a
			// reconciliation sweep may re-assert error on an already
			// errored job.
			return true
		}
	}
	return false
}

// StageState is one stage's execution state within a job, tracked
// independently of the job's overall State.
type StageState string

const (
	StagePending StageState = "pending"
	StageRunning StageState = "running"
	StageDone    StageState = "done"
	StageSkipped StageState = "skipped"
	StageError   StageState = "error"
)

// Visibility controls who may see a ready report.
type Visibility string

const (
	VisibilityPublic   Visibility = "public"
	VisibilityUnlisted Visibility = "unlisted"
	VisibilityPrivate  Visibility = "private"
)

// Status is the Status Manager's per-job registry record. The Status
// Manager owns this exclusively; every other component treats it as
// read-only once written except through the Status Manager's API.
type Status struct {
	Slug        string     `json:"slug"`
	State       State      `json:"state"`
	Visibility  Visibility `json:"visibility"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	IsPubcom    bool       `json:"is_pubcom"`
	CreatedAt   time.Time  `json:"created_at"`

	TokenUsageInput  int64   `json:"token_usage_input"`
	TokenUsageOutput int64   `json:"token_usage_output"`
	TokenUsageTotal  int64   `json:"token_usage_total"`
	EstimatedCost    float64 `json:"estimated_cost"`

	Provider Provider `json:"provider,omitempty"`
	Model    string   `json:"model,omitempty"`

	CurrentStep string                `json:"current_step,omitempty"`
	Stages      map[string]StageState `json:"stages,omitempty"`
	Error       string                `json:"error,omitempty"`

	// Analysis is attached by enrich_with_analysis once the aggregation
	// stage has produced a report for this job; nil until then.
	Analysis *AnalysisSummary `json:"analysis,omitempty"`

	// IsPublicLegacy is only populated while reading a pre-migration
	// record off disk; statusmanager.Registry's load always normalizes it into
	// Visibility and never serializes this field back out.
	IsPublicLegacy *bool `json:"is_public,omitempty"`
}

// AnalysisSummary is what enrich_with_analysis attaches to a ready
// report: counts a client can render without downloading the full
// report artifact.
type AnalysisSummary struct {
	CommentCount       int `json:"comment_num"`
	ArgumentCount      int `json:"arguments_num"`
	ClusterCountLevel2 int `json:"cluster_num_at_level_2"`
}
