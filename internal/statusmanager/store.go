package statusmanager

import (
	"context"

	"github.com/opinionlab/hierreport/pkg/domain"
)

// Store is the Status Manager's full public surface, satisfied by the
// file-backed Registry (the default spec §4.10 describes) and by
// SQLiteRegistry, an optional queryable backend for long-running
// control-plane deployments (Supplemented Feature #6). The Launcher and
// Reconciler depend on this interface, not the concrete Registry, so
// either backend drives them identically.
type Store interface {
	Get(slug string) (domain.Status, error)
	ListReports(includeDeleted bool) []domain.Status
	AddNew(slug, title, description string, isPubcom bool) error
	SetState(slug string, state domain.State) error
	SetVisibility(ctx context.Context, slug string, v domain.Visibility) error
	UpdateTokens(slug string, total int64, input, output *int64, provider domain.Provider, model string) error
	UpdateConfig(ctx context.Context, slug string, question, intro *string) error
	SetCurrentStep(slug, step string) error
	SetError(slug, reason string) error
	StageState(slug, stage string) domain.StageState
	SetStageState(slug, stage string, state domain.StageState) error
	EnrichWithAnalysis(slug string) error
}

var (
	_ Store = (*Registry)(nil)
	_ Store = (*SQLiteRegistry)(nil)
)
