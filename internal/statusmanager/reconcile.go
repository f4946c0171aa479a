package statusmanager

import (
	"context"
	"log/slog"
	"os"

	"github.com/robfig/cron/v3"

	"github.com/opinionlab/hierreport/pkg/domain"
)

// PIDFile names the file the Launcher writes with its child's PID so a
// reconciliation sweep can detect a crashed job without a live handle.
// Grounded on the teacher's internal/cron/schedule.go cron.v3 usage,
// extending the spec's "crashed job becomes error on next
// reconciliation" non-goal with the sweep that actually performs it
// (SUPPLEMENTED FEATURES #3).
type PIDFile struct {
	Path string
}

// Alive reports whether the PID recorded at Path still refers to a live
// process. A missing or unparsable PID file is treated as not alive.
func (p PIDFile) Alive() bool {
	data, err := os.ReadFile(p.Path)
	if err != nil {
		return false
	}
	pid, err := parsePID(data)
	if err != nil {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// On POSIX, FindProcess always succeeds; signal 0 probes liveness
	// without affecting the process.
	return proc.Signal(syscallSignal0()) == nil
}

// Reconciler periodically scans the registry for jobs stuck in
// "processing" whose launcher process is no longer alive, marking them
// "error". PIDPathForSlug resolves a slug to the PID file its Launcher
// wrote at spawn time.
type Reconciler struct {
	registry      Store
	pidPathForSlug func(slug string) string
	log           *slog.Logger
}

// NewReconciler builds a Reconciler over registry.
func NewReconciler(registry Store, pidPathForSlug func(slug string) string, log *slog.Logger) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{registry: registry, pidPathForSlug: pidPathForSlug, log: log}
}

// Sweep runs one reconciliation pass.
func (r *Reconciler) Sweep(ctx context.Context) {
	for _, rec := range r.registry.ListReports(false) {
		if rec.State != domain.StateProcessing {
			continue
		}
		pidPath := r.pidPathForSlug(rec.Slug)
		if (PIDFile{Path: pidPath}).Alive() {
			continue
		}
		r.log.Warn("statusmanager: reconciliation found a crashed job", "slug", rec.Slug)
		if err := r.registry.SetError(rec.Slug, "process exited without reporting status"); err != nil {
			r.log.Error("statusmanager: reconciliation failed to update status", "slug", rec.Slug, "error", err)
		}
	}
}

// ScheduleSweeps registers a cron.v3 job that runs Sweep on spec, e.g.
// "@every 1m". Returns the running *cron.Cron so the caller can Stop it.
func ScheduleSweeps(spec string, r *Reconciler) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		r.Sweep(context.Background())
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	return c, nil
}
