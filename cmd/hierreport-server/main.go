// Package main is the hierreport control-plane binary: it assembles
// the Status Manager (C10), the Launcher (C11), and the reconciliation
// sweep behind one process and runs them until a shutdown signal
// arrives. The job-submission/listing/streaming HTTP API spec §1 names
// is explicitly out of scope for this implementation; this binary's
// only externally reachable surface is a Prometheus /metrics endpoint,
// carried as the ambient observability layer the Non-goal doesn't
// exclude. Grounded on the teacher's cmd/nexus serve command shape:
// load config, build the long-lived components, run until
// signal.NotifyContext cancels.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/opinionlab/hierreport/internal/artifacts"
	"github.com/opinionlab/hierreport/internal/config"
	"github.com/opinionlab/hierreport/internal/launcher"
	"github.com/opinionlab/hierreport/internal/statusmanager"
)

var version = "dev"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("hierreport-server: run failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	var configPath string
	var useSQLite bool

	cmd := &cobra.Command{
		Use:          "hierreport-server",
		Short:        "Run the hierreport control plane (Status Manager, Launcher, reconciliation sweep)",
		Version:      version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), configPath, useSQLite)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "hierreport.yaml", "Path to YAML daemon configuration file")
	cmd.Flags().BoolVar(&useSQLite, "sqlite-registry", false, "back the Status Manager with SQLiteRegistry instead of the default file-backed Registry")
	return cmd
}

// store is the subset of statusmanager.Store plus lifecycle hooks every
// backend choice below needs wired up identically.
type store interface {
	statusmanager.Store
	SetMetrics(*statusmanager.Metrics)
}

func runServer(ctx context.Context, configPath string, useSQLite bool) error {
	cfg, err := config.LoadDaemon(configPath)
	if err != nil {
		return fmt.Errorf("hierreport-server: load daemon config: %w", err)
	}

	registry, closeRegistry, err := buildRegistry(cfg, useSQLite)
	if err != nil {
		return err
	}
	defer closeRegistry()

	metrics := statusmanager.NewMetrics(prometheus.DefaultRegisterer)
	registry.SetMetrics(metrics)

	if watchable, ok := registry.(interface{ Watch(context.Context) error }); ok && cfg.StatusManager.WatchForHotReload {
		if err := watchable.Watch(ctx); err != nil {
			return fmt.Errorf("hierreport-server: start registry watch: %w", err)
		}
	}

	var launcherOpts []launcher.Option
	if cfg.Launcher.S3.Bucket != "" {
		sync, err := artifacts.NewS3OutputSync(ctx, artifacts.S3Config{
			Bucket:          cfg.Launcher.S3.Bucket,
			Region:          cfg.Launcher.S3.Region,
			Endpoint:        cfg.Launcher.S3.Endpoint,
			Prefix:          cfg.Launcher.S3.Prefix,
			AccessKeyID:     cfg.Launcher.S3.AccessKeyID,
			SecretAccessKey: cfg.Launcher.S3.SecretAccessKey,
			UsePathStyle:    cfg.Launcher.S3.UsePathStyle,
		})
		if err != nil {
			return fmt.Errorf("hierreport-server: build s3 output sync: %w", err)
		}
		launcherOpts = append(launcherOpts, launcher.WithOutputSync(sync))
	}
	if cfg.Launcher.Tracing.Endpoint != "" {
		launcherOpts = append(launcherOpts, launcher.WithTracing(launcher.Tracing{
			Endpoint:       cfg.Launcher.Tracing.Endpoint,
			ServiceName:    cfg.Launcher.Tracing.ServiceName,
			SamplingRate:   cfg.Launcher.Tracing.SamplingRate,
			EnableInsecure: cfg.Launcher.Tracing.EnableInsecure,
		}))
	}
	l := launcher.New(registry, cfg.Launcher.WorkDir, cfg.Launcher.PipelineBinary, launcherOpts...)

	reconciler := statusmanager.NewReconciler(registry, l.PIDPath, slog.Default())
	cronRunner, err := statusmanager.ScheduleSweeps(cfg.StatusManager.ReconcileSpec, reconciler)
	if err != nil {
		return fmt.Errorf("hierreport-server: schedule reconciliation sweeps: %w", err)
	}
	defer cronRunner.Stop()

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	metricsAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.MetricsPort)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{Addr: metricsAddr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	slog.Info("hierreport-server started",
		"version", version,
		"metrics_addr", metricsAddr,
		"work_dir", cfg.Launcher.WorkDir,
		"pipeline_binary", cfg.Launcher.PipelineBinary,
		"reconcile_spec", cfg.StatusManager.ReconcileSpec,
		"sqlite_registry", useSQLite,
	)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	slog.Info("hierreport-server shutting down")
	return metricsServer.Shutdown(context.Background())
}

func buildRegistry(cfg config.DaemonConfig, useSQLite bool) (store, func(), error) {
	if useSQLite {
		reg, err := statusmanager.NewSQLiteRegistry(cfg.StatusManager.RegistryPath, nil, slog.Default())
		if err != nil {
			return nil, nil, fmt.Errorf("hierreport-server: open sqlite registry: %w", err)
		}
		reg.SetArtifactsRoot(cfg.Launcher.WorkDir)
		return reg, func() { _ = reg.Close() }, nil
	}
	reg, err := statusmanager.New(cfg.StatusManager.RegistryPath, nil, slog.Default(), statusmanager.WithArtifactsRoot(cfg.Launcher.WorkDir))
	if err != nil {
		return nil, nil, fmt.Errorf("hierreport-server: open registry: %w", err)
	}
	return reg, func() {}, nil
}
