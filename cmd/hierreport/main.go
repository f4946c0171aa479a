// Package main is the hierreport pipeline binary: the child process the
// Launcher (internal/launcher, C11) spawns per job. It loads a job
// config, drives the Stage Runtime (C3) through extraction, embedding,
// clustering, labelling, overview and aggregation, and on a clean exit
// writes the status.json the Launcher reads back for token totals and
// provider/model. Grounded on the teacher's cmd/nexus/main.go shape: a
// small main() wiring structured logging and a cobra root command, with
// the actual work in a separate runPipeline function so it stays
// testable independent of os.Exit.
//
// # Environment Variables
//
//   - USER_API_KEY: credential for the job's configured provider.
//   - OPENAI_API_KEY, AZURE_OPENAI_API_KEY, GEMINI_API_KEY,
//     OPENROUTER_API_KEY: provider-specific overrides the Launcher also
//     sets; USER_API_KEY is used when no provider-specific var is set.
//   - AZURE_OPENAI_ENDPOINT, AZURE_OPENAI_API_VERSION,
//     AZURE_OPENAI_DEPLOYMENT: required when provider is "azure".
//   - OTEL_EXPORTER_OTLP_ENDPOINT, OTEL_SERVICE_NAME,
//     OTEL_TRACES_SAMPLER_ARG, OTEL_EXPORTER_OTLP_INSECURE: optional
//     tracing overrides, set by the Launcher from its own Tracing
//     config when configured; tracing stays a no-op when the endpoint
//     is unset.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/opinionlab/hierreport/internal/aggregation"
	"github.com/opinionlab/hierreport/internal/cluster"
	"github.com/opinionlab/hierreport/internal/config"
	"github.com/opinionlab/hierreport/internal/embedding"
	"github.com/opinionlab/hierreport/internal/extraction"
	"github.com/opinionlab/hierreport/internal/labelling"
	"github.com/opinionlab/hierreport/internal/observability"
	"github.com/opinionlab/hierreport/internal/overview"
	"github.com/opinionlab/hierreport/internal/pipeline"
	"github.com/opinionlab/hierreport/internal/statusmanager"
	"github.com/opinionlab/hierreport/pkg/domain"
)

var version = "dev" // populated by ldflags, matching the teacher's build-info convention

type runFlags struct {
	skipInteraction  bool
	withoutHTML      bool
	only             string
	force            bool
	skipExtraction   bool
	skipEmbedding    bool
	skipClustering   bool
	skipInitial      bool
	skipMerge        bool
	skipOverview     bool
	skipAggregation  bool
	autoCluster      bool
	clusterTopMin    int
	clusterTopMax    int
	clusterBottomMax int
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("hierreport: run failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:          "hierreport <config.json>",
		Short:        "Run the hierarchical opinion-clustering pipeline for one job",
		Version:      version,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd.Context(), args[0], flags)
		},
	}

	cmd.Flags().BoolVar(&flags.skipInteraction, "skip-interaction", false, "accepted for the Launcher's argv contract; this binary is always non-interactive")
	cmd.Flags().BoolVar(&flags.withoutHTML, "without-html", false, "accepted for the Launcher's argv contract; HTML rendering is out of scope")
	cmd.Flags().StringVarP(&flags.only, "only", "o", "", "restrict the run to a single stage, e.g. hierarchical_aggregation")
	cmd.Flags().BoolVar(&flags.force, "force", false, "re-run stages already marked done")
	cmd.Flags().BoolVar(&flags.skipExtraction, "skip-extraction", false, "skip the extraction stage")
	cmd.Flags().BoolVar(&flags.skipEmbedding, "skip-embedding", false, "skip the embedding stage")
	cmd.Flags().BoolVar(&flags.skipClustering, "skip-clustering", false, "skip the clustering stage")
	cmd.Flags().BoolVar(&flags.skipInitial, "skip-initial-labelling", false, "skip the initial labelling pass")
	cmd.Flags().BoolVar(&flags.skipMerge, "skip-merge-labelling", false, "skip the merge labelling pass")
	cmd.Flags().BoolVar(&flags.skipOverview, "skip-overview", false, "skip the overview stage")
	cmd.Flags().BoolVar(&flags.skipAggregation, "skip-aggregation", false, "skip the aggregation stage")
	cmd.Flags().BoolVar(&flags.autoCluster, "auto-cluster", false, "override the job config's clustering mode to auto")
	cmd.Flags().IntVar(&flags.clusterTopMin, "cluster-top-min", 0, "auto-cluster top-level k lower bound")
	cmd.Flags().IntVar(&flags.clusterTopMax, "cluster-top-max", 0, "auto-cluster top-level k upper bound / bottom-level k lower bound")
	cmd.Flags().IntVar(&flags.clusterBottomMax, "cluster-bottom-max", 0, "auto-cluster bottom-level k upper bound")

	return cmd
}

// runPipeline loads the job named by configPath and drives every stage
// to completion, matching spec §4.3's run_step/resume/force semantics
// and spec §4.11 step 4's status-file contract.
func runPipeline(ctx context.Context, configPath string, flags runFlags) error {
	jobDir := filepath.Dir(configPath)
	log := slog.Default()

	cfg, err := config.LoadJob(configPath)
	if err != nil {
		return fmt.Errorf("hierreport: load config: %w", err)
	}
	applyFlagOverrides(&cfg, flags)

	comments, err := readComments(filepath.Join(jobDir, "input.csv"))
	if err != nil {
		return fmt.Errorf("hierreport: load input corpus: %w", err)
	}

	registry, err := statusmanager.New(filepath.Join(jobDir, "pipeline_status.json"), nil, log)
	if err != nil {
		return fmt.Errorf("hierreport: open local stage registry: %w", err)
	}
	if _, err := registry.Get(cfg.Slug); err != nil {
		if err := registry.AddNew(cfg.Slug, cfg.Question, cfg.Intro, cfg.IsPubcom); err != nil {
			return fmt.Errorf("hierreport: record job start: %w", err)
		}
	}

	serviceName := os.Getenv("OTEL_SERVICE_NAME")
	if serviceName == "" {
		serviceName = "hierreport-pipeline"
	}
	samplingRate := 1.0
	if v := os.Getenv("OTEL_TRACES_SAMPLER_ARG"); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			samplingRate = parsed
		}
	}
	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName:    serviceName,
		Endpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		SamplingRate:   samplingRate,
		EnableInsecure: os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") == "true",
	})
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			log.Warn("hierreport: tracer shutdown failed", "error", err)
		}
	}()

	gw, err := buildGateway(ctx, cfg, log, tracer)
	if err != nil {
		return fmt.Errorf("hierreport: build llm gateway: %w", err)
	}

	runner := pipeline.NewRunner(registry, cfg.Slug, flags.only, flags.force, cfg.Provider, cfg.Model, log)
	runner.SetTracer(ctx, tracer)

	var (
		arguments   []domain.Argument
		relations   []domain.Relation
		embeddings  []domain.Embedding
		assignments []domain.ClusterAssignment
		labels      []domain.ClusterLabel
		reportText  string
	)

	if err := runner.RunStep("extraction", cfg.Skip.Extraction, func() (domain.TokenUsage, error) {
		result, err := extraction.Run(ctx, gw, cfg, comments, log)
		if err != nil {
			return result.Tokens, err
		}
		arguments, relations = result.Arguments, result.Relations
		catTokens, err := extraction.ClassifyCategories(ctx, gw, cfg, arguments, log)
		result.Tokens.Add(catTokens)
		return result.Tokens, err
	}); err != nil {
		return err
	}

	if err := hydrateArguments(jobDir, &arguments, &relations); err != nil {
		return err
	}

	if err := runner.RunStep("embedding", cfg.Skip.Embedding, func() (domain.TokenUsage, error) {
		out, tokens, err := embedding.Run(ctx, gw, cfg, arguments, log)
		embeddings = out
		return tokens, err
	}); err != nil {
		return err
	}
	if err := hydrateEmbeddings(jobDir, &embeddings); err != nil {
		return err
	}

	if err := runner.RunStep("clustering", cfg.Skip.Clustering, func() (domain.TokenUsage, error) {
		out, err := cluster.Run(cfg.Clustering, embeddings)
		if err != nil {
			return domain.TokenUsage{}, err
		}
		assignments = out.Assignments
		applyCoords(arguments, embeddings, out.Coords)
		return domain.TokenUsage{}, nil
	}); err != nil {
		return err
	}
	if err := hydrateAssignments(jobDir, &assignments); err != nil {
		return err
	}

	if err := runner.RunStep("initial_labelling", cfg.Skip.InitialLabel, func() (domain.TokenUsage, error) {
		out, err := labelling.Run(ctx, gw, cfg, arguments, assignments, embeddings, log)
		labels = out.Labels
		return out.Tokens, err
	}); err != nil {
		return err
	}
	if err := hydrateLabels(jobDir, &labels); err != nil {
		return err
	}
	// merge_labelling has no independent skip flag in spec §4.7 (the two
	// labelling passes run as one labelling.Run call); expose its own
	// --skip-merge-labelling flag as a no-op alias so the argv grammar in
	// spec §6 is fully accepted even though this implementation can't
	// split the two passes without re-running the initial pass.
	_ = flags.skipMerge

	if err := runner.RunStep("overview", cfg.Skip.Overview, func() (domain.TokenUsage, error) {
		text, tokens, err := overview.Run(ctx, gw, cfg, labels, log)
		reportText = text
		return tokens, err
	}); err != nil {
		return err
	}
	if err := hydrateOverview(jobDir, &reportText); err != nil {
		return err
	}

	var report aggregation.Report
	if err := runner.RunStep("hierarchical_aggregation", cfg.Skip.Aggregation, func() (domain.TokenUsage, error) {
		built, err := aggregation.Build(arguments, assignments, labels, comments, reportText, cfg)
		report = built
		return domain.TokenUsage{}, err
	}); err != nil {
		return err
	}

	if err := writeOutputs(jobDir, report, comments, arguments, relations, embeddings, assignments, labels, cfg); err != nil {
		return fmt.Errorf("hierreport: write output artifacts: %w", err)
	}

	if err := runner.Complete(); err != nil {
		return fmt.Errorf("hierreport: mark complete: %w", err)
	}

	status, err := registry.Get(cfg.Slug)
	if err != nil {
		return fmt.Errorf("hierreport: read final status: %w", err)
	}
	return writeFinalStatus(jobDir, status)
}

// applyFlagOverrides layers the argv-level --skip-<stage>/--auto-cluster
// flags over the job config's own skip/clustering settings, per spec
// §6's full argv grammar.
func applyFlagOverrides(cfg *domain.Config, flags runFlags) {
	if flags.skipExtraction {
		cfg.Skip.Extraction = true
	}
	if flags.skipEmbedding {
		cfg.Skip.Embedding = true
	}
	if flags.skipClustering {
		cfg.Skip.Clustering = true
	}
	if flags.skipInitial {
		cfg.Skip.InitialLabel = true
	}
	if flags.skipOverview {
		cfg.Skip.Overview = true
	}
	if flags.skipAggregation {
		cfg.Skip.Aggregation = true
	}
	if flags.autoCluster {
		cfg.Clustering.Mode = domain.ClusterModeAuto
		cfg.Clustering.Fixed = nil
		auto := cfg.Clustering.Auto
		if auto == nil {
			auto = &domain.AutoClusterConfig{}
		}
		if flags.clusterTopMin > 0 {
			auto.TopMin = flags.clusterTopMin
		}
		if flags.clusterTopMax > 0 {
			auto.TopMax = flags.clusterTopMax
		}
		if flags.clusterBottomMax > 0 {
			auto.BottomMax = flags.clusterBottomMax
		}
		cfg.Clustering.Auto = auto
	}
}

// applyCoords writes each cluster-assigned argument's 2D projection
// coordinate back onto the argument table, in embeddings order (the
// order cluster.Run's input and output share).
func applyCoords(arguments []domain.Argument, embeddings []domain.Embedding, coords [][2]float64) {
	byArgID := make(map[string]int, len(arguments))
	for i, a := range arguments {
		byArgID[a.ArgID] = i
	}
	for i, e := range embeddings {
		idx, ok := byArgID[e.ArgID]
		if !ok || i >= len(coords) {
			continue
		}
		arguments[idx].X = coords[i][0]
		arguments[idx].Y = coords[i][1]
	}
}
