package main

import (
	"testing"

	"github.com/opinionlab/hierreport/pkg/domain"
)

func TestBuildRootCmdRegistersArgvFlags(t *testing.T) {
	cmd := buildRootCmd()
	required := []string{
		"skip-interaction", "without-html", "only", "force",
		"skip-extraction", "skip-embedding", "skip-clustering",
		"skip-initial-labelling", "skip-merge-labelling", "skip-overview", "skip-aggregation",
		"auto-cluster", "cluster-top-min", "cluster-top-max", "cluster-bottom-max",
	}
	for _, name := range required {
		if cmd.Flags().Lookup(name) == nil {
			t.Errorf("expected flag %q to be registered", name)
		}
	}
}

func TestApplyFlagOverridesSetsSkips(t *testing.T) {
	cfg := domain.Config{Clustering: domain.ClusteringConfig{Mode: domain.ClusterModeFixed, Fixed: &domain.FixedClusterConfig{Top: 3, Bottom: 12}}}
	applyFlagOverrides(&cfg, runFlags{skipOverview: true, skipEmbedding: true})
	if !cfg.Skip.Overview || !cfg.Skip.Embedding {
		t.Fatal("expected overview and embedding skip flags to propagate")
	}
	if cfg.Skip.Extraction {
		t.Fatal("did not expect extraction to be skipped")
	}
}

func TestApplyFlagOverridesAutoClusterSwitchesMode(t *testing.T) {
	cfg := domain.Config{Clustering: domain.ClusteringConfig{Mode: domain.ClusterModeFixed, Fixed: &domain.FixedClusterConfig{Top: 3, Bottom: 12}}}
	applyFlagOverrides(&cfg, runFlags{autoCluster: true, clusterTopMin: 2, clusterTopMax: 5, clusterBottomMax: 20})
	if cfg.Clustering.Mode != domain.ClusterModeAuto {
		t.Fatalf("Mode = %v, want auto", cfg.Clustering.Mode)
	}
	if cfg.Clustering.Fixed != nil {
		t.Fatal("expected fixed config cleared when switching to auto")
	}
	if cfg.Clustering.Auto.TopMin != 2 || cfg.Clustering.Auto.TopMax != 5 || cfg.Clustering.Auto.BottomMax != 20 {
		t.Fatalf("Auto = %+v, want overrides applied", cfg.Clustering.Auto)
	}
}

func TestApplyCoordsMatchesByArgID(t *testing.T) {
	arguments := []domain.Argument{{ArgID: "a1"}, {ArgID: "a2"}}
	embeddings := []domain.Embedding{{ArgID: "a2"}, {ArgID: "a1"}}
	coords := [][2]float64{{1, 2}, {3, 4}}

	applyCoords(arguments, embeddings, coords)

	if arguments[0].X != 3 || arguments[0].Y != 4 {
		t.Errorf("arguments[0] = (%v,%v), want (3,4)", arguments[0].X, arguments[0].Y)
	}
	if arguments[1].X != 1 || arguments[1].Y != 2 {
		t.Errorf("arguments[1] = (%v,%v), want (1,2)", arguments[1].X, arguments[1].Y)
	}
}
