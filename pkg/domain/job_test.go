package domain

import (
	"errors"
	"testing"
)

func validConfig() *Config {
	return &Config{
		Slug:     "demo",
		Question: "what do people think?",
		Provider: ProviderOpenAI,
		Model:    "gpt-4o-mini",
		Workers:  4,
		Clustering: ClusteringConfig{
			Mode:  ClusterModeFixed,
			Fixed: &FixedClusterConfig{Top: 2, Bottom: 4},
		},
		Prompts: StagePrompts{Extraction: "extract opinions"},
	}
}

func TestConfigValidate(t *testing.T) {
	c := validConfig()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestConfigValidateMissingSlug(t *testing.T) {
	c := validConfig()
	c.Slug = ""
	err := c.Validate()
	if err == nil || !errors.Is(err, ErrConfigInvalidSentinel) {
		t.Fatalf("expected config-invalid, got %v", err)
	}
}

func TestConfigValidateUnknownProvider(t *testing.T) {
	c := validConfig()
	c.Provider = "bedrock"
	err := c.Validate()
	if err == nil || !errors.Is(err, ErrConfigInvalidSentinel) {
		t.Fatalf("expected config-invalid, got %v", err)
	}
}

func TestClusteringConfigValidate(t *testing.T) {
	cases := []struct {
		name string
		cfg  ClusteringConfig
		ok   bool
	}{
		{"fixed ok", ClusteringConfig{Mode: ClusterModeFixed, Fixed: &FixedClusterConfig{Top: 2, Bottom: 5}}, true},
		{"fixed top>=bottom", ClusteringConfig{Mode: ClusterModeFixed, Fixed: &FixedClusterConfig{Top: 5, Bottom: 5}}, false},
		{"fixed missing struct", ClusteringConfig{Mode: ClusterModeFixed}, false},
		{"auto ok", ClusteringConfig{Mode: ClusterModeAuto, Auto: &AutoClusterConfig{TopMin: 2, TopMax: 5, BottomMax: 10}}, true},
		{"auto topmax>=bottommax", ClusteringConfig{Mode: ClusterModeAuto, Auto: &AutoClusterConfig{TopMin: 2, TopMax: 10, BottomMax: 10}}, false},
		{"bad mode", ClusteringConfig{Mode: "weird"}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := c.cfg.Validate()
			if c.ok && err != nil {
				t.Fatalf("expected ok, got %v", err)
			}
			if !c.ok && err == nil {
				t.Fatalf("expected error, got nil")
			}
		})
	}
}
