// Package config loads the two configuration shapes this repo needs:
// a per-job pipeline Config (JSON, per spec §6) and a process-wide
// daemon Config for the control plane (YAML, per SPEC_FULL.md's
// AMBIENT STACK section). Grounded on the teacher's internal/config
// package: os.ExpandEnv before parsing, apply-defaults-then-validate
// ordering, and a single-document decoder guard.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/opinionlab/hierreport/pkg/domain"
)

// LoadJob reads a job Config from path, a JSON file per spec §6.
// Environment variables are expanded before parsing, matching the
// teacher's Load for its own YAML config, so a config file can
// reference $OPENAI_API_KEY-style placeholders without the caller
// having to template it beforehand.
func LoadJob(path string) (domain.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Config{}, fmt.Errorf("config: read job config: %w", err)
	}
	expanded := os.ExpandEnv(string(data))

	var cfg domain.Config
	if err := json.Unmarshal([]byte(expanded), &cfg); err != nil {
		return domain.Config{}, fmt.Errorf("config: parse job config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return domain.Config{}, err
	}
	return cfg, nil
}
