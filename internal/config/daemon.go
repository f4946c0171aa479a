package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DaemonConfig is the control plane's process-wide configuration: where
// the Status Manager's registry lives, how the Launcher spawns jobs,
// and the server's own network surface. Everything a job itself needs
// lives in domain.Config instead (see LoadJob) — this is purely
// operator-facing, changed rarely, and so is YAML per the teacher's own
// internal/config.Config choice, not JSON like job configs.
type DaemonConfig struct {
	Server        ServerConfig        `yaml:"server"`
	StatusManager StatusManagerConfig `yaml:"status_manager"`
	Launcher      LauncherConfig      `yaml:"launcher"`
}

// ServerConfig configures the control plane's own (out-of-scope per
// spec §1) HTTP surface and its metrics endpoint.
type ServerConfig struct {
	Host        string `yaml:"host"`
	HTTPPort    int    `yaml:"http_port"`
	MetricsPort int    `yaml:"metrics_port"`
}

// StatusManagerConfig configures the Status Manager's registry file,
// its cache-invalidation webhook, and its reconciliation sweep.
type StatusManagerConfig struct {
	RegistryPath      string        `yaml:"registry_path"`
	RevalidateURL     string        `yaml:"revalidate_url"`
	ReconcileSpec     string        `yaml:"reconcile_spec"`
	WatchForHotReload bool          `yaml:"watch_for_hot_reload"`
	InvalidateTimeout time.Duration `yaml:"invalidate_timeout"`
}

// LauncherConfig configures where the Launcher materializes job working
// directories and which pipeline binary it spawns.
type LauncherConfig struct {
	WorkDir        string  `yaml:"work_dir"`
	PipelineBinary string  `yaml:"pipeline_binary"`
	S3             S3Config `yaml:"s3"`
	Tracing        Tracing  `yaml:"tracing"`
}

// S3Config configures the optional S3-compatible output sync spec §4.11
// step 4 names ("synchronise output files to external storage"). Bucket
// empty means output sync stays a no-op.
type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UsePathStyle    bool   `yaml:"use_path_style"`
}

// Tracing configures the optional OTLP trace exporter. Endpoint empty
// means tracing stays a no-op, matching the teacher's
// observability.TraceConfig fallback.
type Tracing struct {
	Endpoint       string  `yaml:"endpoint"`
	ServiceName    string  `yaml:"service_name"`
	SamplingRate   float64 `yaml:"sampling_rate"`
	EnableInsecure bool    `yaml:"enable_insecure"`
}

// LoadDaemon reads path as YAML, expanding environment variables first
// (matching the teacher's Load), then applies defaults and validates.
func LoadDaemon(path string) (DaemonConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return DaemonConfig{}, fmt.Errorf("config: read daemon config: %w", err)
	}
	expanded := os.ExpandEnv(string(data))

	var cfg DaemonConfig
	decoder := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return DaemonConfig{}, fmt.Errorf("config: parse daemon config: %w", err)
	}
	if err := decoder.Decode(new(struct{})); err != io.EOF {
		return DaemonConfig{}, fmt.Errorf("config: daemon config must be a single YAML document")
	}

	applyDaemonDefaults(&cfg)
	return cfg, validateDaemon(&cfg)
}

func applyDaemonDefaults(cfg *DaemonConfig) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8080
	}
	if cfg.Server.MetricsPort == 0 {
		cfg.Server.MetricsPort = 9090
	}
	if cfg.StatusManager.RegistryPath == "" {
		cfg.StatusManager.RegistryPath = "data/registry.json"
	}
	if cfg.StatusManager.ReconcileSpec == "" {
		cfg.StatusManager.ReconcileSpec = "@every 1m"
	}
	if cfg.StatusManager.InvalidateTimeout == 0 {
		cfg.StatusManager.InvalidateTimeout = 3 * time.Second
	}
	if cfg.Launcher.WorkDir == "" {
		cfg.Launcher.WorkDir = "data/jobs"
	}
	if cfg.Launcher.PipelineBinary == "" {
		cfg.Launcher.PipelineBinary = "hierreport"
	}
}

func validateDaemon(cfg *DaemonConfig) error {
	if cfg.Server.HTTPPort == cfg.Server.MetricsPort {
		return fmt.Errorf("config: http_port and metrics_port must differ")
	}
	return nil
}
