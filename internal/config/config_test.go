package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ironsheep/scene-dispatcher/internal/aggregate"
)

func writeConfigFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Inference.URL != "localhost:8000" || cfg.Inference.Model != "Segmentor" {
		t.Errorf("inference defaults: got %s / %s", cfg.Inference.URL, cfg.Inference.Model)
	}
	if cfg.Tiling.PatchSize != 512 || cfg.Tiling.Stride != 256 || cfg.Tiling.ScalingFactor != 6 {
		t.Errorf("tiling defaults: got %+v", cfg.Tiling)
	}
	if cfg.Tiling.NumClasses != 3 {
		t.Errorf("num classes: got %d, want 3", cfg.Tiling.NumClasses)
	}
	if cfg.Server.Port != 8080 || cfg.Server.MaxConcurrentJobs != 8 {
		t.Errorf("server defaults: got port %d, max jobs %d", cfg.Server.Port, cfg.Server.MaxConcurrentJobs)
	}
	if cfg.Inference.MaxRetries != 32 || cfg.Inference.RetryDelaySeconds != 4 {
		t.Errorf("retry defaults: got %d x %ds", cfg.Inference.MaxRetries, cfg.Inference.RetryDelaySeconds)
	}
	if cfg.Inference.TimeoutSeconds <= 0 {
		t.Errorf("default request timeout should be bounded, got %ds", cfg.Inference.TimeoutSeconds)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
}

func TestLoad_YAML(t *testing.T) {
	path := writeConfigFile(t, "dispatcher.yaml", `
server:
  port: 9090
  cors_origins: ["http://localhost:3000"]
inference:
  url: triton:8000
  model_version: "2"
tiling:
  patch_size: 256
  vote_mode: tile
verbose: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 9090 || len(cfg.Server.CORSOrigins) != 1 {
		t.Errorf("server: got %+v", cfg.Server)
	}
	if cfg.Inference.URL != "triton:8000" || cfg.Inference.ModelVersion != "2" {
		t.Errorf("inference: got %+v", cfg.Inference)
	}
	// Unset keys keep their defaults.
	if cfg.Inference.Model != "Segmentor" || cfg.Tiling.Stride != 256 {
		t.Errorf("defaults lost: model %q, stride %d", cfg.Inference.Model, cfg.Tiling.Stride)
	}
	if cfg.Tiling.PatchSize != 256 || cfg.Tiling.VoteMode != "tile" || !cfg.Verbose {
		t.Errorf("tiling/verbose: got %+v verbose=%v", cfg.Tiling, cfg.Verbose)
	}
}

func TestLoad_TOML(t *testing.T) {
	path := writeConfigFile(t, "dispatcher.toml", `
verbose = true

[server]
port = 8181
max_concurrent_jobs = 2

[inference]
max_retries = 5
retry_delay_seconds = 1

[tiling]
num_classes = 5

[log]
file = "/var/log/scene-dispatcher.log"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 8181 || cfg.Server.MaxConcurrentJobs != 2 {
		t.Errorf("server: got %+v", cfg.Server)
	}
	if cfg.Inference.MaxRetries != 5 || cfg.Inference.RetryDelaySeconds != 1 {
		t.Errorf("inference: got %+v", cfg.Inference)
	}
	if cfg.Tiling.NumClasses != 5 || cfg.Tiling.PatchSize != 512 {
		t.Errorf("tiling: got %+v", cfg.Tiling)
	}
	if cfg.Log.File != "/var/log/scene-dispatcher.log" || !cfg.Verbose {
		t.Errorf("log/verbose: got %+v verbose=%v", cfg.Log, cfg.Verbose)
	}
}

func TestLoad_MissingFileGivesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Tiling.PatchSize != 512 {
		t.Errorf("expected defaults, got patch size %d", cfg.Tiling.PatchSize)
	}

	cfg, err = Load("")
	if err != nil || cfg.Server.Port != 8080 {
		t.Errorf("Load(\"\"): got %v, %v", cfg, err)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"unknown extension", "dispatcher.json", `{}`},
		{"bad yaml", "bad.yaml", "server: [unterminated"},
		{"bad toml", "bad.toml", "[server\nport = 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfigFile(t, tt.file, tt.content)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero port", func(c *Config) { c.Server.Port = 0 }},
		{"zero max jobs", func(c *Config) { c.Server.MaxConcurrentJobs = 0 }},
		{"empty url", func(c *Config) { c.Inference.URL = " " }},
		{"empty model", func(c *Config) { c.Inference.Model = "" }},
		{"zero retries", func(c *Config) { c.Inference.MaxRetries = 0 }},
		{"zero retry delay", func(c *Config) { c.Inference.RetryDelaySeconds = 0 }},
		{"negative timeout", func(c *Config) { c.Inference.TimeoutSeconds = -1 }},
		{"zero patch", func(c *Config) { c.Tiling.PatchSize = 0 }},
		{"negative stride", func(c *Config) { c.Tiling.Stride = -1 }},
		{"zero scaling", func(c *Config) { c.Tiling.ScalingFactor = 0 }},
		{"too many classes", func(c *Config) { c.Tiling.NumClasses = 300 }},
		{"unknown vote mode", func(c *Config) { c.Tiling.VoteMode = "majority" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestScene(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Tiling.VoteMode = "tile"
	cfg.Inference.TimeoutSeconds = 30
	cfg.Server.ScratchDir = "/scratch"

	sc := cfg.Scene()
	if sc.PatchSize != 512 || sc.Stride != 256 || sc.ScalingFactor != 6 || sc.NumClasses != 3 {
		t.Errorf("tiling: got %+v", sc)
	}
	if sc.VoteMode != aggregate.VoteTile || sc.ScratchDir != "/scratch" {
		t.Errorf("vote mode / scratch: got %q / %q", sc.VoteMode, sc.ScratchDir)
	}
	if sc.Inference.ModelName != "Segmentor" || sc.Inference.RetryDelay != 4*time.Second || sc.Inference.Timeout != 30*time.Second {
		t.Errorf("inference: got %+v", sc.Inference)
	}
}
