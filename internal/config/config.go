// Package config provides configuration loading for scene-dispatcher.
// Files are YAML or TOML, chosen by extension; missing values keep their defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/ironsheep/scene-dispatcher/internal/aggregate"
	"github.com/ironsheep/scene-dispatcher/internal/inference"
	"github.com/ironsheep/scene-dispatcher/internal/logging"
	"github.com/ironsheep/scene-dispatcher/internal/scene"
)

// Config is the process configuration. It is fixed at startup.
type Config struct {
	// Server parameters
	Server struct {
		// Port is the HTTP listen port
		Port int `yaml:"port" toml:"port"`

		// MaxConcurrentJobs bounds the number of scene jobs running at once
		MaxConcurrentJobs int `yaml:"max_concurrent_jobs" toml:"max_concurrent_jobs"`

		// CORSOrigins enables CORS for the listed origins; empty disables it
		CORSOrigins []string `yaml:"cors_origins" toml:"cors_origins"`

		// ScratchDir holds vote count rasters; empty means the system temp dir
		ScratchDir string `yaml:"scratch_dir" toml:"scratch_dir"`
	} `yaml:"server" toml:"server"`

	// Inference endpoint parameters
	Inference struct {
		URL               string `yaml:"url" toml:"url"`
		Model             string `yaml:"model" toml:"model"`
		ModelVersion      string `yaml:"model_version" toml:"model_version"`
		MaxRetries        int    `yaml:"max_retries" toml:"max_retries"`
		RetryDelaySeconds int    `yaml:"retry_delay_seconds" toml:"retry_delay_seconds"`

		// TimeoutSeconds bounds one inference request; 0 disables the timeout
		TimeoutSeconds int `yaml:"timeout_seconds" toml:"timeout_seconds"`
	} `yaml:"inference" toml:"inference"`

	// Tiling and voting parameters
	Tiling struct {
		PatchSize     int    `yaml:"patch_size" toml:"patch_size"`
		Stride        int    `yaml:"stride" toml:"stride"`
		ScalingFactor int    `yaml:"scaling_factor" toml:"scaling_factor"`
		NumClasses    int    `yaml:"num_classes" toml:"num_classes"`
		VoteMode      string `yaml:"vote_mode" toml:"vote_mode"`
	} `yaml:"tiling" toml:"tiling"`

	Log logging.Config `yaml:"log" toml:"log"`

	// Verbose enables debug logging
	Verbose bool `yaml:"verbose" toml:"verbose"`
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Port = 8080
	cfg.Server.MaxConcurrentJobs = 8

	cfg.Inference.URL = "localhost:8000"
	cfg.Inference.Model = "Segmentor"
	cfg.Inference.MaxRetries = inference.DefaultMaxRetries
	cfg.Inference.RetryDelaySeconds = int(inference.DefaultRetryDelay / time.Second)
	cfg.Inference.TimeoutSeconds = 300

	cfg.Tiling.PatchSize = 512
	cfg.Tiling.Stride = 256
	cfg.Tiling.ScalingFactor = 6
	cfg.Tiling.NumClasses = 3
	cfg.Tiling.VoteMode = string(aggregate.VoteAccumulate)

	cfg.Log.MaxSizeMB = 100
	cfg.Log.MaxAgeDays = 30

	return cfg
}

// Load reads the configuration file at path over the defaults.
//
// An empty path or a file that does not exist yields the defaults. ".yaml" and
// ".yml" files are parsed as YAML, ".toml" files as TOML.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		logging.Warningf("Config file %s not found, using defaults", path)
		return cfg, nil
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("error parsing config file %s: %w", path, err)
		}
	case ".toml":
		md, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("error parsing config file %s: %w", path, err)
		}
		for _, key := range md.Undecoded() {
			logging.Warningf("Unknown config key %q in %s", key.String(), path)
		}
	default:
		return nil, fmt.Errorf("unsupported config file extension %q (want .yaml, .yml or .toml)", ext)
	}

	return cfg, nil
}

// Validate checks that every value is in range.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...interface{}) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Server.Port > 0 && c.Server.Port < 65536, "server.port %d out of range", c.Server.Port)
	check(c.Server.MaxConcurrentJobs > 0, "server.max_concurrent_jobs must be positive, got %d", c.Server.MaxConcurrentJobs)

	check(strings.TrimSpace(c.Inference.URL) != "", "inference.url is required")
	check(c.Inference.Model != "", "inference.model is required")
	check(c.Inference.MaxRetries > 0, "inference.max_retries must be positive, got %d", c.Inference.MaxRetries)
	check(c.Inference.RetryDelaySeconds > 0, "inference.retry_delay_seconds must be positive, got %d", c.Inference.RetryDelaySeconds)
	check(c.Inference.TimeoutSeconds >= 0, "inference.timeout_seconds must not be negative")

	check(c.Tiling.PatchSize > 0, "tiling.patch_size must be positive, got %d", c.Tiling.PatchSize)
	check(c.Tiling.Stride > 0, "tiling.stride must be positive, got %d", c.Tiling.Stride)
	check(c.Tiling.ScalingFactor > 0, "tiling.scaling_factor must be positive, got %d", c.Tiling.ScalingFactor)
	check(c.Tiling.NumClasses > 0 && c.Tiling.NumClasses <= 256, "tiling.num_classes must be in 1..256, got %d", c.Tiling.NumClasses)
	if _, err := aggregate.ParseVoteMode(c.Tiling.VoteMode); err != nil {
		errs = append(errs, fmt.Errorf("tiling.vote_mode: %w", err))
	}

	return errors.Join(errs...)
}

// Scene returns the scene job parameters. Call Validate first.
func (c *Config) Scene() scene.Config {
	mode, _ := aggregate.ParseVoteMode(c.Tiling.VoteMode)
	return scene.Config{
		PatchSize:     c.Tiling.PatchSize,
		Stride:        c.Tiling.Stride,
		ScalingFactor: c.Tiling.ScalingFactor,
		NumClasses:    c.Tiling.NumClasses,
		VoteMode:      mode,
		ScratchDir:    c.Server.ScratchDir,
		Inference: inference.Config{
			URL:          c.Inference.URL,
			ModelName:    c.Inference.Model,
			ModelVersion: c.Inference.ModelVersion,
			MaxRetries:   c.Inference.MaxRetries,
			RetryDelay:   time.Duration(c.Inference.RetryDelaySeconds) * time.Second,
			Timeout:      time.Duration(c.Inference.TimeoutSeconds) * time.Second,
		},
	}
}
