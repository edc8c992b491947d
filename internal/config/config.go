// Package config loads worker configuration from the environment, with
// an optional TOML file overlay for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Mode selects how the worker runs.
type Mode string

const (
	// ModeService runs the in-process queue plus the HTTP API.
	ModeService Mode = "service"
	// ModeStandalone consumes jobs from the Redis-backed queue.
	ModeStandalone Mode = "standalone"
	// ModeOneshot reads one job from stdin and writes the result to stdout.
	ModeOneshot Mode = "oneshot"
)

// Config is the full worker configuration.
type Config struct {
	Mode Mode `toml:"mode"`

	RedisURL    string `toml:"redis_url"`
	PostgresURL string `toml:"postgres_url"`

	AnalyzerURL    string  `toml:"analyzer_url"`
	AnalyzerAPIKey string  `toml:"analyzer_api_key"`
	AnalyzerRPS    float64 `toml:"analyzer_rps"`
	AnalyzerBurst  int     `toml:"analyzer_burst"`

	CaptionsURL string `toml:"captions_url"`

	WorkerConcurrency int    `toml:"worker_concurrency"`
	TempDir           string `toml:"temp_dir"`
	OutputDir         string `toml:"output_dir"`
	APIBind           string `toml:"api_bind"`

	// Jobs processing longer than this are failed by the reaper.
	StuckJobDeadline time.Duration `toml:"stuck_job_deadline"`

	Verbose bool `toml:"verbose"`
}

// Load builds the configuration from environment variables. If
// REPURPOSE_CONFIG names a TOML file it is read first and the
// environment overrides it.
func Load() (*Config, error) {
	cfg := &Config{
		Mode:              ModeService,
		RedisURL:          "redis://localhost:6379",
		AnalyzerRPS:       2,
		AnalyzerBurst:     4,
		WorkerConcurrency: 2,
		TempDir:           os.TempDir(),
		OutputDir:         "./output",
		APIBind:           ":8085",
		StuckJobDeadline:  30 * time.Minute,
	}

	if path := os.Getenv("REPURPOSE_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.Mode = Mode(getEnv("REPURPOSE_MODE", string(cfg.Mode)))
	cfg.RedisURL = getEnv("REDIS_URL", cfg.RedisURL)
	cfg.PostgresURL = getEnv("DATABASE_URL", cfg.PostgresURL)
	cfg.AnalyzerURL = getEnv("ANALYZER_URL", cfg.AnalyzerURL)
	cfg.AnalyzerAPIKey = getEnv("ANALYZER_API_KEY", cfg.AnalyzerAPIKey)
	cfg.AnalyzerRPS = getEnvFloat("ANALYZER_RPS", cfg.AnalyzerRPS)
	cfg.AnalyzerBurst = getEnvInt("ANALYZER_BURST", cfg.AnalyzerBurst)
	cfg.CaptionsURL = getEnv("CAPTIONS_URL", cfg.CaptionsURL)
	cfg.WorkerConcurrency = getEnvInt("WORKER_CONCURRENCY", cfg.WorkerConcurrency)
	cfg.TempDir = getEnv("TEMP_DIR", cfg.TempDir)
	cfg.OutputDir = getEnv("OUTPUT_DIR", cfg.OutputDir)
	cfg.APIBind = getEnv("API_BIND", cfg.APIBind)
	cfg.StuckJobDeadline = getEnvDuration("STUCK_JOB_DEADLINE", cfg.StuckJobDeadline)
	cfg.Verbose = getEnvBool("VERBOSE", cfg.Verbose)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Mode {
	case ModeService, ModeStandalone, ModeOneshot:
	default:
		return fmt.Errorf("invalid mode %q", c.Mode)
	}
	if c.AnalyzerURL == "" {
		return fmt.Errorf("ANALYZER_URL is required")
	}
	if c.WorkerConcurrency < 1 {
		return fmt.Errorf("worker concurrency must be at least 1, got %d", c.WorkerConcurrency)
	}
	if c.AnalyzerRPS <= 0 {
		return fmt.Errorf("analyzer rps must be positive, got %g", c.AnalyzerRPS)
	}
	if c.Mode == ModeStandalone && c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required in standalone mode")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
