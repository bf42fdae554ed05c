// Package config loads service settings from an optional YAML file and the
// environment. Environment variables win over the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Redis locates the server backing the job registry and task queue.
type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Config is the service configuration. See Load for how it is assembled.
type Config struct {
	APIAddr     string `yaml:"api_addr"`
	ExportDir   string `yaml:"export_dir"`
	StagingDir  string `yaml:"staging_dir"`
	CatalogDSN  string `yaml:"catalog_dsn"`
	Backend     string `yaml:"backend"`
	Redis       Redis  `yaml:"redis"`
	Queue       string `yaml:"queue"`
	Concurrency int    `yaml:"concurrency"`

	RetentionHours int           `yaml:"retention_hours"`
	SweepInterval  time.Duration `yaml:"sweep_interval"`
	JobTTL         time.Duration `yaml:"job_ttl"`
	TaskTimeout    time.Duration `yaml:"task_timeout"`

	AutotaggerURL        string  `yaml:"autotagger_url"`
	AutotagEnabled       bool    `yaml:"autotag_enabled"`
	AutotagMinConfidence float64 `yaml:"autotag_min_confidence"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		APIAddr:              ":8002",
		ExportDir:            "/app/exports",
		CatalogDSN:           "/app/photos.db",
		Backend:              BackendMemory,
		Redis:                Redis{Addr: "redis:6379"},
		Queue:                "exports",
		Concurrency:          4,
		RetentionHours:       24,
		SweepInterval:        time.Hour,
		JobTTL:               7 * 24 * time.Hour,
		TaskTimeout:          2 * time.Hour,
		AutotagMinConfidence: 0.4,
	}
}

// Load builds the config from defaults, the YAML file at path (skipped when
// path is empty) and the environment, in that order.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if cfg.StagingDir == "" {
		cfg.StagingDir = filepath.Join(cfg.ExportDir, ".staging")
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.APIAddr = envOrDefault("EXPORT_API_ADDR", c.APIAddr)
	c.ExportDir = envOrDefault("EXPORT_DIR", c.ExportDir)
	c.StagingDir = envOrDefault("EXPORT_STAGING_DIR", c.StagingDir)
	c.CatalogDSN = envOrDefault("CATALOG_DSN", c.CatalogDSN)
	c.Backend = strings.ToLower(envOrDefault("EXPORT_BACKEND", c.Backend))
	c.Redis.Addr = envOrDefault("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = envOrDefault("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = envInt("REDIS_DB", c.Redis.DB)
	c.Queue = envOrDefault("ASYNQ_QUEUE", c.Queue)
	c.Concurrency = envInt("ASYNQ_CONCURRENCY", c.Concurrency)
	c.RetentionHours = envInt("EXPORT_RETENTION_HOURS", c.RetentionHours)
	c.SweepInterval = envDuration("EXPORT_SWEEP_INTERVAL", c.SweepInterval)
	c.JobTTL = envDuration("EXPORT_JOB_TTL", c.JobTTL)
	c.TaskTimeout = envDuration("EXPORT_TASK_TIMEOUT", c.TaskTimeout)
	c.AutotaggerURL = envOrDefault("AUTOTAGGER_URL", c.AutotaggerURL)
	if v := strings.TrimSpace(os.Getenv("AUTOTAGGER")); v != "" {
		c.AutotagEnabled = strings.EqualFold(v, "true")
	}
	c.AutotagMinConfidence = envFloat("AUTOTAG_MIN_CONFIDENCE", c.AutotagMinConfidence)
}

// Validate rejects settings the service cannot start with.
func (c Config) Validate() error {
	var errs []error
	if c.Backend != BackendMemory && c.Backend != BackendRedis {
		errs = append(errs, fmt.Errorf("backend must be %q or %q, got %q", BackendMemory, BackendRedis, c.Backend))
	}
	if strings.TrimSpace(c.ExportDir) == "" {
		errs = append(errs, errors.New("export_dir is required"))
	}
	if strings.TrimSpace(c.CatalogDSN) == "" {
		errs = append(errs, errors.New("catalog_dsn is required"))
	}
	if c.RetentionHours <= 0 {
		errs = append(errs, errors.New("retention_hours must be positive"))
	}
	if c.Concurrency <= 0 {
		errs = append(errs, errors.New("concurrency must be positive"))
	}
	if c.AutotagEnabled && strings.TrimSpace(c.AutotaggerURL) == "" {
		errs = append(errs, errors.New("autotagger_url is required when autotagging is enabled"))
	}
	return errors.Join(errs...)
}

// Retention is the archive age limit.
func (c Config) Retention() time.Duration {
	return time.Duration(c.RetentionHours) * time.Hour
}

func envOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func envInt(key string, fallback int) int {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	var n int
	_, err := fmt.Sscanf(val, "%d", &n)
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return d
}

func envFloat(key string, fallback float64) float64 {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return fallback
	}
	return f
}
