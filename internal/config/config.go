package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Fetch     FetchConfig     `yaml:"fetch"`
	Retention RetentionConfig `yaml:"retention"`
	Schedule  ScheduleConfig  `yaml:"schedule"`
	Server    ServerConfig    `yaml:"server"`
	Notify    NotifyConfig    `yaml:"notify"`
	Worlds    []WorldConfig   `yaml:"worlds"`
}

// DatabaseConfig configures SQLite storage.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// FetchConfig bounds dump downloads.
type FetchConfig struct {
	Timeout string `yaml:"timeout"`
}

// ParseTimeout returns the fetch timeout as time.Duration.
func (f FetchConfig) ParseTimeout() time.Duration {
	d, err := time.ParseDuration(f.Timeout)
	if err != nil {
		return 60 * time.Second
	}
	return d
}

// RetentionConfig controls how many daily snapshots are kept per world.
type RetentionConfig struct {
	KeepDays int `yaml:"keep_days"`
}

// ScheduleConfig configures the periodic ingestion interval.
type ScheduleConfig struct {
	IngestInterval string `yaml:"ingest_interval"`
}

// ParseIngestInterval returns the ingest interval as time.Duration.
func (s ScheduleConfig) ParseIngestInterval() time.Duration {
	d, err := time.ParseDuration(s.IngestInterval)
	if err != nil {
		return 24 * time.Hour
	}
	return d
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// NotifyConfig configures post-ingestion notifications.
type NotifyConfig struct {
	Webhook WebhookConfig `yaml:"webhook"`
}

// WebhookConfig for the generic webhook destination.
type WebhookConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Secret  string `yaml:"secret"`
}

// WorldConfig is one configured game-world source. The engine reads
// only ID and DumpURL; lifecycle belongs to whoever edits the config.
type WorldConfig struct {
	ID      int    `yaml:"id"`
	Name    string `yaml:"name"`
	DumpURL string `yaml:"dump_url"`
	Enabled bool   `yaml:"enabled"`
}

// World returns the configured world with the given id.
func (c *Config) World(id int) (WorldConfig, bool) {
	for _, w := range c.Worlds {
		if w.ID == id {
			return w, true
		}
	}
	return WorldConfig{}, false
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Database:  DatabaseConfig{Path: "./mapwatch.db"},
		Fetch:     FetchConfig{Timeout: "60s"},
		Retention: RetentionConfig{KeepDays: 10},
		Schedule:  ScheduleConfig{IngestInterval: "24h"},
		Server:    ServerConfig{Port: 8080},
	}
}

// Load reads configuration from a YAML file and applies env var overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if cfg.Retention.KeepDays < 1 {
		cfg.Retention.KeepDays = 10
	}
	return cfg, nil
}

// applyEnvOverrides overrides config values with environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MAPWATCH_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("MAPWATCH_WEBHOOK_URL"); v != "" {
		cfg.Notify.Webhook.URL = v
		cfg.Notify.Webhook.Enabled = true
	}
	if v := os.Getenv("MAPWATCH_WEBHOOK_SECRET"); v != "" {
		cfg.Notify.Webhook.Secret = v
	}
}
