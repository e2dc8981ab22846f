// Package config handles configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/ricesearch/rankeval/internal/pkg/security"
)

// Config holds all application configuration.
type Config struct {
	// Server configuration
	Host string `envconfig:"RANKEVAL_HOST" yaml:"host"`
	Port int    `envconfig:"RANKEVAL_PORT" yaml:"port"`

	// Metric defaults
	Metric MetricConfig `yaml:"metric"`

	// Distributed run configuration
	Dist DistConfig `yaml:"dist"`

	// Logging configuration
	Log LogConfig `yaml:"log"`

	// Security configuration
	Security SecurityConfig `yaml:"security"`

	// Observability configuration
	Observability ObservabilityConfig `yaml:"observability"`
}

// MetricConfig holds the default MRR settings.
type MetricConfig struct {
	EmptyTargetAction string `envconfig:"RANKEVAL_EMPTY_TARGET_ACTION" yaml:"empty_target_action"`
	IgnoreIndex       *int64 `envconfig:"RANKEVAL_IGNORE_INDEX" yaml:"ignore_index"`
	TopK              int    `envconfig:"RANKEVAL_TOP_K" yaml:"top_k"` // 0 = all items
	Aggregation       string `envconfig:"RANKEVAL_AGGREGATION" yaml:"aggregation"`
}

// DistConfig holds the settings of one rank in a distributed run.
type DistConfig struct {
	WorldSize    int           `envconfig:"RANKEVAL_WORLD_SIZE" yaml:"world_size"`
	Rank         int           `envconfig:"RANKEVAL_RANK" yaml:"rank"`
	RunID        string        `envconfig:"RANKEVAL_RUN_ID" yaml:"run_id"`
	Backend      string        `envconfig:"RANKEVAL_DIST_BACKEND" yaml:"backend"`
	KafkaBrokers string        `envconfig:"RANKEVAL_KAFKA_BROKERS" yaml:"kafka_brokers"`
	KafkaGroup   string        `envconfig:"RANKEVAL_KAFKA_GROUP" yaml:"kafka_group"`
	RedisURL     string        `envconfig:"RANKEVAL_REDIS_URL" yaml:"redis_url"`
	Timeout      time.Duration `envconfig:"RANKEVAL_SYNC_TIMEOUT" yaml:"timeout"`
	EventLog     string        `envconfig:"RANKEVAL_EVENT_LOG" yaml:"event_log"` // JSONL journal of published bus events
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `envconfig:"RANKEVAL_LOG_LEVEL" yaml:"level"`
	Format string `envconfig:"RANKEVAL_LOG_FORMAT" yaml:"format"`
}

// SecurityConfig holds security settings.
type SecurityConfig struct {
	RateLimit float64 `envconfig:"RANKEVAL_RATE_LIMIT" yaml:"rate_limit"` // requests/s per client, 0 = disabled
	Burst     int     `envconfig:"RANKEVAL_RATE_BURST" yaml:"burst"`
}

// ObservabilityConfig holds observability settings.
type ObservabilityConfig struct {
	MetricsEnabled bool   `envconfig:"RANKEVAL_METRICS_ENABLED" yaml:"metrics_enabled"`
	MetricsPath    string `envconfig:"RANKEVAL_METRICS_PATH" yaml:"metrics_path"`
}

// Load loads configuration from environment variables and optional config file.
func Load(configPath string) (*Config, error) {
	cfg := &Config{}

	setDefaults(cfg)

	// YAML file overrides defaults
	if configPath != "" {
		if err := loadFromFile(cfg, configPath); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	// Environment has the highest priority
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("processing env config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables only.
func LoadFromEnv() (*Config, error) {
	return Load("")
}

func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

// Defaults returns a configuration holding only default values.
func Defaults() *Config {
	cfg := &Config{}
	setDefaults(cfg)
	return cfg
}

func setDefaults(cfg *Config) {
	cfg.Host = "0.0.0.0"
	cfg.Port = 8080

	cfg.Metric = MetricConfig{
		EmptyTargetAction: "neg",
		Aggregation:       "mean",
	}

	cfg.Dist = DistConfig{
		WorldSize:  1,
		Rank:       0,
		Backend:    "memory",
		KafkaGroup: "rankeval",
		RedisURL:   "redis://localhost:6379",
		Timeout:    5 * time.Minute,
	}

	cfg.Log = LogConfig{
		Level:  "info",
		Format: "text",
	}

	cfg.Security = SecurityConfig{
		RateLimit: 0,
		Burst:     50,
	}

	cfg.Observability = ObservabilityConfig{
		MetricsEnabled: true,
		MetricsPath:    "/metrics",
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, "port must be between 1 and 65535")
	}

	// Metric validation
	validActions := map[string]bool{"skip": true, "neg": true, "pos": true, "error": true}
	if !validActions[c.Metric.EmptyTargetAction] {
		errs = append(errs, fmt.Sprintf("invalid empty_target_action: %s (must be skip, neg, pos, or error)", c.Metric.EmptyTargetAction))
	}

	if c.Metric.TopK < 0 {
		errs = append(errs, "top_k must be positive (0 disables it)")
	}

	validAggregations := map[string]bool{"mean": true, "median": true, "min": true, "max": true}
	if !validAggregations[c.Metric.Aggregation] {
		errs = append(errs, fmt.Sprintf("invalid aggregation: %s (must be mean, median, min, or max)", c.Metric.Aggregation))
	}

	// Dist validation
	if c.Dist.WorldSize < 1 {
		errs = append(errs, "world_size must be positive")
	}

	if c.Dist.Rank < 0 || c.Dist.Rank >= c.Dist.WorldSize {
		errs = append(errs, fmt.Sprintf("rank must be between 0 and world_size-1, got %d", c.Dist.Rank))
	}

	validBackends := map[string]bool{"memory": true, "kafka": true, "redis": true}
	if !validBackends[c.Dist.Backend] {
		errs = append(errs, fmt.Sprintf("invalid dist backend: %s (must be memory, kafka, or redis)", c.Dist.Backend))
	}

	if c.Dist.Backend == "kafka" && strings.TrimSpace(c.Dist.KafkaBrokers) == "" {
		errs = append(errs, "kafka_brokers is required for the kafka backend")
	}

	if c.Dist.Backend == "redis" && c.Dist.RedisURL == "" {
		errs = append(errs, "redis_url is required for the redis backend")
	}

	if c.Dist.Backend == "redis" && c.Dist.EventLog != "" {
		errs = append(errs, "event_log requires a bus backend (memory or kafka)")
	}

	if c.Dist.WorldSize > 1 && c.Dist.Backend != "memory" && c.Dist.RunID == "" {
		errs = append(errs, "run_id is required when ranks run in separate processes")
	}

	if c.Dist.RunID != "" {
		if err := security.ValidateRunID(c.Dist.RunID); err != nil {
			errs = append(errs, err.Error())
		}
	}

	if c.Dist.Timeout < 0 {
		errs = append(errs, "timeout must not be negative")
	}

	// Log validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("invalid log level: %s (must be debug, info, warn, or error)", c.Log.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		errs = append(errs, fmt.Sprintf("invalid log format: %s (must be text or json)", c.Log.Format))
	}

	if c.Security.RateLimit < 0 {
		errs = append(errs, "rate_limit must not be negative")
	}

	if c.Security.RateLimit > 0 && c.Security.Burst < 1 {
		errs = append(errs, "burst must be positive when rate limiting is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// Address returns the server address.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IsDistributed reports whether this process is one rank of several.
func (c *Config) IsDistributed() bool {
	return c.Dist.WorldSize > 1
}
