// Package config loads and validates patlas configuration from YAML with
// environment-variable overrides. Defaults are complete: the platform runs
// with zero configuration files present.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all patlas configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Message bus
	Bus BusConfig `yaml:"bus"`

	// Load balancer
	Balancer BalancerConfig `yaml:"balancer"`

	// Task registry
	Registry RegistryConfig `yaml:"registry"`

	// Collaboration manager
	Collab CollabConfig `yaml:"collab"`

	// Search aggregation
	Search SearchConfig `yaml:"search"`

	// Analysis algorithms
	Analysis AnalysisConfig `yaml:"analysis"`

	// Quality control
	Quality QualityConfig `yaml:"quality"`

	// Report pipeline
	Report ReportConfig `yaml:"report"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// BusConfig configures the message bus.
type BusConfig struct {
	HistorySize   int `yaml:"history_size"`
	QueueCapacity int `yaml:"queue_capacity"` // 0 = unbounded
}

// BalancerConfig configures worker selection.
type BalancerConfig struct {
	PerformanceWindow int `yaml:"performance_window"`
	DefaultCapacity   int `yaml:"default_capacity"`
}

// RegistryConfig configures task bookkeeping.
type RegistryConfig struct {
	JournalPath string `yaml:"journal_path"` // empty = journal disabled
}

// CollabConfig configures the collaboration manager.
type CollabConfig struct {
	HeartbeatTimeout string            `yaml:"heartbeat_timeout"`
	SweepInterval    string            `yaml:"sweep_interval"`
	MaxRetries       int               `yaml:"max_retries"`
	Deadlines        map[string]string `yaml:"deadlines"` // task type -> duration
	DefaultDeadline  string            `yaml:"default_deadline"`
}

// SearchConfig configures the search aggregator.
type SearchConfig struct {
	SourceTimeout      string  `yaml:"source_timeout"`
	RetryMax           int     `yaml:"retry_max"`
	RetryBackoff       string  `yaml:"retry_backoff"`
	PaceInterval       string  `yaml:"pace_interval"`
	FailoverCap        int     `yaml:"failover_cap"`
	EmergencyCap       int     `yaml:"emergency_cap"`
	DedupThreshold     float64 `yaml:"dedup_threshold"`
	DiversityCap       int     `yaml:"diversity_cap"`
	BreakerMaxFailures int     `yaml:"breaker_max_failures"`
	BreakerCooldown    string  `yaml:"breaker_cooldown"`
}

// AnalysisConfig configures the analyzers.
type AnalysisConfig struct {
	MinDataPoints    int     `yaml:"min_data_points"`
	MinSpanDays      int     `yaml:"min_span_days"`
	MinDistinctYears int     `yaml:"min_distinct_years"`
	PredictionYears  int     `yaml:"prediction_years"`
	MAWindow         int     `yaml:"ma_window"`
	SmoothingAlpha   float64 `yaml:"smoothing_alpha"`
}

// QualityConfig configures both quality controllers. PassThreshold gates
// analysis validation; WorkflowPassThreshold gates workflow-level checks.
// The two gates move independently, so both are knobs.
type QualityConfig struct {
	PassThreshold         float64 `yaml:"pass_threshold"`
	WorkflowPassThreshold float64 `yaml:"workflow_pass_threshold"`
	CacheTTL              string  `yaml:"cache_ttl"`
	CacheCapacity         int     `yaml:"cache_capacity"`
	VersionRetentionDays  int     `yaml:"version_retention_days"`
	VersionsDBPath        string  `yaml:"versions_db_path"` // empty = in-memory
	AlertCapacity         int     `yaml:"alert_capacity"`
}

// ReportConfig configures report generation and storage.
type ReportConfig struct {
	OutputDir      string   `yaml:"output_dir"`
	MaxVersions    int      `yaml:"max_versions"`
	DefaultFormats []string `yaml:"default_formats"`
}

// LoggingConfig configures the zap logger construction.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // json | console
	File   string `yaml:"file"`   // empty = stderr
}

// DefaultConfig returns the full default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "patlas",
		Version: "1.0.0",

		Bus: BusConfig{
			HistorySize:   500,
			QueueCapacity: 0,
		},

		Balancer: BalancerConfig{
			PerformanceWindow: 100,
			DefaultCapacity:   5,
		},

		Registry: RegistryConfig{
			JournalPath: "",
		},

		Collab: CollabConfig{
			HeartbeatTimeout: "5m",
			SweepInterval:    "30s",
			MaxRetries:       2,
			Deadlines: map[string]string{
				"search":          "45s",
				"analysis":        "60s",
				"report":          "90s",
				"data_collection": "45s",
			},
			DefaultDeadline: "60s",
		},

		Search: SearchConfig{
			SourceTimeout:      "30s",
			RetryMax:           2,
			RetryBackoff:       "1s",
			PaceInterval:       "200ms",
			FailoverCap:        5,
			EmergencyCap:       5,
			DedupThreshold:     0.8,
			DiversityCap:       20,
			BreakerMaxFailures: 3,
			BreakerCooldown:    "30s",
		},

		Analysis: AnalysisConfig{
			MinDataPoints:    3,
			MinSpanDays:      365,
			MinDistinctYears: 3,
			PredictionYears:  3,
			MAWindow:         3,
			SmoothingAlpha:   0.3,
		},

		Quality: QualityConfig{
			PassThreshold:         0.7,
			WorkflowPassThreshold: 0.6,
			CacheTTL:              "1h",
			CacheCapacity:         1000,
			VersionRetentionDays:  30,
			VersionsDBPath:        "",
			AlertCapacity:         100,
		},

		Report: ReportConfig{
			OutputDir:      "data/reports",
			MaxVersions:    5,
			DefaultFormats: []string{"html", "json"},
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			File:   "",
		},
	}
}

// Load loads configuration from a YAML file, falling back to defaults when
// the file does not exist. Environment overrides apply last.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies PATLAS_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if dir := os.Getenv("PATLAS_OUTPUT_DIR"); dir != "" {
		c.Report.OutputDir = dir
	}
	if path := os.Getenv("PATLAS_JOURNAL_PATH"); path != "" {
		c.Registry.JournalPath = path
	}
	if path := os.Getenv("PATLAS_VERSIONS_DB"); path != "" {
		c.Quality.VersionsDBPath = path
	}
	if level := os.Getenv("PATLAS_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if v := os.Getenv("PATLAS_QUALITY_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Quality.PassThreshold = f
		}
	}
}

// Validate rejects configurations the components cannot run with.
func (c *Config) Validate() error {
	if c.Balancer.DefaultCapacity < 1 {
		return fmt.Errorf("balancer.default_capacity must be >= 1, got %d", c.Balancer.DefaultCapacity)
	}
	if c.Balancer.PerformanceWindow < 1 {
		return fmt.Errorf("balancer.performance_window must be >= 1, got %d", c.Balancer.PerformanceWindow)
	}
	if c.Search.DedupThreshold <= 0 || c.Search.DedupThreshold > 1 {
		return fmt.Errorf("search.dedup_threshold must be in (0,1], got %v", c.Search.DedupThreshold)
	}
	if c.Quality.PassThreshold < 0 || c.Quality.PassThreshold > 1 {
		return fmt.Errorf("quality.pass_threshold must be in [0,1], got %v", c.Quality.PassThreshold)
	}
	if c.Quality.CacheCapacity < 1 {
		return fmt.Errorf("quality.cache_capacity must be >= 1, got %d", c.Quality.CacheCapacity)
	}
	if c.Report.MaxVersions < 1 {
		return fmt.Errorf("report.max_versions must be >= 1, got %d", c.Report.MaxVersions)
	}
	if c.Analysis.SmoothingAlpha <= 0 || c.Analysis.SmoothingAlpha >= 1 {
		return fmt.Errorf("analysis.smoothing_alpha must be in (0,1), got %v", c.Analysis.SmoothingAlpha)
	}
	for taskType, d := range c.Collab.Deadlines {
		if _, err := time.ParseDuration(d); err != nil {
			return fmt.Errorf("collab.deadlines[%s]: %w", taskType, err)
		}
	}
	return nil
}

// duration parses s, falling back to def on error or empty input.
func duration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// HeartbeatTimeout returns the worker liveness timeout.
func (c *Config) HeartbeatTimeout() time.Duration {
	return duration(c.Collab.HeartbeatTimeout, 5*time.Minute)
}

// SweepInterval returns the offline-sweep cadence.
func (c *Config) SweepInterval() time.Duration {
	return duration(c.Collab.SweepInterval, 30*time.Second)
}

// DeadlineFor returns the execution deadline for a task type.
func (c *Config) DeadlineFor(taskType string) time.Duration {
	if d, ok := c.Collab.Deadlines[taskType]; ok {
		return duration(d, 60*time.Second)
	}
	return duration(c.Collab.DefaultDeadline, 60*time.Second)
}

// DefaultDeadline returns the deadline applied to unmapped task types.
func (c *Config) DefaultDeadline() time.Duration {
	return duration(c.Collab.DefaultDeadline, 60*time.Second)
}

// SourceTimeout returns the per-call search source timeout.
func (c *Config) SourceTimeout() time.Duration {
	return duration(c.Search.SourceTimeout, 30*time.Second)
}

// RetryBackoff returns the base backoff between source retries.
func (c *Config) RetryBackoff() time.Duration {
	return duration(c.Search.RetryBackoff, time.Second)
}

// PaceInterval returns the minimum spacing between calls to one source.
func (c *Config) PaceInterval() time.Duration {
	return duration(c.Search.PaceInterval, 200*time.Millisecond)
}

// BreakerCooldown returns how long an open source breaker stays open.
func (c *Config) BreakerCooldown() time.Duration {
	return duration(c.Search.BreakerCooldown, 30*time.Second)
}

// CacheTTL returns the quality result cache TTL.
func (c *Config) CacheTTL() time.Duration {
	return duration(c.Quality.CacheTTL, time.Hour)
}
