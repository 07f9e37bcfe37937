package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// EnvPrefix is the prefix for environment variable overrides.
	EnvPrefix = "AUTOMATOOR"

	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultListen is the default API listen address.
	DefaultListen = ":8000"

	// DefaultDatabaseDriver is the default database driver.
	DefaultDatabaseDriver = "sqlite"

	// DefaultSQLitePath is the default SQLite database file.
	DefaultSQLitePath = "automatoor.db"

	// DefaultBaseURL is the default external automation service URL.
	DefaultBaseURL = "https://agent.tinyfish.ai"

	// DefaultEndpointPath is the default automation execution path.
	DefaultEndpointPath = "/api/v1/automation/run"

	// DefaultTimeout is the default execution timeout for one run.
	DefaultTimeout = "300s"

	// DefaultMockMinDelay is the lower bound of the simulated mock latency.
	DefaultMockMinDelay = "500ms"

	// DefaultMockMaxDelay is the upper bound of the simulated mock latency.
	DefaultMockMaxDelay = "2s"

	// DefaultMaxConcurrentRuns is the default worker pool size.
	DefaultMaxConcurrentRuns = 5

	// DefaultQueueSize is the default dispatcher queue capacity.
	DefaultQueueSize = 256

	// DefaultSchedulerSyncInterval is how often scenario schedules are resynced.
	DefaultSchedulerSyncInterval = "1m"

	// DefaultArchivePrefix is the default S3 key prefix for archived runs.
	DefaultArchivePrefix = "results"
)

// Config is the root configuration for automatoor.
type Config struct {
	Global     GlobalConfig     `yaml:"global" mapstructure:"global"`
	API        APIConfig        `yaml:"api" mapstructure:"api"`
	Automation AutomationConfig `yaml:"automation" mapstructure:"automation"`
	Runner     RunnerConfig     `yaml:"runner" mapstructure:"runner"`
	Scheduler  SchedulerConfig  `yaml:"scheduler" mapstructure:"scheduler"`
	Archive    ArchiveConfig    `yaml:"archive" mapstructure:"archive"`
}

// GlobalConfig contains global application settings.
type GlobalConfig struct {
	LogLevel string `yaml:"log_level" mapstructure:"log_level"`
}

// AutomationConfig configures the external automation execution service.
type AutomationConfig struct {
	MockMode       bool       `yaml:"mock_mode" mapstructure:"mock_mode"`
	BaseURL        string     `yaml:"base_url" mapstructure:"base_url"`
	EndpointPath   string     `yaml:"endpoint_path" mapstructure:"endpoint_path"`
	APIKey         string     `yaml:"api_key,omitempty" mapstructure:"api_key"`
	DefaultTimeout string     `yaml:"default_timeout" mapstructure:"default_timeout"`
	Mock           MockConfig `yaml:"mock,omitempty" mapstructure:"mock"`
}

// MockConfig bounds the simulated latency of the mock client.
type MockConfig struct {
	MinDelay string `yaml:"min_delay" mapstructure:"min_delay"`
	MaxDelay string `yaml:"max_delay" mapstructure:"max_delay"`
}

// RunnerConfig configures the run dispatcher.
type RunnerConfig struct {
	// MaxConcurrentRuns bounds the number of runs executing at once.
	MaxConcurrentRuns int  `yaml:"max_concurrent_runs" mapstructure:"max_concurrent_runs"`
	QueueSize         int  `yaml:"queue_size" mapstructure:"queue_size"`
	RecoverOnStart    bool `yaml:"recover_on_start" mapstructure:"recover_on_start"`
}

// SchedulerConfig configures periodic triggering from scenario run settings.
type SchedulerConfig struct {
	Enabled      bool   `yaml:"enabled" mapstructure:"enabled"`
	SyncInterval string `yaml:"sync_interval" mapstructure:"sync_interval"`
}

// ArchiveConfig configures where terminal runs are archived.
type ArchiveConfig struct {
	S3 S3ArchiveConfig `yaml:"s3,omitempty" mapstructure:"s3"`
}

// S3ArchiveConfig contains S3 settings for run archiving.
type S3ArchiveConfig struct {
	Enabled         bool   `yaml:"enabled" mapstructure:"enabled"`
	EndpointURL     string `yaml:"endpoint_url,omitempty" mapstructure:"endpoint_url"`
	Region          string `yaml:"region,omitempty" mapstructure:"region"`
	Bucket          string `yaml:"bucket" mapstructure:"bucket"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `yaml:"force_path_style" mapstructure:"force_path_style"`
	Prefix          string `yaml:"prefix,omitempty" mapstructure:"prefix"`
}

// setDefaults registers every known key. A key viper has never seen is
// not eligible for environment overrides, so keys without a meaningful
// default are registered with their zero value.
func setDefaults(v *viper.Viper) {
	v.SetDefault("global.log_level", DefaultLogLevel)

	v.SetDefault("api.server.listen", DefaultListen)
	v.SetDefault("api.server.cors_origins", []string{})
	v.SetDefault("api.server.rate_limit.enabled", false)
	v.SetDefault("api.server.rate_limit.public.requests_per_minute", 600)
	v.SetDefault("api.server.rate_limit.trigger.requests_per_minute", 60)

	v.SetDefault("api.database.driver", DefaultDatabaseDriver)
	v.SetDefault("api.database.sqlite.path", DefaultSQLitePath)
	v.SetDefault("api.database.postgres.host", "")
	v.SetDefault("api.database.postgres.port", 0)
	v.SetDefault("api.database.postgres.user", "")
	v.SetDefault("api.database.postgres.password", "")
	v.SetDefault("api.database.postgres.database", "")
	v.SetDefault("api.database.postgres.ssl_mode", "")

	v.SetDefault("automation.mock_mode", true)
	v.SetDefault("automation.base_url", DefaultBaseURL)
	v.SetDefault("automation.endpoint_path", DefaultEndpointPath)
	v.SetDefault("automation.api_key", "")
	v.SetDefault("automation.default_timeout", DefaultTimeout)
	v.SetDefault("automation.mock.min_delay", DefaultMockMinDelay)
	v.SetDefault("automation.mock.max_delay", DefaultMockMaxDelay)

	v.SetDefault("runner.max_concurrent_runs", DefaultMaxConcurrentRuns)
	v.SetDefault("runner.queue_size", DefaultQueueSize)
	v.SetDefault("runner.recover_on_start", true)

	v.SetDefault("scheduler.enabled", false)
	v.SetDefault("scheduler.sync_interval", DefaultSchedulerSyncInterval)

	v.SetDefault("archive.s3.enabled", false)
	v.SetDefault("archive.s3.endpoint_url", "")
	v.SetDefault("archive.s3.region", "")
	v.SetDefault("archive.s3.bucket", "")
	v.SetDefault("archive.s3.access_key_id", "")
	v.SetDefault("archive.s3.secret_access_key", "")
	v.SetDefault("archive.s3.force_path_style", false)
	v.SetDefault("archive.s3.prefix", DefaultArchivePrefix)
}

// Load reads and merges the configuration files in order, then applies
// AUTOMATOOR_* environment overrides. Later files win over earlier ones.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		if err := v.MergeConfig(bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// applyDefaults fills in values that depend on other settings.
func (c *Config) applyDefaults() {
	if c.Global.LogLevel == "" {
		c.Global.LogLevel = DefaultLogLevel
	}

	if c.API.Database.Driver == "postgres" {
		if c.API.Database.Postgres.Port == 0 {
			c.API.Database.Postgres.Port = 5432
		}

		if c.API.Database.Postgres.SSLMode == "" {
			c.API.Database.Postgres.SSLMode = "disable"
		}
	}

	if c.Runner.MaxConcurrentRuns <= 0 {
		c.Runner.MaxConcurrentRuns = DefaultMaxConcurrentRuns
	}

	if c.Runner.QueueSize <= 0 {
		c.Runner.QueueSize = DefaultQueueSize
	}

	if c.Archive.S3.Prefix == "" {
		c.Archive.S3.Prefix = DefaultArchivePrefix
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if err := c.API.Database.Validate(); err != nil {
		return fmt.Errorf("api.database: %w", err)
	}

	if err := c.Automation.Validate(); err != nil {
		return fmt.Errorf("automation: %w", err)
	}

	if c.Scheduler.Enabled {
		if err := c.Scheduler.Validate(); err != nil {
			return fmt.Errorf("scheduler: %w", err)
		}
	}

	if c.Archive.S3.Enabled && c.Archive.S3.Bucket == "" {
		return fmt.Errorf("archive.s3: bucket is required when enabled")
	}

	return nil
}

// Validate checks the automation settings. A missing api key is not an
// error here: live mode reports it per run instead.
func (c *AutomationConfig) Validate() error {
	for name, value := range map[string]string{
		"default_timeout": c.DefaultTimeout,
		"mock.min_delay":  c.Mock.MinDelay,
		"mock.max_delay":  c.Mock.MaxDelay,
	} {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, value, err)
		}

		if d < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}

	if c.Timeout() <= 0 {
		return fmt.Errorf("default_timeout must be positive")
	}

	if c.MockDelayMin() > c.MockDelayMax() {
		return fmt.Errorf("mock.min_delay must not exceed mock.max_delay")
	}

	if !c.MockMode && c.BaseURL == "" {
		return fmt.Errorf("base_url is required when mock mode is disabled")
	}

	return nil
}

// Timeout returns the parsed default execution timeout.
func (c *AutomationConfig) Timeout() time.Duration {
	return parseDurationOr(c.DefaultTimeout, 300*time.Second)
}

// MockDelayMin returns the parsed lower mock delay bound.
func (c *AutomationConfig) MockDelayMin() time.Duration {
	return parseDurationOr(c.Mock.MinDelay, 500*time.Millisecond)
}

// MockDelayMax returns the parsed upper mock delay bound.
func (c *AutomationConfig) MockDelayMax() time.Duration {
	return parseDurationOr(c.Mock.MaxDelay, 2*time.Second)
}

// Validate checks the scheduler settings.
func (c *SchedulerConfig) Validate() error {
	d, err := time.ParseDuration(c.SyncInterval)
	if err != nil {
		return fmt.Errorf("invalid sync_interval %q: %w", c.SyncInterval, err)
	}

	if d <= 0 {
		return fmt.Errorf("sync_interval must be positive")
	}

	return nil
}

// Interval returns the parsed scheduler resync interval.
func (c *SchedulerConfig) Interval() time.Duration {
	return parseDurationOr(c.SyncInterval, time.Minute)
}

func parseDurationOr(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}

	return d
}
