package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

func TestLoad_EnvVarOverrides(t *testing.T) {
	configPath := writeConfig(t, `
global:
  log_level: info
api:
  server:
    listen: ":9000"
  database:
    driver: sqlite
    sqlite:
      path: /tmp/original.db
automation:
  mock_mode: true
  base_url: https://original.example.com
runner:
  max_concurrent_runs: 3
`)

	tests := []struct {
		name     string
		envVars  map[string]string
		validate func(t *testing.T, cfg *Config)
	}{
		{
			name:    "no env vars uses yaml values",
			envVars: map[string]string{},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "info", cfg.Global.LogLevel)
				assert.Equal(t, ":9000", cfg.API.Server.Listen)
				assert.Equal(t, "/tmp/original.db", cfg.API.Database.SQLite.Path)
				assert.Equal(t, "https://original.example.com", cfg.Automation.BaseURL)
				assert.Equal(t, 3, cfg.Runner.MaxConcurrentRuns)
			},
		},
		{
			name: "string override - log_level",
			envVars: map[string]string{
				"AUTOMATOOR_GLOBAL_LOG_LEVEL": "debug",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "debug", cfg.Global.LogLevel)
			},
		},
		{
			name: "boolean override - mock_mode false",
			envVars: map[string]string{
				"AUTOMATOOR_AUTOMATION_MOCK_MODE": "false",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.False(t, cfg.Automation.MockMode)
			},
		},
		{
			name: "key absent from yaml - api_key",
			envVars: map[string]string{
				"AUTOMATOOR_AUTOMATION_API_KEY": "secret-key",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "secret-key", cfg.Automation.APIKey)
			},
		},
		{
			name: "integer override - max_concurrent_runs",
			envVars: map[string]string{
				"AUTOMATOOR_RUNNER_MAX_CONCURRENT_RUNS": "12",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 12, cfg.Runner.MaxConcurrentRuns)
			},
		},
		{
			name: "nested field override - archive.s3.bucket",
			envVars: map[string]string{
				"AUTOMATOOR_ARCHIVE_S3_BUCKET": "runs-bucket",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "runs-bucket", cfg.Archive.S3.Bucket)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for key, value := range tt.envVars {
				t.Setenv(key, value)
			}

			cfg, err := Load(configPath)
			require.NoError(t, err)

			tt.validate(t, cfg)
		})
	}
}

func TestLoad_DefaultsAppliedWhenEmpty(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultLogLevel, cfg.Global.LogLevel)
	assert.Equal(t, DefaultListen, cfg.API.Server.Listen)
	assert.Equal(t, DefaultDatabaseDriver, cfg.API.Database.Driver)
	assert.Equal(t, DefaultSQLitePath, cfg.API.Database.SQLite.Path)
	assert.True(t, cfg.Automation.MockMode)
	assert.Equal(t, DefaultBaseURL, cfg.Automation.BaseURL)
	assert.Equal(t, DefaultEndpointPath, cfg.Automation.EndpointPath)
	assert.Equal(t, 300*time.Second, cfg.Automation.Timeout())
	assert.Equal(t, 500*time.Millisecond, cfg.Automation.MockDelayMin())
	assert.Equal(t, 2*time.Second, cfg.Automation.MockDelayMax())
	assert.Equal(t, DefaultMaxConcurrentRuns, cfg.Runner.MaxConcurrentRuns)
	assert.Equal(t, DefaultQueueSize, cfg.Runner.QueueSize)
	assert.True(t, cfg.Runner.RecoverOnStart)
	assert.Equal(t, DefaultArchivePrefix, cfg.Archive.S3.Prefix)

	require.NoError(t, cfg.Validate())
}

func TestLoad_LaterFilesWin(t *testing.T) {
	base := writeConfig(t, `
automation:
  base_url: https://base.example.com
  default_timeout: 10s
`)
	override := writeConfig(t, `
automation:
  default_timeout: 30s
`)

	cfg, err := Load(base, override)
	require.NoError(t, err)

	assert.Equal(t, "https://base.example.com", cfg.Automation.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.Automation.Timeout())
}

func TestLoad_PostgresDefaults(t *testing.T) {
	path := writeConfig(t, `
api:
  database:
    driver: postgres
    postgres:
      host: db
      database: benchmarking
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5432, cfg.API.Database.Postgres.Port)
	assert.Equal(t, "disable", cfg.API.Database.Postgres.SSLMode)
	require.NoError(t, cfg.Validate())
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "invalid: yaml: content:")

	_, err := Load(path)
	require.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(cfg *Config)
		errSubstr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(_ *Config) {},
		},
		{
			name: "unsupported driver",
			mutate: func(cfg *Config) {
				cfg.API.Database.Driver = "mysql"
			},
			errSubstr: "unsupported driver",
		},
		{
			name: "postgres without host",
			mutate: func(cfg *Config) {
				cfg.API.Database.Driver = "postgres"
				cfg.API.Database.Postgres.Database = "db"
			},
			errSubstr: "postgres.host is required",
		},
		{
			name: "invalid timeout",
			mutate: func(cfg *Config) {
				cfg.Automation.DefaultTimeout = "soon"
			},
			errSubstr: "invalid default_timeout",
		},
		{
			name: "inverted mock delays",
			mutate: func(cfg *Config) {
				cfg.Automation.Mock.MinDelay = "3s"
				cfg.Automation.Mock.MaxDelay = "1s"
			},
			errSubstr: "must not exceed",
		},
		{
			name: "live mode without base url",
			mutate: func(cfg *Config) {
				cfg.Automation.MockMode = false
				cfg.Automation.BaseURL = ""
			},
			errSubstr: "base_url is required",
		},
		{
			name: "live mode without api key is still valid",
			mutate: func(cfg *Config) {
				cfg.Automation.MockMode = false
			},
		},
		{
			name: "s3 archive without bucket",
			mutate: func(cfg *Config) {
				cfg.Archive.S3.Enabled = true
			},
			errSubstr: "bucket is required",
		},
		{
			name: "scheduler with bad interval",
			mutate: func(cfg *Config) {
				cfg.Scheduler.Enabled = true
				cfg.Scheduler.SyncInterval = "often"
			},
			errSubstr: "sync_interval",
		},
		{
			name: "scheduler with zero interval",
			mutate: func(cfg *Config) {
				cfg.Scheduler.Enabled = true
				cfg.Scheduler.SyncInterval = "0s"
			},
			errSubstr: "sync_interval must be positive",
		},
		{
			name: "disabled scheduler ignores interval",
			mutate: func(cfg *Config) {
				cfg.Scheduler.SyncInterval = "0s"
			},
		},
		{
			name: "zero timeout",
			mutate: func(cfg *Config) {
				cfg.Automation.DefaultTimeout = "0s"
			},
			errSubstr: "default_timeout must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			require.NoError(t, err)

			tt.mutate(cfg)

			err = cfg.Validate()
			if tt.errSubstr == "" {
				require.NoError(t, err)

				return
			}

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errSubstr)
		})
	}
}
