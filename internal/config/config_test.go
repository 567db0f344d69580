package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Database: DatabaseConfig{MaxConns: 20, MinConns: 2},
		Server:   ServerConfig{Port: 8080, ShutdownTimeout: time.Second},
		Import: ImportConfig{
			BatchSize:     10,
			BatchTimeout:  time.Second,
			MaxFileSize:   1,
			MaxConcurrent: 1,
			MaxWaitTime:   time.Second,
			RunTTL:        time.Hour,
			SweepSchedule: "@every 5m",
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// =============================================================================
// Load
// =============================================================================

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 10, cfg.Import.BatchSize)
	assert.Equal(t, 30*time.Second, cfg.Import.BatchTimeout)
	assert.Equal(t, int64(10485760), cfg.Import.MaxFileSize)
	assert.Equal(t, "@every 5m", cfg.Import.SweepSchedule)
	assert.False(t, cfg.Import.AutoCreateCategories)
}

func TestLoad_OverrideDefaults(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("IMPORT_BATCH_SIZE", "50")
	t.Setenv("IMPORT_AUTO_CREATE_CATEGORIES", "true")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 50, cfg.Import.BatchSize)
	assert.True(t, cfg.Import.AutoCreateCategories)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_AltEnvVar(t *testing.T) {
	t.Setenv("DB_URL", "postgres://localhost/alttest")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres://localhost/alttest", cfg.Database.URL)
	assert.NoError(t, cfg.RequireDatabase())
}

func TestLoad_Duration(t *testing.T) {
	t.Setenv("IMPORT_BATCH_TIMEOUT", "45s")
	t.Setenv("IMPORT_RUN_TTL", "1m30s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, cfg.Import.BatchTimeout)
	assert.Equal(t, 90*time.Second, cfg.Import.RunTTL)
}

func TestLoad_InvalidInteger(t *testing.T) {
	t.Setenv("IMPORT_BATCH_SIZE", "ten")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "IMPORT_BATCH_SIZE")
}

func TestLoad_CommaSeparatedSlice(t *testing.T) {
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8, 172.16.0.0/12 , 192.168.0.0/16")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16"}, cfg.Security.TrustedProxies)
}

// =============================================================================
// Validate
// =============================================================================

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"invalid port", func(c *Config) { c.Server.Port = 99999 }, "SERVER_PORT"},
		{"zero batch size", func(c *Config) { c.Import.BatchSize = 0 }, "IMPORT_BATCH_SIZE must be positive"},
		{"bad override", func(c *Config) { c.Import.BatchSizes = []string{"expense"} }, "entity=size"},
		{"non-positive override", func(c *Config) { c.Import.BatchSizes = []string{"debt=0"} }, "positive size"},
		{"api keys missing", func(c *Config) { c.Security.RequireAPIKey = true }, "API_KEYS"},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, "LOG_LEVEL"},
		{"empty sweep schedule", func(c *Config) { c.Import.SweepSchedule = " " }, "IMPORT_SWEEP_SCHEDULE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Port = 0
	cfg.Import.BatchSize = 0
	cfg.Logging.Format = "xml"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SERVER_PORT")
	assert.Contains(t, err.Error(), "IMPORT_BATCH_SIZE")
	assert.Contains(t, err.Error(), "LOG_FORMAT")
}

func TestRequireDatabase(t *testing.T) {
	cfg := validConfig()
	assert.EqualError(t, cfg.RequireDatabase(), "DATABASE_URL is required")
}

func TestBatchSizeFor(t *testing.T) {
	cfg := validConfig()
	cfg.Import.BatchSizes = []string{"expense=25", " Debt = 5 "}

	assert.Equal(t, 25, cfg.Import.BatchSizeFor("expense"))
	assert.Equal(t, 5, cfg.Import.BatchSizeFor("debt"))
	assert.Equal(t, 10, cfg.Import.BatchSizeFor("budget"))
}

func TestString_MasksSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.Database.URL = "postgres://user:hunter2@db/finance"
	cfg.Security.APIKeys = []string{"secret-key"}

	s := cfg.String()
	assert.NotContains(t, s, "hunter2")
	assert.NotContains(t, s, "secret-key")
	assert.Contains(t, s, "[MASKED]")
}
