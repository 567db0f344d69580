// Package config loads finimport settings from environment variables.
// Defaults are applied for unset values and everything is validated up front
// so a misconfigured server or CLI run fails before touching any data.
package config

import (
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Import   ImportConfig
	Security SecurityConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	ReadTimeout  time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"60s"`
	IdleTimeout  time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout bounds graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// DatabaseConfig holds database connection settings.
// The URL is only required by commands that talk to Postgres; see RequireDatabase.
type DatabaseConfig struct {
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	MaxConns        int           `env:"DB_MAX_CONNS" default:"20"`
	MinConns        int           `env:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// ImportConfig holds import pipeline settings.
type ImportConfig struct {
	// BatchSize is the number of rows committed per transaction (default: 10)
	BatchSize int `env:"IMPORT_BATCH_SIZE" default:"10"`

	// BatchSizes overrides BatchSize per entity, e.g. "expense=25,debt=5"
	BatchSizes []string `env:"IMPORT_BATCH_SIZES"`

	// BatchTimeout bounds a single batch transaction (default: 30s)
	BatchTimeout time.Duration `env:"IMPORT_BATCH_TIMEOUT" default:"30s"`

	// MaxFileSize is the largest accepted upload in bytes (default: 10MB)
	MaxFileSize int64 `env:"IMPORT_MAX_FILE_SIZE" default:"10485760"`

	// MaxConcurrent is the number of imports allowed to persist at once (default: 5)
	MaxConcurrent int `env:"IMPORT_MAX_CONCURRENT" default:"5"`

	// MaxWaitTime is how long an import waits for a free slot (default: 30s)
	MaxWaitTime time.Duration `env:"IMPORT_MAX_WAIT_TIME" default:"30s"`

	// AutoCreateCategories creates missing categories instead of rejecting rows
	AutoCreateCategories bool `env:"IMPORT_AUTO_CREATE_CATEGORIES" default:"false"`

	// RunTTL is how long an idle import run keeps its correction candidates (default: 1h)
	RunTTL time.Duration `env:"IMPORT_RUN_TTL" default:"1h"`

	// SweepSchedule is the cron spec for evicting idle runs (default: @every 5m)
	SweepSchedule string `env:"IMPORT_SWEEP_SCHEDULE" default:"@every 5m"`

	// SchemaFile optionally points at a YAML file overriding the built-in schemas
	SchemaFile string `env:"SCHEMA_FILE"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// RequireAPIKey enables X-API-Key authentication on /api routes
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted keys
	APIKeys []string `env:"API_KEYS"`

	// RateLimit is requests per minute per client IP; 0 disables (default: 100)
	RateLimit int `env:"RATE_LIMIT_PER_MINUTE" default:"100"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}
