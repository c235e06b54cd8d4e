// Package config loads application settings from environment variables.
// Every value has a default except the database connection string, and the
// result is validated as a whole so misconfiguration fails at startup.
package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// Row error policies for batch inserts.
const (
	OnRowErrorContinue = "continue"
	OnRowErrorAbort    = "abort"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Ingest   IngestConfig
	Security SecurityConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8000)
	Port int `env:"SERVER_PORT" default:"8000"`

	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"30s"`
	IdleTimeout     time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"15s"`

	// RequestTimeout bounds a whole request, database work included (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// DatabaseConfig holds relational store settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string (required).
	// DB_URL is accepted as a fallback.
	URL string `env:"DATABASE_URL" envAlt:"DB_URL" required:"true"`

	// ConnectTimeout bounds opening a connection (default: 5s)
	ConnectTimeout time.Duration `env:"DB_CONNECT_TIMEOUT" default:"5s"`

	// ConnectRetries is the number of extra dial attempts (default: 2)
	ConnectRetries int `env:"DB_CONNECT_RETRIES" default:"2"`

	// RetryBackoff is the first delay between dial attempts, doubled after
	// each failure (default: 200ms)
	RetryBackoff time.Duration `env:"DB_RETRY_BACKOFF" default:"200ms"`

	// QueryTimeout bounds each statement (default: 10s)
	QueryTimeout time.Duration `env:"DB_QUERY_TIMEOUT" default:"10s"`

	// Table receives the enriched rows (default: processed_data)
	Table string `env:"DB_TABLE" default:"processed_data"`

	// EnsureSchema creates the table on startup when missing (default: true)
	EnsureSchema bool `env:"DB_ENSURE_SCHEMA" default:"true"`
}

// IngestConfig holds batch processing settings.
type IngestConfig struct {
	// MaxBodyBytes caps the POST /process_data/ body (default: 10MiB)
	MaxBodyBytes int64 `env:"INGEST_MAX_BODY_BYTES" default:"10485760"`

	// MaxRows caps rows per batch (default: 100000)
	MaxRows int `env:"INGEST_MAX_ROWS" default:"100000"`

	// OnRowError is "continue" (insert remaining rows) or "abort" (stop at the
	// first failed insert). Default: continue
	OnRowError string `env:"INGEST_ON_ROW_ERROR" default:"continue"`

	// MaxConcurrent caps batches inserting at once (default: 4)
	MaxConcurrent int `env:"INGEST_MAX_CONCURRENT" default:"4"`

	// MaxWait is how long a batch waits for a free slot (default: 30s)
	MaxWait time.Duration `env:"INGEST_MAX_WAIT" default:"30s"`
}

// SecurityConfig holds API access settings.
type SecurityConfig struct {
	// RequireAPIKey enables X-API-Key checks on data routes (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted keys
	APIKeys []string `env:"API_KEYS"`
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
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// AbortOnRowError reports whether a failed row insert stops the batch.
func (c *IngestConfig) AbortOnRowError() bool {
	return strings.EqualFold(c.OnRowError, OnRowErrorAbort)
}

// String returns a representation safe for logging. The database URL and API
// keys are masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	fmt.Fprintf(&b, "Server: {Addr: %q}, ", c.Server.Addr())
	fmt.Fprintf(&b, "Database: {URL: [MASKED], Table: %q, QueryTimeout: %s}, ",
		c.Database.Table, c.Database.QueryTimeout)
	fmt.Fprintf(&b, "Ingest: {MaxRows: %d, OnRowError: %q, MaxConcurrent: %d}, ",
		c.Ingest.MaxRows, c.Ingest.OnRowError, c.Ingest.MaxConcurrent)
	fmt.Fprintf(&b, "Security: {RequireAPIKey: %v, APIKeys: %d}, ", c.Security.RequireAPIKey, len(c.Security.APIKeys))
	fmt.Fprintf(&b, "Logging: {Level: %q, Format: %q}", c.Logging.Level, c.Logging.Format)
	b.WriteString("}")
	return b.String()
}
