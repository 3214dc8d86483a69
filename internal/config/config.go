// Package config provides centralized configuration management for the importer.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"strconv"
	"time"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Source   SourceConfig
	Import   ImportConfig
	Security SecurityConfig
	Logging  LoggingConfig
}

// ServerConfig holds settings for the import status HTTP server.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing response (default: 30s)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"30s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// Database drivers understood by storage.Open.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// Driver selects the store: postgres or sqlite (default: postgres)
	Driver string `env:"DB_DRIVER" default:"postgres"`

	// URL is the PostgreSQL connection string (required for postgres)
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// SQLitePath is the database file used by the sqlite driver
	SQLitePath string `env:"DB_SQLITE_PATH" default:"data/uniprot.db"`

	// MaxConns is the maximum number of connections in the pool (default: 10)
	MaxConns int `env:"DB_MAX_CONNS" default:"10"`

	// MinConns is the minimum number of connections to keep open (default: 2)
	MinConns int `env:"DB_MIN_CONNS" default:"2"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// SourceConfig describes where the compressed dump comes from.
type SourceConfig struct {
	// URL is a http(s) URL or local path of the .xml.gz dump
	URL string `env:"SOURCE_URL" default:"https://ftp.uniprot.org/pub/databases/uniprot/current_release/knowledgebase/complete/uniprot_sprot.xml.gz"`

	// DataDir caches downloaded files (default: data)
	DataDir string `env:"SOURCE_DATA_DIR" default:"data"`

	// ForceDownload re-fetches files even if cached
	ForceDownload bool `env:"SOURCE_FORCE_DOWNLOAD" default:"false"`

	// CountLines runs the line-count probe before importing to get a progress total
	CountLines bool `env:"SOURCE_COUNT_LINES" default:"true"`

	// DownloadTimeout bounds a single download (default: 2h)
	DownloadTimeout time.Duration `env:"SOURCE_DOWNLOAD_TIMEOUT" default:"2h"`
}

// ImportConfig holds streaming import settings.
type ImportConfig struct {
	// BatchSize is the number of entries parsed per batch (default: 10)
	BatchSize int `env:"IMPORT_BATCH_SIZE" default:"10"`

	// SkipBudget is how many malformed batches or rejected entries are tolerated (default: 0)
	SkipBudget int `env:"IMPORT_SKIP_BUDGET" default:"0"`

	// TaxIDs restricts the import to these NCBI taxonomy identifiers; empty imports all
	TaxIDs []int `env:"IMPORT_TAXIDS"`

	// QueueDepth is the number of batches buffered between pipeline stages (default: 2)
	QueueDepth int `env:"IMPORT_QUEUE_DEPTH" default:"2"`

	// MaxConcurrent is the maximum number of parallel imports in server mode (default: 1)
	MaxConcurrent int `env:"IMPORT_MAX_CONCURRENT" default:"1"`

	// MaxWaitTime is how long to wait for an import slot (default: 5s)
	MaxWaitTime time.Duration `env:"IMPORT_MAX_WAIT_TIME" default:"5s"`

	// Timeout bounds a single import; 0 disables it
	Timeout time.Duration `env:"IMPORT_TIMEOUT" default:"0s"`
}

// SecurityConfig holds settings for the HTTP control API.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// RequireAPIKey protects the import control endpoints with X-API-Key (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted API keys
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
	return c.Host + ":" + strconv.Itoa(c.Port)
}
