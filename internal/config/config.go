// Package config provides centralized configuration management for the application.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"net"
	"strconv"
	"time"

	"github.com/JonMunkholm/actionplot/internal/transport"
)

// Config holds all application configuration.
// All settings can be configured via environment variables; the CLI lets
// flags override them.
type Config struct {
	Server   ServerConfig
	Source   SourceConfig
	Pipeline PipelineConfig
	Security SecurityConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" envDefault:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" envDefault:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"15s"`

	// WriteTimeout is the maximum duration for writing response (default: 90s)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"90s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" envDefault:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// JobTimeout bounds one plot request end to end (default: 60s)
	JobTimeout time.Duration `env:"JOB_TIMEOUT" envDefault:"60s"`

	// MaxConcurrentJobs is the number of plot jobs run in parallel (default: 4)
	MaxConcurrentJobs int `env:"JOB_MAX_CONCURRENT" envDefault:"4"`

	// MaxWaitTime is how long a job waits for a slot (default: 30s)
	MaxWaitTime time.Duration `env:"JOB_MAX_WAIT_TIME" envDefault:"30s"`

	// MaxUploadSize caps request bodies in bytes (default: 100MB)
	MaxUploadSize int64 `env:"SERVER_MAX_UPLOAD_SIZE" envDefault:"104857600"`

	// RateLimit is the number of requests allowed per client IP per window; 0 disables (default: 100)
	RateLimit int `env:"SERVER_RATE_LIMIT" envDefault:"100"`

	// RateWindow is the rate limiting window (default: 1m)
	RateWindow time.Duration `env:"SERVER_RATE_WINDOW" envDefault:"1m"`

	// AllowRemoteSources enables ?source= fetching of URLs and S3 objects (default: false)
	AllowRemoteSources bool `env:"SERVER_ALLOW_REMOTE_SOURCES" envDefault:"false"`
}

// SourceConfig holds transport settings for fetching exports.
type SourceConfig struct {
	// HTTPTimeout bounds one HTTP(S) fetch (default: 30s)
	HTTPTimeout time.Duration `env:"SOURCE_HTTP_TIMEOUT" envDefault:"30s"`

	// MaxBytes caps the raw size of a source (default: 256MB)
	MaxBytes int64 `env:"SOURCE_MAX_BYTES" envDefault:"268435456"`

	// UserAgent is sent with HTTP(S) requests
	UserAgent string `env:"SOURCE_USER_AGENT" envDefault:"actionplot"`

	// S3Region is the AWS region for s3:// sources (default: us-east-1)
	S3Region string `env:"SOURCE_S3_REGION" envDefault:"us-east-1"`

	// S3Endpoint is an optional custom endpoint (MinIO, LocalStack)
	S3Endpoint string `env:"SOURCE_S3_ENDPOINT"`

	// S3PathStyle enables path-style addressing (required for MinIO)
	S3PathStyle bool `env:"SOURCE_S3_PATH_STYLE" envDefault:"false"`
}

// PipelineConfig holds decode and grouping defaults.
type PipelineConfig struct {
	// Schema is the registered column layout: generic or dashboard (default: generic)
	Schema string `env:"PLOT_SCHEMA" envDefault:"generic"`

	// Metric is the y-axis metric; empty selects the schema default
	Metric string `env:"PLOT_METRIC"`

	// GroupBy is action, actor, actor_action or category (default: action)
	GroupBy string `env:"PLOT_GROUP_BY" envDefault:"action"`

	// Metrics lists extra numeric columns to decode
	Metrics []string `env:"PLOT_METRICS" envSeparator:","`

	// Workers is the number of decode goroutines; 1 is sequential (default: 1)
	Workers int `env:"PLOT_WORKERS" envDefault:"1"`

	// BatchSize is rows per worker batch (default: 1000)
	BatchSize int `env:"PLOT_BATCH_SIZE" envDefault:"1000"`

	// SessionDate anchors H:MM:SS clock timestamps, as YYYY-MM-DD
	SessionDate string `env:"PLOT_SESSION_DATE"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:","`

	// RequireAPIKey enables API key checks on /api and /plot (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" envDefault:"false"`

	// APIKeys is a comma-separated list of accepted keys
	APIKeys []string `env:"API_KEYS" envSeparator:","`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" envDefault:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" envDefault:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// now is replaced in tests.
var now = time.Now

// SessionTime parses SessionDate. An empty date yields the current UTC date.
func (c *PipelineConfig) SessionTime() (time.Time, error) {
	if c.SessionDate == "" {
		y, m, d := now().UTC().Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
	}
	return time.Parse(time.DateOnly, c.SessionDate)
}

// Transport converts the source settings to a transport configuration
// allowing every source kind.
func (c *SourceConfig) Transport() transport.Config {
	return transport.Config{
		HTTPTimeout: c.HTTPTimeout,
		MaxBytes:    c.MaxBytes,
		UserAgent:   c.UserAgent,
		S3Region:    c.S3Region,
		S3Endpoint:  c.S3Endpoint,
		S3PathStyle: c.S3PathStyle,
		AllowFiles:  true,
		AllowRemote: true,
	}
}
