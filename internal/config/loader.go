package config

import (
	"fmt"
	"strings"

	"github.com/JonMunkholm/actionplot/internal/core"
	"github.com/caarlos0/env/v11"
)

// Load reads configuration from environment variables.
// It applies defaults for unset values and validates the result.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration and panics on error.
// Use this only in main() where early termination is desired.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// normalize trims list entries and drops empty ones.
func (c *Config) normalize() {
	c.Pipeline.Metrics = cleanList(c.Pipeline.Metrics)
	c.Security.TrustedProxies = cleanList(c.Security.TrustedProxies)
	c.Security.APIKeys = cleanList(c.Security.APIKeys)
}

func cleanList(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Validate checks that the configuration is valid.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errs []string

	// Server validation
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT (%d) must be 1-65535", c.Server.Port))
	}
	if c.Server.ReadTimeout < 0 {
		errs = append(errs, "SERVER_READ_TIMEOUT must be non-negative")
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "SERVER_SHUTDOWN_TIMEOUT must be positive")
	}
	if c.Server.JobTimeout <= 0 {
		errs = append(errs, "JOB_TIMEOUT must be positive")
	}
	if c.Server.MaxConcurrentJobs <= 0 {
		errs = append(errs, "JOB_MAX_CONCURRENT must be positive")
	}
	if c.Server.MaxWaitTime <= 0 {
		errs = append(errs, "JOB_MAX_WAIT_TIME must be positive")
	}
	if c.Server.MaxUploadSize <= 0 {
		errs = append(errs, "SERVER_MAX_UPLOAD_SIZE must be positive")
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, "SERVER_RATE_LIMIT must be non-negative")
	}
	if c.Server.RateLimit > 0 && c.Server.RateWindow <= 0 {
		errs = append(errs, "SERVER_RATE_WINDOW must be positive when rate limiting is enabled")
	}

	// Source validation
	if c.Source.HTTPTimeout <= 0 {
		errs = append(errs, "SOURCE_HTTP_TIMEOUT must be positive")
	}
	if c.Source.MaxBytes <= 0 {
		errs = append(errs, "SOURCE_MAX_BYTES must be positive")
	}

	// Pipeline validation
	if _, ok := core.Get(c.Pipeline.Schema); !ok {
		errs = append(errs, fmt.Sprintf("PLOT_SCHEMA (%q) is an unknown schema, want one of: %s",
			c.Pipeline.Schema, strings.Join(core.Keys(), ", ")))
	}
	if _, err := core.ParseGroupMode(c.Pipeline.GroupBy); err != nil {
		errs = append(errs, fmt.Sprintf("PLOT_GROUP_BY: %v", err))
	}
	if c.Pipeline.Workers <= 0 {
		errs = append(errs, "PLOT_WORKERS must be positive")
	}
	if c.Pipeline.BatchSize <= 0 {
		errs = append(errs, "PLOT_BATCH_SIZE must be positive")
	}
	if _, err := c.Pipeline.SessionTime(); err != nil {
		errs = append(errs, fmt.Sprintf("PLOT_SESSION_DATE (%q) must be YYYY-MM-DD", c.Pipeline.SessionDate))
	}

	// Security validation
	if c.Security.RequireAPIKey && len(c.Security.APIKeys) == 0 {
		errs = append(errs, "REQUIRE_API_KEY is true but API_KEYS is empty; configure at least one API key or disable auth")
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, fmt.Sprintf("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// String returns a safe string representation of the config for logging.
// API keys and S3 endpoint credentials are masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	b.WriteString(fmt.Sprintf("Server: {Addr: %q, MaxConcurrentJobs: %d, AllowRemoteSources: %v}, ",
		c.Server.Addr(), c.Server.MaxConcurrentJobs, c.Server.AllowRemoteSources))
	b.WriteString(fmt.Sprintf("Source: {MaxBytes: %d, S3Region: %q, S3Endpoint: %s}, ",
		c.Source.MaxBytes, c.Source.S3Region, maskEndpoint(c.Source.S3Endpoint)))
	b.WriteString(fmt.Sprintf("Pipeline: {Schema: %q, Metric: %q, GroupBy: %q, Workers: %d}, ",
		c.Pipeline.Schema, c.Pipeline.Metric, c.Pipeline.GroupBy, c.Pipeline.Workers))
	b.WriteString(fmt.Sprintf("Security: {RequireAPIKey: %v, APIKeys: [MASKED x%d]}, ",
		c.Security.RequireAPIKey, len(c.Security.APIKeys)))
	b.WriteString(fmt.Sprintf("Logging: {Level: %q, Format: %q}",
		c.Logging.Level, c.Logging.Format))
	b.WriteString("}")
	return b.String()
}

// maskEndpoint hides userinfo embedded in an endpoint URL.
func maskEndpoint(endpoint string) string {
	if endpoint == "" {
		return `""`
	}
	scheme, rest, found := strings.Cut(endpoint, "://")
	if !found {
		return fmt.Sprintf("%q", endpoint)
	}
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		rest = "[MASKED]@" + rest[at+1:]
	}
	return fmt.Sprintf("%q", scheme+"://"+rest)
}
