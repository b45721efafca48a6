// Package config provides centralized configuration management for the
// service. It loads configuration from environment variables with sensible
// defaults and validates all settings on startup to fail fast on
// misconfiguration.
package config

import (
	"fmt"
	"time"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server  ServerConfig
	Target  TargetConfig
	Upload  UploadConfig
	Logging LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading the request body (default: 30s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"30s"`

	// WriteTimeout is the maximum duration for writing the response (default: 60s)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"60s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// TargetConfig holds connection settings for the target directory store.
// Either the URL or the discrete host/database/user fields must be set.
type TargetConfig struct {
	// URL is the full connection string (takes precedence when set)
	// Supports both DATABASE_URL and TARGET_DB_URL for compatibility
	URL string `env:"DATABASE_URL" envAlt:"TARGET_DB_URL"`

	// Host of the target server (default: localhost)
	Host string `env:"TARGET_DB_HOST" default:"localhost"`

	// Port of the target server (default: 5432)
	Port int `env:"TARGET_DB_PORT" default:"5432"`

	// Database name on the target server
	Database string `env:"TARGET_DB_NAME"`

	// User for the target server
	User string `env:"TARGET_DB_USER"`

	// Password for the target server
	Password string `env:"TARGET_DB_PASSWORD"`

	// MaxConns is the maximum number of pooled connections (default: 10)
	MaxConns int `env:"TARGET_DB_MAX_CONNS" default:"10"`

	// ConnectTimeout bounds pool construction (default: 15s)
	ConnectTimeout time.Duration `env:"TARGET_DB_CONNECT_TIMEOUT" default:"15s"`
}

// UploadConfig holds upload processing settings.
type UploadConfig struct {
	// MaxFileSize is the maximum allowed file size in bytes (default: 20MB)
	MaxFileSize int64 `env:"UPLOAD_MAX_FILE_SIZE" default:"20971520"`

	// HistoryLimit is the default number of batches returned by the
	// history endpoint (default: 10)
	HistoryLimit int `env:"UPLOAD_HISTORY_LIMIT" default:"10"`
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
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate checks that the configuration is valid.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errs []string

	if c.Target.URL == "" && c.Target.Database == "" {
		errs = append(errs, "either DATABASE_URL or TARGET_DB_NAME is required")
	}
	if c.Target.MaxConns <= 0 {
		errs = append(errs, "TARGET_DB_MAX_CONNS must be positive")
	}
	if c.Target.ConnectTimeout <= 0 {
		errs = append(errs, "TARGET_DB_CONNECT_TIMEOUT must be positive")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT (%d) must be 1-65535", c.Server.Port))
	}
	if c.Server.ReadTimeout < 0 {
		errs = append(errs, "SERVER_READ_TIMEOUT must be non-negative")
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "SERVER_SHUTDOWN_TIMEOUT must be positive")
	}
	if c.Server.RequestTimeout <= 0 {
		errs = append(errs, "SERVER_REQUEST_TIMEOUT must be positive")
	}

	if c.Upload.MaxFileSize <= 0 {
		errs = append(errs, "UPLOAD_MAX_FILE_SIZE must be positive")
	}
	if c.Upload.HistoryLimit <= 0 {
		errs = append(errs, "UPLOAD_HISTORY_LIMIT must be positive")
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Sprintf("LOG_FORMAT (%q) must be text or json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%d configuration errors: %s", len(errs), joinErrors(errs))
	}
	return nil
}

func joinErrors(errs []string) string {
	out := errs[0]
	for _, e := range errs[1:] {
		out += "; " + e
	}
	return out
}
