// Package config provides centralized configuration management for the application.
// It loads configuration from defaults, an optional YAML file and environment
// variables (in that order of precedence) and validates all settings on startup
// to fail fast on misconfiguration.
package config

import (
	"net"
	"strconv"
	"time"
)

// Config holds all application configuration.
// Every setting can be configured via environment variables or the YAML file
// named by CONFIG_FILE.
type Config struct {
	Server   ServerConfig    `yaml:"server"`
	Staging  StagingConfig   `yaml:"staging"`
	Session  SessionConfig   `yaml:"session"`
	Database DatabaseConfig  `yaml:"database"`
	Rate     RateLimitConfig `yaml:"rate"`
	Security SecurityConfig  `yaml:"security"`
	Logging  LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `yaml:"host" env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `yaml:"port" env:"SERVER_PORT" envAlt:"PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 30s)
	ReadTimeout time.Duration `yaml:"readTimeout" env:"SERVER_READ_TIMEOUT" default:"30s"`

	// WriteTimeout is the maximum duration for writing response (default: 0 for SSE)
	WriteTimeout time.Duration `yaml:"writeTimeout" env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `yaml:"idleTimeout" env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for non-streaming requests (default: 60s)
	RequestTimeout time.Duration `yaml:"requestTimeout" env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// StagingConfig holds the per-session staging limits.
type StagingConfig struct {
	// MaxFiles is the most entries one session may stage (default: 10)
	MaxFiles int `yaml:"maxFiles" env:"STAGING_MAX_FILES" default:"10"`

	// MaxFileSize is the largest file that validates, in bytes (default: 10 MiB)
	MaxFileSize int64 `yaml:"maxFileSize" env:"STAGING_MAX_FILE_SIZE" default:"10485760"`

	// AllowedTypes overrides the MIME allow-set; empty keeps the built-in set
	AllowedTypes []string `yaml:"allowedTypes" env:"STAGING_ALLOWED_TYPES"`

	// NoticeTTL is how long the success notice stays visible (default: 2s)
	NoticeTTL time.Duration `yaml:"noticeTTL" env:"STAGING_NOTICE_TTL" default:"2s"`

	// MaxRequestSize caps one multipart request, in bytes (default: 256 MiB)
	MaxRequestSize int64 `yaml:"maxRequestSize" env:"STAGING_MAX_REQUEST_SIZE" default:"268435456"`

	// MaxConcurrentIntake is how many multipart bodies are parsed at once (default: 8)
	MaxConcurrentIntake int `yaml:"maxConcurrentIntake" env:"STAGING_MAX_CONCURRENT_INTAKE" default:"8"`

	// IntakeWait is how long a request waits for an intake slot (default: 10s)
	IntakeWait time.Duration `yaml:"intakeWait" env:"STAGING_INTAKE_WAIT" default:"10s"`

	// PreviewDir stores preview bytes on disk; empty keeps them in memory
	PreviewDir string `yaml:"previewDir" env:"STAGING_PREVIEW_DIR" envAlt:"PREVIEW_DIR"`
}

// SessionConfig holds browser session settings.
type SessionConfig struct {
	// CookieName is the session cookie (default: filestage_session)
	CookieName string `yaml:"cookieName" env:"SESSION_COOKIE_NAME" default:"filestage_session"`

	// IdleTimeout tears down a workspace unused for this long (default: 30m)
	IdleTimeout time.Duration `yaml:"idleTimeout" env:"SESSION_IDLE_TIMEOUT" default:"30m"`

	// ReapInterval is how often idle workspaces are checked (default: 1m)
	ReapInterval time.Duration `yaml:"reapInterval" env:"SESSION_REAP_INTERVAL" default:"1m"`
}

// DatabaseConfig holds the optional submission history database.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string; history is disabled when empty
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `yaml:"url" env:"DATABASE_URL" envAlt:"DB_URL"`

	// MaxConns is the maximum number of connections in the pool (default: 10)
	MaxConns int `yaml:"maxConns" env:"DB_MAX_CONNS" default:"10"`

	// MinConns is the minimum number of connections to keep open (default: 1)
	MinConns int `yaml:"minConns" env:"DB_MIN_CONNS" default:"1"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `yaml:"maxConnLifetime" env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `yaml:"maxConnIdleTime" env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`

	// HistoryQueueSize is how many submissions may wait to be written (default: 256)
	HistoryQueueSize int `yaml:"historyQueueSize" env:"HISTORY_QUEUE_SIZE" default:"256"`
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `yaml:"enabled" env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 300)
	RequestsPerMinute int `yaml:"requestsPerMinute" env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"300"`

	// UploadLimit is requests per minute for add and replace (default: 60)
	UploadLimit int `yaml:"uploadLimit" env:"RATE_LIMIT_UPLOAD" default:"60"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `yaml:"trustedProxies" env:"TRUSTED_PROXIES"`

	// EnableCSP enables Content-Security-Policy headers (default: true)
	EnableCSP bool `yaml:"enableCSP" env:"SECURITY_ENABLE_CSP" default:"true"`

	// CookieSecure marks the session cookie Secure (default: false)
	CookieSecure bool `yaml:"cookieSecure" env:"SECURITY_COOKIE_SECURE" default:"false"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `yaml:"level" env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `yaml:"format" env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// HistoryEnabled reports whether a database is configured.
func (c *DatabaseConfig) HistoryEnabled() bool {
	return c.URL != ""
}
