// Package config provides configuration types for the PageGate serving
// plane. Everything is file-based YAML with environment overrides; the
// handful of bare environment variables the hosting platform injects
// (PRIMARY_DOMAIN, ENCRYPTION_KEY, RETENTION_*) are aliased onto their
// nested keys by the loader.
package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration for the PageGate serving plane.
type Config struct {
	// Server configures the public HTTP listener.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Database configures the SQLite metadata store.
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`

	// Storage configures where asset bytes live.
	Storage StorageConfig `yaml:"storage" mapstructure:"storage"`

	// Platform configures the primary serving domain and login redirect.
	Platform PlatformConfig `yaml:"platform" mapstructure:"platform"`

	// Security configures the at-rest encryption for proxy rule headers.
	Security SecurityConfig `yaml:"security" mapstructure:"security"`

	// Cache configures the in-memory rule snapshot TTLs.
	Cache CacheConfig `yaml:"cache" mapstructure:"cache"`

	// SMTP configures the form-handler email transport.
	// Optional: form submissions answer 503 when unconfigured.
	SMTP SMTPConfig `yaml:"smtp" mapstructure:"smtp"`

	// Forms configures form-handler rate limiting.
	Forms FormsConfig `yaml:"forms" mapstructure:"forms"`

	// Retention configures the scheduled cleanup engine.
	Retention RetentionConfig `yaml:"retention" mapstructure:"retention"`

	// Usage configures optional storage-usage reporting to the control
	// plane. All three fields must be set to enable it.
	Usage UsageConfig `yaml:"usage" mapstructure:"usage"`

	// Observability configures OpenTelemetry export.
	Observability ObservabilityConfig `yaml:"observability" mapstructure:"observability"`

	// DevMode enables development conveniences (verbose logging, relaxed
	// key requirements).
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	// HTTPAddr is the address to listen on.
	// Defaults to "127.0.0.1:8080" (localhost only) if empty.
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"omitempty,hostname_port"`

	// LogLevel sets the minimum log level.
	// Valid values: "debug", "info", "warn", "error".
	// Defaults to "info" if empty. DevMode=true overrides to "debug".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	// ReadHeaderTimeout bounds slow-loris header reads (e.g., "10s").
	ReadHeaderTimeout string `yaml:"read_header_timeout" mapstructure:"read_header_timeout" validate:"omitempty"`

	// ShutdownTimeout is the graceful-drain budget (e.g., "10s").
	ShutdownTimeout string `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" validate:"omitempty"`
}

// DatabaseConfig configures the SQLite metadata store.
type DatabaseConfig struct {
	// Path is the SQLite database file. ":memory:" is accepted for tests.
	Path string `yaml:"path" mapstructure:"path"`

	// BusyTimeout is how long writers wait on a locked database (e.g., "5s").
	BusyTimeout string `yaml:"busy_timeout" mapstructure:"busy_timeout" validate:"omitempty"`
}

// StorageConfig configures the object store backend.
type StorageConfig struct {
	// Backend selects the implementation: "fs" or "s3".
	Backend string `yaml:"backend" mapstructure:"backend" validate:"omitempty,oneof=fs s3"`

	// Root is the base directory for the fs backend.
	Root string `yaml:"root" mapstructure:"root"`

	// S3 settings; Bucket is required when Backend is "s3".
	Bucket   string `yaml:"bucket" mapstructure:"bucket"`
	Region   string `yaml:"region" mapstructure:"region"`
	Endpoint string `yaml:"endpoint" mapstructure:"endpoint" validate:"omitempty,url"`

	// Static credentials; when empty the SDK default chain applies.
	AccessKeyID     string `yaml:"access_key_id" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key" mapstructure:"secret_access_key"`

	// ForcePathStyle addresses buckets by path, required by MinIO-style
	// endpoints.
	ForcePathStyle bool `yaml:"force_path_style" mapstructure:"force_path_style"`
}

// PlatformConfig configures domain handling.
type PlatformConfig struct {
	// PrimaryDomain is the platform's base domain; subdomain mappings and
	// the /public/ path fallback resolve against it.
	PrimaryDomain string `yaml:"primary_domain" mapstructure:"primary_domain" validate:"omitempty,fqdn"`

	// LoginURL is where redirect_login visibility sends unauthorized
	// viewers. Defaults to "/login" on the primary domain.
	LoginURL string `yaml:"login_url" mapstructure:"login_url"`
}

// SecurityConfig configures secret handling.
type SecurityConfig struct {
	// EncryptionKey is the base64-encoded 32-byte AEAD key protecting
	// proxy-rule header values at rest. Required outside dev mode.
	EncryptionKey string `yaml:"encryption_key" mapstructure:"encryption_key" validate:"omitempty,base64key"`

	// SessionCookie is the cookie carrying the platform session token.
	SessionCookie string `yaml:"session_cookie" mapstructure:"session_cookie"`
}

// CacheConfig configures the rule snapshot caches.
type CacheConfig struct {
	// ProxyRuleTTL bounds staleness of compiled proxy rule sets (e.g., "10s").
	ProxyRuleTTL string `yaml:"proxy_rule_ttl" mapstructure:"proxy_rule_ttl" validate:"omitempty"`

	// CacheRuleTTL bounds staleness of compiled cache rules (e.g., "5m").
	CacheRuleTTL string `yaml:"cache_rule_ttl" mapstructure:"cache_rule_ttl" validate:"omitempty"`
}

// SMTPConfig configures the form-handler mail transport.
type SMTPConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port" validate:"omitempty,min=1,max=65535"`
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`

	// From is the envelope sender for form submissions.
	From string `yaml:"from" mapstructure:"from" validate:"omitempty,email"`

	// StartTLSPolicy selects TLS negotiation: "mandatory", "opportunistic",
	// or "none". Defaults to "mandatory".
	StartTLSPolicy string `yaml:"starttls_policy" mapstructure:"starttls_policy" validate:"omitempty,oneof=mandatory opportunistic none"`
}

// Configured reports whether the transport has enough settings to send.
func (s SMTPConfig) Configured() bool {
	return s.Host != "" && s.From != ""
}

// FormsConfig configures form-handler rate limiting.
type FormsConfig struct {
	// SubmissionLimit is the maximum successful submissions per source IP
	// within the window. Defaults to 10.
	SubmissionLimit int `yaml:"submission_limit" mapstructure:"submission_limit" validate:"omitempty,min=1"`

	// SubmissionWindow is the rolling window (e.g., "1h").
	SubmissionWindow string `yaml:"submission_window" mapstructure:"submission_window" validate:"omitempty"`
}

// RetentionConfig configures the cleanup engine.
type RetentionConfig struct {
	// Enabled turns the scheduler on. Defaults to true.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// DryRun previews deletions without removing anything.
	DryRun bool `yaml:"dry_run" mapstructure:"dry_run"`

	// Schedule is the cron expression for the daily tick.
	// Defaults to "0 3 * * *" (03:00 UTC).
	Schedule string `yaml:"schedule" mapstructure:"schedule" validate:"omitempty"`
}

// UsageConfig configures control-plane usage reporting.
type UsageConfig struct {
	ControlPlaneURL string `yaml:"control_plane_url" mapstructure:"control_plane_url" validate:"omitempty,url"`
	WorkspaceID     string `yaml:"workspace_id" mapstructure:"workspace_id"`
	WorkspaceSecret string `yaml:"workspace_secret" mapstructure:"workspace_secret"`
}

// Configured reports whether reporting is fully specified.
func (u UsageConfig) Configured() bool {
	return u.ControlPlaneURL != "" && u.WorkspaceID != "" && u.WorkspaceSecret != ""
}

// ObservabilityConfig configures OpenTelemetry trace and metric export.
// Off by default; the exporters write to stdout, for collection by the
// platform's log shipper.
type ObservabilityConfig struct {
	// Tracing enables a span per served request.
	Tracing bool `yaml:"tracing" mapstructure:"tracing"`

	// Metrics enables periodic metric export.
	Metrics bool `yaml:"metrics" mapstructure:"metrics"`

	// ExportInterval is the metric export period (e.g., "60s").
	ExportInterval string `yaml:"export_interval" mapstructure:"export_interval" validate:"omitempty"`
}

// SetDefaults applies sensible default values to the configuration.
func (c *Config) SetDefaults() {
	// Server defaults — bind to localhost only; deployments that need
	// network exposure set http_addr explicitly.
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8080"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Server.ReadHeaderTimeout == "" {
		c.Server.ReadHeaderTimeout = "10s"
	}
	if c.Server.ShutdownTimeout == "" {
		c.Server.ShutdownTimeout = "10s"
	}

	if c.Database.Path == "" {
		c.Database.Path = "./data/pagegate.db"
	}
	if c.Database.BusyTimeout == "" {
		c.Database.BusyTimeout = "5s"
	}

	if c.Storage.Backend == "" {
		c.Storage.Backend = "fs"
	}
	if c.Storage.Root == "" {
		c.Storage.Root = "./data/objects"
	}
	if c.Storage.Region == "" {
		c.Storage.Region = "us-east-1"
	}

	if c.Platform.LoginURL == "" {
		c.Platform.LoginURL = "/login"
	}
	if c.Security.SessionCookie == "" {
		c.Security.SessionCookie = "pagegate_session"
	}

	if c.Cache.ProxyRuleTTL == "" {
		c.Cache.ProxyRuleTTL = "10s"
	}
	if c.Cache.CacheRuleTTL == "" {
		c.Cache.CacheRuleTTL = "5m"
	}

	if c.SMTP.Port == 0 {
		c.SMTP.Port = 587
	}
	if c.SMTP.StartTLSPolicy == "" {
		c.SMTP.StartTLSPolicy = "mandatory"
	}

	if c.Forms.SubmissionLimit == 0 {
		c.Forms.SubmissionLimit = 10
	}
	if c.Forms.SubmissionWindow == "" {
		c.Forms.SubmissionWindow = "1h"
	}

	if c.Observability.ExportInterval == "" {
		c.Observability.ExportInterval = "60s"
	}

	// Retention runs by default. viper.IsSet distinguishes "not set"
	// (zero value) from an explicit false.
	if !viper.IsSet("retention.enabled") {
		c.Retention.Enabled = true
	}
	if c.Retention.Schedule == "" {
		c.Retention.Schedule = "0 3 * * *"
	}
}

// Duration helpers: config carries human-readable strings; callers take
// parsed values with a fallback so a typo cannot zero out a timeout.

// ParseDuration parses s, returning fallback on empty or invalid input.
func ParseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
