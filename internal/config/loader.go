// Package config provides configuration loading for the PageGate serving
// plane.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// InitViper initializes Viper with the configuration file and environment
// variables. If configFile is empty, it searches for pagegate.yaml/.yml in
// standard locations. The search requires an explicit YAML extension to
// avoid matching the binary itself, which Viper's built-in SetConfigName
// would match (same base name, no extension).
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// No config file found in any standard location. Set name/type
		// without search paths so ReadInConfig returns
		// ConfigFileNotFoundError (handled gracefully by callers).
		viper.SetConfigName("pagegate")
		viper.SetConfigType("yaml")
	}

	// Environment variable support: PAGEGATE_SERVER_HTTP_ADDR
	viper.SetEnvPrefix("PAGEGATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

// findConfigFile searches standard locations for a pagegate config file
// with an explicit YAML extension (.yaml or .yml).
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".pagegate"),
	}
	if runtime.GOOS == "windows" {
		if pd := os.Getenv("ProgramData"); pd != "" {
			paths = append(paths, filepath.Join(pd, "pagegate"))
		}
	} else {
		paths = append(paths, "/etc/pagegate")
	}
	return findConfigFileInPaths(paths)
}

// findConfigFileInPaths searches the given directories for pagegate.yaml
// or .yml. Returns the full path of the first match, or empty string.
func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "pagegate"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds nested config keys for environment variable
// support. Keys the hosting platform injects bare (without the PAGEGATE_
// prefix) carry the bare name as a fallback alias.
func bindNestedEnvKeys() {
	// Server config
	_ = viper.BindEnv("server.http_addr")
	_ = viper.BindEnv("server.log_level")
	_ = viper.BindEnv("server.read_header_timeout")
	_ = viper.BindEnv("server.shutdown_timeout")

	// Database config
	_ = viper.BindEnv("database.path")
	_ = viper.BindEnv("database.busy_timeout")

	// Storage config
	_ = viper.BindEnv("storage.backend")
	_ = viper.BindEnv("storage.root")
	_ = viper.BindEnv("storage.bucket")
	_ = viper.BindEnv("storage.region")
	_ = viper.BindEnv("storage.endpoint")
	_ = viper.BindEnv("storage.access_key_id")
	_ = viper.BindEnv("storage.secret_access_key")
	_ = viper.BindEnv("storage.force_path_style")

	// Platform config; PRIMARY_DOMAIN is the platform-injected alias.
	_ = viper.BindEnv("platform.primary_domain", "PAGEGATE_PLATFORM_PRIMARY_DOMAIN", "PRIMARY_DOMAIN")
	_ = viper.BindEnv("platform.login_url")

	// Security config; ENCRYPTION_KEY is the platform-injected alias.
	_ = viper.BindEnv("security.encryption_key", "PAGEGATE_SECURITY_ENCRYPTION_KEY", "ENCRYPTION_KEY")
	_ = viper.BindEnv("security.session_cookie")

	// Cache config
	_ = viper.BindEnv("cache.proxy_rule_ttl")
	_ = viper.BindEnv("cache.cache_rule_ttl")

	// SMTP config
	_ = viper.BindEnv("smtp.host")
	_ = viper.BindEnv("smtp.port")
	_ = viper.BindEnv("smtp.username")
	_ = viper.BindEnv("smtp.password")
	_ = viper.BindEnv("smtp.from")
	_ = viper.BindEnv("smtp.starttls_policy")

	// Forms config
	_ = viper.BindEnv("forms.submission_limit")
	_ = viper.BindEnv("forms.submission_window")

	// Retention config with platform-injected aliases.
	_ = viper.BindEnv("retention.enabled", "PAGEGATE_RETENTION_ENABLED", "RETENTION_ENABLED")
	_ = viper.BindEnv("retention.dry_run", "PAGEGATE_RETENTION_DRY_RUN", "RETENTION_DRY_RUN")
	_ = viper.BindEnv("retention.schedule")

	// Usage reporting with platform-injected aliases.
	_ = viper.BindEnv("usage.control_plane_url", "PAGEGATE_USAGE_CONTROL_PLANE_URL", "CONTROL_PLANE_URL")
	_ = viper.BindEnv("usage.workspace_id", "PAGEGATE_USAGE_WORKSPACE_ID", "WORKSPACE_ID")
	_ = viper.BindEnv("usage.workspace_secret", "PAGEGATE_USAGE_WORKSPACE_SECRET", "WORKSPACE_SECRET")

	// Observability config
	_ = viper.BindEnv("observability.tracing")
	_ = viper.BindEnv("observability.metrics")
	_ = viper.BindEnv("observability.export_interval")

	// Dev mode
	_ = viper.BindEnv("dev_mode")
}

// LoadConfig reads the configuration file, applies environment overrides,
// sets defaults, validates, and returns the Config.
func LoadConfig() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found — continue with env vars only. This
		// allows running with pure environment variable configuration.
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// ConfigFileUsed returns the path to the configuration file that was
// loaded, or an empty string in env-vars-only mode.
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
