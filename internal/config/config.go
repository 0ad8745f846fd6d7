// Package config provides Viper-based configuration management for cfmctl
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Session storage backends
const (
	BackendFile   = "file"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Config represents the complete cfmctl configuration
type Config struct {
	API       APIConfig         `mapstructure:"api"`
	Session   SessionConfig     `mapstructure:"session"`
	Refresh   RefreshConfig     `mapstructure:"refresh"`
	Endpoints map[string]string `mapstructure:"endpoints"`
	Logging   LoggingConfig     `mapstructure:"logging"`
	Output    OutputConfig      `mapstructure:"output"`
}

// APIConfig contains backend connection settings
type APIConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
	RateLimit float64       `mapstructure:"rate_limit"` // requests per second, 0 = unlimited
	RateBurst int           `mapstructure:"rate_burst"`
	UserAgent string        `mapstructure:"user_agent"`
}

// SessionConfig contains persisted session settings
type SessionConfig struct {
	Backend     string        `mapstructure:"backend"`
	File        string        `mapstructure:"file"`
	RedisURL    string        `mapstructure:"redis_url"`
	RedisPrefix string        `mapstructure:"redis_prefix"`
	Key         string        `mapstructure:"key"`
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
}

// RefreshConfig contains token refresh settings
type RefreshConfig struct {
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
	Path     string        `mapstructure:"path"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// OutputConfig contains output formatting settings
type OutputConfig struct {
	Colors bool `mapstructure:"colors"`
}

// Load reads configuration from a .env file, the config file and environment variables
func Load(cfgFile string) (*Config, error) {
	// A missing .env is the normal case outside development
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName(".cfmctl")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/cfmctl")
	}

	v.SetEnvPrefix("CFMCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// The mobile app's .env names the API URL this way
	_ = v.BindEnv("api.base_url", "CFMCTL_API_BASE_URL", "EXPO_PUBLIC_API_URL")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// ConfigFileUsed reports the config file a fresh Load would read, or "" when none exists
func ConfigFileUsed(cfgFile string) string {
	if cfgFile != "" {
		return cfgFile
	}
	candidates := []string{".cfmctl.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "cfmctl", ".cfmctl.yaml"))
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

// setDefaults configures default values
func setDefaults(v *viper.Viper) {
	// API defaults
	v.SetDefault("api.base_url", "")
	v.SetDefault("api.timeout", 30*time.Second)
	v.SetDefault("api.rate_limit", 0.0)
	v.SetDefault("api.rate_burst", 5)
	v.SetDefault("api.user_agent", "")

	// Session defaults
	v.SetDefault("session.backend", BackendFile)
	v.SetDefault("session.file", defaultSessionFile())
	v.SetDefault("session.redis_url", "")
	v.SetDefault("session.redis_prefix", "cfmctl:")
	v.SetDefault("session.key", "data")
	v.SetDefault("session.idle_timeout", 15*time.Minute)

	// Refresh defaults
	v.SetDefault("refresh.cache_ttl", 10*time.Second)
	v.SetDefault("refresh.path", "")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	// Output defaults
	v.SetDefault("output.colors", true)
}

func defaultSessionFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".cfmctl-session.json"
	}
	return filepath.Join(home, ".config", "cfmctl", "session.json")
}

// validate checks the configuration for errors
func validate(cfg *Config) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", cfg.Logging.Level)
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[cfg.Logging.Format] {
		return fmt.Errorf("invalid logging format: %s (must be text or json)", cfg.Logging.Format)
	}

	switch cfg.Session.Backend {
	case BackendFile:
		if cfg.Session.File == "" {
			return fmt.Errorf("session.file is required for the file backend")
		}
	case BackendRedis:
		if cfg.Session.RedisURL == "" {
			return fmt.Errorf("session.redis_url is required for the redis backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("invalid session backend: %s (must be file, redis, or memory)", cfg.Session.Backend)
	}

	if cfg.API.Timeout <= 0 {
		return fmt.Errorf("api.timeout must be positive, got %s", cfg.API.Timeout)
	}
	if cfg.API.RateLimit < 0 {
		return fmt.Errorf("api.rate_limit must not be negative, got %v", cfg.API.RateLimit)
	}
	if cfg.Refresh.CacheTTL < 0 {
		return fmt.Errorf("refresh.cache_ttl must not be negative, got %s", cfg.Refresh.CacheTTL)
	}

	return nil
}

// RequireBaseURL returns an error when no API base URL is configured
func (c *Config) RequireBaseURL() error {
	if strings.TrimSpace(c.API.BaseURL) == "" {
		return fmt.Errorf("api.base_url is not set (use --base-url, CFMCTL_API_BASE_URL or .cfmctl.yaml)")
	}
	return nil
}
