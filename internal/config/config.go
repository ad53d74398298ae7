package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// CSRFConfig names the cookie the CSRF token is read from and the header it is sent in.
type CSRFConfig struct {
	Cookie string `toml:"cookie"`
	Header string `toml:"header"`
}

// EndpointsConfig holds the backend paths of the authentication endpoints,
// relative to APIConfig.BaseURL.
type EndpointsConfig struct {
	Login   string `toml:"login"`
	Refresh string `toml:"refresh"`
	Logout  string `toml:"logout"`
	Me      string `toml:"me"`
	Profile string `toml:"profile"`
	Avatar  string `toml:"avatar"`
}

// APIConfig holds the backend connection settings.
type APIConfig struct {
	BaseURL        string          `toml:"base_url"`
	TimeoutSeconds int             `toml:"timeout_seconds"`
	UserAgent      string          `toml:"user_agent"`
	CSRF           CSRFConfig      `toml:"csrf"`
	Endpoints      EndpointsConfig `toml:"endpoints"`
}

// SessionConfig controls where the credential pair is persisted.
type SessionConfig struct {
	Path string `toml:"path"`
}

// LogConfig controls diagnostic logging on stderr.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Config holds all stockdeck configuration.
type Config struct {
	API      APIConfig     `toml:"api"`
	Session  SessionConfig `toml:"session"`
	Log      LogConfig     `toml:"log"`
	PageSize int           `toml:"page_size"`
}

const (
	defaultBaseURL  = "http://127.0.0.1:8000/api/"
	defaultTimeout  = 15 * time.Second
	defaultPageSize = 10
)

// BaseURLOrDefault returns the configured API base URL, or the local development backend.
func (c Config) BaseURLOrDefault() string {
	if c.API.BaseURL != "" {
		return c.API.BaseURL
	}
	return defaultBaseURL
}

// TimeoutOrDefault returns the HTTP timeout for a single request.
func (c Config) TimeoutOrDefault() time.Duration {
	if c.API.TimeoutSeconds > 0 {
		return time.Duration(c.API.TimeoutSeconds) * time.Second
	}
	return defaultTimeout
}

// PageSizeOrDefault returns PageSize if set, otherwise defaultPageSize.
func (c Config) PageSizeOrDefault() int {
	if c.PageSize > 0 {
		return c.PageSize
	}
	return defaultPageSize
}

// SessionPathOrDefault returns the session file path.
func (c Config) SessionPathOrDefault() string {
	if c.Session.Path != "" {
		return c.Session.Path
	}
	return filepath.Join(configDir(), "session.toml")
}

// LogLevelOrDefault returns the configured log level, "warn" when unset.
func (c Config) LogLevelOrDefault() string {
	if c.Log.Level != "" {
		return c.Log.Level
	}
	return "warn"
}

// LoadFrom reads configuration from the given TOML file path.
// If the file does not exist, it returns an empty config without error.
// Environment variables always take precedence over file values:
//   - STOCKDECK_BASE_URL     overrides api.base_url
//   - STOCKDECK_SESSION_PATH overrides session.path
//   - STOCKDECK_LOG_LEVEL    overrides log.level
//   - STOCKDECK_LOG_FORMAT   overrides log.format
func LoadFrom(path string) (Config, error) {
	var cfg Config
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("decoding %s: %w", path, err)
		}
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}

// DefaultConfigPath returns the default path for the stockdeck config file.
func DefaultConfigPath() string {
	return filepath.Join(configDir(), "config.toml")
}

func configDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "stockdeck")
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("STOCKDECK_BASE_URL"); v != "" {
		cfg.API.BaseURL = v
	}
	if v := os.Getenv("STOCKDECK_SESSION_PATH"); v != "" {
		cfg.Session.Path = v
	}
	if v := os.Getenv("STOCKDECK_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("STOCKDECK_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

// Save writes cfg to the given TOML file path, creating parent directories as needed.
// Existing file contents are overwritten. Permissions on the written file are 0600.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("opening config file: %w", err)
	}
	if encErr := toml.NewEncoder(f).Encode(cfg); encErr != nil {
		f.Close()
		return encErr
	}
	return f.Close()
}
