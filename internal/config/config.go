// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v9"

	"github.com/jeranaias/ollamabro/internal/util"
)

// EnvPrefix namespaces every environment override.
const EnvPrefix = "OLLAMABRO_"

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete ollamabro configuration.
type Config struct {
	Version string `toml:"version"`

	Relay      RelayConfig      `toml:"relay" envPrefix:"RELAY_"`
	Client     ClientConfig     `toml:"client" envPrefix:"CLIENT_"`
	Storage    StorageConfig    `toml:"storage" envPrefix:"STORAGE_"`
	Capability CapabilityConfig `toml:"capability" envPrefix:"CAPABILITY_"`
	Log        LogConfig        `toml:"log" envPrefix:"LOG_"`
}

// RelayConfig configures the loopback CORS relay.
type RelayConfig struct {
	Listen        string   `toml:"listen" env:"LISTEN"`
	Upstream      string   `toml:"upstream" env:"UPSTREAM"`
	AllowedOrigin string   `toml:"allowed_origin" env:"ALLOWED_ORIGIN"`
	Timeout       Duration `toml:"timeout" env:"TIMEOUT"`
	RateLimit     float64  `toml:"rate_limit" env:"RATE_LIMIT"` // requests per second per client, 0 disables
	RateBurst     int      `toml:"rate_burst" env:"RATE_BURST"`
}

// ClientConfig configures how the chat client reaches the model runtime.
type ClientConfig struct {
	RelayURL       string   `toml:"relay_url" env:"RELAY_URL"`
	Model          string   `toml:"model" env:"MODEL"`
	RequestTimeout Duration `toml:"request_timeout" env:"REQUEST_TIMEOUT"`
}

// StorageConfig selects the conversation key-value backend.
type StorageConfig struct {
	Backend string `toml:"backend" env:"BACKEND"` // sqlite, bolt, json, memory
	Path    string `toml:"path" env:"PATH"`       // empty derives a path under ConfigDir
}

// CapabilityConfig tunes the capability classifier.
type CapabilityConfig struct {
	HeuristicsFile string   `toml:"heuristics_file" env:"HEURISTICS_FILE"`
	WatchFile      bool     `toml:"watch_file" env:"WATCH_FILE"`
	MaxAge         Duration `toml:"max_age" env:"MAX_AGE"`
	MaxRetries     int      `toml:"max_retries" env:"MAX_RETRIES"`
	BaseDelay      Duration `toml:"base_delay" env:"BASE_DELAY"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level   string `toml:"level" env:"LEVEL"`
	NoColor bool   `toml:"no_color" env:"NO_COLOR"`
	File    string `toml:"file" env:"FILE"` // chat UI logs go here; empty derives one under ConfigDir
}

// Duration wraps time.Duration so TOML and env values read as "60s".
type Duration struct {
	time.Duration
}

// D is a shorthand constructor.
func D(d time.Duration) Duration {
	return Duration{d}
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Version: "1",
		Relay: RelayConfig{
			Listen:        "127.0.0.1:3000",
			Upstream:      "http://localhost:11434",
			AllowedOrigin: "chrome-extension://gkpfpdekobmonacdgjgbfehilnloaacm",
			Timeout:       D(60 * time.Second),
			RateLimit:     20,
			RateBurst:     40,
		},
		Client: ClientConfig{
			RelayURL:       "http://127.0.0.1:3000/proxy",
			RequestTimeout: D(30 * time.Second),
		},
		Storage: StorageConfig{
			Backend: "sqlite",
		},
		Capability: CapabilityConfig{
			WatchFile:   true,
			MaxAge:      D(time.Hour),
			MaxRetries:  3,
			BaseDelay:   D(time.Second),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// SetDefaults fills zero values with defaults.
func (c *Config) SetDefaults() {
	d := Default()
	if c.Version == "" {
		c.Version = d.Version
	}
	if c.Relay.Listen == "" {
		c.Relay.Listen = d.Relay.Listen
	}
	if c.Relay.Upstream == "" {
		c.Relay.Upstream = d.Relay.Upstream
	}
	if c.Relay.AllowedOrigin == "" {
		c.Relay.AllowedOrigin = d.Relay.AllowedOrigin
	}
	if c.Relay.Timeout.Duration == 0 {
		c.Relay.Timeout = d.Relay.Timeout
	}
	if c.Relay.RateBurst == 0 {
		c.Relay.RateBurst = d.Relay.RateBurst
	}
	if c.Client.RelayURL == "" {
		c.Client.RelayURL = d.Client.RelayURL
	}
	if c.Client.RequestTimeout.Duration == 0 {
		c.Client.RequestTimeout = d.Client.RequestTimeout
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = d.Storage.Backend
	}
	if c.Capability.MaxAge.Duration == 0 {
		c.Capability.MaxAge = d.Capability.MaxAge
	}
	if c.Capability.BaseDelay.Duration == 0 {
		c.Capability.BaseDelay = d.Capability.BaseDelay
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the ollamabro configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".ollamabro"), nil
}

// ConfigPath returns the path to the TOML config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// StoragePath returns the configured storage path or the backend's default
// location under ConfigDir.
func (c *Config) StoragePath() (string, error) {
	if c.Storage.Path != "" {
		return c.Storage.Path, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	switch c.Storage.Backend {
	case "bolt":
		return filepath.Join(dir, "conversations.bolt"), nil
	case "json":
		return filepath.Join(dir, "conversations"), nil
	default:
		return filepath.Join(dir, "conversations.db"), nil
	}
}

// LogPath returns the configured log file or ConfigDir/ollamabro.log.
func (c *Config) LogPath() (string, error) {
	if c.Log.File != "" {
		return c.Log.File, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "ollamabro.log"), nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load reads ~/.ollamabro/config.toml when present, then applies environment
// overrides, defaults and validation.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return finish(Default())
	}
	if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
		return finish(Default())
	}
	return LoadFromPath(path)
}

// LoadFromPath loads configuration from a specific TOML file with full validation.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to load TOML config from %s: %w", path, err)
	}
	return finish(cfg)
}

func finish(cfg *Config) (*Config, error) {
	if err := cfg.ApplyEnvOverrides(); err != nil {
		return nil, fmt.Errorf("invalid environment override: %w", err)
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ApplyEnvOverrides applies OLLAMABRO_* variables, e.g.
// OLLAMABRO_RELAY_LISTEN, OLLAMABRO_CLIENT_MODEL, OLLAMABRO_STORAGE_BACKEND,
// OLLAMABRO_CAPABILITY_MAX_AGE, OLLAMABRO_LOG_LEVEL.
func (c *Config) ApplyEnvOverrides() error {
	return env.ParseWithOptions(c, env.Options{Prefix: EnvPrefix})
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// SaveTOML writes the configuration to a TOML file with 0600 permissions,
// replacing any existing file atomically.
func SaveTOML(cfg *Config, path string) error {
	return util.AtomicWrite(path, 0600, func(w io.Writer) error {
		fmt.Fprintln(w, "# ollamabro configuration file")
		fmt.Fprintln(w, "# Environment variables prefixed OLLAMABRO_ override these values.")
		fmt.Fprintln(w, "")
		if err := toml.NewEncoder(w).Encode(cfg); err != nil {
			return fmt.Errorf("failed to encode config: %w", err)
		}
		return nil
	})
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if _, _, err := net.SplitHostPort(c.Relay.Listen); err != nil {
		add("relay.listen", "must be host:port, got %q", c.Relay.Listen)
	}
	if u, err := url.Parse(c.Relay.Upstream); err != nil || u.Scheme == "" || u.Host == "" {
		add("relay.upstream", "must be an absolute URL, got %q", c.Relay.Upstream)
	} else if !IsLoopbackHost(u.Hostname()) {
		add("relay.upstream", "host %q is not loopback", u.Hostname())
	}
	if c.Relay.Timeout.Duration <= 0 {
		add("relay.timeout", "must be positive")
	}
	if c.Relay.RateLimit < 0 {
		add("relay.rate_limit", "must not be negative")
	}
	if c.Relay.RateBurst < 0 {
		add("relay.rate_burst", "must not be negative")
	}

	if u, err := url.Parse(c.Client.RelayURL); err != nil || u.Scheme == "" || u.Host == "" {
		add("client.relay_url", "must be an absolute URL, got %q", c.Client.RelayURL)
	}
	if c.Client.RequestTimeout.Duration <= 0 {
		add("client.request_timeout", "must be positive")
	}

	switch c.Storage.Backend {
	case "sqlite", "bolt", "json", "memory":
	default:
		add("storage.backend", "invalid backend %q, must be one of: sqlite, bolt, json, memory", c.Storage.Backend)
	}

	if c.Capability.MaxAge.Duration <= 0 {
		add("capability.max_age", "must be positive")
	}
	if c.Capability.MaxRetries < 0 || c.Capability.MaxRetries > 10 {
		add("capability.max_retries", "must be between 0 and 10, got %d", c.Capability.MaxRetries)
	}
	if c.Capability.BaseDelay.Duration < 0 {
		add("capability.base_delay", "must not be negative")
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		add("log.level", "invalid level %q, must be one of: debug, info, warn, error", c.Log.Level)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// IsLoopbackHost reports whether host names the local machine.
func IsLoopbackHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(strings.Trim(host, "[]"))
	return ip != nil && ip.IsLoopback()
}
