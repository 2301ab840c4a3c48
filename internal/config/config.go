// Package config loads the chat client configuration from a TOML file with
// environment fallbacks. Command-line flags, applied by the caller, win over
// both.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DefaultServerURL         = "http://localhost:8000"
	DefaultStreamURL         = "ws://localhost:8000/ws"
	DefaultLogLevel          = "info"
	DefaultRequestTimeoutMs  = 10000
	DefaultReconnectAttempts = 5
	DefaultTickMs            = 250
)

type Config struct {
	// ServerURL is the base URL of the HTTP API.
	ServerURL string `toml:"server_url"`

	// StreamURL is the websocket endpoint for real-time messages.
	StreamURL string `toml:"stream_url"`

	// CredentialsPath is where the token pair and user identity are kept.
	// Default: ~/.termchat/credentials.yaml
	CredentialsPath string `toml:"credentials_path"`

	LogLevel string `toml:"log_level"`

	// LogFile receives the client logs. Default: ~/.termchat/termchat.log
	LogFile string `toml:"log_file"`

	RequestTimeoutMs int `toml:"request_timeout_ms"`

	// ReconnectAttempts bounds stream reconnects after the server closes it.
	ReconnectAttempts int `toml:"reconnect_attempts"`

	// TickMs is the event loop refresh period.
	TickMs int `toml:"tick_ms"`
}

func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMs) * time.Millisecond
}

func (c *Config) Tick() time.Duration {
	return time.Duration(c.TickMs) * time.Millisecond
}

// Dir returns ~/.termchat.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".termchat"), nil
}

func DefaultConfigPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// Load reads the TOML file at path and fills unset fields from the
// environment and defaults. An empty path means the default location, which
// may be missing; an explicit path must exist.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err == nil {
			if _, statErr := os.Stat(defaultPath); statErr == nil {
				path = defaultPath
			}
		}
	} else if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.ServerURL == "" {
		c.ServerURL = getEnv("TERMCHAT_SERVER_URL", DefaultServerURL)
	}
	if c.StreamURL == "" {
		c.StreamURL = getEnv("TERMCHAT_STREAM_URL", DefaultStreamURL)
	}
	if c.LogLevel == "" {
		c.LogLevel = getEnv("TERMCHAT_LOG_LEVEL", DefaultLogLevel)
	}
	if c.RequestTimeoutMs <= 0 {
		c.RequestTimeoutMs = getEnvInt("TERMCHAT_REQUEST_TIMEOUT_MS", DefaultRequestTimeoutMs)
	}
	if c.ReconnectAttempts <= 0 {
		c.ReconnectAttempts = DefaultReconnectAttempts
	}
	if c.TickMs <= 0 {
		c.TickMs = DefaultTickMs
	}

	dir, err := Dir()
	if err != nil {
		return
	}
	if c.CredentialsPath == "" {
		c.CredentialsPath = getEnv("TERMCHAT_CREDENTIALS", filepath.Join(dir, "credentials.yaml"))
	}
	if c.LogFile == "" {
		c.LogFile = getEnv("TERMCHAT_LOG_FILE", filepath.Join(dir, "termchat.log"))
	}
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	val, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return n
}
