// Package cliconfig holds the agent's configuration and the three layers
// that feed it: command-line flags, CARESYNC_* environment variables, and
// a TOML file. Flags win over environment, environment wins over file.
package cliconfig

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Cache backend names accepted by Config.CacheBackend.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// DefaultListenAddr binds loopback only: the agent fronts one workstation,
// never the ward network.
const DefaultListenAddr = "127.0.0.1:8640"

// Config holds the agent configuration.
type Config struct {
	ListenAddr string

	UpstreamURL    string
	AllowedOrigins []string

	DataDir      string
	CacheBackend string
	RedisURL     string

	Version     string
	ShellAssets []string

	HTTPTimeout  time.Duration
	PingInterval time.Duration
	PingPath     string

	// ConfigPath records which TOML file the config was loaded from, if
	// any, so plugins can watch it. Never read from the file itself.
	ConfigPath string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		ListenAddr:   DefaultListenAddr,
		CacheBackend: BackendSQLite,
		Version:      "v1",
		HTTPTimeout:  15 * time.Second,
		PingInterval: 15 * time.Second,
		PingPath:     "/healthz",
	}
}

// Validate checks the configuration for errors and sets derived defaults.
func (c *Config) Validate() error {
	if c.UpstreamURL == "" {
		return fmt.Errorf("upstream is required")
	}
	c.UpstreamURL = strings.TrimRight(c.UpstreamURL, "/")
	u, err := url.Parse(c.UpstreamURL)
	if err != nil {
		return fmt.Errorf("parse upstream: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("upstream must be http or https, got %q", c.UpstreamURL)
	}

	for _, origin := range c.AllowedOrigins {
		ou, err := url.Parse(origin)
		if err != nil || ou.Host == "" {
			return fmt.Errorf("allowed origin %q is not a valid URL", origin)
		}
	}

	if c.DataDir == "" {
		h, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("data-dir is required when no home directory exists: %w", err)
		}
		c.DataDir = filepath.Join(h, ".caresync")
	}

	switch c.CacheBackend {
	case BackendSQLite:
	case BackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("redis-url is required with the redis cache backend")
		}
	default:
		return fmt.Errorf("cache backend must be %q or %q, got %q", BackendSQLite, BackendRedis, c.CacheBackend)
	}

	if c.Version == "" {
		return fmt.Errorf("version is required")
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("http timeout must be positive")
	}
	if c.PingInterval <= 0 {
		return fmt.Errorf("ping interval must be positive")
	}

	return nil
}

// configSetter helps apply configuration values while respecting flag precedence.
// It only applies values if the corresponding flag hasn't been explicitly set.
type configSetter struct {
	changed map[string]bool
}

// newConfigSetter creates a new setter with the given changed flags map.
func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

// setString sets a string value if not empty and flag not changed.
func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

// setStrings sets a string slice if non-empty and flag not changed.
func (s *configSetter) setStrings(flag string, value []string, dst *[]string) {
	if len(value) == 0 || s.changed[flag] {
		return
	}
	*dst = value
}

// setDuration parses and sets a duration from string if valid and flag not changed.
func (s *configSetter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}
