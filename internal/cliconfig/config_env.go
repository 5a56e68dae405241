package cliconfig

import (
	"github.com/caarlos0/env/v11"
)

// envConfig mirrors Config with CARESYNC_* tags. Durations stay strings so
// the same time.ParseDuration path (and errors) covers every layer.
type envConfig struct {
	ListenAddr     string   `env:"CARESYNC_LISTEN_ADDR"`
	UpstreamURL    string   `env:"CARESYNC_UPSTREAM_URL"`
	AllowedOrigins []string `env:"CARESYNC_ALLOWED_ORIGINS"`
	DataDir        string   `env:"CARESYNC_DATA_DIR"`
	CacheBackend   string   `env:"CARESYNC_CACHE_BACKEND"`
	RedisURL       string   `env:"CARESYNC_REDIS_URL"`
	Version        string   `env:"CARESYNC_VERSION"`
	ShellAssets    []string `env:"CARESYNC_SHELL_ASSETS"`
	HTTPTimeout    string   `env:"CARESYNC_HTTP_TIMEOUT"`
	PingInterval   string   `env:"CARESYNC_PING_INTERVAL"`
	PingPath       string   `env:"CARESYNC_PING_PATH"`
}

// ApplyEnvConfig applies configuration from environment variables (CARESYNC_*).
// It respects flags that have been explicitly set (changed map).
// Returns error if any environment variable has an invalid format.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	var ec envConfig
	if err := env.Parse(&ec); err != nil {
		return err
	}

	s := newConfigSetter(changed)

	s.setString("listen", ec.ListenAddr, &cfg.ListenAddr)
	s.setString("upstream", ec.UpstreamURL, &cfg.UpstreamURL)
	s.setString("data-dir", ec.DataDir, &cfg.DataDir)
	s.setString("cache-backend", ec.CacheBackend, &cfg.CacheBackend)
	s.setString("redis-url", ec.RedisURL, &cfg.RedisURL)
	s.setString("app-version", ec.Version, &cfg.Version)
	s.setString("ping-path", ec.PingPath, &cfg.PingPath)

	s.setStrings("allowed-origin", ec.AllowedOrigins, &cfg.AllowedOrigins)
	s.setStrings("shell-asset", ec.ShellAssets, &cfg.ShellAssets)

	if err := s.setDuration("timeout", ec.HTTPTimeout, &cfg.HTTPTimeout); err != nil {
		return err
	}
	if err := s.setDuration("ping-interval", ec.PingInterval, &cfg.PingInterval); err != nil {
		return err
	}

	return nil
}
