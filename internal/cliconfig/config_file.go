package cliconfig

import (
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
)

// FileConfig mirrors Config but uses strings for durations to make TOML friendly.
type FileConfig struct {
	ListenAddr     string   `toml:"listen_addr"`
	UpstreamURL    string   `toml:"upstream_url"`
	AllowedOrigins []string `toml:"allowed_origins"`
	DataDir        string   `toml:"data_dir"`
	CacheBackend   string   `toml:"cache_backend"`
	RedisURL       string   `toml:"redis_url"`
	Version        string   `toml:"version"`
	ShellAssets    []string `toml:"shell_assets"`
	HTTPTimeout    string   `toml:"http_timeout"`
	PingInterval   string   `toml:"ping_interval"`
	PingPath       string   `toml:"ping_path"`
}

// LoadFileConfig reads and parses a TOML config file from the given path.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

// DefaultConfigPath returns the default configuration file path.
// Returns ~/.caresync/config.toml if user home directory is accessible.
func DefaultConfigPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".caresync", "config.toml")
	}
	return ""
}

// ApplyFileConfig applies configuration from a file to the Config struct.
// It respects flags that have been explicitly set (changed map).
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("listen", fc.ListenAddr, &cfg.ListenAddr)
	s.setString("upstream", fc.UpstreamURL, &cfg.UpstreamURL)
	s.setString("data-dir", fc.DataDir, &cfg.DataDir)
	s.setString("cache-backend", fc.CacheBackend, &cfg.CacheBackend)
	s.setString("redis-url", fc.RedisURL, &cfg.RedisURL)
	s.setString("app-version", fc.Version, &cfg.Version)
	s.setString("ping-path", fc.PingPath, &cfg.PingPath)

	s.setStrings("allowed-origin", fc.AllowedOrigins, &cfg.AllowedOrigins)
	s.setStrings("shell-asset", fc.ShellAssets, &cfg.ShellAssets)

	if err := s.setDuration("timeout", fc.HTTPTimeout, &cfg.HTTPTimeout); err != nil {
		return err
	}
	if err := s.setDuration("ping-interval", fc.PingInterval, &cfg.PingInterval); err != nil {
		return err
	}

	return nil
}

// FileExists checks if a file exists at the given path.
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
