package cliconfig

import (
	"testing"
	"time"
)

func TestApplyEnvConfig(t *testing.T) {
	t.Setenv("CARESYNC_LISTEN_ADDR", "127.0.0.1:9100")
	t.Setenv("CARESYNC_UPSTREAM_URL", "https://env.example")
	t.Setenv("CARESYNC_ALLOWED_ORIGINS", "https://labs.example,https://pacs.example")
	t.Setenv("CARESYNC_CACHE_BACKEND", "redis")
	t.Setenv("CARESYNC_REDIS_URL", "redis://localhost:6379/1")
	t.Setenv("CARESYNC_HTTP_TIMEOUT", "45s")

	cfg := DefaultConfig()
	if err := ApplyEnvConfig(&cfg, map[string]bool{}); err != nil {
		t.Fatal(err)
	}

	if cfg.ListenAddr != "127.0.0.1:9100" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.UpstreamURL != "https://env.example" {
		t.Errorf("UpstreamURL = %q", cfg.UpstreamURL)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://pacs.example" {
		t.Errorf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
	if cfg.CacheBackend != BackendRedis || cfg.RedisURL == "" {
		t.Errorf("backend = %q redis = %q", cfg.CacheBackend, cfg.RedisURL)
	}
	if cfg.HTTPTimeout != 45*time.Second {
		t.Errorf("HTTPTimeout = %v", cfg.HTTPTimeout)
	}
}

func TestApplyEnvConfig_RespectsChangedFlags(t *testing.T) {
	t.Setenv("CARESYNC_UPSTREAM_URL", "https://env.example")
	t.Setenv("CARESYNC_VERSION", "env-v9")

	cfg := DefaultConfig()
	cfg.UpstreamURL = "https://flag.example"
	changed := map[string]bool{"upstream": true}

	if err := ApplyEnvConfig(&cfg, changed); err != nil {
		t.Fatal(err)
	}
	if cfg.UpstreamURL != "https://flag.example" {
		t.Errorf("UpstreamURL = %q, flag should win over env", cfg.UpstreamURL)
	}
	if cfg.Version != "env-v9" {
		t.Errorf("Version = %q, unflagged env should apply", cfg.Version)
	}
}

func TestApplyEnvConfig_InvalidDuration(t *testing.T) {
	t.Setenv("CARESYNC_PING_INTERVAL", "not-a-duration")
	cfg := DefaultConfig()
	if err := ApplyEnvConfig(&cfg, map[string]bool{}); err == nil {
		t.Fatal("expected parse error")
	}
}
