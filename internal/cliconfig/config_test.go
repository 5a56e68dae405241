package cliconfig

import (
	"strings"
	"testing"
	"time"
)

func validConfig() Config {
	cfg := DefaultConfig()
	cfg.UpstreamURL = "https://ehr.hospital.example"
	cfg.DataDir = "/var/lib/caresync"
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid defaults",
			mutate: func(c *Config) {},
		},
		{
			name:    "missing upstream",
			mutate:  func(c *Config) { c.UpstreamURL = "" },
			wantErr: "upstream is required",
		},
		{
			name:    "upstream wrong scheme",
			mutate:  func(c *Config) { c.UpstreamURL = "ftp://ehr.example" },
			wantErr: "http or https",
		},
		{
			name:    "bad allowed origin",
			mutate:  func(c *Config) { c.AllowedOrigins = []string{"not a url"} },
			wantErr: "not a valid URL",
		},
		{
			name:    "unknown cache backend",
			mutate:  func(c *Config) { c.CacheBackend = "memcached" },
			wantErr: "cache backend",
		},
		{
			name:    "redis backend without url",
			mutate:  func(c *Config) { c.CacheBackend = BackendRedis },
			wantErr: "redis-url is required",
		},
		{
			name: "redis backend with url",
			mutate: func(c *Config) {
				c.CacheBackend = BackendRedis
				c.RedisURL = "redis://localhost:6379/0"
			},
		},
		{
			name:    "empty version",
			mutate:  func(c *Config) { c.Version = "" },
			wantErr: "version is required",
		},
		{
			name:    "non-positive timeout",
			mutate:  func(c *Config) { c.HTTPTimeout = 0 },
			wantErr: "http timeout",
		},
		{
			name:    "non-positive ping interval",
			mutate:  func(c *Config) { c.PingInterval = -time.Second },
			wantErr: "ping interval",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_TrimsTrailingSlash(t *testing.T) {
	cfg := validConfig()
	cfg.UpstreamURL = "https://ehr.hospital.example/"
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	if cfg.UpstreamURL != "https://ehr.hospital.example" {
		t.Errorf("UpstreamURL = %q", cfg.UpstreamURL)
	}
}

func TestValidate_DerivesDataDir(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cfg := validConfig()
	cfg.DataDir = ""
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(cfg.DataDir, ".caresync") {
		t.Errorf("DataDir = %q, want ~/.caresync", cfg.DataDir)
	}
}
