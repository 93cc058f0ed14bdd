package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewConfig_Defaults(t *testing.T) {
	cfg := NewConfig()
	if got := cfg.URL(); got != "wss://meaningful.noir.studio:443/ws/generate/" {
		t.Fatalf("URL = %q", got)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peacasso.yaml")
	yml := `
scheme: ws
host: localhost
port: 8000
devices: ["0", "1", "2"]
max_reconnect: 5
cache_dir: /tmp/from-file
poll_timeout: 20ms
token: file-token
engine:
  command: /usr/local/bin/generate
  args: ["--fp16"]
`
	if err := os.WriteFile(path, []byte(yml), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvToken, "env-token")
	t.Setenv(EnvCacheDir, "/tmp/from-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.URL() != "ws://localhost:8000/ws/generate/" {
		t.Fatalf("URL = %q", cfg.URL())
	}
	if len(cfg.Devices) != 3 || cfg.MaxReconnect != 5 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.PollTimeout != 20*time.Millisecond {
		t.Fatalf("PollTimeout = %v", cfg.PollTimeout)
	}
	if cfg.Token != "env-token" || cfg.CacheDir != "/tmp/from-env" {
		t.Fatalf("environment did not override file: token=%q cache=%q", cfg.Token, cfg.CacheDir)
	}
	if cfg.Engine.Command != "/usr/local/bin/generate" || len(cfg.Engine.Args) != 1 {
		t.Fatalf("engine = %+v", cfg.Engine)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"scheme", func(c *Config) { c.Scheme = "http" }},
		{"host", func(c *Config) { c.Host = "" }},
		{"port", func(c *Config) { c.Port = 70000 }},
		{"no devices", func(c *Config) { c.Devices = nil }},
		{"duplicate device", func(c *Config) { c.Devices = []string{"0", "0"} }},
		{"max reconnect", func(c *Config) { c.MaxReconnect = -1 }},
		{"cache dir", func(c *Config) { c.CacheDir = "" }},
		{"poll timeout", func(c *Config) { c.PollTimeout = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
