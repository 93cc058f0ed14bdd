package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is everything the client needs to run
type Config struct {
	Scheme       string        `yaml:"scheme" json:"scheme"`
	Host         string        `yaml:"host" json:"host"`
	Port         int           `yaml:"port" json:"port"`
	Path         string        `yaml:"path" json:"path"`
	Token        string        `yaml:"token" json:"-"`
	Devices      []string      `yaml:"devices" json:"devices"`
	MaxReconnect int           `yaml:"max_reconnect" json:"max_reconnect"`
	CacheDir     string        `yaml:"cache_dir" json:"cache_dir"`
	DBPath       string        `yaml:"db_path" json:"db_path"`
	StatusAddr   string        `yaml:"status_addr" json:"status_addr"`
	PollTimeout  time.Duration `yaml:"poll_timeout" json:"poll_timeout"`
	Engine       EngineConfig  `yaml:"engine" json:"engine"`
	LogLevel     string        `yaml:"log_level" json:"log_level"`
	LogFormat    string        `yaml:"log_format" json:"log_format"`
}

// EngineConfig selects the generator behind each worker
type EngineConfig struct {
	Command   string        `yaml:"command" json:"command"` // empty selects the fake engine
	Args      []string      `yaml:"args" json:"args"`
	FakeDelay time.Duration `yaml:"fake_delay" json:"fake_delay"`
}

// Environment variables read by Load
const (
	EnvToken    = "MH_BACKEND_TOKEN"
	EnvCacheDir = "PEACASSO_CACHE_DIR"
	EnvDBPath   = "PEACASSO_DB"
)

// NewConfig creates a config with default values
func NewConfig() *Config {
	return &Config{
		Scheme:       "wss",
		Host:         "meaningful.noir.studio",
		Port:         443,
		Path:         "/ws/generate/",
		Devices:      []string{"0"},
		MaxReconnect: 30,
		CacheDir:     "cache",
		PollTimeout:  50 * time.Millisecond,
		Engine: EngineConfig{
			FakeDelay: 300 * time.Millisecond,
		},
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Load builds the config from defaults, the optional YAML file at path and
// the environment, in that order of precedence (environment wins).
func Load(path string) (*Config, error) {
	cfg := NewConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if v := os.Getenv(EnvToken); v != "" {
		cfg.Token = v
	}
	if v := os.Getenv(EnvCacheDir); v != "" {
		cfg.CacheDir = v
	}
	if v := os.Getenv(EnvDBPath); v != "" {
		cfg.DBPath = v
	}
	return cfg, nil
}

// URL is the job-feed endpoint
func (c *Config) URL() string {
	return fmt.Sprintf("%s://%s%s", c.Scheme, net.JoinHostPort(c.Host, strconv.Itoa(c.Port)), c.Path)
}

// Validate checks the fields Run depends on
func (c *Config) Validate() error {
	switch c.Scheme {
	case "ws", "wss":
	default:
		return fmt.Errorf("unsupported scheme %q", c.Scheme)
	}
	if c.Host == "" {
		return errors.New("host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if len(c.Devices) == 0 {
		return errors.New("at least one device is required")
	}
	seen := make(map[string]bool, len(c.Devices))
	for _, d := range c.Devices {
		if seen[d] {
			return fmt.Errorf("device %s listed twice", d)
		}
		seen[d] = true
	}
	if c.MaxReconnect < 0 {
		return fmt.Errorf("invalid max_reconnect %d", c.MaxReconnect)
	}
	if c.CacheDir == "" {
		return errors.New("cache_dir is required")
	}
	if c.PollTimeout <= 0 {
		return fmt.Errorf("invalid poll_timeout %v", c.PollTimeout)
	}
	return nil
}
