package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const defaultConfigFileName = "claudedash.toml"

type ServerConfig struct {
	ListenAddr       string `toml:"listen_addr"`
	ClaudeDir        string `toml:"claude_dir"`
	LogLevel         string `toml:"loglevel,omitempty"`
	WindowHours      int    `toml:"window_hours,omitempty"`
	OutputTokenLimit int    `toml:"output_token_limit,omitempty"`
	CostRefresh      string `toml:"cost_refresh,omitempty"`
	WindowRefresh    string `toml:"window_refresh,omitempty"`
}

func NewDefaultServerConfig() *ServerConfig {
	cfg := &ServerConfig{}
	cfg.Normalize()
	return cfg
}

// Normalize fills unset fields with defaults.
func (c *ServerConfig) Normalize() {
	if c.ListenAddr == "" {
		c.ListenAddr = "127.0.0.1:3456"
	}
	if c.ClaudeDir == "" {
		c.ClaudeDir = DefaultClaudeDir()
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.WindowHours <= 0 {
		c.WindowHours = 5
	}
	if c.OutputTokenLimit <= 0 {
		c.OutputTokenLimit = 200_000
	}
	if c.CostRefresh == "" {
		c.CostRefresh = "5m"
	}
	if c.WindowRefresh == "" {
		c.WindowRefresh = "30s"
	}
}

func (c *ServerConfig) ProjectsDir() string {
	return filepath.Join(c.ClaudeDir, "projects")
}

func (c *ServerConfig) TodosDir() string {
	return filepath.Join(c.ClaudeDir, "todos")
}

func (c *ServerConfig) WindowDuration() time.Duration {
	return time.Duration(c.WindowHours) * time.Hour
}

func (c *ServerConfig) CostRefreshInterval() time.Duration {
	return parseIntervalOr(c.CostRefresh, 5*time.Minute)
}

func (c *ServerConfig) WindowRefreshInterval() time.Duration {
	return parseIntervalOr(c.WindowRefresh, 30*time.Second)
}

func parseIntervalOr(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func DefaultClaudeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".claude"
	}
	return filepath.Join(home, ".claude")
}

func DefaultServerConfigPath() string {
	return filepath.Join(defaultStateDir(), defaultConfigFileName)
}

// DefaultAPIKeyPath is where the user-entered vendor API key is persisted.
func DefaultAPIKeyPath() string {
	return filepath.Join(defaultStateDir(), "apikey.json")
}

// DefaultSyncSnapshotPath is where the manual rate-limit sync snapshot is persisted.
func DefaultSyncSnapshotPath() string {
	return filepath.Join(defaultStateDir(), "ratelimit-sync.json")
}

// DefaultCostCachePath is where the cost cache snapshot is persisted between runs.
func DefaultCostCachePath() string {
	return filepath.Join(defaultStateDir(), "costcache.json.zst")
}

func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "claudedash")
}

func LoadServerConfig(path string) (*ServerConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg ServerConfig
	if err := toml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.Normalize()
	return &cfg, nil
}

func SaveServerConfig(path string, cfg *ServerConfig) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("mkdir config dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("write config temp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}
