// Package config loads the taskwright configuration file and watches it
// for changes. The file is optional; every field has a default that works
// for a single-directory setup.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/taskwright/taskwright/internal/types"
)

// DefaultPath is where Load looks when no path is given.
const DefaultPath = ".taskwright/config.yaml"

// Config is the on-disk configuration.
type Config struct {
	// DBPath is the SQLite database file.
	DBPath string `yaml:"db_path"`

	// Listen is the HTTP server address for `tw serve`.
	Listen string `yaml:"listen"`

	// DefaultTool is dispatched to when a task's executor is "auto".
	DefaultTool string `yaml:"default_tool"`

	// Scheduler holds the engine tunables.
	Scheduler types.SchedulerConfig `yaml:"scheduler"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		DBPath:      ".taskwright/tw.db",
		Listen:      "127.0.0.1:4317",
		DefaultTool: "claude",
		Scheduler:   types.DefaultSchedulerConfig(),
	}
}

// Load reads the config file at path, filling unset fields with defaults.
// A missing file yields the defaults without error; a malformed file is an
// error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the config to path, creating parent directories.
func (c *Config) Save(path string) error {
	if path == "" {
		path = DefaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	// Write-then-rename so a watcher never reads a half-written file.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace config: %w", err)
	}
	return nil
}

func (c *Config) normalize() error {
	def := Default()
	if c.DBPath == "" {
		c.DBPath = def.DBPath
	}
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.DefaultTool == "" {
		c.DefaultTool = def.DefaultTool
	}
	if c.Scheduler.MaxConcurrentSessions == 0 {
		c.Scheduler.MaxConcurrentSessions = def.Scheduler.MaxConcurrentSessions
	}
	if c.Scheduler.SessionIdleTimeoutMs == 0 {
		c.Scheduler.SessionIdleTimeoutMs = def.Scheduler.SessionIdleTimeoutMs
	}
	if c.Scheduler.ResumeKeyBindingTimeoutMs == 0 {
		c.Scheduler.ResumeKeyBindingTimeoutMs = def.Scheduler.ResumeKeyBindingTimeoutMs
	}
	if c.Scheduler.StuckThresholdMs == 0 {
		c.Scheduler.StuckThresholdMs = def.Scheduler.StuckThresholdMs
	}
	if c.Scheduler.PollIntervalMs == 0 {
		c.Scheduler.PollIntervalMs = def.Scheduler.PollIntervalMs
	}
	return c.Scheduler.Validate()
}
