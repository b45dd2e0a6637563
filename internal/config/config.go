package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const localConfigFile = ".watchrun.yaml"

// Config carries the file-level defaults for a watch session. Command
// line flags override anything set here.
type Config struct {
	Watch      []string `yaml:"watch"`       // Paths handed to the watcher
	Extensions []string `yaml:"extensions"`  // Extension whitelist, no leading dot
	Filters    []string `yaml:"filters"`     // Whitelist patterns
	Ignores    []string `yaml:"ignores"`     // Ignore patterns, added after the built-in defaults
	DebounceMs int      `yaml:"debounce_ms"` // Quiescence window in milliseconds
	Restart    bool     `yaml:"restart"`     // Kill and restart a still-running command
	Clear      bool     `yaml:"clear"`       // Clear the terminal before each run
	Verbose    bool     `yaml:"verbose"`     // Report filter and trigger decisions
}

// New returns the default configuration: watch the current directory
// with a 250 ms quiescence window.
func New() *Config {
	return &Config{
		Watch:      []string{"."},
		DebounceMs: 250,
	}
}

// Debounce returns the quiescence window as a duration.
func (c *Config) Debounce() time.Duration {
	return time.Duration(c.DebounceMs) * time.Millisecond
}

// LoadConfig loads the nearest configuration: ./.watchrun.yaml when
// present, otherwise ~/.config/watchrun/config.yaml, otherwise defaults.
func LoadConfig() (*Config, error) {
	if _, err := os.Stat(localConfigFile); err == nil {
		return LoadConfigFile(localConfigFile)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return New(), nil
	}
	return LoadConfigFile(filepath.Join(home, ".config", "watchrun", "config.yaml"))
}

// LoadRequiredConfigFile loads configuration from an explicitly named
// file. Unlike the implicit search paths, a file the user pointed at
// must exist; a typoed path gets an error, not silent defaults.
func LoadRequiredConfigFile(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}
	return LoadConfigFile(path)
}

// LoadConfigFile loads configuration from a specific file path. A
// missing file yields the defaults; malformed YAML is an error.
func LoadConfigFile(path string) (*Config, error) {
	cfg := New()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var loaded Config
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("error parsing config file %s: %w", path, err)
	}

	if len(loaded.Watch) > 0 {
		cfg.Watch = loaded.Watch
	}
	cfg.Extensions = loaded.Extensions
	cfg.Filters = loaded.Filters
	cfg.Ignores = loaded.Ignores
	if loaded.DebounceMs > 0 {
		cfg.DebounceMs = loaded.DebounceMs
	}
	cfg.Restart = loaded.Restart
	cfg.Clear = loaded.Clear
	cfg.Verbose = loaded.Verbose

	return cfg, nil
}
