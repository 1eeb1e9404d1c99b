// Package config loads the store's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values like "15m" parse.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// CacheConfig configures the in-memory calendar cache.
type CacheConfig struct {
	TTL             Duration `yaml:"ttl"`
	MaxEntries      int      `yaml:"max_entries"`
	CleanupInterval Duration `yaml:"cleanup_interval"`
}

// Config is the top-level application configuration.
type Config struct {
	// Root is the directory holding the durable calendar documents.
	Root string `yaml:"root"`

	// Timezone is the IANA zone timed events are encoded in
	// (e.g. "Europe/Zurich"). Empty means UTC.
	Timezone string `yaml:"timezone"`

	// NodeID identifies this process in invalidation broadcasts.
	// Generated when empty.
	NodeID string `yaml:"node_id"`

	// LockTimeout bounds acquisition of a calendar's lock.
	LockTimeout Duration `yaml:"lock_timeout"`

	Cache CacheConfig `yaml:"cache"`
}

// Default returns the in-memory default configuration.
func Default() *Config {
	return &Config{
		Root:        "calendars",
		NodeID:      uuid.NewString(),
		LockTimeout: Duration(10 * time.Second),
		Cache: CacheConfig{
			TTL:             Duration(15 * time.Minute),
			MaxEntries:      1000,
			CleanupInterval: Duration(5 * time.Minute),
		},
	}
}

// Load reads a YAML config file, filling unset fields from Default.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if cfg.NodeID == "" {
		cfg.NodeID = uuid.NewString()
	}
	return cfg, nil
}

// Location resolves the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("resolving timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}
