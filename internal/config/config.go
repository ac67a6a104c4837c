// Package config loads and validates the diskimager YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultBufferMB is the chunk size for direct block copies.
	DefaultBufferMB = 64
	// MaxBufferMB bounds the copy buffer to keep memory predictable.
	MaxBufferMB = 1024
)

// Config captures user-tunable behaviour for imaging runs.
type Config struct {
	Version       int    `yaml:"version"`
	BufferSizeMB  int    `yaml:"buffer_size_mb"`
	CleanupTools  bool   `yaml:"cleanup_tools"`
	OutputDir     string `yaml:"output_dir"`
	ArchiveFormat string `yaml:"archive_format"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		Version:      1,
		BufferSizeMB: DefaultBufferMB,
		CleanupTools: false,
	}
}

// Load reads the YAML configuration from disk if it exists, otherwise returns
// the default configuration.
func Load(path string) (Config, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero values with defaults.
func (c *Config) ApplyDefaults() {
	if c.Version == 0 {
		c.Version = 1
	}
	if c.BufferSizeMB == 0 {
		c.BufferSizeMB = DefaultBufferMB
	}
}

// Validate checks the configuration for values the engine cannot honour.
func (c Config) Validate() error {
	if c.BufferSizeMB < 0 {
		return fmt.Errorf("buffer_size_mb must be positive, got %d", c.BufferSizeMB)
	}
	if c.BufferSizeMB > MaxBufferMB {
		return fmt.Errorf("buffer_size_mb too large: %d (max %d)", c.BufferSizeMB, MaxBufferMB)
	}
	switch c.ArchiveFormat {
	case "", "zip", "7z":
	default:
		return fmt.Errorf("archive_format must be zip or 7z, got %q", c.ArchiveFormat)
	}
	return nil
}

// BufferSizeBytes returns the configured copy buffer size in bytes.
func (c Config) BufferSizeBytes() int {
	return c.BufferSizeMB * 1024 * 1024
}

// Save writes the configuration to path, creating parent directories.
func (c Config) Save(path string) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("prepare config directory: %w", err)
	}
	buf, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
