// Package config loads nbgrade configuration from a YAML file with
// environment variable overrides. Everything has a default; an absent
// config file is not an error.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all nbgrade configuration.
type Config struct {
	Keys    KeysConfig    `yaml:"keys"`
	Sandbox SandboxConfig `yaml:"sandbox"`
	Grading GradingConfig `yaml:"grading"`
}

// KeysConfig selects and locates the key store backend.
type KeysConfig struct {
	// Backend is "dir" or "sqlite".
	Backend string `yaml:"backend"`

	// Dir is the key directory for the dir backend.
	Dir string `yaml:"dir"`

	// Database is the database path for the sqlite backend.
	Database string `yaml:"database"`
}

// SandboxConfig selects the execution sandbox.
type SandboxConfig struct {
	// Kind is "kernel" (subprocess interpreter) or "gocell" (in-process
	// Go interpreter, trusted notebooks only).
	Kind string `yaml:"kind"`

	// Command is the interpreter binary for the kernel sandbox.
	Command string `yaml:"command"`
}

// GradingConfig holds per-run grading settings.
type GradingConfig struct {
	// TimeoutSeconds bounds one whole notebook execution.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Keys: KeysConfig{
			Backend:  "dir",
			Dir:      "student_keys",
			Database: "student_keys.db",
		},
		Sandbox: SandboxConfig{
			Kind:    "kernel",
			Command: "python3",
		},
		Grading: GradingConfig{
			TimeoutSeconds: 600,
		},
	}
}

// Load reads the config file at path, if present, applies environment
// overrides and validates the result. An empty path or a missing file
// yields the defaults with overrides applied.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Defaults apply.
		case err != nil:
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}

	cfg.applyEnvOverrides()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides lets deployment environments (CI runners) override the
// file without rewriting it.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("NBGRADE_KEYS_BACKEND"); v != "" {
		c.Keys.Backend = v
	}
	if v := os.Getenv("NBGRADE_KEYS_DIR"); v != "" {
		c.Keys.Dir = v
	}
	if v := os.Getenv("NBGRADE_KEYS_DATABASE"); v != "" {
		c.Keys.Database = v
	}
	if v := os.Getenv("NBGRADE_SANDBOX"); v != "" {
		c.Sandbox.Kind = v
	}
	if v := os.Getenv("NBGRADE_KERNEL_COMMAND"); v != "" {
		c.Sandbox.Command = v
	}
	if v := os.Getenv("NBGRADE_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Grading.TimeoutSeconds = n
		}
	}
}

func (c *Config) validate() error {
	switch c.Keys.Backend {
	case "dir", "sqlite":
	default:
		return fmt.Errorf("config: unknown keys backend %q", c.Keys.Backend)
	}
	switch c.Sandbox.Kind {
	case "kernel", "gocell":
	default:
		return fmt.Errorf("config: unknown sandbox kind %q", c.Sandbox.Kind)
	}
	if c.Grading.TimeoutSeconds <= 0 {
		return fmt.Errorf("config: timeout_seconds must be positive")
	}
	return nil
}
