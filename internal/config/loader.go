package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads a YAML config file, expanding ${ENV} references before parsing,
// and applies defaults for any unset field. An empty path returns the
// defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	def := Default()
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = def.Log.Format
	}
	if c.Store.Backend == "" {
		c.Store.Backend = def.Store.Backend
	}
	if c.Models.Default == "" {
		c.Models.Default = def.Models.Default
	}
	if c.Limits.GuestLimit <= 0 {
		c.Limits.GuestLimit = def.Limits.GuestLimit
	}
	if c.Limits.UserLimit <= 0 {
		c.Limits.UserLimit = def.Limits.UserLimit
	}
	if c.Limits.WindowMS <= 0 {
		c.Limits.WindowMS = def.Limits.WindowMS
	}
	if c.Generation.MaxSteps <= 0 {
		c.Generation.MaxSteps = def.Generation.MaxSteps
	}
	if c.Generation.ResearchMaxSteps <= 0 {
		c.Generation.ResearchMaxSteps = def.Generation.ResearchMaxSteps
	}
	if c.Generation.ResearchMaxActions <= 0 {
		c.Generation.ResearchMaxActions = def.Generation.ResearchMaxActions
	}
	if c.Generation.MaxTokens <= 0 {
		c.Generation.MaxTokens = def.Generation.MaxTokens
	}
	if c.Tools.ImageModel == "" {
		c.Tools.ImageModel = def.Tools.ImageModel
	}
	if c.Tracing.Endpoint == "" {
		c.Tracing.Endpoint = def.Tracing.Endpoint
	}
}

func (c *Config) validate() error {
	switch c.Store.Backend {
	case "memory":
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("config: sqlite backend requires store.path")
		}
	default:
		return fmt.Errorf("config: unknown store backend %q", c.Store.Backend)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config: unknown log format %q", c.Log.Format)
	}
	return nil
}
