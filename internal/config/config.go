// Package config loads the service configuration from YAML with sane
// defaults. Flags and environment overrides are bound on top by the CLI.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"packplan/internal/observability"
	"packplan/internal/planner"
	"packplan/internal/summarizer"
)

// ServerConfig configures the HTTP API listener.
type ServerConfig struct {
	Host         string   `yaml:"host"`
	Port         int      `yaml:"port"`
	AllowOrigins []string `yaml:"allow_origins"`
}

// DatabaseConfig configures the PostgreSQL connection. An empty URL selects
// the in-memory stores, which is only useful for local runs and tests.
type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

// ReasonerConfig configures the external reasoning service and the call
// budget around it.
type ReasonerConfig struct {
	planner.ReasoningConfig `yaml:",inline"`
	TimeoutSeconds          int `yaml:"timeout_seconds"`
	MaxRetries              int `yaml:"max_retries"`
}

// Config is the full service configuration.
type Config struct {
	Server        ServerConfig         `yaml:"server"`
	Database      DatabaseConfig       `yaml:"database"`
	Reasoner      ReasonerConfig       `yaml:"reasoner"`
	Summarizer    summarizer.Config    `yaml:"summarizer"`
	Observability observability.Config `yaml:"observability"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	plan := planner.DefaultPlanConfig()
	return Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Database: DatabaseConfig{
			MaxConns: 8,
		},
		Reasoner: ReasonerConfig{
			TimeoutSeconds: int(plan.Timeout / time.Second),
			MaxRetries:     plan.MaxRetries,
		},
		Summarizer: summarizer.Config{
			TimeoutSeconds: 5,
		},
		Observability: observability.DefaultConfig(),
	}
}

// Load reads a YAML config file over the defaults. A missing path returns
// the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate rejects configurations the server cannot start with.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if c.Reasoner.TimeoutSeconds < 0 {
		return fmt.Errorf("reasoner timeout must be non-negative")
	}
	if c.Reasoner.MaxRetries < 0 {
		return fmt.Errorf("reasoner max_retries must be non-negative")
	}
	return nil
}

// PlanConfig projects the reasoner call budget for the planner.
func (c Config) PlanConfig() planner.PlanConfig {
	return planner.PlanConfig{
		Timeout:    time.Duration(c.Reasoner.TimeoutSeconds) * time.Second,
		MaxRetries: c.Reasoner.MaxRetries,
	}
}
