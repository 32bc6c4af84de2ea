// Package config provides configuration management for the chronicle CLI.
package config

import (
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config represents the chronicle CLI configuration.
type Config struct {
	// Version of the config file format
	Version string `yaml:"version"`

	// Project configuration
	Project ProjectConfig `yaml:"project"`

	// Database configuration
	Database DatabaseConfig `yaml:"database"`

	// Projections configuration
	Projections ProjectionsConfig `yaml:"projections"`
}

// ProjectConfig contains project-level settings.
type ProjectConfig struct {
	// Name of the project
	Name string `yaml:"name"`

	// Module is the Go module path
	Module string `yaml:"module"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	// Driver is the storage driver (postgres, memory)
	Driver string `yaml:"driver"`

	// URL is the database connection string
	URL string `yaml:"url,omitempty"`

	// Schema is the database schema holding the event store tables
	Schema string `yaml:"schema"`
}

// ProjectionsConfig contains projection engine settings.
type ProjectionsConfig struct {
	// BatchSize is how many events workers read per batch
	BatchSize int `yaml:"batch_size"`

	// PollInterval is how often workers poll for new events
	PollInterval string `yaml:"poll_interval"`
}

// DefaultConfig returns a default configuration.
func DefaultConfig() *Config {
	return &Config{
		Version: "1",
		Project: ProjectConfig{
			Name:   "my-chronicle-app",
			Module: "github.com/user/my-chronicle-app",
		},
		Database: DatabaseConfig{
			Driver: "postgres",
			Schema: "chronicle",
		},
		Projections: ProjectionsConfig{
			BatchSize:    100,
			PollInterval: "100ms",
		},
	}
}

// ConfigFileName is the default config file name.
const ConfigFileName = "chronicle.yaml"

// Load loads configuration from the specified directory.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, ConfigFileName)
	return LoadFile(path)
}

// LoadFile loads configuration from a specific file path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save saves the configuration to the specified directory.
func (c *Config) Save(dir string) error {
	path := filepath.Join(dir, ConfigFileName)
	return c.SaveFile(path)
}

// SaveFile saves the configuration to a specific file path.
func (c *Config) SaveFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Exists checks if a config file exists in the directory.
func Exists(dir string) bool {
	path := filepath.Join(dir, ConfigFileName)
	_, err := os.Stat(path)
	return err == nil
}

// FindConfig searches for a config file starting from dir and going up.
func FindConfig(dir string) (string, *Config, error) {
	current := dir
	for {
		configPath := filepath.Join(current, ConfigFileName)
		if _, err := os.Stat(configPath); err == nil {
			cfg, err := LoadFile(configPath)
			if err != nil {
				return "", nil, err
			}
			return current, cfg, nil
		}

		parent := filepath.Dir(current)
		if parent == current {
			return "", nil, os.ErrNotExist
		}
		current = parent
	}
}

// Validate validates the configuration and returns a list of problems.
func (c *Config) Validate() []string {
	var errors []string

	if c.Project.Name == "" {
		errors = append(errors, "project.name is required")
	}

	if c.Project.Module == "" {
		errors = append(errors, "project.module is required")
	}

	if c.Database.Driver == "" {
		errors = append(errors, "database.driver is required")
	}

	if c.Database.Driver != "postgres" && c.Database.Driver != "memory" {
		errors = append(errors, "database.driver must be 'postgres' or 'memory'")
	}

	if c.Database.Driver == "postgres" && c.Database.URL == "" {
		errors = append(errors, "database.url is required for postgres driver")
	}

	return errors
}

// DatabaseURL returns the database URL with environment variables expanded.
func (c *Config) DatabaseURL() string {
	url := os.ExpandEnv(c.Database.URL)
	if url == "${DATABASE_URL}" {
		return ""
	}
	return url
}

// GenerateYAML generates YAML content with comments.
func GenerateYAML(cfg *Config) string {
	return `# Chronicle Configuration File
# This file configures the chronicle CLI.

version: "1"

# Project settings
project:
  # Name of your project
  name: "` + cfg.Project.Name + `"

  # Go module path (from go.mod)
  module: "` + cfg.Project.Module + `"

# Database configuration
database:
  # Driver: postgres or memory
  driver: "` + cfg.Database.Driver + `"

  # Connection URL (required for postgres)
  url: "${DATABASE_URL}"

  # Database schema holding the event store tables
  schema: "` + cfg.Database.Schema + `"

# Projection engine settings
projections:
  batch_size: ` + strconv.Itoa(cfg.Projections.BatchSize) + `
  poll_interval: "` + cfg.Projections.PollInterval + `"
`
}
