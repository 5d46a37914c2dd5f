// ABOUTME: Configuration loading and parsing for the zomp-cnc controller
// ABOUTME: Supports YAML files with environment variable expansion and defaults

package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Config represents the complete controller configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Reports  ReportsConfig  `yaml:"reports"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds listener address configuration
type ServerConfig struct {
	// ListenAddr is the TCP address agents connect to
	ListenAddr string `yaml:"listen_addr"`
	// HTTPAddr serves health and metrics endpoints when set
	HTTPAddr string `yaml:"http_addr"`
}

// ReportsConfig holds the report file sink configuration
type ReportsConfig struct {
	// Dir is the directory report files are written into,
	// one file per (agent, invocation) pair
	Dir string `yaml:"dir"`
}

// DatabaseConfig holds report history database configuration.
// An empty path disables history.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Default returns the configuration used when no config file exists:
// listen on the well-known ZOMP port, write report files to ./reports.
func Default() *Config {
	return &Config{
		Server:  ServerConfig{ListenAddr: ":1932"},
		Reports: ReportsConfig{Dir: "reports"},
		Metrics: MetricsConfig{Path: "/metrics"},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Missing fields fall back to Default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr is required")
	}

	if c.Reports.Dir == "" {
		return fmt.Errorf("reports.dir is required")
	}

	if c.Metrics.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required when metrics are enabled")
	}

	return nil
}
