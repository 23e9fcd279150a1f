// Package agent holds the top-level configuration of the myfw daemon.
package agent

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/plexsphere/myfw/internal/ctlapi"
	"github.com/plexsphere/myfw/internal/filter"
	"github.com/plexsphere/myfw/internal/hook"
)

const (
	// DefaultLogLevel is the default log level.
	DefaultLogLevel = "info"

	// DefaultDataDir is the default data directory.
	DefaultDataDir = "/var/lib/myfw"
)

// AgentConfig is the top-level configuration for the myfw daemon.
// It aggregates all subsystem configurations and is populated from
// a YAML configuration file via ParseConfig.
type AgentConfig struct {
	// LogLevel is the log level: "debug", "info", "warn", "error".
	// Default: "info"
	LogLevel string `yaml:"log_level"`

	// DataDir is the directory holding the rule snapshot.
	// Default: /var/lib/myfw
	DataDir string `yaml:"data_dir"`

	Filter     filter.Config `yaml:"filter"`
	Hook       hook.Config   `yaml:"hook"`
	ControlAPI ctlapi.Config `yaml:"control_api"`
}

// DefaultConfig returns the configuration used when no file is present:
// every subsystem at its defaults with the packet hook enabled.
func DefaultConfig() *AgentConfig {
	cfg := newConfig()
	cfg.ApplyDefaults()
	return cfg
}

// newConfig returns the base the YAML file is decoded onto. Fields absent
// from the file keep these values.
func newConfig() *AgentConfig {
	return &AgentConfig{
		Hook: hook.Config{Enabled: true},
	}
}

// ApplyDefaults sets default values for zero-valued fields.
func (c *AgentConfig) ApplyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir
	}
	c.Filter.ApplyDefaults()
	c.Hook.ApplyDefaults()
	c.ControlAPI.ApplyDefaults()
}

// Validate checks that required fields are set and values are acceptable.
func (c *AgentConfig) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("agent: config: invalid log_level %q (must be debug, info, warn or error)", c.LogLevel)
	}
	if c.Filter.Persist && c.DataDir == "" {
		return fmt.Errorf("agent: config: data_dir is required when filter.persist is set")
	}
	if err := c.Filter.Validate(); err != nil {
		return err
	}
	if err := c.Hook.Validate(); err != nil {
		return err
	}
	if err := c.ControlAPI.Validate(); err != nil {
		return err
	}
	return nil
}

// ParseConfig reads a YAML configuration file and returns an AgentConfig.
// It applies defaults and validates the configuration.
func ParseConfig(path string) (*AgentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("agent: config: read %s: %w", path, err)
	}
	cfg := newConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("agent: config: parse %s: %w", path, err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
