// Package filter wires the rule store, the match engine and the packet
// classifier into the engine the packet hook and the control API share.
package filter

import (
	"errors"
	"fmt"

	"github.com/plexsphere/myfw/internal/rule"
)

// DefaultVerdict is the fallback verdict of a freshly started filter.
const DefaultVerdict = "P"

// DefaultMaxRules bounds the rule list unless configured otherwise.
const DefaultMaxRules = 65536

// SnapshotFile is the name of the persisted rule set inside the data dir.
const SnapshotFile = "rules.yaml"

// Config holds the configuration for the filter engine.
type Config struct {
	// DefaultVerdict is applied when no rule matches: "P" or "R".
	// Default: "P"
	DefaultVerdict string `yaml:"default_verdict"`

	// MaxRules bounds the number of stored rules. Negative means unbounded.
	// Default: 65536
	MaxRules int `yaml:"max_rules"`

	// StartActive makes the filter evaluate packets right after start
	// instead of waiting for an explicit start command.
	StartActive bool `yaml:"start_active"`

	// Persist saves the rule set to the data dir after every change and
	// restores it on start.
	Persist bool `yaml:"persist"`
}

// ApplyDefaults sets default values for zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.DefaultVerdict == "" {
		c.DefaultVerdict = DefaultVerdict
	}
	if c.MaxRules == 0 {
		c.MaxRules = DefaultMaxRules
	}
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.DefaultVerdict != "P" && c.DefaultVerdict != "R" {
		return fmt.Errorf("filter: config: DefaultVerdict must be P or R, got %q", c.DefaultVerdict)
	}
	if c.MaxRules == 0 {
		return errors.New("filter: config: MaxRules must not be zero")
	}
	return nil
}

func (c *Config) defaultVerdict() rule.Verdict {
	if c.DefaultVerdict == "R" {
		return rule.Reject
	}
	return rule.Permit
}
