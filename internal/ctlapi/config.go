// Package ctlapi serves the filter's control API: HTTP over a Unix domain
// socket, used by the myfw CLI to start and stop the filter and to manage
// the rule list in its text form.
package ctlapi

import (
	"errors"
	"time"
)

// DefaultSocketPath is the default Unix domain socket path.
const DefaultSocketPath = "/var/run/myfw/ctl.sock"

// DefaultListBufferSize bounds a rule listing.
const DefaultListBufferSize = 4096

// DefaultShutdownTimeout is the default graceful shutdown timeout.
const DefaultShutdownTimeout = 5 * time.Second

// DefaultMaxBatchBytes bounds the body of a batch load.
const DefaultMaxBatchBytes = 4 << 20

// Config holds the configuration for the control API server.
type Config struct {
	// SocketPath is the path to the Unix domain socket.
	// Default: /var/run/myfw/ctl.sock
	SocketPath string `yaml:"socket_path"`

	// ListBufferSize is the capacity of a rule listing in bytes. Longer
	// listings end with the truncation sentinel.
	// Default: 4096
	ListBufferSize int `yaml:"list_buffer_size"`

	// MaxBatchBytes bounds the request body of a batch load.
	// Default: 4 MiB
	MaxBatchBytes int64 `yaml:"max_batch_bytes"`

	// SocketGroup, when set, gives members of the group access to the
	// socket (root:group, mode 0660). Empty restricts it to root.
	SocketGroup string `yaml:"socket_group"`

	// ShutdownTimeout is the maximum time to wait for a graceful shutdown.
	// Default: 5s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// SnapshotDir receives the rule snapshot after every change.
	// Empty disables persistence. Set by the agent, not read from the file.
	SnapshotDir string `yaml:"-"`
}

// ApplyDefaults sets default values for zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.SocketPath == "" {
		c.SocketPath = DefaultSocketPath
	}
	if c.ListBufferSize == 0 {
		c.ListBufferSize = DefaultListBufferSize
	}
	if c.MaxBatchBytes == 0 {
		c.MaxBatchBytes = DefaultMaxBatchBytes
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
}

// Validate checks that required fields are set and values are acceptable.
func (c *Config) Validate() error {
	if c.SocketPath == "" {
		return errors.New("ctlapi: config: SocketPath is required")
	}
	if c.ListBufferSize < 128 {
		return errors.New("ctlapi: config: ListBufferSize must be at least 128")
	}
	if c.MaxBatchBytes <= 0 {
		return errors.New("ctlapi: config: MaxBatchBytes must be positive")
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("ctlapi: config: ShutdownTimeout must be positive")
	}
	return nil
}
