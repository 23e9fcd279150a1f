// Package hook attaches the filter to the kernel packet path: an nftables
// base chain diverts IPv4 traffic to an NFQUEUE, and Queue answers each
// queued packet with the filter's verdict.
package hook

import (
	"errors"
	"fmt"
	"time"
)

const (
	// DefaultTable is the nftables table owned by myfw.
	DefaultTable = "myfw"

	// DefaultChain is the base chain hooked into prerouting.
	DefaultChain = "prerouting"

	// DefaultMaxPacketLen is the number of packet bytes copied to userspace.
	// Headers are all the classifier needs.
	DefaultMaxPacketLen = 128

	// DefaultMaxQueueLen is the kernel queue length.
	DefaultMaxQueueLen = 1024

	// DefaultReconcileInterval is how often the installed rule is checked.
	DefaultReconcileInterval = 30 * time.Second

	// minReconcileInterval bounds how hard the check may poll netlink.
	minReconcileInterval = time.Second

	// minPacketLen covers an IPv4 header without options plus a TCP header.
	minPacketLen = 40

	// ifNameMax is IFNAMSIZ without the terminating NUL.
	ifNameMax = 15
)

// Config holds the configuration for the packet hook.
type Config struct {
	// Enabled installs the nftables rule and runs the queue reader.
	// The agent config enables it unless the file says otherwise.
	Enabled bool `yaml:"enabled"`

	// QueueNum is the NFQUEUE number packets are diverted to.
	QueueNum uint16 `yaml:"queue_num"`

	// Table is the nftables table name.
	// Default: "myfw"
	Table string `yaml:"table"`

	// Chain is the base chain name inside Table.
	// Default: "prerouting"
	Chain string `yaml:"chain"`

	// Interface restricts the hook to packets received on one interface.
	// Empty means every interface.
	Interface string `yaml:"interface"`

	// MaxPacketLen is the copy range requested from the kernel.
	// Default: 128
	MaxPacketLen uint32 `yaml:"max_packet_len"`

	// MaxQueueLen is the kernel queue length.
	// Default: 1024
	MaxQueueLen uint32 `yaml:"max_queue_len"`

	// ReconcileInterval is how often the queue rule is checked and
	// reinstalled when something else removed it.
	// Default: 30s
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
}

// ApplyDefaults sets default values for zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.Table == "" {
		c.Table = DefaultTable
	}
	if c.Chain == "" {
		c.Chain = DefaultChain
	}
	if c.MaxPacketLen == 0 {
		c.MaxPacketLen = DefaultMaxPacketLen
	}
	if c.MaxQueueLen == 0 {
		c.MaxQueueLen = DefaultMaxQueueLen
	}
	if c.ReconcileInterval == 0 {
		c.ReconcileInterval = DefaultReconcileInterval
	}
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Table == "" {
		return errors.New("hook: config: Table must not be empty when enabled")
	}
	if c.Chain == "" {
		return errors.New("hook: config: Chain must not be empty when enabled")
	}
	if len(c.Interface) > ifNameMax {
		return fmt.Errorf("hook: config: Interface %q longer than %d bytes", c.Interface, ifNameMax)
	}
	if c.MaxPacketLen < minPacketLen {
		return fmt.Errorf("hook: config: MaxPacketLen must be at least %d", minPacketLen)
	}
	if c.MaxQueueLen == 0 {
		return errors.New("hook: config: MaxQueueLen must be positive")
	}
	if c.ReconcileInterval < minReconcileInterval {
		return fmt.Errorf("hook: config: ReconcileInterval must be at least %s", minReconcileInterval)
	}
	return nil
}
