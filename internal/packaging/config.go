// Package packaging installs myfw as a systemd service on Linux hosts.
package packaging

import "fmt"

// InstallConfig describes where install puts the daemon and what the
// generated config.yaml contains. Zero values take the Default* paths.
type InstallConfig struct {
	// BinaryPath receives a copy of the running executable.
	BinaryPath string

	// ConfigDir holds config.yaml; an existing file is never overwritten.
	ConfigDir string

	// DataDir holds rules.yaml and is created 0700.
	DataDir string

	// RunDir holds ctl.sock.
	RunDir string

	// UnitFilePath is where the myfw.service unit is written.
	UnitFilePath string

	// ServiceName is passed to systemctl enable, stop and disable.
	ServiceName string

	// QueueNum is written to the generated config file.
	QueueNum uint16

	// Interface is written to the generated config file. Empty hooks every
	// interface.
	Interface string

	// Enable enables the service to start on boot after installing it.
	Enable bool
}

// Install locations on a systemd host.
const (
	DefaultBinaryPath   = "/usr/local/bin/myfw"
	DefaultConfigDir    = "/etc/myfw"
	DefaultDataDir      = "/var/lib/myfw"
	DefaultRunDir       = "/var/run/myfw"
	DefaultServiceName  = "myfw"
	DefaultUnitFilePath = "/etc/systemd/system/myfw.service"
)

// ApplyDefaults fills every empty path and the service name.
func (c *InstallConfig) ApplyDefaults() {
	if c.BinaryPath == "" {
		c.BinaryPath = DefaultBinaryPath
	}
	if c.ConfigDir == "" {
		c.ConfigDir = DefaultConfigDir
	}
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir
	}
	if c.RunDir == "" {
		c.RunDir = DefaultRunDir
	}
	if c.ServiceName == "" {
		c.ServiceName = DefaultServiceName
	}
	if c.UnitFilePath == "" {
		c.UnitFilePath = DefaultUnitFilePath
	}
}

// Validate rejects a config with any path or the service name left empty.
func (c *InstallConfig) Validate() error {
	for _, f := range []struct{ name, value string }{
		{"BinaryPath", c.BinaryPath},
		{"ConfigDir", c.ConfigDir},
		{"DataDir", c.DataDir},
		{"RunDir", c.RunDir},
		{"UnitFilePath", c.UnitFilePath},
		{"ServiceName", c.ServiceName},
	} {
		if f.value == "" {
			return fmt.Errorf("packaging: config: %s must not be empty", f.name)
		}
	}
	return nil
}
