package packaging

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// SystemdController drives the service manager.
type SystemdController interface {
	IsAvailable() bool
	DaemonReload() error
	Enable(service string) error
	Disable(service string) error
	Stop(service string) error
}

// RootChecker reports whether the process runs as root.
type RootChecker interface {
	IsRoot() bool
}

type systemctl struct{}

// NewSystemdController returns a SystemdController backed by systemctl.
func NewSystemdController() SystemdController {
	return systemctl{}
}

func (systemctl) IsAvailable() bool {
	_, err := exec.LookPath("systemctl")
	return err == nil
}

func (c systemctl) DaemonReload() error          { return c.run("daemon-reload") }
func (c systemctl) Enable(service string) error  { return c.run("enable", service) }
func (c systemctl) Disable(service string) error { return c.run("disable", service) }
func (c systemctl) Stop(service string) error    { return c.run("stop", service) }

func (systemctl) run(args ...string) error {
	output, err := exec.Command("systemctl", args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("packaging: systemctl %s: %s: %w", args[0], strings.TrimSpace(string(output)), err)
	}
	return nil
}

type uidChecker struct{}

// NewRootChecker returns a RootChecker that inspects the effective UID.
func NewRootChecker() RootChecker {
	return uidChecker{}
}

func (uidChecker) IsRoot() bool {
	return os.Geteuid() == 0
}
