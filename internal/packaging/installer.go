package packaging

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/plexsphere/myfw/internal/fsutil"
)

// Installer installs and removes the myfw systemd service.
type Installer struct {
	cfg     InstallConfig
	systemd SystemdController
	root    RootChecker
	logger  *slog.Logger

	// executable locates the running binary; replaced in tests.
	executable func() (string, error)
}

// NewInstaller creates an Installer with defaults applied to cfg.
func NewInstaller(cfg InstallConfig, systemd SystemdController, root RootChecker, logger *slog.Logger) *Installer {
	cfg.ApplyDefaults()
	return &Installer{
		cfg:        cfg,
		systemd:    systemd,
		root:       root,
		logger:     logger.With("component", "packaging"),
		executable: os.Executable,
	}
}

// Install copies the running binary into place, writes a default config
// unless one exists, writes the unit file and reloads systemd. With
// cfg.Enable set the service is also enabled for boot.
func (ins *Installer) Install() error {
	if err := ins.cfg.Validate(); err != nil {
		return err
	}
	if !ins.root.IsRoot() {
		return errors.New("packaging: install requires root privileges")
	}
	if !ins.systemd.IsAvailable() {
		return errors.New("packaging: systemd is not available")
	}

	dirs := []struct {
		path string
		perm os.FileMode
	}{
		{ins.cfg.ConfigDir, 0o755},
		{ins.cfg.DataDir, 0o700},
		{ins.cfg.RunDir, 0o755},
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d.path, d.perm); err != nil {
			return fmt.Errorf("packaging: create directory %s: %w", d.path, err)
		}
	}

	if err := ins.copyBinary(); err != nil {
		return err
	}

	configPath := filepath.Join(ins.cfg.ConfigDir, "config.yaml")
	_, err := os.Stat(configPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := fsutil.WriteFileAtomic(configPath, []byte(GenerateDefaultConfig(ins.cfg)), 0o644); err != nil {
			return fmt.Errorf("packaging: write config: %w", err)
		}
		ins.logger.Info("default config written", "path", configPath)
	case err != nil:
		return fmt.Errorf("packaging: stat config: %w", err)
	default:
		ins.logger.Info("existing config preserved", "path", configPath)
	}

	if err := fsutil.WriteFileAtomic(ins.cfg.UnitFilePath, []byte(GenerateUnitFile(ins.cfg)), 0o644); err != nil {
		return fmt.Errorf("packaging: write unit file: %w", err)
	}
	ins.logger.Info("unit file written", "path", ins.cfg.UnitFilePath)

	if err := ins.systemd.DaemonReload(); err != nil {
		return fmt.Errorf("packaging: daemon-reload: %w", err)
	}

	if ins.cfg.Enable {
		if err := ins.systemd.Enable(ins.cfg.ServiceName); err != nil {
			return fmt.Errorf("packaging: enable: %w", err)
		}
		ins.logger.Info("service enabled", "service", ins.cfg.ServiceName)
	}
	return nil
}

// Uninstall stops and removes the service and the installed binary. With
// purge the config and data directories, including the rule snapshot, are
// removed as well. Uninstalling a host without the unit file is a no-op.
func (ins *Installer) Uninstall(purge bool) error {
	if !ins.root.IsRoot() {
		return errors.New("packaging: uninstall requires root privileges")
	}

	if _, err := os.Stat(ins.cfg.UnitFilePath); errors.Is(err, os.ErrNotExist) {
		ins.logger.Info("myfw is not installed, nothing to do")
		return nil
	}

	// The service may already be stopped or disabled.
	if err := ins.systemd.Stop(ins.cfg.ServiceName); err != nil {
		ins.logger.Debug("stop service", "error", err)
	}
	if err := ins.systemd.Disable(ins.cfg.ServiceName); err != nil {
		ins.logger.Debug("disable service", "error", err)
	}

	if err := os.Remove(ins.cfg.UnitFilePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("packaging: remove unit file: %w", err)
	}
	if err := ins.systemd.DaemonReload(); err != nil {
		return fmt.Errorf("packaging: daemon-reload: %w", err)
	}

	if err := os.Remove(ins.cfg.BinaryPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("packaging: remove binary: %w", err)
	}
	ins.logger.Info("service removed", "unit", ins.cfg.UnitFilePath, "binary", ins.cfg.BinaryPath)

	if purge {
		for _, dir := range []string{ins.cfg.DataDir, ins.cfg.ConfigDir} {
			if err := os.RemoveAll(dir); err != nil {
				return fmt.Errorf("packaging: remove directory %s: %w", dir, err)
			}
			ins.logger.Info("directory removed", "path", dir)
		}
	}
	return nil
}

func (ins *Installer) copyBinary() error {
	srcPath, err := ins.executable()
	if err != nil {
		return fmt.Errorf("packaging: resolve executable path: %w", err)
	}
	srcPath, err = filepath.EvalSymlinks(srcPath)
	if err != nil {
		return fmt.Errorf("packaging: resolve symlinks: %w", err)
	}

	dstPath := ins.cfg.BinaryPath
	if srcPath == dstPath {
		ins.logger.Info("binary already at install path", "path", dstPath)
		return nil
	}

	data, err := os.ReadFile(srcPath)
	if err != nil {
		return fmt.Errorf("packaging: read source binary: %w", err)
	}
	if err := fsutil.WriteFileAtomic(dstPath, data, 0o755); err != nil {
		return fmt.Errorf("packaging: install binary: %w", err)
	}

	ins.logger.Info("binary installed", "src", srcPath, "dst", dstPath)
	return nil
}
