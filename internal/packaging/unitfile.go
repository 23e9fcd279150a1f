package packaging

import (
	"fmt"
	"path/filepath"
)

// GenerateUnitFile renders the systemd unit for the myfw daemon. Zero-valued
// fields of cfg take their defaults.
func GenerateUnitFile(cfg InstallConfig) string {
	cfg.ApplyDefaults()

	configPath := filepath.Join(cfg.ConfigDir, "config.yaml")

	return fmt.Sprintf(`[Unit]
Description=myfw IPv4 packet filter
After=network-pre.target
Wants=network-pre.target
StartLimitBurst=5
StartLimitIntervalSec=60

[Service]
Type=simple
ExecStart=%s serve --config %s
Restart=on-failure
RestartSec=2s
AmbientCapabilities=CAP_NET_ADMIN
CapabilityBoundingSet=CAP_NET_ADMIN
ProtectSystem=full
ProtectHome=true
ReadWritePaths=%s %s

[Install]
WantedBy=multi-user.target
`, cfg.BinaryPath, configPath, cfg.DataDir, cfg.RunDir)
}
