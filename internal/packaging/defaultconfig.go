package packaging

import (
	"fmt"
	"path/filepath"
	"strconv"
)

// GenerateDefaultConfig renders the config.yaml written on first install.
// The filter starts active with persisted rules so a restart keeps the
// loaded policy.
func GenerateDefaultConfig(cfg InstallConfig) string {
	cfg.ApplyDefaults()

	ifaceLine := "  # interface: eth0"
	if cfg.Interface != "" {
		ifaceLine = "  interface: " + strconv.Quote(cfg.Interface)
	}

	return fmt.Sprintf(`# myfw configuration

log_level: info
data_dir: %s

filter:
  default_verdict: P
  start_active: true
  persist: true

hook:
  enabled: true
  queue_num: %d
%s

control_api:
  socket_path: %s
`, cfg.DataDir, cfg.QueueNum, ifaceLine, filepath.Join(cfg.RunDir, "ctl.sock"))
}
