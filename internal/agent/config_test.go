package agent

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/plexsphere/myfw/internal/ctlapi"
	"github.com/plexsphere/myfw/internal/filter"
	"github.com/plexsphere/myfw/internal/hook"
)

func TestAgentConfig_ApplyDefaults(t *testing.T) {
	var cfg AgentConfig
	cfg.ApplyDefaults()

	if cfg.LogLevel != DefaultLogLevel {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, DefaultLogLevel)
	}
	if cfg.DataDir != DefaultDataDir {
		t.Errorf("DataDir = %q, want %q", cfg.DataDir, DefaultDataDir)
	}
	if cfg.Filter.MaxRules != filter.DefaultMaxRules {
		t.Errorf("Filter.MaxRules = %d, want %d", cfg.Filter.MaxRules, filter.DefaultMaxRules)
	}
	if cfg.ControlAPI.SocketPath != ctlapi.DefaultSocketPath {
		t.Errorf("ControlAPI.SocketPath = %q, want %q", cfg.ControlAPI.SocketPath, ctlapi.DefaultSocketPath)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if !cfg.Hook.Enabled {
		t.Error("Hook.Enabled = false, want true")
	}
	if cfg.Hook.Table != hook.DefaultTable {
		t.Errorf("Hook.Table = %q, want %q", cfg.Hook.Table, hook.DefaultTable)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestAgentConfig_Validate_InvalidLogLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogLevel = "verbose"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid log level")
	}
}

func TestAgentConfig_Validate_Subsystem(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Filter.DefaultVerdict = "X"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid filter default verdict")
	}
}

func TestParseConfig_ValidYAML(t *testing.T) {
	yaml := `
log_level: debug
data_dir: /tmp/myfw
filter:
  default_verdict: R
  max_rules: 128
  start_active: true
  persist: true
hook:
  queue_num: 7
  interface: eth1
  max_packet_len: 256
control_api:
  socket_path: /tmp/myfw/ctl.sock
  list_buffer_size: 8192
  shutdown_timeout: 10s
`
	path := writeTemp(t, yaml)
	cfg, err := ParseConfig(path)
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
	if cfg.DataDir != "/tmp/myfw" {
		t.Errorf("DataDir = %q, want %q", cfg.DataDir, "/tmp/myfw")
	}
	want := filter.Config{DefaultVerdict: "R", MaxRules: 128, StartActive: true, Persist: true}
	if cfg.Filter != want {
		t.Errorf("Filter = %+v, want %+v", cfg.Filter, want)
	}
	if !cfg.Hook.Enabled || cfg.Hook.QueueNum != 7 || cfg.Hook.Interface != "eth1" || cfg.Hook.MaxPacketLen != 256 {
		t.Errorf("Hook = %+v", cfg.Hook)
	}
	if cfg.Hook.Chain != hook.DefaultChain {
		t.Errorf("Hook.Chain = %q, want default", cfg.Hook.Chain)
	}
	if cfg.ControlAPI.SocketPath != "/tmp/myfw/ctl.sock" || cfg.ControlAPI.ListBufferSize != 8192 {
		t.Errorf("ControlAPI = %+v", cfg.ControlAPI)
	}
	if cfg.ControlAPI.ShutdownTimeout != 10*time.Second {
		t.Errorf("ControlAPI.ShutdownTimeout = %v, want 10s", cfg.ControlAPI.ShutdownTimeout)
	}
}

func TestParseConfig_HookDisabled(t *testing.T) {
	path := writeTemp(t, "hook:\n  enabled: false\n")
	cfg, err := ParseConfig(path)
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if cfg.Hook.Enabled {
		t.Error("Hook.Enabled = true, want false")
	}
}

func TestParseConfig_DefaultValues(t *testing.T) {
	path := writeTemp(t, "log_level: warn\n")
	cfg, err := ParseConfig(path)
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if cfg.DataDir != DefaultDataDir {
		t.Errorf("DataDir = %q, want %q", cfg.DataDir, DefaultDataDir)
	}
	if !cfg.Hook.Enabled {
		t.Error("Hook.Enabled = false, want true when not configured")
	}
	if cfg.Filter.DefaultVerdict != filter.DefaultVerdict {
		t.Errorf("Filter.DefaultVerdict = %q, want %q", cfg.Filter.DefaultVerdict, filter.DefaultVerdict)
	}
}

func TestParseConfig_InvalidValue(t *testing.T) {
	path := writeTemp(t, "hook:\n  max_packet_len: 10\n")
	if _, err := ParseConfig(path); err == nil {
		t.Fatal("expected error for short max_packet_len")
	}
}

func TestParseConfig_FileNotFound(t *testing.T) {
	_, err := ParseConfig("/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("expected error for non-existent file")
	}
}

func TestParseConfig_InvalidYAML(t *testing.T) {
	path := writeTemp(t, "{{invalid yaml")
	_, err := ParseConfig(path)
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

// writeTemp writes content to a temporary YAML file and returns its path.
func writeTemp(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}
