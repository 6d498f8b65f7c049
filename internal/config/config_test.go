package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/tracklab/nditracker/internal/tracker"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Tracker.Type != "demo" {
		t.Errorf("Type = %q, want demo", cfg.Tracker.Type)
	}
	if cfg.Tracker.PollHz != 20 {
		t.Errorf("PollHz = %d, want 20", cfg.Tracker.PollHz)
	}
	if !cfg.Tracker.TrackOnStart {
		t.Error("TrackOnStart off by default")
	}
	if cfg.Serial.ReadTimeoutMs != 2000 {
		t.Errorf("ReadTimeoutMs = %d, want 2000", cfg.Serial.ReadTimeoutMs)
	}
	if cfg.Server.ListenAddr != ":8080" || !cfg.Server.Enabled {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Logging.Enabled {
		t.Error("logging on by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults fail validation: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(cfg *Config)
		wantErr bool
	}{
		{"valid tool", func(cfg *Config) {
			cfg.Tools = []ToolConfig{{Name: "probe", Serial: "12345678", TooltipOffset: []float64{10, 0, -100}}}
		}, false},
		{"unknown tracker type", func(cfg *Config) {
			cfg.Tracker.Type = "polaris"
		}, true},
		{"poll rate zero", func(cfg *Config) {
			cfg.Tracker.PollHz = 0
		}, true},
		{"poll rate too high", func(cfg *Config) {
			cfg.Tracker.PollHz = 61
		}, true},
		{"short serial", func(cfg *Config) {
			cfg.Tools = []ToolConfig{{Name: "probe", Serial: "1234"}}
		}, true},
		{"duplicate serial", func(cfg *Config) {
			cfg.Tools = []ToolConfig{
				{Name: "probe", Serial: "12345678"},
				{Name: "reference", Serial: "12345678"},
			}
		}, true},
		{"bad tooltip offset", func(cfg *Config) {
			cfg.Tools = []ToolConfig{{Name: "probe", Serial: "12345678", TooltipOffset: []float64{10, 0}}}
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestToolDeclarations(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Tracker.DefinitionDir = "/opt/tools"
	cfg.Tools = []ToolConfig{
		{Name: "probe", Serial: "12345678", Definition: "probe.rom", TooltipOffset: []float64{10, 0, -100}},
		{Name: "reference", Serial: "87654321", Definition: "/cal/reference.rom"},
		{Name: "wired", Serial: "EM001234"},
	}

	decls := cfg.ToolDeclarations()
	if len(decls) != 3 {
		t.Fatalf("got %d declarations", len(decls))
	}
	if decls[0].DefinitionPath != filepath.Join("/opt/tools", "probe.rom") {
		t.Errorf("relative path resolved to %q", decls[0].DefinitionPath)
	}
	if decls[0].TooltipOffset != (tracker.Vector3{X: 10, Y: 0, Z: -100}) {
		t.Errorf("offset = %+v", decls[0].TooltipOffset)
	}
	if decls[1].DefinitionPath != "/cal/reference.rom" {
		t.Errorf("absolute path rewritten to %q", decls[1].DefinitionPath)
	}
	if decls[2].DefinitionPath != "" {
		t.Errorf("empty path rewritten to %q", decls[2].DefinitionPath)
	}

	// Without a definition dir relative paths pass through untouched
	cfg.Tracker.DefinitionDir = ""
	if got := cfg.ToolDeclarations()[0].DefinitionPath; got != "probe.rom" {
		t.Errorf("path without definition_dir = %q", got)
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := `serial:
  port: /dev/ttyUSB3
tracker:
  type: ndi
  poll_hz: 40
  firmware_revision: "007"
tools:
  - name: probe
    serial: "12345678"
    definition: probe.rom
    tooltip_offset: [10, 0, -100]
`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := LoadConfig(path)
	if cfg.Serial.Port != "/dev/ttyUSB3" {
		t.Errorf("Port = %q", cfg.Serial.Port)
	}
	if cfg.Tracker.Type != "ndi" || cfg.Tracker.PollHz != 40 {
		t.Errorf("tracker = %+v", cfg.Tracker)
	}
	if cfg.Tracker.FirmwareRevision != "007" {
		t.Errorf("FirmwareRevision = %q", cfg.Tracker.FirmwareRevision)
	}
	if len(cfg.Tools) != 1 || cfg.Tools[0].Serial != "12345678" {
		t.Fatalf("tools = %+v", cfg.Tools)
	}
	if len(cfg.Tools[0].TooltipOffset) != 3 || cfg.Tools[0].TooltipOffset[2] != -100 {
		t.Errorf("offset = %v", cfg.Tools[0].TooltipOffset)
	}

	// Fields absent from the file keep their defaults
	if cfg.Serial.ReadTimeoutMs != 2000 {
		t.Errorf("ReadTimeoutMs = %d, want default 2000", cfg.Serial.ReadTimeoutMs)
	}
	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q, want default :8080", cfg.Server.ListenAddr)
	}
	if !cfg.Tracker.TrackOnStart {
		t.Error("TrackOnStart default lost")
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if cfg.Tracker.Type != "demo" || cfg.Tracker.PollHz != 20 {
		t.Errorf("missing file did not fall back to defaults: %+v", cfg.Tracker)
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("TRACKER_PORT", "/dev/ttyENV")
	t.Setenv("TRACKER_STRAYS", "true")
	t.Setenv("TRACKER_POLL_HZ", "35")

	cfg := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if cfg.Serial.Port != "/dev/ttyENV" {
		t.Errorf("Port = %q", cfg.Serial.Port)
	}
	if !cfg.Tracker.StrayMarkers {
		t.Error("TRACKER_STRAYS override ignored")
	}
	if cfg.Tracker.PollHz != 35 {
		t.Errorf("PollHz = %d, want 35", cfg.Tracker.PollHz)
	}

	// Unparseable numbers leave the default in place
	t.Setenv("TRACKER_POLL_HZ", "fast")
	cfg = LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if cfg.Tracker.PollHz != 20 {
		t.Errorf("PollHz = %d after bad override, want 20", cfg.Tracker.PollHz)
	}
}

func TestUpdateFromJSON(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Tools = []ToolConfig{{Name: "probe", Serial: "12345678"}}

	patch := `{"tracker":{"pollHz":30,"strayMarkers":true},"server":{"listenAddr":":9090"}}`
	if err := cfg.UpdateFromJSON([]byte(patch)); err != nil {
		t.Fatalf("UpdateFromJSON error: %v", err)
	}
	if cfg.Tracker.PollHz != 30 || !cfg.Tracker.StrayMarkers {
		t.Errorf("tracker = %+v", cfg.Tracker)
	}
	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("ListenAddr = %q", cfg.Server.ListenAddr)
	}

	// Everything the patch omits survives the merge
	if cfg.Tracker.Type != "demo" {
		t.Errorf("Type = %q after patch", cfg.Tracker.Type)
	}
	if !cfg.Server.Enabled {
		t.Error("Server.Enabled lost in merge")
	}
	if cfg.Serial.ReadTimeoutMs != 2000 {
		t.Errorf("ReadTimeoutMs = %d after patch", cfg.Serial.ReadTimeoutMs)
	}
	if len(cfg.Tools) != 1 || cfg.Tools[0].Name != "probe" {
		t.Errorf("tools = %+v after patch", cfg.Tools)
	}

	if err := cfg.UpdateFromJSON([]byte(`{"tracker":`)); err == nil {
		t.Error("UpdateFromJSON accepted truncated JSON")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := LoadConfig(path)
	cfg.Tracker.Type = "ndi"
	cfg.Serial.Port = "/dev/ttyUSB0"
	cfg.Tools = []ToolConfig{{Name: "probe", Serial: "12345678", TooltipOffset: []float64{0, 0, -88}}}
	if err := cfg.Save(); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	reloaded := LoadConfig(path)
	if reloaded.Tracker.Type != "ndi" || reloaded.Serial.Port != "/dev/ttyUSB0" {
		t.Errorf("reloaded = %+v / %+v", reloaded.Tracker, reloaded.Serial)
	}
	if len(reloaded.Tools) != 1 || reloaded.Tools[0].TooltipOffset[2] != -88 {
		t.Errorf("reloaded tools = %+v", reloaded.Tools)
	}
}
