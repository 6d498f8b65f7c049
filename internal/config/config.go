// Package config holds the YAML configuration shared by the tracker
// session, the pose server and the CSV logger.
package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/tracklab/nditracker/internal/tracker"
)

// Config holds all tracker configuration.
type Config struct {
	mu sync.RWMutex

	// Serial link to the measurement controller
	Serial SerialConfig `yaml:"serial" json:"serial"`

	// Tracker behaviour
	Tracker TrackerConfig `yaml:"tracker" json:"tracker"`

	// Tools expected in the working volume
	Tools []ToolConfig `yaml:"tools" json:"tools"`

	// Pose logging
	Logging LoggingConfig `yaml:"logging" json:"logging"`

	// HTTP/WebSocket server
	Server ServerConfig `yaml:"server" json:"server"`

	path string // file path for save/load
}

type SerialConfig struct {
	Port          string `yaml:"port" json:"port"`                       // e.g. /dev/ttyUSB0, empty probes all candidates
	ReadTimeoutMs int    `yaml:"read_timeout_ms" json:"readTimeoutMs"`   // per command-response exchange
}

type TrackerConfig struct {
	Type             string `yaml:"type" json:"type"` // "ndi" or "demo"
	PollHz           int    `yaml:"poll_hz" json:"pollHz"`
	StrayMarkers     bool   `yaml:"stray_markers" json:"strayMarkers"`
	TrackOnStart     bool   `yaml:"track_on_start" json:"trackOnStart"`
	FirmwareRevision string `yaml:"firmware_revision" json:"firmwareRevision"` // required substring of VER 0, empty disables the gate
	DefinitionDir    string `yaml:"definition_dir" json:"definitionDir"`       // base for relative tool definition paths
}

type ToolConfig struct {
	Name          string    `yaml:"name" json:"name"`
	Serial        string    `yaml:"serial" json:"serial"`                  // 8 characters
	Definition    string    `yaml:"definition" json:"definition"`          // .rom path, empty for tools with onboard SROM
	TooltipOffset []float64 `yaml:"tooltip_offset" json:"tooltipOffset"`   // [x y z] mm in the tool frame
}

type LoggingConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	Path       string `yaml:"path" json:"path"`
	IntervalMs int    `yaml:"interval_ms" json:"intervalMs"` // ms between rows
}

type ServerConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	ListenAddr string `yaml:"listen_addr" json:"listenAddr"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Serial: SerialConfig{
			Port:          "",
			ReadTimeoutMs: 2000,
		},
		Tracker: TrackerConfig{
			Type:         "demo",
			PollHz:       20,
			StrayMarkers: false,
			TrackOnStart: true,
		},
		Logging: LoggingConfig{
			Enabled:    false,
			Path:       "/var/log/nditracker",
			IntervalMs: 100,
		},
		Server: ServerConfig{
			Enabled:    true,
			ListenAddr: ":8080",
		},
	}
}

// LoadConfig reads config from a YAML file, then applies .env and environment
// variable overrides. Falls back to defaults if YAML not found.
func LoadConfig(path string) *Config {
	cfg := DefaultConfig()
	cfg.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("[config] no config at %s, using defaults", path)
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		log.Printf("[config] error parsing %s: %v, using defaults", path, err)
		cfg = DefaultConfig()
		cfg.path = path
	} else {
		log.Printf("[config] loaded from %s", path)
	}

	// Load .env file from the same directory as the config, or from CWD
	envPaths := []string{
		filepath.Join(filepath.Dir(path), ".env"),
		".env",
	}
	for _, ep := range envPaths {
		loadEnvFile(ep)
	}

	cfg.applyEnvOverrides()
	return cfg
}

// loadEnvFile reads a simple KEY=VALUE .env file and sets os env vars.
func loadEnvFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	log.Printf("[config] loading .env from %s", path)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])
		// Strip surrounding quotes
		val = strings.Trim(val, `"'`)
		// Only set if not already set in real env (real env takes precedence)
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

// applyEnvOverrides reads environment variables and overrides config values.
// Supported: TRACKER_TYPE, TRACKER_PORT, TRACKER_POLL_HZ, TRACKER_STRAYS,
// TRACKER_FIRMWARE, LISTEN_ADDR, LOG_ENABLED, LOG_PATH
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("TRACKER_TYPE"); v != "" {
		c.Tracker.Type = v
	}
	if v := os.Getenv("TRACKER_PORT"); v != "" {
		c.Serial.Port = v
	}
	if v := os.Getenv("TRACKER_POLL_HZ"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Tracker.PollHz = n
		}
	}
	if v := os.Getenv("TRACKER_STRAYS"); v != "" {
		c.Tracker.StrayMarkers = v == "1" || v == "true" || v == "yes"
	}
	if v := os.Getenv("TRACKER_FIRMWARE"); v != "" {
		c.Tracker.FirmwareRevision = v
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
	if v := os.Getenv("LOG_ENABLED"); v != "" {
		c.Logging.Enabled = v == "1" || v == "true" || v == "yes"
	}
	if v := os.Getenv("LOG_PATH"); v != "" {
		c.Logging.Path = v
	}
}

// Validate checks the fields the tracker cannot limp along without.
func (c *Config) Validate() error {
	switch c.Tracker.Type {
	case "ndi", "demo":
	default:
		return fmt.Errorf("config: tracker type %q, want \"ndi\" or \"demo\"", c.Tracker.Type)
	}
	if c.Tracker.PollHz < 1 || c.Tracker.PollHz > 60 {
		return fmt.Errorf("config: poll_hz %d out of range [1, 60]", c.Tracker.PollHz)
	}
	seen := make(map[string]string, len(c.Tools))
	for i, t := range c.Tools {
		if len(t.Serial) != 8 {
			return fmt.Errorf("config: tool %d serial %q must be 8 characters", i, t.Serial)
		}
		if prev, dup := seen[t.Serial]; dup {
			return fmt.Errorf("config: tools %q and %q share serial %s", prev, t.Name, t.Serial)
		}
		seen[t.Serial] = t.Name
		if n := len(t.TooltipOffset); n != 0 && n != 3 {
			return fmt.Errorf("config: tool %q tooltip_offset needs 3 values, has %d", t.Name, n)
		}
	}
	return nil
}

// ToolDeclarations converts the configured tools into tracker declarations,
// resolving relative definition paths against definition_dir.
func (c *Config) ToolDeclarations() []tracker.ToolDeclaration {
	decls := make([]tracker.ToolDeclaration, 0, len(c.Tools))
	for _, t := range c.Tools {
		d := tracker.ToolDeclaration{
			Name:           t.Name,
			SerialNumber:   t.Serial,
			DefinitionPath: c.resolveDefinition(t.Definition),
		}
		if len(t.TooltipOffset) == 3 {
			d.TooltipOffset = tracker.Vector3{X: t.TooltipOffset[0], Y: t.TooltipOffset[1], Z: t.TooltipOffset[2]}
		}
		decls = append(decls, d)
	}
	return decls
}

func (c *Config) resolveDefinition(path string) string {
	if path == "" || filepath.IsAbs(path) || c.Tracker.DefinitionDir == "" {
		return path
	}
	return filepath.Join(c.Tracker.DefinitionDir, path)
}

// Save writes the config to its YAML file.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.path == "" {
		c.path = "/etc/nditracker/config.yaml"
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(c.path, data, 0644)
}

// ToJSON serializes config for the API.
func (c *Config) ToJSON() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return json.Marshal(c)
}

// UpdateFromJSON applies a partial JSON config update by deep-merging
// incoming fields into the existing config. Fields not present in the
// incoming JSON are preserved (e.g. port path, tool list, logging).
func (c *Config) UpdateFromJSON(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Marshal current config to a generic map
	currentBytes, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal current config: %w", err)
	}
	var base map[string]interface{}
	if err := json.Unmarshal(currentBytes, &base); err != nil {
		return fmt.Errorf("unmarshal current config: %w", err)
	}

	// Unmarshal incoming partial update to a map
	var patch map[string]interface{}
	if err := json.Unmarshal(data, &patch); err != nil {
		return fmt.Errorf("unmarshal patch: %w", err)
	}

	// Deep merge patch into base
	deepMerge(base, patch)

	// Marshal merged result and unmarshal back into the config struct
	merged, err := json.Marshal(base)
	if err != nil {
		return fmt.Errorf("marshal merged config: %w", err)
	}
	return json.Unmarshal(merged, c)
}

// deepMerge recursively merges src into dst. For nested maps, values are
// merged rather than replaced. For all other types, src overwrites dst.
func deepMerge(dst, src map[string]interface{}) {
	for key, srcVal := range src {
		if srcMap, ok := srcVal.(map[string]interface{}); ok {
			if dstMap, ok := dst[key].(map[string]interface{}); ok {
				deepMerge(dstMap, srcMap)
				continue
			}
		}
		dst[key] = srcVal
	}
}
