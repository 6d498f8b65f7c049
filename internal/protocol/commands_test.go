package protocol

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestSimpleCommands(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		expected string
	}{
		{"init", InitCmd(), "INIT "},
		{"ver 0", VerCmd(0), "VER 0"},
		{"ver 5", VerCmd(5), "VER 5"},
		{"tstart", TStartCmd(), "TSTART 80"},
		{"tstop", TStopCmd(), "TSTOP "},
		{"phsr all", PHSRCmd(PHSRAll), "PHSR 00"},
		{"phsr to free", PHSRCmd(PHSRToFree), "PHSR 01"},
		{"phsr to initialize", PHSRCmd(PHSRToInitialize), "PHSR 02"},
		{"phsr to enable", PHSRCmd(PHSRToEnable), "PHSR 03"},
		{"phf", PHFCmd("0A"), "PHF 0A"},
		{"pinit", PInitCmd("0B"), "PINIT 0B"},
		{"pena dynamic", PEnaCmd("0A", EnableDynamic), "PENA 0AD"},
		{"pena static", PEnaCmd("0B", EnableStatic), "PENA 0BS"},
		{"phrq", PHRQCmd(), "PHRQ *********1****"},
		{"phinf", PHInfCmd("0C"), "PHINF 0C0025"},
		{"tx", TXCmd(false), "TX 0001"},
		{"tx with strays", TXCmd(true), "TX 1001"},
		{"tx strays only", TXStraysOnlyCmd(), "TX 1000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.payload != tt.expected {
				t.Errorf("got %q, want %q", tt.payload, tt.expected)
			}
		})
	}
}

func TestBeepCmd(t *testing.T) {
	tests := []struct {
		count    int
		expected string
		wantErr  bool
	}{
		{count: 1, expected: "BEEP 1"},
		{count: 9, expected: "BEEP 9"},
		{count: 0, wantErr: true},
		{count: 10, wantErr: true},
		{count: -3, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("count %d", tt.count), func(t *testing.T) {
			payload, err := BeepCmd(tt.count)
			if tt.wantErr {
				var cerr *ConfigurationError
				if !errors.As(err, &cerr) {
					t.Fatalf("BeepCmd(%d) error = %v, want *ConfigurationError", tt.count, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("BeepCmd(%d) error: %v", tt.count, err)
			}
			if payload != tt.expected {
				t.Errorf("BeepCmd(%d) = %q, want %q", tt.count, payload, tt.expected)
			}
		})
	}
}

func TestPVWRCmd(t *testing.T) {
	chunk := make([]byte, ToolDefinitionChunkSize)
	chunk[0] = 0xAB
	chunk[63] = 0x01

	payload, err := PVWRCmd("0A", 64, chunk)
	if err != nil {
		t.Fatalf("PVWRCmd error: %v", err)
	}
	if !strings.HasPrefix(payload, "PVWR 0A0040AB") {
		t.Errorf("payload prefix = %q, want PVWR 0A0040AB...", payload[:16])
	}
	if !strings.HasSuffix(payload, "01") {
		t.Errorf("payload suffix = %q, want ...01", payload[len(payload)-4:])
	}
	// 5 command, 2 handle, 4 address, 128 hex data
	if len(payload) != 5+2+4+2*ToolDefinitionChunkSize {
		t.Errorf("payload length = %d, want %d", len(payload), 5+2+4+2*ToolDefinitionChunkSize)
	}
}

func TestPVWRCmdRejects(t *testing.T) {
	tests := []struct {
		name    string
		address int
		chunk   []byte
	}{
		{"short chunk", 0, make([]byte, 63)},
		{"long chunk", 0, make([]byte, 65)},
		{"negative address", -1, make([]byte, ToolDefinitionChunkSize)},
		{"address overflow", 0x10000, make([]byte, ToolDefinitionChunkSize)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := PVWRCmd("0A", tt.address, tt.chunk)
			var cerr *ConfigurationError
			if !errors.As(err, &cerr) {
				t.Errorf("PVWRCmd error = %v, want *ConfigurationError", err)
			}
		})
	}
}

func TestEnableModeForType(t *testing.T) {
	tests := []struct {
		mainType string
		mode     byte
		wantErr  bool
	}{
		{mainType: MainTypeReference, mode: EnableStatic},
		{mainType: MainTypeProbe, mode: EnableDynamic},
		{mainType: MainTypeSoftwareDefined, mode: EnableDynamic},
		{mainType: MainTypeCArm, mode: EnableDynamic},
		{mainType: MainTypeButtonBox, mode: EnableButton},
		{mainType: "FF", wantErr: true},
		{mainType: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run("type "+tt.mainType, func(t *testing.T) {
			mode, err := EnableModeForType(tt.mainType)
			if tt.wantErr {
				var perr *ProtocolError
				if !errors.As(err, &perr) {
					t.Fatalf("EnableModeForType(%q) error = %v, want *ProtocolError", tt.mainType, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("EnableModeForType(%q) error: %v", tt.mainType, err)
			}
			if mode != tt.mode {
				t.Errorf("EnableModeForType(%q) = %c, want %c", tt.mainType, mode, tt.mode)
			}
		})
	}
}
