package protocol

import (
	"fmt"
	"strings"
)

// Main type codes reported by PHINF and used to pick PENA tracking modes.
const (
	MainTypeReference       = "01"
	MainTypeProbe           = "02"
	MainTypeButtonBox       = "03" // button box or foot switch
	MainTypeSoftwareDefined = "04"
	MainTypeCArm            = "0A"
)

// PENA tracking mode characters.
const (
	EnableStatic  byte = 'S'
	EnableDynamic byte = 'D'
	EnableButton  byte = 'B'
)

// PHSRMode selects which port handles a PHSR enumeration reports.
type PHSRMode string

const (
	// PHSRAll reports every allocated handle.
	PHSRAll PHSRMode = "00"
	// PHSRToFree reports handles that need to be freed.
	PHSRToFree PHSRMode = "01"
	// PHSRToInitialize reports occupied handles not yet initialized.
	PHSRToInitialize PHSRMode = "02"
	// PHSRToEnable reports initialized handles not yet enabled.
	PHSRToEnable PHSRMode = "03"
)

// phinfOptions requests tool information (0001), part number (0004) and port
// location (0020), giving a fixed 67-character reply.
const phinfOptions = "0025"

// phrqWirelessMask requests a free port handle for a wireless (passive)
// tool: 8 wildcard chars hardware device, 1 system type, tool type '1' =
// wireless, 2 port number, 2 reserved.
const phrqWirelessMask = "*********1****"

// ToolDefinitionChunkSize is the number of raw definition bytes carried per
// PVWR command (hex-encoded to twice as many characters on the wire).
const ToolDefinitionChunkSize = 64

// MaxToolDefinitionSize is the controller-side limit on a tool definition.
const MaxToolDefinitionSize = 960

// InitCmd initializes the controller after a COMM negotiation.
func InitCmd() string { return "INIT " }

// VerCmd queries controller version information. The controller understands
// several selectors; 0 reports the firmware revision used for the support
// gate, 3..5 report component details logged as diagnostics.
func VerCmd(selector int) string { return fmt.Sprintf("VER %d", selector) }

// TStartCmd enters tracking mode. Option 80 resets the frame counter so
// frame numbers restart from zero each session.
func TStartCmd() string { return "TSTART 80" }

// TStopCmd leaves tracking mode. The trailing space is part of the command.
func TStopCmd() string { return "TSTOP " }

// BeepCmd sounds the controller beeper count times, 1 to 9.
func BeepCmd(count int) (string, error) {
	if count < 1 || count > 9 {
		return "", &ConfigurationError{Field: "beep count", Detail: fmt.Sprintf("%d out of range 1..9", count)}
	}
	return fmt.Sprintf("BEEP %d", count), nil
}

// PHSRCmd enumerates port handles in the given mode.
func PHSRCmd(mode PHSRMode) string { return "PHSR " + string(mode) }

// PHFCmd frees a port handle.
func PHFCmd(handle string) string { return "PHF " + handle }

// PInitCmd initializes a port handle.
func PInitCmd(handle string) string { return "PINIT " + handle }

// PEnaCmd enables a port handle in the given tracking mode.
func PEnaCmd(handle string, mode byte) string {
	return "PENA " + handle + string(mode)
}

// PHRQCmd requests a free port handle for a wireless tool. The reply's
// first two characters are the assigned handle.
func PHRQCmd() string { return "PHRQ " + phrqWirelessMask }

// PHInfCmd queries extended information for a port handle.
func PHInfCmd(handle string) string { return "PHINF " + handle + phinfOptions }

// PVWRCmd writes one 64-byte chunk of a tool definition to a port handle at
// the given byte address. The chunk must already be padded to exactly
// ToolDefinitionChunkSize bytes; it is hex-encoded to 128 characters on the
// wire and the address is 4 hex digits.
func PVWRCmd(handle string, address int, chunk []byte) (string, error) {
	if len(chunk) != ToolDefinitionChunkSize {
		return "", &ConfigurationError{
			Field:  "definition chunk",
			Detail: fmt.Sprintf("%d bytes, want %d", len(chunk), ToolDefinitionChunkSize),
		}
	}
	if address < 0 || address > 0xFFFF {
		return "", &ConfigurationError{Field: "definition address", Detail: fmt.Sprintf("%#x out of range", address)}
	}
	var b strings.Builder
	b.Grow(5 + 2 + 4 + 2*ToolDefinitionChunkSize)
	fmt.Fprintf(&b, "PVWR %s%04X", handle, address)
	for _, c := range chunk {
		fmt.Fprintf(&b, "%02X", c)
	}
	return b.String(), nil
}

// TXCmd requests one tracking frame, with or without stray markers.
func TXCmd(strayMarkers bool) string {
	if strayMarkers {
		return "TX 1001"
	}
	return "TX 0001"
}

// TXStraysOnlyCmd requests stray marker data without pose records; reporting
// tools appear as bare handles.
func TXStraysOnlyCmd() string { return "TX 1000" }

// EnableModeForType maps a tool's main type to its PENA tracking mode:
// references are tracked statically, probes, software-defined tools and
// C-arm trackers dynamically, button boxes in button mode. An unknown type
// is a ProtocolError so an enable pass never guesses.
func EnableModeForType(mainType string) (byte, error) {
	switch mainType {
	case MainTypeReference:
		return EnableStatic, nil
	case MainTypeProbe, MainTypeSoftwareDefined, MainTypeCArm:
		return EnableDynamic, nil
	case MainTypeButtonBox:
		return EnableButton, nil
	}
	return 0, &ProtocolError{Op: "PENA", Detail: fmt.Sprintf("unknown tool main type %q", mainType)}
}
