package tracker

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/tracklab/nditracker/internal/protocol"
)

// phinfPayload builds a 67-character PHINF 0025 reply.
func phinfPayload(mainType, serial, channel string) string {
	return mainType + "000000" +
		"NDI         " +
		"001" +
		serial +
		"01" +
		"PN-900339           " +
		"000000000000" + channel
}

func writeDefinition(t *testing.T, size int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tool.rom")
	if err := os.WriteFile(path, bytes.Repeat([]byte{0x42}, size), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestSetupTools(t *testing.T) {
	tr := newScriptTransport()
	c := newTestController(tr)
	c.state = Connected
	if err := c.DeclareTool(ToolDeclaration{
		Name:           "probe",
		SerialNumber:   "12345678",
		DefinitionPath: writeDefinition(t, 100),
	}); err != nil {
		t.Fatal(err)
	}

	// First pass finds nothing to free or initialize
	tr.reply("00")
	tr.reply("00")
	// Definition upload: fresh handle, two 64-byte chunks
	tr.reply("0A")
	tr.reply("OKAY")
	tr.reply("OKAY")
	// Second pass initializes the uploaded handle and a wired SROM tool
	tr.reply("00")
	tr.reply("020A0010B001")
	tr.reply("OKAY")
	tr.reply("OKAY")
	// Identification
	tr.reply("020A0010B001")
	tr.reply(phinfPayload("02", "12345678", "00"))
	tr.reply(phinfPayload("01", "3C8A0192", "00"))
	// Enable
	tr.reply("020A0010B001")
	tr.reply("OKAY")
	tr.reply("OKAY")

	if err := c.SetupTools(); err != nil {
		t.Fatalf("SetupTools error: %v", err)
	}

	if c.registry.Len() != 2 {
		t.Fatalf("registry has %d tools, want 2", c.registry.Len())
	}
	probe := c.registry.ByName("probe")
	if probe == nil || probe.PortHandle != "0A" {
		t.Fatalf("probe = %+v, want handle 0A", probe)
	}
	if probe.MainType != "02" || probe.PartNumber != "PN-900339" {
		t.Errorf("probe metadata = %q %q", probe.MainType, probe.PartNumber)
	}
	discovered := c.registry.ByHandle("0B")
	if discovered == nil || discovered.Name != "01-3C8A0192" || discovered.SerialNumber != "3C8A0192" {
		t.Fatalf("discovered tool = %+v", discovered)
	}

	if tr.countWrites("PVWR 0A0000") != 1 || tr.countWrites("PVWR 0A0040") != 1 {
		t.Error("definition chunks not written at 64-byte addresses")
	}
	// Probe is dynamic, reference is static
	if !tr.wrote("PENA 0AD") || !tr.wrote("PENA 0BS") {
		t.Error("enable modes not derived from the tool types")
	}
}

func TestSetupToolsGuards(t *testing.T) {
	c := newTestController(newScriptTransport())
	if err := c.SetupTools(); err == nil {
		t.Error("SetupTools succeeded while disconnected")
	}
	c.state = Tracking
	if err := c.SetupTools(); err == nil {
		t.Error("SetupTools succeeded while tracking")
	}
}

func TestInitializePortHandlesSkipsRefusals(t *testing.T) {
	tr := newScriptTransport()
	c := newTestController(tr)
	c.state = Connected

	tr.reply("010C001")
	tr.reply("ERROR01") // PHF refused
	tr.reply("010C001")
	tr.reply("ERROR02") // PINIT refused

	if err := c.initializePortHandles(); err != nil {
		t.Fatalf("initializePortHandles error: %v", err)
	}
	if !tr.wrote("PHF 0C") || !tr.wrote("PINIT 0C") {
		t.Error("refused handles not attempted")
	}
}

func TestQueryPortHandlesZeroSerialRetry(t *testing.T) {
	tr := newScriptTransport()
	c := newTestController(tr)
	c.state = Connected

	tr.reply("010A001")
	tr.reply(phinfPayload("02", "00000000", "00"))
	// Retry: reinitialize, then query again
	tr.reply("00")
	tr.reply("010A001")
	tr.reply("OKAY")
	tr.reply("010A001")
	tr.reply(phinfPayload("02", "EM001234", "00"))

	if err := c.queryPortHandles(true); err != nil {
		t.Fatalf("queryPortHandles error: %v", err)
	}
	tool := c.registry.ByHandle("0A")
	if tool == nil || tool.SerialNumber != "EM001234" {
		t.Fatalf("tool = %+v, want serial EM001234", tool)
	}
}

func TestQueryPortHandlesPersistentZeroSerial(t *testing.T) {
	tr := newScriptTransport()
	c := newTestController(tr)
	c.state = Connected

	tr.reply("010A001")
	tr.reply(phinfPayload("02", "00000000", "00"))
	tr.reply("00")
	tr.reply("00")
	tr.reply("010A001")
	tr.reply(phinfPayload("02", "00000000", "00"))

	err := c.queryPortHandles(true)
	var perr *protocol.ProtocolError
	if !errors.As(err, &perr) {
		t.Fatalf("error = %v, want *ProtocolError", err)
	}
}

func TestQueryPortHandlesSecondChannel(t *testing.T) {
	tr := newScriptTransport()
	c := newTestController(tr)
	c.state = Connected

	tr.reply("020A0010B001")
	tr.reply(phinfPayload("02", "EM000001", "00"))
	tr.reply(phinfPayload("02", "EM000001", "01"))

	if err := c.queryPortHandles(true); err != nil {
		t.Fatalf("queryPortHandles error: %v", err)
	}
	if c.registry.Len() != 2 {
		t.Fatalf("registry has %d tools, want 2", c.registry.Len())
	}
	second := c.registry.ByHandle("0B")
	if second == nil || second.SerialNumber != "EM000002" {
		t.Fatalf("second channel tool = %+v, want derived serial EM000002", second)
	}
	if c.registry.ByHandle("0A") == second {
		t.Error("both channels adopted as one tool")
	}
}

func TestQueryPortHandlesSkipsUnoccupied(t *testing.T) {
	tr := newScriptTransport()
	c := newTestController(tr)
	c.state = Connected

	tr.reply("010A001")
	tr.reply("UNOCCUPIED0000000000")

	if err := c.queryPortHandles(true); err != nil {
		t.Fatalf("queryPortHandles error: %v", err)
	}
	if c.registry.Len() != 0 {
		t.Errorf("registry has %d tools, want 0", c.registry.Len())
	}
}

func TestQueryPortHandlesPairsDeclaredTool(t *testing.T) {
	tr := newScriptTransport()
	c := newTestController(tr)
	c.state = Connected
	if err := c.DeclareTool(ToolDeclaration{Name: "probe", SerialNumber: "12345678"}); err != nil {
		t.Fatal(err)
	}

	tr.reply("010A001")
	tr.reply(phinfPayload("02", "12345678", "00"))

	if err := c.queryPortHandles(true); err != nil {
		t.Fatalf("queryPortHandles error: %v", err)
	}
	tool := c.registry.ByHandle("0A")
	if tool == nil || tool.Name != "probe" {
		t.Fatalf("handle paired with %+v, want the declared probe", tool)
	}
	if tool.MainType != "02" {
		t.Errorf("MainType = %q", tool.MainType)
	}
	if c.registry.Len() != 1 {
		t.Errorf("registry has %d tools, want 1", c.registry.Len())
	}
}

func TestEnablePortHandlesAborts(t *testing.T) {
	t.Run("handle without tool information", func(t *testing.T) {
		tr := newScriptTransport()
		c := newTestController(tr)
		c.state = Connected
		tr.reply("010A001")

		err := c.enablePortHandles()
		var perr *protocol.ProtocolError
		if !errors.As(err, &perr) {
			t.Errorf("error = %v, want *ProtocolError", err)
		}
	})

	t.Run("unknown main type", func(t *testing.T) {
		tr := newScriptTransport()
		c := newTestController(tr)
		c.state = Connected
		tool, _ := c.registry.Add("odd", "ABCDEFGH")
		tool.MainType = "EE"
		c.registry.AssignHandle("0A", tool)
		tr.reply("010A001")

		err := c.enablePortHandles()
		var perr *protocol.ProtocolError
		if !errors.As(err, &perr) {
			t.Errorf("error = %v, want *ProtocolError", err)
		}
	})
}

func TestEnablePortHandlesSkipsRefusal(t *testing.T) {
	tr := newScriptTransport()
	c := newTestController(tr)
	c.state = Connected
	tool, _ := c.registry.Add("probe", "12345678")
	tool.MainType = "02"
	c.registry.AssignHandle("0A", tool)

	tr.reply("010A001")
	tr.reply("ERROR2C")

	if err := c.enablePortHandles(); err != nil {
		t.Fatalf("enablePortHandles error: %v", err)
	}
	if !tr.wrote("PENA 0AD") {
		t.Error("enable not attempted")
	}
}
