package tracker

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tracklab/nditracker/internal/protocol"
	"github.com/tracklab/nditracker/internal/transport"
)

// ============================================================================
// Session lifecycle
// ============================================================================

// State is the controller session lifecycle position. Transitions only move
// forward through Resetting and Negotiating during Connect; Connected and
// Tracking toggle via SetTracking; any failure drops back to Disconnected.
type State int

const (
	Disconnected State = iota
	Resetting
	Negotiating
	Connected
	Tracking
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Resetting:
		return "resetting"
	case Negotiating:
		return "negotiating"
	case Connected:
		return "connected"
	case Tracking:
		return "tracking"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

const (
	// defaultReadTimeout bounds a single command-response exchange during
	// steady-state operation.
	defaultReadTimeout = 2 * time.Second

	// setupReadTimeout covers the serial break reset and the COMM/INIT
	// bring-up, both of which can take several seconds on real hardware.
	setupReadTimeout = 10 * time.Second

	// breakDuration is the serial line-break length that hard-resets the
	// measurement controller.
	breakDuration = 500 * time.Millisecond

	// postBreakSettle pads the break so the controller has a full second
	// before the RESET banner is expected.
	postBreakSettle = 500 * time.Millisecond

	// commSettle brackets the baud-rate switch: once after the controller
	// acknowledges COMM, once after the host side reconfigures.
	commSettle = 200 * time.Millisecond

	// verSettle gives the controller breathing room between the version
	// diagnostics issued right after INIT.
	verSettle = 100 * time.Millisecond

	// trackingSettle follows every TSTART/TSTOP acknowledgement.
	trackingSettle = 500 * time.Millisecond

	// beepSettle is the pause between sending BEEP and reading its reply.
	beepSettle = 100 * time.Millisecond

	// beepAttempts caps the retry loop for a busy beeper. A previous beep
	// can hold the beeper for a few hundred milliseconds.
	beepAttempts = 20

	// responseBufferSize must fit the largest TX reply. A full complement
	// of enabled tools plus stray markers stays well under this.
	responseBufferSize = 4096
)

// ToolDeclaration describes a tool the caller expects to track. Tools with a
// DefinitionPath are wireless or user-defined and have their geometry
// uploaded during setup; the rest carry their definition in tool SROM.
type ToolDeclaration struct {
	Name           string
	SerialNumber   string
	DefinitionPath string
	TooltipOffset  Vector3
}

// Config carries the knobs for a Controller. The zero value of every field
// has a usable default.
type Config struct {
	// Transport is the wire to the controller. Nil selects a real serial
	// port.
	Transport transport.Transport

	// PortName pins the controller to one serial device. Empty means probe
	// the candidate ports until one answers the reset banner.
	PortName string

	// ReadTimeout bounds each command-response exchange. Zero means the
	// default of two seconds.
	ReadTimeout time.Duration

	// StrayMarkers asks for individual unpaired marker positions in every
	// tracking frame.
	StrayMarkers bool

	// FirmwareRevision, when set, must appear in the controller's reported
	// firmware version or Connect fails.
	FirmwareRevision string
}

// Controller drives one optical or electromagnetic measurement controller
// over its ASCII command channel. All methods must be called from a single
// goroutine; the protocol is strict request-response and the controller
// cannot interleave commands.
type Controller struct {
	tr       transport.Transport
	portName string
	openPort string
	state    State

	readTimeout      time.Duration
	strayMarkers     bool
	firmwareRevision string

	registry  *Registry
	respBuf   []byte
	sessionID string
	seq       uint64
}

// NewController builds a disconnected controller from cfg.
func NewController(cfg Config) *Controller {
	tr := cfg.Transport
	if tr == nil {
		tr = transport.NewSerialPort()
	}
	rt := cfg.ReadTimeout
	if rt <= 0 {
		rt = defaultReadTimeout
	}
	return &Controller{
		tr:               tr,
		portName:         cfg.PortName,
		state:            Disconnected,
		readTimeout:      rt,
		strayMarkers:     cfg.StrayMarkers,
		firmwareRevision: cfg.FirmwareRevision,
		registry:         NewRegistry(),
		respBuf:          make([]byte, 0, responseBufferSize),
	}
}

// Name identifies the provider.
func (c *Controller) Name() string {
	return "NDI"
}

// State reports the current session state.
func (c *Controller) State() State {
	return c.state
}

// Connected reports whether a session is established (tracking or not).
func (c *Controller) Connected() bool {
	return c.state == Connected || c.state == Tracking
}

// Tracking reports whether the controller is in tracking mode.
func (c *Controller) Tracking() bool {
	return c.state == Tracking
}

// SessionID returns the identifier minted for the current connection, empty
// when disconnected.
func (c *Controller) SessionID() string {
	return c.sessionID
}

// Port returns the device name of the open serial port, empty when
// disconnected.
func (c *Controller) Port() string {
	return c.openPort
}

// SetStrayReporting toggles stray marker reporting for subsequent frames.
func (c *Controller) SetStrayReporting(on bool) {
	c.strayMarkers = on
}

// StrayReporting reports whether stray markers are requested per frame.
func (c *Controller) StrayReporting() bool {
	return c.strayMarkers
}

// DeclareTool registers a tool ahead of Connect. Declarations with a
// definition file are uploaded to the controller during SetupTools.
func (c *Controller) DeclareTool(d ToolDeclaration) error {
	if len(d.SerialNumber) != serialNumberLen {
		return &protocol.ConfigurationError{
			Field:  "tool serial number",
			Detail: fmt.Sprintf("%q must be %d characters", d.SerialNumber, serialNumberLen),
		}
	}
	name := d.Name
	if name == "" {
		name = d.SerialNumber
	}
	tool, err := c.registry.Add(name, d.SerialNumber)
	if err != nil {
		return err
	}
	tool.DefinitionPath = d.DefinitionPath
	tool.TooltipOffset = d.TooltipOffset
	return nil
}

// ============================================================================
// Connect / Disconnect
// ============================================================================

// Connect resets the controller, negotiates the fast link and initializes
// the measurement system. With no configured port it probes each candidate
// serial device until one answers the reset banner. Connect is a no-op when
// already connected.
func (c *Controller) Connect() error {
	if c.Connected() {
		return nil
	}

	candidates := []string{c.portName}
	if c.portName == "" {
		candidates = transport.CandidatePorts()
		if len(candidates) == 0 {
			return fmt.Errorf("tracker: no serial ports to probe")
		}
		log.Printf("[tracker] no port configured, probing %d candidate ports", len(candidates))
	}

	var lastErr error
	for _, name := range candidates {
		c.state = Resetting
		if err := c.resetPort(name); err != nil {
			log.Printf("[tracker] reset on %s failed: %v", name, err)
			lastErr = err
			c.state = Disconnected
			continue
		}
		c.openPort = name
		if err := c.bringUp(); err != nil {
			log.Printf("[tracker] bring-up on %s failed: %v", name, err)
			c.tr.Close()
			c.openPort = ""
			c.state = Disconnected
			lastErr = err
			continue
		}
		c.state = Connected
		c.sessionID = uuid.NewString()
		c.seq = 0
		log.Printf("[tracker] connected on %s (session %s)", name, c.sessionID)
		return nil
	}
	return fmt.Errorf("tracker: no measurement controller found: %w", lastErr)
}

// resetPort opens name at the power-on link settings, asserts a serial
// break and waits for the RESET banner. The port is closed again on any
// failure.
func (c *Controller) resetPort(name string) error {
	if err := c.tr.Open(name, protocol.DefaultLinkSettings()); err != nil {
		return err
	}
	c.tr.DiscardInput()
	if err := c.tr.SendBreak(breakDuration); err != nil {
		c.tr.Close()
		return err
	}
	time.Sleep(postBreakSettle)
	err := c.withReadTimeout(setupReadTimeout, func() error {
		_, err := c.readExpected(protocol.RESET)
		return err
	})
	if err != nil {
		c.tr.Close()
		return fmt.Errorf("tracker: reset: %w", err)
	}
	return nil
}

// bringUp negotiates the fast link and initializes the system. It runs
// under the long setup timeout since the controller is slow right after a
// reset.
func (c *Controller) bringUp() error {
	c.state = Negotiating
	return c.withReadTimeout(setupReadTimeout, func() error {
		if err := c.negotiate(); err != nil {
			return err
		}
		return c.initialize()
	})
}

// negotiate switches both ends from the power-on link settings to the fast
// ones. COMM goes out unchecksummed because the controller still speaks the
// power-on dialect; the settling pauses bracket the actual baud change.
func (c *Controller) negotiate() error {
	target := protocol.NegotiatedLinkSettings()
	payload, err := protocol.CommCmd(target)
	if err != nil {
		return err
	}
	if err := c.sendBare(payload); err != nil {
		return err
	}
	if _, err := c.readExpected(protocol.OKAY); err != nil {
		return fmt.Errorf("tracker: COMM: %w", err)
	}
	time.Sleep(commSettle)
	if err := c.tr.Reconfigure(target); err != nil {
		return err
	}
	time.Sleep(commSettle)
	log.Printf("[tracker] link negotiated to %d baud", target.BaudRate)
	return nil
}

// initialize sends INIT, logs the version diagnostics and applies the
// firmware revision gate if one is configured.
func (c *Controller) initialize() error {
	if err := c.sendBare(protocol.InitCmd()); err != nil {
		return err
	}
	if _, err := c.readExpected(protocol.OKAY); err != nil {
		return fmt.Errorf("tracker: INIT: %w", err)
	}

	var firmware string
	for _, selector := range []int{0, 3, 4, 5} {
		payload, err := c.version(selector)
		if err != nil {
			log.Printf("[tracker] VER %d unavailable: %v", selector, err)
			continue
		}
		for _, line := range protocol.ParseVersion(payload) {
			log.Printf("[tracker] VER %d: %s", selector, line)
		}
		if selector == 0 {
			firmware = string(payload)
		}
	}
	if c.firmwareRevision != "" && !strings.Contains(firmware, c.firmwareRevision) {
		return &protocol.ConfigurationError{
			Field:  "firmware revision",
			Detail: fmt.Sprintf("controller did not report %q", c.firmwareRevision),
		}
	}
	return nil
}

func (c *Controller) version(selector int) ([]byte, error) {
	if err := c.sendCommand(protocol.VerCmd(selector)); err != nil {
		return nil, err
	}
	time.Sleep(verSettle)
	return c.readResponse()
}

// Disconnect stops tracking if needed and closes the port. The session
// always ends up Disconnected, even when the stop or close fails.
func (c *Controller) Disconnect() error {
	if c.state == Disconnected {
		return nil
	}
	if c.state == Tracking {
		if err := c.SetTracking(false); err != nil {
			log.Printf("[tracker] stop tracking during disconnect: %v", err)
		}
	}
	err := c.tr.Close()
	c.state = Disconnected
	c.openPort = ""
	c.sessionID = ""
	c.registry.ClearLiveState()
	log.Printf("[tracker] disconnected")
	return err
}

// ============================================================================
// Mode changes
// ============================================================================

// SetTracking moves the controller into or out of tracking mode. Asking for
// the mode the session is already in is a no-op. Each transition requires
// the controller's acknowledgement and is followed by a settling pause.
func (c *Controller) SetTracking(on bool) error {
	if !c.Connected() {
		return fmt.Errorf("tracker: not connected")
	}
	if on == (c.state == Tracking) {
		return nil
	}
	if on {
		if err := c.commandOKAY(protocol.TStartCmd()); err != nil {
			return err
		}
		c.state = Tracking
		log.Printf("[tracker] tracking started")
	} else {
		if err := c.commandOKAY(protocol.TStopCmd()); err != nil {
			return err
		}
		c.state = Connected
		log.Printf("[tracker] tracking stopped")
	}
	time.Sleep(trackingSettle)
	return nil
}

// Beep sounds the controller's beeper count times (1 through 9). A reply of
// "0" means the beeper is still busy with a previous request, so the
// command is retried after a short pause.
func (c *Controller) Beep(count int) error {
	if !c.Connected() {
		return fmt.Errorf("tracker: not connected")
	}
	payload, err := protocol.BeepCmd(count)
	if err != nil {
		return err
	}
	for attempt := 0; attempt < beepAttempts; attempt++ {
		if err := c.sendCommand(payload); err != nil {
			return err
		}
		time.Sleep(beepSettle)
		reply, err := c.readResponse()
		if err != nil {
			return err
		}
		if len(reply) > 0 && reply[0] == '1' {
			return nil
		}
		if len(reply) > 0 && reply[0] == '0' {
			continue
		}
		return &protocol.ProtocolError{Op: "BEEP", Detail: fmt.Sprintf("unexpected reply %q", reply)}
	}
	return &protocol.ProtocolError{Op: "BEEP", Detail: "beeper busy"}
}

// ============================================================================
// Wire I/O
// ============================================================================

// withReadTimeout runs fn with the read timeout temporarily set to d,
// restoring the previous value on every path.
func (c *Controller) withReadTimeout(d time.Duration, fn func() error) error {
	saved := c.readTimeout
	c.readTimeout = d
	defer func() { c.readTimeout = saved }()
	return fn()
}

// sendCommand frames payload with its checksum and writes it out. Any
// pending input is discarded first so a stale reply cannot be mistaken for
// this command's.
func (c *Controller) sendCommand(payload string) error {
	c.tr.DiscardInput()
	return c.writeFrame(protocol.Frame(payload))
}

// sendBare writes payload without a checksum. Only COMM and INIT use this:
// the controller accepts them before the session is fully established.
func (c *Controller) sendBare(payload string) error {
	c.tr.DiscardInput()
	return c.writeFrame(protocol.FrameBare(payload))
}

func (c *Controller) writeFrame(frame []byte) error {
	n, err := c.tr.Write(frame)
	if err != nil {
		return err
	}
	if n != len(frame) {
		return &transport.Error{
			Op:   "write",
			Port: c.openPort,
			Err:  fmt.Errorf("wrote %d of %d bytes", n, len(frame)),
		}
	}
	return nil
}

// readResponse accumulates bytes until the frame terminator, verifies the
// trailing checksum and returns the payload. A terminator that lands
// exactly on the deadline still counts; the deadline only fails reads that
// would have to continue past it.
func (c *Controller) readResponse() ([]byte, error) {
	c.respBuf = c.respBuf[:0]
	deadline := time.Now().Add(c.readTimeout)
	chunk := make([]byte, 256)
	for {
		if n := len(c.respBuf); n > 0 && c.respBuf[n-1] == protocol.Terminator {
			payload, err := protocol.VerifyReply(c.respBuf)
			if err != nil {
				return nil, err
			}
			out := make([]byte, len(payload))
			copy(out, payload)
			return out, nil
		}
		if len(c.respBuf) >= responseBufferSize {
			return nil, &protocol.ProtocolError{
				Op:     "read",
				Detail: fmt.Sprintf("response exceeded %d bytes without terminator", responseBufferSize),
			}
		}
		if time.Now().After(deadline) {
			return nil, &TimeoutError{Op: "read", Timeout: c.readTimeout}
		}
		n, err := c.tr.Read(chunk)
		if err != nil {
			return nil, err
		}
		if n > 0 {
			c.respBuf = append(c.respBuf, chunk[:n]...)
		}
	}
}

// readExpected reads one reply and requires its leading bytes to match
// expected. A controller error report is surfaced as a ProtocolError with
// the two-digit code.
func (c *Controller) readExpected(expected string) ([]byte, error) {
	payload, err := c.readResponse()
	if err != nil {
		return nil, err
	}
	if code, isErr := protocol.IsErrorReply(payload); isErr {
		return nil, &protocol.ProtocolError{Op: "reply", Detail: fmt.Sprintf("controller error %s", code)}
	}
	if !strings.HasPrefix(string(payload), expected) {
		return nil, &protocol.ProtocolError{
			Op:     "reply",
			Detail: fmt.Sprintf("expected %q, received %q", expected, payload),
		}
	}
	return payload, nil
}

// commandOKAY sends a checksummed command and requires the stock OKAY
// acknowledgement.
func (c *Controller) commandOKAY(payload string) error {
	if err := c.sendCommand(payload); err != nil {
		return err
	}
	if _, err := c.readExpected(protocol.OKAY); err != nil {
		return fmt.Errorf("tracker: %s: %w", commandMnemonic(payload), err)
	}
	return nil
}

// commandMnemonic trims a command payload down to its leading mnemonic for
// error messages.
func commandMnemonic(payload string) string {
	if i := strings.IndexByte(payload, ' '); i > 0 {
		return payload[:i]
	}
	return strings.TrimSpace(payload)
}
