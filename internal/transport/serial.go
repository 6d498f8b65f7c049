package transport

import (
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"sort"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"github.com/tracklab/nditracker/internal/protocol"
)

// readPollSlice is how long one physical read waits for data before
// returning empty. Response deadlines are enforced above this layer by
// accumulating poll reads, so the slice just bounds the loop granularity.
const readPollSlice = 50 * time.Millisecond

// SerialPort implements Transport over a physical serial device.
type SerialPort struct {
	name string
	port serial.Port
}

// NewSerialPort returns an unopened serial transport.
func NewSerialPort() *SerialPort {
	return &SerialPort{}
}

// Name returns the device path of the open port, or "" before Open.
func (s *SerialPort) Name() string { return s.name }

func toMode(ls protocol.LinkSettings) (*serial.Mode, error) {
	mode := &serial.Mode{
		BaudRate: ls.BaudRate,
		DataBits: ls.DataBits,
	}
	switch ls.Parity {
	case protocol.ParityNone:
		mode.Parity = serial.NoParity
	case protocol.ParityOdd:
		mode.Parity = serial.OddParity
	case protocol.ParityEven:
		mode.Parity = serial.EvenParity
	default:
		return nil, fmt.Errorf("unsupported parity %d", ls.Parity)
	}
	switch ls.StopBits {
	case 1:
		mode.StopBits = serial.OneStopBit
	case 2:
		mode.StopBits = serial.TwoStopBits
	default:
		return nil, fmt.Errorf("unsupported stop bits %d", ls.StopBits)
	}
	// The serial library exposes no RTS/CTS control; every link setting
	// this engine negotiates uses no flow control.
	if ls.FlowControl != protocol.FlowNone {
		return nil, fmt.Errorf("hardware flow control not supported")
	}
	return mode, nil
}

func (s *SerialPort) Open(name string, ls protocol.LinkSettings) error {
	mode, err := toMode(ls)
	if err != nil {
		return &Error{Op: "open", Port: name, Err: err}
	}
	port, err := serial.Open(name, mode)
	if err != nil {
		return &Error{Op: "open", Port: name, Err: err}
	}
	if err := port.SetReadTimeout(readPollSlice); err != nil {
		port.Close()
		return &Error{Op: "set read timeout", Port: name, Err: err}
	}
	s.name = name
	s.port = port
	log.Printf("[serial] opened %s at %d baud", name, ls.BaudRate)
	return nil
}

func (s *SerialPort) Close() error {
	if s.port == nil {
		return nil
	}
	name := s.name
	err := s.port.Close()
	s.port = nil
	s.name = ""
	if err != nil {
		return &Error{Op: "close", Port: name, Err: err}
	}
	return nil
}

func (s *SerialPort) Write(p []byte) (int, error) {
	if s.port == nil {
		return 0, &Error{Op: "write", Err: errors.New("port not open")}
	}
	return s.port.Write(p)
}

func (s *SerialPort) Read(p []byte) (int, error) {
	if s.port == nil {
		return 0, &Error{Op: "read", Err: errors.New("port not open")}
	}
	return s.port.Read(p)
}

// Reconfigure changes the link settings of the open port, as after a COMM
// negotiation.
func (s *SerialPort) Reconfigure(ls protocol.LinkSettings) error {
	if s.port == nil {
		return &Error{Op: "reconfigure", Err: errors.New("port not open")}
	}
	mode, err := toMode(ls)
	if err != nil {
		return &Error{Op: "reconfigure", Port: s.name, Err: err}
	}
	if err := s.port.SetMode(mode); err != nil {
		return &Error{Op: "reconfigure", Port: s.name, Err: err}
	}
	log.Printf("[serial] reconfigured %s to %d baud", s.name, ls.BaudRate)
	return nil
}

// SendBreak holds the line in break state for d.
func (s *SerialPort) SendBreak(d time.Duration) error {
	if s.port == nil {
		return &Error{Op: "break", Err: errors.New("port not open")}
	}
	if err := s.port.Break(d); err != nil {
		return &Error{Op: "break", Port: s.name, Err: err}
	}
	return nil
}

// DiscardInput drops any bytes buffered on the receive side.
func (s *SerialPort) DiscardInput() error {
	if s.port == nil {
		return nil
	}
	return s.port.ResetInputBuffer()
}

// PortInfo describes one serial device candidate.
type PortInfo struct {
	Name         string `json:"name"`
	IsUSB        bool   `json:"isUsb"`
	VID          string `json:"vid,omitempty"`
	PID          string `json:"pid,omitempty"`
	SerialNumber string `json:"serialNumber,omitempty"`
	Product      string `json:"product,omitempty"`
}

// ListPorts enumerates serial devices with USB detail where the platform
// provides it, falling back to the plain port list.
func ListPorts() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err == nil {
		infos := make([]PortInfo, 0, len(details))
		for _, d := range details {
			infos = append(infos, PortInfo{
				Name:         d.Name,
				IsUSB:        d.IsUSB,
				VID:          d.VID,
				PID:          d.PID,
				SerialNumber: d.SerialNumber,
				Product:      d.Product,
			})
		}
		sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
		return infos, nil
	}

	names, listErr := serial.GetPortsList()
	if listErr != nil {
		return nil, &Error{Op: "enumerate", Err: errors.Join(err, listErr)}
	}
	sort.Strings(names)
	infos := make([]PortInfo, 0, len(names))
	for _, n := range names {
		infos = append(infos, PortInfo{Name: n})
	}
	return infos, nil
}

// CandidatePorts returns device names to probe when no port is configured.
// USB serial adapters are listed first since trackers nearly always hang
// off one; glob patterns catch platforms the enumerator cannot describe.
func CandidatePorts() []string {
	seen := make(map[string]bool)
	var candidates []string
	add := func(name string) {
		if name != "" && !seen[name] {
			seen[name] = true
			candidates = append(candidates, name)
		}
	}

	infos, err := ListPorts()
	if err == nil {
		for _, info := range infos {
			if info.IsUSB {
				add(info.Name)
			}
		}
		for _, info := range infos {
			add(info.Name)
		}
	}

	for _, pattern := range []string{"/dev/ttyUSB*", "/dev/ttyACM*", "/dev/ttyS*", "/dev/cu.*"} {
		matches, _ := filepath.Glob(pattern)
		sort.Strings(matches)
		for _, m := range matches {
			add(m)
		}
	}
	return candidates
}
