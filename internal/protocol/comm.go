package protocol

import "fmt"

// Parity is the serial parity mode carried in a COMM command.
type Parity int

const (
	ParityNone Parity = iota
	ParityOdd
	ParityEven
)

// FlowControl is the serial flow control mode carried in a COMM command.
type FlowControl int

const (
	FlowNone FlowControl = iota
	FlowHardware
)

// LinkSettings describes one serial link configuration, both as the COMM
// command encodes it and as the physical port is configured.
type LinkSettings struct {
	BaudRate    int
	DataBits    int // 8 or 7
	Parity      Parity
	StopBits    int // 1 or 2
	FlowControl FlowControl
}

// DefaultLinkSettings is the fixed configuration a controller wakes up in
// and the one a reset must be performed at.
func DefaultLinkSettings() LinkSettings {
	return LinkSettings{BaudRate: 9600, DataBits: 8, Parity: ParityNone, StopBits: 1, FlowControl: FlowNone}
}

// NegotiatedLinkSettings is the configuration the session moves the link to
// after a successful reset.
func NegotiatedLinkSettings() LinkSettings {
	return LinkSettings{BaudRate: 115200, DataBits: 8, Parity: ParityNone, StopBits: 1, FlowControl: FlowNone}
}

// CommCmd encodes link settings as a COMM command, one digit per field.
// Each field that does not map to a protocol code is a ConfigurationError
// and nothing should be sent.
func CommCmd(s LinkSettings) (string, error) {
	var baud byte
	switch s.BaudRate {
	case 9600:
		baud = '0'
	case 19200:
		baud = '2'
	case 38400:
		baud = '3'
	case 57600:
		baud = '4'
	case 115200:
		baud = '5'
	default:
		return "", &ConfigurationError{Field: "baud rate", Detail: fmt.Sprintf("%d not supported by COMM", s.BaudRate)}
	}

	var size byte
	switch s.DataBits {
	case 8:
		size = '0'
	case 7:
		size = '1'
	default:
		return "", &ConfigurationError{Field: "data bits", Detail: fmt.Sprintf("%d not supported by COMM", s.DataBits)}
	}

	var parity byte
	switch s.Parity {
	case ParityNone:
		parity = '0'
	case ParityOdd:
		parity = '1'
	case ParityEven:
		parity = '2'
	default:
		return "", &ConfigurationError{Field: "parity", Detail: fmt.Sprintf("%d not supported by COMM", s.Parity)}
	}

	var stop byte
	switch s.StopBits {
	case 1:
		stop = '0'
	case 2:
		stop = '1'
	default:
		return "", &ConfigurationError{Field: "stop bits", Detail: fmt.Sprintf("%d not supported by COMM", s.StopBits)}
	}

	var flow byte
	switch s.FlowControl {
	case FlowNone:
		flow = '0'
	case FlowHardware:
		flow = '1'
	default:
		return "", &ConfigurationError{Field: "flow control", Detail: fmt.Sprintf("%d not supported by COMM", s.FlowControl)}
	}

	return "COMM " + string([]byte{baud, size, parity, stop, flow}), nil
}
