package protocol

import "fmt"

// ProtocolError reports a reply that violates the protocol: a checksum
// mismatch, an unexpected literal, an unknown port handle or tool type code.
type ProtocolError struct {
	// Op is the command or operation the reply belongs to.
	Op string

	// Detail describes what was wrong with the reply.
	Detail string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol: %s: %s", e.Op, e.Detail)
}

// ParseError reports a malformed fixed-width field in a reply. Field names
// the offending field so a log line identifies it without a hex dump.
type ParseError struct {
	Field  string
	Detail string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("protocol: parse %s: %s", e.Field, e.Detail)
}

// ConfigurationError reports input the protocol cannot express: an invalid
// link-setting enum, an oversized tool definition, a bad beep count, a
// duplicate tool name.
type ConfigurationError struct {
	Field  string
	Detail string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Detail)
}
