// Package protocol implements the wire format of NDI measurement system
// controllers (Polaris, Aurora, Vega families) as spoken over their serial
// host interface.
//
// Every exchange is a single ASCII command followed by a single reply.
// Commands are a mnemonic plus space-separated arguments, terminated by a
// carriage return; most carry a 4-hex-digit CRC16 between the arguments and
// the terminator. Replies always carry the CRC. Numeric reply fields are
// fixed width with implied decimal points (quaternions /10000, positions
// /100, RMS /10000).
//
// This package is pure: it builds command payloads and decodes reply
// payloads but performs no I/O. The session layer in internal/tracker owns
// the transport and the request/response pacing.
package protocol
