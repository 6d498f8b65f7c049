package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func TestFrame(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		expected string
	}{
		{
			name:     "BEEP command",
			payload:  "BEEP 3",
			expected: "BEEP 3258E\r",
		},
		{
			name:     "INIT keeps its trailing space",
			payload:  "INIT ",
			expected: "INIT 2824\r",
		},
		{
			name:     "TSTART",
			payload:  "TSTART 80",
			expected: "TSTART 80DC2A\r",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Frame(tt.payload)
			if !bytes.Equal(result, []byte(tt.expected)) {
				t.Errorf("Frame(%q) = %q, want %q", tt.payload, result, tt.expected)
			}
		})
	}
}

func TestFrameBare(t *testing.T) {
	result := FrameBare("COMM 50000")
	if !bytes.Equal(result, []byte("COMM 50000\r")) {
		t.Errorf("FrameBare() = %q, want %q", result, "COMM 50000\r")
	}
}

func TestVerifyReply(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		payload string
		wantErr bool
	}{
		{
			name:    "reset banner",
			raw:     "RESETBE6F\r",
			payload: "RESET",
		},
		{
			name:    "okay",
			raw:     "OKAYA896\r",
			payload: "OKAY",
		},
		{
			name:    "empty payload",
			raw:     "0000\r",
			payload: "",
		},
		{
			name:    "missing terminator",
			raw:     "OKAYA896",
			wantErr: true,
		},
		{
			name:    "empty frame",
			raw:     "",
			wantErr: true,
		},
		{
			name:    "too short for a checksum",
			raw:     "ABC\r",
			wantErr: true,
		},
		{
			name:    "checksum mismatch",
			raw:     "OKAY0000\r",
			wantErr: true,
		},
		{
			name:    "corrupted payload",
			raw:     "OKAJA896\r",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := VerifyReply([]byte(tt.raw))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("VerifyReply(%q) = %q, want error", tt.raw, payload)
				}
				var perr *ProtocolError
				if !errors.As(err, &perr) {
					t.Errorf("VerifyReply(%q) error = %T, want *ProtocolError", tt.raw, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("VerifyReply(%q) error: %v", tt.raw, err)
			}
			if string(payload) != tt.payload {
				t.Errorf("VerifyReply(%q) = %q, want %q", tt.raw, payload, tt.payload)
			}
		})
	}
}

func TestVerifyReplyRoundTrip(t *testing.T) {
	// Every command frame is also a valid reply frame
	for _, payload := range []string{"OKAY", "RESET", "PHSR 00", "ERROR01"} {
		got, err := VerifyReply(Frame(payload))
		if err != nil {
			t.Fatalf("VerifyReply(Frame(%q)) error: %v", payload, err)
		}
		if string(got) != payload {
			t.Errorf("round trip %q = %q", payload, got)
		}
	}
}

func TestIsErrorReply(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		code     string
		expected bool
	}{
		{
			name:     "error with code",
			payload:  "ERROR01",
			code:     "01",
			expected: true,
		},
		{
			name:     "error with trailing data",
			payload:  "ERROR23XXXX",
			code:     "23",
			expected: true,
		},
		{
			name:     "okay is not an error",
			payload:  "OKAY",
			expected: false,
		},
		{
			name:     "bare ERROR without a code",
			payload:  "ERROR",
			expected: false,
		},
		{
			name:     "empty payload",
			payload:  "",
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, ok := IsErrorReply([]byte(tt.payload))
			if ok != tt.expected || code != tt.code {
				t.Errorf("IsErrorReply(%q) = (%q, %v), want (%q, %v)", tt.payload, code, ok, tt.code, tt.expected)
			}
		})
	}
}
