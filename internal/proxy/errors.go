package proxy

import (
	"errors"
	"fmt"
)

// ErrInsufficientBytes means the buffer ends before the record does. It is
// recoverable: retry once more bytes have arrived.
var ErrInsufficientBytes = errors.New("proxy: insufficient bytes")

// ErrInsufficientSpace means the output buffer cannot hold the whole packet.
var ErrInsufficientSpace = errors.New("proxy: insufficient space")

// ErrVersionMismatch is wrapped by ProtocolError for a foreign header version.
var ErrVersionMismatch = errors.New("proxy: unsupported protocol version")

// ErrCorrupt is wrapped by ProtocolError for an unknown or misdirected type
// code, a bad terminator or an impossible payload.
var ErrCorrupt = errors.New("proxy: invalid packet")

// ProtocolErrorKind classifies a protocol violation.
type ProtocolErrorKind int

const (
	VersionMismatch ProtocolErrorKind = iota + 1
	Corrupt
)

func (k ProtocolErrorKind) String() string {
	switch k {
	case VersionMismatch:
		return "version_mismatch"
	case Corrupt:
		return "corrupt"
	default:
		return "unknown"
	}
}

// ProtocolError reports a packet that can never decode. The receive buffer
// holding it must be discarded.
type ProtocolError struct {
	Kind    ProtocolErrorKind
	Type    PacketType
	Version byte
	Reason  string
}

func (e *ProtocolError) Error() string {
	if e.Kind == VersionMismatch {
		return fmt.Sprintf("%v: got 0x%02X, supported 0x%02X", ErrVersionMismatch, e.Version, ProtocolVersion)
	}
	return fmt.Sprintf("%v: %s (%s)", ErrCorrupt, e.Reason, e.Type)
}

func (e *ProtocolError) Unwrap() error {
	if e.Kind == VersionMismatch {
		return ErrVersionMismatch
	}
	return ErrCorrupt
}

// IsProtocolError reports whether err is a version mismatch or corruption.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}

func corrupt(t PacketType, reason string) error {
	return &ProtocolError{Kind: Corrupt, Type: t, Version: ProtocolVersion, Reason: reason}
}
