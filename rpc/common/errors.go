package common

import "errors"

// --------------------------------------------------------------------------
// Error Taxonomy
// --------------------------------------------------------------------------

// Failure classes. Callers distinguish them with errors.Is.
var (
	// ErrConnectFailed means the connection was never established
	// (address unresolved, connection refused, handshake timeout)
	ErrConnectFailed = errors.New("connect failed")

	// ErrTransportClosed means the peer closed the connection or the network
	// failed, possibly in the middle of an exchange
	ErrTransportClosed = errors.New("connection closed")

	// ErrFraming means the byte stream carried a malformed or inconsistent frame.
	// The connection is closed since stream alignment can no longer be trusted.
	ErrFraming = errors.New("malformed frame")

	// ErrTimeout means a bounded wait expired. For exchanges the connection is
	// closed since a partially written frame cannot be resumed.
	ErrTimeout = errors.New("timed out")

	// ErrProtocolMisuse is the class of all caller errors, rejected without blocking
	ErrProtocolMisuse = errors.New("protocol misuse")
)

// Protocol misuse errors, all wrapping ErrProtocolMisuse
var (
	ErrBusy              = misuse("exchange already in flight on this slot")
	ErrNotConnected      = misuse("slot is not connected")
	ErrAlreadyConnected  = misuse("slot is already connected")
	ErrInvalidSlot       = misuse("invalid slot")
	ErrRawBufferTooSmall = misuse("raw buffer smaller than declared trailer")
)

// misuseError is a protocol misuse error with a specific description
type misuseError struct {
	msg string
}

func misuse(msg string) error {
	return &misuseError{msg: msg}
}

func (e *misuseError) Error() string {
	return "protocol misuse: " + e.msg
}

func (e *misuseError) Unwrap() error {
	return ErrProtocolMisuse
}
