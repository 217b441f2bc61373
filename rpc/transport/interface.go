package transport

import (
	"github.com/ValentinKolb/rcam/rpc/common"
	"io"
	"time"
)

// --------------------------------------------------------------------------
// Events
// --------------------------------------------------------------------------

// EventKind is the kind of a transport notification
type EventKind uint8

const (
	// EventConnected reports that the connection handshake succeeded
	EventConnected EventKind = iota
	// EventData reports that bytes were read from the stream (readable callback)
	EventData
	// EventWritable reports that the stream accepts a write
	EventWritable
	// EventClosed reports that the connection is gone, Err holds the cause
	EventClosed
)

// String returns the string representation of an EventKind
func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventData:
		return "data"
	case EventWritable:
		return "writable"
	case EventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is a single notification of an adapter
type Event struct {
	Kind EventKind
	// Data holds the received bytes of an EventData, owned by the receiver
	Data []byte
	// Err holds the cause of an EventClosed
	Err error
}

// --------------------------------------------------------------------------
// Client Transport
// --------------------------------------------------------------------------

// Conn is an established bidirectional byte stream
type Conn interface {
	io.ReadWriteCloser
	SetWriteDeadline(t time.Time) error
}

// IAdapter wraps the stream socket of one camera connection. It is driven by a
// single event goroutine: Dial, Service and Write must only be called from that
// goroutine. Close and Wake are safe for concurrent use.
type IAdapter interface {
	// Dial starts the asynchronous connection handshake. Its outcome is reported
	// by Service as EventConnected or EventClosed.
	Dial(address string, timeout time.Duration)

	// Service waits up to timeout for transport activity and returns the events
	// that occurred, possibly none. If wantWrite is set and the connection is
	// established, EventWritable is reported without waiting.
	Service(wantWrite bool, timeout time.Duration) []Event

	// Write puts at most one chunk of p on the wire and returns the number of
	// bytes written. Short writes are not errors.
	Write(p []byte) (int, error)

	// Close closes the connection. Service reports EventClosed afterwards.
	Close() error

	// Wake interrupts a blocked Service call.
	Wake()
}

// IClientTransport creates adapters for one kind of transport (tcp, unix, ws)
type IClientTransport interface {
	// GetName returns the name of the transport type
	GetName() string
	// NewAdapter creates an unconnected adapter using the given configuration
	NewAdapter(config common.ClientConfig) IAdapter
}

// --------------------------------------------------------------------------
// Server Transport
// --------------------------------------------------------------------------

// ServerConnHandler serves one accepted connection until it is closed.
// The transport closes the connection after the handler returns.
type ServerConnHandler func(conn Conn)

// IServerTransport is the interface for the server side of a transport
type IServerTransport interface {
	// GetName returns the name of the transport type
	GetName() string
	// RegisterHandler registers the handler called for every accepted connection
	RegisterHandler(handler ServerConnHandler)
	// Listen binds the configured endpoint and serves connections in the
	// background. It returns the bound address.
	Listen(config common.ServerConfig) (string, error)
	// Close stops accepting connections and closes all open ones
	Close() error
}
