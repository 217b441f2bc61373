package common

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultMaxFrameSize bounds the structured part of a frame
	DefaultMaxFrameSize = 4 * 1024 * 1024 // 4 MB
	// DefaultMaxRawSize bounds a single raw trailer (a 1024x1024 XYZ frame needs 6 MB)
	DefaultMaxRawSize = 64 * 1024 * 1024 // 64 MB
	// DefaultWriteChunkSize is the most a single writable callback puts on the wire
	DefaultWriteChunkSize = 64 * 1024 // 64 KB
	// DefaultServiceIntervalMs is the bounded wait of one event loop iteration
	DefaultServiceIntervalMs = 50
)

// --------------------------------------------------------------------------
// Socket configuration (shared by client and server)
// --------------------------------------------------------------------------

// SocketConf holds buffer settings applied to every stream socket
type SocketConf struct {
	WriteBufferSize int
	ReadBufferSize  int
}

// TCPConf holds settings only applied to TCP sockets
type TCPConf struct {
	TCPNoDelay      bool
	TCPKeepAliveSec int
	TCPLingerSec    int
}

// --------------------------------------------------------------------------
// Camera server configuration struct
// --------------------------------------------------------------------------

// ServerTransportConfig holds the transport settings of the camera server
type ServerTransportConfig struct {
	Endpoint     string
	MaxFrameSize int
	SocketConf
	TCPConf
}

// ServerConfig holds all configuration parameters for the camera emulator.
type ServerConfig struct {
	// Write timeout of a response, 0 disables it
	TimeoutSecond int64

	// Name reported by the emulated camera
	CameraName string

	// Geometry of an additional "custom" mode, 0 disables it
	FrameWidth  int
	FrameHeight int

	// Address of the prometheus metrics endpoint, empty disables it
	MetricsEndpoint string

	// Logging configuration
	LogLevel string

	Transport ServerTransportConfig
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Camera Server")
	addField("Endpoint", c.Transport.Endpoint)
	addField("Camera", c.CameraName)
	if c.FrameWidth > 0 && c.FrameHeight > 0 {
		addField("Custom Mode", fmt.Sprintf("%dx%d", c.FrameWidth, c.FrameHeight))
	}
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Max Frame Size", fmt.Sprintf("%d bytes", c.Transport.MaxFrameSize))

	addSection("Metrics")
	if c.MetricsEndpoint == "" {
		addField("Endpoint", "disabled")
	} else {
		addField("Endpoint", c.MetricsEndpoint)
	}

	addSection("Logging")
	addField("Log Level", c.LogLevel)

	return sb.String()
}

// --------------------------------------------------------------------------
// Camera client configuration struct
// --------------------------------------------------------------------------

// ClientTransportConfig holds the transport settings of every client slot
type ClientTransportConfig struct {
	// Bounded wait of one event loop iteration
	ServiceIntervalMs int
	// Largest chunk put on the wire by one writable callback
	WriteChunkSize int
	// Upper bounds for incoming frames and raw trailers
	MaxFrameSize int
	MaxRawSize   int

	SocketConf
	TCPConf
}

// ClientConfig holds the configuration of the camera connection pool
type ClientConfig struct {
	// Endpoints to connect to, the index is the slot
	Endpoints []string
	// Bound for Connect when the context carries no deadline, 0 waits forever
	ConnectTimeoutSecond int
	// Bound for SendCommand when the context carries no deadline, 0 waits forever
	TimeoutSecond int
	// SerializeExchanges makes overlapping SendCommand calls on one slot wait
	// for each other instead of failing with ErrBusy
	SerializeExchanges bool

	Transport ClientTransportConfig
}

// DefaultClientConfig returns a client configuration with sane defaults
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		ConnectTimeoutSecond: 5,
		TimeoutSecond:        10,
		Transport: ClientTransportConfig{
			ServiceIntervalMs: DefaultServiceIntervalMs,
			WriteChunkSize:    DefaultWriteChunkSize,
			MaxFrameSize:      DefaultMaxFrameSize,
			MaxRawSize:        DefaultMaxRawSize,
			TCPConf: TCPConf{
				TCPNoDelay:   true,
				TCPLingerSec: -1,
			},
		},
	}
}

// ConnectTimeout returns the connect bound as a duration
func (c *ClientConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutSecond) * time.Second
}

// Timeout returns the exchange bound as a duration
func (c *ClientConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecond) * time.Second
}

// ServiceInterval returns the bounded wait of one event loop iteration
func (c *ClientConfig) ServiceInterval() time.Duration {
	if c.Transport.ServiceIntervalMs <= 0 {
		return DefaultServiceIntervalMs * time.Millisecond
	}
	return time.Duration(c.Transport.ServiceIntervalMs) * time.Millisecond
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// General Client Settings
	addSection("Client Configuration")
	addField("Connect Timeout", fmt.Sprintf("%d sec", c.ConnectTimeoutSecond))
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Serialize Exchanges", strconv.FormatBool(c.SerializeExchanges))
	addField("Service Interval", fmt.Sprintf("%d ms", c.Transport.ServiceIntervalMs))
	addField("Write Chunk Size", fmt.Sprintf("%d bytes", c.Transport.WriteChunkSize))

	// Endpoints
	addSection("Endpoints")
	for i, endpoint := range c.Endpoints {
		addField("Slot "+strconv.Itoa(i), endpoint)
	}

	return sb.String()
}
