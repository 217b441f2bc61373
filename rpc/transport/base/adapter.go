package base

import (
	"context"
	"errors"
	"fmt"
	"github.com/ValentinKolb/rcam/rpc/common"
	"github.com/ValentinKolb/rcam/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"os"
	"sync"
	"time"
)

var Logger = logger.GetLogger("transport/rpc")

const (
	// eventQueueSize bounds the events buffered between the I/O goroutines and
	// Service. A full queue stops the reader, which pushes back on the peer.
	eventQueueSize = 64

	defaultReadSize = 64 * 1024 // 64 KB
)

// errClosedLocally is the cause reported after Close
var errClosedLocally = fmt.Errorf("%w: closed locally", common.ErrTransportClosed)

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IClientConnector defines the interface for transport-specific connection operations
type IClientConnector interface {
	// Connect establishes a single connection to the endpoint
	Connect(ctx context.Context, endpoint string, config common.ClientConfig) (transport.Conn, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string

	// UpgradeConnection applies protocol-specific settings to an established connection
	UpgradeConnection(conn transport.Conn, config common.ClientConfig) error
}

// clientTransport creates adapters for a connector
type clientTransport struct {
	connector IClientConnector
}

// NewBaseClientTransport creates a client transport with the specified connector
func NewBaseClientTransport(connector IClientConnector) transport.IClientTransport {
	return &clientTransport{connector: connector}
}

func (t *clientTransport) GetName() string {
	return t.connector.GetName()
}

func (t *clientTransport) NewAdapter(config common.ClientConfig) transport.IAdapter {
	chunk := config.Transport.WriteChunkSize
	if chunk <= 0 {
		chunk = common.DefaultWriteChunkSize
	}
	readSize := config.Transport.ReadBufferSize
	if readSize <= 0 {
		readSize = defaultReadSize
	}

	return &adapter{
		connector:  t.connector,
		config:     config,
		chunkSize:  chunk,
		readSize:   readSize,
		writeSlice: config.ServiceInterval(),
		events:     make(chan transport.Event, eventQueueSize),
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
}

// -----------------------------------------------------------
// Adapter
// -----------------------------------------------------------

// adapter turns a blocking Conn into the event interface of transport.IAdapter.
// A dial goroutine and a reader goroutine feed the event queue, Service hands
// the queued events to the event goroutine.
type adapter struct {
	connector  IClientConnector
	config     common.ClientConfig
	chunkSize  int
	readSize   int
	writeSlice time.Duration

	events chan transport.Event
	wake   chan struct{}
	done   chan struct{} // closed by Close, stops dial and reader goroutines

	mu          sync.Mutex // protects conn and closed
	conn        transport.Conn
	closed      bool
	closeReport bool // EventClosed was handed out
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IAdapter)
// --------------------------------------------------------------------------

func (a *adapter) Dial(address string, timeout time.Duration) {
	go a.dial(address, timeout)
}

func (a *adapter) Service(wantWrite bool, timeout time.Duration) []transport.Event {
	if a.isClosed() {
		return a.finalEvents()
	}

	// Hand out everything that is already queued
	events := a.drain(nil)
	if wantWrite && a.established() {
		events = append(events, transport.Event{Kind: transport.EventWritable})
	}
	if len(events) > 0 {
		return events
	}

	// Nothing to do, wait for activity
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ev := <-a.events:
		return a.drain([]transport.Event{ev})
	case <-a.wake:
	case <-timer.C:
	case <-a.done:
		return a.finalEvents()
	}
	return nil
}

func (a *adapter) Write(p []byte) (int, error) {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		return 0, fmt.Errorf("%w: write on unconnected adapter", common.ErrTransportClosed)
	}

	if len(p) > a.chunkSize {
		p = p[:a.chunkSize]
	}

	// A short deadline turns a blocked write into a partial one, the remainder
	// is written on the next writable callback
	if err := conn.SetWriteDeadline(time.Now().Add(a.writeSlice)); err != nil {
		return 0, err
	}
	n, err := conn.Write(p)
	if err != nil && errors.Is(err, os.ErrDeadlineExceeded) {
		return n, nil
	}
	return n, err
}

func (a *adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	conn := a.conn
	a.mu.Unlock()

	close(a.done)
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (a *adapter) Wake() {
	select {
	case a.wake <- struct{}{}:
	default:
	}
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// dial establishes the connection and starts the reader
func (a *adapter) dial(address string, timeout time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if timeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, timeout)
		defer cancelTimeout()
	}

	// Abort the dial if the adapter is closed in the meantime
	go func() {
		select {
		case <-a.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	conn, err := a.connector.Connect(ctx, address, a.config)
	if err == nil {
		if err = a.connector.UpgradeConnection(conn, a.config); err != nil {
			_ = conn.Close()
		}
	}
	if err != nil {
		a.push(transport.Event{
			Kind: transport.EventClosed,
			Err:  fmt.Errorf("%w: %s %s: %v", common.ErrConnectFailed, a.connector.GetName(), address, err),
		})
		return
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		_ = conn.Close()
		return
	}
	a.conn = conn
	a.mu.Unlock()

	Logger.Debugf("%s connection to %s established", a.connector.GetName(), address)
	a.push(transport.Event{Kind: transport.EventConnected})
	go a.read(conn)
}

// read forwards everything read from conn as EventData
func (a *adapter) read(conn transport.Conn) {
	for {
		buf := make([]byte, a.readSize)
		n, err := conn.Read(buf)
		if n > 0 {
			if !a.push(transport.Event{Kind: transport.EventData, Data: buf[:n]}) {
				return
			}
		}
		if err != nil {
			a.push(transport.Event{
				Kind: transport.EventClosed,
				Err:  fmt.Errorf("%w: %v", common.ErrTransportClosed, err),
			})
			return
		}
	}
}

// push queues an event, it returns false if the adapter was closed
func (a *adapter) push(ev transport.Event) bool {
	select {
	case a.events <- ev:
		return true
	case <-a.done:
		return false
	}
}

// drain appends all queued events without blocking
func (a *adapter) drain(events []transport.Event) []transport.Event {
	for {
		select {
		case ev := <-a.events:
			events = append(events, ev)
		default:
			return events
		}
	}
}

// finalEvents reports the local close once
func (a *adapter) finalEvents() []transport.Event {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closeReport {
		return nil
	}
	a.closeReport = true
	return []transport.Event{{Kind: transport.EventClosed, Err: errClosedLocally}}
}

func (a *adapter) established() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.conn != nil && !a.closed
}

func (a *adapter) isClosed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}
