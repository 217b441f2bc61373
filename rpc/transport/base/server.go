package base

import (
	"errors"
	"fmt"
	"github.com/ValentinKolb/rcam/rpc/common"
	"github.com/ValentinKolb/rcam/rpc/transport"
	"github.com/puzpuzpuz/xsync/v3"
	"net"
	"sync"
	"sync/atomic"
)

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IServerConnector defines the interface for transport-specific server operations
type IServerConnector interface {
	// Listen creates a listener and returns it
	Listen(config common.ServerConfig) (net.Listener, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string

	// UpgradeConnection applies protocol-specific settings to an accepted connection
	UpgradeConnection(conn net.Conn, config common.ServerConfig) error
}

// -----------------------------------------------------------
// Helper Types
// -----------------------------------------------------------

// serverTransport accepts connections and hands each to the registered handler
// in its own goroutine
type serverTransport struct {
	connector IServerConnector
	handler   transport.ServerConnHandler
	config    common.ServerConfig
	listener  net.Listener

	conns      *xsync.MapOf[uint64, net.Conn]
	nextConnID atomic.Uint64
	closed     atomic.Bool
	wg         sync.WaitGroup
}

// -----------------------------------------------------------
// Transport Factory Method (used for tcp, unix, etc.)
// -----------------------------------------------------------

// NewBaseServerTransport creates a new base server transport with the specified connector
func NewBaseServerTransport(connector IServerConnector) transport.IServerTransport {
	return &serverTransport{
		connector: connector,
		conns:     xsync.NewMapOf[uint64, net.Conn](),
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IServerTransport)
// --------------------------------------------------------------------------

func (t *serverTransport) GetName() string {
	return t.connector.GetName()
}

func (t *serverTransport) RegisterHandler(handler transport.ServerConnHandler) {
	t.handler = handler
}

func (t *serverTransport) Listen(config common.ServerConfig) (string, error) {
	if t.handler == nil {
		return "", fmt.Errorf("no connection handler registered")
	}
	t.config = config

	// Create listener using the connector
	listener, err := t.connector.Listen(config)
	if err != nil {
		return "", fmt.Errorf("failed to create listener: %v", err)
	}
	t.listener = listener

	Logger.Infof("Starting %s server on %s", t.connector.GetName(), listener.Addr())

	t.wg.Add(1)
	go t.accept()

	return listener.Addr().String(), nil
}

func (t *serverTransport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}

	var err error
	if t.listener != nil {
		err = t.listener.Close()
	}

	// Close all open connections, their handlers return on the next read
	t.conns.Range(func(_ uint64, conn net.Conn) bool {
		_ = conn.Close()
		return true
	})

	t.wg.Wait()
	return err
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// accept accepts connections until the listener is closed
func (t *serverTransport) accept() {
	defer t.wg.Done()

	for {
		conn, err := t.listener.Accept()
		if err != nil {
			if t.closed.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			Logger.Errorf("Accept error: %v", err)
			continue
		}

		if err := t.connector.UpgradeConnection(conn, t.config); err != nil {
			Logger.Warningf("Failed to upgrade connection from %s: %v", conn.RemoteAddr(), err)
		}

		id := t.nextConnID.Add(1)
		t.conns.Store(id, conn)
		if t.closed.Load() {
			// Close raced with Accept
			_ = conn.Close()
		}

		// Handle the connection in a goroutine
		t.wg.Add(1)
		go t.handleConnection(id, conn)
	}
}

// handleConnection runs the handler for one connection and cleans up afterwards
func (t *serverTransport) handleConnection(id uint64, conn net.Conn) {
	defer t.wg.Done()
	defer t.conns.Delete(id)
	defer conn.Close()

	Logger.Debugf("Accepted connection %d from %s", id, conn.RemoteAddr())
	t.handler(conn)
	Logger.Debugf("Connection %d closed", id)
}
