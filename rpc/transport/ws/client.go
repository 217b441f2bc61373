package ws

import (
	"context"
	"github.com/ValentinKolb/rcam/rpc/common"
	"github.com/ValentinKolb/rcam/rpc/transport"
	"github.com/ValentinKolb/rcam/rpc/transport/base"
	"github.com/gorilla/websocket"
	"net"
	"strings"
)

// DefaultPath is the path the camera serves its websocket on
const DefaultPath = "/camera"

// clientConnector implements the IClientConnector interface for websockets
type clientConnector struct{}

// --------------------------------------------------------------------------
// Interface Methods (docu see base.IClientConnector)
// --------------------------------------------------------------------------

func (c *clientConnector) GetName() string {
	return "ws"
}

func (c *clientConnector) Connect(ctx context.Context, endpoint string, config common.ClientConfig) (transport.Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            websocket.DefaultDialer.Proxy,
		HandshakeTimeout: config.ConnectTimeout(),
		ReadBufferSize:   config.Transport.ReadBufferSize,
		WriteBufferSize:  config.Transport.WriteBufferSize,
	}

	ws, resp, err := dialer.DialContext(ctx, endpointURL(endpoint), nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return newConn(ws), nil
}

func (c *clientConnector) UpgradeConnection(conn transport.Conn, config common.ClientConfig) error {
	wc, ok := conn.(*wsConn)
	if !ok {
		return nil
	}
	if tcpConn, ok := wc.ws.NetConn().(*net.TCPConn); ok {
		return tcpConn.SetNoDelay(config.Transport.TCPNoDelay)
	}
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// endpointURL turns a host:port endpoint into a websocket url, full urls are
// used as they are
func endpointURL(endpoint string) string {
	if strings.HasPrefix(endpoint, "ws://") || strings.HasPrefix(endpoint, "wss://") {
		return endpoint
	}
	return "ws://" + endpoint + DefaultPath
}

// --------------------------------------------------------------------------
// Client Transport Factory Method
// --------------------------------------------------------------------------

// NewWSClientTransport creates a new websocket client transport
func NewWSClientTransport() transport.IClientTransport {
	return base.NewBaseClientTransport(&clientConnector{})
}
