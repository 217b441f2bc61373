package ws

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"github.com/ValentinKolb/rcam/rpc/common"
	"github.com/ValentinKolb/rcam/rpc/transport"
	"github.com/gorilla/websocket"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

var Logger = logger.GetLogger("transport/rpc")

// NewWSServerTransport creates a new websocket server transport
func NewWSServerTransport() transport.IServerTransport {
	return &wsServerTransport{
		conns: xsync.NewMapOf[uint64, *wsConn](),
	}
}

type wsServerTransport struct {
	handler  transport.ServerConnHandler
	config   common.ServerConfig
	server   *http.Server
	upgrader websocket.Upgrader

	conns      *xsync.MapOf[uint64, *wsConn]
	nextConnID atomic.Uint64
	wg         sync.WaitGroup
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IServerTransport)
// --------------------------------------------------------------------------

func (t *wsServerTransport) GetName() string {
	return "ws"
}

func (t *wsServerTransport) RegisterHandler(handler transport.ServerConnHandler) {
	t.handler = handler
}

func (t *wsServerTransport) Listen(config common.ServerConfig) (string, error) {
	if t.handler == nil {
		return "", fmt.Errorf("no connection handler registered")
	}
	t.config = config
	t.upgrader = websocket.Upgrader{
		ReadBufferSize:  config.Transport.ReadBufferSize,
		WriteBufferSize: config.Transport.WriteBufferSize,
		// The camera is not a browser resource
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	// Create a new HTTP server
	mux := http.NewServeMux()

	// Register handler
	if t.config.LogLevel == "debug" {
		mux.HandleFunc("GET "+DefaultPath, loggerMiddleware(t.handleUpgrade))
	} else {
		mux.HandleFunc("GET "+DefaultPath, t.handleUpgrade)
	}

	listener, err := net.Listen("tcp", config.Transport.Endpoint)
	if err != nil {
		return "", fmt.Errorf("failed to create listener: %v", err)
	}

	t.server = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	Logger.Infof("Starting websocket server on %s%s", listener.Addr(), DefaultPath)

	go func() {
		if err := t.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			Logger.Errorf("websocket server stopped: %v", err)
		}
	}()

	return listener.Addr().String(), nil
}

func (t *wsServerTransport) Close() error {
	if t.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := t.server.Shutdown(ctx)

	// Hijacked connections are not tracked by the http server
	t.conns.Range(func(_ uint64, conn *wsConn) bool {
		_ = conn.Close()
		return true
	})
	t.wg.Wait()
	return err
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// handleUpgrade upgrades the request to a websocket and serves it
func (t *wsServerTransport) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	ws, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with an error
		Logger.Warningf("websocket upgrade from %s failed: %v", r.RemoteAddr, err)
		return
	}

	conn := newConn(ws)
	id := t.nextConnID.Add(1)
	t.conns.Store(id, conn)
	t.wg.Add(1)
	defer func() {
		t.conns.Delete(id)
		_ = conn.Close()
		t.wg.Done()
	}()

	Logger.Debugf("Accepted websocket connection %d from %s", id, r.RemoteAddr)
	t.handler(conn)
}

// --------------------------------------------------------------------------
// Middleware (logging)
// --------------------------------------------------------------------------

// responseWriter is a custom ResponseWriter that captures status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

// WriteHeader captures the status code before writing it
func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack hands the connection to the websocket upgrader
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	rw.statusCode = http.StatusSwitchingProtocols
	return http.NewResponseController(rw.ResponseWriter).Hijack()
}

// loggerMiddleware is a middleware that logs HTTP requests
func loggerMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Create custom response writer to capture status code
		rw := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		// Process request, for websockets this returns when the connection ends
		next.ServeHTTP(rw, r)

		Logger.Debugf("%s %s => %d took %s", r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	}
}
