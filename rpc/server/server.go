package server

import (
	"context"
	"errors"
	"fmt"
	"github.com/ValentinKolb/rcam/rpc/common"
	"github.com/ValentinKolb/rcam/rpc/framing"
	"github.com/ValentinKolb/rcam/rpc/serializer"
	"github.com/ValentinKolb/rcam/rpc/transport"
	vm "github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

var Logger = logger.GetLogger("server")

// Buffer pool for request payloads
var bufferPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, 4096)
		return &buf
	},
}

// session is a connected client of the camera server
type session struct {
	id       uuid.UUID
	started  time.Time
	requests atomic.Int64
}

// NewCameraServer creates a new camera server emulating a single camera
// It takes a config, transport and serializer as parameters
//
// Usage:
//
//	s := server.NewCameraServer(
//		*config,
//		tcp.NewTCPServerTransport(),
//		serializer.NewProtoSerializer(),
//	)
//
//	if err := s.Serve(); err != nil {
//		panic(err)
//	 }
func NewCameraServer(
	config common.ServerConfig,
	transport transport.IServerTransport,
	serializer serializer.IRPCSerializer,
) *CameraServer {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	name := config.CameraName
	if name == "" {
		name = "rcam-emulator"
	}

	modes := DefaultModes
	if config.FrameWidth > 0 && config.FrameHeight > 0 {
		modes = append(append([]Mode{}, DefaultModes...), Mode{Name: "custom", Width: config.FrameWidth, Height: config.FrameHeight})
	}

	set := vm.NewSet()
	s := &CameraServer{
		config:     config,
		transport:  transport,
		serializer: serializer,
		camera:     NewCamera(name, modes),
		adapter:    NewCameraServerAdapter(),
		sessions:   xsync.NewMapOf[uuid.UUID, *session](),
		metrics:    set,
		failures:   set.GetOrCreateCounter("rcam_server_request_failures_total"),
		rawBytes:   set.GetOrCreateCounter("rcam_server_raw_bytes_total"),
		latency:    set.GetOrCreateHistogram("rcam_server_request_duration_seconds"),
	}
	set.GetOrCreateGauge("rcam_server_sessions", func() float64 {
		return float64(s.sessions.Size())
	})

	return s
}

// CameraServer serves an emulated camera over a server transport
type CameraServer struct {
	config     common.ServerConfig
	transport  transport.IServerTransport
	serializer serializer.IRPCSerializer
	camera     *Camera
	adapter    IRPCServerAdapter
	sessions   *xsync.MapOf[uuid.UUID, *session]

	metrics    *vm.Set
	metricsSrv *http.Server
	metricsLn  net.Listener
	failures   *vm.Counter
	rawBytes   *vm.Counter
	latency    *vm.Histogram
}

// Start binds the transport and the metrics endpoint and returns the address
// the camera is reachable on. Connections are served in the background.
func (s *CameraServer) Start() (string, error) {
	// Init logger
	if s.config.LogLevel != "" {
		if err := common.InitLoggers(s.config.LogLevel); err != nil {
			return "", err
		}
	}

	Logger.Infof("Created Camera Server")
	Logger.Infof(s.config.String())

	s.transport.RegisterHandler(s.serveConnection)
	addr, err := s.transport.Listen(s.config)
	if err != nil {
		return "", err
	}

	if s.config.MetricsEndpoint != "" {
		if err := s.startMetrics(); err != nil {
			_ = s.transport.Close()
			return "", err
		}
	}

	Logger.Infof("Camera %q ready on %s (%s)", s.camera.Name(), addr, s.transport.GetName())
	return addr, nil
}

// Serve starts the server and blocks until SIGINT or SIGTERM is received
func (s *CameraServer) Serve() error {
	if _, err := s.Start(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	Logger.Infof("Shutting down camera server")
	return s.Close()
}

// Close stops the transport and the metrics endpoint
func (s *CameraServer) Close() error {
	err := s.transport.Close()
	if s.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if mErr := s.metricsSrv.Shutdown(ctx); mErr != nil && err == nil {
			err = mErr
		}
	}
	return err
}

// Camera returns the emulated camera
func (s *CameraServer) Camera() *Camera {
	return s.camera
}

// Sessions returns the number of connected clients
func (s *CameraServer) Sessions() int {
	return s.sessions.Size()
}

// MetricsAddr returns the address of the metrics endpoint, empty if disabled
func (s *CameraServer) MetricsAddr() string {
	if s.metricsLn == nil {
		return ""
	}
	return s.metricsLn.Addr().String()
}

// WritePrometheus writes the server metrics in prometheus text format
func (s *CameraServer) WritePrometheus(w io.Writer) {
	s.metrics.WritePrometheus(w)
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// serveConnection answers requests of one client until the connection is closed
// or the stream is corrupt
func (s *CameraServer) serveConnection(conn transport.Conn) {
	sess := &session{id: uuid.New(), started: time.Now()}
	s.sessions.Store(sess.id, sess)
	defer func() {
		s.sessions.Delete(sess.id)
		Logger.Debugf("Session %s ended after %d requests (%s)", sess.id, sess.requests.Load(), time.Since(sess.started))
	}()

	Logger.Debugf("Session %s started", sess.id)

	bufPtr := bufferPool.Get().(*[]byte)
	defer bufferPool.Put(bufPtr)

	timeout := time.Duration(s.config.TimeoutSecond) * time.Second

	for {
		req, err := framing.ReadRequest(conn, s.serializer, s.config.Transport.MaxFrameSize, *bufPtr)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) && !errors.Is(err, io.ErrUnexpectedEOF) {
				Logger.Warningf("Session %s: failed to read request: %v", sess.id, err)
			}
			return
		}
		sess.requests.Add(1)

		start := time.Now()
		resp, raw := s.adapter.Handle(req, s.camera)
		s.latency.Update(time.Since(start).Seconds())
		s.metrics.GetOrCreateCounter(fmt.Sprintf(`rcam_server_requests_total{opcode=%q}`, req.Opcode)).Inc()
		if resp.Status != common.StatusOk {
			s.failures.Inc()
			Logger.Debugf("Session %s: %v", sess.id, resp.Err())
		}

		// One-way requests are not answered
		if req.OneWay {
			continue
		}

		if timeout > 0 {
			_ = conn.SetWriteDeadline(time.Now().Add(timeout))
		}
		if err := framing.WriteResponse(conn, s.serializer, resp, raw); err != nil {
			Logger.Warningf("Session %s: failed to write response: %v", sess.id, err)
			return
		}
		s.rawBytes.Add(len(raw))
	}
}

// startMetrics serves the prometheus metrics of the server on the configured endpoint
func (s *CameraServer) startMetrics() error {
	ln, err := net.Listen("tcp", s.config.MetricsEndpoint)
	if err != nil {
		return fmt.Errorf("failed to listen on metrics endpoint: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /metrics", func(w http.ResponseWriter, r *http.Request) {
		s.metrics.WritePrometheus(w)
		vm.WriteProcessMetrics(w)
	})

	s.metricsLn = ln
	s.metricsSrv = &http.Server{Handler: mux}
	go func() {
		if err := s.metricsSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			Logger.Errorf("Metrics endpoint failed: %v", err)
		}
	}()

	Logger.Infof("Serving metrics on http://%s/metrics", ln.Addr())
	return nil
}
