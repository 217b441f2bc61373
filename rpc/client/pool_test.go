package client

import (
	"bytes"
	"context"
	"errors"
	"github.com/ValentinKolb/rcam/rpc/common"
	"github.com/ValentinKolb/rcam/rpc/framing"
	"github.com/ValentinKolb/rcam/rpc/serializer"
	"github.com/ValentinKolb/rcam/rpc/transport"
	"github.com/ValentinKolb/rcam/rpc/transport/tcp"
	"github.com/ValentinKolb/rcam/rpc/transport/unix"
	"github.com/ValentinKolb/rcam/rpc/transport/ws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// --------------------------------------------------------------------------
// Test peer
// --------------------------------------------------------------------------

// peerHandler answers the requests of one connection
type peerHandler func(t *testing.T, conn transport.Conn, s serializer.IRPCSerializer)

type transportPair struct {
	name   string
	client func() transport.IClientTransport
	server func() transport.IServerTransport
}

var transports = []transportPair{
	{"tcp", tcp.NewTCPClientTransport, tcp.NewTCPServerTransport},
	{"unix", unix.NewUnixClientTransport, unix.NewUnixServerTransport},
	{"ws", ws.NewWSClientTransport, ws.NewWSServerTransport},
}

// startPeer serves handler on a loopback endpoint and returns its address
func startPeer(t *testing.T, pair transportPair, handler peerHandler) string {
	t.Helper()

	endpoint := "127.0.0.1:0"
	if pair.name == "unix" {
		endpoint = filepath.Join(t.TempDir(), "cam.sock")
	}

	s := serializer.NewProtoSerializer()
	srv := pair.server()
	srv.RegisterHandler(func(conn transport.Conn) {
		handler(t, conn, s)
	})
	addr, err := srv.Listen(common.ServerConfig{
		TimeoutSecond: 5,
		Transport:     common.ServerTransportConfig{Endpoint: endpoint},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })
	return addr
}

// echoPeer answers every request with a response echoing opcode and bytes.
// A get-frame request is answered with a trailer of IntParams[0] bytes.
func echoPeer(t *testing.T, conn transport.Conn, s serializer.IRPCSerializer) {
	for {
		req, err := framing.ReadRequest(conn, s, 0, nil)
		if err != nil {
			return
		}
		if req.OneWay {
			continue
		}

		resp := common.NewResponse(req.Opcode, common.StatusOk)
		resp.Bytes = req.Bytes
		var raw []byte
		if req.Opcode == common.OpGetFrame && len(req.IntParams) > 0 {
			raw = pattern(int(req.IntParams[0]))
			resp.RawLength = uint32(len(raw))
		}
		if err := framing.WriteResponse(conn, s, resp, raw); err != nil {
			return
		}
	}
}

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7 + 3)
	}
	return b
}

func testConfig() common.ClientConfig {
	config := common.DefaultClientConfig()
	config.ConnectTimeoutSecond = 2
	config.TimeoutSecond = 5
	config.Transport.ServiceIntervalMs = 10
	return config
}

func newTestPool(t *testing.T, pair transportPair, config common.ClientConfig) *Pool {
	t.Helper()
	p := NewPool(config, pair.client(), serializer.NewProtoSerializer())
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func frameRequest(size int) *common.ClientRequest {
	return common.NewRequest(common.OpGetFrame, int32(size))
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

func TestExchanges(t *testing.T) {
	for _, pair := range transports {
		t.Run(pair.name, func(t *testing.T) {
			addr := startPeer(t, pair, echoPeer)
			p := newTestPool(t, pair, testConfig())
			ctx := context.Background()

			require.NoError(t, p.Connect(ctx, 0, addr))
			assert.True(t, p.IsConnected(0))
			assert.True(t, p.IsThreadRunning(0))
			assert.Equal(t, StateConnected, p.State(0))

			t.Run("without trailer", func(t *testing.T) {
				raw := bytes.Repeat([]byte{0xAA}, 64)
				resp, err := p.SendCommand(ctx, 0, common.NewPingRequest([]byte("hello")), raw)
				require.NoError(t, err)
				assert.Equal(t, common.OpPing, resp.Opcode)
				assert.Equal(t, []byte("hello"), resp.Bytes)
				assert.Equal(t, bytes.Repeat([]byte{0xAA}, 64), raw, "raw buffer must stay untouched")

				last, err := p.Recv(0)
				require.NoError(t, err)
				assert.Equal(t, resp, last)
				assert.True(t, p.IsSendSuccessful(0))
				assert.True(t, p.IsDataReceived(0))
			})

			t.Run("1024 byte trailer", func(t *testing.T) {
				raw := make([]byte, 1024)
				resp, err := p.SendCommand(ctx, 0, frameRequest(1024), raw)
				require.NoError(t, err)
				assert.EqualValues(t, 1024, resp.RawLength)
				assert.Equal(t, pattern(1024), raw)
			})

			t.Run("large trailer", func(t *testing.T) {
				size := 640 * 480 * 2
				raw := make([]byte, size)
				_, err := p.SendCommand(ctx, 0, frameRequest(size), raw)
				require.NoError(t, err)
				assert.Equal(t, pattern(size), raw)
			})

			t.Run("one way", func(t *testing.T) {
				resp, err := p.SendCommand(ctx, 0, &common.ClientRequest{Opcode: common.OpStop, OneWay: true}, nil)
				require.NoError(t, err)
				assert.Nil(t, resp)

				// The stream stays aligned
				resp, err = p.Invoke(ctx, 0, common.NewPingRequest([]byte("after")), nil)
				require.NoError(t, err)
				assert.Equal(t, []byte("after"), resp.Bytes)
			})

			require.NoError(t, p.Disconnect(0))
			assert.False(t, p.IsConnected(0))
			assert.False(t, p.IsThreadRunning(0))
			assert.True(t, p.IsClosed(0))
		})
	}
}

// TestChunkedRequest tests that a request larger than the write chunk size is
// written over several writable callbacks
func TestChunkedRequest(t *testing.T) {
	pair := transports[0]
	addr := startPeer(t, pair, echoPeer)

	config := testConfig()
	config.Transport.WriteChunkSize = 1000
	p := newTestPool(t, pair, config)
	require.NoError(t, p.Connect(context.Background(), 0, addr))

	payload := pattern(100 * 1024)
	resp, err := p.SendCommand(context.Background(), 0, common.NewPingRequest(payload), nil)
	require.NoError(t, err)
	assert.Equal(t, payload, resp.Bytes)
	assert.Greater(t, p.Stats(0).BytesSent, int64(len(payload)))
}

func TestConnectUnreachable(t *testing.T) {
	// Reserve a port and release it again, nothing listens there afterwards
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	p := newTestPool(t, transports[0], testConfig())

	start := time.Now()
	err = p.Connect(context.Background(), 1, addr)
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrConnectFailed), "unexpected error %v", err)
	assert.Less(t, time.Since(start), 3*time.Second)

	assert.False(t, p.IsConnected(1))
	assert.False(t, p.IsThreadRunning(1))
	assert.True(t, p.IsClosed(1))

	_, err = p.SendCommand(context.Background(), 1, common.NewPingRequest(nil), nil)
	assert.ErrorIs(t, err, common.ErrNotConnected)
}

func TestConnectTimeout(t *testing.T) {
	// A listener that never completes the websocket handshake
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var mu sync.Mutex
	var conns []net.Conn
	t.Cleanup(func() {
		_ = l.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, conn := range conns {
			_ = conn.Close()
		}
	})
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, conn)
			mu.Unlock()
		}
	}()

	p := newTestPool(t, transports[2], testConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	err = p.Connect(ctx, 0, l.Addr().String())
	assert.ErrorIs(t, err, common.ErrConnectFailed)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.False(t, p.IsConnected(0))
	assert.False(t, p.IsThreadRunning(0))
}

// TestPeerClosesBeforeAnswering tests that a blocked SendCommand fails when the
// peer goes away
func TestPeerClosesBeforeAnswering(t *testing.T) {
	for _, pair := range transports {
		t.Run(pair.name, func(t *testing.T) {
			addr := startPeer(t, pair, func(t *testing.T, conn transport.Conn, s serializer.IRPCSerializer) {
				_, _ = framing.ReadRequest(conn, s, 0, nil)
				// returning closes the connection
			})
			p := newTestPool(t, pair, testConfig())
			require.NoError(t, p.Connect(context.Background(), 2, addr))

			_, err := p.SendCommand(context.Background(), 2, common.NewGetFrameRequest(), make([]byte, 16))
			require.Error(t, err)
			assert.ErrorIs(t, err, common.ErrTransportClosed)

			assert.False(t, p.IsConnected(2))
			assert.True(t, p.IsClosed(2))
			assert.Eventually(t, func() bool { return !p.IsThreadRunning(2) }, 2*time.Second, 10*time.Millisecond)
			assert.Equal(t, StateClosed, p.State(2))
		})
	}
}

func TestSendTimeoutClosesConnection(t *testing.T) {
	release := make(chan struct{})
	addr := startPeer(t, transports[0], func(t *testing.T, conn transport.Conn, s serializer.IRPCSerializer) {
		_, _ = framing.ReadRequest(conn, s, 0, nil)
		<-release
	})
	// Runs before the peer is closed
	t.Cleanup(func() { close(release) })
	p := newTestPool(t, transports[0], testConfig())
	require.NoError(t, p.Connect(context.Background(), 0, addr))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := p.SendCommand(ctx, 0, common.NewPingRequest(nil), nil)
	assert.ErrorIs(t, err, common.ErrTimeout)
	assert.Less(t, time.Since(start), time.Second)

	// Never silently connected after an abandoned exchange
	assert.False(t, p.IsConnected(0))
	assert.Eventually(t, func() bool { return p.State(0) == StateClosed }, 2*time.Second, 10*time.Millisecond)
}

// TestSingleExchangePerSlot tests that a second SendCommand on a busy slot is
// rejected without blocking and does not disturb the running exchange
func TestSingleExchangePerSlot(t *testing.T) {
	received := make(chan struct{}, 1)
	release := make(chan struct{})

	addr := startPeer(t, transports[0], func(t *testing.T, conn transport.Conn, s serializer.IRPCSerializer) {
		for {
			req, err := framing.ReadRequest(conn, s, 0, nil)
			if err != nil {
				return
			}
			received <- struct{}{}
			<-release
			resp := common.NewResponse(req.Opcode, common.StatusOk)
			resp.Bytes = req.Bytes
			if err := framing.WriteResponse(conn, s, resp, nil); err != nil {
				return
			}
		}
	})
	p := newTestPool(t, transports[0], testConfig())
	require.NoError(t, p.Connect(context.Background(), 0, addr))

	var wg sync.WaitGroup
	wg.Add(1)
	var first *common.ServerResponse
	var firstErr error
	go func() {
		defer wg.Done()
		first, firstErr = p.SendCommand(context.Background(), 0, common.NewPingRequest([]byte("first")), nil)
	}()

	<-received
	start := time.Now()
	_, err := p.SendCommand(context.Background(), 0, common.NewPingRequest([]byte("second")), nil)
	assert.ErrorIs(t, err, common.ErrBusy)
	assert.ErrorIs(t, err, common.ErrProtocolMisuse)
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	close(release)
	wg.Wait()
	require.NoError(t, firstErr)
	assert.Equal(t, []byte("first"), first.Bytes)
}

func TestSerializedExchanges(t *testing.T) {
	addr := startPeer(t, transports[0], func(t *testing.T, conn transport.Conn, s serializer.IRPCSerializer) {
		for {
			req, err := framing.ReadRequest(conn, s, 0, nil)
			if err != nil {
				return
			}
			time.Sleep(5 * time.Millisecond)
			resp := common.NewResponse(req.Opcode, common.StatusOk)
			resp.Bytes = req.Bytes
			if err := framing.WriteResponse(conn, s, resp, nil); err != nil {
				return
			}
		}
	})

	config := testConfig()
	config.SerializeExchanges = true
	p := newTestPool(t, transports[0], config)
	require.NoError(t, p.Connect(context.Background(), 0, addr))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payload := []byte{byte(i)}
			resp, err := p.SendCommand(context.Background(), 0, common.NewPingRequest(payload), nil)
			if assert.NoError(t, err) {
				assert.Equal(t, payload, resp.Bytes, "response of another exchange")
			}
		}(i)
	}
	wg.Wait()
	assert.EqualValues(t, 8, p.Stats(0).Exchanges)
}

func TestSlotsAreIndependent(t *testing.T) {
	pair := transports[0]
	p := newTestPool(t, pair, testConfig())
	ctx := context.Background()

	addrs := make([]string, MaxCameras)
	for i := range addrs {
		addrs[i] = startPeer(t, pair, echoPeer)
		require.NoError(t, p.Connect(ctx, i, addrs[i]))
	}

	var wg sync.WaitGroup
	for i := 0; i < MaxCameras; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			raw := make([]byte, 4096*(slot+1))
			for n := 0; n < 10; n++ {
				_, err := p.SendCommand(ctx, slot, frameRequest(len(raw)), raw)
				if !assert.NoError(t, err) {
					return
				}
			}
			assert.Equal(t, pattern(len(raw)), raw)
		}(i)
	}
	wg.Wait()

	slot, ok := p.Lookup(addrs[2])
	assert.True(t, ok)
	assert.Equal(t, 2, slot)

	// Closing one slot leaves the others alone
	require.NoError(t, p.Disconnect(1))
	_, ok = p.Lookup(addrs[1])
	assert.False(t, ok)
	for _, i := range []int{0, 2, 3} {
		assert.True(t, p.IsConnected(i), "slot %d", i)
	}
}

func TestReconnect(t *testing.T) {
	pair := transports[0]
	addr := startPeer(t, pair, echoPeer)
	p := newTestPool(t, pair, testConfig())
	ctx := context.Background()

	require.NoError(t, p.Connect(ctx, 3, addr))
	firstSession := p.SessionID(3)
	assert.ErrorIs(t, p.Connect(ctx, 3, addr), common.ErrAlreadyConnected)

	require.NoError(t, p.Disconnect(3))
	require.NoError(t, p.Disconnect(3), "disconnect must be idempotent")

	require.NoError(t, p.Connect(ctx, 3, addr))
	assert.NotEqual(t, firstSession, p.SessionID(3))

	_, err := p.SendCommand(ctx, 3, common.NewPingRequest(nil), nil)
	assert.NoError(t, err)
}

// TestConnectBusySlot tests that connecting a slot which is already connected
// fails right away and leaves the connection alone
func TestConnectBusySlot(t *testing.T) {
	pair := transports[0]
	addr := startPeer(t, pair, echoPeer)
	other := startPeer(t, pair, echoPeer)
	p := newTestPool(t, pair, testConfig())

	require.NoError(t, p.Connect(context.Background(), 0, addr))

	for _, target := range []string{addr, other} {
		ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		start := time.Now()
		err := p.Connect(ctx, 0, target)
		cancel()
		assert.ErrorIs(t, err, common.ErrAlreadyConnected)
		assert.ErrorIs(t, err, common.ErrProtocolMisuse)
		assert.Less(t, time.Since(start), 250*time.Millisecond)
	}

	assert.True(t, p.IsConnected(0))
	slot, ok := p.Lookup(addr)
	assert.True(t, ok)
	assert.Equal(t, 0, slot)
	_, ok = p.Lookup(other)
	assert.False(t, ok)

	_, err := p.SendCommand(context.Background(), 0, common.NewPingRequest(nil), nil)
	assert.NoError(t, err)

	// The rejected address is free for another slot
	require.NoError(t, p.Connect(context.Background(), 1, other))
}

func TestConcurrentConnect(t *testing.T) {
	const callers = 8

	run := func(t *testing.T, slotOf func(i int) int) {
		pair := transports[0]
		addr := startPeer(t, pair, echoPeer)
		p := newTestPool(t, pair, testConfig())

		errs := make([]error, callers)
		start := time.Now()
		var wg sync.WaitGroup
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				errs[i] = p.Connect(ctx, slotOf(i), addr)
			}(i)
		}
		wg.Wait()
		assert.Less(t, time.Since(start), 2*time.Second)

		winners := 0
		for _, err := range errs {
			if err == nil {
				winners++
				continue
			}
			assert.ErrorIs(t, err, common.ErrAlreadyConnected)
		}
		assert.Equal(t, 1, winners)

		slot, ok := p.Lookup(addr)
		require.True(t, ok)
		assert.True(t, p.IsConnected(slot))
		_, err := p.SendCommand(context.Background(), slot, common.NewPingRequest(nil), nil)
		assert.NoError(t, err)
	}

	t.Run("same slot", func(t *testing.T) {
		run(t, func(int) int { return 0 })
	})
	t.Run("same address", func(t *testing.T) {
		run(t, func(i int) int { return i % MaxCameras })
	})
}

func TestRawBufferTooSmall(t *testing.T) {
	pair := transports[0]
	addr := startPeer(t, pair, echoPeer)
	p := newTestPool(t, pair, testConfig())
	ctx := context.Background()
	require.NoError(t, p.Connect(ctx, 0, addr))

	raw := make([]byte, 100)
	_, err := p.SendCommand(ctx, 0, frameRequest(1000), raw)
	assert.ErrorIs(t, err, common.ErrRawBufferTooSmall)
	assert.Equal(t, pattern(1000)[:100], raw)

	// The trailer was drained, the connection stays usable
	assert.True(t, p.IsConnected(0))
	resp, err := p.SendCommand(ctx, 0, common.NewPingRequest([]byte("x")), nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), resp.Bytes)
}

func TestInvalidSlot(t *testing.T) {
	p := newTestPool(t, transports[0], testConfig())

	for _, slot := range []int{-1, MaxCameras} {
		assert.ErrorIs(t, p.Connect(context.Background(), slot, "127.0.0.1:1"), common.ErrInvalidSlot)
		_, err := p.SendCommand(context.Background(), slot, common.NewPingRequest(nil), nil)
		assert.ErrorIs(t, err, common.ErrInvalidSlot)
		assert.ErrorIs(t, p.Disconnect(slot), common.ErrInvalidSlot)
		assert.Equal(t, Flags{}, p.Flags(slot))
	}

	_, err := p.Recv(0)
	assert.Error(t, err)
}

func TestInvokeChecksStatus(t *testing.T) {
	addr := startPeer(t, transports[0], func(t *testing.T, conn transport.Conn, s serializer.IRPCSerializer) {
		for {
			req, err := framing.ReadRequest(conn, s, 0, nil)
			if err != nil {
				return
			}
			resp := common.NewErrorResponse(req.Opcode, common.StatusInvalidArgument, "unknown mode")
			if err := framing.WriteResponse(conn, s, resp, nil); err != nil {
				return
			}
		}
	})
	p := newTestPool(t, transports[0], testConfig())
	require.NoError(t, p.Connect(context.Background(), 0, addr))

	resp, err := p.Invoke(context.Background(), 0, common.NewSetModeRequest("bogus"), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
	assert.Equal(t, common.StatusInvalidArgument, resp.Status)

	// The transport level exchange itself succeeded
	assert.True(t, p.IsConnected(0))
}

func TestMetrics(t *testing.T) {
	pair := transports[0]
	addr := startPeer(t, pair, echoPeer)
	p := newTestPool(t, pair, testConfig())
	require.NoError(t, p.Connect(context.Background(), 0, addr))

	_, err := p.SendCommand(context.Background(), 0, frameRequest(512), make([]byte, 512))
	require.NoError(t, err)

	stats := p.Stats(0)
	assert.EqualValues(t, 1, stats.Exchanges)
	assert.EqualValues(t, 0, stats.Failures)
	assert.Greater(t, stats.BytesReceived, int64(512))
	assert.Greater(t, stats.MaxLatency, time.Duration(0))

	var buf bytes.Buffer
	p.WritePrometheus(&buf)
	out := buf.String()
	assert.True(t, strings.Contains(out, `rcam_client_exchanges_total{slot="0"} 1`), out)
	assert.True(t, strings.Contains(out, `rcam_client_connected{slot="0"} 1`), out)
}
