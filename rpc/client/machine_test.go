package client

import (
	"bytes"
	"errors"
	"github.com/ValentinKolb/rcam/rpc/common"
	"github.com/ValentinKolb/rcam/rpc/framing"
	"github.com/ValentinKolb/rcam/rpc/serializer"
	"testing"
)

func newTestMachine() *machine {
	return newMachine(framing.NewResponseDecoder(serializer.NewProtoSerializer(), 0, 0), nil)
}

// connectedMachine returns a machine in state Connected
func connectedMachine(t *testing.T) *machine {
	t.Helper()
	m := newTestMachine()
	if err := m.beginConnect(); err != nil {
		t.Fatalf("beginConnect failed: %v", err)
	}
	m.handleEvent(connectedEvent())
	if m.state != StateConnected {
		t.Fatalf("Expected state connected, got %s", m.state)
	}
	return m
}

// responseBytes encodes a response and its trailer as they appear on the wire
func responseBytes(t *testing.T, resp *common.ServerResponse, raw []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	resp.RawLength = uint32(len(raw))
	if err := framing.WriteResponse(&buf, serializer.NewProtoSerializer(), resp, raw); err != nil {
		t.Fatalf("Failed to encode response: %v", err)
	}
	return buf.Bytes()
}

func requestFrame(t *testing.T, req *common.ClientRequest) []byte {
	t.Helper()
	frame, err := framing.EncodeRequest(serializer.NewProtoSerializer(), req)
	if err != nil {
		t.Fatalf("Failed to encode request: %v", err)
	}
	return frame
}

func TestMachineConnect(t *testing.T) {
	t.Run("established", func(t *testing.T) {
		m := newTestMachine()
		if err := m.beginConnect(); err != nil {
			t.Fatalf("beginConnect failed: %v", err)
		}
		if m.state != StateConnecting {
			t.Errorf("Expected state connecting, got %s", m.state)
		}
		if err := m.beginConnect(); !errors.Is(err, common.ErrAlreadyConnected) {
			t.Errorf("Expected ErrAlreadyConnected, got %v", err)
		}

		m.handleEvent(connectedEvent())
		if m.state != StateConnected || !m.flags.Connected {
			t.Errorf("Expected connected machine, got %s %+v", m.state, m.flags)
		}
	})

	t.Run("failed", func(t *testing.T) {
		m := newTestMachine()
		_ = m.beginConnect()
		m.handleEvent(closedEvent(nil))

		if m.state != StateClosed {
			t.Errorf("Expected state closed, got %s", m.state)
		}
		if m.flags.Connected || !m.flags.Closed {
			t.Errorf("Unexpected flags %+v", m.flags)
		}
		if !errors.Is(m.err, common.ErrConnectFailed) {
			t.Errorf("Expected ErrConnectFailed, got %v", m.err)
		}

		// A closed machine can connect again
		if err := m.beginConnect(); err != nil {
			t.Errorf("Reconnect rejected: %v", err)
		}
		if m.flags.Closed {
			t.Errorf("Closed flag survived reconnect")
		}
	})
}

func TestMachineExchangeMisuse(t *testing.T) {
	m := newTestMachine()
	if _, err := m.beginExchange([]byte{1}, true, nil); !errors.Is(err, common.ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected, got %v", err)
	}

	m = connectedMachine(t)
	if _, err := m.beginExchange([]byte{1}, true, nil); err != nil {
		t.Fatalf("First exchange rejected: %v", err)
	}
	_, err := m.beginExchange([]byte{2}, true, nil)
	if !errors.Is(err, common.ErrBusy) || !errors.Is(err, common.ErrProtocolMisuse) {
		t.Errorf("Expected ErrBusy of class ErrProtocolMisuse, got %v", err)
	}
}

// TestMachineWriteCompleteKeepsWaiting tests that a flushed request alone does
// not complete an exchange that expects a response
func TestMachineWriteCompleteKeepsWaiting(t *testing.T) {
	m := connectedMachine(t)
	frame := requestFrame(t, common.NewRequest(common.OpGetStatus))
	ex, _ := m.beginExchange(frame, true, nil)

	// Partial writes
	m.handleEvent(writtenEvent(3))
	if got := m.pendingWrite(); !bytes.Equal(got, frame[3:]) {
		t.Fatalf("Pending write mismatch after short write")
	}
	m.handleEvent(writtenEvent(len(frame) - 3))

	if !ex.sent || !m.flags.SendSuccessful {
		t.Fatalf("Request not marked as sent")
	}
	if ex.done {
		t.Fatalf("Exchange completed before the response arrived")
	}
	if m.pendingWrite() != nil {
		t.Errorf("Pending write left after the frame was flushed")
	}

	// Response arrives one byte at a time
	resp := common.NewResponse(common.OpGetStatus, common.StatusOk)
	resp.IntResults = []int32{1, 2}
	for _, b := range responseBytes(t, resp, nil) {
		if ex.done {
			t.Fatalf("Exchange completed before the whole response arrived")
		}
		m.handleEvent(dataEvent([]byte{b}))
	}

	if !ex.done || ex.err != nil {
		t.Fatalf("Expected completed exchange, got done=%v err=%v", ex.done, ex.err)
	}
	if ex.resp.Opcode != common.OpGetStatus || len(ex.resp.IntResults) != 2 {
		t.Errorf("Unexpected response %+v", ex.resp)
	}
	if !m.flags.DataReceived || m.last == nil {
		t.Errorf("Response not recorded")
	}
	if m.exchange != nil {
		t.Errorf("Exchange still in flight")
	}
}

func TestMachineOneWayCompletesOnWrite(t *testing.T) {
	m := connectedMachine(t)
	frame := requestFrame(t, &common.ClientRequest{Opcode: common.OpStop, OneWay: true})
	ex, _ := m.beginExchange(frame, false, nil)

	m.handleEvent(writtenEvent(len(frame)))
	if !ex.done || ex.err != nil || ex.resp != nil {
		t.Errorf("Expected one-way exchange to complete on write, got done=%v err=%v", ex.done, ex.err)
	}
}

// TestMachineRawTrailerBounded tests that bytes after the declared trailer stay
// in the stream for the next exchange
func TestMachineRawTrailerBounded(t *testing.T) {
	m := connectedMachine(t)

	raw := bytes.Repeat([]byte{0x5A}, 1024)
	first := responseBytes(t, common.NewResponse(common.OpGetFrame, common.StatusOk), raw)
	second := responseBytes(t, common.NewResponse(common.OpPing, common.StatusOk), nil)

	// The first chunk carries the first exchange and half of the next response
	stream := append(append([]byte{}, first...), second...)
	split := len(first) + len(second)/2

	dst := make([]byte, 2048)
	ex, _ := m.beginExchange(requestFrame(t, common.NewGetFrameRequest()), true, dst)
	m.handleEvent(writtenEvent(len(ex.frame)))
	m.handleEvent(dataEvent(stream[:split]))

	if !ex.done || ex.err != nil {
		t.Fatalf("First exchange failed: done=%v err=%v", ex.done, ex.err)
	}
	if ex.rawCopied != 1024 || !bytes.Equal(dst[:1024], raw) {
		t.Errorf("Trailer copy mismatch, copied %d", ex.rawCopied)
	}
	if !bytes.Equal(dst[1024:], make([]byte, 1024)) {
		t.Errorf("Bytes beyond the declared trailer leaked into the raw buffer")
	}

	ex2, err := m.beginExchange(requestFrame(t, common.NewPingRequest(nil)), true, nil)
	if err != nil {
		t.Fatalf("Second exchange rejected: %v", err)
	}
	m.handleEvent(writtenEvent(len(ex2.frame)))
	m.handleEvent(dataEvent(stream[split:]))

	if !ex2.done || ex2.err != nil || ex2.resp.Opcode != common.OpPing {
		t.Errorf("Second exchange failed: done=%v err=%v", ex2.done, ex2.err)
	}
}

func TestMachineRawBufferTooSmall(t *testing.T) {
	m := connectedMachine(t)
	raw := bytes.Repeat([]byte{7}, 100)

	dst := make([]byte, 40)
	ex, _ := m.beginExchange(requestFrame(t, common.NewGetFrameRequest()), true, dst)
	m.handleEvent(writtenEvent(len(ex.frame)))
	m.handleEvent(dataEvent(responseBytes(t, common.NewResponse(common.OpGetFrame, common.StatusOk), raw)))

	if !ex.done || !errors.Is(ex.err, common.ErrRawBufferTooSmall) || !errors.Is(ex.err, common.ErrProtocolMisuse) {
		t.Fatalf("Expected ErrRawBufferTooSmall, got done=%v err=%v", ex.done, ex.err)
	}
	if ex.rawCopied != 40 || !bytes.Equal(dst, raw[:40]) {
		t.Errorf("Expected 40 copied bytes, got %d", ex.rawCopied)
	}

	// The trailer was drained, the connection stays usable
	if m.state != StateConnected {
		t.Errorf("Expected connected machine, got %s", m.state)
	}
	ex2, _ := m.beginExchange(requestFrame(t, common.NewPingRequest(nil)), true, nil)
	m.handleEvent(writtenEvent(len(ex2.frame)))
	m.handleEvent(dataEvent(responseBytes(t, common.NewResponse(common.OpPing, common.StatusOk), nil)))
	if !ex2.done || ex2.err != nil {
		t.Errorf("Exchange after drained trailer failed: %v", ex2.err)
	}
}

func TestMachineTrailerWithoutDestination(t *testing.T) {
	m := connectedMachine(t)
	ex, _ := m.beginExchange(requestFrame(t, common.NewGetFrameRequest()), true, nil)
	m.handleEvent(writtenEvent(len(ex.frame)))
	m.handleEvent(dataEvent(responseBytes(t, common.NewResponse(common.OpGetFrame, common.StatusOk), make([]byte, 64))))

	if !ex.done || ex.err != nil {
		t.Fatalf("Expected success, got done=%v err=%v", ex.done, ex.err)
	}
	if ex.resp.RawLength != 64 || ex.rawCopied != 0 {
		t.Errorf("Unexpected trailer bookkeeping: declared %d copied %d", ex.resp.RawLength, ex.rawCopied)
	}
}

func TestMachineCloseFailsExchange(t *testing.T) {
	tests := []struct {
		name  string
		event event
		want  error
	}{
		{"peer closed", closedEvent(nil), common.ErrTransportClosed},
		{"malformed frame", dataEvent([]byte{0, 0, 0, 0}), common.ErrFraming},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := connectedMachine(t)
			ex, _ := m.beginExchange(requestFrame(t, common.NewPingRequest(nil)), true, nil)
			m.handleEvent(writtenEvent(len(ex.frame)))
			m.handleEvent(tt.event)

			if !ex.done || !errors.Is(ex.err, tt.want) {
				t.Errorf("Expected %v, got done=%v err=%v", tt.want, ex.done, ex.err)
			}
			if m.state != StateClosed || m.flags.Connected || !m.flags.Closed {
				t.Errorf("Expected closed machine, got %s %+v", m.state, m.flags)
			}
		})
	}
}

func TestMachineRequestClose(t *testing.T) {
	m := connectedMachine(t)
	ex, _ := m.beginExchange(requestFrame(t, common.NewPingRequest(nil)), true, nil)

	if !m.requestClose(common.ErrTimeout) {
		t.Fatalf("requestClose on a connected machine must require a transport close")
	}
	if m.state != StateClosing || m.flags.Connected {
		t.Errorf("Expected closing machine, got %s %+v", m.state, m.flags)
	}
	if !ex.done || !errors.Is(ex.err, common.ErrTimeout) {
		t.Errorf("Exchange not failed by close: %v", ex.err)
	}
	if m.pendingWrite() != nil {
		t.Errorf("Closing machine must not write")
	}

	m.handleEvent(closedEvent(nil))
	if m.state != StateClosed || !errors.Is(m.err, common.ErrTimeout) {
		t.Errorf("Expected closed machine keeping the first cause, got %s %v", m.state, m.err)
	}
	if m.requestClose(nil) {
		t.Errorf("requestClose on a closed machine must be a no-op")
	}
}
