package client

import (
	"fmt"
	"github.com/ValentinKolb/rcam/rpc/common"
	"github.com/ValentinKolb/rcam/rpc/framing"
	"time"
)

// --------------------------------------------------------------------------
// States and Flags
// --------------------------------------------------------------------------

// State is the lifecycle state of one camera connection
type State uint8

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosing
	StateClosed
)

// String returns the string representation of a State
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Flags is a snapshot of the status flags of a slot
type Flags struct {
	Connected      bool
	SendSuccessful bool
	DataReceived   bool
	ThreadRunning  bool
	Closed         bool
}

// --------------------------------------------------------------------------
// Events
// --------------------------------------------------------------------------

type eventKind uint8

const (
	evConnected eventKind = iota
	evData
	evWritten
	evClosed
)

// event is an input of the state machine. The event goroutine translates
// transport events into these, tests create them directly.
type event struct {
	kind eventKind
	data []byte // evData
	n    int    // evWritten
	err  error  // evClosed
}

func connectedEvent() event       { return event{kind: evConnected} }
func dataEvent(b []byte) event    { return event{kind: evData, data: b} }
func writtenEvent(n int) event    { return event{kind: evWritten, n: n} }
func closedEvent(err error) event { return event{kind: evClosed, err: err} }

// --------------------------------------------------------------------------
// Exchange
// --------------------------------------------------------------------------

// exchange is one request with its optional response and raw trailer
type exchange struct {
	frame          []byte // pending-send buffer
	written        int
	expectResponse bool
	rawDst         []byte

	sent      bool
	resp      *common.ServerResponse
	rawCopied int

	started time.Time
	done    bool
	err     error
}

// --------------------------------------------------------------------------
// Machine
// --------------------------------------------------------------------------

// machine is the connection state machine of one slot. It does no I/O and does
// not lock, the slot calls it with its mutex held.
type machine struct {
	state    State
	flags    Flags
	decoder  *framing.ResponseDecoder
	exchange *exchange
	last     *common.ServerResponse
	err      error // cause of the last close
	stats    *slotStats
}

func newMachine(decoder *framing.ResponseDecoder, stats *slotStats) *machine {
	return &machine{
		state:   StateDisconnected,
		decoder: decoder,
		stats:   stats,
	}
}

// beginConnect moves an idle machine to Connecting
func (m *machine) beginConnect() error {
	switch m.state {
	case StateDisconnected, StateClosed:
	default:
		return common.ErrAlreadyConnected
	}

	m.state = StateConnecting
	m.flags = Flags{ThreadRunning: m.flags.ThreadRunning}
	m.err = nil
	m.last = nil
	m.decoder.Reset()
	return nil
}

// beginExchange stores an encoded request as the pending-send buffer
func (m *machine) beginExchange(frame []byte, expectResponse bool, rawDst []byte) (*exchange, error) {
	if m.state != StateConnected {
		return nil, common.ErrNotConnected
	}
	if m.exchange != nil {
		return nil, common.ErrBusy
	}

	ex := &exchange{
		frame:          frame,
		expectResponse: expectResponse,
		rawDst:         rawDst,
		started:        time.Now(),
	}
	m.exchange = ex
	m.flags.SendSuccessful = false
	m.flags.DataReceived = false
	return ex, nil
}

// pendingWrite returns the unwritten rest of the pending-send buffer
func (m *machine) pendingWrite() []byte {
	ex := m.exchange
	if ex == nil || ex.sent || m.state != StateConnected {
		return nil
	}
	return ex.frame[ex.written:]
}

// requestClose moves a live machine to Closing. It reports whether the event
// goroutine still has to close the transport.
func (m *machine) requestClose(cause error) bool {
	switch m.state {
	case StateConnecting, StateConnected:
		m.state = StateClosing
		m.flags.Connected = false
		if m.err == nil {
			m.err = cause
		}
		if m.exchange != nil {
			m.finish(m.exchange, cause)
		}
		return true
	case StateClosing:
		return true
	default:
		return false
	}
}

// handleEvent applies one event
func (m *machine) handleEvent(ev event) {
	switch ev.kind {
	case evConnected:
		if m.state == StateConnecting {
			m.state = StateConnected
			m.flags.Connected = true
		}

	case evWritten:
		ex := m.exchange
		if ex == nil || ex.sent || ev.n <= 0 {
			return
		}
		ex.written += ev.n
		if m.stats != nil {
			m.stats.wrote(ev.n)
		}
		if ex.written >= len(ex.frame) {
			ex.sent = true
			m.flags.SendSuccessful = true
			m.finishIfReady(ex)
		}

	case evData:
		if m.state != StateConnected && m.state != StateClosing {
			return
		}
		if m.stats != nil {
			m.stats.read(len(ev.data))
		}
		if err := m.decoder.Feed(ev.data, m); err != nil {
			m.close(err)
		}

	case evClosed:
		m.close(ev.err)
	}
}

// close moves the machine to Closed and fails the in-flight exchange
func (m *machine) close(cause error) {
	if m.state == StateClosed {
		return
	}
	if m.state == StateConnecting {
		if cause == nil {
			cause = common.ErrConnectFailed
		}
	} else if cause == nil {
		cause = common.ErrTransportClosed
	}

	m.state = StateClosed
	m.flags.Connected = false
	m.flags.Closed = true
	if m.err == nil {
		m.err = cause
	}
	m.decoder.Reset()

	if m.exchange != nil {
		m.finish(m.exchange, cause)
	}
}

// finishIfReady completes an exchange once all of its parts have arrived
func (m *machine) finishIfReady(ex *exchange) {
	if !ex.sent {
		return
	}
	if ex.expectResponse && ex.resp == nil {
		return
	}
	m.finish(ex, nil)
}

// finish completes the exchange, a nil err keeps an error recorded earlier
func (m *machine) finish(ex *exchange, err error) {
	if ex.done {
		return
	}
	if ex.err == nil {
		ex.err = err
	}
	ex.done = true
	if m.exchange == ex {
		m.exchange = nil
	}
	if m.stats != nil {
		m.stats.exchangeDone(time.Since(ex.started), ex.err)
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see framing.Sink)
// --------------------------------------------------------------------------

func (m *machine) OnResponse(resp *common.ServerResponse) []byte {
	ex := m.exchange
	if ex == nil || !ex.expectResponse || ex.resp != nil {
		// Unsolicited response, its trailer is drained and dropped
		return nil
	}
	return ex.rawDst
}

func (m *machine) OnComplete(resp *common.ServerResponse, copied int) {
	m.last = resp
	m.flags.DataReceived = true

	ex := m.exchange
	if ex == nil || !ex.expectResponse || ex.resp != nil {
		Logger.Warningf("dropping unsolicited %s response", resp.Opcode)
		return
	}

	ex.resp = resp
	ex.rawCopied = copied
	if ex.rawDst != nil && copied < int(resp.RawLength) {
		ex.err = fmt.Errorf("%w: %d byte buffer for a %d byte trailer", common.ErrRawBufferTooSmall, len(ex.rawDst), resp.RawLength)
	}
	m.finishIfReady(ex)
}
