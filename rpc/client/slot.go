package client

import (
	"context"
	"fmt"
	"github.com/ValentinKolb/rcam/rpc/common"
	"github.com/ValentinKolb/rcam/rpc/transport"
	"github.com/google/uuid"
	"sync"
	"sync/atomic"
	"time"
)

// errDisconnected is the cause recorded when the caller tears a slot down
var errDisconnected = fmt.Errorf("%w: disconnected", common.ErrTransportClosed)

// slot is one camera connection: a state machine, the event goroutine driving
// its adapter, and the handoff between caller goroutines and that goroutine.
//
// Lock hierarchy: mu guards the machine and all fields below it. The event
// goroutine never calls the adapter's I/O methods while holding mu.
type slot struct {
	id        int
	config    common.ClientConfig
	transport transport.IClientTransport

	mu         sync.Mutex
	exchangeCV *sync.Cond // state changes and exchange progress
	threadCV   *sync.Cond // event goroutine started / exited

	m       *machine
	adapter transport.IAdapter // adapter of the current connection
	running bool               // event goroutine exists (started, not yet exited)
	pending atomic.Int32       // Pool.Connect calls holding an address reservation
	address string
	session uuid.UUID
	stats   *slotStats
}

func newSlot(id int, config common.ClientConfig, t transport.IClientTransport, m *machine, stats *slotStats) *slot {
	s := &slot{
		id:        id,
		config:    config,
		transport: t,
		m:         m,
		stats:     stats,
	}
	s.exchangeCV = sync.NewCond(&s.mu)
	s.threadCV = sync.NewCond(&s.mu)
	return s
}

// --------------------------------------------------------------------------
// Caller side
// --------------------------------------------------------------------------

// connect starts the event goroutine and waits until the connection is
// established or failed
func (s *slot) connect(ctx context.Context, address string) (uuid.UUID, error) {
	ctx, cancel := withDefaultTimeout(ctx, s.config.ConnectTimeout())
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.m.state {
	case StateConnecting, StateConnected, StateClosing:
		return uuid.Nil, fmt.Errorf("%w: slot %d is %s", common.ErrAlreadyConnected, s.id, s.m.state)
	}

	// A goroutine of a connection closed by the peer may still be on its way out
	s.joinLocked()

	if err := s.m.beginConnect(); err != nil {
		return uuid.Nil, err
	}

	s.address = address
	s.session = uuid.New()
	s.adapter = s.transport.NewAdapter(s.config)
	s.running = true
	go s.run(s.adapter, address, s.session)

	// Wait until the goroutine is up (or already gone again)
	for s.running && !s.m.flags.ThreadRunning {
		s.threadCV.Wait()
	}

	stop := s.broadcastOnDone(ctx)
	for s.m.state == StateConnecting && ctx.Err() == nil {
		s.exchangeCV.Wait()
	}
	stop()

	switch s.m.state {
	case StateConnected:
		Logger.Infof("slot %d: connected to %s (session %s)", s.id, address, s.session)
		return s.session, nil
	case StateConnecting:
		// Bounded wait expired, abandon the handshake
		s.m.requestClose(fmt.Errorf("%w: %w", common.ErrConnectFailed, common.ErrTimeout))
		s.adapter.Wake()
	}

	s.joinLocked()
	err := s.m.err
	if err == nil {
		err = common.ErrConnectFailed
	}
	Logger.Warningf("slot %d: connect to %s failed: %v", s.id, address, err)
	return uuid.Nil, err
}

// send performs one exchange and blocks until it is complete or failed
func (s *slot) send(ctx context.Context, frame []byte, expectResponse bool, rawOut []byte) (*common.ServerResponse, error) {
	ctx, cancel := withDefaultTimeout(ctx, s.config.Timeout())
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	stop := s.broadcastOnDone(ctx)
	defer stop()

	// Wait for a running exchange to finish if exchanges are serialized
	if s.config.SerializeExchanges {
		for s.m.exchange != nil && s.m.state == StateConnected && ctx.Err() == nil {
			s.exchangeCV.Wait()
		}
	}
	if ctx.Err() != nil {
		return nil, fmt.Errorf("%w: waiting for the previous exchange", common.ErrTimeout)
	}

	ex, err := s.m.beginExchange(frame, expectResponse, rawOut)
	if err != nil {
		return nil, err
	}
	s.adapter.Wake()

	for !ex.done && ctx.Err() == nil {
		s.exchangeCV.Wait()
	}

	if !ex.done {
		// A partially written frame cannot be resumed, give up the connection
		Logger.Warningf("slot %d: exchange timed out, closing connection", s.id)
		s.m.requestClose(fmt.Errorf("%w: exchange abandoned", common.ErrTimeout))
		s.adapter.Wake()
		s.exchangeCV.Broadcast()
		return nil, ex.err
	}

	if ex.err != nil {
		return ex.resp, ex.err
	}
	return ex.resp, nil
}

// disconnect tears the connection down and joins the event goroutine
func (s *slot) disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.m.requestClose(errDisconnected) && s.adapter != nil {
		s.adapter.Wake()
	}
	s.exchangeCV.Broadcast()
	s.joinLocked()

	if s.m.state != StateDisconnected {
		Logger.Debugf("slot %d: disconnected from %s", s.id, s.address)
	}
}

// joinLocked waits until the event goroutine has exited. mu must be held.
func (s *slot) joinLocked() {
	for s.running {
		s.threadCV.Wait()
	}
}

// broadcastOnDone wakes all waiters of the slot once ctx is done
func (s *slot) broadcastOnDone(ctx context.Context) (stop func() bool) {
	return context.AfterFunc(ctx, func() {
		s.mu.Lock()
		s.exchangeCV.Broadcast()
		s.mu.Unlock()
	})
}

// --------------------------------------------------------------------------
// Event goroutine
// --------------------------------------------------------------------------

// run drives the adapter of one connection until the machine is closed
func (s *slot) run(adapter transport.IAdapter, address string, session uuid.UUID) {
	s.mu.Lock()
	s.m.flags.ThreadRunning = true
	s.threadCV.Broadcast()
	s.mu.Unlock()

	defer func() {
		_ = adapter.Close()

		s.mu.Lock()
		s.running = false
		s.m.flags.ThreadRunning = false
		s.threadCV.Broadcast()
		s.exchangeCV.Broadcast()
		s.mu.Unlock()

		Logger.Debugf("slot %d: event loop of session %s exited", s.id, session)
	}()

	adapter.Dial(address, s.config.ConnectTimeout())
	interval := s.config.ServiceInterval()

	for {
		s.mu.Lock()
		state := s.m.state
		wantWrite := len(s.m.pendingWrite()) > 0
		s.mu.Unlock()

		switch state {
		case StateClosed:
			return
		case StateClosing:
			// Service reports the final close event afterwards
			_ = adapter.Close()
		}

		for _, ev := range adapter.Service(wantWrite, interval) {
			s.dispatch(adapter, ev)
		}
	}
}

// dispatch feeds one transport event into the machine
func (s *slot) dispatch(adapter transport.IAdapter, ev transport.Event) {
	switch ev.Kind {
	case transport.EventConnected:
		s.apply(connectedEvent())

	case transport.EventData:
		s.apply(dataEvent(ev.Data))

	case transport.EventWritable:
		s.mu.Lock()
		pending := s.m.pendingWrite()
		s.mu.Unlock()
		if len(pending) == 0 {
			return
		}

		n, err := adapter.Write(pending)
		if n > 0 {
			s.apply(writtenEvent(n))
		}
		if err != nil {
			s.apply(closedEvent(fmt.Errorf("%w: write failed: %v", common.ErrTransportClosed, err)))
		}

	case transport.EventClosed:
		s.apply(closedEvent(ev.Err))
	}
}

// apply hands an event to the machine and wakes all waiters
func (s *slot) apply(ev event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := s.m.state
	s.m.handleEvent(ev)
	if before == StateConnected && s.m.state == StateClosed {
		Logger.Warningf("slot %d: connection to %s closed: %v", s.id, s.address, s.m.err)
	}
	s.exchangeCV.Broadcast()
}

// --------------------------------------------------------------------------
// Snapshots
// --------------------------------------------------------------------------

func (s *slot) flags() Flags {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m.flags
}

func (s *slot) state() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m.state
}

func (s *slot) lastResponse() *common.ServerResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.m.last == nil {
		return nil
	}
	return s.m.last.Clone()
}

// busy reports whether the slot holds a connection or is acquiring one
func (s *slot) busy() bool {
	if s.pending.Load() > 0 {
		return true
	}
	switch s.state() {
	case StateConnecting, StateConnected, StateClosing:
		return true
	}
	return false
}

// connectedTo reports whether the slot is connected to address
func (s *slot) connectedTo(address string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m.state == StateConnected && s.address == address
}

// boundTo reports whether the slot holds or acquires a connection to address
func (s *slot) boundTo(address string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.m.state {
	case StateConnecting, StateConnected, StateClosing:
		return s.address == address
	}
	return false
}

func (s *slot) sessionID() uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.m.state == StateDisconnected {
		return uuid.Nil
	}
	return s.session
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// withDefaultTimeout bounds ctx by d unless ctx already has a deadline or d is 0
func withDefaultTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
