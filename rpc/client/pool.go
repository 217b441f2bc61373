package client

import (
	"context"
	"fmt"
	"github.com/ValentinKolb/rcam/rpc/common"
	"github.com/ValentinKolb/rcam/rpc/framing"
	"github.com/ValentinKolb/rcam/rpc/serializer"
	"github.com/ValentinKolb/rcam/rpc/transport"
	vm "github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	gometrics "github.com/rcrowley/go-metrics"
	"io"
)

var (
	Logger = logger.GetLogger("rpc")
)

// MaxCameras is the number of slots of a pool
const MaxCameras = 4

// Pool is a fixed table of camera connections. Slots are independent of each
// other, every slot carries at most one exchange at a time.
type Pool struct {
	config     common.ClientConfig
	transport  transport.IClientTransport
	serializer serializer.IRPCSerializer

	slots     [MaxCameras]*slot
	addresses *xsync.MapOf[string, int] // address -> slot of live connections

	registry gometrics.Registry
	metrics  *vm.Set
}

// NewPool creates a pool. No connection is opened until Connect is called.
func NewPool(
	config common.ClientConfig,
	transport transport.IClientTransport,
	serializer serializer.IRPCSerializer,
) *Pool {
	p := &Pool{
		config:     config,
		transport:  transport,
		serializer: serializer,
		addresses:  xsync.NewMapOf[string, int](),
		registry:   gometrics.NewRegistry(),
		metrics:    vm.NewSet(),
	}

	for i := range p.slots {
		stats := newSlotStats(p.registry, p.metrics, i)
		decoder := framing.NewResponseDecoder(serializer, config.Transport.MaxFrameSize, config.Transport.MaxRawSize)
		p.slots[i] = newSlot(i, config, transport, newMachine(decoder, stats), stats)

		s := p.slots[i]
		p.metrics.GetOrCreateGauge(fmt.Sprintf(`rcam_client_connected{slot="%d"}`, i), func() float64 {
			if s.flags().Connected {
				return 1
			}
			return 0
		})
	}
	return p
}

// --------------------------------------------------------------------------
// Connection lifecycle
// --------------------------------------------------------------------------

// Connect connects a slot to the camera at address and blocks until the
// connection is established or failed. The wait is bounded by ctx and by the
// configured connect timeout. Errors wrap common.ErrConnectFailed.
func (p *Pool) Connect(ctx context.Context, slot int, address string) error {
	s, err := p.getSlot(slot)
	if err != nil {
		return err
	}

	// An address is driven by at most one slot, it is reserved before dialling
	s.pending.Add(1)
	defer s.pending.Add(-1)

	owner := slot
	p.addresses.Compute(address, func(other int, loaded bool) (int, bool) {
		if loaded && other != slot && p.slots[other].busy() {
			owner = other
			return other, false
		}
		return slot, false
	})
	if owner != slot {
		return fmt.Errorf("%w: %s is already connected on slot %d", common.ErrAlreadyConnected, address, owner)
	}

	if _, err := s.connect(ctx, address); err != nil {
		// A live connection of this slot to address keeps its reservation
		if !s.boundTo(address) {
			p.release(address, slot)
		}
		return err
	}
	return nil
}

// Disconnect closes the connection of a slot and joins its event goroutine.
// Disconnecting an idle or closed slot is a no-op.
func (p *Pool) Disconnect(slot int) error {
	s, err := p.getSlot(slot)
	if err != nil {
		return err
	}

	s.disconnect()
	p.addresses.Range(func(address string, i int) bool {
		if i == slot {
			p.addresses.Delete(address)
		}
		return true
	})
	return nil
}

// Close disconnects all slots and releases the statistics
func (p *Pool) Close() error {
	for i := range p.slots {
		_ = p.Disconnect(i)
	}
	p.registry.UnregisterAll()
	return nil
}

// --------------------------------------------------------------------------
// Exchanges
// --------------------------------------------------------------------------

// SendCommand sends req on a slot and blocks until the exchange is complete:
// the request is written and, unless it is one-way, the response and its raw
// trailer are received. The trailer is copied into rawOut, a nil rawOut
// discards it. The wait is bounded by ctx and by the configured timeout, an
// expired wait closes the connection.
//
// A second SendCommand on a busy slot fails with common.ErrBusy unless the pool
// serializes exchanges.
func (p *Pool) SendCommand(ctx context.Context, slot int, req *common.ClientRequest, rawOut []byte) (*common.ServerResponse, error) {
	s, err := p.getSlot(slot)
	if err != nil {
		return nil, err
	}

	frame, err := framing.EncodeRequest(p.serializer, req)
	if err != nil {
		return nil, err
	}

	return s.send(ctx, frame, !req.OneWay, rawOut)
}

// Invoke sends req and checks the response: a failed status or a response to
// a different opcode is an error
func (p *Pool) Invoke(ctx context.Context, slot int, req *common.ClientRequest, rawOut []byte) (*common.ServerResponse, error) {
	resp, err := p.SendCommand(ctx, slot, req, rawOut)
	if err != nil {
		return nil, err
	}
	if req.OneWay {
		return nil, nil
	}

	// Check if the response is an error response
	if err := resp.Err(); err != nil {
		return resp, err
	}

	// Check if the response answers the request
	if resp.Opcode != req.Opcode {
		return resp, fmt.Errorf("unexpected response opcode: %s, expected %s", resp.Opcode, req.Opcode)
	}
	return resp, nil
}

// Recv returns a copy of the most recently decoded response of a slot
func (p *Pool) Recv(slot int) (*common.ServerResponse, error) {
	s, err := p.getSlot(slot)
	if err != nil {
		return nil, err
	}
	resp := s.lastResponse()
	if resp == nil {
		return nil, fmt.Errorf("no response received on slot %d", slot)
	}
	return resp, nil
}

// --------------------------------------------------------------------------
// Status queries (snapshots, never block on an exchange)
// --------------------------------------------------------------------------

// Flags returns all status flags of a slot, an invalid slot has none set
func (p *Pool) Flags(slot int) Flags {
	s, err := p.getSlot(slot)
	if err != nil {
		return Flags{}
	}
	return s.flags()
}

func (p *Pool) IsConnected(slot int) bool      { return p.Flags(slot).Connected }
func (p *Pool) IsSendSuccessful(slot int) bool { return p.Flags(slot).SendSuccessful }
func (p *Pool) IsDataReceived(slot int) bool   { return p.Flags(slot).DataReceived }
func (p *Pool) IsThreadRunning(slot int) bool  { return p.Flags(slot).ThreadRunning }
func (p *Pool) IsClosed(slot int) bool         { return p.Flags(slot).Closed }

// State returns the lifecycle state of a slot
func (p *Pool) State(slot int) State {
	s, err := p.getSlot(slot)
	if err != nil {
		return StateDisconnected
	}
	return s.state()
}

// SessionID returns the id of the current (or last) connection of a slot
func (p *Pool) SessionID(slot int) uuid.UUID {
	s, err := p.getSlot(slot)
	if err != nil {
		return uuid.Nil
	}
	return s.sessionID()
}

// Lookup returns the slot connected to address
func (p *Pool) Lookup(address string) (int, bool) {
	slot, ok := p.addresses.Load(address)
	if !ok || !p.slots[slot].connectedTo(address) {
		return 0, false
	}
	return slot, true
}

// Stats returns the exchange statistics of a slot
func (p *Pool) Stats(slot int) Stats {
	s, err := p.getSlot(slot)
	if err != nil {
		return Stats{}
	}
	return s.stats.snapshot()
}

// WritePrometheus writes the metrics of all slots in prometheus text format
func (p *Pool) WritePrometheus(w io.Writer) {
	p.metrics.WritePrometheus(w)
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// release drops the reservation of address if slot holds it
func (p *Pool) release(address string, slot int) {
	p.addresses.Compute(address, func(owner int, loaded bool) (int, bool) {
		return owner, !loaded || owner == slot
	})
}

func (p *Pool) getSlot(i int) (*slot, error) {
	if i < 0 || i >= MaxCameras {
		return nil, fmt.Errorf("%w: %d (0..%d)", common.ErrInvalidSlot, i, MaxCameras-1)
	}
	return p.slots[i], nil
}
