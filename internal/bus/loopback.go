package bus

import (
	"sync"
	"time"

	"github.com/kstaniek/go-can-node/internal/can"
)

// Loopback is an in-memory CAN medium. Every frame transmitted by one
// endpoint is delivered to every other endpoint whose filter accepts it, the
// way a physical bus does; an endpoint does not hear its own frames.
type Loopback struct {
	mu    sync.RWMutex
	nodes []*Endpoint
}

// NewLoopback returns an empty medium.
func NewLoopback() *Loopback { return &Loopback{} }

// Endpoint attaches a controller with an rx FIFO of rxDepth frames. When the
// FIFO is full new frames are lost, like a hardware overrun.
func (b *Loopback) Endpoint(name string, rxDepth int) *Endpoint {
	if rxDepth < 1 {
		rxDepth = 1
	}
	e := &Endpoint{name: name, bus: b, rx: make(chan can.Frame, rxDepth)}
	b.mu.Lock()
	b.nodes = append(b.nodes, e)
	b.mu.Unlock()
	return e
}

func (b *Loopback) deliver(from *Endpoint, fr can.Frame) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, e := range b.nodes {
		if e != from {
			e.accept(fr)
		}
	}
}

// Endpoint is one node's Controller on a Loopback.
type Endpoint struct {
	name string
	bus  *Loopback

	mu      sync.Mutex
	filter  map[uint32]struct{} // nil accepts all
	txErr   error
	rxErr   error
	closed  bool
	sent    []can.Frame
	overrun uint64

	rx chan can.Frame
}

func (e *Endpoint) accept(fr can.Frame) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	if e.filter != nil {
		if _, ok := e.filter[fr.ID]; !ok {
			e.mu.Unlock()
			return
		}
	}
	e.mu.Unlock()
	select {
	case e.rx <- fr:
	default:
		e.mu.Lock()
		e.overrun++
		e.mu.Unlock()
	}
}

// Inject places fr directly in this endpoint's rx FIFO, bypassing the filter.
func (e *Endpoint) Inject(fr can.Frame) bool {
	select {
	case e.rx <- fr:
		return true
	default:
		return false
	}
}

// FailTransmit makes every Transmit return err (nil restores normal operation).
func (e *Endpoint) FailTransmit(err error) { e.mu.Lock(); e.txErr = err; e.mu.Unlock() }

// FailReceive makes every Receive return err (nil restores normal operation).
func (e *Endpoint) FailReceive(err error) { e.mu.Lock(); e.rxErr = err; e.mu.Unlock() }

// Sent returns a copy of the frames this endpoint transmitted successfully.
func (e *Endpoint) Sent() []can.Frame {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]can.Frame(nil), e.sent...)
}

// Overruns returns the number of frames lost to a full rx FIFO.
func (e *Endpoint) Overruns() uint64 { e.mu.Lock(); defer e.mu.Unlock(); return e.overrun }

func (e *Endpoint) Name() string { return e.name }

func (e *Endpoint) Receive(timeout time.Duration) (can.Frame, error) {
	e.mu.Lock()
	closed, rxErr := e.closed, e.rxErr
	e.mu.Unlock()
	if closed {
		return can.Frame{}, ErrClosed
	}
	if rxErr != nil {
		return can.Frame{}, rxErr
	}
	if timeout <= 0 {
		select {
		case fr := <-e.rx:
			return fr, nil
		default:
			return can.Frame{}, ErrNoFrame
		}
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case fr := <-e.rx:
		return fr, nil
	case <-t.C:
		return can.Frame{}, ErrNoFrame
	}
}

func (e *Endpoint) Transmit(fr can.Frame, _ time.Duration) error {
	if err := fr.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if e.txErr != nil {
		err := e.txErr
		e.mu.Unlock()
		return err
	}
	e.sent = append(e.sent, fr)
	e.mu.Unlock()
	e.bus.deliver(e, fr)
	return nil
}

func (e *Endpoint) SetFilter(ids []uint32) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ids == nil {
		e.filter = nil
		return nil
	}
	e.filter = make(map[uint32]struct{}, len(ids))
	for _, id := range ids {
		e.filter[id] = struct{}{}
	}
	return nil
}

func (e *Endpoint) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	return nil
}
