package slcan

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/kstaniek/go-can-node/internal/bus"
	"github.com/kstaniek/go-can-node/internal/can"
	"github.com/kstaniek/go-can-node/internal/logging"
	"github.com/kstaniek/go-can-node/internal/metrics"
)

const (
	rxBackoffMin = 20 * time.Millisecond
	rxBackoffMax = 500 * time.Millisecond

	readBufSize = 256
	// DefaultRxDepth bounds frames decoded but not yet received.
	DefaultRxDepth = 64
)

// sleepFn allows tests to intercept backoff sleeps.
var sleepFn = time.Sleep

// Controller runs an SLCAN adapter as a bus.Controller. A reader goroutine
// decodes the serial stream into a bounded receive FIFO.
type Controller struct {
	port Port
	log  *slog.Logger
	rx   chan can.Frame

	wmu sync.Mutex // serializes writes to port

	fmu    sync.RWMutex
	filter map[uint32]struct{} // nil accepts everything

	done      chan struct{}
	closeOnce sync.Once
	errMu     sync.Mutex
	err       error // fatal reader error
	bells     uint64
}

// NewController starts the reader goroutine on p.
func NewController(p Port, rxDepth int, l *slog.Logger) *Controller {
	if rxDepth <= 0 {
		rxDepth = DefaultRxDepth
	}
	c := &Controller{
		port: p,
		log:  logging.Or(l),
		rx:   make(chan can.Frame, rxDepth),
		done: make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Init closes any open channel, sets the bitrate and opens the channel.
func (c *Controller) Init(bitrate int) error {
	setup, err := BitrateCommand(bitrate)
	if err != nil {
		return err
	}
	for _, cmd := range [][]byte{{'C', cr}, setup, {'O', cr}} {
		if err := c.write(cmd); err != nil {
			return fmt.Errorf("slcan init %q: %w", bytes.TrimRight(cmd, "\r"), err)
		}
	}
	c.log.Info("slcan_open", "bitrate", bitrate)
	return nil
}

func (c *Controller) write(b []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_, err := c.port.Write(b)
	return err
}

func (c *Controller) readLoop() {
	defer c.log.Debug("slcan_rx_end")
	buf := make([]byte, readBufSize)
	acc := bytes.NewBuffer(nil)
	backoff := rxBackoffMin
	for {
		select {
		case <-c.done:
			return
		default:
		}
		n, err := c.port.Read(buf)
		if n > 0 {
			acc.Write(buf[:n])
			DecodeStream(acc, c.push, c.onBell)
			backoff = rxBackoffMin
		}
		if err == nil {
			continue
		}
		select {
		case <-c.done:
			return
		default:
		}
		var perr *os.PathError
		if errors.As(err, &perr) {
			c.fail(err) // device removed
			return
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			continue // read timeout on tarm/serial
		}
		metrics.IncError(metrics.ErrCANRead)
		c.log.Warn("slcan_read_error", "error", err, "backoff", backoff)
		sleepFn(backoff)
		backoff *= 2
		if backoff > rxBackoffMax {
			backoff = rxBackoffMax
		}
	}
}

func (c *Controller) push(fr can.Frame) {
	if !c.accepts(fr.ID) {
		metrics.IncFiltered()
		return
	}
	select {
	case c.rx <- fr:
	default:
		metrics.IncQueueDrop("slcan_rx")
	}
}

func (c *Controller) onBell() {
	c.errMu.Lock()
	c.bells++
	c.errMu.Unlock()
	metrics.IncError(metrics.ErrCANWrite)
	c.log.Debug("slcan_nak")
}

func (c *Controller) fail(err error) {
	c.errMu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.errMu.Unlock()
	c.log.Error("slcan_device_lost", "error", err)
}

func (c *Controller) fatal() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Naks reports how many commands the adapter rejected.
func (c *Controller) Naks() uint64 {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.bells
}

func (c *Controller) accepts(id uint32) bool {
	c.fmu.RLock()
	defer c.fmu.RUnlock()
	if c.filter == nil {
		return true
	}
	_, ok := c.filter[id]
	return ok
}

// SetFilter keeps only the given ids; the adapter itself has no acceptance
// filter so frames are dropped after decoding.
func (c *Controller) SetFilter(ids []uint32) error {
	c.fmu.Lock()
	defer c.fmu.Unlock()
	if ids == nil {
		c.filter = nil
		return nil
	}
	c.filter = make(map[uint32]struct{}, len(ids))
	for _, id := range ids {
		c.filter[id] = struct{}{}
	}
	return nil
}

// Receive returns the next decoded frame, waiting at most timeout. After
// Close it always returns bus.ErrClosed.
func (c *Controller) Receive(timeout time.Duration) (can.Frame, error) {
	select {
	case <-c.done:
		return can.Frame{}, bus.ErrClosed
	default:
	}
	select {
	case fr := <-c.rx:
		return fr, nil
	default:
	}
	if err := c.fatal(); err != nil {
		return can.Frame{}, err
	}
	if timeout <= 0 {
		return can.Frame{}, bus.ErrNoFrame
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case fr := <-c.rx:
		return fr, nil
	case <-c.done:
		return can.Frame{}, bus.ErrClosed
	case <-t.C:
		return can.Frame{}, bus.ErrNoFrame
	}
}

// Transmit writes fr to the adapter. Serial writes block in the driver, so
// timeout is not enforced here.
func (c *Controller) Transmit(fr can.Frame, _ time.Duration) error {
	if err := fr.Validate(); err != nil {
		return err
	}
	select {
	case <-c.done:
		return bus.ErrClosed
	default:
	}
	if err := c.fatal(); err != nil {
		return err
	}
	return c.write(Encode(fr))
}

// Close sends the channel close command and releases the port.
func (c *Controller) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.write([]byte{'C', cr})
		err = c.port.Close()
	})
	return err
}
