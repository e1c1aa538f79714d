// Package bus owns the CAN controller on behalf of the node.
//
// A Manager is the single owner of a Controller: each iteration it drains up
// to a bounded number of received frames into the router and transmits a
// bounded number of queued outbound frames with a short timeout. Transmit
// failures are dropped and counted, never retried, so a saturated or
// disconnected bus cannot stall the node.
package bus

import (
	"errors"
	"time"

	"github.com/kstaniek/go-can-node/internal/can"
	"github.com/kstaniek/go-can-node/internal/metrics"
)

var (
	// ErrNoFrame is returned by Receive when nothing arrived within the timeout.
	ErrNoFrame = errors.New("bus: no frame")
	// ErrTxBufferFull is returned by Transmit when the controller has no free mailbox.
	ErrTxBufferFull = errors.New("bus: tx buffer full")
	// ErrBusBusy is returned by Transmit when arbitration did not complete in time.
	ErrBusBusy = errors.New("bus: busy")
	ErrClosed  = errors.New("bus: closed")
)

// Controller is a CAN peripheral. Implementations need not be safe for
// concurrent use; the Manager (or Shared) serializes access.
type Controller interface {
	// Receive returns one frame or ErrNoFrame after timeout (0 polls once).
	Receive(timeout time.Duration) (can.Frame, error)
	// Transmit queues fr in the hardware, giving up after timeout.
	Transmit(fr can.Frame, timeout time.Duration) error
	Close() error
}

// Filterer is implemented by controllers that can accept only a set of
// identifiers in hardware.
type Filterer interface {
	SetFilter(ids []uint32) error
}

// SendFunc hands a frame to the bus. It never blocks the caller for long;
// an error means the frame was lost.
type SendFunc func(can.Frame) error

// dropReason maps a transmit error to a metrics label.
func dropReason(err error) string {
	switch {
	case errors.Is(err, ErrTxBufferFull):
		return metrics.DropTxFull
	case errors.Is(err, ErrBusBusy):
		return metrics.DropBusBusy
	default:
		return metrics.DropOther
	}
}
