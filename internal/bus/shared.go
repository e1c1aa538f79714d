package bus

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/go-can-node/internal/can"
	"github.com/kstaniek/go-can-node/internal/logging"
	"github.com/kstaniek/go-can-node/internal/metrics"
	"github.com/kstaniek/go-can-node/internal/router"
)

// Shared gives several loops direct, mutex-serialized access to one
// Controller, for nodes that run without a Manager: a sender loop transmits
// with Send while a receiver loop calls Poll.
type Shared struct {
	mu        sync.Mutex
	ctl       Controller
	txTimeout time.Duration
	log       *slog.Logger
}

// NewShared wraps ctl. txTimeout <= 0 uses the default.
func NewShared(ctl Controller, txTimeout time.Duration, l *slog.Logger) *Shared {
	if txTimeout <= 0 {
		txTimeout = DefaultConfig().TxTimeout
	}
	return &Shared{ctl: ctl, txTimeout: txTimeout, log: logging.Or(l)}
}

// Send transmits fr immediately with the configured timeout. Failures are
// counted and returned; the frame is not retried.
func (s *Shared) Send(fr can.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return transmitOne(s.ctl, fr, s.txTimeout, s.log)
}

// Poll drains up to max frames (polling, no wait) into r and returns the
// number routed. A read error ends the drain early.
func (s *Shared) Poll(r *router.Router, max int) int {
	n := 0
	for i := 0; i < max; i++ {
		s.mu.Lock()
		fr, err := s.ctl.Receive(0)
		s.mu.Unlock()
		if errors.Is(err, ErrNoFrame) {
			break
		}
		if err != nil {
			metrics.IncError(metrics.ErrCANRead)
			s.log.Warn("bus_rx_error", "error", err)
			break
		}
		if fr.Validate() != nil {
			metrics.IncMalformed()
			continue
		}
		metrics.IncRx()
		r.Route(fr)
		n++
	}
	return n
}

// SetFilter forwards to the controller when it supports hardware filtering.
func (s *Shared) SetFilter(ids []uint32) error {
	f, ok := s.ctl.(Filterer)
	if !ok {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return f.SetFilter(ids)
}
