package bus

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/kstaniek/go-can-node/internal/can"
	"github.com/kstaniek/go-can-node/internal/logging"
	"github.com/kstaniek/go-can-node/internal/loop"
	"github.com/kstaniek/go-can-node/internal/metrics"
	"github.com/kstaniek/go-can-node/internal/queue"
	"github.com/kstaniek/go-can-node/internal/router"
)

const (
	rxBackoffMin = 20 * time.Millisecond
	rxBackoffMax = 500 * time.Millisecond
)

// Config bounds the work done per Manager iteration.
type Config struct {
	Interval     time.Duration // iteration period
	MaxRxPerIter int           // receive drain cap
	MaxTxPerIter int           // transmit cap
	RxTimeout    time.Duration // per Receive call; 0 polls
	TxTimeout    time.Duration // per Transmit call
}

// DefaultConfig matches a 1 Mbit bus serviced every 20ms.
func DefaultConfig() Config {
	return Config{
		Interval:     20 * time.Millisecond,
		MaxRxPerIter: 10,
		MaxTxPerIter: 1,
		TxTimeout:    2 * time.Millisecond,
	}
}

func (c *Config) ensureDefaults() {
	d := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.MaxRxPerIter <= 0 {
		c.MaxRxPerIter = d.MaxRxPerIter
	}
	if c.MaxTxPerIter <= 0 {
		c.MaxTxPerIter = d.MaxTxPerIter
	}
	if c.TxTimeout <= 0 {
		c.TxTimeout = d.TxTimeout
	}
	if c.RxTimeout < 0 {
		c.RxTimeout = 0
	}
}

// Manager is the sole owner of a Controller.
type Manager struct {
	ctl    Controller
	router *router.Router
	out    *queue.Queue // nil: receive-only node
	cfg    Config
	log    *slog.Logger

	// OnBudget receives the manager's own cycle budget each iteration.
	OnBudget func(loop.Budget)

	backoff      time.Duration
	backoffUntil time.Time
	now          func() time.Time
}

// NewManager wires ctl to r (inbound) and out (outbound, may be nil).
func NewManager(ctl Controller, r *router.Router, out *queue.Queue, cfg Config, l *slog.Logger) *Manager {
	cfg.ensureDefaults()
	return &Manager{
		ctl:     ctl,
		router:  r,
		out:     out,
		cfg:     cfg,
		log:     logging.Or(l),
		backoff: rxBackoffMin,
		now:     time.Now,
	}
}

// Config returns the effective configuration.
func (m *Manager) Config() Config { return m.cfg }

// Enqueue is the SendFunc for this manager's outbound queue.
func (m *Manager) Enqueue(fr can.Frame) error {
	if m.out == nil {
		return ErrClosed
	}
	if err := m.out.Push(fr); err != nil {
		metrics.IncError(metrics.ErrEnqueue)
		return err
	}
	metrics.SetQueueDepth(m.out.Name(), m.out.Len())
	return nil
}

// ApplyFilter programs the hardware acceptance filter from the router's
// subscriptions when the controller supports it. The router still filters
// in software, so a filter failure only costs CPU.
func (m *Manager) ApplyFilter() {
	f, ok := m.ctl.(Filterer)
	if !ok {
		return
	}
	ids := m.router.IDs()
	if err := f.SetFilter(ids); err != nil {
		m.log.Warn("bus_filter_error", "error", err)
		return
	}
	m.log.Info("bus_filter", "ids", len(ids))
}

// Step runs one iteration: bounded receive drain, then bounded transmit.
func (m *Manager) Step(ctx context.Context) {
	m.receive()
	m.transmit()
}

func (m *Manager) receive() {
	if !m.backoffUntil.IsZero() && m.now().Before(m.backoffUntil) {
		return
	}
	for i := 0; i < m.cfg.MaxRxPerIter; i++ {
		fr, err := m.ctl.Receive(m.cfg.RxTimeout)
		if err != nil && !errors.Is(err, ErrNoFrame) {
			metrics.IncError(metrics.ErrCANRead)
			m.log.Warn("bus_rx_error", "error", err, "backoff", m.backoff)
			m.backoffUntil = m.now().Add(m.backoff)
			m.backoff *= 2
			if m.backoff > rxBackoffMax {
				m.backoff = rxBackoffMax
			}
			return
		}
		m.backoff, m.backoffUntil = rxBackoffMin, time.Time{}
		if err != nil { // ErrNoFrame
			break
		}
		if err := fr.Validate(); err != nil {
			metrics.IncMalformed()
			m.log.Debug("bus_rx_malformed", "error", err)
			continue
		}
		metrics.IncRx()
		m.router.Route(fr)
	}
}

func (m *Manager) transmit() {
	if m.out == nil {
		return
	}
	for i := 0; i < m.cfg.MaxTxPerIter; i++ {
		fr, ok := m.out.TryPop()
		if !ok {
			break
		}
		transmitOne(m.ctl, fr, m.cfg.TxTimeout, m.log)
	}
	metrics.SetQueueDepth(m.out.Name(), m.out.Len())
}

func transmitOne(ctl Controller, fr can.Frame, timeout time.Duration, l *slog.Logger) error {
	if err := ctl.Transmit(fr, timeout); err != nil {
		reason := dropReason(err)
		metrics.IncTxDropped(reason)
		if reason == metrics.DropOther {
			metrics.IncError(metrics.ErrCANWrite)
		}
		l.Warn("bus_tx_drop", "id", fr.IDString(), "reason", reason, "error", err)
		return err
	}
	metrics.IncTx()
	return nil
}

// Loop returns the manager's cyclic task.
func (m *Manager) Loop() *loop.Loop {
	return &loop.Loop{
		Name:     "bus",
		Period:   m.cfg.Interval,
		Step:     m.Step,
		OnBudget: m.OnBudget,
		Logger:   m.log,
	}
}

// Run applies the hardware filter and services the bus until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	m.ApplyFilter()
	return m.Loop().Run(ctx)
}
