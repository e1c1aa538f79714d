// Package node assembles a runtime for one vehicle bus node from its
// compiled-in Profile: the bus manager (or a shared controller for
// manager-less roles), inbound queues, shared state and supervised loops.
package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kstaniek/go-can-node/internal/bus"
	"github.com/kstaniek/go-can-node/internal/can"
	"github.com/kstaniek/go-can-node/internal/hw"
	"github.com/kstaniek/go-can-node/internal/logging"
	"github.com/kstaniek/go-can-node/internal/loop"
	"github.com/kstaniek/go-can-node/internal/metrics"
	"github.com/kstaniek/go-can-node/internal/queue"
	"github.com/kstaniek/go-can-node/internal/router"
)

var (
	ErrNoController      = errors.New("node: role needs a CAN controller")
	ErrMissingPeripheral = errors.New("node: missing peripheral")
)

// Peripherals are the hardware a role may drive. Unused fields stay nil.
type Peripherals struct {
	WheelFL, WheelFR, WheelRL, WheelRR hw.Counter
	Tach                               hw.Counter
	Vdc                                hw.Analog
	BrakePedal                         hw.Analog

	BrakeLight hw.Digital
	OilLow     hw.Digital
	OilHigh    hw.Digital
	Output     hw.Digital
	Gauge      hw.PWM
}

// task is one supervised loop; build returns a runner with fresh local state.
type task struct {
	name  string
	build func() loop.Runner
}

// app is a role's behavior on top of the common plumbing.
type app interface {
	tasks() []task
}

// Node is a running role.
type Node struct {
	p   Profile
	log *slog.Logger
	io  Peripherals

	router *router.Router
	out    *queue.Queue
	mgr    *bus.Manager
	shared *bus.Shared
	send   bus.SendFunc

	app   app
	ready atomic.Bool
}

// New validates the profile and wires the role. ctl may be nil only for roles
// that do not use the bus.
func New(p Profile, ctl bus.Controller, io Peripherals, l *slog.Logger) (*Node, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	n := &Node{
		p:      p,
		log:    logging.Or(l).With("role", string(p.Role), "node_id", can.IDString(p.NodeID)),
		io:     io,
		router: router.New(),
	}
	if p.Role.usesBus() {
		if ctl == nil {
			return nil, ErrNoController
		}
		if p.Direct {
			n.shared = bus.NewShared(ctl, p.Bus.TxTimeout, n.log)
			n.send = n.shared.Send
		} else {
			n.out = queue.New("outbound", p.OutboundDepth, p.QueuePolicy, queue.Hooks{OnDrop: n.dropHook("outbound")})
			n.mgr = bus.NewManager(ctl, n.router, n.out, p.Bus, n.log.With("component", "bus"))
			n.send = n.mgr.Enqueue
		}
	}
	var err error
	switch p.Role {
	case RoleEngineBay:
		n.app, err = newEngineBay(n)
	case RoleDashboard:
		n.app, err = newDashboard(n)
	case RoleDiagnostic:
		n.app, err = newDiagnostic(n)
	case RoleOutputTest:
		n.app, err = newOutputTest(n)
	}
	if err != nil {
		return nil, err
	}
	return n, nil
}

// Profile returns the effective profile.
func (n *Node) Profile() Profile { return n.p }

// Ready reports whether every loop has been started.
func (n *Node) Ready() bool { return n.ready.Load() }

// inbound creates a queue fed by the router with the given ids.
func (n *Node) inbound(name string, ids ...uint32) *queue.Queue {
	q := queue.New(name, n.p.InboundDepth, n.p.QueuePolicy, queue.Hooks{OnDrop: n.dropHook(name)})
	n.router.Subscribe(q, ids...)
	return q
}

func (n *Node) dropHook(name string) func(can.Frame) {
	return func(lost can.Frame) {
		metrics.IncQueueDrop(name)
		n.log.Warn("queue_drop", "queue", name, "id", lost.IDString())
	}
}

// poll pulls pending frames into the router for Direct roles. With a bus
// manager it does nothing; the manager feeds the router.
func (n *Node) poll() {
	if n.shared != nil {
		n.shared.Poll(n.router, n.p.PollPerIter)
	}
}

// newLoop builds a role loop with the node's logger.
func (n *Node) newLoop(name string, period time.Duration, step loop.StepFunc, onBudget func(loop.Budget)) *loop.Loop {
	return &loop.Loop{
		Name:     name,
		Period:   period,
		Step:     step,
		OnBudget: onBudget,
		Logger:   n.log.With("loop", name),
	}
}

// Run starts the bus service and every role loop under supervision and
// blocks until ctx is done.
func (n *Node) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	start := func(name string, build func() loop.Runner) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = loop.Supervise(ctx, name, n.log, build)
		}()
	}
	switch {
	case n.mgr != nil:
		start("bus", func() loop.Runner { return n.mgr })
	case n.shared != nil:
		if err := n.shared.SetFilter(n.router.IDs()); err != nil {
			n.log.Warn("bus_filter_error", "error", err)
		}
	}
	tasks := n.app.tasks()
	for _, t := range tasks {
		start(t.name, t.build)
	}
	n.ready.Store(true)
	n.log.Info("node_start", "loops", len(tasks), "subscribers", n.router.Count())
	<-ctx.Done()
	wg.Wait()
	n.ready.Store(false)
	n.log.Info("node_stop")
	return ctx.Err()
}

// needPeripherals takes name, value pairs and reports the first nil value.
func needPeripherals(pairs ...any) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == nil {
			return fmt.Errorf("%w: %v", ErrMissingPeripheral, pairs[i])
		}
	}
	return nil
}

// emit hands fr to the bus and reports whether it was accepted. Losses are
// counted and logged where they happen.
func (n *Node) emit(fr can.Frame) bool {
	if n.send == nil {
		return false
	}
	if err := n.send(fr); err != nil {
		n.log.Debug("frame_not_sent", "id", fr.IDString(), "error", err)
		return false
	}
	return true
}
