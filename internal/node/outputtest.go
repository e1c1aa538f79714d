package node

import (
	"context"

	"github.com/kstaniek/go-can-node/internal/loop"
	"github.com/kstaniek/go-can-node/internal/metrics"
)

// outputTest toggles one digital output every period to check wiring and
// drive strength on a bench. It does not touch the bus.
type outputTest struct {
	n *Node
}

func newOutputTest(n *Node) (*outputTest, error) {
	if err := needPeripherals("output", n.io.Output); err != nil {
		return nil, err
	}
	return &outputTest{n: n}, nil
}

func (o *outputTest) tasks() []task {
	return []task{{name: "output", build: func() loop.Runner { return o.toggleLoop() }}}
}

func (o *outputTest) toggleLoop() *loop.Loop {
	log := o.n.log.With("loop", "output")
	high := false
	step := func(ctx context.Context) {
		if err := o.n.io.Output.SetDigital(high); err != nil {
			metrics.IncError(metrics.ErrActuator)
			log.Warn("actuator_error", "output", "test", "error", err)
		}
		log.Info("output_level", "high", high)
		high = !high
	}
	return o.n.newLoop("output", o.n.p.AppPeriod, step, nil)
}
