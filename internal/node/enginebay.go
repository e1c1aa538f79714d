package node

import (
	"context"

	"github.com/kstaniek/go-can-node/internal/can"
	"github.com/kstaniek/go-can-node/internal/canmsg"
	"github.com/kstaniek/go-can-node/internal/loop"
	"github.com/kstaniek/go-can-node/internal/metrics"
	"github.com/kstaniek/go-can-node/internal/pulse"
	"github.com/kstaniek/go-can-node/internal/queue"
	"github.com/kstaniek/go-can-node/internal/state"
)

// EngineBayState is the engine-bay node's shared state.
type EngineBayState struct {
	Wheels canmsg.WheelSpeeds
	// Latest brake status per source identifier.
	BrakeA, BrakeB canmsg.BrakeStatus
	Vdc            uint16
	LoopBudget     uint8
	SenderBudget   uint8
}

// Brake combines both brake status sources.
func (s EngineBayState) Brake() canmsg.BrakeStatus {
	return canmsg.BrakeStatus{
		PedalA: s.BrakeA.PedalA || s.BrakeB.PedalA,
		PedalB: s.BrakeA.PedalB || s.BrakeB.PedalB,
	}
}

type engineBay struct {
	n      *Node
	st     *state.Store[EngineBayState]
	brakeQ *queue.Queue
}

func newEngineBay(n *Node) (*engineBay, error) {
	io := n.io
	if err := needPeripherals(
		"wheel-fl", io.WheelFL, "wheel-fr", io.WheelFR, "wheel-rl", io.WheelRL, "wheel-rr", io.WheelRR,
		"vdc", io.Vdc, "brake-light", io.BrakeLight,
	); err != nil {
		return nil, err
	}
	return &engineBay{
		n:      n,
		st:     state.New(EngineBayState{}, n.log),
		brakeQ: n.inbound("brake", canmsg.BrakeStatusAID, canmsg.BrakeStatusBID),
	}, nil
}

func (e *engineBay) tasks() []task {
	return []task{
		{name: "abs", build: func() loop.Runner { return e.absLoop() }},
		{name: "sender", build: func() loop.Runner { return e.senderLoop() }},
	}
}

// absLoop drains brake status, drives the brake light and samples the
// wheel counters and supply voltage once per window.
func (e *engineBay) absLoop() *loop.Loop {
	p, io := e.n.p, e.n.io
	log := e.n.log.With("loop", "abs")
	samplers := [4]*pulse.Sampler{
		{Name: "fl", C: io.WheelFL, Window: p.AppPeriod, EdgesPerCycle: p.EdgesPerCycle},
		{Name: "fr", C: io.WheelFR, Window: p.AppPeriod, EdgesPerCycle: p.EdgesPerCycle},
		{Name: "rl", C: io.WheelRL, Window: p.AppPeriod, EdgesPerCycle: p.EdgesPerCycle},
		{Name: "rr", C: io.WheelRR, Window: p.AppPeriod, EdgesPerCycle: p.EdgesPerCycle},
	}
	for _, s := range samplers {
		if err := s.Begin(); err != nil {
			metrics.IncError(metrics.ErrSensor)
			log.Warn("sensor_error", "error", err)
		}
	}

	step := func(ctx context.Context) {
		e.n.poll()
		var a, b canmsg.BrakeStatus
		var gotA, gotB bool
		e.brakeQ.Drain(func(fr can.Frame) {
			bs, err := canmsg.DecodeBrakeStatus(fr)
			if err != nil {
				metrics.IncError(metrics.ErrDecode)
				log.Debug("decode_error", "id", fr.IDString(), "error", err)
				return
			}
			log.Debug("brake_status", "id", fr.IDString(), "pedal_a", bs.PedalA, "pedal_b", bs.PedalB)
			if fr.ID == canmsg.BrakeStatusAID {
				a, gotA = bs, true
			} else {
				b, gotB = bs, true
			}
		})
		cur, _ := e.st.Update(func(s *EngineBayState) {
			if gotA {
				s.BrakeA = a
			}
			if gotB {
				s.BrakeB = b
			}
		})
		// brake light output is active low
		if err := io.BrakeLight.SetDigital(!cur.Brake().PedalA); err != nil {
			metrics.IncError(metrics.ErrActuator)
			log.Warn("actuator_error", "output", "brake-light", "error", err)
		}

		var hz [4]uint16
		var ok [4]bool
		for i, s := range samplers {
			r, err := s.Sample()
			if err != nil {
				metrics.IncError(metrics.ErrSensor)
				log.Warn("sensor_error", "error", err)
				continue
			}
			hz[i], ok[i] = r.HzU16(), true
		}
		vdc, vdcErr := io.Vdc.ReadAnalog()
		if vdcErr != nil {
			metrics.IncError(metrics.ErrSensor)
			log.Warn("sensor_error", "input", "vdc", "error", vdcErr)
		}
		cur, _ = e.st.Update(func(s *EngineBayState) {
			for i, dst := range []*uint16{&s.Wheels.FL, &s.Wheels.FR, &s.Wheels.RL, &s.Wheels.RR} {
				if ok[i] {
					*dst = hz[i]
				}
			}
			if vdcErr == nil {
				s.Vdc = vdc
			}
		})
		log.Debug("abs_sample", "fl", cur.Wheels.FL, "fr", cur.Wheels.FR, "rl", cur.Wheels.RL, "rr", cur.Wheels.RR,
			"vdc", cur.Vdc, "pedal_a", cur.Brake().PedalA)
	}
	return e.n.newLoop("abs", p.AppPeriod, step, func(b loop.Budget) {
		_, _ = e.st.Update(func(s *EngineBayState) { s.LoopBudget = canmsg.ClampPercent(b.Percent) })
	})
}

// senderLoop publishes the wheel speeds and the general frame from one snapshot.
func (e *engineBay) senderLoop() *loop.Loop {
	p := e.n.p
	log := e.n.log.With("loop", "sender")
	step := func(ctx context.Context) {
		s, h := e.st.Snapshot()
		if h.Stale {
			log.Warn("state_stale", "reason", h.Reason, "since", h.Since)
		}
		e.n.emit(s.Wheels.Frame())
		e.n.emit(canmsg.EngineBayGeneral{LoopBudget: s.LoopBudget, SenderBudget: s.SenderBudget}.Frame(p.NodeID))
	}
	return e.n.newLoop("sender", p.SendPeriod, step, func(b loop.Budget) {
		_, _ = e.st.Update(func(s *EngineBayState) { s.SenderBudget = canmsg.ClampPercent(b.Percent) })
	})
}
