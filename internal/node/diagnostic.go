package node

import (
	"context"
	"sort"

	"github.com/kstaniek/go-can-node/internal/can"
	"github.com/kstaniek/go-can-node/internal/canmsg"
	"github.com/kstaniek/go-can-node/internal/loop"
	"github.com/kstaniek/go-can-node/internal/queue"
	"github.com/kstaniek/go-can-node/internal/state"
)

// summaryEvery is the number of monitor iterations between per-id summaries.
const summaryEvery = 100

// DiagnosticState is the bus monitor's shared state.
type DiagnosticState struct {
	Frames      uint64
	Decoded     uint64
	Undecodable uint64
	Wheels      canmsg.WheelSpeeds
	BrakeA      canmsg.BrakeStatus
	BrakeB      canmsg.BrakeStatus
	EngineBay   canmsg.EngineBayGeneral
	Dashboard   canmsg.DashboardGeneral
	LoopBudget  uint8
	HeartBudget uint8
}

// diagnostic is a bus monitor. By default it runs without a manager: its
// monitor loop polls the shared controller and its heartbeat transmits directly.
type diagnostic struct {
	n  *Node
	st *state.Store[DiagnosticState]
	q  *queue.Queue
}

func newDiagnostic(n *Node) (*diagnostic, error) {
	return &diagnostic{
		n:  n,
		st: state.New(DiagnosticState{}, n.log),
		q:  n.inbound("monitor"),
	}, nil
}

func (d *diagnostic) tasks() []task {
	return []task{
		{name: "monitor", build: func() loop.Runner { return d.monitorLoop() }},
		{name: "heartbeat", build: func() loop.Runner { return d.heartbeatLoop() }},
	}
}

// batch collects what one monitor iteration decoded.
type batch struct {
	frames, decoded, undecodable uint64

	wheels         *canmsg.WheelSpeeds
	brakeA, brakeB *canmsg.BrakeStatus
	engineBay      *canmsg.EngineBayGeneral
	dashboard      *canmsg.DashboardGeneral
}

// decode interprets the frames this network defines. Unknown ids are not an
// error; they are only counted.
func (b *batch) decode(fr can.Frame) error {
	switch fr.ID {
	case canmsg.WheelSpeedID:
		w, err := canmsg.DecodeWheelSpeeds(fr)
		if err != nil {
			return err
		}
		b.wheels = &w
	case canmsg.BrakeStatusAID:
		bs, err := canmsg.DecodeBrakeStatus(fr)
		if err != nil {
			return err
		}
		b.brakeA = &bs
		// the dashboard general frame shares this id
		if g, err := canmsg.DecodeDashboardGeneral(fr); err == nil {
			b.dashboard = &g
		}
	case canmsg.BrakeStatusBID:
		bs, err := canmsg.DecodeBrakeStatus(fr)
		if err != nil {
			return err
		}
		b.brakeB = &bs
	case canmsg.EngineBayNodeID:
		g, err := canmsg.DecodeEngineBayGeneral(fr)
		if err != nil {
			return err
		}
		b.engineBay = &g
	}
	return nil
}

func (b *batch) apply(s *DiagnosticState) {
	s.Frames += b.frames
	s.Decoded += b.decoded
	s.Undecodable += b.undecodable
	if b.wheels != nil {
		s.Wheels = *b.wheels
	}
	if b.brakeA != nil {
		s.BrakeA = *b.brakeA
	}
	if b.brakeB != nil {
		s.BrakeB = *b.brakeB
	}
	if b.engineBay != nil {
		s.EngineBay = *b.engineBay
	}
	if b.dashboard != nil {
		s.Dashboard = *b.dashboard
	}
}

func (d *diagnostic) monitorLoop() *loop.Loop {
	p := d.n.p
	log := d.n.log.With("loop", "monitor")
	counts := map[uint32]uint64{}
	iter := 0

	step := func(ctx context.Context) {
		d.n.poll()
		var b batch
		d.q.Drain(func(fr can.Frame) {
			counts[fr.ID]++
			b.frames++
			log.Debug("rx", "id", fr.IDString(), "data", fr.Payload())
			if err := b.decode(fr); err != nil {
				b.undecodable++
				log.Debug("decode_error", "id", fr.IDString(), "error", err)
				return
			}
			b.decoded++
		})
		if b.frames > 0 {
			_, _ = d.st.Update(b.apply)
		}
		iter++
		if iter%summaryEvery == 0 && len(counts) > 0 {
			ids := make([]uint32, 0, len(counts))
			for id := range counts {
				ids = append(ids, id)
			}
			sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
			attrs := make([]any, 0, 2*len(ids))
			for _, id := range ids {
				attrs = append(attrs, can.IDString(id), counts[id])
			}
			log.Info("monitor_summary", attrs...)
		}
	}
	return d.n.newLoop("monitor", p.AppPeriod, step, func(b loop.Budget) {
		_, _ = d.st.Update(func(s *DiagnosticState) { s.LoopBudget = canmsg.ClampPercent(b.Percent) })
	})
}

func (d *diagnostic) heartbeatLoop() *loop.Loop {
	p := d.n.p
	log := d.n.log.With("loop", "heartbeat")
	step := func(ctx context.Context) {
		s, h := d.st.Snapshot()
		if h.Stale {
			log.Warn("state_stale", "reason", h.Reason, "since", h.Since)
		}
		d.n.emit(canmsg.Heartbeat(p.NodeID, s.LoopBudget))
	}
	return d.n.newLoop("heartbeat", p.SendPeriod, step, func(b loop.Budget) {
		_, _ = d.st.Update(func(s *DiagnosticState) { s.HeartBudget = canmsg.ClampPercent(b.Percent) })
	})
}
