package node

import (
	"context"
	"log/slog"
	"time"

	"github.com/kstaniek/go-can-node/internal/can"
	"github.com/kstaniek/go-can-node/internal/canmsg"
	"github.com/kstaniek/go-can-node/internal/hw"
	"github.com/kstaniek/go-can-node/internal/loop"
	"github.com/kstaniek/go-can-node/internal/metrics"
	"github.com/kstaniek/go-can-node/internal/pulse"
	"github.com/kstaniek/go-can-node/internal/queue"
	"github.com/kstaniek/go-can-node/internal/state"
)

// DashboardState is the instrument cluster node's shared state.
type DashboardState struct {
	Wheels      canmsg.WheelSpeeds
	Speed       uint8
	EngineRPM   uint16
	BrakeActive bool
	Vdc         uint16
	LoopBudget  uint8
	BusBudget   uint8
}

type dashboard struct {
	n      *Node
	st     *state.Store[DashboardState]
	wheelQ *queue.Queue
	auxQ   *queue.Queue
	now    func() time.Time
}

func newDashboard(n *Node) (*dashboard, error) {
	io := n.io
	if err := needPeripherals("gauge", io.Gauge, "brake-pedal", io.BrakePedal, "vdc", io.Vdc); err != nil {
		return nil, err
	}
	d := &dashboard{
		n:      n,
		st:     state.New(DashboardState{}, n.log),
		wheelQ: n.inbound("wheel", canmsg.WheelSpeedID),
		auxQ:   n.inbound("aux", canmsg.DashboardAuxID),
		now:    time.Now,
	}
	if n.mgr != nil {
		n.mgr.OnBudget = func(b loop.Budget) {
			_, _ = d.st.Update(func(s *DashboardState) { s.BusBudget = canmsg.ClampPercent(b.Percent) })
		}
	}
	return d, nil
}

func (d *dashboard) tasks() []task {
	return []task{{name: "app", build: func() loop.Runner { return d.appLoop() }}}
}

// appLoop consumes wheel speeds, reads the pedal and supply, drives the
// gauge and lamps and publishes the general frame.
func (d *dashboard) appLoop() *loop.Loop {
	p, io := d.n.p, d.n.io
	log := d.n.log.With("loop", "app")

	selfTest := p.SelfTestCycles
	var lastWheel time.Time
	timedOut, vdcWarned := false, false
	var tach *pulse.Sampler
	if io.Tach != nil {
		tach = &pulse.Sampler{Name: "tach", C: io.Tach, Window: p.AppPeriod, EdgesPerCycle: 1}
		if err := tach.Begin(); err != nil {
			metrics.IncError(metrics.ErrSensor)
			log.Warn("sensor_error", "error", err)
		}
	}

	step := func(ctx context.Context) {
		d.n.poll()
		var wheels canmsg.WheelSpeeds
		gotWheels := false
		d.wheelQ.Drain(func(fr can.Frame) {
			w, err := canmsg.DecodeWheelSpeeds(fr)
			if err != nil {
				metrics.IncError(metrics.ErrDecode)
				log.Debug("decode_error", "id", fr.IDString(), "error", err)
				return
			}
			wheels, gotWheels = w, true
		})
		d.auxQ.Drain(func(fr can.Frame) {
			log.Debug("aux_frame", "id", fr.IDString(), "data", fr.Payload())
		})

		now := d.now()
		if gotWheels {
			lastWheel, timedOut = now, false
		} else if !lastWheel.IsZero() && !timedOut && now.Sub(lastWheel) > p.WheelTimeout {
			timedOut = true
			log.Warn("wheel_speed_timeout", "last", lastWheel)
		}

		pedal, pedalErr := io.BrakePedal.ReadAnalog()
		vdc, vdcErr := io.Vdc.ReadAnalog()
		for _, err := range []error{pedalErr, vdcErr} {
			if err != nil {
				metrics.IncError(metrics.ErrSensor)
				log.Warn("sensor_error", "error", err)
			}
		}
		var rpm uint16
		rpmOK := false
		if tach != nil {
			if r, err := tach.Sample(); err != nil {
				metrics.IncError(metrics.ErrSensor)
				log.Warn("sensor_error", "error", err)
			} else {
				rpm, rpmOK = RPM(r.Hz, p.TachPulsesPerRev), true
			}
		}

		cur, err := d.st.Update(func(s *DashboardState) {
			switch {
			case gotWheels:
				s.Wheels, s.Speed = wheels, Speed(wheels)
			case timedOut:
				s.Wheels, s.Speed = canmsg.WheelSpeeds{}, 0
			}
			if vdcErr == nil {
				s.Vdc = vdc
			}
			if pedalErr == nil && vdcErr == nil {
				s.BrakeActive = BrakeActive(pedal, vdc)
			}
			if rpmOK {
				s.EngineRPM = rpm
			}
		})
		if err != nil {
			log.Warn("state_stale", "error", err)
		}
		if vdcErr == nil && cur.Vdc == 0 {
			if !vdcWarned {
				log.Warn("vdc_zero", "msg", "supply reference reads 0, brake input ignored")
				vdcWarned = true
			}
		} else {
			vdcWarned = false
		}

		hz := GaugeHz(cur.Speed, p.MinGaugeHz)
		if selfTest > 0 && cur.Speed == 0 {
			hz = p.SelfTestHz
			selfTest--
		} else {
			selfTest = 0
		}
		if err := io.Gauge.SetPWMFrequency(hz); err != nil {
			metrics.IncError(metrics.ErrActuator)
			log.Warn("actuator_error", "output", "gauge", "error", err)
		}
		setLamp(log, "oil-high", io.OilHigh, cur.EngineRPM > p.OilHighRPM)
		setLamp(log, "oil-low", io.OilLow, cur.EngineRPM == 0)

		d.n.emit(canmsg.DashboardGeneral{
			BrakeActive: cur.BrakeActive,
			LoopBudget:  cur.LoopBudget,
			BusBudget:   cur.BusBudget,
		}.Frame(p.NodeID))
		log.Debug("app_cycle", "speed", cur.Speed, "rpm", cur.EngineRPM, "brake", cur.BrakeActive, "vdc", cur.Vdc, "gauge_hz", hz)
	}
	return d.n.newLoop("app", p.AppPeriod, step, func(b loop.Budget) {
		_, _ = d.st.Update(func(s *DashboardState) { s.LoopBudget = canmsg.ClampPercent(b.Percent) })
	})
}

func setLamp(log *slog.Logger, name string, out hw.Digital, on bool) {
	if out == nil {
		return
	}
	if err := out.SetDigital(on); err != nil {
		metrics.IncError(metrics.ErrActuator)
		log.Warn("actuator_error", "output", name, "error", err)
	}
}
