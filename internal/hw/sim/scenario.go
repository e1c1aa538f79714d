package sim

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kstaniek/go-can-node/internal/logging"
)

// Scenario describes the simulated vehicle: initial sensor inputs plus
// timed changes.
//
//	wheels_hz: {fl: 40, fr: 40, rl: 38, rr: 38}
//	vdc_mv: 3300
//	brake_mv: 0
//	steps:
//	  - at: 5s
//	    brake_mv: 2500
//	  - at: 10s
//	    wheels_hz: {fl: 4000, fr: 4000, rl: 3990, rr: 3990}
type Scenario struct {
	Wheels  WheelHz `yaml:"wheels_hz"`
	TachHz  float64 `yaml:"tach_hz"`
	VdcMV   uint16  `yaml:"vdc_mv"`
	BrakeMV uint16  `yaml:"brake_mv"`
	Steps   []Step  `yaml:"steps"`
}

// WheelHz holds the four wheel sensor input frequencies.
type WheelHz struct {
	FL float64 `yaml:"fl"`
	FR float64 `yaml:"fr"`
	RL float64 `yaml:"rl"`
	RR float64 `yaml:"rr"`
}

// Step changes some inputs at an offset from scenario start. Nil fields are
// left unchanged.
type Step struct {
	At      time.Duration `yaml:"at"`
	Wheels  *WheelHz      `yaml:"wheels_hz"`
	TachHz  *float64      `yaml:"tach_hz"`
	VdcMV   *uint16       `yaml:"vdc_mv"`
	BrakeMV *uint16       `yaml:"brake_mv"`
}

// Default returns a parked vehicle with a 3.3V supply reference.
func Default() *Scenario {
	return &Scenario{VdcMV: 3300}
}

// Load reads a scenario from a YAML file. A missing file yields the defaults.
func Load(filename string) (*Scenario, error) {
	sc := Default()
	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return sc, nil
		}
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	if err := yaml.Unmarshal(data, sc); err != nil {
		return nil, fmt.Errorf("failed to parse scenario file: %w", err)
	}
	sc.ensureDefaults()
	return sc, nil
}

func (s *Scenario) ensureDefaults() {
	clamp := func(w *WheelHz) {
		for _, v := range []*float64{&w.FL, &w.FR, &w.RL, &w.RR} {
			if *v < 0 {
				*v = 0
			}
		}
	}
	clamp(&s.Wheels)
	if s.TachHz < 0 {
		s.TachHz = 0
	}
	for i := range s.Steps {
		if s.Steps[i].At < 0 {
			s.Steps[i].At = 0
		}
		if s.Steps[i].Wheels != nil {
			clamp(s.Steps[i].Wheels)
		}
	}
	sort.SliceStable(s.Steps, func(i, j int) bool { return s.Steps[i].At < s.Steps[j].At })
}

// Rig is the full set of simulated peripherals a node can be wired to.
type Rig struct {
	FL, FR, RL, RR *Counter
	Tach           *Counter
	Vdc            *Analog
	Brake          *Analog

	BrakeLight *Digital
	OilLow     *Digital
	OilHigh    *Digital
	Output     *Digital
	Gauge      *PWM
}

// NewRig builds peripherals at the scenario's initial inputs.
func NewRig(sc *Scenario, now func() time.Time) *Rig {
	if sc == nil {
		sc = Default()
	}
	return &Rig{
		FL:         NewCounter(sc.Wheels.FL, now),
		FR:         NewCounter(sc.Wheels.FR, now),
		RL:         NewCounter(sc.Wheels.RL, now),
		RR:         NewCounter(sc.Wheels.RR, now),
		Tach:       NewCounter(sc.TachHz, now),
		Vdc:        NewAnalog(sc.VdcMV),
		Brake:      NewAnalog(sc.BrakeMV),
		BrakeLight: &Digital{},
		OilLow:     &Digital{},
		OilHigh:    &Digital{},
		Output:     &Digital{},
		Gauge:      &PWM{},
	}
}

// Apply sets the inputs a step carries.
func (r *Rig) Apply(st Step) {
	if st.Wheels != nil {
		r.FL.SetHz(st.Wheels.FL)
		r.FR.SetHz(st.Wheels.FR)
		r.RL.SetHz(st.Wheels.RL)
		r.RR.SetHz(st.Wheels.RR)
	}
	if st.TachHz != nil {
		r.Tach.SetHz(*st.TachHz)
	}
	if st.VdcMV != nil {
		r.Vdc.Set(*st.VdcMV)
	}
	if st.BrakeMV != nil {
		r.Brake.Set(*st.BrakeMV)
	}
}

// Play applies the scenario steps at their offsets until all are applied or
// ctx is done.
func (r *Rig) Play(ctx context.Context, sc *Scenario, l *slog.Logger) {
	log := logging.Or(l)
	start := time.Now()
	for i, st := range sc.Steps {
		wait := time.Until(start.Add(st.At))
		if wait > 0 {
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
		}
		r.Apply(st)
		log.Info("sim_step", "index", i, "at", st.At)
	}
}
