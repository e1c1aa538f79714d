package main

import (
	"time"

	"github.com/kstaniek/go-can-node/internal/hw/sim"
	"github.com/kstaniek/go-can-node/internal/node"
)

// initSensors loads the scenario driving the simulated peripherals.
func initSensors(path string) (*sim.Scenario, *sim.Rig, error) {
	if path == "" {
		sc := sim.Default()
		return sc, sim.NewRig(sc, time.Now), nil
	}
	sc, err := sim.Load(path)
	if err != nil {
		return nil, nil, err
	}
	return sc, sim.NewRig(sc, time.Now), nil
}

func peripherals(r *sim.Rig) node.Peripherals {
	return node.Peripherals{
		WheelFL:    r.FL,
		WheelFR:    r.FR,
		WheelRL:    r.RL,
		WheelRR:    r.RR,
		Tach:       r.Tach,
		Vdc:        r.Vdc,
		BrakePedal: r.Brake,
		BrakeLight: r.BrakeLight,
		OilLow:     r.OilLow,
		OilHigh:    r.OilHigh,
		Output:     r.Output,
		Gauge:      r.Gauge,
	}
}
