package node

import (
	"math"

	"github.com/kstaniek/go-can-node/internal/canmsg"
)

// Speed derives the displayed vehicle speed from the fastest wheel:
// floor(max_hz / 1000). The u16 range keeps it within a byte.
func Speed(w canmsg.WheelSpeeds) uint8 {
	return uint8(w.Max() / 1000)
}

// GaugeHz is the speedometer drive frequency; the gauge needle needs a
// minimum frequency to stay at rest.
func GaugeHz(speed uint8, min uint32) uint32 {
	if hz := uint32(speed); hz > min {
		return hz
	}
	return min
}

// BrakeActive compares the pedal voltage against half the supply. A zero
// supply reading means the reference is unusable and reports false.
func BrakeActive(pedalMV, vdcMV uint16) bool {
	if vdcMV == 0 {
		return false
	}
	return pedalMV > vdcMV/2
}

// RPM converts the tach input frequency to engine speed, saturating at u16.
func RPM(hz float64, pulsesPerRev int) uint16 {
	if pulsesPerRev < 1 {
		pulsesPerRev = 1
	}
	rpm := hz * 60 / float64(pulsesPerRev)
	switch {
	case rpm != rpm || rpm <= 0:
		return 0
	case rpm >= math.MaxUint16:
		return math.MaxUint16
	}
	return uint16(rpm)
}
