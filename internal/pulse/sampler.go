// Package pulse turns a free-running edge counter into a frequency once per
// sampling window (sample-then-clear: each reading covers exactly one window).
package pulse

import (
	"fmt"
	"math"
	"time"

	"github.com/kstaniek/go-can-node/internal/hw"
)

// Reading is one window's result.
type Reading struct {
	Count uint32
	Hz    float64
}

// HzU16 truncates the frequency for transmission, saturating at 65535.
func (r Reading) HzU16() uint16 { return TruncHz(r.Hz) }

// TruncHz floors hz into a u16. Negative and NaN map to 0.
func TruncHz(hz float64) uint16 {
	switch {
	case hz != hz || hz <= 0: // NaN or non-positive
		return 0
	case hz >= math.MaxUint16:
		return math.MaxUint16
	default:
		return uint16(hz)
	}
}

// Frequency converts a raw count over window into Hz, divided by the number of
// counted edges per signal period.
func Frequency(count uint32, window time.Duration, edgesPerCycle int) float64 {
	if window <= 0 {
		return 0
	}
	if edgesPerCycle < 1 {
		edgesPerCycle = 1
	}
	return float64(count) / window.Seconds() / float64(edgesPerCycle)
}

// Sampler reads and clears one counter per window.
type Sampler struct {
	Name string
	C    hw.Counter
	// Window is the nominal duration between clears (the loop period).
	Window time.Duration
	// EdgesPerCycle corrects for counters that see more than one edge per
	// signal period (2 when counting both edges of a square wave).
	EdgesPerCycle int
}

// Begin clears the counter so the first window starts now.
func (s *Sampler) Begin() error {
	if err := s.C.ClearCounter(); err != nil {
		return fmt.Errorf("pulse %s: clear: %w", s.Name, err)
	}
	return nil
}

// Sample reads the count accumulated over the last window, then clears the
// counter to open the next one. On a read error the counter is left as is.
func (s *Sampler) Sample() (Reading, error) {
	n, err := s.C.ReadCounter()
	if err != nil {
		return Reading{}, fmt.Errorf("pulse %s: read: %w", s.Name, err)
	}
	r := Reading{Count: n, Hz: Frequency(n, s.Window, s.EdgesPerCycle)}
	if err := s.C.ClearCounter(); err != nil {
		return r, fmt.Errorf("pulse %s: clear: %w", s.Name, err)
	}
	return r, nil
}
