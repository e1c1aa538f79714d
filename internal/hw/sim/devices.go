// Package sim provides simulated peripherals for running nodes on a host.
package sim

import (
	"errors"
	"math"
	"sync"
	"time"
)

// ErrFault is returned by a device with fault injection enabled.
var ErrFault = errors.New("sim: injected fault")

// Counter accumulates edges of a square wave at a settable frequency.
// The count read is hz * time since the last clear, floored.
type Counter struct {
	mu      sync.Mutex
	hz      float64
	since   time.Time
	carried float64 // edges accumulated before the last SetHz
	fault   bool
	now     func() time.Time
}

// NewCounter returns a counter at hz, using now as its clock (nil: wall clock).
func NewCounter(hz float64, now func() time.Time) *Counter {
	if now == nil {
		now = time.Now
	}
	return &Counter{hz: hz, since: now(), now: now}
}

// SetHz changes the simulated input frequency; edges so far are kept.
func (c *Counter) SetHz(hz float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now()
	c.carried += c.hz * t.Sub(c.since).Seconds()
	c.since, c.hz = t, hz
}

// SetFault makes reads fail until cleared.
func (c *Counter) SetFault(on bool) { c.mu.Lock(); c.fault = on; c.mu.Unlock() }

func (c *Counter) ReadCounter() (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fault {
		return 0, ErrFault
	}
	n := c.carried + c.hz*c.now().Sub(c.since).Seconds()
	if n <= 0 {
		return 0, nil
	}
	if n >= math.MaxUint32 {
		return math.MaxUint32, nil
	}
	return uint32(n), nil
}

func (c *Counter) ClearCounter() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.carried, c.since = 0, c.now()
	return nil
}

// Analog is an ADC channel with a settable reading.
type Analog struct {
	mu    sync.Mutex
	mv    uint16
	fault bool
}

func NewAnalog(mv uint16) *Analog { return &Analog{mv: mv} }

func (a *Analog) Set(mv uint16) { a.mu.Lock(); a.mv = mv; a.mu.Unlock() }
func (a *Analog) SetFault(on bool) { a.mu.Lock(); a.fault = on; a.mu.Unlock() }
func (a *Analog) ReadAnalog() (uint16, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fault {
		return 0, ErrFault
	}
	return a.mv, nil
}

// Digital records the output level and the number of level changes.
type Digital struct {
	mu      sync.Mutex
	high    bool
	set     bool
	toggles int
}

func (d *Digital) SetDigital(high bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.set && d.high != high {
		d.toggles++
	}
	d.high, d.set = high, true
	return nil
}

// High returns the current level.
func (d *Digital) High() bool { d.mu.Lock(); defer d.mu.Unlock(); return d.high }

// Toggles returns how many times the level changed.
func (d *Digital) Toggles() int { d.mu.Lock(); defer d.mu.Unlock(); return d.toggles }

// PWM records the last frequency set and the full history.
type PWM struct {
	mu      sync.Mutex
	hz      uint32
	history []uint32
}

func (p *PWM) SetPWMFrequency(hz uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hz = hz
	p.history = append(p.history, hz)
	return nil
}

// Hz returns the last frequency set.
func (p *PWM) Hz() uint32 { p.mu.Lock(); defer p.mu.Unlock(); return p.hz }

// History returns a copy of every frequency set, oldest first.
func (p *PWM) History() []uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]uint32(nil), p.history...)
}
