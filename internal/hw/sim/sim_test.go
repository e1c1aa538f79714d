package sim

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kstaniek/go-can-node/internal/hw"
	"github.com/kstaniek/go-can-node/internal/logging"
)

var (
	_ hw.Counter = (*Counter)(nil)
	_ hw.Analog  = (*Analog)(nil)
	_ hw.Digital = (*Digital)(nil)
	_ hw.PWM     = (*PWM)(nil)
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestCounterAccumulatesAndClears(t *testing.T) {
	c := &clock{t: time.Unix(100, 0)}
	ctr := NewCounter(40, c.now)
	c.advance(250 * time.Millisecond)
	n, err := ctr.ReadCounter()
	require.NoError(t, err)
	assert.Equal(t, uint32(10), n)

	require.NoError(t, ctr.ClearCounter())
	n, _ = ctr.ReadCounter()
	assert.Equal(t, uint32(0), n)

	// frequency change mid-window keeps earlier edges
	c.advance(500 * time.Millisecond) // 20 edges at 40 Hz
	ctr.SetHz(4000)
	c.advance(250 * time.Millisecond) // 1000 edges
	n, _ = ctr.ReadCounter()
	assert.Equal(t, uint32(1020), n)

	ctr.SetFault(true)
	_, err = ctr.ReadCounter()
	assert.ErrorIs(t, err, ErrFault)
}

func TestOutputsRecord(t *testing.T) {
	var d Digital
	require.NoError(t, d.SetDigital(true))
	require.NoError(t, d.SetDigital(true))
	require.NoError(t, d.SetDigital(false))
	assert.False(t, d.High())
	assert.Equal(t, 1, d.Toggles())

	var p PWM
	_ = p.SetPWMFrequency(200)
	_ = p.SetPWMFrequency(2)
	assert.Equal(t, uint32(2), p.Hz())
	assert.Equal(t, []uint32{200, 2}, p.History())

	a := NewAnalog(1000)
	a.SetFault(true)
	_, err := a.ReadAnalog()
	assert.ErrorIs(t, err, ErrFault)
}

func TestLoadScenario(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "drive.yaml")
	doc := `
wheels_hz: {fl: 40, fr: 41, rl: -5, rr: 38}
vdc_mv: 3300
steps:
  - at: 10s
    wheels_hz: {fl: 4000, fr: 4000, rl: 4000, rr: 4000}
  - at: 5s
    brake_mv: 2500
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	sc, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 41.0, sc.Wheels.FR)
	assert.Equal(t, 0.0, sc.Wheels.RL, "negative clamped")
	require.Len(t, sc.Steps, 2)
	assert.Equal(t, 5*time.Second, sc.Steps[0].At, "steps sorted")
	require.NotNil(t, sc.Steps[0].BrakeMV)
	assert.Equal(t, uint16(2500), *sc.Steps[0].BrakeMV)
	assert.Nil(t, sc.Steps[0].Wheels)
}

func TestLoadMissingAndBroken(t *testing.T) {
	sc, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), sc)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("vdc_mv: [1"), 0o644))
	_, err = Load(bad)
	assert.Error(t, err)
}

func TestRigPlayAppliesSteps(t *testing.T) {
	mv := uint16(2500)
	sc := &Scenario{VdcMV: 3300, Steps: []Step{{At: 0, BrakeMV: &mv}}}
	r := NewRig(sc, nil)
	r.Play(context.Background(), sc, logging.Discard())
	v, err := r.Brake.ReadAnalog()
	require.NoError(t, err)
	assert.Equal(t, uint16(2500), v)
}

func TestRigPlayStopsOnCancel(t *testing.T) {
	sc := &Scenario{Steps: []Step{{At: time.Hour}}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	done := make(chan struct{})
	go func() { NewRig(sc, nil).Play(ctx, sc, logging.Discard()); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Play did not stop")
	}
}
