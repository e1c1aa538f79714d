package pulse

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCounter struct {
	n        uint32
	clears   int
	readErr  error
	clearErr error
}

func (c *fakeCounter) ReadCounter() (uint32, error) { return c.n, c.readErr }
func (c *fakeCounter) ClearCounter() error {
	if c.clearErr != nil {
		return c.clearErr
	}
	c.clears++
	c.n = 0
	return nil
}

func TestFrequency(t *testing.T) {
	assert.InDelta(t, 40.0, Frequency(10, 250*time.Millisecond, 1), 1e-9)
	assert.InDelta(t, 20.0, Frequency(10, 250*time.Millisecond, 2), 1e-9)
	assert.InDelta(t, 10.0, Frequency(10, 250*time.Millisecond, 4), 1e-9)
	assert.Equal(t, 0.0, Frequency(10, 0, 1))
	assert.InDelta(t, 40.0, Frequency(10, 250*time.Millisecond, 0), 1e-9) // <1 treated as 1
}

func TestTruncHzFloorsAndSaturates(t *testing.T) {
	assert.Equal(t, uint16(39), TruncHz(39.999))
	assert.Equal(t, uint16(0), TruncHz(-3))
	assert.Equal(t, uint16(0), TruncHz(math.NaN()))
	assert.Equal(t, uint16(65535), TruncHz(1e9))
}

func TestSampleThenClear(t *testing.T) {
	c := &fakeCounter{n: 123}
	s := &Sampler{Name: "fl", C: c, Window: 250 * time.Millisecond, EdgesPerCycle: 1}
	require.NoError(t, s.Begin())
	assert.Equal(t, uint32(0), c.n)

	c.n = 1000
	r, err := s.Sample()
	require.NoError(t, err)
	assert.Equal(t, uint32(1000), r.Count)
	assert.Equal(t, uint16(4000), r.HzU16())
	assert.Equal(t, uint32(0), c.n, "counter cleared for next window")
	assert.Equal(t, 2, c.clears)

	// next window only sees new edges
	c.n = 5
	r, err = s.Sample()
	require.NoError(t, err)
	assert.Equal(t, uint16(20), r.HzU16())
}

func TestSampleErrors(t *testing.T) {
	boom := errors.New("pcnt")
	c := &fakeCounter{n: 10, readErr: boom}
	s := &Sampler{Name: "rr", C: c, Window: time.Second}
	_, err := s.Sample()
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, uint32(10), c.n, "counter untouched after read error")

	c.readErr, c.clearErr = nil, boom
	r, err := s.Sample()
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, uint16(10), r.HzU16(), "reading still returned when clear fails")
}
