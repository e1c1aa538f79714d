package slcan

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kstaniek/go-can-node/internal/can"
	"github.com/kstaniek/go-can-node/internal/metrics"
)

func TestEncode(t *testing.T) {
	assert.Equal(t, "t2228000A002800190005\r",
		string(Encode(can.MustFrame(0x222, 0, 10, 0, 40, 0, 25, 0, 5))))
	assert.Equal(t, "t3100\r", string(Encode(can.MustFrame(0x310))))
	assert.Equal(t, "t7FF1AB\r", string(Encode(can.MustFrame(0x7FF, 0xAB))))
}

func TestParse(t *testing.T) {
	fr, err := Parse([]byte("t2104deadBEEF"))
	require.NoError(t, err)
	assert.Equal(t, can.MustFrame(0x210, 0xDE, 0xAD, 0xBE, 0xEF), fr)

	// trailing timestamp
	fr, err = Parse([]byte("t3101C01234"))
	require.NoError(t, err)
	assert.Equal(t, can.MustFrame(0x310, 0xC0), fr)

	for _, bad := range []string{"", "t22", "t2229", "t2222AB", "x2221AB", "t2G21AB", "t2221ZZ"} {
		_, err := Parse([]byte(bad))
		assert.ErrorIs(t, err, ErrMalformed, bad)
	}
}

func TestDecodeStreamChunked(t *testing.T) {
	want := []can.Frame{
		can.MustFrame(0x222, 0, 10, 0, 40, 0, 25, 0, 5),
		can.MustFrame(0x310, 0xC0),
		can.MustFrame(0x300),
	}
	var stream []byte
	for i, fr := range want {
		stream = append(stream, Encode(fr)...)
		if i == 0 {
			stream = append(stream, "z\r"...) // tx ack
		}
	}

	var buf bytes.Buffer
	var got []can.Frame
	sizes := []int{1, 2, 3, 5, 7}
	for pos, k := 0, 0; pos < len(stream); k++ {
		n := sizes[k%len(sizes)]
		if pos+n > len(stream) {
			n = len(stream) - pos
		}
		buf.Write(stream[pos : pos+n])
		pos += n
		DecodeStream(&buf, func(fr can.Frame) { got = append(got, fr) }, nil)
	}
	assert.Equal(t, want, got)
	assert.Zero(t, buf.Len())
}

func TestDecodeStreamSkipsBadLines(t *testing.T) {
	before := metrics.Snap()
	var buf bytes.Buffer
	buf.WriteString("garbage\rT1234567812\r\at1001AA\r")
	var got []can.Frame
	bells := 0
	DecodeStream(&buf, func(fr can.Frame) { got = append(got, fr) }, func() { bells++ })

	assert.Equal(t, []can.Frame{can.MustFrame(0x100, 0xAA)}, got)
	assert.Equal(t, 1, bells)
	after := metrics.Snap()
	assert.Equal(t, before.Malformed+1, after.Malformed)
	assert.Equal(t, before.RxFiltered+1, after.RxFiltered)
}

func TestDecodeStreamDropsRunaway(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(bytes.Repeat([]byte{'x'}, 4*maxLine+1))
	DecodeStream(&buf, func(can.Frame) { t.Fatal("unexpected frame") }, nil)
	assert.Zero(t, buf.Len())
}

func TestBitrateCommand(t *testing.T) {
	cmd, err := BitrateCommand(500000)
	require.NoError(t, err)
	assert.Equal(t, "S6\r", string(cmd))
	_, err = BitrateCommand(33333)
	assert.ErrorIs(t, err, ErrBitrate)
}

func TestDecodeStreamKeepsBufferSmall(t *testing.T) {
	line := Encode(can.MustFrame(0x222, 0, 10, 0, 40, 0, 25, 0, 5))
	var buf bytes.Buffer
	n := 0
	for i := 0; i < 10000; i++ {
		for pos := 0; pos < len(line); pos += 7 {
			end := pos + 7
			if end > len(line) {
				end = len(line)
			}
			buf.Write(line[pos:end])
			DecodeStream(&buf, func(can.Frame) { n++ }, nil)
			assert.LessOrEqual(t, buf.Len(), 4*maxLine)
		}
	}
	assert.Equal(t, 10000, n)
	assert.Less(t, buf.Cap(), 1024, "consumed prefix must be reclaimed")
}
