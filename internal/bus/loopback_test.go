package bus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kstaniek/go-can-node/internal/can"
	"github.com/kstaniek/go-can-node/internal/logging"
	"github.com/kstaniek/go-can-node/internal/queue"
	"github.com/kstaniek/go-can-node/internal/router"
)

func TestLoopbackDeliversToOthersOnly(t *testing.T) {
	lb := NewLoopback()
	a, b, c := lb.Endpoint("a", 4), lb.Endpoint("b", 4), lb.Endpoint("c", 4)
	require.NoError(t, a.Transmit(can.MustFrame(0x100, 1), 0))

	_, err := a.Receive(0)
	assert.ErrorIs(t, err, ErrNoFrame)
	for _, e := range []*Endpoint{b, c} {
		fr, err := e.Receive(0)
		require.NoError(t, err)
		assert.Equal(t, uint32(0x100), fr.ID)
	}
}

func TestLoopbackReceiveTimeout(t *testing.T) {
	e := NewLoopback().Endpoint("a", 1)
	start := time.Now()
	_, err := e.Receive(5 * time.Millisecond)
	assert.ErrorIs(t, err, ErrNoFrame)
	assert.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond)
}

func TestLoopbackOverrunAndFailures(t *testing.T) {
	lb := NewLoopback()
	a, b := lb.Endpoint("a", 4), lb.Endpoint("b", 2)
	for i := 0; i < 5; i++ {
		require.NoError(t, a.Transmit(can.MustFrame(0x100, byte(i)), 0))
	}
	assert.Equal(t, uint64(3), b.Overruns())

	a.FailTransmit(ErrTxBufferFull)
	assert.ErrorIs(t, a.Transmit(can.MustFrame(0x100), 0), ErrTxBufferFull)
	a.FailTransmit(nil)
	assert.Len(t, a.Sent(), 5)

	assert.Error(t, a.Transmit(can.Frame{ID: 0x800}, 0), "extended id rejected")

	require.NoError(t, b.Close())
	_, err := b.Receive(0)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSharedSendAndPoll(t *testing.T) {
	lb := NewLoopback()
	a, b := lb.Endpoint("a", 8), lb.Endpoint("b", 8)
	sa := NewShared(a, 0, logging.Discard())
	sb := NewShared(b, 0, logging.Discard())

	r := router.New()
	q := queue.New("q", 8, queue.DropOldest, queue.Hooks{})
	r.Subscribe(q, 0x222)
	require.NoError(t, sb.SetFilter(r.IDs()))

	require.NoError(t, sa.Send(can.MustFrame(0x222, 1)))
	require.NoError(t, sa.Send(can.MustFrame(0x210, 2)))
	assert.Equal(t, 1, sb.Poll(r, 42))
	assert.Equal(t, 1, q.Len())

	a.FailTransmit(ErrBusBusy)
	assert.ErrorIs(t, sa.Send(can.MustFrame(0x222)), ErrBusBusy)
}
