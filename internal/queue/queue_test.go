package queue

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kstaniek/go-can-node/internal/can"
)

func frameN(i int) can.Frame { return can.MustFrame(uint32(i), byte(i)) }

func ids(q *Queue) []uint32 {
	var out []uint32
	q.Drain(func(fr can.Frame) { out = append(out, fr.ID) })
	return out
}

func TestDropOldestKeepsNewestInOrder(t *testing.T) {
	const n = 5
	var lost []uint32
	q := New("in", n, DropOldest, Hooks{OnDrop: func(fr can.Frame) { lost = append(lost, fr.ID) }})
	for i := 0; i < n; i++ {
		require.NoError(t, q.Push(frameN(i)))
	}
	err := q.Push(frameN(n))
	assert.ErrorIs(t, err, ErrDropped)

	assert.Equal(t, uint64(1), q.Drops())
	assert.Equal(t, []uint32{0}, lost)
	assert.Equal(t, []uint32{1, 2, 3, 4, 5}, ids(q))
}

func TestDropNewestKeepsEarliestInOrder(t *testing.T) {
	const n = 5
	var lost []uint32
	q := New("out", n, DropNewest, Hooks{OnDrop: func(fr can.Frame) { lost = append(lost, fr.ID) }})
	for i := 0; i <= n; i++ {
		_ = q.Push(frameN(i))
	}
	assert.Equal(t, uint64(1), q.Drops())
	assert.Equal(t, []uint32{5}, lost)
	assert.Equal(t, []uint32{0, 1, 2, 3, 4}, ids(q))
}

func TestPushNeverBlocks(t *testing.T) {
	q := New("in", 2, DropOldest, Hooks{})
	start := time.Now()
	for i := 0; i < 10000; i++ {
		_ = q.Push(frameN(i % 0x7FF))
	}
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 2, q.Len())
	assert.Equal(t, uint64(9998), q.Drops())
}

func TestTryPopEmptyAndClose(t *testing.T) {
	q := New("x", 0, DropNewest, Hooks{})
	assert.Equal(t, 1, q.Cap())
	_, ok := q.TryPop()
	assert.False(t, ok)

	require.NoError(t, q.Push(frameN(1)))
	q.Close()
	assert.ErrorIs(t, q.Push(frameN(2)), ErrClosed)
	fr, ok := q.TryPop()
	require.True(t, ok)
	assert.Equal(t, uint32(1), fr.ID)
}

func TestConcurrentProducerConsumer(t *testing.T) {
	q := New("x", 8, DropOldest, Hooks{})
	var wg sync.WaitGroup
	var got int
	done := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				got += q.Drain(func(can.Frame) {})
				return
			default:
				got += q.Drain(func(can.Frame) {})
			}
		}
	}()
	const total = 5000
	for i := 0; i < total; i++ {
		_ = q.Push(frameN(i % 0x7FF))
	}
	close(done)
	wg.Wait()
	assert.Equal(t, total, got+int(q.Drops()))
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("drop-newest")
	require.NoError(t, err)
	assert.Equal(t, DropNewest, p)
	assert.Equal(t, "drop-newest", p.String())
	_, err = ParsePolicy("kick")
	assert.Error(t, err)
}
