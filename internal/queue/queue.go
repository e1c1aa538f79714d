package queue

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/kstaniek/go-can-node/internal/can"
)

// Policy selects which frame is lost when a full queue receives a push.
type Policy int

const (
	// DropOldest evicts the oldest queued frame so the newest always gets in.
	// Suits sensor streams where only the latest value matters.
	DropOldest Policy = iota
	// DropNewest rejects the incoming frame and keeps what is queued.
	DropNewest
)

func (p Policy) String() string {
	switch p {
	case DropOldest:
		return "drop-oldest"
	case DropNewest:
		return "drop-newest"
	default:
		return "unknown"
	}
}

// ParsePolicy maps drop-oldest|drop-newest to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "drop-oldest":
		return DropOldest, nil
	case "drop-newest":
		return DropNewest, nil
	default:
		return DropOldest, errors.New("queue: unknown policy " + s)
	}
}

var (
	// ErrDropped reports that a push lost a frame (which one depends on the policy).
	ErrDropped = errors.New("queue: frame dropped, queue full")
	ErrClosed  = errors.New("queue: closed")
)

// Hooks customize Queue behavior.
type Hooks struct {
	// OnDrop is called with the frame that was lost on overflow.
	OnDrop func(lost can.Frame)
}

// Queue is a fixed-capacity FIFO of frames. Push never blocks; pops are
// non-blocking. It is safe for one producer and one consumer running
// concurrently (more producers are safe too, with eviction order best-effort).
type Queue struct {
	name   string
	ch     chan can.Frame
	policy Policy
	hooks  Hooks
	mu     sync.Mutex // serializes producers so eviction+insert is atomic w.r.t. other pushes
	closed atomic.Bool
	drops  atomic.Uint64
}

// New creates a queue of capacity size (minimum 1).
func New(name string, size int, policy Policy, hooks Hooks) *Queue {
	if size < 1 {
		size = 1
	}
	return &Queue{name: name, ch: make(chan can.Frame, size), policy: policy, hooks: hooks}
}

// Name returns the queue label used in logs and metrics.
func (q *Queue) Name() string { return q.name }

// Push enqueues fr. On overflow it applies the policy and returns ErrDropped.
func (q *Queue) Push(fr can.Frame) error {
	if q.closed.Load() {
		return ErrClosed
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	select {
	case q.ch <- fr:
		return nil
	default:
	}
	if q.policy == DropNewest {
		q.dropped(fr)
		return ErrDropped
	}
	// Evict the oldest; the consumer may have made room meanwhile, in which
	// case nothing is lost.
	for {
		select {
		case old := <-q.ch:
			q.dropped(old)
			select {
			case q.ch <- fr:
				return ErrDropped
			default:
			}
		case q.ch <- fr:
			return nil
		}
	}
}

func (q *Queue) dropped(fr can.Frame) {
	q.drops.Add(1)
	if q.hooks.OnDrop != nil {
		q.hooks.OnDrop(fr)
	}
}

// TryPop returns the oldest frame, or false when empty.
func (q *Queue) TryPop() (can.Frame, bool) {
	select {
	case fr := <-q.ch:
		return fr, true
	default:
		return can.Frame{}, false
	}
}

// Drain pops every frame currently queued, calling fn for each in FIFO order.
// It returns the number of frames handed to fn.
func (q *Queue) Drain(fn func(can.Frame)) int {
	n := 0
	for {
		fr, ok := q.TryPop()
		if !ok {
			return n
		}
		fn(fr)
		n++
	}
}

func (q *Queue) Len() int       { return len(q.ch) }
func (q *Queue) Cap() int       { return cap(q.ch) }
func (q *Queue) Drops() uint64  { return q.drops.Load() }
func (q *Queue) Policy() Policy { return q.policy }

// Close rejects further pushes. Queued frames stay poppable.
func (q *Queue) Close() { q.closed.Store(true) }
