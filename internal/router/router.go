package router

import (
	"sort"
	"sync"

	"github.com/kstaniek/go-can-node/internal/can"
	"github.com/kstaniek/go-can-node/internal/logging"
	"github.com/kstaniek/go-can-node/internal/metrics"
	"github.com/kstaniek/go-can-node/internal/queue"
)

// Filter decides whether a frame is of interest to a subscriber.
type Filter func(can.Frame) bool

// ByIDs matches any of the given identifiers.
func ByIDs(ids ...uint32) Filter {
	m := make(map[uint32]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	return func(f can.Frame) bool {
		_, ok := m[f.ID]
		return ok
	}
}

// All matches every frame.
func All() Filter { return func(can.Frame) bool { return true } }

type subscription struct {
	filter Filter
	ids    []uint32 // nil means "all"
	q      *queue.Queue
}

// Router fans inbound frames out to subscriber queues. Frames no subscriber
// wants are ignored silently (only counted).
type Router struct {
	mu   sync.RWMutex
	subs []*subscription
}

// New creates an empty Router.
func New() *Router { return &Router{} }

// Subscribe routes frames with the given ids to q. No ids subscribes to everything.
func (r *Router) Subscribe(q *queue.Queue, ids ...uint32) {
	s := &subscription{q: q}
	if len(ids) == 0 {
		s.filter = All()
	} else {
		s.ids = append([]uint32(nil), ids...)
		s.filter = ByIDs(ids...)
	}
	r.mu.Lock()
	r.subs = append(r.subs, s)
	n := len(r.subs)
	r.mu.Unlock()
	logging.L().Debug("router_subscribe", "queue", q.Name(), "ids", len(ids), "subscribers", n)
}

// Route delivers fr to every matching subscriber and reports whether any matched.
// Overflow is handled by each queue's policy; Route never blocks.
func (r *Router) Route(fr can.Frame) bool {
	r.mu.RLock()
	subs := r.subs
	r.mu.RUnlock()
	matched := false
	for _, s := range subs {
		if !s.filter(fr) {
			continue
		}
		matched = true
		_ = s.q.Push(fr)
		metrics.SetQueueDepth(s.q.Name(), s.q.Len())
	}
	if !matched {
		metrics.IncFiltered()
	}
	return matched
}

// IDs returns the sorted union of subscribed identifiers, or nil when any
// subscriber accepts every frame (no hardware filtering possible).
func (r *Router) IDs() []uint32 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := map[uint32]struct{}{}
	for _, s := range r.subs {
		if s.ids == nil {
			return nil
		}
		for _, id := range s.ids {
			set[id] = struct{}{}
		}
	}
	if len(set) == 0 {
		return nil
	}
	out := make([]uint32, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Count returns the number of subscribers.
func (r *Router) Count() int { r.mu.RLock(); n := len(r.subs); r.mu.RUnlock(); return n }
