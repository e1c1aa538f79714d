// Package state holds the node's cross-goroutine state behind one mutex.
//
// Readers take a full copy under a single lock acquisition so multi-field
// reads are never torn. Writers mutate through Update; a panic inside the
// critical section rolls the value back to what it was before the update,
// marks the store stale and releases the lock, so one broken writer neither
// freezes the node nor leaves a half-written value behind.
package state

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/go-can-node/internal/logging"
	"github.com/kstaniek/go-can-node/internal/metrics"
)

// ErrPanicked is returned by Update when the mutation panicked and was rolled back.
var ErrPanicked = errors.New("state: update panicked")

// Health reports whether the stored value can be trusted.
type Health struct {
	Stale  bool
	Reason string
	Since  time.Time
}

// Store guards a value of type T. T should be a plain struct of scalars so
// that assignment is a complete copy.
type Store[T any] struct {
	mu     sync.Mutex
	v      T
	health Health
	log    *slog.Logger
}

// New returns a Store holding initial.
func New[T any](initial T, l *slog.Logger) *Store[T] {
	return &Store[T]{v: initial, log: logging.Or(l)}
}

// Snapshot returns a copy of the value and its health.
func (s *Store[T]) Snapshot() (T, Health) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v, s.health
}

// Get returns a copy of the value.
func (s *Store[T]) Get() T {
	v, _ := s.Snapshot()
	return v
}

// View calls fn with the value under the lock. fn must not retain the pointer.
func (s *Store[T]) View(fn func(*T)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.v)
}

// Update applies fn to the value under the lock and returns the resulting copy.
func (s *Store[T]) Update(fn func(*T)) (out T, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := s.v
	defer func() {
		if r := recover(); r != nil {
			s.v = before
			if !s.health.Stale {
				s.health = Health{Stale: true, Since: time.Now()}
				metrics.SetStateStale(true)
			}
			s.health.Reason = fmt.Sprint(r)
			metrics.IncStateRecovery()
			s.log.Error("state_update_panic", "panic", r)
			out, err = s.v, fmt.Errorf("%w: %v", ErrPanicked, r)
		}
	}()
	fn(&s.v)
	if s.health.Stale {
		s.log.Info("state_recovered", "stale_for", time.Since(s.health.Since))
		s.health = Health{}
		metrics.SetStateStale(false)
	}
	return s.v, nil
}

// Health returns the current health.
func (s *Store[T]) Health() Health {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.health
}
