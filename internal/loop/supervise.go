package loop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/kstaniek/go-can-node/internal/logging"
	"github.com/kstaniek/go-can-node/internal/metrics"
)

const (
	restartBackoffMin = 20 * time.Millisecond
	restartBackoffMax = time.Second
	// a run that lasted this long resets the backoff
	restartStableAfter = 5 * time.Second
)

// ErrPanic wraps a recovered panic value.
var ErrPanic = errors.New("loop: panic")

// Runner is anything with a blocking Run method, typically a *Loop.
type Runner interface {
	Run(ctx context.Context) error
}

// sleepFn allows tests to intercept restart backoff sleeps.
var sleepFn = SleepContext

// Supervise runs the Runner built by factory until ctx is done. When the
// runner panics or returns early it is discarded and a fresh one is built, so
// the restarted loop starts from freshly initialized local state.
func Supervise(ctx context.Context, name string, l *slog.Logger, factory func() Runner) error {
	log := logging.Or(l).With("loop", name)
	backoff := restartBackoffMin
	for {
		start := time.Now()
		err := runProtected(ctx, factory())
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if time.Since(start) >= restartStableAfter {
			backoff = restartBackoffMin
		}
		metrics.IncRestart(name)
		log.Error("loop_restart", "error", err, "backoff", backoff)
		sleepFn(ctx, backoff)
		backoff *= 2
		if backoff > restartBackoffMax {
			backoff = restartBackoffMax
		}
	}
}

func runProtected(ctx context.Context, r Runner) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("%w: %v\n%s", ErrPanic, v, debug.Stack())
		}
	}()
	if err := r.Run(ctx); err != nil {
		return err
	}
	return errors.New("loop: returned")
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context) error

func (f RunnerFunc) Run(ctx context.Context) error { return f(ctx) }
