// Package loop runs fixed-period control loops with cycle-budget accounting.
//
// An iteration records its start, runs the step, derives the elapsed time as a
// percentage of the period and then sleeps whatever is left of the period. A
// step that overruns its period is logged and counted; the next iteration
// starts immediately, there is no catch-up and nothing is skipped.
package loop

import (
	"context"
	"log/slog"
	"time"

	"github.com/kstaniek/go-can-node/internal/logging"
	"github.com/kstaniek/go-can-node/internal/metrics"
)

// StepFunc is one iteration's work. It must not block beyond the period.
type StepFunc func(ctx context.Context)

// Budget is the accounting of one iteration.
type Budget struct {
	Elapsed time.Duration
	Percent int
}

// Overrun reports whether the iteration used the whole period or more.
func (b Budget) Overrun() bool { return b.Percent >= 100 }

// Percent returns floor(100*elapsed/period). A non-positive period yields 0.
func Percent(elapsed, period time.Duration) int {
	if period <= 0 || elapsed <= 0 {
		return 0
	}
	return int(100 * elapsed / period)
}

// Loop is a fixed-period cyclic task.
type Loop struct {
	Name   string
	Period time.Duration
	Step   StepFunc
	// OnBudget receives each iteration's accounting, typically to store the
	// percentage in shared state for a later diagnostic frame.
	OnBudget func(Budget)
	Logger   *slog.Logger

	// Test seams; nil means wall clock.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration)
}

func (l *Loop) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

func (l *Loop) sleep(ctx context.Context, d time.Duration) {
	if l.Sleep != nil {
		l.Sleep(ctx, d)
		return
	}
	SleepContext(ctx, d)
}

// RunOnce executes a single iteration without the trailing sleep.
func (l *Loop) RunOnce(ctx context.Context) Budget {
	start := l.now()
	if l.Step != nil {
		l.Step(ctx)
	}
	elapsed := l.now().Sub(start)
	b := Budget{Elapsed: elapsed, Percent: Percent(elapsed, l.Period)}
	metrics.ObserveCycle(l.Name, elapsed.Seconds(), b.Percent)
	if b.Overrun() {
		logging.Or(l.Logger).Warn("loop_overrun", "loop", l.Name, "elapsed", elapsed, "period", l.Period, "pct", b.Percent)
	}
	if l.OnBudget != nil {
		l.OnBudget(b)
	}
	return b
}

// Run iterates until ctx is cancelled. On the target the context is never
// cancelled and Run does not return.
func (l *Loop) Run(ctx context.Context) error {
	log := logging.Or(l.Logger)
	log.Info("loop_start", "loop", l.Name, "period", l.Period)
	defer log.Info("loop_end", "loop", l.Name)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		b := l.RunOnce(ctx)
		if remaining := l.Period - b.Elapsed; remaining > 0 {
			l.sleep(ctx, remaining)
		}
	}
}

// SleepContext sleeps for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
