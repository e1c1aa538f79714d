package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/go-can-node/internal/metrics"
)

func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				logSnapshot(l, metrics.Snap())
			case <-ctx.Done():
				return
			}
		}
	}()
}

func logSnapshot(l *slog.Logger, snap metrics.Snapshot) {
	l.Info("metrics_snapshot",
		"rx", snap.RxFrames,
		"rx_filtered", snap.RxFiltered,
		"tx", snap.TxFrames,
		"tx_dropped", snap.TxDropped,
		"queue_drops", snap.QueueDrops,
		"malformed", snap.Malformed,
		"overruns", snap.Overruns,
		"restarts", snap.Restarts,
		"state_recoveries", snap.StateRecoveries,
		"errors", snap.Errors,
	)
}
