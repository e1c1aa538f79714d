package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/kstaniek/go-can-node/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus collectors
var (
	CANRxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "can_rx_frames_total",
		Help: "Total CAN frames received from the controller.",
	})
	CANRxFiltered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "can_rx_filtered_total",
		Help: "Total received CAN frames ignored because no subscriber matched their id.",
	})
	CANTxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "can_tx_frames_total",
		Help: "Total CAN frames handed to the controller successfully.",
	})
	CANTxDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "can_tx_dropped_total",
		Help: "Outbound CAN frames dropped by the controller, by reason.",
	}, []string{"reason"})
	QueueDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_dropped_frames_total",
		Help: "Frames dropped on bounded queue overflow, by queue.",
	}, []string{"queue"})
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "queue_depth",
		Help: "Frames queued at the last sample, by queue.",
	}, []string{"queue"})
	MalformedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "malformed_frames_total",
		Help: "Total rejected malformed frames (undersized payload, bad tag, adapter garbage).",
	})
	CycleBudget = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "loop_cycle_budget_percent",
		Help: "Elapsed time of the last iteration as a percentage of the loop period.",
	}, []string{"loop"})
	CycleSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "loop_cycle_seconds",
		Help:    "Busy time per loop iteration (excluding sleep).",
		Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5},
	}, []string{"loop"})
	LoopOverruns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loop_overruns_total",
		Help: "Iterations that used the whole period or more.",
	}, []string{"loop"})
	LoopRestarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loop_restarts_total",
		Help: "Loops restarted by the supervisor after a panic.",
	}, []string{"loop"})
	StateRecoveries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "state_recoveries_total",
		Help: "Shared state updates rolled back after a panic inside the critical section.",
	})
	StaleStores = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "state_stale_stores",
		Help: "Shared state stores currently holding a rolled-back value.",
	})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date", "role"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})
	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality)
const (
	ErrCANRead  = "can_read"
	ErrCANWrite = "can_write"
	ErrEnqueue  = "enqueue"
	ErrDecode   = "decode"
	ErrSensor   = "sensor"
	ErrActuator = "actuator"
)

// Transmit drop reasons.
const (
	DropTxFull  = "tx_full"
	DropBusBusy = "bus_busy"
	DropOther   = "other"
)

// Handler serves Prometheus metrics at /metrics and readiness at /ready.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})
	return mux
}

// StartHTTP serves Handler on addr in the background.
func StartHTTP(addr string) *http.Server {
	srv := &http.Server{
		Addr:    addr,
		Handler: Handler(),
	}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters for easy logging (avoid Prometheus scraping in-process)
var (
	localRx         uint64
	localFiltered   uint64
	localTx         uint64
	localTxDropped  uint64
	localQueueDrops uint64
	localMalformed  uint64
	localOverruns   uint64
	localRestarts   uint64
	localRecoveries uint64
	localErrors     uint64
	localStale      int64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	RxFrames        uint64
	RxFiltered      uint64
	TxFrames        uint64
	TxDropped       uint64
	QueueDrops      uint64
	Malformed       uint64
	Overruns        uint64
	Restarts        uint64
	StateRecoveries uint64
	Errors          uint64 // sum across error labels
	StaleStores     int64
}

func Snap() Snapshot {
	return Snapshot{
		RxFrames:        atomic.LoadUint64(&localRx),
		RxFiltered:      atomic.LoadUint64(&localFiltered),
		TxFrames:        atomic.LoadUint64(&localTx),
		TxDropped:       atomic.LoadUint64(&localTxDropped),
		QueueDrops:      atomic.LoadUint64(&localQueueDrops),
		Malformed:       atomic.LoadUint64(&localMalformed),
		Overruns:        atomic.LoadUint64(&localOverruns),
		Restarts:        atomic.LoadUint64(&localRestarts),
		StateRecoveries: atomic.LoadUint64(&localRecoveries),
		Errors:          atomic.LoadUint64(&localErrors),
		StaleStores:     atomic.LoadInt64(&localStale),
	}
}

func IncRx() {
	CANRxFrames.Inc()
	atomic.AddUint64(&localRx, 1)
}

func IncFiltered() {
	CANRxFiltered.Inc()
	atomic.AddUint64(&localFiltered, 1)
}

func IncTx() {
	CANTxFrames.Inc()
	atomic.AddUint64(&localTx, 1)
}

// IncTxDropped counts a frame the controller refused; reason is one of the Drop* constants.
func IncTxDropped(reason string) {
	CANTxDropped.WithLabelValues(reason).Inc()
	atomic.AddUint64(&localTxDropped, 1)
}

func IncQueueDrop(queue string) {
	QueueDropped.WithLabelValues(queue).Inc()
	atomic.AddUint64(&localQueueDrops, 1)
}

func SetQueueDepth(queue string, n int) { QueueDepth.WithLabelValues(queue).Set(float64(n)) }

func IncMalformed() {
	MalformedFrames.Inc()
	atomic.AddUint64(&localMalformed, 1)
}

// ObserveCycle records one loop iteration.
func ObserveCycle(loop string, seconds float64, pct int) {
	CycleSeconds.WithLabelValues(loop).Observe(seconds)
	CycleBudget.WithLabelValues(loop).Set(float64(pct))
	if pct >= 100 {
		LoopOverruns.WithLabelValues(loop).Inc()
		atomic.AddUint64(&localOverruns, 1)
	}
}

func IncRestart(loop string) {
	LoopRestarts.WithLabelValues(loop).Inc()
	atomic.AddUint64(&localRestarts, 1)
}

func IncStateRecovery() {
	StateRecoveries.Inc()
	atomic.AddUint64(&localRecoveries, 1)
}

// SetStateStale records one store entering (true) or leaving (false) the
// stale state.
func SetStateStale(stale bool) {
	if stale {
		StaleStores.Inc()
		atomic.AddInt64(&localStale, 1)
		return
	}
	StaleStores.Dec()
	atomic.AddInt64(&localStale, -1)
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

// InitBuildInfo sets the build info gauge (should be called once at startup).
func InitBuildInfo(version, commit, date, role string) {
	BuildInfo.WithLabelValues(version, commit, date, role).Set(1)
	// Pre-register common error label series so first error does not log a registration latency.
	for _, lbl := range []string{ErrCANRead, ErrCANWrite, ErrEnqueue, ErrDecode, ErrSensor, ErrActuator} {
		Errors.WithLabelValues(lbl).Add(0)
	}
	for _, r := range []string{DropTxFull, DropBusBusy, DropOther} {
		CANTxDropped.WithLabelValues(r).Add(0)
	}
}

// SetReadinessFunc registers a function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil { // if not set yet, treat as ready so metrics endpoint doesn't flap
		return true
	}
	return fn()
}
