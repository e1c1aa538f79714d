package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestIncMirrorsLocalCounters(t *testing.T) {
	before := Snap()
	IncRx()
	IncTxDropped(DropTxFull)
	IncQueueDrop("brake")
	ObserveCycle("abs", 0.3, 120)
	IncError(ErrSensor)
	after := Snap()

	if after.RxFrames != before.RxFrames+1 || after.TxDropped != before.TxDropped+1 {
		t.Fatalf("rx/tx mirror: %+v -> %+v", before, after)
	}
	if after.QueueDrops != before.QueueDrops+1 || after.Overruns != before.Overruns+1 {
		t.Fatalf("drop/overrun mirror: %+v -> %+v", before, after)
	}
	if after.Errors != before.Errors+1 {
		t.Fatalf("errors mirror: %+v -> %+v", before, after)
	}
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), `loop_cycle_budget_percent{loop="abs"} 120`) {
		t.Fatalf("budget gauge missing")
	}
}

func TestReadyEndpoint(t *testing.T) {
	defer SetReadinessFunc(nil)
	h := Handler()

	SetReadinessFunc(func() bool { return false })
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("not ready: code %d", rec.Code)
	}

	SetReadinessFunc(func() bool { return true })
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("ready: code %d", rec.Code)
	}
}

func TestMetricsEndpointExposesBuildInfo(t *testing.T) {
	InitBuildInfo("1.0.0", "abc", "today", "dashboard")
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	if !strings.Contains(body, `role="dashboard"`) {
		t.Fatalf("build info missing from /metrics")
	}
	if !strings.Contains(body, `errors_total{where="sensor"}`) {
		t.Fatalf("pre-registered error series missing")
	}
}
