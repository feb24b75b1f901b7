package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// Ensure the Prometheus-backed implementation does not panic and the global
// functions delegate correctly, and that the handler actually serves the
// registered series.
func TestPromMetricsAndDelegates(t *testing.T) {
	m := newPromMetrics()
	m.RecordCollectionAttempt("cma", "meteorology", "success")
	m.RecordCacheHit("cma", true)
	m.RecordCacheHit("cma", false)
	m.RecordSourceError("wu_api", "auth_failed")
	m.RecordBatchDuration("fast", 15*time.Millisecond)
	m.SetProcessedRegions(30)
	m.SetSelectedRegions(40)
	m.RecordRunOutcome("fast", "committed")

	h := m.Handler()
	if h == nil {
		t.Fatalf("Handler is nil")
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rw.Code)
	}
	body := rw.Body.String()
	for _, name := range []string{"hazardengine_collection_attempts_total", "hazardengine_run_processed_regions"} {
		if !strings.Contains(body, name) {
			t.Errorf("expected %s in output, got:\n%s", name, body)
		}
	}
}

func TestGlobalDelegates(t *testing.T) {
	Init()

	RecordCollectionAttempt("amap", "meteorology", "success")
	RecordCacheHit("amap", false)
	RecordSourceError("amap", "timeout")
	RecordBatchDuration("full", 2*time.Second)
	SetProcessedRegions(10)
	SetSelectedRegions(20)
	RecordRunOutcome("full", "committed")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rw := httptest.NewRecorder()
	Handler().ServeHTTP(rw, req)
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rw.Code)
	}
}
