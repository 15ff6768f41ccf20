package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics

	m.ObserveObjectOperation("write", time.Millisecond, nil)
	m.SetIndexPaths(3)
	m.ObserveSync(nil)
	m.ObserveMerge(1, 2, 3)
	m.ObserveWatcherEvent("create")
	m.ObserveWatcherDrop()

	if m.Registry() != nil {
		t.Error("nil metrics should have no registry")
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.ObserveObjectOperation("write", time.Millisecond, nil)
	m.ObserveObjectOperation("write", time.Millisecond, errors.New("boom"))
	m.ObserveMerge(2, 1, 0)
	m.ObserveWatcherDrop()
	m.SetIndexPaths(7)

	if got := testutil.ToFloat64(m.objectOperations.WithLabelValues("write", "success")); got != 1 {
		t.Errorf("write success = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.objectOperations.WithLabelValues("write", "error")); got != 1 {
		t.Errorf("write error = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.mergeResults.WithLabelValues("changed")); got != 2 {
		t.Errorf("changed = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.watcherDropped); got != 1 {
		t.Errorf("dropped = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.indexPaths); got != 7 {
		t.Errorf("index paths = %v, want 7", got)
	}
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.SetIndexPaths(1)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "versync_index_paths 1") {
		t.Errorf("body missing versync_index_paths:\n%s", rec.Body.String())
	}
}
