package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Record(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.SyncRequest("save_course", true, 20*time.Millisecond)
	m.SyncRequest("save_course", false, time.Second)
	m.SyncRequest("save_course", false, time.Second)
	m.SyncRetry("save_progress")
	m.CacheLookup("courses", true)
	m.CacheLookup("courses", false)

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"success", testutil.ToFloat64(m.syncRequests.WithLabelValues("save_course", "success")), 1},
		{"failure", testutil.ToFloat64(m.syncRequests.WithLabelValues("save_course", "failure")), 2},
		{"retries", testutil.ToFloat64(m.syncRetries.WithLabelValues("save_progress")), 1},
		{"cache hit", testutil.ToFloat64(m.cacheLookups.WithLabelValues("courses", "hit")), 1},
		{"cache miss", testutil.ToFloat64(m.cacheLookups.WithLabelValues("courses", "miss")), 1},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.SyncRequest("save_course", true, time.Second)
	m.SyncRetry("save_course")
	m.CacheLookup("courses", true)
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.SyncRetry("save_course")

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `academy_sync_retries_total{action="save_course"} 1`) {
		t.Errorf("metrics output missing retry counter:\n%s", body)
	}
}
