package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecordingAndHandler(t *testing.T) {
	m := NewMetrics("test")

	m.RecordSyncRun("vendor", "full", "completed", 3*time.Second)
	m.RecordMerged("vendor", 250)
	m.RecordFetchFailures("vendor", 2)
	m.RecordRemoteRequest("get", 200, 40*time.Millisecond)
	m.RecordRetry("throttled")
	m.RecordTokenRefresh(true)
	m.RecordCacheLookup(false)
	m.RecordHTTPRequest("/api/v1/health", "GET", 200)

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, req)

	require.Equal(t, 200, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `test_sync_runs_total{entity="vendor",status="completed"} 1`)
	assert.Contains(t, body, `test_records_merged_total{entity="vendor"} 250`)
	assert.Contains(t, body, `test_remote_requests_total{endpoint="get",status="2xx"} 1`)
	assert.Contains(t, body, `test_token_refreshes_total{result="success"} 1`)

	_, err := m.registry.Gather()
	require.NoError(t, err)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.RecordSyncRun("vendor", "full", "failed", time.Second)
		m.RecordMerged("vendor", 1)
		m.RecordRemoteRequest("list", 429, time.Millisecond)
		m.RecordRetry("transient")
		m.RecordTokenRefresh(false)
		m.RecordCacheLookup(true)
	})

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 404, w.Code)
}

func TestStatusClass(t *testing.T) {
	assert.Equal(t, "2xx", StatusClass(204))
	assert.Equal(t, "4xx", StatusClass(429))
	assert.Equal(t, "5xx", StatusClass(503))
	assert.Equal(t, "error", StatusClass(0))
}
