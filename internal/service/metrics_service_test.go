package service

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsServiceExposesCacheHistograms(t *testing.T) {
	metrics := NewMetricsService()
	metrics.RecordCacheOperation(true, 2*time.Millisecond)
	metrics.RecordCacheOperation(false, 3*time.Millisecond)
	metrics.ObserveCacheWrite(time.Millisecond)

	w := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	assert.Contains(t, body, "cache_latency_seconds_count 2")
	assert.Contains(t, body, "cache_write_seconds_count 1")
	assert.Contains(t, body, "cache_hit_ratio 0.5")
}
