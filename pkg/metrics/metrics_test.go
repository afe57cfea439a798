package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New("")

	m.ObserveSigned(http.MethodGet)
	m.ObserveSigned(http.MethodGet)
	m.ObserveSigned(http.MethodPost)
	m.ObserveSignError()
	m.ObserveVerification(ResultAccepted, time.Millisecond)
	m.ObserveVerification(ResultReplayed, time.Millisecond)
	m.ObserveRetry("ethereum.service.toshi.org")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.signed.WithLabelValues(http.MethodGet)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.signed.WithLabelValues(http.MethodPost)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.signErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.verifications.WithLabelValues(ResultReplayed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.retries.WithLabelValues("ethereum.service.toshi.org")))
}

func TestMetrics_Handler(t *testing.T) {
	m := New("test")
	m.ObserveHTTP("/v1/user", http.MethodGet, http.StatusOK, 5*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `test_http_requests_total{method="GET",route="/v1/user",status="OK"} 1`)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveSigned(http.MethodGet)
		m.ObserveSignError()
		m.ObserveVerification(ResultAccepted, time.Second)
		m.ObserveRetry("host")
		m.ObserveHTTP("/", http.MethodGet, http.StatusOK, time.Second)
	})
	assert.Nil(t, m.Registry())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
