// Package metrics holds the prometheus collectors for request signing and
// verification. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const DefaultNamespace = "toshi_auth"

// Verification results used as the "result" label
const (
	ResultAccepted           = "accepted"
	ResultMissingHeader      = "missing_header"
	ResultMalformedSignature = "malformed_signature"
	ResultAddressMismatch    = "address_mismatch"
	ResultTimestampExpired   = "timestamp_expired"
	ResultReplayed           = "replayed"
	ResultError              = "error"
)

type Metrics struct {
	registry *prometheus.Registry

	signed        *prometheus.CounterVec
	signErrors    prometheus.Counter
	verifications *prometheus.CounterVec
	verifyLatency prometheus.Histogram
	retries       *prometheus.CounterVec
	httpRequests  *prometheus.CounterVec
	httpDurations *prometheus.HistogramVec
}

// New registers every collector on a private registry
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		signed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signed_requests_total",
			Help:      "Requests signed by this process.",
		}, []string{"method"}),
		signErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signing_errors_total",
			Help:      "Header generation failures.",
		}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verifications_total",
			Help:      "Signed request verifications by result.",
		}, []string{"result"}),
		verifyLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "verification_duration_seconds",
			Help:      "Time spent verifying a signed request.",
			Buckets:   prometheus.DefBuckets,
		}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "client_retries_total",
			Help:      "Signed client request retries.",
		}, []string{"host"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served.",
		}, []string{"route", "method", "status"}),
		httpDurations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of served HTTP requests in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
	m.registry.MustRegister(m.signed, m.signErrors, m.verifications, m.verifyLatency,
		m.retries, m.httpRequests, m.httpDurations)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the private registry in the prometheus text format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveSigned(method string) {
	if m == nil {
		return
	}
	m.signed.WithLabelValues(method).Inc()
}

func (m *Metrics) ObserveSignError() {
	if m == nil {
		return
	}
	m.signErrors.Inc()
}

func (m *Metrics) ObserveVerification(result string, took time.Duration) {
	if m == nil {
		return
	}
	m.verifications.WithLabelValues(result).Inc()
	m.verifyLatency.Observe(took.Seconds())
}

func (m *Metrics) ObserveRetry(host string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(host).Inc()
}

func (m *Metrics) ObserveHTTP(route, method string, status int, took time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, method, http.StatusText(status)).Inc()
	m.httpDurations.WithLabelValues(route, method).Observe(took.Seconds())
}
