// Package metrics holds the Prometheus collectors shared by the client packages.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Token cache lookup results.
const (
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheError = "error"
)

type Metrics struct {
	HTTPRequests   *prometheus.CounterVec
	HTTPLatency    *prometheus.HistogramVec
	Retries        *prometheus.CounterVec
	TokenCache     *prometheus.CounterVec
	Operations     *prometheus.CounterVec
	SandboxHandled *prometheus.CounterVec
}

// New registers the collectors on reg. A nil reg gets a private registry so
// several clients can live in one process.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bankclient_http_requests_total",
			Help: "HTTP attempts issued to the banking API, labeled by status code",
		}, []string{"method", "endpoint", "status"}),

		HTTPLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bankclient_http_request_duration_seconds",
			Help:    "Latency of single HTTP attempts",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"method", "endpoint"}),

		Retries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bankclient_retries_total",
			Help: "Backoff waits taken before re-issuing a request",
		}, []string{"endpoint"}),

		TokenCache: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bankclient_token_cache_total",
			Help: "Token cache lookups by result",
		}, []string{"result"}),

		Operations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bankclient_operations_total",
			Help: "Client operations by outcome",
		}, []string{"operation", "outcome"}),

		SandboxHandled: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sandbox_http_requests_total",
			Help: "Requests served by the sandbox bank",
		}, []string{"method", "endpoint", "status"}),
	}
}
