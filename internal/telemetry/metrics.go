package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics emitted by the gateway, per
// spec.md §4.I's required counter/histogram set. Names mirror the
// original Python service's llm_gateway_* families under a gateway_
// prefix.
type Metrics struct {
	RequestTotal       *prometheus.CounterVec
	BackendLatencyMs   *prometheus.HistogramVec
	EndToEndLatencyMs  *prometheus.HistogramVec
	CacheResultTotal   *prometheus.CounterVec
	CoalescedTotal     prometheus.Counter
	RateLimitRejected  *prometheus.CounterVec
	RetryTotal         *prometheus.CounterVec
	BackendStatusTotal *prometheus.CounterVec
	TokensTotal        *prometheus.CounterVec
	ActivePipelines    prometheus.Gauge
	BatchRequestTotal  prometheus.Counter
	BatchSize          prometheus.Histogram
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		RequestTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Total number of generation requests received, by model and outcome.",
		}, []string{"model", "outcome"}),

		BackendLatencyMs: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_backend_latency_ms",
			Help:    "Latency of individual backend calls in milliseconds.",
			Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 15000, 30000},
		}, []string{"model"}),

		EndToEndLatencyMs: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_request_duration_ms",
			Help:    "End-to-end request latency in milliseconds.",
			Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 15000, 30000, 60000},
		}, []string{"model", "cache_status"}),

		CacheResultTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_cache_result_total",
			Help: "Cache lookups by result: hit, miss, refresh, bypass.",
		}, []string{"result"}),

		CoalescedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gateway_singleflight_coalesced_total",
			Help: "Requests that joined an in-flight single-flight computation rather than triggering a backend call.",
		}),

		RateLimitRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_rate_limit_rejected_total",
			Help: "Requests rejected by the per-key token bucket.",
		}, []string{"key_prefix"}),

		RetryTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_backend_retry_total",
			Help: "Backend retry attempts, by cause.",
		}, []string{"cause"}),

		BackendStatusTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_backend_status_total",
			Help: "Backend HTTP responses, by status class.",
		}, []string{"status_class"}),

		TokensTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_tokens_total",
			Help: "Prompt and completion tokens processed, by model and direction.",
		}, []string{"model", "direction"}),

		ActivePipelines: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_active_pipelines",
			Help: "Number of pipeline invocations currently in flight.",
		}),

		BatchRequestTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gateway_batch_requests_total",
			Help: "Total number of batch generation calls.",
		}),

		BatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "gateway_batch_size",
			Help:    "Number of requests per batch call.",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100},
		}),
	}
}

// RequestLabels holds the label values for recording a completed request.
type RequestLabels struct {
	Model            string
	Outcome          string
	CacheStatus      string
	DurationMs       float64
	BackendMs        float64
	PromptTokens     int
	CompletionTokens int
}

// RecordRequest records the aggregate metrics for one completed pipeline
// invocation.
func (m *Metrics) RecordRequest(labels RequestLabels) {
	m.RequestTotal.WithLabelValues(labels.Model, labels.Outcome).Inc()
	m.EndToEndLatencyMs.WithLabelValues(labels.Model, labels.CacheStatus).Observe(labels.DurationMs)

	if labels.BackendMs > 0 {
		m.BackendLatencyMs.WithLabelValues(labels.Model).Observe(labels.BackendMs)
	}

	if labels.PromptTokens > 0 {
		m.TokensTotal.WithLabelValues(labels.Model, "prompt").Add(float64(labels.PromptTokens))
	}
	if labels.CompletionTokens > 0 {
		m.TokensTotal.WithLabelValues(labels.Model, "completion").Add(float64(labels.CompletionTokens))
	}

	m.CacheResultTotal.WithLabelValues(labels.CacheStatus).Inc()
}

// RecordCoalesced increments the single-flight coalescing counter by the
// number of waiters (N-1 callers) that received a shared result.
func (m *Metrics) RecordCoalesced(n int) {
	if n > 0 {
		m.CoalescedTotal.Add(float64(n))
	}
}

// RecordRateLimitRejection records a token-bucket rejection for a key.
func (m *Metrics) RecordRateLimitRejection(keyPrefix string) {
	m.RateLimitRejected.WithLabelValues(keyPrefix).Inc()
}

// RecordRetry records a backend retry attempt by cause (e.g. "timeout",
// "5xx", "429").
func (m *Metrics) RecordRetry(cause string) {
	m.RetryTotal.WithLabelValues(cause).Inc()
}

// RecordBackendStatus records a backend HTTP response by status class
// (e.g. "2xx", "4xx", "5xx").
func (m *Metrics) RecordBackendStatus(statusClass string) {
	m.BackendStatusTotal.WithLabelValues(statusClass).Inc()
}

// RecordBatch records one batch call's size.
func (m *Metrics) RecordBatch(size int) {
	m.BatchRequestTotal.Inc()
	m.BatchSize.Observe(float64(size))
}
