package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNewMetrics(t *testing.T) {
	m := NewMetrics()

	if m.RequestTotal == nil {
		t.Error("RequestTotal should not be nil")
	}
	if m.BackendLatencyMs == nil {
		t.Error("BackendLatencyMs should not be nil")
	}
	if m.EndToEndLatencyMs == nil {
		t.Error("EndToEndLatencyMs should not be nil")
	}
	if m.CacheResultTotal == nil {
		t.Error("CacheResultTotal should not be nil")
	}
	if m.CoalescedTotal == nil {
		t.Error("CoalescedTotal should not be nil")
	}
	if m.ActivePipelines == nil {
		t.Error("ActivePipelines should not be nil")
	}
}

func TestRecordRequest(t *testing.T) {
	reg := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "test_gateway_requests_total",
		Help: "Test counter",
	}, []string{"model", "outcome"})

	tokensTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "test_gateway_tokens_total",
		Help: "Test counter",
	}, []string{"model", "direction"})

	endToEnd := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "test_gateway_request_duration_ms",
		Help:    "Test histogram",
		Buckets: []float64{100, 500, 1000},
	}, []string{"model", "cache_status"})

	backendMs := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "test_gateway_backend_latency_ms",
		Help:    "Test histogram",
		Buckets: []float64{100, 500, 1000},
	}, []string{"model"})

	cacheResult := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "test_gateway_cache_result_total",
		Help: "Test counter",
	}, []string{"result"})

	reg.MustRegister(requestTotal, tokensTotal, endToEnd, backendMs, cacheResult)

	m := &Metrics{
		RequestTotal:      requestTotal,
		TokensTotal:       tokensTotal,
		EndToEndLatencyMs: endToEnd,
		BackendLatencyMs:  backendMs,
		CacheResultTotal:  cacheResult,
	}

	m.RecordRequest(RequestLabels{
		Model:            "llama3",
		Outcome:          "success",
		CacheStatus:      "miss",
		DurationMs:       150,
		BackendMs:        120,
		PromptTokens:     100,
		CompletionTokens: 50,
	})

	counter, err := requestTotal.GetMetricWithLabelValues("llama3", "success")
	if err != nil {
		t.Fatalf("failed to get metric: %v", err)
	}
	var metric dto.Metric
	counter.Write(&metric)
	if *metric.Counter.Value != 1 {
		t.Errorf("expected request count 1, got %v", *metric.Counter.Value)
	}

	promptCounter, _ := tokensTotal.GetMetricWithLabelValues("llama3", "prompt")
	promptCounter.Write(&metric)
	if *metric.Counter.Value != 100 {
		t.Errorf("expected 100 prompt tokens, got %v", *metric.Counter.Value)
	}
}

func TestRecordCoalesced(t *testing.T) {
	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_coalesced",
		Help: "Test",
	})

	m := &Metrics{CoalescedTotal: counter}
	m.RecordCoalesced(49)

	var metric dto.Metric
	counter.Write(&metric)
	if *metric.Counter.Value != 49 {
		t.Errorf("expected coalesced count 49, got %v", *metric.Counter.Value)
	}
}

func TestRecordRateLimitRejection(t *testing.T) {
	counter := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "test_rate_limit_rejected",
		Help: "Test",
	}, []string{"key_prefix"})

	m := &Metrics{RateLimitRejected: counter}
	m.RecordRateLimitRejection("gw-prod-abcdefgh")

	c, _ := counter.GetMetricWithLabelValues("gw-prod-abcdefgh")
	var metric dto.Metric
	c.Write(&metric)
	if *metric.Counter.Value != 1 {
		t.Errorf("expected rejection count 1, got %v", *metric.Counter.Value)
	}
}
