package observability

import (
	"fmt"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type httpMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	httpMetricsOnce sync.Once
	httpRegistry    *httpMetrics

	ledgerMetricsOnce sync.Once
	ledgerRegistry    *LedgerMetrics
)

// HTTP returns the lazily-initialised registry recording API activity.
func HTTP() *httpMetrics {
	httpMetricsOnce.Do(func() {
		httpRegistry = &httpMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "questreward",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total API requests segmented by route and outcome.",
			}, []string{"route", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "questreward",
				Subsystem: "http",
				Name:      "errors_total",
				Help:      "Total API errors segmented by route and status code.",
			}, []string{"route", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "questreward",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "questreward",
				Subsystem: "http",
				Name:      "throttles_total",
				Help:      "Count of API requests rejected by the rate limiter.",
			}, []string{"reason"}),
		}
		prometheus.MustRegister(
			httpRegistry.requests,
			httpRegistry.errors,
			httpRegistry.latency,
			httpRegistry.throttles,
		)
	})
	return httpRegistry
}

// Observe records the outcome of a request. The status code should be the
// HTTP status that was ultimately written to the response writer.
func (m *httpMetrics) Observe(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(route, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(route, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(route, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter. Reasons should be stable
// strings such as "rate_limit".
func (m *httpMetrics) RecordThrottle(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(reason).Inc()
}

// LedgerMetrics wraps collectors tracking the settlement engine.
type LedgerMetrics struct {
	operations     *prometheus.CounterVec
	latency        *prometheus.HistogramVec
	pool           *prometheus.GaugeVec
	commitFailures *prometheus.CounterVec
	pauseEngaged   prometheus.Gauge
}

// Ledger exposes the metrics registry for the settlement engine. It satisfies
// questreward.Metrics.
func Ledger() *LedgerMetrics {
	ledgerMetricsOnce.Do(func() {
		ledgerRegistry = &LedgerMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "questreward",
				Subsystem: "ledger",
				Name:      "operations_total",
				Help:      "Count of ledger operations segmented by operation and outcome kind.",
			}, []string{"op", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "questreward",
				Subsystem: "ledger",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for ledger operations including asset transfers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"op"}),
			pool: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "questreward",
				Subsystem: "ledger",
				Name:      "campaign_pool",
				Help:      "Recorded pool balance per campaign in base units.",
			}, []string{"campaign"}),
			commitFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "questreward",
				Subsystem: "ledger",
				Name:      "commit_failures_total",
				Help:      "Count of state commits that failed after the asset transfer completed.",
			}, []string{"op"}),
			pauseEngaged: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "questreward",
				Subsystem: "ledger",
				Name:      "pause_engaged",
				Help:      "Indicates whether the ledger pause guard is active (1) or not (0).",
			}),
		}
		prometheus.MustRegister(
			ledgerRegistry.operations,
			ledgerRegistry.latency,
			ledgerRegistry.pool,
			ledgerRegistry.commitFailures,
			ledgerRegistry.pauseEngaged,
		)
	})
	return ledgerRegistry
}

// ObserveOperation records an operation outcome and its latency.
func (m *LedgerMetrics) ObserveOperation(op, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	op = labelOrDefault(op, "unknown")
	m.operations.WithLabelValues(op, labelOrDefault(outcome, "unspecified")).Inc()
	m.latency.WithLabelValues(op).Observe(elapsed.Seconds())
}

// SetPool updates the pool gauge of a campaign.
func (m *LedgerMetrics) SetPool(campaign string, pool *big.Int) {
	if m == nil {
		return
	}
	m.pool.WithLabelValues(campaign).Set(bigToFloat(pool))
}

// RecordCommitFailure counts a failed commit for op.
func (m *LedgerMetrics) RecordCommitFailure(op string) {
	if m == nil {
		return
	}
	m.commitFailures.WithLabelValues(labelOrDefault(op, "unknown")).Inc()
}

// SetPause toggles the pause_engaged gauge.
func (m *LedgerMetrics) SetPause(engaged bool) {
	if m == nil {
		return
	}
	if engaged {
		m.pauseEngaged.Set(1)
		return
	}
	m.pauseEngaged.Set(0)
}

func labelOrDefault(value, fallback string) string {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed
	}
	return fallback
}

func bigToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	floatVal, acc := new(big.Float).SetInt(value).Float64()
	if acc != big.Exact {
		// Guard against NaN/Inf when conversion fails.
		if math.IsNaN(floatVal) || math.IsInf(floatVal, 0) {
			return 0
		}
	}
	return floatVal
}
