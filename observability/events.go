package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type eventMetrics struct {
	emitted        *prometheus.CounterVec
	dropped        prometheus.Counter
	webhookDropped *prometheus.CounterVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry tracking ledger events.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			emitted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "questreward",
				Subsystem: "events",
				Name:      "emitted_total",
				Help:      "Count of ledger events segmented by type.",
			}, []string{"type"}),
			dropped: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "questreward",
				Subsystem: "events",
				Name:      "audit_dropped_total",
				Help:      "Count of events the audit sink failed to persist.",
			}),
			webhookDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "questreward",
				Subsystem: "events",
				Name:      "webhook_dropped_total",
				Help:      "Count of events the webhook dispatcher never delivered, by reason.",
			}, []string{"reason"}),
		}
		prometheus.MustRegister(eventRegistry.emitted, eventRegistry.dropped, eventRegistry.webhookDropped)
	})
	return eventRegistry
}

// RecordEvent increments the counter for the supplied event type.
func (m *eventMetrics) RecordEvent(eventType string) {
	if m == nil {
		return
	}
	normalized := strings.TrimSpace(strings.ToLower(eventType))
	if normalized == "" {
		normalized = "unknown"
	}
	m.emitted.WithLabelValues(normalized).Inc()
}

// RecordAuditDrop counts an event lost by the audit sink.
func (m *eventMetrics) RecordAuditDrop() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}

// RecordWebhookDrop counts an event the webhook dispatcher gave up on.
func (m *eventMetrics) RecordWebhookDrop(reason string) {
	if m == nil {
		return
	}
	m.webhookDropped.WithLabelValues(labelOrDefault(reason, "unspecified")).Inc()
}
