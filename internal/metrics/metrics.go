// Package metrics exposes gateway counters and histograms. Collectors are
// registered against an injected Registerer so tests can use isolated
// registries instead of the process-global default.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every collector the gateway records.
type Metrics struct {
	SendTotal    *prometheus.CounterVec
	SendDuration *prometheus.HistogramVec
	RateLimited  *prometheus.CounterVec
	RetryTotal   prometheus.Counter
	DroppedTotal prometheus.Counter
	QueueDepth   prometheus.Gauge
	WebhookTotal *prometheus.CounterVec
}

// New builds the collector set and registers it with reg. Passing
// prometheus.DefaultRegisterer gives the usual process-wide behaviour.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SendTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "gateway_send_total", Help: "Dispatch outcomes per provider."},
			[]string{"provider", "outcome"}, // sent | temporary | permanent | rate_limit | invalid_number
		),
		SendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_send_duration_seconds",
				Help:    "Provider send latency.",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms..~40s
			},
			[]string{"provider"},
		),
		RateLimited: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "gateway_rate_limited_total", Help: "Sends denied by a rate-limit window."},
			[]string{"provider"},
		),
		RetryTotal: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "gateway_retry_total", Help: "Messages re-enqueued for retry."},
		),
		DroppedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "gateway_dropped_total", Help: "Messages dropped as terminal failures."},
		),
		QueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "gateway_queue_depth", Help: "Messages currently queued."},
		),
		WebhookTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "gateway_webhook_total", Help: "Delivery-report callback outcomes."},
			[]string{"provider", "outcome"}, // accepted | rejected | invalid
		),
	}
	if reg != nil {
		reg.MustRegister(
			m.SendTotal, m.SendDuration, m.RateLimited,
			m.RetryTotal, m.DroppedTotal, m.QueueDepth, m.WebhookTotal,
		)
	}
	return m
}

// ObserveSend records one dispatch outcome and its latency.
func (m *Metrics) ObserveSend(provider, outcome string, elapsed time.Duration) {
	m.SendTotal.WithLabelValues(provider, outcome).Inc()
	m.SendDuration.WithLabelValues(provider).Observe(elapsed.Seconds())
}
