package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics
)

// ModuleMetrics returns the lazily-initialised registry recording API activity
// for both the HTTP and gRPC surfaces.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "market",
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "Total API requests segmented by surface, route and outcome.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "market",
				Subsystem: "api",
				Name:      "errors_total",
				Help:      "Total API errors segmented by surface, route and status code.",
			}, []string{"module", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "market",
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "market",
				Subsystem: "api",
				Name:      "throttles_total",
				Help:      "Count of API requests rejected by throttling policies.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of a request. status is the HTTP status written
// to the client, or the HTTP equivalent of a gRPC code.
func (m *moduleMetrics) Observe(module, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
		m.errors.WithLabelValues(module, method, strconv.Itoa(status)).Inc()
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter. Reasons should be stable
// strings such as "rate_limit".
func (m *moduleMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(module, reason).Inc()
}

type relayMetrics struct {
	published *prometheus.CounterVec
	failures  *prometheus.CounterVec
	lag       prometheus.Histogram
}

var (
	relayMetricsOnce sync.Once
	relayRegistry    *relayMetrics
)

// RelayMetrics tracks the journal to Kafka outbox relay.
func RelayMetrics() *relayMetrics {
	relayMetricsOnce.Do(func() {
		relayRegistry = &relayMetrics{
			published: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "market",
				Subsystem: "relay",
				Name:      "published_total",
				Help:      "Journal events published to the broker, by event type.",
			}, []string{"type"}),
			failures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "market",
				Subsystem: "relay",
				Name:      "failures_total",
				Help:      "Relay batches that failed, by stage.",
			}, []string{"stage"}),
			lag: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "market",
				Subsystem: "relay",
				Name:      "lag_seconds",
				Help:      "Delay between journaling an event and publishing it.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
			}),
		}
		prometheus.MustRegister(relayRegistry.published, relayRegistry.failures, relayRegistry.lag)
	})
	return relayRegistry
}

// Published records one delivered event journaled at created.
func (m *relayMetrics) Published(eventType string, created, now time.Time) {
	if m == nil {
		return
	}
	m.published.WithLabelValues(eventType).Inc()
	if lag := now.Sub(created); lag > 0 {
		m.lag.Observe(lag.Seconds())
	}
}

// Failed counts a failed batch at stage (load, encode, publish, ack).
func (m *relayMetrics) Failed(stage string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(stage).Inc()
}
