// Package metrics exposes ChatDesk's Prometheus metrics.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/BTreeMap/ChatDesk/internal/throttle"
)

// Handler label used for events no handler engaged with.
const droppedHandler = "none"

// Metrics holds the collectors on a private registry.
type Metrics struct {
	registry   *prometheus.Registry
	inbound    prometheus.Counter
	duplicates prometheus.Counter
	blocked    prometheus.Counter
	dispatched *prometheus.CounterVec
	failures   *prometheus.CounterVec
	claims     *prometheus.CounterVec
	seconds    prometheus.Histogram
}

// New creates and registers the collectors, including the Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		inbound: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatdesk_inbound_events_total",
			Help: "Inbound events received from the messaging transport.",
		}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatdesk_duplicate_events_total",
			Help: "Inbound events dropped as duplicates.",
		}),
		blocked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatdesk_blocked_events_total",
			Help: "Inbound events dropped because the sender is blacklisted.",
		}),
		dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatdesk_dispatch_total",
			Help: "Events dispatched, by the handler that served them.",
		}, []string{"handler"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatdesk_dispatch_failures_total",
			Help: "Dispatches that ended with the apology reply.",
		}, []string{"handler"}),
		claims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatdesk_welcome_claims_total",
			Help: "Welcome throttle claims, by result.",
		}, []string{"result"}),
		seconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "chatdesk_dispatch_seconds",
			Help:    "Time spent dispatching one event.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.inbound, m.duplicates, m.blocked, m.dispatched, m.failures, m.claims, m.seconds,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveInbound counts a received event.
func (m *Metrics) ObserveInbound() { m.inbound.Inc() }

// ObserveDuplicate counts a deduplicated event.
func (m *Metrics) ObserveDuplicate() { m.duplicates.Inc() }

// ObserveBlocked counts an event from a blacklisted sender.
func (m *Metrics) ObserveBlocked() { m.blocked.Inc() }

// ObserveDispatch records one router outcome. An empty handler means the event was dropped.
func (m *Metrics) ObserveDispatch(handler string, seconds float64, err error) {
	if handler == "" {
		handler = droppedHandler
	}
	m.dispatched.WithLabelValues(handler).Inc()
	m.seconds.Observe(seconds)
	if err != nil {
		m.failures.WithLabelValues(handler).Inc()
	}
}

// InstrumentTracker counts the results of t's claims.
func (m *Metrics) InstrumentTracker(t throttle.Tracker) throttle.Tracker {
	return &trackedClaims{Tracker: t, claims: m.claims}
}

type trackedClaims struct {
	throttle.Tracker
	claims *prometheus.CounterVec
}

func (t *trackedClaims) TryClaim(ctx context.Context, messageID, recipient string, window time.Duration) (bool, error) {
	ok, err := t.Tracker.TryClaim(ctx, messageID, recipient, window)
	switch {
	case err != nil:
		t.claims.WithLabelValues("error").Inc()
	case ok:
		t.claims.WithLabelValues("claimed").Inc()
	default:
		t.claims.WithLabelValues("throttled").Inc()
	}
	return ok, err
}
