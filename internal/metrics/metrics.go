package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "nexus_chat"

// Metrics holds the chat service collectors on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	connections    prometheus.Gauge
	frames         *prometheus.CounterVec
	messages       *prometheus.CounterVec
	deliveries     *prometheus.CounterVec
	presenceEvents prometheus.Counter

	httpInFlight prometheus.Gauge
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New builds and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "connections",
			Help:      "Users with a registered live connection.",
		}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "frames_total",
			Help:      "Inbound frames by outcome.",
		}, []string{"outcome"}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "messages_total",
			Help:      "Messages routed, by source and result.",
		}, []string{"source", "result"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "deliveries_total",
			Help:      "Outbound event deliveries, by event type and result.",
		}, []string{"type", "result"}),
		presenceEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "presence",
			Name:      "broadcasts_total",
			Help:      "Presence changes broadcast.",
		}),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		}, []string{"route", "code", "method"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		}, []string{"route", "code", "method"}),
	}
	m.registry.MustRegister(
		m.connections,
		m.frames,
		m.messages,
		m.deliveries,
		m.presenceEvents,
		m.httpInFlight,
		m.httpRequests,
		m.httpDuration,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return m
}

// Handler exposes the registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// InstrumentRoute wraps next with request count, duration and in-flight
// metrics labelled by route. The promhttp wrappers keep http.Hijacker
// available for WebSocket upgrades.
func (m *Metrics) InstrumentRoute(route string, next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	labels := prometheus.Labels{"route": route}
	return promhttp.InstrumentHandlerInFlight(m.httpInFlight,
		promhttp.InstrumentHandlerDuration(m.httpDuration.MustCurryWith(labels),
			promhttp.InstrumentHandlerCounter(m.httpRequests.MustCurryWith(labels), next)))
}

// SetConnections records the registry size.
func (m *Metrics) SetConnections(n int) {
	if m == nil {
		return
	}
	m.connections.Set(float64(n))
}

// Frame counts an inbound frame by outcome (ok, malformed, failed).
func (m *Metrics) Frame(outcome string) {
	if m == nil {
		return
	}
	m.frames.WithLabelValues(outcome).Inc()
}

// Message counts a routed message by source (socket, rest) and result.
func (m *Metrics) Message(source, result string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(source, result).Inc()
}

// Delivery counts an outbound event delivery.
func (m *Metrics) Delivery(eventType string, delivered bool) {
	if m == nil {
		return
	}
	result := "delivered"
	if !delivered {
		result = "skipped"
	}
	m.deliveries.WithLabelValues(eventType, result).Inc()
}

// PresenceBroadcast counts a presence change fan-out.
func (m *Metrics) PresenceBroadcast() {
	if m == nil {
		return
	}
	m.presenceEvents.Inc()
}
