package mcp

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the Prometheus collectors exported by the transport. A nil *Metrics is
// valid and records nothing, so components can be used without a registry.
type Metrics struct {
	activeSessions    prometheus.Gauge
	sessionsTotal     prometheus.Counter
	messagesEnqueued  prometheus.Counter
	messagesDelivered prometheus.Counter
	messagesDropped   prometheus.Counter
	keepalives        prometheus.Counter
	intakeRequests    *prometheus.CounterVec
	dispatched        *prometheus.CounterVec
}

// NewMetrics creates the transport collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "textutils_mcp",
			Name:      "active_sessions",
			Help:      "Number of event streams currently open.",
		}),
		sessionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "textutils_mcp",
			Name:      "sessions_total",
			Help:      "Total number of sessions created.",
		}),
		messagesEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "textutils_mcp",
			Name:      "messages_enqueued_total",
			Help:      "Messages placed on a session queue.",
		}),
		messagesDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "textutils_mcp",
			Name:      "messages_delivered_total",
			Help:      "Messages taken off a session queue by its stream.",
		}),
		messagesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "textutils_mcp",
			Name:      "messages_dropped_total",
			Help:      "Queued messages discarded because their session was destroyed.",
		}),
		keepalives: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "textutils_mcp",
			Name:      "keepalives_total",
			Help:      "Keepalive comments written to idle streams.",
		}),
		intakeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "textutils_mcp",
			Name:      "intake_requests_total",
			Help:      "POSTed messages by HTTP status code.",
		}, []string{"code"}),
		dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "textutils_mcp",
			Name:      "dispatched_total",
			Help:      "Dispatched messages by method.",
		}, []string{"method"}),
	}

	reg.MustRegister(
		m.activeSessions,
		m.sessionsTotal,
		m.messagesEnqueued,
		m.messagesDelivered,
		m.messagesDropped,
		m.keepalives,
		m.intakeRequests,
		m.dispatched,
	)

	return m
}

func (m *Metrics) sessionOpened() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
	m.sessionsTotal.Inc()
}

func (m *Metrics) sessionClosed(dropped int) {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
	m.messagesDropped.Add(float64(dropped))
}

func (m *Metrics) messageEnqueued() {
	if m == nil {
		return
	}
	m.messagesEnqueued.Inc()
}

func (m *Metrics) messageDelivered() {
	if m == nil {
		return
	}
	m.messagesDelivered.Inc()
}

func (m *Metrics) keepaliveSent() {
	if m == nil {
		return
	}
	m.keepalives.Inc()
}

func (m *Metrics) intakeHandled(code int) {
	if m == nil {
		return
	}
	m.intakeRequests.WithLabelValues(strconv.Itoa(code)).Inc()
}

func (m *Metrics) methodDispatched(method Method) {
	if m == nil {
		return
	}
	m.dispatched.WithLabelValues(method.String()).Inc()
}
