package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for the sync core. It implements
// core.Instrumentation.
type Metrics struct {
	registry *prometheus.Registry

	openConnections  prometheus.Gauge
	terminations     prometheus.Counter
	broadcastsSent   prometheus.Counter
	broadcastErrors  prometheus.Counter
	messagesPersists prometheus.Counter
}

// New builds a metrics set on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	m := &Metrics{
		registry: reg,
		openConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chatline_open_connections",
			Help: "Number of currently registered WebSocket connections.",
		}),
		terminations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatline_connection_terminations_total",
			Help: "Connections reaped by the liveness monitor.",
		}),
		broadcastsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatline_broadcast_frames_total",
			Help: "Frames delivered by the broadcaster.",
		}),
		broadcastErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatline_broadcast_write_errors_total",
			Help: "Per-connection write failures during broadcast.",
		}),
		messagesPersists: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatline_messages_persisted_total",
			Help: "Chat messages accepted and persisted.",
		}),
	}

	reg.MustRegister(m.openConnections, m.terminations, m.broadcastsSent, m.broadcastErrors, m.messagesPersists)
	return m
}

// Handler serves the /metrics endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ConnOpened increments the open-connection gauge.
func (m *Metrics) ConnOpened() { m.openConnections.Inc() }

// ConnClosed decrements the open-connection gauge.
func (m *Metrics) ConnClosed() { m.openConnections.Dec() }

// ConnTerminated counts a liveness-monitor reap.
func (m *Metrics) ConnTerminated() { m.terminations.Inc() }

// BroadcastDelivered counts one successfully written frame.
func (m *Metrics) BroadcastDelivered() { m.broadcastsSent.Inc() }

// BroadcastWriteFailed counts one isolated write failure.
func (m *Metrics) BroadcastWriteFailed() { m.broadcastErrors.Inc() }

// MessagePersisted counts one accepted chat message.
func (m *Metrics) MessagePersisted() { m.messagesPersists.Inc() }
