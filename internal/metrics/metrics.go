// Package metrics defines the Prometheus collectors exported by the hub and
// the admission controller. All methods are safe on a nil *Metrics, which
// disables collection.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "foundryhub"

// Delivery results recorded by ObserveDelivery.
const (
	ResultDelivered = "delivered"
	ResultFailed    = "failed"
)

// Metrics groups the collectors used across the service.
type Metrics struct {
	connections      prometheus.Gauge
	rooms            prometheus.Gauge
	connectionsTotal prometheus.Counter
	messages         *prometheus.CounterVec
	deliveries       *prometheus.CounterVec
	rateLimited      prometheus.Counter
	trackedClients   prometheus.GaugeFunc

	gatherer prometheus.Gatherer
}

// New creates the collectors and registers them with reg. trackedClients,
// when non-nil, is sampled at scrape time.
func New(reg *prometheus.Registry, trackedClients func() int) *Metrics {
	m := &Metrics{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_connections",
			Help:      "Currently registered WebSocket connections.",
		}),
		rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_rooms",
			Help:      "Rooms with at least one member.",
		}),
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_connections_total",
			Help:      "WebSocket connections accepted since start.",
		}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_received_total",
			Help:      "Inbound WebSocket messages by type.",
		}, []string{"type"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_deliveries_total",
			Help:      "Outbound delivery attempts by result.",
		}, []string{"result"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_rate_limited_total",
			Help:      "HTTP requests rejected by the admission controller.",
		}),
		gatherer: reg,
	}

	reg.MustRegister(m.connections, m.rooms, m.connectionsTotal, m.messages, m.deliveries, m.rateLimited)

	if trackedClients != nil {
		m.trackedClients = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_rate_limit_clients",
			Help:      "Client identities tracked by the admission controller.",
		}, func() float64 { return float64(trackedClients()) })
		reg.MustRegister(m.trackedClients)
	}

	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// SetTopology records the current connection and room counts.
func (m *Metrics) SetTopology(connections, rooms int) {
	if m == nil {
		return
	}
	m.connections.Set(float64(connections))
	m.rooms.Set(float64(rooms))
}

// ConnectionAccepted counts a new connection.
func (m *Metrics) ConnectionAccepted() {
	if m == nil {
		return
	}
	m.connectionsTotal.Inc()
}

// MessageReceived counts an inbound message of the given type.
func (m *Metrics) MessageReceived(msgType string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(msgType).Inc()
}

// ObserveDelivery adds delivered and failed attempts from one fan-out.
func (m *Metrics) ObserveDelivery(delivered, failed int) {
	if m == nil {
		return
	}
	if delivered > 0 {
		m.deliveries.WithLabelValues(ResultDelivered).Add(float64(delivered))
	}
	if failed > 0 {
		m.deliveries.WithLabelValues(ResultFailed).Add(float64(failed))
	}
}

// RateLimited counts a rejected HTTP request.
func (m *Metrics) RateLimited(string) {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}
