// Package monitor exposes the relay's operational gauges over Prometheus.
package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Monitor struct {
	connectedClients prometheus.Gauge
	activeRooms      prometheus.Gauge
	eventsReceived   *prometheus.CounterVec
}

// New registers the metrics with reg. All Monitor methods are nil-safe so
// components can run unmetered (tests, tools).
func New(namespace string, reg prometheus.Registerer) *Monitor {
	m := &Monitor{
		connectedClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected_clients",
			Help:      "Number of connected websocket clients",
		}),
		activeRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_rooms",
			Help:      "Number of rooms with at least one client",
		}),
		eventsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_received_total",
			Help:      "Client events received, by event type",
		}, []string{"event"}),
	}
	reg.MustRegister(m.connectedClients, m.activeRooms, m.eventsReceived)
	return m
}

func (m *Monitor) ClientConnected() {
	if m == nil {
		return
	}
	m.connectedClients.Inc()
}

func (m *Monitor) ClientDisconnected() {
	if m == nil {
		return
	}
	m.connectedClients.Dec()
}

func (m *Monitor) SetActiveRooms(n int) {
	if m == nil {
		return
	}
	m.activeRooms.Set(float64(n))
}

func (m *Monitor) EventReceived(event string) {
	if m == nil {
		return
	}
	m.eventsReceived.WithLabelValues(event).Inc()
}
