package api

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/devicesync/internal/store"
)

var stats = metrics{
	requests: prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "devicesync",
		Subsystem: "api",
		Name:      "requests_total",
		Help:      "Number of HTTP requests served, by method, route pattern and status code.",
	}, []string{
		"method",
		"route",
		"status",
	}),

	wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "devicesync",
		Subsystem: "api",
		Name:      "websocket_clients",
		Help:      "Number of connected WebSocket clients.",
	}),

	streamed: prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "devicesync",
		Subsystem: "api",
		Name:      "stream_changes_sent_total",
		Help:      "Number of change messages queued to change stream clients, by record type.",
	}, []string{
		"record_type",
	}),
}

type metrics struct {
	requests  *prometheus.CounterVec
	wsClients prometheus.Gauge
	streamed  *prometheus.CounterVec
}

func init() {
	prometheus.MustRegister(stats.requests)
	prometheus.MustRegister(stats.wsClients)
	prometheus.MustRegister(stats.streamed)
}

func (m *metrics) Request(method, route, status string) {
	m.requests.WithLabelValues(method, route, status).Inc()
}

func (m *metrics) Clients(n int) {
	m.wsClients.Set(float64(n))
}

func (m *metrics) Streamed(t store.RecordType, recipients int) {
	m.streamed.WithLabelValues(string(t)).Add(float64(recipients))
}
