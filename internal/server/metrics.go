package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry *prometheus.Registry

	connectedClients prometheus.Gauge
	framesReceived   *prometheus.CounterVec
	framesDropped    prometheus.Counter
	decodeErrors     prometheus.Counter
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		connectedClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "framechat_connected_clients",
			Help: "Number of currently connected clients",
		}),
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "framechat_frames_received_total",
			Help: "Frames received from clients by message kind",
		}, []string{"kind"}),
		framesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "framechat_frames_dropped_total",
			Help: "Frames not delivered because a client's queue was full",
		}),
		decodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "framechat_decode_errors_total",
			Help: "Frames from clients that failed to decode",
		}),
	}
	m.registry.MustRegister(m.connectedClients, m.framesReceived, m.framesDropped, m.decodeErrors)
	return m
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
