// Package metrics defines the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	HTTPRequests     *prometheus.CounterVec
	HTTPDuration     *prometheus.HistogramVec
	WSConnections    prometheus.Gauge
	WSEvents         *prometheus.CounterVec
	MessagesSent     *prometheus.CounterVec
	UploadBytesTotal *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "animehub",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "animehub",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		WSConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "animehub",
			Name:      "ws_connections",
			Help:      "Open websocket connections.",
		}),
		WSEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "animehub",
			Name:      "ws_events_total",
			Help:      "Websocket events by type and direction.",
		}, []string{"type", "direction"}),
		MessagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "animehub",
			Name:      "messages_sent_total",
			Help:      "Chat messages stored, by conversation kind.",
		}, []string{"kind"}),
		UploadBytesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "animehub",
			Name:      "upload_bytes_total",
			Help:      "Bytes accepted for upload by category.",
		}, []string{"category"}),
	}
	reg.MustRegister(m.HTTPRequests, m.HTTPDuration, m.WSConnections, m.WSEvents, m.MessagesSent, m.UploadBytesTotal)
	return m
}
