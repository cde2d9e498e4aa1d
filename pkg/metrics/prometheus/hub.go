package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/filepull/pkg/metrics"
)

// hubMetrics is the Prometheus implementation of metrics.HubMetrics.
type hubMetrics struct {
	connectedEndpoints prometheus.Gauge
	messagesReceived   *prometheus.CounterVec
	messagesSent       *prometheus.CounterVec
	invalidMessages    prometheus.Counter
	staleTerminations  prometheus.Counter
}

// NewHubMetrics creates a Prometheus-backed HubMetrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewHubMetrics() metrics.HubMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &hubMetrics{
		connectedEndpoints: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "filepull_endpoints_connected",
				Help: "Current number of registered endpoints",
			},
		),
		messagesReceived: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "filepull_messages_received_total",
				Help: "Total inbound protocol messages by type",
			},
			[]string{"type"},
		),
		messagesSent: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "filepull_messages_sent_total",
				Help: "Total outbound protocol messages by type",
			},
			[]string{"type"},
		),
		invalidMessages: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "filepull_invalid_messages_total",
				Help: "Total inbound frames rejected by validation",
			},
		),
		staleTerminations: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "filepull_stale_terminations_total",
				Help: "Total connections closed by the liveness sweep",
			},
		),
	}
}

func (m *hubMetrics) SetConnectedEndpoints(count int) {
	m.connectedEndpoints.Set(float64(count))
}

func (m *hubMetrics) RecordMessageReceived(msgType string) {
	m.messagesReceived.WithLabelValues(msgType).Inc()
}

func (m *hubMetrics) RecordMessageSent(msgType string) {
	m.messagesSent.WithLabelValues(msgType).Inc()
}

func (m *hubMetrics) RecordInvalidMessage() {
	m.invalidMessages.Inc()
}

func (m *hubMetrics) RecordStaleTermination() {
	m.staleTerminations.Inc()
}
