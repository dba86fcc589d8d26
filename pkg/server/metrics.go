package server

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the server
type Metrics struct {
	connectedClients  prometheus.Gauge
	handshakeFailures *prometheus.CounterVec
	messagesReceived  *prometheus.CounterVec
	messagesSent      *prometheus.CounterVec
	keepaliveTimeouts prometheus.Counter
	frameBytes        prometheus.Histogram
	clipboardBytes    prometheus.Histogram
}

var (
	metricsOnce     sync.Once
	metricsInstance *Metrics
)

// serverMetrics returns the process-wide metrics. Collectors register
// against the default registry, so they are created exactly once no
// matter how many servers a process builds.
func serverMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = &Metrics{
			connectedClients: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "crossdesk_connected_clients",
				Help: "Number of clients with a completed handshake",
			}),
			handshakeFailures: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "crossdesk_handshake_failures_total",
				Help: "Total number of rejected handshakes by reason",
			}, []string{"reason"}),
			messagesReceived: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "crossdesk_messages_received_total",
				Help: "Total number of messages received from clients by code",
			}, []string{"code"}),
			messagesSent: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "crossdesk_messages_sent_total",
				Help: "Total number of messages sent to clients by code",
			}, []string{"code"}),
			keepaliveTimeouts: promauto.NewCounter(prometheus.CounterOpts{
				Name: "crossdesk_keepalive_timeouts_total",
				Help: "Total number of sessions closed for missed keepalives",
			}),
			frameBytes: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "crossdesk_frame_bytes",
				Help:    "Payload size of received frames in bytes",
				Buckets: prometheus.ExponentialBuckets(4, 4, 10),
			}),
			clipboardBytes: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "crossdesk_clipboard_bytes",
				Help:    "Size of assembled clipboard payloads in bytes",
				Buckets: prometheus.ExponentialBuckets(16, 4, 10),
			}),
		}
	})
	return metricsInstance
}

// RecordConnectedClients updates the connected client gauge
func (m *Metrics) RecordConnectedClients(count int) {
	m.connectedClients.Set(float64(count))
}

// RecordHandshakeFailure increments the rejection counter for a reason
func (m *Metrics) RecordHandshakeFailure(reason string) {
	m.handshakeFailures.WithLabelValues(reason).Inc()
}

// RecordMessageReceived counts an inbound message and its payload size
func (m *Metrics) RecordMessageReceived(code string, payloadBytes int) {
	m.messagesReceived.WithLabelValues(code).Inc()
	m.frameBytes.Observe(float64(payloadBytes))
}

// RecordMessageSent counts an outbound message
func (m *Metrics) RecordMessageSent(code string) {
	m.messagesSent.WithLabelValues(code).Inc()
}

// RecordKeepaliveTimeout counts a session closed for inbound silence
func (m *Metrics) RecordKeepaliveTimeout() {
	m.keepaliveTimeouts.Inc()
}

// RecordClipboardBytes records the size of an assembled clipboard payload
func (m *Metrics) RecordClipboardBytes(size int) {
	m.clipboardBytes.Observe(float64(size))
}
