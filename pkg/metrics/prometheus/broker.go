// Package prometheus implements the metrics interfaces on a Prometheus
// registry. Importing it for side effects wires the constructors into
// the parent metrics package:
//
//	import _ "github.com/crzysdrs/CS594IRC/pkg/metrics/prometheus"
package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/crzysdrs/CS594IRC/pkg/metrics"
)

func init() {
	metrics.RegisterBrokerMetricsConstructor(newBrokerMetrics)
}

// brokerMetrics is the Prometheus implementation of metrics.BrokerMetrics.
type brokerMetrics struct {
	connectionsAccepted prometheus.Counter
	connectionsClosed   prometheus.Counter
	activeSessions      prometheus.Gauge
	activeChannels      prometheus.Gauge
	framesIn            *prometheus.CounterVec
	framesOut           prometheus.Counter
	bytesIn             prometheus.Counter
	bytesOut            prometheus.Counter
	relayRecipients     prometheus.Histogram
	protocolErrors      *prometheus.CounterVec
	evictions           *prometheus.CounterVec
}

func newBrokerMetrics() metrics.BrokerMetrics {
	reg := metrics.GetRegistry()

	return &brokerMetrics{
		connectionsAccepted: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "cs594irc_connections_accepted_total",
				Help: "Total number of accepted TCP connections",
			},
		),
		connectionsClosed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "cs594irc_connections_closed_total",
				Help: "Total number of closed TCP connections",
			},
		),
		activeSessions: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "cs594irc_active_sessions",
				Help: "Current number of registered client sessions",
			},
		),
		activeChannels: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "cs594irc_active_channels",
				Help: "Current number of channels with at least one member",
			},
		),
		framesIn: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "cs594irc_frames_received_total",
				Help: "Total number of frames received from clients by command",
			},
			[]string{"cmd"},
		),
		framesOut: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "cs594irc_frames_sent_total",
				Help: "Total number of frames sent to clients",
			},
		),
		bytesIn: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "cs594irc_bytes_received_total",
				Help: "Total bytes received from clients",
			},
		),
		bytesOut: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "cs594irc_bytes_sent_total",
				Help: "Total bytes sent to clients",
			},
		),
		relayRecipients: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "cs594irc_relay_recipients",
				Help:    "Distribution of recipient counts per relayed message",
				Buckets: []float64{1, 2, 5, 10, 25, 50, 100},
			},
		),
		protocolErrors: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "cs594irc_protocol_errors_total",
				Help: "Total number of error frames sent to clients by kind",
			},
			[]string{"kind"},
		),
		evictions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "cs594irc_evictions_total",
				Help: "Total number of forced session removals by reason",
			},
			[]string{"reason"}, // "timeout", "queue_full", "protocol", "shutdown"
		),
	}
}

func (m *brokerMetrics) RecordConnectionAccepted() {
	if m == nil {
		return
	}
	m.connectionsAccepted.Inc()
}

func (m *brokerMetrics) RecordConnectionClosed() {
	if m == nil {
		return
	}
	m.connectionsClosed.Inc()
}

func (m *brokerMetrics) SetActiveSessions(count int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(count))
}

func (m *brokerMetrics) SetActiveChannels(count int) {
	if m == nil {
		return
	}
	m.activeChannels.Set(float64(count))
}

func (m *brokerMetrics) RecordFrameIn(cmd string, bytes int) {
	if m == nil {
		return
	}
	m.framesIn.WithLabelValues(cmd).Inc()
	m.bytesIn.Add(float64(bytes))
}

func (m *brokerMetrics) RecordFrameOut(bytes int) {
	if m == nil {
		return
	}
	m.framesOut.Inc()
	m.bytesOut.Add(float64(bytes))
}

func (m *brokerMetrics) RecordMessageRelayed(recipients int) {
	if m == nil {
		return
	}
	m.relayRecipients.Observe(float64(recipients))
}

func (m *brokerMetrics) RecordProtocolError(kind string) {
	if m == nil {
		return
	}
	m.protocolErrors.WithLabelValues(kind).Inc()
}

func (m *brokerMetrics) RecordEviction(reason string) {
	if m == nil {
		return
	}
	m.evictions.WithLabelValues(reason).Inc()
}
