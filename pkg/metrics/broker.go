package metrics

// BrokerMetrics provides observability for the relay server.
//
// Implementations collect metrics about connection lifecycle, frame traffic,
// relay fan-out, and protocol errors. This interface is optional - pass nil
// to disable metrics collection with zero overhead.
//
// Example usage:
//
//	// With metrics enabled
//	metrics.InitRegistry()
//	m := metrics.NewBrokerMetrics()
//	b := broker.New(cfg, m)
//
//	// Without metrics (pass nil for zero overhead)
//	b := broker.New(cfg, nil)
type BrokerMetrics interface {
	// RecordConnectionAccepted increments the total accepted connections counter.
	RecordConnectionAccepted()

	// RecordConnectionClosed increments the total closed connections counter.
	RecordConnectionClosed()

	// SetActiveSessions updates the current registered session count.
	SetActiveSessions(count int)

	// SetActiveChannels updates the current channel count.
	SetActiveChannels(count int)

	// RecordFrameIn records a frame received from a client.
	//
	// Parameters:
	//   - cmd: Protocol command carried by the frame
	//   - bytes: Frame size on the wire
	RecordFrameIn(cmd string, bytes int)

	// RecordFrameOut records a frame sent to a client.
	RecordFrameOut(bytes int)

	// RecordMessageRelayed records a chat message fan-out.
	//
	// Parameters:
	//   - recipients: Number of distinct sessions the message was copied to
	RecordMessageRelayed(recipients int)

	// RecordProtocolError records an error frame sent to a client.
	//
	// Parameters:
	//   - kind: Protocol error kind (e.g. "schema", "badnick")
	RecordProtocolError(kind string)

	// RecordEviction records a forced session removal.
	//
	// Parameters:
	//   - reason: "timeout", "queue_full", "protocol", or "shutdown"
	RecordEviction(reason string)
}

// NewBrokerMetrics creates a new Prometheus-backed BrokerMetrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
// When nil is returned, callers should pass nil to the broker, which
// results in zero overhead.
func NewBrokerMetrics() BrokerMetrics {
	if !IsEnabled() {
		return nil
	}

	return newPrometheusBrokerMetrics()
}

// newPrometheusBrokerMetrics is implemented in pkg/metrics/prometheus/broker.go
// This indirection avoids import cycles while keeping the API clean
var newPrometheusBrokerMetrics func() BrokerMetrics

// RegisterBrokerMetricsConstructor registers the Prometheus broker metrics
// constructor. Called by pkg/metrics/prometheus during package initialization.
func RegisterBrokerMetricsConstructor(constructor func() BrokerMetrics) {
	newPrometheusBrokerMetrics = constructor
}
