package gateway

// Drop reasons reported through MetricsReporter.
const (
	DropThrottled = "throttled"
	DropDecode    = "decode"
	DropAuth      = "auth"
	DropInternal  = "internal"
)

// MetricsReporter receives gateway events for observability. Implemented by
// internal/metrics.Collector; the gateway package never imports Prometheus.
type MetricsReporter interface {
	// IncDatagramsReceived counts every datagram read from a listener socket.
	IncDatagramsReceived(listener string)

	// IncDatagramsDropped counts a dropped datagram with the drop reason.
	IncDatagramsDropped(listener, reason string)

	// IncMessagesAccepted counts an authenticated message from sender.
	IncMessagesAccepted(listener, sender string)

	// IncForwarded counts a successful send to a downstream agent.
	IncForwarded(listener, agent string)

	// IncForwardFailures counts a failed send to a downstream agent.
	IncForwardFailures(listener, agent string)

	// SetThrottleState publishes the current throttle state of a listener.
	SetThrottleState(listener string, suppressed bool)

	// IncSuppressions counts administrative suppressions of a listener.
	IncSuppressions(listener string)
}

// noopMetrics discards every event.
type noopMetrics struct{}

func (noopMetrics) IncDatagramsReceived(string) {}
func (noopMetrics) IncDatagramsDropped(string, string) {}
func (noopMetrics) IncMessagesAccepted(string, string) {}
func (noopMetrics) IncForwarded(string, string) {}
func (noopMetrics) IncForwardFailures(string, string) {}
func (noopMetrics) SetThrottleState(string, bool) {}
func (noopMetrics) IncSuppressions(string) {}
