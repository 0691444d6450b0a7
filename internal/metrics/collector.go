// Package smgwmetrics exposes gateway activity as Prometheus metrics.
package smgwmetrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dantte-lp/smgw/internal/gateway"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const (
	namespace = "smgw"
	subsystem = "gateway"
)

// Label names for gateway metrics.
const (
	labelListener = "listener"
	labelReason   = "reason"
	labelSender   = "sender"
	labelAgent    = "agent"
)

// -------------------------------------------------------------------------
// Collector: Prometheus Gateway Metrics
// -------------------------------------------------------------------------

// Collector holds all gateway Prometheus metrics and implements
// gateway.MetricsReporter.
//
// Metrics are labeled by listener bind address:
//   - Datagram counters track receive volume and drops by reason.
//   - Message counters track authenticated senders and forward results.
//   - The throttle gauge is 1 while a listener is suppressed.
type Collector struct {
	// DatagramsReceived counts every datagram read from a listener socket.
	DatagramsReceived *prometheus.CounterVec

	// DatagramsDropped counts dropped datagrams by reason
	// (throttled, decode, auth, internal).
	DatagramsDropped *prometheus.CounterVec

	// MessagesAccepted counts authenticated messages per sender nickname.
	MessagesAccepted *prometheus.CounterVec

	// Forwarded counts messages accepted by a downstream agent.
	Forwarded *prometheus.CounterVec

	// ForwardFailures counts messages a downstream agent refused.
	ForwardFailures *prometheus.CounterVec

	// ThrottleSuppressed is 1 while the listener's throttle gate is
	// suppressed and 0 while it is active.
	ThrottleSuppressed *prometheus.GaugeVec

	// Suppressions counts administrative suppressions (smshutup).
	Suppressions *prometheus.CounterVec
}

var _ gateway.MetricsReporter = (*Collector)(nil)

// NewCollector creates a Collector with all gateway metrics registered
// against the provided prometheus.Registerer. If reg is nil,
// prometheus.DefaultRegisterer is used.
//
// All metrics are created with the "smgw_gateway_" prefix.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.DatagramsReceived,
		c.DatagramsDropped,
		c.MessagesAccepted,
		c.Forwarded,
		c.ForwardFailures,
		c.ThrottleSuppressed,
		c.Suppressions,
	)

	return c
}

// newMetrics creates all Prometheus metric vectors without registering them.
func newMetrics() *Collector {
	listenerLabels := []string{labelListener}

	return &Collector{
		DatagramsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "datagrams_received_total",
			Help:      "Total datagrams read from listener sockets.",
		}, listenerLabels),

		DatagramsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "datagrams_dropped_total",
			Help:      "Total datagrams dropped, by reason.",
		}, []string{labelListener, labelReason}),

		MessagesAccepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "messages_accepted_total",
			Help:      "Total authenticated messages, by sender nickname.",
		}, []string{labelListener, labelSender}),

		Forwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "forwarded_total",
			Help:      "Total messages handed to downstream agents.",
		}, []string{labelListener, labelAgent}),

		ForwardFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "forward_failures_total",
			Help:      "Total messages downstream agents failed to accept.",
		}, []string{labelListener, labelAgent}),

		ThrottleSuppressed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "throttle_suppressed",
			Help:      "1 while the listener is suppressed by its throttle gate.",
		}, listenerLabels),

		Suppressions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "suppressions_total",
			Help:      "Total administrative suppressions.",
		}, listenerLabels),
	}
}

// -------------------------------------------------------------------------
// Datagram Counters
// -------------------------------------------------------------------------

// IncDatagramsReceived increments the received datagrams counter.
func (c *Collector) IncDatagramsReceived(listener string) {
	c.DatagramsReceived.WithLabelValues(listener).Inc()
}

// IncDatagramsDropped increments the dropped datagrams counter for reason.
func (c *Collector) IncDatagramsDropped(listener, reason string) {
	c.DatagramsDropped.WithLabelValues(listener, reason).Inc()
}

// -------------------------------------------------------------------------
// Message Counters
// -------------------------------------------------------------------------

// IncMessagesAccepted increments the authenticated messages counter.
func (c *Collector) IncMessagesAccepted(listener, sender string) {
	c.MessagesAccepted.WithLabelValues(listener, sender).Inc()
}

// IncForwarded increments the forwarded messages counter for agent.
func (c *Collector) IncForwarded(listener, agent string) {
	c.Forwarded.WithLabelValues(listener, agent).Inc()
}

// IncForwardFailures increments the failed forwards counter for agent.
func (c *Collector) IncForwardFailures(listener, agent string) {
	c.ForwardFailures.WithLabelValues(listener, agent).Inc()
}

// -------------------------------------------------------------------------
// Throttle
// -------------------------------------------------------------------------

// SetThrottleState publishes the throttle state of a listener.
func (c *Collector) SetThrottleState(listener string, suppressed bool) {
	v := 0.0
	if suppressed {
		v = 1
	}
	c.ThrottleSuppressed.WithLabelValues(listener).Set(v)
}

// IncSuppressions increments the administrative suppressions counter.
func (c *Collector) IncSuppressions(listener string) {
	c.Suppressions.WithLabelValues(listener).Inc()
}
