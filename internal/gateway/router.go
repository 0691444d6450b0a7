package gateway

import (
	"context"
	"log/slog"
	"maps"
	"slices"
)

// Message is an outbound message handed to the external messaging system.
type Message struct {
	// Body is the formatted message text.
	Body string

	// Author is the authenticated sender nickname.
	Author string

	// Agent identifies the downstream agent that delivers the message.
	Agent string

	// Whom identifies the recipient within the agent.
	Whom string
}

// Sender is the external send primitive. Delivery semantics (retry,
// ordering, failure reporting) belong to the implementation; the gateway
// treats every call as fire-and-forget.
type Sender interface {
	SendMessage(ctx context.Context, msg Message) error
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(ctx context.Context, msg Message) error

// SendMessage calls f(ctx, msg).
func (f SenderFunc) SendMessage(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

// -------------------------------------------------------------------------
// RecipientMap
// -------------------------------------------------------------------------

// RecipientMap maps a downstream agent to its recipient identifiers.
// It is immutable after construction.
type RecipientMap struct {
	agents []string
	whoms  map[string][]string
}

// NewRecipientMap builds a RecipientMap. Recipient lists are de-duplicated
// and sorted; agents without recipients are dropped.
func NewRecipientMap(rcps map[string][]string) RecipientMap {
	whoms := make(map[string][]string, len(rcps))
	for agent, list := range rcps {
		set := slices.Clone(list)
		slices.Sort(set)
		set = slices.Compact(set)
		if len(set) == 0 {
			continue
		}
		whoms[agent] = set
	}

	return RecipientMap{
		agents: slices.Sorted(maps.Keys(whoms)),
		whoms:  whoms,
	}
}

// Agents returns the agent identifiers in sorted order.
func (m RecipientMap) Agents() []string {
	return slices.Clone(m.agents)
}

// Recipients returns the recipients served through agent.
func (m RecipientMap) Recipients(agent string) []string {
	return slices.Clone(m.whoms[agent])
}

// Contains reports whether whom is a recipient of any agent.
func (m RecipientMap) Contains(whom string) bool {
	for _, set := range m.whoms {
		if _, found := slices.BinarySearch(set, whom); found {
			return true
		}
	}
	return false
}

// Len returns the total number of (agent, whom) pairs.
func (m RecipientMap) Len() int {
	n := 0
	for _, set := range m.whoms {
		n += len(set)
	}
	return n
}

// Map returns a copy of the underlying mapping.
func (m RecipientMap) Map() map[string][]string {
	out := make(map[string][]string, len(m.whoms))
	for agent, set := range m.whoms {
		out[agent] = slices.Clone(set)
	}
	return out
}

// -------------------------------------------------------------------------
// Forward Router
// -------------------------------------------------------------------------

// Router delivers verified messages to downstream recipients through the
// external Sender. Failures are logged and counted, never retried.
type Router struct {
	sender   Sender
	listener string
	metrics  MetricsReporter
	logger   *slog.Logger
}

// NewRouter creates a Router for the listener named listener.
func NewRouter(sender Sender, listener string, metrics MetricsReporter, logger *slog.Logger) *Router {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Router{
		sender:   sender,
		listener: listener,
		metrics:  metrics,
		logger:   logger.With(slog.String("component", "gateway.router")),
	}
}

// Send delivers one message and reports whether the Sender accepted it.
func (r *Router) Send(ctx context.Context, body, author, agent, whom string) bool {
	err := r.sender.SendMessage(ctx, Message{
		Body:   body,
		Author: author,
		Agent:  agent,
		Whom:   whom,
	})
	if err != nil {
		r.metrics.IncForwardFailures(r.listener, agent)
		r.logger.Warn("forward failed",
			slog.String("listener", r.listener),
			slog.String("agent", agent),
			slog.String("whom", whom),
			slog.String("error", err.Error()),
		)
		return false
	}

	r.metrics.IncForwarded(r.listener, agent)
	return true
}

// Fanout sends the message once per (agent, whom) pair of rcps and returns
// the number of accepted sends.
func (r *Router) Fanout(ctx context.Context, rcps RecipientMap, body, author string) int {
	sent := 0
	for _, agent := range rcps.agents {
		for _, whom := range rcps.whoms[agent] {
			if r.Send(ctx, body, author, agent, whom) {
				sent++
			}
		}
	}
	return sent
}
