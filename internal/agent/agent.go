// Package agent routes forwarded gateway messages to downstream messaging
// backends.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/dantte-lp/smgw/internal/gateway"
)

// Registry errors.
var (
	// ErrUnknownAgent indicates a message addressed to an unregistered agent.
	ErrUnknownAgent = errors.New("unknown agent")

	// ErrDuplicateAgent indicates a second agent with the same name.
	ErrDuplicateAgent = errors.New("duplicate agent")

	// ErrEmptyAgentName indicates an agent registered without a name.
	ErrEmptyAgentName = errors.New("agent name must not be empty")
)

// Deliverer delivers one message to a backend.
type Deliverer interface {
	Deliver(ctx context.Context, msg gateway.Message) error
}

// DelivererFunc adapts a function to the Deliverer interface.
type DelivererFunc func(ctx context.Context, msg gateway.Message) error

// Deliver calls f(ctx, msg).
func (f DelivererFunc) Deliver(ctx context.Context, msg gateway.Message) error {
	return f(ctx, msg)
}

// Registry maps agent names to Deliverers. It implements gateway.Sender.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]Deliverer
	logger *slog.Logger
}

var _ gateway.Sender = (*Registry)(nil)

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		agents: make(map[string]Deliverer),
		logger: logger.With(slog.String("component", "agent.registry")),
	}
}

// Register adds d under name.
func (r *Registry) Register(name string, d Deliverer) error {
	if name == "" {
		return ErrEmptyAgentName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[name]; exists {
		return fmt.Errorf("agent %s: %w", name, ErrDuplicateAgent)
	}
	r.agents[name] = d
	r.logger.Info("agent registered", slog.String("agent", name))
	return nil
}

// Names returns the registered agent names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.agents))
}

// SendMessage routes msg to the agent named by msg.Agent.
func (r *Registry) SendMessage(ctx context.Context, msg gateway.Message) error {
	r.mu.RLock()
	d, ok := r.agents[msg.Agent]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("send to %s: %w", msg.Agent, ErrUnknownAgent)
	}
	if err := d.Deliver(ctx, msg); err != nil {
		return fmt.Errorf("send to %s/%s: %w", msg.Agent, msg.Whom, err)
	}
	return nil
}
