package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dantte-lp/smgw/internal/netio"
)

// Manager errors.
var (
	// ErrDuplicateListener indicates a second listener on the same address.
	ErrDuplicateListener = errors.New("duplicate listener address")

	// ErrNoListeners indicates Run was called without any listener.
	ErrNoListeners = errors.New("no listeners configured")

	// ErrManagerClosed indicates an operation on a closed manager.
	ErrManagerClosed = errors.New("manager closed")
)

// BindFunc opens the UDP socket of a listener.
type BindFunc func(ctx context.Context, cfg netio.ListenerConfig) (netio.PacketConn, error)

func bindUDP(ctx context.Context, cfg netio.ListenerConfig) (netio.PacketConn, error) {
	return netio.ListenUDP(ctx, cfg)
}

// Manager owns the gateway listeners, runs them and routes administrative
// commands to them.
type Manager struct {
	mu        sync.RWMutex
	listeners []*Listener
	closed    bool

	sender   Sender
	commands *CommandRegistry
	bind     BindFunc
	now      func() time.Time
	metrics  MetricsReporter
	onPanic  func(addr string)
	logger   *slog.Logger
}

// ManagerOption configures optional Manager parameters.
type ManagerOption func(*Manager)

// WithManagerMetrics sets the MetricsReporter handed to every listener.
func WithManagerMetrics(mr MetricsReporter) ManagerOption {
	return func(m *Manager) {
		if mr != nil {
			m.metrics = mr
		}
	}
}

// WithBinder replaces the socket factory used by AddListener.
func WithBinder(bind BindFunc) ManagerOption {
	return func(m *Manager) {
		if bind != nil {
			m.bind = bind
		}
	}
}

// WithManagerClock sets the time source of every listener's throttle gate.
func WithManagerClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithPanicHook sets the function every listener calls after recovering
// from a panic while processing a datagram.
func WithPanicHook(fn func(addr string)) ManagerOption {
	return func(m *Manager) {
		m.onPanic = fn
	}
}

// NewManager creates a Manager forwarding verified messages through sender.
// The built-in smshutup and smhelp commands are registered.
func NewManager(sender Sender, logger *slog.Logger, opts ...ManagerOption) *Manager {
	m := &Manager{
		sender:   sender,
		commands: NewCommandRegistry(),
		bind:     bindUDP,
		now:      time.Now,
		metrics:  noopMetrics{},
		logger:   logger.With(slog.String("component", "gateway.manager")),
	}
	for _, opt := range opts {
		opt(m)
	}

	// Names are fixed and distinct; registration cannot fail.
	_ = m.commands.Register(shutupCommand(m))
	_ = m.commands.Register(helpCommand(m.commands))

	return m
}

// Commands returns the manager's command registry.
func (m *Manager) Commands() *CommandRegistry {
	return m.commands
}

// AddListener binds the socket for cfg and registers a new listener.
// The listener starts receiving once Run is called.
func (m *Manager) AddListener(ctx context.Context, cfg ListenerConfig) (*Listener, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("add listener: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrManagerClosed
	}
	if slices.ContainsFunc(m.listeners, func(l *Listener) bool { return l.addr == cfg.Addr }) {
		return nil, fmt.Errorf("add listener %s: %w", cfg.Addr, ErrDuplicateListener)
	}

	conn, err := m.bind(ctx, netio.ListenerConfig{
		Addr:       cfg.Addr,
		RecvBuffer: cfg.RecvBuffer,
	})
	if err != nil {
		return nil, fmt.Errorf("add listener %s: %w", cfg.Addr, err)
	}

	l, err := NewListener(conn, cfg, m.sender, m.logger,
		WithListenerMetrics(m.metrics),
		WithListenerClock(m.now),
		WithListenerPanicHook(m.onPanic),
	)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("add listener %s: %w", cfg.Addr, err)
	}

	m.listeners = append(m.listeners, l)
	m.logger.Info("listener added",
		slog.String("listener", cfg.Addr),
		slog.String("local_addr", l.LocalAddr()),
	)
	return l, nil
}

// Run runs every listener concurrently until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.RLock()
	listeners := slices.Clone(m.listeners)
	closed := m.closed
	m.mu.RUnlock()

	if closed {
		return ErrManagerClosed
	}
	if len(listeners) == 0 {
		return ErrNoListeners
	}

	g, gCtx := errgroup.WithContext(ctx)
	for _, l := range listeners {
		g.Go(func() error {
			return l.Run(gCtx)
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run listeners: %w", err)
	}
	return nil
}

// SuppressRecipient suppresses every listener that forwards to whom for d
// and returns the number of listeners affected.
func (m *Manager) SuppressRecipient(whom string, d time.Duration) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	affected := 0
	for _, l := range m.listeners {
		if !l.Serves(whom) {
			continue
		}
		l.SuppressFor(d)
		affected++
	}

	m.logger.Info("suppressed listeners",
		slog.String("whom", whom),
		slog.Duration("duration", d),
		slog.Int("affected", affected),
	)
	return affected
}

// Help returns the names of the registered commands.
func (m *Manager) Help() []string {
	return m.commands.Names()
}

// Receive dispatches chat text through the command registry. It returns
// handled=false for text that is not a known command.
func (m *Manager) Receive(ctx context.Context, msg InboundMessage) (reply string, handled bool) {
	reply, handled, err := m.commands.Dispatch(ctx, msg)
	if err != nil {
		m.logger.Warn("command failed",
			slog.String("whom", msg.Whom),
			slog.String("error", err.Error()),
		)
		return "", handled
	}
	if handled {
		m.logger.Debug("command handled",
			slog.String("whom", msg.Whom),
			slog.String("author", msg.Author),
		)
	}
	return reply, handled
}

// Listeners returns snapshots of all listeners in registration order.
func (m *Manager) Listeners() []ListenerSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ListenerSnapshot, 0, len(m.listeners))
	for _, l := range m.listeners {
		out = append(out, l.Snapshot())
	}
	return out
}

// Close closes every listener socket. Running listeners return from Run.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	var errs []error
	for _, l := range m.listeners {
		if err := l.Close(); err != nil && !errors.Is(err, netio.ErrSocketClosed) {
			errs = append(errs, err)
		}
	}

	m.logger.Info("manager closed", slog.Int("listeners", len(m.listeners)))
	return errors.Join(errs...)
}
