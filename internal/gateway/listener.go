package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/dantte-lp/smgw/internal/netio"
)

// -------------------------------------------------------------------------
// ListenerConfig
// -------------------------------------------------------------------------

// Delay bounds between consecutive failed reads.
const (
	recvBackoffMin = 100 * time.Millisecond
	recvBackoffMax = 5 * time.Second
)

// Listener configuration errors.
var (
	// ErrEmptyListenerAddr indicates a listener without a bind address.
	ErrEmptyListenerAddr = errors.New("listener address must not be empty")

	// ErrNoSenders indicates a listener without any trusted sender.
	ErrNoSenders = errors.New("listener has no senders")

	// ErrNoRecipients indicates a listener without any recipient.
	ErrNoRecipients = errors.New("listener has no recipients")
)

// ListenerConfig is the immutable configuration of one gateway listener.
type ListenerConfig struct {
	// Addr is the UDP bind address in host:port form.
	Addr string

	// Senders are the trusted senders of this listener.
	Senders *SenderRegistry

	// Recipients are the downstream recipients of forwarded messages.
	Recipients RecipientMap

	// Format renders forwarded message bodies.
	Format MessageFormat

	// MaxDatagramSize is the receive buffer size in bytes.
	MaxDatagramSize int

	// RecvBuffer sets the socket receive buffer when > 0.
	RecvBuffer int

	// Throttle holds the throttle gate parameters.
	Throttle ThrottleConfig
}

// Validate checks the listener configuration.
func (c ListenerConfig) Validate() error {
	if c.Addr == "" {
		return ErrEmptyListenerAddr
	}
	if c.Senders == nil || c.Senders.Len() == 0 {
		return fmt.Errorf("listener %s: %w", c.Addr, ErrNoSenders)
	}
	if c.Recipients.Len() == 0 {
		return fmt.Errorf("listener %s: %w", c.Addr, ErrNoRecipients)
	}
	if c.MaxDatagramSize <= 0 {
		return fmt.Errorf("listener %s: %w", c.Addr, netio.ErrInvalidMaxSize)
	}
	if err := c.Throttle.Validate(); err != nil {
		return fmt.Errorf("listener %s: %w", c.Addr, err)
	}
	return nil
}

// -------------------------------------------------------------------------
// Listener: receive → throttle → decode → verify → forward
// -------------------------------------------------------------------------

// Listener owns one UDP socket and its throttle gate. Run processes one
// datagram at a time; a malformed or malicious datagram never stops it.
type Listener struct {
	addr    string
	sock    *netio.Listener
	senders *SenderRegistry
	rcps    RecipientMap
	format  MessageFormat
	gate    *ThrottleGate
	router  *Router
	metrics MetricsReporter
	onPanic func(addr string)
	logger  *slog.Logger
}

// ListenerOption configures optional Listener parameters.
type ListenerOption func(*listenerOptions)

type listenerOptions struct {
	metrics MetricsReporter
	now     func() time.Time
	onPanic func(addr string)
}

// WithListenerMetrics attaches a MetricsReporter to the listener.
func WithListenerMetrics(mr MetricsReporter) ListenerOption {
	return func(o *listenerOptions) {
		if mr != nil {
			o.metrics = mr
		}
	}
}

// WithListenerClock sets the time source of the listener's throttle gate.
func WithListenerClock(now func() time.Time) ListenerOption {
	return func(o *listenerOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// WithListenerPanicHook sets a function called with the listener address
// after a panic during datagram processing has been recovered.
func WithListenerPanicHook(fn func(addr string)) ListenerOption {
	return func(o *listenerOptions) {
		o.onPanic = fn
	}
}

// NewListener creates a Listener reading from conn and forwarding through
// sender. The listener takes ownership of conn.
func NewListener(
	conn netio.PacketConn,
	cfg ListenerConfig,
	sender Sender,
	logger *slog.Logger,
	opts ...ListenerOption,
) (*Listener, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := listenerOptions{metrics: noopMetrics{}, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	sock, err := netio.NewListenerFromConn(conn, cfg.MaxDatagramSize)
	if err != nil {
		return nil, fmt.Errorf("listener %s: %w", cfg.Addr, err)
	}

	logger = logger.With(
		slog.String("component", "gateway.listener"),
		slog.String("listener", cfg.Addr),
	)

	return &Listener{
		addr:    cfg.Addr,
		sock:    sock,
		senders: cfg.Senders,
		rcps:    cfg.Recipients,
		format:  cfg.Format,
		gate:    NewThrottleGate(cfg.Throttle, WithThrottleClock(o.now)),
		router:  NewRouter(sender, cfg.Addr, o.metrics, logger),
		metrics: o.metrics,
		onPanic: o.onPanic,
		logger:  logger,
	}, nil
}

// Addr returns the configured bind address.
func (l *Listener) Addr() string {
	return l.addr
}

// LocalAddr returns the address the socket is actually bound to.
func (l *Listener) LocalAddr() string {
	return l.sock.LocalAddr()
}

// Run receives and processes datagrams until ctx is cancelled or the socket
// is closed. Cancelling ctx closes the socket to unblock the pending read.
func (l *Listener) Run(ctx context.Context) error {
	l.sock.Bind(ctx)

	l.logger.Info("listener starting up",
		slog.String("local_addr", l.sock.LocalAddr()),
		slog.Int("senders", l.senders.Len()),
		slog.Int("recipients", l.rcps.Len()),
	)

	backoff := recvBackoffMin
	for {
		pkt, meta, err := l.sock.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				l.logger.Info("listener stopped")
				return nil
			}
			if errors.Is(err, netio.ErrSocketClosed) {
				l.logger.Info("listener socket closed")
				return nil
			}
			l.logger.Warn("recv error",
				slog.String("error", err.Error()),
				slog.Duration("backoff", backoff),
			)

			select {
			case <-ctx.Done():
				l.logger.Info("listener stopped")
				return nil
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, recvBackoffMax)
			continue
		}
		backoff = recvBackoffMin

		l.metrics.IncDatagramsReceived(l.addr)
		l.handleDatagram(ctx, pkt, meta)
	}
}

// handleDatagram runs the per-datagram pipeline. Panics are recovered so
// the receive loop survives any single datagram.
func (l *Listener) handleDatagram(ctx context.Context, pkt []byte, meta netio.PacketMeta) {
	src := meta.SrcAddr.String()

	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)

			l.metrics.IncDatagramsDropped(l.addr, DropInternal)
			l.logger.Error("panic during processing of datagram",
				slog.String("src", src),
				slog.Int("size", len(pkt)),
				slog.Any("panic", r),
				slog.String("stack", string(buf[:n])),
			)
			if l.onPanic != nil {
				l.onPanic(l.addr)
			}
		}
	}()

	if !l.gate.PreCheck() {
		l.metrics.SetThrottleState(l.addr, true)
		l.metrics.IncDatagramsDropped(l.addr, DropThrottled)
		l.logger.Debug("throttled, ignoring datagram", slog.String("src", src))
		return
	}
	l.metrics.SetThrottleState(l.addr, false)

	env, err := DecodeEnvelope(pkt)
	if err != nil {
		l.metrics.IncDatagramsDropped(l.addr, DropDecode)
		l.logger.Warn("couldn't parse datagram",
			slog.String("src", src),
			slog.Int("size", len(pkt)),
			slog.Bool("truncated", meta.Truncated),
			slog.String("error", err.Error()),
		)
		return
	}

	snick, ok := l.senders.Verify(env)
	if !ok {
		l.metrics.IncDatagramsDropped(l.addr, DropAuth)
		l.logger.Warn("couldn't authenticate against known senders",
			slog.String("src", src),
		)
		return
	}
	l.metrics.IncMessagesAccepted(l.addr, snick)

	body := l.format.Render(snick, env.Msg, src)
	sent := l.router.Fanout(ctx, l.rcps, body, snick)

	l.logger.Debug("message forwarded",
		slog.String("src", src),
		slog.String("sender", snick),
		slog.Int("recipients", l.rcps.Len()),
		slog.Int("sent", sent),
	)

	l.gate.RecordSuccess()
}

// Serves reports whether whom is one of the listener's recipients.
func (l *Listener) Serves(whom string) bool {
	return l.rcps.Contains(whom)
}

// SuppressFor forces the listener's throttle gate into the Suppressed state
// for roughly d. Safe to call concurrently with Run.
func (l *Listener) SuppressFor(d time.Duration) {
	l.gate.SuppressFor(d)
	l.metrics.SetThrottleState(l.addr, true)
	l.metrics.IncSuppressions(l.addr)
}

// ListenerSnapshot is a read-only view of a listener.
type ListenerSnapshot struct {
	Addr       string
	LocalAddr  string
	Format     string
	MaxSize    int
	Senders    []string
	Recipients map[string][]string
	Throttle   ThrottleSnapshot
}

// Snapshot returns the listener's current state and refreshes the throttle
// gauge from it.
func (l *Listener) Snapshot() ListenerSnapshot {
	throttle := l.gate.Snapshot()
	l.metrics.SetThrottleState(l.addr, throttle.State == ThrottleSuppressed)

	return ListenerSnapshot{
		Addr:       l.addr,
		LocalAddr:  l.sock.LocalAddr(),
		Format:     l.format.String(),
		MaxSize:    l.sock.MaxSize(),
		Senders:    l.senders.Names(),
		Recipients: l.rcps.Map(),
		Throttle:   throttle,
	}
}

// Close closes the listener socket.
func (l *Listener) Close() error {
	return l.sock.Close()
}
