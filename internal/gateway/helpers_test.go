package gateway_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"slices"
	"sync"
	"testing"

	"github.com/dantte-lp/smgw/internal/gateway"
	"github.com/dantte-lp/smgw/internal/netio"
)

// -------------------------------------------------------------------------
// Test Helpers: packet conn, sender, metrics
// -------------------------------------------------------------------------

var testSrc = netip.MustParseAddrPort("192.0.2.10:40000")

var errSendRefused = errors.New("send refused")

type datagram struct {
	data []byte
	src  netip.AddrPort
}

// fakeConn is an in-memory netio.PacketConn. Deliver blocks until the
// listener has picked the datagram up.
type fakeConn struct {
	local netip.AddrPort
	in    chan datagram
	done  chan struct{}
	once  sync.Once
}

func newFakeConn(addr string) *fakeConn {
	return &fakeConn{
		local: netip.MustParseAddrPort(addr),
		in:    make(chan datagram),
		done:  make(chan struct{}),
	}
}

func (c *fakeConn) ReadPacket(buf []byte) (int, netio.PacketMeta, error) {
	select {
	case d := <-c.in:
		n := copy(buf, d.data)
		return n, netio.PacketMeta{SrcAddr: d.src, Truncated: n == len(buf)}, nil
	case <-c.done:
		return 0, netio.PacketMeta{}, fmt.Errorf("fake read: %w", netio.ErrSocketClosed)
	}
}

func (c *fakeConn) LocalAddr() netip.AddrPort { return c.local }

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *fakeConn) Deliver(data []byte) {
	c.in <- datagram{data: data, src: testSrc}
}

func (c *fakeConn) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

var errReadFailed = errors.New("read failed")

// failingConn is a netio.PacketConn whose reads fail until it is closed.
type failingConn struct {
	*fakeConn

	mu    sync.Mutex
	reads int
}

func newFailingConn(addr string) *failingConn {
	return &failingConn{fakeConn: newFakeConn(addr)}
}

func (c *failingConn) ReadPacket([]byte) (int, netio.PacketMeta, error) {
	if c.closed() {
		return 0, netio.PacketMeta{}, fmt.Errorf("fake read: %w", netio.ErrSocketClosed)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.reads++
	return 0, netio.PacketMeta{}, errReadFailed
}

func (c *failingConn) Reads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reads
}

// recordingSender records every outbound message. Messages for agents in
// failAgents are refused; a message body equal to panicBody panics.
type recordingSender struct {
	mu         sync.Mutex
	msgs       []gateway.Message
	failAgents []string
	panicBody  string
}

func (s *recordingSender) SendMessage(_ context.Context, msg gateway.Message) error {
	if s.panicBody != "" && msg.Body == s.panicBody {
		panic("sender exploded")
	}
	if slices.Contains(s.failAgents, msg.Agent) {
		return errSendRefused
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
	return nil
}

func (s *recordingSender) Messages() []gateway.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.msgs)
}

// recordingMetrics counts MetricsReporter calls by "event/label" keys.
type recordingMetrics struct {
	mu         sync.Mutex
	counts     map[string]int
	suppressed bool
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{counts: make(map[string]int)}
}

func (m *recordingMetrics) inc(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[key]++
}

func (m *recordingMetrics) Count(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[key]
}

func (m *recordingMetrics) IncDatagramsReceived(string) { m.inc("received") }

func (m *recordingMetrics) IncDatagramsDropped(_, reason string) { m.inc("dropped/" + reason) }

func (m *recordingMetrics) IncMessagesAccepted(_, sender string) { m.inc("accepted/" + sender) }

func (m *recordingMetrics) IncForwarded(_, agent string) { m.inc("forwarded/" + agent) }

func (m *recordingMetrics) IncForwardFailures(_, agent string) { m.inc("failed/" + agent) }

func (m *recordingMetrics) SetThrottleState(_ string, suppressed bool) {
	m.mu.Lock()
	m.suppressed = suppressed
	m.mu.Unlock()

	if suppressed {
		m.inc("state/suppressed")
	}
}

// Suppressed returns the last reported throttle state.
func (m *recordingMetrics) Suppressed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.suppressed
}

func (m *recordingMetrics) IncSuppressions(string) { m.inc("suppressions") }

// -------------------------------------------------------------------------
// Test Helpers: configuration
// -------------------------------------------------------------------------

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func mustRegistry(t *testing.T, secrets map[string]string) *gateway.SenderRegistry {
	t.Helper()
	reg, err := gateway.NewSenderRegistry(secrets)
	if err != nil {
		t.Fatalf("NewSenderRegistry: %v", err)
	}
	return reg
}

// aliceConfig is the canonical single-sender, single-recipient listener.
func aliceConfig(t *testing.T, addr string) gateway.ListenerConfig {
	t.Helper()
	return gateway.ListenerConfig{
		Addr:            addr,
		Senders:         mustRegistry(t, map[string]string{"alice": "abc123"}),
		Recipients:      gateway.NewRecipientMap(map[string][]string{"agentX": {"room1"}}),
		Format:          gateway.MustParseMessageFormat(gateway.DefaultFormat),
		MaxDatagramSize: netio.DefaultMaxDatagramSize,
		Throttle: gateway.ThrottleConfig{
			Threshold: gateway.DefaultThrottleThreshold,
			Timespan:  gateway.DefaultThrottleTimespan,
		},
	}
}

func mustSigned(t *testing.T, msg, secret string) []byte {
	t.Helper()
	data, err := gateway.EncodeEnvelope(gateway.Sign(msg, []byte(secret)))
	if err != nil {
		t.Fatalf("EncodeEnvelope: %v", err)
	}
	return data
}

// startListener runs l on a background goroutine and returns a stop
// function that cancels it and waits for Run to return.
func startListener(t *testing.T, l *gateway.Listener) (stop func()) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	return func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Run: %v", err)
		}
	}
}
