package netio_test

import (
	"context"
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/dantte-lp/smgw/internal/netio"
)

func TestNewListenerFromConnInvalidSize(t *testing.T) {
	t.Parallel()

	conn := NewMockPacketConn(netip.MustParseAddrPort("127.0.0.1:45678"))
	if _, err := netio.NewListenerFromConn(conn, 0); !errors.Is(err, netio.ErrInvalidMaxSize) {
		t.Errorf("NewListenerFromConn(0) = %v, want ErrInvalidMaxSize", err)
	}
}

// TestListenerRecv verifies datagram delivery and truncation reporting.
func TestListenerRecv(t *testing.T) {
	t.Parallel()

	conn := NewMockPacketConn(netip.MustParseAddrPort("127.0.0.1:45678"))
	l, err := netio.NewListenerFromConn(conn, 8)
	if err != nil {
		t.Fatalf("NewListenerFromConn: %v", err)
	}
	defer l.Close()

	conn.Queue([]byte("short"))
	conn.Queue([]byte("much longer than eight"))

	pkt, meta, err := l.Recv(context.Background())
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if string(pkt) != "short" || meta.Truncated {
		t.Errorf("Recv = (%q, truncated=%v), want (short, false)", pkt, meta.Truncated)
	}

	pkt, meta, err = l.Recv(context.Background())
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if string(pkt) != "much lon" || !meta.Truncated {
		t.Errorf("Recv = (%q, truncated=%v), want (much lon, true)", pkt, meta.Truncated)
	}

	if l.MaxSize() != 8 {
		t.Errorf("MaxSize() = %d, want 8", l.MaxSize())
	}
	if l.LocalAddr() != "127.0.0.1:45678" {
		t.Errorf("LocalAddr() = %q", l.LocalAddr())
	}
}

func TestListenerRecvError(t *testing.T) {
	t.Parallel()

	conn := NewMockPacketConn(netip.MustParseAddrPort("127.0.0.1:45678"))
	conn.ReadErr = errMockRead
	l, err := netio.NewListenerFromConn(conn, 64)
	if err != nil {
		t.Fatalf("NewListenerFromConn: %v", err)
	}
	defer l.Close()

	if _, _, err := l.Recv(context.Background()); !errors.Is(err, errMockRead) {
		t.Errorf("Recv() = %v, want %v", err, errMockRead)
	}
}

// TestListenerBindCancel verifies that cancelling the bound context closes
// the socket and unblocks a pending Recv with the context error.
func TestListenerBindCancel(t *testing.T) {
	t.Parallel()

	conn := NewMockPacketConn(netip.MustParseAddrPort("127.0.0.1:45678"))
	l, err := netio.NewListenerFromConn(conn, 64)
	if err != nil {
		t.Fatalf("NewListenerFromConn: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	l.Bind(ctx)

	done := make(chan error, 1)
	go func() {
		_, _, recvErr := l.Recv(ctx)
		done <- recvErr
	}()

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Recv after cancel = %v, want context.Canceled", err)
	}

	// The context watcher closes the socket asynchronously.
	deadline := time.Now().Add(5 * time.Second)
	for conn.Closes() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("socket not closed after cancel")
		}
		time.Sleep(time.Millisecond)
	}

	if err := l.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
