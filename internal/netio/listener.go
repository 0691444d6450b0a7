package netio

import (
	"context"
	"fmt"
)

// Listener wraps a PacketConn with a fixed-size receive buffer and a
// context-aware Recv. Cancelling the context passed to Bind closes the
// socket so a blocked Recv returns.
type Listener struct {
	conn    PacketConn
	buf     []byte
	stopper func() bool
}

// NewListenerFromConn creates a Listener reading at most maxSize bytes per
// datagram from conn.
func NewListenerFromConn(conn PacketConn, maxSize int) (*Listener, error) {
	if maxSize <= 0 {
		return nil, fmt.Errorf("listener %s: %w", conn.LocalAddr(), ErrInvalidMaxSize)
	}
	return &Listener{
		conn: conn,
		buf:  make([]byte, maxSize),
	}, nil
}

// Bind arranges for the socket to be closed once ctx is done.
// It may be called at most once per Listener.
func (l *Listener) Bind(ctx context.Context) {
	l.stopper = context.AfterFunc(ctx, func() {
		_ = l.conn.Close()
	})
}

// Recv blocks until a datagram arrives or ctx is cancelled. The returned
// slice aliases the listener's buffer and is valid until the next Recv.
func (l *Listener) Recv(ctx context.Context) ([]byte, PacketMeta, error) {
	if err := ctx.Err(); err != nil {
		return nil, PacketMeta{}, fmt.Errorf("listener recv: %w", err)
	}

	n, meta, err := l.conn.ReadPacket(l.buf)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, PacketMeta{}, fmt.Errorf("listener recv: %w", ctxErr)
		}
		return nil, PacketMeta{}, fmt.Errorf("listener recv: %w", err)
	}

	return l.buf[:n], meta, nil
}

// MaxSize returns the receive buffer size.
func (l *Listener) MaxSize() int {
	return len(l.buf)
}

// LocalAddr returns the bound address.
func (l *Listener) LocalAddr() string {
	return l.conn.LocalAddr().String()
}

// Close stops the context watcher and closes the underlying socket.
func (l *Listener) Close() error {
	if l.stopper != nil {
		l.stopper()
	}
	if err := l.conn.Close(); err != nil {
		return fmt.Errorf("close listener: %w", err)
	}
	return nil
}
