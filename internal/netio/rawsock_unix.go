//go:build unix

package netio

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// UDPConn implements PacketConn over a kernel UDP socket.
type UDPConn struct {
	conn      *net.UDPConn
	localAddr netip.AddrPort
	closed    bool
	mu        sync.Mutex
}

// ListenUDP binds a UDP socket according to cfg.
//
// Socket options:
//   - SO_REUSEADDR so a restarted gateway can rebind immediately
//   - SO_RCVBUF when cfg.RecvBuffer > 0, to absorb bursts
func ListenUDP(ctx context.Context, cfg ListenerConfig) (*UDPConn, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			return setSocketOpts(c, cfg.RecvBuffer)
		},
	}

	pc, err := lc.ListenPacket(ctx, "udp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen UDP %s: %w", cfg.Addr, err)
	}

	conn, ok := pc.(*net.UDPConn)
	if !ok {
		closeErr := pc.Close()
		return nil, errors.Join(
			fmt.Errorf("listen UDP %s: %w", cfg.Addr, ErrUnexpectedConnType),
			closeErr,
		)
	}

	return &UDPConn{
		conn:      conn,
		localAddr: conn.LocalAddr().(*net.UDPAddr).AddrPort(),
	}, nil
}

// ReadPacket reads a single datagram into buf.
func (c *UDPConn) ReadPacket(buf []byte) (int, PacketMeta, error) {
	n, src, err := c.conn.ReadFromUDPAddrPort(buf)
	if err != nil {
		if errors.Is(err, net.ErrClosed) {
			return 0, PacketMeta{}, fmt.Errorf("read datagram: %w", ErrSocketClosed)
		}
		return 0, PacketMeta{}, fmt.Errorf("read datagram: %w", err)
	}

	return n, PacketMeta{
		SrcAddr:   netip.AddrPortFrom(src.Addr().Unmap(), src.Port()),
		Truncated: n == len(buf),
	}, nil
}

// LocalAddr returns the bound address and port.
func (c *UDPConn) LocalAddr() netip.AddrPort {
	return c.localAddr
}

// Close releases the socket. Calling Close more than once is a no-op.
func (c *UDPConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("close UDP socket %s: %w", c.localAddr, err)
	}
	return nil
}

// setSocketOpts applies the listener socket options via the Control callback.
func setSocketOpts(c syscall.RawConn, recvBuffer int) error {
	var sockErr error

	err := c.Control(func(fd uintptr) {
		//nolint:gosec // G115: fd uintptr->int is safe; kernel FDs are always small positive integers.
		intFD := int(fd)

		if sockErr = unix.SetsockoptInt(
			intFD, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1,
		); sockErr != nil {
			sockErr = fmt.Errorf("set SO_REUSEADDR: %w", sockErr)
			return
		}

		if recvBuffer > 0 {
			if sockErr = unix.SetsockoptInt(
				intFD, unix.SOL_SOCKET, unix.SO_RCVBUF, recvBuffer,
			); sockErr != nil {
				sockErr = fmt.Errorf("set SO_RCVBUF=%d: %w", recvBuffer, sockErr)
			}
		}
	})
	if err != nil {
		return fmt.Errorf("raw conn control: %w", err)
	}

	return sockErr
}
