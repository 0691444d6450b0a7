//go:build !unix

package netio

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
)

// UDPConn implements PacketConn over a UDP socket. Socket options are not
// tuned on this platform.
type UDPConn struct {
	conn      *net.UDPConn
	localAddr netip.AddrPort
	closed    bool
	mu        sync.Mutex
}

// ListenUDP binds a UDP socket at cfg.Addr.
func ListenUDP(ctx context.Context, cfg ListenerConfig) (*UDPConn, error) {
	var lc net.ListenConfig
	pc, err := lc.ListenPacket(ctx, "udp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen UDP %s: %w", cfg.Addr, err)
	}
	conn, ok := pc.(*net.UDPConn)
	if !ok {
		return nil, errors.Join(
			fmt.Errorf("listen UDP %s: %w", cfg.Addr, ErrUnexpectedConnType),
			pc.Close(),
		)
	}
	return &UDPConn{conn: conn, localAddr: conn.LocalAddr().(*net.UDPAddr).AddrPort()}, nil
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
	return n, PacketMeta{SrcAddr: src, Truncated: n == len(buf)}, nil
}

// LocalAddr returns the bound address and port.
func (c *UDPConn) LocalAddr() netip.AddrPort {
	return c.localAddr
}

// Close releases the socket.
func (c *UDPConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}
