package netio_test

import (
	"errors"
	"net/netip"
	"sync"

	"github.com/dantte-lp/smgw/internal/netio"
)

// -------------------------------------------------------------------------
// MockPacketConn: Test double for PacketConn
// -------------------------------------------------------------------------

// MockPacketConn implements netio.PacketConn for testing without real sockets.
// Queued datagrams are returned in order; once the queue is empty
// ReadPacket blocks until Close.
type MockPacketConn struct {
	mu        sync.Mutex
	localAddr netip.AddrPort
	queue     chan []byte
	done      chan struct{}
	closes    int

	// ReadErr, when set, is returned by the next ReadPacket call.
	ReadErr error
}

// NewMockPacketConn creates a MockPacketConn with the given local address.
func NewMockPacketConn(addr netip.AddrPort) *MockPacketConn {
	return &MockPacketConn{
		localAddr: addr,
		queue:     make(chan []byte, 16),
		done:      make(chan struct{}),
	}
}

// Queue appends a datagram for ReadPacket.
func (m *MockPacketConn) Queue(data []byte) {
	m.queue <- data
}

// ReadPacket implements PacketConn.ReadPacket.
func (m *MockPacketConn) ReadPacket(buf []byte) (int, netio.PacketMeta, error) {
	m.mu.Lock()
	if err := m.ReadErr; err != nil {
		m.ReadErr = nil
		m.mu.Unlock()
		return 0, netio.PacketMeta{}, err
	}
	m.mu.Unlock()

	select {
	case data := <-m.queue:
		n := copy(buf, data)
		return n, netio.PacketMeta{
			SrcAddr:   netip.MustParseAddrPort("192.0.2.1:50000"),
			Truncated: n == len(buf),
		}, nil
	case <-m.done:
		return 0, netio.PacketMeta{}, netio.ErrSocketClosed
	}
}

// Close implements PacketConn.Close.
func (m *MockPacketConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closes++
	if m.closes == 1 {
		close(m.done)
	}
	return nil
}

// Closes returns the number of Close calls.
func (m *MockPacketConn) Closes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closes
}

// LocalAddr implements PacketConn.LocalAddr.
func (m *MockPacketConn) LocalAddr() netip.AddrPort {
	return m.localAddr
}

var errMockRead = errors.New("mock: read failed")
