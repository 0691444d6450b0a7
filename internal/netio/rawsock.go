package netio

import (
	"errors"
	"net/netip"
)

// DefaultMaxDatagramSize is the receive buffer size used when a listener
// does not configure one.
const DefaultMaxDatagramSize = 4096

// Socket errors.
var (
	// ErrSocketClosed indicates an operation on a closed socket.
	ErrSocketClosed = errors.New("socket closed")

	// ErrUnexpectedConnType indicates net.ListenConfig returned something
	// other than *net.UDPConn.
	ErrUnexpectedConnType = errors.New("unexpected connection type from ListenPacket")

	// ErrInvalidMaxSize indicates a non-positive datagram size.
	ErrInvalidMaxSize = errors.New("max datagram size must be > 0")
)

// PacketMeta carries transport metadata of a received datagram.
type PacketMeta struct {
	// SrcAddr is the sender's address and port.
	SrcAddr netip.AddrPort

	// Truncated is set when the datagram filled the whole receive buffer
	// and may have been cut short.
	Truncated bool
}

// PacketConn abstracts a bound datagram socket.
//
// The interface is intentionally minimal so listeners can be tested with
// in-memory implementations.
type PacketConn interface {
	// ReadPacket blocks until a datagram is read into buf.
	ReadPacket(buf []byte) (n int, meta PacketMeta, err error)

	// LocalAddr returns the bound address.
	LocalAddr() netip.AddrPort

	// Close releases the socket and unblocks a pending ReadPacket.
	Close() error
}

// ListenerConfig holds the socket parameters of one gateway listener.
type ListenerConfig struct {
	// Addr is the bind address in host:port form.
	Addr string

	// RecvBuffer sets SO_RCVBUF when > 0.
	RecvBuffer int
}
