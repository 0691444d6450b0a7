// Package netio provides the UDP socket abstractions for gateway listeners.
//
// Sockets are created through net.ListenConfig with options applied via
// golang.org/x/sys/unix (SO_REUSEADDR, SO_RCVBUF). The PacketConn interface
// keeps the receive loop testable without real sockets.
package netio
