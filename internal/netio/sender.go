package netio

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// SendDatagram sends payload as a single UDP datagram to addr (host:port).
// No response is expected or read.
func SendDatagram(ctx context.Context, addr string, payload []byte) (retErr error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer func() {
		if closeErr := conn.Close(); closeErr != nil {
			retErr = errors.Join(retErr, fmt.Errorf("close %s: %w", addr, closeErr))
		}
	}()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetWriteDeadline(deadline); err != nil {
			return fmt.Errorf("set write deadline: %w", err)
		}
	}

	if _, err := conn.Write(payload); err != nil {
		return fmt.Errorf("send datagram to %s: %w", addr, err)
	}
	return nil
}
