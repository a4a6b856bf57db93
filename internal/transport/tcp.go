package transport

import (
	"context"
	"net"
	"time"

	"portopener/internal/errors"
)

// TCPDialer establishes plain TCP connections.
type TCPDialer struct {
	Timeout time.Duration
}

// Dial connects to address over TCP.
func (d *TCPDialer) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	dialer := net.Dialer{Timeout: d.Timeout}
	return dialer.DialContext(ctx, network, address)
}

// Close is a no-op for stateless TCP dialers.
func (d *TCPDialer) Close() error { return nil }

// Listen binds a TCP listener on ep.  Failures are returned as a
// *errors.NetworkError with Op "listen".
func Listen(ctx context.Context, ep Endpoint) (net.Listener, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, ep.Network, ep.Address())
	if err != nil {
		return nil, errors.Wrap("listen", ep.Address(), err)
	}
	return ln, nil
}
