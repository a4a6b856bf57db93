// Package transport resolves the loopback endpoint a run uses and
// provides the listen and dial primitives built on it.  Everything
// above this package works with an Endpoint and never inspects IP
// families directly.
package transport

import (
	"context"
	"net"

	"portopener/internal/errors"
	"portopener/util"
)

// Dialer opens outbound connections.  The default implementation is
// TCPDialer; tests substitute recording or failing dialers.
type Dialer interface {
	// Dial establishes a connection to the given network address.
	Dial(ctx context.Context, network, address string) (net.Conn, error)

	// Close releases any long-lived resources held by the dialer.
	// Stateless dialers return nil.
	Close() error
}

// Endpoint is a resolved loopback address for one IP family.
type Endpoint struct {
	Network string // "tcp4" or "tcp6"
	Host    string // "127.0.0.1" or "::1"
	Port    int
}

// Address returns host:port.
func (e Endpoint) Address() string {
	return util.FormatAddr(e.Host, e.Port)
}

// WithPort returns a copy of e bound to a different port.
func (e Endpoint) WithPort(port int) Endpoint {
	e.Port = port
	return e
}

// ResolveLoopback maps an IP version to its loopback endpoint.  Any
// version other than 4 or 6 is a configuration error; no socket is
// touched.
func ResolveLoopback(ipVersion, port int) (Endpoint, error) {
	switch ipVersion {
	case 4:
		return Endpoint{Network: "tcp4", Host: "127.0.0.1", Port: port}, nil
	case 6:
		return Endpoint{Network: "tcp6", Host: "::1", Port: port}, nil
	default:
		return Endpoint{}, &errors.ConfigError{
			Field:   "ipv",
			Value:   ipVersion,
			Message: "unsupported IP version",
			Hint:    "use --ipv 4 for 127.0.0.1 or --ipv 6 for ::1",
		}
	}
}
