// Package session represents a single connection lifecycle, binding a
// network connection with the logger and metrics of the goroutine that
// owns it.
package session

import (
	"net"

	"portopener/internal/metrics"
	"portopener/util"
)

// Accepted is the Index of a session created by the server for an
// inbound connection.
const Accepted = -1

// Session encapsulates the runtime context for a single connection.
// It is owned by exactly one goroutine for its whole lifetime.
type Session struct {
	Conn    net.Conn
	Index   int // client index 0..N-1, or Accepted
	Logger  *util.Logger
	Metrics *metrics.Collector
}

// New creates a Session bound to the given connection.
func New(conn net.Conn, index int, logger *util.Logger, m *metrics.Collector) *Session {
	return &Session{
		Conn:    conn,
		Index:   index,
		Logger:  logger,
		Metrics: m,
	}
}

// Peer returns the remote address as a string.
func (s *Session) Peer() string {
	if addr := s.Conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return "unknown"
}
