// Package capability defines what happens over an established
// connection.  The server runs Echo on every accepted connection and
// each client loop runs Ping on its outbound one.  Both operate on a
// Session rather than a raw net.Conn.
package capability

import (
	"context"

	"portopener/internal/session"
)

// Capability handles a single connection according to a specific
// behaviour.
type Capability interface {
	// Handle runs the capability against the given session.
	// It blocks until the connection is done or the context is
	// cancelled.  Cancellation is not an error.
	Handle(ctx context.Context, sess *session.Session) error
}
