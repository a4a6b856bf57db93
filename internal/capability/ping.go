package capability

import (
	"context"
	"strconv"
	"time"

	"portopener/internal/errors"
	"portopener/internal/session"
)

// PingPayload returns the bytes client index writes on every tick.
func PingPayload(index int) []byte {
	return []byte("ping " + strconv.Itoa(index))
}

// Ping writes the session's ping payload, pauses for a jittered
// interval and repeats on the same connection until ctx is cancelled.
// Replies are drained in the background and only counted.
type Ping struct {
	Jitter Jitter
}

// Handle returns nil on cancellation.  A failed write, or the server
// side going away, ends the loop with a *errors.NetworkError.
func (p *Ping) Handle(ctx context.Context, sess *session.Session) error {
	readErr := make(chan error, 1)
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		readErr <- drain(sess)
	}()
	defer func() {
		// Unblock the drain goroutine and wait for it; the connection
		// itself belongs to the caller.
		sess.Conn.SetReadDeadline(time.Unix(1, 0)) //nolint:errcheck
		<-drained
	}()

	msg := PingPayload(sess.Index)
	for {
		n, err := sess.Conn.Write(msg)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap("write", sess.Peer(), err)
		}
		sess.Metrics.PingSent(n)

		timer := time.NewTimer(p.Jitter.Next())
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case err := <-readErr:
			timer.Stop()
			if ctx.Err() != nil {
				return nil
			}
			return err
		case <-timer.C:
		}
	}
}

// drain reads replies until the connection fails.  It always returns
// a non-nil error.
func drain(sess *session.Session) error {
	buf := make([]byte, 64)
	for {
		n, err := sess.Conn.Read(buf)
		if n > 0 {
			sess.Metrics.PongReceived(n)
			sess.Logger.Debug("client %d received message: %s", sess.Index, buf[:n])
		}
		if err != nil {
			return errors.Wrap("read", sess.Peer(), err)
		}
	}
}
