package capability

import (
	"context"

	"portopener/internal/errors"
	"portopener/internal/session"
	"portopener/util"
)

// pong is the reply the server writes for every read event.
const pong = "pong"

// Echo answers each read on the connection with one fixed reply.  The
// received bytes are logged, never parsed: a read that coalesced
// several pings still produces a single reply.
type Echo struct {
	Reply []byte // defaults to "pong"
}

func (e *Echo) reply() []byte {
	if len(e.Reply) > 0 {
		return e.Reply
	}
	return []byte(pong)
}

// Handle reads until the peer disconnects or the connection is closed
// underneath it.  Neither is reported as an error.
func (e *Echo) Handle(ctx context.Context, sess *session.Session) error {
	buf := util.GetBuf()
	defer util.PutBuf(buf)

	reply := e.reply()
	for {
		n, err := sess.Conn.Read(*buf)
		if n > 0 {
			sess.Metrics.BytesReceived(n)
			sess.Logger.Verbose("server received message: %s", (*buf)[:n])

			w, werr := sess.Conn.Write(reply)
			if werr != nil {
				return closeErr(ctx, "write", sess.Peer(), werr)
			}
			sess.Metrics.PongSent(w)
		}
		if err != nil {
			return closeErr(ctx, "read", sess.Peer(), err)
		}
	}
}

// closeErr filters out the errors a connection produces when it ends
// normally or because ctx was cancelled.
func closeErr(ctx context.Context, op, addr string, err error) error {
	if ctx.Err() != nil || util.IsClosed(err) {
		return nil
	}
	return errors.Wrap(op, addr, err)
}
