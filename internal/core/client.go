package core

import (
	"context"

	"portopener/internal/capability"
	"portopener/internal/errors"
	"portopener/internal/metrics"
	"portopener/internal/session"
	"portopener/internal/transport"
	"portopener/util"
)

// Client owns one outbound connection for its whole life: it dials
// once, runs Capability on the connection and closes it on return.
// A failed dial is not retried.
type Client struct {
	Index      int
	Network    string
	Address    string
	Dialer     transport.Dialer
	Capability capability.Capability
	Logger     *util.Logger
	Metrics    *metrics.Collector
}

// Run returns nil when ctx is cancelled and a *errors.NetworkError when
// the connection cannot be established or is lost.
func (c *Client) Run(ctx context.Context) error {
	conn, err := c.Dialer.Dial(ctx, c.Network, c.Address)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return errors.Wrap("dial", c.Address, err)
	}
	c.Metrics.ClientConnOpened()
	defer func() {
		conn.Close()
		c.Metrics.ClientConnClosed()
	}()

	// Unblocks a write stuck on a full send buffer.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	c.Logger.Verbose("client %d made connection: %s", c.Index, conn.RemoteAddr())

	sess := session.New(conn, c.Index, c.Logger, c.Metrics)
	err = c.Capability.Handle(ctx, sess)
	c.Logger.Verbose("client %d closed connection: %v", c.Index, err)
	return err
}
