package core

import (
	"context"
	"net"
	"sync"
	"time"

	"portopener/internal/capability"
	"portopener/internal/errors"
	"portopener/internal/metrics"
	"portopener/internal/session"
	"portopener/internal/transport"
	"portopener/util"
)

// Server listens on one endpoint and runs Handler on every accepted
// connection, each in its own goroutine.  There is no connection limit.
type Server struct {
	Endpoint transport.Endpoint
	Handler  capability.Capability
	Logger   *util.Logger
	Metrics  *metrics.Collector

	ready chan struct{}
	addr  net.Addr
}

// NewServer returns a Server that has not started listening.
func NewServer(ep transport.Endpoint, handler capability.Capability, logger *util.Logger, m *metrics.Collector) *Server {
	return &Server{
		Endpoint: ep,
		Handler:  handler,
		Logger:   logger,
		Metrics:  m,
		ready:    make(chan struct{}),
	}
}

// Ready is closed once the listener is bound.  It is never closed if
// binding fails.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Addr returns the bound address.  It is nil until Ready is closed.
func (s *Server) Addr() net.Addr { return s.addr }

// Run binds the listener and accepts until ctx is cancelled, then
// closes every accepted connection and waits for their handlers.
// A bind failure is returned as a listen *errors.NetworkError.
func (s *Server) Run(ctx context.Context) error {
	ln, err := transport.Listen(ctx, s.Endpoint)
	if err != nil {
		return err
	}
	s.addr = ln.Addr()
	close(s.ready)

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	var wg sync.WaitGroup
	err = s.accept(ctx, ln, &wg)
	ln.Close()
	wg.Wait()
	return err
}

func (s *Server) accept(ctx context.Context, ln net.Listener, wg *sync.WaitGroup) error {
	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return errors.Wrap("accept", ln.Addr().String(), err)
			}
			// Typically EMFILE: the host ran out of descriptors.  Back
			// off and keep serving the connections we already have.
			backoff = nextBackoff(backoff)
			s.Logger.Warn("accept: %v; retrying in %v", err, backoff)
			s.Metrics.RecordError(err.Error())
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			continue
		}
		backoff = 0

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.serveConn(ctx, conn)
		}()
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	s.Metrics.ServerConnOpened()
	defer func() {
		conn.Close()
		s.Metrics.ServerConnClosed()
	}()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	sess := session.New(conn, session.Accepted, s.Logger, s.Metrics)
	s.Logger.Verbose("server received connection: %s", sess.Peer())

	if err := s.Handler.Handle(ctx, sess); err != nil {
		s.Logger.Verbose("server connection %s: %v", sess.Peer(), err)
		s.Metrics.RecordError(err.Error())
	}
}

// nextBackoff doubles d between 5ms and 1s.
func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	d *= 2
	if d > time.Second {
		d = time.Second
	}
	return d
}
