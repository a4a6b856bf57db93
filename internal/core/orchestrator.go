package core

import (
	"context"
	"net"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"portopener/config"
	"portopener/internal/capability"
	"portopener/internal/metrics"
	"portopener/internal/transport"
	"portopener/util"
)

// Orchestrator runs one server and NumConnections client loops against
// it.  Clients are started only after the server is bound; every task
// shares one context and is joined before Run returns.
type Orchestrator struct {
	Endpoint       transport.Endpoint
	NumConnections int
	Jitter         capability.Jitter

	// Handler serves accepted connections; Dialer opens client ones.
	Handler capability.Capability
	Dialer  transport.Dialer

	// Exporter, when set, runs alongside the clients.
	Exporter Mode

	RunID   string
	Logger  *util.Logger
	Metrics *metrics.Collector

	ready chan struct{}
	addr  net.Addr
}

// New resolves the loopback endpoint for cfg.  An unsupported IP
// version fails here, before any socket is opened.
func New(cfg *config.Config, logger *util.Logger, m *metrics.Collector) (*Orchestrator, error) {
	ep, err := transport.ResolveLoopback(cfg.IPVersion, cfg.Port)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	return &Orchestrator{
		Endpoint:       ep,
		NumConnections: cfg.NumConnections,
		Jitter: capability.Jitter{
			Min:    cfg.MinInterval,
			Spread: cfg.IntervalSpread,
		},
		Handler: &capability.Echo{},
		Dialer:  &transport.TCPDialer{Timeout: config.DefaultDialTimeout},
		RunID:   runID,
		Logger:  logger.With("run", runID[:8]),
		Metrics: m,
		ready:   make(chan struct{}),
	}, nil
}

// Ready is closed after the server is bound and before the first
// client loop starts.
func (o *Orchestrator) Ready() <-chan struct{} { return o.ready }

// Addr returns the server's bound address once Ready is closed.
func (o *Orchestrator) Addr() net.Addr { return o.addr }

// Run blocks until ctx is cancelled or the server fails to bind.
// Cancellation is a normal exit and returns nil.
func (o *Orchestrator) Run(ctx context.Context) error {
	srv := NewServer(o.Endpoint, o.Handler, o.Logger, o.Metrics)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })

	select {
	case <-srv.Ready():
	case <-gctx.Done():
		return o.finish(ctx, g.Wait())
	}
	o.addr = srv.Addr()
	close(o.ready)
	o.Logger.Info("started server on %s", o.addr)

	if o.Exporter != nil {
		g.Go(func() error { return o.Exporter.Run(gctx) })
	}

	ping := &capability.Ping{Jitter: o.Jitter}
	for i := 0; i < o.NumConnections; i++ {
		c := &Client{
			Index:      i,
			Network:    o.Endpoint.Network,
			Address:    o.addr.String(),
			Dialer:     o.Dialer,
			Capability: ping,
			Logger:     o.Logger,
			Metrics:    o.Metrics,
		}
		g.Go(func() error {
			// A client failure stays local to its loop.
			if err := c.Run(gctx); err != nil {
				o.Logger.Verbose("client %d: %v", c.Index, err)
				o.Metrics.RecordError(err.Error())
			}
			return nil
		})
	}
	o.Logger.Info("opened %d client connections", o.NumConnections)

	return o.finish(ctx, g.Wait())
}

func (o *Orchestrator) finish(ctx context.Context, err error) error {
	defer o.Dialer.Close()

	o.Logger.Verbose("run summary:\n%s", o.Metrics.JSON())
	if err != nil && ctx.Err() == nil {
		return err
	}
	o.Logger.Info("exiting")
	return nil
}
