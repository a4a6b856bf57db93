package core

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"portopener/config"
	"portopener/internal/capability"
	"portopener/internal/errors"
	"portopener/internal/metrics"
	"portopener/internal/session"
	"portopener/internal/transport"
	"portopener/util"
)

// ── helpers ──────────────────────────────────────────────────────────

// waitFor polls cond until it holds or two seconds pass.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// testConfig returns a config bound to an ephemeral IPv4 port whose
// clients ping once and then sleep for the rest of the test.
func testConfig(n int) *config.Config {
	cfg := config.Default()
	cfg.Port = 0
	cfg.NumConnections = n
	cfg.MinInterval = time.Hour
	cfg.IntervalSpread = 0
	return cfg
}

func newTestOrchestrator(t *testing.T, cfg *config.Config) (*Orchestrator, *metrics.Collector) {
	t.Helper()
	m := metrics.New()
	o, err := New(cfg, util.NewLogger(0), m)
	if err != nil {
		t.Fatal(err)
	}
	return o, m
}

// runAsync starts o.Run and returns a channel with its result.
func runAsync(ctx context.Context, o *Orchestrator) <-chan error {
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()
	return done
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return")
		return nil
	}
}

// recordingEcho wraps Echo and records every chunk the server reads.
type recordingEcho struct {
	mu   sync.Mutex
	msgs []string
	echo capability.Echo
}

func (r *recordingEcho) Handle(ctx context.Context, sess *session.Session) error {
	sess.Conn = &recordConn{Conn: sess.Conn, r: r}
	return r.echo.Handle(ctx, sess)
}

func (r *recordingEcho) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]string(nil), r.msgs...)
	sort.Strings(out)
	return out
}

type recordConn struct {
	net.Conn
	r *recordingEcho
}

func (c *recordConn) Read(b []byte) (int, error) {
	n, err := c.Conn.Read(b)
	if n > 0 {
		c.r.mu.Lock()
		c.r.msgs = append(c.r.msgs, string(b[:n]))
		c.r.mu.Unlock()
	}
	return n, err
}

// ── Server ───────────────────────────────────────────────────────────

func TestServer_ReadyAndEcho(t *testing.T) {
	ep, _ := transport.ResolveLoopback(4, 0)
	m := metrics.New()
	srv := NewServer(ep, &capability.Echo{}, util.NewLogger(0), m)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	select {
	case <-srv.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("server never became ready")
	}

	conn, err := net.DialTimeout("tcp4", srv.Addr().String(), time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	conn.Write([]byte("ping 0")) //nolint:errcheck
	conn.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck
	buf := make([]byte, 4)
	if _, err := conn.Read(buf); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "pong" {
		t.Errorf("got %q, want pong", buf)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run after cancel: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not shut down in time")
	}
	if m.ActiveServerConns() != 0 {
		t.Errorf("active server conns = %d after shutdown", m.ActiveServerConns())
	}
}

func TestServer_BindError(t *testing.T) {
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	ep, _ := transport.ResolveLoopback(4, ln.Addr().(*net.TCPAddr).Port)
	srv := NewServer(ep, &capability.Echo{}, util.NewLogger(0), nil)

	err = srv.Run(context.Background())
	if !errors.IsBindError(err) {
		t.Fatalf("expected bind error, got %v", err)
	}
	select {
	case <-srv.Ready():
		t.Error("ready must not fire when bind fails")
	default:
	}
}

// ── Client ───────────────────────────────────────────────────────────

func TestClient_DialError(t *testing.T) {
	port, err := util.FindFreePort("127.0.0.1")
	if err != nil {
		t.Fatal(err)
	}

	m := metrics.New()
	c := &Client{
		Index:      0,
		Network:    "tcp4",
		Address:    util.FormatAddr("127.0.0.1", port),
		Dialer:     &transport.TCPDialer{Timeout: time.Second},
		Capability: &capability.Ping{Jitter: capability.Jitter{Min: time.Hour}},
		Logger:     util.NewLogger(0),
		Metrics:    m,
	}

	err = c.Run(context.Background())
	var ne *errors.NetworkError
	if !errors.As(err, &ne) || ne.Op != "dial" {
		t.Fatalf("expected dial NetworkError, got %v", err)
	}
	if m.TotalClientConns() != 0 {
		t.Error("failed dial must not count as a connection")
	}
}

// floodWriter writes until the connection fails.
type floodWriter struct {
	stalled chan struct{}
}

func (f *floodWriter) Handle(ctx context.Context, sess *session.Session) error {
	chunk := make([]byte, 1<<20)
	once := sync.Once{}
	for {
		// Signal after the first write that cannot complete at once.
		timer := time.AfterFunc(50*time.Millisecond, func() { once.Do(func() { close(f.stalled) }) })
		_, err := sess.Conn.Write(chunk)
		timer.Stop()
		if err != nil {
			return err
		}
	}
}

// TestClient_CancelUnblocksWrite verifies cancellation reaches a client
// blocked writing to a peer that never reads.
func TestClient_CancelUnblocksWrite(t *testing.T) {
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()
	defer func() {
		select {
		case conn := <-accepted:
			conn.Close()
		default:
		}
	}()

	flood := &floodWriter{stalled: make(chan struct{})}
	c := &Client{
		Network:    "tcp4",
		Address:    ln.Addr().String(),
		Dialer:     &transport.TCPDialer{Timeout: time.Second},
		Capability: flood,
		Logger:     util.NewLogger(0),
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	select {
	case <-flood.stalled:
	case <-time.After(5 * time.Second):
		t.Fatal("writes never blocked")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run stayed blocked in Write after cancel")
	}
}

// ── Orchestrator ─────────────────────────────────────────────────────

func TestNew_InvalidIPVersion(t *testing.T) {
	for _, ipv := range []int{0, 5, 7, -4} {
		cfg := testConfig(3)
		cfg.IPVersion = ipv
		o, err := New(cfg, util.NewLogger(0), nil)
		if err == nil {
			t.Errorf("ipv=%d: expected error", ipv)
			continue
		}
		if o != nil {
			t.Errorf("ipv=%d: orchestrator should be nil", ipv)
		}
		if !errors.IsConfigError(err) {
			t.Errorf("ipv=%d: expected ConfigError, got %T", ipv, err)
		}
	}
}

// TestOrchestrator_ThreeClients covers the basic scenario: three
// clients connect and each first ping is answered.
func TestOrchestrator_ThreeClients(t *testing.T) {
	o, m := newTestOrchestrator(t, testConfig(3))
	rec := &recordingEcho{}
	o.Handler = rec

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, o)

	waitFor(t, "3 server connections", func() bool { return m.TotalServerConns() == 3 })
	waitFor(t, "3 pongs received", func() bool { return m.PongsReceived() >= 3 })

	if got, want := fmt.Sprint(rec.messages()), "[ping 0 ping 1 ping 2]"; got != want {
		t.Errorf("server saw %s, want %s", got, want)
	}
	if m.PongsSent() != 3 {
		t.Errorf("pongs sent = %d, want 3", m.PongsSent())
	}

	cancel()
	if err := waitDone(t, done); err != nil {
		t.Errorf("Run: %v", err)
	}
}

// TestOrchestrator_UniqueIndexes verifies N loops start with indexes
// 0..N-1, each exactly once.
func TestOrchestrator_UniqueIndexes(t *testing.T) {
	const n = 25
	o, m := newTestOrchestrator(t, testConfig(n))
	rec := &recordingEcho{}
	o.Handler = rec

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, o)

	waitFor(t, "all pings", func() bool { return len(rec.messages()) == n })

	seen := map[string]bool{}
	for _, msg := range rec.messages() {
		if seen[msg] {
			t.Errorf("duplicate payload %q", msg)
		}
		seen[msg] = true
	}
	for i := 0; i < n; i++ {
		if !seen[fmt.Sprintf("ping %d", i)] {
			t.Errorf("missing ping %d", i)
		}
	}
	if m.TotalClientConns() != n {
		t.Errorf("client connections = %d, want %d", m.TotalClientConns(), n)
	}

	cancel()
	if err := waitDone(t, done); err != nil {
		t.Errorf("Run: %v", err)
	}
}

// readyCheckDialer fails the test if any dial happens before the
// orchestrator reports the server ready.
type readyCheckDialer struct {
	t     *testing.T
	o     *Orchestrator
	dials atomic.Int64
	early atomic.Int64
	inner transport.TCPDialer
}

func (d *readyCheckDialer) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	d.dials.Add(1)
	select {
	case <-d.o.Ready():
	default:
		d.early.Add(1)
	}
	return d.inner.Dial(ctx, network, address)
}

func (d *readyCheckDialer) Close() error { return nil }

func TestOrchestrator_ReadyBeforeDial(t *testing.T) {
	const n = 20
	o, m := newTestOrchestrator(t, testConfig(n))
	d := &readyCheckDialer{t: t, o: o, inner: transport.TCPDialer{Timeout: time.Second}}
	o.Dialer = d

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, o)

	waitFor(t, "all clients connected", func() bool { return m.ActiveClientConns() == n })
	if d.dials.Load() != n {
		t.Errorf("dials = %d, want %d", d.dials.Load(), n)
	}
	if d.early.Load() != 0 {
		t.Errorf("%d dials happened before the server was ready", d.early.Load())
	}

	cancel()
	if err := waitDone(t, done); err != nil {
		t.Errorf("Run: %v", err)
	}
}

// TestOrchestrator_ZeroConnections verifies the server idles with no
// clients until cancelled.
func TestOrchestrator_ZeroConnections(t *testing.T) {
	o, m := newTestOrchestrator(t, testConfig(0))

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, o)

	select {
	case <-o.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("server never became ready")
	}

	select {
	case err := <-done:
		t.Fatalf("Run returned before cancel: %v", err)
	case <-time.After(100 * time.Millisecond):
	}
	if m.TotalServerConns() != 0 {
		t.Errorf("server connections = %d, want 0", m.TotalServerConns())
	}

	cancel()
	if err := waitDone(t, done); err != nil {
		t.Errorf("Run: %v", err)
	}
}

// TestOrchestrator_CancelClosesEverything verifies no connection
// outlives Run after cancellation.
func TestOrchestrator_CancelClosesEverything(t *testing.T) {
	const n = 10
	o, m := newTestOrchestrator(t, testConfig(n))

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, o)

	waitFor(t, "connections up", func() bool {
		return m.ActiveClientConns() == n && m.ActiveServerConns() == n
	})

	cancel()
	if err := waitDone(t, done); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if m.ActiveClientConns() != 0 {
		t.Errorf("client conns still open: %d", m.ActiveClientConns())
	}
	if m.ActiveServerConns() != 0 {
		t.Errorf("server conns still open: %d", m.ActiveServerConns())
	}
}

// flakyDialer fails the first `fail` dials.
type flakyDialer struct {
	fail  int64
	calls atomic.Int64
	inner transport.TCPDialer
}

func (d *flakyDialer) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	if d.calls.Add(1) <= d.fail {
		return nil, fmt.Errorf("connection refused")
	}
	return d.inner.Dial(ctx, network, address)
}

func (d *flakyDialer) Close() error { return nil }

// TestOrchestrator_ClientFailureIsLocal verifies a failed client loop
// neither stops the run nor affects the other loops.
func TestOrchestrator_ClientFailureIsLocal(t *testing.T) {
	const n = 5
	o, m := newTestOrchestrator(t, testConfig(n))
	o.Dialer = &flakyDialer{fail: 2, inner: transport.TCPDialer{Timeout: time.Second}}

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, o)

	waitFor(t, "surviving clients", func() bool { return m.ActiveClientConns() == n-2 })
	waitFor(t, "errors recorded", func() bool { return m.ErrorCount() >= 2 })

	select {
	case err := <-done:
		t.Fatalf("Run returned after client failures: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	if err := waitDone(t, done); err != nil {
		t.Errorf("Run: %v", err)
	}
	if m.TotalClientConns() != n-2 {
		t.Errorf("client connections = %d, want %d (no retries)", m.TotalClientConns(), n-2)
	}
}

// TestOrchestrator_DialFailureLogged verifies every failed client loop
// leaves a line in the verbose log.
func TestOrchestrator_DialFailureLogged(t *testing.T) {
	var buf bytes.Buffer
	logger := util.NewLogger(2)
	logger.SetOutput(&buf)

	const n = 4
	m := metrics.New()
	o, err := New(testConfig(n), logger, m)
	if err != nil {
		t.Fatal(err)
	}
	o.Dialer = &flakyDialer{fail: 2, inner: transport.TCPDialer{Timeout: time.Second}}

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, o)

	waitFor(t, "surviving clients", func() bool { return m.ActiveClientConns() == n-2 })
	waitFor(t, "errors recorded", func() bool { return m.ErrorCount() >= 2 })

	cancel()
	if err := waitDone(t, done); err != nil {
		t.Fatalf("Run: %v", err)
	}

	out := buf.String()
	if got := strings.Count(out, "dial "+o.Addr().String()+": connection refused"); got != 2 {
		t.Errorf("logged %d dial failures, want 2:\n%s", got, out)
	}
}

func TestOrchestrator_BindError(t *testing.T) {
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	cfg := testConfig(3)
	cfg.Port = ln.Addr().(*net.TCPAddr).Port
	o, m := newTestOrchestrator(t, cfg)

	err = o.Run(context.Background())
	if !errors.IsBindError(err) {
		t.Fatalf("expected bind error, got %v", err)
	}
	if m.TotalClientConns() != 0 {
		t.Error("no client may start when the server cannot bind")
	}
}

func TestOrchestrator_IPv6(t *testing.T) {
	probe, err := net.Listen("tcp6", "[::1]:0")
	if err != nil {
		t.Skipf("IPv6 loopback unavailable: %v", err)
	}
	probe.Close()

	cfg := testConfig(2)
	cfg.IPVersion = 6
	o, m := newTestOrchestrator(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, o)

	waitFor(t, "IPv6 clients", func() bool { return m.ActiveServerConns() == 2 })
	if host, _, _ := net.SplitHostPort(o.Addr().String()); host != "::1" {
		t.Errorf("server bound %s, want ::1", o.Addr())
	}

	cancel()
	if err := waitDone(t, done); err != nil {
		t.Errorf("Run: %v", err)
	}
}

// TestOrchestrator_Exporter verifies an attached exporter runs and
// stops with the rest of the run.
func TestOrchestrator_Exporter(t *testing.T) {
	o, _ := newTestOrchestrator(t, testConfig(1))
	exp := &fakeMode{started: make(chan struct{})}
	o.Exporter = exp

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, o)

	select {
	case <-exp.started:
	case <-time.After(2 * time.Second):
		t.Fatal("exporter never started")
	}

	cancel()
	if err := waitDone(t, done); err != nil {
		t.Errorf("Run: %v", err)
	}
	if !exp.stopped.Load() {
		t.Error("exporter did not observe cancellation")
	}
}

type fakeMode struct {
	started chan struct{}
	stopped atomic.Bool
}

func (f *fakeMode) Run(ctx context.Context) error {
	close(f.started)
	<-ctx.Done()
	f.stopped.Store(true)
	return nil
}
