// Package metrics provides lightweight, lock-free counters and gauges
// for tracking the connections and traffic of a port-opener run.
//
// All methods are safe for concurrent use.  A nil *Collector is a
// valid no-op receiver, so callers never need to nil-check.
package metrics

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Collector tracks runtime metrics for a run.
// A nil Collector is safe to use; all methods become no-ops.
type Collector struct {
	serverActive  atomic.Int64
	serverTotal   atomic.Int64
	clientActive  atomic.Int64
	clientTotal   atomic.Int64
	pingsSent     atomic.Int64
	pongsSent     atomic.Int64
	pongsReceived atomic.Int64
	bytesIn       atomic.Int64
	bytesOut      atomic.Int64
	errorsTotal   atomic.Int64

	mu           sync.RWMutex
	startTime    time.Time
	lastError    time.Time
	lastErrorMsg string
}

// New creates a metrics collector with the start time set to now.
func New() *Collector {
	return &Collector{startTime: time.Now()}
}

// ── Connection metrics ───────────────────────────────────────────────

// ServerConnOpened records an accepted connection.
func (c *Collector) ServerConnOpened() {
	if c == nil {
		return
	}
	c.serverActive.Add(1)
	c.serverTotal.Add(1)
}

// ServerConnClosed records an accepted connection being released.
func (c *Collector) ServerConnClosed() {
	if c == nil {
		return
	}
	c.serverActive.Add(-1)
}

// ClientConnOpened records an established client connection.
func (c *Collector) ClientConnOpened() {
	if c == nil {
		return
	}
	c.clientActive.Add(1)
	c.clientTotal.Add(1)
}

// ClientConnClosed records a client connection being released.
func (c *Collector) ClientConnClosed() {
	if c == nil {
		return
	}
	c.clientActive.Add(-1)
}

// ActiveServerConns returns the number of open accepted connections.
func (c *Collector) ActiveServerConns() int64 {
	if c == nil {
		return 0
	}
	return c.serverActive.Load()
}

// TotalServerConns returns the lifetime accepted connection count.
func (c *Collector) TotalServerConns() int64 {
	if c == nil {
		return 0
	}
	return c.serverTotal.Load()
}

// ActiveClientConns returns the number of open client connections.
func (c *Collector) ActiveClientConns() int64 {
	if c == nil {
		return 0
	}
	return c.clientActive.Load()
}

// TotalClientConns returns the lifetime client connection count.
func (c *Collector) TotalClientConns() int64 {
	if c == nil {
		return 0
	}
	return c.clientTotal.Load()
}

// ── Payload metrics ──────────────────────────────────────────────────

// PingSent records one client write of n bytes.
func (c *Collector) PingSent(n int) {
	if c == nil {
		return
	}
	c.pingsSent.Add(1)
	c.bytesOut.Add(int64(n))
}

// PongSent records one server reply of n bytes.
func (c *Collector) PongSent(n int) {
	if c == nil {
		return
	}
	c.pongsSent.Add(1)
	c.bytesOut.Add(int64(n))
}

// PongReceived records n reply bytes arriving at a client.
func (c *Collector) PongReceived(n int) {
	if c == nil {
		return
	}
	c.pongsReceived.Add(1)
	c.bytesIn.Add(int64(n))
}

// BytesReceived records n bytes read by the server.
func (c *Collector) BytesReceived(n int) {
	if c == nil {
		return
	}
	c.bytesIn.Add(int64(n))
}

// PingsSent returns the number of client writes.
func (c *Collector) PingsSent() int64 {
	if c == nil {
		return 0
	}
	return c.pingsSent.Load()
}

// PongsSent returns the number of server replies.
func (c *Collector) PongsSent() int64 {
	if c == nil {
		return 0
	}
	return c.pongsSent.Load()
}

// PongsReceived returns the number of reply reads seen by clients.
func (c *Collector) PongsReceived() int64 {
	if c == nil {
		return 0
	}
	return c.pongsReceived.Load()
}

// TotalBytesIn returns total bytes received.
func (c *Collector) TotalBytesIn() int64 {
	if c == nil {
		return 0
	}
	return c.bytesIn.Load()
}

// TotalBytesOut returns total bytes sent.
func (c *Collector) TotalBytesOut() int64 {
	if c == nil {
		return 0
	}
	return c.bytesOut.Load()
}

// ── Error metrics ────────────────────────────────────────────────────

// RecordError increments the error counter and stores the message.
func (c *Collector) RecordError(msg string) {
	if c == nil {
		return
	}
	c.errorsTotal.Add(1)
	c.mu.Lock()
	c.lastError = time.Now()
	c.lastErrorMsg = msg
	c.mu.Unlock()
}

// ErrorCount returns the total number of errors recorded.
func (c *Collector) ErrorCount() int64 {
	if c == nil {
		return 0
	}
	return c.errorsTotal.Load()
}

// ── Snapshot ─────────────────────────────────────────────────────────

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Uptime            string `json:"uptime"`
	ServerConnsActive int64  `json:"server_connections_active"`
	ServerConnsTotal  int64  `json:"server_connections_total"`
	ClientConnsActive int64  `json:"client_connections_active"`
	ClientConnsTotal  int64  `json:"client_connections_total"`
	PingsSent         int64  `json:"pings_sent"`
	PongsSent         int64  `json:"pongs_sent"`
	PongsReceived     int64  `json:"pongs_received"`
	BytesIn           int64  `json:"bytes_in"`
	BytesOut          int64  `json:"bytes_out"`
	ErrorsTotal       int64  `json:"errors_total"`
	LastError         string `json:"last_error,omitempty"`
	LastErrorMessage  string `json:"last_error_message,omitempty"`
}

// Snapshot returns a copy of all current metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		Uptime:            time.Since(c.startTime).Truncate(time.Second).String(),
		ServerConnsActive: c.serverActive.Load(),
		ServerConnsTotal:  c.serverTotal.Load(),
		ClientConnsActive: c.clientActive.Load(),
		ClientConnsTotal:  c.clientTotal.Load(),
		PingsSent:         c.pingsSent.Load(),
		PongsSent:         c.pongsSent.Load(),
		PongsReceived:     c.pongsReceived.Load(),
		BytesIn:           c.bytesIn.Load(),
		BytesOut:          c.bytesOut.Load(),
		ErrorsTotal:       c.errorsTotal.Load(),
	}
	if !c.lastError.IsZero() {
		s.LastError = c.lastError.Format(time.RFC3339)
		s.LastErrorMessage = c.lastErrorMsg
	}
	return s
}

// JSON returns the snapshot as an indented JSON string.
func (c *Collector) JSON() string {
	s := c.Snapshot()
	data, _ := json.MarshalIndent(s, "", "  ")
	return string(data)
}
