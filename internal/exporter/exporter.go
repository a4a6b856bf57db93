// Package exporter counts established TCP connections on one local port
// and publishes the counts as a node-exporter textfile:
//
//	# HELP tcp_connections Number of open TCP connections on port 8500
//	# TYPE tcp_connections gauge
//	tcp_connections{port="8500",protocol="ipv4"} 100
//	tcp_connections{port="8500",protocol="ipv6"} 0
//
// Counts come from the kernel socket tables (/proc/net/tcp and
// /proc/net/tcp6).  A table that cannot be read is reported as -1.
package exporter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/procfs"

	"portopener/internal/errors"
	"portopener/util"
)

// tcpEstablished is the kernel's numeric TCP_ESTABLISHED state.
const tcpEstablished = 1

// Options configures an Exporter.
type Options struct {
	Port     int
	Path     string        // textfile to (re)write
	Interval time.Duration // time between samples
	ProcRoot string        // procfs mount point, usually /proc
	Logger   *util.Logger
}

// Counts holds one sample.
type Counts struct {
	IPv4 int
	IPv6 int
}

// Exporter samples the socket tables and rewrites the textfile on
// every tick.
type Exporter struct {
	opts     Options
	registry *prometheus.Registry
	gauge    *prometheus.GaugeVec
}

// New returns an Exporter with its own metrics registry.
func New(opts Options) *Exporter {
	gauge := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tcp_connections",
		Help: fmt.Sprintf("Number of open TCP connections on port %d", opts.Port),
	}, []string{"port", "protocol"})

	registry := prometheus.NewRegistry()
	registry.MustRegister(gauge)

	return &Exporter{opts: opts, registry: registry, gauge: gauge}
}

// Count returns the number of ESTABLISHED sockets whose local port is
// the configured port, per IP family.
func (e *Exporter) Count() (Counts, error) {
	fs, err := procfs.NewFS(e.opts.ProcRoot)
	if err != nil {
		return Counts{IPv4: -1, IPv6: -1}, fmt.Errorf("%w: %v", errors.ErrSocketTable, err)
	}

	var errs []error
	counts := Counts{}

	tcp4, err := fs.NetTCP()
	if err != nil {
		counts.IPv4 = -1
		errs = append(errs, fmt.Errorf("%w: tcp: %v", errors.ErrSocketTable, err))
	} else {
		for _, line := range tcp4 {
			if e.matches(line.LocalPort, line.St) {
				counts.IPv4++
			}
		}
	}

	tcp6, err := fs.NetTCP6()
	if err != nil {
		counts.IPv6 = -1
		errs = append(errs, fmt.Errorf("%w: tcp6: %v", errors.ErrSocketTable, err))
	} else {
		for _, line := range tcp6 {
			if e.matches(line.LocalPort, line.St) {
				counts.IPv6++
			}
		}
	}

	return counts, errors.Join(errs...)
}

func (e *Exporter) matches(localPort, state uint64) bool {
	return localPort == uint64(e.opts.Port) && state == tcpEstablished
}

// Write publishes counts to the textfile, replacing it atomically.
func (e *Exporter) Write(c Counts) error {
	port := strconv.Itoa(e.opts.Port)
	e.gauge.WithLabelValues(port, "ipv4").Set(float64(c.IPv4))
	e.gauge.WithLabelValues(port, "ipv6").Set(float64(c.IPv6))

	if err := os.MkdirAll(filepath.Dir(e.opts.Path), 0o755); err != nil {
		return fmt.Errorf("create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(e.opts.Path, e.registry); err != nil {
		return fmt.Errorf("write metrics file %s: %w", e.opts.Path, err)
	}
	return nil
}

// Run samples immediately and then once per interval until ctx is
// cancelled.  Sampling and write failures are logged, never returned.
func (e *Exporter) Run(ctx context.Context) error {
	e.opts.Logger.Info("exporting connections on port %d to %s every %s",
		e.opts.Port, e.opts.Path, e.opts.Interval)

	ticker := time.NewTicker(e.opts.Interval)
	defer ticker.Stop()

	for {
		e.sample()
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (e *Exporter) sample() {
	counts, err := e.Count()
	if err != nil {
		e.opts.Logger.Warn("counting connections: %v", err)
	}

	e.opts.Logger.Info("open IPv4 connections to port %d: %d", e.opts.Port, counts.IPv4)
	e.opts.Logger.Info("open IPv6 connections to port %d: %d", e.opts.Port, counts.IPv6)

	if err := e.Write(counts); err != nil {
		e.opts.Logger.Error("%v", err)
	}
}
