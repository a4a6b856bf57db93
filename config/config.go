// Package config defines the runtime configuration for port-opener and
// the layers that populate it (defaults, ini file, environment, flags).
package config

import (
	"time"

	"portopener/internal/errors"
)

// Config holds every tuneable for a single run.
type Config struct {
	// ── Connections ──────────────────────────────────────────────────
	Port           int // 0 lets the kernel pick a port
	NumConnections int
	IPVersion      int // 4 or 6

	// ── Client pacing ────────────────────────────────────────────────
	MinInterval    time.Duration
	IntervalSpread time.Duration

	// ── Exporter ─────────────────────────────────────────────────────
	MetricsFile     string // textfile path; empty disables the exporter
	MetricsInterval time.Duration
	ProcRoot        string
	ExportOnly      bool

	// ── Output ───────────────────────────────────────────────────────
	Verbose int
}

// ExporterEnabled reports whether the connection exporter should run.
func (c *Config) ExporterEnabled() bool {
	return c.MetricsFile != ""
}

// ── Validation ───────────────────────────────────────────────────────

// Validate checks that the configuration is internally consistent.
// Every failure is a *errors.ConfigError.
func (c *Config) Validate() error {
	if c.IPVersion != 4 && c.IPVersion != 6 {
		return &errors.ConfigError{
			Field:   "ipv",
			Value:   c.IPVersion,
			Message: "unsupported IP version",
			Hint:    "use --ipv 4 for 127.0.0.1 or --ipv 6 for ::1",
		}
	}
	if c.Port < 0 || c.Port > 65535 {
		return &errors.ConfigError{
			Field:   "port",
			Value:   c.Port,
			Message: "out of range 0-65535",
		}
	}
	if c.NumConnections < 0 {
		return &errors.ConfigError{
			Field:   "num-connections",
			Value:   c.NumConnections,
			Message: "must not be negative",
		}
	}
	if c.MinInterval <= 0 {
		return &errors.ConfigError{
			Field:   "min-interval",
			Value:   c.MinInterval,
			Message: "must be positive",
		}
	}
	if c.IntervalSpread < 0 {
		return &errors.ConfigError{
			Field:   "interval-spread",
			Value:   c.IntervalSpread,
			Message: "must not be negative",
		}
	}

	if c.ExportOnly && !c.ExporterEnabled() {
		return &errors.ConfigError{
			Field:   "metrics-file",
			Message: "required with --export-only",
			Hint:    "point it at the node-exporter textfile directory, e.g. /tmp/node-exporter/tcp_connections.prom",
		}
	}
	if c.ExporterEnabled() {
		if c.Port == 0 {
			return &errors.ConfigError{
				Field:   "port",
				Value:   c.Port,
				Message: "an explicit port is required when exporting connection counts",
			}
		}
		if c.MetricsInterval <= 0 {
			return &errors.ConfigError{
				Field:   "metrics-interval",
				Value:   c.MetricsInterval,
				Message: "must be positive",
			}
		}
	}

	return nil
}
