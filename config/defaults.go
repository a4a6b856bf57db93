package config

import "time"

// ── Default values ───────────────────────────────────────────────────
//
// All tuneable defaults live here so they are easy to audit and reuse
// across CLI flags, config file parsing, and environment variable
// loading.

const (
	// DefaultPort is the TCP port for both the listener and the clients.
	DefaultPort = 8500

	// DefaultNumConnections is the number of client loops to start.
	DefaultNumConnections = 100

	// DefaultIPVersion selects IPv4 loopback.
	DefaultIPVersion = 4

	// DefaultMinInterval is the shortest pause between two pings on the
	// same connection.
	DefaultMinInterval = 10 * time.Second

	// DefaultIntervalSpread is the width of the jitter window added on
	// top of DefaultMinInterval; pauses fall in [10s, 20s).
	DefaultIntervalSpread = 10 * time.Second

	// DefaultDialTimeout bounds a single client connection attempt.
	DefaultDialTimeout = 10 * time.Second

	// DefaultMetricsInterval is how often the exporter rewrites the
	// textfile.
	DefaultMetricsInterval = 1 * time.Second

	// DefaultProcRoot is where the exporter reads socket tables from.
	DefaultProcRoot = "/proc"

	// FileSection is the ini section read by LoadFile.
	FileSection = "port-opener"
)

// Default returns a Config populated with every default value.
func Default() *Config {
	return &Config{
		Port:            DefaultPort,
		NumConnections:  DefaultNumConnections,
		IPVersion:       DefaultIPVersion,
		MinInterval:     DefaultMinInterval,
		IntervalSpread:  DefaultIntervalSpread,
		MetricsInterval: DefaultMetricsInterval,
		ProcRoot:        DefaultProcRoot,
	}
}
