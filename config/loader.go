package config

// loader.go - configuration loading from environment variables.
//
// Precedence order (highest wins):
//   1. CLI flags  (handled by cmd/root.go)
//   2. Environment variables  (this file)
//   3. Config file  (file.go)
//   4. Defaults   (defaults.go)

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// ── Environment variable mapping ─────────────────────────────────────
//
// Every supported env var uses the PORT_OPENER_ prefix.  CONSUL_PORT
// and UPDATE_DELAY are accepted as fallbacks for deployments that
// configured the standalone exporter with them.

// LoadFromEnv overlays environment variables onto cfg.  Only non-empty,
// parseable env vars override the existing value.
func LoadFromEnv(cfg *Config) {
	if v, ok := envInt("PORT_OPENER_PORT", "CONSUL_PORT"); ok {
		cfg.Port = v
	}
	if v, ok := envInt("PORT_OPENER_NUM_CONNECTIONS"); ok {
		cfg.NumConnections = v
	}
	if v, ok := envInt("PORT_OPENER_IPV"); ok {
		cfg.IPVersion = v
	}
	if v, ok := envInt("PORT_OPENER_VERBOSE"); ok {
		cfg.Verbose = v
	}
	if v := os.Getenv("PORT_OPENER_METRICS_FILE"); v != "" {
		cfg.MetricsFile = v
	}
	if v, ok := envDuration("PORT_OPENER_METRICS_INTERVAL", "UPDATE_DELAY"); ok {
		cfg.MetricsInterval = v
	}
	if v := os.Getenv("PORT_OPENER_PROC_ROOT"); v != "" {
		cfg.ProcRoot = v
	}
	if envBool("PORT_OPENER_EXPORT_ONLY") {
		cfg.ExportOnly = true
	}
}

// ── helpers ──────────────────────────────────────────────────────────

// envInt returns the first key that is set and parses as an integer.
func envInt(keys ...string) (int, bool) {
	for _, key := range keys {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		if n, err := strconv.Atoi(v); err == nil {
			return n, true
		}
	}
	return 0, false
}

func envDuration(keys ...string) (time.Duration, bool) {
	for _, key := range keys {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		if d, err := time.ParseDuration(v); err == nil {
			return d, true
		}
	}
	return 0, false
}

func envBool(key string) bool {
	v := strings.ToLower(os.Getenv(key))
	return v == "1" || v == "true" || v == "yes"
}
