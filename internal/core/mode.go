// Package core is the orchestration layer.  It composes transports
// and capabilities into a complete run and provides a builder that
// selects the right mode from a Config.
//
// Architecture layers (bottom → top):
//
//	transport  →  capability  →  session  →  core  →  cmd (CLI)
package core

import "context"

// Mode is a complete operational mode of port-opener: the full
// server-plus-clients run, or the standalone connection exporter.
// Each mode owns its lifecycle until ctx is cancelled.
type Mode interface {
	Run(ctx context.Context) error
}
