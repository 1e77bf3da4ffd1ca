// Package source implements the two discovery channels a scan session can
// drain: the BlueZ D-Bus signal subscription and a spawned bluetoothctl
// process. Both normalize everything they emit before it leaves the
// package, so the session and registry only ever see partial observations.
package source

import (
	"context"

	"bluescan/internal/observation"
)

// Source is one discovery channel. A session owns at most one Source at a
// time and is the only caller of Start and Stop.
type Source interface {
	// Name returns the channel identifier used in logs and the journal.
	Name() string

	// Start acquires the channel and begins emitting observations.
	// The returned channel is closed when the channel shuts down or
	// fails; closure is an exit condition for the session, not an error.
	Start(ctx context.Context) (<-chan observation.Partial, error)

	// Stop issues the channel's stop request and releases its handle.
	// Callers must invoke it exactly once after a successful Start.
	Stop(ctx context.Context) error
}
