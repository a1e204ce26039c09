package telemetry

import "context"

// Emitter receives observability events from the runner core.
//
// Implementations must be non-blocking with respect to the caller and
// safe for concurrent use — workers across multiple issues emit events
// at the same time.
type Emitter interface {
	// Emit sends a single event. It must not panic.
	Emit(event Event)

	// EmitBatch sends several events, preserving order. Returns an error
	// only on catastrophic failure; per-event delivery failures should
	// be logged internally and swallowed.
	EmitBatch(ctx context.Context, events []Event) error

	// Flush blocks until buffered events are delivered or ctx expires.
	// Safe to call more than once.
	Flush(ctx context.Context) error
}
