package telemetry

import "context"

// NullEmitter discards every event. Useful as a config default when no
// observability backend is configured, and in tests that don't care
// about telemetry.
type NullEmitter struct{}

func (NullEmitter) Emit(Event)                                 {}
func (NullEmitter) EmitBatch(context.Context, []Event) error   { return nil }
func (NullEmitter) Flush(context.Context) error                { return nil }
