// Package telemetry carries structured observability events out of the
// runner core. Components never call a logging library directly; they
// emit Events to a pluggable Emitter.
package telemetry

// Event is one observability record: a phase/act transition, a poll
// tick, a scheduler decision, or an error.
type Event struct {
	// RunID identifies the durable run this event belongs to. Empty for
	// supervisor-level events (poll tick start, shutdown).
	RunID string

	// IssueID identifies the issue the run tracks, when applicable.
	IssueID string

	// Act names the act being dispatched, or empty.
	Act string

	// Msg is a short machine-greppable label: "act_start", "act_end",
	// "outcome_recorded", "poll_tick", "deploy_batch", "shutdown".
	Msg string

	// Meta carries event-specific structured data (duration_ms, error,
	// outcome name, cost_usd, batch_size, ...).
	Meta map[string]any
}
