package emit

// Event represents an observability event emitted during dialogue execution.
//
// Events cover both orchestrator-level and subgraph-level activity:
//   - Turn start/complete
//   - Node execution in the orchestrator or a flow subgraph
//   - Flow push/pop, slot writes, pending-task surfacing
//   - NLU and action handler outcomes
//   - Errors and recoveries
//
// Events are sent to an Emitter which can log them, convert them to
// OpenTelemetry spans, or discard them.
type Event struct {
	// RunID identifies the invocation that emitted this event. The runtime
	// uses "userKey" for orchestrator invocations and "userKey/flowID" for
	// subgraph invocations.
	RunID string

	// Step is the sequential step number within the invocation (1-indexed).
	// Zero for invocation-level events (turn start, turn complete, error).
	Step int

	// Node identifies which graph node emitted this event.
	// Empty for invocation-level events.
	Node string

	// Msg is a short machine-friendly description, e.g. "node completed",
	// "flow pushed", "pending task".
	Msg string

	// Meta contains additional structured data for this event.
	// Common keys:
	//   - "flow_id", "flow_name": flow instance identity
	//   - "slot": slot name for slot writes
	//   - "command": command type dispatched
	//   - "duration_ms": execution duration
	//   - "error": error details
	Meta map[string]interface{}
}
