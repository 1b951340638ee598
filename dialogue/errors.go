package dialogue

import (
	"errors"
	"fmt"
)

// ErrIterationLimit indicates the execute-flow loop exceeded the configured
// subgraph iteration limit. The active flow is marked error and popped; the
// sentinel is surfaced only in events, never to the caller.
var ErrIterationLimit = errors.New("execute-flow exceeded subgraph iteration limit")

// EmptyStackError is returned by PopFlow when the flow stack is empty.
// All other flow-manager operations on an empty stack return empty deltas.
type EmptyStackError struct{}

func (e *EmptyStackError) Error() string {
	return "flow stack is empty"
}

// UnknownCommandError indicates a command type with no registered handler.
// In strict mode the dispatch fails with this error; otherwise the command is
// logged and skipped.
type UnknownCommandError struct {
	Type string
}

func (e *UnknownCommandError) Error() string {
	return "unknown command type: " + e.Type
}

// CompilationError indicates an invalid flow definition discovered while
// compiling a step sequence into a subgraph. Detected at startup; the runtime
// refuses to serve a configuration that does not compile.
type CompilationError struct {
	Flow   string
	Step   string
	Reason string
}

func (e *CompilationError) Error() string {
	if e.Step != "" {
		return fmt.Sprintf("flow %q step %q: %s", e.Flow, e.Step, e.Reason)
	}
	return fmt.Sprintf("flow %q: %s", e.Flow, e.Reason)
}

// ActionError wraps a failure from an action handler: a raised error or a
// timeout. The owning flow is marked error and popped; the user sees the
// configured generic failure template, never the cause.
type ActionError struct {
	Action string
	Cause  error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("action %q failed: %v", e.Action, e.Cause)
}

func (e *ActionError) Unwrap() error {
	return e.Cause
}

// CheckpointError wraps a persistence failure. Save failures propagate to the
// caller and the turn is considered failed.
type CheckpointError struct {
	Op    string
	Cause error
}

func (e *CheckpointError) Error() string {
	return fmt.Sprintf("checkpoint %s: %v", e.Op, e.Cause)
}

func (e *CheckpointError) Unwrap() error {
	return e.Cause
}
