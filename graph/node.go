package graph

import "context"

// Node represents a processing unit in a graph.
// It receives state of type S, performs computation, and returns a NodeResult
// whose delta of type D is merged into the state by the engine's reducer.
//
// Nodes are the building blocks of both the orchestrator graph and compiled
// flow subgraphs. Each node can:
//   - Read the current state
//   - Perform computation (NLU calls, action handlers, slot logic)
//   - Return state modifications via Delta
//   - Control routing via Route
//   - Report errors
//
// Nodes never mutate the state they receive; all changes flow through the
// returned delta.
type Node[S, D any] interface {
	// Run executes the node's logic with the given context and state.
	Run(ctx context.Context, state S) NodeResult[S, D]
}

// NodeResult represents the output of a node execution.
type NodeResult[S, D any] struct {
	// Delta is the partial state update produced by this node.
	// It is merged with the current state using the configured reducer.
	Delta D

	// Route specifies the next step in execution. The zero value defers to
	// edge-based routing; use Stop() for terminal nodes or Goto(id) for
	// explicit routing.
	Route Next

	// Err contains any error that occurred during node execution.
	// A non-nil error halts the graph invocation.
	Err error
}

// Next specifies where execution goes after a node completes.
//
// Three modes:
//   - Zero value: fall through to edge evaluation.
//   - Goto: route to a specific node (Route.To = "nodeID").
//   - Stop: terminate the invocation (Route.Terminal = true).
type Next struct {
	// To specifies the next node to execute. Mutually exclusive with Terminal.
	To string

	// Terminal indicates the invocation should stop.
	Terminal bool
}

// Stop returns a Next that terminates the invocation.
func Stop() Next {
	return Next{Terminal: true}
}

// Goto returns a Next that routes to the specified node.
func Goto(nodeID string) Next {
	return Next{To: nodeID}
}

// NodeFunc is a function adapter that implements the Node interface.
// It allows using plain functions as nodes without creating custom types,
// which is how all step node factories produce their nodes.
//
// Example:
//
//	sayNode := NodeFunc[State, Delta](func(ctx context.Context, s State) NodeResult[State, Delta] {
//	    return NodeResult[State, Delta]{
//	        Delta: Delta{AppendResponses: []string{"hello"}},
//	    }
//	})
type NodeFunc[S, D any] func(ctx context.Context, state S) NodeResult[S, D]

// Run implements the Node interface for NodeFunc.
func (f NodeFunc[S, D]) Run(ctx context.Context, state S) NodeResult[S, D] {
	return f(ctx, state)
}

// NodeError represents an error that occurred during node execution.
// It provides structured error information for observability and debugging.
type NodeError struct {
	// Message is the human-readable error description.
	Message string

	// Code is a machine-readable error code for programmatic handling.
	Code string

	// NodeID identifies which node produced this error.
	NodeID string

	// Cause is the underlying error that caused this NodeError.
	Cause error
}

// Error implements the error interface.
func (e *NodeError) Error() string {
	if e.NodeID != "" {
		return "node " + e.NodeID + ": " + e.Message
	}
	return e.Message
}

// Unwrap returns the underlying cause for error wrapping support.
func (e *NodeError) Unwrap() error {
	return e.Cause
}
