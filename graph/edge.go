// Package graph provides the generic graph execution engine underneath the
// dialogue runtime. Compiled flow subgraphs and the top-level orchestrator are
// both instances of Engine.
package graph

// Edge represents a connection between two nodes in a graph.
//
// Edges define the control flow between nodes. They can be:
// - Unconditional: Always traverse (When = nil).
// - Conditional: Only traverse if predicate returns true (When != nil).
//
// Edges are evaluated in insertion order after a node completes and its delta
// has been merged, so predicates always see post-merge state. A node may
// bypass edges entirely by returning an explicit route in its NodeResult.
//
// Type parameter S is the state type used for predicate evaluation.
type Edge[S any] struct {
	// From is the source node ID.
	From string

	// To is the destination node ID.
	To string

	// When is an optional predicate deciding whether this edge is traversed.
	// If nil, the edge is unconditional (always traverse).
	When Predicate[S]
}

// Predicate is a function that evaluates state to determine if an edge should
// be traversed.
//
// Predicates enable conditional routing based on dialogue state. They must be
// pure functions (deterministic, no side effects); a subgraph is re-invoked
// from its start on every resume and predicates are re-evaluated each time.
//
// Common patterns in compiled subgraphs:
// - Pause gate: state.PendingTask requires input.
// - Branch selection: state.BranchTarget == "some_step".
//
// Type parameter S is the state type to evaluate.
type Predicate[S any] func(state S) bool
