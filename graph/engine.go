package graph

import (
	"context"
	"sync"
	"time"

	"github.com/dshills/dialograph-go/graph/emit"
)

// Reducer merges a partial update of type D into state of type S.
//
// Reducers must be deterministic and must not mutate prev in place beyond
// returning the merged value; the dialogue runtime relies on re-invoking
// subgraphs from identical state producing identical results.
type Reducer[S, D any] func(prev S, delta D) S

// Engine executes a graph of nodes over shared state.
//
// The Engine is deliberately stateless between invocations: it carries the
// graph topology and configuration, but every Invoke starts from the state the
// caller passes in. Persistence happens at turn boundaries in the runtime, not
// per node: a compiled subgraph holds no checkpoint of its own and is driven
// from its start node on every resume.
//
// Responsibilities:
//   - Manage graph topology (nodes and edges)
//   - Execute nodes sequentially, merging deltas via the reducer
//   - Route via explicit node routes or predicate edges
//   - Enforce MaxSteps and per-node timeouts
//   - Emit observability events
//
// Type parameters: S is the state type, D the delta type merged by the reducer.
//
// Example:
//
//	eng := graph.New(dialogue.Reduce, emitter, graph.Options{MaxSteps: 100})
//	eng.Add("say_hello", helloNode)
//	eng.StartAt("say_hello")
//	final, err := eng.Invoke(ctx, "user-42:turn-3", state)
type Engine[S, D any] struct {
	mu sync.RWMutex

	// reducer merges partial state updates deterministically.
	reducer Reducer[S, D]

	// nodes maps node IDs to Node implementations.
	nodes map[string]Node[S, D]

	// edges defines transitions between nodes, evaluated in insertion order.
	edges []Edge[S]

	// startNode is the entry point for execution.
	startNode string

	// emitter receives observability events. May be nil.
	emitter emit.Emitter

	opts Options
}

// Options configures Engine execution behavior.
// Zero values are valid; the Engine applies sensible defaults.
type Options struct {
	// MaxSteps limits an invocation to prevent infinite loops, e.g. a while
	// step whose condition never becomes false. If 0, no limit is enforced.
	MaxSteps int

	// DefaultNodeTimeout bounds individual node execution. If 0, nodes run
	// without a deadline beyond the invocation context.
	DefaultNodeTimeout time.Duration
}

// New creates an Engine with the given reducer, emitter, and options.
//
// The emitter may be nil, in which case no events are emitted. The reducer is
// required; a nil reducer is rejected when Invoke is called so that graphs can
// be assembled incrementally.
func New[S, D any](reducer Reducer[S, D], emitter emit.Emitter, opts Options) *Engine[S, D] {
	return &Engine[S, D]{
		reducer: reducer,
		nodes:   make(map[string]Node[S, D]),
		edges:   make([]Edge[S], 0),
		emitter: emitter,
		opts:    opts,
	}
}

// Add registers a node in the graph. Node IDs must be unique.
func (e *Engine[S, D]) Add(nodeID string, node Node[S, D]) error {
	if nodeID == "" {
		return &EngineError{Message: "node ID cannot be empty"}
	}
	if node == nil {
		return &EngineError{Message: "node cannot be nil"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.nodes[nodeID]; exists {
		return &EngineError{
			Message: "duplicate node ID: " + nodeID,
			Code:    "DUPLICATE_NODE",
		}
	}

	e.nodes[nodeID] = node
	return nil
}

// StartAt sets the entry point for execution. The node must already be
// registered via Add.
func (e *Engine[S, D]) StartAt(nodeID string) error {
	if nodeID == "" {
		return &EngineError{Message: "start node ID cannot be empty"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.nodes[nodeID]; !exists {
		return &EngineError{
			Message: "start node does not exist: " + nodeID,
			Code:    "NODE_NOT_FOUND",
		}
	}

	e.startNode = nodeID
	return nil
}

// Connect creates an edge between two nodes.
//
// A nil predicate makes the edge unconditional. Edges are evaluated in the
// order they were connected, so pause gates must be connected before the
// default successor edge. Node existence is not validated here (lazy
// validation) to allow flexible construction order; the compiler validates
// targets itself before connecting.
func (e *Engine[S, D]) Connect(from, to string, predicate Predicate[S]) error {
	if from == "" {
		return &EngineError{Message: "from node ID cannot be empty"}
	}
	if to == "" {
		return &EngineError{Message: "to node ID cannot be empty"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.edges = append(e.edges, Edge[S]{From: from, To: to, When: predicate})
	return nil
}

// Invoke executes the graph from its start node until a terminal route.
//
// Execution:
//  1. Validates configuration (reducer, start node).
//  2. Executes nodes starting from startNode, honoring per-node timeouts.
//  3. Merges each delta into state via the reducer.
//  4. Follows explicit routes, then predicate edges (first match wins).
//  5. Enforces the MaxSteps limit and context cancellation.
//
// runID identifies this invocation in emitted events; the dialogue runtime
// uses "userKey/flowID" style identifiers.
//
// Returns the final state, or an error if a node failed, no route matched, or
// a limit was exceeded.
func (e *Engine[S, D]) Invoke(ctx context.Context, runID string, initial S) (S, error) {
	var zero S

	if e.reducer == nil {
		return zero, &EngineError{
			Message: "reducer is required",
			Code:    "MISSING_REDUCER",
		}
	}
	if e.startNode == "" {
		return zero, &EngineError{
			Message: "start node not set (call StartAt before Invoke)",
			Code:    "NO_START_NODE",
		}
	}

	currentState := initial
	currentNode := e.startNode
	step := 0

	for {
		step++

		if e.opts.MaxSteps > 0 && step > e.opts.MaxSteps {
			return zero, &EngineError{
				Message: "invocation exceeded MaxSteps limit",
				Code:    "MAX_STEPS_EXCEEDED",
			}
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		default:
		}

		e.mu.RLock()
		nodeImpl, exists := e.nodes[currentNode]
		e.mu.RUnlock()

		if !exists {
			return zero, &EngineError{
				Message: "node not found during execution: " + currentNode,
				Code:    "NODE_NOT_FOUND",
			}
		}

		result, timeoutErr := runNodeWithTimeout(ctx, nodeImpl, currentNode, currentState, e.opts.DefaultNodeTimeout)
		if timeoutErr != nil {
			return zero, timeoutErr
		}
		if result.Err != nil {
			return zero, result.Err
		}

		currentState = e.reducer(currentState, result.Delta)

		if e.emitter != nil {
			e.emitter.Emit(emit.Event{
				RunID: runID,
				Step:  step,
				Node:  currentNode,
				Msg:   "node completed",
			})
		}

		if result.Route.Terminal {
			return currentState, nil
		}

		if result.Route.To != "" {
			currentNode = result.Route.To
			continue
		}

		nextNode := e.evaluateEdges(currentNode, currentState)
		if nextNode == "" {
			return zero, &EngineError{
				Message: "no valid route from node: " + currentNode,
				Code:    "NO_ROUTE",
			}
		}

		currentNode = nextNode
	}
}

// evaluateEdges finds the first matching edge from the given node.
//
// Edges are checked in insertion order: a nil predicate always matches, a
// non-nil predicate matches when it returns true for the post-merge state.
// Returns empty string if no edge matches.
func (e *Engine[S, D]) evaluateEdges(fromNode string, state S) string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, edge := range e.edges {
		if edge.From != fromNode {
			continue
		}

		if edge.When == nil {
			return edge.To
		}

		if edge.When(state) {
			return edge.To
		}
	}

	return ""
}

// EngineError represents an error from Engine operations.
type EngineError struct {
	Message string
	Code    string
}

func (e *EngineError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}
