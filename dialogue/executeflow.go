package dialogue

import (
	"context"

	"github.com/dshills/dialograph-go/graph"
	"github.com/dshills/dialograph-go/graph/emit"
)

// executeFlow drives compiled subgraphs until the stack drains or a flow
// suspends on user input.
//
// Each pass invokes the active flow's subgraph from its start node; the
// executed-step guards and slot short-circuits make re-invocation land on the
// point the flow last paused at. No checkpoint exists inside a subgraph.
type executeFlow struct {
	registry  *FlowRegistry
	flows     *FlowManager
	templates Templates
	emitter   emit.Emitter
	metrics   *Metrics
	iterLimit int
}

func newExecuteFlowNode(registry *FlowRegistry, flows *FlowManager, templates Templates, emitter emit.Emitter, metrics *Metrics, iterLimit int) FlowNode {
	ef := &executeFlow{
		registry:  registry,
		flows:     flows,
		templates: templates,
		emitter:   emitter,
		metrics:   metrics,
		iterLimit: iterLimit,
	}
	return graph.NodeFunc[State, Delta](ef.run)
}

func (ef *executeFlow) run(ctx context.Context, s State) graph.NodeResult[State, Delta] {
	current := s
	userKey := UserKeyFromContext(ctx)

	for iter := 0; ; iter++ {
		active := current.ActiveContext()
		if active == nil {
			break
		}

		if iter >= ef.iterLimit {
			ef.emit(userKey, "iteration limit exceeded", map[string]interface{}{
				"flow_id": active.FlowID,
				"error":   ErrIterationLimit.Error(),
			})
			current = ef.failActive(current)
			break
		}

		compiled, ok := ef.registry.Get(active.FlowName)
		if !ok {
			ef.emit(userKey, "unknown flow on stack", map[string]interface{}{
				"flow_id":   active.FlowID,
				"flow_name": active.FlowName,
			})
			current = ef.failActive(current)
			continue
		}

		// A gate from an earlier turn never enters a subgraph. An unresolved
		// collect or confirm re-emits its task against the current slots, so
		// a resumed flow pauses at the right step with a fresh prompt.
		project := ef.markActive(current, active.FlowID)
		project.ClearPendingTask = true
		current = Reduce(current, project)

		final, err := compiled.Engine.Invoke(ctx, userKey+"/"+active.FlowID, current)
		if err != nil {
			ef.emit(userKey, "flow failed", map[string]interface{}{
				"flow_id":   active.FlowID,
				"flow_name": active.FlowName,
				"error":     err.Error(),
			})
			current = ef.failActive(current)
			continue
		}
		current = final

		task := current.PendingTask
		if task != nil && task.Kind == TaskInform && !task.WaitForAck {
			// Intra-turn delivery: surface the message and keep going.
			current = Reduce(current, Delta{
				AppendResponses:  []string{task.Prompt},
				ClearPendingTask: true,
			})
			continue
		}
		if task.RequiresInput() {
			break
		}

		// The subgraph ran to its end: the flow is complete, pop it and let
		// the parent (if any) resume on the next pass.
		popped, delta, perr := ef.flows.PopFlow(current, FlowCompleted)
		if perr != nil {
			break
		}
		current = Reduce(current, delta)
		ef.emit(userKey, "flow completed", map[string]interface{}{
			"flow_id":   popped.FlowID,
			"flow_name": popped.FlowName,
		})
	}

	return graph.NodeResult[State, Delta]{Delta: Delta{ReplaceState: &current}}
}

// failActive pops the active flow as errored, queues the generic failure
// utterance, and clears any pending task so the turn does not stay suspended
// on a dead flow.
func (ef *executeFlow) failActive(s State) State {
	popped, delta, err := ef.flows.PopFlow(s, FlowError)
	if err != nil {
		return s
	}
	if ef.metrics != nil {
		ef.metrics.FlowErrorsTotal.WithLabelValues(popped.FlowName).Inc()
	}
	delta = delta.Merge(Delta{
		AppendResponses:  []string{ef.templates.Error},
		ClearPendingTask: true,
	})
	return Reduce(s, delta)
}

// markActive flips the flow to active before its subgraph is driven.
func (ef *executeFlow) markActive(s State, flowID string) Delta {
	stack := append([]FlowContext{}, s.FlowStack...)
	for i := range stack {
		if stack[i].FlowID == flowID {
			stack[i].FlowState = FlowActive
		}
	}
	return Delta{ReplaceStack: &stack}
}

func (ef *executeFlow) emit(runID, msg string, meta map[string]interface{}) {
	if ef.emitter == nil {
		return
	}
	ef.emitter.Emit(emit.Event{RunID: runID, Node: "execute_flow", Msg: msg, Meta: meta})
}

type ctxKey int

const userKeyCtxKey ctxKey = 0

// WithUserKey tags a context with the user key for run identification in
// emitted events.
func WithUserKey(ctx context.Context, userKey string) context.Context {
	return context.WithValue(ctx, userKeyCtxKey, userKey)
}

// UserKeyFromContext extracts the user key, empty when untagged.
func UserKeyFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userKeyCtxKey).(string); ok {
		return v
	}
	return ""
}
