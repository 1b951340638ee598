package dialogue

import (
	"context"
	"fmt"
	"regexp"

	"github.com/dshills/dialograph-go/dialogue/config"
	"github.com/dshills/dialograph-go/graph"
)

// EndFlowNode is the synthetic terminal node appended to every compiled
// subgraph. Reaching it ends the invocation; the execute-flow loop inspects
// the resulting state to decide between pause and pop.
const EndFlowNode = "__end_flow__"

// stepEnv carries the compiled collaborators shared by every node of one
// flow's subgraph.
type stepEnv struct {
	flowName           string
	flows              *FlowManager
	actions            *ActionRegistry
	templates          Templates
	validators         map[string]*regexp.Regexp
	maxConfirmAttempts int
}

// FlowNode is a step node paired with its graph identity.
type FlowNode = graph.Node[State, Delta]

// consumeBranchTarget wraps a step node so that entering it consumes any
// branch target set by a previous node. The clear is layered under the node's
// own delta, so a branch node entered via another branch still sets its target.
func consumeBranchTarget(node FlowNode) FlowNode {
	return graph.NodeFunc[State, Delta](func(ctx context.Context, s State) graph.NodeResult[State, Delta] {
		res := node.Run(ctx, s)
		if s.BranchTarget != "" {
			res.Delta = Delta{SetBranchTarget: strPtr("")}.Merge(res.Delta)
		}
		return res
	})
}

// requireActive is the guard every step node starts with. A subgraph invoked
// without an active flow is a programming error in the execute-flow loop.
func requireActive(s State, stepName string) (*FlowContext, *graph.NodeError) {
	active := s.ActiveContext()
	if active == nil {
		return nil, &graph.NodeError{
			Message: "no active flow on stack",
			Code:    "NO_ACTIVE_FLOW",
			NodeID:  stepName,
		}
	}
	return active, nil
}

// newCollectNode builds the node for a collect step.
//
// Slot present and valid: proceed without delta (the short-circuit that makes
// re-invocation from the start idempotent). Slot present but failing the
// validator: purge the value, queue the invalid-slot utterance, and re-ask.
// Slot absent: set the pending task and suspend.
func newCollectNode(step config.Step, env *stepEnv) FlowNode {
	return graph.NodeFunc[State, Delta](func(ctx context.Context, s State) graph.NodeResult[State, Delta] {
		active, nerr := requireActive(s, step.Step)
		if nerr != nil {
			return graph.NodeResult[State, Delta]{Err: nerr}
		}

		delta := env.flows.UpdateCurrentStep(s, active.FlowID, step.Step)

		if value, ok := s.Slot(active.FlowID, step.Slot); ok {
			if validator := env.validators[step.Slot]; validator != nil && !validator.MatchString(formatValue(value)) {
				slots := s.FlowSlots[active.FlowID]
				prompt := Interpolate(step.Prompt, slots)
				delta = delta.Merge(Delta{
					MergeSlots:      map[string]map[string]interface{}{active.FlowID: {step.Slot: nil}},
					AppendResponses: []string{fmt.Sprintf(env.templates.InvalidSlot, step.Slot)},
					SetPendingTask:  NewCollectTask(prompt, step.Slot, step.Options),
				})
				return graph.NodeResult[State, Delta]{Delta: markWaiting(s, delta, active.FlowID)}
			}

			return graph.NodeResult[State, Delta]{Delta: delta}
		}

		prompt := Interpolate(step.Prompt, s.FlowSlots[active.FlowID])
		delta = delta.Merge(Delta{SetPendingTask: NewCollectTask(prompt, step.Slot, step.Options)})
		return graph.NodeResult[State, Delta]{Delta: markWaiting(s, delta, active.FlowID)}
	})
}

// newConfirmNode builds the node for a confirm step. The confirmation slot is
// normally written by the affirm/deny command handlers; the node also consumes
// affirm/deny commands directly as a fallback, and treats too many unparsed
// answers as a denial.
func newConfirmNode(step config.Step, env *stepEnv) FlowNode {
	return graph.NodeFunc[State, Delta](func(ctx context.Context, s State) graph.NodeResult[State, Delta] {
		active, nerr := requireActive(s, step.Step)
		if nerr != nil {
			return graph.NodeResult[State, Delta]{Err: nerr}
		}

		delta := env.flows.UpdateCurrentStep(s, active.FlowID, step.Step)

		if _, ok := s.Slot(active.FlowID, step.Slot); ok {
			return graph.NodeResult[State, Delta]{Delta: delta}
		}

		if s.Commands.HasType(CmdAffirmConfirmation) {
			delta = delta.Merge(resolveConfirmDelta(active.FlowID, step.Step, step.Slot, true))
			return graph.NodeResult[State, Delta]{Delta: delta}
		}
		if s.Commands.HasType(CmdDenyConfirmation) {
			delta = delta.Merge(resolveConfirmDelta(active.FlowID, step.Step, step.Slot, false))
			return graph.NodeResult[State, Delta]{Delta: delta}
		}

		attempts := confirmAttempts(s, active.FlowID, step.Step)
		if env.maxConfirmAttempts > 0 && attempts >= env.maxConfirmAttempts {
			delta = delta.Merge(resolveConfirmDelta(active.FlowID, step.Step, step.Slot, false))
			return graph.NodeResult[State, Delta]{Delta: delta}
		}

		prompt := Interpolate(step.Prompt, s.FlowSlots[active.FlowID])
		task := NewConfirmTask(prompt, step.Slot, step.Options)
		if attempts > 0 {
			task.Metadata = map[string]interface{}{"attempts": attempts}
		}
		delta = delta.Merge(Delta{
			SetPendingTask: task,
			MergeSlots:     map[string]map[string]interface{}{active.FlowID: {attemptsSlot(step.Step): attempts + 1}},
		})
		return graph.NodeResult[State, Delta]{Delta: markWaiting(s, delta, active.FlowID)}
	})
}

func resolveConfirmDelta(flowID, stepName, slot string, value bool) Delta {
	return Delta{
		MergeSlots:       map[string]map[string]interface{}{flowID: {slot: value, attemptsSlot(stepName): nil}},
		ClearPendingTask: true,
	}
}

// attemptsSlot names the reserved slot counting a confirm step's unparsed
// answers. Kept in flow slots so the count survives re-invocation and turn
// boundaries; purged with the rest of the flow's slots on pop.
func attemptsSlot(stepName string) string {
	return stepName + "__attempts"
}

func confirmAttempts(s State, flowID, stepName string) int {
	v, _ := s.Slot(flowID, attemptsSlot(stepName))
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return 0
	}
}

// newSayNode builds the node for a say step: queue the interpolated message
// once per flow instance, guarded by executed_steps.
func newSayNode(step config.Step, env *stepEnv) FlowNode {
	return graph.NodeFunc[State, Delta](func(ctx context.Context, s State) graph.NodeResult[State, Delta] {
		active, nerr := requireActive(s, step.Step)
		if nerr != nil {
			return graph.NodeResult[State, Delta]{Err: nerr}
		}

		delta := env.flows.UpdateCurrentStep(s, active.FlowID, step.Step)
		if s.StepExecuted(active.FlowID, step.Step) {
			return graph.NodeResult[State, Delta]{Delta: delta}
		}

		message := Interpolate(step.Message, s.FlowSlots[active.FlowID])
		delta = delta.Merge(Delta{
			AppendResponses: []string{message},
			MarkExecuted:    map[string][]string{active.FlowID: {step.Step}},
		})
		return graph.NodeResult[State, Delta]{Delta: delta}
	})
}

// newSetNode builds the node for a set step, guarded by executed_steps so the
// write happens once even across re-invocations.
func newSetNode(step config.Step, env *stepEnv) FlowNode {
	return graph.NodeFunc[State, Delta](func(ctx context.Context, s State) graph.NodeResult[State, Delta] {
		active, nerr := requireActive(s, step.Step)
		if nerr != nil {
			return graph.NodeResult[State, Delta]{Err: nerr}
		}

		delta := env.flows.UpdateCurrentStep(s, active.FlowID, step.Step)
		if s.StepExecuted(active.FlowID, step.Step) {
			return graph.NodeResult[State, Delta]{Delta: delta}
		}

		value := EvalValue(step.Value, s.FlowSlots[active.FlowID])
		delta = delta.Merge(Delta{
			MergeSlots:   map[string]map[string]interface{}{active.FlowID: {step.Slot: value}},
			MarkExecuted: map[string][]string{active.FlowID: {step.Step}},
		})
		return graph.NodeResult[State, Delta]{Delta: delta}
	})
}

// newActionNode builds the node for an action step. Inputs are gathered from
// the named slots, the handler runs under its timeout and retry policy, and
// outputs map back into slots. The executed_steps guard keeps the side effect
// at-most-once per flow instance.
func newActionNode(step config.Step, env *stepEnv) FlowNode {
	return graph.NodeFunc[State, Delta](func(ctx context.Context, s State) graph.NodeResult[State, Delta] {
		active, nerr := requireActive(s, step.Step)
		if nerr != nil {
			return graph.NodeResult[State, Delta]{Err: nerr}
		}

		delta := env.flows.UpdateCurrentStep(s, active.FlowID, step.Step)
		if s.StepExecuted(active.FlowID, step.Step) {
			return graph.NodeResult[State, Delta]{Delta: delta}
		}

		inputs := make(map[string]interface{}, len(step.Inputs))
		for _, name := range step.Inputs {
			if v, ok := s.Slot(active.FlowID, name); ok {
				inputs[name] = v
			}
		}

		outputs, err := env.actions.Invoke(ctx, step.Call, inputs)
		if err != nil {
			return graph.NodeResult[State, Delta]{Delta: delta, Err: err}
		}

		written := make(map[string]interface{}, len(outputs))
		if len(step.MapOutputs) > 0 {
			for outKey, slotName := range step.MapOutputs {
				if v, ok := outputs[outKey]; ok {
					written[slotName] = v
				}
			}
		} else {
			for k, v := range outputs {
				written[k] = v
			}
		}

		delta = delta.Merge(Delta{
			MarkExecuted: map[string][]string{active.FlowID: {step.Step}},
		})
		if len(written) > 0 {
			delta = delta.Merge(Delta{
				MergeSlots: map[string]map[string]interface{}{active.FlowID: written},
			})
		}
		return graph.NodeResult[State, Delta]{Delta: delta}
	})
}

// newBranchNode builds the node for a branch step: resolve the input against
// the slots, pick the matching case (or the default), and publish the target
// for the compiler's predicate edges to route on. Branches are pure and run
// on every re-invocation.
func newBranchNode(step config.Step, env *stepEnv) FlowNode {
	return graph.NodeFunc[State, Delta](func(ctx context.Context, s State) graph.NodeResult[State, Delta] {
		active, nerr := requireActive(s, step.Step)
		if nerr != nil {
			return graph.NodeResult[State, Delta]{Err: nerr}
		}

		delta := env.flows.UpdateCurrentStep(s, active.FlowID, step.Step)

		value := EvalValue(step.Input, s.FlowSlots[active.FlowID])
		target, ok := step.Cases[formatValue(value)]
		if !ok {
			target = step.Default
		}
		if target == "" {
			return graph.NodeResult[State, Delta]{Err: &graph.NodeError{
				Message: fmt.Sprintf("no case matches %q and no default", formatValue(value)),
				Code:    "BRANCH_NO_MATCH",
				NodeID:  step.Step,
			}}
		}

		delta = delta.Merge(Delta{SetBranchTarget: strPtr(target)})
		return graph.NodeResult[State, Delta]{Delta: delta}
	})
}

// newWhileGuardNode builds the guard node a while step desugars into. True:
// route into the loop body; false: fall through to the step after the loop.
// The routing itself lives in the compiler's predicate edges keyed on the
// published branch target.
func newWhileGuardNode(step config.Step, env *stepEnv, bodyEntry, exit string) FlowNode {
	return graph.NodeFunc[State, Delta](func(ctx context.Context, s State) graph.NodeResult[State, Delta] {
		active, nerr := requireActive(s, step.Step)
		if nerr != nil {
			return graph.NodeResult[State, Delta]{Err: nerr}
		}

		delta := env.flows.UpdateCurrentStep(s, active.FlowID, step.Step)

		hold, err := EvalCondition(step.Condition, s.FlowSlots[active.FlowID])
		if err != nil {
			return graph.NodeResult[State, Delta]{Err: &graph.NodeError{
				Message: "condition failed: " + err.Error(),
				Code:    "BAD_CONDITION",
				NodeID:  step.Step,
				Cause:   err,
			}}
		}

		target := exit
		if hold {
			target = bodyEntry
		}
		delta = delta.Merge(Delta{SetBranchTarget: strPtr(target)})
		return graph.NodeResult[State, Delta]{Delta: delta}
	})
}

// newLoopContinueNode builds the node placed on a loop's back edge. It rearms
// the body's idempotency guards and routes back to the guard. Because only a
// completed body pass reaches it, a re-invocation that resumes a suspended
// iteration still short-circuits through the already-executed steps.
func newLoopContinueNode(whileName string, bodySteps []string, guardID string) FlowNode {
	return graph.NodeFunc[State, Delta](func(ctx context.Context, s State) graph.NodeResult[State, Delta] {
		active, nerr := requireActive(s, whileName)
		if nerr != nil {
			return graph.NodeResult[State, Delta]{Err: nerr}
		}
		return graph.NodeResult[State, Delta]{
			Delta: Delta{
				UnmarkExecuted: map[string][]string{active.FlowID: bodySteps},
			},
			Route: graph.Goto(guardID),
		}
	})
}

// markWaiting flips the flow to waiting_input alongside a pending task. The
// rewrite starts from the stack already carried in delta, so a current_step
// update merged earlier survives the replace.
func markWaiting(s State, delta Delta, flowID string) Delta {
	stack := s.FlowStack
	if delta.ReplaceStack != nil {
		stack = *delta.ReplaceStack
	}
	out := append([]FlowContext{}, stack...)
	for i := range out {
		if out[i].FlowID == flowID {
			out[i].FlowState = FlowWaitingInput
		}
	}
	return delta.Merge(Delta{ReplaceStack: &out})
}

// newEndFlowNode builds the shared terminal node. It stops the invocation;
// interpretation of the final state belongs to execute-flow.
func newEndFlowNode() FlowNode {
	return graph.NodeFunc[State, Delta](func(ctx context.Context, s State) graph.NodeResult[State, Delta] {
		return graph.NodeResult[State, Delta]{Route: graph.Stop()}
	})
}
