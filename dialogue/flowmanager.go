package dialogue

import "errors"

// ErrStackLimit is returned by PushFlow under the reject-new overflow policy
// when the stack is already at the configured depth limit.
var ErrStackLimit = errors.New("flow stack depth limit reached")

// OverflowPolicy selects what PushFlow does when the stack is full.
type OverflowPolicy string

const (
	// CancelOldest drops the bottom of the stack to make room (default).
	CancelOldest OverflowPolicy = "cancel_oldest"

	// RejectNew refuses the push and keeps the stack intact.
	RejectNew OverflowPolicy = "reject_new"
)

// FlowManager exposes stack, slot, and step operations over State.
//
// Every mutation returns a Delta; the state is never written in place.
// Callers combine deltas via Delta.Merge and hand the result to the engine's
// reducer. Operations on an empty stack return empty deltas rather than
// errors, except PopFlow.
type FlowManager struct {
	maxDepth int
	overflow OverflowPolicy
}

// NewFlowManager creates a FlowManager with the given stack depth limit and
// overflow policy. A maxDepth of 0 disables the limit.
func NewFlowManager(maxDepth int, overflow OverflowPolicy) *FlowManager {
	if overflow == "" {
		overflow = CancelOldest
	}
	return &FlowManager{maxDepth: maxDepth, overflow: overflow}
}

// PushFlow mints a new flow instance and places it on top of the stack.
// The previous top is suspended (flow_state=idle) until it surfaces again.
//
// When the stack is at the depth limit, the overflow policy applies:
// cancel-oldest evicts the bottom entry (purging its slots and executed
// steps), reject-new returns ErrStackLimit with an empty delta.
func (m *FlowManager) PushFlow(s State, flowName string) (FlowContext, Delta, error) {
	stack := append([]FlowContext{}, s.FlowStack...)
	delta := Delta{}

	if m.maxDepth > 0 && len(stack) >= m.maxDepth {
		if m.overflow == RejectNew {
			return FlowContext{}, Delta{}, ErrStackLimit
		}
		evicted := stack[0]
		stack = append([]FlowContext{}, stack[1:]...)
		delta.PurgeSlots = append(delta.PurgeSlots, evicted.FlowID)
		delta.PurgeExecuted = append(delta.PurgeExecuted, evicted.FlowID)
	}

	if len(stack) > 0 {
		stack[len(stack)-1].FlowState = FlowIdle
	}

	ctx := newFlowContext(flowName)
	stack = append(stack, ctx)
	delta.ReplaceStack = &stack

	return ctx, delta, nil
}

// PopFlow removes the top of the stack, recording result as the popped flow's
// final state, and purges its slots and executed steps. The new top, if any,
// resumes as active.
//
// Returns EmptyStackError when there is nothing to pop.
func (m *FlowManager) PopFlow(s State, result FlowState) (FlowContext, Delta, error) {
	if len(s.FlowStack) == 0 {
		return FlowContext{}, Delta{}, &EmptyStackError{}
	}

	stack := append([]FlowContext{}, s.FlowStack...)
	popped := stack[len(stack)-1]
	popped.FlowState = result
	stack = stack[:len(stack)-1]

	if len(stack) > 0 {
		stack[len(stack)-1].FlowState = FlowActive
	}

	delta := Delta{
		ReplaceStack:  &stack,
		PurgeSlots:    []string{popped.FlowID},
		PurgeExecuted: []string{popped.FlowID},
	}
	return popped, delta, nil
}

// ActiveContext returns the top of the stack, or nil when empty.
func (m *FlowManager) ActiveContext(s State) *FlowContext {
	return s.ActiveContext()
}

// GetSlot reads a slot of the active flow. Returns (nil, false) when the
// stack is empty or the slot is unset.
func (m *FlowManager) GetSlot(s State, slotName string) (interface{}, bool) {
	active := s.ActiveContext()
	if active == nil {
		return nil, false
	}
	return s.Slot(active.FlowID, slotName)
}

// HasSlot reports whether the active flow has the named slot set.
func (m *FlowManager) HasSlot(s State, slotName string) bool {
	_, ok := m.GetSlot(s, slotName)
	return ok
}

// SetSlot writes a slot in the active flow's context, returning the carrying
// delta. An empty stack yields an empty delta.
func (m *FlowManager) SetSlot(s State, slotName string, value interface{}) Delta {
	active := s.ActiveContext()
	if active == nil {
		return Delta{}
	}
	return Delta{
		MergeSlots: map[string]map[string]interface{}{
			active.FlowID: {slotName: value},
		},
	}
}

// AllSlots returns a copy of the active flow's slot map. Empty map when the
// stack is empty.
func (m *FlowManager) AllSlots(s State) map[string]interface{} {
	active := s.ActiveContext()
	if active == nil {
		return map[string]interface{}{}
	}
	out := make(map[string]interface{}, len(s.FlowSlots[active.FlowID]))
	for k, v := range s.FlowSlots[active.FlowID] {
		out[k] = v
	}
	return out
}

// UpdateCurrentStep emits a delta mutating current_step of the matching
// FlowContext. Unknown flow IDs yield an empty delta.
func (m *FlowManager) UpdateCurrentStep(s State, flowID, stepName string) Delta {
	found := false
	stack := append([]FlowContext{}, s.FlowStack...)
	for i := range stack {
		if stack[i].FlowID == flowID {
			stack[i].CurrentStep = stepName
			found = true
			break
		}
	}
	if !found {
		return Delta{}
	}
	return Delta{ReplaceStack: &stack}
}

// HandleIntentChange pushes newFlowName when it differs from the active flow;
// a matching active flow is a no-op. Returns the pushed context and whether a
// push happened.
func (m *FlowManager) HandleIntentChange(s State, newFlowName string) (FlowContext, Delta, bool) {
	active := s.ActiveContext()
	if active != nil && active.FlowName == newFlowName {
		return FlowContext{}, Delta{}, false
	}
	ctx, delta, err := m.PushFlow(s, newFlowName)
	if err != nil {
		return FlowContext{}, Delta{}, false
	}
	return ctx, delta, true
}
