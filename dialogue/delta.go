package dialogue

// Delta is an immutable partial update to State.
//
// Every mutation in the runtime (flow manager operations, command handlers,
// step nodes) returns a Delta; nothing writes State in place. Deltas are
// merged into state by Reduce, the single reducer given to every graph engine,
// and combined with each other via Merge.
//
// Field semantics follow the per-field reducers of the state model:
//   - append fields (messages, responses) accumulate
//   - whole-field LWW (flow stack, commands) replace when set
//   - flow slots deep-merge
//   - set/clear pairs express "no change" vs "clear" distinctly
type Delta struct {
	// ReplaceState substitutes the whole state before any other field
	// applies. Composite nodes that drive a nested engine use it to publish
	// the nested invocation's final state, since purges and pops cannot be
	// expressed field by field.
	ReplaceState *State

	// AppendMessages appends to the conversation history.
	AppendMessages []Message

	// ReplaceStack replaces the entire flow stack when non-nil.
	ReplaceStack *[]FlowContext

	// MergeSlots deep-merges into FlowSlots: outer keys unioned, inner slot
	// values last-write-wins.
	MergeSlots map[string]map[string]interface{}

	// PurgeSlots removes whole flow_id entries from FlowSlots.
	PurgeSlots []string

	// SetCommands replaces the command list when non-nil. A pointer to an
	// empty list clears it.
	SetCommands *CommandList

	// SetPendingTask sets the pending task; ClearPendingTask removes it.
	// Setting wins if both are present in a merged delta.
	SetPendingTask   *PendingTask
	ClearPendingTask bool

	// MarkExecuted records step names as executed per flow_id.
	MarkExecuted map[string][]string

	// UnmarkExecuted removes specific step names per flow_id, used by loop
	// back edges to rearm the body's idempotency guards for the next pass.
	UnmarkExecuted map[string][]string

	// PurgeExecuted removes whole flow_id entries from ExecutedSteps.
	PurgeExecuted []string

	// AppendResponses appends assistant utterances for this turn.
	AppendResponses []string

	// ClearResponses empties PendingResponses (after flushing to Messages).
	ClearResponses bool

	// SetBranchTarget sets or clears BranchTarget: nil means unchanged, a
	// pointer to "" clears.
	SetBranchTarget *string

	// SetUserMessage sets or clears UserMessage.
	SetUserMessage *string
}

// IsZero reports whether the delta carries no change.
func (d Delta) IsZero() bool {
	return d.ReplaceState == nil &&
		len(d.AppendMessages) == 0 &&
		d.ReplaceStack == nil &&
		len(d.MergeSlots) == 0 &&
		len(d.PurgeSlots) == 0 &&
		d.SetCommands == nil &&
		d.SetPendingTask == nil &&
		!d.ClearPendingTask &&
		len(d.MarkExecuted) == 0 &&
		len(d.UnmarkExecuted) == 0 &&
		len(d.PurgeExecuted) == 0 &&
		len(d.AppendResponses) == 0 &&
		!d.ClearResponses &&
		d.SetBranchTarget == nil &&
		d.SetUserMessage == nil
}

// Merge combines two deltas; other's changes layer on top of d's.
// Append fields concatenate, LWW fields prefer other when set, slot merges
// union with other winning per slot.
func (d Delta) Merge(other Delta) Delta {
	out := d

	if other.ReplaceState != nil {
		out.ReplaceState = other.ReplaceState
	}

	out.AppendMessages = append(append([]Message{}, d.AppendMessages...), other.AppendMessages...)
	out.AppendResponses = append(append([]string{}, d.AppendResponses...), other.AppendResponses...)
	out.PurgeSlots = append(append([]string{}, d.PurgeSlots...), other.PurgeSlots...)
	out.PurgeExecuted = append(append([]string{}, d.PurgeExecuted...), other.PurgeExecuted...)

	if other.ReplaceStack != nil {
		out.ReplaceStack = other.ReplaceStack
	}
	if other.SetCommands != nil {
		out.SetCommands = other.SetCommands
	}
	if other.SetPendingTask != nil {
		out.SetPendingTask = other.SetPendingTask
		out.ClearPendingTask = false
	} else if other.ClearPendingTask {
		out.ClearPendingTask = true
		out.SetPendingTask = nil
	}
	if other.SetBranchTarget != nil {
		out.SetBranchTarget = other.SetBranchTarget
	}
	if other.SetUserMessage != nil {
		out.SetUserMessage = other.SetUserMessage
	}
	out.ClearResponses = d.ClearResponses || other.ClearResponses

	if len(other.MergeSlots) > 0 {
		merged := make(map[string]map[string]interface{}, len(d.MergeSlots)+len(other.MergeSlots))
		for flowID, slots := range d.MergeSlots {
			inner := make(map[string]interface{}, len(slots))
			for k, v := range slots {
				inner[k] = v
			}
			merged[flowID] = inner
		}
		for flowID, slots := range other.MergeSlots {
			inner, ok := merged[flowID]
			if !ok {
				inner = make(map[string]interface{}, len(slots))
				merged[flowID] = inner
			}
			for k, v := range slots {
				inner[k] = v
			}
		}
		out.MergeSlots = merged
	}

	if len(other.MarkExecuted) > 0 {
		marked := make(map[string][]string, len(d.MarkExecuted)+len(other.MarkExecuted))
		for flowID, steps := range d.MarkExecuted {
			marked[flowID] = append([]string{}, steps...)
		}
		for flowID, steps := range other.MarkExecuted {
			marked[flowID] = append(marked[flowID], steps...)
		}
		out.MarkExecuted = marked
	}

	if len(other.UnmarkExecuted) > 0 {
		unmarked := make(map[string][]string, len(d.UnmarkExecuted)+len(other.UnmarkExecuted))
		for flowID, steps := range d.UnmarkExecuted {
			unmarked[flowID] = append([]string{}, steps...)
		}
		for flowID, steps := range other.UnmarkExecuted {
			unmarked[flowID] = append(unmarked[flowID], steps...)
		}
		out.UnmarkExecuted = unmarked
	}

	return out
}

// Reduce merges a delta into state, returning the new state.
//
// Reduce is copy-on-write: maps and slices of prev are never mutated, so a
// caller holding the previous state still sees the pre-merge values. This is
// what makes subgraph re-invocation and turn rollback safe.
func Reduce(prev State, d Delta) State {
	if d.ReplaceState != nil {
		prev = *d.ReplaceState
	}
	next := prev

	if len(d.AppendMessages) > 0 {
		next.Messages = append(append([]Message{}, prev.Messages...), d.AppendMessages...)
	}

	if d.ReplaceStack != nil {
		next.FlowStack = append([]FlowContext{}, (*d.ReplaceStack)...)
	}

	if len(d.MergeSlots) > 0 || len(d.PurgeSlots) > 0 {
		slots := make(map[string]map[string]interface{}, len(prev.FlowSlots))
		for flowID, inner := range prev.FlowSlots {
			copied := make(map[string]interface{}, len(inner))
			for k, v := range inner {
				copied[k] = v
			}
			slots[flowID] = copied
		}
		for flowID, inner := range d.MergeSlots {
			target, ok := slots[flowID]
			if !ok {
				target = make(map[string]interface{}, len(inner))
				slots[flowID] = target
			}
			for k, v := range inner {
				target[k] = v
			}
		}
		for _, flowID := range d.PurgeSlots {
			delete(slots, flowID)
		}
		next.FlowSlots = slots
	}

	if d.SetCommands != nil {
		next.Commands = append(CommandList{}, (*d.SetCommands)...)
	}

	if d.SetPendingTask != nil {
		next.PendingTask = d.SetPendingTask
	} else if d.ClearPendingTask {
		next.PendingTask = nil
	}

	if len(d.MarkExecuted) > 0 || len(d.UnmarkExecuted) > 0 || len(d.PurgeExecuted) > 0 {
		executed := make(map[string][]string, len(prev.ExecutedSteps))
		for flowID, steps := range prev.ExecutedSteps {
			executed[flowID] = append([]string{}, steps...)
		}
		for flowID, steps := range d.MarkExecuted {
			for _, step := range steps {
				if !containsString(executed[flowID], step) {
					executed[flowID] = append(executed[flowID], step)
				}
			}
		}
		for flowID, steps := range d.UnmarkExecuted {
			kept := executed[flowID][:0:0]
			for _, name := range executed[flowID] {
				if !containsString(steps, name) {
					kept = append(kept, name)
				}
			}
			executed[flowID] = kept
		}
		for _, flowID := range d.PurgeExecuted {
			delete(executed, flowID)
		}
		next.ExecutedSteps = executed
	}

	if d.ClearResponses {
		next.PendingResponses = nil
	}
	if len(d.AppendResponses) > 0 {
		next.PendingResponses = append(append([]string{}, next.PendingResponses...), d.AppendResponses...)
	}

	if d.SetBranchTarget != nil {
		next.BranchTarget = *d.SetBranchTarget
	}
	if d.SetUserMessage != nil {
		next.UserMessage = *d.SetUserMessage
	}

	return next
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// strPtr is a convenience for the set/clear string fields of Delta.
func strPtr(s string) *string {
	return &s
}
