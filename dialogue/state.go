// Package dialogue implements the dialogue management engine: a flow compiler,
// flow stack and slot manager, command handlers, and the orchestrator that
// drives compiled flow subgraphs across multi-turn conversations.
package dialogue

import (
	"time"

	"github.com/google/uuid"
)

// Standard role constants for conversation messages.
const (
	// RoleSystem indicates a system message that sets context or instructions.
	RoleSystem = "system"

	// RoleUser indicates a message from the human user.
	RoleUser = "user"

	// RoleAssistant indicates a response produced by the runtime.
	RoleAssistant = "assistant"
)

// Message represents a single turn in the conversation history.
type Message struct {
	// Role identifies the sender: "system", "user", or "assistant".
	Role string `json:"role"`

	// Content contains the message text.
	Content string `json:"content"`
}

// FlowState describes the lifecycle state of a flow instance.
// Serialized as a string.
type FlowState string

const (
	// FlowIdle is a flow that has been created but not yet stepped.
	FlowIdle FlowState = "idle"

	// FlowActive is the flow currently being driven by execute-flow.
	FlowActive FlowState = "active"

	// FlowWaitingInput is a flow paused on a pending task.
	FlowWaitingInput FlowState = "waiting_input"

	// FlowCompleted is a flow that ran to its end node.
	FlowCompleted FlowState = "completed"

	// FlowCancelled is a flow popped by a CancelFlow command.
	FlowCancelled FlowState = "cancelled"

	// FlowError is a flow terminated by an action failure or the
	// recursion guard.
	FlowError FlowState = "error"
)

// FlowContext is one entry on the flow stack. The top of the stack is the
// active flow.
//
// FlowID is a freshly minted unique identifier so multiple concurrent
// instances of the same flow do not collide in slot storage.
type FlowContext struct {
	FlowID      string    `json:"flow_id"`
	FlowName    string    `json:"flow_name"`
	CurrentStep string    `json:"current_step,omitempty"`
	FlowState   FlowState `json:"flow_state"`
	CreatedAt   time.Time `json:"created_at"`
}

// newFlowContext mints a FlowContext for a fresh instance of flowName.
func newFlowContext(flowName string) FlowContext {
	return FlowContext{
		FlowID:    flowName + "-" + uuid.NewString()[:8],
		FlowName:  flowName,
		FlowState: FlowActive,
		CreatedAt: time.Now().UTC(),
	}
}

// TaskKind discriminates PendingTask variants. Serialized as a string.
type TaskKind string

const (
	// TaskCollect asks the user for a slot value. Always requires input.
	TaskCollect TaskKind = "collect"

	// TaskConfirm asks the user a yes/no question. Always requires input.
	TaskConfirm TaskKind = "confirm"

	// TaskInform delivers a message; requires input only when WaitForAck is set.
	TaskInform TaskKind = "inform"
)

// PendingTask describes what user input the paused graph is waiting for.
//
// A non-nil PendingTask on the state means the graph is suspended at a
// user-input gate; no other node is the current execution point.
type PendingTask struct {
	Kind       TaskKind               `json:"kind"`
	Prompt     string                 `json:"prompt"`
	SlotName   string                 `json:"slot_name,omitempty"`
	Options    []string               `json:"options,omitempty"`
	WaitForAck bool                   `json:"wait_for_ack,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// NewCollectTask builds a pending task asking for slotName.
func NewCollectTask(prompt, slotName string, options []string) *PendingTask {
	return &PendingTask{
		Kind:     TaskCollect,
		Prompt:   prompt,
		SlotName: slotName,
		Options:  options,
	}
}

// NewConfirmTask builds a pending confirmation for the given confirmation
// slot. Options default to yes/no. Affirm/Deny handlers read SlotName to know
// which slot resolves the confirmation.
func NewConfirmTask(prompt, slotName string, options []string) *PendingTask {
	if len(options) == 0 {
		options = []string{"yes", "no"}
	}
	return &PendingTask{
		Kind:     TaskConfirm,
		Prompt:   prompt,
		SlotName: slotName,
		Options:  options,
	}
}

// NewInformTask builds an inform task. When waitForAck is false the message is
// delivered intra-turn and execution continues without user input.
func NewInformTask(prompt string, waitForAck bool) *PendingTask {
	return &PendingTask{
		Kind:       TaskInform,
		Prompt:     prompt,
		WaitForAck: waitForAck,
	}
}

// RequiresInput reports whether execution must pause for the user.
func (t *PendingTask) RequiresInput() bool {
	if t == nil {
		return false
	}
	if t.Kind == TaskInform {
		return t.WaitForAck
	}
	return true
}

// State is the single persisted dialogue object per user key.
//
// All mutation happens through Delta values merged by Reduce; nodes and the
// flow manager never write fields in place. The whole value is checkpointed at
// turn boundaries and restored on the next turn.
type State struct {
	// Messages is the ordered conversation history. Reducer: append.
	Messages []Message `json:"messages"`

	// FlowStack holds FlowContext entries, top (last element) = active flow.
	// Reducer: last-write-wins at whole-field granularity.
	FlowStack []FlowContext `json:"flow_stack"`

	// FlowSlots maps flow_id -> slot name -> value. Reducer: deep merge,
	// outer keys unioned, inner maps merged last-write-wins per slot.
	FlowSlots map[string]map[string]interface{} `json:"flow_slots"`

	// Commands is the NLU output for this turn. Ephemeral: cleared by respond.
	Commands CommandList `json:"commands"`

	// PendingTask is non-nil iff the graph is paused awaiting user input.
	PendingTask *PendingTask `json:"pending_task,omitempty"`

	// ExecutedSteps maps flow_id -> step names already executed, the
	// idempotency guard for say/action/set steps. Purged when a flow pops.
	ExecutedSteps map[string][]string `json:"executed_steps"`

	// PendingResponses accumulates assistant utterances during a turn;
	// flushed into Messages by respond.
	PendingResponses []string `json:"pending_responses"`

	// BranchTarget is set by a branch node to direct the next transition and
	// cleared by every node that consumes it.
	BranchTarget string `json:"branch_target,omitempty"`

	// UserMessage is the current turn's user utterance. Ephemeral.
	UserMessage string `json:"user_message,omitempty"`
}

// ActiveContext returns the top of the flow stack, or nil when empty.
func (s State) ActiveContext() *FlowContext {
	if len(s.FlowStack) == 0 {
		return nil
	}
	top := s.FlowStack[len(s.FlowStack)-1]
	return &top
}

// StepExecuted reports whether stepName has already run for flowID.
func (s State) StepExecuted(flowID, stepName string) bool {
	for _, name := range s.ExecutedSteps[flowID] {
		if name == stepName {
			return true
		}
	}
	return false
}

// Slot returns the named slot of the given flow instance.
func (s State) Slot(flowID, slotName string) (interface{}, bool) {
	slots, ok := s.FlowSlots[flowID]
	if !ok {
		return nil, false
	}
	v, ok := slots[slotName]
	return v, ok
}

// RecentMessages returns up to n most recent conversation messages.
func (s State) RecentMessages(n int) []Message {
	if n <= 0 || len(s.Messages) <= n {
		return s.Messages
	}
	return s.Messages[len(s.Messages)-n:]
}
