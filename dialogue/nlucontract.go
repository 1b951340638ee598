package dialogue

import "context"

// DialogueContext is the snapshot handed to the command interpreter for one
// turn: the utterance plus everything the model needs to ground it.
type DialogueContext struct {
	// UserMessage is the raw utterance for this turn.
	UserMessage string `json:"user_message"`

	// ActiveFlow is the top of the flow stack, nil when no flow is active.
	ActiveFlow *FlowContext `json:"active_flow,omitempty"`

	// PendingTask is what the runtime is waiting for, nil when not waiting.
	PendingTask *PendingTask `json:"pending_task,omitempty"`

	// Slots are the active flow's collected values.
	Slots map[string]interface{} `json:"slots,omitempty"`

	// RecentMessages is a bounded window of conversation history.
	RecentMessages []Message `json:"recent_messages,omitempty"`

	// AvailableFlows lists the flow names a StartFlow command may reference.
	AvailableFlows []string `json:"available_flows"`
}

// NLUOutput is the structured result of interpretation.
type NLUOutput struct {
	Commands CommandList `json:"commands"`
}

// NLUService interprets a user utterance into dialogue commands.
//
// Implementations live in the nlu package (LLM-backed providers and a
// deterministic mock). Interpret must be safe for concurrent use; the runtime
// calls it once per turn per user.
type NLUService interface {
	Interpret(ctx context.Context, dctx DialogueContext) (CommandList, error)
}

// BuildDialogueContext assembles the interpreter snapshot from state.
func BuildDialogueContext(s State, availableFlows []string, historyWindow int) DialogueContext {
	dctx := DialogueContext{
		UserMessage:    s.UserMessage,
		PendingTask:    s.PendingTask,
		RecentMessages: s.RecentMessages(historyWindow),
		AvailableFlows: availableFlows,
	}
	if active := s.ActiveContext(); active != nil {
		dctx.ActiveFlow = active
		dctx.Slots = s.FlowSlots[active.FlowID]
	}
	return dctx
}
