package dialogue

import (
	"fmt"
	"sync"

	"github.com/dshills/dialograph-go/graph/emit"
)

// Templates are the user-visible utterances the runtime produces itself.
// Everything else comes from flow configuration. Internal errors are never
// exposed; unrecoverable failures all render the Error template.
type Templates struct {
	Cancelled       string
	Error           string
	Clarify         string
	ChitChat        string
	Fallback        string
	InvalidSlot     string
	DigressionLimit string
}

// DefaultTemplates returns the built-in utterance set.
func DefaultTemplates() Templates {
	return Templates{
		Cancelled:       "Okay, I've cancelled that.",
		Error:           "Sorry, something went wrong. Please try again later.",
		Clarify:         "Could you rephrase that?",
		ChitChat:        "Let's get back to it.",
		Fallback:        "I'm not sure how to help with that.",
		InvalidSlot:     "That doesn't look like a valid value for %s, please provide it again.",
		DigressionLimit: "Let's finish what we're doing first.",
	}
}

// HandlerContext carries the collaborators a command handler may need.
type HandlerContext struct {
	Flows     *FlowManager
	Templates Templates
	Emitter   emit.Emitter

	// MaxDigressionDepth bounds how many suspended flows may sit beneath a
	// new interrupting flow. Zero disables the bound.
	MaxDigressionDepth int
}

// CommandHandler maps a command to a flow-stack mutation. Handlers are pure:
// they read state and return a Delta, never writing state in place.
type CommandHandler func(cmd Command, s State, hctx *HandlerContext) (Delta, error)

// CommandRegistry is the dispatch table keyed by command type.
//
// Handlers are registered at startup; registration is idempotent (re-register
// replaces). In strict mode an unknown command type fails the dispatch with
// UnknownCommandError; otherwise it is logged via the emitter and skipped.
type CommandRegistry struct {
	mu       sync.RWMutex
	handlers map[string]CommandHandler
	strict   bool
}

// NewCommandRegistry creates a registry, optionally in strict mode, with the
// default handler set installed.
func NewCommandRegistry(strict bool) *CommandRegistry {
	r := &CommandRegistry{
		handlers: make(map[string]CommandHandler),
		strict:   strict,
	}
	r.registerDefaults()
	return r
}

// Register installs a handler for the given command type, replacing any
// existing handler.
func (r *CommandRegistry) Register(cmdType string, h CommandHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[cmdType] = h
}

// Dispatch routes a command to its handler.
func (r *CommandRegistry) Dispatch(cmd Command, s State, hctx *HandlerContext) (Delta, error) {
	r.mu.RLock()
	h, ok := r.handlers[cmd.CommandType()]
	r.mu.RUnlock()

	if !ok {
		if r.strict {
			return Delta{}, &UnknownCommandError{Type: cmd.CommandType()}
		}
		if hctx.Emitter != nil {
			hctx.Emitter.Emit(emit.Event{
				Msg:  "unknown command ignored",
				Meta: map[string]interface{}{"command": cmd.CommandType()},
			})
		}
		return Delta{}, nil
	}

	return h(cmd, s, hctx)
}

// DispatchAll folds every command through the registry, merging the deltas in
// order. State is re-reduced between commands so later handlers observe the
// effects of earlier ones (a StartFlow followed by SetSlot lands in the new
// flow's slots).
func (r *CommandRegistry) DispatchAll(cmds CommandList, s State, hctx *HandlerContext) (Delta, error) {
	total := Delta{}
	current := s
	for _, cmd := range cmds {
		delta, err := r.Dispatch(cmd, current, hctx)
		if err != nil {
			return Delta{}, err
		}
		total = total.Merge(delta)
		current = Reduce(current, delta)
	}
	return total, nil
}

func (r *CommandRegistry) registerDefaults() {
	r.handlers[CmdStartFlow] = handleStartFlow
	r.handlers[CmdCancelFlow] = handleCancelFlow
	r.handlers[CmdSetSlot] = handleSetSlot
	r.handlers[CmdAffirmConfirmation] = handleAffirm
	r.handlers[CmdDenyConfirmation] = handleDeny
	r.handlers[CmdChitChat] = handleChitChat
	r.handlers[CmdClarify] = handleClarify
	r.handlers[CmdContinuation] = handleContinuation
}

// handleStartFlow pushes the requested flow (unless it is already active) and
// pre-populates any slots the NLU extracted from the same utterance. An
// interruption past the digression depth limit is refused: the user is asked
// to finish the current flow and the stack stays intact.
func handleStartFlow(cmd Command, s State, hctx *HandlerContext) (Delta, error) {
	start := cmd.(StartFlow)

	if active := s.ActiveContext(); active != nil && active.FlowName != start.FlowName &&
		hctx.MaxDigressionDepth > 0 && len(s.FlowStack) >= hctx.MaxDigressionDepth {
		if hctx.Emitter != nil {
			hctx.Emitter.Emit(emit.Event{
				Msg: "digression depth limit reached",
				Meta: map[string]interface{}{
					"flow_name": start.FlowName,
					"depth":     len(s.FlowStack),
				},
			})
		}
		return Delta{AppendResponses: []string{hctx.Templates.DigressionLimit}}, nil
	}

	ctx, delta, pushed := hctx.Flows.HandleIntentChange(s, start.FlowName)
	targetID := ""
	if pushed {
		targetID = ctx.FlowID
	} else if active := s.ActiveContext(); active != nil {
		targetID = active.FlowID
	}

	if targetID != "" && len(start.Slots) > 0 {
		slots := make(map[string]interface{}, len(start.Slots))
		for k, v := range start.Slots {
			slots[k] = v
		}
		delta = delta.Merge(Delta{
			MergeSlots: map[string]map[string]interface{}{targetID: slots},
		})
	}

	if pushed {
		// The new flow defines what the turn waits on; a suspended parent
		// re-issues its prompt when it surfaces again.
		delta = delta.Merge(Delta{ClearPendingTask: true})

		if hctx.Emitter != nil {
			hctx.Emitter.Emit(emit.Event{
				Msg: "flow pushed",
				Meta: map[string]interface{}{
					"flow_id":   ctx.FlowID,
					"flow_name": ctx.FlowName,
				},
			})
		}
	}

	return delta, nil
}

// handleCancelFlow pops the active flow as cancelled and queues the
// cancellation utterance. On an empty stack it is a no-op.
func handleCancelFlow(cmd Command, s State, hctx *HandlerContext) (Delta, error) {
	popped, delta, err := hctx.Flows.PopFlow(s, FlowCancelled)
	if err != nil {
		return Delta{}, nil
	}

	delta = delta.Merge(Delta{
		AppendResponses:  []string{hctx.Templates.Cancelled},
		ClearPendingTask: true,
	})

	if hctx.Emitter != nil {
		hctx.Emitter.Emit(emit.Event{
			Msg: "flow cancelled",
			Meta: map[string]interface{}{
				"flow_id":   popped.FlowID,
				"flow_name": popped.FlowName,
			},
		})
	}

	return delta, nil
}

// handleSetSlot writes the slot on the active flow. Empty stack: no-op delta.
func handleSetSlot(cmd Command, s State, hctx *HandlerContext) (Delta, error) {
	set := cmd.(SetSlot)
	return hctx.Flows.SetSlot(s, set.SlotName, set.Value), nil
}

// handleAffirm resolves a pending confirmation positively by writing the
// confirmation slot named on the pending task.
func handleAffirm(cmd Command, s State, hctx *HandlerContext) (Delta, error) {
	return resolveConfirmation(s, hctx, true), nil
}

// handleDeny resolves a pending confirmation negatively.
func handleDeny(cmd Command, s State, hctx *HandlerContext) (Delta, error) {
	return resolveConfirmation(s, hctx, false), nil
}

func resolveConfirmation(s State, hctx *HandlerContext, value bool) Delta {
	task := s.PendingTask
	if task == nil || task.Kind != TaskConfirm || task.SlotName == "" {
		return Delta{}
	}
	return hctx.Flows.SetSlot(s, task.SlotName, value)
}

// handleChitChat is a digression: respond without touching the flow stack.
func handleChitChat(cmd Command, s State, hctx *HandlerContext) (Delta, error) {
	chat := cmd.(ChitChat)
	content := chat.Content
	if content == "" {
		content = hctx.Templates.ChitChat
	}
	return Delta{AppendResponses: []string{content}}, nil
}

// handleClarify re-states what the runtime is waiting for, if anything.
func handleClarify(cmd Command, s State, hctx *HandlerContext) (Delta, error) {
	if task := s.PendingTask; task != nil && task.Prompt != "" {
		return Delta{AppendResponses: []string{fmt.Sprintf("%s %s", hctx.Templates.Clarify, task.Prompt)}}, nil
	}
	return Delta{AppendResponses: []string{hctx.Templates.Clarify}}, nil
}

// handleContinuation is an explicit proceed: no-op delta.
func handleContinuation(cmd Command, s State, hctx *HandlerContext) (Delta, error) {
	return Delta{}, nil
}
