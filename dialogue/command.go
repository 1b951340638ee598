package dialogue

import (
	"encoding/json"
	"fmt"
)

// Command type discriminators, used as the "type" field of the JSON envelope.
const (
	CmdStartFlow          = "start_flow"
	CmdCancelFlow         = "cancel_flow"
	CmdSetSlot            = "set_slot"
	CmdAffirmConfirmation = "affirm_confirmation"
	CmdDenyConfirmation   = "deny_confirmation"
	CmdChitChat           = "chitchat"
	CmdClarify            = "clarify"
	CmdContinuation       = "continuation"
)

// Command is a typed directive emitted by the NLU describing a requested
// state change. Commands form a closed tagged union; the handler registry
// dispatches on CommandType.
//
// Commands serialize as {"type": "...", ...fields} envelopes so the whole
// dialogue state round-trips losslessly through any checkpointer backend.
type Command interface {
	// CommandType returns the discriminator tag for this command.
	CommandType() string
}

// StartFlow pushes a new instance of the named flow onto the stack,
// optionally pre-populating slots extracted from the same utterance.
type StartFlow struct {
	FlowName string                 `json:"flow_name"`
	Slots    map[string]interface{} `json:"slots,omitempty"`
}

// CancelFlow pops the active flow, marking it cancelled.
type CancelFlow struct{}

// SetSlot writes a slot in the active flow's context.
type SetSlot struct {
	SlotName string      `json:"slot_name"`
	Value    interface{} `json:"value"`
}

// AffirmConfirmation resolves a pending confirm step positively.
type AffirmConfirmation struct{}

// DenyConfirmation resolves a pending confirm step negatively.
type DenyConfirmation struct{}

// ChitChat is a digression: small talk or an off-flow question. It carries
// the NLU's suggested response and does not mutate the flow stack.
type ChitChat struct {
	Content string `json:"content"`
}

// Clarify signals the user needs clarification of what is being asked.
// Does not mutate the flow stack.
type Clarify struct{}

// Continuation is an explicit "proceed" without content.
type Continuation struct{}

func (StartFlow) CommandType() string          { return CmdStartFlow }
func (CancelFlow) CommandType() string         { return CmdCancelFlow }
func (SetSlot) CommandType() string            { return CmdSetSlot }
func (AffirmConfirmation) CommandType() string { return CmdAffirmConfirmation }
func (DenyConfirmation) CommandType() string   { return CmdDenyConfirmation }
func (ChitChat) CommandType() string           { return CmdChitChat }
func (Clarify) CommandType() string            { return CmdClarify }
func (Continuation) CommandType() string       { return CmdContinuation }

// CommandList is a slice of commands with envelope-aware JSON round-tripping.
type CommandList []Command

// MarshalJSON serializes each command as a {"type", ...fields} envelope.
func (cl CommandList) MarshalJSON() ([]byte, error) {
	envelopes := make([]map[string]interface{}, 0, len(cl))
	for _, cmd := range cl {
		fields, err := json.Marshal(cmd)
		if err != nil {
			return nil, fmt.Errorf("marshal command %s: %w", cmd.CommandType(), err)
		}
		envelope := make(map[string]interface{})
		if err := json.Unmarshal(fields, &envelope); err != nil {
			return nil, fmt.Errorf("marshal command %s: %w", cmd.CommandType(), err)
		}
		envelope["type"] = cmd.CommandType()
		envelopes = append(envelopes, envelope)
	}
	return json.Marshal(envelopes)
}

// UnmarshalJSON decodes command envelopes, dispatching on the "type" field.
// Unknown types produce an error; the checkpointer must never hold commands
// this runtime cannot interpret.
func (cl *CommandList) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	out := make(CommandList, 0, len(raw))
	for _, item := range raw {
		cmd, err := UnmarshalCommand(item)
		if err != nil {
			return err
		}
		out = append(out, cmd)
	}
	*cl = out
	return nil
}

// UnmarshalCommand decodes a single {"type", ...} envelope into a Command.
func UnmarshalCommand(data []byte) (Command, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decode command envelope: %w", err)
	}

	var (
		cmd Command
		err error
	)
	switch head.Type {
	case CmdStartFlow:
		var c StartFlow
		err = json.Unmarshal(data, &c)
		cmd = c
	case CmdCancelFlow:
		cmd = CancelFlow{}
	case CmdSetSlot:
		var c SetSlot
		err = json.Unmarshal(data, &c)
		cmd = c
	case CmdAffirmConfirmation:
		cmd = AffirmConfirmation{}
	case CmdDenyConfirmation:
		cmd = DenyConfirmation{}
	case CmdChitChat:
		var c ChitChat
		err = json.Unmarshal(data, &c)
		cmd = c
	case CmdClarify:
		cmd = Clarify{}
	case CmdContinuation:
		cmd = Continuation{}
	default:
		return nil, &UnknownCommandError{Type: head.Type}
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s command: %w", head.Type, err)
	}
	return cmd, nil
}

// FindSetSlot returns the first SetSlot command for slotName, if any.
func (cl CommandList) FindSetSlot(slotName string) (SetSlot, bool) {
	for _, cmd := range cl {
		if ss, ok := cmd.(SetSlot); ok && ss.SlotName == slotName {
			return ss, true
		}
	}
	return SetSlot{}, false
}

// HasType reports whether any command of the given type is present.
func (cl CommandList) HasType(cmdType string) bool {
	for _, cmd := range cl {
		if cmd.CommandType() == cmdType {
			return true
		}
	}
	return false
}
