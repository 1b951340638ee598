package nlu

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dshills/dialograph-go/dialogue"
)

// buildPrompt renders the interpretation prompt shared by every LLM provider.
// The model sees the command vocabulary, the available flows, the current
// dialogue situation, and the utterance, and must answer with a JSON object
// holding a "commands" array of {"type", ...} envelopes.
func buildPrompt(dctx dialogue.DialogueContext) string {
	var sb strings.Builder

	sb.WriteString("You are the command interpreter of a task-oriented dialogue system. ")
	sb.WriteString("Translate the user's message into zero or more commands.\n\n")

	sb.WriteString("Command vocabulary:\n")
	sb.WriteString(`- {"type":"start_flow","flow_name":"<name>","slots":{...}} start a flow; include slot values stated in the same message
- {"type":"cancel_flow"} the user wants to abandon the current task
- {"type":"set_slot","slot_name":"<name>","value":<value>} the user supplied a value being collected
- {"type":"affirm_confirmation"} the user answered yes to a pending confirmation
- {"type":"deny_confirmation"} the user answered no to a pending confirmation
- {"type":"chitchat","content":"<reply>"} small talk; content is your brief reply
- {"type":"clarify"} the user is confused about what is being asked
- {"type":"continuation"} the user wants to proceed without new information
`)

	sb.WriteString("\nAvailable flows: ")
	sb.WriteString(strings.Join(dctx.AvailableFlows, ", "))
	sb.WriteString("\n")

	if dctx.ActiveFlow != nil {
		fmt.Fprintf(&sb, "\nActive flow: %s (step %s)\n", dctx.ActiveFlow.FlowName, dctx.ActiveFlow.CurrentStep)
	}
	if len(dctx.Slots) > 0 {
		if data, err := json.Marshal(dctx.Slots); err == nil {
			fmt.Fprintf(&sb, "Collected slots: %s\n", data)
		}
	}
	if task := dctx.PendingTask; task != nil {
		fmt.Fprintf(&sb, "The system is waiting on the user: kind=%s prompt=%q", task.Kind, task.Prompt)
		if task.SlotName != "" {
			fmt.Fprintf(&sb, " slot=%s", task.SlotName)
		}
		if len(task.Options) > 0 {
			fmt.Fprintf(&sb, " options=%s", strings.Join(task.Options, "/"))
		}
		sb.WriteString("\n")
		if task.Kind == dialogue.TaskCollect {
			sb.WriteString("If the message answers the prompt, emit set_slot for that slot.\n")
		}
		if task.Kind == dialogue.TaskConfirm {
			sb.WriteString("If the message answers the question, emit affirm_confirmation or deny_confirmation.\n")
		}
	}

	if len(dctx.RecentMessages) > 0 {
		sb.WriteString("\nRecent conversation:\n")
		for _, msg := range dctx.RecentMessages {
			fmt.Fprintf(&sb, "%s: %s\n", msg.Role, msg.Content)
		}
	}

	fmt.Fprintf(&sb, "\nUser message: %q\n\n", dctx.UserMessage)
	sb.WriteString(`Respond ONLY with valid JSON of the form {"commands":[...]}. No markdown, no explanation.`)

	return sb.String()
}

// parseCommands decodes a provider's text response into a command list.
// Markdown fences are tolerated; anything else must be the JSON contract.
func parseCommands(text string) (dialogue.CommandList, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	if text == "" {
		return nil, &InterpretError{Code: "empty_response", Message: "provider returned no content"}
	}

	var out dialogue.NLUOutput
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		// Some models wrap the object in prose despite instructions.
		start := strings.Index(text, "{")
		end := strings.LastIndex(text, "}")
		if start == -1 || end == -1 || start >= end {
			return nil, &InterpretError{Code: "parse_error", Message: "no JSON object in response"}
		}
		if err := json.Unmarshal([]byte(text[start:end+1]), &out); err != nil {
			return nil, &InterpretError{Code: "parse_error", Message: err.Error()}
		}
	}

	return out.Commands, nil
}
