package dialogue

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestCommandListJSON(t *testing.T) {
	t.Run("round trip preserves types and fields", func(t *testing.T) {
		in := CommandList{
			StartFlow{FlowName: "booking", Slots: map[string]interface{}{"city": "Lisbon"}},
			SetSlot{SlotName: "nights", Value: float64(3)},
			AffirmConfirmation{},
			ChitChat{Content: "nice weather"},
			CancelFlow{},
		}

		data, err := json.Marshal(in)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}

		var out CommandList
		if err := json.Unmarshal(data, &out); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if len(out) != len(in) {
			t.Fatalf("got %d commands, want %d", len(out), len(in))
		}

		start, ok := out[0].(StartFlow)
		if !ok || start.FlowName != "booking" || start.Slots["city"] != "Lisbon" {
			t.Errorf("start flow = %+v", out[0])
		}
		set, ok := out[1].(SetSlot)
		if !ok || set.SlotName != "nights" || set.Value != float64(3) {
			t.Errorf("set slot = %+v", out[1])
		}
		if _, ok := out[2].(AffirmConfirmation); !ok {
			t.Errorf("command 2 = %T, want AffirmConfirmation", out[2])
		}
		chat, ok := out[3].(ChitChat)
		if !ok || chat.Content != "nice weather" {
			t.Errorf("chitchat = %+v", out[3])
		}
	})

	t.Run("envelopes carry a type tag", func(t *testing.T) {
		data, err := json.Marshal(CommandList{DenyConfirmation{}})
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var raw []map[string]interface{}
		if err := json.Unmarshal(data, &raw); err != nil {
			t.Fatalf("unmarshal raw: %v", err)
		}
		if raw[0]["type"] != CmdDenyConfirmation {
			t.Errorf("type tag = %v, want %s", raw[0]["type"], CmdDenyConfirmation)
		}
	})

	t.Run("unknown type is rejected", func(t *testing.T) {
		var out CommandList
		err := json.Unmarshal([]byte(`[{"type":"launch_rocket"}]`), &out)
		var unknown *UnknownCommandError
		if !errors.As(err, &unknown) || unknown.Type != "launch_rocket" {
			t.Fatalf("err = %v, want UnknownCommandError", err)
		}
	})
}

func TestCommandListHelpers(t *testing.T) {
	cl := CommandList{
		SetSlot{SlotName: "city", Value: "Porto"},
		SetSlot{SlotName: "nights", Value: 2},
		Continuation{},
	}

	if ss, ok := cl.FindSetSlot("nights"); !ok || ss.Value != 2 {
		t.Errorf("FindSetSlot = %+v, %v", ss, ok)
	}
	if _, ok := cl.FindSetSlot("missing"); ok {
		t.Error("FindSetSlot found a missing slot")
	}
	if !cl.HasType(CmdContinuation) || cl.HasType(CmdCancelFlow) {
		t.Error("HasType wrong")
	}
}
