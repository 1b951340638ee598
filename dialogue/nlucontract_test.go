package dialogue

import "testing"

func TestBuildDialogueContext(t *testing.T) {
	t.Run("empty state", func(t *testing.T) {
		dctx := BuildDialogueContext(State{UserMessage: "hi"}, []string{"booking"}, 10)
		if dctx.UserMessage != "hi" || dctx.ActiveFlow != nil || dctx.Slots != nil {
			t.Errorf("dctx = %+v", dctx)
		}
		if len(dctx.AvailableFlows) != 1 {
			t.Errorf("flows = %v", dctx.AvailableFlows)
		}
	})

	t.Run("active flow and slots", func(t *testing.T) {
		s := State{
			UserMessage: "Lisbon",
			FlowStack: []FlowContext{
				{FlowID: "booking-1", FlowName: "booking", CurrentStep: "ask_city", FlowState: FlowWaitingInput},
			},
			FlowSlots:   map[string]map[string]interface{}{"booking-1": {"nights": 3}},
			PendingTask: NewCollectTask("Which city?", "city", nil),
			Messages: []Message{
				{Role: RoleUser, Content: "a"},
				{Role: RoleAssistant, Content: "b"},
				{Role: RoleUser, Content: "c"},
			},
		}

		dctx := BuildDialogueContext(s, []string{"booking"}, 2)
		if dctx.ActiveFlow == nil || dctx.ActiveFlow.FlowID != "booking-1" {
			t.Fatalf("active flow = %+v", dctx.ActiveFlow)
		}
		if dctx.Slots["nights"] != 3 {
			t.Errorf("slots = %v", dctx.Slots)
		}
		if dctx.PendingTask == nil || dctx.PendingTask.SlotName != "city" {
			t.Errorf("pending task = %+v", dctx.PendingTask)
		}
		if len(dctx.RecentMessages) != 2 || dctx.RecentMessages[0].Content != "b" {
			t.Errorf("recent = %v", dctx.RecentMessages)
		}
	})
}
