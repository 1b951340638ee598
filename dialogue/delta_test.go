package dialogue

import (
	"testing"
)

func TestReduce(t *testing.T) {
	t.Run("append fields accumulate", func(t *testing.T) {
		s := State{Messages: []Message{{Role: RoleUser, Content: "hi"}}}
		next := Reduce(s, Delta{
			AppendMessages:  []Message{{Role: RoleAssistant, Content: "hello"}},
			AppendResponses: []string{"hello"},
		})

		if len(next.Messages) != 2 {
			t.Errorf("messages = %d, want 2", len(next.Messages))
		}
		if len(next.PendingResponses) != 1 {
			t.Errorf("responses = %d, want 1", len(next.PendingResponses))
		}
		if len(s.Messages) != 1 {
			t.Error("previous state was mutated")
		}
	})

	t.Run("slot merge is copy-on-write", func(t *testing.T) {
		s := State{FlowSlots: map[string]map[string]interface{}{
			"f1": {"city": "Lisbon"},
		}}
		next := Reduce(s, Delta{MergeSlots: map[string]map[string]interface{}{
			"f1": {"nights": 3},
			"f2": {"city": "Porto"},
		}})

		if next.FlowSlots["f1"]["nights"] != 3 || next.FlowSlots["f1"]["city"] != "Lisbon" {
			t.Errorf("merged slots wrong: %v", next.FlowSlots["f1"])
		}
		if next.FlowSlots["f2"]["city"] != "Porto" {
			t.Errorf("new flow slots wrong: %v", next.FlowSlots["f2"])
		}
		if _, ok := s.FlowSlots["f1"]["nights"]; ok {
			t.Error("previous slot map was mutated")
		}
		if _, ok := s.FlowSlots["f2"]; ok {
			t.Error("previous outer map was mutated")
		}
	})

	t.Run("purge removes flow entries", func(t *testing.T) {
		s := State{
			FlowSlots:     map[string]map[string]interface{}{"f1": {"a": 1}},
			ExecutedSteps: map[string][]string{"f1": {"step1"}},
		}
		next := Reduce(s, Delta{PurgeSlots: []string{"f1"}, PurgeExecuted: []string{"f1"}})

		if _, ok := next.FlowSlots["f1"]; ok {
			t.Error("slots not purged")
		}
		if _, ok := next.ExecutedSteps["f1"]; ok {
			t.Error("executed steps not purged")
		}
		if len(s.FlowSlots["f1"]) != 1 {
			t.Error("previous state was mutated")
		}
	})

	t.Run("mark executed dedupes", func(t *testing.T) {
		s := State{ExecutedSteps: map[string][]string{"f1": {"a"}}}
		next := Reduce(s, Delta{MarkExecuted: map[string][]string{"f1": {"a", "b"}}})
		if got := next.ExecutedSteps["f1"]; len(got) != 2 {
			t.Errorf("executed = %v, want [a b]", got)
		}
	})

	t.Run("unmark rearms specific steps", func(t *testing.T) {
		s := State{ExecutedSteps: map[string][]string{"f1": {"a", "b", "c"}}}
		next := Reduce(s, Delta{UnmarkExecuted: map[string][]string{"f1": {"a", "c"}}})
		if got := next.ExecutedSteps["f1"]; len(got) != 1 || got[0] != "b" {
			t.Errorf("executed = %v, want [b]", got)
		}
	})

	t.Run("set and clear pending task", func(t *testing.T) {
		task := NewCollectTask("Which city?", "city", nil)
		s := Reduce(State{}, Delta{SetPendingTask: task})
		if s.PendingTask == nil {
			t.Fatal("pending task not set")
		}
		s = Reduce(s, Delta{ClearPendingTask: true})
		if s.PendingTask != nil {
			t.Error("pending task not cleared")
		}
	})

	t.Run("branch target set and clear via pointer", func(t *testing.T) {
		s := Reduce(State{}, Delta{SetBranchTarget: strPtr("step_x")})
		if s.BranchTarget != "step_x" {
			t.Errorf("branch target = %q", s.BranchTarget)
		}
		s = Reduce(s, Delta{SetBranchTarget: strPtr("")})
		if s.BranchTarget != "" {
			t.Errorf("branch target not cleared: %q", s.BranchTarget)
		}
	})

	t.Run("replace state applies before other fields", func(t *testing.T) {
		replacement := State{PendingResponses: []string{"from replacement"}}
		s := State{PendingResponses: []string{"original"}}
		next := Reduce(s, Delta{
			ReplaceState:    &replacement,
			AppendResponses: []string{"layered"},
		})
		if len(next.PendingResponses) != 2 || next.PendingResponses[0] != "from replacement" {
			t.Errorf("responses = %v", next.PendingResponses)
		}
	})
}

func TestDeltaMerge(t *testing.T) {
	t.Run("set wins over clear for pending task", func(t *testing.T) {
		task := NewInformTask("done", false)
		merged := Delta{ClearPendingTask: true}.Merge(Delta{SetPendingTask: task})
		if merged.SetPendingTask == nil || merged.ClearPendingTask {
			t.Errorf("merge = %+v, want set to win", merged)
		}

		// And a later clear wins over an earlier set.
		merged = Delta{SetPendingTask: task}.Merge(Delta{ClearPendingTask: true})
		if merged.SetPendingTask != nil || !merged.ClearPendingTask {
			t.Errorf("merge = %+v, want clear to win", merged)
		}
	})

	t.Run("slot merges union with later winning", func(t *testing.T) {
		a := Delta{MergeSlots: map[string]map[string]interface{}{"f1": {"x": 1, "y": 1}}}
		b := Delta{MergeSlots: map[string]map[string]interface{}{"f1": {"y": 2}}}
		merged := a.Merge(b)
		if merged.MergeSlots["f1"]["x"] != 1 || merged.MergeSlots["f1"]["y"] != 2 {
			t.Errorf("merged slots = %v", merged.MergeSlots["f1"])
		}
	})

	t.Run("merge does not alias inputs", func(t *testing.T) {
		a := Delta{AppendResponses: []string{"one"}}
		b := Delta{AppendResponses: []string{"two"}}
		merged := a.Merge(b)
		merged.AppendResponses[0] = "changed"
		if a.AppendResponses[0] != "one" {
			t.Error("merge aliased the input slice")
		}
	})

	t.Run("IsZero", func(t *testing.T) {
		if !(Delta{}).IsZero() {
			t.Error("empty delta should be zero")
		}
		if (Delta{ClearPendingTask: true}).IsZero() {
			t.Error("clearing delta should not be zero")
		}
	})
}

func TestStateAccessors(t *testing.T) {
	s := State{
		FlowStack: []FlowContext{
			{FlowID: "parent-1", FlowName: "parent", FlowState: FlowIdle},
			{FlowID: "child-1", FlowName: "child", FlowState: FlowActive},
		},
		FlowSlots:     map[string]map[string]interface{}{"child-1": {"city": "Lisbon"}},
		ExecutedSteps: map[string][]string{"child-1": {"greet"}},
		Messages: []Message{
			{Role: RoleUser, Content: "a"},
			{Role: RoleAssistant, Content: "b"},
			{Role: RoleUser, Content: "c"},
		},
	}

	if got := s.ActiveContext(); got == nil || got.FlowID != "child-1" {
		t.Errorf("ActiveContext = %+v, want child-1", got)
	}
	if !s.StepExecuted("child-1", "greet") || s.StepExecuted("child-1", "other") {
		t.Error("StepExecuted wrong")
	}
	if v, ok := s.Slot("child-1", "city"); !ok || v != "Lisbon" {
		t.Errorf("Slot = %v, %v", v, ok)
	}
	if got := s.RecentMessages(2); len(got) != 2 || got[0].Content != "b" {
		t.Errorf("RecentMessages = %v", got)
	}

	// Mutating the returned context must not touch the stack.
	s.ActiveContext().FlowState = FlowError
	if s.FlowStack[1].FlowState != FlowActive {
		t.Error("ActiveContext leaked a reference into the stack")
	}

	if (State{}).ActiveContext() != nil {
		t.Error("empty stack should have no active context")
	}
}
