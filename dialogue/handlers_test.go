package dialogue

import (
	"errors"
	"strings"
	"testing"

	"github.com/dshills/dialograph-go/graph/emit"
)

func newTestHandlerContext() *HandlerContext {
	return &HandlerContext{
		Flows:     NewFlowManager(0, CancelOldest),
		Templates: DefaultTemplates(),
		Emitter:   emit.NewNullEmitter(),
	}
}

func TestDispatchStartFlow(t *testing.T) {
	reg := NewCommandRegistry(false)
	hctx := newTestHandlerContext()

	t.Run("pushes and pre-populates slots", func(t *testing.T) {
		delta, err := reg.Dispatch(StartFlow{
			FlowName: "booking",
			Slots:    map[string]interface{}{"city": "Lisbon"},
		}, State{}, hctx)
		if err != nil {
			t.Fatalf("Dispatch: %v", err)
		}

		s := Reduce(State{}, delta)
		active := s.ActiveContext()
		if active == nil || active.FlowName != "booking" {
			t.Fatalf("active = %+v", active)
		}
		if v, ok := s.Slot(active.FlowID, "city"); !ok || v != "Lisbon" {
			t.Errorf("slot city = %v, %v", v, ok)
		}
	})

	t.Run("same active flow only merges slots", func(t *testing.T) {
		s := State{}
		_, delta, _ := hctx.Flows.PushFlow(s, "booking")
		s = Reduce(s, delta)
		depth := len(s.FlowStack)

		delta, err := reg.Dispatch(StartFlow{
			FlowName: "booking",
			Slots:    map[string]interface{}{"nights": 2},
		}, s, hctx)
		if err != nil {
			t.Fatalf("Dispatch: %v", err)
		}
		s = Reduce(s, delta)

		if len(s.FlowStack) != depth {
			t.Errorf("stack depth changed: %d -> %d", depth, len(s.FlowStack))
		}
		if v, _ := s.Slot(s.ActiveContext().FlowID, "nights"); v != 2 {
			t.Errorf("nights = %v", v)
		}
	})

	t.Run("digression past the depth limit is refused", func(t *testing.T) {
		limited := newTestHandlerContext()
		limited.MaxDigressionDepth = 2

		s := State{}
		for _, name := range []string{"booking", "weather"} {
			_, delta, _ := limited.Flows.PushFlow(s, name)
			s = Reduce(s, delta)
		}

		delta, err := reg.Dispatch(StartFlow{FlowName: "jokes"}, s, limited)
		if err != nil {
			t.Fatalf("Dispatch: %v", err)
		}
		if delta.ReplaceStack != nil {
			t.Error("refused digression still rewrote the stack")
		}
		if len(delta.AppendResponses) != 1 || delta.AppendResponses[0] != limited.Templates.DigressionLimit {
			t.Errorf("responses = %v", delta.AppendResponses)
		}

		// Re-invoking the active flow by name is not a digression.
		delta, err = reg.Dispatch(StartFlow{
			FlowName: "weather",
			Slots:    map[string]interface{}{"region": "north"},
		}, s, limited)
		if err != nil {
			t.Fatalf("Dispatch: %v", err)
		}
		s2 := Reduce(s, delta)
		if v, _ := s2.Slot(s2.ActiveContext().FlowID, "region"); v != "north" {
			t.Errorf("region = %v, want north", v)
		}
	})

	t.Run("push clears the suspended flow's pending task", func(t *testing.T) {
		s := State{}
		_, delta, _ := hctx.Flows.PushFlow(s, "booking")
		s = Reduce(s, delta)
		s = Reduce(s, Delta{SetPendingTask: NewCollectTask("Which city?", "city", nil)})

		delta, err := reg.Dispatch(StartFlow{FlowName: "weather"}, s, hctx)
		if err != nil {
			t.Fatalf("Dispatch: %v", err)
		}
		s = Reduce(s, delta)
		if s.PendingTask != nil {
			t.Error("pending task survived a digression push")
		}
	})
}

func TestDispatchCancelFlow(t *testing.T) {
	reg := NewCommandRegistry(false)
	hctx := newTestHandlerContext()

	t.Run("pops and queues the cancellation utterance", func(t *testing.T) {
		s := State{}
		_, delta, _ := hctx.Flows.PushFlow(s, "booking")
		s = Reduce(s, delta)
		s = Reduce(s, Delta{SetPendingTask: NewCollectTask("Which city?", "city", nil)})

		delta, err := reg.Dispatch(CancelFlow{}, s, hctx)
		if err != nil {
			t.Fatalf("Dispatch: %v", err)
		}
		s = Reduce(s, delta)

		if len(s.FlowStack) != 0 {
			t.Errorf("stack depth = %d, want 0", len(s.FlowStack))
		}
		if s.PendingTask != nil {
			t.Error("pending task not cleared")
		}
		if len(s.PendingResponses) != 1 || s.PendingResponses[0] != hctx.Templates.Cancelled {
			t.Errorf("responses = %v", s.PendingResponses)
		}
	})

	t.Run("empty stack is a silent no-op", func(t *testing.T) {
		delta, err := reg.Dispatch(CancelFlow{}, State{}, hctx)
		if err != nil || !delta.IsZero() {
			t.Errorf("delta=%+v err=%v, want empty no-op", delta, err)
		}
	})
}

func TestDispatchConfirmation(t *testing.T) {
	reg := NewCommandRegistry(false)
	hctx := newTestHandlerContext()

	confirmState := func(t *testing.T) State {
		t.Helper()
		s := State{}
		_, delta, _ := hctx.Flows.PushFlow(s, "booking")
		s = Reduce(s, delta)
		return Reduce(s, Delta{SetPendingTask: NewConfirmTask("Book it?", "confirmed", nil)})
	}

	t.Run("affirm writes true to the task slot", func(t *testing.T) {
		s := confirmState(t)
		delta, err := reg.Dispatch(AffirmConfirmation{}, s, hctx)
		if err != nil {
			t.Fatalf("Dispatch: %v", err)
		}
		s = Reduce(s, delta)
		if v, _ := s.Slot(s.ActiveContext().FlowID, "confirmed"); v != true {
			t.Errorf("confirmed = %v, want true", v)
		}
	})

	t.Run("deny writes false", func(t *testing.T) {
		s := confirmState(t)
		delta, err := reg.Dispatch(DenyConfirmation{}, s, hctx)
		if err != nil {
			t.Fatalf("Dispatch: %v", err)
		}
		s = Reduce(s, delta)
		if v, _ := s.Slot(s.ActiveContext().FlowID, "confirmed"); v != false {
			t.Errorf("confirmed = %v, want false", v)
		}
	})

	t.Run("no pending confirmation is a no-op", func(t *testing.T) {
		delta, err := reg.Dispatch(AffirmConfirmation{}, State{}, hctx)
		if err != nil || !delta.IsZero() {
			t.Errorf("delta=%+v err=%v", delta, err)
		}
	})
}

func TestDispatchConversational(t *testing.T) {
	reg := NewCommandRegistry(false)
	hctx := newTestHandlerContext()

	t.Run("chitchat leaves the stack alone", func(t *testing.T) {
		s := State{}
		_, delta, _ := hctx.Flows.PushFlow(s, "booking")
		s = Reduce(s, delta)

		delta, err := reg.Dispatch(ChitChat{Content: "sure is sunny"}, s, hctx)
		if err != nil {
			t.Fatalf("Dispatch: %v", err)
		}
		s = Reduce(s, delta)

		if len(s.FlowStack) != 1 {
			t.Errorf("stack depth = %d, want 1", len(s.FlowStack))
		}
		if len(s.PendingResponses) != 1 || s.PendingResponses[0] != "sure is sunny" {
			t.Errorf("responses = %v", s.PendingResponses)
		}
	})

	t.Run("clarify restates the pending prompt", func(t *testing.T) {
		s := Reduce(State{}, Delta{SetPendingTask: NewCollectTask("Which city?", "city", nil)})
		delta, err := reg.Dispatch(Clarify{}, s, hctx)
		if err != nil {
			t.Fatalf("Dispatch: %v", err)
		}
		s = Reduce(s, delta)
		if len(s.PendingResponses) != 1 || !strings.Contains(s.PendingResponses[0], "Which city?") {
			t.Errorf("responses = %v", s.PendingResponses)
		}
	})

	t.Run("continuation is empty", func(t *testing.T) {
		delta, err := reg.Dispatch(Continuation{}, State{}, hctx)
		if err != nil || !delta.IsZero() {
			t.Errorf("delta=%+v err=%v", delta, err)
		}
	})
}

func TestDispatchAll(t *testing.T) {
	reg := NewCommandRegistry(false)
	hctx := newTestHandlerContext()

	t.Run("set slot lands in the flow started by the same turn", func(t *testing.T) {
		delta, err := reg.DispatchAll(CommandList{
			StartFlow{FlowName: "booking"},
			SetSlot{SlotName: "city", Value: "Porto"},
		}, State{}, hctx)
		if err != nil {
			t.Fatalf("DispatchAll: %v", err)
		}

		s := Reduce(State{}, delta)
		active := s.ActiveContext()
		if active == nil {
			t.Fatal("no active flow")
		}
		if v, ok := s.Slot(active.FlowID, "city"); !ok || v != "Porto" {
			t.Errorf("slot city = %v, %v", v, ok)
		}
	})
}

func TestRegistryStrictMode(t *testing.T) {
	hctx := newTestHandlerContext()

	t.Run("strict rejects unknown types", func(t *testing.T) {
		reg := NewCommandRegistry(true)
		delete(reg.handlers, CmdChitChat)

		_, err := reg.Dispatch(ChitChat{}, State{}, hctx)
		var unknown *UnknownCommandError
		if !errors.As(err, &unknown) || unknown.Type != CmdChitChat {
			t.Fatalf("err = %v, want UnknownCommandError", err)
		}
	})

	t.Run("lenient skips unknown types", func(t *testing.T) {
		reg := NewCommandRegistry(false)
		delete(reg.handlers, CmdChitChat)
		delta, err := reg.Dispatch(ChitChat{}, State{}, hctx)
		if err != nil || !delta.IsZero() {
			t.Errorf("delta=%+v err=%v, want silent skip", delta, err)
		}
	})

	t.Run("custom handler replaces a default", func(t *testing.T) {
		reg := NewCommandRegistry(false)
		called := false
		reg.Register(CmdChitChat, func(cmd Command, s State, hctx *HandlerContext) (Delta, error) {
			called = true
			return Delta{}, nil
		})
		if _, err := reg.Dispatch(ChitChat{}, State{}, hctx); err != nil {
			t.Fatalf("Dispatch: %v", err)
		}
		if !called {
			t.Error("custom handler not invoked")
		}
	})
}
