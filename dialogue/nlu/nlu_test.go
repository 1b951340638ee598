package nlu

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/dshills/dialograph-go/dialogue"
	"github.com/dshills/dialograph-go/dialogue/config"
)

func TestMockInterpret(t *testing.T) {
	ctx := context.Background()

	t.Run("exact match", func(t *testing.T) {
		m := NewMock().On("book a hotel", dialogue.StartFlow{FlowName: "book_hotel"})
		cmds, err := m.Interpret(ctx, dialogue.DialogueContext{UserMessage: "book a hotel"})
		if err != nil {
			t.Fatalf("Interpret: %v", err)
		}
		start, ok := cmds[0].(dialogue.StartFlow)
		if !ok || start.FlowName != "book_hotel" {
			t.Errorf("cmds = %+v", cmds)
		}
	})

	t.Run("queue takes precedence and drains", func(t *testing.T) {
		m := NewMock().
			On("hello", dialogue.ChitChat{Content: "hi"}).
			Enqueue(dialogue.CancelFlow{})

		cmds, _ := m.Interpret(ctx, dialogue.DialogueContext{UserMessage: "hello"})
		if _, ok := cmds[0].(dialogue.CancelFlow); !ok {
			t.Fatalf("queued response not used: %+v", cmds)
		}

		cmds, _ = m.Interpret(ctx, dialogue.DialogueContext{UserMessage: "hello"})
		if _, ok := cmds[0].(dialogue.ChitChat); !ok {
			t.Fatalf("exact match not restored after queue drained: %+v", cmds)
		}
	})

	t.Run("default fallback is clarify", func(t *testing.T) {
		cmds, _ := NewMock().Interpret(ctx, dialogue.DialogueContext{UserMessage: "???"})
		if _, ok := cmds[0].(dialogue.Clarify); !ok {
			t.Errorf("fallback = %+v", cmds)
		}
	})

	t.Run("fail and recover", func(t *testing.T) {
		boom := errors.New("boom")
		m := NewMock().Fail(boom)
		if _, err := m.Interpret(ctx, dialogue.DialogueContext{}); !errors.Is(err, boom) {
			t.Errorf("err = %v", err)
		}
		m.Fail(nil)
		if _, err := m.Interpret(ctx, dialogue.DialogueContext{}); err != nil {
			t.Errorf("err after recover = %v", err)
		}
	})

	t.Run("calls are recorded", func(t *testing.T) {
		m := NewMock()
		m.Interpret(ctx, dialogue.DialogueContext{UserMessage: "one"})
		m.Interpret(ctx, dialogue.DialogueContext{UserMessage: "two"})
		calls := m.Calls()
		if len(calls) != 2 || calls[1].UserMessage != "two" {
			t.Errorf("calls = %+v", calls)
		}
	})
}

func TestParseCommands(t *testing.T) {
	t.Run("plain JSON", func(t *testing.T) {
		cmds, err := parseCommands(`{"commands":[{"type":"set_slot","slot_name":"city","value":"Lisbon"}]}`)
		if err != nil {
			t.Fatalf("parseCommands: %v", err)
		}
		set, ok := cmds[0].(dialogue.SetSlot)
		if !ok || set.SlotName != "city" || set.Value != "Lisbon" {
			t.Errorf("cmds = %+v", cmds)
		}
	})

	t.Run("markdown fences stripped", func(t *testing.T) {
		cmds, err := parseCommands("```json\n{\"commands\":[{\"type\":\"affirm_confirmation\"}]}\n```")
		if err != nil {
			t.Fatalf("parseCommands: %v", err)
		}
		if _, ok := cmds[0].(dialogue.AffirmConfirmation); !ok {
			t.Errorf("cmds = %+v", cmds)
		}
	})

	t.Run("prose around the object tolerated", func(t *testing.T) {
		cmds, err := parseCommands(`Sure, here you go: {"commands":[{"type":"cancel_flow"}]} hope that helps`)
		if err != nil {
			t.Fatalf("parseCommands: %v", err)
		}
		if _, ok := cmds[0].(dialogue.CancelFlow); !ok {
			t.Errorf("cmds = %+v", cmds)
		}
	})

	t.Run("empty response", func(t *testing.T) {
		_, err := parseCommands("   ")
		var ierr *InterpretError
		if !errors.As(err, &ierr) || ierr.Code != "empty_response" {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("garbage response", func(t *testing.T) {
		_, err := parseCommands("I have no idea what you mean")
		var ierr *InterpretError
		if !errors.As(err, &ierr) || ierr.Code != "parse_error" {
			t.Fatalf("err = %v", err)
		}
	})
}

func TestBuildPrompt(t *testing.T) {
	dctx := dialogue.DialogueContext{
		UserMessage: "tomorrow works",
		ActiveFlow: &dialogue.FlowContext{
			FlowName:    "book_hotel",
			CurrentStep: "ask_date",
		},
		PendingTask: dialogue.NewCollectTask("Which date?", "date", nil),
		Slots:       map[string]interface{}{"city": "Lisbon"},
		RecentMessages: []dialogue.Message{
			{Role: dialogue.RoleUser, Content: "book a hotel in Lisbon"},
		},
		AvailableFlows: []string{"book_hotel", "weather"},
	}

	prompt := buildPrompt(dctx)

	for _, want := range []string{
		"start_flow",
		"set_slot",
		"book_hotel, weather",
		"Active flow: book_hotel (step ask_date)",
		`"city":"Lisbon"`,
		`prompt="Which date?"`,
		"slot=date",
		"emit set_slot",
		"book a hotel in Lisbon",
		`"tomorrow works"`,
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestNewFactory(t *testing.T) {
	t.Run("mock needs no key", func(t *testing.T) {
		svc, err := New(config.NLU{Provider: "mock"})
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if _, ok := svc.(*Mock); !ok {
			t.Errorf("service = %T", svc)
		}
	})

	t.Run("unknown provider errors", func(t *testing.T) {
		if _, err := New(config.NLU{Provider: "psychic"}); err == nil {
			t.Error("expected error for unknown provider")
		}
	})
}
