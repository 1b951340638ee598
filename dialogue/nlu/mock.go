package nlu

import (
	"context"
	"sync"

	"github.com/dshills/dialograph-go/dialogue"
)

// Mock is a scripted interpreter for tests and offline development.
//
// Resolution order per turn: a queued response if any remain, then an exact
// utterance match registered with On, then the fallback (Clarify by default).
type Mock struct {
	mu        sync.Mutex
	byMessage map[string]dialogue.CommandList
	queue     []dialogue.CommandList
	fallback  dialogue.CommandList
	calls     []dialogue.DialogueContext
	err       error
}

// NewMock creates an empty mock whose fallback is a single Clarify command.
func NewMock() *Mock {
	return &Mock{
		byMessage: make(map[string]dialogue.CommandList),
		fallback:  dialogue.CommandList{dialogue.Clarify{}},
	}
}

// On registers the commands to return for an exact utterance.
func (m *Mock) On(utterance string, cmds ...dialogue.Command) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byMessage[utterance] = dialogue.CommandList(cmds)
	return m
}

// Enqueue pushes a response consumed by the next Interpret call regardless of
// utterance.
func (m *Mock) Enqueue(cmds ...dialogue.Command) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, dialogue.CommandList(cmds))
	return m
}

// Fallback replaces the default response for unmatched utterances.
func (m *Mock) Fallback(cmds ...dialogue.Command) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = dialogue.CommandList(cmds)
	return m
}

// Fail makes every subsequent Interpret call return err. Pass nil to recover.
func (m *Mock) Fail(err error) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// Calls returns the dialogue contexts seen so far, in order.
func (m *Mock) Calls() []dialogue.DialogueContext {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]dialogue.DialogueContext, len(m.calls))
	copy(out, m.calls)
	return out
}

// Interpret implements dialogue.NLUService.
func (m *Mock) Interpret(ctx context.Context, dctx dialogue.DialogueContext) (dialogue.CommandList, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, dctx)

	if m.err != nil {
		return nil, m.err
	}
	if len(m.queue) > 0 {
		next := m.queue[0]
		m.queue = m.queue[1:]
		return next, nil
	}
	if cmds, ok := m.byMessage[dctx.UserMessage]; ok {
		return cmds, nil
	}
	return m.fallback, nil
}
