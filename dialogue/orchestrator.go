package dialogue

import (
	"context"

	"github.com/dshills/dialograph-go/graph"
	"github.com/dshills/dialograph-go/graph/emit"
)

// Orchestrator node IDs.
const (
	NodeHumanInputGate = "human_input_gate"
	NodeUnderstand     = "understand"
	NodeExecuteFlow    = "execute_flow"
	NodeResume         = "resume"
	NodeRespond        = "respond"
)

// DefaultHistoryWindow bounds the conversation history handed to the
// interpreter.
const DefaultHistoryWindow = 10

// OrchestratorDeps are the collaborators wired into the per-turn graph.
type OrchestratorDeps struct {
	NLU       NLUService
	Commands  *CommandRegistry
	Flows     *FlowManager
	Registry  *FlowRegistry
	Templates Templates
	Emitter   emit.Emitter
	Metrics   *Metrics

	// IterationLimit bounds subgraph invocations per turn inside
	// execute_flow. Zero takes the configured default.
	IterationLimit int

	// MaxDigressionDepth bounds how many suspended flows an interrupting
	// StartFlow may stack beneath itself. Zero takes the configured default.
	MaxDigressionDepth int

	// HistoryWindow bounds messages passed to the interpreter. Zero takes
	// DefaultHistoryWindow.
	HistoryWindow int
}

// NewOrchestrator assembles the turn graph:
//
//	human_input_gate -> understand -> execute_flow -> resume -> respond
//
// resume routes back to execute_flow while a runnable flow remains, which
// only matters for custom nodes; the built-in execute_flow drains the stack
// itself. respond is terminal.
func NewOrchestrator(d OrchestratorDeps) (*graph.Engine[State, Delta], error) {
	if d.IterationLimit <= 0 {
		d.IterationLimit = 25
	}
	if d.MaxDigressionDepth <= 0 {
		d.MaxDigressionDepth = 3
	}
	if d.HistoryWindow <= 0 {
		d.HistoryWindow = DefaultHistoryWindow
	}

	eng := graph.New(Reduce, d.Emitter, graph.Options{MaxSteps: 16})

	nodes := map[string]FlowNode{
		NodeHumanInputGate: newHumanInputGateNode(),
		NodeUnderstand:     newUnderstandNode(d),
		NodeExecuteFlow:    newExecuteFlowNode(d.Registry, d.Flows, d.Templates, d.Emitter, d.Metrics, d.IterationLimit),
		NodeResume:         newResumeNode(),
		NodeRespond:        newRespondNode(d.Templates),
	}
	for id, node := range nodes {
		if err := eng.Add(id, node); err != nil {
			return nil, err
		}
	}

	if err := eng.StartAt(NodeHumanInputGate); err != nil {
		return nil, err
	}

	connections := []struct {
		from, to string
		when     graph.Predicate[State]
	}{
		{NodeHumanInputGate, NodeUnderstand, nil},
		{NodeUnderstand, NodeExecuteFlow, nil},
		{NodeExecuteFlow, NodeResume, nil},
		{NodeResume, NodeExecuteFlow, canRunFlow},
		{NodeResume, NodeRespond, nil},
	}
	for _, c := range connections {
		if err := eng.Connect(c.from, c.to, c.when); err != nil {
			return nil, err
		}
	}

	return eng, nil
}

func canRunFlow(s State) bool {
	return s.ActiveContext() != nil && !s.PendingTask.RequiresInput()
}

// newHumanInputGateNode builds the entry node: record the user utterance in
// the conversation history.
func newHumanInputGateNode() FlowNode {
	return graph.NodeFunc[State, Delta](func(ctx context.Context, s State) graph.NodeResult[State, Delta] {
		delta := Delta{}
		if s.UserMessage != "" {
			delta.AppendMessages = []Message{{Role: RoleUser, Content: s.UserMessage}}
		}
		return graph.NodeResult[State, Delta]{Delta: delta}
	})
}

// understand calls the interpreter and applies the resulting commands through
// the handler registry. An interpreter failure degrades to a clarification
// rather than failing the turn.
type understand struct {
	deps OrchestratorDeps
}

func newUnderstandNode(d OrchestratorDeps) FlowNode {
	u := &understand{deps: d}
	return graph.NodeFunc[State, Delta](u.run)
}

func (u *understand) run(ctx context.Context, s State) graph.NodeResult[State, Delta] {
	dctx := BuildDialogueContext(s, u.deps.Registry.Names(), u.deps.HistoryWindow)

	cmds, err := u.deps.NLU.Interpret(ctx, dctx)
	if err != nil {
		if u.deps.Emitter != nil {
			u.deps.Emitter.Emit(emit.Event{
				RunID: UserKeyFromContext(ctx),
				Node:  NodeUnderstand,
				Msg:   "interpretation failed",
				Meta:  map[string]interface{}{"error": err.Error()},
			})
		}
		empty := CommandList{}
		return graph.NodeResult[State, Delta]{Delta: Delta{
			SetCommands:     &empty,
			AppendResponses: []string{u.deps.Templates.Clarify},
		}}
	}

	delta := Delta{SetCommands: &cmds}

	hctx := &HandlerContext{
		Flows:              u.deps.Flows,
		Templates:          u.deps.Templates,
		Emitter:            u.deps.Emitter,
		MaxDigressionDepth: u.deps.MaxDigressionDepth,
	}
	handled, err := u.deps.Commands.DispatchAll(cmds, Reduce(s, delta), hctx)
	if err != nil {
		return graph.NodeResult[State, Delta]{Err: err}
	}

	return graph.NodeResult[State, Delta]{Delta: delta.Merge(handled)}
}

// newResumeNode builds the router between drain passes. It carries no logic
// of its own; its outgoing edges decide.
func newResumeNode() FlowNode {
	return graph.NodeFunc[State, Delta](func(ctx context.Context, s State) graph.NodeResult[State, Delta] {
		return graph.NodeResult[State, Delta]{}
	})
}

// respond flushes queued responses into the conversation history, re-issues
// the pending prompt when the runtime is waiting on the user, and clears the
// turn's ephemeral fields.
func newRespondNode(templates Templates) FlowNode {
	return graph.NodeFunc[State, Delta](func(ctx context.Context, s State) graph.NodeResult[State, Delta] {
		msgs := make([]Message, 0, len(s.PendingResponses)+1)
		for _, r := range s.PendingResponses {
			msgs = append(msgs, Message{Role: RoleAssistant, Content: r})
		}
		if s.PendingTask.RequiresInput() {
			msgs = append(msgs, Message{Role: RoleAssistant, Content: s.PendingTask.Prompt})
		}
		if len(msgs) == 0 {
			msgs = append(msgs, Message{Role: RoleAssistant, Content: templates.Fallback})
		}

		empty := CommandList{}
		return graph.NodeResult[State, Delta]{
			Delta: Delta{
				AppendMessages: msgs,
				ClearResponses: true,
				SetCommands:    &empty,
				SetUserMessage: strPtr(""),
			},
			Route: graph.Stop(),
		}
	})
}
