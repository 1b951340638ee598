package dialogue

import (
	"encoding/json"
	"regexp"
	"sort"

	"github.com/dshills/dialograph-go/dialogue/config"
	"github.com/dshills/dialograph-go/graph"
	"github.com/dshills/dialograph-go/graph/emit"
)

// JumpEnd is the jump_to target that ends the flow directly.
const JumpEnd = "end"

// DefaultSubgraphMaxSteps bounds node executions within a single subgraph
// invocation, the backstop for a while condition that never turns false.
const DefaultSubgraphMaxSteps = 256

// CompiledFlow is one flow definition lowered into an executable subgraph.
// The engine is immutable after compilation and shared by all flow instances;
// per-instance data lives entirely in State.
type CompiledFlow struct {
	Name   string
	Engine *graph.Engine[State, Delta]

	// StepNames lists every step of the flow, loop bodies included, in
	// definition order.
	StepNames []string
}

// Compiler lowers flow configurations into subgraphs.
//
// Per step it connects edges in priority order: the pause gate to the
// terminal node when a pending task requires input, then branch-target
// predicate edges, then the unconditional fall-through. The engine evaluates
// edges in insertion order, so that priority is the connect order.
type Compiler struct {
	flows     *FlowManager
	actions   *ActionRegistry
	templates Templates
	emitter   emit.Emitter

	validators         map[string]*regexp.Regexp
	maxConfirmAttempts int
	maxSteps           int
}

// NewCompiler builds a compiler from the configuration and runtime
// collaborators. Slot validators are compiled once here; config.Validate has
// already guaranteed the patterns parse.
func NewCompiler(cfg *config.Config, flows *FlowManager, actions *ActionRegistry, templates Templates, emitter emit.Emitter) *Compiler {
	validators := make(map[string]*regexp.Regexp, len(cfg.Slots))
	for name, slot := range cfg.Slots {
		if slot.Validator == "" {
			continue
		}
		if re, err := regexp.Compile(slot.Validator); err == nil {
			validators[name] = re
		}
	}

	return &Compiler{
		flows:              flows,
		actions:            actions,
		templates:          templates,
		emitter:            emitter,
		validators:         validators,
		maxConfirmAttempts: cfg.Settings.Limits.MaxConfirmationAttempts,
		maxSteps:           DefaultSubgraphMaxSteps,
	}
}

// CompileFlow lowers one flow into a CompiledFlow.
//
// The definition is deep-copied first, so mutating the configuration after
// compilation cannot change an already-compiled graph. While steps desugar
// into a guard node, the lowered body, and a continue node on the back edge.
func (c *Compiler) CompileFlow(flow config.Flow) (*CompiledFlow, error) {
	flow, err := copyFlow(flow)
	if err != nil {
		return nil, &CompilationError{Flow: flow.Name, Reason: "copy definition: " + err.Error()}
	}
	if len(flow.Steps) == 0 {
		return nil, &CompilationError{Flow: flow.Name, Reason: "flow has no steps"}
	}

	names := stepNames(flow.Steps)
	known := make(map[string]bool, len(names))
	for _, n := range names {
		known[n] = true
	}
	if err := c.validateTargets(flow.Name, flow.Steps, known); err != nil {
		return nil, err
	}

	env := &stepEnv{
		flowName:           flow.Name,
		flows:              c.flows,
		actions:            c.actions,
		templates:          c.templates,
		validators:         c.validators,
		maxConfirmAttempts: c.maxConfirmAttempts,
	}

	eng := graph.New(Reduce, c.emitter, graph.Options{MaxSteps: c.maxSteps})
	if err := eng.Add(EndFlowNode, consumeBranchTarget(newEndFlowNode())); err != nil {
		return nil, &CompilationError{Flow: flow.Name, Reason: err.Error()}
	}

	entry, err := c.lowerSequence(eng, env, flow, flow.Steps, EndFlowNode)
	if err != nil {
		return nil, err
	}
	if err := eng.StartAt(entry); err != nil {
		return nil, &CompilationError{Flow: flow.Name, Reason: err.Error()}
	}

	return &CompiledFlow{Name: flow.Name, Engine: eng, StepNames: names}, nil
}

// lowerSequence registers nodes and edges for a step sequence whose
// fall-through continues at successor, returning the sequence's entry node.
func (c *Compiler) lowerSequence(eng *graph.Engine[State, Delta], env *stepEnv, flow config.Flow, steps []config.Step, successor string) (string, error) {
	for i, step := range steps {
		next := successor
		if i+1 < len(steps) {
			next = steps[i+1].Step
		}
		if step.JumpTo != "" && step.Type != config.StepBranch {
			next = resolveTarget(step.JumpTo)
		}

		if err := c.lowerStep(eng, env, flow, step, next); err != nil {
			return "", err
		}
	}
	return steps[0].Step, nil
}

func (c *Compiler) lowerStep(eng *graph.Engine[State, Delta], env *stepEnv, flow config.Flow, step config.Step, next string) error {
	fail := func(reason string) error {
		return &CompilationError{Flow: flow.Name, Step: step.Step, Reason: reason}
	}
	add := func(id string, n FlowNode) error {
		return eng.Add(id, consumeBranchTarget(n))
	}

	switch step.Type {
	case config.StepCollect:
		if err := add(step.Step, newCollectNode(step, env)); err != nil {
			return fail(err.Error())
		}
		return c.connectPausable(eng, step.Step, next)

	case config.StepConfirm:
		if err := add(step.Step, newConfirmNode(step, env)); err != nil {
			return fail(err.Error())
		}
		return c.connectPausable(eng, step.Step, next)

	case config.StepSay:
		if err := add(step.Step, newSayNode(step, env)); err != nil {
			return fail(err.Error())
		}
		return eng.Connect(step.Step, next, nil)

	case config.StepSet:
		if err := add(step.Step, newSetNode(step, env)); err != nil {
			return fail(err.Error())
		}
		return eng.Connect(step.Step, next, nil)

	case config.StepAction:
		if !c.actions.Has(step.Call) {
			return fail("no handler registered for action: " + step.Call)
		}
		if err := add(step.Step, newActionNode(step, env)); err != nil {
			return fail(err.Error())
		}
		return eng.Connect(step.Step, next, nil)

	case config.StepBranch:
		if err := add(step.Step, newBranchNode(step, env)); err != nil {
			return fail(err.Error())
		}
		targets := make([]string, 0, len(step.Cases)+1)
		for _, t := range step.Cases {
			targets = append(targets, t)
		}
		if step.Default != "" {
			targets = append(targets, step.Default)
		}
		sort.Strings(targets)
		seen := map[string]bool{}
		for _, t := range targets {
			if seen[t] {
				continue
			}
			seen[t] = true
			// Predicates compare the raw target the branch node publishes;
			// only the destination is resolved.
			if err := eng.Connect(step.Step, resolveTarget(t), branchTargetIs(t)); err != nil {
				return fail(err.Error())
			}
		}
		return nil

	case config.StepWhile:
		if len(step.Do) == 0 {
			return fail("while loop body is empty")
		}
		guardID := step.Step
		continueID := step.Step + "__continue"
		bodyEntry := step.Do[0].Step

		if err := add(guardID, newWhileGuardNode(step, env, bodyEntry, next)); err != nil {
			return fail(err.Error())
		}
		if err := add(continueID, newLoopContinueNode(step.Step, stepNames(step.Do), guardID)); err != nil {
			return fail(err.Error())
		}
		if _, err := c.lowerSequence(eng, env, flow, step.Do, continueID); err != nil {
			return err
		}
		if err := eng.Connect(guardID, bodyEntry, branchTargetIs(bodyEntry)); err != nil {
			return fail(err.Error())
		}
		return eng.Connect(guardID, next, branchTargetIs(next))

	default:
		return fail("unknown step type: " + step.Type)
	}
}

// connectPausable wires a node that may suspend: the pause gate first, then
// the fall-through.
func (c *Compiler) connectPausable(eng *graph.Engine[State, Delta], from, next string) error {
	if err := eng.Connect(from, EndFlowNode, func(s State) bool {
		return s.PendingTask.RequiresInput()
	}); err != nil {
		return err
	}
	return eng.Connect(from, next, nil)
}

// validateTargets checks branch cases, branch defaults, and jump_to against
// the flow's step names.
func (c *Compiler) validateTargets(flowName string, steps []config.Step, known map[string]bool) error {
	for _, step := range steps {
		if step.JumpTo != "" && step.JumpTo != JumpEnd && !known[step.JumpTo] {
			return &CompilationError{Flow: flowName, Step: step.Step, Reason: "jump_to target does not exist: " + step.JumpTo}
		}
		if step.Type == config.StepBranch {
			for _, t := range step.Cases {
				if t != JumpEnd && !known[t] {
					return &CompilationError{Flow: flowName, Step: step.Step, Reason: "branch target does not exist: " + t}
				}
			}
			if step.Default != "" && step.Default != JumpEnd && !known[step.Default] {
				return &CompilationError{Flow: flowName, Step: step.Step, Reason: "branch default does not exist: " + step.Default}
			}
		}
		if step.Type == config.StepWhile {
			if err := c.validateTargets(flowName, step.Do, known); err != nil {
				return err
			}
		}
	}
	return nil
}

func branchTargetIs(target string) graph.Predicate[State] {
	return func(s State) bool {
		return s.BranchTarget == target
	}
}

// resolveTarget maps the user-facing "end" target onto the terminal node.
func resolveTarget(t string) string {
	if t == JumpEnd {
		return EndFlowNode
	}
	return t
}

// stepNames flattens a step sequence, loop bodies included, in definition
// order.
func stepNames(steps []config.Step) []string {
	var names []string
	for _, step := range steps {
		names = append(names, step.Step)
		if step.Type == config.StepWhile {
			names = append(names, stepNames(step.Do)...)
		}
	}
	return names
}

// copyFlow deep-copies a flow definition via a JSON round trip.
func copyFlow(f config.Flow) (config.Flow, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return config.Flow{}, err
	}
	var out config.Flow
	if err := json.Unmarshal(data, &out); err != nil {
		return config.Flow{}, err
	}
	return out, nil
}
