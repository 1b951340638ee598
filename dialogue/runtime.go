package dialogue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/dshills/dialograph-go/dialogue/checkpoint"
	"github.com/dshills/dialograph-go/dialogue/config"
	"github.com/dshills/dialograph-go/graph"
	"github.com/dshills/dialograph-go/graph/emit"
)

// Runtime is the top-level dialogue engine: it owns the compiled flows, the
// orchestrator graph, and the checkpointer, and serializes turns per user.
//
// Turns for different users run concurrently; turns for the same user are
// serialized by a per-user lock, so state for a user key is only ever touched
// by one turn at a time.
type Runtime struct {
	cfg          *config.Config
	registry     *FlowRegistry
	orchestrator *graph.Engine[State, Delta]
	checkpointer checkpoint.Checkpointer
	emitter      emit.Emitter
	metrics      *Metrics
	locks        userLocks
}

// RuntimeDeps are the collaborators assembled into a Runtime. Config and NLU
// are required; everything else has a working default.
type RuntimeDeps struct {
	Config *config.Config
	NLU    NLUService

	// Actions supplies handlers for the configured action steps. Nil means
	// an empty registry, which fails compilation for any flow with action
	// steps.
	Actions *ActionRegistry

	// Checkpointer overrides the backend chosen by the persistence settings.
	Checkpointer checkpoint.Checkpointer

	Emitter emit.Emitter
	Metrics *Metrics
}

// TurnResult is what one processed turn hands back to the caller.
type TurnResult struct {
	// Responses are the assistant utterances produced this turn, in order.
	Responses []string

	// State is the post-turn dialogue state, as persisted.
	State State
}

// NewRuntime validates the wiring, compiles every flow, and builds the
// orchestrator. Compilation failures abort construction.
func NewRuntime(ctx context.Context, d RuntimeDeps) (*Runtime, error) {
	if d.Config == nil {
		return nil, errors.New("runtime requires a config")
	}
	if d.NLU == nil {
		return nil, errors.New("runtime requires an NLU service")
	}
	if d.Actions == nil {
		d.Actions = NewActionRegistry()
	}
	if d.Emitter == nil {
		d.Emitter = emit.NewNullEmitter()
	}

	templates := templatesFromConfig(d.Config)
	limits := d.Config.Settings.Limits

	for name, decl := range d.Config.Actions {
		d.Actions.Configure(name, decl)
	}
	if d.Metrics != nil {
		metrics := d.Metrics
		d.Actions.SetObserver(func(action string, seconds float64) {
			metrics.ActionLatency.WithLabelValues(action).Observe(seconds)
		})
	}

	flows := NewFlowManager(limits.MaxFlowStackDepth, CancelOldest)
	compiler := NewCompiler(d.Config, flows, d.Actions, templates, d.Emitter)
	registry, err := NewFlowRegistry(compiler, d.Config)
	if err != nil {
		return nil, err
	}

	nlu := d.NLU
	if d.Metrics != nil {
		nlu = &instrumentedNLU{inner: d.NLU, metrics: d.Metrics}
	}

	orchestrator, err := NewOrchestrator(OrchestratorDeps{
		NLU:                nlu,
		Commands:           NewCommandRegistry(false),
		Flows:              flows,
		Registry:           registry,
		Templates:          templates,
		Emitter:            d.Emitter,
		Metrics:            d.Metrics,
		IterationLimit:     limits.SubgraphIterationLimit,
		MaxDigressionDepth: limits.MaxDigressionDepth,
	})
	if err != nil {
		return nil, err
	}

	cp := d.Checkpointer
	if cp == nil {
		cp, err = checkpoint.New(ctx, d.Config.Settings.Persistence.Backend, d.Config.Settings.Persistence.Connection)
		if err != nil {
			return nil, err
		}
	}

	return &Runtime{
		cfg:          d.Config,
		registry:     registry,
		orchestrator: orchestrator,
		checkpointer: cp,
		emitter:      d.Emitter,
		metrics:      d.Metrics,
	}, nil
}

// ProcessMessage runs one conversation turn for userKey.
//
// The checkpoint loads at the start and saves at the end; a turn that fails
// mid-graph leaves the previous checkpoint untouched, so the next message
// retries from the last good state. A failed save fails the turn with a
// CheckpointError.
func (r *Runtime) ProcessMessage(ctx context.Context, userKey, message string) (*TurnResult, error) {
	unlock := r.locks.lock(userKey)
	defer unlock()

	start := time.Now()
	ctx = WithUserKey(ctx, userKey)

	state, _, err := r.loadState(ctx, userKey)
	if err != nil {
		return nil, err
	}
	priorMessages := len(state.Messages)
	priorDepth := len(state.FlowStack)

	state = Reduce(state, Delta{SetUserMessage: strPtr(message)})

	final, err := r.orchestrator.Invoke(ctx, userKey, state)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(final)
	if err != nil {
		return nil, &CheckpointError{Op: "marshal", Cause: err}
	}
	if err := r.checkpointer.Save(ctx, userKey, data); err != nil {
		if r.metrics != nil {
			r.metrics.CheckpointFailures.Inc()
		}
		return nil, &CheckpointError{Op: "save", Cause: err}
	}

	if r.metrics != nil {
		r.metrics.TurnsTotal.Inc()
		r.metrics.TurnLatency.Observe(time.Since(start).Seconds())
		r.metrics.ActiveFlows.Add(float64(len(final.FlowStack) - priorDepth))
	}

	var responses []string
	for _, msg := range final.Messages[priorMessages:] {
		if msg.Role == RoleAssistant {
			responses = append(responses, msg.Content)
		}
	}
	return &TurnResult{Responses: responses, State: final}, nil
}

// GetState returns the persisted state for userKey. The second return is
// false when no conversation exists yet.
func (r *Runtime) GetState(ctx context.Context, userKey string) (State, bool, error) {
	unlock := r.locks.lock(userKey)
	defer unlock()
	return r.loadState(ctx, userKey)
}

// ResetState discards the persisted conversation for userKey.
func (r *Runtime) ResetState(ctx context.Context, userKey string) error {
	unlock := r.locks.lock(userKey)
	defer unlock()

	if err := r.checkpointer.Delete(ctx, userKey); err != nil {
		return &CheckpointError{Op: "delete", Cause: err}
	}
	return nil
}

// Flows exposes the registered flow names.
func (r *Runtime) Flows() []string {
	return r.registry.Names()
}

// Close releases the checkpointer.
func (r *Runtime) Close() error {
	return r.checkpointer.Close()
}

func (r *Runtime) loadState(ctx context.Context, userKey string) (State, bool, error) {
	data, err := r.checkpointer.Load(ctx, userKey)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, &CheckpointError{Op: "load", Cause: err}
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return State{}, false, &CheckpointError{Op: "unmarshal", Cause: err}
	}
	return state, true, nil
}

// templatesFromConfig layers configured overrides onto the defaults.
func templatesFromConfig(cfg *config.Config) Templates {
	t := DefaultTemplates()
	if v, ok := cfg.Template("cancelled"); ok {
		t.Cancelled = v
	}
	if v, ok := cfg.Template("error"); ok {
		t.Error = v
	}
	if v, ok := cfg.Template("clarify"); ok {
		t.Clarify = v
	}
	if v, ok := cfg.Template("chitchat"); ok {
		t.ChitChat = v
	}
	if v, ok := cfg.Template("fallback"); ok {
		t.Fallback = v
	}
	if v, ok := cfg.Template("invalid_slot"); ok {
		t.InvalidSlot = v
	}
	if v, ok := cfg.Template("digression_limit"); ok {
		t.DigressionLimit = v
	}
	return t
}

// instrumentedNLU records interpretation latency around the wrapped service.
type instrumentedNLU struct {
	inner   NLUService
	metrics *Metrics
}

func (i *instrumentedNLU) Interpret(ctx context.Context, dctx DialogueContext) (CommandList, error) {
	start := time.Now()
	cmds, err := i.inner.Interpret(ctx, dctx)
	i.metrics.NLULatency.Observe(time.Since(start).Seconds())
	return cmds, err
}

// userLocks serializes turns per user key.
type userLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (l *userLocks) lock(key string) func() {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*sync.Mutex)
	}
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
