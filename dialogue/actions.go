package dialogue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dshills/dialograph-go/dialogue/config"
	"github.com/dshills/dialograph-go/graph"
)

// DefaultActionTimeout bounds an action invocation when the configuration
// does not specify one.
const DefaultActionTimeout = 30 * time.Second

// ActionHandler is the contract for external side effects invoked by action
// steps. Inputs are the slot values named by the step; outputs are written
// back into slots via the step's output mapping. Handlers must respect ctx
// cancellation.
type ActionHandler func(ctx context.Context, inputs map[string]interface{}) (map[string]interface{}, error)

// ActionRegistry binds configured action names to their handlers, with
// per-action timeout and retry settings.
type ActionRegistry struct {
	mu       sync.RWMutex
	handlers map[string]ActionHandler
	decls    map[string]config.Action
	observer func(action string, seconds float64)
}

// NewActionRegistry creates an empty registry.
func NewActionRegistry() *ActionRegistry {
	return &ActionRegistry{
		handlers: make(map[string]ActionHandler),
		decls:    make(map[string]config.Action),
	}
}

// Register installs a handler under the given action name, replacing any
// existing handler.
func (r *ActionRegistry) Register(name string, h ActionHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

// Configure attaches the declared signature and limits for an action.
func (r *ActionRegistry) Configure(name string, decl config.Action) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decls[name] = decl
}

// SetObserver installs a latency callback invoked after every action run.
func (r *ActionRegistry) SetObserver(fn func(action string, seconds float64)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observer = fn
}

// Has reports whether a handler is registered for name.
func (r *ActionRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[name]
	return ok
}

// Invoke runs the named action with the configured timeout and retry policy.
// A cancelled caller context stops the retries; failures after the final
// attempt are wrapped in ActionError.
func (r *ActionRegistry) Invoke(ctx context.Context, name string, inputs map[string]interface{}) (map[string]interface{}, error) {
	r.mu.RLock()
	h, ok := r.handlers[name]
	decl := r.decls[name]
	observer := r.observer
	r.mu.RUnlock()

	if !ok {
		return nil, &ActionError{Action: name, Cause: fmt.Errorf("no handler registered")}
	}

	if observer != nil {
		start := time.Now()
		defer func() {
			observer(name, time.Since(start).Seconds())
		}()
	}

	timeout := DefaultActionTimeout
	if decl.TimeoutSeconds > 0 {
		timeout = time.Duration(decl.TimeoutSeconds) * time.Second
	}

	policy := graph.RetryPolicy{
		MaxAttempts: 1,
		BaseDelay:   250 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Retryable: func(err error) bool {
			return !errors.Is(err, context.Canceled)
		},
	}
	if decl.MaxAttempts > 1 {
		policy.MaxAttempts = decl.MaxAttempts
	}

	var lastErr error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, &ActionError{Action: name, Cause: ctx.Err()}
			case <-time.After(policy.Backoff(attempt - 1)):
			}
		}

		outputs, err := invokeOnce(ctx, h, inputs, timeout)
		if err == nil {
			return outputs, nil
		}
		lastErr = err
		if policy.Retryable != nil && !policy.Retryable(err) {
			break
		}
	}

	return nil, &ActionError{Action: name, Cause: lastErr}
}

func invokeOnce(ctx context.Context, h ActionHandler, inputs map[string]interface{}, timeout time.Duration) (map[string]interface{}, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		outputs map[string]interface{}
		err     error
	}
	done := make(chan result, 1)

	go func() {
		outputs, err := h(runCtx, inputs)
		done <- result{outputs, err}
	}()

	select {
	case <-runCtx.Done():
		return nil, runCtx.Err()
	case res := <-done:
		return res.outputs, res.err
	}
}
