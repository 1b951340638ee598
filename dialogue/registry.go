package dialogue

import (
	"sort"
	"sync"

	"github.com/dshills/dialograph-go/dialogue/config"
)

// FlowRegistry holds the compiled subgraph for every configured flow.
// Compilation happens once at startup; lookups afterward are read-only and
// safe for concurrent use.
type FlowRegistry struct {
	mu    sync.RWMutex
	flows map[string]*CompiledFlow
}

// NewFlowRegistry compiles every flow in the configuration, in name order so
// failures are reported deterministically. Any flow that fails to compile
// aborts startup with its CompilationError.
func NewFlowRegistry(c *Compiler, cfg *config.Config) (*FlowRegistry, error) {
	names := make([]string, 0, len(cfg.Flows))
	for name := range cfg.Flows {
		names = append(names, name)
	}
	sort.Strings(names)

	r := &FlowRegistry{flows: make(map[string]*CompiledFlow, len(names))}
	for _, name := range names {
		flow := cfg.Flows[name]
		if flow.Name == "" {
			flow.Name = name
		}
		compiled, err := c.CompileFlow(flow)
		if err != nil {
			return nil, err
		}
		r.flows[name] = compiled
	}
	return r, nil
}

// Get returns the compiled flow for name.
func (r *FlowRegistry) Get(name string) (*CompiledFlow, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.flows[name]
	return f, ok
}

// Names returns the registered flow names, sorted.
func (r *FlowRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.flows))
	for name := range r.flows {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
