// Package config defines the declarative configuration schema for the
// dialogue runtime: flows and their steps, action signatures, slot types, and
// runtime settings. Configurations load from YAML and are validated once at
// startup; an invalid configuration refuses to serve.
package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Step type discriminators.
const (
	StepCollect = "collect"
	StepAction  = "action"
	StepSay     = "say"
	StepSet     = "set"
	StepBranch  = "branch"
	StepConfirm = "confirm"
	StepWhile   = "while"
)

// Config is the root configuration object.
type Config struct {
	Flows    map[string]Flow   `yaml:"flows"`
	Actions  map[string]Action `yaml:"actions"`
	Slots    map[string]Slot   `yaml:"slots"`
	Settings Settings          `yaml:"settings"`
}

// Flow is a named, declarative procedure: the ordered steps executed to
// satisfy one user intent.
type Flow struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Steps       []Step `yaml:"steps"`
}

// Step is one typed unit of a flow, discriminated by Type. Only the fields
// relevant to the type are populated; Validate enforces per-type requirements.
type Step struct {
	Step string `yaml:"step"`
	Type string `yaml:"type"`

	// collect / confirm / set
	Slot      string   `yaml:"slot,omitempty"`
	Prompt    string   `yaml:"prompt,omitempty"`
	Validator string   `yaml:"validator,omitempty"`
	Options   []string `yaml:"options,omitempty"`

	// action
	Call       string            `yaml:"call,omitempty"`
	Inputs     []string          `yaml:"inputs,omitempty"`
	MapOutputs map[string]string `yaml:"map_outputs,omitempty"`

	// say
	Message string `yaml:"message,omitempty"`

	// set
	Value interface{} `yaml:"value,omitempty"`

	// branch
	Input   string            `yaml:"input,omitempty"`
	Cases   map[string]string `yaml:"cases,omitempty"`
	Default string            `yaml:"default,omitempty"`

	// while
	Condition string `yaml:"condition,omitempty"`
	Do        []Step `yaml:"do,omitempty"`

	// common
	JumpTo string `yaml:"jump_to,omitempty"`
}

// Action declares an external action handler's signature. The handler itself
// is registered in code; the configuration binds names and I/O shapes.
type Action struct {
	Description    string   `yaml:"description,omitempty"`
	Inputs         []string `yaml:"inputs,omitempty"`
	Outputs        []string `yaml:"outputs,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty"`
	MaxAttempts    int      `yaml:"max_attempts,omitempty"`
}

// Slot declares a slot's type and optional validation pattern.
type Slot struct {
	Type      string `yaml:"type,omitempty"`      // string | number | bool
	Validator string `yaml:"validator,omitempty"` // regular expression
}

// Settings holds runtime configuration.
type Settings struct {
	Persistence Persistence       `yaml:"persistence"`
	NLU         NLU               `yaml:"nlu"`
	Limits      Limits            `yaml:"limits"`
	Templates   map[string]string `yaml:"templates,omitempty"`
}

// Persistence selects the checkpointer backend.
type Persistence struct {
	// Backend is one of: memory, sqlite, mysql, postgres.
	Backend string `yaml:"backend"`

	// Connection is the DSN or file path, backend dependent.
	Connection string `yaml:"connection,omitempty"`
}

// NLU configures the command interpreter.
type NLU struct {
	// Provider is one of: openai, anthropic, google, mock.
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model,omitempty"`
	Temperature float64 `yaml:"temperature,omitempty"`
}

// Limits bounds runtime behavior. Zero values take defaults.
type Limits struct {
	MaxFlowStackDepth       int `yaml:"max_flow_stack_depth"`
	MaxDigressionDepth      int `yaml:"max_digression_depth"`
	MaxConfirmationAttempts int `yaml:"max_confirmation_attempts"`
	SubgraphIterationLimit  int `yaml:"subgraph_iteration_limit"`
}

// Default limit values.
const (
	DefaultMaxFlowStackDepth       = 8
	DefaultMaxDigressionDepth      = 3
	DefaultMaxConfirmationAttempts = 3
	DefaultSubgraphIterationLimit  = 25
)

// Load reads and parses a YAML configuration file, applies defaults, and
// validates it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills zero-valued limits and flow names.
func (c *Config) ApplyDefaults() {
	if c.Settings.Limits.MaxFlowStackDepth == 0 {
		c.Settings.Limits.MaxFlowStackDepth = DefaultMaxFlowStackDepth
	}
	if c.Settings.Limits.MaxDigressionDepth == 0 {
		c.Settings.Limits.MaxDigressionDepth = DefaultMaxDigressionDepth
	}
	if c.Settings.Limits.MaxConfirmationAttempts == 0 {
		c.Settings.Limits.MaxConfirmationAttempts = DefaultMaxConfirmationAttempts
	}
	if c.Settings.Limits.SubgraphIterationLimit == 0 {
		c.Settings.Limits.SubgraphIterationLimit = DefaultSubgraphIterationLimit
	}

	for name, flow := range c.Flows {
		if flow.Name == "" {
			flow.Name = name
			c.Flows[name] = flow
		}
	}
}

// Validate checks structural validity: step names unique per flow, known step
// types, per-type required fields, referenced actions declared, slot
// validators compile. Graph-level checks (dangling jump targets, branch
// cases) are repeated by the compiler against the desugared step list.
func (c *Config) Validate() error {
	for flowName, flow := range c.Flows {
		if len(flow.Steps) == 0 {
			return &Error{Flow: flowName, Reason: "flow has no steps"}
		}
		seen := map[string]bool{}
		if err := c.validateSteps(flowName, flow.Steps, seen); err != nil {
			return err
		}
	}

	for slotName, slot := range c.Slots {
		if slot.Validator == "" {
			continue
		}
		if _, err := regexp.Compile(slot.Validator); err != nil {
			return &Error{Reason: fmt.Sprintf("slot %q validator does not compile: %v", slotName, err)}
		}
	}

	switch c.Settings.Persistence.Backend {
	case "", "memory", "sqlite", "mysql", "postgres":
	default:
		return &Error{Reason: "unknown persistence backend: " + c.Settings.Persistence.Backend}
	}

	return nil
}

func (c *Config) validateSteps(flowName string, steps []Step, seen map[string]bool) error {
	for _, step := range steps {
		if step.Step == "" {
			return &Error{Flow: flowName, Reason: "step missing name"}
		}
		if seen[step.Step] {
			return &Error{Flow: flowName, Step: step.Step, Reason: "duplicate step name"}
		}
		seen[step.Step] = true

		switch step.Type {
		case StepCollect:
			if step.Slot == "" || step.Prompt == "" {
				return &Error{Flow: flowName, Step: step.Step, Reason: "collect requires slot and prompt"}
			}
		case StepConfirm:
			if step.Slot == "" || step.Prompt == "" {
				return &Error{Flow: flowName, Step: step.Step, Reason: "confirm requires slot and prompt"}
			}
		case StepAction:
			if step.Call == "" {
				return &Error{Flow: flowName, Step: step.Step, Reason: "action requires call"}
			}
			if _, ok := c.Actions[step.Call]; !ok {
				return &Error{Flow: flowName, Step: step.Step, Reason: "action not declared: " + step.Call}
			}
		case StepSay:
			if step.Message == "" {
				return &Error{Flow: flowName, Step: step.Step, Reason: "say requires message"}
			}
		case StepSet:
			if step.Slot == "" {
				return &Error{Flow: flowName, Step: step.Step, Reason: "set requires slot"}
			}
		case StepBranch:
			if step.Input == "" || len(step.Cases) == 0 {
				return &Error{Flow: flowName, Step: step.Step, Reason: "branch requires input and cases"}
			}
		case StepWhile:
			if step.Condition == "" || len(step.Do) == 0 {
				return &Error{Flow: flowName, Step: step.Step, Reason: "while requires condition and do"}
			}
			if err := c.validateSteps(flowName, step.Do, seen); err != nil {
				return err
			}
		default:
			return &Error{Flow: flowName, Step: step.Step, Reason: "unknown step type: " + step.Type}
		}
	}
	return nil
}

// Template returns the named utterance template override, if configured.
func (c *Config) Template(name string) (string, bool) {
	v, ok := c.Settings.Templates[name]
	return v, ok
}

// Error is a configuration validation failure, reported at startup.
type Error struct {
	Flow   string
	Step   string
	Reason string
}

func (e *Error) Error() string {
	switch {
	case e.Flow != "" && e.Step != "":
		return fmt.Sprintf("config: flow %q step %q: %s", e.Flow, e.Step, e.Reason)
	case e.Flow != "":
		return fmt.Sprintf("config: flow %q: %s", e.Flow, e.Reason)
	default:
		return "config: " + e.Reason
	}
}
