package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleYAML = `
flows:
  book_hotel:
    description: Book a hotel room
    steps:
      - step: ask_city
        type: collect
        slot: city
        prompt: "Which city?"
      - step: find_hotels
        type: action
        call: search_hotels
        inputs: [city]
        map_outputs:
          top_result: hotel
      - step: confirm_booking
        type: confirm
        slot: confirmed
        prompt: "Book {hotel} in {city}?"
      - step: route
        type: branch
        input: confirmed
        cases:
          "true": say_done
          "false": say_cancelled
      - step: say_done
        type: say
        message: "Booked {hotel}."
        jump_to: end
      - step: say_cancelled
        type: say
        message: "No problem."

actions:
  search_hotels:
    inputs: [city]
    outputs: [top_result]
    timeout_seconds: 10
    max_attempts: 2

slots:
  city:
    type: string
    validator: "^[A-Za-z ]+$"

settings:
  persistence:
    backend: sqlite
    connection: dialogue.db
  nlu:
    provider: openai
    model: gpt-4o-mini
  limits:
    max_flow_stack_depth: 4
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	t.Run("flows decoded", func(t *testing.T) {
		flow, ok := cfg.Flows["book_hotel"]
		if !ok {
			t.Fatal("book_hotel missing")
		}
		if flow.Name != "book_hotel" {
			t.Errorf("flow name not defaulted: %q", flow.Name)
		}
		if len(flow.Steps) != 6 {
			t.Fatalf("steps = %d, want 6", len(flow.Steps))
		}
		action := flow.Steps[1]
		if action.Type != StepAction || action.Call != "search_hotels" || action.MapOutputs["top_result"] != "hotel" {
			t.Errorf("action step = %+v", action)
		}
		branch := flow.Steps[3]
		if branch.Cases["true"] != "say_done" {
			t.Errorf("branch cases = %v", branch.Cases)
		}
	})

	t.Run("limits defaulted where unset", func(t *testing.T) {
		if cfg.Settings.Limits.MaxFlowStackDepth != 4 {
			t.Errorf("explicit limit overridden: %d", cfg.Settings.Limits.MaxFlowStackDepth)
		}
		if cfg.Settings.Limits.MaxConfirmationAttempts != DefaultMaxConfirmationAttempts {
			t.Errorf("confirmation attempts = %d", cfg.Settings.Limits.MaxConfirmationAttempts)
		}
		if cfg.Settings.Limits.SubgraphIterationLimit != DefaultSubgraphIterationLimit {
			t.Errorf("iteration limit = %d", cfg.Settings.Limits.SubgraphIterationLimit)
		}
	})

	t.Run("action declarations decoded", func(t *testing.T) {
		decl := cfg.Actions["search_hotels"]
		if decl.TimeoutSeconds != 10 || decl.MaxAttempts != 2 {
			t.Errorf("action decl = %+v", decl)
		}
	})
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Flows) != 1 {
		t.Errorf("flows = %d", len(cfg.Flows))
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Parse([]byte(sampleYAML))
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
		return cfg
	}

	check := func(t *testing.T, mutate func(*Config), wantSubstr string) {
		t.Helper()
		cfg := base()
		mutate(cfg)
		err := cfg.Validate()
		var cerr *Error
		if !errors.As(err, &cerr) {
			t.Fatalf("err = %v, want config.Error", err)
		}
		if !strings.Contains(err.Error(), wantSubstr) {
			t.Errorf("err = %q, want substring %q", err.Error(), wantSubstr)
		}
	}

	t.Run("empty flow", func(t *testing.T) {
		check(t, func(c *Config) {
			c.Flows["empty"] = Flow{Name: "empty"}
		}, "no steps")
	})

	t.Run("duplicate step names", func(t *testing.T) {
		check(t, func(c *Config) {
			f := c.Flows["book_hotel"]
			f.Steps = append(f.Steps, Step{Step: "ask_city", Type: StepSay, Message: "x"})
			c.Flows["book_hotel"] = f
		}, "duplicate")
	})

	t.Run("duplicate inside while body", func(t *testing.T) {
		check(t, func(c *Config) {
			f := c.Flows["book_hotel"]
			f.Steps = append(f.Steps, Step{
				Step: "loop", Type: StepWhile, Condition: "x",
				Do: []Step{{Step: "ask_city", Type: StepSay, Message: "x"}},
			})
			c.Flows["book_hotel"] = f
		}, "duplicate")
	})

	t.Run("collect without prompt", func(t *testing.T) {
		check(t, func(c *Config) {
			f := c.Flows["book_hotel"]
			f.Steps[0].Prompt = ""
			c.Flows["book_hotel"] = f
		}, "collect requires")
	})

	t.Run("undeclared action", func(t *testing.T) {
		check(t, func(c *Config) {
			f := c.Flows["book_hotel"]
			f.Steps[1].Call = "ghost"
			c.Flows["book_hotel"] = f
		}, "not declared")
	})

	t.Run("unknown step type", func(t *testing.T) {
		check(t, func(c *Config) {
			f := c.Flows["book_hotel"]
			f.Steps[0].Type = "teleport"
			c.Flows["book_hotel"] = f
		}, "unknown step type")
	})

	t.Run("bad slot validator", func(t *testing.T) {
		check(t, func(c *Config) {
			c.Slots["city"] = Slot{Validator: "("}
		}, "validator")
	})

	t.Run("unknown persistence backend", func(t *testing.T) {
		check(t, func(c *Config) {
			c.Settings.Persistence.Backend = "floppy"
		}, "persistence backend")
	})
}

func TestTemplateLookup(t *testing.T) {
	cfg := &Config{Settings: Settings{Templates: map[string]string{"clarify": "Say again?"}}}
	if v, ok := cfg.Template("clarify"); !ok || v != "Say again?" {
		t.Errorf("Template = %q, %v", v, ok)
	}
	if _, ok := cfg.Template("missing"); ok {
		t.Error("missing template reported present")
	}
}
