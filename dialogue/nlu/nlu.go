// Package nlu provides command interpreters for the dialogue runtime: three
// LLM-backed providers (OpenAI, Anthropic, Google Gemini) sharing one prompt
// and output contract, and a deterministic mock for tests and offline use.
package nlu

import (
	"fmt"
	"os"

	"github.com/dshills/dialograph-go/dialogue"
	"github.com/dshills/dialograph-go/dialogue/config"
)

// Environment variables holding provider API keys.
const (
	EnvOpenAIKey    = "OPENAI_API_KEY"
	EnvAnthropicKey = "ANTHROPIC_API_KEY"
	EnvGoogleKey    = "GOOGLE_API_KEY"
)

// New constructs the interpreter selected by the NLU settings. API keys come
// from the environment. The "mock" provider needs no key and interprets
// nothing until scripted.
func New(cfg config.NLU) (dialogue.NLUService, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAI(os.Getenv(EnvOpenAIKey), cfg.Model, cfg.Temperature)
	case "anthropic":
		return NewAnthropic(os.Getenv(EnvAnthropicKey), cfg.Model)
	case "google":
		return NewGoogle(os.Getenv(EnvGoogleKey), cfg.Model)
	case "mock":
		return NewMock(), nil
	default:
		return nil, fmt.Errorf("unknown nlu provider: %s", cfg.Provider)
	}
}

// InterpretError is a provider failure with retryability information.
type InterpretError struct {
	Code      string
	Message   string
	Retryable bool
}

func (e *InterpretError) Error() string {
	return fmt.Sprintf("nlu %s: %s", e.Code, e.Message)
}
