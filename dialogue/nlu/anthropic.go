package nlu

import (
	"context"
	"errors"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/dshills/dialograph-go/dialogue"
)

// DefaultAnthropicModel is used when no model is configured.
const DefaultAnthropicModel = "claude-3-5-haiku-latest"

// Anthropic interprets utterances with a Claude model. Safe for concurrent
// use.
type Anthropic struct {
	client *anthropic.Client
	model  string
}

// NewAnthropic creates a Claude-backed interpreter.
func NewAnthropic(apiKey, model string) (*Anthropic, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic interpreter requires an API key")
	}
	if model == "" {
		model = DefaultAnthropicModel
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &Anthropic{
		client: &client,
		model:  model,
	}, nil
}

// Interpret implements dialogue.NLUService.
func (p *Anthropic) Interpret(ctx context.Context, dctx dialogue.DialogueContext) (dialogue.CommandList, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prompt := buildPrompt(dctx)

	message, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: 1024,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return nil, mapProviderError("anthropic", err)
	}

	var text string
	for _, block := range message.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	return parseCommands(text)
}
