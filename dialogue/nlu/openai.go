package nlu

import (
	"context"
	"errors"
	"strings"

	"github.com/dshills/dialograph-go/dialogue"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = "gpt-4o-mini"

// OpenAI interprets utterances with an OpenAI chat model in JSON mode.
// Safe for concurrent use.
type OpenAI struct {
	client      *openai.Client
	model       string
	temperature float64
}

// NewOpenAI creates an OpenAI-backed interpreter.
func NewOpenAI(apiKey, model string, temperature float64) (*OpenAI, error) {
	if apiKey == "" {
		return nil, errors.New("openai interpreter requires an API key")
	}
	if model == "" {
		model = DefaultOpenAIModel
	}

	client := openai.NewClient(
		option.WithAPIKey(apiKey),
	)

	return &OpenAI{
		client:      &client,
		model:       model,
		temperature: temperature,
	}, nil
}

// Interpret implements dialogue.NLUService.
func (p *OpenAI) Interpret(ctx context.Context, dctx dialogue.DialogueContext) (dialogue.CommandList, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prompt := buildPrompt(dctx)

	completion, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: shared.ChatModel(p.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			{
				OfUser: &openai.ChatCompletionUserMessageParam{
					Content: openai.ChatCompletionUserMessageParamContentUnion{
						OfString: openai.String(prompt),
					},
				},
			},
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: openai.Ptr(shared.NewResponseFormatJSONObjectParam()),
		},
		Temperature: openai.Float(p.temperature),
	})
	if err != nil {
		return nil, mapProviderError("openai", err)
	}

	if len(completion.Choices) == 0 {
		return nil, &InterpretError{Code: "empty_response", Message: "no choices from OpenAI API"}
	}

	return parseCommands(completion.Choices[0].Message.Content)
}

// mapProviderError classifies SDK errors into InterpretError, shared by the
// OpenAI and Anthropic interpreters.
func mapProviderError(provider string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &InterpretError{Code: "timeout", Message: provider + " request timed out", Retryable: true}
	}

	lower := strings.ToLower(err.Error())

	switch {
	case strings.Contains(lower, "rate limit"),
		strings.Contains(lower, "429"),
		strings.Contains(lower, "too many requests"):
		return &InterpretError{Code: "rate_limited", Message: provider + " rate limit exceeded", Retryable: true}

	case strings.Contains(lower, "401"),
		strings.Contains(lower, "403"),
		strings.Contains(lower, "unauthorized"),
		strings.Contains(lower, "api key"),
		strings.Contains(lower, "api_key"),
		strings.Contains(lower, "authentication"):
		return &InterpretError{Code: "invalid_api_key", Message: provider + " API key is invalid or expired"}

	case strings.Contains(lower, "quota"),
		strings.Contains(lower, "billing"):
		return &InterpretError{Code: "quota_exceeded", Message: provider + " quota exceeded"}

	case strings.Contains(lower, "500"),
		strings.Contains(lower, "502"),
		strings.Contains(lower, "503"),
		strings.Contains(lower, "504"),
		strings.Contains(lower, "server error"),
		strings.Contains(lower, "unavailable"):
		return &InterpretError{Code: "server_error", Message: provider + " server error: " + err.Error(), Retryable: true}

	case strings.Contains(lower, "connection"),
		strings.Contains(lower, "timeout"),
		strings.Contains(lower, "network"):
		return &InterpretError{Code: "network_error", Message: provider + " network error: " + err.Error(), Retryable: true}
	}

	return &InterpretError{Code: "api_error", Message: provider + " API error: " + err.Error()}
}
