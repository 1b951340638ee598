package nlu

import (
	"context"
	"errors"

	"github.com/dshills/dialograph-go/dialogue"
	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// DefaultGoogleModel is used when no model is configured.
const DefaultGoogleModel = "gemini-1.5-flash"

// Google interprets utterances with a Gemini model, using a response schema
// to force the command contract. Safe for concurrent use; Close releases the
// underlying client.
type Google struct {
	client *genai.Client
	model  string
}

// NewGoogle creates a Gemini-backed interpreter.
func NewGoogle(apiKey, model string) (*Google, error) {
	if apiKey == "" {
		return nil, errors.New("google interpreter requires an API key")
	}
	if model == "" {
		model = DefaultGoogleModel
	}

	client, err := genai.NewClient(context.Background(), option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}

	return &Google{
		client: client,
		model:  model,
	}, nil
}

// Close releases the underlying client.
func (p *Google) Close() error {
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}

// Interpret implements dialogue.NLUService.
func (p *Google) Interpret(ctx context.Context, dctx dialogue.DialogueContext) (dialogue.CommandList, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prompt := buildPrompt(dctx)

	model := p.client.GenerativeModel(p.model)
	model.ResponseMIMEType = "application/json"
	model.ResponseSchema = &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"commands": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"type":      {Type: genai.TypeString},
						"flow_name": {Type: genai.TypeString},
						"slot_name": {Type: genai.TypeString},
						"value":     {Type: genai.TypeString},
						"content":   {Type: genai.TypeString},
					},
					Required: []string{"type"},
				},
			},
		},
		Required: []string{"commands"},
	}

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return nil, mapProviderError("google", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, &InterpretError{Code: "empty_response", Message: "no candidates from Gemini API"}
	}

	var text string
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text += string(t)
		}
	}

	return parseCommands(text)
}
