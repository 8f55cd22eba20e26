package oracle

import (
	"context"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"

	"github.com/sprite-ai/revloop/internal/model"
	"github.com/sprite-ai/revloop/internal/retry"
)

// OpenAIConfig configures the chat completions provider.
type OpenAIConfig struct {
	APIKey    string
	Model     string
	BaseURL   string
	MaxTokens int
}

// OpenAI implements Oracle with the chat completions API in JSON mode.
type OpenAI struct {
	client    *openai.Client
	model     string
	maxTokens int
}

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	m := cfg.Model
	if m == "" {
		m = openai.GPT4oMini
	}
	return &OpenAI{
		client:    openai.NewClientWithConfig(oc),
		model:     m,
		maxTokens: cfg.MaxTokens,
	}
}

func (o *OpenAI) Name() string { return ProviderOpenAI }

func (o *OpenAI) Score(ctx context.Context, req ScoreRequest) (model.EvaluationRecord, error) {
	text, err := o.complete(ctx, scoreSystemPrompt, scoreUserPrompt(req))
	if err != nil {
		return model.EvaluationRecord{}, err
	}
	return DecodeScore(text)
}

func (o *OpenAI) Patch(ctx context.Context, req PatchRequest) (Patch, error) {
	text, err := o.complete(ctx, patchSystemPrompt, patchUserPrompt(req))
	if err != nil {
		return Patch{}, err
	}
	return DecodePatch(text)
}

func (o *OpenAI) complete(ctx context.Context, system, user string) (string, error) {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		MaxTokens: o.maxTokens,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return "", openAIError(err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices", ErrMalformedResponse)
	}
	return resp.Choices[0].Message.Content, nil
}

func openAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return &retry.StatusError{Code: apiErr.HTTPStatusCode, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return &retry.StatusError{Code: reqErr.HTTPStatusCode, Err: err}
	}
	return fmt.Errorf("openai request: %w", err)
}
