package oracle

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/sprite-ai/revloop/internal/model"
	"github.com/sprite-ai/revloop/internal/retry"
)

// AnthropicConfig configures the Anthropic Messages provider.
type AnthropicConfig struct {
	APIKey    string
	Model     string
	BaseURL   string
	MaxTokens int
}

// Anthropic implements Oracle with the Anthropic Messages API.
type Anthropic struct {
	api       anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

// NewAnthropic creates the provider. Retries are left to the caller.
func NewAnthropic(cfg AnthropicConfig) *Anthropic {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	m := anthropic.Model(cfg.Model)
	if cfg.Model == "" {
		m = anthropic.ModelClaudeSonnet4_5
	}
	maxTokens := int64(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Anthropic{
		api:       anthropic.NewClient(opts...),
		model:     m,
		maxTokens: maxTokens,
	}
}

func (a *Anthropic) Name() string { return ProviderAnthropic }

func (a *Anthropic) Score(ctx context.Context, req ScoreRequest) (model.EvaluationRecord, error) {
	text, err := a.complete(ctx, scoreSystemPrompt, scoreUserPrompt(req))
	if err != nil {
		return model.EvaluationRecord{}, err
	}
	return DecodeScore(text)
}

func (a *Anthropic) Patch(ctx context.Context, req PatchRequest) (Patch, error) {
	text, err := a.complete(ctx, patchSystemPrompt, patchUserPrompt(req))
	if err != nil {
		return Patch{}, err
	}
	return DecodePatch(text)
}

func (a *Anthropic) complete(ctx context.Context, system, user string) (string, error) {
	msg, err := a.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: a.maxTokens,
		System:    []anthropic.TextBlockParam{{Text: system}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	})
	if err != nil {
		return "", anthropicError(err)
	}

	var b strings.Builder
	for i := range msg.Content {
		if text, ok := msg.Content[i].AsAny().(anthropic.TextBlock); ok {
			b.WriteString(text.Text)
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("%w: no text content", ErrMalformedResponse)
	}
	return b.String(), nil
}

// anthropicError attaches the HTTP status so the retry classifier can see it.
func anthropicError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return &retry.StatusError{Code: apiErr.StatusCode, Err: err}
	}
	return fmt.Errorf("anthropic request: %w", err)
}
