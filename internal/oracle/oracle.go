// Package oracle defines the scoring and patch oracles consulted by the
// refinement loop, and their providers.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sprite-ai/revloop/internal/logging"
	"github.com/sprite-ai/revloop/internal/model"
	"github.com/sprite-ai/revloop/internal/retry"
)

var (
	// ErrMalformedResponse marks an oracle reply that violates the schema.
	ErrMalformedResponse = errors.New("malformed oracle response")
	// ErrUnavailable marks an oracle that could not be reached or kept failing.
	ErrUnavailable = errors.New("oracle unavailable")
)

// ScoreRequest carries everything the scoring oracle sees.
type ScoreRequest struct {
	Report       model.CombinedReport
	ReportJSON   string
	FileIdentity string
	TrendDigest  string
	Threshold    float64
}

// Scorer grades a combined report.
type Scorer interface {
	Score(ctx context.Context, req ScoreRequest) (model.EvaluationRecord, error)
}

// PatchRequest asks for a revised code body.
type PatchRequest struct {
	FileName     string
	OriginalCode string
	Instructions string
}

// Patch is a revised code body.
type Patch struct {
	UpdatedCode string `json:"updated_code"`
	Description string `json:"description"`
}

// Patcher produces revised code from improvement instructions.
type Patcher interface {
	Patch(ctx context.Context, req PatchRequest) (Patch, error)
}

// Oracle is a provider implementing both roles.
type Oracle interface {
	Scorer
	Patcher
	Name() string
}

// Providers accepted by New.
const (
	ProviderHeuristic = "heuristic"
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

// Config selects a provider and its call policy.
type Config struct {
	Provider       string
	Model          string
	APIKey         string
	BaseURL        string
	MaxTokens      int
	RequestTimeout time.Duration
	// RateLimit is the sustained calls per second; zero disables limiting.
	RateLimit float64
	RateBurst int
	Retry     retry.Policy
	Logger    *logging.Logger
}

// New builds the configured provider wrapped with rate limiting, timeouts
// and retries.
func New(cfg Config) (Oracle, error) {
	var p Oracle
	switch cfg.Provider {
	case ProviderHeuristic, "":
		p = NewHeuristic()
	case ProviderAnthropic:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("%s: api key is required", cfg.Provider)
		}
		p = NewAnthropic(AnthropicConfig{
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			BaseURL:   cfg.BaseURL,
			MaxTokens: cfg.MaxTokens,
		})
	case ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("%s: api key is required", cfg.Provider)
		}
		p = NewOpenAI(OpenAIConfig{
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			BaseURL:   cfg.BaseURL,
			MaxTokens: cfg.MaxTokens,
		})
	default:
		return nil, fmt.Errorf("unknown oracle provider %q", cfg.Provider)
	}

	return NewResilient(p, ResilientConfig{
		Timeout:   cfg.RequestTimeout,
		RateLimit: cfg.RateLimit,
		RateBurst: cfg.RateBurst,
		Policy:    cfg.Retry,
		Logger:    cfg.Logger,
	}), nil
}
