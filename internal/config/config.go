// Package config loads revloop configuration from defaults, an optional YAML
// file and REVLOOP_ environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sprite-ai/revloop/internal/logging"
)

// Config is the complete runtime configuration.
type Config struct {
	Review    ReviewConfig    `koanf:"review"`
	Oracle    OracleConfig    `koanf:"oracle"`
	Trend     TrendConfig     `koanf:"trend"`
	Analyzers AnalyzersConfig `koanf:"analyzers"`
	Server    ServerConfig    `koanf:"server"`
	Logging   logging.Config  `koanf:"logging"`
}

// ReviewConfig bounds a single review run.
type ReviewConfig struct {
	MaxRetries      int           `koanf:"max_retries"`
	Threshold       float64       `koanf:"threshold"`
	DigestBytes     int           `koanf:"digest_bytes"`
	AnalyzerTimeout time.Duration `koanf:"analyzer_timeout"`
	Jobs            int           `koanf:"jobs"`
}

// OracleConfig selects and tunes the scoring and patch oracles.
type OracleConfig struct {
	Provider          string        `koanf:"provider"`
	Model             string        `koanf:"model"`
	APIKey            Secret        `koanf:"api_key"`
	BaseURL           string        `koanf:"base_url"`
	MaxTokens         int           `koanf:"max_tokens"`
	RequestTimeout    time.Duration `koanf:"request_timeout"`
	RateLimit         float64       `koanf:"rate_limit"`
	RateBurst         int           `koanf:"rate_burst"`
	RetryAttempts     int           `koanf:"retry_attempts"`
	RetryInitialDelay time.Duration `koanf:"retry_initial_delay"`
	RetryMultiplier   float64       `koanf:"retry_multiplier"`
	RetryMaxDelay     time.Duration `koanf:"retry_max_delay"`
}

// TrendConfig selects the trend store backend.
type TrendConfig struct {
	Backend string `koanf:"backend"`
	Dir     string `koanf:"dir"`
}

// AnalyzersConfig tunes the built-in analyzers.
type AnalyzersConfig struct {
	MaxLineLength int    `koanf:"max_line_length"`
	Flake8        string `koanf:"flake8"`
	Pylint        string `koanf:"pylint"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Addr            string        `koanf:"addr"`
	MaxUploadBytes  int64         `koanf:"max_upload_bytes"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	// AllowedOrigins lists browser origins accepted on the WebSocket
	// endpoint. Empty means same-origin only; "*" accepts any origin.
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// Oracle providers.
const (
	ProviderHeuristic = "heuristic"
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

// Trend backends.
const (
	BackendFile   = "file"
	BackendBadger = "badger"
	BackendMemory = "memory"
)

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Review: ReviewConfig{
			MaxRetries:      3,
			Threshold:       7,
			DigestBytes:     500,
			AnalyzerTimeout: 30 * time.Second,
			Jobs:            4,
		},
		Oracle: OracleConfig{
			Provider:          ProviderHeuristic,
			MaxTokens:         4096,
			RequestTimeout:    60 * time.Second,
			RateLimit:         2,
			RateBurst:         2,
			RetryAttempts:     3,
			RetryInitialDelay: time.Second,
			RetryMultiplier:   3,
			RetryMaxDelay:     30 * time.Second,
		},
		Trend: TrendConfig{
			Backend: BackendFile,
			Dir:     ".revloop/history",
		},
		Analyzers: AnalyzersConfig{
			MaxLineLength: 100,
		},
		Server: ServerConfig{
			Addr:            "127.0.0.1:8080",
			MaxUploadBytes:  1 << 20,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: *logging.NewDefaultConfig(),
	}
}

// Validate checks every bound.
func (c *Config) Validate() error {
	var errs []error

	if c.Review.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("review.max_retries must be >= 0, got %d", c.Review.MaxRetries))
	}
	if c.Review.Threshold < 1 || c.Review.Threshold > 10 {
		errs = append(errs, fmt.Errorf("review.threshold must be within 1..10, got %v", c.Review.Threshold))
	}
	if c.Review.DigestBytes < 1 {
		errs = append(errs, fmt.Errorf("review.digest_bytes must be >= 1, got %d", c.Review.DigestBytes))
	}
	if c.Review.AnalyzerTimeout <= 0 {
		errs = append(errs, fmt.Errorf("review.analyzer_timeout must be > 0"))
	}
	if c.Review.Jobs < 1 {
		errs = append(errs, fmt.Errorf("review.jobs must be >= 1, got %d", c.Review.Jobs))
	}

	switch c.Oracle.Provider {
	case ProviderHeuristic:
	case ProviderAnthropic, ProviderOpenAI:
		if !c.Oracle.APIKey.IsSet() {
			errs = append(errs, fmt.Errorf("oracle.api_key is required for provider %q", c.Oracle.Provider))
		}
	default:
		errs = append(errs, fmt.Errorf("oracle.provider must be one of heuristic, anthropic, openai; got %q", c.Oracle.Provider))
	}
	if c.Oracle.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("oracle.request_timeout must be > 0"))
	}
	if c.Oracle.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("oracle.rate_limit must be >= 0"))
	}
	if c.Oracle.RetryAttempts < 1 {
		errs = append(errs, fmt.Errorf("oracle.retry_attempts must be >= 1, got %d", c.Oracle.RetryAttempts))
	}
	if c.Oracle.RetryMultiplier < 1 {
		errs = append(errs, fmt.Errorf("oracle.retry_multiplier must be >= 1"))
	}

	switch c.Trend.Backend {
	case BackendMemory:
	case BackendFile, BackendBadger:
		if strings.TrimSpace(c.Trend.Dir) == "" {
			errs = append(errs, fmt.Errorf("trend.dir is required for backend %q", c.Trend.Backend))
		}
	default:
		errs = append(errs, fmt.Errorf("trend.backend must be one of file, badger, memory; got %q", c.Trend.Backend))
	}

	if c.Analyzers.MaxLineLength < 20 {
		errs = append(errs, fmt.Errorf("analyzers.max_line_length must be >= 20, got %d", c.Analyzers.MaxLineLength))
	}
	if c.Server.MaxUploadBytes <= 0 {
		errs = append(errs, fmt.Errorf("server.max_upload_bytes must be > 0"))
	}
	if err := c.Logging.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("logging: %w", err))
	}

	return errors.Join(errs...)
}
