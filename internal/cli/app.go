package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sprite-ai/revloop/internal/analysis"
	"github.com/sprite-ai/revloop/internal/config"
	"github.com/sprite-ai/revloop/internal/logging"
	"github.com/sprite-ai/revloop/internal/oracle"
	"github.com/sprite-ai/revloop/internal/retry"
	"github.com/sprite-ai/revloop/internal/review"
	"github.com/sprite-ai/revloop/internal/trend"
)

// app is the wired runtime shared by commands.
type app struct {
	cfg   *config.Config
	log   *logging.Logger
	orch  *review.Orchestrator
	store trend.Store
}

func (a *app) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn(context.Background(), "closing trend store", zap.Error(err))
		}
	}
	_ = a.log.Sync()
}

// loadConfig layers flag overrides on top of the file and environment.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	str := func(name string, dst *string) {
		if flags.Changed(name) {
			*dst, _ = flags.GetString(name)
		}
	}
	str("log-level", &cfg.Logging.Level)
	str("log-format", &cfg.Logging.Format)
	str("provider", &cfg.Oracle.Provider)
	str("model", &cfg.Oracle.Model)
	str("trend-dir", &cfg.Trend.Dir)
	str("trend-backend", &cfg.Trend.Backend)
	if flags.Changed("threshold") {
		cfg.Review.Threshold, _ = flags.GetFloat64("threshold")
	}
	if flags.Changed("max-retries") {
		cfg.Review.MaxRetries, _ = flags.GetInt("max-retries")
	}
	if flags.Changed("jobs") {
		cfg.Review.Jobs, _ = flags.GetInt("jobs")
	}
	if flags.Changed("addr") {
		cfg.Server.Addr, _ = flags.GetString("addr")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newApp loads configuration and wires the analyzers, oracle, trend store
// and orchestrator.
func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	log, err := logging.NewLogger(&cfg.Logging)
	if err != nil {
		return nil, err
	}

	policy := retry.DefaultPolicy()
	policy.MaxAttempts = cfg.Oracle.RetryAttempts
	policy.InitialDelay = cfg.Oracle.RetryInitialDelay
	policy.Multiplier = cfg.Oracle.RetryMultiplier
	policy.MaxDelay = cfg.Oracle.RetryMaxDelay

	orc, err := oracle.New(oracle.Config{
		Provider:       cfg.Oracle.Provider,
		Model:          cfg.Oracle.Model,
		APIKey:         cfg.Oracle.APIKey.Value(),
		BaseURL:        cfg.Oracle.BaseURL,
		MaxTokens:      cfg.Oracle.MaxTokens,
		RequestTimeout: cfg.Oracle.RequestTimeout,
		RateLimit:      cfg.Oracle.RateLimit,
		RateBurst:      cfg.Oracle.RateBurst,
		Retry:          policy,
		Logger:         log,
	})
	if err != nil {
		return nil, fmt.Errorf("building oracle: %w", err)
	}

	store, err := trend.Open(trend.Config{Backend: cfg.Trend.Backend, Dir: cfg.Trend.Dir, Logger: log})
	if err != nil {
		return nil, fmt.Errorf("opening trend store: %w", err)
	}

	orch, err := review.New(review.Deps{
		Analyzers: analysis.Default(analyzerOptions(cfg)),
		Scorer:    orc,
		Patcher:   orc,
		Store:     store,
		Logger:    log,
	}, reviewConfig(cfg))
	if err != nil {
		store.Close()
		return nil, err
	}

	log.Debug(cmd.Context(), "revloop configured",
		zap.String("provider", orc.Name()),
		zap.String("trend_backend", cfg.Trend.Backend),
		zap.Float64("threshold", cfg.Review.Threshold),
		zap.Int("max_retries", cfg.Review.MaxRetries),
	)
	return &app{cfg: cfg, log: log, orch: orch, store: store}, nil
}

func analyzerOptions(cfg *config.Config) analysis.Options {
	return analysis.Options{
		MaxLineLength: cfg.Analyzers.MaxLineLength,
		Flake8:        cfg.Analyzers.Flake8,
		Pylint:        cfg.Analyzers.Pylint,
	}
}

func reviewConfig(cfg *config.Config) review.Config {
	rc := review.DefaultConfig()
	rc.MaxRetries = cfg.Review.MaxRetries
	rc.Threshold = cfg.Review.Threshold
	rc.DigestBytes = cfg.Review.DigestBytes
	rc.AnalyzerTimeout = cfg.Review.AnalyzerTimeout
	return rc
}
