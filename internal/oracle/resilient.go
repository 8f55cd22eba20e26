package oracle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sprite-ai/revloop/internal/logging"
	"github.com/sprite-ai/revloop/internal/metrics"
	"github.com/sprite-ai/revloop/internal/model"
	"github.com/sprite-ai/revloop/internal/retry"
)

// ResilientConfig is the call policy applied around a provider.
type ResilientConfig struct {
	// Timeout bounds each attempt. Zero means no per-attempt bound.
	Timeout   time.Duration
	RateLimit float64
	RateBurst int
	Policy    retry.Policy
	Logger    *logging.Logger
}

// Resilient wraps a provider with a rate limiter, per-attempt timeouts and
// bounded retries of transient failures. Failures other than malformed
// replies and cancellation are reported as ErrUnavailable.
type Resilient struct {
	next    Oracle
	limiter *rate.Limiter
	cfg     ResilientConfig
	log     *logging.Logger
}

func NewResilient(next Oracle, cfg ResilientConfig) *Resilient {
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.RateBurst
	if burst < 1 {
		burst = 1
	}
	log := cfg.Logger
	if log == nil {
		log = logging.Nop()
	}
	return &Resilient{
		next:    next,
		limiter: rate.NewLimiter(limit, burst),
		cfg:     cfg,
		log:     log.Named("oracle"),
	}
}

func (r *Resilient) Name() string { return r.next.Name() }

func (r *Resilient) Score(ctx context.Context, req ScoreRequest) (model.EvaluationRecord, error) {
	return call(ctx, r, "score", func(ctx context.Context) (model.EvaluationRecord, error) {
		return r.next.Score(ctx, req)
	})
}

func (r *Resilient) Patch(ctx context.Context, req PatchRequest) (Patch, error) {
	return call(ctx, r, "patch", func(ctx context.Context) (Patch, error) {
		return r.next.Patch(ctx, req)
	})
}

func call[T any](ctx context.Context, r *Resilient, kind string, op func(context.Context) (T, error)) (T, error) {
	provider := r.next.Name()
	start := time.Now()

	v, err := retry.Do(ctx, r.cfg.Policy, func(ctx context.Context) (T, error) {
		if err := r.limiter.Wait(ctx); err != nil {
			var zero T
			return zero, err
		}
		return op(ctx)
	},
		retry.WithAttemptTimeout(r.cfg.Timeout),
		retry.WithNotify(func(attempt int, err error, wait time.Duration) {
			metrics.OracleRetries.WithLabelValues(kind, provider).Inc()
			r.log.Warn(ctx, "oracle call failed, retrying",
				zap.String("kind", kind),
				zap.String("provider", provider),
				zap.Int("attempt", attempt),
				zap.Duration("wait", wait),
				zap.Error(err),
			)
		}),
	)

	result := "ok"
	switch {
	case err == nil:
	case ctx.Err() != nil:
		metrics.ObserveOracle(kind, provider, "cancelled", time.Since(start))
		return v, ctx.Err()
	case errors.Is(err, ErrMalformedResponse):
		result = "malformed"
	case errors.Is(err, retry.ErrExhausted):
		result = "transient"
		err = fmt.Errorf("%w: %w", ErrUnavailable, err)
	default:
		result = "unavailable"
		err = fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	metrics.ObserveOracle(kind, provider, result, time.Since(start))
	if err != nil {
		r.log.Error(ctx, "oracle call failed",
			zap.String("kind", kind),
			zap.String("provider", provider),
			zap.String("result", result),
			zap.Error(err),
		)
	}
	return v, err
}
