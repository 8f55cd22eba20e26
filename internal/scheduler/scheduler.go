// Package scheduler fans a snapshot out to every analyzer concurrently.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sprite-ai/revloop/internal/analysis"
	"github.com/sprite-ai/revloop/internal/logging"
	"github.com/sprite-ai/revloop/internal/metrics"
	"github.com/sprite-ai/revloop/internal/model"
	"github.com/sprite-ai/revloop/internal/report"
)

// DefaultAnalyzerTimeout bounds a single analyzer invocation.
const DefaultAnalyzerTimeout = 30 * time.Second

// Scheduler runs a fixed set of analyzers, one per category.
type Scheduler struct {
	analyzers []analysis.Analyzer
	timeout   time.Duration
	logger    *logging.Logger
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithAnalyzerTimeout bounds each analyzer call independently.
func WithAnalyzerTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// New validates the analyzer set. Each category may appear at most once and
// must be one of the known categories.
func New(analyzers []analysis.Analyzer, opts ...Option) (*Scheduler, error) {
	seen := make(map[model.Category]bool, len(analyzers))
	for _, a := range analyzers {
		if a == nil {
			return nil, errors.New("nil analyzer")
		}
		c := a.Category()
		if !c.Valid() {
			return nil, fmt.Errorf("analyzer has unknown category %q", c)
		}
		if seen[c] {
			return nil, fmt.Errorf("duplicate analyzer for category %s", c)
		}
		seen[c] = true
	}

	s := &Scheduler{
		analyzers: append([]analysis.Analyzer(nil), analyzers...),
		timeout:   DefaultAnalyzerTimeout,
		logger:    logging.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("scheduler")
	return s, nil
}

// Run invokes every analyzer on snap and merges the results. Analyzer errors,
// timeouts and panics are recorded on the report and never fail the run.
// Run returns an error only when ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, snap *analysis.Snapshot) (model.CombinedReport, error) {
	results := make([]model.AnalyzerResult, len(s.analyzers))

	// Workers never return errors so every analyzer runs to completion.
	g, gctx := errgroup.WithContext(ctx)
	for i, a := range s.analyzers {
		g.Go(func() error {
			results[i] = s.invoke(gctx, a, snap)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return model.CombinedReport{}, err
	}
	return report.Combine(snap.Name, results), nil
}

func (s *Scheduler) invoke(ctx context.Context, a analysis.Analyzer, snap *analysis.Snapshot) (res model.AnalyzerResult) {
	category := a.Category()
	res = model.AnalyzerResult{Category: category, File: snap.Name}

	actx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	outcome := "ok"
	defer func() {
		res.Duration = time.Since(start)
		metrics.ObserveAnalyzer(string(category), outcome, res.Duration)
		s.logger.Debug(ctx, "analyzer finished",
			zap.String("category", string(category)),
			zap.String("outcome", outcome),
			zap.Int("findings", len(res.Findings)),
			zap.Duration("duration", res.Duration))
	}()

	type reply struct {
		findings []model.Finding
		err      error
		panicked any
		stack    []byte
	}
	done := make(chan reply, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- reply{panicked: p, stack: debug.Stack()}
			}
		}()
		findings, err := a.Analyze(actx, snap)
		done <- reply{findings: findings, err: err}
	}()

	select {
	case r := <-done:
		switch {
		case r.panicked != nil:
			outcome = model.ErrorKindPanic
			s.logger.Error(ctx, "analyzer panicked",
				zap.String("category", string(category)),
				zap.Any("panic", r.panicked),
				zap.ByteString("stack", r.stack))
			res.Error = &model.ErrorInfo{Kind: model.ErrorKindPanic, Message: fmt.Sprint(r.panicked)}
		case r.err != nil && actx.Err() != nil && ctx.Err() == nil:
			outcome = model.ErrorKindTimeout
			res.Error = &model.ErrorInfo{Kind: model.ErrorKindTimeout, Message: fmt.Sprintf("exceeded %s", s.timeout)}
		case r.err != nil:
			outcome = model.ErrorKindFailed
			s.logger.Warn(ctx, "analyzer failed",
				zap.String("category", string(category)), zap.Error(r.err))
			res.Error = &model.ErrorInfo{Kind: model.ErrorKindFailed, Message: r.err.Error()}
		default:
			res.Findings = r.findings
			if res.Findings == nil {
				res.Findings = []model.Finding{}
			}
		}
	case <-actx.Done():
		// The analyzer ignored its context; abandon it.
		if ctx.Err() != nil {
			outcome = "cancelled"
			res.Error = &model.ErrorInfo{Kind: model.ErrorKindFailed, Message: ctx.Err().Error()}
			return res
		}
		outcome = model.ErrorKindTimeout
		res.Error = &model.ErrorInfo{Kind: model.ErrorKindTimeout, Message: fmt.Sprintf("exceeded %s", s.timeout)}
	}
	return res
}
