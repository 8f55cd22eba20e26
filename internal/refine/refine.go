// Package refine implements the evaluation-gated retry loop: review, score,
// and patch a code body until the scoring oracle is satisfied or the retry
// budget runs out.
package refine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sprite-ai/revloop/internal/logging"
	"github.com/sprite-ai/revloop/internal/metrics"
	"github.com/sprite-ai/revloop/internal/model"
	"github.com/sprite-ai/revloop/internal/oracle"
	"github.com/sprite-ai/revloop/internal/report"
	"github.com/sprite-ai/revloop/internal/trend"
)

// State is a step of the loop.
type State int

const (
	StateReviewing State = iota
	StateScoring
	StatePatching
	StateFinalized
)

func (s State) String() string {
	switch s {
	case StateReviewing:
		return "reviewing"
	case StateScoring:
		return "scoring"
	case StatePatching:
		return "patching"
	case StateFinalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Config bounds the loop.
type Config struct {
	// MaxRetries is the maximum number of patch cycles.
	MaxRetries int
	// Threshold is forwarded to the scoring oracle.
	Threshold float64
	// DigestBytes caps the trend digest sent to the scoring oracle.
	DigestBytes int
}

// DefaultConfig returns 3 retries, threshold 7 and a 500 byte digest.
func DefaultConfig() Config {
	return Config{MaxRetries: 3, Threshold: 7, DigestBytes: trend.DefaultDigestBytes}
}

func (c Config) Validate() error {
	var errs []error
	if c.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("max retries must be >= 0, got %d", c.MaxRetries))
	}
	if c.Threshold < 1 || c.Threshold > 10 {
		errs = append(errs, fmt.Errorf("threshold must be within 1..10, got %g", c.Threshold))
	}
	if c.DigestBytes < 1 {
		errs = append(errs, fmt.Errorf("digest bytes must be positive, got %d", c.DigestBytes))
	}
	return errors.Join(errs...)
}

// Reviewer produces a combined report for a code body.
type Reviewer interface {
	Review(ctx context.Context, code string) (model.CombinedReport, error)
}

// ReviewerFunc adapts a function to Reviewer.
type ReviewerFunc func(ctx context.Context, code string) (model.CombinedReport, error)

func (f ReviewerFunc) Review(ctx context.Context, code string) (model.CombinedReport, error) {
	return f(ctx, code)
}

// Event describes a state transition.
type Event struct {
	State      State                   `json:"state"`
	Iteration  int                     `json:"iteration"`
	Time       time.Time               `json:"time"`
	Report     *model.CombinedReport   `json:"report,omitempty"`
	Evaluation *model.EvaluationRecord `json:"evaluation,omitempty"`
	// Aborted and Reason are set on the final event of an aborted loop.
	Aborted bool   `json:"aborted,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// Observer is called synchronously on every transition.
type Observer func(Event)

// Observers fans an event out to each non-nil observer in order.
func Observers(obs ...Observer) Observer {
	return func(ev Event) {
		for _, o := range obs {
			if o != nil {
				o(ev)
			}
		}
	}
}

// Session is the mutable state of one Run.
type Session struct {
	Identity  trend.Identity
	Iteration int
	Code      string
	History   []model.EvaluationRecord
}

// Input starts a loop.
type Input struct {
	Identity trend.Identity
	FileName string
	Code     string
	Observer Observer
}

// Outcome is the finalized state of a loop.
type Outcome struct {
	Report model.CombinedReport
	// Evaluation is nil when no scoring call ever succeeded.
	Evaluation *model.EvaluationRecord
	Code       string
	Iterations int
	// History holds every evaluation obtained, oldest first.
	History     []model.EvaluationRecord
	Aborted     bool
	AbortReason string
}

// Controller runs the loop. It is safe for concurrent use; each Run owns its
// own Session.
type Controller struct {
	cfg      Config
	reviewer Reviewer
	scorer   oracle.Scorer
	patcher  oracle.Patcher
	store    trend.Store
	log      *logging.Logger
	now      func() time.Time
}

// Option configures a Controller.
type Option func(*Controller)

func WithLogger(l *logging.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.log = l
		}
	}
}

// WithStore sets the trend store digests are read from. Without one every
// digest is empty.
func WithStore(s trend.Store) Option {
	return func(c *Controller) { c.store = s }
}

// NewController returns a controller for cfg.
func NewController(cfg Config, reviewer Reviewer, scorer oracle.Scorer, patcher oracle.Patcher, opts ...Option) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid refine config: %w", err)
	}
	if reviewer == nil || scorer == nil || patcher == nil {
		return nil, errors.New("reviewer, scorer and patcher are required")
	}
	c := &Controller{
		cfg:      cfg,
		reviewer: reviewer,
		scorer:   scorer,
		patcher:  patcher,
		log:      logging.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.Named("refine")
	return c, nil
}

// scored is a state whose report has a successful evaluation.
type scored struct {
	report     model.CombinedReport
	code       string
	evaluation model.EvaluationRecord
	iteration  int
}

// Run executes the loop. Oracle and re-review failures finalize with the
// last fully scored state. A cancelled ctx returns ctx.Err() and no outcome.
// An error is returned without an outcome only when the first review fails.
func (c *Controller) Run(ctx context.Context, in Input) (*Outcome, error) {
	ctx = logging.WithFileIdentity(ctx, in.Identity.String())
	sess := &Session{Identity: in.Identity, Code: in.Code}
	emit := in.Observer
	if emit == nil {
		emit = func(Event) {}
	}

	emit(Event{State: StateReviewing, Iteration: 0, Time: c.now()})
	rep, err := c.reviewer.Review(ctx, sess.Code)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("reviewing %s: %w", in.FileName, err)
	}

	// first is the initial report, returned when nothing was ever scored.
	first := rep
	var last *scored

	abort := func(stage string, err error) (*Outcome, error) {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		reason := fmt.Sprintf("%s failed: %v", stage, err)
		c.log.Warn(ctx, "aborting refinement loop",
			zap.String("stage", stage),
			zap.Int("iteration", sess.Iteration),
			zap.Error(err),
		)
		out := &Outcome{Report: first, Code: in.Code, History: sess.History, Aborted: true, AbortReason: reason}
		if last != nil {
			ev := last.evaluation
			out.Report, out.Code, out.Evaluation, out.Iterations = last.report, last.code, &ev, last.iteration
		}
		return c.finalize(ctx, out, emit), nil
	}

	for {
		emit(Event{State: StateScoring, Iteration: sess.Iteration, Time: c.now(), Report: &rep})

		reportJSON, err := report.JSON(rep)
		if err != nil {
			return abort("scoring", err)
		}
		eval, err := c.scorer.Score(ctx, oracle.ScoreRequest{
			Report:       rep,
			ReportJSON:   reportJSON,
			FileIdentity: in.Identity.String(),
			TrendDigest:  c.digest(ctx, in.Identity),
			Threshold:    c.cfg.Threshold,
		})
		if err != nil {
			return abort("scoring", err)
		}
		sess.History = append(sess.History, eval)
		last = &scored{report: rep, code: sess.Code, evaluation: eval, iteration: sess.Iteration}

		c.log.Debug(ctx, "scored",
			zap.Int("iteration", sess.Iteration),
			zap.Float64("overall_score", eval.OverallScore),
			zap.Bool("should_retry", eval.ShouldRetry),
		)

		if !eval.ShouldRetry || sess.Iteration >= c.cfg.MaxRetries {
			return c.finalize(ctx, &Outcome{
				Report:     rep,
				Evaluation: &eval,
				Code:       sess.Code,
				Iterations: sess.Iteration,
				History:    sess.History,
			}, emit), nil
		}

		emit(Event{State: StatePatching, Iteration: sess.Iteration, Time: c.now(), Evaluation: &eval})
		patch, err := c.patcher.Patch(ctx, oracle.PatchRequest{
			FileName:     in.FileName,
			OriginalCode: sess.Code,
			Instructions: eval.Instructions,
		})
		if err != nil {
			return abort("patching", err)
		}
		sess.Code = patch.UpdatedCode
		sess.Iteration++

		emit(Event{State: StateReviewing, Iteration: sess.Iteration, Time: c.now()})
		rep, err = c.reviewer.Review(ctx, sess.Code)
		if err != nil {
			return abort("reviewing patched code", err)
		}
	}
}

func (c *Controller) finalize(ctx context.Context, out *Outcome, emit Observer) *Outcome {
	metrics.RefineIterations.Observe(float64(out.Iterations))
	fields := []zap.Field{
		zap.Int("iterations", out.Iterations),
		zap.Bool("aborted", out.Aborted),
	}
	if out.Evaluation != nil {
		fields = append(fields, zap.Float64("overall_score", out.Evaluation.OverallScore))
	}
	c.log.Info(ctx, "refinement finalized", fields...)

	rep := out.Report
	emit(Event{
		State:      StateFinalized,
		Iteration:  out.Iterations,
		Time:       c.now(),
		Report:     &rep,
		Evaluation: out.Evaluation,
		Aborted:    out.Aborted,
		Reason:     out.AbortReason,
	})
	return out
}

// digest loads the trend preview. Failures are logged and yield "".
func (c *Controller) digest(ctx context.Context, id trend.Identity) string {
	if c.store == nil {
		return ""
	}
	d, err := trend.LoadDigest(ctx, c.store, id, c.cfg.DigestBytes)
	if err != nil {
		if ctx.Err() == nil {
			c.log.Warn(ctx, "loading trend digest failed, continuing without history", zap.Error(err))
		}
		return ""
	}
	return d
}
