// Package review composes the analyzers, the refinement loop and the trend
// store into a single-file review run.
package review

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sprite-ai/revloop/internal/analysis"
	"github.com/sprite-ai/revloop/internal/logging"
	"github.com/sprite-ai/revloop/internal/metrics"
	"github.com/sprite-ai/revloop/internal/model"
	"github.com/sprite-ai/revloop/internal/oracle"
	"github.com/sprite-ai/revloop/internal/refine"
	"github.com/sprite-ai/revloop/internal/scheduler"
	"github.com/sprite-ai/revloop/internal/trace"
	"github.com/sprite-ai/revloop/internal/trend"
)

// ErrNoEvaluation is returned, together with a best-effort result, when no
// scoring call succeeded during a run.
var ErrNoEvaluation = errors.New("no evaluation obtained")

// MaxSourceBytes caps the size of a reviewed code body.
const MaxSourceBytes = 4 << 20

// Config is the per-orchestrator run policy.
type Config struct {
	MaxRetries      int
	Threshold       float64
	DigestBytes     int
	AnalyzerTimeout time.Duration
	// WorkDir is the parent of per-run workspaces. Empty uses os.TempDir.
	WorkDir string
}

// DefaultConfig returns 3 retries, threshold 7, a 500 byte digest and a 30s
// analyzer timeout.
func DefaultConfig() Config {
	return Config{
		MaxRetries:      3,
		Threshold:       7,
		DigestBytes:     trend.DefaultDigestBytes,
		AnalyzerTimeout: scheduler.DefaultAnalyzerTimeout,
	}
}

func (c Config) refine() refine.Config {
	return refine.Config{MaxRetries: c.MaxRetries, Threshold: c.Threshold, DigestBytes: c.DigestBytes}
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Analyzers []analysis.Analyzer
	Scorer    oracle.Scorer
	Patcher   oracle.Patcher
	Store     trend.Store
	Logger    *logging.Logger
}

// Orchestrator runs reviews. It is safe for concurrent use; runs for
// different files never block each other.
type Orchestrator struct {
	cfg     Config
	sched   *scheduler.Scheduler
	scorer  oracle.Scorer
	patcher oracle.Patcher
	store   trend.Store
	log     *logging.Logger
}

func New(deps Deps, cfg Config) (*Orchestrator, error) {
	if err := cfg.refine().Validate(); err != nil {
		return nil, fmt.Errorf("invalid review config: %w", err)
	}
	if deps.Scorer == nil || deps.Patcher == nil {
		return nil, errors.New("scorer and patcher are required")
	}
	if deps.Store == nil {
		return nil, errors.New("trend store is required")
	}
	log := deps.Logger
	if log == nil {
		log = logging.Nop()
	}
	sched, err := scheduler.New(deps.Analyzers,
		scheduler.WithAnalyzerTimeout(cfg.AnalyzerTimeout),
		scheduler.WithLogger(log),
	)
	if err != nil {
		return nil, err
	}
	return &Orchestrator{
		cfg:     cfg,
		sched:   sched,
		scorer:  deps.Scorer,
		patcher: deps.Patcher,
		store:   deps.Store,
		log:     log.Named("review"),
	}, nil
}

// Config returns the run policy.
func (o *Orchestrator) Config() Config { return o.cfg }

// Result is the outcome of one review run.
type Result struct {
	RunID        string                   `json:"run_id"`
	File         string                   `json:"file"`
	Identity     trend.Identity           `json:"identity"`
	Report       model.CombinedReport     `json:"report"`
	Evaluation   *model.EvaluationRecord  `json:"evaluation,omitempty"`
	OriginalCode string                   `json:"original_code"`
	FinalCode    string                   `json:"final_code"`
	Iterations   int                      `json:"iterations"`
	History      []model.EvaluationRecord `json:"history"`
	Aborted      bool                     `json:"aborted"`
	AbortReason  string                   `json:"abort_reason,omitempty"`
	// Warnings are non-fatal problems such as a failed trend append.
	Warnings []string      `json:"warnings,omitempty"`
	Timeline *trace.Trace  `json:"-"`
	Duration time.Duration `json:"duration_ns"`
}

// Passed reports whether the final overall score reached threshold.
func (r *Result) Passed(threshold float64) bool {
	return r != nil && r.Evaluation != nil && r.Evaluation.OverallScore >= threshold
}

// Changed reports whether the final code differs from the original.
func (r *Result) Changed() bool {
	return r.FinalCode != r.OriginalCode
}

type runOptions struct {
	runID    string
	identity trend.Identity
	observer refine.Observer
}

// RunOption customizes a single run.
type RunOption func(*runOptions)

// WithRunID overrides the generated run id.
func WithRunID(id string) RunOption {
	return func(o *runOptions) { o.runID = id }
}

// WithIdentity overrides the trend identity derived from the file path.
func WithIdentity(id trend.Identity) RunOption {
	return func(o *runOptions) { o.identity = id }
}

// WithObserver receives every state transition of the run.
func WithObserver(obs refine.Observer) RunOption {
	return func(o *runOptions) { o.observer = obs }
}

// Review reviews the file at path. The file itself is never modified.
func (o *Orchestrator) Review(ctx context.Context, path string, opts ...RunOption) (*Result, error) {
	content, err := readSource(path)
	if err != nil {
		return nil, err
	}
	id, err := trend.IdentityFor(path)
	if err != nil {
		return nil, err
	}
	return o.run(ctx, filepath.Base(path), id, content, opts)
}

// ReviewContent reviews an in-memory code body named name. Unless
// WithIdentity is given, the identity is derived from name.
func (o *Orchestrator) ReviewContent(ctx context.Context, name string, content []byte, opts ...RunOption) (*Result, error) {
	base, err := cleanName(name)
	if err != nil {
		return nil, err
	}
	if len(content) > MaxSourceBytes {
		return nil, fmt.Errorf("%s: content exceeds %d bytes", base, MaxSourceBytes)
	}
	id, err := trend.IdentityFor(name)
	if err != nil {
		return nil, err
	}
	return o.run(ctx, base, id, content, opts)
}

func (o *Orchestrator) run(ctx context.Context, name string, id trend.Identity, content []byte, opts []RunOption) (res *Result, err error) {
	ro := runOptions{identity: id}
	for _, opt := range opts {
		opt(&ro)
	}
	if ro.runID == "" {
		ro.runID = uuid.NewString()
	}
	if err := ro.identity.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	ctx = logging.WithRunID(ctx, ro.runID)
	ctx = logging.WithFileIdentity(ctx, ro.identity.String())
	defer func() { o.observeRun(ctx, res, err, time.Since(start)) }()

	ws, err := newWorkspace(o.cfg.WorkDir, name, o.sched)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := ws.Close(); cerr != nil {
			o.log.Warn(ctx, "removing workspace failed", zap.String("dir", ws.dir), zap.Error(cerr))
		}
	}()

	rec := trace.NewRecorder(ro.runID, name)
	ctrl, err := refine.NewController(o.cfg.refine(), ws, o.scorer, o.patcher,
		refine.WithStore(o.store),
		refine.WithLogger(o.log),
	)
	if err != nil {
		return nil, err
	}

	o.log.Info(ctx, "review started", zap.String("file", name), zap.Int("bytes", len(content)))
	out, err := ctrl.Run(ctx, refine.Input{
		Identity: ro.identity,
		FileName: name,
		Code:     string(content),
		Observer: refine.Observers(rec.Observe, ro.observer),
	})
	if err != nil {
		return nil, err
	}

	res = &Result{
		RunID:        ro.runID,
		File:         name,
		Identity:     ro.identity,
		Report:       out.Report,
		Evaluation:   out.Evaluation,
		OriginalCode: string(content),
		FinalCode:    out.Code,
		Iterations:   out.Iterations,
		History:      out.History,
		Aborted:      out.Aborted,
		AbortReason:  out.AbortReason,
		Timeline:     rec.Trace(),
		Duration:     time.Since(start),
	}
	if res.Evaluation == nil {
		return res, fmt.Errorf("%w: %s", ErrNoEvaluation, out.AbortReason)
	}

	// A cancelled run never writes to the ledger.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entry := trend.Entry{
		Identity:   ro.identity,
		File:       name,
		RunID:      ro.runID,
		Iterations: res.Iterations,
		Evaluation: *res.Evaluation,
	}
	if err := o.store.Append(ctx, ro.identity, entry); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		o.log.Warn(ctx, "persisting trend entry failed", zap.Error(err))
		res.Warnings = append(res.Warnings, fmt.Sprintf("trend entry not saved: %v", err))
	}
	res.Duration = time.Since(start)
	return res, nil
}

func (o *Orchestrator) observeRun(ctx context.Context, res *Result, err error, d time.Duration) {
	outcome := "error"
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		outcome = "cancelled"
	case errors.Is(err, ErrNoEvaluation):
		outcome = "no_evaluation"
	case err != nil:
	case res.Aborted:
		outcome = "aborted"
	case res.Passed(o.cfg.Threshold):
		outcome = "passed"
	default:
		outcome = "below_threshold"
	}
	metrics.ReviewRuns.WithLabelValues(outcome).Inc()
	if res != nil && res.Evaluation != nil {
		metrics.ReviewScore.Observe(res.Evaluation.OverallScore)
	}

	fields := []zap.Field{zap.String("outcome", outcome), zap.Duration("duration", d)}
	if res != nil {
		fields = append(fields, zap.Int("iterations", res.Iterations))
	}
	if err != nil {
		o.log.Warn(ctx, "review finished with error", append(fields, zap.Error(err))...)
		return
	}
	o.log.Info(ctx, "review finished", fields...)
}

// Analyze runs the analyzers once on the file at path, without scoring.
func (o *Orchestrator) Analyze(ctx context.Context, path string) (model.CombinedReport, error) {
	content, err := readSource(path)
	if err != nil {
		return model.CombinedReport{}, err
	}
	return o.AnalyzeContent(ctx, filepath.Base(path), content)
}

// AnalyzeContent runs the analyzers once on an in-memory code body.
func (o *Orchestrator) AnalyzeContent(ctx context.Context, name string, content []byte) (model.CombinedReport, error) {
	base, err := cleanName(name)
	if err != nil {
		return model.CombinedReport{}, err
	}
	ws, err := newWorkspace(o.cfg.WorkDir, base, o.sched)
	if err != nil {
		return model.CombinedReport{}, err
	}
	defer ws.Close()
	return ws.Review(ctx, string(content))
}

// History returns the trend ledger for id and its digest.
func (o *Orchestrator) History(ctx context.Context, id trend.Identity) ([]trend.Entry, string, error) {
	entries, err := o.store.Load(ctx, id)
	if err != nil {
		return nil, "", err
	}
	digest, err := trend.Digest(entries, o.cfg.DigestBytes)
	if err != nil {
		return nil, "", err
	}
	return entries, digest, nil
}

func readSource(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s: not a regular file", path)
	}
	if info.Size() > MaxSourceBytes {
		return nil, fmt.Errorf("%s: file exceeds %d bytes", path, MaxSourceBytes)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return content, nil
}

func cleanName(name string) (string, error) {
	base := filepath.Base(strings.TrimSpace(name))
	if base == "" || base == "." || base == ".." || base == string(filepath.Separator) {
		return "", fmt.Errorf("invalid file name %q", name)
	}
	return base, nil
}
