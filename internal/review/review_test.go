package review

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sprite-ai/revloop/internal/analysis"
	"github.com/sprite-ai/revloop/internal/model"
	"github.com/sprite-ai/revloop/internal/oracle"
	"github.com/sprite-ai/revloop/internal/refine"
	"github.com/sprite-ai/revloop/internal/trace"
	"github.com/sprite-ai/revloop/internal/trend"
)

// markerAnalyzer reports one finding per line containing marker.
type markerAnalyzer struct {
	category model.Category
	marker   string
	err      error
}

func (m markerAnalyzer) Category() model.Category { return m.category }

func (m markerAnalyzer) Analyze(ctx context.Context, snap *analysis.Snapshot) ([]model.Finding, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []model.Finding
	for i, line := range snap.Lines() {
		if m.marker != "" && strings.Contains(line, m.marker) {
			out = append(out, model.Finding{Category: m.category, Line: i + 1, Message: m.marker})
		}
	}
	return out, nil
}

func markerAnalyzers() []analysis.Analyzer {
	return []analysis.Analyzer{
		markerAnalyzer{category: model.CategoryStyle, marker: "STYLE"},
		markerAnalyzer{category: model.CategoryCorrectness, marker: "BUG"},
		markerAnalyzer{category: model.CategorySecurity, marker: "VULN"},
		markerAnalyzer{category: model.CategoryPerformance, marker: "SLOW"},
	}
}

type scoreFunc func(ctx context.Context, req oracle.ScoreRequest) (model.EvaluationRecord, error)

func (f scoreFunc) Score(ctx context.Context, req oracle.ScoreRequest) (model.EvaluationRecord, error) {
	return f(ctx, req)
}

type patchFunc func(ctx context.Context, req oracle.PatchRequest) (oracle.Patch, error)

func (f patchFunc) Patch(ctx context.Context, req oracle.PatchRequest) (oracle.Patch, error) {
	return f(ctx, req)
}

func evaluation(overall int, retry bool) model.EvaluationRecord {
	return model.EvaluationRecord{
		Scores: model.Scores{
			model.CategoryStyle:       overall,
			model.CategoryCorrectness: overall,
			model.CategorySecurity:    overall,
			model.CategoryPerformance: overall,
		},
		OverallScore: float64(overall),
		ShouldRetry:  retry,
		Instructions: "fix trailing whitespace",
	}
}

// sequence returns the records in order and repeats the last one.
func sequence(recs ...model.EvaluationRecord) (oracle.Scorer, *[]oracle.ScoreRequest) {
	var mu sync.Mutex
	var reqs []oracle.ScoreRequest
	return scoreFunc(func(_ context.Context, req oracle.ScoreRequest) (model.EvaluationRecord, error) {
		mu.Lock()
		defer mu.Unlock()
		reqs = append(reqs, req)
		return recs[min(len(reqs), len(recs))-1], nil
	}), &reqs
}

func stripMarkers() oracle.Patcher {
	return patchFunc(func(_ context.Context, req oracle.PatchRequest) (oracle.Patch, error) {
		code := req.OriginalCode
		for _, m := range []string{" STYLE", " BUG", " VULN", " SLOW"} {
			code = strings.ReplaceAll(code, m, "")
		}
		return oracle.Patch{UpdatedCode: code, Description: "stripped"}, nil
	})
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newOrchestrator(t *testing.T, deps Deps) *Orchestrator {
	t.Helper()
	if deps.Analyzers == nil {
		deps.Analyzers = markerAnalyzers()
	}
	if deps.Patcher == nil {
		deps.Patcher = stripMarkers()
	}
	if deps.Store == nil {
		deps.Store = trend.NewMemoryStore()
	}
	cfg := DefaultConfig()
	cfg.WorkDir = t.TempDir()
	o, err := New(deps, cfg)
	require.NoError(t, err)
	return o
}

func TestReviewSingleRepair(t *testing.T) {
	const src = "a = 1 STYLE\nb = 2 STYLE\nfor x in y: SLOW\n"
	path := writeFile(t, "app.py", src)
	scorer, reqs := sequence(evaluation(5, true), evaluation(9, false))
	store := trend.NewMemoryStore()
	o := newOrchestrator(t, Deps{Scorer: scorer, Store: store})

	res, err := o.Review(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Iterations)
	assert.Equal(t, "a = 1\nb = 2\nfor x in y:\n", res.FinalCode)
	assert.Equal(t, src, res.OriginalCode)
	assert.True(t, res.Changed())
	assert.Zero(t, res.Report.TotalFindings())
	assert.True(t, res.Passed(7))
	assert.Empty(t, res.Warnings)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, "app.py", res.File)

	require.Len(t, *reqs, 2)
	first := (*reqs)[0].Report
	assert.Len(t, first.Results[model.CategoryStyle].Findings, 2)
	assert.Len(t, first.Results[model.CategoryPerformance].Findings, 1)
	assert.Empty(t, (*reqs)[0].TrendDigest)

	entries, err := store.Load(context.Background(), res.Identity)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.InDelta(t, 9, entries[0].Evaluation.OverallScore, 1e-9)
	assert.Equal(t, res.RunID, entries[0].RunID)
	assert.Equal(t, 1, entries[0].Iterations)

	onDisk, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, src, string(onDisk), "the reviewed file is never modified")

	require.NotNil(t, res.Timeline)
	assert.Equal(t, 1, res.Timeline.Iterations())
	assert.Len(t, res.Timeline.StepsOfType(trace.StepFinalized), 1)
}

func TestReviewIdempotentCleanRuns(t *testing.T) {
	path := writeFile(t, "clean.py", "x = 1\n")
	scorer, reqs := sequence(evaluation(10, false))
	store := trend.NewMemoryStore()
	o := newOrchestrator(t, Deps{Scorer: scorer, Store: store})

	res, err := o.Review(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Iterations)
	assert.False(t, res.Changed())

	entries, _, err := o.History(context.Background(), res.Identity)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	_, err = o.Review(context.Background(), path)
	require.NoError(t, err)
	entries, digest, err := o.History(context.Background(), res.Identity)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.NotEmpty(t, digest)
	assert.NotEmpty(t, (*reqs)[1].TrendDigest, "second run sees the first run's history")
}

func TestReviewRetryCeiling(t *testing.T) {
	path := writeFile(t, "app.py", "x = 1 STYLE\n")
	scorer, _ := sequence(evaluation(3, true))
	var patches atomic.Int32
	patcher := patchFunc(func(_ context.Context, req oracle.PatchRequest) (oracle.Patch, error) {
		patches.Add(1)
		return oracle.Patch{UpdatedCode: req.OriginalCode + "# again\n"}, nil
	})
	o := newOrchestrator(t, Deps{Scorer: scorer, Patcher: patcher})

	res, err := o.Review(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Iterations)
	assert.EqualValues(t, 3, patches.Load())
	assert.False(t, res.Passed(7))
	assert.False(t, res.Aborted)
}

func TestReviewAnalyzerFailureKeepsFourCategories(t *testing.T) {
	path := writeFile(t, "app.py", "x = 1\n")
	analyzers := markerAnalyzers()
	analyzers[2] = markerAnalyzer{category: model.CategorySecurity, err: errors.New("bandit crashed")}
	scorer, _ := sequence(evaluation(8, false))
	o := newOrchestrator(t, Deps{Analyzers: analyzers[:3], Scorer: scorer})

	res, err := o.Review(context.Background(), path)
	require.NoError(t, err)
	assert.Len(t, res.Report.Results, 4)
	assert.Equal(t, model.ErrorKindFailed, res.Report.Results[model.CategorySecurity].Error.Kind)
	assert.Equal(t, model.ErrorKindMissing, res.Report.Results[model.CategoryPerformance].Error.Kind)
}

func TestReviewNoEvaluation(t *testing.T) {
	path := writeFile(t, "app.py", "x = 1 STYLE\n")
	scorer := scoreFunc(func(context.Context, oracle.ScoreRequest) (model.EvaluationRecord, error) {
		return model.EvaluationRecord{}, fmt.Errorf("%w: connection refused", oracle.ErrUnavailable)
	})
	store := trend.NewMemoryStore()
	o := newOrchestrator(t, Deps{Scorer: scorer, Store: store})

	res, err := o.Review(context.Background(), path)
	require.ErrorIs(t, err, ErrNoEvaluation)
	require.NotNil(t, res)
	assert.True(t, res.Aborted)
	assert.Nil(t, res.Evaluation)
	assert.Equal(t, 1, res.Report.TotalFindings())
	assert.Equal(t, res.OriginalCode, res.FinalCode)

	entries, err := store.Load(context.Background(), res.Identity)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestReviewCancelledDoesNotPersist(t *testing.T) {
	path := writeFile(t, "app.py", "x = 1 STYLE\n")
	ctx, cancel := context.WithCancel(context.Background())
	scorer := scoreFunc(func(ctx context.Context, _ oracle.ScoreRequest) (model.EvaluationRecord, error) {
		cancel()
		<-ctx.Done()
		return model.EvaluationRecord{}, ctx.Err()
	})
	store := trend.NewMemoryStore()
	o := newOrchestrator(t, Deps{Scorer: scorer, Store: store})

	res, err := o.Review(ctx, path)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, context.Canceled)

	id, err := trend.IdentityFor(path)
	require.NoError(t, err)
	entries, err := store.Load(context.Background(), id)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

type brokenStore struct{ *trend.MemoryStore }

func (brokenStore) Append(context.Context, trend.Identity, trend.Entry) error {
	return errors.New("disk full")
}

func TestReviewPersistFailureIsWarning(t *testing.T) {
	path := writeFile(t, "app.py", "x = 1\n")
	scorer, _ := sequence(evaluation(9, false))
	o := newOrchestrator(t, Deps{Scorer: scorer, Store: brokenStore{trend.NewMemoryStore()}})

	res, err := o.Review(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "disk full")
	assert.True(t, res.Passed(7))
}

func TestReviewContent(t *testing.T) {
	scorer, _ := sequence(evaluation(8, false))
	o := newOrchestrator(t, Deps{Scorer: scorer})

	var states []refine.State
	res, err := o.ReviewContent(context.Background(), "../../uploads/app.py", []byte("x = 1 VULN\n"),
		WithRunID("run-42"),
		WithIdentity("upload-app.py"),
		WithObserver(func(ev refine.Event) { states = append(states, ev.State) }),
	)
	require.NoError(t, err)
	assert.Equal(t, "app.py", res.File)
	assert.Equal(t, "run-42", res.RunID)
	assert.Equal(t, trend.Identity("upload-app.py"), res.Identity)
	assert.Len(t, res.Report.Results[model.CategorySecurity].Findings, 1)
	assert.Equal(t, []refine.State{refine.StateReviewing, refine.StateScoring, refine.StateFinalized}, states)

	_, err = o.ReviewContent(context.Background(), "..", []byte("x"))
	assert.Error(t, err)
	_, err = o.ReviewContent(context.Background(), "a.py", []byte("x"), WithIdentity("../bad"))
	assert.ErrorIs(t, err, trend.ErrInvalidIdentity)
}

func TestReviewRemovesWorkspace(t *testing.T) {
	scorer, _ := sequence(evaluation(9, false))
	o := newOrchestrator(t, Deps{Scorer: scorer})

	_, err := o.ReviewContent(context.Background(), "app.py", []byte("x = 1\n"))
	require.NoError(t, err)
	_, err = o.AnalyzeContent(context.Background(), "app.py", []byte("x = 1\n"))
	require.NoError(t, err)

	left, err := os.ReadDir(o.Config().WorkDir)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestReviewConcurrentFiles(t *testing.T) {
	scorer, _ := sequence(evaluation(5, true), evaluation(9, false))
	store := trend.NewMemoryStore()
	o := newOrchestrator(t, Deps{Scorer: scorer, Store: store})

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			name := fmt.Sprintf("file%d.py", i)
			_, errs[i] = o.ReviewContent(context.Background(), name, []byte("x = 1 STYLE\n"))
		}()
	}
	wg.Wait()
	for _, err := range errs {
		assert.NoError(t, err)
	}
}

func TestAnalyze(t *testing.T) {
	path := writeFile(t, "app.py", "a BUG\nb SLOW\n")
	scorer, reqs := sequence(evaluation(9, false))
	o := newOrchestrator(t, Deps{Scorer: scorer})

	rep, err := o.Analyze(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "app.py", rep.File)
	assert.Equal(t, 2, rep.TotalFindings())
	assert.Empty(t, *reqs, "analyze never scores")

	_, err = o.Analyze(context.Background(), filepath.Dir(path))
	assert.ErrorContains(t, err, "not a regular file")
}

func TestNewValidation(t *testing.T) {
	scorer, _ := sequence(evaluation(9, false))
	_, err := New(Deps{Analyzers: markerAnalyzers(), Scorer: scorer, Patcher: stripMarkers()}, DefaultConfig())
	assert.ErrorContains(t, err, "trend store")

	cfg := DefaultConfig()
	cfg.Threshold = 0
	_, err = New(Deps{Analyzers: markerAnalyzers(), Scorer: scorer, Patcher: stripMarkers(), Store: trend.NewMemoryStore()}, cfg)
	assert.ErrorContains(t, err, "threshold")

	dup := append(markerAnalyzers(), markerAnalyzer{category: model.CategoryStyle})
	_, err = New(Deps{Analyzers: dup, Scorer: scorer, Patcher: stripMarkers(), Store: trend.NewMemoryStore()}, DefaultConfig())
	assert.ErrorContains(t, err, "duplicate")
}
