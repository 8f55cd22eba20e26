package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/sprite-ai/revloop/internal/analysis"
	"github.com/sprite-ai/revloop/internal/logging"
	"github.com/sprite-ai/revloop/internal/model"
)

type fakeAnalyzer struct {
	category model.Category
	analyze  func(ctx context.Context, snap *analysis.Snapshot) ([]model.Finding, error)
}

func (f *fakeAnalyzer) Category() model.Category { return f.category }

func (f *fakeAnalyzer) Analyze(ctx context.Context, snap *analysis.Snapshot) ([]model.Finding, error) {
	return f.analyze(ctx, snap)
}

func returning(c model.Category, findings ...model.Finding) *fakeAnalyzer {
	return &fakeAnalyzer{category: c, analyze: func(context.Context, *analysis.Snapshot) ([]model.Finding, error) {
		return findings, nil
	}}
}

func snap() *analysis.Snapshot {
	return analysis.NewSnapshot("/work/app.py", []byte("x = 1\n"))
}

func TestNewRejectsBadSets(t *testing.T) {
	_, err := New([]analysis.Analyzer{returning(model.CategoryStyle), returning(model.CategoryStyle)})
	assert.ErrorContains(t, err, "duplicate")

	_, err = New([]analysis.Analyzer{returning("docs")})
	assert.ErrorContains(t, err, "unknown category")

	_, err = New([]analysis.Analyzer{nil})
	assert.Error(t, err)
}

func TestRunMergesAllCategories(t *testing.T) {
	s, err := New([]analysis.Analyzer{
		returning(model.CategoryStyle, model.Finding{Category: model.CategoryStyle, Message: "a"}),
		returning(model.CategoryCorrectness),
		returning(model.CategorySecurity, model.Finding{Category: model.CategorySecurity, Message: "b"}),
		returning(model.CategoryPerformance),
	})
	require.NoError(t, err)

	rep, err := s.Run(context.Background(), snap())
	require.NoError(t, err)
	assert.Equal(t, "app.py", rep.File)
	require.Len(t, rep.Results, 4)
	assert.Equal(t, 2, rep.TotalFindings())
	assert.Empty(t, rep.FailedCategories())
	assert.NotNil(t, rep.Results[model.CategoryCorrectness].Findings)
}

func TestRunRunsAnalyzersConcurrently(t *testing.T) {
	var running, peak atomic.Int32
	slow := func(c model.Category) *fakeAnalyzer {
		return &fakeAnalyzer{category: c, analyze: func(ctx context.Context, _ *analysis.Snapshot) ([]model.Finding, error) {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(50 * time.Millisecond)
			running.Add(-1)
			return nil, nil
		}}
	}
	var as []analysis.Analyzer
	for _, c := range model.AllCategories() {
		as = append(as, slow(c))
	}
	s, err := New(as)
	require.NoError(t, err)

	_, err = s.Run(context.Background(), snap())
	require.NoError(t, err)
	assert.Greater(t, peak.Load(), int32(1))
}

func TestRunIsolatesFailures(t *testing.T) {
	logger := logging.NewTestLogger()
	s, err := New([]analysis.Analyzer{
		returning(model.CategoryStyle, model.Finding{Message: "ok"}),
		&fakeAnalyzer{category: model.CategoryCorrectness, analyze: func(context.Context, *analysis.Snapshot) ([]model.Finding, error) {
			return []model.Finding{{Message: "partial"}}, errors.New("linter crashed")
		}},
		&fakeAnalyzer{category: model.CategorySecurity, analyze: func(context.Context, *analysis.Snapshot) ([]model.Finding, error) {
			panic("index out of range")
		}},
		&fakeAnalyzer{category: model.CategoryPerformance, analyze: func(ctx context.Context, _ *analysis.Snapshot) ([]model.Finding, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}},
	}, WithAnalyzerTimeout(30*time.Millisecond), WithLogger(logger.Logger))
	require.NoError(t, err)

	rep, err := s.Run(context.Background(), snap())
	require.NoError(t, err)

	assert.Len(t, rep.Results[model.CategoryStyle].Findings, 1)

	corr := rep.Results[model.CategoryCorrectness]
	require.NotNil(t, corr.Error)
	assert.Equal(t, model.ErrorKindFailed, corr.Error.Kind)
	assert.Empty(t, corr.Findings)

	sec := rep.Results[model.CategorySecurity]
	require.NotNil(t, sec.Error)
	assert.Equal(t, model.ErrorKindPanic, sec.Error.Kind)
	assert.Equal(t, "index out of range", sec.Error.Message)

	perf := rep.Results[model.CategoryPerformance]
	require.NotNil(t, perf.Error)
	assert.Equal(t, model.ErrorKindTimeout, perf.Error.Kind)

	logger.AssertLogged(t, zapcore.ErrorLevel, "analyzer panicked")
	logger.AssertLogged(t, zapcore.WarnLevel, "analyzer failed")
}

func TestRunAbandonsAnalyzerIgnoringContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	s, err := New([]analysis.Analyzer{
		&fakeAnalyzer{category: model.CategoryStyle, analyze: func(context.Context, *analysis.Snapshot) ([]model.Finding, error) {
			<-release
			return nil, nil
		}},
	}, WithAnalyzerTimeout(20*time.Millisecond))
	require.NoError(t, err)

	start := time.Now()
	rep, err := s.Run(context.Background(), snap())
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, model.ErrorKindTimeout, rep.Results[model.CategoryStyle].Error.Kind)
	// Unconfigured categories are marked missing.
	assert.Equal(t, model.ErrorKindMissing, rep.Results[model.CategorySecurity].Error.Kind)
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s, err := New([]analysis.Analyzer{
		&fakeAnalyzer{category: model.CategoryStyle, analyze: func(ctx context.Context, _ *analysis.Snapshot) ([]model.Finding, error) {
			cancel()
			<-ctx.Done()
			return nil, ctx.Err()
		}},
	})
	require.NoError(t, err)

	rep, err := s.Run(ctx, snap())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, rep.Results)
}

func TestRunWithBuiltinAnalyzers(t *testing.T) {
	s, err := New(analysis.Default(analysis.DefaultOptions()))
	require.NoError(t, err)

	content := "password = 'x'\nfor i in range(len(a)):\n    out.append(i)\n"
	rep, err := s.Run(context.Background(), analysis.NewSnapshot("/tmp/app.py", []byte(content)))
	require.NoError(t, err)
	assert.Len(t, rep.Results[model.CategorySecurity].Findings, 1)
	assert.Len(t, rep.Results[model.CategoryPerformance].Findings, 2)
}
