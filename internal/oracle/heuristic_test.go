package oracle

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sprite-ai/revloop/internal/model"
	"github.com/sprite-ai/revloop/internal/report"
)

func findingsOf(c model.Category, sev model.Severity, n int) []model.Finding {
	out := make([]model.Finding, n)
	for i := range out {
		out[i] = model.Finding{Category: c, Line: i + 1, Code: "X", Message: "issue", Severity: sev}
	}
	return out
}

func TestHeuristicScoreClean(t *testing.T) {
	rep := report.Combine("app.py", []model.AnalyzerResult{
		{Category: model.CategoryStyle},
		{Category: model.CategoryCorrectness},
		{Category: model.CategorySecurity},
		{Category: model.CategoryPerformance},
	})

	rec, err := NewHeuristic().Score(context.Background(), ScoreRequest{Report: rep, Threshold: 7})
	require.NoError(t, err)
	require.NoError(t, rec.Scores.Validate())
	assert.InDelta(t, 10, rec.OverallScore, 1e-9)
	assert.False(t, rec.ShouldRetry)
	assert.Empty(t, rec.Instructions)
	assert.Equal(t, "No previous evaluations.", rec.TrendCommentary)
}

func TestHeuristicScoreBelowThreshold(t *testing.T) {
	rep := report.Combine("app.py", []model.AnalyzerResult{
		{Category: model.CategoryStyle},
		{Category: model.CategoryCorrectness, Findings: findingsOf(model.CategoryCorrectness, model.SeverityError, 2)},
		{Category: model.CategorySecurity, Findings: findingsOf(model.CategorySecurity, model.SeverityError, 3)},
		{Category: model.CategoryPerformance},
	})

	rec, err := NewHeuristic().Score(context.Background(), ScoreRequest{Report: rep, Threshold: 7})
	require.NoError(t, err)
	assert.Equal(t, 4, rec.Scores[model.CategoryCorrectness])
	assert.Equal(t, 1, rec.Scores[model.CategorySecurity])
	assert.InDelta(t, 6.25, rec.OverallScore, 1e-9)
	assert.True(t, rec.ShouldRetry)

	lines := strings.Split(rec.Instructions, "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, "- line 1: [correctness] issue", lines[0])
}

func TestHeuristicScoreFailedAnalyzer(t *testing.T) {
	rep := report.Combine("app.py", []model.AnalyzerResult{
		{Category: model.CategoryStyle},
		{Category: model.CategoryCorrectness},
		{Category: model.CategoryPerformance},
	})

	rec, err := NewHeuristic().Score(context.Background(), ScoreRequest{Report: rep, Threshold: 9})
	require.NoError(t, err)
	assert.Equal(t, 5, rec.Scores[model.CategorySecurity])
	assert.True(t, rec.ShouldRetry)
	assert.Contains(t, rec.Comments, "No usable result for security")
}

func TestHeuristicTrendCommentary(t *testing.T) {
	digest := `[{"evaluation":{"overall_score":5.5}},{"evaluation":{"overall_score":6}}]`
	assert.Equal(t, "Improved from 6.00 to 8.00.", trendCommentary(digest, 8))
	assert.Equal(t, "Regressed from 6.00 to 4.50.", trendCommentary(digest, 4.5))
	assert.Equal(t, "Unchanged at 6.00.", trendCommentary(digest, 6))
	assert.Equal(t, "No previous evaluations.", trendCommentary("", 6))
}

func TestHeuristicPatch(t *testing.T) {
	src := "def f(x):\n\tif x == None:  \n\t\treturn 1\n\n\n\n\ntry:\n    pass\nexcept:\n    pass"
	want := "def f(x):\n    if x is None:\n        return 1\n\n\ntry:\n    pass\nexcept Exception:\n    pass\n"

	p, err := NewHeuristic().Patch(context.Background(), PatchRequest{FileName: "app.py", OriginalCode: src})
	require.NoError(t, err)
	assert.Equal(t, want, p.UpdatedCode)
	for _, fix := range []string{
		"added final newline",
		"collapsed blank lines",
		"narrowed bare except",
		"removed trailing whitespace",
		"replaced tab indentation",
		"used identity comparison with None",
	} {
		assert.Contains(t, p.Description, fix)
	}
}

func TestHeuristicPatchNoop(t *testing.T) {
	p, err := NewHeuristic().Patch(context.Background(), PatchRequest{OriginalCode: "x = 1\n"})
	require.NoError(t, err)
	assert.Equal(t, "x = 1\n", p.UpdatedCode)
	assert.Equal(t, "No mechanical fixes applicable.", p.Description)
}

func TestHeuristicCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewHeuristic().Score(ctx, ScoreRequest{})
	assert.ErrorIs(t, err, context.Canceled)
	_, err = NewHeuristic().Patch(ctx, PatchRequest{})
	assert.ErrorIs(t, err, context.Canceled)
}
