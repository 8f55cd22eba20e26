package report

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sprite-ai/revloop/internal/model"
)

func sampleResults() []model.AnalyzerResult {
	return []model.AnalyzerResult{
		{Category: model.CategorySecurity, Findings: []model.Finding{
			{Category: model.CategorySecurity, Line: 4, Code: "B001", Message: "eval() usage"},
			{Category: model.CategorySecurity, Line: 2, Code: "B004", Message: "Hardcoded credential"},
		}},
		{Category: model.CategoryStyle},
		{Category: model.CategoryPerformance, Error: &model.ErrorInfo{Kind: model.ErrorKindTimeout, Message: "deadline exceeded"}},
	}
}

func TestCombine(t *testing.T) {
	rep := Combine("app.py", sampleResults())

	require.Len(t, rep.Results, 4)
	assert.Equal(t, "app.py", rep.File)

	// Finding order is preserved as reported.
	sec := rep.Results[model.CategorySecurity]
	assert.Equal(t, "B001", sec.Findings[0].Code)
	assert.Equal(t, "B004", sec.Findings[1].Code)
	assert.Equal(t, "app.py", sec.File)

	missing := rep.Results[model.CategoryCorrectness]
	require.NotNil(t, missing.Error)
	assert.Equal(t, model.ErrorKindMissing, missing.Error.Kind)
	assert.Empty(t, missing.Findings)

	assert.True(t, rep.Results[model.CategoryPerformance].Failed())
}

func TestCombineEmptyAndDuplicates(t *testing.T) {
	rep := Combine("x.py", nil)
	require.Len(t, rep.Results, 4)
	for _, c := range model.AllCategories() {
		assert.True(t, rep.Results[c].Failed(), c)
	}

	rep = Combine("x.py", []model.AnalyzerResult{
		{Category: model.CategoryStyle, Findings: []model.Finding{{Message: "first"}}},
		{Category: model.CategoryStyle, Findings: []model.Finding{{Message: "second"}}},
		{Category: "docs"},
	})
	assert.Equal(t, "first", rep.Results[model.CategoryStyle].Findings[0].Message)
	assert.Len(t, rep.Results, 4)
}

func TestCombineDropsFindingsOnFailure(t *testing.T) {
	rep := Combine("x.py", []model.AnalyzerResult{{
		Category: model.CategoryStyle,
		Findings: []model.Finding{{Message: "partial"}},
		Error:    &model.ErrorInfo{Kind: model.ErrorKindPanic, Message: "boom"},
	}})
	assert.Empty(t, rep.Results[model.CategoryStyle].Findings)
}

func TestJSON(t *testing.T) {
	raw, err := JSON(Combine("app.py", sampleResults()))
	require.NoError(t, err)

	// Sections appear in fixed category order.
	order := []string{`"style"`, `"correctness"`, `"security"`, `"performance"`}
	last := -1
	for _, key := range order {
		idx := strings.Index(raw, key)
		require.Greater(t, idx, last, key)
		last = idx
	}

	var decoded map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(raw), &decoded))
	assert.JSONEq(t, `{"issue_count":0,"issues":[]}`, string(decoded["style"]))
	assert.Contains(t, string(decoded["performance"]), `"kind":"timeout"`)
	assert.Contains(t, string(decoded["security"]), `"issue_count":2`)
}

func TestMarkdown(t *testing.T) {
	md := Markdown(Combine("app.py", sampleResults()))

	want := "# Code Review Report\n" +
		"File: app.py\n" +
		"\n## Style Issues\n" +
		"No issues found.\n" +
		"\n## Correctness Issues\n" +
		"_Analyzer missing: no analyzer result_\n" +
		"\n## Security Issues\n" +
		"- Line 4: `B001` eval() usage\n" +
		"- Line 2: `B004` Hardcoded credential\n" +
		"\n## Performance Issues\n" +
		"_Analyzer timeout: deadline exceeded_\n"
	assert.Equal(t, want, md)
}
