// Package report merges analyzer results into a combined report and renders it.
package report

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sprite-ai/revloop/internal/model"
)

// Combine merges per-analyzer results into a report keyed by category.
// Categories without a result get a missing marker. When a category appears
// more than once the first result wins.
func Combine(file string, results []model.AnalyzerResult) model.CombinedReport {
	rep := model.CombinedReport{
		File:    file,
		Results: make(map[model.Category]model.AnalyzerResult, len(model.AllCategories())),
	}
	for _, r := range results {
		if !r.Category.Valid() {
			continue
		}
		if _, dup := rep.Results[r.Category]; dup {
			continue
		}
		if r.File == "" {
			r.File = file
		}
		if r.Failed() {
			r.Findings = nil
		}
		rep.Results[r.Category] = r
	}
	for _, c := range model.AllCategories() {
		if _, ok := rep.Results[c]; !ok {
			rep.Results[c] = model.AnalyzerResult{
				Category: c,
				File:     file,
				Error: &model.ErrorInfo{
					Kind:    model.ErrorKindMissing,
					Message: "no analyzer result",
				},
			}
		}
	}
	return rep
}

type wireSection struct {
	IssueCount int              `json:"issue_count"`
	Issues     []model.Finding  `json:"issues"`
	Error      *model.ErrorInfo `json:"error,omitempty"`
}

type wireReport struct {
	File        string      `json:"file"`
	Style       wireSection `json:"style"`
	Correctness wireSection `json:"correctness"`
	Security    wireSection `json:"security"`
	Performance wireSection `json:"performance"`
}

func section(r model.AnalyzerResult) wireSection {
	issues := r.Findings
	if issues == nil {
		issues = []model.Finding{}
	}
	return wireSection{IssueCount: len(issues), Issues: issues, Error: r.Error}
}

// JSON renders the report in the fixed-order form sent to the scoring oracle.
func JSON(rep model.CombinedReport) (string, error) {
	w := wireReport{
		File:        rep.File,
		Style:       section(rep.Results[model.CategoryStyle]),
		Correctness: section(rep.Results[model.CategoryCorrectness]),
		Security:    section(rep.Results[model.CategorySecurity]),
		Performance: section(rep.Results[model.CategoryPerformance]),
	}
	raw, err := json.Marshal(w)
	if err != nil {
		return "", fmt.Errorf("encoding report: %w", err)
	}
	return string(raw), nil
}

// Markdown renders the human-readable review report.
func Markdown(rep model.CombinedReport) string {
	var b strings.Builder
	b.WriteString("# Code Review Report\n")
	fmt.Fprintf(&b, "File: %s\n", rep.File)

	for _, c := range model.AllCategories() {
		fmt.Fprintf(&b, "\n## %s Issues\n", c.Title())
		res, ok := rep.Results[c]
		switch {
		case !ok:
			b.WriteString("_Analyzer missing._\n")
		case res.Failed():
			fmt.Fprintf(&b, "_Analyzer %s: %s_\n", res.Error.Kind, res.Error.Message)
		case len(res.Findings) == 0:
			b.WriteString("No issues found.\n")
		default:
			for _, f := range res.Findings {
				b.WriteString("- ")
				if f.Line > 0 {
					fmt.Fprintf(&b, "Line %d: ", f.Line)
				}
				if f.Code != "" {
					fmt.Fprintf(&b, "`%s` ", f.Code)
				}
				b.WriteString(f.Message)
				b.WriteString("\n")
			}
		}
	}
	return b.String()
}
