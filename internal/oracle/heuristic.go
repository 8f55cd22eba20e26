package oracle

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sprite-ai/revloop/internal/model"
)

const maxInstructions = 10

// Heuristic is an offline oracle. It scores categories from finding counts
// and patches code with mechanical fixes.
type Heuristic struct {
	now func() time.Time
}

// NewHeuristic returns the rule-based oracle.
func NewHeuristic() *Heuristic {
	return &Heuristic{now: time.Now}
}

func (h *Heuristic) Name() string { return ProviderHeuristic }

var severityPenalty = map[model.Severity]float64{
	model.SeverityInfo:    0.5,
	model.SeverityWarning: 1.5,
	model.SeverityError:   3,
}

// Score grades each category as 10 minus a severity-weighted penalty.
// Failed analyzers get a neutral 5.
func (h *Heuristic) Score(ctx context.Context, req ScoreRequest) (model.EvaluationRecord, error) {
	if err := ctx.Err(); err != nil {
		return model.EvaluationRecord{}, err
	}

	scores := make(model.Scores, 4)
	var failed []string
	var findings []model.Finding
	for _, c := range model.AllCategories() {
		res, ok := req.Report.Results[c]
		if !ok || res.Failed() {
			scores[c] = 5
			failed = append(failed, string(c))
			continue
		}
		penalty := 0.0
		for _, f := range res.Findings {
			penalty += severityPenalty[f.Severity]
		}
		scores[c] = clampScore(10 - int(math.Round(penalty)))
		findings = append(findings, res.Findings...)
	}

	overall := scores.Mean()
	rec := model.EvaluationRecord{
		Scores:          scores,
		OverallScore:    overall,
		ShouldRetry:     overall < req.Threshold,
		Comments:        heuristicComments(req.Report, failed),
		TrendCommentary: trendCommentary(req.TrendDigest, overall),
		Timestamp:       h.now().UTC(),
	}
	if rec.ShouldRetry {
		rec.Instructions = instructions(findings)
	}
	return rec, nil
}

func clampScore(v int) int {
	switch {
	case v < 1:
		return 1
	case v > 10:
		return 10
	default:
		return v
	}
}

func heuristicComments(rep model.CombinedReport, failed []string) string {
	s := fmt.Sprintf("%d findings (%s).", rep.TotalFindings(), rep.Summary())
	if len(failed) > 0 {
		s += fmt.Sprintf(" No usable result for %s.", strings.Join(failed, ", "))
	}
	return s
}

// instructions lists the most severe findings first.
func instructions(findings []model.Finding) string {
	sorted := append([]model.Finding(nil), findings...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Severity > sorted[j].Severity
	})
	if len(sorted) > maxInstructions {
		sorted = sorted[:maxInstructions]
	}
	var b strings.Builder
	for _, f := range sorted {
		b.WriteString("- ")
		if f.Line > 0 {
			fmt.Fprintf(&b, "line %d: ", f.Line)
		}
		fmt.Fprintf(&b, "[%s] %s\n", f.Category, f.Message)
	}
	if b.Len() == 0 {
		return "Resolve the analyzer failures and review the file again."
	}
	return strings.TrimSuffix(b.String(), "\n")
}

var overallInDigest = regexp.MustCompile(`"overall_score":\s*([0-9]+(?:\.[0-9]+)?)`)

// trendCommentary compares overall against the latest score visible in the
// digest.
func trendCommentary(digest string, overall float64) string {
	matches := overallInDigest.FindAllStringSubmatch(digest, -1)
	if len(matches) == 0 {
		return "No previous evaluations."
	}
	prev, err := strconv.ParseFloat(matches[len(matches)-1][1], 64)
	if err != nil {
		return "No previous evaluations."
	}
	switch {
	case overall > prev+0.05:
		return fmt.Sprintf("Improved from %.2f to %.2f.", prev, overall)
	case overall < prev-0.05:
		return fmt.Sprintf("Regressed from %.2f to %.2f.", prev, overall)
	default:
		return fmt.Sprintf("Unchanged at %.2f.", overall)
	}
}

var (
	trailingWS = regexp.MustCompile(`[ \t]+$`)
	eqNone     = regexp.MustCompile(`==\s*None\b`)
	neNone     = regexp.MustCompile(`!=\s*None\b`)
	bareExcept = regexp.MustCompile(`^(\s*)except\s*:`)
)

// Patch applies mechanical fixes: whitespace cleanup, tab indentation,
// blank-line runs, None comparisons, bare except clauses and the final
// newline.
func (h *Heuristic) Patch(ctx context.Context, req PatchRequest) (Patch, error) {
	if err := ctx.Err(); err != nil {
		return Patch{}, err
	}

	applied := map[string]bool{}
	lines := strings.Split(strings.ReplaceAll(req.OriginalCode, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(lines))
	blank := 0
	for _, line := range lines {
		fixed := trailingWS.ReplaceAllString(line, "")
		if fixed != line {
			applied["removed trailing whitespace"] = true
		}
		if indent := leadingTabs(fixed); indent > 0 {
			fixed = strings.Repeat("    ", indent) + fixed[indent:]
			applied["replaced tab indentation"] = true
		}
		if f := eqNone.ReplaceAllString(fixed, "is None"); f != fixed {
			fixed = f
			applied["used identity comparison with None"] = true
		}
		if f := neNone.ReplaceAllString(fixed, "is not None"); f != fixed {
			fixed = f
			applied["used identity comparison with None"] = true
		}
		if f := bareExcept.ReplaceAllString(fixed, "${1}except Exception:"); f != fixed {
			fixed = f
			applied["narrowed bare except"] = true
		}

		if strings.TrimSpace(fixed) == "" {
			blank++
			if blank > 2 {
				applied["collapsed blank lines"] = true
				continue
			}
		} else {
			blank = 0
		}
		out = append(out, fixed)
	}

	code := strings.Join(out, "\n")
	if trimmed := strings.TrimRight(code, "\n"); trimmed != "" {
		if !strings.HasSuffix(req.OriginalCode, "\n") {
			applied["added final newline"] = true
		}
		code = trimmed + "\n"
	}

	desc := "No mechanical fixes applicable."
	if len(applied) > 0 {
		names := make([]string, 0, len(applied))
		for k := range applied {
			names = append(names, k)
		}
		sort.Strings(names)
		desc = "Applied: " + strings.Join(names, "; ") + "."
	}
	return Patch{UpdatedCode: code, Description: desc}, nil
}

func leadingTabs(s string) int {
	n := 0
	for n < len(s) && s[n] == '\t' {
		n++
	}
	return n
}
