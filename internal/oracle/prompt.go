package oracle

import (
	"fmt"
	"strings"
)

const scoreSystemPrompt = `You are a code review evaluator.

You receive a JSON report with style, correctness, security and performance
findings for one file, the file identity, the passing threshold and a preview
of past evaluations of the same file.

Score each category from 1 (poor) to 10 (excellent). Set should_retry to true
when the average of the four scores is below the threshold. When should_retry
is true, write concise, actionable improvement_instructions for the author.
Describe any improvement or regression against the past evaluations in trend.

Reply with a single JSON object and nothing else:
{"scores":{"style":0,"correctness":0,"security":0,"performance":0},
 "overall_score":0.0,"should_retry":false,
 "improvement_instructions":"","comments":"","trend":""}`

const patchSystemPrompt = `You are a careful software engineer.

You receive a source file and improvement instructions from a code review.
Apply the instructions with the smallest change that satisfies them and keep
the behavior of the program intact. Return the complete updated file.

Reply with a single JSON object and nothing else:
{"updated_code":"<complete file>","description":"<one paragraph>"}`

func scoreUserPrompt(req ScoreRequest) string {
	trend := req.TrendDigest
	if trend == "" {
		trend = "(no previous evaluations)"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "file: %s\n", req.FileIdentity)
	fmt.Fprintf(&b, "threshold: %g\n", req.Threshold)
	fmt.Fprintf(&b, "report:\n%s\n", req.ReportJSON)
	fmt.Fprintf(&b, "trend:\n%s\n", trend)
	return b.String()
}

func patchUserPrompt(req PatchRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "file: %s\n", req.FileName)
	fmt.Fprintf(&b, "instructions:\n%s\n", req.Instructions)
	fmt.Fprintf(&b, "code:\n```\n%s\n```\n", req.OriginalCode)
	return b.String()
}
