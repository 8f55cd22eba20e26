package analysis

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/sprite-ai/revloop/internal/model"
)

const (
	maxBlankRun     = 2
	duplicateWindow = 4
)

var styleRules = []lineRule{
	{
		code:     "S001",
		message:  "Trailing whitespace",
		patterns: compilePatterns(`[ \t]+$`),
		severity: model.SeverityInfo,
		comments: true,
	},
	{
		code:     "S002",
		message:  "Tab used for indentation",
		patterns: compilePatterns(`^ *\t`),
		severity: model.SeverityWarning,
		comments: true,
	},
	{
		code:     "S006",
		message:  "Unresolved marker left in code",
		patterns: compilePatterns(`\b(TODO|FIXME|HACK|XXX)\b`),
		severity: model.SeverityInfo,
		comments: true,
		quote:    true,
	},
	{
		code:     "S008",
		message:  "Multiple statements on one line",
		patterns: compilePatterns(`^[^#"']*;\s*\S`),
		severity: model.SeverityInfo,
	},
}

func newStyleAnalyzer(maxLineLength int) *ruleAnalyzer {
	return &ruleAnalyzer{
		category: model.CategoryStyle,
		rules:    styleRules,
		checks: []fileCheck{
			checkLineLength(maxLineLength),
			checkFinalNewline,
			checkBlankRuns,
			checkDuplication,
		},
	}
}

func checkLineLength(limit int) fileCheck {
	return func(_ *Snapshot, lines []string) []model.Finding {
		var findings []model.Finding
		for i, line := range lines {
			if n := utf8.RuneCountInString(line); n > limit {
				findings = append(findings, model.Finding{
					Category: model.CategoryStyle,
					Line:     i + 1,
					Column:   limit + 1,
					Code:     "S003",
					Message:  fmt.Sprintf("Line too long (%d > %d characters)", n, limit),
					Severity: model.SeverityWarning,
				})
			}
		}
		return findings
	}
}

func checkFinalNewline(snap *Snapshot, lines []string) []model.Finding {
	if len(snap.Content) == 0 || snap.Content[len(snap.Content)-1] == '\n' {
		return nil
	}
	return []model.Finding{{
		Category: model.CategoryStyle,
		Line:     len(lines),
		Code:     "S004",
		Message:  "No newline at end of file",
		Severity: model.SeverityInfo,
	}}
}

func checkBlankRuns(_ *Snapshot, lines []string) []model.Finding {
	var findings []model.Finding
	run := 0
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			run++
			continue
		}
		if run > maxBlankRun {
			findings = append(findings, model.Finding{
				Category: model.CategoryStyle,
				Line:     i + 1,
				Code:     "S005",
				Message:  fmt.Sprintf("Too many blank lines (%d)", run),
				Severity: model.SeverityInfo,
			})
		}
		run = 0
	}
	return findings
}

// checkDuplication looks for repeated blocks using a sliding window of
// non-trivial lines.
func checkDuplication(_ *Snapshot, lines []string) []model.Finding {
	type significant struct {
		text    string
		lineNum int
	}
	var kept []significant
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || commentLine.MatchString(line) || len(trimmed) < 4 {
			continue
		}
		kept = append(kept, significant{text: trimmed, lineNum: i + 1})
	}

	first := make(map[string]int) // hash -> first line
	var findings []model.Finding
	lastReported := 0
	for i := 0; i+duplicateWindow <= len(kept); i++ {
		window := make([]string, duplicateWindow)
		for j := range window {
			window[j] = kept[i+j].text
		}
		h := hashBlock(window)
		at := kept[i].lineNum
		prev, ok := first[h]
		if !ok {
			first[h] = at
			continue
		}
		// Report each duplicated region once.
		if at <= lastReported {
			continue
		}
		lastReported = kept[i+duplicateWindow-1].lineNum
		findings = append(findings, model.Finding{
			Category: model.CategoryStyle,
			Line:     at,
			Code:     "S007",
			Message:  fmt.Sprintf("Near-duplicate code block (also at line %d)", prev),
			Severity: model.SeverityWarning,
		})
	}
	return findings
}

func hashBlock(lines []string) string {
	h := sha256.New()
	for _, l := range lines {
		h.Write([]byte(l))
		h.Write([]byte{'\n'})
	}
	return fmt.Sprintf("%x", h.Sum(nil))[:16]
}
