package analysis

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/sprite-ai/revloop/internal/model"
)

// lineRule matches a single source line.
type lineRule struct {
	code     string
	message  string
	patterns []*regexp.Regexp
	exclude  *regexp.Regexp // suppresses a match when it also matches
	severity model.Severity
	inLoop   bool // only reported inside a loop body
	comments bool // also checked on comment-only lines
	quote    bool // append the trimmed line to the message
}

var (
	loopHeader   = regexp.MustCompile(`^\s*(?:async\s+)?(?:for|while)\b.*:\s*(?:#.*)?$`)
	commentLine  = regexp.MustCompile(`^\s*(?:#|//|/\*|\*)`)
	leadingSpace = regexp.MustCompile(`^[ \t]*`)
)

func compilePatterns(patterns ...string) []*regexp.Regexp {
	var compiled []*regexp.Regexp
	for _, p := range patterns {
		compiled = append(compiled, regexp.MustCompile(p))
	}
	return compiled
}

// indentWidth counts leading whitespace, expanding tabs to four columns.
func indentWidth(line string) int {
	width := 0
	for _, r := range leadingSpace.FindString(line) {
		if r == '\t' {
			width += 4
		} else {
			width++
		}
	}
	return width
}

// loopTracker follows indentation to know whether a line sits in a loop body.
type loopTracker struct {
	stack []int
}

// enter updates the stack for a non-blank line and returns the loop depth
// that encloses it.
func (t *loopTracker) enter(line string) int {
	indent := indentWidth(line)
	for len(t.stack) > 0 && t.stack[len(t.stack)-1] >= indent {
		t.stack = t.stack[:len(t.stack)-1]
	}
	return len(t.stack)
}

func (t *loopTracker) push(line string) {
	t.stack = append(t.stack, indentWidth(line))
}

// scanLines applies rules to every line, tracking loop nesting as it goes.
func scanLines(category model.Category, rules []lineRule, lines []string) []model.Finding {
	var findings []model.Finding
	var loops loopTracker

	for i, line := range lines {
		lineNum := i + 1
		if strings.TrimSpace(line) == "" {
			continue
		}
		isComment := commentLine.MatchString(line)
		depth := 0
		if !isComment {
			depth = loops.enter(line)
		}

		for _, r := range rules {
			if isComment && !r.comments {
				continue
			}
			if r.inLoop && depth == 0 {
				continue
			}
			if r.exclude != nil && r.exclude.MatchString(line) {
				continue
			}
			for _, re := range r.patterns {
				if re.MatchString(line) {
					msg := r.message
					if r.quote {
						msg = fmt.Sprintf("%s: %s", r.message, strings.TrimSpace(line))
					}
					findings = append(findings, model.Finding{
						Category: category,
						Line:     lineNum,
						Code:     r.code,
						Message:  msg,
						Severity: r.severity,
					})
					break // one finding per rule per line
				}
			}
		}

		if !isComment && loopHeader.MatchString(line) {
			loops.push(line)
		}
	}

	return findings
}
