// Package analysis implements the static analyzers run over a single code body.
package analysis

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sprite-ai/revloop/internal/model"
)

// Snapshot is an immutable view of one code body. The content is also
// materialized at Path so external tools can read it.
type Snapshot struct {
	Path    string
	Name    string
	Content []byte
}

// NewSnapshot returns a snapshot for content stored at path.
func NewSnapshot(path string, content []byte) *Snapshot {
	return &Snapshot{
		Path:    path,
		Name:    filepath.Base(path),
		Content: content,
	}
}

// Lines returns the content split into lines without line terminators.
func (s *Snapshot) Lines() []string {
	if len(s.Content) == 0 {
		return nil
	}
	text := strings.ReplaceAll(string(s.Content), "\r\n", "\n")
	text = strings.TrimSuffix(text, "\n")
	return strings.Split(text, "\n")
}

// Analyzer inspects a snapshot and reports findings for one category.
type Analyzer interface {
	Category() model.Category
	Analyze(ctx context.Context, snap *Snapshot) ([]model.Finding, error)
}

// Options configures the built-in analyzers.
type Options struct {
	MaxLineLength int
	// Flake8 and Pylint name the external linter binaries. Empty disables them.
	Flake8 string
	Pylint string
}

// DefaultOptions returns options with the built-in rules only.
func DefaultOptions() Options {
	return Options{MaxLineLength: 100}
}

// Default returns one analyzer per category, in report order.
func Default(opts Options) []Analyzer {
	if opts.MaxLineLength <= 0 {
		opts.MaxLineLength = DefaultOptions().MaxLineLength
	}

	style := newStyleAnalyzer(opts.MaxLineLength)
	if opts.Flake8 != "" {
		style.linter = Flake8(opts.Flake8)
	}
	correctness := newCorrectnessAnalyzer()
	if opts.Pylint != "" {
		correctness.linter = Pylint(opts.Pylint)
	}

	return []Analyzer{
		style,
		correctness,
		newSecurityAnalyzer(),
		newPerformanceAnalyzer(),
	}
}

// ruleAnalyzer runs a table of line rules, optional whole-file checks and an
// optional external linter.
type ruleAnalyzer struct {
	category model.Category
	rules    []lineRule
	checks   []fileCheck
	linter   *Linter
}

// fileCheck inspects the whole snapshot at once.
type fileCheck func(snap *Snapshot, lines []string) []model.Finding

func (a *ruleAnalyzer) Category() model.Category { return a.category }

func (a *ruleAnalyzer) Analyze(ctx context.Context, snap *Snapshot) ([]model.Finding, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	lines := snap.Lines()
	findings := scanLines(a.category, a.rules, lines)
	for _, check := range a.checks {
		findings = append(findings, check(snap, lines)...)
	}

	if a.linter != nil {
		linted, err := a.linter.Run(ctx, snap.Path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", a.linter.Name, err)
		}
		for i := range linted {
			linted[i].Category = a.category
		}
		findings = append(findings, linted...)
	}

	findings = deduplicateFindings(findings)
	sort.SliceStable(findings, func(i, j int) bool {
		return findings[i].Line < findings[j].Line
	})
	return findings, nil
}

// deduplicateFindings removes findings with the same line, code and message.
func deduplicateFindings(findings []model.Finding) []model.Finding {
	seen := make(map[string]bool)
	result := make([]model.Finding, 0, len(findings))
	for _, f := range findings {
		key := fmt.Sprintf("%d:%s:%s", f.Line, f.Code, f.Message)
		if !seen[key] {
			seen[key] = true
			result = append(result, f)
		}
	}
	return result
}
