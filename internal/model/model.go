// Package model defines the core data types shared across revloop.
package model

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Category identifies one of the fixed analyzer categories.
type Category string

const (
	CategoryStyle       Category = "style"
	CategoryCorrectness Category = "correctness"
	CategorySecurity    Category = "security"
	CategoryPerformance Category = "performance"
)

// AllCategories returns the closed set of categories in report order.
func AllCategories() []Category {
	return []Category{CategoryStyle, CategoryCorrectness, CategorySecurity, CategoryPerformance}
}

// Valid reports whether c is one of the four known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryStyle, CategoryCorrectness, CategorySecurity, CategoryPerformance:
		return true
	default:
		return false
	}
}

// Title returns the capitalized display name.
func (c Category) Title() string {
	if c == "" {
		return ""
	}
	return strings.ToUpper(string(c[:1])) + string(c[1:])
}

// ParseCategory converts a string into a Category.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("unknown category %q", s)
	}
	return c, nil
}

// Severity of a finding.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Severity) UnmarshalText(text []byte) error {
	switch string(text) {
	case "info", "":
		*s = SeverityInfo
	case "warning":
		*s = SeverityWarning
	case "error":
		*s = SeverityError
	default:
		return fmt.Errorf("unknown severity %q", text)
	}
	return nil
}

// Finding is a single static-analysis observation about a file.
type Finding struct {
	Category Category `json:"category"`
	Message  string   `json:"message"`
	Line     int      `json:"line,omitempty"`   // 0 if file-level
	Column   int      `json:"column,omitempty"` // 0 if unknown
	Code     string   `json:"code,omitempty"`   // rule or linter code
	Severity Severity `json:"severity"`
}

func (f Finding) String() string {
	loc := ""
	switch {
	case f.Line > 0 && f.Column > 0:
		loc = fmt.Sprintf("%d:%d ", f.Line, f.Column)
	case f.Line > 0:
		loc = fmt.Sprintf("%d ", f.Line)
	}
	code := ""
	if f.Code != "" {
		code = f.Code + " "
	}
	return fmt.Sprintf("[%s] %s%s%s", f.Category, loc, code, f.Message)
}

// Error kinds recorded on a failed AnalyzerResult.
const (
	ErrorKindFailed  = "failed"
	ErrorKindTimeout = "timeout"
	ErrorKindPanic   = "panic"
	ErrorKindMissing = "missing"
)

// ErrorInfo marks an analyzer invocation that did not produce findings.
type ErrorInfo struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (e ErrorInfo) String() string {
	return e.Kind + ": " + e.Message
}

// AnalyzerResult is the outcome of one analyzer invocation.
// Error is set and Findings is empty iff the analyzer failed.
type AnalyzerResult struct {
	Category Category      `json:"category"`
	File     string        `json:"file"`
	Findings []Finding     `json:"findings"`
	Error    *ErrorInfo    `json:"error,omitempty"`
	Duration time.Duration `json:"duration_ns,omitempty"`
}

// Failed reports whether the analyzer failed.
func (r AnalyzerResult) Failed() bool {
	return r.Error != nil
}

// CombinedReport holds the merged per-category results for one code body.
type CombinedReport struct {
	File    string                      `json:"file"`
	Results map[Category]AnalyzerResult `json:"results"`
}

// TotalFindings returns the number of findings across all categories.
func (r CombinedReport) TotalFindings() int {
	n := 0
	for _, res := range r.Results {
		n += len(res.Findings)
	}
	return n
}

// Counts returns the number of findings per category.
func (r CombinedReport) Counts() map[Category]int {
	counts := make(map[Category]int, len(r.Results))
	for c, res := range r.Results {
		counts[c] = len(res.Findings)
	}
	return counts
}

// FailedCategories returns the categories whose analyzer failed, in report order.
func (r CombinedReport) FailedCategories() []Category {
	var failed []Category
	for _, c := range AllCategories() {
		if res, ok := r.Results[c]; ok && res.Failed() {
			failed = append(failed, c)
		}
	}
	return failed
}

// Summary returns a one-line summary of the report.
func (r CombinedReport) Summary() string {
	var parts []string
	for _, c := range AllCategories() {
		res, ok := r.Results[c]
		switch {
		case !ok:
			parts = append(parts, fmt.Sprintf("%s: missing", c))
		case res.Failed():
			parts = append(parts, fmt.Sprintf("%s: %s", c, res.Error.Kind))
		default:
			parts = append(parts, fmt.Sprintf("%s: %d", c, len(res.Findings)))
		}
	}
	return strings.Join(parts, ", ")
}

// Scores maps each category to an integer score from 1 to 10.
type Scores map[Category]int

// Mean returns the arithmetic mean over the four categories.
func (s Scores) Mean() float64 {
	cats := AllCategories()
	total := 0
	for _, c := range cats {
		total += s[c]
	}
	return float64(total) / float64(len(cats))
}

// Validate checks that exactly the four categories are scored within 1..10.
func (s Scores) Validate() error {
	if len(s) != len(AllCategories()) {
		return fmt.Errorf("expected %d category scores, got %d", len(AllCategories()), len(s))
	}
	keys := make([]string, 0, len(s))
	for c := range s {
		keys = append(keys, string(c))
	}
	sort.Strings(keys)
	for _, k := range keys {
		c := Category(k)
		if !c.Valid() {
			return fmt.Errorf("unknown score category %q", k)
		}
		if v := s[c]; v < 1 || v > 10 {
			return fmt.Errorf("score for %s out of range: %d", c, v)
		}
	}
	return nil
}

// EvaluationRecord is one judgment returned by the scoring oracle.
type EvaluationRecord struct {
	Scores          Scores    `json:"scores"`
	OverallScore    float64   `json:"overall_score"`
	ShouldRetry     bool      `json:"should_retry"`
	Instructions    string    `json:"instructions"`
	Comments        string    `json:"comments,omitempty"`
	TrendCommentary string    `json:"trend_commentary,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}
