// Package trace records the timeline of a review session.
package trace

import (
	"fmt"
	"strings"
	"time"
)

// StepType categorizes a step in the review loop.
type StepType int

const (
	StepReviewing StepType = iota
	StepScoring
	StepPatching
	StepFinalized
	StepAborted
)

func (s StepType) String() string {
	switch s {
	case StepReviewing:
		return "reviewing"
	case StepScoring:
		return "scoring"
	case StepPatching:
		return "patching"
	case StepFinalized:
		return "finalized"
	case StepAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

func parseStepType(s string) (StepType, bool) {
	for st := StepReviewing; st <= StepAborted; st++ {
		if st.String() == s {
			return st, true
		}
	}
	return 0, false
}

// Step is a single transition in the session timeline.
type Step struct {
	Type      StepType
	Timestamp time.Time
	Iteration int
	Summary   string // short description of this step
	Detail    string // full content (may be long)

	// Findings is the report size seen by a scoring step, -1 if unknown.
	Findings int
	// Score is the overall score, 0 when the step carries no evaluation.
	Score float64
}

// Trace is the recorded timeline of one review run.
type Trace struct {
	RunID     string
	File      string
	StartTime time.Time
	EndTime   time.Time
	Steps     []Step
}

// StepsOfType returns all steps of the given type.
func (t *Trace) StepsOfType(st StepType) []Step {
	var result []Step
	for _, s := range t.Steps {
		if s.Type == st {
			result = append(result, s)
		}
	}
	return result
}

// Iterations returns the number of patch cycles recorded.
func (t *Trace) Iterations() int {
	return len(t.StepsOfType(StepPatching))
}

// Duration is the time between the first and last step.
func (t *Trace) Duration() time.Duration {
	if t.StartTime.IsZero() || t.EndTime.IsZero() {
		return 0
	}
	return t.EndTime.Sub(t.StartTime)
}

// Summary renders the timeline as text, one line per step with the offset
// from the start of the run.
func (t *Trace) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Timeline: %s\n\n", t.File)
	if t.RunID != "" {
		fmt.Fprintf(&b, "Run %s, %d patch cycle(s), %s\n\n", t.RunID, t.Iterations(), t.Duration().Round(time.Millisecond))
	}
	for _, s := range t.Steps {
		offset := time.Duration(0)
		if !t.StartTime.IsZero() {
			offset = s.Timestamp.Sub(t.StartTime)
		}
		fmt.Fprintf(&b, "- [%8s] #%d %-9s %s\n", offset.Round(time.Millisecond), s.Iteration, s.Type, s.Summary)
	}
	return b.String()
}

func truncateStr(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
