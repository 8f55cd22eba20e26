package trace

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

// JSONL timeline format, one step per line after a header:
//   {"type": "run", "run_id": "...", "file": "app.py"}
//   {"type": "scoring", "iteration": 0, "summary": "...", "findings": 3, "timestamp": "..."}

type jsonlEntry struct {
	Type      string  `json:"type"`
	RunID     string  `json:"run_id,omitempty"`
	File      string  `json:"file,omitempty"`
	Iteration int     `json:"iteration"`
	Summary   string  `json:"summary,omitempty"`
	Detail    string  `json:"detail,omitempty"`
	Findings  int     `json:"findings"`
	Score     float64 `json:"score,omitempty"`
	Timestamp string  `json:"timestamp,omitempty"`
}

// WriteJSONL writes t to w in the JSONL timeline format.
func (t *Trace) WriteJSONL(w io.Writer) error {
	enc := json.NewEncoder(w)
	if err := enc.Encode(jsonlEntry{Type: "run", RunID: t.RunID, File: t.File, Findings: -1}); err != nil {
		return fmt.Errorf("writing trace header: %w", err)
	}
	for _, s := range t.Steps {
		e := jsonlEntry{
			Type:      s.Type.String(),
			Iteration: s.Iteration,
			Summary:   s.Summary,
			Detail:    s.Detail,
			Findings:  s.Findings,
			Score:     s.Score,
		}
		if !s.Timestamp.IsZero() {
			e.Timestamp = s.Timestamp.UTC().Format(time.RFC3339Nano)
		}
		if err := enc.Encode(e); err != nil {
			return fmt.Errorf("writing trace step: %w", err)
		}
	}
	return nil
}

// ParseJSONL reads a JSONL timeline file.
func ParseJSONL(path string) (*Trace, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening trace: %w", err)
	}
	defer f.Close()

	return parseJSONLReader(f)
}

// parseJSONLReader skips lines it cannot decode.
func parseJSONLReader(r io.Reader) (*Trace, error) {
	trace := &Trace{}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var entry jsonlEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			continue
		}
		if entry.Type == "run" {
			trace.RunID, trace.File = entry.RunID, entry.File
			continue
		}
		st, ok := parseStepType(entry.Type)
		if !ok {
			continue
		}

		ts := parseTimestamp(entry.Timestamp)
		if trace.StartTime.IsZero() && !ts.IsZero() {
			trace.StartTime = ts
		}
		if !ts.IsZero() {
			trace.EndTime = ts
		}
		trace.Steps = append(trace.Steps, Step{
			Type:      st,
			Timestamp: ts,
			Iteration: entry.Iteration,
			Summary:   entry.Summary,
			Detail:    entry.Detail,
			Findings:  entry.Findings,
			Score:     entry.Score,
		})
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning trace: %w", err)
	}
	return trace, nil
}

func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, format := range []string{time.RFC3339Nano, time.RFC3339} {
		t, err := time.Parse(format, s)
		if err == nil {
			return t
		}
	}
	return time.Time{}
}
