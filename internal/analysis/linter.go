package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/sprite-ai/revloop/internal/model"
)

// Linter wraps an external lint tool whose output is parsed into findings.
type Linter struct {
	Name  string
	Bin   string
	Args  []string
	Parse func(out []byte) ([]model.Finding, error)
	// OK reports whether a non-zero exit code still carries valid output.
	OK func(code int) bool
}

// Flake8 returns a linter running flake8 with a colon separated format.
func Flake8(bin string) *Linter {
	return &Linter{
		Name:  "flake8",
		Bin:   bin,
		Args:  []string{"--format=%(row)d:%(col)d:%(code)s:%(text)s"},
		Parse: ParseFlake8,
		OK:    func(code int) bool { return code == 1 },
	}
}

// Pylint returns a linter running pylint with JSON output.
func Pylint(bin string) *Linter {
	return &Linter{
		Name:  "pylint",
		Bin:   bin,
		Args:  []string{"-f", "json"},
		Parse: ParsePylint,
		// pylint exit status is a bit mask; 1 is fatal and 32 is a usage error.
		OK: func(code int) bool { return code&1 == 0 && code&32 == 0 },
	}
}

// Run executes the linter against path.
func (l *Linter) Run(ctx context.Context, path string) ([]model.Finding, error) {
	args := append(append([]string{}, l.Args...), path)
	cmd := exec.CommandContext(ctx, l.Bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) || l.OK == nil || !l.OK(exitErr.ExitCode()) {
			msg := strings.TrimSpace(stderr.String())
			if msg != "" {
				return nil, fmt.Errorf("running %s: %w: %s", l.Bin, err, msg)
			}
			return nil, fmt.Errorf("running %s: %w", l.Bin, err)
		}
	}

	return l.Parse(stdout.Bytes())
}

// ParseFlake8 parses "row:col:code:text" lines. Malformed lines are skipped.
func ParseFlake8(out []byte) ([]model.Finding, error) {
	var findings []model.Finding
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		parts := strings.SplitN(line, ":", 4)
		if len(parts) != 4 {
			continue
		}
		row, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			continue
		}
		col, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil {
			continue
		}
		code := strings.TrimSpace(parts[2])
		findings = append(findings, model.Finding{
			Category: model.CategoryStyle,
			Line:     row,
			Column:   col,
			Code:     code,
			Message:  strings.TrimSpace(parts[3]),
			Severity: flake8Severity(code),
		})
	}
	return findings, nil
}

func flake8Severity(code string) model.Severity {
	switch {
	case strings.HasPrefix(code, "F"), strings.HasPrefix(code, "E9"):
		return model.SeverityError
	case strings.HasPrefix(code, "E"):
		return model.SeverityWarning
	default:
		return model.SeverityInfo
	}
}

type pylintMessage struct {
	Type      string `json:"type"`
	Line      int    `json:"line"`
	Column    int    `json:"column"`
	Symbol    string `json:"symbol"`
	Message   string `json:"message"`
	MessageID string `json:"message-id"`
}

// ParsePylint parses pylint's JSON reporter output.
func ParsePylint(out []byte) ([]model.Finding, error) {
	out = bytes.TrimSpace(out)
	if len(out) == 0 {
		return nil, nil
	}
	var msgs []pylintMessage
	if err := json.Unmarshal(out, &msgs); err != nil {
		return nil, fmt.Errorf("parsing pylint output: %w", err)
	}
	findings := make([]model.Finding, 0, len(msgs))
	for _, m := range msgs {
		msg := m.Message
		if m.Symbol != "" {
			msg = fmt.Sprintf("%s (%s)", m.Message, m.Symbol)
		}
		findings = append(findings, model.Finding{
			Category: model.CategoryCorrectness,
			Line:     m.Line,
			Column:   m.Column + 1, // pylint columns are 0-based
			Code:     m.MessageID,
			Message:  msg,
			Severity: pylintSeverity(m.Type),
		})
	}
	return findings, nil
}

func pylintSeverity(kind string) model.Severity {
	switch kind {
	case "error", "fatal":
		return model.SeverityError
	case "warning":
		return model.SeverityWarning
	default:
		return model.SeverityInfo
	}
}
