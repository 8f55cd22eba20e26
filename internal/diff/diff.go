// Package diff selects review targets from unified diffs and directory trees,
// and highlights code for display.
package diff

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/bluekeyes/go-gitdiff/gitdiff"
)

// File is one file touched by a diff.
type File struct {
	OldName      string
	NewName      string
	IsNew        bool
	IsDeleted    bool
	IsRenamed    bool
	IsBinary     bool
	AddedLines   int
	DeletedLines int
}

// Name returns the display name for the file.
func (f *File) Name() string {
	if f.IsRenamed {
		return fmt.Sprintf("%s -> %s", f.OldName, f.NewName)
	}
	if f.IsDeleted {
		return f.OldName
	}
	if f.NewName != "" {
		return f.NewName
	}
	return f.OldName
}

// Reviewable reports whether the file still exists as text after the change.
func (f *File) Reviewable() bool {
	return !f.IsDeleted && !f.IsBinary && f.NewName != ""
}

// DiffSet holds the parsed diff for all files.
type DiffSet struct {
	Files []*File
	Raw   string // the raw unified diff text
}

// Stats returns aggregate statistics.
func (ds *DiffSet) Stats() (files, added, deleted int) {
	files = len(ds.Files)
	for _, f := range ds.Files {
		added += f.AddedLines
		deleted += f.DeletedLines
	}
	return
}

// Targets returns the post-change paths of reviewable files whose extension
// is in exts, in diff order. An empty exts accepts every extension.
func (ds *DiffSet) Targets(exts []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, f := range ds.Files {
		if !f.Reviewable() || !MatchExt(f.NewName, exts) || seen[f.NewName] {
			continue
		}
		seen[f.NewName] = true
		out = append(out, f.NewName)
	}
	return out
}

// Parse reads a unified diff string and returns a DiffSet.
func Parse(raw string) (*DiffSet, error) {
	parsed, _, err := gitdiff.Parse(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parsing diff: %w", err)
	}

	ds := &DiffSet{Raw: raw}
	for _, f := range parsed {
		df := &File{
			OldName:   f.OldName,
			NewName:   f.NewName,
			IsNew:     f.IsNew,
			IsDeleted: f.IsDelete,
			IsRenamed: f.IsRename,
			IsBinary:  f.IsBinary,
		}
		for _, frag := range f.TextFragments {
			for _, line := range frag.Lines {
				switch line.Op {
				case gitdiff.OpAdd:
					df.AddedLines++
				case gitdiff.OpDelete:
					df.DeletedLines++
				}
			}
		}
		ds.Files = append(ds.Files, df)
	}

	return ds, nil
}

// ChangedFiles lists the added, modified and renamed files of a unified diff
// that match exts.
func ChangedFiles(raw string, exts []string) ([]string, error) {
	ds, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	return ds.Targets(exts), nil
}

// GitDiff runs `git diff` with the given arguments and returns the raw output.
func GitDiff(ctx context.Context, repoDir string, args ...string) (string, error) {
	cmdArgs := append([]string{"diff"}, args...)
	cmd := exec.CommandContext(ctx, "git", cmdArgs...)
	cmd.Dir = repoDir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("git diff: %w: %s", err, msg)
		}
		return "", fmt.Errorf("git diff: %w", err)
	}

	return string(out), nil
}

// GitDiffRange returns the diff for a commit range like "main...HEAD".
func GitDiffRange(ctx context.Context, repoDir, commitRange string) (string, error) {
	return GitDiff(ctx, repoDir, "--no-color", "-U0", commitRange)
}
