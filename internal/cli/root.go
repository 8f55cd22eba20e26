// Package cli implements the revloop command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "revloop",
	Short: "Iterative code review with scoring and automatic patching",
	Long: `revloop runs style, correctness, security and performance analyzers on a
source file, asks a scoring oracle to judge the combined report, and lets a
patch oracle repair the code until the score reaches the threshold or the
retry budget runs out. Every final judgment is appended to a per-file trend
history that informs later reviews.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringP("config", "c", "", "path to a YAML config file")
	pf.String("log-level", "", "log level: debug, info, warn, error")
	pf.String("log-format", "", "log format: console, json")
	pf.String("provider", "", "oracle provider: heuristic, anthropic, openai")
	pf.String("model", "", "oracle model name")
	pf.String("trend-dir", "", "directory of the trend history")
	pf.String("trend-backend", "", "trend backend: file, badger, memory")

	rootCmd.AddCommand(reviewCmd, checkCmd, historyCmd, timelineCmd, serveCmd, versionCmd)
}

// ExitError carries a process exit code. Err may be nil when the output
// already explains the result.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode maps an Execute error to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return 2
}

// Execute runs the root command. SIGINT and SIGTERM cancel running reviews.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		var exitErr *ExitError
		if !errors.As(err, &exitErr) || exitErr.Err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
	}
	return err
}
