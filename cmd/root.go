// Package cmd implements the testexec command line.
package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Exit codes for CLI commands.
const (
	ExitCodeSuccess = 0
	ExitCodeError   = 1
	// ExitCodeRunFailed means the command worked but the tests or the
	// environment did not pass.
	ExitCodeRunFailed = 2
)

// failedError marks a command whose work completed with a failing verdict.
type failedError struct {
	msg string
}

func (e *failedError) Error() string { return e.msg }

var rootCmd = &cobra.Command{
	Use:   "testexec",
	Short: "Run stored API test cases through the external runner CLI",
	Long: `testexec materializes stored API test cases into a run directory,
executes the runner and report CLIs inside it under a strict command guard,
and records one history entry per run. Runs can be synchronous (run, HTTP)
or dispatched through a durable task queue (enqueue, serve).`,
	SilenceUsage: true,
}

// SetVersion sets the version for the root command.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute runs the root command and exits with a semantic exit code.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "testexec version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	var failed *failedError
	if errors.As(err, &failed) {
		return ExitCodeRunFailed
	}
	return ExitCodeError
}

func init() {
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newEnqueueCmd())
	rootCmd.AddCommand(newCheckCmd())
	rootCmd.AddCommand(newWatchCmd())
}

func failed(format string, args ...any) error {
	return &failedError{msg: fmt.Sprintf(format, args...)}
}
