// Package runner spawns validated external commands and classifies their outcome.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"github.com/xiaot623/gogo/testexec/internal/domain"
	"github.com/xiaot623/gogo/testexec/internal/guard"
)

// Config controls a Runner.
type Config struct {
	// Enabled is the global kill switch. When false nothing is ever spawned.
	Enabled bool

	// DefaultTimeout applies when Run is called with a non-positive timeout.
	DefaultTimeout time.Duration

	// MaxOutputBytes caps the captured output; the tail is kept.
	MaxOutputBytes int

	// KillGrace bounds how long Run waits for output pipes after the
	// process group was killed. Default 2s.
	KillGrace time.Duration
}

// Runner executes guard-validated commands. It holds no per-invocation state
// and is safe for concurrent use.
type Runner struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a Runner.
func New(cfg Config, logger *slog.Logger) *Runner {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 300 * time.Second
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = 1 << 20
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{cfg: cfg, logger: logger}
}

// Enabled reports whether the kill switch allows spawning.
func (r *Runner) Enabled() bool { return r.cfg.Enabled }

// Run spawns cmd and blocks until it exits, the timeout elapses or ctx is
// cancelled. It never returns an error: every failure is reported through the
// result's Status and ErrorKind.
func (r *Runner) Run(ctx context.Context, cmd *guard.Command, timeout time.Duration) domain.ExecutionResult {
	if !r.cfg.Enabled {
		return errorResult(domain.ErrExecutionDisabled, "execution is disabled", 0)
	}
	if !cmd.Valid() {
		return errorResult(domain.ErrCommandNotAllowed, "command was not validated", 0)
	}
	if timeout <= 0 {
		timeout = r.cfg.DefaultTimeout
	}

	path, err := exec.LookPath(cmd.Program())
	if err != nil {
		return errorResult(domain.ErrSpawnFailure, fmt.Sprintf("resolve %s: %v", cmd.Program(), err), 0)
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	output := newTailBuffer(r.cfg.MaxOutputBytes)

	c := exec.CommandContext(runCtx, path, cmd.Args()...)
	c.Dir = cmd.Dir()
	c.Stdout = output
	c.Stderr = output
	c.WaitDelay = r.cfg.KillGrace
	configureProcAttr(c)
	c.Cancel = func() error {
		return killProcessTree(c)
	}

	start := time.Now()
	if err := c.Start(); err != nil {
		return errorResult(domain.ErrSpawnFailure, fmt.Sprintf("start %s: %v", cmd.Program(), err), time.Since(start))
	}
	r.logger.Debug("process started", "program", cmd.Program(), "pid", c.Process.Pid, "dir", cmd.Dir())

	waitErr := c.Wait()
	elapsed := time.Since(start)
	if output.Truncated() {
		r.logger.Info("process output truncated", "program", cmd.Program(), "kept_bytes", r.cfg.MaxOutputBytes)
	}

	switch {
	case runCtx.Err() != nil && ctx.Err() != nil:
		r.logger.Warn("process cancelled", "program", cmd.Program(), "elapsed", elapsed)
		res := errorResult(domain.ErrCancelled, "execution cancelled", elapsed)
		res.Output = output.String()
		return res
	case runCtx.Err() != nil:
		r.logger.Warn("process timed out", "program", cmd.Program(), "timeout", timeout)
		return domain.ExecutionResult{
			Status:    domain.ExecutionStatusTimeout,
			ExitCode:  -1,
			Output:    output.String(),
			Duration:  elapsed,
			ErrorKind: domain.ErrorKindTimeout,
			Message:   fmt.Sprintf("process exceeded timeout of %s", timeout),
		}
	}

	exitCode := 0
	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return domain.ExecutionResult{
				Status:    domain.ExecutionStatusError,
				ExitCode:  -1,
				Output:    output.String(),
				Duration:  elapsed,
				ErrorKind: domain.ErrorKindSpawnFailure,
				Message:   fmt.Sprintf("wait %s: %v", cmd.Program(), waitErr),
			}
		}
		exitCode = exitErr.ExitCode()
	}

	res := domain.ExecutionResult{
		Status:   domain.ExecutionStatusSuccess,
		ExitCode: exitCode,
		Output:   output.String(),
		Duration: elapsed,
	}
	if exitCode != 0 {
		res.Status = domain.ExecutionStatusFailed
		res.ErrorKind = domain.ErrorKindNonZeroExit
		res.Message = fmt.Sprintf("%s exited with code %d", cmd.Program(), exitCode)
	}
	return res
}

// Reject builds the result for a command the guard refused.
func Reject(err error) domain.ExecutionResult {
	return errorResult(err, err.Error(), 0)
}

func errorResult(err error, msg string, elapsed time.Duration) domain.ExecutionResult {
	return domain.ExecutionResult{
		Status:    domain.ExecutionStatusError,
		ExitCode:  -1,
		Duration:  elapsed,
		ErrorKind: domain.KindOf(err),
		Message:   msg,
	}
}
