// Package runner executes external actions as subprocesses with a hard
// timeout. It is the only place an invocation may block for long, and the
// forcible kill on deadline is the sole cancellation mechanism: no
// cooperative signal is propagated to the action itself.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// Command describes one action invocation.
type Command struct {
	Argv    []string
	Dir     string
	Env     []string // appended to the parent environment
	Timeout time.Duration
}

// Result is the typed outcome of a run. Output holds combined stdout/stderr,
// including whatever was captured before a timeout kill.
type Result struct {
	Output   string
	ExitCode int
	TimedOut bool
	Duration time.Duration
}

// Runner executes external commands.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// ExecRunner executes commands with os/exec.
type ExecRunner struct{}

// Run executes the command, returning a typed result. The returned error is
// non-nil only for failures: a clean exit yields (Result, nil), a timeout
// yields Result.TimedOut with partial output, and a non-zero exit yields the
// exit code plus a wrapped error.
func (ExecRunner) Run(ctx context.Context, c Command) (Result, error) {
	if len(c.Argv) == 0 {
		return Result{ExitCode: -1}, errors.New("runner: empty command")
	}

	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, c.Argv[0], c.Argv[1:]...)
	cmd.Dir = c.Dir
	cmd.Env = append(os.Environ(), c.Env...)
	// Give the process a moment to flush output after the kill signal.
	cmd.WaitDelay = 5 * time.Second

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	start := time.Now()
	err := cmd.Run()
	res := Result{
		Output:   out.String(),
		Duration: time.Since(start),
	}

	if ctx.Err() == context.DeadlineExceeded {
		res.TimedOut = true
		res.ExitCode = -1
		return res, nil
	}
	if err == nil {
		return res, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, fmt.Errorf("runner: %s exited %d: %w", c.Argv[0], res.ExitCode, err)
	}
	res.ExitCode = -1
	return res, fmt.Errorf("runner: %s: %w", c.Argv[0], err)
}
