package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

// execOutcome is the raw result of one subprocess run before a backend
// shapes it into a Result.
type execOutcome struct {
	stdout   string
	stderr   string
	exitCode int
}

// runCommand executes a backend CLI with a timeout, returning captured
// output. Failures that preclude output (missing binary, timeout,
// cancellation) come back as a ready-made failure Result; otherwise the
// outcome carries stdout, stderr, and the exit code for the backend to
// interpret.
func runCommand(ctx context.Context, dir, stdin, name string, args []string, timeout time.Duration) (execOutcome, *Result) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	// Backend CLIs spawn their own children (shells, MCP servers). Run the
	// whole tree in its own process group so a timeout kills grandchildren
	// too; otherwise a surviving child keeps the output pipes open and Wait
	// blocks past the deadline. WaitDelay bounds Wait even if something in
	// the group ignores SIGKILL.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 5 * time.Second

	err := cmd.Run()

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		r := Failure(fmt.Sprintf("command timed out after %s", timeout), ExitTimeout)
		return execOutcome{}, &r
	case errors.Is(ctx.Err(), context.Canceled):
		r := Failure("command canceled", 1)
		return execOutcome{}, &r
	case errors.Is(err, exec.ErrNotFound):
		r := Failure(fmt.Sprintf("%s CLI not found, is it installed?", name), ExitNotFound)
		return execOutcome{}, &r
	}

	outcome := execOutcome{
		stdout: stdout.String(),
		stderr: stderr.String(),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			outcome.exitCode = exitErr.ExitCode()
		} else {
			r := Failure(err.Error(), 1)
			return execOutcome{}, &r
		}
	}

	return outcome, nil
}

// failureFromOutcome shapes a nonzero-exit outcome into a Result that keeps
// whatever stdout the process produced.
func failureFromOutcome(o execOutcome) Result {
	errMsg := strings.TrimSpace(o.stderr)
	if errMsg == "" {
		errMsg = fmt.Sprintf("exit code: %d", o.exitCode)
	}
	return Result{
		Success:  false,
		Output:   o.stdout,
		Error:    errMsg,
		ExitCode: o.exitCode,
	}
}

// commandAvailable reports whether an executable is resolvable on PATH.
func commandAvailable(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}
