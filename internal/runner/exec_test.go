package runner

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestRunCommand_CapturesOutput(t *testing.T) {
	outcome, failed := runCommand(context.Background(), t.TempDir(), "", "sh", []string{"-c", "echo hello"}, 10*time.Second)
	if failed != nil {
		t.Fatalf("unexpected failure: %+v", *failed)
	}
	if outcome.exitCode != 0 {
		t.Errorf("exitCode = %d, want 0", outcome.exitCode)
	}
	if strings.TrimSpace(outcome.stdout) != "hello" {
		t.Errorf("stdout = %q", outcome.stdout)
	}
}

func TestRunCommand_Stdin(t *testing.T) {
	outcome, failed := runCommand(context.Background(), t.TempDir(), "from stdin", "sh", []string{"-c", "cat"}, 10*time.Second)
	if failed != nil {
		t.Fatalf("unexpected failure: %+v", *failed)
	}
	if outcome.stdout != "from stdin" {
		t.Errorf("stdout = %q", outcome.stdout)
	}
}

func TestRunCommand_NonZeroExit(t *testing.T) {
	outcome, failed := runCommand(context.Background(), t.TempDir(), "", "sh", []string{"-c", "echo partial; echo oops >&2; exit 3"}, 10*time.Second)
	if failed != nil {
		t.Fatalf("nonzero exit should return an outcome, got failure: %+v", *failed)
	}
	if outcome.exitCode != 3 {
		t.Errorf("exitCode = %d, want 3", outcome.exitCode)
	}

	result := failureFromOutcome(outcome)
	if result.Success {
		t.Error("result should be a failure")
	}
	if !strings.Contains(result.Output, "partial") {
		t.Errorf("partial stdout should be kept: %q", result.Output)
	}
	if !strings.Contains(result.Error, "oops") {
		t.Errorf("stderr should become the error: %q", result.Error)
	}
}

func TestRunCommand_Timeout(t *testing.T) {
	_, failed := runCommand(context.Background(), t.TempDir(), "", "sh", []string{"-c", "sleep 5"}, 100*time.Millisecond)
	if failed == nil {
		t.Fatal("expected timeout failure")
	}
	if failed.ExitCode != ExitTimeout {
		t.Errorf("ExitCode = %d, want %d", failed.ExitCode, ExitTimeout)
	}
	if !strings.Contains(failed.Error, "timed out") {
		t.Errorf("Error = %q", failed.Error)
	}
}

func TestRunCommand_TimeoutKillsProcessGroup(t *testing.T) {
	// A background child inherits the output pipe; the timeout must kill
	// the whole group or Wait blocks until the child exits on its own.
	start := time.Now()
	_, failed := runCommand(context.Background(), t.TempDir(), "", "sh", []string{"-c", "sleep 15 & sleep 15"}, time.Second)
	elapsed := time.Since(start)

	if failed == nil {
		t.Fatal("expected timeout failure")
	}
	if failed.ExitCode != ExitTimeout {
		t.Errorf("ExitCode = %d, want %d", failed.ExitCode, ExitTimeout)
	}
	if elapsed > 8*time.Second {
		t.Errorf("runCommand returned after %s, surviving children must not hold up the deadline", elapsed)
	}
}

func TestRunCommand_NotFound(t *testing.T) {
	_, failed := runCommand(context.Background(), t.TempDir(), "", "definitely-not-a-real-binary-zz", nil, time.Second)
	if failed == nil {
		t.Fatal("expected not-found failure")
	}
	if failed.ExitCode != ExitNotFound {
		t.Errorf("ExitCode = %d, want %d", failed.ExitCode, ExitNotFound)
	}
}

func TestRunCommand_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, failed := runCommand(ctx, t.TempDir(), "", "sh", []string{"-c", "sleep 5"}, 10*time.Second)
	if failed == nil {
		t.Fatal("expected cancellation failure")
	}
	if failed.ExitCode == ExitTimeout {
		t.Error("cancellation should not be reported as a timeout")
	}
}

func TestCommandAvailable(t *testing.T) {
	if !commandAvailable("sh") {
		t.Error("sh should be on PATH")
	}
	if commandAvailable("definitely-not-a-real-binary-zz") {
		t.Error("nonexistent binary should not be available")
	}
}
