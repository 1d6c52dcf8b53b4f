package remote

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestLocalExecutorRun(t *testing.T) {
	exec := NewLocalExecutor()

	res, err := exec.Run(context.Background(), "ignored", "echo hello", 5*time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Ok() {
		t.Fatalf("expected success, got status %q exit %d", res.Status, res.ExitCode)
	}
	if strings.TrimSpace(res.Stdout) != "hello" {
		t.Fatalf("unexpected stdout %q", res.Stdout)
	}
	if res.Duration <= 0 {
		t.Fatalf("duration must be recorded")
	}
}

func TestLocalExecutorExitCode(t *testing.T) {
	exec := NewLocalExecutor()

	res, err := exec.Run(context.Background(), "", "exit 3", 5*time.Second)
	if err != nil {
		t.Fatalf("non-zero exit is a result, not an error: %v", err)
	}
	if res.Status != StatusFailed || res.ExitCode != 3 {
		t.Fatalf("expected failed/3, got %q/%d", res.Status, res.ExitCode)
	}
	if res.Ok() {
		t.Fatalf("Ok() must be false for a failed command")
	}
}

func TestLocalExecutorStderr(t *testing.T) {
	exec := NewLocalExecutor()

	res, err := exec.Run(context.Background(), "", "echo oops >&2; exit 1", 5*time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.TrimSpace(res.Stderr) != "oops" {
		t.Fatalf("unexpected stderr %q", res.Stderr)
	}
}

func TestLocalExecutorTimeout(t *testing.T) {
	exec := NewLocalExecutor()

	res, err := exec.Run(context.Background(), "", "sleep 5", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("timeout is a result, not an error: %v", err)
	}
	if res.Status != StatusTimeout {
		t.Fatalf("expected timeout status, got %q", res.Status)
	}
}

func TestLocalExecutorRejectsEmptyCommand(t *testing.T) {
	exec := NewLocalExecutor()
	if _, err := exec.Run(context.Background(), "", "", time.Second); err == nil {
		t.Fatalf("expected error for empty command")
	}
}

func TestLocalExecutorCancelledContext(t *testing.T) {
	exec := NewLocalExecutor()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := exec.Run(ctx, "", "echo hi", time.Second); err == nil {
		t.Fatalf("a cancelled context must surface as an error")
	}
	if err := exec.Ping(ctx, ""); err == nil {
		t.Fatalf("ping must fail on a cancelled context")
	}
}
