package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// LocalExecutor runs commands on the orchestrator host itself through the
// shell. Used when the deployment target is the local machine.
type LocalExecutor struct{}

// NewLocalExecutor constructs a LocalExecutor.
func NewLocalExecutor() *LocalExecutor {
	return &LocalExecutor{}
}

// Run executes command locally, ignoring host. Timeouts come back as a
// Result with StatusTimeout, matching the remote transports.
func (e *LocalExecutor) Run(ctx context.Context, host, command string, timeout time.Duration) (Result, error) {
	if command == "" {
		return Result{}, fmt.Errorf("command cannot be empty")
	}
	runCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	cmd.Env = os.Environ()
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	res := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Status:   StatusSuccess,
		Duration: time.Since(start),
	}
	if err == nil {
		return res, nil
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		res.ExitCode = -1
		res.Status = StatusTimeout
		return res, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		res.Status = StatusFailed
		return res, nil
	}
	return Result{}, fmt.Errorf("run command: %w", err)
}

// Ping always succeeds for the local host.
func (e *LocalExecutor) Ping(ctx context.Context, host string) error {
	return ctx.Err()
}
