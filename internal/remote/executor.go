package remote

import (
	"context"
	"errors"
	"time"
)

// Command statuses. A timed-out command is a result, not an error: callers
// must never block indefinitely on remote work.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusTimeout = "timeout"
)

// ErrUnreachable indicates the target host could not be contacted at all.
// This is the only class of executor failure surfaced as an error; everything
// that ran a command, however badly, comes back as a Result.
var ErrUnreachable = errors.New("remote: host unreachable")

// Result captures the outcome of one remote command.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Status   string
	Duration time.Duration
}

// Ok reports whether the command ran to completion with exit code zero.
func (r Result) Ok() bool {
	return r.Status == StatusSuccess && r.ExitCode == 0
}

// Executor runs shell commands on a named host. Implementations are
// synchronous and safe for concurrent use.
type Executor interface {
	// Run executes command on host, bounded by timeout. Transport faults
	// return an error; any command that actually ran returns a Result.
	Run(ctx context.Context, host, command string, timeout time.Duration) (Result, error)

	// Ping verifies the execution agent on host is reachable.
	Ping(ctx context.Context, host string) error
}
