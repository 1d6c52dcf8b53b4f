package source

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Checkout is the result of cloning a repository for one pipeline run.
type Checkout struct {
	CommitSHA string
	Dir       string
}

// Cloner clones repositories into run-scoped working directories.
type Cloner struct {
	workspace *Workspace
	timeout   time.Duration
	logger    *slog.Logger
}

// NewCloner constructs a Cloner.
func NewCloner(workspace *Workspace, timeout time.Duration, logger *slog.Logger) *Cloner {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if logger != nil {
		logger = logger.With("component", "source")
	}
	return &Cloner{workspace: workspace, timeout: timeout, logger: logger}
}

// Clone shallow-clones repoURL for runID and resolves the checked-out
// commit. The caller owns the returned directory and should release it via
// the workspace once the run completes.
func (c *Cloner) Clone(ctx context.Context, repoURL, runID string) (Checkout, error) {
	if strings.TrimSpace(repoURL) == "" {
		return Checkout{}, fmt.Errorf("repository URL cannot be empty")
	}
	dir, err := c.workspace.Prepare(runID)
	if err != nil {
		return Checkout{}, err
	}

	cloneCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := exec.CommandContext(cloneCtx, "git", "clone", "--depth", "1", repoURL, ".")
	cmd.Dir = dir
	// Prevent git from prompting for credentials interactively.
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	output, err := cmd.CombinedOutput()
	if err != nil {
		c.cleanupAfterFailure(dir)
		return Checkout{}, fmt.Errorf("git clone failed: %w: %s", err, strings.TrimSpace(string(output)))
	}

	rev := exec.CommandContext(cloneCtx, "git", "rev-parse", "HEAD")
	rev.Dir = dir
	sha, err := rev.Output()
	if err != nil {
		c.cleanupAfterFailure(dir)
		return Checkout{}, fmt.Errorf("resolve commit: %w", err)
	}
	commit := strings.TrimSpace(string(sha))
	if c.logger != nil {
		c.logger.Info("repository cloned", "repo_url", repoURL, "commit", commit, "dir", dir)
	}
	return Checkout{CommitSHA: commit, Dir: dir}, nil
}

// Release removes a checkout's working directory.
func (c *Cloner) Release(dir string) error {
	return c.workspace.Cleanup(dir)
}

func (c *Cloner) cleanupAfterFailure(dir string) {
	if err := c.workspace.Cleanup(dir); err != nil && c.logger != nil {
		c.logger.Warn("workspace cleanup failed", "dir", dir, "error", err)
	}
}
