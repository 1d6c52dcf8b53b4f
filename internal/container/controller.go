package container

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/drydock-dev/drydock/internal/remote"
)

// Per-command timeouts. Status probes are short; image acquisition is the
// slow path and gets the widest bound.
const (
	statusTimeout = 30 * time.Second
	stopTimeout   = 60 * time.Second
	startTimeout  = 120 * time.Second
	pullTimeout   = 600 * time.Second
	buildTimeout  = 900 * time.Second
)

// DefaultRestartPolicy applied to started workloads unless overridden.
const DefaultRestartPolicy = "unless-stopped"

// WorkloadStatus is the single source of truth for "is this workload alive".
type WorkloadStatus struct {
	Running   bool
	Status    string
	ID        string
	Image     string
	StartedAt *time.Time
}

// Workload is one entry from a host's workload listing.
type Workload struct {
	Name   string
	Image  string
	Status string
}

// Controller manages container workloads on remote hosts by composing
// docker CLI invocations over the remote executor. All operations are
// blocking, synchronous and host-scoped.
type Controller struct {
	exec   remote.Executor
	logger *slog.Logger
}

// New constructs a Controller.
func New(exec remote.Executor, logger *slog.Logger) *Controller {
	if logger != nil {
		logger = logger.With("component", "container")
	}
	return &Controller{exec: exec, logger: logger}
}

// PullImage fetches imageRef onto host. Non-zero exit is reported in the
// Result; the caller decides whether that is fatal.
func (c *Controller) PullImage(ctx context.Context, host, imageRef string) (remote.Result, error) {
	if imageRef == "" {
		return remote.Result{}, fmt.Errorf("image reference cannot be empty")
	}
	cmd := fmt.Sprintf("docker pull %s", shellQuote(imageRef))
	return c.exec.Run(ctx, host, cmd, pullTimeout)
}

// BuildImage builds imageRef on host from contextPath. dockerfilePath is
// relative to the context and may be empty for the default Dockerfile.
func (c *Controller) BuildImage(ctx context.Context, host, contextPath, imageRef, dockerfilePath string) (remote.Result, error) {
	if contextPath == "" {
		return remote.Result{}, fmt.Errorf("build context cannot be empty")
	}
	if imageRef == "" {
		return remote.Result{}, fmt.Errorf("image reference cannot be empty")
	}
	var b strings.Builder
	b.WriteString("docker build -t ")
	b.WriteString(shellQuote(imageRef))
	if dockerfilePath != "" {
		b.WriteString(" -f ")
		b.WriteString(shellQuote(dockerfilePath))
	}
	b.WriteString(" ")
	b.WriteString(shellQuote(contextPath))
	return c.exec.Run(ctx, host, b.String(), buildTimeout)
}

// StopWorkload gracefully stops the named workload within timeout, then
// force-removes it regardless of stop outcome. Safe to call on an absent or
// already-stopped workload.
func (c *Controller) StopWorkload(ctx context.Context, host, name string, timeout time.Duration, force bool) error {
	if name == "" {
		return fmt.Errorf("workload name cannot be empty")
	}
	grace := int(timeout / time.Second)
	if grace <= 0 {
		grace = 10
	}
	stopCmd := fmt.Sprintf("docker stop -t %d %s", grace, shellQuote(name))
	res, err := c.exec.Run(ctx, host, stopCmd, timeout+stopTimeout)
	if err != nil {
		return err
	}
	if !res.Ok() && !isMissingWorkload(res) && c.logger != nil {
		c.logger.Warn("graceful stop failed, removing anyway", "host", host, "workload", name, "exit_code", res.ExitCode, "stderr", strings.TrimSpace(res.Stderr))
	}

	rmCmd := fmt.Sprintf("docker rm %s", shellQuote(name))
	if force {
		rmCmd = fmt.Sprintf("docker rm -f %s", shellQuote(name))
	}
	res, err = c.exec.Run(ctx, host, rmCmd, stopTimeout)
	if err != nil {
		return err
	}
	if !res.Ok() && !isMissingWorkload(res) {
		return fmt.Errorf("remove workload %s on %s: exit %d: %s", name, host, res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return nil
}

// StartWorkload starts a new workload from imageRef bound to port and
// returns the runtime-assigned container identifier.
func (c *Controller) StartWorkload(ctx context.Context, host, imageRef, name string, port int, env map[string]string, restartPolicy string) (string, error) {
	if imageRef == "" {
		return "", fmt.Errorf("image reference cannot be empty")
	}
	if name == "" {
		return "", fmt.Errorf("workload name cannot be empty")
	}
	if port <= 0 || port > 65535 {
		return "", fmt.Errorf("port %d out of range", port)
	}
	if restartPolicy == "" {
		restartPolicy = DefaultRestartPolicy
	}

	var b strings.Builder
	b.WriteString("docker run -d --name ")
	b.WriteString(shellQuote(name))
	b.WriteString(" --restart ")
	b.WriteString(shellQuote(restartPolicy))
	b.WriteString(fmt.Sprintf(" -p %d:%d", port, port))
	for _, key := range sortedKeys(env) {
		b.WriteString(" -e ")
		b.WriteString(shellQuote(key + "=" + env[key]))
	}
	b.WriteString(" ")
	b.WriteString(shellQuote(imageRef))

	res, err := c.exec.Run(ctx, host, b.String(), startTimeout)
	if err != nil {
		return "", err
	}
	if !res.Ok() {
		return "", fmt.Errorf("start workload %s on %s: exit %d: %s", name, host, res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	id := strings.TrimSpace(res.Stdout)
	if id == "" {
		return "", fmt.Errorf("start workload %s on %s: runtime returned no container id", name, host)
	}
	if c.logger != nil {
		c.logger.Info("workload started", "host", host, "workload", name, "image", imageRef, "container_id", shortID(id))
	}
	return id, nil
}

// inspect format keeps parsing trivial on this side of the wire.
const inspectFormat = `{{.Id}}|{{.State.Running}}|{{.State.Status}}|{{.State.StartedAt}}|{{.Config.Image}}`

// GetStatus reports the workload's runtime state. An absent workload is a
// valid observation (Running=false, Status="not_found"), not an error.
func (c *Controller) GetStatus(ctx context.Context, host, name string) (WorkloadStatus, error) {
	if name == "" {
		return WorkloadStatus{}, fmt.Errorf("workload name cannot be empty")
	}
	cmd := fmt.Sprintf("docker inspect --format '%s' %s", inspectFormat, shellQuote(name))
	res, err := c.exec.Run(ctx, host, cmd, statusTimeout)
	if err != nil {
		return WorkloadStatus{}, err
	}
	if !res.Ok() {
		if isMissingWorkload(res) {
			return WorkloadStatus{Running: false, Status: "not_found"}, nil
		}
		return WorkloadStatus{}, fmt.Errorf("inspect workload %s on %s: exit %d: %s", name, host, res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return parseStatus(res.Stdout)
}

// ListWorkloads lists workloads on host, optionally including stopped ones.
func (c *Controller) ListWorkloads(ctx context.Context, host string, includeStopped bool) ([]Workload, error) {
	cmd := `docker ps --format '{{.Names}}|{{.Image}}|{{.Status}}'`
	if includeStopped {
		cmd = `docker ps -a --format '{{.Names}}|{{.Image}}|{{.Status}}'`
	}
	res, err := c.exec.Run(ctx, host, cmd, statusTimeout)
	if err != nil {
		return nil, err
	}
	if !res.Ok() {
		return nil, fmt.Errorf("list workloads on %s: exit %d: %s", host, res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	var workloads []Workload
	for _, line := range strings.Split(res.Stdout, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "|", 3)
		if len(parts) != 3 {
			continue
		}
		workloads = append(workloads, Workload{Name: parts[0], Image: parts[1], Status: parts[2]})
	}
	return workloads, nil
}

func parseStatus(out string) (WorkloadStatus, error) {
	line := strings.TrimSpace(out)
	parts := strings.SplitN(line, "|", 5)
	if len(parts) != 5 {
		return WorkloadStatus{}, fmt.Errorf("unexpected inspect output: %q", line)
	}
	running, err := strconv.ParseBool(parts[1])
	if err != nil {
		return WorkloadStatus{}, fmt.Errorf("parse running flag: %w", err)
	}
	status := WorkloadStatus{
		ID:      parts[0],
		Running: running,
		Status:  parts[2],
		Image:   parts[4],
	}
	if ts, err := time.Parse(time.RFC3339Nano, parts[3]); err == nil && !ts.IsZero() {
		status.StartedAt = &ts
	}
	return status, nil
}

func isMissingWorkload(res remote.Result) bool {
	stderr := strings.ToLower(res.Stderr)
	return strings.Contains(stderr, "no such container") || strings.Contains(stderr, "no such object")
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func sortedKeys(m map[string]string) []string {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// shellQuote single-quotes s for safe interpolation into a shell command.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
