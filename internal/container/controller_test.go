package container

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/drydock-dev/drydock/internal/remote"
	"github.com/drydock-dev/drydock/pkg/logger"
)

type fakeExecutor struct {
	commands []string
	results  []remote.Result
	errs     []error
}

func (f *fakeExecutor) Run(ctx context.Context, host, command string, timeout time.Duration) (remote.Result, error) {
	f.commands = append(f.commands, command)
	idx := len(f.commands) - 1
	var err error
	if idx < len(f.errs) {
		err = f.errs[idx]
	}
	res := remote.Result{Status: remote.StatusSuccess}
	if idx < len(f.results) {
		res = f.results[idx]
	}
	return res, err
}

func (f *fakeExecutor) Ping(ctx context.Context, host string) error { return nil }

func TestStartWorkloadComposesDockerRun(t *testing.T) {
	exec := &fakeExecutor{results: []remote.Result{
		{Status: remote.StatusSuccess, Stdout: "abc123def456789\n"},
	}}
	ctrl := New(exec, logger.Discard())

	id, err := ctrl.StartWorkload(context.Background(), "node-1", "app:v2", "web", 8080, map[string]string{
		"APP_ENV": "production",
		"DEBUG":   "false",
	}, "")
	if err != nil {
		t.Fatalf("start workload: %v", err)
	}
	if id != "abc123def456789" {
		t.Fatalf("unexpected container id %q", id)
	}

	cmd := exec.commands[0]
	for _, want := range []string{
		"docker run -d --name 'web'",
		"--restart 'unless-stopped'",
		"-p 8080:8080",
		"-e 'APP_ENV=production'",
		"-e 'DEBUG=false'",
		"'app:v2'",
	} {
		if !strings.Contains(cmd, want) {
			t.Fatalf("command missing %q: %s", want, cmd)
		}
	}
	// Env flags must be deterministic for reproducible commands.
	if strings.Index(cmd, "APP_ENV") > strings.Index(cmd, "DEBUG") {
		t.Fatalf("env vars not sorted: %s", cmd)
	}
}

func TestStartWorkloadRejectsBadPort(t *testing.T) {
	ctrl := New(&fakeExecutor{}, logger.Discard())
	if _, err := ctrl.StartWorkload(context.Background(), "node-1", "app:v2", "web", 0, nil, ""); err == nil {
		t.Fatalf("expected port validation error")
	}
}

func TestStartWorkloadSurfacesRuntimeFailure(t *testing.T) {
	exec := &fakeExecutor{results: []remote.Result{
		{Status: remote.StatusFailed, ExitCode: 125, Stderr: "port is already allocated"},
	}}
	ctrl := New(exec, logger.Discard())
	_, err := ctrl.StartWorkload(context.Background(), "node-1", "app:v2", "web", 8080, nil, "")
	if err == nil {
		t.Fatalf("expected start failure")
	}
	if !strings.Contains(err.Error(), "port is already allocated") {
		t.Fatalf("error should carry stderr: %v", err)
	}
}

func TestStopWorkloadIsIdempotent(t *testing.T) {
	exec := &fakeExecutor{results: []remote.Result{
		{Status: remote.StatusFailed, ExitCode: 1, Stderr: "Error response from daemon: No such container: web"},
		{Status: remote.StatusFailed, ExitCode: 1, Stderr: "Error: No such container: web"},
	}}
	ctrl := New(exec, logger.Discard())

	if err := ctrl.StopWorkload(context.Background(), "node-1", "web", 10*time.Second, true); err != nil {
		t.Fatalf("stop of absent workload must succeed, got %v", err)
	}
	if len(exec.commands) != 2 {
		t.Fatalf("expected stop then rm, got %d commands", len(exec.commands))
	}
	if !strings.HasPrefix(exec.commands[0], "docker stop -t 10") {
		t.Fatalf("unexpected stop command: %s", exec.commands[0])
	}
	if !strings.HasPrefix(exec.commands[1], "docker rm -f") {
		t.Fatalf("expected force removal, got: %s", exec.commands[1])
	}
}

func TestStopWorkloadForceRemovesAfterFailedStop(t *testing.T) {
	exec := &fakeExecutor{results: []remote.Result{
		{Status: remote.StatusTimeout, ExitCode: -1},
		{Status: remote.StatusSuccess},
	}}
	ctrl := New(exec, logger.Discard())
	if err := ctrl.StopWorkload(context.Background(), "node-1", "web", 5*time.Second, true); err != nil {
		t.Fatalf("stop should still succeed via removal: %v", err)
	}
}

func TestGetStatusParsesInspectOutput(t *testing.T) {
	exec := &fakeExecutor{results: []remote.Result{
		{Status: remote.StatusSuccess, Stdout: "deadbeef|true|running|2026-08-26T10:00:00.123456789Z|app:v2\n"},
	}}
	ctrl := New(exec, logger.Discard())

	status, err := ctrl.GetStatus(context.Background(), "node-1", "web")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if !status.Running {
		t.Fatalf("expected running workload")
	}
	if status.Status != "running" || status.ID != "deadbeef" || status.Image != "app:v2" {
		t.Fatalf("unexpected status: %+v", status)
	}
	if status.StartedAt == nil {
		t.Fatalf("expected started_at to parse")
	}
}

func TestGetStatusTreatsMissingWorkloadAsObservation(t *testing.T) {
	exec := &fakeExecutor{results: []remote.Result{
		{Status: remote.StatusFailed, ExitCode: 1, Stderr: "Error: No such object: web"},
	}}
	ctrl := New(exec, logger.Discard())

	status, err := ctrl.GetStatus(context.Background(), "node-1", "web")
	if err != nil {
		t.Fatalf("missing workload must not error: %v", err)
	}
	if status.Running {
		t.Fatalf("missing workload reported running")
	}
	if status.Status != "not_found" {
		t.Fatalf("unexpected status %q", status.Status)
	}
}

func TestListWorkloads(t *testing.T) {
	exec := &fakeExecutor{results: []remote.Result{
		{Status: remote.StatusSuccess, Stdout: "web|app:v2|Up 3 hours\nworker|jobs:v9|Exited (0) 2 days ago\n"},
	}}
	ctrl := New(exec, logger.Discard())

	workloads, err := ctrl.ListWorkloads(context.Background(), "node-1", true)
	if err != nil {
		t.Fatalf("list workloads: %v", err)
	}
	if len(workloads) != 2 {
		t.Fatalf("expected 2 workloads, got %d", len(workloads))
	}
	if workloads[0].Name != "web" || workloads[0].Image != "app:v2" {
		t.Fatalf("unexpected first workload: %+v", workloads[0])
	}
	if !strings.HasPrefix(exec.commands[0], "docker ps -a") {
		t.Fatalf("includeStopped should list all: %s", exec.commands[0])
	}
}

func TestShellQuoteEscapesSingleQuotes(t *testing.T) {
	quoted := shellQuote("it's")
	if quoted != `'it'\''s'` {
		t.Fatalf("unexpected quoting: %s", quoted)
	}
}
