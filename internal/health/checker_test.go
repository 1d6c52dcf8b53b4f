package health

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/drydock-dev/drydock/internal/domain"
	"github.com/drydock-dev/drydock/internal/remote"
	"github.com/drydock-dev/drydock/pkg/logger"
)

func fastOptions() Options {
	return Options{MaxRetries: 2, RetryDelay: time.Millisecond, ProbeTimeout: time.Second}
}

func TestCheckHTTPHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	checker := NewChecker(fastOptions(), logger.Discard())
	res := checker.CheckHTTP(context.Background(), srv.URL, 0, 0)

	if !res.Healthy {
		t.Fatalf("expected healthy result, got error %q", res.Error)
	}
	if res.Kind != domain.CheckHTTP {
		t.Fatalf("unexpected kind %q", res.Kind)
	}
	if res.StatusCode == nil || *res.StatusCode != http.StatusOK {
		t.Fatalf("expected status code 200, got %v", res.StatusCode)
	}
	if res.ExitCode != nil {
		t.Fatalf("http result must not carry an exit code")
	}
	if res.Attempt != 1 {
		t.Fatalf("healthy on first try, got attempt %d", res.Attempt)
	}
}

func TestCheckHTTPExhaustsRetriesOnWrongStatus(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	checker := NewChecker(fastOptions(), logger.Discard())
	res := checker.CheckHTTP(context.Background(), srv.URL, http.StatusOK, 0)

	if res.Healthy {
		t.Fatalf("expected unhealthy result")
	}
	if hits != 3 {
		t.Fatalf("expected 3 attempts, server saw %d", hits)
	}
	if res.Attempt != 3 || res.MaxAttempts != 3 {
		t.Fatalf("expected attempt 3/3, got %d/%d", res.Attempt, res.MaxAttempts)
	}
	if res.Error == "" {
		t.Fatalf("unhealthy result must carry an error message")
	}
}

func TestCheckHTTPRecoversMidRetry(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if hits < 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	checker := NewChecker(fastOptions(), logger.Discard())
	res := checker.CheckHTTP(context.Background(), srv.URL, 0, 0)

	if !res.Healthy {
		t.Fatalf("expected recovery, got %q", res.Error)
	}
	if res.Attempt != 2 {
		t.Fatalf("expected success on attempt 2, got %d", res.Attempt)
	}
}

func TestCheckHTTPTransportErrorIsUnhealthySample(t *testing.T) {
	checker := NewChecker(fastOptions(), logger.Discard())
	res := checker.CheckHTTP(context.Background(), "http://127.0.0.1:1/health", 0, 0)

	if res.Healthy {
		t.Fatalf("expected unhealthy result for unreachable target")
	}
	if res.Error == "" {
		t.Fatalf("transport failure must populate the error message")
	}
	if res.StatusCode != nil {
		t.Fatalf("no response means no status code")
	}
}

func TestCheckTCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	checker := NewChecker(fastOptions(), logger.Discard())
	res := checker.CheckTCP(context.Background(), "127.0.0.1", port)
	if !res.Healthy {
		t.Fatalf("expected tcp success, got %q", res.Error)
	}
	if res.Kind != domain.CheckTCP {
		t.Fatalf("unexpected kind %q", res.Kind)
	}

	ln.Close()
	res = checker.CheckTCP(context.Background(), "127.0.0.1", port)
	if res.Healthy {
		t.Fatalf("expected tcp failure on closed port")
	}
}

type scriptedExecutor struct {
	results []remote.Result
	errs    []error
	calls   int
}

func (s *scriptedExecutor) Run(ctx context.Context, host, command string, timeout time.Duration) (remote.Result, error) {
	idx := s.calls
	s.calls++
	var err error
	if idx < len(s.errs) {
		err = s.errs[idx]
	}
	res := remote.Result{Status: remote.StatusSuccess}
	if idx < len(s.results) {
		res = s.results[idx]
	}
	return res, err
}

func (s *scriptedExecutor) Ping(ctx context.Context, host string) error { return nil }

func TestCheckCommandMatchesExitCodeAndOutput(t *testing.T) {
	exec := &scriptedExecutor{results: []remote.Result{
		{Status: remote.StatusSuccess, ExitCode: 0, Stdout: "service active (running)"},
	}}
	checker := NewChecker(fastOptions(), logger.Discard())

	res := checker.CheckCommand(context.Background(), exec, "node-1", "systemctl is-active app", "active", 0)
	if !res.Healthy {
		t.Fatalf("expected healthy command check, got %q", res.Error)
	}
	if res.ExitCode == nil || *res.ExitCode != 0 {
		t.Fatalf("expected exit code 0, got %v", res.ExitCode)
	}
	if res.StatusCode != nil {
		t.Fatalf("command result must not carry a status code")
	}
}

func TestCheckCommandWrongExitCode(t *testing.T) {
	exec := &scriptedExecutor{results: []remote.Result{
		{Status: remote.StatusFailed, ExitCode: 3},
		{Status: remote.StatusFailed, ExitCode: 3},
		{Status: remote.StatusFailed, ExitCode: 3},
	}}
	checker := NewChecker(fastOptions(), logger.Discard())

	res := checker.CheckCommand(context.Background(), exec, "node-1", "systemctl is-active app", "", 0)
	if res.Healthy {
		t.Fatalf("expected unhealthy on exit code mismatch")
	}
	if exec.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", exec.calls)
	}
}

func TestCheckCommandMissingOutputSubstring(t *testing.T) {
	exec := &scriptedExecutor{results: []remote.Result{
		{Status: remote.StatusSuccess, ExitCode: 0, Stdout: "inactive"},
		{Status: remote.StatusSuccess, ExitCode: 0, Stdout: "inactive"},
		{Status: remote.StatusSuccess, ExitCode: 0, Stdout: "inactive"},
	}}
	checker := NewChecker(fastOptions(), logger.Discard())

	res := checker.CheckCommand(context.Background(), exec, "node-1", "systemctl is-active app", "active (running)", 0)
	if res.Healthy {
		t.Fatalf("expected unhealthy when output lacks expected substring")
	}
}

func TestCheckCommandTransportErrorIsUnhealthySample(t *testing.T) {
	exec := &scriptedExecutor{errs: []error{remote.ErrUnreachable, remote.ErrUnreachable, remote.ErrUnreachable}}
	checker := NewChecker(fastOptions(), logger.Discard())

	res := checker.CheckCommand(context.Background(), exec, "node-1", "true", "", 0)
	if res.Healthy {
		t.Fatalf("expected unhealthy sample for transport failure")
	}
	if res.Error == "" {
		t.Fatalf("expected error message")
	}
}
