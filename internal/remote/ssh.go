package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

const dialTimeout = 10 * time.Second

// SSHExecutor runs commands over SSH sessions. Connections are established
// lazily per host and reused across commands.
type SSHExecutor struct {
	user   string
	port   int
	signer ssh.Signer
	logger *slog.Logger

	mu      sync.Mutex
	clients map[string]*ssh.Client
}

// NewSSHExecutor constructs an executor authenticating as user with the
// private key at keyPath.
func NewSSHExecutor(user, keyPath string, port int, logger *slog.Logger) (*SSHExecutor, error) {
	if user == "" {
		return nil, fmt.Errorf("ssh user cannot be empty")
	}
	if keyPath == "" {
		return nil, fmt.Errorf("ssh key path cannot be empty")
	}
	key, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read ssh key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("parse ssh key: %w", err)
	}
	if port <= 0 {
		port = 22
	}
	if logger != nil {
		logger = logger.With("component", "ssh")
	}
	return &SSHExecutor{
		user:    user,
		port:    port,
		signer:  signer,
		logger:  logger,
		clients: make(map[string]*ssh.Client),
	}, nil
}

func (e *SSHExecutor) client(host string) (*ssh.Client, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cli, ok := e.clients[host]; ok {
		return cli, nil
	}
	cfg := &ssh.ClientConfig{
		User:            e.user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(e.signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         dialTimeout,
	}
	addr := net.JoinHostPort(host, strconv.Itoa(e.port))
	cli, err := ssh.Dial("tcp", addr, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrUnreachable, addr, err)
	}
	e.clients[host] = cli
	return cli, nil
}

// drop removes a cached client so the next command redials.
func (e *SSHExecutor) drop(host string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cli, ok := e.clients[host]; ok {
		cli.Close()
		delete(e.clients, host)
	}
}

// Run executes command on host over SSH, bounded by timeout.
func (e *SSHExecutor) Run(ctx context.Context, host, command string, timeout time.Duration) (Result, error) {
	if host == "" {
		return Result{}, fmt.Errorf("host cannot be empty")
	}
	if command == "" {
		return Result{}, fmt.Errorf("command cannot be empty")
	}
	cli, err := e.client(host)
	if err != nil {
		return Result{}, err
	}
	session, err := cli.NewSession()
	if err != nil {
		// Stale connection; redial once before giving up.
		e.drop(host)
		cli, err = e.client(host)
		if err != nil {
			return Result{}, err
		}
		session, err = cli.NewSession()
		if err != nil {
			return Result{}, fmt.Errorf("%w: new session on %s: %v", ErrUnreachable, host, err)
		}
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	start := time.Now()
	if err := session.Start(command); err != nil {
		return Result{}, fmt.Errorf("%w: start on %s: %v", ErrUnreachable, host, err)
	}

	done := make(chan error, 1)
	go func() { done <- session.Wait() }()

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case err := <-done:
		res := Result{
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
			Status:   StatusSuccess,
			Duration: time.Since(start),
		}
		if err != nil {
			var exitErr *ssh.ExitError
			if errors.As(err, &exitErr) {
				res.ExitCode = exitErr.ExitStatus()
				res.Status = StatusFailed
				return res, nil
			}
			return Result{}, fmt.Errorf("wait for command on %s: %w", host, err)
		}
		return res, nil
	case <-timer:
		session.Signal(ssh.SIGKILL)
		session.Close()
		if e.logger != nil {
			e.logger.Warn("remote command timed out", "host", host, "timeout", timeout)
		}
		return Result{
			ExitCode: -1,
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
			Status:   StatusTimeout,
			Duration: time.Since(start),
		}, nil
	case <-ctx.Done():
		session.Signal(ssh.SIGKILL)
		session.Close()
		return Result{}, ctx.Err()
	}
}

// Ping verifies SSH connectivity by running a trivial command.
func (e *SSHExecutor) Ping(ctx context.Context, host string) error {
	res, err := e.Run(ctx, host, "true", dialTimeout)
	if err != nil {
		return err
	}
	if !res.Ok() {
		return fmt.Errorf("%w: agent check on %s exited %d", ErrUnreachable, host, res.ExitCode)
	}
	return nil
}

// Close tears down all cached connections.
func (e *SSHExecutor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for host, cli := range e.clients {
		cli.Close()
		delete(e.clients, host)
	}
	return nil
}
