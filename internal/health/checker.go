package health

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/drydock-dev/drydock/internal/domain"
	"github.com/drydock-dev/drydock/internal/remote"
)

// Probe defaults. Every probe is individually timeout-bounded so callers
// never block past the configured window.
const (
	DefaultExpectedStatus = http.StatusOK
	DefaultMaxLatencyMS   = 5000
	DefaultMaxRetries     = 3
	DefaultRetryDelay     = 2 * time.Second
	DefaultProbeTimeout   = 5 * time.Second
)

// Options tune the single-probe retry policy.
type Options struct {
	MaxRetries   int
	RetryDelay   time.Duration
	ProbeTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = DefaultRetryDelay
	}
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = DefaultProbeTimeout
	}
	return o
}

// Checker performs single health probes against a target. Probes always
// come back as a HealthCheckResult; transport failures are unhealthy
// samples, never errors.
type Checker struct {
	client *http.Client
	dial   func(ctx context.Context, network, addr string) (net.Conn, error)
	opts   Options
	logger *slog.Logger
	now    func() time.Time
}

// NewChecker constructs a Checker.
func NewChecker(opts Options, logger *slog.Logger) *Checker {
	opts = opts.withDefaults()
	if logger != nil {
		logger = logger.With("component", "health")
	}
	dialer := &net.Dialer{Timeout: opts.ProbeTimeout}
	return &Checker{
		client: &http.Client{Timeout: opts.ProbeTimeout},
		dial:   dialer.DialContext,
		opts:   opts,
		logger: logger,
		now:    time.Now,
	}
}

// retrying runs probe up to MaxRetries+1 times with a constant delay,
// stopping at the first healthy result. The last result is always returned.
func (c *Checker) retrying(ctx context.Context, probe func(ctx context.Context, attempt int) domain.HealthCheckResult) domain.HealthCheckResult {
	var last domain.HealthCheckResult
	attempt := 0
	backoff := retry.WithMaxRetries(uint64(c.opts.MaxRetries), retry.NewConstant(c.opts.RetryDelay))
	_ = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		last = probe(ctx, attempt)
		last.Attempt = attempt
		last.MaxAttempts = c.opts.MaxRetries + 1
		if last.Healthy {
			return nil
		}
		return retry.RetryableError(fmt.Errorf("probe unhealthy: %s", last.Error))
	})
	return last
}

// CheckHTTP issues a GET against url and reports healthy iff the status
// matches expectedStatus and the observed latency stays within maxLatencyMS.
func (c *Checker) CheckHTTP(ctx context.Context, url string, expectedStatus, maxLatencyMS int) domain.HealthCheckResult {
	if expectedStatus <= 0 {
		expectedStatus = DefaultExpectedStatus
	}
	if maxLatencyMS <= 0 {
		maxLatencyMS = DefaultMaxLatencyMS
	}
	return c.retrying(ctx, func(ctx context.Context, attempt int) domain.HealthCheckResult {
		res := domain.HealthCheckResult{Kind: domain.CheckHTTP, CheckedAt: c.now()}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			res.Error = fmt.Sprintf("build request: %v", err)
			return res
		}
		start := c.now()
		resp, err := c.client.Do(req)
		latency := float64(c.now().Sub(start)) / float64(time.Millisecond)
		res.LatencyMS = &latency
		if err != nil {
			res.Error = err.Error()
			return res
		}
		defer resp.Body.Close()
		code := resp.StatusCode
		res.StatusCode = &code
		switch {
		case code != expectedStatus:
			res.Error = fmt.Sprintf("expected status %d, got %d", expectedStatus, code)
		case latency > float64(maxLatencyMS):
			res.Error = fmt.Sprintf("latency %.0fms exceeded %dms", latency, maxLatencyMS)
		default:
			res.Healthy = true
		}
		return res
	})
}

// CheckTCP opens and immediately closes a TCP connection to host:port.
func (c *Checker) CheckTCP(ctx context.Context, host string, port int) domain.HealthCheckResult {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	return c.retrying(ctx, func(ctx context.Context, attempt int) domain.HealthCheckResult {
		res := domain.HealthCheckResult{Kind: domain.CheckTCP, CheckedAt: c.now()}
		start := c.now()
		conn, err := c.dial(ctx, "tcp", addr)
		latency := float64(c.now().Sub(start)) / float64(time.Millisecond)
		res.LatencyMS = &latency
		if err != nil {
			res.Error = err.Error()
			return res
		}
		conn.Close()
		res.Healthy = true
		return res
	})
}

// CheckCommand runs command on host through exec and reports healthy iff the
// exit code matches expectedExitCode and, when expectedOutput is non-empty,
// stdout contains it.
func (c *Checker) CheckCommand(ctx context.Context, exec remote.Executor, host, command, expectedOutput string, expectedExitCode int) domain.HealthCheckResult {
	return c.retrying(ctx, func(ctx context.Context, attempt int) domain.HealthCheckResult {
		res := domain.HealthCheckResult{Kind: domain.CheckCommand, CheckedAt: c.now()}
		out, err := exec.Run(ctx, host, command, c.opts.ProbeTimeout)
		if err != nil {
			res.Error = err.Error()
			return res
		}
		code := out.ExitCode
		res.ExitCode = &code
		ms := float64(out.Duration) / float64(time.Millisecond)
		res.LatencyMS = &ms
		switch {
		case out.Status == remote.StatusTimeout:
			res.Error = "command timed out"
		case code != expectedExitCode:
			res.Error = fmt.Sprintf("expected exit code %d, got %d", expectedExitCode, code)
		case expectedOutput != "" && !strings.Contains(out.Stdout, expectedOutput):
			res.Error = fmt.Sprintf("output missing %q", expectedOutput)
		default:
			res.Healthy = true
		}
		return res
	})
}
