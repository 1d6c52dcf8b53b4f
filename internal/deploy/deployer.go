package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/drydock-dev/drydock/internal/container"
	"github.com/drydock-dev/drydock/internal/domain"
	"github.com/drydock-dev/drydock/internal/health"
	"github.com/drydock-dev/drydock/internal/metrics"
	"github.com/drydock-dev/drydock/internal/remote"
)

// Rolling deployment states. Terminal states are StatePromoted,
// StateRolledBack and StateFailed.
const (
	StateIdle             = "idle"
	StateImagePulled      = "image_pulled"
	StateOldStopped       = "old_stopped"
	StateNewStarted       = "new_started"
	StateHealthEvaluating = "health_evaluating"
	StatePromoted         = "promoted"
	StateRolledBack       = "rolled_back"
	StateFailed           = "failed"
)

// Defaults for the rolling deployment policy.
const (
	DefaultWarmUp         = 15 * time.Second
	DefaultHealthDuration = 120 * time.Second
	DefaultHealthInterval = 10 * time.Second
	DefaultHealthPath     = "/health"

	stopGrace = 10 * time.Second
)

// ErrDeploymentInFlight is returned when a deployment is already running
// against the same (host, workload) pair. Cross-process exclusion is the
// caller's responsibility; the deployer only guards its own process.
var ErrDeploymentInFlight = errors.New("deploy: deployment already in flight for target")

// Lifecycle is the slice of the container controller the deployer drives.
type Lifecycle interface {
	PullImage(ctx context.Context, host, imageRef string) (remote.Result, error)
	StopWorkload(ctx context.Context, host, name string, timeout time.Duration, force bool) error
	StartWorkload(ctx context.Context, host, imageRef, name string, port int, env map[string]string, restartPolicy string) (string, error)
	GetStatus(ctx context.Context, host, name string) (container.WorkloadStatus, error)
}

// Prober issues single HTTP health probes.
type Prober interface {
	CheckHTTP(ctx context.Context, url string, expectedStatus, maxLatencyMS int) domain.HealthCheckResult
}

// Evaluator aggregates probe samples over a window.
type Evaluator interface {
	Evaluate(ctx context.Context, probe health.ProbeFunc, liveness health.LivenessFunc, duration, interval time.Duration, threshold float64) domain.AggregatedHealthVerdict
}

// Options carry the engine-level defaults a DeploymentAttempt may override.
type Options struct {
	WarmUp         time.Duration
	HealthDuration time.Duration
	HealthInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.WarmUp <= 0 {
		o.WarmUp = DefaultWarmUp
	}
	if o.HealthDuration <= 0 {
		o.HealthDuration = DefaultHealthDuration
	}
	if o.HealthInterval <= 0 {
		o.HealthInterval = DefaultHealthInterval
	}
	return o
}

// Deployer executes health-gated rolling deployments. One Deployer instance
// may serve many targets concurrently, but at most one deployment is allowed
// in flight per (host, workload) pair.
type Deployer struct {
	exec      remote.Executor
	lifecycle Lifecycle
	prober    Prober
	evaluator Evaluator
	opts      Options
	logger    *slog.Logger
	metrics   *metrics.Metrics

	// sleep and now are injectable for tests.
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time

	mu       sync.Mutex
	inflight map[string]struct{}
}

// New constructs a Deployer.
func New(exec remote.Executor, lifecycle Lifecycle, prober Prober, evaluator Evaluator, opts Options, logger *slog.Logger, m *metrics.Metrics) *Deployer {
	if logger != nil {
		logger = logger.With("component", "deploy")
	}
	return &Deployer{
		exec:      exec,
		lifecycle: lifecycle,
		prober:    prober,
		evaluator: evaluator,
		opts:      opts.withDefaults(),
		logger:    logger,
		metrics:   m,
		sleep:     sleepCtx,
		now:       time.Now,
		inflight:  make(map[string]struct{}),
	}
}

func targetKey(host, workload string) string {
	return host + "/" + workload
}

func (d *Deployer) acquire(host, workload string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := targetKey(host, workload)
	if _, busy := d.inflight[key]; busy {
		return fmt.Errorf("%w: %s", ErrDeploymentInFlight, key)
	}
	d.inflight[key] = struct{}{}
	return nil
}

func (d *Deployer) release(host, workload string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.inflight, targetKey(host, workload))
}

// Deploy runs the rolling deployment state machine for attempt. Expected
// negative outcomes (failed health, performed rollback) come back in the
// result; an error is returned only for invalid input or a busy target.
func (d *Deployer) Deploy(ctx context.Context, attempt *domain.DeploymentAttempt) (domain.DeployResult, error) {
	if attempt == nil {
		return domain.DeployResult{}, errors.New("attempt cannot be nil")
	}
	if err := d.validate(attempt); err != nil {
		return domain.DeployResult{}, err
	}
	if err := d.acquire(attempt.Host, attempt.Workload); err != nil {
		return domain.DeployResult{}, err
	}
	defer d.release(attempt.Host, attempt.Workload)

	if attempt.ID == "" {
		attempt.ID = uuid.NewString()
	}
	attempt.StartedAt = d.now()

	// Panics inside the state machine are converted into the uniform
	// failure shape, with the same rollback-if-possible handling as a
	// failed health verdict.
	res := func() (out domain.DeployResult) {
		defer func() {
			if r := recover(); r != nil {
				if d.logger != nil {
					d.logger.Error("deployment panicked", "attempt_id", attempt.ID, "panic", r)
				}
				out = d.failWithRollback(ctx, attempt, StateFailed, fmt.Sprintf("internal error: %v", r), d.logger)
			}
		}()
		return d.run(ctx, attempt)
	}()

	completed := d.now()
	attempt.CompletedAt = &completed
	attempt.Outcome = res.Outcome
	attempt.FailureReason = res.FailureReason
	res.AttemptID = attempt.ID
	res.Duration = completed.Sub(attempt.StartedAt)
	if d.metrics != nil {
		d.metrics.ObserveDeploy(res.Outcome, res.Duration)
	}
	return res, nil
}

func (d *Deployer) validate(attempt *domain.DeploymentAttempt) error {
	if strings.TrimSpace(attempt.Host) == "" {
		return errors.New("host cannot be empty")
	}
	if strings.TrimSpace(attempt.Workload) == "" {
		return errors.New("workload name cannot be empty")
	}
	if strings.TrimSpace(attempt.Image) == "" {
		return errors.New("image reference cannot be empty")
	}
	if attempt.Port <= 0 || attempt.Port > 65535 {
		return fmt.Errorf("port %d out of range", attempt.Port)
	}
	return nil
}

func (d *Deployer) run(ctx context.Context, attempt *domain.DeploymentAttempt) domain.DeployResult {
	log := d.logger
	if log != nil {
		log = log.With("attempt_id", attempt.ID, "host", attempt.Host, "workload", attempt.Workload, "image", attempt.Image)
	}
	state := StateIdle

	// Reachability is checked before anything is mutated; a failure here is
	// fatal with nothing to roll back.
	if err := d.exec.Ping(ctx, attempt.Host); err != nil {
		if log != nil {
			log.Error("target unreachable", "error", err)
		}
		return domain.DeployResult{
			Outcome:       domain.OutcomeFailed,
			FailureReason: fmt.Sprintf("target unreachable: %v", err),
		}
	}

	// Diagnostic only: rollback always uses the caller-supplied previous
	// image, never the observed one.
	if status, err := d.lifecycle.GetStatus(ctx, attempt.Host, attempt.Workload); err == nil && log != nil {
		log.Info("current workload status", "running", status.Running, "status", status.Status, "current_image", status.Image)
	}

	pull, err := d.lifecycle.PullImage(ctx, attempt.Host, attempt.Image)
	if err != nil {
		return d.failWithRollback(ctx, attempt, state, fmt.Sprintf("pull image: %v", err), log)
	}
	if !pull.Ok() {
		reason := fmt.Sprintf("pull image exited %d: %s", pull.ExitCode, strings.TrimSpace(pull.Stderr))
		return d.failWithRollback(ctx, attempt, state, reason, log)
	}
	state = StateImagePulled
	if log != nil {
		log.Info("image pulled", "state", state)
	}

	// The swap: stop old before starting new. The stop-start gap is the only
	// window with no version running.
	if err := d.lifecycle.StopWorkload(ctx, attempt.Host, attempt.Workload, stopGrace, true); err != nil {
		return d.failWithRollback(ctx, attempt, state, fmt.Sprintf("stop workload: %v", err), log)
	}
	state = StateOldStopped
	if log != nil {
		log.Info("previous workload stopped", "state", state)
	}

	containerID, err := d.lifecycle.StartWorkload(ctx, attempt.Host, attempt.Image, attempt.Workload, attempt.Port, attempt.Env, "")
	if err != nil {
		return d.failWithRollback(ctx, attempt, state, fmt.Sprintf("start workload: %v", err), log)
	}
	state = StateNewStarted
	if log != nil {
		log.Info("new workload started", "state", state, "container_id", containerID)
	}

	// Warm-up absorbs process startup latency before probing begins.
	warmUp := attempt.WarmUp
	if warmUp <= 0 {
		warmUp = d.opts.WarmUp
	}
	if err := d.sleep(ctx, warmUp); err != nil {
		return d.failWithRollback(ctx, attempt, state, fmt.Sprintf("cancelled during warm-up: %v", err), log)
	}

	state = StateHealthEvaluating
	verdict := d.evaluateHealth(ctx, attempt)
	if d.metrics != nil {
		d.metrics.ObserveHealthWindow(verdict)
	}
	if verdict.Healthy {
		if log != nil {
			log.Info("deployment promoted", "state", StatePromoted, "pass_rate", verdict.PassRate, "samples", verdict.Samples)
		}
		return domain.DeployResult{Outcome: domain.OutcomeSucceeded}
	}

	reason := fmt.Sprintf("health evaluation failed: %s (pass rate %.2f over %d samples)", verdict.Reason, verdict.PassRate, verdict.Samples)
	if log != nil {
		log.Warn("health evaluation unhealthy", "reason", verdict.Reason, "pass_rate", verdict.PassRate, "samples", verdict.Samples, "short_circuited", verdict.ShortCircuited)
	}
	return d.failWithRollback(ctx, attempt, state, reason, log)
}

func (d *Deployer) evaluateHealth(ctx context.Context, attempt *domain.DeploymentAttempt) domain.AggregatedHealthVerdict {
	path := attempt.HealthPath
	if path == "" {
		path = DefaultHealthPath
	}
	url := fmt.Sprintf("http://%s:%d%s", attempt.Host, attempt.Port, path)
	probe := func(ctx context.Context) domain.HealthCheckResult {
		return d.prober.CheckHTTP(ctx, url, 0, 0)
	}
	liveness := func(ctx context.Context) (bool, error) {
		status, err := d.lifecycle.GetStatus(ctx, attempt.Host, attempt.Workload)
		if err != nil {
			return false, err
		}
		return status.Running, nil
	}

	duration := attempt.HealthDuration
	if duration <= 0 {
		duration = d.opts.HealthDuration
	}
	interval := attempt.HealthInterval
	if interval <= 0 {
		interval = d.opts.HealthInterval
	}
	return d.evaluator.Evaluate(ctx, probe, liveness, duration, interval, attempt.PassRateThreshold)
}

// failWithRollback converts a forward-deployment failure into the terminal
// result, reinstating the previous image when one was supplied. The reported
// failure reason is always the original failure, not the rollback's outcome.
func (d *Deployer) failWithRollback(ctx context.Context, attempt *domain.DeploymentAttempt, state, reason string, log *slog.Logger) domain.DeployResult {
	res := domain.DeployResult{
		Outcome:       domain.OutcomeFailed,
		FailureReason: reason,
	}
	if attempt.PreviousImage == "" {
		if log != nil {
			log.Error("deployment failed, no previous image to roll back to", "state", state, "reason", reason)
		}
		return res
	}

	if log != nil {
		log.Warn("rolling back to previous image", "previous_image", attempt.PreviousImage, "state", state)
	}
	if err := d.rollback(ctx, attempt.Host, attempt.Workload, attempt.PreviousImage, attempt.Port, attempt.Env); err != nil {
		// The most severe case: the target may be left with no
		// confirmed-good workload running.
		res.RollbackPerformed = true
		res.RollbackFailed = true
		if log != nil {
			log.Error("rollback failed, no confirmed-good workload may be running", "previous_image", attempt.PreviousImage, "rollback_error", err, "original_reason", reason)
		}
		return res
	}
	res.Outcome = domain.OutcomeRolledBack
	res.RollbackPerformed = true
	if d.metrics != nil {
		d.metrics.IncRollback()
	}
	if log != nil {
		log.Info("rollback complete", "state", StateRolledBack, "previous_image", attempt.PreviousImage)
	}
	return res
}

// Rollback reinstates previousImage for the named workload, independent of
// any forward deployment. Success is defined purely by the start command
// succeeding; no health evaluation is performed.
func (d *Deployer) Rollback(ctx context.Context, host, workload, previousImage string, port int, env map[string]string) error {
	if strings.TrimSpace(previousImage) == "" {
		return errors.New("previous image reference cannot be empty")
	}
	if err := d.acquire(host, workload); err != nil {
		return err
	}
	defer d.release(host, workload)
	if d.logger != nil {
		d.logger.Info("manual rollback requested", "host", host, "workload", workload, "previous_image", previousImage)
	}
	if err := d.rollback(ctx, host, workload, previousImage, port, env); err != nil {
		return err
	}
	if d.metrics != nil {
		d.metrics.IncRollback()
	}
	return nil
}

// rollback stops the current (failed) workload before starting the previous
// image. The previous image needs no pull; it was running on this host.
func (d *Deployer) rollback(ctx context.Context, host, workload, previousImage string, port int, env map[string]string) error {
	if err := d.lifecycle.StopWorkload(ctx, host, workload, stopGrace, true); err != nil {
		return fmt.Errorf("stop failed workload: %w", err)
	}
	if _, err := d.lifecycle.StartWorkload(ctx, host, previousImage, workload, port, env, ""); err != nil {
		return fmt.Errorf("start previous image: %w", err)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
