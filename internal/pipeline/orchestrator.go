package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/drydock-dev/drydock/internal/domain"
	"github.com/drydock-dev/drydock/internal/events"
	"github.com/drydock-dev/drydock/internal/metrics"
	"github.com/drydock-dev/drydock/internal/scan"
	"github.com/drydock-dev/drydock/internal/source"
	"github.com/drydock-dev/drydock/internal/store"
)

// Request carries one pipeline invocation.
type Request struct {
	RepoURL    string
	Host       string
	Workload   string
	Port       int
	HealthPath string
	Strategy   string
	ScanPolicy string
	Env        map[string]string

	// PreviousImage overrides the store-derived rollback target.
	PreviousImage string
}

// Cloner fetches source for a run.
type Cloner interface {
	Clone(ctx context.Context, repoURL, runID string) (source.Checkout, error)
	Release(dir string) error
}

// Builder produces a container image from a checkout.
type Builder interface {
	Build(ctx context.Context, workDir, tag string) (domain.BuildResult, error)
}

// RollingDeployer executes the deploy phase.
type RollingDeployer interface {
	Deploy(ctx context.Context, attempt *domain.DeploymentAttempt) (domain.DeployResult, error)
}

// Orchestrator sequences validate, clone, security gate, build and deploy,
// stopping at the first failing gate. Each phase transition is published to
// the event sink; publish failures are logged and swallowed.
type Orchestrator struct {
	cloner   Cloner
	scanner  scan.Scanner
	gate     scan.Gate
	builder  Builder
	deployer RollingDeployer
	sink     events.Sink
	store    store.Store
	metrics  *metrics.Metrics
	logger   *slog.Logger

	registry   string
	channel    string
	scanPolicy string

	now func() time.Time
}

// Options configure the orchestrator.
type Options struct {
	Registry     string
	EventChannel string
	ScanPolicy   string
}

// New constructs an Orchestrator. The sink and store may be nil; the scan
// policy defaults to strict.
func New(cloner Cloner, scanner scan.Scanner, gate scan.Gate, builder Builder, deployer RollingDeployer, sink events.Sink, st store.Store, m *metrics.Metrics, logger *slog.Logger, opts Options) *Orchestrator {
	if sink == nil {
		sink = events.NoopSink{}
	}
	if opts.Registry == "" {
		opts.Registry = "drydock"
	}
	if opts.EventChannel == "" {
		opts.EventChannel = "drydock:pipeline"
	}
	if opts.ScanPolicy == "" {
		opts.ScanPolicy = scan.PolicyStrict
	}
	if logger != nil {
		logger = logger.With("component", "pipeline")
	}
	return &Orchestrator{
		cloner:     cloner,
		scanner:    scanner,
		gate:       gate,
		builder:    builder,
		deployer:   deployer,
		sink:       sink,
		store:      st,
		metrics:    m,
		logger:     logger,
		registry:   strings.TrimSuffix(opts.Registry, "/"),
		channel:    opts.EventChannel,
		scanPolicy: opts.ScanPolicy,
		now:        time.Now,
	}
}

// Run executes the pipeline for req and always returns a terminal
// PipelineRun; failures are encoded in the run, never raised.
func (o *Orchestrator) Run(ctx context.Context, req Request) *domain.PipelineRun {
	run := &domain.PipelineRun{
		ID:        uuid.NewString(),
		RepoURL:   req.RepoURL,
		Host:      req.Host,
		Workload:  req.Workload,
		Port:      req.Port,
		Phase:     domain.PhasePending,
		StartedAt: o.now(),
	}
	log := o.logger
	if log != nil {
		log = log.With("run_id", run.ID, "repo_url", req.RepoURL, "host", req.Host, "workload", req.Workload)
	}
	o.persistCreate(ctx, run, log)

	defer func() {
		completed := o.now()
		run.CompletedAt = &completed
		run.Duration = completed.Sub(run.StartedAt)
		o.metrics.ObservePipeline(run.Phase)
		o.persistUpdate(ctx, run, log)
		if log != nil {
			log.Info("pipeline finished", "phase", run.Phase, "failed_phase", run.FailedPhase, "duration", run.Duration)
		}
	}()

	// Validation happens before any external call.
	phaseStart := o.begin(ctx, run, domain.PhaseValidating, log)
	if err := validateRequest(req); err != nil {
		o.fail(ctx, run, phaseStart, err, log)
		return run
	}
	o.complete(ctx, run, phaseStart, "input validated", log)

	phaseStart = o.begin(ctx, run, domain.PhaseClone, log)
	checkout, err := o.cloner.Clone(ctx, req.RepoURL, run.ID)
	if err != nil {
		o.fail(ctx, run, phaseStart, fmt.Errorf("clone repository: %w", err), log)
		return run
	}
	defer func() {
		if err := o.cloner.Release(checkout.Dir); err != nil && log != nil {
			log.Warn("workspace release failed", "dir", checkout.Dir, "error", err)
		}
	}()
	run.CommitSHA = checkout.CommitSHA
	o.complete(ctx, run, phaseStart, "repository cloned at "+shortSHA(checkout.CommitSHA), log)

	// Security gate: a blocking gate, build and deploy never run past a
	// non-approve decision.
	phaseStart = o.begin(ctx, run, domain.PhaseSecurityScan, log)
	policy := req.ScanPolicy
	if policy == "" {
		policy = o.scanPolicy
	}
	scanResult, err := o.scanner.Scan(ctx, checkout.Dir, scan.TypeFilesystem)
	if err != nil {
		o.fail(ctx, run, phaseStart, fmt.Errorf("security scan: %w", err), log)
		return run
	}
	decision := o.gate.Decide(ctx, scanResult, policy)
	o.publish(ctx, run, "scan_decided", "info", decision.Reasoning, map[string]any{
		"decision": decision.Decision,
		"policy":   decision.Policy,
		"critical": scanResult.Critical,
		"high":     scanResult.High,
		"total":    scanResult.Total,
	}, log)
	if !decision.Approved() {
		o.fail(ctx, run, phaseStart, fmt.Errorf("security gate %s: %s", decision.Decision, decision.Reasoning), log)
		return run
	}
	o.complete(ctx, run, phaseStart, "security gate approved", log)

	phaseStart = o.begin(ctx, run, domain.PhaseBuild, log)
	tag := o.imageTag(req.RepoURL, checkout.CommitSHA)
	buildResult, err := o.builder.Build(ctx, checkout.Dir, tag)
	if err != nil {
		o.fail(ctx, run, phaseStart, fmt.Errorf("build image: %w", err), log)
		return run
	}
	run.Image = buildResult.Tag
	o.complete(ctx, run, phaseStart, fmt.Sprintf("image %s built (%.1f MB)", buildResult.Tag, buildResult.SizeMB), log)

	phaseStart = o.begin(ctx, run, domain.PhaseDeploy, log)
	attempt := &domain.DeploymentAttempt{
		ID:            uuid.NewString(),
		Host:          req.Host,
		Workload:      req.Workload,
		Image:         tag,
		PreviousImage: o.rollbackTarget(ctx, req, log),
		Port:          req.Port,
		HealthPath:    req.HealthPath,
		Env:           req.Env,
	}
	run.Attempt = attempt
	result, err := o.deployer.Deploy(ctx, attempt)
	o.persistAttempt(ctx, attempt, log)
	if err != nil {
		o.fail(ctx, run, phaseStart, fmt.Errorf("deploy: %w", err), log)
		return run
	}
	run.RollbackPerformed = result.RollbackPerformed
	if !result.Succeeded() {
		o.publish(ctx, run, "deploy_failed", "error", result.FailureReason, map[string]any{
			"outcome":            result.Outcome,
			"rollback_performed": result.RollbackPerformed,
			"rollback_failed":    result.RollbackFailed,
		}, log)
		o.fail(ctx, run, phaseStart, errors.New(result.FailureReason), log)
		return run
	}
	o.complete(ctx, run, phaseStart, "deployment promoted", log)

	run.Phase = domain.PhaseSucceeded
	o.publish(ctx, run, "pipeline_succeeded", "info", "pipeline completed", map[string]any{
		"image":  run.Image,
		"commit": run.CommitSHA,
	}, log)
	return run
}

// begin transitions the run into phase and returns the phase start time.
func (o *Orchestrator) begin(ctx context.Context, run *domain.PipelineRun, phase string, log *slog.Logger) time.Time {
	run.Phase = phase
	if log != nil {
		log.Info("phase started", "phase", phase)
	}
	o.publish(ctx, run, "phase_started", "info", phase+" started", nil, log)
	return o.now()
}

func (o *Orchestrator) complete(ctx context.Context, run *domain.PipelineRun, started time.Time, detail string, log *slog.Logger) {
	elapsed := o.now().Sub(started)
	run.History = append(run.History, domain.PhaseResult{
		Phase:    run.Phase,
		Success:  true,
		Detail:   detail,
		Duration: elapsed,
	})
	o.metrics.ObservePhase(run.Phase, elapsed)
	if log != nil {
		log.Info("phase completed", "phase", run.Phase, "duration", elapsed, "detail", detail)
	}
	o.publish(ctx, run, "phase_completed", "info", detail, map[string]any{"duration_ms": elapsed.Milliseconds()}, log)
}

// fail records the failing phase and moves the run to its terminal state.
func (o *Orchestrator) fail(ctx context.Context, run *domain.PipelineRun, started time.Time, err error, log *slog.Logger) {
	elapsed := o.now().Sub(started)
	run.History = append(run.History, domain.PhaseResult{
		Phase:    run.Phase,
		Success:  false,
		Detail:   err.Error(),
		Duration: elapsed,
	})
	o.metrics.ObservePhase(run.Phase, elapsed)
	run.FailedPhase = run.Phase
	run.Error = err.Error()
	run.Phase = domain.PhaseFailed
	if log != nil {
		log.Error("phase failed", "phase", run.FailedPhase, "error", err)
	}
	o.publish(ctx, run, "phase_failed", "error", err.Error(), map[string]any{"failed_phase": run.FailedPhase}, log)
}

// rollbackTarget resolves the previously-deployed image for the target, if
// any. An explicit request value wins over store history.
func (o *Orchestrator) rollbackTarget(ctx context.Context, req Request, log *slog.Logger) string {
	if req.PreviousImage != "" {
		return req.PreviousImage
	}
	if o.store == nil {
		return ""
	}
	image, err := o.store.LastPromotedImage(ctx, req.Host, req.Workload)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) && log != nil {
			log.Warn("previous image lookup failed", "error", err)
		}
		return ""
	}
	return image
}

// imageTag derives a registry-compatible tag from the repository name and
// short commit hash.
func (o *Orchestrator) imageTag(repoURL, commitSHA string) string {
	name := repoURL
	if idx := strings.LastIndex(name, "/"); idx >= 0 {
		name = name[idx+1:]
	}
	name = strings.TrimSuffix(name, ".git")
	if name == "" {
		name = "app"
	}
	return strings.ToLower(fmt.Sprintf("%s/%s:%s", o.registry, name, shortSHA(commitSHA)))
}

func shortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}

func (o *Orchestrator) publish(ctx context.Context, run *domain.PipelineRun, eventType, level, message string, metadata map[string]any, log *slog.Logger) {
	event := domain.Event{
		RunID:      run.ID,
		Phase:      run.Phase,
		Type:       eventType,
		Level:      level,
		Message:    message,
		Metadata:   metadata,
		OccurredAt: o.now().UTC(),
	}
	if err := o.sink.Publish(ctx, o.channel, event); err != nil && log != nil {
		log.Warn("event publish failed", "type", eventType, "error", err)
	}
}

func (o *Orchestrator) persistCreate(ctx context.Context, run *domain.PipelineRun, log *slog.Logger) {
	if o.store == nil {
		return
	}
	if err := o.store.CreateRun(ctx, run); err != nil && log != nil {
		log.Warn("persist run failed", "error", err)
	}
}

func (o *Orchestrator) persistUpdate(ctx context.Context, run *domain.PipelineRun, log *slog.Logger) {
	if o.store == nil {
		return
	}
	if err := o.store.UpdateRun(ctx, run); err != nil && log != nil {
		log.Warn("update run failed", "error", err)
	}
}

func (o *Orchestrator) persistAttempt(ctx context.Context, attempt *domain.DeploymentAttempt, log *slog.Logger) {
	if o.store == nil {
		return
	}
	if err := o.store.SaveAttempt(ctx, attempt); err != nil && log != nil {
		log.Warn("persist attempt failed", "error", err)
	}
}
