package health

import (
	"context"
	"log/slog"
	"time"

	"github.com/drydock-dev/drydock/internal/domain"
)

// DefaultPassRateThreshold is the fraction of samples that must pass for a
// window to be judged healthy.
const DefaultPassRateThreshold = 0.70

// ProbeFunc performs one health sample.
type ProbeFunc func(ctx context.Context) domain.HealthCheckResult

// LivenessFunc reports whether the workload under evaluation is running.
type LivenessFunc func(ctx context.Context) (bool, error)

// Monitor evaluates workload health continuously over a bounded window.
type Monitor struct {
	threshold float64
	logger    *slog.Logger

	// sleep is injectable so tests run without wall-clock delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewMonitor constructs a Monitor. A zero threshold falls back to the
// default 70% pass rate.
func NewMonitor(threshold float64, logger *slog.Logger) *Monitor {
	if threshold <= 0 {
		threshold = DefaultPassRateThreshold
	}
	if logger != nil {
		logger = logger.With("component", "health")
	}
	return &Monitor{
		threshold: threshold,
		logger:    logger,
		sleep:     sleepCtx,
	}
}

// Evaluate samples probe once per interval for duration/interval samples,
// checking workload liveness on every iteration. One "not running"
// observation terminates the window immediately with an unhealthy verdict
// regardless of accumulated pass rate. Probe and liveness failures are
// unhealthy samples, never errors. A non-positive threshold falls back to
// the monitor's configured one.
func (m *Monitor) Evaluate(ctx context.Context, probe ProbeFunc, liveness LivenessFunc, duration, interval time.Duration, threshold float64) domain.AggregatedHealthVerdict {
	if threshold <= 0 {
		threshold = m.threshold
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	total := int(duration / interval)
	if total < 1 {
		total = 1
	}

	verdict := domain.AggregatedHealthVerdict{}
	for i := 0; i < total; i++ {
		if liveness != nil {
			running, err := liveness(ctx)
			if err != nil {
				// Status query failed; count the sample against the window
				// but keep observing.
				verdict.Samples++
				if m.logger != nil {
					m.logger.Warn("workload liveness check failed", "sample", i+1, "error", err)
				}
				if !m.waitNext(ctx, i, total, interval) {
					break
				}
				continue
			}
			if !running {
				verdict.Samples++
				verdict.ShortCircuited = true
				verdict.Reason = "workload not running"
				verdict.Healthy = false
				verdict.PassRate = passRate(verdict.Passed, verdict.Samples)
				if m.logger != nil {
					m.logger.Warn("workload not running, aborting health window", "sample", verdict.Samples)
				}
				return verdict
			}
		}

		result := probe(ctx)
		verdict.Samples++
		verdict.LastResult = &result
		if result.Healthy {
			verdict.Passed++
		} else if m.logger != nil {
			m.logger.Debug("health sample failed", "sample", verdict.Samples, "error", result.Error)
		}

		if !m.waitNext(ctx, i, total, interval) {
			break
		}
	}

	verdict.PassRate = passRate(verdict.Passed, verdict.Samples)
	verdict.Healthy = verdict.PassRate >= threshold
	if !verdict.Healthy && verdict.Reason == "" {
		verdict.Reason = "pass rate below threshold"
	}
	if m.logger != nil {
		m.logger.Info("health window evaluated", "samples", verdict.Samples, "passed", verdict.Passed, "pass_rate", verdict.PassRate, "healthy", verdict.Healthy)
	}
	return verdict
}

// waitNext sleeps between samples. Returns false when the context ended.
func (m *Monitor) waitNext(ctx context.Context, i, total int, interval time.Duration) bool {
	if i == total-1 {
		return true
	}
	return m.sleep(ctx, interval) == nil
}

func passRate(passed, samples int) float64 {
	if samples == 0 {
		return 0
	}
	return float64(passed) / float64(samples)
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
