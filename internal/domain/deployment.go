package domain

import "time"

// Deployment outcome values.
const (
	OutcomeSucceeded  = "succeeded"
	OutcomeFailed     = "failed"
	OutcomeRolledBack = "rolled_back"
)

// DeploymentAttempt captures one rolling-deployment execution against a
// (host, workload) pair. It is mutated in place as phases complete and is
// immutable once Outcome is set.
type DeploymentAttempt struct {
	ID            string
	Host          string
	Image         string
	PreviousImage string
	Workload      string
	Port          int
	HealthPath    string

	// Zero values fall back to the engine defaults.
	WarmUp            time.Duration
	HealthDuration    time.Duration
	HealthInterval    time.Duration
	PassRateThreshold float64

	Env map[string]string

	StartedAt     time.Time
	CompletedAt   *time.Time
	Outcome       string
	FailureReason string
}

// Finished reports whether an outcome has been recorded.
func (a *DeploymentAttempt) Finished() bool {
	return a.Outcome != ""
}

// DeployResult summarizes a finished rolling deployment for callers.
type DeployResult struct {
	AttemptID         string
	Outcome           string
	RollbackPerformed bool
	RollbackFailed    bool
	FailureReason     string
	Duration          time.Duration
}

// Succeeded reports whether the new image was promoted.
func (r DeployResult) Succeeded() bool {
	return r.Outcome == OutcomeSucceeded
}
